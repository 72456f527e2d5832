package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// RetryConfig bounds how often a failing call is repeated. The zero value
// makes one call and never waits.
type RetryConfig struct {
	// MaxRetries is how many extra calls follow the first. Default: 3.
	MaxRetries int

	// Backoff is the wait before the first retry. Default: 1s.
	Backoff time.Duration

	// Multiplier grows the wait on each later retry. Anything below 1 keeps
	// the wait fixed.
	Multiplier float64

	// MaxBackoff caps a growing wait. 0 disables the cap.
	MaxBackoff time.Duration

	// JitterFraction spreads each wait by up to ±fraction of itself.
	JitterFraction float64

	// ShouldRetry replaces IsTransient as the retry predicate when set.
	ShouldRetry func(err error) bool

	// OnRetry runs before each wait with the 1-based retry number.
	OnRetry func(retry int, err error)
}

// DefaultRetryConfig is three retries one second apart.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxRetries: 3, Backoff: time.Second, Multiplier: 1}
}

// DoVal calls fn until it succeeds, returns an error the predicate rejects,
// or has been called MaxRetries+1 times. A cancelled ctx ends the loop at
// once with ctx.Err(), including mid-wait.
func DoVal[T any](ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	cfg = cfg.normalized()
	retryable := cfg.ShouldRetry
	if retryable == nil {
		retryable = IsTransient
	}

	var zero T
	for retry := 0; ; retry++ {
		val, err := fn(ctx)
		switch {
		case err == nil:
			return val, nil
		case ctx.Err() != nil:
			return zero, ctx.Err()
		case !retryable(err), retry == cfg.MaxRetries:
			return zero, err
		}

		if cfg.OnRetry != nil {
			cfg.OnRetry(retry+1, err)
		}
		if werr := wait(ctx, cfg.delay(retry)); werr != nil {
			return zero, werr
		}
	}
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (c RetryConfig) normalized() RetryConfig {
	c.MaxRetries = max(c.MaxRetries, 0)
	c.Backoff = max(c.Backoff, 0)
	c.MaxBackoff = max(c.MaxBackoff, 0)
	c.JitterFraction = max(c.JitterFraction, 0)
	if c.Multiplier < 1 {
		c.Multiplier = 1
	}
	return c
}

// delay is the wait after the given zero-based retry.
func (c RetryConfig) delay(retry int) time.Duration {
	d := float64(c.Backoff) * math.Pow(c.Multiplier, float64(retry))
	if c.MaxBackoff > 0 {
		d = math.Min(d, float64(c.MaxBackoff))
	}
	if c.JitterFraction > 0 {
		d += d * c.JitterFraction * (2*rand.Float64() - 1)
	}
	return time.Duration(math.Max(d, 0))
}

// RetryLogger returns an OnRetry hook that warns once per retry.
func RetryLogger(provider, op string) func(int, error) {
	return func(retry int, err error) {
		zap.L().Warn("retrying",
			zap.String("provider", provider),
			zap.String("op", op),
			zap.Int("retry", retry),
			zap.Error(err),
		)
	}
}

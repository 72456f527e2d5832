package resolve

import (
	"context"

	"github.com/sells-group/address-mapper/internal/resilience"
	"github.com/sells-group/address-mapper/pkg/geocode"
)

// Retrier resolves one address, retrying transient client failures with a
// fixed backoff up to a hard limit.
type Retrier struct {
	client geocode.Client
	cfg    resilience.RetryConfig
}

// NewRetrier creates a Retrier. cfg.ShouldRetry is replaced: anything
// Classify does not call permanent is retried, unmarked errors included.
func NewRetrier(client geocode.Client, cfg resilience.RetryConfig) *Retrier {
	cfg.ShouldRetry = func(err error) bool {
		return resilience.Classify(err) == resilience.ClassTransient
	}
	if cfg.OnRetry == nil {
		cfg.OnRetry = resilience.RetryLogger(client.Name(), "geocode")
	}
	return &Retrier{client: client, cfg: cfg}
}

// Resolve returns a resolved Result, Unresolved("not found") after a permanent
// failure, or Unresolved("retries exhausted") once every retry failed
// transiently. The only error it returns is the context's.
func (r *Retrier) Resolve(ctx context.Context, key geocode.AddressKey) (geocode.Result, error) {
	coord, err := resilience.DoVal(ctx, r.cfg, func(ctx context.Context) (geocode.Coordinate, error) {
		return r.client.Geocode(ctx, key)
	})
	switch {
	case err == nil:
		return geocode.Resolved(coord), nil
	case ctx.Err() != nil:
		return geocode.Result{}, ctx.Err()
	case resilience.IsPermanent(err):
		return geocode.Unresolved(geocode.ReasonNotFound), nil
	default:
		return geocode.Unresolved(geocode.ReasonRetriesExhausted), nil
	}
}

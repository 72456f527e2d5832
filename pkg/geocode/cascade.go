package geocode

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/address-mapper/internal/resilience"
)

// CascadeClient tries providers in order until one returns a coordinate. It
// is itself a Client, so it still makes no retries of its own.
type CascadeClient struct {
	providers []Client
	breakers  *resilience.BreakerSet
}

var _ Client = (*CascadeClient)(nil)

// CascadeOption configures the CascadeClient.
type CascadeOption func(*CascadeClient)

// WithCascadeCircuitBreaker skips a provider while its breaker is open.
func WithCascadeCircuitBreaker(cfg resilience.CircuitBreakerConfig) CascadeOption {
	return func(c *CascadeClient) {
		c.breakers = resilience.NewBreakerSet(cfg)
	}
}

// NewCascadeClient creates a CascadeClient that tries providers in order.
func NewCascadeClient(providers []Client, opts ...CascadeOption) *CascadeClient {
	c := &CascadeClient{providers: providers}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name implements Client.
func (c *CascadeClient) Name() string {
	names := make([]string, len(c.providers))
	for i, p := range c.providers {
		names[i] = p.Name()
	}
	return "cascade(" + strings.Join(names, ",") + ")"
}

// Geocode implements Client. The first coordinate wins. When every provider
// reports not found the address is permanently not found; when any provider
// failed transiently and none matched, the whole lookup is transient.
func (c *CascadeClient) Geocode(ctx context.Context, key AddressKey) (Coordinate, error) {
	var lastTransient error
	for _, p := range c.providers {
		coord, err := c.call(ctx, p, key)
		if err == nil {
			return coord, nil
		}
		if ctx.Err() != nil {
			return Coordinate{}, ctx.Err()
		}
		if resilience.IsPermanent(err) {
			continue
		}
		zap.L().Debug("cascade: provider error, trying next",
			zap.String("provider", p.Name()),
			zap.Error(err),
		)
		lastTransient = err
	}

	if lastTransient != nil {
		if resilience.IsTransient(lastTransient) {
			return Coordinate{}, lastTransient
		}
		return Coordinate{}, transient(eris.Wrap(lastTransient, "geocode: cascade"), 0)
	}
	return Coordinate{}, notFound("cascade")
}

func (c *CascadeClient) call(ctx context.Context, p Client, key AddressKey) (Coordinate, error) {
	if c.breakers == nil {
		return p.Geocode(ctx, key)
	}
	return resilience.Guard(ctx, c.breakers.For(p.Name()), func(ctx context.Context) (Coordinate, error) {
		return p.Geocode(ctx, key)
	})
}

// BreakerStates reports each provider's circuit state; nil without breakers.
func (c *CascadeClient) BreakerStates() map[string]resilience.CircuitState {
	if c.breakers == nil {
		return nil
	}
	return c.breakers.States()
}

package main

import (
	"context"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/address-mapper/internal/config"
	"github.com/sells-group/address-mapper/internal/resilience"
	"github.com/sells-group/address-mapper/internal/resolve"
	"github.com/sells-group/address-mapper/internal/store"
	"github.com/sells-group/address-mapper/pkg/geocode"
)

// buildClient creates the configured geocoding client. The cascade provider
// wraps each listed provider with its own circuit breaker.
func buildClient(gc config.GeocodeConfig) (geocode.Client, error) {
	if gc.Provider != config.ProviderCascade {
		return geocode.New(gc.Provider, providerOptions(gc, gc.Provider)...)
	}

	if len(gc.Providers) == 0 {
		return nil, eris.New("cascade provider needs at least one entry in geocode.providers")
	}
	providers := make([]geocode.Client, 0, len(gc.Providers))
	for _, name := range gc.Providers {
		c, err := geocode.New(name, providerOptions(gc, name)...)
		if err != nil {
			return nil, eris.Wrapf(err, "build cascade provider %s", name)
		}
		providers = append(providers, c)
	}
	breaker := resilience.FromCircuitConfig(gc.CircuitThreshold, gc.CircuitResetSecs)
	return geocode.NewCascadeClient(providers, geocode.WithCascadeCircuitBreaker(breaker)), nil
}

func providerOptions(gc config.GeocodeConfig, provider string) []geocode.Option {
	opts := []geocode.Option{
		geocode.WithHTTPClient(&http.Client{Timeout: time.Duration(gc.TimeoutSecs) * time.Second}),
	}
	if gc.RateLimit > 0 {
		opts = append(opts, geocode.WithRateLimit(gc.RateLimit))
	}
	switch provider {
	case config.ProviderNominatim:
		if gc.NominatimURL != "" {
			opts = append(opts, geocode.WithBaseURL(gc.NominatimURL))
		}
	case config.ProviderGoogle:
		opts = append(opts, geocode.WithAPIKey(gc.GoogleAPIKey))
	}
	return opts
}

// newResolver wires a client to a fresh run-scoped cache and the configured
// retry policy.
func newResolver(client geocode.Client, gc config.GeocodeConfig, opts ...resolve.Option) *resolve.Resolver {
	cache := geocode.NewCache(gc.CacheMaxEntries)
	retry := resilience.FromRetryConfig(gc.MaxRetries, gc.RetryBackoffSeconds)
	opts = append([]resolve.Option{resolve.WithConcurrency(gc.Concurrency)}, opts...)
	return resolve.NewResolver(client, cache, retry, opts...)
}

// initStore opens the run-history store, or returns nil when none is configured.
func initStore(ctx context.Context) (store.Store, error) {
	if cfg.Store.DatabaseURL == "" {
		return nil, nil
	}
	st, err := store.Open(ctx, cfg.Store.DatabaseURL)
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}
	return st, nil
}

// runStatus reports a batch as cancelled when it stopped on a context error.
func runStatus(err error) string {
	if err != nil {
		return store.RunStatusCancelled
	}
	return store.RunStatusComplete
}

// saveRun records a run when a store is configured. Failures are logged, the
// geocoded output has already been produced.
func saveRun(ctx context.Context, st store.Store, run store.RunSummary, outcomes []resolve.Outcome) string {
	if st == nil {
		return ""
	}
	id, err := st.SaveRun(context.WithoutCancel(ctx), run, outcomes)
	if err != nil {
		zap.L().Error("save run", zap.Error(err))
		return ""
	}
	return id
}

// runBatch resolves every row of table. A cancelled batch still yields one
// outcome per row, the unreached rows marked not processed, together with the
// context error. Any other error aborts before output.
func runBatch(ctx context.Context, r *resolve.Resolver, table resolve.Table, addressField string) ([]resolve.Outcome, error) {
	outcomes, err := r.ResolveBatch(ctx, table, addressField)
	if err != nil && ctx.Err() == nil {
		return nil, err
	}
	return resolve.Complete(table, outcomes, addressField), err
}

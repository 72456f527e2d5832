package resolve

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/address-mapper/internal/resilience"
	"github.com/sells-group/address-mapper/pkg/geocode"
)

// Option configures a Resolver.
type Option func(*Resolver)

// WithConcurrency sets how many rows are resolved at once. Values below 2
// keep the default strictly sequential processing.
func WithConcurrency(n int) Option {
	return func(r *Resolver) {
		r.concurrency = n
	}
}

// WithProgress registers an observer for the processed fraction.
func WithProgress(fn ProgressFunc) Option {
	return func(r *Resolver) {
		r.progress = fn
	}
}

// Resolver resolves every row of a table through a shared cache.
type Resolver struct {
	retrier     *Retrier
	cache       *geocode.Cache
	concurrency int
	progress    ProgressFunc
}

// NewResolver creates a Resolver. The cache is owned by the caller and may be
// shared across batches of the same run; nil gets a default-sized cache.
func NewResolver(client geocode.Client, cache *geocode.Cache, cfg resilience.RetryConfig, opts ...Option) *Resolver {
	if cache == nil {
		cache = geocode.NewCache(geocode.DefaultCacheEntries)
	}
	r := &Resolver{
		retrier:     NewRetrier(client, cfg),
		cache:       cache,
		concurrency: 1,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ResolveBatch resolves the addressField column of every row and returns one
// Outcome per row in input order. Row failures never abort the batch.
//
// A missing address column fails with ErrInvalidInput before any lookup. When
// ctx is cancelled the outcomes completed so far are returned, in input
// order, together with the context error.
func (r *Resolver) ResolveBatch(ctx context.Context, table Table, addressField string) ([]Outcome, error) {
	if !table.HasColumn(addressField) {
		return nil, eris.Wrapf(ErrInvalidInput, "resolve: address column %q not found", addressField)
	}

	total := len(table.Rows)
	progress := newProgress(total, r.progress)
	if total == 0 {
		progress.finish()
		return []Outcome{}, nil
	}

	log := zap.L().With(zap.String("address_field", addressField), zap.Int("rows", total))
	start := time.Now()

	outcomes := make([]Outcome, total)
	done := make([]bool, total)

	var err error
	if r.concurrency <= 1 {
		err = r.resolveSequential(ctx, table, addressField, outcomes, done, progress)
	} else {
		err = r.resolveConcurrent(ctx, table, addressField, outcomes, done, progress)
	}

	completed := make([]Outcome, 0, total)
	for i, ok := range done {
		if ok {
			completed = append(completed, outcomes[i])
		}
	}

	if err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		log.Warn("resolve: batch interrupted",
			zap.Int("completed", len(completed)),
			zap.Error(err),
		)
		return completed, err
	}

	s := Summarize(completed)
	cs := r.cache.Stats()
	log.Info("resolve: batch complete",
		zap.Int("resolved", s.Resolved),
		zap.Int("unresolved", s.Unresolved),
		zap.Int("cache_entries", cs.Entries),
		zap.Int64("cache_hits", cs.Hits),
		zap.Int64("cache_misses", cs.Misses),
		zap.Duration("elapsed", time.Since(start)),
	)
	return completed, nil
}

func (r *Resolver) resolveSequential(ctx context.Context, table Table, addressField string, outcomes []Outcome, done []bool, progress *Progress) error {
	for i, rec := range table.Rows {
		if err := ctx.Err(); err != nil {
			return err
		}
		o, err := r.resolveRow(ctx, i, rec, addressField)
		if err != nil {
			return err
		}
		outcomes[i] = o
		done[i] = true
		progress.advance()
	}
	return nil
}

func (r *Resolver) resolveConcurrent(ctx context.Context, table Table, addressField string, outcomes []Outcome, done []bool, progress *Progress) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)

	for i, rec := range table.Rows {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			o, err := r.resolveRow(gctx, i, rec, addressField)
			if err != nil {
				return err
			}
			// Each goroutine owns its index; Wait publishes the writes.
			outcomes[i] = o
			done[i] = true
			progress.advance()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func (r *Resolver) resolveRow(ctx context.Context, index int, rec Record, addressField string) (Outcome, error) {
	key, ok := geocode.Normalize(rec[addressField])
	if !ok {
		zap.L().Debug("resolve: invalid address value", zap.Int("row", index))
		return newOutcome(index, rec, "", geocode.Unresolved(geocode.ReasonInvalidAddress)), nil
	}

	res, err := r.cache.GetOrCompute(ctx, key, func(ctx context.Context) (geocode.Result, error) {
		return r.retrier.Resolve(ctx, key)
	})
	if err != nil {
		return Outcome{}, err
	}
	return newOutcome(index, rec, key, res), nil
}

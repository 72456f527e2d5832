package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/address-mapper/internal/resolve"
)

// Pool is the subset of *pgxpool.Pool the Postgres store uses.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    Pool
	closeFn func()
}

var _ Store = (*PostgresStore)(nil)

// NewPostgres creates a PostgresStore with a small connection pool.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}
	cfg.MaxConns = 4
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: connect")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id            TEXT PRIMARY KEY,
	source        TEXT NOT NULL,
	address_field TEXT NOT NULL,
	provider      TEXT NOT NULL,
	status        TEXT NOT NULL,
	total         INTEGER NOT NULL,
	resolved      INTEGER NOT NULL,
	unresolved    INTEGER NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS run_outcomes (
	run_id    TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	row_index INTEGER NOT NULL,
	address   TEXT NOT NULL,
	resolved  BOOLEAN NOT NULL,
	reason    TEXT NOT NULL DEFAULT '',
	geom      BYTEA,
	PRIMARY KEY (run_id, row_index)
);

CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_run_outcomes_resolved ON run_outcomes(run_id, resolved);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

var outcomeColumns = []string{"run_id", "row_index", "address", "resolved", "reason", "geom"}

// SaveRun inserts the run and bulk-loads its outcomes with COPY in one transaction.
func (s *PostgresStore) SaveRun(ctx context.Context, run RunSummary, outcomes []resolve.Outcome) (string, error) {
	run = prepareRun(run, outcomes)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", eris.Wrap(err, "postgres: begin")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = tx.Exec(ctx,
		`INSERT INTO runs (id, source, address_field, provider, status, total, resolved, unresolved, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		run.ID, run.Source, run.AddressField, run.Provider, run.Status, run.Total, run.Resolved, run.Unresolved, run.CreatedAt,
	)
	if err != nil {
		return "", eris.Wrap(err, "postgres: insert run")
	}

	if len(outcomes) > 0 {
		rows := make([][]any, 0, len(outcomes))
		for _, o := range outcomes {
			point, err := encodePoint(o)
			if err != nil {
				return "", err
			}
			rows = append(rows, []any{run.ID, o.Index, string(o.Key), !o.Failed, o.Result.Reason(), point})
		}
		if _, err := tx.CopyFrom(ctx, pgx.Identifier{"run_outcomes"}, outcomeColumns, pgx.CopyFromRows(rows)); err != nil {
			return "", eris.Wrap(err, "postgres: copy outcomes")
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return "", eris.Wrap(err, "postgres: commit run")
	}
	return run.ID, nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*RunSummary, error) {
	var r RunSummary
	err := s.pool.QueryRow(ctx,
		`SELECT id, source, address_field, provider, status, total, resolved, unresolved, created_at FROM runs WHERE id = $1`,
		runID,
	).Scan(&r.ID, &r.Source, &r.AddressField, &r.Provider, &r.Status, &r.Total, &r.Resolved, &r.Unresolved, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: run %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	return &r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, source, address_field, provider, status, total, resolved, unresolved, created_at FROM runs ORDER BY created_at DESC, id LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []RunSummary
	for rows.Next() {
		var r RunSummary
		if err := rows.Scan(&r.ID, &r.Source, &r.AddressField, &r.Provider, &r.Status, &r.Total, &r.Resolved, &r.Unresolved, &r.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func (s *PostgresStore) ListOutcomes(ctx context.Context, runID string) ([]OutcomeRow, error) {
	return s.listOutcomes(ctx, runID,
		`SELECT row_index, address, resolved, reason, geom FROM run_outcomes WHERE run_id = $1 ORDER BY row_index`)
}

func (s *PostgresStore) ListUnresolved(ctx context.Context, runID string) ([]OutcomeRow, error) {
	return s.listOutcomes(ctx, runID,
		`SELECT row_index, address, resolved, reason, geom FROM run_outcomes WHERE run_id = $1 AND NOT resolved ORDER BY row_index`)
}

func (s *PostgresStore) listOutcomes(ctx context.Context, runID, query string) ([]OutcomeRow, error) {
	if _, err := s.GetRun(ctx, runID); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list outcomes")
	}
	defer rows.Close()

	out := []OutcomeRow{}
	for rows.Next() {
		var (
			o     OutcomeRow
			point []byte
		)
		if err := rows.Scan(&o.Row, &o.Address, &o.Resolved, &o.Reason, &point); err != nil {
			return nil, eris.Wrap(err, "postgres: scan outcome")
		}
		if err := decodePoint(point, &o); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list outcomes iterate")
}

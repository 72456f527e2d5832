package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/address-mapper/internal/resolve"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id            TEXT PRIMARY KEY,
	source        TEXT NOT NULL,
	address_field TEXT NOT NULL,
	provider      TEXT NOT NULL,
	status        TEXT NOT NULL,
	total         INTEGER NOT NULL,
	resolved      INTEGER NOT NULL,
	unresolved    INTEGER NOT NULL,
	created_at    DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS run_outcomes (
	run_id    TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	row_index INTEGER NOT NULL,
	address   TEXT NOT NULL,
	resolved  INTEGER NOT NULL,
	reason    TEXT NOT NULL DEFAULT '',
	geom      BLOB,
	PRIMARY KEY (run_id, row_index)
);

CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at);
CREATE INDEX IF NOT EXISTS idx_run_outcomes_resolved ON run_outcomes(run_id, resolved);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SaveRun(ctx context.Context, run RunSummary, outcomes []resolve.Outcome) (string, error) {
	run = prepareRun(run, outcomes)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", eris.Wrap(err, "sqlite: begin")
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (id, source, address_field, provider, status, total, resolved, unresolved, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Source, run.AddressField, run.Provider, run.Status, run.Total, run.Resolved, run.Unresolved, run.CreatedAt,
	)
	if err != nil {
		return "", eris.Wrap(err, "sqlite: insert run")
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO run_outcomes (run_id, row_index, address, resolved, reason, geom) VALUES (?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return "", eris.Wrap(err, "sqlite: prepare outcome insert")
	}
	defer stmt.Close() //nolint:errcheck

	for _, o := range outcomes {
		point, err := encodePoint(o)
		if err != nil {
			return "", err
		}
		if _, err := stmt.ExecContext(ctx, run.ID, o.Index, string(o.Key), !o.Failed, o.Result.Reason(), point); err != nil {
			return "", eris.Wrapf(err, "sqlite: insert outcome row %d", o.Index)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", eris.Wrap(err, "sqlite: commit run")
	}
	return run.ID, nil
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*RunSummary, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, source, address_field, provider, status, total, resolved, unresolved, created_at FROM runs WHERE id = ?`,
		runID,
	)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: run %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get run %s", runID)
	}
	return r, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source, address_field, provider, status, total, resolved, unresolved, created_at FROM runs ORDER BY created_at DESC, id LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var runs []RunSummary
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) ListOutcomes(ctx context.Context, runID string) ([]OutcomeRow, error) {
	if _, err := s.GetRun(ctx, runID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT row_index, address, resolved, reason, geom FROM run_outcomes WHERE run_id = ? ORDER BY row_index`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list outcomes")
	}
	defer rows.Close() //nolint:errcheck

	out := []OutcomeRow{}
	for rows.Next() {
		var (
			o     OutcomeRow
			point []byte
		)
		if err := rows.Scan(&o.Row, &o.Address, &o.Resolved, &o.Reason, &point); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan outcome")
		}
		if err := decodePoint(point, &o); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list outcomes iterate")
}

func (s *SQLiteStore) ListUnresolved(ctx context.Context, runID string) ([]OutcomeRow, error) {
	rows, err := s.ListOutcomes(ctx, runID)
	if err != nil {
		return nil, err
	}
	return unresolvedOnly(rows), nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*RunSummary, error) {
	var r RunSummary
	err := row.Scan(&r.ID, &r.Source, &r.AddressField, &r.Provider, &r.Status, &r.Total, &r.Resolved, &r.Unresolved, &r.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

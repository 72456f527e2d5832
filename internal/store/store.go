// Package store keeps a history of geocoding runs and their per-row outcomes
// in SQLite or Postgres. It is an audit log: nothing in it is read back as a
// resolution cache.
package store

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"

	"github.com/sells-group/address-mapper/internal/resolve"
)

// Run statuses.
const (
	RunStatusComplete  = "complete"
	RunStatusCancelled = "cancelled"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = eris.New("store: not found")

// RunSummary describes one geocoding run.
type RunSummary struct {
	ID           string    `json:"id" yaml:"id"`
	Source       string    `json:"source" yaml:"source"`
	AddressField string    `json:"address_field" yaml:"address_field"`
	Provider     string    `json:"provider" yaml:"provider"`
	Status       string    `json:"status" yaml:"status"`
	Total        int       `json:"total" yaml:"total"`
	Resolved     int       `json:"resolved" yaml:"resolved"`
	Unresolved   int       `json:"unresolved" yaml:"unresolved"`
	CreatedAt    time.Time `json:"created_at" yaml:"created_at"`
}

// OutcomeRow is a stored row outcome. Lat and Lon are nil when unresolved.
type OutcomeRow struct {
	Row      int      `json:"row" yaml:"row"`
	Address  string   `json:"address" yaml:"address"`
	Resolved bool     `json:"resolved" yaml:"resolved"`
	Reason   string   `json:"reason,omitempty" yaml:"reason,omitempty"`
	Lat      *float64 `json:"lat,omitempty" yaml:"lat,omitempty"`
	Lon      *float64 `json:"lon,omitempty" yaml:"lon,omitempty"`
}

// Store persists run history.
type Store interface {
	// SaveRun stores a run and its outcomes atomically and returns the run ID.
	SaveRun(ctx context.Context, run RunSummary, outcomes []resolve.Outcome) (string, error)
	GetRun(ctx context.Context, runID string) (*RunSummary, error)
	// ListRuns returns the most recent runs first. limit <= 0 means 20.
	ListRuns(ctx context.Context, limit int) ([]RunSummary, error)
	ListOutcomes(ctx context.Context, runID string) ([]OutcomeRow, error)
	ListUnresolved(ctx context.Context, runID string) ([]OutcomeRow, error)

	Migrate(ctx context.Context) error
	Close() error
}

// Open picks the backend from databaseURL: postgres:// and postgresql:// URLs
// use Postgres, anything else is a SQLite path (an optional sqlite:// prefix
// is stripped). The schema is migrated before returning.
func Open(ctx context.Context, databaseURL string) (Store, error) {
	if databaseURL == "" {
		return nil, eris.New("store: database url is empty")
	}

	var (
		s   Store
		err error
	)
	if strings.HasPrefix(databaseURL, "postgres://") || strings.HasPrefix(databaseURL, "postgresql://") {
		s, err = NewPostgres(ctx, databaseURL)
	} else {
		s, err = NewSQLite(strings.TrimPrefix(databaseURL, "sqlite://"))
	}
	if err != nil {
		return nil, err
	}

	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

const defaultListLimit = 20

func prepareRun(run RunSummary, outcomes []resolve.Outcome) RunSummary {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	if run.Status == "" {
		run.Status = RunStatusComplete
	}
	if run.Total == 0 && run.Resolved == 0 && run.Unresolved == 0 {
		s := resolve.Summarize(outcomes)
		run.Total, run.Resolved, run.Unresolved = s.Total, s.Resolved, s.Unresolved
	}
	return run
}

// encodePoint returns the EWKB (SRID 4326) of a resolved outcome's
// coordinate, or nil for an unresolved one.
func encodePoint(o resolve.Outcome) (any, error) {
	c, ok := o.Result.Coordinate()
	if !ok {
		return nil, nil
	}
	data, err := ewkb.Marshal(geom.NewPointFlat(geom.XY, []float64{c.Lon, c.Lat}).SetSRID(4326), ewkb.NDR)
	if err != nil {
		return nil, eris.Wrap(err, "store: encode point")
	}
	return data, nil
}

// decodePoint fills row's coordinates from EWKB; empty data leaves them nil.
func decodePoint(data []byte, row *OutcomeRow) error {
	if len(data) == 0 {
		return nil
	}
	g, err := ewkb.Unmarshal(data)
	if err != nil {
		return eris.Wrap(err, "store: decode point")
	}
	p, ok := g.(*geom.Point)
	if !ok {
		return eris.Errorf("store: expected point geometry, got %T", g)
	}
	lon, lat := p.X(), p.Y()
	row.Lat, row.Lon = &lat, &lon
	return nil
}

func unresolvedOnly(rows []OutcomeRow) []OutcomeRow {
	out := make([]OutcomeRow, 0, len(rows))
	for _, r := range rows {
		if !r.Resolved {
			out = append(out, r)
		}
	}
	return out
}

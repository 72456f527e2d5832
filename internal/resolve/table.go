// Package resolve runs the address-resolution pipeline over a table: it
// normalizes each row's address, resolves it through a cache and a bounded
// retry loop, reports progress, and splits the outcomes into resolved and
// unresolved rows.
package resolve

import (
	"slices"

	"github.com/rotisserie/eris"

	"github.com/sells-group/address-mapper/pkg/geocode"
)

// Output columns appended by Merge.
const (
	ColumnLatitude  = "Latitude"
	ColumnLongitude = "Longitude"
	ColumnFailed    = "GeocodingFailed"
)

// ReasonNotProcessed marks rows a cancelled run never reached.
const ReasonNotProcessed = "not processed"

// ErrInvalidInput is returned before any resolution when the table cannot be
// processed, e.g. the address column is missing.
var ErrInvalidInput = eris.New("resolve: invalid input")

// Record is one input row keyed by column name.
type Record map[string]any

// Table is an ordered set of records sharing a column list.
type Table struct {
	Columns []string
	Rows    []Record
}

// HasColumn reports whether name is one of the table's columns.
func (t Table) HasColumn(name string) bool {
	return slices.Contains(t.Columns, name)
}

// Outcome is the resolution of one row. Index is the row's position in the
// input table.
type Outcome struct {
	Index  int
	Record Record
	Key    geocode.AddressKey
	Result geocode.Result
	Failed bool
}

func newOutcome(index int, rec Record, key geocode.AddressKey, r geocode.Result) Outcome {
	return Outcome{
		Index:  index,
		Record: rec,
		Key:    key,
		Result: r,
		Failed: !r.IsResolved(),
	}
}

// Complete returns one outcome per table row in input order. Rows missing
// from outcomes (a cancelled run) are filled in as unresolved with
// ReasonNotProcessed.
func Complete(table Table, outcomes []Outcome, addressField string) []Outcome {
	byIndex := make(map[int]Outcome, len(outcomes))
	for _, o := range outcomes {
		byIndex[o.Index] = o
	}

	out := make([]Outcome, len(table.Rows))
	for i, rec := range table.Rows {
		if o, ok := byIndex[i]; ok {
			out[i] = o
			continue
		}
		key, _ := geocode.Normalize(rec[addressField])
		out[i] = newOutcome(i, rec, key, geocode.Unresolved(ReasonNotProcessed))
	}
	return out
}

// Merge joins outcomes back onto the table. Every original column and value
// is kept; Latitude and Longitude are nil for failed rows, and
// GeocodingFailed flags them. Input records are not modified.
func Merge(table Table, outcomes []Outcome, addressField string) Table {
	cols := slices.Clone(table.Columns)
	for _, c := range []string{ColumnLatitude, ColumnLongitude, ColumnFailed} {
		if !slices.Contains(cols, c) {
			cols = append(cols, c)
		}
	}

	complete := Complete(table, outcomes, addressField)
	rows := make([]Record, len(complete))
	for i, o := range complete {
		rec := make(Record, len(o.Record)+3)
		for k, v := range o.Record {
			rec[k] = v
		}
		if c, ok := o.Result.Coordinate(); ok {
			rec[ColumnLatitude] = c.Lat
			rec[ColumnLongitude] = c.Lon
		} else {
			rec[ColumnLatitude] = nil
			rec[ColumnLongitude] = nil
		}
		rec[ColumnFailed] = o.Failed
		rows[i] = rec
	}

	return Table{Columns: cols, Rows: rows}
}

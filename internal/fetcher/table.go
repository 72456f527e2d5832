// Package fetcher loads address tables from CSV and XLSX sources, either local
// files, uploaded bytes, or files downloaded over HTTP.
package fetcher

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/address-mapper/internal/resolve"
)

// Supported table formats.
const (
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
)

// TableOptions configures LoadTable.
type TableOptions struct {
	Delimiter rune   // CSV only
	Encoding  string // CSV only
	Sheet     string // XLSX only; default first sheet
}

// FormatOf picks the table format from a file name's extension.
func FormatOf(name string) (string, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv", ".txt":
		return FormatCSV, nil
	case ".xlsx":
		return FormatXLSX, nil
	default:
		return "", eris.Errorf("fetcher: unsupported input file %q (want .csv or .xlsx)", name)
	}
}

// LoadTable reads a CSV or XLSX file into a table. The first row is the header.
func LoadTable(ctx context.Context, path string, opts TableOptions) (resolve.Table, error) {
	format, err := FormatOf(path)
	if err != nil {
		return resolve.Table{}, err
	}

	switch format {
	case FormatXLSX:
		rows, err := ReadXLSX(path, opts.Sheet)
		if err != nil {
			return resolve.Table{}, eris.Wrapf(err, "fetcher: load %s", path)
		}
		return buildTable(rows)
	default:
		f, err := os.Open(path)
		if err != nil {
			return resolve.Table{}, eris.Wrap(err, "fetcher: open input")
		}
		defer f.Close() //nolint:errcheck
		t, err := LoadCSVTable(ctx, f, opts)
		if err != nil {
			return resolve.Table{}, eris.Wrapf(err, "fetcher: load %s", path)
		}
		return t, nil
	}
}

// LoadTableFrom reads a table from r; name only selects the format.
func LoadTableFrom(ctx context.Context, r io.Reader, name string, opts TableOptions) (resolve.Table, error) {
	format, err := FormatOf(name)
	if err != nil {
		return resolve.Table{}, err
	}
	if format == FormatCSV {
		return LoadCSVTable(ctx, r, opts)
	}

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return resolve.Table{}, eris.Wrap(err, "fetcher: read workbook")
	}
	rows, err := ReadXLSXBytes(buf.Bytes(), opts.Sheet)
	if err != nil {
		return resolve.Table{}, err
	}
	return buildTable(rows)
}

// LoadCSVTable reads a CSV stream into a table.
func LoadCSVTable(ctx context.Context, r io.Reader, opts TableOptions) (resolve.Table, error) {
	rowCh, errCh := StreamCSV(ctx, r, CSVOptions{
		Delimiter: opts.Delimiter,
		Encoding:  opts.Encoding,
	})

	var rows [][]string
	for row := range rowCh {
		rows = append(rows, row.Cells)
	}
	if err := <-errCh; err != nil {
		return resolve.Table{}, err
	}
	return buildTable(rows)
}

// buildTable turns raw rows into a table keyed by the header row. Short rows
// are padded with empty strings; cells beyond the header are dropped.
func buildTable(rows [][]string) (resolve.Table, error) {
	if len(rows) == 0 {
		return resolve.Table{}, eris.New("fetcher: input has no header row")
	}

	header := make([]string, len(rows[0]))
	seen := make(map[string]bool, len(header))
	for i, h := range rows[0] {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		if h == "" {
			return resolve.Table{}, eris.Errorf("fetcher: header column %d is empty", i+1)
		}
		if seen[h] {
			return resolve.Table{}, eris.Errorf("fetcher: duplicate header column %q", h)
		}
		seen[h] = true
		header[i] = h
	}

	data := rows[1:]
	records := make([]resolve.Record, 0, len(data))
	for _, row := range data {
		rec := make(resolve.Record, len(header))
		for i, col := range header {
			if i < len(row) {
				rec[col] = row[i]
			} else {
				rec[col] = ""
			}
		}
		records = append(records, rec)
	}

	zap.L().Debug("fetcher: table loaded",
		zap.Int("columns", len(header)),
		zap.Int("rows", len(records)),
	)
	return resolve.Table{Columns: header, Rows: records}, nil
}

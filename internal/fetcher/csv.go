package fetcher

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding/htmlindex"
)

// CSVOptions configures StreamCSV.
type CSVOptions struct {
	Delimiter rune   // default ','
	Encoding  string // WHATWG label such as "windows-1252"; empty reads UTF-8
	TrimSpace bool
}

// CSVRow is one parsed record and the input line it starts on.
type CSVRow struct {
	Line  int
	Cells []string
}

// decodeReader wraps r so that it yields UTF-8 for the named charset.
func decodeReader(r io.Reader, charset string) (io.Reader, error) {
	if charset == "" {
		return r, nil
	}
	enc, err := htmlindex.Get(charset)
	if err != nil {
		return nil, eris.Wrapf(err, "csv: unsupported encoding %q", charset)
	}
	return enc.NewDecoder().Reader(r), nil
}

// StreamCSV parses r in the background and sends every record, header
// included, on the row channel. Quotes are read leniently and rows may have
// any number of cells. Both channels close when parsing stops; at most one
// error is sent.
func StreamCSV(ctx context.Context, r io.Reader, opts CSVOptions) (<-chan CSVRow, <-chan error) {
	rowCh := make(chan CSVRow, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(rowCh)
		defer close(errCh)

		src, err := decodeReader(r, opts.Encoding)
		if err != nil {
			errCh <- err
			return
		}

		reader := csv.NewReader(src)
		if opts.Delimiter != 0 {
			reader.Comma = opts.Delimiter
		}
		reader.LazyQuotes = true
		reader.FieldsPerRecord = -1

		for {
			if err := ctx.Err(); err != nil {
				errCh <- eris.Wrap(err, "csv: read cancelled")
				return
			}

			record, err := reader.Read()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				errCh <- eris.Wrap(err, "csv: parse")
				return
			}
			line, _ := reader.FieldPos(0)

			if opts.TrimSpace {
				for i, cell := range record {
					record[i] = strings.TrimSpace(cell)
				}
			}

			select {
			case rowCh <- CSVRow{Line: line, Cells: record}:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "csv: read cancelled")
				return
			}
		}
	}()

	return rowCh, errCh
}

package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/rotisserie/eris"

	"github.com/sells-group/address-mapper/internal/resolve"
)

// WriteCSV writes a merged table with a header row. Null coordinates are
// written as empty cells.
func WriteCSV(w io.Writer, merged resolve.Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(merged.Columns); err != nil {
		return eris.Wrap(err, "export: write csv header")
	}

	row := make([]string, len(merged.Columns))
	for _, rec := range merged.Rows {
		for i, col := range merged.Columns {
			row[i] = cell(rec[col])
		}
		if err := cw.Write(row); err != nil {
			return eris.Wrap(err, "export: write csv row")
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return eris.Wrap(err, "export: flush csv")
	}
	return nil
}

func cell(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprint(x)
	}
}

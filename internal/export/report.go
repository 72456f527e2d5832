package export

import (
	"encoding/json"
	"io"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/address-mapper/internal/resolve"
)

// Report formats.
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// UnresolvedRow describes one address that could not be geocoded. Row is the
// zero-based index into the input table.
type UnresolvedRow struct {
	Row     int    `json:"row" yaml:"row"`
	Address string `json:"address" yaml:"address"`
	Reason  string `json:"reason" yaml:"reason"`
}

// Report is the end-of-run summary handed to the user.
type Report struct {
	RunID      string          `json:"run_id,omitempty" yaml:"run_id,omitempty"`
	Summary    resolve.Summary `json:"summary" yaml:"summary"`
	Unresolved []UnresolvedRow `json:"unresolved" yaml:"unresolved"`
}

// NewReport summarizes outcomes and lists the unresolved rows in input order.
func NewReport(outcomes []resolve.Outcome) Report {
	_, unresolved := resolve.Partition(outcomes)
	return Report{
		Summary:    resolve.Summarize(outcomes),
		Unresolved: UnresolvedRows(unresolved),
	}
}

// UnresolvedRows converts failed outcomes to report rows.
func UnresolvedRows(unresolved []resolve.Outcome) []UnresolvedRow {
	rows := make([]UnresolvedRow, 0, len(unresolved))
	for _, o := range unresolved {
		rows = append(rows, UnresolvedRow{
			Row:     o.Index,
			Address: string(o.Key),
			Reason:  o.Result.Reason(),
		})
	}
	return rows
}

// WriteReport writes r as indented JSON or YAML.
func WriteReport(w io.Writer, format string, r Report) error {
	switch format {
	case FormatJSON, "":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(r); err != nil {
			return eris.Wrap(err, "export: encode json report")
		}
		return nil
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(r); err != nil {
			return eris.Wrap(err, "export: encode yaml report")
		}
		if err := enc.Close(); err != nil {
			return eris.Wrap(err, "export: close yaml report")
		}
		return nil
	default:
		return eris.Errorf("export: unknown report format %q", format)
	}
}

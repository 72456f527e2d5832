package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/address-mapper/internal/export"
	"github.com/sells-group/address-mapper/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect geocoding run history",
	Long:  "Commands for listing stored runs and the addresses each run could not resolve. Requires store.database_url.",
}

// -- runs list --

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := requireStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		limit, _ := cmd.Flags().GetInt("limit")
		runs, err := st.ListRuns(ctx, limit)
		if err != nil {
			return eris.Wrap(err, "runs list")
		}

		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}

		formatRunsList(os.Stdout, runs)
		return nil
	},
}

// -- runs unresolved --

var runsUnresolvedCmd = &cobra.Command{
	Use:   "unresolved <run-id>",
	Short: "Show the unresolved addresses of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := requireStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		run, err := st.GetRun(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs unresolved")
		}
		rows, err := st.ListUnresolved(ctx, run.ID)
		if err != nil {
			return eris.Wrap(err, "runs unresolved")
		}

		format, _ := cmd.Flags().GetString("format")
		return export.WriteReport(os.Stdout, format, storedReport(*run, rows))
	},
}

// -- runs show --

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show every row outcome of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := requireStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		rows, err := st.ListOutcomes(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs show")
		}
		formatOutcomes(os.Stdout, rows)
		return nil
	},
}

func init() {
	runsListCmd.Flags().Int("limit", 20, "max number of runs to display")
	runsUnresolvedCmd.Flags().String("format", export.FormatJSON, "output format (json, yaml)")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsUnresolvedCmd)
	runsCmd.AddCommand(runsShowCmd)
	rootCmd.AddCommand(runsCmd)
}

func requireStore(ctx context.Context) (store.Store, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, eris.New("run history is not enabled: set store.database_url")
	}
	return st, nil
}

// storedReport rebuilds the unresolved report of a stored run.
func storedReport(run store.RunSummary, rows []store.OutcomeRow) export.Report {
	r := export.Report{
		RunID:      run.ID,
		Unresolved: make([]export.UnresolvedRow, 0, len(rows)),
	}
	r.Summary.Total = run.Total
	r.Summary.Resolved = run.Resolved
	r.Summary.Unresolved = run.Unresolved
	for _, row := range rows {
		r.Unresolved = append(r.Unresolved, export.UnresolvedRow{
			Row:     row.Row,
			Address: row.Address,
			Reason:  row.Reason,
		})
	}
	return r
}

// formatRunsList writes a tabular list of runs to w.
func formatRunsList(out io.Writer, runs []store.RunSummary) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSOURCE\tPROVIDER\tSTATUS\tTOTAL\tRESOLVED\tUNRESOLVED\tCREATED")
	_, _ = fmt.Fprintln(w, "--\t------\t--------\t------\t-----\t--------\t----------\t-------")

	for _, r := range runs {
		source := r.Source
		if len(source) > 30 {
			source = "..." + source[len(source)-27:]
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
			truncateID(r.ID),
			source,
			r.Provider,
			r.Status,
			r.Total,
			r.Resolved,
			r.Unresolved,
			r.CreatedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}

// formatOutcomes writes one line per stored row. Unresolved rows show their
// reason in place of coordinates.
func formatOutcomes(out io.Writer, rows []store.OutcomeRow) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ROW\tADDRESS\tLAT\tLON\tREASON")
	for _, r := range rows {
		lat, lon := "-", "-"
		if r.Lat != nil && r.Lon != nil {
			lat, lon = fmt.Sprintf("%.6f", *r.Lat), fmt.Sprintf("%.6f", *r.Lon)
		}
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", r.Row, r.Address, lat, lon, r.Reason)
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

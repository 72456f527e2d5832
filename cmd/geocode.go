package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/mattn/go-isatty"
	"github.com/rotisserie/eris"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/address-mapper/internal/config"
	"github.com/sells-group/address-mapper/internal/export"
	"github.com/sells-group/address-mapper/internal/fetcher"
	"github.com/sells-group/address-mapper/internal/resolve"
	"github.com/sells-group/address-mapper/internal/store"
)

var geocodeCmd = &cobra.Command{
	Use:   "geocode",
	Short: "Geocode the address column of a CSV or Excel table",
	Long:  "Resolves every address in the input table to a coordinate and writes the table with Latitude, Longitude and GeocodingFailed columns added. Optionally writes a GeoJSON map layer and a report of unresolved rows.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		input, _ := cmd.Flags().GetString("input")
		addressField, _ := cmd.Flags().GetString("address-field")
		hoverField, _ := cmd.Flags().GetString("hover-field")
		outputPath, _ := cmd.Flags().GetString("output")
		geojsonPath, _ := cmd.Flags().GetString("geojson")
		reportPath, _ := cmd.Flags().GetString("report")
		format, _ := cmd.Flags().GetString("format")
		preview, _ := cmd.Flags().GetInt("preview")

		gc, err := geocodeSettings(cmd, cfg)
		if err != nil {
			return err
		}
		if addressField == "" {
			addressField = cfg.Input.AddressField
		}
		if hoverField == "" {
			hoverField = addressField
		}

		table, err := loadInput(ctx, input)
		if err != nil {
			return err
		}
		if preview > 0 {
			printPreview(os.Stderr, table, preview)
		}

		client, err := buildClient(gc)
		if err != nil {
			return eris.Wrap(err, "geocode")
		}

		progress, closeProgress := newProgressReporter(len(table.Rows))
		r := newResolver(client, gc, resolve.WithProgress(progress))

		outcomes, batchErr := runBatch(ctx, r, table, addressField)
		closeProgress()
		if outcomes == nil {
			return eris.Wrap(batchErr, "geocode")
		}
		if batchErr != nil {
			zap.L().Warn("geocoding interrupted, writing partial results", zap.Error(batchErr))
		}

		merged := resolve.Merge(table, outcomes, addressField)
		if err := writeOutput(outputPath, func(w io.Writer) error { return export.WriteCSV(w, merged) }); err != nil {
			return err
		}
		if geojsonPath != "" {
			if err := writeOutput(geojsonPath, func(w io.Writer) error {
				return export.WriteGeoJSON(w, merged, hoverField)
			}); err != nil {
				return err
			}
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		report := export.NewReport(outcomes)
		if st != nil {
			defer st.Close() //nolint:errcheck
			report.RunID = saveRun(ctx, st, store.RunSummary{
				Source:       input,
				AddressField: addressField,
				Provider:     client.Name(),
				Status:       runStatus(batchErr),
			}, outcomes)
		}

		if err := emitReport(reportPath, format, report); err != nil {
			return err
		}
		return batchErr
	},
}

func init() {
	f := geocodeCmd.Flags()
	f.String("input", "", "input CSV or XLSX file path or http(s) URL (required)")
	f.String("address-field", "", "column holding the addresses (default from config)")
	f.String("hover-field", "", "column used as the map feature name (default: the address column)")
	f.String("output", "", "output CSV path (default: stdout)")
	f.String("geojson", "", "write a GeoJSON FeatureCollection of resolved rows to this path")
	f.String("report", "", "write the unresolved-address report to this path (default: stderr)")
	f.String("format", export.FormatJSON, "report format (json, yaml)")
	f.Int("preview", 0, "print the first N input rows before geocoding")
	f.String("provider", "", "geocoding provider override (nominatim, census, google, cascade)")
	f.Int("concurrency", 1, "number of rows resolved in parallel")
	_ = geocodeCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(geocodeCmd)
}

// geocodeSettings applies the --provider and --concurrency overrides to a copy
// of base and validates the result, since base was validated before the flags
// were read.
func geocodeSettings(cmd *cobra.Command, base *config.Config) (config.GeocodeConfig, error) {
	c := *base
	if cmd.Flags().Changed("provider") {
		c.Geocode.Provider, _ = cmd.Flags().GetString("provider")
	}
	if cmd.Flags().Changed("concurrency") {
		c.Geocode.Concurrency, _ = cmd.Flags().GetInt("concurrency")
	}
	if err := c.Validate(); err != nil {
		return config.GeocodeConfig{}, eris.Wrap(err, "geocode flags")
	}
	return c.Geocode, nil
}

// loadInput reads a local table or downloads a remote one into a temp dir.
func loadInput(ctx context.Context, input string) (resolve.Table, error) {
	delim, err := cfg.Input.DelimiterRune()
	if err != nil {
		return resolve.Table{}, err
	}
	opts := fetcher.TableOptions{Delimiter: delim, Encoding: cfg.Input.Encoding, Sheet: cfg.Input.Sheet}

	if !fetcher.IsURL(input) {
		return fetcher.LoadTable(ctx, input, opts)
	}

	dir, err := os.MkdirTemp("", "address-mapper-*")
	if err != nil {
		return resolve.Table{}, eris.Wrap(err, "create temp dir")
	}
	defer os.RemoveAll(dir) //nolint:errcheck

	f := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{})
	return fetcher.FetchTable(ctx, f, input, dir, opts)
}

// printPreview writes the header and the first n rows as aligned columns.
func printPreview(out io.Writer, table resolve.Table, n int) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for i, col := range table.Columns {
		if i > 0 {
			_, _ = fmt.Fprint(w, "\t")
		}
		_, _ = fmt.Fprint(w, col)
	}
	_, _ = fmt.Fprintln(w)

	for _, rec := range table.Rows[:min(n, len(table.Rows))] {
		for i, col := range table.Columns {
			if i > 0 {
				_, _ = fmt.Fprint(w, "\t")
			}
			_, _ = fmt.Fprint(w, rec[col])
		}
		_, _ = fmt.Fprintln(w)
	}
	_ = w.Flush()
}

// newProgressReporter draws a progress bar on a terminal and logs every tenth
// of the batch otherwise. The returned func finishes the bar.
func newProgressReporter(rows int) (resolve.ProgressFunc, func()) {
	if isatty.IsTerminal(os.Stderr.Fd()) {
		bar := progressbar.NewOptions(100,
			progressbar.OptionSetDescription(fmt.Sprintf("Geocoding %d rows", rows)),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionClearOnFinish(),
		)
		return func(f float64) {
			_ = bar.Set(int(f * 100))
		}, func() { _ = bar.Finish() }
	}

	return decileLogger(rows), func() {}
}

// decileLogger logs progress each time another tenth of the rows is done.
func decileLogger(rows int) resolve.ProgressFunc {
	last := -1
	return func(f float64) {
		decile := int(f * 10)
		if decile <= last {
			return
		}
		last = decile
		zap.L().Info("geocode progress",
			zap.Int("rows", rows),
			zap.Int("percent", decile*10),
		)
	}
}

// writeOutput writes to path, or to stdout when path is empty.
func writeOutput(path string, write func(io.Writer) error) error {
	if path == "" {
		return write(os.Stdout)
	}
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "create %s", path)
	}
	if err := write(f); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return eris.Wrapf(err, "close %s", path)
	}
	return nil
}

// emitReport writes the unresolved report, or logs that none is needed.
func emitReport(path, format string, report export.Report) error {
	if len(report.Unresolved) == 0 {
		zap.L().Info("all addresses were successfully geocoded",
			zap.Int("total", report.Summary.Total),
			zap.String("run_id", report.RunID),
		)
		if path == "" {
			return nil
		}
	}
	if path == "" {
		return export.WriteReport(os.Stderr, format, report)
	}
	return writeOutput(path, func(w io.Writer) error { return export.WriteReport(w, format, report) })
}

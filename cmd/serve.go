package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/twpayne/go-geom/encoding/geojson"
	"go.uber.org/zap"

	"github.com/sells-group/address-mapper/internal/config"
	"github.com/sells-group/address-mapper/internal/export"
	"github.com/sells-group/address-mapper/internal/fetcher"
	"github.com/sells-group/address-mapper/internal/resilience"
	"github.com/sells-group/address-mapper/internal/resolve"
	"github.com/sells-group/address-mapper/internal/store"
	"github.com/sells-group/address-mapper/pkg/geocode"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP geocoding service",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		client, err := buildClient(cfg.Geocode)
		if err != nil {
			return eris.Wrap(err, "serve")
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		if st != nil {
			defer st.Close() //nolint:errcheck
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           newRouter(newServer(client, cfg, st)),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownSecs)*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				zap.L().Error("server shutdown", zap.Error(err))
			}
		}()

		zap.L().Info("starting server",
			zap.Int("port", port),
			zap.String("provider", client.Name()),
			zap.Bool("store", st != nil),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// server holds the dependencies shared by every request. Each upload gets its
// own resolver and cache.
type server struct {
	client    geocode.Client
	geocode   config.GeocodeConfig
	input     config.InputConfig
	store     store.Store
	maxUpload int64
	timeout   time.Duration
	origins   []string
}

func newServer(client geocode.Client, c *config.Config, st store.Store) *server {
	return &server{
		client:    client,
		geocode:   c.Geocode,
		input:     c.Input,
		store:     st,
		maxUpload: c.Server.MaxUploadMB << 20,
		timeout:   time.Duration(c.Server.RequestTimeout) * time.Second,
		origins:   c.Server.CORSOrigins,
	}
}

// geocodeResponse is the body returned for an uploaded table.
type geocodeResponse struct {
	RunID          string                     `json:"run_id,omitempty"`
	Total          int                        `json:"total"`
	Resolved       int                        `json:"resolved"`
	Unresolved     int                        `json:"unresolved"`
	Records        []resolve.Record           `json:"records"`
	UnresolvedRows []export.UnresolvedRow     `json:"unresolved_rows"`
	GeoJSON        *geojson.FeatureCollection `json:"geojson"`
}

// runResponse is the body returned for a stored run.
type runResponse struct {
	Run        *store.RunSummary  `json:"run"`
	Unresolved []store.OutcomeRow `json:"unresolved"`
}

func newRouter(s *server) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Post("/geocode", s.handleGeocode)
	r.Get("/runs", s.handleListRuns)
	r.Get("/runs/{id}", s.handleGetRun)
	return r
}

// healthResponse reports the provider and, for a cascade, each provider's circuit.
type healthResponse struct {
	Status   string                             `json:"status"`
	Provider string                             `json:"provider"`
	Breakers map[string]resilience.CircuitState `json:"breakers,omitempty"`
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{Status: "ok", Provider: s.client.Name()}
	if c, ok := s.client.(interface {
		BreakerStates() map[string]resilience.CircuitState
	}); ok {
		resp.Breakers = c.BreakerStates()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) handleGeocode(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	if s.maxUpload > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "multipart field \"file\" is required")
		return
	}
	defer file.Close() //nolint:errcheck

	addressField := r.FormValue("address_field")
	if addressField == "" {
		addressField = s.input.AddressField
	}
	hoverField := r.FormValue("hover_field")
	if hoverField == "" {
		hoverField = addressField
	}

	delim, err := s.input.DelimiterRune()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	table, err := fetcher.LoadTableFrom(ctx, file, header.Filename, fetcher.TableOptions{
		Delimiter: delim,
		Encoding:  s.input.Encoding,
		Sheet:     s.input.Sheet,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resolver := newResolver(s.client, s.geocode)
	outcomes, batchErr := runBatch(ctx, resolver, table, addressField)
	if outcomes == nil {
		if errors.Is(batchErr, resolve.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("address column %q not found", addressField))
			return
		}
		writeError(w, http.StatusInternalServerError, batchErr.Error())
		return
	}

	runID := saveRun(ctx, s.store, store.RunSummary{
		Source:       header.Filename,
		AddressField: addressField,
		Provider:     s.client.Name(),
		Status:       runStatus(batchErr),
	}, outcomes)

	if batchErr != nil {
		zap.L().Warn("geocode request interrupted",
			zap.String("file", header.Filename),
			zap.String("run_id", runID),
			zap.Error(batchErr),
		)
		writeError(w, http.StatusServiceUnavailable, "geocoding interrupted: "+batchErr.Error())
		return
	}

	merged := resolve.Merge(table, outcomes, addressField)
	report := export.NewReport(outcomes)
	writeJSON(w, http.StatusOK, geocodeResponse{
		RunID:          runID,
		Total:          report.Summary.Total,
		Resolved:       report.Summary.Resolved,
		Unresolved:     report.Summary.Unresolved,
		Records:        merged.Rows,
		UnresolvedRows: report.Unresolved,
		GeoJSON:        export.FeatureCollection(merged, hoverField),
	})
}

func (s *server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusNotFound, "run history is not enabled")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	runs, err := s.store.ListRuns(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusNotFound, "run history is not enabled")
		return
	}
	id := chi.URLParam(r, "id")
	run, err := s.store.GetRun(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	unresolved, err := s.store.ListUnresolved(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, runResponse{Run: run, Unresolved: unresolved})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("write response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

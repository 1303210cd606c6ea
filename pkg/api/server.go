// Package api serves the read-only operator surface: coordinator status,
// recent decisions, memory queries, buffered logs, and Prometheus metrics.
// Strictly observational; nothing here mutates pipeline state.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tradecore/pkg/config"
	"tradecore/pkg/coordinator"
	"tradecore/pkg/logx"
	"tradecore/pkg/memory"
	"tradecore/pkg/metrics"
	"tradecore/pkg/proto"
	"tradecore/pkg/router"
)

// Server is the HTTP operator API.
type Server struct {
	coord   *coordinator.Coordinator
	input   *router.InputRouter
	store   *memory.Store
	query   *metrics.QueryService
	mux     chi.Router
	logger  *logx.Logger
	started time.Time
}

// New assembles the server. The Prometheus query service is optional and
// enabled only when a server URL is configured.
func New(cfg *config.API, coord *coordinator.Coordinator, input *router.InputRouter, store *memory.Store) *Server {
	s := &Server{
		coord:   coord,
		input:   input,
		store:   store,
		logger:  logx.NewLogger("api"),
		started: time.Now(),
	}
	if cfg.PrometheusURL != "" {
		query, err := metrics.NewQueryService(cfg.PrometheusURL)
		if err != nil {
			s.logger.Warn("prometheus query service disabled: %v", err)
		} else {
			s.query = query
		}
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Get("/status", s.handleStatus)
	r.Get("/decisions", s.handleDecisions)
	r.Get("/memory/query", s.handleMemoryQuery)
	r.Get("/logs", s.handleLogs)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	r.Get("/metrics/session", s.handleSessionMetrics)
	r.Get("/metrics/weights", s.handleHistoricalWeights)

	s.mux = r
}

// Serve runs the listener until the context is cancelled, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("operator api listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.coord.Snapshot()
	degraded, reason := s.store.Degraded()
	records, err := s.store.Count(r.Context())
	if err != nil {
		s.logger.Warn("record count failed: %v", err)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"state":            snap.State,
		"degraded_tick":    snap.Degraded,
		"ticks_run":        snap.TicksRun,
		"uptime_seconds":   time.Since(s.started).Seconds(),
		"weights":          snap.Weights,
		"liveness":         snap.Liveness,
		"open_positions":   snap.OpenPositions,
		"pending_outcomes": snap.PendingOutcomes,
		"memory": map[string]any{
			"records":  records,
			"degraded": degraded,
			"reason":   reason,
		},
	})
}

func (s *Server) handleDecisions(w http.ResponseWriter, _ *http.Request) {
	snap := s.coord.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"count":     len(snap.RecentDecisions),
		"decisions": snap.RecentDecisions,
	})
}

func (s *Server) handleMemoryQuery(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "q parameter required"})
		return
	}

	k := 10
	if v := r.URL.Query().Get("k"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			k = n
		}
	}

	hits, err := s.input.Retrieve(r.Context(), router.Query{
		AgentID:         "operator",
		Text:            q,
		K:               k,
		Symbol:          r.URL.Query().Get("symbol"),
		Kind:            proto.EventKind(r.URL.Query().Get("kind")),
		IncludeFailures: r.URL.Query().Get("include_failures") == "true",
	})
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, proto.ErrValidation) {
			status = http.StatusBadRequest
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"query":   q,
		"count":   len(hits),
		"results": hits,
	})
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	var since time.Time
	if v := r.URL.Query().Get("since"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "since must be RFC3339"})
			return
		}
		since = ts
	}

	entries := logx.RecentEntries(r.URL.Query().Get("component"), since)
	writeJSON(w, http.StatusOK, map[string]any{
		"count":   len(entries),
		"entries": entries,
	})
}

func (s *Server) handleSessionMetrics(w http.ResponseWriter, r *http.Request) {
	if s.query == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "no prometheus server configured"})
		return
	}

	m, err := s.query.GetSessionMetrics(r.Context())
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// handleHistoricalWeights reads the last scraped per-agent weights back from
// Prometheus, as opposed to /status which reports the live in-process table.
func (s *Server) handleHistoricalWeights(w http.ResponseWriter, r *http.Request) {
	if s.query == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "no prometheus server configured"})
		return
	}

	weights, err := s.query.AgentWeights(r.Context())
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"weights": weights})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

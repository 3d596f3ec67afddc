// Package server exposes a read-only HTTP view of a memory store:
// health, aggregate stats, base-layer query, and Prometheus metrics.
// All mutation goes through the dispatch protocol; HTTP never writes.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"wingmem/internal/config"
	"wingmem/internal/logging"
	"wingmem/internal/memory"
)

// Server is the read-only HTTP wrapper around a store.
type Server struct {
	store   *memory.Store
	cfg     config.ServerConfig
	query   config.QueryConfig
	metrics *metrics
	http    *http.Server
}

// New builds a server over an open store. The store stays owned by the
// caller; Shutdown never closes it.
func New(store *memory.Store, cfg config.ServerConfig, query config.QueryConfig) *Server {
	window, err := time.ParseDuration(query.RecentWindow)
	if err != nil || window <= 0 {
		window = time.Hour
	}

	s := &Server{
		store:   store,
		cfg:     cfg,
		query:   query,
		metrics: newMetrics(store, query.HotThreshold, window),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.instrument("/health", s.handleHealth))
	mux.HandleFunc("/stats", s.instrument("/stats", s.handleStats))
	mux.HandleFunc("/query", s.instrument("/query", s.handleQuery))
	mux.Handle("/metrics", promhttp.HandlerFor(s.metrics.registry, promhttp.HandlerOpts{}))

	s.http = &http.Server{
		Addr:         cfg.Addr,
		Handler:      mux,
		ReadTimeout:  parseDurationOr(cfg.ReadTimeout, 15*time.Second),
		WriteTimeout: parseDurationOr(cfg.WriteTimeout, 30*time.Second),
	}
	return s
}

// Handler returns the routed handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// ListenAndServe blocks serving HTTP until Shutdown or a listener error.
func (s *Server) ListenAndServe() error {
	logging.Server("HTTP server listening on %s", s.cfg.Addr)
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	logging.Server("HTTP server shutting down")
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":        "ok",
		"database_path": s.store.Path(),
		"db_size_bytes": s.store.SizeBytes(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.EngineStats(0)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleQuery runs a base-layer-only match. The HTTP surface deliberately
// skips the context and validation joins; callers who want overlays use
// the dispatch protocol.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	text := r.URL.Query().Get("q")

	limit := s.query.DefaultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}

	results, err := s.store.Query(text, memory.QueryOptions{
		Layers: []string{memory.LayerBase},
		Limit:  limit,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	atoms := make([]memory.Atom, 0, len(results))
	for _, res := range results {
		atoms = append(atoms, res.Atom)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"query":   text,
		"count":   len(atoms),
		"results": atoms,
	})
}

// instrument wraps a handler with request counting and latency tracking.
func (s *Server) instrument(endpoint string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			s.metrics.requestCount.WithLabelValues(r.Method, endpoint, "405").Inc()
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)

		elapsed := time.Since(start)
		s.metrics.requestCount.WithLabelValues(r.Method, endpoint, strconv.Itoa(rec.status)).Inc()
		s.metrics.requestDuration.WithLabelValues(r.Method, endpoint).Observe(elapsed.Seconds())
		logging.ServerDebug("%s %s -> %d in %v", r.Method, endpoint, rec.status, elapsed)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logging.Get(logging.CategoryServer).Warn("Response encoding failed: %v", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case memory.IsValidation(err):
		status = http.StatusBadRequest
	case memory.IsNotFound(err):
		status = http.StatusNotFound
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func parseDurationOr(raw string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

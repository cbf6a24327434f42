// Package api is the ops HTTP surface: health probes, Prometheus metrics,
// a status snapshot, and operational triggers for screening passes. It is
// not a public REST API for the pipeline's data model.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/orbitwatch/orbitwatch/internal/catalog"
	"github.com/orbitwatch/orbitwatch/internal/coa"
	"github.com/orbitwatch/orbitwatch/internal/conjunction"
	"github.com/orbitwatch/orbitwatch/internal/ephemeris"
	"github.com/orbitwatch/orbitwatch/internal/metrics"
	"github.com/orbitwatch/orbitwatch/internal/orbital"
)

// Server holds the HTTP server and its dependencies.
type Server struct {
	httpServer *http.Server
	orbits     *orbital.Client
	detector   *conjunction.Detector
	store      *conjunction.Store
	coas       *coa.Store
	planner    *coa.Planner
	decisions  *coa.Manager
	logger     *slog.Logger
}

// NewServer creates a configured ops HTTP server.
func NewServer(addr string, orbits *orbital.Client, detector *conjunction.Detector, store *conjunction.Store, coas *coa.Store, planner *coa.Planner, decisions *coa.Manager, logger *slog.Logger) *Server {
	s := &Server{
		orbits:    orbits,
		detector:  detector,
		store:     store,
		coas:      coas,
		planner:   planner,
		decisions: decisions,
		logger:    logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", healthz)
	mux.HandleFunc("GET /readyz", readyz)
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET /api/v1/status", s.handleStatus)
	mux.HandleFunc("POST /api/v1/detect", s.handleDetect)
	mux.HandleFunc("GET /api/v1/conjunctions", s.handleConjunctions)
	mux.HandleFunc("POST /api/v1/conjunctions/{id}/plan", s.handlePlan)
	mux.HandleFunc("GET /api/v1/conjunctions/{id}/coas", s.handleListCOAs)
	mux.HandleFunc("GET /api/v1/coas/{id}/simulate", s.handleSimulate)
	mux.HandleFunc("POST /api/v1/coas/{id}/select", s.handleSelect)
	mux.HandleFunc("POST /api/v1/coas/{id}/approve", s.handleApprove)
	mux.HandleFunc("POST /api/v1/coas/{id}/reject", s.handleReject)

	// Middleware chain: metrics -> logging -> mux.
	var handler http.Handler = mux
	handler = loggingMiddleware(logger)(handler)
	handler = metrics.Middleware(handler)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// HTTPServer returns the underlying *http.Server for external control (e.g. shutdown).
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

func healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok\n"))
}

// readyz reports ready once the process is serving; dependency health is
// surfaced through /api/v1/status instead of failing readiness.
func readyz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ready\n"))
}

// Status is the operational snapshot served at /api/v1/status.
type Status struct {
	Time              time.Time           `json:"time"`
	ScreeningActive   bool                `json:"screening_active"`
	LastScreening     *conjunction.Report `json:"last_screening,omitempty"`
	BreakerState      string              `json:"breaker_state"`
	Cache             orbital.CacheStats  `json:"propagation_cache"`
	Engine            ephemeris.Health    `json:"engine"`
	EngineUnreachable bool                `json:"engine_unreachable,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	status := Status{
		Time:            time.Now().UTC(),
		ScreeningActive: s.detector.InProgress(),
		LastScreening:   s.detector.LastReport(),
		BreakerState:    string(s.orbits.BreakerState()),
		Cache:           s.orbits.CacheStats(),
	}

	health, err := s.orbits.HealthCheck(ctx)
	if err != nil {
		status.EngineUnreachable = true
	} else {
		status.Engine = health
	}

	writeJSON(w, http.StatusOK, status)
}

// handleDetect triggers an immediate screening pass. With ?satellite_id= it
// screens one asset; otherwise it runs a full pass.
func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	if assetID := r.URL.Query().Get("satellite_id"); assetID != "" {
		found, err := s.detector.ScreenSatellite(r.Context(), assetID)
		switch {
		case errors.Is(err, catalog.ErrNotFound):
			writeError(w, http.StatusNotFound, err)
		case errors.Is(err, conjunction.ErrScreeningInProgress):
			writeError(w, http.StatusConflict, err)
		case err != nil:
			writeError(w, http.StatusBadGateway, err)
		default:
			writeJSON(w, http.StatusOK, map[string]any{
				"satellite_id": assetID,
				"conjunctions": found,
			})
		}
		return
	}

	report, err := s.detector.DetectNow(r.Context())
	switch {
	case errors.Is(err, conjunction.ErrScreeningInProgress):
		writeError(w, http.StatusConflict, err)
	case err != nil:
		writeError(w, http.StatusBadGateway, err)
	default:
		writeJSON(w, http.StatusOK, report)
	}
}

func (s *Server) handleConjunctions(w http.ResponseWriter, r *http.Request) {
	if assetID := r.URL.Query().Get("satellite_id"); assetID != "" {
		writeJSON(w, http.StatusOK, s.store.ByAsset(assetID))
		return
	}
	writeJSON(w, http.StatusOK, s.store.List())
}

// handlePlan generates the standard three COA candidates for a conjunction.
func (s *Server) handlePlan(w http.ResponseWriter, r *http.Request) {
	coas, err := s.planner.GenerateCOAs(r.Context(), r.PathValue("id"))
	switch {
	case errors.Is(err, conjunction.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, coa.ErrIncompleteOrbitData):
		writeError(w, http.StatusBadGateway, err)
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
	default:
		writeJSON(w, http.StatusOK, coas)
	}
}

func (s *Server) handleListCOAs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.coas.ByConjunction(r.PathValue("id")))
}

func (s *Server) handleSimulate(w http.ResponseWriter, r *http.Request) {
	sim, err := s.planner.Simulate(r.PathValue("id"))
	switch {
	case errors.Is(err, coa.ErrNotFound), errors.Is(err, conjunction.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
	default:
		writeJSON(w, http.StatusOK, sim)
	}
}

// operator returns the acting operator identity for decision endpoints.
func operator(r *http.Request) string {
	if by := r.URL.Query().Get("by"); by != "" {
		return by
	}
	return "operator"
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	selected, err := s.decisions.Select(r.Context(), r.PathValue("id"), operator(r))
	s.writeDecision(w, selected, err, coa.ErrNotSelectable)
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	approved, err := s.decisions.Approve(r.PathValue("id"), operator(r), r.URL.Query().Get("notes"))
	s.writeDecision(w, approved, err, coa.ErrNotApprovable)
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	rejected, err := s.decisions.Reject(r.PathValue("id"), operator(r), r.URL.Query().Get("notes"))
	s.writeDecision(w, rejected, err, coa.ErrNotRejectable)
}

// writeDecision maps a decision outcome onto HTTP: unknown id is 404, an
// invalid transition or sibling conflict is 409, anything else is 502.
func (s *Server) writeDecision(w http.ResponseWriter, c coa.COA, err error, invalid error) {
	switch {
	case errors.Is(err, coa.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, invalid):
		writeError(w, http.StatusConflict, err)
	case err != nil:
		writeError(w, http.StatusBadGateway, err)
	default:
		writeJSON(w, http.StatusOK, c)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

// probePath returns true for health/readiness probe paths that should not log at INFO.
func probePath(path string) bool {
	return path == "/healthz" || path == "/readyz"
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.statusCode = code
	sr.ResponseWriter.WriteHeader(code)
}

func loggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sr := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(sr, r)

			duration := time.Since(start)
			level := slog.LevelInfo
			if probePath(r.URL.Path) {
				level = slog.LevelDebug
			}

			logger.Log(r.Context(), level, "request",
				"component", "api",
				"method", r.Method,
				"path", r.URL.Path,
				"status", strconv.Itoa(sr.statusCode),
				"duration_ms", duration.Milliseconds(),
				"remote_ip", r.RemoteAddr,
			)
		})
	}
}

// Package admin serves the read-only administration surface: health,
// engine statistics, the plugin list and Prometheus metrics. Nothing
// here mutates engine state.
package admin

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/sluiceio/sluice/internal/engine"
	"github.com/sluiceio/sluice/internal/monitor"
	"github.com/sluiceio/sluice/internal/storage"
)

// Config carries the listener parameters. Addr may use port 0; the
// bound address is available from Addr after Start.
type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	APIKeys      []string
	MetricsPath  string
}

// Server is the admin HTTP server.
type Server struct {
	httpServer *http.Server
	listener   net.Listener
	cfg        Config
	eng        *engine.Engine
	db         *storage.DB
	startTime  time.Time
}

// New wires routes and middleware. db and metrics may be nil; the
// corresponding surface degrades rather than failing.
func New(cfg Config, eng *engine.Engine, db *storage.DB, metrics *monitor.Metrics) *Server {
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 30 * time.Second
	}

	s := &Server{
		cfg:       cfg,
		eng:       eng,
		db:        db,
		startTime: time.Now(),
	}

	// Stats, plugins and audit queries sit behind auth; health and
	// metrics bypass it.
	statsMux := http.NewServeMux()
	statsMux.HandleFunc("GET /stats", s.handleStats)
	statsMux.HandleFunc("GET /plugins", s.handlePlugins)
	statsMux.HandleFunc("GET /audit/loads", s.handleAuditLoads)
	statsMux.HandleFunc("GET /audit/loads/{id}", s.handleAuditLoad)
	statsMux.HandleFunc("GET /audit/events", s.handleAuditEvents)
	authed := AuthMiddleware(cfg.APIKeys)(statsMux)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	if metrics != nil {
		mux.Handle("GET "+cfg.MetricsPath, promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	}
	mux.Handle("/", authed)

	// Apply middleware chain (outermost first)
	var handler http.Handler = mux
	handler = InFlightMiddleware(metrics)(handler)
	handler = LoggingMiddleware(handler)
	handler = RequestIDMiddleware(handler)
	handler = RecoveryMiddleware(handler)

	s.httpServer = &http.Server{
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// Start binds the listener and serves in the background. The returned
// error covers the bind only; serve failures after that are logged.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	s.listener = ln

	log.Info().Str("addr", ln.Addr().String()).Msg("admin server listening")
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("admin server stopped unexpectedly")
		}
	}()
	return nil
}

// Addr reports the bound address, empty before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("shutting down admin server")
	return s.httpServer.Shutdown(ctx)
}

// HealthResponse is returned by the health check endpoint.
type HealthResponse struct {
	Status   string `json:"status"`
	Engine   bool   `json:"engine"`
	Database bool   `json:"database"`
	Uptime   string `json:"uptime"`
}

// PluginInfo is one row of the plugin listing.
type PluginInfo struct {
	ID       string    `json:"id"`
	Version  int32     `json:"version"`
	Hash     string    `json:"hash"`
	LoadedAt time.Time `json:"loaded_at"`
}

// ErrorResponse is returned for API errors.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	engineOK := s.eng != nil && s.eng.Stats().Running
	dbOK := s.db == nil || s.db.Healthy(r.Context())

	resp := HealthResponse{
		Status:   "ok",
		Engine:   engineOK,
		Database: dbOK,
		Uptime:   time.Since(s.startTime).Round(time.Second).String(),
	}
	if !engineOK || !dbOK {
		resp.Status = "degraded"
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.eng == nil {
		writeError(w, "engine unavailable", "ENGINE_UNAVAILABLE", http.StatusServiceUnavailable, r)
		return
	}
	writeJSON(w, http.StatusOK, s.eng.Stats())
}

func (s *Server) handlePlugins(w http.ResponseWriter, r *http.Request) {
	if s.eng == nil {
		writeError(w, "engine unavailable", "ENGINE_UNAVAILABLE", http.StatusServiceUnavailable, r)
		return
	}

	plugins := s.eng.Plugins()
	infos := make([]PluginInfo, 0, len(plugins))
	for _, p := range plugins {
		infos = append(infos, PluginInfo{
			ID:       p.ID.String(),
			Version:  p.Version,
			Hash:     p.Hash,
			LoadedAt: p.LoadedAt,
		})
	}
	writeJSON(w, http.StatusOK, infos)
}

func (s *Server) handleAuditLoads(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		writeError(w, "database not configured", "DB_UNAVAILABLE", http.StatusServiceUnavailable, r)
		return
	}

	filter := storage.LoadFilter{
		Status: r.URL.Query().Get("status"),
		Limit:  100,
	}
	loads, err := s.db.ListPluginLoads(r.Context(), filter)
	if err != nil {
		writeError(w, "query failed", "INTERNAL", http.StatusInternalServerError, r)
		return
	}
	writeJSON(w, http.StatusOK, loads)
}

func (s *Server) handleAuditLoad(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		writeError(w, "database not configured", "DB_UNAVAILABLE", http.StatusServiceUnavailable, r)
		return
	}

	id := r.PathValue("id")
	if id == "" {
		writeError(w, "load ID required", "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}
	load, err := s.db.GetPluginLoad(r.Context(), id)
	if err != nil {
		writeError(w, "load record not found", "NOT_FOUND", http.StatusNotFound, r)
		return
	}
	writeJSON(w, http.StatusOK, load)
}

func (s *Server) handleAuditEvents(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		writeError(w, "database not configured", "DB_UNAVAILABLE", http.StatusServiceUnavailable, r)
		return
	}

	events, err := s.db.RecentSecurityEvents(r.Context(), 100)
	if err != nil {
		writeError(w, "query failed", "INTERNAL", http.StatusInternalServerError, r)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, msg, code string, status int, r *http.Request) {
	resp := ErrorResponse{
		Error:     msg,
		Code:      code,
		RequestID: RequestIDFromContext(r.Context()),
	}
	writeJSON(w, status, resp)
}

package http

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/couchcryptid/naad-alert-ingest/internal/domain"
)

// Ingest is the operational surface of the ingest service.
type Ingest interface {
	sharedobs.ReadinessChecker
	Health() domain.Health
	PeekAlerts() []domain.AlertRecord
	DrainAlerts() []domain.AlertRecord
	FetchAlerts(ctx context.Context, extraAreaFilters ...string) []domain.AlertRecord
}

// Server exposes health, readiness, metrics and the alert query endpoints.
type Server struct {
	httpServer *http.Server
	ingest     Ingest
	logger     *slog.Logger
}

// NewServer creates an HTTP server with /healthz, /readyz, /metrics and /api routes.
func NewServer(addr string, ingest Ingest, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 60 * time.Second, // /api/fetch waits on upstream feeds
			IdleTimeout:  60 * time.Second,
		},
		ingest: ingest,
		logger: logger,
	}

	mux.HandleFunc("GET /healthz", sharedobs.LivenessHandler())
	mux.HandleFunc("GET /readyz", sharedobs.ReadinessHandler(ingest))
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/alerts", s.handlePeek)
	mux.HandleFunc("POST /api/alerts/drain", s.handleDrain)
	mux.HandleFunc("POST /api/fetch", s.handleFetch)

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

// healthResponse reports heartbeat fields as null until the first heartbeat arrives.
type healthResponse struct {
	domain.Health
	LastHeartbeat             *time.Time `json:"last_heartbeat"`
	SinceLastHeartbeatSeconds *float64   `json:"since_last_heartbeat_seconds"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	h := s.ingest.Health()
	status := http.StatusOK
	if !h.Healthy {
		status = http.StatusServiceUnavailable
	}
	resp := healthResponse{Health: h}
	if !h.LastHeartbeat.IsZero() {
		last := h.LastHeartbeat
		since := h.SinceLastHeartbeat.Seconds()
		resp.LastHeartbeat = &last
		resp.SinceLastHeartbeatSeconds = &since
	}
	sharedobs.WriteJSON(w, status, resp)
}

type alertsResponse struct {
	Count  int                  `json:"count"`
	Alerts []domain.AlertRecord `json:"alerts"`
}

func newAlertsResponse(alerts []domain.AlertRecord) alertsResponse {
	if alerts == nil {
		alerts = []domain.AlertRecord{}
	}
	return alertsResponse{Count: len(alerts), Alerts: alerts}
}

func (s *Server) handlePeek(w http.ResponseWriter, _ *http.Request) {
	sharedobs.WriteJSON(w, http.StatusOK, newAlertsResponse(s.ingest.PeekAlerts()))
}

func (s *Server) handleDrain(w http.ResponseWriter, _ *http.Request) {
	alerts := s.ingest.DrainAlerts()
	s.logger.Info("alert queue drained", "count", len(alerts))
	sharedobs.WriteJSON(w, http.StatusOK, newAlertsResponse(alerts))
}

func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	filters := areaFilters(r.URL.Query()["area"])
	alerts := s.ingest.FetchAlerts(r.Context(), filters...)
	s.logger.Info("periodic fetch served", "count", len(alerts), "area_filters", filters)
	sharedobs.WriteJSON(w, http.StatusOK, newAlertsResponse(alerts))
}

// areaFilters accepts both repeated ?area= parameters and comma-separated values.
func areaFilters(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

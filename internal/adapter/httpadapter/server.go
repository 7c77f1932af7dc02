// Package httpadapter serves the operator API along with health, readiness
// and metrics endpoints.
package httpadapter

import (
	"context"
	"iter"
	"log/slog"
	"net/http"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/couchcryptid/traffic-alerts-service/internal/dispatch"
	"github.com/couchcryptid/traffic-alerts-service/internal/domain"
	"github.com/couchcryptid/traffic-alerts-service/internal/observability"
	"github.com/couchcryptid/traffic-alerts-service/internal/pipeline"
)

// TelemetryReader reads retained samples.
type TelemetryReader interface {
	Sources() []string
	Latest(sourceID string) (domain.TelemetrySample, bool)
	Recent(sourceID string, n int) []domain.TelemetrySample
}

// IncidentReader lists incidents by status.
type IncidentReader interface {
	ListActive() iter.Seq[domain.IncidentRecord]
	ListResolved() iter.Seq[domain.IncidentRecord]
}

// IncidentResolver applies an operator resolution.
type IncidentResolver interface {
	Resolve(ctx context.Context, id string) (domain.TransitionEvent, error)
}

// DispatchReader exposes the ledger and the pending failures.
type DispatchReader interface {
	Records(ctx context.Context) ([]domain.AlertDispatchRecord, error)
	Pending() []dispatch.Pending
}

// Retrier re-attempts pending dispatches on demand.
type Retrier interface {
	Retry(ctx context.Context) dispatch.RetryReport
}

// SourceController reports and refreshes polled sources.
type SourceController interface {
	Statuses() []pipeline.SourceStatus
	TriggerNow(name string) error
}

// API groups the collaborators behind the /api/v1 routes.
type API struct {
	Telemetry  TelemetryReader
	Incidents  IncidentReader
	Resolver   IncidentResolver
	Dispatches DispatchReader
	Retrier    Retrier
	Sources    SourceController
}

// Server exposes the operator API plus health, readiness, and metrics endpoints.
type Server struct {
	httpServer *http.Server
	api        API
	logger     *slog.Logger
}

// NewServer creates an HTTP server with /healthz, /readyz, /metrics and the
// /api/v1 routes.
func NewServer(addr string, api API, ready sharedobs.ReadinessChecker, metrics *observability.Metrics, logger *slog.Logger) *Server {
	r := chi.NewRouter()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      r,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		api:    api,
		logger: logger,
	}

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(instrument(metrics))

	r.Get("/healthz", sharedobs.LivenessHandler())
	r.Get("/readyz", sharedobs.ReadinessHandler(ready))
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/telemetry", func(r chi.Router) {
			r.Get("/", s.handleLatestTelemetry)
			r.Get("/{source}", s.handleSourceTelemetry)
		})
		r.Route("/incidents", func(r chi.Router) {
			r.Get("/", s.handleListIncidents)
			r.Post("/{id}/resolve", s.handleResolveIncident)
		})
		r.Route("/dispatches", func(r chi.Router) {
			r.Get("/", s.handleListDispatches)
			r.Post("/retry", s.handleRetryDispatches)
		})
		r.Route("/sources", func(r chi.Router) {
			r.Get("/", s.handleListSources)
			r.Post("/{name}/refresh", s.handleRefreshSource)
		})
	})

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

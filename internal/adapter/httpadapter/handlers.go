package httpadapter

import (
	"errors"
	"net/http"
	"slices"
	"strconv"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/go-chi/chi/v5"

	"github.com/couchcryptid/traffic-alerts-service/internal/dispatch"
	"github.com/couchcryptid/traffic-alerts-service/internal/domain"
)

const (
	defaultSampleLimit = 20
	maxSampleLimit     = 1000
)

type errorResponse struct {
	Error string `json:"error"`
}

type dispatchesResponse struct {
	Records []domain.AlertDispatchRecord `json:"records"`
	Pending []dispatch.Pending           `json:"pending"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	sharedobs.WriteJSON(w, status, errorResponse{Error: msg})
}

func (s *Server) handleLatestTelemetry(w http.ResponseWriter, _ *http.Request) {
	ids := s.api.Telemetry.Sources()
	out := make([]domain.ClassifiedSample, 0, len(ids))
	for _, id := range ids {
		if sample, ok := s.api.Telemetry.Latest(id); ok {
			out = append(out, domain.Classify(sample))
		}
	}
	sharedobs.WriteJSON(w, http.StatusOK, out)
}

func (s *Server) handleSourceTelemetry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "source")

	limit := defaultSampleLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxSampleLimit)
	}

	samples := s.api.Telemetry.Recent(id, limit)
	if len(samples) == 0 {
		writeError(w, http.StatusNotFound, "no telemetry for source "+strconv.Quote(id))
		return
	}
	out := make([]domain.ClassifiedSample, 0, len(samples))
	for _, sample := range samples {
		out = append(out, domain.Classify(sample))
	}
	sharedobs.WriteJSON(w, http.StatusOK, out)
}

func (s *Server) handleListIncidents(w http.ResponseWriter, r *http.Request) {
	var list []domain.IncidentRecord
	switch r.URL.Query().Get("status") {
	case "", "active":
		list = slices.Collect(s.api.Incidents.ListActive())
	case "resolved":
		list = slices.Collect(s.api.Incidents.ListResolved())
	default:
		writeError(w, http.StatusBadRequest, "status must be active or resolved")
		return
	}
	if list == nil {
		list = []domain.IncidentRecord{}
	}
	sharedobs.WriteJSON(w, http.StatusOK, list)
}

func (s *Server) handleResolveIncident(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	_, err := s.api.Resolver.Resolve(r.Context(), id)
	var nf *domain.NotFoundError
	switch {
	case errors.As(err, &nf):
		writeError(w, http.StatusNotFound, err.Error())
	case err != nil:
		s.logger.Error("resolve incident failed", "incident_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "resolve failed")
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleListDispatches(w http.ResponseWriter, r *http.Request) {
	records, err := s.api.Dispatches.Records(r.Context())
	if err != nil {
		s.logger.Error("read dispatch ledger failed", "error", err)
		writeError(w, http.StatusInternalServerError, "read dispatch ledger failed")
		return
	}
	if records == nil {
		records = []domain.AlertDispatchRecord{}
	}
	pending := s.api.Dispatches.Pending()
	if pending == nil {
		pending = []dispatch.Pending{}
	}
	sharedobs.WriteJSON(w, http.StatusOK, dispatchesResponse{Records: records, Pending: pending})
}

func (s *Server) handleRetryDispatches(w http.ResponseWriter, r *http.Request) {
	report := s.api.Retrier.Retry(r.Context())
	sharedobs.WriteJSON(w, http.StatusOK, report)
}

func (s *Server) handleListSources(w http.ResponseWriter, _ *http.Request) {
	sharedobs.WriteJSON(w, http.StatusOK, s.api.Sources.Statuses())
}

func (s *Server) handleRefreshSource(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	err := s.api.Sources.TriggerNow(name)
	switch {
	case errors.Is(err, domain.ErrUnknownSource):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrSourceBusy):
		writeError(w, http.StatusConflict, err.Error())
	case err != nil:
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		sharedobs.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "refresh started"})
	}
}

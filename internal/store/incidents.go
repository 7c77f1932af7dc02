package store

import (
	"iter"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/traffic-alerts-service/internal/domain"
)

// Incidents is the authoritative incident set. An incident moves from Active
// to Resolved once and never back.
type Incidents struct {
	mu      sync.RWMutex
	records map[string]*domain.IncidentRecord
	order   []string
	clock   clockwork.Clock
	logger  *slog.Logger
}

// NewIncidents creates an empty incident store.
func NewIncidents(clock clockwork.Clock, logger *slog.Logger) *Incidents {
	return &Incidents{
		records: make(map[string]*domain.IncidentRecord),
		clock:   clock,
		logger:  logger,
	}
}

// Ingest merges an incident reported by a source and returns the transition
// it caused. Re-ingesting the same data is a no-op that reports Unchanged.
// A new incident's severity is classified on arrival; on later updates a
// missing severity keeps the stored one.
func (s *Incidents) Ingest(rec domain.IncidentRecord) domain.TransitionEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now().UTC()
	stored, ok := s.records[rec.ID]
	if !ok {
		rec.Severity = domain.ClassifySeverity(rec)
		rec.FirstSeen = now
		rec.UpdatedAt = now
		rec.Geo = cloneGeo(rec.Geo)
		s.records[rec.ID] = &rec
		s.order = append(s.order, rec.ID)
		return s.event(domain.TransitionCreated, &rec, now)
	}

	switch {
	case stored.Status == domain.StatusResolved && rec.Status == domain.StatusActive:
		s.logger.Warn("resolved incident reported active again, ignoring update",
			"incident_id", rec.ID)
		return s.event(domain.TransitionUnchanged, stored, now)
	case stored.Status == domain.StatusActive && rec.Status == domain.StatusResolved:
		merge(stored, rec)
		stored.Status = domain.StatusResolved
		stored.UpdatedAt = now
		return s.event(domain.TransitionResolved, stored, now)
	default:
		if merge(stored, rec) {
			stored.UpdatedAt = now
		}
		return s.event(domain.TransitionUnchanged, stored, now)
	}
}

// Resolve marks an Active incident as Resolved on behalf of an operator.
// It returns a *domain.NotFoundError when id is not currently Active.
func (s *Incidents) Resolve(id string) (domain.TransitionEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.records[id]
	if !ok || stored.Status != domain.StatusActive {
		return domain.TransitionEvent{}, &domain.NotFoundError{ID: id}
	}
	now := s.clock.Now().UTC()
	stored.Status = domain.StatusResolved
	stored.UpdatedAt = now
	return s.event(domain.TransitionResolved, stored, now), nil
}

// Get returns a copy of the incident with the given id.
func (s *Incidents) Get(id string) (domain.IncidentRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored, ok := s.records[id]
	if !ok {
		return domain.IncidentRecord{}, false
	}
	return clone(stored), true
}

// ListActive returns a snapshot of the Active incidents in first-seen order.
// The sequence can be ranged over more than once and does not observe later
// mutations.
func (s *Incidents) ListActive() iter.Seq[domain.IncidentRecord] {
	return s.snapshot(domain.StatusActive)
}

// ListResolved returns a snapshot of the Resolved incidents in first-seen order.
func (s *Incidents) ListResolved() iter.Seq[domain.IncidentRecord] {
	return s.snapshot(domain.StatusResolved)
}

// ActiveCount reports how many incidents are currently Active.
func (s *Incidents) ActiveCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, r := range s.records {
		if r.Status == domain.StatusActive {
			n++
		}
	}
	return n
}

func (s *Incidents) snapshot(status domain.IncidentStatus) iter.Seq[domain.IncidentRecord] {
	s.mu.RLock()
	out := make([]domain.IncidentRecord, 0, len(s.order))
	for _, id := range s.order {
		if r := s.records[id]; r.Status == status {
			out = append(out, clone(r))
		}
	}
	s.mu.RUnlock()

	return func(yield func(domain.IncidentRecord) bool) {
		for _, r := range out {
			if !yield(clone(&r)) {
				return
			}
		}
	}
}

func (s *Incidents) event(kind domain.TransitionKind, rec *domain.IncidentRecord, at time.Time) domain.TransitionEvent {
	return domain.TransitionEvent{Kind: kind, IncidentID: rec.ID, Record: clone(rec), At: at}
}

// merge copies descriptive fields from an update into the stored record and
// reports whether anything changed. Status and the store timestamps are left
// to the caller. Empty incoming values never erase known ones, so a poll whose
// geocode lookup failed does not drop coordinates found earlier.
func merge(dst *domain.IncidentRecord, src domain.IncidentRecord) bool {
	changed := false
	if src.Type != dst.Type || src.TypeLabel != dst.TypeLabel {
		dst.Type, dst.TypeLabel = src.Type, src.TypeLabel
		changed = true
	}
	if src.Location != "" && src.Location != dst.Location {
		dst.Location = src.Location
		changed = true
	}
	if src.Geo != nil && (dst.Geo == nil || *src.Geo != *dst.Geo) {
		dst.Geo = cloneGeo(src.Geo)
		changed = true
	}
	if src.Severity != domain.SeverityUnknown && src.Severity != dst.Severity {
		dst.Severity = src.Severity
		changed = true
	}
	if src.ReportedBy != "" && src.ReportedBy != dst.ReportedBy {
		dst.ReportedBy = src.ReportedBy
		changed = true
	}
	return changed
}

func clone(r *domain.IncidentRecord) domain.IncidentRecord {
	c := *r
	c.Geo = cloneGeo(r.Geo)
	return c
}

func cloneGeo(g *domain.Geo) *domain.Geo {
	if g == nil {
		return nil
	}
	c := *g
	return &c
}

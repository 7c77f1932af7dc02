package store

import (
	"context"
	"sync"

	"github.com/couchcryptid/traffic-alerts-service/internal/domain"
)

// MemoryLedger is a process-lifetime dispatch ledger. Append refuses a second
// record for an incident that already has one.
type MemoryLedger struct {
	mu      sync.RWMutex
	records []domain.AlertDispatchRecord
	index   map[string]int
}

// NewMemoryLedger creates an empty ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{index: make(map[string]int)}
}

// Append stores rec and reports true, or reports false if the incident is
// already in the ledger.
func (l *MemoryLedger) Append(_ context.Context, rec domain.AlertDispatchRecord) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.index[rec.IncidentID]; ok {
		return false, nil
	}
	rec.Channels = append([]string(nil), rec.Channels...)
	l.index[rec.IncidentID] = len(l.records)
	l.records = append(l.records, rec)
	return true, nil
}

// Has reports whether an incident has been dispatched.
func (l *MemoryLedger) Has(_ context.Context, incidentID string) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	_, ok := l.index[incidentID]
	return ok, nil
}

// List returns all entries in append order.
func (l *MemoryLedger) List(_ context.Context) ([]domain.AlertDispatchRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]domain.AlertDispatchRecord, len(l.records))
	for i, r := range l.records {
		r.Channels = append([]string(nil), r.Channels...)
		out[i] = r
	}
	return out, nil
}

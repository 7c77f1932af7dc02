package store

import (
	"slices"
	"sync"

	"github.com/couchcryptid/traffic-alerts-service/internal/domain"
)

// DefaultTelemetryHistory is the per-source sample capacity used when none is given.
const DefaultTelemetryHistory = 100

// Telemetry keeps the most recent samples per source ID. Samples are stored
// by value; congestion is derived on read.
type Telemetry struct {
	mu       sync.RWMutex
	capacity int
	rings    map[string]*ring
}

// NewTelemetry creates a store that retains up to capacity samples per source.
func NewTelemetry(capacity int) *Telemetry {
	if capacity <= 0 {
		capacity = DefaultTelemetryHistory
	}
	return &Telemetry{capacity: capacity, rings: make(map[string]*ring)}
}

// Append adds samples in order. Once a source is at capacity its oldest
// sample is evicted.
func (t *Telemetry) Append(samples ...domain.TelemetrySample) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, s := range samples {
		r, ok := t.rings[s.SourceID]
		if !ok {
			r = &ring{buf: make([]domain.TelemetrySample, 0, t.capacity)}
			t.rings[s.SourceID] = r
		}
		r.push(s)
	}
}

// Latest returns the newest sample for a source.
func (t *Telemetry) Latest(sourceID string) (domain.TelemetrySample, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	r, ok := t.rings[sourceID]
	if !ok || len(r.buf) == 0 {
		return domain.TelemetrySample{}, false
	}
	return r.last(), true
}

// Recent returns up to n samples for a source, oldest first. n <= 0 returns
// everything retained.
func (t *Telemetry) Recent(sourceID string, n int) []domain.TelemetrySample {
	t.mu.RLock()
	defer t.mu.RUnlock()

	r, ok := t.rings[sourceID]
	if !ok {
		return nil
	}
	all := r.ordered()
	if n > 0 && n < len(all) {
		all = all[len(all)-n:]
	}
	return all
}

// Sources lists the source IDs with at least one sample, sorted.
func (t *Telemetry) Sources() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	ids := make([]string, 0, len(t.rings))
	for id := range t.rings {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// ring is a fixed-capacity circular buffer. next is the slot the following
// push overwrites once the buffer is full.
type ring struct {
	buf  []domain.TelemetrySample
	next int
}

func (r *ring) push(s domain.TelemetrySample) {
	if len(r.buf) < cap(r.buf) {
		r.buf = append(r.buf, s)
		return
	}
	r.buf[r.next] = s
	r.next = (r.next + 1) % len(r.buf)
}

func (r *ring) last() domain.TelemetrySample {
	if len(r.buf) < cap(r.buf) || r.next == 0 {
		return r.buf[len(r.buf)-1]
	}
	return r.buf[r.next-1]
}

func (r *ring) ordered() []domain.TelemetrySample {
	out := make([]domain.TelemetrySample, 0, len(r.buf))
	out = append(out, r.buf[r.next:]...)
	return append(out, r.buf[:r.next]...)
}

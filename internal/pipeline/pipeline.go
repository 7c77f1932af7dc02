// Package pipeline runs the poll cycle: fetch a snapshot, normalize it,
// classify and store the records, dispatch on qualifying transitions and
// publish what changed.
package pipeline

import (
	"context"

	"github.com/couchcryptid/traffic-alerts-service/internal/domain"
)

// Fetcher reads one raw snapshot from a source.
type Fetcher interface {
	FetchSnapshot(ctx context.Context, src domain.Source) (domain.RawPayload, error)
}

// TelemetryStore retains normalized samples.
type TelemetryStore interface {
	Append(samples ...domain.TelemetrySample)
}

// IncidentStore applies incident transitions.
type IncidentStore interface {
	Ingest(rec domain.IncidentRecord) domain.TransitionEvent
	Resolve(id string) (domain.TransitionEvent, error)
	ActiveCount() int
}

// Dispatcher acts on incident transitions.
type Dispatcher interface {
	Evaluate(ctx context.Context, ev domain.TransitionEvent) (*domain.AlertDispatchRecord, error)
}

// EventSink receives the transitions and dispatch records a cycle produced.
// A nil sink is allowed.
type EventSink interface {
	PublishTransitions(ctx context.Context, events []domain.TransitionEvent) error
	PublishDispatches(ctx context.Context, records []domain.AlertDispatchRecord) error
}

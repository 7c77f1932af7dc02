package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/couchcryptid/traffic-alerts-service/internal/domain"
	"github.com/couchcryptid/traffic-alerts-service/internal/observability"
)

// Batch is a normalized snapshot waiting to be applied. Seq orders batches
// from the same source.
type Batch struct {
	Source    domain.Source
	Seq       uint64
	FetchedAt time.Time
	Samples   []domain.TelemetrySample
	Incidents []domain.IncidentRecord
	Errors    []domain.ValidationError
}

// CycleReport summarizes what applying a batch did.
type CycleReport struct {
	Source           string
	Seq              uint64
	Samples          int
	Transitions      []domain.TransitionEvent
	Unchanged        int
	Dropped          int
	Dispatched       []domain.AlertDispatchRecord
	DispatchFailures []error
}

// Processor turns raw payloads into store updates. Prepare does the I/O
// (geocoding); Apply only touches in-memory state and the dispatcher.
type Processor struct {
	telemetry  TelemetryStore
	incidents  IncidentStore
	dispatcher Dispatcher
	geocoder   domain.Geocoder
	sink       EventSink
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewProcessor wires a processor. geocoder and sink may be nil.
func NewProcessor(
	telemetry TelemetryStore,
	incidents IncidentStore,
	dispatcher Dispatcher,
	geocoder domain.Geocoder,
	sink EventSink,
	metrics *observability.Metrics,
	logger *slog.Logger,
) *Processor {
	return &Processor{
		telemetry:  telemetry,
		incidents:  incidents,
		dispatcher: dispatcher,
		geocoder:   geocoder,
		sink:       sink,
		metrics:    metrics,
		logger:     logger,
	}
}

// Prepare normalizes a payload and geocodes its incidents. Dropped records
// are logged and counted; they never abort the batch.
func (p *Processor) Prepare(ctx context.Context, src domain.Source, payload domain.RawPayload) Batch {
	res := domain.Normalize(payload)
	kind := string(src.Kind)

	for _, verr := range res.Errors {
		p.logger.Warn("record dropped",
			"source", src.Name, "index", verr.Index, "field", verr.Field, "reason", verr.Reason)
	}
	p.metrics.ValidationErrors.WithLabelValues(kind).Add(float64(len(res.Errors)))
	p.metrics.RecordsNormalized.WithLabelValues(kind).Add(float64(len(res.Samples) + len(res.Incidents)))

	for i := range res.Incidents {
		res.Incidents[i] = domain.EnrichIncidentLocation(ctx, res.Incidents[i], p.geocoder, p.logger)
	}

	return Batch{
		Source:    src,
		FetchedAt: payload.FetchedAt,
		Samples:   res.Samples,
		Incidents: res.Incidents,
		Errors:    res.Errors,
	}
}

// Apply commits a batch: samples are appended, incidents ingested, each
// transition handed to the dispatcher, and the results published. A dispatch
// failure is reported but does not undo the transition that caused it.
func (p *Processor) Apply(ctx context.Context, b Batch) CycleReport {
	report := CycleReport{
		Source:  b.Source.Name,
		Seq:     b.Seq,
		Samples: len(b.Samples),
		Dropped: len(b.Errors),
	}

	if len(b.Samples) > 0 {
		p.telemetry.Append(b.Samples...)
	}

	for _, rec := range b.Incidents {
		ev := p.incidents.Ingest(rec)
		if ev.Kind == domain.TransitionUnchanged {
			report.Unchanged++
			continue
		}
		report.Transitions = append(report.Transitions, ev)
		p.metrics.IncidentTransitions.WithLabelValues(ev.Kind.String()).Inc()
		p.logger.Info("incident transition",
			"source", b.Source.Name, "incident_id", ev.IncidentID, "event", ev.Kind.String(),
			"type", string(ev.Record.Type), "severity", ev.Record.Severity.String())

		dispatched, err := p.dispatcher.Evaluate(ctx, ev)
		if err != nil {
			report.DispatchFailures = append(report.DispatchFailures, err)
			continue
		}
		if dispatched != nil {
			report.Dispatched = append(report.Dispatched, *dispatched)
		}
	}
	p.metrics.ActiveIncidents.Set(float64(p.incidents.ActiveCount()))

	p.publish(ctx, report.Transitions, report.Dispatched)
	return report
}

// Resolve applies an operator resolution and publishes the transition.
func (p *Processor) Resolve(ctx context.Context, id string) (domain.TransitionEvent, error) {
	ev, err := p.incidents.Resolve(id)
	if err != nil {
		return domain.TransitionEvent{}, err
	}
	p.metrics.IncidentTransitions.WithLabelValues(ev.Kind.String()).Inc()
	p.metrics.ActiveIncidents.Set(float64(p.incidents.ActiveCount()))
	p.logger.Info("incident resolved by operator", "incident_id", id)
	p.publish(ctx, []domain.TransitionEvent{ev}, nil)
	return ev, nil
}

// PublishDispatches forwards dispatch records produced outside a cycle, such
// as by a retry sweep.
func (p *Processor) PublishDispatches(ctx context.Context, records []domain.AlertDispatchRecord) {
	p.publish(ctx, nil, records)
}

func (p *Processor) publish(ctx context.Context, events []domain.TransitionEvent, records []domain.AlertDispatchRecord) {
	if p.sink == nil {
		return
	}
	if len(events) > 0 {
		if err := p.sink.PublishTransitions(ctx, events); err != nil {
			p.metrics.PublishErrors.Inc()
			p.logger.Error("publish transitions failed", "count", len(events), "error", err)
		} else {
			p.metrics.EventsPublished.Add(float64(len(events)))
		}
	}
	if len(records) > 0 {
		if err := p.sink.PublishDispatches(ctx, records); err != nil {
			p.metrics.PublishErrors.Inc()
			p.logger.Error("publish dispatches failed", "count", len(records), "error", err)
		} else {
			p.metrics.EventsPublished.Add(float64(len(records)))
		}
	}
}

package pipeline

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/traffic-alerts-service/internal/dispatch"
	"github.com/couchcryptid/traffic-alerts-service/internal/domain"
	"github.com/couchcryptid/traffic-alerts-service/internal/observability"
	"github.com/couchcryptid/traffic-alerts-service/internal/store"
)

var testNow = time.Date(2024, 4, 26, 15, 0, 0, 0, time.UTC)

const (
	highTrafficSample = `{"camera_id":"CAM101","timestamp":1714143000,"car_count":40,"motorcycle_count":15,"bus_count":3,"truck_count":2}`
	accidentA1        = `[{"id":"A1","type":"Accident","severity":"High","status":"Active","location":"Highway 1"}]`
)

var (
	telemetrySource = domain.Source{Name: "cams", Kind: domain.SourceTelemetry, URL: "http://cams.test", Interval: 5 * time.Second, Timeout: time.Second}
	incidentSource  = domain.Source{Name: "incidents", Kind: domain.SourceIncidents, URL: "http://incidents.test", Interval: 5 * time.Second, Timeout: time.Second}
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func payload(src domain.Source, body string) domain.RawPayload {
	return domain.RawPayload{Source: src.Name, Kind: src.Kind, Body: []byte(body), FetchedAt: testNow}
}

// --- collaborators ---

type recordingNotifier struct {
	mu      sync.Mutex
	err     error
	notices []domain.DispatchNotice
}

func (n *recordingNotifier) Name() string { return "recording" }

func (n *recordingNotifier) Notify(_ context.Context, notice domain.DispatchNotice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.notices = append(n.notices, notice)
	return nil
}

type recordingSink struct {
	mu          sync.Mutex
	err         error
	transitions []domain.TransitionEvent
	dispatches  []domain.AlertDispatchRecord
}

func (s *recordingSink) PublishTransitions(_ context.Context, events []domain.TransitionEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.transitions = append(s.transitions, events...)
	return nil
}

func (s *recordingSink) PublishDispatches(_ context.Context, records []domain.AlertDispatchRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.dispatches = append(s.dispatches, records...)
	return nil
}

type fixture struct {
	clock      *clockwork.FakeClock
	metrics    *observability.Metrics
	telemetry  *store.Telemetry
	incidents  *store.Incidents
	ledger     *store.MemoryLedger
	notifier   *recordingNotifier
	sink       *recordingSink
	dispatcher *dispatch.Dispatcher
	processor  *Processor
}

func newFixture() *fixture {
	f := &fixture{
		clock:     clockwork.NewFakeClockAt(testNow),
		metrics:   observability.NewMetricsForTesting(),
		telemetry: store.NewTelemetry(10),
		ledger:    store.NewMemoryLedger(),
		notifier:  &recordingNotifier{},
		sink:      &recordingSink{},
	}
	f.incidents = store.NewIncidents(f.clock, discardLogger())
	f.dispatcher = dispatch.New(dispatch.NewFanout(discardLogger(), f.notifier), f.ledger, f.clock, f.metrics, discardLogger())
	f.processor = NewProcessor(f.telemetry, f.incidents, f.dispatcher, nil, f.sink, f.metrics, discardLogger())
	return f
}

func (f *fixture) ledgerIncidentIDs() []string {
	recs, _ := f.ledger.List(context.Background())
	ids := make([]string, 0, len(recs))
	for _, r := range recs {
		ids = append(ids, r.IncidentID)
	}
	return ids
}

func activeIDs(inc *store.Incidents) []string {
	var ids []string
	for r := range inc.ListActive() {
		ids = append(ids, r.ID)
	}
	return ids
}

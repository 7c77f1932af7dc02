package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/couchcryptid/traffic-alerts-service/internal/domain"
	"github.com/couchcryptid/traffic-alerts-service/internal/observability"
)

// maxReportedErrors bounds the validation errors kept in a source status.
const maxReportedErrors = 20

// SourceState tells an operator what the last cycle of a source did.
type SourceState string

const (
	// StatePending means no cycle has completed yet.
	StatePending SourceState = "pending"
	// StateOK means the last cycle applied every record.
	StateOK SourceState = "ok"
	// StatePartial means the last cycle applied but dropped some records.
	StatePartial SourceState = "partial"
	// StateFetchFailed means the last fetch failed; earlier data is still served.
	StateFetchFailed SourceState = "fetch_failed"
)

// SourceStatus is the per-source view exposed to operators.
type SourceStatus struct {
	Name        string                   `json:"name"`
	Kind        domain.SourceKind        `json:"kind"`
	URL         string                   `json:"url"`
	Interval    string                   `json:"interval"`
	State       SourceState              `json:"state"`
	Busy        bool                     `json:"busy"`
	LastSeq     uint64                   `json:"last_seq"`
	LastAttempt time.Time                `json:"last_attempt,omitzero"`
	LastSuccess time.Time                `json:"last_success,omitzero"`
	LastError   string                   `json:"last_error,omitempty"`
	ErrorKind   domain.FetchErrorKind    `json:"error_kind,omitempty"`
	Dropped     int                      `json:"dropped"`
	Errors      []domain.ValidationError `json:"errors,omitempty"`
	Skipped     uint64                   `json:"skipped"`
}

type sourceState struct {
	src     domain.Source
	busy    atomic.Bool
	seq     atomic.Uint64
	skipped atomic.Uint64

	mu      sync.Mutex // serializes commits and guards applied and status
	applied uint64
	status  SourceStatus
}

// Scheduler polls each source on its own interval. A source never has two
// cycles in flight; a tick that arrives while one is running is skipped.
type Scheduler struct {
	fetcher   Fetcher
	processor *Processor
	clock     clockwork.Clock
	metrics   *observability.Metrics
	logger    *slog.Logger

	sources []*sourceState
	byName  map[string]*sourceState

	mu      sync.RWMutex // guards started, stopped transitions and cycles.Add
	started bool
	stopped atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	group   *errgroup.Group
	cycles  sync.WaitGroup

	ready    atomic.Bool
	stopOnce sync.Once
}

// NewScheduler creates a scheduler for the given sources.
func NewScheduler(sources []domain.Source, fetcher Fetcher, processor *Processor, clock clockwork.Clock, metrics *observability.Metrics, logger *slog.Logger) *Scheduler {
	s := &Scheduler{
		fetcher:   fetcher,
		processor: processor,
		clock:     clock,
		metrics:   metrics,
		logger:    logger,
		byName:    make(map[string]*sourceState, len(sources)),
	}
	for _, src := range sources {
		st := &sourceState{src: src}
		st.status = SourceStatus{
			Name:     src.Name,
			Kind:     src.Kind,
			URL:      src.URL,
			Interval: src.Interval.String(),
			State:    StatePending,
		}
		s.sources = append(s.sources, st)
		s.byName[src.Name] = st
	}
	return s
}

// Start launches one polling loop per source. Each loop runs a cycle
// immediately and then once per interval until Stop is called or ctx ends.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped.Load() {
		return errors.New("scheduler stopped")
	}
	if s.started {
		return errors.New("scheduler already started")
	}
	s.started = true
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.group, s.ctx = errgroup.WithContext(runCtx)

	for _, st := range s.sources {
		s.group.Go(func() error {
			s.loop(s.ctx, st)
			return nil
		})
	}

	s.metrics.SchedulerRunning.Set(1)
	s.logger.Info("scheduler started", "sources", len(s.sources))
	return nil
}

// Stop cancels in-flight fetches, waits for every loop and cycle to exit and
// guarantees nothing is committed afterwards. It is safe to call more than once.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopped.Store(true)
		cancel, group := s.cancel, s.group
		s.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		if group != nil {
			_ = group.Wait()
		}
		s.cycles.Wait()

		s.metrics.SchedulerRunning.Set(0)
		s.logger.Info("scheduler stopped")
	})
}

// TriggerNow starts a cycle for the named source outside its schedule. It
// returns domain.ErrUnknownSource for an unconfigured name and
// domain.ErrSourceBusy when a cycle is already in flight.
func (s *Scheduler) TriggerNow(name string) error {
	st, ok := s.byName[name]
	if !ok {
		return fmt.Errorf("%w: %q", domain.ErrUnknownSource, name)
	}
	s.mu.RLock()
	ctx, running := s.ctx, s.started && !s.stopped.Load()
	s.mu.RUnlock()
	if !running {
		return errors.New("scheduler is not running")
	}
	return s.trigger(ctx, st)
}

// Statuses reports every source in configuration order.
func (s *Scheduler) Statuses() []SourceStatus {
	out := make([]SourceStatus, 0, len(s.sources))
	for _, st := range s.sources {
		st.mu.Lock()
		status := st.status
		status.Errors = append([]domain.ValidationError(nil), st.status.Errors...)
		st.mu.Unlock()
		status.Busy = st.busy.Load()
		status.Skipped = st.skipped.Load()
		out = append(out, status)
	}
	return out
}

// CheckReadiness returns nil once any source has completed a cycle.
func (s *Scheduler) CheckReadiness(_ context.Context) error {
	if !s.ready.Load() {
		return errors.New("no poll cycle has completed yet")
	}
	return nil
}

func (s *Scheduler) loop(ctx context.Context, st *sourceState) {
	ticker := s.clock.NewTicker(st.src.Interval)
	defer ticker.Stop()

	_ = s.trigger(ctx, st)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			_ = s.trigger(ctx, st)
		}
	}
}

// trigger claims the source's busy flag and runs a cycle in the background.
func (s *Scheduler) trigger(ctx context.Context, st *sourceState) error {
	if !st.busy.CompareAndSwap(false, true) {
		st.skipped.Add(1)
		s.metrics.CyclesSkipped.WithLabelValues(st.src.Name).Inc()
		s.logger.Debug("cycle skipped, previous still in flight", "source", st.src.Name)
		return domain.ErrSourceBusy
	}

	s.mu.RLock()
	if s.stopped.Load() {
		s.mu.RUnlock()
		st.busy.Store(false)
		return errors.New("scheduler stopped")
	}
	s.cycles.Add(1)
	s.mu.RUnlock()

	seq := st.seq.Add(1)
	go func() {
		defer s.cycles.Done()
		defer st.busy.Store(false)
		s.runCycle(ctx, st, seq)
	}()
	return nil
}

func (s *Scheduler) runCycle(ctx context.Context, st *sourceState, seq uint64) {
	start := s.clock.Now()
	payload, err := s.fetcher.FetchSnapshot(ctx, st.src)
	if err != nil {
		s.recordFetchFailure(st, seq, start, err)
		return
	}

	batch := s.processor.Prepare(ctx, st.src, payload)
	batch.Seq = seq
	if report, ok := s.commit(ctx, st, batch); ok {
		s.metrics.CycleDuration.WithLabelValues(st.src.Name).Observe(s.clock.Since(start).Seconds())
		s.logger.Info("cycle applied",
			"source", st.src.Name,
			"cycle", seq,
			"samples", report.Samples,
			"transitions", len(report.Transitions),
			"dropped", report.Dropped,
			"dispatched", len(report.Dispatched),
			"dispatch_failures", len(report.DispatchFailures),
		)
	}
}

// commit applies a batch unless the scheduler has stopped or a newer batch
// from the same source was already applied.
func (s *Scheduler) commit(ctx context.Context, st *sourceState, b Batch) (CycleReport, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if s.stopped.Load() {
		s.metrics.CyclesTotal.WithLabelValues(st.src.Name, "stopped").Inc()
		s.logger.Debug("scheduler stopped, discarding snapshot", "source", st.src.Name, "cycle", b.Seq)
		return CycleReport{}, false
	}
	if b.Seq <= st.applied {
		s.metrics.CyclesTotal.WithLabelValues(st.src.Name, "stale").Inc()
		s.logger.Warn("discarding stale snapshot",
			"source", st.src.Name, "cycle", b.Seq, "applied", st.applied)
		return CycleReport{}, false
	}

	report := s.processor.Apply(ctx, b)
	st.applied = b.Seq

	now := s.clock.Now().UTC()
	state := StateOK
	if len(b.Errors) > 0 {
		state = StatePartial
	}
	errs := b.Errors
	if len(errs) > maxReportedErrors {
		errs = errs[:maxReportedErrors]
	}
	st.status.State = state
	st.status.LastSeq = b.Seq
	st.status.LastAttempt = now
	st.status.LastSuccess = now
	st.status.LastError = ""
	st.status.ErrorKind = ""
	st.status.Dropped = len(b.Errors)
	st.status.Errors = append([]domain.ValidationError(nil), errs...)

	s.ready.Store(true)
	s.metrics.CyclesTotal.WithLabelValues(st.src.Name, string(state)).Inc()
	return report, true
}

func (s *Scheduler) recordFetchFailure(st *sourceState, seq uint64, start time.Time, err error) {
	if s.stopped.Load() {
		return
	}
	var fe *domain.FetchError
	kind := domain.FetchUnreachable
	if errors.As(err, &fe) {
		kind = fe.Kind
	}
	s.metrics.FetchErrors.WithLabelValues(st.src.Name, string(kind)).Inc()
	s.metrics.CyclesTotal.WithLabelValues(st.src.Name, string(StateFetchFailed)).Inc()
	s.logger.Error("fetch failed", "source", st.src.Name, "cycle", seq, "kind", string(kind), "error", err)

	st.mu.Lock()
	defer st.mu.Unlock()
	if seq <= st.applied {
		return
	}
	st.status.State = StateFetchFailed
	st.status.LastSeq = seq
	st.status.LastAttempt = start.UTC()
	st.status.LastError = err.Error()
	st.status.ErrorKind = kind
}

// Package dispatch triggers emergency notifications for qualifying incidents
// and keeps the ledger that makes each notification happen at most once.
package dispatch

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"

	"github.com/couchcryptid/traffic-alerts-service/internal/domain"
	"github.com/couchcryptid/traffic-alerts-service/internal/observability"
)

// Ledger is the append-only dispatch record store. Append reports false when
// the incident already has an entry.
type Ledger interface {
	Append(ctx context.Context, rec domain.AlertDispatchRecord) (bool, error)
	Has(ctx context.Context, incidentID string) (bool, error)
	List(ctx context.Context) ([]domain.AlertDispatchRecord, error)
}

// IncidentLookup lets a retry see the incident's current state.
type IncidentLookup interface {
	Get(id string) (domain.IncidentRecord, bool)
}

// Pending is a qualifying incident whose notification has not gone out yet.
type Pending struct {
	IncidentID  string                `json:"incident_id"`
	Record      domain.IncidentRecord `json:"record"`
	Attempts    int                   `json:"attempts"`
	LastError   string                `json:"last_error"`
	FirstFailed time.Time             `json:"first_failed"`
	LastAttempt time.Time             `json:"last_attempt"`
}

// RetryReport summarizes one pass over the pending set.
type RetryReport struct {
	Attempted  int `json:"attempted"`
	Dispatched int `json:"dispatched"`
	Failed     int `json:"failed"`
	Dropped    int `json:"dropped"`

	Records []domain.AlertDispatchRecord `json:"records,omitempty"`
}

// defaultNotifyTimeout bounds one notification attempt across all channels.
const defaultNotifyTimeout = 10 * time.Second

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithRateLimit caps notifications per minute. Attempts over the cap fail with
// domain.ErrRateLimited and stay pending. perMinute <= 0 disables the cap.
func WithRateLimit(perMinute int) Option {
	return func(d *Dispatcher) {
		if perMinute <= 0 {
			d.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		d.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute)
	}
}

// WithNotifyTimeout bounds how long one attempt may wait on the notification
// channels. A channel still running at the deadline counts as failed.
func WithNotifyTimeout(d time.Duration) Option {
	return func(disp *Dispatcher) {
		if d > 0 {
			disp.timeout = d
		}
	}
}

// WithIncidentLookup lets Retry drop pending incidents that no longer qualify,
// for example because an operator resolved them.
func WithIncidentLookup(l IncidentLookup) Option {
	return func(d *Dispatcher) { d.incidents = l }
}

// Dispatcher evaluates transitions against the dispatch predicate.
type Dispatcher struct {
	channels  *Fanout
	ledger    Ledger
	incidents IncidentLookup
	limiter   *rate.Limiter
	timeout   time.Duration
	clock     clockwork.Clock
	metrics   *observability.Metrics
	logger    *slog.Logger
	newID     func() string

	mu       sync.Mutex
	pending  map[string]*Pending
	inflight map[string]struct{}
}

// New creates a Dispatcher. The rate limit is unbounded unless WithRateLimit
// is given, and each attempt is bounded by defaultNotifyTimeout unless
// WithNotifyTimeout overrides it.
func New(channels *Fanout, ledger Ledger, clock clockwork.Clock, metrics *observability.Metrics, logger *slog.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		channels: channels,
		ledger:   ledger,
		limiter:  rate.NewLimiter(rate.Inf, 0),
		timeout:  defaultNotifyTimeout,
		clock:    clock,
		metrics:  metrics,
		logger:   logger,
		newID:    uuid.NewString,
		pending:  make(map[string]*Pending),
		inflight: make(map[string]struct{}),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Evaluate dispatches for a Created transition of an Active, High severity
// Accident. It returns the new ledger record, nil when nothing was dispatched,
// or a *domain.DispatchFailure when notification failed. A failure leaves
// the incident pending for Retry and never touches the incident store.
func (d *Dispatcher) Evaluate(ctx context.Context, ev domain.TransitionEvent) (*domain.AlertDispatchRecord, error) {
	if ev.Kind != domain.TransitionCreated || !domain.QualifiesForDispatch(ev.Record) {
		return nil, nil
	}
	return d.attempt(ctx, ev.Record)
}

// Retry re-attempts every pending dispatch. The ledger is consulted before
// each attempt, so an incident is never notified twice.
func (d *Dispatcher) Retry(ctx context.Context) RetryReport {
	var report RetryReport
	for _, p := range d.Pending() {
		if ctx.Err() != nil {
			break
		}
		rec := p.Record
		if d.incidents != nil {
			current, ok := d.incidents.Get(p.IncidentID)
			if !ok || !domain.QualifiesForDispatch(current) {
				d.logger.Info("pending dispatch no longer qualifies, dropping", "incident_id", p.IncidentID)
				d.dropPending(p.IncidentID)
				report.Dropped++
				continue
			}
			rec = current
		}

		report.Attempted++
		out, err := d.attempt(ctx, rec)
		switch {
		case err != nil:
			report.Failed++
		case out != nil:
			report.Dispatched++
			report.Records = append(report.Records, *out)
		}
	}
	return report
}

// Pending returns the pending dispatches ordered by first failure.
func (d *Dispatcher) Pending() []Pending {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]Pending, 0, len(d.pending))
	for _, p := range d.pending {
		out = append(out, *p)
	}
	slices.SortFunc(out, func(a, b Pending) int {
		if c := a.FirstFailed.Compare(b.FirstFailed); c != 0 {
			return c
		}
		return cmp.Compare(a.IncidentID, b.IncidentID)
	})
	return out
}

// Records returns the dispatch ledger.
func (d *Dispatcher) Records(ctx context.Context) ([]domain.AlertDispatchRecord, error) {
	return d.ledger.List(ctx)
}

func (d *Dispatcher) attempt(ctx context.Context, rec domain.IncidentRecord) (*domain.AlertDispatchRecord, error) {
	if !d.acquire(rec.ID) {
		d.logger.Debug("dispatch already in flight", "incident_id", rec.ID)
		return nil, nil
	}
	defer d.release(rec.ID)

	done, err := d.ledger.Has(ctx, rec.ID)
	if err != nil {
		return nil, d.fail(rec, fmt.Errorf("check ledger: %w", err))
	}
	if done {
		d.dropPending(rec.ID)
		return nil, nil
	}

	if !d.limiter.Allow() {
		d.metrics.Dispatches.WithLabelValues("rate_limited").Inc()
		return nil, d.fail(rec, domain.ErrRateLimited)
	}

	now := d.clock.Now().UTC()
	notice := domain.NewDispatchNotice(rec, domain.ActionAmbulance, now)
	notifyCtx, cancel := context.WithTimeout(ctx, d.timeout)
	channels, err := d.channels.Deliver(notifyCtx, notice)
	cancel()
	if err != nil {
		d.metrics.Dispatches.WithLabelValues("failed").Inc()
		return nil, d.fail(rec, err)
	}

	entry := domain.AlertDispatchRecord{
		ID:           d.newID(),
		IncidentID:   rec.ID,
		DispatchedAt: now,
		Action:       domain.ActionAmbulance,
		Channels:     channels,
	}
	d.dropPending(rec.ID)
	added, err := d.ledger.Append(ctx, entry)
	if err != nil {
		// The notification went out; queueing it again would notify twice.
		d.logger.Error("dispatch sent but ledger append failed",
			"incident_id", rec.ID, "dispatch_id", entry.ID, "error", err)
		return nil, &domain.DispatchFailure{IncidentID: rec.ID, Err: fmt.Errorf("append ledger: %w", err)}
	}
	if !added {
		return nil, nil
	}

	d.metrics.Dispatches.WithLabelValues("success").Inc()
	d.logger.Info("dispatch recorded",
		"incident_id", rec.ID, "dispatch_id", entry.ID, "channels", channels)
	return &entry, nil
}

func (d *Dispatcher) fail(rec domain.IncidentRecord, cause error) error {
	now := d.clock.Now().UTC()

	d.mu.Lock()
	p, ok := d.pending[rec.ID]
	if !ok {
		p = &Pending{IncidentID: rec.ID, FirstFailed: now}
		d.pending[rec.ID] = p
	}
	p.Record = rec
	p.Attempts++
	p.LastError = cause.Error()
	p.LastAttempt = now
	attempts := p.Attempts
	d.metrics.DispatchPending.Set(float64(len(d.pending)))
	d.mu.Unlock()

	level := slog.LevelWarn
	if errors.Is(cause, domain.ErrRateLimited) {
		level = slog.LevelInfo
	}
	d.logger.Log(context.Background(), level, "dispatch failed, pending retry",
		"incident_id", rec.ID, "attempts", attempts, "error", cause)
	return &domain.DispatchFailure{IncidentID: rec.ID, Err: cause}
}

func (d *Dispatcher) dropPending(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.pending, id)
	d.metrics.DispatchPending.Set(float64(len(d.pending)))
}

func (d *Dispatcher) acquire(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, busy := d.inflight[id]; busy {
		return false
	}
	d.inflight[id] = struct{}{}
	return true
}

func (d *Dispatcher) release(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.inflight, id)
}

package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/couchcryptid/traffic-alerts-service/internal/domain"
)

// DefaultRetrySchedule sweeps the pending set twice a minute.
const DefaultRetrySchedule = "@every 30s"

// RetryScheduler runs Dispatcher.Retry on a cron schedule.
type RetryScheduler struct {
	cron       *cron.Cron
	dispatcher *Dispatcher
	timeout    time.Duration
	logger     *slog.Logger
	onDispatch func(context.Context, []domain.AlertDispatchRecord)
}

// NewRetryScheduler parses schedule (standard 5-field cron or a descriptor such
// as "@every 30s") and registers the sweep. Each sweep is bounded by timeout.
func NewRetryScheduler(schedule string, d *Dispatcher, timeout time.Duration, logger *slog.Logger) (*RetryScheduler, error) {
	s := &RetryScheduler{
		cron:       cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		dispatcher: d,
		timeout:    timeout,
		logger:     logger,
	}
	if _, err := s.cron.AddFunc(schedule, s.sweep); err != nil {
		return nil, fmt.Errorf("parse retry schedule %q: %w", schedule, err)
	}
	return s, nil
}

// OnDispatched registers fn to receive the records a sweep produced.
func (s *RetryScheduler) OnDispatched(fn func(context.Context, []domain.AlertDispatchRecord)) {
	s.onDispatch = fn
}

// Start begins running sweeps in the background.
func (s *RetryScheduler) Start() {
	s.logger.Info("dispatch retry scheduler started")
	s.cron.Start()
}

// Stop prevents further sweeps and waits for a running one to finish or for
// ctx to expire.
func (s *RetryScheduler) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
		s.logger.Warn("dispatch retry sweep still running at shutdown")
	}
}

func (s *RetryScheduler) sweep() {
	if len(s.dispatcher.Pending()) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	report := s.dispatcher.Retry(ctx)
	if len(report.Records) > 0 && s.onDispatch != nil {
		s.onDispatch(ctx, report.Records)
	}
	s.logger.Info("dispatch retry sweep",
		"attempted", report.Attempted,
		"dispatched", report.Dispatched,
		"failed", report.Failed,
		"dropped", report.Dropped,
	)
}

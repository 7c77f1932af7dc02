package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/couchcryptid/traffic-alerts-service/internal/domain"
)

// Notifier delivers a dispatch notice over one channel.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, notice domain.DispatchNotice) error
}

// Fanout delivers a notice to every configured channel. A delivery succeeds
// when at least one channel accepts it.
type Fanout struct {
	notifiers []Notifier
	logger    *slog.Logger
}

// NewFanout creates a fanout over the given channels. With no channels it
// falls back to a LogNotifier.
func NewFanout(logger *slog.Logger, notifiers ...Notifier) *Fanout {
	if len(notifiers) == 0 {
		notifiers = []Notifier{NewLogNotifier(logger)}
	}
	return &Fanout{notifiers: notifiers, logger: logger}
}

// Channels returns the configured channel names.
func (f *Fanout) Channels() []string {
	names := make([]string, len(f.notifiers))
	for i, n := range f.notifiers {
		names[i] = n.Name()
	}
	return names
}

// Deliver sends the notice on each channel in turn and returns the names of
// the channels that accepted it. The error is non-nil only when every channel
// failed. A channel that has not returned when ctx ends counts as failed.
func (f *Fanout) Deliver(ctx context.Context, notice domain.DispatchNotice) ([]string, error) {
	var delivered []string
	var errs []error
	for _, n := range f.notifiers {
		if err := notify(ctx, n, notice); err != nil {
			f.logger.Warn("dispatch channel failed",
				"channel", n.Name(), "incident_id", notice.IncidentID, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", n.Name(), err))
			continue
		}
		delivered = append(delivered, n.Name())
	}
	if len(delivered) == 0 {
		return nil, errors.Join(errs...)
	}
	return delivered, nil
}

// notify runs one channel and stops waiting for it once ctx ends. A channel
// that ignores ctx keeps running in the background until it returns.
func notify(ctx context.Context, n Notifier, notice domain.DispatchNotice) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	done := make(chan error, 1)
	go func() { done <- n.Notify(ctx, notice) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LogNotifier records the dispatch action in the service log. It is the
// channel of last resort when nothing else is configured.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Name() string { return "log" }

func (n *LogNotifier) Notify(_ context.Context, notice domain.DispatchNotice) error {
	n.logger.Warn("emergency dispatch",
		"action", notice.Action,
		"incident_id", notice.IncidentID,
		"severity", notice.Severity.String(),
		"location", notice.Location,
		"summary", notice.Summary(),
	)
	return nil
}

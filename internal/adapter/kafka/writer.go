package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/traffic-alerts-service/internal/config"
	"github.com/couchcryptid/traffic-alerts-service/internal/domain"
)

// Event types carried in the event_type header.
const (
	EventIncidentCreated  = "incident.created"
	EventIncidentResolved = "incident.resolved"
	EventDispatchRecorded = "dispatch.recorded"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Publisher produces incident transitions and dispatch records to a Kafka
// topic. It implements pipeline.EventSink.
type Publisher struct {
	writer messageWriter
	logger *slog.Logger
}

// NewPublisher creates a Kafka producer for the configured event topic.
func NewPublisher(cfg *config.Config, logger *slog.Logger) *Publisher {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Publisher{writer: w, logger: logger}
}

// PublishTransitions writes Created and Resolved events in a single
// WriteMessages call. Unchanged events are skipped. Messages are keyed by
// incident ID so one incident's events stay on one partition in order.
func (p *Publisher) PublishTransitions(ctx context.Context, events []domain.TransitionEvent) error {
	msgs := make([]kafkago.Message, 0, len(events))
	for _, ev := range events {
		var eventType string
		switch ev.Kind {
		case domain.TransitionCreated:
			eventType = EventIncidentCreated
		case domain.TransitionResolved:
			eventType = EventIncidentResolved
		default:
			continue
		}
		msg, err := serializeToMessage(ev.IncidentID, eventType, ev.At, ev)
		if err != nil {
			return err
		}
		msgs = append(msgs, msg)
	}
	return p.write(ctx, msgs)
}

// PublishDispatches writes one message per ledger entry.
func (p *Publisher) PublishDispatches(ctx context.Context, records []domain.AlertDispatchRecord) error {
	msgs := make([]kafkago.Message, 0, len(records))
	for _, rec := range records {
		msg, err := serializeToMessage(rec.IncidentID, EventDispatchRecorded, rec.DispatchedAt, rec)
		if err != nil {
			return err
		}
		msgs = append(msgs, msg)
	}
	return p.write(ctx, msgs)
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

func (p *Publisher) write(ctx context.Context, msgs []kafkago.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("write %d events: %w", len(msgs), err)
	}
	p.logger.Debug("events published", "count", len(msgs))
	return nil
}

// serializeToMessage marshals an event payload into a Kafka message.
func serializeToMessage(key, eventType string, at time.Time, payload any) (kafkago.Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize %s event: %w", eventType, err)
	}
	return kafkago.Message{
		Key:   []byte(key),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "event_type", Value: []byte(eventType)},
			{Key: "occurred_at", Value: []byte(at.UTC().Format(time.RFC3339))},
		},
	}, nil
}

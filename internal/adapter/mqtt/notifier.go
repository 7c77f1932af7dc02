// Package mqtt publishes dispatch notices to an MQTT v5 broker.
package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"time"

	"github.com/couchcryptid/storm-data-shared/retry"
	"github.com/eclipse/paho.golang/paho"

	"github.com/couchcryptid/traffic-alerts-service/internal/domain"
)

// Publisher is the part of *paho.Client the notifier uses.
type Publisher interface {
	Publish(ctx context.Context, p *paho.Publish) (*paho.PublishResponse, error)
}

// Notifier implements dispatch.Notifier by publishing JSON at QoS 1.
type Notifier struct {
	client Publisher
	topic  string
}

// NewNotifier creates a notifier on an already-connected client.
func NewNotifier(client Publisher, topic string) *Notifier {
	return &Notifier{client: client, topic: topic}
}

func (n *Notifier) Name() string { return "mqtt" }

// Notify publishes the notice to the configured topic.
func (n *Notifier) Notify(ctx context.Context, notice domain.DispatchNotice) error {
	payload, err := json.Marshal(notice)
	if err != nil {
		return fmt.Errorf("marshal notice: %w", err)
	}

	resp, err := n.client.Publish(ctx, &paho.Publish{
		QoS:     1,
		Topic:   n.topic,
		Payload: payload,
		Properties: &paho.PublishProperties{
			ContentType:     "application/json",
			CorrelationData: []byte(notice.IncidentID),
		},
	})
	if err != nil {
		return fmt.Errorf("mqtt publish: %w", err)
	}
	if resp != nil && resp.ReasonCode >= 0x80 {
		return fmt.Errorf("mqtt publish rejected: reason code %d", resp.ReasonCode)
	}
	return nil
}

// Connect dials brokerURL (mqtt://host:port or tcp://host:port) and performs
// the MQTT v5 handshake.
func Connect(ctx context.Context, brokerURL, clientID string, logger *slog.Logger) (*paho.Client, error) {
	u, err := url.Parse(brokerURL)
	if err != nil {
		return nil, fmt.Errorf("parse broker url: %w", err)
	}
	host := u.Host
	if u.Port() == "" {
		host = net.JoinHostPort(u.Hostname(), "1883")
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", host)
	if err != nil {
		return nil, fmt.Errorf("dial broker: %w", err)
	}

	client := paho.NewClient(paho.ClientConfig{
		Conn:     conn,
		ClientID: clientID,
		OnClientError: func(err error) {
			logger.Warn("mqtt client error", "error", err)
		},
		OnServerDisconnect: func(d *paho.Disconnect) {
			logger.Warn("mqtt server disconnect", "reason_code", d.ReasonCode)
		},
	})

	ack, err := client.Connect(ctx, &paho.Connect{
		ClientID:   clientID,
		KeepAlive:  30,
		CleanStart: true,
	})
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	if ack.ReasonCode != 0 {
		_ = conn.Close()
		return nil, fmt.Errorf("mqtt connect refused: reason code %d", ack.ReasonCode)
	}
	return client, nil
}

// initialBackoff is the first wait between connection attempts.
const initialBackoff = 500 * time.Millisecond

// ConnectWithRetry calls Connect until it succeeds or ctx ends, doubling the
// wait between attempts up to maxBackoff.
func ConnectWithRetry(ctx context.Context, brokerURL, clientID string, maxBackoff time.Duration, logger *slog.Logger) (*paho.Client, error) {
	backoff := min(initialBackoff, maxBackoff)
	for attempt := 1; ; attempt++ {
		client, err := Connect(ctx, brokerURL, clientID, logger)
		if err == nil {
			return client, nil
		}
		logger.Warn("mqtt connect failed",
			"broker", brokerURL, "attempt", attempt, "backoff", backoff, "error", err)
		if !retry.SleepWithContext(ctx, backoff) {
			return nil, errors.Join(ctx.Err(), err)
		}
		backoff = retry.NextBackoff(backoff, maxBackoff)
	}
}

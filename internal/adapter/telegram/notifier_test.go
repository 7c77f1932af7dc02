package telegram

import (
	"context"
	"errors"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/traffic-alerts-service/internal/domain"
)

type fakeSender struct {
	sent []tgbotapi.Chattable
	err  error
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if f.err != nil {
		return tgbotapi.Message{}, f.err
	}
	f.sent = append(f.sent, c)
	return tgbotapi.Message{MessageID: len(f.sent)}, nil
}

func testNotice() domain.DispatchNotice {
	return domain.DispatchNotice{
		IncidentID: "A1",
		Action:     domain.ActionAmbulance,
		Type:       domain.IncidentAccident,
		Severity:   domain.SeverityHigh,
		Location:   "Highway 1",
		Geo:        &domain.Geo{Lat: 19.9975, Lon: 73.7898},
		ReportedAt: time.Date(2024, 4, 26, 14, 45, 0, 0, time.UTC),
		ReportedBy: "officer-12",
	}
}

func TestNotifier_SendsFormattedMessage(t *testing.T) {
	sender := &fakeSender{}
	n := NewNotifier(sender, -100123)

	require.NoError(t, n.Notify(context.Background(), testNotice()))

	require.Len(t, sender.sent, 1)
	msg, ok := sender.sent[0].(tgbotapi.MessageConfig)
	require.True(t, ok)
	assert.Equal(t, int64(-100123), msg.ChatID)
	assert.Contains(t, msg.Text, "AMBULANCE DISPATCH")
	assert.Contains(t, msg.Text, "Incident: A1")
	assert.Contains(t, msg.Text, "Severity: High")
	assert.Contains(t, msg.Text, "Location: Highway 1")
	assert.Contains(t, msg.Text, "q=19.997500,73.789800")
	assert.Contains(t, msg.Text, "Reported by: officer-12")
	assert.Contains(t, msg.Text, "2024-04-26 14:45:00 UTC")
}

func TestNotifier_SendError(t *testing.T) {
	n := NewNotifier(&fakeSender{err: errors.New("chat not found")}, 1)

	err := n.Notify(context.Background(), testNotice())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat not found")
}

func TestNotifier_CancelledContext(t *testing.T) {
	sender := &fakeSender{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewNotifier(sender, 1).Notify(ctx, testNotice())

	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, sender.sent)
}

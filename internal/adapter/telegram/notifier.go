// Package telegram sends dispatch notices to a Telegram chat.
package telegram

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/couchcryptid/traffic-alerts-service/internal/domain"
)

// Sender is the part of *tgbotapi.BotAPI the notifier uses.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Notifier implements dispatch.Notifier for a single chat.
type Notifier struct {
	sender Sender
	chatID int64
}

// New authenticates against the Bot API and returns a notifier for chatID.
// timeout bounds every Bot API request.
func New(token string, chatID int64, timeout time.Duration) (*Notifier, error) {
	bot, err := tgbotapi.NewBotAPIWithClient(token, tgbotapi.APIEndpoint, &http.Client{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return NewNotifier(bot, chatID), nil
}

// NewNotifier wraps an existing sender.
func NewNotifier(sender Sender, chatID int64) *Notifier {
	return &Notifier{sender: sender, chatID: chatID}
}

func (n *Notifier) Name() string { return "telegram" }

// Notify sends the notice as a plain-text message.
func (n *Notifier) Notify(ctx context.Context, notice domain.DispatchNotice) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(n.chatID, formatMessage(notice))
	msg.DisableWebPagePreview = true
	if _, err := n.sender.Send(msg); err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}
	return nil
}

func formatMessage(n domain.DispatchNotice) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", strings.ToUpper(strings.ReplaceAll(n.Action, "_", " ")))
	fmt.Fprintf(&b, "Incident: %s\n", n.IncidentID)
	fmt.Fprintf(&b, "Type: %s\n", n.Type)
	fmt.Fprintf(&b, "Severity: %s\n", n.Severity)
	if n.Location != "" {
		fmt.Fprintf(&b, "Location: %s\n", n.Location)
	}
	if n.Geo != nil {
		fmt.Fprintf(&b, "Map: https://maps.google.com/?q=%.6f,%.6f\n", n.Geo.Lat, n.Geo.Lon)
	}
	if n.ReportedBy != "" {
		fmt.Fprintf(&b, "Reported by: %s\n", n.ReportedBy)
	}
	fmt.Fprintf(&b, "Reported at: %s", n.ReportedAt.Format("2006-01-02 15:04:05 MST"))
	return b.String()
}

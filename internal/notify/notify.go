// Package notify delivers engine events to the account owner. Delivery is
// fire-and-forget: a notification never blocks or fails the operation that
// raised it.
package notify

import (
	"fmt"
	"sort"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
)

// Event names raised by the engine.
const (
	EventSuggestionCreated = "suggestion_created"
	EventAutoApproved      = "auto_approved"
	EventOrderPlaced       = "order_placed"
	EventOrderFailed       = "order_failed"
	EventExitSignal        = "exit_signal"
	EventPositionClosed    = "position_closed"
	EventEntrySkipped      = "entry_skipped"
	EventDailySummary      = "daily_summary"
	EventReconcileNeeded   = "reconcile_needed"
)

// Sink receives engine events.
type Sink interface {
	Notify(event string, payload map[string]string)
}

// Nop is a Sink that drops everything, used when no channel is configured.
type Nop struct{}

func (Nop) Notify(string, map[string]string) {}

// Telegram delivers events as Telegram messages.
type Telegram struct {
	api    *tgbotapi.BotAPI
	chatID int64
}

// NewTelegram creates a Telegram sink.
func NewTelegram(token string, chatID int64) (*Telegram, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram init: %w", err)
	}
	log.Info().Str("bot", api.Self.UserName).Msg("📱 Telegram notifier connected")
	return &Telegram{api: api, chatID: chatID}, nil
}

// Notify formats and sends the event asynchronously. Send failures are
// logged and swallowed.
func (t *Telegram) Notify(event string, payload map[string]string) {
	msg := tgbotapi.NewMessage(t.chatID, format(event, payload))
	go func() {
		if _, err := t.api.Send(msg); err != nil {
			log.Warn().Err(err).Str("event", event).Msg("Notification delivery failed")
		}
	}()
}

var eventHeaders = map[string]string{
	EventSuggestionCreated: "💡 New trade suggestion",
	EventAutoApproved:      "🤖 Suggestion auto-approved",
	EventOrderPlaced:       "📝 Order placed",
	EventOrderFailed:       "🚨 Order placement failed",
	EventExitSignal:        "🚪 Exit signal",
	EventPositionClosed:    "🏁 Position closed",
	EventEntrySkipped:      "⏭️ Entry skipped today",
	EventDailySummary:      "📊 Daily summary",
	EventReconcileNeeded:   "⚠️ Manual reconciliation needed",
}

func format(event string, payload map[string]string) string {
	header, ok := eventHeaders[event]
	if !ok {
		header = event
	}

	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(header)
	for _, k := range keys {
		b.WriteString(fmt.Sprintf("\n%s: %s", k, payload[k]))
	}
	return b.String()
}

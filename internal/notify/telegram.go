package notify

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Alias1177/Macroscope/models"
)

// Telegram pushes circuit-breaker alerts to a chat. It is an optional
// ReportSink: quiet runs send nothing.
type Telegram struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	logger zerolog.Logger
}

// NewTelegram creates the notifier. Token problems surface here, at
// startup, not mid-run.
func NewTelegram(token string, chatID int64) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("initializing telegram bot: %w", err)
	}
	return &Telegram{
		bot:    bot,
		chatID: chatID,
		logger: log.With().Str("component", "telegram_notifier").Logger(),
	}, nil
}

// Publish sends an alert when the report carries triggered vetoes and
// does nothing otherwise. Delivery failures are logged and returned;
// callers treat them as non-fatal.
func (t *Telegram) Publish(_ context.Context, report *models.Report) error {
	a := report.Assessment
	if !a.VetoTriggered() {
		t.logger.Debug().Msg("No veto triggered, skipping alert")
		return nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "⚠️ %s\n\n", report.Title)
	fmt.Fprintf(&b, "Circuit breaker triggered: %s\n", strings.Join(a.TriggeredVetoes, " + "))
	fmt.Fprintf(&b, "Weighted risk score: %.2f / 10.0\n", a.WeightedScore)
	fmt.Fprintf(&b, "Overall level: %s\n\n", a.OverallLabel)
	fmt.Fprintf(&b, "%s", a.Advice)

	msg := tgbotapi.NewMessage(t.chatID, b.String())
	if _, err := t.bot.Send(msg); err != nil {
		t.logger.Error().Err(err).Msg("Failed to send alert")
		return fmt.Errorf("sending alert: %w", err)
	}

	t.logger.Info().Int64("chat_id", t.chatID).Msg("Alert sent")
	return nil
}

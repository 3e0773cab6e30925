// Package telegram forwards task failures to an operator chat.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"taskbridge/pkg/bus"
	"taskbridge/pkg/config"
)

const (
	channelName         = "telegram"
	messagePreviewLimit = 240
	eventBuffer         = 32
)

type messageSender interface {
	SendMessage(ctx context.Context, params *telego.SendMessageParams) (*telego.Message, error)
}

// Alerter subscribes to bus events and posts task failures to one chat.
type Alerter struct {
	cfg    config.TelegramConfig
	bus    *bus.MessageBus
	sender messageSender
	log    *slog.Logger
}

// NewAlerter validates the alert configuration.
func NewAlerter(cfg config.TelegramConfig, mb *bus.MessageBus, log *slog.Logger) (*Alerter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("alerts.telegram.token is required")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("alerts.telegram.chat_id is required")
	}
	if mb == nil {
		return nil, errors.New("message bus is required")
	}
	if log == nil {
		log = slog.Default()
	}

	return &Alerter{
		cfg: cfg,
		bus: mb,
		log: log.With("component", "channel.telegram"),
	}, nil
}

func (a *Alerter) Name() string {
	return channelName
}

// Run forwards failures until ctx is done or the bus closes.
func (a *Alerter) Run(ctx context.Context) error {
	if a.sender == nil {
		bot, err := telego.NewBot(strings.TrimSpace(a.cfg.Token))
		if err != nil {
			return fmt.Errorf("initialize telegram bot: %w", err)
		}
		a.sender = bot
	}

	events, unsubscribe := a.bus.SubscribeEvents(ctx, eventBuffer)
	defer unsubscribe()

	a.log.Info("Telegram alerts started", "chat_id", a.cfg.ChatID)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-events:
			if !ok {
				return nil
			}
			if event.Type != bus.EventTaskFailed {
				continue
			}

			text := formatAlert(event)
			if _, err := a.sender.SendMessage(ctx, tu.Message(tu.ID(a.cfg.ChatID), text)); err != nil && ctx.Err() == nil {
				a.log.Error("Failed to send telegram alert", "request_id", event.RequestID, "error", err)
			}
		}
	}
}

func formatAlert(event bus.Event) string {
	var b strings.Builder
	b.WriteString("Task failed")
	if event.Category != "" {
		fmt.Fprintf(&b, " (%s)", event.Category)
	}
	if event.ChatID != "" {
		fmt.Fprintf(&b, "\nchannel: %s", event.ChatID)
	}
	if event.ThreadKey != "" {
		fmt.Fprintf(&b, "\nthread: %s", event.ThreadKey)
	}
	if event.RequestID != "" {
		fmt.Fprintf(&b, "\nrequest: %s", event.RequestID)
	}
	if event.Error != "" {
		fmt.Fprintf(&b, "\nerror: %s", previewText(event.Error))
	}
	return b.String()
}

// previewText returns a bounded log-safe preview of message text.
func previewText(text string) string {
	trimmed := strings.TrimSpace(text)
	runes := []rune(trimmed)
	if len(runes) <= messagePreviewLimit {
		return trimmed
	}

	return string(runes[:messagePreviewLimit]) + "..."
}

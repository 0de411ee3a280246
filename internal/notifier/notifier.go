// Package notifier
package notifier

import (
	"context"

	"github.com/rs/zerolog"
)

// Notifier delivers a plain-text message to the default channel.
type Notifier interface {
	Send(ctx context.Context, text string) error
}

// DirectNotifier can also deliver to a specific chat.
type DirectNotifier interface {
	Notifier
	SendTo(ctx context.Context, chatID, text string) error
}

// LogNotifier writes messages to the log. It stands in when no channel is
// configured.
type LogNotifier struct {
	log zerolog.Logger
}

func NewLogNotifier(log zerolog.Logger) *LogNotifier {
	return &LogNotifier{log: log.With().Str("component", "notifier").Logger()}
}

func (n *LogNotifier) Send(ctx context.Context, text string) error {
	n.log.Info().Str("text", text).Msg("channel not configured, message logged")
	return nil
}

func (n *LogNotifier) SendTo(ctx context.Context, chatID, text string) error {
	n.log.Info().Str("chat_id", chatID).Str("text", text).Msg("channel not configured, message logged")
	return nil
}

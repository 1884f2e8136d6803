// Package notify delivers operational explanations to a text channel: why a
// join was refused, why a session ended, what recovery was attempted. The
// exact wording is composed by the LLM collaborator with a verbatim fallback.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Volpestyle/clanker-conk-sub003/pkg/llm"
)

// Notifier explains an operational event to the humans in a channel.
// Delivery failures are logged, never returned: messaging must not change
// control flow.
type Notifier interface {
	Notify(ctx context.Context, channelID string, event, reason, details, fallback string)
}

// Sender posts one message to a channel. Implemented by the chat-platform
// gateway.
type Sender interface {
	SendMessage(ctx context.Context, channelID, content string) error
}

// Composed is a Notifier that asks the LLM to phrase the explanation and
// falls back to the supplied text verbatim.
type Composed struct {
	composer llm.Client
	sender   Sender
	logger   *slog.Logger
}

func NewComposed(composer llm.Client, sender Sender, logger *slog.Logger) *Composed {
	if logger == nil {
		logger = slog.Default()
	}
	return &Composed{composer: composer, sender: sender, logger: logger}
}

func (n *Composed) Notify(ctx context.Context, channelID string, event, reason, details, fallback string) {
	if channelID == "" || n.sender == nil {
		return
	}
	text := fallback
	if n.composer != nil {
		prompt := fmt.Sprintf(
			"Write one short casual sentence telling a voice chat what just happened. Event: %s. Reason: %s. Details: %s. No preamble.",
			event, reason, details)
		text = n.composer.Compose(ctx, prompt, fallback)
	}
	if text == "" {
		return
	}
	if err := n.sender.SendMessage(ctx, channelID, text); err != nil {
		n.logger.Warn("operational message delivery failed",
			slog.String("channel_id", channelID),
			slog.String("event", event),
			slog.String("error", err.Error()))
	}
}

// Silent is a Notifier that drops everything. Used in tests and when the
// feature is configured without a text channel.
type Silent struct{}

func (Silent) Notify(ctx context.Context, channelID string, event, reason, details, fallback string) {
}

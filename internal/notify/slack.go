// Package notify delivers run reports to the operations channel.
package notify

import (
	"context"
	"log/slog"

	"github.com/slack-go/slack"
)

// Slack posts plain text messages to one channel. Delivery failures are
// logged and never returned.
type Slack struct {
	client  *slack.Client
	channel string
}

func NewSlack(token, channel string, opts ...slack.Option) *Slack {
	return &Slack{client: slack.New(token, opts...), channel: channel}
}

func (s *Slack) Notify(ctx context.Context, text string) {
	_, ts, err := s.client.PostMessageContext(ctx, s.channel, slack.MsgOptionText(text, false))
	if err != nil {
		slog.Error("Failed to post Slack notification", "channel", s.channel, "error", err)
		return
	}
	slog.Debug("Posted Slack notification.", "channel", s.channel, "ts", ts)
}

// Log is a notifier for local runs without a Slack token.
type Log struct{}

func (Log) Notify(_ context.Context, text string) {
	slog.Info("Notification", "text", text)
}

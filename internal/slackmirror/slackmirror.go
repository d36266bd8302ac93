// Package slackmirror forwards Coordinator chat messages to a configured
// Slack channel, generalizing the teacher's webhook-based Slack notifier
// (internal/notifications/external.SlackNotifier) to the maintained
// slack-go/slack SDK and a bot token instead of an incoming webhook URL.
package slackmirror

import (
	"fmt"

	"github.com/slack-go/slack"
)

// Config controls where mirrored chat messages are posted.
type Config struct {
	Token   string
	Channel string
}

// Mirror posts Coordinator chat messages to one Slack channel.
type Mirror struct {
	client  *slack.Client
	channel string
}

// New builds a Mirror. Returns an error only if cfg is missing required
// fields; it does not validate the token against the Slack API.
func New(cfg Config) (*Mirror, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("slack token is required")
	}
	if cfg.Channel == "" {
		return nil, fmt.Errorf("slack channel is required")
	}
	return &Mirror{client: slack.New(cfg.Token), channel: cfg.Channel}, nil
}

// PostChat implements the callback shape coordinator.Coordinator expects for
// its chat mirror: forward author+message as a single Slack message.
func (m *Mirror) PostChat(author, message string) {
	if m == nil || m.client == nil {
		return
	}
	text := fmt.Sprintf("*%s*: %s", author, message)
	_, _, _ = m.client.PostMessage(m.channel, slack.MsgOptionText(text, false))
}

// Package slack implements the messaging.Provider interface for Slack,
// delivering node state-change notifications to a fixed or per-subscriber
// channel via the Slack Web API.
package slack

import (
	"context"
	"fmt"
	"log/slog"

	goslack "github.com/slack-go/slack"

	"github.com/nimbus-provisioner/provisioner/pkg/messaging"
)

// Notifier sends messages to Slack channels.
type Notifier struct {
	client  *goslack.Client
	channel string
	logger  *slog.Logger
}

// NewNotifier creates a Slack Notifier. If botToken is empty, the notifier
// is a noop (logging only) — matching the teacher's "disabled unless
// configured" convention for optional integrations.
func NewNotifier(botToken, channel string, logger *slog.Logger) *Notifier {
	var client *goslack.Client
	if botToken != "" {
		client = goslack.New(botToken)
	}
	return &Notifier{
		client:  client,
		channel: channel,
		logger:  logger,
	}
}

// IsEnabled returns true if the notifier has a valid Slack client.
func (n *Notifier) IsEnabled() bool {
	return n.client != nil
}

// PostNodeUpdate posts a one-line node state-change notice to channel, or to
// the notifier's default channel if channel is empty.
func (n *Notifier) PostNodeUpdate(ctx context.Context, channel string, msg messaging.NodeUpdateMessage) error {
	if !n.IsEnabled() {
		n.logger.Debug("slack notifier disabled, skipping node update", "node_id", msg.NodeID)
		return nil
	}
	if channel == "" {
		channel = n.channel
	}
	if channel == "" {
		return nil
	}

	_, _, err := n.client.PostMessageContext(ctx, channel, goslack.MsgOptionText(messaging.Summary(msg), false))
	if err != nil {
		return fmt.Errorf("posting node update to slack: %w", err)
	}
	return nil
}

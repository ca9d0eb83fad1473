package slack

import (
	"context"
	"log/slog"

	"github.com/nimbus-provisioner/provisioner/pkg/messaging"
)

// Provider implements messaging.Provider for Slack.
type Provider struct {
	notifier *Notifier
	logger   *slog.Logger
}

// NewProvider creates a Slack messaging provider wrapping the existing notifier.
func NewProvider(notifier *Notifier, logger *slog.Logger) *Provider {
	return &Provider{notifier: notifier, logger: logger}
}

func (p *Provider) Name() string { return "slack" }

func (p *Provider) PostNodeUpdate(ctx context.Context, channel string, msg messaging.NodeUpdateMessage) error {
	return p.notifier.PostNodeUpdate(ctx, channel, msg)
}

package mattermost

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nimbus-provisioner/provisioner/pkg/messaging"
)

// Provider implements messaging.Provider for Mattermost.
type Provider struct {
	client         *Client
	defaultChannel string // fallback channel when a subscriber names none
	logger         *slog.Logger
}

// NewProvider creates a Mattermost messaging provider.
func NewProvider(client *Client, defaultChannel string, logger *slog.Logger) *Provider {
	return &Provider{client: client, defaultChannel: defaultChannel, logger: logger}
}

func (p *Provider) Name() string { return "mattermost" }

// PostNodeUpdate posts a node state-change notice to channel, or to the
// provider's default channel if channel is empty.
func (p *Provider) PostNodeUpdate(ctx context.Context, channel string, msg messaging.NodeUpdateMessage) error {
	if !p.client.IsEnabled() {
		p.logger.Debug("mattermost provider disabled, skipping node update", "node_id", msg.NodeID)
		return nil
	}
	if channel == "" {
		channel = p.defaultChannel
	}
	if channel == "" {
		return nil
	}

	_, err := p.client.CreatePost(ctx, Post{ChannelID: channel, Message: messaging.Summary(msg)})
	if err != nil {
		return fmt.Errorf("posting node update to mattermost: %w", err)
	}
	return nil
}

// Package messaging defines the provider-agnostic interface for delivering
// node state-change notifications through Slack, Mattermost, or other chat
// platforms. A subscriber address of the form "slack:#channel" or
// "mattermost:channelID" is routed to the matching Provider by a Registry.
package messaging

import "context"

// Provider is the interface every chat-backed delivery backend implements.
type Provider interface {
	// Name returns the provider identifier ("slack", "mattermost"), used as
	// the subscriber-address prefix a Registry dispatches on.
	Name() string

	// PostNodeUpdate delivers one node state change to the given channel.
	PostNodeUpdate(ctx context.Context, channel string, msg NodeUpdateMessage) error
}

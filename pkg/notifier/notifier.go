// Package notifier implements provisioner.Notifier, fanning every node
// record out to whichever transport its subscriber address names: a
// "slack:#channel" or "mattermost:channelID" address is routed to the
// matching messaging.Provider; any other address is treated as a Redis
// pub/sub channel name and published fire-and-forget.
package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/nimbus-provisioner/provisioner/pkg/messaging"
	"github.com/nimbus-provisioner/provisioner/pkg/provisioner"
)

// Notifier delivers NodeRecords to named subscribers via Redis pub/sub or a
// registered chat messaging.Provider, satisfying provisioner.Notifier.
type Notifier struct {
	rdb      *redis.Client
	registry *messaging.Registry
	logger   *slog.Logger
}

// New returns a Notifier. registry may be empty if no chat providers are
// configured; rdb is required since it is always the fallback transport.
func New(rdb *redis.Client, registry *messaging.Registry, logger *slog.Logger) *Notifier {
	return &Notifier{rdb: rdb, registry: registry, logger: logger}
}

// nodeEnvelope is the wire shape published to a Redis channel: the full
// NodeRecord so a subscriber can reconstruct state without a second fetch.
type nodeEnvelope struct {
	Node provisioner.NodeRecord `json:"node"`
}

// Notify is fire-and-forget per the core's contract: a delivery failure to
// one subscriber/node pair is logged and does not fail the call, since the
// Notifier's own back-pressure contract is at-least-once, not guaranteed.
func (n *Notifier) Notify(ctx context.Context, subscribers []string, nodes []provisioner.NodeRecord) error {
	for _, sub := range subscribers {
		provider, channel, isChat := n.resolveChatProvider(sub)
		for _, node := range nodes {
			if isChat {
				if err := provider.PostNodeUpdate(ctx, channel, toNodeUpdateMessage(node)); err != nil {
					n.logger.Error("chat notify failed", "subscriber", sub, "node_id", node.NodeID, "error", err)
				}
				continue
			}
			if err := n.publish(ctx, sub, node); err != nil {
				n.logger.Error("redis notify failed", "subscriber", sub, "node_id", node.NodeID, "error", err)
			}
		}
	}
	return nil
}

// resolveChatProvider splits a subscriber address on its first ":" and
// looks up the prefix in the chat provider registry. A subscriber with no
// matching provider (including the common case of no registry configured
// at all) falls through to the Redis transport.
func (n *Notifier) resolveChatProvider(subscriber string) (messaging.Provider, string, bool) {
	if n.registry == nil {
		return nil, "", false
	}
	prefix, rest, found := strings.Cut(subscriber, ":")
	if !found {
		return nil, "", false
	}
	provider, err := n.registry.Get(prefix)
	if err != nil {
		return nil, "", false
	}
	return provider, rest, true
}

func (n *Notifier) publish(ctx context.Context, channel string, node provisioner.NodeRecord) error {
	payload, err := json.Marshal(nodeEnvelope{Node: node})
	if err != nil {
		return fmt.Errorf("marshal node envelope: %w", err)
	}
	if err := n.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("publish to %q: %w", channel, err)
	}
	return nil
}

func toNodeUpdateMessage(node provisioner.NodeRecord) messaging.NodeUpdateMessage {
	return messaging.NodeUpdateMessage{
		LaunchID:  node.LaunchID,
		NodeID:    node.NodeID,
		State:     node.State.String(),
		StateDesc: node.StateDesc,
		Site:      node.Site,
		PublicIP:  node.PublicIP,
		CreatedAt: node.CreationTimestamp,
	}
}

package provisioner

import (
	"context"
	"time"

	"github.com/nimbus-provisioner/provisioner/internal/telemetry"
)

// QueryNodes is the periodic control loop: for every known site it fetches
// non-terminal nodes and reconciles them against the driver's view, then
// checks contextualization progress for every PENDING launch.
func (c *Core) QueryNodes(ctx context.Context) error {
	sites, err := c.store.Sites(ctx)
	if err != nil {
		return err
	}

	for _, site := range sites {
		nodes, err := c.store.GetSiteNodes(ctx, site, Terminated)
		if err != nil {
			c.logger.Error("get site nodes failed", "site", site, "error", err)
			continue
		}
		if err := c.queryOneSite(ctx, site, nodes); err != nil {
			c.logger.Error("query site failed", "site", site, "error", err)
		}
	}

	return c.queryContexts(ctx)
}

// queryOneSite is §4.4.1.
func (c *Core) queryOneSite(ctx context.Context, site string, nodes []NodeRecord) error {
	start := time.Now()
	defer func() {
		telemetry.QueryDuration.WithLabelValues(site).Observe(time.Since(start).Seconds())
	}()

	driver, ok := c.driver(site)
	if !ok {
		return errInvalidRequest("unknown site %q", site)
	}

	var iaasNodes []IaaSNode
	err := c.runner.Run(ctx, func(ctx context.Context) error {
		result, err := driver.ListNodes(ctx)
		if err != nil {
			return err
		}
		iaasNodes = result
		return nil
	})
	if err != nil {
		return err
	}

	byID := make(map[string]IaaSNode, len(iaasNodes))
	for _, n := range iaasNodes {
		byID[n.ID] = n
	}

	for _, node := range nodes {
		if !(node.State >= Pending && node.State < Terminated) {
			continue
		}

		iaasNode, present := byID[node.IaaSID]
		if !present {
			if node.Age().Seconds() <= StartupGraceWindowSeconds {
				c.logger.Info("node not yet visible to iaas, within grace window", "node_id", node.NodeID, "site", site)
				continue
			}

			launch, err := c.store.GetLaunch(ctx, node.LaunchID)
			if err != nil {
				c.logger.Error("get launch for disappeared node failed", "node_id", node.NodeID, "error", err)
				continue
			}
			node.StateDesc = nodeDisappearedDesc()
			failed := Failed
			if _, err := c.storeAndNotify(ctx, []NodeRecord{node}, launch.Subscribers, &failed); err != nil {
				c.logger.Error("notify disappeared node failed", "node_id", node.NodeID, "error", err)
			}
			telemetry.NodesByState.WithLabelValues(node.State.String()).Dec()
			telemetry.NodesByState.WithLabelValues(Failed.String()).Inc()
			continue
		}

		mapped := MapIaaSState(iaasNode.State)
		// TODO: strictly-greater means a rebooted node's refreshed public_ip
		// is never re-applied once it has already reached this mapped state.
		if mapped <= node.State {
			continue
		}

		node.PublicIP = firstOrEmpty(iaasNode.PublicIP)
		node.PrivateIP = firstOrEmpty(iaasNode.PrivateIP)

		launch, err := c.store.GetLaunch(ctx, node.LaunchID)
		if err != nil {
			c.logger.Error("get launch for advancing node failed", "node_id", node.NodeID, "error", err)
			continue
		}
		telemetry.NodesByState.WithLabelValues(node.State.String()).Dec()
		telemetry.NodesByState.WithLabelValues(mapped.String()).Inc()
		if _, err := c.storeAndNotify(ctx, []NodeRecord{node}, launch.Subscribers, &mapped); err != nil {
			c.logger.Error("notify advancing node failed", "node_id", node.NodeID, "error", err)
		}
	}

	return nil
}

// queryContexts is §4.4.2.
func (c *Core) queryContexts(ctx context.Context) error {
	pending := Pending
	launches, err := c.store.GetLaunches(ctx, &pending)
	if err != nil {
		return err
	}

	for _, launch := range launches {
		if launch.Context == nil {
			c.logger.Warn("pending launch missing context", "launch_id", launch.LaunchID)
			continue
		}

		result, err := c.broker.Query(ctx, launch.Context.URI)
		if err != nil {
			c.logger.Error("broker query failed", "launch_id", launch.LaunchID, "error", err)
			telemetry.ContextPollTotal.WithLabelValues("error").Inc()
			continue
		}
		telemetry.ContextPollTotal.WithLabelValues("ok").Inc()

		if len(result.Nodes) == 0 {
			continue
		}

		nodes, err := c.store.GetLaunchNodes(ctx, launch.LaunchID)
		if err != nil {
			c.logger.Error("get launch nodes failed", "launch_id", launch.LaunchID, "error", err)
			continue
		}

		changed := updateNodesFromContext(nodes, result.Nodes)
		if len(changed) > 0 {
			if _, err := c.storeAndNotify(ctx, changed, launch.Subscribers, nil); err != nil {
				c.logger.Error("notify context update failed", "launch_id", launch.LaunchID, "error", err)
			}
		}

		if result.Complete {
			launch.State = Running
			if err := c.store.PutLaunch(ctx, launch); err != nil {
				c.logger.Error("persist launch running failed", "launch_id", launch.LaunchID, "error", err)
			}
		} else {
			c.logger.Info("context not yet complete", "launch_id", launch.LaunchID, "expected_count", result.ExpectedCount)
		}
	}

	return nil
}

// updateNodesFromContext is §4.4.3. It mutates and returns only the nodes
// that actually changed, matching a ctx_node to the first stored node whose
// public IP equals the identity's IP or (fallback) hostname.
func updateNodesFromContext(nodes []NodeRecord, ctxNodes []ContextNode) []NodeRecord {
	changed := make([]NodeRecord, 0)

	for _, ctxNode := range ctxNodes {
		for _, ident := range ctxNode.Identities {
			idx := findNodeByIdentity(nodes, ident)
			if idx < 0 {
				continue
			}

			node := &nodes[idx]
			done := ctxNode.OKOccurred || ctxNode.ErrorOccurred
			// A matched identity that yields no update does not end the
			// search: only the first applied update breaks out, below.
			if !done || node.State >= Running {
				continue
			}

			if ctxNode.OKOccurred {
				node.State = Running
				node.Pubkey = ident.Pubkey
			} else {
				node.State = Failed
				node.ErrorCode = ctxNode.ErrorCode
				node.ErrorMessage = ctxNode.ErrorMessage
			}
			changed = append(changed, *node)
			break
		}
	}

	return changed
}

func findNodeByIdentity(nodes []NodeRecord, ident ContextIdentity) int {
	for i, n := range nodes {
		if n.PublicIP != "" && (n.PublicIP == ident.IP || n.PublicIP == ident.Hostname) {
			return i
		}
	}
	return -1
}

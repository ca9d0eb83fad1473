package provisioner

import "context"

// MarkLaunchTerminating sets every non-terminal node of a launch to
// TERMINATING without calling any IaaS driver. It records a committed-intent
// marker ahead of physical destroy; TerminateLaunch does not require it to
// have run first.
func (c *Core) MarkLaunchTerminating(ctx context.Context, launchID string) error {
	launch, err := c.store.GetLaunch(ctx, launchID)
	if err != nil {
		return err
	}
	nodes, err := c.store.GetLaunchNodes(ctx, launchID)
	if err != nil {
		return err
	}

	active := make([]NodeRecord, 0, len(nodes))
	for _, n := range nodes {
		if !n.State.Terminal() {
			active = append(active, n)
		}
	}

	terminating := Terminating
	_, err = c.storeAndNotify(ctx, active, launch.Subscribers, &terminating)
	return err
}

// TerminateLaunch destroys every destroyable node (PENDING <= state <
// TERMINATED) of one launch via its IaaS driver.
func (c *Core) TerminateLaunch(ctx context.Context, launchID string) error {
	launch, err := c.store.GetLaunch(ctx, launchID)
	if err != nil {
		return err
	}
	nodes, err := c.store.GetLaunchNodes(ctx, launchID)
	if err != nil {
		return err
	}

	for _, node := range nodes {
		if !(node.State >= Pending && node.State < Terminated) {
			continue
		}
		if err := c.terminateNode(ctx, node, launch); err != nil {
			c.logger.Error("terminate node failed", "node_id", node.NodeID, "error", err)
		}
	}
	return nil
}

// TerminateLaunches terminates a sequence of launches in order.
func (c *Core) TerminateLaunches(ctx context.Context, launchIDs []string) error {
	for _, id := range launchIDs {
		if err := c.TerminateLaunch(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// TerminateNodes destroys specific nodes by id, fetching each one's owning
// launch for its subscriber list. Unknown ids are logged and skipped.
func (c *Core) TerminateNodes(ctx context.Context, nodeIDs []string) error {
	nodes, err := c.store.GetNodesByID(ctx, nodeIDs)
	if err != nil {
		return err
	}

	launchCache := make(map[string]LaunchRecord)
	for i, node := range nodes {
		if node == nil {
			c.logger.Warn("terminate_nodes: unknown node id", "node_id", nodeIDs[i])
			continue
		}
		if !(node.State >= Pending && node.State < Terminated) {
			continue
		}

		launch, ok := launchCache[node.LaunchID]
		if !ok {
			launch, err = c.store.GetLaunch(ctx, node.LaunchID)
			if err != nil {
				c.logger.Error("get launch for node failed", "node_id", node.NodeID, "error", err)
				continue
			}
			launchCache[node.LaunchID] = launch
		}

		if err := c.terminateNode(ctx, *node, launch); err != nil {
			c.logger.Error("terminate node failed", "node_id", node.NodeID, "error", err)
		}
	}
	return nil
}

// terminateNode synthesizes a minimal IaaS node carrying just the iaas_id
// needed for driver destroy, invokes destroy off the scheduling goroutine,
// and stamps the record TERMINATED regardless of whether the driver call
// found anything left to destroy (a node already gone at the IaaS layer is
// still, from the controller's point of view, gone).
func (c *Core) terminateNode(ctx context.Context, node NodeRecord, launch LaunchRecord) error {
	driver, ok := c.driver(node.Site)
	if !ok {
		return errInvalidRequest("unknown site %q", node.Site)
	}

	iaasNode := IaaSNode{ID: node.IaaSID}
	runErr := c.runner.Run(ctx, func(ctx context.Context) error {
		return driver.DestroyNode(ctx, iaasNode)
	})
	if runErr != nil {
		c.logger.Error("driver destroy failed, marking terminated anyway", "node_id", node.NodeID, "error", runErr)
	}

	terminated := Terminated
	_, err := c.storeAndNotify(ctx, []NodeRecord{node}, launch.Subscribers, &terminated)
	return err
}

package provisioner

import (
	"context"
	"time"
)

// PrepareProvision validates a launch request, consults DTRS, and persists
// the resulting launch and node records. It is the only public entry point
// that raises synchronously: only a request too malformed to safely persist
// (missing launch id, deployable type or nodes, or a group without ids, site
// or allocation) reaches that path. Any failure after
// that point is recorded as a FAILED launch and returned normally.
func (c *Core) PrepareProvision(ctx context.Context, req LaunchRequest) (LaunchRecord, []NodeRecord, error) {
	if err := validateRequestSyntax(req); err != nil {
		return LaunchRecord{}, nil, err
	}

	summary := make(map[string]NodesSummary, len(req.Nodes))
	for name, group := range req.Nodes {
		summary[name] = NodesSummary{Count: len(group.IDs), Site: group.Site, Allocation: group.Allocation}
	}

	lookup, err := c.dtrs.Lookup(ctx, req.DeployableType, summary, req.Vars)

	launch := LaunchRecord{
		LaunchID:       req.LaunchID,
		DeployableType: req.DeployableType,
		Subscribers:    req.Subscribers,
	}

	if err != nil {
		reason := err.Error()
		if de, ok := err.(*DeployableTypeLookupError); ok {
			reason = de.Reason
		}
		launch.State = Failed
		launch.StateDesc = dtrsLookupFailedDesc(reason)
	} else {
		launch.State = Requested
		launch.Document = lookup.Document
	}

	now := time.Now()
	nodes := make([]NodeRecord, 0)
	for groupName, group := range req.Nodes {
		refined := group
		if lookup.Nodes != nil {
			if r, ok := lookup.Nodes[groupName]; ok {
				refined = r
			}
		}
		for _, id := range group.IDs {
			node := NodeRecord{
				NodeID:            id,
				LaunchID:          req.LaunchID,
				State:             launch.State,
				StateDesc:         launch.StateDesc,
				Site:              group.Site,
				Allocation:        group.Allocation,
				CtxName:           groupName,
				CreationTimestamp: now,
			}
			if refined.Site != "" {
				node.Site = refined.Site
			}
			if refined.Allocation != "" {
				node.Allocation = refined.Allocation
			}
			node.IaaSAllocation = refined.IaaSAllocation
			node.IaaSSSHKeyName = refined.IaaSSSHKeyName
			nodes = append(nodes, node)
		}
	}

	if err := c.store.PutLaunch(ctx, launch); err != nil {
		return LaunchRecord{}, nil, err
	}

	written, err := c.storeAndNotify(ctx, nodes, req.Subscribers, nil)
	if err != nil {
		return LaunchRecord{}, nil, err
	}

	return launch, written, nil
}

// validateRequestSyntax performs the structural checks that must fail loudly
// (before anything is persisted) because a request this malformed cannot
// even identify its subscribers.
func validateRequestSyntax(req LaunchRequest) error {
	if req.LaunchID == "" {
		return errInvalidRequest("launch_id is required")
	}
	if req.DeployableType == "" {
		return errInvalidRequest("deployable_type is required")
	}
	if len(req.Nodes) == 0 {
		return errInvalidRequest("nodes must be a non-empty mapping of group name to node group")
	}
	for name, group := range req.Nodes {
		if len(group.IDs) == 0 {
			return errInvalidRequest("group %q: ids must be non-empty", name)
		}
		if group.Site == "" {
			return errInvalidRequest("group %q: site is required", name)
		}
		if group.Allocation == "" {
			return errInvalidRequest("group %q: allocation is required", name)
		}
	}
	return nil
}

package provisioner

import (
	"context"
	"errors"
	"fmt"

	"github.com/nimbus-provisioner/provisioner/internal/telemetry"
)

// ExecuteProvision advances a REQUESTED launch to PENDING or FAILED. It
// never returns an error to its caller once the launch exists: every
// failure is instead recorded as a FAILED launch/nodes and notified, per
// the propagation policy. The returned error is reserved for failures that
// prevent even that recording (e.g. the store itself is down).
func (c *Core) ExecuteProvision(ctx context.Context, launch LaunchRecord, nodes []NodeRecord) error {
	failure := c.executeProvisionInner(ctx, &launch, nodes)
	if failure == nil {
		return nil
	}

	desc := failure.Error()
	var pe *ProvisioningError
	if !errors.As(failure, &pe) {
		desc = programmerErrorDesc(failure)
	}
	for i := range nodes {
		nodes[i].StateDesc = desc
	}

	launch.State = Failed
	launch.StateDesc = desc
	if err := c.store.PutLaunch(ctx, launch); err != nil {
		return err
	}

	failed := Failed
	if _, err := c.storeAndNotify(ctx, nodes, launch.Subscribers, &failed); err != nil {
		return err
	}
	return nil
}

// executeProvisionInner is the single outer try of the original core: any
// error returned here is caught by ExecuteProvision and turned into a FAILED
// launch plus FAILED nodes. A panic recovered here becomes PROGRAMMER_ERROR,
// mirroring the "blanket catch is safety netting, not control flow" design
// note while still keeping inner calls as explicit result values.
func (c *Core) executeProvisionInner(ctx context.Context, launch *LaunchRecord, nodes []NodeRecord) (failure error) {
	defer func() {
		if r := recover(); r != nil {
			failure = &ProvisioningError{Reason: programmerErrorDesc(fmt.Errorf("%v", r))}
		}
	}()

	doc, err := c.parser.Parse(launch.Document)
	if err != nil {
		return errContextDocInvalid("%s", err.Error())
	}

	groups := groupRecords(nodes, func(n NodeRecord) string { return n.CtxName })

	if !doc.NeedsContextualization() {
		return errNotImplemented("cluster document does not request contextualization")
	}

	launchCtx, err := c.broker.Create(ctx)
	if err != nil {
		return errContextCreateFailed("%s", err.Error())
	}
	launch.Context = &launchCtx
	launch.State = Pending
	if err := c.store.PutLaunch(ctx, *launch); err != nil {
		return err
	}

	specs, err := doc.BuildSpecs(launchCtx.URI)
	if err != nil {
		return errContextDocInvalid("%s", err.Error())
	}

	if err := validateGroupsVsSpecs(groups, specs); err != nil {
		return err
	}

	for _, spec := range specs {
		groupNodes := groups[spec.Name]
		if err := c.launchOneGroup(ctx, spec, groupNodes, launch.Subscribers); err != nil {
			c.logger.Error("group launch failed", "launch_id", launch.LaunchID, "group", spec.Name, "error", err)
		}
	}

	return nil
}

// validateGroupsVsSpecs implements §4.3.1: counts and names must line up
// exactly between the parsed document's specs and the request's groups,
// before any IaaS call is made.
func validateGroupsVsSpecs(groups map[string][]NodeRecord, specs []Spec) error {
	if len(specs) != len(groups) {
		return errInvalidRequest("expected %d group(s), document declares %d spec(s)", len(groups), len(specs))
	}
	for _, spec := range specs {
		group, ok := groups[spec.Name]
		if !ok {
			return errInvalidRequest("spec %q has no matching node group", spec.Name)
		}
		if spec.Count != len(group) {
			return errInvalidRequest("spec %q declares count %d but group has %d node(s)", spec.Name, spec.Count, len(group))
		}
	}
	return nil
}

// launchOneGroup is §4.3.2: one IaaS request per group. A failure here marks
// only this group's nodes FAILED and is swallowed by the caller so that
// later groups still get a chance to launch.
func (c *Core) launchOneGroup(ctx context.Context, spec Spec, nodes []NodeRecord, subscribers []string) error {
	if len(nodes) == 0 {
		return nil
	}

	site := nodes[0].Site
	driver, ok := c.driver(site)
	if !ok {
		return c.failGroup(ctx, nodes, subscribers, errInvalidRequest("unknown site %q", site))
	}

	effectiveSpec := spec
	if alloc := nodes[0].IaaSAllocation; alloc != "" {
		effectiveSpec.Size = alloc
	}
	if key := nodes[0].IaaSSSHKeyName; key != "" {
		effectiveSpec.Keyname = key
	}

	var iaasNodes []IaaSNode
	runErr := c.runner.Run(ctx, func(ctx context.Context) error {
		result, err := driver.Launch(ctx, effectiveSpec)
		if err != nil {
			return err
		}
		iaasNodes = result
		return nil
	})
	if runErr != nil {
		return c.failGroup(ctx, nodes, subscribers, runErr)
	}

	if len(iaasNodes) != len(nodes) {
		return c.failGroup(ctx, nodes, subscribers, errIaaSProblem("launch returned %d node(s), expected %d", len(iaasNodes), len(nodes)))
	}

	for i := range nodes {
		iaasNode := iaasNodes[i]
		nodes[i].IaaSID = iaasNode.ID
		nodes[i].PublicIP = firstOrEmpty(iaasNode.PublicIP)
		nodes[i].PrivateIP = firstOrEmpty(iaasNode.PrivateIP)
		nodes[i].Extra = copyExtra(iaasNode.Extra)
		nodes[i].State = Pending

		c.events.Event("new_node", map[string]string{
			"public_ip": nodes[i].PublicIP,
			"iaas_id":   nodes[i].IaaSID,
		})
	}
	telemetry.NodesLaunchedTotal.WithLabelValues(site, "success").Add(float64(len(nodes)))

	_, err := c.storeAndNotify(ctx, nodes, subscribers, nil)
	return err
}

// failGroup marks every node in a failed group FAILED and notifies, then
// returns the original error for logging by the caller.
func (c *Core) failGroup(ctx context.Context, nodes []NodeRecord, subscribers []string, cause error) error {
	for i := range nodes {
		nodes[i].StateDesc = cause.Error()
	}
	if len(nodes) > 0 {
		telemetry.NodesLaunchedTotal.WithLabelValues(nodes[0].Site, "failed").Add(float64(len(nodes)))
	}
	failed := Failed
	if _, err := c.storeAndNotify(ctx, nodes, subscribers, &failed); err != nil {
		return err
	}
	return cause
}

func copyExtra(extra map[string]string) map[string]string {
	if extra == nil {
		return nil
	}
	out := make(map[string]string, len(extra))
	for k, v := range extra {
		out[k] = v
	}
	return out
}

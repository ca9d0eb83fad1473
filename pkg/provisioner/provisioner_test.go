package provisioner

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nimbus-provisioner/provisioner/pkg/provisioner/memstore"
)

// --- test doubles -----------------------------------------------------

type fakeNotifier struct {
	mu  sync.Mutex
	all []NodeRecord
}

func (f *fakeNotifier) Notify(ctx context.Context, subscribers []string, nodes []NodeRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.all = append(f.all, nodes...)
	return nil
}

type fakeDTRS struct {
	document string
	fail     string // non-empty triggers a DeployableTypeLookupError
	nodes    map[string]NodeGroupRequest // refined per-group overrides, if any
}

func (d *fakeDTRS) Lookup(ctx context.Context, deployableType string, nodes map[string]NodesSummary, vars map[string]string) (DeployableTypeLookup, error) {
	if d.fail != "" {
		return DeployableTypeLookup{}, &DeployableTypeLookupError{Reason: d.fail}
	}
	return DeployableTypeLookup{Document: d.document, Nodes: d.nodes}, nil
}

type fakeBroker struct {
	uri     string
	queries []ContextQueryResult
	calls   int
}

func (b *fakeBroker) Create(ctx context.Context) (LaunchContext, error) {
	return LaunchContext{URI: b.uri}, nil
}

func (b *fakeBroker) Query(ctx context.Context, uri string) (ContextQueryResult, error) {
	if b.calls >= len(b.queries) {
		return ContextQueryResult{}, nil
	}
	r := b.queries[b.calls]
	b.calls++
	return r, nil
}

// fakeDoc is a ClusterDocument double (fakeParser returns it). specs lets a
// test swap in different spec counts to simulate document-declared specs.
type fakeDoc struct {
	needsCtx bool
	specs    []Spec
	parseErr error
}

func (d *fakeDoc) NeedsContextualization() bool { return d.needsCtx }
func (d *fakeDoc) BuildSpecs(ctxURI string) ([]Spec, error) {
	return d.specs, nil
}

type fakeParser struct {
	doc *fakeDoc
	err error
}

func (p *fakeParser) Parse(document string) (ClusterDocument, error) {
	if p.err != nil {
		return nil, p.err
	}
	return p.doc, nil
}

type fakeDriver struct {
	mu         sync.Mutex
	listResult []IaaSNode
	launchFn   func(spec Spec) ([]IaaSNode, error)
	destroyed  []string
}

func (d *fakeDriver) ListNodes(ctx context.Context) ([]IaaSNode, error) {
	return d.listResult, nil
}

func (d *fakeDriver) Launch(ctx context.Context, spec Spec) ([]IaaSNode, error) {
	return d.launchFn(spec)
}

func (d *fakeDriver) DestroyNode(ctx context.Context, node IaaSNode) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.destroyed = append(d.destroyed, node.ID)
	return nil
}

type inlineRunner struct{}

func (inlineRunner) Run(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

func newTestCore(t *testing.T, store *memstore.Store, notifier Notifier, dtrs DTRS, broker ContextBroker, parser ClusterDocumentParser, drivers map[string]IaaSDriver) *Core {
	t.Helper()
	return New(store, notifier, dtrs, broker, parser, drivers, inlineRunner{})
}

// --- scenario 1: happy path --------------------------------------------

func TestHappyPathSingleGroupSingleNode(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	notifier := &fakeNotifier{}
	dtrs := &fakeDTRS{document: "doc"}
	broker := &fakeBroker{
		uri: "ctx://1",
		queries: []ContextQueryResult{
			{Nodes: []ContextNode{{Identities: []ContextIdentity{{IP: "1.2.3.4", Pubkey: "pk"}}, OKOccurred: true}}},
			{Nodes: []ContextNode{{Identities: []ContextIdentity{{IP: "1.2.3.4"}}, OKOccurred: true}}, Complete: true},
		},
	}
	parser := &fakeParser{doc: &fakeDoc{needsCtx: true, specs: []Spec{{Name: "g", Count: 1}}}}
	driver := &fakeDriver{
		launchFn: func(spec Spec) ([]IaaSNode, error) {
			return []IaaSNode{{ID: "i1", State: IaaSPending}}, nil
		},
	}
	core := newTestCore(t, store, notifier, dtrs, broker, parser, map[string]IaaSDriver{"nimbus-test": driver})

	req := LaunchRequest{
		DeployableType: "X",
		LaunchID:       "L1",
		Subscribers:    []string{"sub1"},
		Nodes: map[string]NodeGroupRequest{
			"g": {IDs: []string{"n1"}, Site: "nimbus-test", Allocation: "small"},
		},
	}

	launch, nodes, err := core.PrepareProvision(ctx, req)
	if err != nil {
		t.Fatalf("PrepareProvision: %v", err)
	}
	if launch.State != Requested {
		t.Fatalf("launch state = %v, want REQUESTED", launch.State)
	}
	if nodes[0].State != Requested {
		t.Fatalf("node state = %v, want REQUESTED", nodes[0].State)
	}

	if err := core.ExecuteProvision(ctx, launch, nodes); err != nil {
		t.Fatalf("ExecuteProvision: %v", err)
	}

	got, err := store.GetLaunch(ctx, "L1")
	if err != nil {
		t.Fatalf("GetLaunch: %v", err)
	}
	if got.State != Pending {
		t.Fatalf("launch state after execute = %v, want PENDING", got.State)
	}

	gotNodes, err := store.GetLaunchNodes(ctx, "L1")
	if err != nil {
		t.Fatalf("GetLaunchNodes: %v", err)
	}
	if len(gotNodes) != 1 || gotNodes[0].State != Pending || gotNodes[0].IaaSID != "i1" {
		t.Fatalf("node after execute = %+v", gotNodes)
	}

	driver.listResult = []IaaSNode{{ID: "i1", State: IaaSRunning, PublicIP: []string{"1.2.3.4"}}}
	if err := core.QueryNodes(ctx); err != nil {
		t.Fatalf("QueryNodes (1st): %v", err)
	}

	n, err := store.GetLaunchNodes(ctx, "L1")
	if err != nil {
		t.Fatalf("GetLaunchNodes: %v", err)
	}
	if n[0].State != Running {
		t.Fatalf("node state after first query_nodes = %v, want RUNNING (context ok_occurred applied)", n[0].State)
	}
	if n[0].PublicIP != "1.2.3.4" {
		t.Fatalf("public_ip = %q, want 1.2.3.4", n[0].PublicIP)
	}

	if err := core.QueryNodes(ctx); err != nil {
		t.Fatalf("QueryNodes (2nd): %v", err)
	}
	l, err := store.GetLaunch(ctx, "L1")
	if err != nil {
		t.Fatalf("GetLaunch: %v", err)
	}
	if l.State != Running {
		t.Fatalf("launch state after complete context = %v, want RUNNING", l.State)
	}
}

// --- scenario 2: DTRS failure -------------------------------------------

func TestDTRSFailureMarksFailed(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	notifier := &fakeNotifier{}
	dtrs := &fakeDTRS{fail: "bad dt"}
	core := newTestCore(t, store, notifier, dtrs, &fakeBroker{}, &fakeParser{}, nil)

	req := LaunchRequest{
		DeployableType: "X",
		LaunchID:       "L2",
		Subscribers:    []string{"sub1"},
		Nodes: map[string]NodeGroupRequest{
			"g": {IDs: []string{"n1"}, Site: "nimbus-test", Allocation: "small"},
		},
	}

	launch, nodes, err := core.PrepareProvision(ctx, req)
	if err != nil {
		t.Fatalf("PrepareProvision: %v", err)
	}
	if launch.State != Failed {
		t.Fatalf("launch state = %v, want FAILED", launch.State)
	}
	if len(launch.StateDesc) < len(prefixDTRSLookupFailed) || launch.StateDesc[:len(prefixDTRSLookupFailed)] != prefixDTRSLookupFailed {
		t.Fatalf("launch state_desc = %q, want prefix %q", launch.StateDesc, prefixDTRSLookupFailed)
	}
	if nodes[0].State != Failed {
		t.Fatalf("node state = %v, want FAILED", nodes[0].State)
	}
	if len(notifier.all) != 1 {
		t.Fatalf("notified %d times, want 1", len(notifier.all))
	}
}

// --- scenario 3: group/spec count mismatch ------------------------------

func TestGroupCountMismatchFailsBeforeIaaS(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	notifier := &fakeNotifier{}
	dtrs := &fakeDTRS{document: "doc"}
	parser := &fakeParser{doc: &fakeDoc{needsCtx: true, specs: []Spec{{Name: "a", Count: 1}, {Name: "b", Count: 1}}}}
	driver := &fakeDriver{launchFn: func(spec Spec) ([]IaaSNode, error) {
		t.Fatalf("driver.Launch should not be called on group mismatch")
		return nil, nil
	}}
	core := newTestCore(t, store, notifier, dtrs, &fakeBroker{}, parser, map[string]IaaSDriver{"site": driver})

	req := LaunchRequest{
		DeployableType: "X",
		LaunchID:       "L3",
		Subscribers:    []string{"sub1"},
		Nodes: map[string]NodeGroupRequest{
			"a": {IDs: []string{"n1"}, Site: "site", Allocation: "small"},
		},
	}

	launch, nodes, err := core.PrepareProvision(ctx, req)
	if err != nil {
		t.Fatalf("PrepareProvision: %v", err)
	}
	if err := core.ExecuteProvision(ctx, launch, nodes); err != nil {
		t.Fatalf("ExecuteProvision: %v", err)
	}

	got, _ := store.GetLaunch(ctx, "L3")
	if got.State != Failed {
		t.Fatalf("launch state = %v, want FAILED", got.State)
	}
	if got.StateDesc[:len(prefixInvalidRequest)] != prefixInvalidRequest {
		t.Fatalf("state_desc = %q, want prefix %q", got.StateDesc, prefixInvalidRequest)
	}
}

// --- scenario 4: IaaS returns wrong count --------------------------------

func TestIaaSWrongCountFailsOnlyThatGroup(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	notifier := &fakeNotifier{}
	dtrs := &fakeDTRS{document: "doc"}
	parser := &fakeParser{doc: &fakeDoc{needsCtx: true, specs: []Spec{
		{Name: "good", Count: 1},
		{Name: "bad", Count: 2},
	}}}

	goodDriver := &fakeDriver{launchFn: func(spec Spec) ([]IaaSNode, error) {
		return []IaaSNode{{ID: "good-1", State: IaaSPending}}, nil
	}}
	badDriver := &fakeDriver{launchFn: func(spec Spec) ([]IaaSNode, error) {
		return []IaaSNode{{ID: "bad-1", State: IaaSPending}}, nil // only 1, but group has 2
	}}

	core := newTestCore(t, store, notifier, dtrs, &fakeBroker{}, parser, map[string]IaaSDriver{
		"good-site": goodDriver,
		"bad-site":  badDriver,
	})

	req := LaunchRequest{
		DeployableType: "X",
		LaunchID:       "L4",
		Subscribers:    []string{"sub1"},
		Nodes: map[string]NodeGroupRequest{
			"good": {IDs: []string{"gn1"}, Site: "good-site", Allocation: "small"},
			"bad":  {IDs: []string{"bn1", "bn2"}, Site: "bad-site", Allocation: "small"},
		},
	}

	launch, nodes, err := core.PrepareProvision(ctx, req)
	if err != nil {
		t.Fatalf("PrepareProvision: %v", err)
	}
	if err := core.ExecuteProvision(ctx, launch, nodes); err != nil {
		t.Fatalf("ExecuteProvision: %v", err)
	}

	gotLaunch, _ := store.GetLaunch(ctx, "L4")
	if gotLaunch.State != Pending {
		t.Fatalf("launch state = %v, want PENDING (group failure does not fail the whole launch)", gotLaunch.State)
	}

	good, _ := store.GetNodesByID(ctx, []string{"gn1"})
	if good[0].State != Pending {
		t.Fatalf("good group node state = %v, want PENDING", good[0].State)
	}

	bad, _ := store.GetNodesByID(ctx, []string{"bn1", "bn2"})
	for _, n := range bad {
		if n.State != Failed {
			t.Fatalf("bad group node state = %v, want FAILED", n.State)
		}
		if n.StateDesc[:len(prefixIaaSProblem)] != prefixIaaSProblem {
			t.Fatalf("bad group state_desc = %q, want prefix %q", n.StateDesc, prefixIaaSProblem)
		}
	}
}

// --- scenario 4b: DTRS-refined IaaS fields override the document's spec ---

func TestDTRSRefinedIaaSFieldsOverrideSpec(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	notifier := &fakeNotifier{}
	dtrs := &fakeDTRS{
		document: "doc",
		nodes: map[string]NodeGroupRequest{
			"g": {IaaSAllocation: "m1.xlarge", IaaSSSHKeyName: "refined-key"},
		},
	}
	parser := &fakeParser{doc: &fakeDoc{needsCtx: true, specs: []Spec{{Name: "g", Count: 1, Size: "m1.small", Keyname: "doc-key"}}}}

	var gotSpec Spec
	driver := &fakeDriver{launchFn: func(spec Spec) ([]IaaSNode, error) {
		gotSpec = spec
		return []IaaSNode{{ID: "i1", State: IaaSPending}}, nil
	}}
	core := newTestCore(t, store, notifier, dtrs, &fakeBroker{}, parser, map[string]IaaSDriver{"site": driver})

	req := LaunchRequest{
		DeployableType: "X",
		LaunchID:       "L4b",
		Subscribers:    []string{"sub1"},
		Nodes: map[string]NodeGroupRequest{
			"g": {IDs: []string{"n1"}, Site: "site", Allocation: "small"},
		},
	}

	launch, nodes, err := core.PrepareProvision(ctx, req)
	if err != nil {
		t.Fatalf("PrepareProvision: %v", err)
	}
	if nodes[0].IaaSAllocation != "m1.xlarge" || nodes[0].IaaSSSHKeyName != "refined-key" {
		t.Fatalf("node refined fields = %+v, want IaaSAllocation=m1.xlarge IaaSSSHKeyName=refined-key", nodes[0])
	}

	if err := core.ExecuteProvision(ctx, launch, nodes); err != nil {
		t.Fatalf("ExecuteProvision: %v", err)
	}

	if gotSpec.Size != "m1.xlarge" {
		t.Fatalf("launched spec.Size = %q, want DTRS-refined %q (document declared %q)", gotSpec.Size, "m1.xlarge", "m1.small")
	}
	if gotSpec.Keyname != "refined-key" {
		t.Fatalf("launched spec.Keyname = %q, want DTRS-refined %q (document declared %q)", gotSpec.Keyname, "refined-key", "doc-key")
	}
}

// --- scenario 5: disappeared node -----------------------------------------

func TestDisappearedNodeGraceWindow(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	notifier := &fakeNotifier{}
	driver := &fakeDriver{listResult: nil} // iaas_id never found
	core := newTestCore(t, store, notifier, &fakeDTRS{}, &fakeBroker{}, &fakeParser{}, map[string]IaaSDriver{"site": driver})

	launch := LaunchRecord{LaunchID: "L5", State: Pending, Subscribers: []string{"sub1"}}
	if err := store.PutLaunch(ctx, launch); err != nil {
		t.Fatalf("PutLaunch: %v", err)
	}

	fresh := NodeRecord{NodeID: "n-fresh", LaunchID: "L5", Site: "site", State: Pending, IaaSID: "i1", CreationTimestamp: time.Now().Add(-30 * time.Second)}
	stale := NodeRecord{NodeID: "n-stale", LaunchID: "L5", Site: "site", State: Pending, IaaSID: "i2", CreationTimestamp: time.Now().Add(-90 * time.Second)}
	if err := store.PutRecords(ctx, []NodeRecord{fresh, stale}, nil); err != nil {
		t.Fatalf("PutRecords: %v", err)
	}

	if err := core.QueryNodes(ctx); err != nil {
		t.Fatalf("QueryNodes: %v", err)
	}

	got, _ := store.GetNodesByID(ctx, []string{"n-fresh", "n-stale"})
	if got[0].State != Pending {
		t.Fatalf("fresh node (age 30s) state = %v, want unchanged PENDING", got[0].State)
	}
	if got[1].State != Failed {
		t.Fatalf("stale node (age 90s) state = %v, want FAILED", got[1].State)
	}
	if got[1].StateDesc != nodeDisappearedDesc() {
		t.Fatalf("stale node state_desc = %q, want %q", got[1].StateDesc, nodeDisappearedDesc())
	}
}

// --- scenario 6: terminate mid-lifecycle ----------------------------------

func TestTerminateMidLifecycle(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	notifier := &fakeNotifier{}
	driver := &fakeDriver{}
	core := newTestCore(t, store, notifier, &fakeDTRS{}, &fakeBroker{}, &fakeParser{}, map[string]IaaSDriver{"site": driver})

	launch := LaunchRecord{LaunchID: "L6", State: Pending, Subscribers: []string{"sub1"}}
	if err := store.PutLaunch(ctx, launch); err != nil {
		t.Fatalf("PutLaunch: %v", err)
	}
	node := NodeRecord{NodeID: "n1", LaunchID: "L6", Site: "site", State: Started, IaaSID: "i1"}
	if err := store.PutRecord(ctx, node, nil); err != nil {
		t.Fatalf("PutRecord: %v", err)
	}

	if err := core.MarkLaunchTerminating(ctx, "L6"); err != nil {
		t.Fatalf("MarkLaunchTerminating: %v", err)
	}
	got, _ := store.GetNodesByID(ctx, []string{"n1"})
	if got[0].State != Terminating {
		t.Fatalf("node state after mark_launch_terminating = %v, want TERMINATING", got[0].State)
	}
	if len(driver.destroyed) != 0 {
		t.Fatalf("driver.DestroyNode should not have been called by MarkLaunchTerminating")
	}

	if err := core.TerminateLaunch(ctx, "L6"); err != nil {
		t.Fatalf("TerminateLaunch: %v", err)
	}
	got, _ = store.GetNodesByID(ctx, []string{"n1"})
	if got[0].State != Terminated {
		t.Fatalf("node state after terminate_launch = %v, want TERMINATED", got[0].State)
	}
	if len(driver.destroyed) != 1 || driver.destroyed[0] != "i1" {
		t.Fatalf("destroyed = %v, want [i1]", driver.destroyed)
	}
}

// --- invariant: monotonicity under a lower iaas-reported state --------

func TestQueryNodesNeverRegressesState(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	notifier := &fakeNotifier{}
	driver := &fakeDriver{listResult: []IaaSNode{{ID: "i1", State: IaaSPending}}}
	core := newTestCore(t, store, notifier, &fakeDTRS{}, &fakeBroker{}, &fakeParser{}, map[string]IaaSDriver{"site": driver})

	launch := LaunchRecord{LaunchID: "L7", State: Pending, Subscribers: []string{"sub1"}}
	if err := store.PutLaunch(ctx, launch); err != nil {
		t.Fatalf("PutLaunch: %v", err)
	}
	node := NodeRecord{NodeID: "n1", LaunchID: "L7", Site: "site", State: Started, IaaSID: "i1", CreationTimestamp: time.Now()}
	if err := store.PutRecord(ctx, node, nil); err != nil {
		t.Fatalf("PutRecord: %v", err)
	}

	if err := core.QueryNodes(ctx); err != nil {
		t.Fatalf("QueryNodes: %v", err)
	}

	got, _ := store.GetNodesByID(ctx, []string{"n1"})
	if got[0].State != Started {
		t.Fatalf("node regressed to %v, want unchanged STARTED (IAAS_PENDING maps below STARTED)", got[0].State)
	}
}

package provisioner

import "time"

// LaunchRecord is the core's record of one submitted launch request.
type LaunchRecord struct {
	LaunchID       string            `json:"launch_id"`
	DeployableType string            `json:"deployable_type"`
	Document       string            `json:"document,omitempty"`
	Subscribers    []string          `json:"subscribers"`
	State          State             `json:"state"`
	StateDesc      string            `json:"state_desc,omitempty"`
	Context        *LaunchContext    `json:"context,omitempty"`
	Extra          map[string]string `json:"extra,omitempty"`
}

// LaunchContext is the handle returned by the context broker's Create call.
type LaunchContext struct {
	URI string `json:"uri"`
}

// NodeRecord is the core's record of one provisioned (or pending) VM.
type NodeRecord struct {
	NodeID    string `json:"node_id"`
	LaunchID  string `json:"launch_id"`
	State     State  `json:"state"`
	StateDesc string `json:"state_desc,omitempty"`

	Site       string `json:"site"`
	Allocation string `json:"allocation"`
	CtxName    string `json:"ctx_name"`

	IaaSID         string `json:"iaas_id,omitempty"`
	IaaSAllocation string `json:"iaas_allocation,omitempty"`
	IaaSSSHKeyName string `json:"iaas_sshkeyname,omitempty"`

	PublicIP  string            `json:"public_ip,omitempty"`
	PrivateIP string            `json:"private_ip,omitempty"`
	Extra     map[string]string `json:"extra,omitempty"`

	Pubkey string `json:"pubkey,omitempty"`

	ErrorCode    string `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`

	CreationTimestamp time.Time `json:"creation_timestamp"`
}

// Age returns how long ago the node record was created, per the startup
// grace window calculation in the query reconciler.
func (n NodeRecord) Age() time.Duration {
	return time.Since(n.CreationTimestamp)
}

// NodeGroupRequest describes one named node group within a launch request.
// IaaSAllocation/IaaSSSHKeyName normally come from a DTRS-refined
// DeployableTypeLookup.Nodes entry; when DTRS returns no entry for a group,
// the caller's own values are used. They override the cluster document's
// Spec.Size/Spec.Keyname at launch time, per the IaaS-field merge rule.
type NodeGroupRequest struct {
	IDs            []string `json:"ids"`
	Site           string   `json:"site"`
	Allocation     string   `json:"allocation"`
	IaaSAllocation string   `json:"iaas_allocation,omitempty"`
	IaaSSSHKeyName string   `json:"iaas_sshkeyname,omitempty"`
}

// LaunchRequest is the caller-supplied, structured input to PrepareProvision.
type LaunchRequest struct {
	DeployableType string                      `json:"deployable_type"`
	LaunchID       string                      `json:"launch_id"`
	Subscribers    []string                    `json:"subscribers"`
	Nodes          map[string]NodeGroupRequest `json:"nodes"`
	Vars           map[string]string           `json:"vars,omitempty"`
}

// IaaSNode is one VM as reported by an IaaS driver, either from ListNodes or
// as the result of a Launch call.
type IaaSNode struct {
	ID        string
	State     IaaSState
	PublicIP  []string
	PrivateIP []string
	Extra     map[string]string
}

// firstOrEmpty de-lists a single-element (or empty) IP sequence, matching
// the original core's handling of drivers that return IPs as 1-item lists.
func firstOrEmpty(ips []string) string {
	if len(ips) == 0 {
		return ""
	}
	return ips[0]
}

// Spec is one node-group's VM template, extracted from a parsed cluster
// document.
type Spec struct {
	Name    string
	Count   int
	Size    string
	Keyname string
}

// ContextIdentity is one node's self-reported identity during
// contextualization.
type ContextIdentity struct {
	IP       string
	Hostname string
	Pubkey   string
}

// ContextNode is one entry in a context broker query response.
type ContextNode struct {
	Identities   []ContextIdentity
	OKOccurred   bool
	ErrorOccurred bool
	ErrorCode    string
	ErrorMessage string
}

// ContextQueryResult is the broker's answer to Query(uri).
type ContextQueryResult struct {
	Nodes         []ContextNode
	Complete      bool
	ExpectedCount int
}

// DeployableTypeLookup is DTRS's answer to Lookup: a cluster document plus
// possibly-refined per-group IaaS parameters.
type DeployableTypeLookup struct {
	Document string
	Nodes    map[string]NodeGroupRequest
}

// NodesSummary is the per-group summary the core sends to DTRS: a node
// count plus the group's site/allocation, with no node identities.
type NodesSummary struct {
	Count      int
	Site       string
	Allocation string
}

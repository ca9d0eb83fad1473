// Package dtrs is a REST client for the Deployable Type Resolution Service:
// it resolves a deployable type name into a cluster document plus
// per-group IaaS parameters. No published Go SDK exists for DTRS, so this
// is a direct net/http client; it builds its one request inline rather than
// through a do() helper like those in pkg/iaas/nimbusdriver and
// pkg/mattermost.
package dtrs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/nimbus-provisioner/provisioner/pkg/provisioner"
)

// Client is a provisioner.DTRS backed by a DTRS HTTP endpoint.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New builds a Client.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{baseURL: baseURL, httpClient: httpClient}
}

type lookupRequest struct {
	DeployableType string                             `json:"deployable_type"`
	Nodes          map[string]provisioner.NodesSummary `json:"nodes"`
	Vars           map[string]string                  `json:"vars,omitempty"`
}

type lookupResponse struct {
	Document string                   `json:"document"`
	Nodes    map[string]nodeGroupWire `json:"nodes"`
	Error    string                   `json:"error,omitempty"`
}

// nodeGroupWire mirrors provisioner.NodeGroupRequest's refinement fields as
// DTRS reports them: DTRS never echoes back the caller's node IDs, only the
// site/allocation/IaaS-parameter overrides for a group.
type nodeGroupWire struct {
	Site           string `json:"site"`
	Allocation     string `json:"allocation"`
	IaaSAllocation string `json:"iaas_allocation"`
	IaaSSSHKeyName string `json:"iaas_sshkeyname"`
}

// Lookup resolves deployableType into a cluster document and refined
// per-group IaaS parameters. A non-2xx response or a non-empty Error field
// in an otherwise successful response both surface as a
// DeployableTypeLookupError, which the core records as a FAILED launch
// rather than propagating.
func (c *Client) Lookup(ctx context.Context, deployableType string, nodes map[string]provisioner.NodesSummary, vars map[string]string) (provisioner.DeployableTypeLookup, error) {
	body, err := json.Marshal(lookupRequest{DeployableType: deployableType, Nodes: nodes, Vars: vars})
	if err != nil {
		return provisioner.DeployableTypeLookup{}, fmt.Errorf("marshal lookup request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/lookup", bytes.NewReader(body))
	if err != nil {
		return provisioner.DeployableTypeLookup{}, fmt.Errorf("build lookup request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return provisioner.DeployableTypeLookup{}, &provisioner.DeployableTypeLookupError{Reason: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return provisioner.DeployableTypeLookup{}, &provisioner.DeployableTypeLookupError{
			Reason: fmt.Sprintf("dtrs returned status %d: %s", resp.StatusCode, string(respBody)),
		}
	}

	var out lookupResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return provisioner.DeployableTypeLookup{}, &provisioner.DeployableTypeLookupError{Reason: "decode response: " + err.Error()}
	}
	if out.Error != "" {
		return provisioner.DeployableTypeLookup{}, &provisioner.DeployableTypeLookupError{Reason: out.Error}
	}

	var refinedNodes map[string]provisioner.NodeGroupRequest
	if out.Nodes != nil {
		refinedNodes = make(map[string]provisioner.NodeGroupRequest, len(out.Nodes))
		for name, n := range out.Nodes {
			refinedNodes[name] = provisioner.NodeGroupRequest{
				Site:           n.Site,
				Allocation:     n.Allocation,
				IaaSAllocation: n.IaaSAllocation,
				IaaSSSHKeyName: n.IaaSSSHKeyName,
			}
		}
	}

	return provisioner.DeployableTypeLookup{Document: out.Document, Nodes: refinedNodes}, nil
}

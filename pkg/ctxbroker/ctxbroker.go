// Package ctxbroker is a REST client for the contextualization broker: it
// creates a rendezvous context for a launch and polls it for node identity
// reports. A direct net/http client: like pkg/dtrs, each method builds its
// request inline, with no shared do() helper.
package ctxbroker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/nimbus-provisioner/provisioner/pkg/provisioner"
)

// Client is a provisioner.ContextBroker backed by a broker HTTP endpoint.
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

type createResponse struct {
	URI   string `json:"uri"`
	Error string `json:"error,omitempty"`
}

// Create asks the broker to open a new rendezvous context.
func (c *Client) Create(ctx context.Context) (provisioner.LaunchContext, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/contexts", nil)
	if err != nil {
		return provisioner.LaunchContext{}, fmt.Errorf("build create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return provisioner.LaunchContext{}, &provisioner.BrokerError{Reason: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return provisioner.LaunchContext{}, &provisioner.BrokerError{
			Reason: fmt.Sprintf("broker create returned status %d: %s", resp.StatusCode, string(body)),
		}
	}

	var out createResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return provisioner.LaunchContext{}, &provisioner.BrokerError{Reason: "decode create response: " + err.Error()}
	}
	if out.Error != "" {
		return provisioner.LaunchContext{}, &provisioner.BrokerError{Reason: out.Error}
	}
	return provisioner.LaunchContext{URI: out.URI}, nil
}

type identityWire struct {
	IP       string `json:"ip"`
	Hostname string `json:"hostname"`
	Pubkey   string `json:"pubkey"`
}

type contextNodeWire struct {
	Identities   []identityWire `json:"identities"`
	OKOccurred   bool           `json:"ok_occurred"`
	ErrorOccurred bool          `json:"error_occurred"`
	ErrorCode    string         `json:"error_code"`
	ErrorMessage string         `json:"error_message"`
}

type queryResponse struct {
	Nodes         []contextNodeWire `json:"nodes"`
	Complete      bool              `json:"complete"`
	ExpectedCount int               `json:"expected_count"`
	Error         string            `json:"error,omitempty"`
}

// Query polls the broker for the current rendezvous state at uri.
func (c *Client) Query(ctx context.Context, uri string) (provisioner.ContextQueryResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return provisioner.ContextQueryResult{}, fmt.Errorf("build query request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return provisioner.ContextQueryResult{}, &provisioner.BrokerError{Reason: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return provisioner.ContextQueryResult{}, &provisioner.BrokerError{
			Reason: fmt.Sprintf("broker query returned status %d: %s", resp.StatusCode, string(body)),
		}
	}

	var out queryResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return provisioner.ContextQueryResult{}, &provisioner.BrokerError{Reason: "decode query response: " + err.Error()}
	}
	if out.Error != "" {
		return provisioner.ContextQueryResult{}, &provisioner.BrokerError{Reason: out.Error}
	}

	nodes := make([]provisioner.ContextNode, 0, len(out.Nodes))
	for _, n := range out.Nodes {
		idents := make([]provisioner.ContextIdentity, 0, len(n.Identities))
		for _, id := range n.Identities {
			idents = append(idents, provisioner.ContextIdentity{IP: id.IP, Hostname: id.Hostname, Pubkey: id.Pubkey})
		}
		nodes = append(nodes, provisioner.ContextNode{
			Identities:    idents,
			OKOccurred:    n.OKOccurred,
			ErrorOccurred: n.ErrorOccurred,
			ErrorCode:     n.ErrorCode,
			ErrorMessage:  n.ErrorMessage,
		})
	}

	return provisioner.ContextQueryResult{
		Nodes:         nodes,
		Complete:      out.Complete,
		ExpectedCount: out.ExpectedCount,
	}, nil
}

// Package nimbusdriver implements provisioner.IaaSDriver against a Nimbus
// cluster manager's REST API. No published Go SDK for Nimbus exists, so
// this is a direct net/http client in the same do()-helper shape used by
// this codebase's other REST clients.
package nimbusdriver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/nimbus-provisioner/provisioner/pkg/provisioner"
)

// Driver is a provisioner.IaaSDriver backed by one Nimbus site endpoint.
type Driver struct {
	baseURL    string
	key        string
	secret     string
	httpClient *http.Client
	logger     *slog.Logger
}

// Config configures a Driver.
type Config struct {
	BaseURL    string
	Key        string
	Secret     string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// New builds a Driver.
func New(cfg Config) *Driver {
	client := cfg.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{
		baseURL:    cfg.BaseURL,
		key:        cfg.Key,
		secret:     cfg.Secret,
		httpClient: client,
		logger:     logger,
	}
}

type nodeWire struct {
	ID        string            `json:"id"`
	State     string            `json:"state"`
	PublicIP  []string          `json:"public_ip"`
	PrivateIP []string          `json:"private_ip"`
	Extra     map[string]string `json:"extra"`
}

func (n nodeWire) toIaaSNode() provisioner.IaaSNode {
	return provisioner.IaaSNode{
		ID:        n.ID,
		State:     provisioner.IaaSState(n.State),
		PublicIP:  n.PublicIP,
		PrivateIP: n.PrivateIP,
		Extra:     n.Extra,
	}
}

// ListNodes returns every node the Nimbus site currently tracks.
func (d *Driver) ListNodes(ctx context.Context) ([]provisioner.IaaSNode, error) {
	var wire []nodeWire
	if err := d.do(ctx, http.MethodGet, "/nodes", nil, &wire); err != nil {
		return nil, fmt.Errorf("list nodes: %w", err)
	}

	nodes := make([]provisioner.IaaSNode, 0, len(wire))
	for _, w := range wire {
		nodes = append(nodes, w.toIaaSNode())
	}
	return nodes, nil
}

type launchRequest struct {
	Size    string `json:"size"`
	Keyname string `json:"keyname"`
	Count   int    `json:"count"`
}

// Launch requests spec.Count nodes from the site.
func (d *Driver) Launch(ctx context.Context, spec provisioner.Spec) ([]provisioner.IaaSNode, error) {
	count := spec.Count
	if count == 0 {
		count = 1
	}
	body := launchRequest{Size: spec.Size, Keyname: spec.Keyname, Count: count}

	var wire []nodeWire
	if err := d.do(ctx, http.MethodPost, "/nodes", body, &wire); err != nil {
		return nil, fmt.Errorf("launch: %w", err)
	}

	nodes := make([]provisioner.IaaSNode, 0, len(wire))
	for _, w := range wire {
		nodes = append(nodes, w.toIaaSNode())
	}
	return nodes, nil
}

// DestroyNode requests termination of one node.
func (d *Driver) DestroyNode(ctx context.Context, node provisioner.IaaSNode) error {
	if err := d.do(ctx, http.MethodDelete, "/nodes/"+node.ID, nil, nil); err != nil {
		return fmt.Errorf("destroy node %s: %w", node.ID, err)
	}
	return nil
}

func (d *Driver) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody *bytes.Buffer
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewBuffer(b)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, d.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(d.key, d.secret)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("nimbus site returned status %d", resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

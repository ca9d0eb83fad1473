// Package mattermost implements the messaging.Provider interface for
// Mattermost, delivering node state-change notifications via the
// Mattermost REST API v4. No official Go SDK is vendored by the examples
// this repo is grounded on, so this is a direct net/http client.
package mattermost

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

// Client wraps the Mattermost REST API v4.
type Client struct {
	baseURL    string // e.g. "https://mattermost.example.com"
	botToken   string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a Mattermost API client.
func NewClient(baseURL, botToken string, logger *slog.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		botToken:   botToken,
		httpClient: &http.Client{},
		logger:     logger,
	}
}

// IsEnabled returns true if the client has a valid URL and token.
func (c *Client) IsEnabled() bool {
	return c.baseURL != "" && c.botToken != ""
}

// Post represents a Mattermost post.
type Post struct {
	ID        string         `json:"id,omitempty"`
	ChannelID string         `json:"channel_id"`
	Message   string         `json:"message"`
	Props     map[string]any `json:"props,omitempty"`
}

// CreatePost sends a post to a channel.
func (c *Client) CreatePost(ctx context.Context, post Post) (*Post, error) {
	var result Post
	if err := c.do(ctx, http.MethodPost, "/api/v4/posts", post, &result); err != nil {
		return nil, fmt.Errorf("creating post: %w", err)
	}
	return &result, nil
}

// Ping checks if the Mattermost server is reachable.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/api/v4/system/ping", nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body any, result any) error {
	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshalling request body: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.botToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("mattermost API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}

	return nil
}

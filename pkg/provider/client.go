package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// API is the provider surface the rest of the system depends on. Implementations
// must be safe for concurrent use.
type API interface {
	CreateNode(ctx context.Context, req CreateRequest) (*Node, error)
	GetNode(ctx context.Context, id string) (*Node, error)
	StopNode(ctx context.Context, id string) error
	TerminateNode(ctx context.Context, id string) error
	ListNodes(ctx context.Context) ([]Node, error)
}

// ErrNotFound is returned when the provider no longer knows the node.
var ErrNotFound = fmt.Errorf("node not found")

// Client talks to the cloud provider's node API over HTTP. Every response
// arrives in a uniform {success, data, error} envelope; a failed envelope is
// surfaced as an error carrying the provider message verbatim.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

var _ API = (*Client)(nil)

// NewClient creates a provider client with sane defaults.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error,omitempty"`
}

// CreateNode asks the provider for a new GPU instance.
func (c *Client) CreateNode(ctx context.Context, req CreateRequest) (*Node, error) {
	data, err := c.do(ctx, http.MethodPost, "/v1/nodes", req)
	if err != nil {
		return nil, err
	}
	var node Node
	if err := json.Unmarshal(data, &node); err != nil {
		return nil, fmt.Errorf("decode created node: %w", err)
	}
	return &node, nil
}

// GetNode fetches current node state.
func (c *Client) GetNode(ctx context.Context, id string) (*Node, error) {
	data, err := c.do(ctx, http.MethodGet, "/v1/nodes/"+id, nil)
	if err != nil {
		return nil, err
	}
	var node Node
	if err := json.Unmarshal(data, &node); err != nil {
		return nil, fmt.Errorf("decode node: %w", err)
	}
	return &node, nil
}

// StopNode halts the node without destroying its disk.
func (c *Client) StopNode(ctx context.Context, id string) error {
	_, err := c.do(ctx, http.MethodPost, "/v1/nodes/"+id+"/stop", nil)
	return err
}

// TerminateNode destroys the node. Irreversible.
func (c *Client) TerminateNode(ctx context.Context, id string) error {
	_, err := c.do(ctx, http.MethodPost, "/v1/nodes/"+id+"/terminate", nil)
	return err
}

// ListNodes returns every node visible to the account.
func (c *Client) ListNodes(ctx context.Context) ([]Node, error) {
	data, err := c.do(ctx, http.MethodGet, "/v1/nodes", nil)
	if err != nil {
		return nil, err
	}
	var nodes []Node
	if err := json.Unmarshal(data, &nodes); err != nil {
		return nil, fmt.Errorf("decode node list: %w", err)
	}
	return nodes, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload any) (json.RawMessage, error) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal provider request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create provider request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("provider request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read provider response: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode provider envelope (%s): %w", http.StatusText(resp.StatusCode), err)
	}
	if !env.Success {
		msg := strings.TrimSpace(env.Error)
		if msg == "" {
			msg = fmt.Sprintf("provider returned status %d", resp.StatusCode)
		}
		return nil, fmt.Errorf("provider: %s", msg)
	}
	return env.Data, nil
}

package jobrunner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sethgrid/pester"

	"github.com/vibeway/renderfarm/pkg/logging"
)

// Receipt identifies a submitted job on the remote queue. Consumed once by
// the completion watcher.
type Receipt struct {
	JobID string `json:"jobId"`
}

// ClientOptions tune the queue client. Zero values use the defaults below.
type ClientOptions struct {
	// ReadTimeout bounds the wait for a single stream event before a
	// liveness probe is attempted.
	ReadTimeout time.Duration
	// ProbeTimeout bounds one liveness probe round trip.
	ProbeTimeout time.Duration
	// ProbeRetries is how many probe attempts run before the node counts as
	// unreachable.
	ProbeRetries int
}

const (
	defaultReadTimeout  = 30 * time.Second
	defaultProbeTimeout = 5 * time.Second
)

// Client talks to the job queue service on a recruited node: graph
// submission, the completion event stream, and liveness probing.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	streamClient *http.Client
	probe        *pester.Client
	readTimeout  time.Duration
	log          logging.Logger
}

// NewClient creates a queue client for the node endpoint.
func NewClient(baseURL string, opts ClientOptions, log logging.Logger) *Client {
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = defaultReadTimeout
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = defaultProbeTimeout
	}
	if opts.ProbeRetries <= 0 {
		opts.ProbeRetries = 3
	}
	if log == nil {
		log = logging.Nop{}
	}

	// A single failed probe round trip should not declare the node dead;
	// pester retries transient blips before the watcher gives up.
	probe := pester.New()
	probe.Concurrency = 1
	probe.MaxRetries = opts.ProbeRetries
	probe.Backoff = pester.LinearBackoff
	probe.Timeout = opts.ProbeTimeout

	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		// The stream client carries no client-side timeout; the watcher owns
		// both the per-event and the overall deadline.
		streamClient: &http.Client{},
		probe:        probe,
		readTimeout:  opts.ReadTimeout,
		log:          log,
	}
}

// Submit POSTs the graph to the queue's submission endpoint and returns the
// assigned job id. Transport, validation and protocol failures map to
// ErrTransport, ErrQueueRejected and ErrProtocol respectively; the remote
// validation body is surfaced verbatim because it is the most useful
// diagnostic the queue produces.
func (c *Client) Submit(ctx context.Context, graph Graph) (Receipt, error) {
	payload, err := json.Marshal(map[string]any{"graph": graph})
	if err != nil {
		return Receipt{}, fmt.Errorf("marshal graph: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/submit", bytes.NewReader(payload))
	if err != nil {
		return Receipt{}, fmt.Errorf("create submit request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Receipt{}, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return Receipt{}, fmt.Errorf("%w (status %d): %s", ErrQueueRejected, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var receipt Receipt
	if err := json.NewDecoder(resp.Body).Decode(&receipt); err != nil {
		return Receipt{}, fmt.Errorf("%w: decode submit response: %v", ErrProtocol, err)
	}
	if receipt.JobID == "" {
		return Receipt{}, fmt.Errorf("%w: submit response missing jobId", ErrProtocol)
	}

	c.log.Info("job submitted", "jobID", receipt.JobID)
	return receipt, nil
}

// QueueDepth asks the queue for its outstanding work count.
func (c *Client) QueueDepth(ctx context.Context) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/queue", nil)
	if err != nil {
		return 0, fmt.Errorf("create queue depth request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return 0, fmt.Errorf("%w: queue depth status %d: %s", ErrProtocol, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var depth struct {
		QueueRemaining int `json:"queue_remaining"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&depth); err != nil {
		return 0, fmt.Errorf("%w: decode queue depth: %v", ErrProtocol, err)
	}
	return depth.QueueRemaining, nil
}

// Alive probes the queue's health endpoint.
func (c *Client) Alive(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.probe.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
	return resp.StatusCode == http.StatusOK
}

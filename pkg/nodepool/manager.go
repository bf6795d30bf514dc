package nodepool

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/vibeway/renderfarm/pkg/logging"
	"github.com/vibeway/renderfarm/pkg/provider"
)

// ErrNotReady is returned when a node never exposed its service port within
// the polling budget.
var ErrNotReady = errors.New("node did not become ready")

// Options tune the manager. Zero values fall back to the defaults below.
type Options struct {
	// PollDelay is the fixed pause between readiness polls.
	PollDelay time.Duration
	// ProxyDomain is the provider's reverse-proxy domain used to reach nodes
	// that have no public address, keyed by node id and port.
	ProxyDomain string
	// RetryDelay is used when a RecruitmentSpec carries none.
	RetryDelay time.Duration
}

const (
	defaultPollDelay   = 10 * time.Second
	defaultRetryDelay  = 5 * time.Second
	defaultProxyDomain = "proxy.renderfarm.net"
)

// Manager owns node recruitment, readiness polling and release against one
// provider account. Safe for concurrent use across independent runs.
type Manager struct {
	api  provider.API
	opts Options
	log  logging.Logger
}

// NewManager wires a manager over a provider API.
func NewManager(api provider.API, opts Options, log logging.Logger) *Manager {
	if opts.PollDelay <= 0 {
		opts.PollDelay = defaultPollDelay
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = defaultRetryDelay
	}
	if strings.TrimSpace(opts.ProxyDomain) == "" {
		opts.ProxyDomain = defaultProxyDomain
	}
	if log == nil {
		log = logging.Nop{}
	}
	return &Manager{api: api, opts: opts, log: log}
}

// Recruit attempts node creation up to spec.MaxRetries times with a fixed
// delay between attempts, cycling through the GPU preference list. The first
// success returns immediately; exhaustion surfaces the last provider error
// verbatim.
func (m *Manager) Recruit(ctx context.Context, spec RecruitmentSpec) RecruitmentResult {
	if len(spec.GPUTypeIDs) == 0 {
		return RecruitmentResult{Err: errors.New("recruitment spec has no gpu types")}
	}

	maxRetries := spec.MaxRetries
	if maxRetries < 1 {
		maxRetries = 1
	}
	delay := spec.RetryDelay
	if delay <= 0 {
		delay = m.opts.RetryDelay
	}

	// Capacity errors are typically transient and clear on their own, so the
	// delay stays constant rather than growing exponentially.
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(delay), uint64(maxRetries-1)),
		ctx,
	)

	var (
		attempts int
		node     *provider.Node
		gpuType  string
	)
	op := func() error {
		gpuType = spec.GPUTypeIDs[attempts%len(spec.GPUTypeIDs)]
		attempts++
		created, err := m.api.CreateNode(ctx, createRequest(spec, gpuType))
		if err != nil {
			m.log.Warn("node creation failed", "attempt", attempts, "gpuType", gpuType, "error", err)
			return err
		}
		node = created
		return nil
	}

	if err := backoff.Retry(op, policy); err != nil {
		return RecruitmentResult{Attempts: attempts, Err: err}
	}

	if node.GPUTypeID != "" {
		gpuType = node.GPUTypeID
	}
	m.log.Info("node recruited", "nodeID", node.ID, "gpuType", gpuType, "attempts", attempts)
	return RecruitmentResult{Success: true, Node: node, GPUTypeID: gpuType, Attempts: attempts}
}

func createRequest(spec RecruitmentSpec, gpuType string) provider.CreateRequest {
	return provider.CreateRequest{
		Name:            spec.Name,
		ImageName:       spec.ImageName,
		CloudType:       spec.CloudType,
		GPUTypeID:       gpuType,
		GPUCount:        spec.GPUCount,
		MinMemoryGB:     spec.MinMemoryGB,
		MinVCPUCount:    spec.MinVCPUCount,
		ContainerDiskGB: spec.ContainerDiskGB,
		Ports:           spec.Ports,
		CountryCode:     spec.CountryCode,
		TemplateID:      spec.TemplateID,
	}
}

// WaitForReady polls node state until it is RUNNING with portDecl (for
// example "8188/http") in its exposure list, up to maxAttempts polls.
// Readiness is decided on the port declaration alone: a node behind the
// provider proxy is reachable with an empty public address.
func (m *Manager) WaitForReady(ctx context.Context, nodeID, portDecl string, maxAttempts int) Readiness {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		node, err := m.api.GetNode(ctx, nodeID)
		switch {
		case err != nil:
			m.log.Warn("readiness poll failed", "nodeID", nodeID, "attempt", attempt, "error", err)
		case node.Status == provider.StatusRunning && hasPort(node.Ports, portDecl):
			url := m.connectURL(node, portDecl)
			m.log.Info("node ready", "nodeID", nodeID, "attempt", attempt, "url", url)
			return Readiness{Ready: true, URL: url, Attempts: attempt}
		}
		if attempt == maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return Readiness{Attempts: attempt, Err: ctx.Err()}
		case <-time.After(m.opts.PollDelay):
		}
	}
	return Readiness{Attempts: maxAttempts, Err: ErrNotReady}
}

func hasPort(ports []string, decl string) bool {
	for _, p := range ports {
		if strings.EqualFold(strings.TrimSpace(p), decl) {
			return true
		}
	}
	return false
}

// connectURL prefers a direct public binding and falls back to the
// provider-side reverse proxy keyed by node id and port.
func (m *Manager) connectURL(node *provider.Node, portDecl string) string {
	port := portNumber(portDecl)
	for _, b := range node.Bindings {
		if b.PrivatePort == port && b.IsPublic && b.IP != "" {
			return fmt.Sprintf("http://%s:%d", b.IP, b.PublicPort)
		}
	}
	return fmt.Sprintf("https://%s-%d.%s", node.ID, port, m.opts.ProxyDomain)
}

func portNumber(decl string) int {
	var n int
	for _, r := range decl {
		if r < '0' || r > '9' {
			break
		}
		n = n*10 + int(r-'0')
	}
	return n
}

// Release stops or terminates a node. Idempotent: a node that is already
// down, or gone entirely, counts as released. Failures are reported, never
// panicked, so cleanup cannot mask a primary job outcome.
func (m *Manager) Release(ctx context.Context, nodeID string, terminate bool) ReleaseResult {
	node, err := m.api.GetNode(ctx, nodeID)
	if err != nil {
		if errors.Is(err, provider.ErrNotFound) {
			return ReleaseResult{NodeID: nodeID, Success: true, AlreadyDown: true}
		}
		// State unknown; attempt the release anyway.
		m.log.Warn("release state check failed", "nodeID", nodeID, "error", err)
	} else {
		switch node.Status {
		case provider.StatusTerminated:
			return ReleaseResult{NodeID: nodeID, Success: true, AlreadyDown: true}
		case provider.StatusStopped:
			if !terminate {
				return ReleaseResult{NodeID: nodeID, Success: true, AlreadyDown: true}
			}
		}
	}

	if terminate {
		err = m.api.TerminateNode(ctx, nodeID)
	} else {
		err = m.api.StopNode(ctx, nodeID)
	}
	if err != nil {
		m.log.Error("node release failed", "nodeID", nodeID, "terminate", terminate, "error", err)
		return ReleaseResult{NodeID: nodeID, Err: fmt.Errorf("release node %s: %w", nodeID, err)}
	}
	m.log.Info("node released", "nodeID", nodeID, "terminate", terminate)
	return ReleaseResult{NodeID: nodeID, Success: true}
}

// ListActive returns the nodes currently RUNNING.
func (m *Manager) ListActive(ctx context.Context) ([]provider.Node, error) {
	nodes, err := m.api.ListNodes(ctx)
	if err != nil {
		return nil, fmt.Errorf("list nodes: %w", err)
	}
	active := make([]provider.Node, 0, len(nodes))
	for _, n := range nodes {
		if n.Status == provider.StatusRunning {
			active = append(active, n)
		}
	}
	return active, nil
}

// CloseAll releases every node (or only RUNNING ones when includeAll is
// false), collecting per-node outcomes. One node's failure never aborts the
// sweep of the rest.
func (m *Manager) CloseAll(ctx context.Context, terminate, includeAll bool) (SweepReport, error) {
	nodes, err := m.api.ListNodes(ctx)
	if err != nil {
		return SweepReport{}, fmt.Errorf("list nodes: %w", err)
	}

	var report SweepReport
	for _, n := range nodes {
		if !includeAll && n.Status != provider.StatusRunning {
			continue
		}
		res := m.Release(ctx, n.ID, terminate)
		report.Results = append(report.Results, res)
		if res.Success {
			report.Succeeded++
		} else {
			report.Failed++
		}
	}
	return report, nil
}

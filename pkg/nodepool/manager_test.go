package nodepool

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vibeway/renderfarm/pkg/provider"
)

type fakeAPI struct {
	create    func(provider.CreateRequest) (*provider.Node, error)
	get       func(string) (*provider.Node, error)
	stop      func(string) error
	terminate func(string) error
	list      func() ([]provider.Node, error)
}

func (f *fakeAPI) CreateNode(_ context.Context, req provider.CreateRequest) (*provider.Node, error) {
	return f.create(req)
}

func (f *fakeAPI) GetNode(_ context.Context, id string) (*provider.Node, error) {
	return f.get(id)
}

func (f *fakeAPI) StopNode(_ context.Context, id string) error {
	if f.stop == nil {
		return nil
	}
	return f.stop(id)
}

func (f *fakeAPI) TerminateNode(_ context.Context, id string) error {
	if f.terminate == nil {
		return nil
	}
	return f.terminate(id)
}

func (f *fakeAPI) ListNodes(_ context.Context) ([]provider.Node, error) {
	return f.list()
}

func testManager(api provider.API) *Manager {
	return NewManager(api, Options{
		PollDelay:  time.Millisecond,
		RetryDelay: time.Millisecond,
	}, nil)
}

func TestRecruitSucceedsAfterCapacityErrors(t *testing.T) {
	calls := 0
	var gpusSeen []string
	api := &fakeAPI{
		create: func(req provider.CreateRequest) (*provider.Node, error) {
			calls++
			gpusSeen = append(gpusSeen, req.GPUTypeID)
			if calls < 3 {
				return nil, errors.New("no capacity for requested gpu")
			}
			return &provider.Node{ID: "node-1", Status: provider.StatusPending, GPUTypeID: req.GPUTypeID}, nil
		},
	}

	spec := RecruitmentSpec{
		GPUTypeIDs: []string{"NVIDIA GeForce RTX 4090", "NVIDIA RTX A5000"},
		MaxRetries: 5,
		RetryDelay: time.Millisecond,
	}
	res := testManager(api).Recruit(context.Background(), spec)

	if !res.Success {
		t.Fatalf("expected success, got error: %v", res.Err)
	}
	if res.Attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", res.Attempts)
	}
	if calls != 3 {
		t.Fatalf("expected exactly 3 provider calls, got %d", calls)
	}
	if res.Node.ID != "node-1" {
		t.Fatalf("unexpected node: %#v", res.Node)
	}
	// Attempts cycle through the preference list.
	if gpusSeen[0] != spec.GPUTypeIDs[0] || gpusSeen[1] != spec.GPUTypeIDs[1] || gpusSeen[2] != spec.GPUTypeIDs[0] {
		t.Fatalf("unexpected gpu fallback order: %v", gpusSeen)
	}
}

func TestRecruitStopsAtFirstSuccess(t *testing.T) {
	calls := 0
	api := &fakeAPI{
		create: func(req provider.CreateRequest) (*provider.Node, error) {
			calls++
			return &provider.Node{ID: "node-1"}, nil
		},
	}
	res := testManager(api).Recruit(context.Background(), RecruitmentSpec{
		GPUTypeIDs: []string{"A100"},
		MaxRetries: 5,
	})
	if !res.Success || res.Attempts != 1 || calls != 1 {
		t.Fatalf("expected one call one attempt, got attempts=%d calls=%d", res.Attempts, calls)
	}
}

func TestRecruitExhaustionSurfacesLastError(t *testing.T) {
	calls := 0
	api := &fakeAPI{
		create: func(req provider.CreateRequest) (*provider.Node, error) {
			calls++
			if calls == 3 {
				return nil, errors.New("authentication failed")
			}
			return nil, errors.New("no capacity")
		},
	}
	res := testManager(api).Recruit(context.Background(), RecruitmentSpec{
		GPUTypeIDs: []string{"A100"},
		MaxRetries: 3,
		RetryDelay: time.Millisecond,
	})
	if res.Success {
		t.Fatal("expected failure")
	}
	if calls != 3 || res.Attempts != 3 {
		t.Fatalf("expected 3 calls/attempts, got calls=%d attempts=%d", calls, res.Attempts)
	}
	if res.Err == nil || res.Err.Error() != "authentication failed" {
		t.Fatalf("expected last error verbatim, got %v", res.Err)
	}
}

func TestWaitForReadyPortDeclarationDecides(t *testing.T) {
	// Running with the port declared but no public IP: ready. The provider
	// proxy reaches such nodes by id and port.
	api := &fakeAPI{
		get: func(id string) (*provider.Node, error) {
			return &provider.Node{
				ID:     id,
				Status: provider.StatusRunning,
				Ports:  []string{"22/tcp", "8188/http"},
			}, nil
		},
	}
	ready := testManager(api).WaitForReady(context.Background(), "node-1", "8188/http", 3)
	if !ready.Ready {
		t.Fatalf("expected ready despite empty public IP: %+v", ready)
	}
	if ready.URL != "https://node-1-8188.proxy.renderfarm.net" {
		t.Fatalf("unexpected proxy URL: %s", ready.URL)
	}

	// Running with a public IP but without the port declared: not ready.
	api.get = func(id string) (*provider.Node, error) {
		return &provider.Node{
			ID:       id,
			Status:   provider.StatusRunning,
			PublicIP: "203.0.113.5",
			Ports:    []string{"22/tcp"},
		}, nil
	}
	ready = testManager(api).WaitForReady(context.Background(), "node-1", "8188/http", 2)
	if ready.Ready {
		t.Fatal("expected not ready when port is missing")
	}
	if !errors.Is(ready.Err, ErrNotReady) {
		t.Fatalf("expected ErrNotReady, got %v", ready.Err)
	}
}

func TestWaitForReadyEventuallyReady(t *testing.T) {
	polls := 0
	api := &fakeAPI{
		get: func(id string) (*provider.Node, error) {
			polls++
			if polls < 2 {
				return &provider.Node{ID: id, Status: provider.StatusPending}, nil
			}
			return &provider.Node{ID: id, Status: provider.StatusRunning, Ports: []string{"8188/http"}}, nil
		},
	}
	ready := testManager(api).WaitForReady(context.Background(), "node-1", "8188/http", 5)
	if !ready.Ready || ready.Attempts != 2 {
		t.Fatalf("expected ready on poll 2, got %+v", ready)
	}
}

func TestWaitForReadyUsesPublicBinding(t *testing.T) {
	api := &fakeAPI{
		get: func(id string) (*provider.Node, error) {
			return &provider.Node{
				ID:     id,
				Status: provider.StatusRunning,
				Ports:  []string{"8188/http"},
				Bindings: []provider.PortBinding{
					{PrivatePort: 8188, PublicPort: 30123, IP: "203.0.113.9", IsPublic: true},
				},
			}, nil
		},
	}
	ready := testManager(api).WaitForReady(context.Background(), "node-1", "8188/http", 1)
	if ready.URL != "http://203.0.113.9:30123" {
		t.Fatalf("expected direct URL, got %s", ready.URL)
	}
}

func TestReleaseIdempotent(t *testing.T) {
	status := provider.StatusRunning
	termCalls := 0
	api := &fakeAPI{
		get: func(id string) (*provider.Node, error) {
			return &provider.Node{ID: id, Status: status}, nil
		},
		terminate: func(id string) error {
			termCalls++
			status = provider.StatusTerminated
			return nil
		},
	}
	m := testManager(api)

	first := m.Release(context.Background(), "node-1", true)
	if !first.Success || first.AlreadyDown {
		t.Fatalf("unexpected first release: %+v", first)
	}
	second := m.Release(context.Background(), "node-1", true)
	if !second.Success || !second.AlreadyDown {
		t.Fatalf("expected second release to be a no-op: %+v", second)
	}
	if termCalls != 1 {
		t.Fatalf("expected one terminate call, got %d", termCalls)
	}
}

func TestReleaseGoneNodeCountsAsDown(t *testing.T) {
	api := &fakeAPI{
		get: func(id string) (*provider.Node, error) {
			return nil, provider.ErrNotFound
		},
	}
	res := testManager(api).Release(context.Background(), "node-x", true)
	if !res.Success || !res.AlreadyDown {
		t.Fatalf("expected gone node to count as released: %+v", res)
	}
}

func TestCloseAllContinuesPastFailures(t *testing.T) {
	api := &fakeAPI{
		list: func() ([]provider.Node, error) {
			return []provider.Node{
				{ID: "a", Status: provider.StatusRunning},
				{ID: "b", Status: provider.StatusRunning},
				{ID: "c", Status: provider.StatusStopped},
			}, nil
		},
		get: func(id string) (*provider.Node, error) {
			return &provider.Node{ID: id, Status: provider.StatusRunning}, nil
		},
		stop: func(id string) error {
			if id == "a" {
				return errors.New("provider hiccup")
			}
			return nil
		},
	}

	report, err := testManager(api).CloseAll(context.Background(), false, false)
	if err != nil {
		t.Fatalf("CloseAll returned error: %v", err)
	}
	if len(report.Results) != 2 {
		t.Fatalf("expected 2 results (stopped node skipped), got %d", len(report.Results))
	}
	if report.Succeeded != 1 || report.Failed != 1 {
		t.Fatalf("unexpected counts: %+v", report)
	}
}

func TestRecruitCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	api := &fakeAPI{
		create: func(req provider.CreateRequest) (*provider.Node, error) {
			calls++
			cancel()
			return nil, errors.New("no capacity")
		},
	}
	res := testManager(api).Recruit(ctx, RecruitmentSpec{
		GPUTypeIDs: []string{"A100"},
		MaxRetries: 10,
		RetryDelay: 50 * time.Millisecond,
	})
	if res.Success {
		t.Fatal("expected failure after cancellation")
	}
	if calls > 2 {
		t.Fatalf("expected cancellation to stop retries, got %d calls", calls)
	}
}

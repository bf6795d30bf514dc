package runlog

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Status is the lifecycle state of one orchestration run.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRecruited Status = "recruited"
	StatusSubmitted Status = "submitted"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Run records what one orchestration did. Node and job ids are ephemeral;
// this ledger is the only place they outlive the run.
type Run struct {
	ID        string   `json:"id"`
	NodeID    string   `json:"node_id,omitempty"`
	JobID     string   `json:"job_id,omitempty"`
	GPUTypeID string   `json:"gpu_type_id,omitempty"`
	Status    Status   `json:"status"`
	Error     string   `json:"error,omitempty"`
	Artifacts []string `json:"artifacts,omitempty"`
	CreatedAt int64    `json:"created_at"`
	UpdatedAt int64    `json:"updated_at"`
}

// Ledger persists run records. The core functions with the no-op ledger;
// real backends are wiring for operators who want history.
type Ledger interface {
	Save(ctx context.Context, run Run) error
	Get(ctx context.Context, id string) (Run, error)
	List(ctx context.Context) ([]Run, error)
}

// Nop discards all records.
type Nop struct{}

func (Nop) Save(context.Context, Run) error { return nil }
func (Nop) Get(context.Context, string) (Run, error) {
	return Run{}, fmt.Errorf("run not found")
}
func (Nop) List(context.Context) ([]Run, error) { return nil, nil }

// MemLedger keeps runs in memory.
type MemLedger struct {
	mu   sync.RWMutex
	runs map[string]Run
}

func NewMemLedger() *MemLedger {
	return &MemLedger{runs: make(map[string]Run)}
}

func (l *MemLedger) Save(_ context.Context, run Run) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if existing, ok := l.runs[run.ID]; ok {
		run.CreatedAt = existing.CreatedAt
	} else if run.CreatedAt == 0 {
		run.CreatedAt = time.Now().Unix()
	}
	run.UpdatedAt = time.Now().Unix()
	l.runs[run.ID] = run
	return nil
}

func (l *MemLedger) Get(_ context.Context, id string) (Run, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	run, ok := l.runs[id]
	if !ok {
		return Run{}, fmt.Errorf("run %s not found", id)
	}
	return run, nil
}

func (l *MemLedger) List(_ context.Context) ([]Run, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	result := make([]Run, 0, len(l.runs))
	for _, run := range l.runs {
		result = append(result, run)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt > result[j].CreatedAt })
	return result, nil
}

package jobrunner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vibeway/renderfarm/pkg/artifacts"
	"github.com/vibeway/renderfarm/pkg/logging"
)

// ProcessParams describes one job run: where artifacts land, how they are
// matched, and the timeout budget.
type ProcessParams struct {
	OutputDir         string
	Pattern           string
	Extensions        []string
	Destinations      []string
	CompletionTimeout time.Duration
	DiscoverTimeout   time.Duration
	PollInterval      time.Duration
}

// Runner drives one job end to end against a queue endpoint: submit, watch
// for completion, discover artifacts, relocate them.
type Runner struct {
	client *Client
	log    logging.Logger
}

// NewRunner wraps a queue client.
func NewRunner(client *Client, log logging.Logger) *Runner {
	if log == nil {
		log = logging.Nop{}
	}
	return &Runner{client: client, log: log}
}

// Client exposes the underlying queue client for stage-level calls.
func (r *Runner) Client() *Client { return r.client }

// Submit requires a previously taken Snapshot so the artifact baseline
// cannot be captured after submission, where files racing the snapshot would
// be missed.
func (r *Runner) Submit(ctx context.Context, snap *artifacts.Snapshot, graph Graph) (Receipt, error) {
	if snap == nil {
		return Receipt{}, errors.New("submit requires an artifact snapshot taken beforehand")
	}
	return r.client.Submit(ctx, graph)
}

// DiscoverArtifacts polls the snapshot for new matching files until timeout.
// Empty result means the budget ran out.
func (r *Runner) DiscoverArtifacts(ctx context.Context, snap *artifacts.Snapshot, timeout, interval time.Duration) []string {
	return snap.Await(ctx, timeout, interval)
}

// Result is what a completed pipeline produced.
type Result struct {
	JobID     string
	Artifacts []string
}

// Execute runs the full pipeline and returns the job id and final artifact
// paths. Each stage failure short-circuits with a classified error.
func (r *Runner) Execute(ctx context.Context, graph Graph, p ProcessParams) (Result, error) {
	matcher := artifacts.Matcher{Pattern: p.Pattern, Extensions: p.Extensions}
	snap, err := artifacts.Take(p.OutputDir, matcher)
	if err != nil {
		return Result{}, fmt.Errorf("snapshot %s: %w", p.OutputDir, err)
	}

	receipt, err := r.Submit(ctx, snap, graph)
	if err != nil {
		return Result{}, err
	}
	result := Result{JobID: receipt.JobID}

	if err := r.client.AwaitCompletion(ctx, receipt.JobID, p.CompletionTimeout); err != nil {
		return result, err
	}

	files := r.DiscoverArtifacts(ctx, snap, p.DiscoverTimeout, p.PollInterval)
	if len(files) == 0 {
		return result, fmt.Errorf("%w: pattern %q in %s", ErrArtifactNotFound, p.Pattern, p.OutputDir)
	}

	if len(p.Destinations) == 0 {
		result.Artifacts = files
		return result, nil
	}
	if err := artifacts.Relocate(files, p.Destinations); err != nil {
		return result, err
	}
	r.log.Info("artifacts relocated", "count", len(files))
	result.Artifacts = p.Destinations
	return result, nil
}

// Process composes the pipeline into a single success flag. Callers needing
// stage-level diagnostics use Execute or the individual stages.
func (r *Runner) Process(ctx context.Context, graph Graph, p ProcessParams) bool {
	if _, err := r.Execute(ctx, graph, p); err != nil {
		r.log.Error("job processing failed", "error", err)
		return false
	}
	return true
}

package orchestrator

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/vibeway/renderfarm/pkg/jobrunner"
	"github.com/vibeway/renderfarm/pkg/logging"
	"github.com/vibeway/renderfarm/pkg/nodepool"
	"github.com/vibeway/renderfarm/pkg/runlog"
)

// Request is everything one orchestration run needs.
type Request struct {
	Spec nodepool.RecruitmentSpec
	// ServicePort is the exposure declaration the node must advertise before
	// it counts as ready, for example "8188/http".
	ServicePort   string
	ReadyAttempts int
	Graph         jobrunner.Graph
	Params        jobrunner.ProcessParams
	// Terminate selects terminate over stop when releasing the node.
	Terminate bool
}

// Outcome is the single structured result handed back to the caller.
type Outcome struct {
	Success  bool
	Reason   string
	RunID    string
	NodeID   string
	JobID    string
	GPUType  string
	Attempts int
	// Artifacts are the final paths after relocation.
	Artifacts []string
	// ReleaseWarning is set when node cleanup failed. It never masks the
	// primary result, but an unreleased node is an ongoing cost leak and
	// must be surfaced.
	ReleaseWarning string
}

// runner is the slice of jobrunner the orchestrator needs; swapped in tests.
type runner interface {
	Execute(ctx context.Context, graph jobrunner.Graph, p jobrunner.ProcessParams) (jobrunner.Result, error)
}

const releaseTimeout = 2 * time.Minute

// Orchestrator sequences recruit, wait-ready, process, release. It owns no
// durable state; an optional ledger records run history.
type Orchestrator struct {
	pool      *nodepool.Manager
	ledger    runlog.Ledger
	log       logging.Logger
	newRunner func(baseURL string) runner
}

// New wires an orchestrator. A nil ledger disables run recording.
func New(pool *nodepool.Manager, ledger runlog.Ledger, log logging.Logger) *Orchestrator {
	if ledger == nil {
		ledger = runlog.Nop{}
	}
	if log == nil {
		log = logging.Nop{}
	}
	o := &Orchestrator{pool: pool, ledger: ledger, log: log}
	o.newRunner = func(baseURL string) runner {
		return jobrunner.NewRunner(jobrunner.NewClient(baseURL, jobrunner.ClientOptions{}, log), log)
	}
	return o
}

// Run executes one orchestration. The recruited node is released on every
// exit path, including cancellation; release failure is reported as a
// secondary warning on the outcome.
func (o *Orchestrator) Run(ctx context.Context, req Request) (outcome Outcome) {
	tracer := otel.Tracer("renderfarm/orchestrator")
	ctx, span := tracer.Start(ctx, "orchestrate.run")
	defer span.End()

	outcome.RunID = uuid.NewString()
	rec := runlog.Run{ID: outcome.RunID, Status: runlog.StatusPending}
	o.saveRun(rec)

	recruited := o.pool.Recruit(ctx, req.Spec)
	outcome.Attempts = recruited.Attempts
	if !recruited.Success {
		outcome.Reason = "recruitment failed: " + errString(recruited.Err)
		rec.Status = runlog.StatusFailed
		rec.Error = outcome.Reason
		o.saveRun(rec)
		return outcome
	}
	outcome.NodeID = recruited.Node.ID
	outcome.GPUType = recruited.GPUTypeID
	span.SetAttributes(
		attribute.String("node.id", outcome.NodeID),
		attribute.String("node.gpu_type", outcome.GPUType),
		attribute.Int("recruit.attempts", outcome.Attempts),
	)
	rec.NodeID = outcome.NodeID
	rec.GPUTypeID = outcome.GPUType
	rec.Status = runlog.StatusRecruited
	o.saveRun(rec)

	// From here the node exists; release must run no matter how we leave,
	// detached from the caller's context so cancellation cannot leak it.
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
		defer cancel()
		res := o.pool.Release(releaseCtx, outcome.NodeID, req.Terminate)
		if !res.Success {
			outcome.ReleaseWarning = errString(res.Err)
			o.log.Error("node release failed, possible cost leak", "nodeID", outcome.NodeID, "error", res.Err)
		}
	}()

	readiness := o.pool.WaitForReady(ctx, outcome.NodeID, req.ServicePort, req.ReadyAttempts)
	if !readiness.Ready {
		outcome.Reason = "node never became ready: " + errString(readiness.Err)
		rec.Status = runlog.StatusFailed
		rec.Error = outcome.Reason
		o.saveRun(rec)
		return outcome
	}

	result, err := o.newRunner(readiness.URL).Execute(ctx, req.Graph, req.Params)
	outcome.JobID = result.JobID
	rec.JobID = result.JobID
	if err != nil {
		outcome.Reason = "job failed: " + err.Error()
		rec.Status = runlog.StatusFailed
		rec.Error = outcome.Reason
		o.saveRun(rec)
		return outcome
	}

	outcome.Success = true
	outcome.Artifacts = result.Artifacts
	rec.Status = runlog.StatusCompleted
	rec.Artifacts = result.Artifacts
	o.saveRun(rec)
	o.log.Info("run complete", "runID", outcome.RunID, "nodeID", outcome.NodeID, "jobID", outcome.JobID)
	return outcome
}

func (o *Orchestrator) saveRun(rec runlog.Run) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.ledger.Save(ctx, rec); err != nil {
		o.log.Warn("run ledger save failed", "runID", rec.ID, "error", err)
	}
}

func errString(err error) string {
	if err == nil {
		return "unknown"
	}
	return err.Error()
}

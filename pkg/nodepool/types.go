package nodepool

import (
	"time"

	"github.com/vibeway/renderfarm/pkg/provider"
)

// RecruitmentSpec describes the node a caller wants. Values are never
// mutated by the manager.
type RecruitmentSpec struct {
	Name      string
	ImageName string
	CloudType string
	// GPUTypeIDs is a preference-ordered list; retries cycle through it so a
	// capacity failure on one offering can be answered by the next.
	GPUTypeIDs      []string
	GPUCount        int
	MinMemoryGB     int
	MinVCPUCount    int
	ContainerDiskGB int
	Ports           []string
	CountryCode     string
	MaxRetries      int
	RetryDelay      time.Duration
	TemplateID      string
}

// RecruitmentResult is the outcome of one Recruit call.
type RecruitmentResult struct {
	Success   bool
	Node      *provider.Node
	GPUTypeID string
	Attempts  int
	Err       error
}

// Readiness reports whether a node exposed its service port and how to
// reach it.
type Readiness struct {
	Ready    bool
	URL      string
	Attempts int
	Err      error
}

// ReleaseResult is the outcome of releasing a single node.
type ReleaseResult struct {
	NodeID      string
	Success     bool
	AlreadyDown bool
	Err         error
}

// SweepReport aggregates per-node outcomes of a bulk release.
type SweepReport struct {
	Results   []ReleaseResult
	Succeeded int
	Failed    int
}

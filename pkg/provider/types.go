package provider

// NodeStatus is the provider-reported lifecycle state of a compute node.
type NodeStatus string

const (
	StatusPending    NodeStatus = "PENDING"
	StatusRunning    NodeStatus = "RUNNING"
	StatusStopped    NodeStatus = "STOPPED"
	StatusTerminated NodeStatus = "TERMINATED"
	StatusFailed     NodeStatus = "FAILED"
)

// Node mirrors the provider's view of a GPU instance. The core never mutates
// a Node; fresh state comes from re-fetching.
type Node struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Status    NodeStatus `json:"status"`
	GPUTypeID string     `json:"gpuTypeId"`
	ImageName string     `json:"imageName"`
	// Ports is the exposure declaration list, entries like "8188/http".
	// Readiness is decided on this list, not on PublicIP: proxied nodes can
	// be reachable with an empty public address.
	Ports     []string      `json:"ports"`
	PublicIP  string        `json:"publicIp,omitempty"`
	Bindings  []PortBinding `json:"portBindings,omitempty"`
	CostPerHr float64       `json:"costPerHr,omitempty"`
}

// PortBinding is a runtime port mapping assigned by the provider.
type PortBinding struct {
	PrivatePort int    `json:"privatePort"`
	PublicPort  int    `json:"publicPort"`
	IP          string `json:"ip"`
	Type        string `json:"type"`
	IsPublic    bool   `json:"isIpPublic"`
}

// CreateRequest is the payload for a node creation call.
type CreateRequest struct {
	Name            string   `json:"name"`
	ImageName       string   `json:"imageName"`
	CloudType       string   `json:"cloudType"`
	GPUTypeID       string   `json:"gpuTypeId"`
	GPUCount        int      `json:"gpuCount"`
	MinMemoryGB     int      `json:"minMemoryInGb"`
	MinVCPUCount    int      `json:"minVcpuCount"`
	ContainerDiskGB int      `json:"containerDiskInGb"`
	Ports           []string `json:"ports"`
	CountryCode     string   `json:"countryCode,omitempty"`
	TemplateID      string   `json:"templateId,omitempty"`
}

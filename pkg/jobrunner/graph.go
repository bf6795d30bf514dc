package jobrunner

import (
	"encoding/json"
	"fmt"
	"os"
)

// Graph is an opaque job graph document: node-id mapped to a node definition
// with a type tag and an inputs mapping. The runner overwrites a handful of
// well-known inputs and submits the document verbatim; structural validation
// belongs to the remote queue.
type Graph map[string]json.RawMessage

// LoadGraph reads and parses a graph document from disk.
func LoadGraph(path string) (Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read graph %s: %w", path, err)
	}
	var g Graph
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedGraph, path, err)
	}
	return g, nil
}

// SetInput overwrites one input value on a named graph node, leaving the
// rest of the node untouched.
func (g Graph) SetInput(nodeID, input string, value any) error {
	raw, ok := g[nodeID]
	if !ok {
		return fmt.Errorf("graph node %q not found", nodeID)
	}
	var node map[string]any
	if err := json.Unmarshal(raw, &node); err != nil {
		return fmt.Errorf("%w: node %q: %v", ErrMalformedGraph, nodeID, err)
	}
	inputs, ok := node["inputs"].(map[string]any)
	if !ok {
		inputs = map[string]any{}
	}
	inputs[input] = value
	node["inputs"] = inputs

	updated, err := json.Marshal(node)
	if err != nil {
		return fmt.Errorf("encode node %q: %w", nodeID, err)
	}
	g[nodeID] = updated
	return nil
}

// SetSeed sets the sampling seed on a sampler node.
func (g Graph) SetSeed(nodeID string, seed int64) error {
	return g.SetInput(nodeID, "seed", seed)
}

// SetPrompt sets the prompt text on a text-encoding node.
func (g Graph) SetPrompt(nodeID, prompt string) error {
	return g.SetInput(nodeID, "text", prompt)
}

// SetDimensions sets output width and height on a latent node.
func (g Graph) SetDimensions(nodeID string, width, height int) error {
	if err := g.SetInput(nodeID, "width", width); err != nil {
		return err
	}
	return g.SetInput(nodeID, "height", height)
}

// SetFilenamePrefix sets the output filename prefix on a save node. The
// prefix is what DiscoverArtifacts later matches on.
func (g Graph) SetFilenamePrefix(nodeID, prefix string) error {
	return g.SetInput(nodeID, "filename_prefix", prefix)
}

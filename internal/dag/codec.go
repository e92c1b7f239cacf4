package dag

import (
	"encoding/json"
	"fmt"
)

// Marshal serializes the graph to JSON.
func Marshal(g *Graph) ([]byte, error) {
	if g == nil {
		return nil, fmt.Errorf("marshal: nil graph")
	}
	return json.Marshal(g)
}

// Unmarshal rebuilds a graph from JSON and validates it, so a corrupted
// serialization surfaces immediately rather than as a wedged workflow.
func Unmarshal(data []byte) (*Graph, error) {
	var g Graph
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("unmarshal graph: %w", err)
	}
	if g.Nodes == nil {
		g.Nodes = make(map[string]*Node)
	}
	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("unmarshal graph: %w", err)
	}
	return &g, nil
}

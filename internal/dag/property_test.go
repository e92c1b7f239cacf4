package dag

import (
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// Acyclicity invariant: for any construction sequence, every accepted AddEdge
// leaves the graph topologically sortable with an ordering consistent with
// the edges, and every rejected edge would have closed a cycle.
func TestAcyclicityUnderRandomConstruction(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	properties.Property("topological sort holds after every accepted edge", prop.ForAll(
		func(nodeCount int, pairs []int) bool {
			if nodeCount < 2 {
				nodeCount = 2
			}
			g := New("wf-prop", "prop")
			for i := 0; i < nodeCount; i++ {
				if err := g.AddNode(&Node{ID: fmt.Sprintf("n%d", i), Priority: i % 7}); err != nil {
					return false
				}
			}
			for i := 0; i+1 < len(pairs); i += 2 {
				from := fmt.Sprintf("n%d", abs(pairs[i])%nodeCount)
				to := fmt.Sprintf("n%d", abs(pairs[i+1])%nodeCount)
				_ = g.AddEdge(from, to) // rejected edges leave the graph untouched

				order, err := g.TopologicalSort()
				if err != nil || len(order) != nodeCount {
					return false
				}
				position := make(map[string]int, nodeCount)
				for idx, node := range order {
					position[node.ID] = idx
				}
				for _, edge := range g.Edges {
					if position[edge.From] >= position[edge.To] {
						return false
					}
				}
			}
			return true
		},
		gen.IntRange(2, 12),
		gen.SliceOf(gen.IntRange(0, 1<<20)),
	))

	properties.Property("serialization round trip preserves structure", prop.ForAll(
		func(nodeCount int, pairs []int) bool {
			if nodeCount < 2 {
				nodeCount = 2
			}
			g := New("wf-prop", "prop")
			for i := 0; i < nodeCount; i++ {
				_ = g.AddNode(&Node{ID: fmt.Sprintf("n%d", i)})
			}
			for i := 0; i+1 < len(pairs); i += 2 {
				_ = g.AddEdge(fmt.Sprintf("n%d", abs(pairs[i])%nodeCount), fmt.Sprintf("n%d", abs(pairs[i+1])%nodeCount))
			}
			data, err := Marshal(g)
			if err != nil {
				return false
			}
			restored, err := Unmarshal(data)
			if err != nil {
				return false
			}
			if len(restored.Nodes) != len(g.Nodes) || len(restored.Edges) != len(g.Edges) {
				return false
			}
			for id, node := range g.Nodes {
				other := restored.Nodes[id]
				if other == nil || len(other.DependsOn) != len(node.DependsOn) {
					return false
				}
			}
			return true
		},
		gen.IntRange(2, 10),
		gen.SliceOf(gen.IntRange(0, 1<<20)),
	))

	properties.TestingRun(t)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

package dag

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildDiamond(t *testing.T) *Graph {
	t.Helper()
	g := New("wf-1", "release")
	for _, spec := range []struct {
		id       string
		priority int
	}{
		{"design", 20},
		{"fe", 10},
		{"be", 15},
		{"tests", 10},
	} {
		require.NoError(t, g.AddNode(&Node{ID: spec.id, Title: spec.id, Priority: spec.priority}))
	}
	require.NoError(t, g.AddEdge("design", "fe"))
	require.NoError(t, g.AddEdge("design", "be"))
	require.NoError(t, g.AddEdge("fe", "tests"))
	require.NoError(t, g.AddEdge("be", "tests"))
	return g
}

func TestAddNodeRejectsDuplicates(t *testing.T) {
	g := New("wf", "w")
	require.NoError(t, g.AddNode(&Node{ID: "a"}))
	require.Error(t, g.AddNode(&Node{ID: "a"}))
}

func TestAddEdgeRejectsMissingEndpointsAndCycles(t *testing.T) {
	g := buildDiamond(t)

	assert.Error(t, g.AddEdge("design", "nope"))
	assert.Error(t, g.AddEdge("nope", "design"))

	err := g.AddEdge("tests", "design")
	require.ErrorIs(t, err, ErrCycle)

	err = g.AddEdge("design", "design")
	require.ErrorIs(t, err, ErrCycle)
}

func TestEntryPointsAndReady(t *testing.T) {
	g := buildDiamond(t)

	entries := g.EntryPoints()
	require.Len(t, entries, 1)
	assert.Equal(t, "design", entries[0].ID)

	ready := g.Ready(map[string]bool{"design": true})
	require.Len(t, ready, 2)
	// Priority descending: be (15) before fe (10).
	assert.Equal(t, "be", ready[0].ID)
	assert.Equal(t, "fe", ready[1].ID)

	ready = g.Ready(map[string]bool{"design": true, "fe": true, "be": true})
	require.Len(t, ready, 1)
	assert.Equal(t, "tests", ready[0].ID)
}

func TestTopologicalSortRespectsEdgesAndPriority(t *testing.T) {
	g := buildDiamond(t)
	order, err := g.TopologicalSort()
	require.NoError(t, err)
	require.Len(t, order, 4)

	position := map[string]int{}
	for i, node := range order {
		position[node.ID] = i
	}
	for _, edge := range g.Edges {
		assert.Less(t, position[edge.From], position[edge.To], "%s before %s", edge.From, edge.To)
	}
	// be outranks fe in the ready queue.
	assert.Less(t, position["be"], position["fe"])
}

func TestDescendantsAndAncestors(t *testing.T) {
	g := buildDiamond(t)

	descendants := g.Descendants("design")
	ids := make([]string, len(descendants))
	for i, n := range descendants {
		ids[i] = n.ID
	}
	assert.ElementsMatch(t, []string{"fe", "be", "tests"}, ids)

	ancestors := g.Ancestors("tests")
	ids = ids[:0]
	for _, n := range ancestors {
		ids = append(ids, n.ID)
	}
	assert.ElementsMatch(t, []string{"fe", "be", "design"}, ids)
}

func TestCriticalPathLongestChain(t *testing.T) {
	g := buildDiamond(t)
	path := g.CriticalPath()
	require.Len(t, path, 3)
	assert.Equal(t, "design", path[0].ID)
	assert.Equal(t, "tests", path[2].ID)
}

func TestMarshalRoundTrip(t *testing.T) {
	g := buildDiamond(t)
	data, err := Marshal(g)
	require.NoError(t, err)

	restored, err := Unmarshal(data)
	require.NoError(t, err)

	assert.Equal(t, g.WorkflowID, restored.WorkflowID)
	require.Len(t, restored.Nodes, len(g.Nodes))
	for id, node := range g.Nodes {
		restoredNode := restored.Nodes[id]
		require.NotNil(t, restoredNode, "node %s survives round trip", id)
		assert.ElementsMatch(t, node.DependsOn, restoredNode.DependsOn)
		assert.ElementsMatch(t, node.Dependents, restoredNode.Dependents)
		assert.Equal(t, node.Priority, restoredNode.Priority)
	}
	assert.ElementsMatch(t, g.Edges, restored.Edges)
}

func TestUnmarshalRejectsCorruptGraph(t *testing.T) {
	// An edge to a node that does not exist.
	_, err := Unmarshal([]byte(`{"workflow_id":"w","nodes":{"a":{"id":"a"}},"edges":[{"from":"a","to":"ghost"}]}`))
	require.Error(t, err)
}

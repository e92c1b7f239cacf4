// Package dag models a workflow as a directed acyclic graph of task nodes.
//
// The graph is the sole source of truth for workflow structure: the task
// lifecycle consults node adjacency for cascade readiness instead of scanning
// a team's whole task list.
package dag

import (
	"errors"
	"fmt"
	"sort"
)

// ErrCycle is returned when an edge would close a directed cycle.
var ErrCycle = errors.New("edge would create a cycle")

// Node is a single task template inside a graph.
type Node struct {
	ID           string            `json:"id"`
	Title        string            `json:"title"`
	Description  string            `json:"description,omitempty"`
	Kind         string            `json:"kind,omitempty"`
	RequiredRole string            `json:"required_role,omitempty"`
	Priority     int               `json:"priority"`
	DependsOn    []string          `json:"depends_on,omitempty"`
	Dependents   []string          `json:"dependents,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	Tags         []string          `json:"tags,omitempty"`
}

// Edge is a "from must complete before to" constraint.
type Edge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Graph is a mutable DAG. Not safe for concurrent mutation; callers that
// share a graph guard it themselves.
type Graph struct {
	WorkflowID  string           `json:"workflow_id"`
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Nodes       map[string]*Node `json:"nodes"`
	Edges       []Edge           `json:"edges"`
}

// New creates an empty graph for a workflow.
func New(workflowID, name string) *Graph {
	return &Graph{WorkflowID: workflowID, Name: name, Nodes: make(map[string]*Node)}
}

// AddNode inserts the node; duplicate ids fail.
func (g *Graph) AddNode(node *Node) error {
	if node == nil || node.ID == "" {
		return errors.New("node requires id")
	}
	if _, exists := g.Nodes[node.ID]; exists {
		return fmt.Errorf("duplicate node id %q", node.ID)
	}
	g.Nodes[node.ID] = node
	return nil
}

// AddEdge records "from must complete before to", updating both adjacency
// lists. Fails when an endpoint is absent or the edge would close a cycle.
func (g *Graph) AddEdge(from, to string) error {
	src, ok := g.Nodes[from]
	if !ok {
		return fmt.Errorf("edge source %q not in graph", from)
	}
	dst, ok := g.Nodes[to]
	if !ok {
		return fmt.Errorf("edge target %q not in graph", to)
	}
	if from == to {
		return fmt.Errorf("%w: self edge %q", ErrCycle, from)
	}
	if g.hasPath(to, from) {
		return fmt.Errorf("%w: %s -> %s", ErrCycle, from, to)
	}
	for _, dep := range dst.DependsOn {
		if dep == from {
			return nil // duplicate edge, already recorded
		}
	}
	g.Edges = append(g.Edges, Edge{From: from, To: to})
	dst.DependsOn = append(dst.DependsOn, from)
	src.Dependents = append(src.Dependents, to)
	return nil
}

// hasPath reports whether a directed path exists from start to goal (DFS).
func (g *Graph) hasPath(start, goal string) bool {
	if start == goal {
		return true
	}
	seen := map[string]bool{start: true}
	stack := []string{start}
	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		node := g.Nodes[current]
		if node == nil {
			continue
		}
		for _, next := range node.Dependents {
			if next == goal {
				return true
			}
			if !seen[next] {
				seen[next] = true
				stack = append(stack, next)
			}
		}
	}
	return false
}

// EntryPoints returns the nodes with no dependencies, priority descending.
func (g *Graph) EntryPoints() []*Node {
	var entries []*Node
	for _, node := range g.Nodes {
		if len(node.DependsOn) == 0 {
			entries = append(entries, node)
		}
	}
	sortByPriority(entries)
	return entries
}

// Ready returns the nodes outside completed whose dependencies are all in
// completed, priority descending.
func (g *Graph) Ready(completed map[string]bool) []*Node {
	var ready []*Node
	for id, node := range g.Nodes {
		if completed[id] {
			continue
		}
		satisfied := true
		for _, dep := range node.DependsOn {
			if !completed[dep] {
				satisfied = false
				break
			}
		}
		if satisfied {
			ready = append(ready, node)
		}
	}
	sortByPriority(ready)
	return ready
}

// TopologicalSort orders nodes with Kahn's algorithm, the ready queue ordered
// by priority descending. Errors when the graph holds a cycle.
func (g *Graph) TopologicalSort() ([]*Node, error) {
	indegree := make(map[string]int, len(g.Nodes))
	for id, node := range g.Nodes {
		indegree[id] = len(node.DependsOn)
	}
	var queue []*Node
	for id, deg := range indegree {
		if deg == 0 {
			queue = append(queue, g.Nodes[id])
		}
	}
	sortByPriority(queue)

	result := make([]*Node, 0, len(g.Nodes))
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		result = append(result, node)
		changed := false
		for _, dep := range node.Dependents {
			indegree[dep]--
			if indegree[dep] == 0 {
				queue = append(queue, g.Nodes[dep])
				changed = true
			}
		}
		if changed {
			sortByPriority(queue)
		}
	}
	if len(result) != len(g.Nodes) {
		return nil, fmt.Errorf("topological sort: %w", ErrCycle)
	}
	return result, nil
}

// Descendants returns the transitive closure downstream of id.
func (g *Graph) Descendants(id string) []*Node {
	return g.closure(id, func(n *Node) []string { return n.Dependents })
}

// Ancestors returns the transitive closure upstream of id.
func (g *Graph) Ancestors(id string) []*Node {
	return g.closure(id, func(n *Node) []string { return n.DependsOn })
}

func (g *Graph) closure(id string, next func(*Node) []string) []*Node {
	if _, ok := g.Nodes[id]; !ok {
		return nil
	}
	seen := map[string]bool{id: true}
	stack := []string{id}
	var result []*Node
	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		node := g.Nodes[current]
		if node == nil {
			continue
		}
		for _, n := range next(node) {
			if !seen[n] {
				seen[n] = true
				stack = append(stack, n)
				if target := g.Nodes[n]; target != nil {
					result = append(result, target)
				}
			}
		}
	}
	sortByID(result)
	return result
}

// CriticalPath returns the longest dependency chain by node count, used for
// bottleneck diagnostics. Ties resolve to one arbitrary longest chain.
func (g *Graph) CriticalPath() []*Node {
	order, err := g.TopologicalSort()
	if err != nil {
		return nil
	}
	depth := make(map[string]int, len(order))
	prev := make(map[string]string, len(order))
	best := ""
	for _, node := range order {
		depth[node.ID] = 1
		for _, dep := range node.DependsOn {
			if depth[dep]+1 > depth[node.ID] {
				depth[node.ID] = depth[dep] + 1
				prev[node.ID] = dep
			}
		}
		if best == "" || depth[node.ID] > depth[best] {
			best = node.ID
		}
	}
	if best == "" {
		return nil
	}
	var path []*Node
	for id := best; id != ""; id = prev[id] {
		path = append(path, g.Nodes[id])
	}
	// Reverse into dependency order.
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

// Validate checks structural integrity: every edge endpoint exists, adjacency
// is consistent, and the graph is acyclic.
func (g *Graph) Validate() error {
	for _, edge := range g.Edges {
		if _, ok := g.Nodes[edge.From]; !ok {
			return fmt.Errorf("edge references missing node %q", edge.From)
		}
		if _, ok := g.Nodes[edge.To]; !ok {
			return fmt.Errorf("edge references missing node %q", edge.To)
		}
	}
	if _, err := g.TopologicalSort(); err != nil {
		return err
	}
	return nil
}

func sortByPriority(nodes []*Node) {
	sort.SliceStable(nodes, func(i, j int) bool {
		if nodes[i].Priority != nodes[j].Priority {
			return nodes[i].Priority > nodes[j].Priority
		}
		return nodes[i].ID < nodes[j].ID
	})
}

func sortByID(nodes []*Node) {
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
}

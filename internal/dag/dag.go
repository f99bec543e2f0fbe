// Package dag models the blocking relationships between board items.
//
// Unlike a strict DAG, the graph accepts edges that close a cycle: blocking
// data comes from external authors and a cycle is a configuration error to be
// reported, not a write to be refused. Cycles() finds every strongly connected
// group so that all items involved can be pinned as blocked.
package dag

import (
	"errors"
	"fmt"
	"sort"
)

// ErrCyclicDependency marks items that sit on a blocking cycle.
var ErrCyclicDependency = errors.New("cyclic dependency")

// ErrNodeNotFound is returned when an operation references a non-existent node.
var ErrNodeNotFound = errors.New("node not found")

// ErrDuplicateNode is returned when adding a node that already exists.
var ErrDuplicateNode = errors.New("duplicate node")

// Graph holds blocking edges. An edge from A to B means A is blocked by B.
type Graph struct {
	nodes map[string]bool
	// adjacency maps nodeID → set of blocker IDs (forward edges).
	adjacency map[string]map[string]bool
	// reverse maps nodeID → set of IDs it blocks (backward edges).
	reverse map[string]map[string]bool
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{
		nodes:     make(map[string]bool),
		adjacency: make(map[string]map[string]bool),
		reverse:   make(map[string]map[string]bool),
	}
}

// AddNode adds a node. Returns ErrDuplicateNode if it already exists.
func (g *Graph) AddNode(id string) error {
	if g.nodes[id] {
		return fmt.Errorf("%w: %s", ErrDuplicateNode, id)
	}
	g.nodes[id] = true
	g.adjacency[id] = make(map[string]bool)
	g.reverse[id] = make(map[string]bool)
	return nil
}

// AddEdge records that from is blocked by to. Both nodes must exist. Self
// edges and cycle-closing edges are accepted and surface through Cycles.
func (g *Graph) AddEdge(from, to string) error {
	if !g.nodes[from] {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, from)
	}
	if !g.nodes[to] {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, to)
	}
	g.adjacency[from][to] = true
	g.reverse[to][from] = true
	return nil
}

// Has reports whether the node exists.
func (g *Graph) Has(id string) bool {
	return g.nodes[id]
}

// Dependents returns the items directly blocked by id, sorted.
func (g *Graph) Dependents(id string) []string {
	return sortedKeys(g.reverse[id])
}

// DependentCount returns the number of items directly blocked by id.
func (g *Graph) DependentCount(id string) int {
	return len(g.reverse[id])
}

// MaxDependentCount returns the largest DependentCount on the graph.
func (g *Graph) MaxDependentCount() int {
	best := 0
	for id := range g.nodes {
		if n := len(g.reverse[id]); n > best {
			best = n
		}
	}
	return best
}

// Cycles returns every group of nodes that block each other, using a
// depth-first search that tracks the nodes currently being visited (Tarjan's
// strongly connected components). A group is reported when it has more than
// one node or a node blocks itself. Members are sorted and groups are ordered
// by their first member, so the output is deterministic.
func (g *Graph) Cycles() [][]string {
	t := &tarjan{
		g:        g,
		index:    make(map[string]int, len(g.nodes)),
		lowlink:  make(map[string]int, len(g.nodes)),
		visiting: make(map[string]bool, len(g.nodes)),
	}
	for _, id := range sortedKeys(g.nodes) {
		if _, seen := t.index[id]; !seen {
			t.visit(id)
		}
	}

	sort.Slice(t.groups, func(i, j int) bool { return t.groups[i][0] < t.groups[j][0] })
	return t.groups
}

type tarjan struct {
	g        *Graph
	next     int
	index    map[string]int
	lowlink  map[string]int
	visiting map[string]bool
	stack    []string
	groups   [][]string
}

func (t *tarjan) visit(id string) {
	t.index[id] = t.next
	t.lowlink[id] = t.next
	t.next++
	t.stack = append(t.stack, id)
	t.visiting[id] = true

	for _, dep := range sortedKeys(t.g.adjacency[id]) {
		if _, seen := t.index[dep]; !seen {
			t.visit(dep)
			t.lowlink[id] = min(t.lowlink[id], t.lowlink[dep])
		} else if t.visiting[dep] {
			t.lowlink[id] = min(t.lowlink[id], t.index[dep])
		}
	}

	if t.lowlink[id] != t.index[id] {
		return
	}
	var group []string
	for {
		top := t.stack[len(t.stack)-1]
		t.stack = t.stack[:len(t.stack)-1]
		t.visiting[top] = false
		group = append(group, top)
		if top == id {
			break
		}
	}
	if len(group) > 1 || t.g.adjacency[id][id] {
		sort.Strings(group)
		t.groups = append(t.groups, group)
	}
}

func sortedKeys(m map[string]bool) []string {
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

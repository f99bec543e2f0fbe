package dag

import (
	"errors"
	"fmt"
	"testing"
)

// build creates a graph from "A>B" edge strings meaning A is blocked by B.
func build(t *testing.T, nodes []string, edges ...[2]string) *Graph {
	t.Helper()
	g := New()
	for _, id := range nodes {
		if err := g.AddNode(id); err != nil {
			t.Fatal(err)
		}
	}
	for _, e := range edges {
		if err := g.AddEdge(e[0], e[1]); err != nil {
			t.Fatal(err)
		}
	}
	return g
}

func TestAddNodeAndEdgeErrors(t *testing.T) {
	t.Parallel()
	g := New()
	if err := g.AddNode("A"); err != nil {
		t.Fatal(err)
	}
	if err := g.AddNode("A"); !errors.Is(err, ErrDuplicateNode) {
		t.Errorf("AddNode(dup) = %v, want ErrDuplicateNode", err)
	}
	if err := g.AddEdge("A", "B"); !errors.Is(err, ErrNodeNotFound) {
		t.Errorf("AddEdge(missing to) = %v, want ErrNodeNotFound", err)
	}
	if err := g.AddEdge("B", "A"); !errors.Is(err, ErrNodeNotFound) {
		t.Errorf("AddEdge(missing from) = %v, want ErrNodeNotFound", err)
	}
}

func TestDependents(t *testing.T) {
	t.Parallel()
	// A, B and C are all blocked by D; C is also blocked by B.
	g := build(t, []string{"A", "B", "C", "D"},
		[2]string{"A", "D"}, [2]string{"B", "D"}, [2]string{"C", "D"}, [2]string{"C", "B"})

	if got := fmt.Sprint(g.Dependents("D")); got != "[A B C]" {
		t.Errorf("Dependents(D) = %s, want [A B C]", got)
	}
	if got := g.DependentCount("B"); got != 1 {
		t.Errorf("DependentCount(B) = %d, want 1", got)
	}
	if got := g.DependentCount("A"); got != 0 {
		t.Errorf("DependentCount(A) = %d, want 0", got)
	}
	if got := g.MaxDependentCount(); got != 3 {
		t.Errorf("MaxDependentCount = %d, want 3", got)
	}
}

func TestCycles(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		nodes []string
		edges [][2]string
		want  string
	}{
		{"acyclic chain", []string{"A", "B", "C"}, [][2]string{{"A", "B"}, {"B", "C"}}, "[]"},
		{"two cycle", []string{"A", "B", "C"}, [][2]string{{"A", "B"}, {"B", "A"}, {"C", "A"}}, "[[A B]]"},
		{"self block", []string{"A", "B"}, [][2]string{{"A", "A"}}, "[[A]]"},
		{"figure eight", []string{"A", "B", "C"}, [][2]string{{"A", "B"}, {"B", "A"}, {"B", "C"}, {"C", "B"}}, "[[A B C]]"},
		{"two separate cycles", []string{"A", "B", "X", "Y", "Z"}, [][2]string{{"Y", "Z"}, {"Z", "Y"}, {"B", "A"}, {"A", "B"}, {"X", "A"}}, "[[A B] [Y Z]]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			g := build(t, tt.nodes, tt.edges...)
			got := g.Cycles()
			if len(got) == 0 {
				got = [][]string{}
			}
			if fmt.Sprint(got) != tt.want {
				t.Errorf("Cycles() = %v, want %s", got, tt.want)
			}
		})
	}
}

func TestCyclesExcludeDownstream(t *testing.T) {
	t.Parallel()
	// C is blocked by the A<->B cycle but is not itself part of it.
	g := build(t, []string{"A", "B", "C"}, [2]string{"A", "B"}, [2]string{"B", "A"}, [2]string{"C", "A"})

	if got := fmt.Sprint(g.Cycles()); got != "[[A B]]" {
		t.Errorf("Cycles() = %s, want [[A B]]", got)
	}
	if got := fmt.Sprint(g.Dependents("A")); got != "[B C]" {
		t.Errorf("Dependents(A) = %s, want [B C]", got)
	}
}

func TestCyclesDeterministic(t *testing.T) {
	t.Parallel()
	g := build(t, []string{"A", "B", "C", "D"},
		[2]string{"A", "B"}, [2]string{"B", "C"}, [2]string{"C", "A"}, [2]string{"D", "D"})

	first := fmt.Sprint(g.Cycles())
	for range 20 {
		if got := fmt.Sprint(g.Cycles()); got != first {
			t.Fatalf("Cycles() changed between calls: %s vs %s", got, first)
		}
	}
	if first != "[[A B C] [D]]" {
		t.Errorf("Cycles() = %s, want [[A B C] [D]]", first)
	}
}

func TestLargeChainTerminates(t *testing.T) {
	t.Parallel()
	g := New()
	const n = 2000
	for i := range n {
		if err := g.AddNode(fmt.Sprintf("n%04d", i)); err != nil {
			t.Fatal(err)
		}
	}
	for i := 1; i < n; i++ {
		if err := g.AddEdge(fmt.Sprintf("n%04d", i), fmt.Sprintf("n%04d", i-1)); err != nil {
			t.Fatal(err)
		}
	}
	// Close the loop: every node is now on one cycle.
	if err := g.AddEdge("n0000", fmt.Sprintf("n%04d", n-1)); err != nil {
		t.Fatal(err)
	}
	cycles := g.Cycles()
	if len(cycles) != 1 || len(cycles[0]) != n {
		t.Errorf("Cycles() = %d groups, want 1 group of %d", len(cycles), n)
	}
}

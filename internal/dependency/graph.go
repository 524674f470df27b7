package dependency

import (
	"fmt"
	"sort"
)

// EdgeType categorises why one test needs another. The engine only
// interprets these for reporting; new types can be introduced freely by
// catalog authors.
type EdgeType string

const (
	EdgeData  EdgeType = "data"
	EdgeToken EdgeType = "token"
	EdgeAuth  EdgeType = "auth"
)

// Record is a dependency row as consumed from storage: the dependent test
// requires the required test to have run first.
type Record struct {
	DependentTestID string   `json:"dependent_test_id"`
	RequiredTestID  string   `json:"required_test_id"`
	Type            EdgeType `json:"dependency_type"`
}

// Edge is one outgoing requirement of a test.
type Edge struct {
	RequiredTestID string
	Type           EdgeType
}

// Graph answers dependency queries over test cases. It is not thread-safe
// by itself; callers must synchronise if they write concurrently.
type Graph struct {
	edges map[string][]Edge
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{edges: make(map[string][]Edge)}
}

// FromRecords builds a graph from stored dependency records.
func FromRecords(records []Record) *Graph {
	g := New()
	for _, r := range records {
		g.Add(r.DependentTestID, r.RequiredTestID, r.Type)
	}
	return g
}

// Add records that dependent requires required.
func (g *Graph) Add(dependent, required string, typ EdgeType) {
	if g.edges == nil {
		g.edges = make(map[string][]Edge)
	}
	g.edges[dependent] = append(g.edges[dependent], Edge{RequiredTestID: required, Type: typ})
}

// Requirements returns the immediate requirements of a test.
func (g *Graph) Requirements(testID string) []Edge {
	out := make([]Edge, len(g.edges[testID]))
	copy(out, g.edges[testID])
	return out
}

// Dependents returns all tests that directly require the given test. This
// is an O(n) walk, but dependency graphs for a run are small.
func (g *Graph) Dependents(testID string) []string {
	var res []string
	for dependent, edges := range g.edges {
		for _, e := range edges {
			if e.RequiredTestID == testID {
				res = append(res, dependent)
				break
			}
		}
	}
	sort.Strings(res)
	return res
}

// TransitiveRequirements returns every test the given test transitively
// requires, in dependency-first discovery order. A cycle is an error.
func (g *Graph) TransitiveRequirements(testID string) ([]string, error) {
	var out []string
	seen := make(map[string]bool)
	onPath := make(map[string]bool)

	var visit func(id string) error
	visit = func(id string) error {
		if onPath[id] {
			return fmt.Errorf("dependency cycle involving test %s", id)
		}
		if seen[id] {
			return nil
		}
		onPath[id] = true
		for _, e := range g.edges[id] {
			if err := visit(e.RequiredTestID); err != nil {
				return err
			}
		}
		onPath[id] = false
		seen[id] = true
		if id != testID {
			out = append(out, id)
		}
		return nil
	}

	if err := visit(testID); err != nil {
		return nil, err
	}
	return out, nil
}

// Chain returns the test's transitive requirements ordered by the stored
// run order. Requirements missing from the order keep their
// dependency-first position after the ordered ones.
func (g *Graph) Chain(testID string, testOrder []string) ([]string, error) {
	required, err := g.TransitiveRequirements(testID)
	if err != nil {
		return nil, err
	}

	position := make(map[string]int, len(testOrder))
	for i, id := range testOrder {
		position[id] = i
	}

	sort.SliceStable(required, func(i, j int) bool {
		pi, iOK := position[required[i]]
		pj, jOK := position[required[j]]
		if iOK && jOK {
			return pi < pj
		}
		return iOK && !jOK
	})
	return required, nil
}

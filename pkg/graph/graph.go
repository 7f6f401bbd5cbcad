// Package graph gives an in-memory view over decision dependency
// edges: forward and reverse adjacency plus the acyclicity guard used
// before an edge is persisted.
package graph

import (
	"errors"
	"fmt"
	"sort"

	"github.com/decivue/core/pkg/contracts"
)

// ErrCyclicDependency marks edge additions that would close a loop.
var ErrCyclicDependency = errors.New("cyclic dependency")

// Graph is an immutable snapshot of the dependency edges of one
// organization. Build it fresh from the store before each check.
type Graph struct {
	out map[string][]string // source -> targets
	in  map[string][]string // target -> sources
}

// New builds a graph from persisted edges. Neighbor lists are sorted
// so traversal order is stable.
func New(edges []contracts.DependencyEdge) *Graph {
	g := &Graph{
		out: make(map[string][]string),
		in:  make(map[string][]string),
	}
	for _, e := range edges {
		g.out[e.SourceID] = append(g.out[e.SourceID], e.TargetID)
		g.in[e.TargetID] = append(g.in[e.TargetID], e.SourceID)
	}
	for _, adj := range []map[string][]string{g.out, g.in} {
		for id := range adj {
			sort.Strings(adj[id])
		}
	}
	return g
}

// Dependencies returns the decisions sourceID depends on, sorted.
func (g *Graph) Dependencies(sourceID string) []string {
	return append([]string(nil), g.out[sourceID]...)
}

// Dependents returns the decisions that depend on targetID, sorted.
func (g *Graph) Dependents(targetID string) []string {
	return append([]string(nil), g.in[targetID]...)
}

// CheckAcyclic reports whether adding sourceID -> targetID keeps the
// graph a DAG. On failure the error wraps ErrCyclicDependency and
// names the edge that closed the loop.
func (g *Graph) CheckAcyclic(sourceID, targetID string) error {
	if sourceID == targetID {
		return fmt.Errorf("%w: %s depends on itself", ErrCyclicDependency, sourceID)
	}

	// Simulate the candidate edge on top of the snapshot.
	next := func(id string) []string {
		targets := g.out[id]
		if id == sourceID {
			targets = append(append([]string(nil), targets...), targetID)
		}
		return targets
	}

	visited := make(map[string]bool)
	recursionStack := make(map[string]bool)

	var detectCycle func(node string) error
	detectCycle = func(node string) error {
		visited[node] = true
		recursionStack[node] = true

		for _, dep := range next(node) {
			if !visited[dep] {
				if err := detectCycle(dep); err != nil {
					return err
				}
			} else if recursionStack[dep] {
				return fmt.Errorf("%w: %s depends on %s", ErrCyclicDependency, node, dep)
			}
		}

		recursionStack[node] = false
		return nil
	}

	return detectCycle(sourceID)
}

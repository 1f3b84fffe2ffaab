// SPDX-License-Identifier: MPL-2.0

// Package dag orders the bundle include graph. An edge from A to B means A
// has to be available before B, so included bundles sort ahead of the
// bundles that include them.
package dag

import (
	"fmt"
	"slices"
	"strings"
)

type (
	// CycleError reports a cycle that prevents ordering. Cycle lists the
	// nodes along one cycle with the first node repeated at the end.
	CycleError struct {
		Cycle []string
	}

	// Graph is a directed graph over string node names. Output order is
	// deterministic: ties are broken by insertion order.
	Graph struct {
		nodes []string
		index map[string]int
		out   map[string][]string
	}
)

func (e *CycleError) Error() string {
	return fmt.Sprintf("include cycle detected: %s", strings.Join(e.Cycle, " -> "))
}

// New creates an empty Graph.
func New() *Graph {
	return &Graph{
		index: make(map[string]int),
		out:   make(map[string][]string),
	}
}

// AddNode adds name if it is not present yet.
func (g *Graph) AddNode(name string) {
	if _, ok := g.index[name]; ok {
		return
	}
	g.index[name] = len(g.nodes)
	g.nodes = append(g.nodes, name)
}

// AddEdge records that from comes before to. Duplicate edges are ignored.
func (g *Graph) AddEdge(from, to string) {
	g.AddNode(from)
	g.AddNode(to)
	if !slices.Contains(g.out[from], to) {
		g.out[from] = append(g.out[from], to)
	}
}

// Len returns the number of nodes.
func (g *Graph) Len() int { return len(g.nodes) }

// TopologicalSort returns every node with each edge's source ahead of its
// target, using Kahn's algorithm. It returns a *CycleError when no such
// order exists.
func (g *Graph) TopologicalSort() ([]string, error) {
	if len(g.nodes) == 0 {
		return nil, nil
	}

	inDegree := make(map[string]int, len(g.nodes))
	for _, targets := range g.out {
		for _, to := range targets {
			inDegree[to]++
		}
	}

	var ready []string
	for _, n := range g.nodes {
		if inDegree[n] == 0 {
			ready = append(ready, n)
		}
	}

	order := make([]string, 0, len(g.nodes))
	for len(ready) > 0 {
		n := ready[0]
		ready = ready[1:]
		order = append(order, n)
		for _, to := range g.out[n] {
			if inDegree[to]--; inDegree[to] == 0 {
				ready = append(ready, to)
			}
		}
	}

	if len(order) < len(g.nodes) {
		return nil, &CycleError{Cycle: g.findCycle(inDegree)}
	}
	return order, nil
}

// findCycle walks from a node left with a positive in-degree until a node
// repeats. Every such node has a predecessor that is also stuck, so following
// predecessors always closes a cycle.
func (g *Graph) findCycle(inDegree map[string]int) []string {
	stuck := func(n string) bool { return inDegree[n] > 0 }

	pred := make(map[string]string)
	for _, from := range g.nodes {
		if !stuck(from) {
			continue
		}
		for _, to := range g.out[from] {
			if _, seen := pred[to]; !seen && stuck(to) {
				pred[to] = from
			}
		}
	}

	var start string
	for _, n := range g.nodes {
		if stuck(n) {
			start = n
			break
		}
	}

	pos := make(map[string]int)
	var walk []string
	for n := start; ; n = pred[n] {
		if i, ok := pos[n]; ok {
			cycle := slices.Clone(walk[i:])
			slices.Reverse(cycle)
			return append(cycle, cycle[0])
		}
		pos[n] = len(walk)
		walk = append(walk, n)
	}
}

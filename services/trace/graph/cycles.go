// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import "context"

// dfsFrame is one entry of the explicit DFS stack.
type dfsFrame struct {
	id   string
	next int
}

// detectCycles finds cycles with a recursion-stack DFS over all edges.
//
// Description:
//
//	Starts a DFS from every unvisited node in node order. When a neighbor
//	is already on the current path, the path from that neighbor to the
//	current node, plus the neighbor again, is recorded as a cycle.
//
//	Results are not canonical: one strongly connected component can yield
//	several overlapping cycles, and the same cycle can be reported from
//	different entry nodes. Parallel edges between the same pair of nodes
//	are followed once.
//
//	The stack is explicit so deep import chains cannot overflow the
//	goroutine stack. All traversal state is local to the call.
//
// Inputs:
//
//	ctx - Checked every 1024 steps.
//	g - The graph. Not modified.
//	maxCycles - Stop after this many cycles.
//
// Outputs:
//
//	[][]string - Cycles in discovery order. Never nil.
//	bool - True if maxCycles was reached.
//	error - Context error if cancelled; cycles found so far are returned.
func detectCycles(ctx context.Context, g *DependencyGraph, maxCycles int) ([][]string, bool, error) {
	cycles := make([][]string, 0)
	adj := buildAdjacency(g)

	visited := make(map[string]bool, len(g.Nodes))
	onStack := make(map[string]int, 64)
	path := make([]string, 0, 64)
	steps := 0

	for _, start := range g.Nodes {
		if visited[start.ID] {
			continue
		}

		visited[start.ID] = true
		onStack[start.ID] = 0
		path = append(path[:0], start.ID)
		stack := []dfsFrame{{id: start.ID}}

		for len(stack) > 0 {
			steps++
			if steps&1023 == 0 {
				if err := ctx.Err(); err != nil {
					return cycles, false, err
				}
			}

			top := &stack[len(stack)-1]
			neighbors := adj[top.id]

			if top.next >= len(neighbors) {
				delete(onStack, top.id)
				path = path[:len(path)-1]
				stack = stack[:len(stack)-1]
				continue
			}

			m := neighbors[top.next]
			top.next++

			if idx, ok := onStack[m]; ok {
				cycle := make([]string, 0, len(path)-idx+1)
				cycle = append(cycle, path[idx:]...)
				cycle = append(cycle, m)
				cycles = append(cycles, cycle)
				if len(cycles) >= maxCycles {
					return cycles, true, nil
				}
				continue
			}

			if !visited[m] {
				visited[m] = true
				onStack[m] = len(path)
				path = append(path, m)
				stack = append(stack, dfsFrame{id: m})
			}
		}
	}

	return cycles, false, nil
}

// buildAdjacency returns distinct successors per node in edge order.
//
// Parallel edges collapse into one successor. A DFS over the raw edge list
// would report the closing cycle once per parallel edge, so two import
// declarations of the same file yield one cycle here instead of two.
func buildAdjacency(g *DependencyGraph) map[string][]string {
	adj := make(map[string][]string, len(g.Nodes))
	seen := make(map[[2]string]bool, len(g.Edges))
	for _, e := range g.Edges {
		key := [2]string{e.From, e.To}
		if seen[key] {
			continue
		}
		seen[key] = true
		adj[e.From] = append(adj[e.From], e.To)
	}
	return adj
}

// FindCycles runs cycle detection on an existing graph.
//
// Builder.Build already fills DependencyGraph.Cycles; this is for graphs
// assembled by hand or loaded from storage without cycles.
func FindCycles(ctx context.Context, g *DependencyGraph, maxCycles int) ([][]string, error) {
	if maxCycles <= 0 {
		maxCycles = DefaultMaxCycles
	}
	cycles, _, err := detectCycles(ctx, g, maxCycles)
	return cycles, err
}

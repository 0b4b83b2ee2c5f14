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

import (
	"context"
	"fmt"
)

// pathCheckInterval is how many nodes ShortestPath visits between
// cancellation checks.
const pathCheckInterval = 1000

// PathResult is the outcome of ShortestPath.
type PathResult struct {
	From string `json:"from"`
	To   string `json:"to"`

	// Found is false when To is unreachable from From.
	Found bool `json:"found"`

	// Nodes lists node ids from From to To inclusive.
	Nodes []string `json:"nodes,omitempty"`

	// Edges[i] connects Nodes[i] to Nodes[i+1].
	Edges []Edge `json:"edges,omitempty"`

	// Hops is len(Edges).
	Hops int `json:"hops"`
}

// ShortestPath finds a minimum-hop directed path from one node to another.
//
// Description:
//
//	Breadth-first search over outgoing edges, restricted to kinds when any
//	are given. Edges are explored in insertion order, so among equally
//	short paths the one using earlier edges is returned.
//
// Inputs:
//
//	ctx - Checked periodically during the search.
//	from, to - Node ids. They may be equal, giving a zero-hop path.
//	kinds - Edge kinds to follow. Empty follows all.
//
// Outputs:
//
//	*PathResult - Found is false when no path exists.
//	error - ErrNodeNotFound for an unknown id, or ctx.Err().
//
// Thread Safety: Safe on a frozen graph.
func (g *DependencyGraph) ShortestPath(ctx context.Context, from, to string, kinds ...EdgeKind) (*PathResult, error) {
	for _, id := range []string{from, to} {
		if !g.HasNode(id) {
			return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, id)
		}
	}
	result := &PathResult{From: from, To: to}
	if from == to {
		result.Found = true
		result.Nodes = []string{from}
		return result, nil
	}

	// via[n] is the edge that first reached n.
	via := map[string]Edge{from: {}}
	queue := []string{from}
	visited := 0
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		visited++
		if visited%pathCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		for _, e := range g.Outgoing(cur, kinds...) {
			if _, seen := via[e.To]; seen {
				continue
			}
			via[e.To] = e
			if e.To == to {
				result.Found = true
				result.Nodes, result.Edges = unwind(via, from, to)
				result.Hops = len(result.Edges)
				return result, nil
			}
			queue = append(queue, e.To)
		}
	}
	return result, nil
}

func unwind(via map[string]Edge, from, to string) ([]string, []Edge) {
	var edges []Edge
	for n := to; n != from; {
		e := via[n]
		edges = append(edges, e)
		n = e.From
	}
	nodes := make([]string, 0, len(edges)+1)
	nodes = append(nodes, from)
	for i, j := 0, len(edges)-1; i < j; i, j = i+1, j-1 {
		edges[i], edges[j] = edges[j], edges[i]
	}
	for _, e := range edges {
		nodes = append(nodes, e.To)
	}
	return nodes, edges
}

// Callers returns the distinct nodes with a call edge into id, in edge
// order.
func (g *DependencyGraph) Callers(id string) []Node {
	return g.distinctEnds(g.Incoming(id, EdgeKindCall), func(e Edge) string { return e.From })
}

// Callees returns the distinct nodes id calls, in edge order.
func (g *DependencyGraph) Callees(id string) []Node {
	return g.distinctEnds(g.Outgoing(id, EdgeKindCall), func(e Edge) string { return e.To })
}

func (g *DependencyGraph) distinctEnds(edges []Edge, end func(Edge) string) []Node {
	seen := make(map[string]bool, len(edges))
	out := make([]Node, 0, len(edges))
	for _, e := range edges {
		id := end(e)
		if seen[id] {
			continue
		}
		seen[id] = true
		if n, ok := g.Node(id); ok {
			out = append(out, n)
		}
	}
	return out
}

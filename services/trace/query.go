// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.


package trace

import (
	"context"
	"fmt"

	"github.com/AleutianAI/flowtrace/services/trace/graph"
	"github.com/AleutianAI/flowtrace/services/trace/index"
)

// PathRequest asks for the shortest dependency path between two nodes.
//
// From and To are node ids ("src/a.ts:main") or bare names ("main").
// A name resolves to the first function with that name, falling back to
// the first node of any kind.
type PathRequest struct {
	ProjectRoot string `json:"project_root" binding:"required"`
	From        string `json:"from" binding:"required"`
	To          string `json:"to" binding:"required"`

	// Kinds restricts the edges followed, e.g. ["call"].
	Kinds []graph.EdgeKind `json:"kinds,omitempty"`
}

// SymbolRequest asks for one node's neighborhood.
type SymbolRequest struct {
	ProjectRoot string `json:"project_root" binding:"required"`
	Symbol      string `json:"symbol" binding:"required"`
}

// SymbolResponse describes a node, its direct call neighbors, and the
// flows that pass through it.
type SymbolResponse struct {
	Node    graph.Node   `json:"node"`
	Callers []graph.Node `json:"callers"`
	Callees []graph.Node `json:"callees"`

	// Flows are the ids of flows with a step for this node.
	Flows []string `json:"flows"`
}

// Path analyzes the project and finds a path between two nodes.
//
// Outputs:
//
//	*graph.PathResult - Found is false when no path exists.
//	error - ErrSymbolNotFound, or any error Analyze returns.
func (s *Service) Path(ctx context.Context, req PathRequest) (*graph.PathResult, error) {
	result, err := s.Analyze(ctx, AnalyzeRequest{ProjectRoot: req.ProjectRoot})
	if err != nil {
		return nil, err
	}
	idx := index.NewNodeIndex(result.Graph)
	from, err := resolveNode(result.Graph, idx, req.From)
	if err != nil {
		return nil, err
	}
	to, err := resolveNode(result.Graph, idx, req.To)
	if err != nil {
		return nil, err
	}
	return result.Graph.ShortestPath(ctx, from, to, req.Kinds...)
}

// Symbol analyzes the project and describes one node.
func (s *Service) Symbol(ctx context.Context, req SymbolRequest) (*SymbolResponse, error) {
	result, err := s.Analyze(ctx, AnalyzeRequest{ProjectRoot: req.ProjectRoot})
	if err != nil {
		return nil, err
	}
	id, err := resolveNode(result.Graph, index.NewNodeIndex(result.Graph), req.Symbol)
	if err != nil {
		return nil, err
	}
	node, _ := result.Graph.Node(id)

	resp := &SymbolResponse{
		Node:    node,
		Callers: result.Graph.Callers(id),
		Callees: result.Graph.Callees(id),
		Flows:   []string{},
	}
	for _, f := range result.Flows {
		for _, step := range f.Steps {
			if step.FunctionRef == id {
				resp.Flows = append(resp.Flows, f.ID)
				break
			}
		}
	}
	return resp, nil
}

func resolveNode(g *graph.DependencyGraph, idx *index.NodeIndex, ref string) (string, error) {
	if g.HasNode(ref) {
		return ref, nil
	}
	nodes := idx.Lookup(ref)
	if len(nodes) == 0 {
		return "", fmt.Errorf("%w: %s", ErrSymbolNotFound, ref)
	}
	for _, n := range nodes {
		if n.Kind == graph.NodeKindFunction {
			return n.ID, nil
		}
	}
	return nodes[0].ID, nil
}

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
	"fmt"
	"sort"
	"strings"
)

// GraphDiff contains the differences between two dependency graphs.
type GraphDiff struct {
	// NodesAdded are node IDs present in target but not in base.
	NodesAdded []string `json:"nodes_added"`

	// NodesRemoved are node IDs present in base but not in target.
	NodesRemoved []string `json:"nodes_removed"`

	// NodesModified are nodes whose kind or location changed.
	NodesModified []NodeDiff `json:"nodes_modified"`

	// EdgesAdded are "from|to|kind" keys present only in target.
	EdgesAdded []string `json:"edges_added"`

	// EdgesRemoved are "from|to|kind" keys present only in base.
	EdgesRemoved []string `json:"edges_removed"`

	// CyclesBefore and CyclesAfter are the cycle counts of base and target.
	CyclesBefore int `json:"cycles_before"`
	CyclesAfter  int `json:"cycles_after"`

	Summary DiffSummary `json:"summary"`
}

// NodeDiff describes how a single node changed.
type NodeDiff struct {
	NodeID string `json:"node_id"`

	// ChangeType is "kind_changed" or "moved".
	ChangeType string `json:"change_type"`
}

// DiffSummary contains aggregate statistics about a diff.
type DiffSummary struct {
	// TotalChanges is nodes added + removed + modified + edge changes.
	TotalChanges int `json:"total_changes"`

	// FilesAffected is the number of distinct files with changed nodes.
	FilesAffected int `json:"files_affected"`

	// ChangeRatio is the fraction of nodes that changed (0.0 to 1.0).
	ChangeRatio float64 `json:"change_ratio"`
}

// DiffGraphs computes the differences between two graphs.
//
// Description:
//
//	Compares by node id. Edges are compared as sets of (from, to, kind),
//	so parallel edges count once. All lists are sorted.
//
// Outputs:
//
//	*GraphDiff - The computed differences.
//	error - Non-nil if either graph is nil.
//
// Thread Safety: Safe for concurrent use on frozen graphs.
func DiffGraphs(base, target *DependencyGraph) (*GraphDiff, error) {
	if base == nil {
		return nil, fmt.Errorf("base graph must not be nil")
	}
	if target == nil {
		return nil, fmt.Errorf("target graph must not be nil")
	}

	diff := &GraphDiff{
		NodesAdded:    []string{},
		NodesRemoved:  []string{},
		NodesModified: []NodeDiff{},
		CyclesBefore:  len(base.Cycles),
		CyclesAfter:   len(target.Cycles),
	}
	affectedFiles := make(map[string]bool)

	for _, tNode := range target.Nodes {
		bNode, exists := base.Node(tNode.ID)
		if !exists {
			diff.NodesAdded = append(diff.NodesAdded, tNode.ID)
			affectedFiles[tNode.FilePath] = true
			continue
		}
		if change := classifyChange(bNode, tNode); change != "" {
			diff.NodesModified = append(diff.NodesModified, NodeDiff{NodeID: tNode.ID, ChangeType: change})
			affectedFiles[tNode.FilePath] = true
		}
	}
	for _, bNode := range base.Nodes {
		if !target.HasNode(bNode.ID) {
			diff.NodesRemoved = append(diff.NodesRemoved, bNode.ID)
			affectedFiles[bNode.FilePath] = true
		}
	}

	baseEdges := buildEdgeSet(base.Edges)
	targetEdges := buildEdgeSet(target.Edges)
	diff.EdgesAdded = setDifference(targetEdges, baseEdges)
	diff.EdgesRemoved = setDifference(baseEdges, targetEdges)
	for _, key := range append(append([]string{}, diff.EdgesAdded...), diff.EdgesRemoved...) {
		from := key[:strings.IndexByte(key, '|')]
		if n, ok := target.Node(from); ok {
			affectedFiles[n.FilePath] = true
		} else if n, ok := base.Node(from); ok {
			affectedFiles[n.FilePath] = true
		}
	}

	sort.Strings(diff.NodesAdded)
	sort.Strings(diff.NodesRemoved)
	sort.Slice(diff.NodesModified, func(i, j int) bool {
		return diff.NodesModified[i].NodeID < diff.NodesModified[j].NodeID
	})

	totalNodes := len(base.Nodes)
	if len(target.Nodes) > totalNodes {
		totalNodes = len(target.Nodes)
	}
	changedNodes := len(diff.NodesAdded) + len(diff.NodesRemoved) + len(diff.NodesModified)
	changeRatio := 0.0
	if totalNodes > 0 {
		changeRatio = float64(changedNodes) / float64(totalNodes)
	}

	diff.Summary = DiffSummary{
		TotalChanges:  changedNodes + len(diff.EdgesAdded) + len(diff.EdgesRemoved),
		FilesAffected: len(affectedFiles),
		ChangeRatio:   changeRatio,
	}
	return diff, nil
}

// classifyChange returns "" when two nodes with the same id are equivalent.
func classifyChange(base, target Node) string {
	if base.Kind != target.Kind {
		return "kind_changed"
	}
	if base.Location.StartLine != target.Location.StartLine || base.Location.EndLine != target.Location.EndLine {
		return "moved"
	}
	return ""
}

// buildEdgeSet creates a set of edge keys for comparison.
// Key format: "from|to|kind"
func buildEdgeSet(edges []Edge) map[string]bool {
	set := make(map[string]bool, len(edges))
	for _, e := range edges {
		set[e.From+"|"+e.To+"|"+e.Kind.String()] = true
	}
	return set
}

func setDifference(a, b map[string]bool) []string {
	out := make([]string, 0)
	for key := range a {
		if !b[key] {
			out = append(out, key)
		}
	}
	sort.Strings(out)
	return out
}

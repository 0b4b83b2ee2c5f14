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
	"encoding/json"
	"fmt"
)

// GraphSchemaVersion is the version of the serialization schema.
// Increment when the serialization format changes in a breaking way.
const GraphSchemaVersion = "1.0"

// SerializableGraph is the JSON-serializable representation of a
// DependencyGraph.
//
// Description:
//
//	Nodes and edges keep build order, which is already deterministic for a
//	given record order, so the encoded bytes are identical across runs.
//	No timestamps are included for the same reason.
//
// Thread Safety: SerializableGraph is a value type with no internal state.
type SerializableGraph struct {
	// SchemaVersion identifies the serialization format version.
	SchemaVersion string `json:"schema_version"`

	// ProjectRoot is the project root the graph was built for.
	ProjectRoot string `json:"project_root,omitempty"`

	// GraphHash is the order-independent hash of the node and edge multisets.
	GraphHash string `json:"graph_hash"`

	Nodes  []Node     `json:"nodes"`
	Edges  []Edge     `json:"edges"`
	Cycles [][]string `json:"cycles"`
}

// ToSerializable converts the graph to its JSON-serializable form.
//
// Thread Safety: Safe for concurrent use on frozen graphs.
func (g *DependencyGraph) ToSerializable() *SerializableGraph {
	if g == nil {
		return &SerializableGraph{
			SchemaVersion: GraphSchemaVersion,
			Nodes:         []Node{},
			Edges:         []Edge{},
			Cycles:        [][]string{},
		}
	}
	cycles := g.Cycles
	if cycles == nil {
		cycles = [][]string{}
	}
	return &SerializableGraph{
		SchemaVersion: GraphSchemaVersion,
		ProjectRoot:   g.ProjectRoot,
		GraphHash:     g.Hash(),
		Nodes:         g.Nodes,
		Edges:         g.Edges,
		Cycles:        cycles,
	}
}

// FromSerializable reconstructs a frozen graph.
//
// Description:
//
//	Replays AddNode and AddEdge so every index is rebuilt through the same
//	code path used during a build, then verifies the recorded hash.
//
// Outputs:
//
//	*DependencyGraph - Reconstructed graph in read-only state.
//	error - ErrSchemaVersion, ErrHashMismatch, or an AddNode/AddEdge error.
func FromSerializable(sg *SerializableGraph, opts ...GraphOption) (*DependencyGraph, error) {
	if sg == nil {
		return nil, fmt.Errorf("serializable graph must not be nil")
	}
	if sg.SchemaVersion != GraphSchemaVersion {
		return nil, fmt.Errorf("%w: %q (expected %q)", ErrSchemaVersion, sg.SchemaVersion, GraphSchemaVersion)
	}

	g := NewDependencyGraph(sg.ProjectRoot, opts...)
	for i, n := range sg.Nodes {
		if err := g.AddNode(n); err != nil {
			return nil, fmt.Errorf("adding node %d (%s): %w", i, n.ID, err)
		}
	}
	for i, e := range sg.Edges {
		if err := g.AddEdge(e); err != nil {
			return nil, fmt.Errorf("adding edge %d (%s -> %s): %w", i, e.From, e.To, err)
		}
	}
	if sg.Cycles != nil {
		g.Cycles = sg.Cycles
	}
	g.Freeze()

	if sg.GraphHash != "" && sg.GraphHash != g.Hash() {
		return nil, ErrHashMismatch
	}
	return g, nil
}

// MarshalJSON encodes the graph as a SerializableGraph.
func (g *DependencyGraph) MarshalJSON() ([]byte, error) {
	return json.Marshal(g.ToSerializable())
}

// UnmarshalJSON decodes a SerializableGraph and rebuilds the indexes.
func (g *DependencyGraph) UnmarshalJSON(data []byte) error {
	var sg SerializableGraph
	if err := json.Unmarshal(data, &sg); err != nil {
		return err
	}
	decoded, err := FromSerializable(&sg)
	if err != nil {
		return err
	}
	*g = *decoded
	return nil
}

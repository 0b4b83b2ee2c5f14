// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package graph builds the project-wide dependency graph from file records.
//
// Nodes are files and the functions, classes and variables declared in
// them. Edges are imports, inheritance (extends, implements) and calls.
// Cycles over those edges are reported as data.
//
// # Identity
//
// Node ids are deterministic: the file path for files and
// "filePath:name" for everything else. Two declarations with the same name
// in one file share an id; the first one wins.
//
// # Thread Safety
//
// DependencyGraph is NOT safe for concurrent use during building. It is
// designed for single-writer access while the Builder runs and read-only
// access after Freeze(). After Freeze(), the graph can be safely read from
// multiple goroutines.
//
// # Best Effort
//
// Resolution never fails. An import, superclass or call that cannot be
// resolved simply produces no edge.
package graph

import "errors"

// Sentinel errors for graph operations.
var (
	// ErrGraphFrozen is returned when attempting to modify a frozen graph.
	ErrGraphFrozen = errors.New("graph is frozen and cannot be modified")

	// ErrNodeNotFound is returned when an edge references a non-existent node.
	ErrNodeNotFound = errors.New("node not found")

	// ErrDuplicateNode is returned when adding a node with an ID that
	// already exists in the graph.
	ErrDuplicateNode = errors.New("duplicate node ID")

	// ErrMaxNodesExceeded is returned when the graph has reached its
	// configured maximum node capacity.
	ErrMaxNodesExceeded = errors.New("maximum node count exceeded")

	// ErrMaxEdgesExceeded is returned when the graph has reached its
	// configured maximum edge capacity.
	ErrMaxEdgesExceeded = errors.New("maximum edge count exceeded")

	// ErrInvalidNode is returned for nodes with an empty id or unknown kind.
	ErrInvalidNode = errors.New("invalid node")

	// ErrSchemaVersion is returned when deserializing an unsupported format.
	ErrSchemaVersion = errors.New("unsupported graph schema version")

	// ErrHashMismatch is returned when a deserialized graph does not match
	// its recorded hash.
	ErrHashMismatch = errors.New("graph hash mismatch")
)

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
	"errors"
	"fmt"
	"strings"
)

// FileError represents a record that could not be processed.
type FileError struct {
	// FilePath is the path of the record that failed.
	FilePath string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e FileError) Error() string {
	return fmt.Sprintf("file %s: %v", e.FilePath, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e FileError) Unwrap() error {
	return e.Err
}

// MarshalText lets FileError render as a string in JSON responses.
func (e FileError) MarshalText() ([]byte, error) {
	return []byte(e.Error()), nil
}

// UnmarshalText reverses MarshalText. The underlying error comes back as
// a plain message, so errors.Is no longer matches sentinels.
func (e *FileError) UnmarshalText(text []byte) error {
	s := strings.TrimPrefix(string(text), "file ")
	path, msg, ok := strings.Cut(s, ": ")
	if !ok {
		e.FilePath, e.Err = "", errors.New(string(text))
		return nil
	}
	e.FilePath, e.Err = path, errors.New(msg)
	return nil
}

// BuildStats contains statistics about a build operation.
type BuildStats struct {
	FilesProcessed int `json:"files_processed"`
	FilesFailed    int `json:"files_failed"`
	NodesCreated   int `json:"nodes_created"`

	// DuplicateSymbols counts declarations dropped because an earlier one
	// already claimed the same id.
	DuplicateSymbols int `json:"duplicate_symbols"`

	ImportEdges     int `json:"import_edges"`
	ExtendsEdges    int `json:"extends_edges"`
	ImplementsEdges int `json:"implements_edges"`
	CallEdges       int `json:"call_edges"`

	// UnresolvedImports counts import declarations with no target file.
	UnresolvedImports int `json:"unresolved_imports"`

	// UnresolvedCalls counts call sites with no target function.
	UnresolvedCalls int `json:"unresolved_calls"`

	Cycles int `json:"cycles"`

	// CyclesTruncated is true when cycle detection stopped at the limit.
	CyclesTruncated bool `json:"cycles_truncated,omitempty"`

	DurationMilli int64 `json:"duration_milli"`
}

// EdgesCreated returns the total number of edges.
func (s BuildStats) EdgesCreated() int {
	return s.ImportEdges + s.ExtendsEdges + s.ImplementsEdges + s.CallEdges
}

// BuildResult is the output of Builder.Build.
type BuildResult struct {
	// Graph is the frozen dependency graph. Never nil.
	Graph *DependencyGraph `json:"graph"`

	// External lists non-relative imports that matched no project file.
	External []ExternalDependency `json:"external,omitempty"`

	// FileErrors lists records that were skipped.
	FileErrors []FileError `json:"file_errors,omitempty"`

	Stats BuildStats `json:"stats"`

	// Incomplete is true when the build stopped early (cancellation or
	// capacity limits). The graph holds everything built so far.
	Incomplete bool `json:"incomplete,omitempty"`
}

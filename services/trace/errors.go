// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.


// Package trace is the analysis service: it walks a project, parses every
// ECMAScript file, builds the dependency graph, traces flows, and serves
// the results over HTTP.
package trace

import "errors"

var (
	// ErrProjectNotFound is returned when the project root does not exist.
	ErrProjectNotFound = errors.New("project root not found")

	// ErrNotDirectory is returned when the project root is a file.
	ErrNotDirectory = errors.New("project root is not a directory")

	// ErrRelativeRoot is returned for project roots that are not absolute.
	ErrRelativeRoot = errors.New("project root must be an absolute path")

	// ErrTooManyRecords is returned when a records request exceeds the
	// configured limit.
	ErrTooManyRecords = errors.New("too many records")

	// ErrSnapshotsDisabled is returned when no snapshot store is configured.
	ErrSnapshotsDisabled = errors.New("snapshot persistence not configured")

	// ErrEmptyQuery is returned when a search has no query text.
	ErrEmptyQuery = errors.New("query must not be empty")

	// ErrSymbolNotFound is returned when a name or id matches no node.
	ErrSymbolNotFound = errors.New("symbol not found")
)

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ast produces normalized per-file records from ECMAScript-family
// source code.
//
// A FileRecord lists the symbols, imports, exports, functions, classes and
// detected service/database calls of one file. Records are the only input
// to the graph and flow packages; anything that can produce them (the
// tree-sitter extractor here, or an upstream analyzer shipping JSON) can
// drive the rest of the pipeline.
package ast

import "errors"

// Sentinel errors for parsing.
var (
	// ErrFileTooLarge is returned when content exceeds the parser's size limit.
	ErrFileTooLarge = errors.New("file too large")

	// ErrInvalidContent is returned for content that is not valid UTF-8.
	ErrInvalidContent = errors.New("invalid content: not valid UTF-8")

	// ErrUnsupportedLanguage is returned when no parser handles an extension.
	ErrUnsupportedLanguage = errors.New("unsupported language")

	// ErrInvalidRecord is returned by FileRecord.Validate.
	ErrInvalidRecord = errors.New("invalid file record")
)

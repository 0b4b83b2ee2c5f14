// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ast

import (
	"context"
	"fmt"
	"path"
	"strings"
	"sync"
)

// Parser defines the contract for language-specific record extraction.
//
// Description:
//
//	Implementations turn the raw bytes of one source file into a FileRecord.
//	Parsing is error tolerant: syntax errors produce partial records with
//	messages in FileRecord.Errors rather than a returned error.
//
// Inputs:
//
//	ctx      - Context for cancellation. Checked before and after parsing.
//	content  - Raw source bytes. Must be valid UTF-8.
//	filePath - Project-relative path with forward slashes. Used verbatim in
//	           every Location and in node ids downstream.
//
// Outputs:
//
//	*FileRecord - Extracted facts. Never nil on success.
//	error       - Non-nil only for complete failures (too large, invalid UTF-8,
//	              cancelled).
//
// Thread Safety:
//
//	Implementations must be safe for concurrent use.
type Parser interface {
	Parse(ctx context.Context, content []byte, filePath string) (*FileRecord, error)

	// Language returns the primary language name.
	Language() string

	// Extensions returns the file extensions handled, with leading dots.
	Extensions() []string
}

// Registry maps file extensions to parsers.
//
// Thread Safety: Safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	parsers map[string]Parser
}

// NewRegistry creates a registry with the given parsers registered.
func NewRegistry(parsers ...Parser) *Registry {
	r := &Registry{parsers: make(map[string]Parser)}
	for _, p := range parsers {
		r.Register(p)
	}
	return r
}

// Register adds p for each of its extensions, replacing earlier parsers.
func (r *Registry) Register(p Parser) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ext := range p.Extensions() {
		r.parsers[strings.ToLower(ext)] = p
	}
}

// ForPath returns the parser for the file's extension.
func (r *Registry) ForPath(filePath string) (Parser, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.parsers[strings.ToLower(path.Ext(filePath))]
	return p, ok
}

// Supports reports whether any parser handles the file.
func (r *Registry) Supports(filePath string) bool {
	_, ok := r.ForPath(filePath)
	return ok
}

// Parse dispatches to the parser registered for filePath.
func (r *Registry) Parse(ctx context.Context, content []byte, filePath string) (*FileRecord, error) {
	p, ok := r.ForPath(filePath)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedLanguage, path.Ext(filePath))
	}
	return p.Parse(ctx, content, filePath)
}

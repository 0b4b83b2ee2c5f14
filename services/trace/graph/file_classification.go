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
	"log/slog"
	"path"
	"strings"
)

// consumerRatioThreshold is the fraction of cross-file edges that must
// point into a file for it to count as consumed.
const consumerRatioThreshold = 0.05

// FileClassificationOptions configures ClassifyFiles.
type FileClassificationOptions struct {
	// ExcludePrefixes force matching files to non-production.
	// Example: ["scripts/", "generated/"]
	ExcludePrefixes []string `yaml:"exclude_from_analysis" json:"exclude_from_analysis"`

	// IncludePrefixes force matching files to production. Include wins
	// over exclude.
	IncludePrefixes []string `yaml:"include_override" json:"include_override"`
}

// FileClassificationStats contains summary statistics for logging.
//
// Invariant: TotalFiles == ProductionFiles + NonProductionFiles.
type FileClassificationStats struct {
	TotalFiles         int `json:"total_files"`
	ProductionFiles    int `json:"production_files"`
	NonProductionFiles int `json:"non_production_files"`

	// IsolatedFiles have no cross-file edges and are counted as production.
	IsolatedFiles int `json:"isolated_files"`
}

// FileClassification splits the graph's files into production and
// non-production (tests, fixtures, examples, docs).
//
// Thread Safety: Safe for concurrent reads after ClassifyFiles returns.
type FileClassification struct {
	files map[string]bool
	stats FileClassificationStats
}

// IsProduction reports whether filePath was classified as production.
// Unknown files are production.
func (fc *FileClassification) IsProduction(filePath string) bool {
	if fc == nil {
		return true
	}
	prod, ok := fc.files[filePath]
	return !ok || prod
}

// Stats returns the classification statistics.
func (fc *FileClassification) Stats() FileClassificationStats {
	if fc == nil {
		return FileClassificationStats{}
	}
	return fc.stats
}

// ClassifyFiles classifies every file node in the graph.
//
// Description:
//
//	Phases:
//	  1: Naming conventions (*.test.ts, __tests__/, e2e/, docs/) are definitive
//	  2: Files that import other project files but are never imported back,
//	     and whose path looks like test code, are non-production
//	  3: Overrides, include over exclude
//
//	The graph is only read.
//
// Inputs:
//
//	g - A built graph. Must not be nil.
//	opts - Path prefix overrides.
//
// Outputs:
//
//	*FileClassification - Never nil.
func ClassifyFiles(g *DependencyGraph, opts FileClassificationOptions) *FileClassification {
	fc := &FileClassification{files: make(map[string]bool)}

	for _, n := range g.Nodes {
		if n.Kind != NodeKindFile {
			continue
		}
		fc.stats.TotalFiles++

		if IsTestFile(n.FilePath) || isDocFilePath(n.FilePath) {
			fc.files[n.FilePath] = false
			continue
		}

		in, out := crossFileEdges(g, n.FilePath)
		if in+out == 0 {
			fc.stats.IsolatedFiles++
			fc.files[n.FilePath] = true
			continue
		}
		ratio := float64(in) / float64(in+out)
		fc.files[n.FilePath] = ratio >= consumerRatioThreshold || !isTestFilePath(n.FilePath)
	}

	for file := range fc.files {
		if hasAnyPrefix(file, opts.ExcludePrefixes) {
			fc.files[file] = false
		}
		if hasAnyPrefix(file, opts.IncludePrefixes) {
			fc.files[file] = true
		}
	}

	for _, prod := range fc.files {
		if prod {
			fc.stats.ProductionFiles++
		} else {
			fc.stats.NonProductionFiles++
		}
	}

	slog.Debug("file classification complete",
		slog.Int("total", fc.stats.TotalFiles),
		slog.Int("production", fc.stats.ProductionFiles),
		slog.Int("non_production", fc.stats.NonProductionFiles),
	)
	return fc
}

// crossFileEdges counts edges into and out of a file's nodes that cross
// the file boundary.
func crossFileEdges(g *DependencyGraph, filePath string) (in, out int) {
	for _, n := range g.NodesByFile(filePath) {
		for _, e := range g.Incoming(n.ID) {
			if src, ok := g.Node(e.From); ok && src.FilePath != filePath {
				in++
			}
		}
		for _, e := range g.Outgoing(n.ID) {
			if dst, ok := g.Node(e.To); ok && dst.FilePath != filePath {
				out++
			}
		}
	}
	return in, out
}

// IsTestFile reports whether a path is test code by naming convention.
//
// Matches *.test.* and *.spec.* files and anything under __tests__,
// __mocks__, __fixtures__, e2e or cypress directories.
func IsTestFile(filePath string) bool {
	base := path.Base(filePath)
	stem := strings.TrimSuffix(base, path.Ext(base))
	if strings.HasSuffix(stem, ".test") || strings.HasSuffix(stem, ".spec") ||
		strings.HasSuffix(stem, ".e2e-spec") {
		return true
	}

	lower := strings.ToLower(filePath)
	for _, dir := range []string{"__tests__/", "__fixtures__/", "__mocks__/", "e2e/", "cypress/"} {
		if strings.HasPrefix(lower, dir) || strings.Contains(lower, "/"+dir) {
			return true
		}
	}
	return false
}

// isTestFilePath is the weaker heuristic used together with edge ratios.
func isTestFilePath(filePath string) bool {
	lower := strings.ToLower(filePath)
	for _, dir := range []string{"test/", "tests/", "spec/", "fixtures/", "benchmark/", "benchmarks/"} {
		if strings.HasPrefix(lower, dir) || strings.Contains(lower, "/"+dir) {
			return true
		}
	}
	return false
}

func isDocFilePath(filePath string) bool {
	lower := strings.ToLower(filePath)
	for _, dir := range []string{"doc/", "docs/", "examples/", "example/"} {
		if strings.HasPrefix(lower, dir) || strings.Contains(lower, "/"+dir) {
			return true
		}
	}
	return false
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if p != "" && strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.


// Package index provides name search over dependency graph nodes.
package index

import (
	"context"
	"path"
	"sort"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/flowtrace/services/trace/graph"
)

// searchCheckInterval is how many nodes Search scores between
// cancellation checks.
const searchCheckInterval = 1000

var indexTracer = otel.Tracer("flowtrace.index")

// MatchType says how a node name matched a query.
type MatchType string

const (
	MatchExact     MatchType = "exact"
	MatchPrefix    MatchType = "prefix"
	MatchWord      MatchType = "word"
	MatchSubstring MatchType = "substring"
	MatchFuzzy     MatchType = "fuzzy"
)

// Match is one search hit.
type Match struct {
	Node graph.Node `json:"node"`

	// Score orders hits; lower is better.
	Score int       `json:"score"`
	Type  MatchType `json:"match_type"`
}

// SearchOptions narrows a search.
type SearchOptions struct {
	// Kinds restricts hits to these node kinds. Empty allows all.
	Kinds []graph.NodeKind

	// Limit caps the number of hits. 0 means no limit.
	Limit int

	// FileFilter, when set, drops nodes whose file it rejects.
	FileFilter func(filePath string) bool
}

// NodeIndex answers name lookups over one graph.
//
// Description:
//
//	Nodes are indexed by lowercase name. File nodes are indexed by their
//	base name without extension, so "users" finds "src/routes/users.ts".
//
// Thread Safety: Safe for concurrent use. The index is immutable and
// the graph must not change after NewNodeIndex.
type NodeIndex struct {
	nodes  []graph.Node
	names  []string
	byName map[string][]int
}

// NewNodeIndex indexes every node of g.
func NewNodeIndex(g *graph.DependencyGraph) *NodeIndex {
	idx := &NodeIndex{byName: make(map[string][]int)}
	if g == nil {
		return idx
	}
	idx.nodes = make([]graph.Node, len(g.Nodes))
	idx.names = make([]string, len(g.Nodes))
	copy(idx.nodes, g.Nodes)
	for i, n := range idx.nodes {
		name := searchName(n)
		idx.names[i] = name
		lower := strings.ToLower(name)
		idx.byName[lower] = append(idx.byName[lower], i)
	}
	return idx
}

// Len returns the number of indexed nodes.
func (idx *NodeIndex) Len() int {
	return len(idx.nodes)
}

// Lookup returns nodes whose name equals name, case-insensitively, in
// graph order.
func (idx *NodeIndex) Lookup(name string) []graph.Node {
	positions := idx.byName[strings.ToLower(name)]
	out := make([]graph.Node, 0, len(positions))
	for _, i := range positions {
		out = append(out, idx.nodes[i])
	}
	return out
}

// Search ranks nodes against query.
//
// Description:
//
//	Exact matches rank first, then prefixes, then camelCase word matches,
//	then substrings, then names within an edit distance of
//	max(2, len(query)/3). Within a tier, earlier and closer-length
//	matches win and functions outrank classes, variables and files.
//	Ties are broken by node id so output is stable.
//
// Inputs:
//
//	ctx - Checked every few thousand nodes.
//	query - Case-insensitive. Empty returns nil.
//	opts - Kind, file and count restrictions.
//
// Outputs:
//
//	[]Match - Hits, best first.
//	error - ctx.Err() if cancelled.
func (idx *NodeIndex) Search(ctx context.Context, query string, opts SearchOptions) ([]Match, error) {
	ctx, span := indexTracer.Start(ctx, "index.NodeIndex.Search")
	defer span.End()
	span.SetAttributes(attribute.String("query", query))

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	queryLower := strings.ToLower(query)

	var hits []Match
	for i, n := range idx.nodes {
		if i > 0 && i%searchCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if !kindAllowed(n.Kind, opts.Kinds) {
			continue
		}
		if opts.FileFilter != nil && !opts.FileFilter(n.FilePath) {
			continue
		}
		score, mt, ok := scoreName(query, queryLower, idx.names[i], n.Kind)
		if !ok {
			continue
		}
		hits = append(hits, Match{Node: n, Score: score, Type: mt})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score < hits[j].Score
		}
		return hits[i].Node.ID < hits[j].Node.ID
	})
	if opts.Limit > 0 && len(hits) > opts.Limit {
		hits = hits[:opts.Limit]
	}
	span.SetAttributes(attribute.Int("hits", len(hits)))
	return hits, nil
}

func kindAllowed(kind graph.NodeKind, kinds []graph.NodeKind) bool {
	if len(kinds) == 0 {
		return true
	}
	for _, k := range kinds {
		if k == kind {
			return true
		}
	}
	return false
}

// searchName is the name a node is matched by.
func searchName(n graph.Node) string {
	if n.Kind != graph.NodeKindFile {
		return n.Name
	}
	base := path.Base(n.FilePath)
	return strings.TrimSuffix(base, path.Ext(base))
}

// scoreName computes tier*10000 + position*100 + lengthDiff*10 + kind.
// Each component after the tier is capped so tiers never overlap.
func scoreName(query, queryLower, name string, kind graph.NodeKind) (int, MatchType, bool) {
	nameLower := strings.ToLower(name)
	if nameLower == queryLower {
		return kindPenalty(kind), MatchExact, true
	}

	var (
		tier int
		mt   MatchType
		pos  int
	)
	switch {
	case strings.HasPrefix(nameLower, queryLower):
		tier, mt = 1, MatchPrefix
	case wordMatch(name, query) >= 0:
		tier, mt, pos = 2, MatchWord, wordMatch(name, query)
	case strings.Contains(nameLower, queryLower):
		tier, mt, pos = 3, MatchSubstring, strings.Index(nameLower, queryLower)
	default:
		if editDistance(nameLower, queryLower) > max(2, len(queryLower)/3) {
			return 0, "", false
		}
		tier, mt = 4, MatchFuzzy
	}

	position := 0
	if pos > 0 {
		position = min(99, pos*100/len(name))
	}
	lengthDiff := min(99, absInt(len(name)-len(query)))
	return tier*10000 + position*100 + lengthDiff*10 + kindPenalty(kind), mt, true
}

// wordMatch returns where query matches a whole camelCase, snake_case
// or kebab-case word run of name, or -1.
//
// "User" matches "findUser" at 4 and "getUserById" at 3, but not
// "findUsers".
func wordMatch(name, query string) int {
	if query == "" || len(query) > len(name) {
		return -1
	}
	for i := 0; i+len(query) <= len(name); i++ {
		if !wordStart(name, i) {
			continue
		}
		if !strings.EqualFold(name[i:i+len(query)], query) {
			continue
		}
		end := i + len(query)
		if end == len(name) || wordStart(name, end) || !isLetter(name[end]) {
			return i
		}
	}
	return -1
}

func wordStart(s string, i int) bool {
	if i == 0 {
		return true
	}
	prev, cur := s[i-1], s[i]
	if prev == '_' || prev == '-' || prev == '$' {
		return isLetter(cur)
	}
	return isUpper(cur) && !isUpper(prev)
}

func kindPenalty(kind graph.NodeKind) int {
	switch kind {
	case graph.NodeKindFunction:
		return 0
	case graph.NodeKindClass:
		return 1
	case graph.NodeKindVariable:
		return 2
	default:
		return 3
	}
}

func isUpper(c byte) bool { return c >= 'A' && c <= 'Z' }

func isLetter(c byte) bool { return isUpper(c) || (c >= 'a' && c <= 'z') }

func absInt(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

// editDistance is the Levenshtein distance over bytes, two rows at a time.
func editDistance(a, b string) int {
	if a == "" {
		return len(b)
	}
	if b == "" {
		return len(a)
	}
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		cur[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}

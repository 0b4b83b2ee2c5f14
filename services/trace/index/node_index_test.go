// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.


package index

import (
	"context"
	"strings"
	"testing"

	"github.com/AleutianAI/flowtrace/services/trace/graph"
)

func buildTestGraph(t *testing.T) *graph.DependencyGraph {
	t.Helper()
	g := graph.NewDependencyGraph("/app")
	add := func(kind graph.NodeKind, file, name string) {
		id := graph.FileNodeID(file)
		if kind != graph.NodeKindFile {
			id = graph.SymbolNodeID(file, name)
		}
		if err := g.AddNode(graph.Node{ID: id, Kind: kind, FilePath: file, Name: name}); err != nil {
			t.Fatalf("AddNode(%s): %v", id, err)
		}
	}
	add(graph.NodeKindFile, "src/routes/users.ts", "src/routes/users.ts")
	add(graph.NodeKindFunction, "src/routes/users.ts", "getUser")
	add(graph.NodeKindFunction, "src/routes/users.ts", "createUser")
	add(graph.NodeKindFile, "src/db/users.ts", "src/db/users.ts")
	add(graph.NodeKindFunction, "src/db/users.ts", "findUser")
	add(graph.NodeKindFunction, "src/db/users.ts", "findUsers")
	add(graph.NodeKindClass, "src/db/users.ts", "User")
	add(graph.NodeKindVariable, "src/db/pool.ts", "user_cache")
	add(graph.NodeKindFunction, "src/routes/users.test.ts", "getFakeUser")
	g.Freeze()
	return g
}

func ids(matches []Match) []string {
	out := make([]string, len(matches))
	for i, m := range matches {
		out[i] = m.Node.ID
	}
	return out
}

func TestSearch_Ranking(t *testing.T) {
	idx := NewNodeIndex(buildTestGraph(t))

	matches, err := idx.Search(context.Background(), "user", SearchOptions{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(matches) == 0 {
		t.Fatal("expected matches")
	}
	if matches[0].Node.ID != "src/db/users.ts:User" || matches[0].Type != MatchExact {
		t.Errorf("expected exact class match first, got %v", ids(matches))
	}
	if matches[1].Type != MatchPrefix {
		t.Errorf("expected prefix matches next, got %s for %s", matches[1].Type, matches[1].Node.ID)
	}

	for i := 1; i < len(matches); i++ {
		if matches[i-1].Score > matches[i].Score {
			t.Errorf("results not sorted at %d: %v", i, ids(matches))
		}
	}
}

func TestSearch_WordBeatsSubstring(t *testing.T) {
	idx := NewNodeIndex(buildTestGraph(t))
	matches, err := idx.Search(context.Background(), "User", SearchOptions{Kinds: []graph.NodeKind{graph.NodeKindFunction}})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	types := make(map[string]MatchType)
	for _, m := range matches {
		types[m.Node.Name] = m.Type
	}
	if types["findUser"] != MatchWord {
		t.Errorf("findUser: expected word match, got %q", types["findUser"])
	}
	if types["findUsers"] != MatchSubstring {
		t.Errorf("findUsers: expected substring match, got %q", types["findUsers"])
	}
	if _, ok := types["User"]; ok {
		t.Error("kind filter should drop the class")
	}
}

func TestSearch_Fuzzy(t *testing.T) {
	idx := NewNodeIndex(buildTestGraph(t))
	matches, err := idx.Search(context.Background(), "getUsr", SearchOptions{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(matches) == 0 || matches[0].Node.Name != "getUser" || matches[0].Type != MatchFuzzy {
		t.Errorf("expected fuzzy getUser, got %v", ids(matches))
	}
}

func TestSearch_FileNodesByBaseName(t *testing.T) {
	idx := NewNodeIndex(buildTestGraph(t))
	matches, err := idx.Search(context.Background(), "users", SearchOptions{Kinds: []graph.NodeKind{graph.NodeKindFile}})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	// Both files named users.ts tie; id order decides.
	got := ids(matches)
	if len(got) != 2 || got[0] != "src/db/users.ts" || got[1] != "src/routes/users.ts" {
		t.Errorf("unexpected file matches: %v", got)
	}
}

func TestSearch_FilterAndLimit(t *testing.T) {
	idx := NewNodeIndex(buildTestGraph(t))
	matches, err := idx.Search(context.Background(), "user", SearchOptions{
		Limit:      2,
		FileFilter: func(p string) bool { return !strings.HasSuffix(p, ".test.ts") },
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(matches) != 2 {
		t.Errorf("expected 2 matches, got %d", len(matches))
	}
	for _, m := range matches {
		if strings.HasSuffix(m.Node.FilePath, ".test.ts") {
			t.Errorf("filtered file returned: %s", m.Node.ID)
		}
	}
}

func TestSearch_EmptyAndCancelled(t *testing.T) {
	idx := NewNodeIndex(buildTestGraph(t))

	matches, err := idx.Search(context.Background(), "  ", SearchOptions{})
	if err != nil || matches != nil {
		t.Errorf("expected nil for empty query, got %v, %v", matches, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := idx.Search(ctx, "user", SearchOptions{}); err != context.Canceled {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestLookup(t *testing.T) {
	idx := NewNodeIndex(buildTestGraph(t))
	if idx.Len() != 9 {
		t.Errorf("expected 9 nodes, got %d", idx.Len())
	}
	nodes := idx.Lookup("FINDUSER")
	if len(nodes) != 1 || nodes[0].ID != "src/db/users.ts:findUser" {
		t.Errorf("unexpected lookup result: %v", nodes)
	}
	if len(NewNodeIndex(nil).Lookup("x")) != 0 {
		t.Error("nil graph should index nothing")
	}
}

func TestWordMatch(t *testing.T) {
	tests := []struct {
		name, query string
		want        int
	}{
		{"findUser", "User", 4},
		{"getUserById", "user", 3},
		{"findUsers", "User", -1},
		{"user_cache", "cache", 5},
		{"Unprocessed", "process", -1},
		{"ab", "abc", -1},
	}
	for _, tt := range tests {
		if got := wordMatch(tt.name, tt.query); got != tt.want {
			t.Errorf("wordMatch(%q, %q) = %d, want %d", tt.name, tt.query, got, tt.want)
		}
	}
}

func TestEditDistance(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "abc", 3},
		{"kitten", "sitting", 3},
		{"getuser", "getusr", 1},
		{"same", "same", 0},
	}
	for _, tt := range tests {
		if got := editDistance(tt.a, tt.b); got != tt.want {
			t.Errorf("editDistance(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

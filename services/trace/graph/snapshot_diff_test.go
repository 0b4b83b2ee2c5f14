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
	"context"
	"reflect"
	"testing"

	"github.com/AleutianAI/flowtrace/services/trace/ast"
)

func TestDiffGraphs(t *testing.T) {
	base := NewBuilder().Build(context.Background(), twoFileCycle()).Graph

	records := twoFileCycle()
	records[0].Imports = nil
	records[0].Symbols[0].Location.StartLine = 4
	records[0].Symbols[0].Location.EndLine = 6
	c := testRecord("c.ts")
	addFunction(c, "baz", 1, 2)
	records = append(records, c)
	target := NewBuilder().Build(context.Background(), records).Graph

	diff, err := DiffGraphs(base, target)
	if err != nil {
		t.Fatalf("DiffGraphs: %v", err)
	}

	if !reflect.DeepEqual(diff.NodesAdded, []string{"c.ts", "c.ts:baz"}) {
		t.Errorf("unexpected added nodes %v", diff.NodesAdded)
	}
	if len(diff.NodesRemoved) != 0 {
		t.Errorf("unexpected removed nodes %v", diff.NodesRemoved)
	}
	if len(diff.NodesModified) != 1 || diff.NodesModified[0].NodeID != "a.ts:foo" || diff.NodesModified[0].ChangeType != "moved" {
		t.Errorf("unexpected modified nodes %v", diff.NodesModified)
	}
	if !reflect.DeepEqual(diff.EdgesRemoved, []string{"a.ts|b.ts|import"}) {
		t.Errorf("unexpected removed edges %v", diff.EdgesRemoved)
	}
	if len(diff.EdgesAdded) != 0 {
		t.Errorf("unexpected added edges %v", diff.EdgesAdded)
	}
	if diff.CyclesBefore != 1 || diff.CyclesAfter != 0 {
		t.Errorf("unexpected cycle counts %d -> %d", diff.CyclesBefore, diff.CyclesAfter)
	}
	if diff.Summary.TotalChanges != 4 {
		t.Errorf("expected 4 total changes, got %d", diff.Summary.TotalChanges)
	}
	if diff.Summary.FilesAffected != 2 {
		t.Errorf("expected 2 files affected, got %d", diff.Summary.FilesAffected)
	}
}

func TestDiffGraphs_Identical(t *testing.T) {
	g := NewBuilder().Build(context.Background(), twoFileCycle()).Graph
	diff, err := DiffGraphs(g, g)
	if err != nil {
		t.Fatalf("DiffGraphs: %v", err)
	}
	if diff.Summary.TotalChanges != 0 || diff.Summary.ChangeRatio != 0 {
		t.Errorf("expected empty diff, got %+v", diff.Summary)
	}
}

func TestDiffGraphs_Nil(t *testing.T) {
	g := NewBuilder().Build(context.Background(), []*ast.FileRecord{testRecord("x.ts")}).Graph
	if _, err := DiffGraphs(nil, g); err == nil {
		t.Error("expected error for nil base")
	}
	if _, err := DiffGraphs(g, nil); err == nil {
		t.Error("expected error for nil target")
	}
}

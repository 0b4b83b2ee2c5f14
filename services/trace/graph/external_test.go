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

import "testing"

func TestInferPackageFromSpecifier(t *testing.T) {
	tests := map[string]string{
		"express":            "express",
		"lodash/fp":          "lodash",
		"@nestjs/core":       "@nestjs/core",
		"@nestjs/core/utils": "@nestjs/core",
		"node:fs":            "fs",
		"@scope":             "@scope",
	}
	for in, want := range tests {
		if got := inferPackageFromSpecifier(in); got != want {
			t.Errorf("inferPackageFromSpecifier(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestExternalCollector(t *testing.T) {
	c := newExternalCollector()
	c.add("pg", "src/db.ts")
	c.add("express", "src/app.ts")
	c.add("pg", "src/db.ts")
	c.add("pg", "src/repo.ts")

	deps := c.list()
	if len(deps) != 2 {
		t.Fatalf("expected 2 deps, got %d", len(deps))
	}
	if deps[0].Specifier != "pg" || deps[1].Specifier != "express" {
		t.Errorf("expected first-seen order, got %v", deps)
	}
	if deps[0].ImportCount != 3 {
		t.Errorf("expected 3 imports of pg, got %d", deps[0].ImportCount)
	}
	if len(deps[0].ImportedBy) != 2 {
		t.Errorf("expected 2 distinct importers, got %v", deps[0].ImportedBy)
	}
}

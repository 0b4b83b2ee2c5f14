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

import "strings"

// ExternalDependency is a package imported by project files that did not
// resolve to any project file.
//
// Description:
//
//	Unresolved non-relative imports produce no edge. They are still worth
//	reporting: the list shows which third-party packages the project leans
//	on and which files pull them in. The core does not distinguish a real
//	third-party package from a mistyped project path.
//
// Thread Safety: Immutable after the build returns.
type ExternalDependency struct {
	// Specifier is the module specifier as written ("express", "@nestjs/core").
	Specifier string `json:"specifier"`

	// Package is the package name inferred from the specifier.
	Package string `json:"package"`

	// ImportedBy lists importing files in first-seen order.
	ImportedBy []string `json:"imported_by"`

	// ImportCount is the number of import declarations.
	ImportCount int `json:"import_count"`
}

// externalCollector aggregates unresolved imports in first-seen order.
type externalCollector struct {
	order []string
	deps  map[string]*ExternalDependency
}

func newExternalCollector() *externalCollector {
	return &externalCollector{deps: make(map[string]*ExternalDependency)}
}

func (c *externalCollector) add(specifier, fromFile string) {
	dep, ok := c.deps[specifier]
	if !ok {
		dep = &ExternalDependency{
			Specifier: specifier,
			Package:   inferPackageFromSpecifier(specifier),
		}
		c.deps[specifier] = dep
		c.order = append(c.order, specifier)
	}
	dep.ImportCount++
	for _, f := range dep.ImportedBy {
		if f == fromFile {
			return
		}
	}
	dep.ImportedBy = append(dep.ImportedBy, fromFile)
}

func (c *externalCollector) list() []ExternalDependency {
	out := make([]ExternalDependency, 0, len(c.order))
	for _, s := range c.order {
		out = append(out, *c.deps[s])
	}
	return out
}

// inferPackageFromSpecifier strips subpaths from a bare specifier.
//
// Examples:
//
//	"lodash/fp"          → "lodash"
//	"@nestjs/core/utils" → "@nestjs/core"
//	"node:fs"            → "fs"
func inferPackageFromSpecifier(specifier string) string {
	s := strings.TrimPrefix(specifier, "node:")
	parts := strings.Split(s, "/")
	if strings.HasPrefix(s, "@") && len(parts) >= 2 {
		return parts[0] + "/" + parts[1]
	}
	return parts[0]
}

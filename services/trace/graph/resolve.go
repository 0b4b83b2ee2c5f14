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
	"path"
	"strings"

	"github.com/AleutianAI/flowtrace/services/trace/ast"
)

// maxInheritanceDepth bounds the superclass walk for this.method() calls.
const maxInheritanceDepth = 20

// moduleExtensions are probed in order after a relative specifier.
var moduleExtensions = []string{".js", ".ts", ".jsx", ".tsx", ".mjs", ".cjs", ".mts", ".cts"}

// resolveModule maps an import specifier to a project file path.
//
// Relative specifiers are joined against the importing file's directory
// and probed as-is, with each extension, and as a directory index.
// Non-relative specifiers match the first file path containing them.
func resolveModule(state *buildState, fromFile, specifier string) (string, bool) {
	if specifier == "" {
		return "", false
	}

	if isRelativeSpecifier(specifier) {
		base := joinRelative(path.Dir(fromFile), specifier)
		for _, candidate := range moduleCandidates(base) {
			if _, ok := state.files[candidate]; ok {
				return candidate, true
			}
		}
		return "", false
	}

	for _, rec := range state.records {
		if strings.Contains(rec.FilePath, specifier) {
			return rec.FilePath, true
		}
	}
	return "", false
}

func isRelativeSpecifier(s string) bool {
	return s == "." || s == ".." || strings.HasPrefix(s, "./") || strings.HasPrefix(s, "../")
}

// joinRelative walks dir's components against the specifier's segments.
// ".." above the project root is dropped.
func joinRelative(dir, specifier string) string {
	parts := make([]string, 0, 8)
	if dir != "." && dir != "" && dir != "/" {
		parts = append(parts, strings.Split(strings.Trim(dir, "/"), "/")...)
	}
	for _, seg := range strings.Split(specifier, "/") {
		switch seg {
		case "", ".":
		case "..":
			if len(parts) > 0 {
				parts = parts[:len(parts)-1]
			}
		default:
			parts = append(parts, seg)
		}
	}
	joined := strings.Join(parts, "/")
	if strings.HasPrefix(dir, "/") {
		return "/" + joined
	}
	return joined
}

// moduleCandidates lists the paths probed for a resolved base path.
func moduleCandidates(base string) []string {
	candidates := make([]string, 0, 2*len(moduleExtensions)+4)
	candidates = append(candidates, base)
	for _, ext := range moduleExtensions {
		candidates = append(candidates, base+ext)
	}
	for _, ext := range moduleExtensions {
		candidates = append(candidates, base+"/index"+ext)
	}

	// TypeScript ESM imports name the emitted file: "./a.js" means a.ts.
	switch path.Ext(base) {
	case ".js", ".jsx", ".mjs", ".cjs":
		stem := strings.TrimSuffix(base, path.Ext(base))
		candidates = append(candidates, stem+".ts", stem+".tsx", stem+".mts", stem+".cts")
	}
	return candidates
}

// resolveSymbolInFile finds a declaration named name in the target file.
//
// Order: top-level functions, classes, other symbols, then exports whose
// name matches. With allowDefault the default export also matches.
func resolveSymbolInFile(state *buildState, targetFile, name string, allowDefault bool) string {
	rec, ok := state.files[targetFile]
	if !ok || name == "" {
		return ""
	}

	for _, fn := range rec.Functions {
		if fn.Name == name && fn.ClassName == "" {
			if id := existingNode(state, targetFile, name); id != "" {
				return id
			}
		}
	}
	for _, cls := range rec.Classes {
		if cls.Name == name {
			if id := existingNode(state, targetFile, name); id != "" {
				return id
			}
		}
	}
	for _, sym := range rec.Symbols {
		if sym.Name == name && sym.Kind != ast.SymbolKindMethod {
			if id := existingNode(state, targetFile, name); id != "" {
				return id
			}
		}
	}
	for _, exp := range rec.Exports {
		if exp.Source != "" || exp.LocalName == "" {
			continue
		}
		if exp.Name == name || (allowDefault && exp.Name == "default") {
			if id := existingNode(state, targetFile, exp.LocalName); id != "" {
				return id
			}
		}
	}
	return ""
}

// resolveDefaultExport returns the node backing the target's default export.
func resolveDefaultExport(state *buildState, targetFile string) string {
	rec, ok := state.files[targetFile]
	if !ok {
		return ""
	}
	for _, exp := range rec.Exports {
		if exp.IsDefault && exp.Source == "" && exp.LocalName != "" {
			if id := existingNode(state, targetFile, exp.LocalName); id != "" {
				return id
			}
		}
	}
	return ""
}

func existingNode(state *buildState, filePath, name string) string {
	id := SymbolNodeID(filePath, name)
	if state.graph.HasNode(id) {
		return id
	}
	return ""
}

// findClass returns the first class named name across all records.
func findClass(state *buildState, name string) string {
	for _, rec := range state.records {
		for _, cls := range rec.Classes {
			if cls.Name != name {
				continue
			}
			id := SymbolNodeID(rec.FilePath, name)
			if n, ok := state.graph.Node(id); ok && n.Kind == NodeKindClass {
				return id
			}
		}
	}
	return ""
}

// findClassRecord returns the first class named name and its record.
func findClassRecord(state *buildState, name string) (*ast.FileRecord, *ast.Class) {
	for _, rec := range state.records {
		for i := range rec.Classes {
			if rec.Classes[i].Name == name {
				return rec, &rec.Classes[i]
			}
		}
	}
	return nil, nil
}

// findInterface returns the first symbol declared as an interface named name.
func findInterface(state *buildState, name string) string {
	for _, rec := range state.records {
		for _, sym := range rec.Symbols {
			if sym.Kind == ast.SymbolKindInterface && sym.Name == name {
				if id := existingNode(state, rec.FilePath, name); id != "" {
					return id
				}
			}
		}
	}
	return ""
}

// resolveCall picks the target function node for a call site.
//
// Order:
//  1. this./super. calls: a method of the caller's class, then its superclasses
//  2. bare calls: a top-level function in the same file
//  3. bare calls bound by an import, or member calls on an imported namespace
//  4. the first function with that name in record order
func resolveCall(state *buildState, rec *ast.FileRecord, fn ast.Function, call ast.CallSite) string {
	callee := call.Callee
	if callee == "" {
		return ""
	}

	if call.IsThisCall() && fn.ClassName != "" {
		if id := resolveMethod(state, rec, fn.ClassName, callee); id != "" {
			return id
		}
	}

	if call.Receiver == "" {
		for _, other := range rec.Functions {
			if other.Name == callee && other.ClassName == "" {
				if id := functionNode(state, rec.FilePath, callee); id != "" {
					return id
				}
			}
		}
	}

	if locals := state.importLocals[rec.FilePath]; locals != nil {
		if call.Receiver == "" {
			if binding, ok := locals[callee]; ok && binding.nodeID != "" {
				if n, ok := state.graph.Node(binding.nodeID); ok && n.Kind == NodeKindFunction {
					return binding.nodeID
				}
			}
		} else if binding, ok := locals[receiverRoot(call.Receiver)]; ok {
			if id := resolveSymbolInFile(state, binding.targetFile, callee, false); id != "" {
				if n, ok := state.graph.Node(id); ok && n.Kind == NodeKindFunction {
					return id
				}
			}
		}
	}

	wantMethod := call.Receiver != ""
	for _, ref := range state.functionsByName[callee] {
		if (ref.className != "") == wantMethod {
			return ref.nodeID
		}
	}
	return ""
}

// resolveMethod finds callee on className or its superclasses.
func resolveMethod(state *buildState, rec *ast.FileRecord, className, callee string) string {
	currentRec := rec
	current := className
	for depth := 0; depth < maxInheritanceDepth && current != ""; depth++ {
		var cls *ast.Class
		for i := range currentRec.Classes {
			if currentRec.Classes[i].Name == current {
				cls = &currentRec.Classes[i]
				break
			}
		}
		if cls == nil {
			currentRec, cls = findClassRecord(state, current)
			if cls == nil {
				return ""
			}
		}
		for _, m := range cls.Methods {
			if m == callee {
				return functionNode(state, currentRec.FilePath, callee)
			}
		}
		current = cls.SuperClass
	}
	return ""
}

func functionNode(state *buildState, filePath, name string) string {
	id := SymbolNodeID(filePath, name)
	if n, ok := state.graph.Node(id); ok && n.Kind == NodeKindFunction {
		return id
	}
	return ""
}

// receiverRoot returns the first segment of a member receiver.
func receiverRoot(receiver string) string {
	if i := strings.IndexAny(receiver, ".[("); i >= 0 {
		return receiver[:i]
	}
	return receiver
}

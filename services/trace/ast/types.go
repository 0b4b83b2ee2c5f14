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
	"fmt"
	"path"
	"strings"
)

// Location identifies a span of source code.
//
// Lines are 1-based and inclusive. Columns are 0-based byte offsets within
// the line, matching tree-sitter points.
type Location struct {
	// FilePath is the project-relative path, forward slashes.
	FilePath string `json:"file_path"`

	// StartLine is the first line of the span (1-based).
	StartLine int `json:"start_line"`

	// EndLine is the last line of the span (1-based, inclusive).
	EndLine int `json:"end_line"`

	// StartColumn is the column of the first byte (0-based).
	StartColumn int `json:"start_column"`

	// EndColumn is the column after the last byte (0-based).
	EndColumn int `json:"end_column"`
}

// Contains reports whether other lies fully inside l by line range.
//
// Both locations must be in the same file. Columns are ignored; two spans
// on the same lines contain each other.
func (l Location) Contains(other Location) bool {
	if l.FilePath != other.FilePath {
		return false
	}
	return l.StartLine <= other.StartLine && other.EndLine <= l.EndLine
}

// Span returns the number of lines covered by the location.
func (l Location) Span() int {
	if l.EndLine < l.StartLine {
		return 0
	}
	return l.EndLine - l.StartLine + 1
}

// String returns "path:start-end".
func (l Location) String() string {
	return fmt.Sprintf("%s:%d-%d", l.FilePath, l.StartLine, l.EndLine)
}

// SymbolKind categorizes a declared symbol.
type SymbolKind string

const (
	SymbolKindFunction  SymbolKind = "function"
	SymbolKindMethod    SymbolKind = "method"
	SymbolKindClass     SymbolKind = "class"
	SymbolKindInterface SymbolKind = "interface"
	SymbolKindVariable  SymbolKind = "variable"
	SymbolKindConstant  SymbolKind = "constant"
	SymbolKindType      SymbolKind = "type"
	SymbolKindEnum      SymbolKind = "enum"
)

// IsCallable returns true for functions and methods.
func (k SymbolKind) IsCallable() bool {
	return k == SymbolKindFunction || k == SymbolKindMethod
}

// IsTypeLike returns true for classes, interfaces, enums and type aliases.
func (k SymbolKind) IsTypeLike() bool {
	switch k {
	case SymbolKindClass, SymbolKindInterface, SymbolKindEnum, SymbolKindType:
		return true
	default:
		return false
	}
}

// Symbol is a named declaration in a file.
type Symbol struct {
	Name     string     `json:"name"`
	Kind     SymbolKind `json:"kind"`
	Location Location   `json:"location"`
	Exported bool       `json:"exported,omitempty"`

	// TypeName is the declared type annotation, if any (TypeScript only).
	TypeName string `json:"type_name,omitempty"`
}

// ImportSpecifier is one binding introduced by an import.
//
// For `import { a as b } from "x"`, Imported is "a" and Local is "b".
type ImportSpecifier struct {
	Imported string `json:"imported"`
	Local    string `json:"local"`
}

// Import is a module dependency declared by a file.
type Import struct {
	// Source is the module specifier exactly as written ("./util", "express").
	Source string `json:"source"`

	// Specifiers are the named bindings.
	Specifiers []ImportSpecifier `json:"specifiers,omitempty"`

	// DefaultName is the local name of a default import, if any.
	DefaultName string `json:"default_name,omitempty"`

	// Namespace is the local name of a namespace import (`* as ns`), if any.
	Namespace string `json:"namespace,omitempty"`

	// IsDynamic is true for `import()` expressions.
	IsDynamic bool `json:"is_dynamic,omitempty"`

	// IsTypeOnly is true for `import type` declarations.
	IsTypeOnly bool `json:"is_type_only,omitempty"`

	Location Location `json:"location"`
}

// IsRelative reports whether the specifier starts with "./" or "../".
func (i Import) IsRelative() bool {
	return strings.HasPrefix(i.Source, "./") || strings.HasPrefix(i.Source, "../") ||
		i.Source == "." || i.Source == ".."
}

// LocalNames returns every local binding the import introduces, in
// declaration order: default, namespace, then named specifiers.
func (i Import) LocalNames() []string {
	names := make([]string, 0, len(i.Specifiers)+2)
	if i.DefaultName != "" {
		names = append(names, i.DefaultName)
	}
	if i.Namespace != "" {
		names = append(names, i.Namespace)
	}
	for _, s := range i.Specifiers {
		names = append(names, s.Local)
	}
	return names
}

// Export is a name made visible to other modules.
type Export struct {
	// Name is the exported name ("default" for default exports).
	Name string `json:"name"`

	// LocalName is the binding inside the file that backs the export.
	LocalName string `json:"local_name,omitempty"`

	IsDefault bool `json:"is_default,omitempty"`

	// Source is set for re-exports (`export { x } from "./y"`).
	Source string `json:"source,omitempty"`

	Location Location `json:"location"`
}

// Parameter is one formal parameter of a function.
type Parameter struct {
	Name     string `json:"name"`
	Type     string `json:"type,omitempty"`
	Optional bool   `json:"optional,omitempty"`
}

// CallSite is a call expression inside a function body.
type CallSite struct {
	// Callee is the called name: "save" for `repo.save()`.
	Callee string `json:"callee"`

	// Receiver is the object expression for member calls ("repo", "this").
	Receiver string `json:"receiver,omitempty"`

	Location Location `json:"location"`
}

// IsThisCall reports whether the call targets the enclosing instance.
func (c CallSite) IsThisCall() bool {
	return c.Receiver == "this" || c.Receiver == "super"
}

// Function is a function, arrow function bound to a name, or class method.
type Function struct {
	Name string `json:"name"`

	// ClassName is the owning class for methods; empty for free functions.
	ClassName string `json:"class_name,omitempty"`

	Parameters []Parameter `json:"parameters,omitempty"`
	IsAsync    bool        `json:"is_async,omitempty"`
	IsArrow    bool        `json:"is_arrow,omitempty"`
	IsExported bool        `json:"is_exported,omitempty"`

	// Complexity is the cyclomatic complexity of the body (1 + branches).
	Complexity int `json:"complexity"`

	Calls    []CallSite `json:"calls,omitempty"`
	Location Location   `json:"location"`

	// Route is set when the function is registered on a router, as in
	// router.get("/users/:id", handler).
	Route *RouteBinding `json:"route,omitempty"`
}

// RouteBinding is the method and path a handler is registered under.
// Path parameters are normalized to ":param".
type RouteBinding struct {
	Method string `json:"method"`
	Path   string `json:"path"`
}

// QualifiedName returns "Class.method" for methods and the bare name otherwise.
func (f Function) QualifiedName() string {
	if f.ClassName == "" {
		return f.Name
	}
	return f.ClassName + "." + f.Name
}

// HasParameter reports whether any parameter name equals one of names,
// ignoring case.
func (f Function) HasParameter(names ...string) bool {
	for _, p := range f.Parameters {
		for _, n := range names {
			if strings.EqualFold(p.Name, n) {
				return true
			}
		}
	}
	return false
}

// Class is a class declaration.
type Class struct {
	Name       string   `json:"name"`
	SuperClass string   `json:"super_class,omitempty"`
	Implements []string `json:"implements,omitempty"`
	Methods    []string `json:"methods,omitempty"`
	IsAbstract bool     `json:"is_abstract,omitempty"`
	IsExported bool     `json:"is_exported,omitempty"`
	Location   Location `json:"location"`
}

// ServiceCallKind categorizes a detected outbound call.
type ServiceCallKind string

const (
	ServiceCallHTTPRequest   ServiceCallKind = "http_request"
	ServiceCallDatabaseQuery ServiceCallKind = "database_query"
	ServiceCallExternalAPI   ServiceCallKind = "external_api"
)

// ServiceCall is a detected call to an HTTP endpoint, database, or
// third-party API.
type ServiceCall struct {
	ID      string          `json:"id"`
	Kind    ServiceCallKind `json:"kind"`
	Service string          `json:"service"`

	// Method is the HTTP verb for HTTP requests.
	Method string `json:"method,omitempty"`

	// Endpoint is the URL or path for HTTP requests.
	Endpoint string `json:"endpoint,omitempty"`

	// Operation is the query/SDK operation ("findMany", "charges.create").
	Operation string `json:"operation,omitempty"`

	Location   Location          `json:"location"`
	IsExternal bool              `json:"is_external"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// ExternalService aggregates the calls a file makes to one outside service.
type ExternalService struct {
	Name      string          `json:"name"`
	Kind      ServiceCallKind `json:"kind"`
	Endpoints []string        `json:"endpoints,omitempty"`
	CallCount int             `json:"call_count"`
}

// DatabaseOperation is a detected database read or write.
type DatabaseOperation struct {
	ID        string   `json:"id"`
	Operation string   `json:"operation"`
	Target    string   `json:"target,omitempty"`
	Library   string   `json:"library,omitempty"`
	Location  Location `json:"location"`
}

// FileRecord is the normalized per-file analysis output consumed by the
// graph builder and flow tracer.
//
// Records are independent of each other; producing them can run in
// parallel. Once handed to the builder a record must not be mutated.
type FileRecord struct {
	FilePath string `json:"file_path"`
	Language string `json:"language"`

	// Hash is the SHA256 of the file content, hex encoded.
	Hash string `json:"hash,omitempty"`

	Symbols            []Symbol            `json:"symbols"`
	Imports            []Import            `json:"imports"`
	Exports            []Export            `json:"exports"`
	Functions          []Function          `json:"functions"`
	Classes            []Class             `json:"classes"`
	ServiceCalls       []ServiceCall       `json:"service_calls"`
	ExternalServices   []ExternalService   `json:"external_services"`
	DatabaseOperations []DatabaseOperation `json:"database_operations"`

	// Errors holds non-fatal extraction problems.
	Errors []string `json:"errors,omitempty"`
}

// NewFileRecord returns an empty record with non-nil slices.
func NewFileRecord(filePath, language string) *FileRecord {
	return &FileRecord{
		FilePath:           filePath,
		Language:           language,
		Symbols:            make([]Symbol, 0),
		Imports:            make([]Import, 0),
		Exports:            make([]Export, 0),
		Functions:          make([]Function, 0),
		Classes:            make([]Class, 0),
		ServiceCalls:       make([]ServiceCall, 0),
		ExternalServices:   make([]ExternalService, 0),
		DatabaseOperations: make([]DatabaseOperation, 0),
	}
}

// Validate checks the record for structural problems.
func (r *FileRecord) Validate() error {
	if r == nil {
		return fmt.Errorf("%w: nil record", ErrInvalidRecord)
	}
	if r.FilePath == "" {
		return fmt.Errorf("%w: empty file path", ErrInvalidRecord)
	}
	for i, fn := range r.Functions {
		if fn.Name == "" {
			return fmt.Errorf("%w: function[%d] has empty name", ErrInvalidRecord, i)
		}
		if fn.Location.EndLine < fn.Location.StartLine {
			return fmt.Errorf("%w: function %s has inverted location", ErrInvalidRecord, fn.Name)
		}
	}
	for i, c := range r.Classes {
		if c.Name == "" {
			return fmt.Errorf("%w: class[%d] has empty name", ErrInvalidRecord, i)
		}
	}
	return nil
}

// Language names produced by LanguageForPath.
const (
	LanguageJavaScript      = "javascript"
	LanguageJavaScriptReact = "javascriptreact"
	LanguageTypeScript      = "typescript"
	LanguageTypeScriptReact = "typescriptreact"
)

// LanguageForPath maps a file extension to a language name. It returns ""
// for files outside the ECMAScript family.
func LanguageForPath(filePath string) string {
	switch strings.ToLower(path.Ext(filePath)) {
	case ".js", ".mjs", ".cjs":
		return LanguageJavaScript
	case ".jsx":
		return LanguageJavaScriptReact
	case ".ts", ".mts", ".cts":
		return LanguageTypeScript
	case ".tsx":
		return LanguageTypeScriptReact
	default:
		return ""
	}
}

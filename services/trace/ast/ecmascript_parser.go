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
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
	"go.opentelemetry.io/otel/attribute"
)

const (
	// MaxCallSitesPerFunction bounds call extraction for generated code.
	MaxCallSitesPerFunction = 1000

	// MaxCallExpressionDepth bounds the iterative body walk.
	MaxCallExpressionDepth = 200
)

// EcmaScriptParser extracts FileRecords from JavaScript, JSX, TypeScript
// and TSX source.
//
// Description:
//
//	Uses tree-sitter to parse the file and walks top-level statements for
//	imports, exports, functions, classes, interfaces and variables. A
//	second walk over every call expression feeds the ServiceDetector,
//	which fills ServiceCalls, DatabaseOperations and ExternalServices.
//
// Thread Safety:
//
//	Safe for concurrent use. Each Parse call creates its own tree-sitter
//	parser instance.
//
// Example:
//
//	parser := NewEcmaScriptParser()
//	rec, err := parser.Parse(ctx, content, "src/routes/users.ts")
//	if err != nil {
//	    return fmt.Errorf("parse: %w", err)
//	}
//	for _, fn := range rec.Functions {
//	    fmt.Println(fn.QualifiedName())
//	}
type EcmaScriptParser struct {
	options  EcmaScriptParserOptions
	detector *ServiceDetector
}

// EcmaScriptParserOptions configures EcmaScriptParser behavior.
type EcmaScriptParserOptions struct {
	// MaxFileSize is the maximum file size in bytes to parse.
	// Default: 10MB
	MaxFileSize int

	// DetectServices enables service/database call detection.
	// Default: true
	DetectServices bool

	// Patterns configures the service detector.
	Patterns ServicePatterns
}

// DefaultEcmaScriptParserOptions returns the default options.
func DefaultEcmaScriptParserOptions() EcmaScriptParserOptions {
	return EcmaScriptParserOptions{
		MaxFileSize:    10 * 1024 * 1024,
		DetectServices: true,
		Patterns:       DefaultServicePatterns(),
	}
}

// EcmaScriptParserOption is a functional option for configuring EcmaScriptParser.
type EcmaScriptParserOption func(*EcmaScriptParserOptions)

// WithMaxFileSize sets the maximum file size for parsing.
func WithMaxFileSize(size int) EcmaScriptParserOption {
	return func(o *EcmaScriptParserOptions) {
		o.MaxFileSize = size
	}
}

// WithServiceDetection enables or disables service call detection.
func WithServiceDetection(enabled bool) EcmaScriptParserOption {
	return func(o *EcmaScriptParserOptions) {
		o.DetectServices = enabled
	}
}

// WithServicePatterns replaces the detector's client name lists.
func WithServicePatterns(p ServicePatterns) EcmaScriptParserOption {
	return func(o *EcmaScriptParserOptions) {
		o.Patterns = p
	}
}

// NewEcmaScriptParser creates a parser with the given options.
func NewEcmaScriptParser(opts ...EcmaScriptParserOption) *EcmaScriptParser {
	options := DefaultEcmaScriptParserOptions()
	for _, opt := range opts {
		opt(&options)
	}
	return &EcmaScriptParser{
		options:  options,
		detector: NewServiceDetector(options.Patterns),
	}
}

// Language returns the language family name.
func (p *EcmaScriptParser) Language() string {
	return "ecmascript"
}

// Extensions returns the file extensions this parser handles.
func (p *EcmaScriptParser) Extensions() []string {
	return []string{".js", ".mjs", ".cjs", ".jsx", ".ts", ".mts", ".cts", ".tsx"}
}

// Parse extracts a FileRecord from ECMAScript source.
//
// Description:
//
//	Selects the grammar from the file extension (.tsx uses the TSX grammar,
//	.ts/.mts/.cts the TypeScript grammar, everything else the JavaScript
//	grammar, which also covers JSX), then extracts declarations and calls.
//
// Outputs:
//
//	*FileRecord - Extracted facts. Never nil on success.
//	error       - ErrFileTooLarge, ErrInvalidContent, or a cancellation error.
//
// Thread Safety: Safe for concurrent use.
func (p *EcmaScriptParser) Parse(ctx context.Context, content []byte, filePath string) (*FileRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("ecmascript parse canceled before start: %w", err)
	}

	if len(content) > p.options.MaxFileSize {
		return nil, ErrFileTooLarge
	}
	if !utf8.Valid(content) {
		return nil, ErrInvalidContent
	}

	language := LanguageForPath(filePath)
	if language == "" {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedLanguage, filePath)
	}

	ctx, span := tracer.Start(ctx, "EcmaScriptParser.Parse")
	defer span.End()
	start := time.Now()

	hash := sha256.Sum256(content)
	rec := NewFileRecord(filePath, language)
	rec.Hash = hex.EncodeToString(hash[:])

	parser := sitter.NewParser()
	switch language {
	case LanguageTypeScriptReact:
		parser.SetLanguage(tsx.GetLanguage())
	case LanguageTypeScript:
		parser.SetLanguage(typescript.GetLanguage())
	default:
		parser.SetLanguage(javascript.GetLanguage())
	}

	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		recordParseMetrics(ctx, language, time.Since(start), 0, false)
		return nil, fmt.Errorf("tree-sitter parse failed: %w", err)
	}
	defer tree.Close()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("ecmascript parse canceled after tree-sitter: %w", err)
	}

	root := tree.RootNode()
	if root.HasError() {
		rec.Errors = append(rec.Errors, "source contains syntax errors; record may be partial")
	}

	x := &esExtraction{
		ctx:       ctx,
		content:   content,
		filePath:  filePath,
		rec:       rec,
		extracted: make(map[uint32]bool),
	}
	x.extractProgram(root)
	x.extractNested(root)
	x.bindRoutes()
	calls := x.collectCallExpressions(root)

	if p.options.DetectServices {
		p.detector.Detect(rec, calls)
	}

	if err := rec.Validate(); err != nil {
		rec.Errors = append(rec.Errors, fmt.Sprintf("validation error: %v", err))
	}

	span.SetAttributes(
		attribute.String("file", filePath),
		attribute.String("language", language),
		attribute.Int("functions", len(rec.Functions)),
		attribute.Int("classes", len(rec.Classes)),
		attribute.Int("imports", len(rec.Imports)),
		attribute.Int("service_calls", len(rec.ServiceCalls)),
	)
	recordParseMetrics(ctx, language, time.Since(start), len(rec.ServiceCalls), true)

	return rec, nil
}

// esExtraction holds the state of one Parse call.
type esExtraction struct {
	ctx      context.Context
	content  []byte
	filePath string
	rec      *FileRecord

	// extracted holds the start bytes of function nodes already turned
	// into Functions.
	extracted map[uint32]bool

	// routeRefs are handlers passed to a router by name.
	routeRefs []routeRef
}

func (x *esExtraction) text(n *sitter.Node) string {
	if n == nil {
		return ""
	}
	return n.Content(x.content)
}

func (x *esExtraction) location(n *sitter.Node) Location {
	return Location{
		FilePath:    x.filePath,
		StartLine:   int(n.StartPoint().Row) + 1,
		EndLine:     int(n.EndPoint().Row) + 1,
		StartColumn: int(n.StartPoint().Column),
		EndColumn:   int(n.EndPoint().Column),
	}
}

// hasToken reports whether n has a direct anonymous child of the given type.
func hasToken(n *sitter.Node, tokenType string) bool {
	for i := 0; i < int(n.ChildCount()); i++ {
		if c := n.Child(i); c != nil && c.Type() == tokenType {
			return true
		}
	}
	return false
}

func (x *esExtraction) extractProgram(root *sitter.Node) {
	if root == nil || root.Type() != esNodeProgram {
		return
	}
	for i := 0; i < int(root.NamedChildCount()); i++ {
		x.extractStatement(root.NamedChild(i), false, false)
	}
}

// extractStatement handles one top-level statement. exported and isDefault
// are set when the statement is the declaration of an export.
func (x *esExtraction) extractStatement(node *sitter.Node, exported, isDefault bool) {
	if node == nil {
		return
	}

	switch node.Type() {
	case esNodeImportStatement:
		x.extractImport(node)

	case esNodeExportStatement:
		x.extractExport(node)

	case esNodeFunctionDeclaration, esNodeGeneratorFunctionDecl:
		name := x.text(node.ChildByFieldName("name"))
		if name == "" {
			return
		}
		fn := x.buildFunction(node, name, "", exported, false)
		x.addFunction(fn, SymbolKindFunction)
		if isDefault {
			x.addExport(Export{Name: "default", LocalName: name, IsDefault: true, Location: x.location(node)})
		}

	case esNodeClassDeclaration, esNodeAbstractClassDecl:
		cls := x.extractClass(node, exported)
		if cls != nil && isDefault {
			x.addExport(Export{Name: "default", LocalName: cls.Name, IsDefault: true, Location: x.location(node)})
		}

	case esNodeLexicalDeclaration, esNodeVariableDeclaration:
		x.extractVariables(node, exported)

	case esNodeInterfaceDeclaration:
		x.addTypeSymbol(node, SymbolKindInterface, exported)

	case esNodeTypeAliasDeclaration:
		x.addTypeSymbol(node, SymbolKindType, exported)

	case esNodeEnumDeclaration:
		x.addTypeSymbol(node, SymbolKindEnum, exported)

	case esNodeExpressionStatement:
		if expr := node.NamedChild(0); expr != nil && expr.Type() == esNodeAssignmentExpression {
			x.extractAssignment(expr)
		}
	}
}

func (x *esExtraction) addFunction(fn Function, kind SymbolKind) {
	x.rec.Functions = append(x.rec.Functions, fn)
	x.rec.Symbols = append(x.rec.Symbols, Symbol{
		Name:     fn.Name,
		Kind:     kind,
		Location: fn.Location,
		Exported: fn.IsExported,
	})
	if fn.IsExported && fn.ClassName == "" {
		x.addExport(Export{Name: fn.Name, LocalName: fn.Name, Location: fn.Location})
	}
}

func (x *esExtraction) addExport(e Export) {
	for _, existing := range x.rec.Exports {
		if existing.Name == e.Name && existing.LocalName == e.LocalName && existing.Source == e.Source {
			return
		}
	}
	x.rec.Exports = append(x.rec.Exports, e)
}

func (x *esExtraction) addTypeSymbol(node *sitter.Node, kind SymbolKind, exported bool) {
	name := x.text(node.ChildByFieldName("name"))
	if name == "" {
		return
	}
	loc := x.location(node)
	x.rec.Symbols = append(x.rec.Symbols, Symbol{Name: name, Kind: kind, Location: loc, Exported: exported})
	if exported {
		x.addExport(Export{Name: name, LocalName: name, Location: loc})
	}
}

// =============================================================================
// Imports and exports
// =============================================================================

func (x *esExtraction) extractImport(node *sitter.Node) {
	source := x.stringValue(node.ChildByFieldName("source"))
	if source == "" {
		return
	}

	imp := Import{
		Source:     source,
		IsTypeOnly: hasToken(node, esNodeType),
		Location:   x.location(node),
	}

	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		if child.Type() != esNodeImportClause {
			continue
		}
		for j := 0; j < int(child.NamedChildCount()); j++ {
			part := child.NamedChild(j)
			switch part.Type() {
			case esNodeIdentifier:
				imp.DefaultName = x.text(part)
			case esNodeNamespaceImport:
				for k := 0; k < int(part.NamedChildCount()); k++ {
					if id := part.NamedChild(k); id.Type() == esNodeIdentifier {
						imp.Namespace = x.text(id)
					}
				}
			case esNodeNamedImports:
				for k := 0; k < int(part.NamedChildCount()); k++ {
					spec := part.NamedChild(k)
					if spec.Type() != esNodeImportSpecifier {
						continue
					}
					imported := x.stringOrIdent(spec.ChildByFieldName("name"))
					local := x.text(spec.ChildByFieldName("alias"))
					if local == "" {
						local = imported
					}
					if imported != "" {
						imp.Specifiers = append(imp.Specifiers, ImportSpecifier{Imported: imported, Local: local})
					}
				}
			}
		}
	}

	x.rec.Imports = append(x.rec.Imports, imp)
}

func (x *esExtraction) extractExport(node *sitter.Node) {
	isDefault := hasToken(node, esNodeDefault)
	source := x.stringValue(node.ChildByFieldName("source"))

	if decl := node.ChildByFieldName("declaration"); decl != nil {
		x.extractStatement(decl, true, isDefault)
		return
	}

	if value := node.ChildByFieldName("value"); value != nil && isDefault {
		loc := x.location(node)
		switch value.Type() {
		case esNodeIdentifier:
			x.addExport(Export{Name: "default", LocalName: x.text(value), IsDefault: true, Location: loc})
		case esNodeArrowFunction, esNodeFunctionExpression, esNodeFunction, esNodeGeneratorFunction:
			name := x.text(value.ChildByFieldName("name"))
			if name == "" {
				name = "default"
			}
			fn := x.buildFunction(value, name, "", true, value.Type() == esNodeArrowFunction)
			x.rec.Functions = append(x.rec.Functions, fn)
			x.rec.Symbols = append(x.rec.Symbols, Symbol{Name: name, Kind: SymbolKindFunction, Location: fn.Location, Exported: true})
			x.addExport(Export{Name: "default", LocalName: name, IsDefault: true, Location: loc})
		case esNodeClass:
			x.extractClassNamed(value, "default", true)
			x.addExport(Export{Name: "default", LocalName: "default", IsDefault: true, Location: loc})
		default:
			x.addExport(Export{Name: "default", IsDefault: true, Location: loc})
		}
		return
	}

	clauseFound := false
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		if child.Type() != esNodeExportClause {
			continue
		}
		clauseFound = true
		for j := 0; j < int(child.NamedChildCount()); j++ {
			spec := child.NamedChild(j)
			if spec.Type() != esNodeExportSpecifier {
				continue
			}
			local := x.stringOrIdent(spec.ChildByFieldName("name"))
			name := x.stringOrIdent(spec.ChildByFieldName("alias"))
			if name == "" {
				name = local
			}
			if local == "" {
				continue
			}
			x.addExport(Export{
				Name:      name,
				LocalName: local,
				IsDefault: name == "default",
				Source:    source,
				Location:  x.location(spec),
			})
		}
	}

	// export * from "./x"
	if !clauseFound && source != "" {
		x.addExport(Export{Name: "*", Source: source, Location: x.location(node)})
	}
}

// stringValue returns the unquoted content of a string node.
func (x *esExtraction) stringValue(n *sitter.Node) string {
	if n == nil {
		return ""
	}
	for i := 0; i < int(n.NamedChildCount()); i++ {
		if c := n.NamedChild(i); c.Type() == esNodeStringFragment {
			return x.text(c)
		}
	}
	text := x.text(n)
	if len(text) >= 2 {
		return text[1 : len(text)-1]
	}
	return text
}

func (x *esExtraction) stringOrIdent(n *sitter.Node) string {
	if n == nil {
		return ""
	}
	if n.Type() == esNodeString {
		return x.stringValue(n)
	}
	return x.text(n)
}

// =============================================================================
// Functions
// =============================================================================

// buildFunction converts a function-like node into a Function.
func (x *esExtraction) buildFunction(node *sitter.Node, name, className string, exported, arrow bool) Function {
	fn := Function{
		Name:       name,
		ClassName:  className,
		IsAsync:    hasToken(node, esNodeAsync),
		IsArrow:    arrow,
		IsExported: exported,
		Complexity: 1,
		Location:   x.location(node),
	}
	x.extracted[node.StartByte()] = true

	if params := node.ChildByFieldName("parameters"); params != nil {
		fn.Parameters = x.extractParameters(params)
	} else if param := node.ChildByFieldName("parameter"); param != nil {
		// Single unparenthesized arrow parameter: req => ...
		fn.Parameters = []Parameter{{Name: x.text(param)}}
	}

	if body := node.ChildByFieldName("body"); body != nil {
		fn.Calls, fn.Complexity = x.walkBody(body)
	}

	return fn
}

// extractParameters reads formal_parameters for both grammars.
func (x *esExtraction) extractParameters(node *sitter.Node) []Parameter {
	params := make([]Parameter, 0, node.NamedChildCount())
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		switch child.Type() {
		case esNodeIdentifier:
			params = append(params, Parameter{Name: x.text(child)})

		case esNodeRequiredParameter, esNodeOptionalParameter:
			// TypeScript: pattern + optional type annotation
			p := Parameter{
				Name:     x.patternName(child.ChildByFieldName("pattern")),
				Type:     typeText(x.text(child.ChildByFieldName("type"))),
				Optional: child.Type() == esNodeOptionalParameter,
			}
			if child.ChildByFieldName("value") != nil {
				p.Optional = true
			}
			if p.Name != "" {
				params = append(params, p)
			}

		case esNodeAssignmentPattern:
			params = append(params, Parameter{Name: x.patternName(child.ChildByFieldName("left")), Optional: true})

		case esNodeRestPattern, esNodeObjectPattern, esNodeArrayPattern:
			params = append(params, Parameter{Name: x.patternName(child)})
		}
	}
	return params
}

func (x *esExtraction) patternName(n *sitter.Node) string {
	if n == nil {
		return ""
	}
	switch n.Type() {
	case esNodeRestPattern:
		for i := 0; i < int(n.NamedChildCount()); i++ {
			if c := n.NamedChild(i); c.Type() == esNodeIdentifier {
				return "..." + x.text(c)
			}
		}
		return x.text(n)
	case esNodeAssignmentPattern:
		return x.patternName(n.ChildByFieldName("left"))
	default:
		return x.text(n)
	}
}

// typeText strips the leading colon of a type annotation.
func typeText(s string) string {
	return strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), ":"))
}

// walkBody collects call sites and cyclomatic complexity from a function body.
//
// Iterative depth-first walk so deeply nested callbacks cannot overflow the
// stack. Calls inside nested callbacks are attributed to the enclosing
// function.
func (x *esExtraction) walkBody(body *sitter.Node) ([]CallSite, int) {
	type stackEntry struct {
		node  *sitter.Node
		depth int
	}

	calls := make([]CallSite, 0, 8)
	complexity := 1
	stack := []stackEntry{{node: body}}
	nodeCount := 0

	for len(stack) > 0 {
		entry := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		node := entry.node

		if entry.depth > MaxCallExpressionDepth {
			slog.Debug("max call expression depth reached",
				slog.String("file", x.filePath),
				slog.Int("depth", entry.depth),
			)
			continue
		}

		nodeCount++
		if nodeCount%100 == 0 && x.ctx.Err() != nil {
			return calls, complexity
		}

		t := node.Type()
		if esBranchNodes[t] {
			complexity++
		}
		if t == "binary_expression" {
			if op := node.ChildByFieldName("operator"); op != nil && esLogicalOperators[op.Type()] {
				complexity++
			}
		}
		if t == esNodeCallExpression && len(calls) < MaxCallSitesPerFunction {
			if cs, ok := x.callSite(node); ok {
				calls = append(calls, cs)
			}
		}

		for i := int(node.ChildCount()) - 1; i >= 0; i-- {
			if child := node.Child(i); child != nil {
				stack = append(stack, stackEntry{node: child, depth: entry.depth + 1})
			}
		}
	}

	return calls, complexity
}

// callSite extracts callee and receiver from a call_expression.
func (x *esExtraction) callSite(node *sitter.Node) (CallSite, bool) {
	fnNode := node.ChildByFieldName("function")
	if fnNode == nil {
		return CallSite{}, false
	}

	cs := CallSite{Location: x.location(node)}
	switch fnNode.Type() {
	case esNodeIdentifier:
		cs.Callee = x.text(fnNode)
	case esNodeMemberExpression:
		cs.Callee = x.text(fnNode.ChildByFieldName("property"))
		cs.Receiver = compactReceiver(x.text(fnNode.ChildByFieldName("object")))
	default:
		return CallSite{}, false
	}

	if cs.Callee == "" {
		return CallSite{}, false
	}
	return cs, true
}

// compactReceiver removes whitespace and truncates long receiver text.
func compactReceiver(s string) string {
	s = strings.Join(strings.Fields(s), "")
	if len(s) > 100 {
		s = s[:100]
	}
	return s
}

// =============================================================================
// Classes
// =============================================================================

func (x *esExtraction) extractClass(node *sitter.Node, exported bool) *Class {
	name := x.text(node.ChildByFieldName("name"))
	if name == "" {
		return nil
	}
	return x.extractClassNamed(node, name, exported)
}

func (x *esExtraction) extractClassNamed(node *sitter.Node, name string, exported bool) *Class {
	cls := Class{
		Name:       name,
		IsAbstract: node.Type() == esNodeAbstractClassDecl,
		IsExported: exported,
		Location:   x.location(node),
	}

	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		if child.Type() == esNodeClassHeritage {
			x.extractHeritage(child, &cls)
		}
	}

	if body := node.ChildByFieldName("body"); body != nil {
		for i := 0; i < int(body.NamedChildCount()); i++ {
			member := body.NamedChild(i)
			fn, ok := x.classMember(member, name)
			if !ok {
				continue
			}
			cls.Methods = append(cls.Methods, fn.Name)
			x.addFunction(fn, SymbolKindMethod)
		}
	}

	x.rec.Classes = append(x.rec.Classes, cls)
	x.rec.Symbols = append(x.rec.Symbols, Symbol{Name: name, Kind: SymbolKindClass, Location: cls.Location, Exported: exported})
	if exported {
		x.addExport(Export{Name: name, LocalName: name, Location: cls.Location})
	}
	return &x.rec.Classes[len(x.rec.Classes)-1]
}

// extractHeritage handles both `class_heritage: extends expr` (javascript)
// and extends_clause/implements_clause (typescript).
func (x *esExtraction) extractHeritage(node *sitter.Node, cls *Class) {
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		switch child.Type() {
		case esNodeExtendsClause:
			value := child.ChildByFieldName("value")
			if value == nil && child.NamedChildCount() > 0 {
				value = child.NamedChild(0)
			}
			cls.SuperClass = stripTypeArguments(x.text(value))
		case esNodeImplementsClause:
			for j := 0; j < int(child.NamedChildCount()); j++ {
				if iface := stripTypeArguments(x.text(child.NamedChild(j))); iface != "" {
					cls.Implements = append(cls.Implements, iface)
				}
			}
		default:
			if cls.SuperClass == "" {
				cls.SuperClass = stripTypeArguments(x.text(child))
			}
		}
	}
}

func stripTypeArguments(s string) string {
	if i := strings.Index(s, "<"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

// classMember returns a Function for methods and arrow-function fields.
func (x *esExtraction) classMember(member *sitter.Node, className string) (Function, bool) {
	switch member.Type() {
	case esNodeMethodDefinition:
		name := x.text(member.ChildByFieldName("name"))
		if name == "" {
			return Function{}, false
		}
		return x.buildFunction(member, name, className, false, false), true

	case "field_definition", "public_field_definition":
		nameNode := member.ChildByFieldName("property")
		if nameNode == nil {
			nameNode = member.ChildByFieldName("name")
		}
		value := member.ChildByFieldName("value")
		if nameNode == nil || value == nil {
			return Function{}, false
		}
		switch value.Type() {
		case esNodeArrowFunction, esNodeFunctionExpression, esNodeFunction:
			fn := x.buildFunction(value, x.text(nameNode), className, false, value.Type() == esNodeArrowFunction)
			fn.Location = x.location(member)
			return fn, true
		}
	}
	return Function{}, false
}

// =============================================================================
// Variables
// =============================================================================

func (x *esExtraction) extractVariables(node *sitter.Node, exported bool) {
	isConst := hasToken(node, esNodeConst)

	for i := 0; i < int(node.NamedChildCount()); i++ {
		decl := node.NamedChild(i)
		if decl.Type() != esNodeVariableDeclarator {
			continue
		}
		nameNode := decl.ChildByFieldName("name")
		if nameNode == nil || nameNode.Type() != esNodeIdentifier {
			continue
		}
		name := x.text(nameNode)
		value := decl.ChildByFieldName("value")

		if fnNode := functionValue(value); fnNode != nil {
			fn := x.buildFunction(fnNode, name, "", exported, fnNode.Type() == esNodeArrowFunction)
			fn.Location = x.location(decl)
			x.addFunction(fn, SymbolKindFunction)
			continue
		}

		if value != nil && value.Type() == esNodeClass {
			x.extractClassNamed(value, name, exported)
			continue
		}

		kind := SymbolKindVariable
		if isConst {
			kind = SymbolKindConstant
		}
		loc := x.location(decl)
		x.rec.Symbols = append(x.rec.Symbols, Symbol{
			Name:     name,
			Kind:     kind,
			Location: loc,
			Exported: exported,
			TypeName: typeText(x.text(decl.ChildByFieldName("type"))),
		})
		if exported {
			x.addExport(Export{Name: name, LocalName: name, Location: loc})
		}
	}
}

// functionValue returns the function node bound by a declarator value.
//
// Besides plain function/arrow values it unwraps wrapper calls such as
// `asyncHandler(async (req, res) => {...})`, taking the last function
// argument.
func functionValue(value *sitter.Node) *sitter.Node {
	if value == nil {
		return nil
	}
	switch value.Type() {
	case esNodeArrowFunction, esNodeFunctionExpression, esNodeFunction, esNodeGeneratorFunction:
		return value
	case esNodeCallExpression:
		args := value.ChildByFieldName("arguments")
		if args == nil {
			return nil
		}
		for i := int(args.NamedChildCount()) - 1; i >= 0; i-- {
			arg := args.NamedChild(i)
			switch arg.Type() {
			case esNodeArrowFunction, esNodeFunctionExpression, esNodeFunction:
				return arg
			}
		}
	}
	return nil
}

// =============================================================================
// Call expressions (imports via require/import() and service detection)
// =============================================================================

// collectCallExpressions walks the whole tree once, recording CommonJS and
// dynamic imports and returning every call for service detection.
func (x *esExtraction) collectCallExpressions(root *sitter.Node) []CallExpression {
	calls := make([]CallExpression, 0, 32)
	stack := []*sitter.Node{root}
	nodeCount := 0

	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		nodeCount++
		if nodeCount%500 == 0 && x.ctx.Err() != nil {
			return calls
		}

		if node.Type() == esNodeCallExpression {
			if call, ok := x.callExpression(node); ok {
				calls = append(calls, call)
			}
		}

		for i := int(node.ChildCount()) - 1; i >= 0; i-- {
			if child := node.Child(i); child != nil {
				stack = append(stack, child)
			}
		}
	}
	return calls
}

func (x *esExtraction) callExpression(node *sitter.Node) (CallExpression, bool) {
	fnNode := node.ChildByFieldName("function")
	if fnNode == nil {
		return CallExpression{}, false
	}
	args := x.callArguments(node.ChildByFieldName("arguments"))

	switch fnNode.Type() {
	case esNodeImport:
		x.addRequireImport(node, args, true)
		return CallExpression{}, false

	case esNodeIdentifier:
		callee := x.text(fnNode)
		if callee == "require" {
			x.addRequireImport(node, args, false)
			return CallExpression{}, false
		}
		return CallExpression{Callee: callee, Args: args, Location: x.location(node)}, true

	case esNodeMemberExpression:
		callee := x.text(fnNode.ChildByFieldName("property"))
		if callee == "" {
			return CallExpression{}, false
		}
		return CallExpression{
			Callee:   callee,
			Receiver: compactReceiver(x.text(fnNode.ChildByFieldName("object"))),
			Args:     args,
			Location: x.location(node),
		}, true
	}
	return CallExpression{}, false
}

func (x *esExtraction) callArguments(node *sitter.Node) []CallArgument {
	if node == nil {
		return nil
	}
	args := make([]CallArgument, 0, node.NamedChildCount())
	for i := 0; i < int(node.NamedChildCount()); i++ {
		arg := node.NamedChild(i)
		switch arg.Type() {
		case esNodeString:
			args = append(args, CallArgument{Kind: ArgumentString, Value: x.stringValue(arg)})
		case esNodeTemplateString:
			args = append(args, CallArgument{Kind: ArgumentTemplate, Value: x.templateValue(arg)})
		case esNodeObject:
			args = append(args, CallArgument{Kind: ArgumentObject, Properties: x.objectProperties(arg)})
		case esNodeComment:
			continue
		default:
			args = append(args, CallArgument{Kind: ArgumentOther, Value: compactReceiver(x.text(arg))})
		}
	}
	return args
}

// templateValue renders `/users/${id}` as "/users/:param".
func (x *esExtraction) templateValue(n *sitter.Node) string {
	var b strings.Builder
	last := n.StartByte() + 1
	for i := 0; i < int(n.NamedChildCount()); i++ {
		c := n.NamedChild(i)
		if c.Type() != esNodeTemplateSubst {
			continue
		}
		b.Write(x.content[last:c.StartByte()])
		b.WriteString(":param")
		last = c.EndByte()
	}
	end := n.EndByte() - 1
	if end > last {
		b.Write(x.content[last:end])
	}
	return b.String()
}

// objectProperties returns string-valued properties of an object literal.
func (x *esExtraction) objectProperties(n *sitter.Node) map[string]string {
	props := make(map[string]string)
	for i := 0; i < int(n.NamedChildCount()); i++ {
		pair := n.NamedChild(i)
		if pair.Type() != esNodePair {
			continue
		}
		key := x.stringOrIdent(pair.ChildByFieldName("key"))
		value := pair.ChildByFieldName("value")
		if key == "" || value == nil {
			continue
		}
		switch value.Type() {
		case esNodeString:
			props[key] = x.stringValue(value)
		case esNodeTemplateString:
			props[key] = x.templateValue(value)
		default:
			props[key] = compactReceiver(x.text(value))
		}
	}
	return props
}

// addRequireImport records `require("x")` or `import("x")`.
//
// Bindings come from the enclosing declarator: `const x = require("y")`
// binds a default name, `const { a, b: c } = require("y")` binds specifiers.
func (x *esExtraction) addRequireImport(node *sitter.Node, args []CallArgument, dynamic bool) {
	if len(args) == 0 || (args[0].Kind != ArgumentString && args[0].Kind != ArgumentTemplate) {
		return
	}
	imp := Import{
		Source:    args[0].Value,
		IsDynamic: dynamic,
		Location:  x.location(node),
	}

	parent := node.Parent()
	if parent != nil && parent.Type() == esNodeAwaitExpression {
		parent = parent.Parent()
	}
	if parent != nil && parent.Type() == esNodeVariableDeclarator {
		nameNode := parent.ChildByFieldName("name")
		switch {
		case nameNode == nil:
		case nameNode.Type() == esNodeIdentifier:
			imp.DefaultName = x.text(nameNode)
		case nameNode.Type() == esNodeObjectPattern:
			imp.Specifiers = x.destructuredSpecifiers(nameNode)
		}
	}

	x.rec.Imports = append(x.rec.Imports, imp)
}

func (x *esExtraction) destructuredSpecifiers(pattern *sitter.Node) []ImportSpecifier {
	specs := make([]ImportSpecifier, 0, pattern.NamedChildCount())
	for i := 0; i < int(pattern.NamedChildCount()); i++ {
		c := pattern.NamedChild(i)
		switch c.Type() {
		case "shorthand_property_identifier_pattern":
			name := x.text(c)
			specs = append(specs, ImportSpecifier{Imported: name, Local: name})
		case "pair_pattern":
			imported := x.stringOrIdent(c.ChildByFieldName("key"))
			local := x.patternName(c.ChildByFieldName("value"))
			if imported != "" && local != "" {
				specs = append(specs, ImportSpecifier{Imported: imported, Local: local})
			}
		}
	}
	return specs
}

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
	"strings"
	"unicode"

	sitter "github.com/smacker/go-tree-sitter"
)

// routeMethods are router methods that take a path and handlers.
var routeMethods = map[string]bool{
	"get": true, "post": true, "put": true, "delete": true, "patch": true,
}

// routeRef is a handler passed to a router by name.
type routeRef struct {
	name  string
	route RouteBinding
}

// extractAssignment handles CommonJS exports:
//
//	exports.getUser = function (req, res) {...}
//	module.exports.listUsers = async (req, res) => {...}
//	module.exports = { getUser, remove: (req, res) => {...} }
//	module.exports = function handler(req, res) {...}
func (x *esExtraction) extractAssignment(node *sitter.Node) {
	left := node.ChildByFieldName("left")
	right := node.ChildByFieldName("right")
	if left == nil || right == nil {
		return
	}
	name, ok := commonJSExportName(x.text(left))
	if !ok {
		return
	}
	loc := x.location(node)

	if fnNode := functionValue(right); fnNode != nil {
		arrow := fnNode.Type() == esNodeArrowFunction
		if name != "default" {
			fn := x.buildFunction(fnNode, name, "", true, arrow)
			fn.Location = loc
			x.addFunction(fn, SymbolKindFunction)
			return
		}
		local := x.text(fnNode.ChildByFieldName("name"))
		if local == "" {
			local = "default"
		}
		fn := x.buildFunction(fnNode, local, "", true, arrow)
		fn.Location = loc
		x.rec.Functions = append(x.rec.Functions, fn)
		x.rec.Symbols = append(x.rec.Symbols, Symbol{Name: local, Kind: SymbolKindFunction, Location: loc, Exported: true})
		x.addExport(Export{Name: "default", LocalName: local, IsDefault: true, Location: loc})
		return
	}

	switch right.Type() {
	case esNodeIdentifier:
		x.addExport(Export{Name: name, LocalName: x.text(right), IsDefault: name == "default", Location: loc})
	case esNodeObject:
		if name == "default" {
			x.extractExportObject(right)
		}
	}
}

// extractExportObject reads the members of `module.exports = {...}`.
func (x *esExtraction) extractExportObject(obj *sitter.Node) {
	for i := 0; i < int(obj.NamedChildCount()); i++ {
		member := obj.NamedChild(i)
		loc := x.location(member)
		switch member.Type() {
		case esNodeShorthandProperty:
			name := x.text(member)
			x.addExport(Export{Name: name, LocalName: name, Location: loc})

		case esNodePair:
			key := x.stringOrIdent(member.ChildByFieldName("key"))
			value := member.ChildByFieldName("value")
			if key == "" || value == nil {
				continue
			}
			if fnNode := functionValue(value); fnNode != nil {
				fn := x.buildFunction(fnNode, key, "", true, fnNode.Type() == esNodeArrowFunction)
				fn.Location = loc
				x.addFunction(fn, SymbolKindFunction)
				continue
			}
			if value.Type() == esNodeIdentifier {
				x.addExport(Export{Name: key, LocalName: x.text(value), Location: loc})
			}

		case esNodeMethodDefinition:
			name := x.text(member.ChildByFieldName("name"))
			if name == "" {
				continue
			}
			x.addFunction(x.buildFunction(member, name, "", true, false), SymbolKindFunction)
		}
	}
}

// commonJSExportName maps an assignment target to the exported name.
// module.exports itself is "default".
func commonJSExportName(target string) (string, bool) {
	target = strings.Join(strings.Fields(target), "")
	if target == "module.exports" {
		return "default", true
	}
	for _, prefix := range []string{"module.exports.", "exports."} {
		if rest, ok := strings.CutPrefix(target, prefix); ok && isIdentifier(rest) {
			return rest, true
		}
	}
	return "", false
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		if r == '_' || r == '$' || unicode.IsLetter(r) || (i > 0 && unicode.IsDigit(r)) {
			continue
		}
		return false
	}
	return true
}

// extractNested finds functions below the top level: nested function
// declarations, callbacks registered on a router, and callbacks passed to
// top-level calls such as app.use((req, res, next) => {...}).
//
// Callbacks have no name of their own and are named after the call that
// receives them: "router.get:12", then "router.get:12#2" for a second
// callback in the same call.
func (x *esExtraction) extractNested(root *sitter.Node) {
	stack := []*sitter.Node{root}
	nodeCount := 0

	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		nodeCount++
		if nodeCount%500 == 0 && x.ctx.Err() != nil {
			return
		}

		switch node.Type() {
		case esNodeFunctionDeclaration, esNodeGeneratorFunctionDecl:
			if !x.extracted[node.StartByte()] {
				if name := x.text(node.ChildByFieldName("name")); name != "" {
					x.addFunction(x.buildFunction(node, name, "", false, false), SymbolKindFunction)
				}
			}
		case esNodeCallExpression:
			x.extractCallbacks(node)
		}

		for i := int(node.ChildCount()) - 1; i >= 0; i-- {
			if child := node.Child(i); child != nil {
				stack = append(stack, child)
			}
		}
	}
}

// extractCallbacks turns the function arguments of a route registration or
// a top-level call into Functions. The last argument of a route
// registration is its handler and carries the route.
func (x *esExtraction) extractCallbacks(call *sitter.Node) {
	fnNode := call.ChildByFieldName("function")
	args := call.ChildByFieldName("arguments")
	if fnNode == nil || args == nil || args.NamedChildCount() == 0 {
		return
	}

	var callee, base string
	switch fnNode.Type() {
	case esNodeIdentifier:
		callee = x.text(fnNode)
		base = callee
	case esNodeMemberExpression:
		callee = x.text(fnNode.ChildByFieldName("property"))
		base = callee
		if recv := receiverBase(x.text(fnNode.ChildByFieldName("object"))); recv != "" {
			base = recv + "." + callee
		}
	default:
		return
	}

	route := x.routeFor(callee, fnNode, args)
	if route == nil && !isTopLevelCall(call) {
		return
	}

	base = fmt.Sprintf("%s:%d", base, call.StartPoint().Row+1)
	last := int(args.NamedChildCount()) - 1
	found := 0
	for i := 0; i <= last; i++ {
		arg := args.NamedChild(i)
		if arg.Type() == esNodeIdentifier {
			if route != nil && i == last {
				x.routeRefs = append(x.routeRefs, routeRef{name: x.text(arg), route: *route})
			}
			continue
		}
		fnArg := functionValue(arg)
		if fnArg == nil || x.extracted[fnArg.StartByte()] {
			continue
		}
		found++
		name := base
		if found > 1 {
			name = fmt.Sprintf("%s#%d", base, found)
		}
		fn := x.buildFunction(fnArg, name, "", false, fnArg.Type() == esNodeArrowFunction)
		if route != nil && i == last {
			r := *route
			fn.Route = &r
		}
		x.addFunction(fn, SymbolKindFunction)
	}
}

// routeFor returns the route of a registration call, or nil.
//
// Both router.get("/users", h) and router.route("/users").get(h) are
// recognized.
func (x *esExtraction) routeFor(callee string, fnNode, args *sitter.Node) *RouteBinding {
	method := strings.ToLower(callee)
	if !routeMethods[method] {
		return nil
	}

	if path, ok := x.pathArgument(args.NamedChild(0)); ok {
		if args.NamedChildCount() < 2 {
			return nil
		}
		return &RouteBinding{Method: strings.ToUpper(method), Path: path}
	}

	if fnNode.Type() != esNodeMemberExpression {
		return nil
	}
	obj := fnNode.ChildByFieldName("object")
	for obj != nil && obj.Type() == esNodeCallExpression {
		inner := obj.ChildByFieldName("function")
		if inner == nil || inner.Type() != esNodeMemberExpression {
			return nil
		}
		if x.text(inner.ChildByFieldName("property")) == "route" {
			innerArgs := obj.ChildByFieldName("arguments")
			if innerArgs == nil || innerArgs.NamedChildCount() == 0 {
				return nil
			}
			path, ok := x.pathArgument(innerArgs.NamedChild(0))
			if !ok {
				return nil
			}
			return &RouteBinding{Method: strings.ToUpper(method), Path: path}
		}
		obj = inner.ChildByFieldName("object")
	}
	return nil
}

// pathArgument reads a string or template argument that starts with "/".
func (x *esExtraction) pathArgument(n *sitter.Node) (string, bool) {
	if n == nil {
		return "", false
	}
	var value string
	switch n.Type() {
	case esNodeString:
		value = x.stringValue(n)
	case esNodeTemplateString:
		value = x.templateValue(n)
	default:
		return "", false
	}
	if !strings.HasPrefix(value, "/") {
		return "", false
	}
	return normalizeRoutePath(value), true
}

// normalizeRoutePath rewrites "/users/:id" as "/users/:param" so routes
// line up with endpoints rendered from template strings.
func normalizeRoutePath(p string) string {
	segments := strings.Split(p, "/")
	for i, s := range segments {
		if strings.HasPrefix(s, ":") {
			segments[i] = ":param"
		}
	}
	return strings.Join(segments, "/")
}

// bindRoutes attaches routes registered by name to the first free function
// of that name in the file.
func (x *esExtraction) bindRoutes() {
	for _, ref := range x.routeRefs {
		for i := range x.rec.Functions {
			fn := &x.rec.Functions[i]
			if fn.Name == ref.name && fn.ClassName == "" && fn.Route == nil {
				r := ref.route
				fn.Route = &r
				break
			}
		}
	}
}

func isTopLevelCall(call *sitter.Node) bool {
	parent := call.Parent()
	if parent != nil && parent.Type() == esNodeAwaitExpression {
		parent = parent.Parent()
	}
	if parent == nil || parent.Type() != esNodeExpressionStatement {
		return false
	}
	grand := parent.Parent()
	return grand != nil && grand.Type() == esNodeProgram
}

// receiverBase trims a receiver to the part before its first call, so
// express.Router().get names as "express.Router".
func receiverBase(s string) string {
	s = compactReceiver(s)
	if i := strings.IndexByte(s, '('); i >= 0 {
		s = s[:i]
	}
	return s
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package flow

import (
	"net/http"
	"strings"
	"unicode"

	"github.com/AleutianAI/flowtrace/services/trace/ast"
	"github.com/AleutianAI/flowtrace/services/trace/graph"
)

// EntryPointKind says why a function was chosen as an entry point.
type EntryPointKind string

const (
	// EntryPointHandler is a function taking a request or response parameter.
	EntryPointHandler EntryPointKind = "handler"

	// EntryPointController is a verb-named method on a controller class.
	EntryPointController EntryPointKind = "controller"
)

// EntryPoint is a function detected as the start of a request flow.
type EntryPoint struct {
	// NodeID is the function's dependency graph node id.
	NodeID string `json:"node_id"`

	Kind     EntryPointKind `json:"kind"`
	Function ast.Function   `json:"function"`
	FilePath string         `json:"file_path"`

	// Method and Route come from the router registration when the parser
	// saw one, and are synthesized from names otherwise. See
	// HeuristicDetector.
	Method string `json:"method"`
	Route  string `json:"route"`
}

// FrameworkDetector finds entry points and matches outbound HTTP calls to
// handlers.
//
// Implementations must be safe for concurrent use.
type FrameworkDetector interface {
	// Name identifies the detector in step details and logs.
	Name() string

	// DetectEntryPoints returns the entry points declared in rec, in
	// function order.
	DetectEntryPoints(rec *ast.FileRecord) []EntryPoint

	// MatchHandler reports whether an internal HTTP request would be
	// served by the entry point.
	MatchHandler(call ast.ServiceCall, ep EntryPoint) bool
}

// HeuristicOptions configures HeuristicDetector.
type HeuristicOptions struct {
	// HandlerParams are parameter names (case-insensitive) that mark a
	// function as an HTTP handler.
	HandlerParams []string `yaml:"handler_params" validate:"required,min=1,dive,required"`

	// ControllerMarker is the class name substring (case-insensitive) that
	// marks a controller.
	ControllerMarker string `yaml:"controller_marker" validate:"required"`

	// Verbs are the method name substrings that mark a controller method as
	// a route handler. Order matters when deriving the HTTP method.
	Verbs []string `yaml:"verbs" validate:"required,min=1,dive,required"`
}

// DefaultHeuristicOptions returns the built-in handler heuristics.
func DefaultHeuristicOptions() HeuristicOptions {
	return HeuristicOptions{
		HandlerParams:    []string{"req", "request", "res", "response"},
		ControllerMarker: "controller",
		Verbs:            []string{"get", "post", "put", "delete", "patch"},
	}
}

// HeuristicOption is a functional option for HeuristicDetector.
type HeuristicOption func(*HeuristicOptions)

// WithHandlerParams replaces the handler parameter names.
func WithHandlerParams(names ...string) HeuristicOption {
	return func(o *HeuristicOptions) {
		o.HandlerParams = names
	}
}

// WithControllerMarker replaces the controller class marker.
func WithControllerMarker(marker string) HeuristicOption {
	return func(o *HeuristicOptions) {
		o.ControllerMarker = marker
	}
}

// WithVerbs replaces the controller method verbs.
func WithVerbs(verbs ...string) HeuristicOption {
	return func(o *HeuristicOptions) {
		o.Verbs = verbs
	}
}

// WithHeuristicOptions replaces all options at once, typically from config.
func WithHeuristicOptions(opts HeuristicOptions) HeuristicOption {
	return func(o *HeuristicOptions) {
		*o = opts
	}
}

// HeuristicDetector detects handlers from names alone.
//
// Description:
//
//	A function is a handler when any parameter is named like a request or
//	response, or when it was registered on a router. A method is a
//	controller route when its class name contains the controller marker
//	and its own name contains a verb.
//
//	Registered handlers keep the method and path of their registration.
//	For the rest the HTTP method comes from the first verb found in the
//	function name (GET when none). The route is "/" plus the function name with verb
//	prefixes and Handler/Controller suffixes removed, in kebab case. For
//	controller methods the controller name is used instead. Routes built
//	this way are guesses and will not match real routing tables; they only
//	need to overlap with the endpoints that internal HTTP calls use.
//
// Thread Safety: Safe for concurrent use (immutable after construction).
type HeuristicDetector struct {
	options HeuristicOptions
	marker  string
}

// NewHeuristicDetector creates a detector with the given options.
func NewHeuristicDetector(opts ...HeuristicOption) *HeuristicDetector {
	options := DefaultHeuristicOptions()
	for _, opt := range opts {
		opt(&options)
	}
	verbs := make([]string, 0, len(options.Verbs))
	for _, v := range options.Verbs {
		if v != "" {
			verbs = append(verbs, strings.ToLower(v))
		}
	}
	options.Verbs = verbs
	return &HeuristicDetector{
		options: options,
		marker:  strings.ToLower(options.ControllerMarker),
	}
}

// Name implements FrameworkDetector.
func (d *HeuristicDetector) Name() string {
	return "heuristic"
}

// DetectEntryPoints implements FrameworkDetector.
func (d *HeuristicDetector) DetectEntryPoints(rec *ast.FileRecord) []EntryPoint {
	if rec == nil {
		return nil
	}
	var out []EntryPoint
	seen := make(map[string]bool)

	for _, fn := range rec.Functions {
		nodeID := graph.SymbolNodeID(rec.FilePath, fn.Name)
		if seen[nodeID] {
			continue
		}

		switch {
		case fn.Route != nil && fn.ClassName == "":
			out = append(out, EntryPoint{
				NodeID:   nodeID,
				Kind:     EntryPointHandler,
				Function: fn,
				FilePath: rec.FilePath,
				Method:   strings.ToUpper(fn.Route.Method),
				Route:    fn.Route.Path,
			})
		case fn.HasParameter(d.options.HandlerParams...):
			out = append(out, EntryPoint{
				NodeID:   nodeID,
				Kind:     EntryPointHandler,
				Function: fn,
				FilePath: rec.FilePath,
				Method:   d.deriveMethod(fn.Name),
				Route:    d.deriveRoute(fn.Name),
			})
		case d.isControllerRoute(fn):
			out = append(out, EntryPoint{
				NodeID:   nodeID,
				Kind:     EntryPointController,
				Function: fn,
				FilePath: rec.FilePath,
				Method:   d.deriveMethod(fn.Name),
				Route:    d.deriveRoute(fn.ClassName),
			})
		default:
			continue
		}
		seen[nodeID] = true
	}
	return out
}

func (d *HeuristicDetector) isControllerRoute(fn ast.Function) bool {
	if fn.ClassName == "" || d.marker == "" {
		return false
	}
	if !strings.Contains(strings.ToLower(fn.ClassName), d.marker) {
		return false
	}
	return d.verbIn(fn.Name) != ""
}

// MatchHandler implements FrameworkDetector.
//
// The call matches when the methods are equal and one of route and
// endpoint contains the other. Empty and bare "/" endpoints never match.
func (d *HeuristicDetector) MatchHandler(call ast.ServiceCall, ep EntryPoint) bool {
	method := strings.ToUpper(call.Method)
	if method == "" {
		method = http.MethodGet
	}
	if method != ep.Method {
		return false
	}
	endpoint := strings.ToLower(call.Endpoint)
	route := strings.ToLower(ep.Route)
	if endpoint == "" || endpoint == "/" || route == "" || route == "/" {
		return false
	}
	return strings.Contains(endpoint, route) || strings.Contains(route, endpoint)
}

// verbIn returns the first configured verb found in name, or "".
func (d *HeuristicDetector) verbIn(name string) string {
	lower := strings.ToLower(name)
	for _, v := range d.options.Verbs {
		if strings.Contains(lower, v) {
			return v
		}
	}
	return ""
}

// deriveMethod maps a function name onto an HTTP method. Verbs other than
// get are checked first so "getOrPost"-style names lean towards writes.
func (d *HeuristicDetector) deriveMethod(name string) string {
	lower := strings.ToLower(name)
	for _, v := range d.options.Verbs {
		if v == "get" {
			continue
		}
		if strings.Contains(lower, v) {
			return strings.ToUpper(v)
		}
	}
	return http.MethodGet
}

// deriveRoute builds "/" + the normalized name.
func (d *HeuristicDetector) deriveRoute(name string) string {
	words := splitWords(name)
	trimmed := words

	for len(trimmed) > 1 && (d.isVerbWord(trimmed[0]) || trimmed[0] == "handle") {
		trimmed = trimmed[1:]
	}
	for len(trimmed) > 1 {
		last := trimmed[len(trimmed)-1]
		if last != "handler" && last != d.marker {
			break
		}
		trimmed = trimmed[:len(trimmed)-1]
	}
	if len(trimmed) == 0 {
		trimmed = words
	}
	return "/" + strings.Join(trimmed, "-")
}

func (d *HeuristicDetector) isVerbWord(w string) bool {
	for _, v := range d.options.Verbs {
		if w == v {
			return true
		}
	}
	return false
}

// splitWords splits camelCase, PascalCase, snake_case and kebab-case names
// into lowercase words. Dots, colons and hashes in synthesized callback
// names also separate words.
func splitWords(name string) []string {
	var words []string
	var cur []rune
	runes := []rune(name)
	flush := func() {
		if len(cur) > 0 {
			words = append(words, strings.ToLower(string(cur)))
			cur = cur[:0]
		}
	}
	for i, r := range runes {
		switch {
		case r == '_' || r == '-' || r == '$' || r == '.' || r == ':' || r == '#' || unicode.IsSpace(r):
			flush()
		case unicode.IsUpper(r):
			// "HTTPServer" splits as "http", "server".
			if len(cur) > 0 && (!unicode.IsUpper(runes[i-1]) ||
				(i+1 < len(runes) && unicode.IsLower(runes[i+1]))) {
				flush()
			}
			cur = append(cur, r)
		default:
			cur = append(cur, r)
		}
	}
	flush()
	return words
}

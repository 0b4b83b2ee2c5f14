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
	"errors"
	"fmt"
	"log/slog"
	"path"
	"time"

	"github.com/AleutianAI/flowtrace/services/trace/ast"
)

// DefaultMaxCycles bounds the number of cycles reported per build.
const DefaultMaxCycles = 10_000

// ProgressPhase indicates which phase of building is in progress.
type ProgressPhase int

const (
	// ProgressPhaseCollecting indicates declarations are being added as nodes.
	ProgressPhaseCollecting ProgressPhase = iota

	// ProgressPhaseImports indicates import edges are being resolved.
	ProgressPhaseImports

	// ProgressPhaseInheritance indicates extends/implements edges are being resolved.
	ProgressPhaseInheritance

	// ProgressPhaseCalls indicates call edges are being resolved.
	ProgressPhaseCalls

	// ProgressPhaseCycles indicates cycle detection is running.
	ProgressPhaseCycles

	// ProgressPhaseFinalizing indicates the graph is being frozen.
	ProgressPhaseFinalizing
)

// String returns the string representation of the ProgressPhase.
func (p ProgressPhase) String() string {
	switch p {
	case ProgressPhaseCollecting:
		return "collecting"
	case ProgressPhaseImports:
		return "imports"
	case ProgressPhaseInheritance:
		return "inheritance"
	case ProgressPhaseCalls:
		return "calls"
	case ProgressPhaseCycles:
		return "cycles"
	case ProgressPhaseFinalizing:
		return "finalizing"
	default:
		return "unknown"
	}
}

// BuildProgress contains progress information during a build.
type BuildProgress struct {
	Phase          ProgressPhase
	FilesTotal     int
	FilesProcessed int
	NodesCreated   int
	EdgesCreated   int
}

// ProgressFunc is a callback function for build progress updates.
type ProgressFunc func(progress BuildProgress)

// BuilderOptions configures Builder behavior.
type BuilderOptions struct {
	// ProjectRoot is recorded on the graph. It does not affect resolution;
	// record paths are already project-relative.
	ProjectRoot string

	// ProgressCallback is called after each file in each phase. May be nil.
	ProgressCallback ProgressFunc

	// MaxNodes is the maximum number of nodes (passed to the graph).
	MaxNodes int

	// MaxEdges is the maximum number of edges (passed to the graph).
	MaxEdges int

	// MaxCycles bounds the cycles reported. Default: 10000
	MaxCycles int

	// Logger receives debug output for unresolved references.
	// Default: slog.Default()
	Logger *slog.Logger
}

// DefaultBuilderOptions returns sensible defaults.
func DefaultBuilderOptions() BuilderOptions {
	return BuilderOptions{
		MaxNodes:  DefaultMaxNodes,
		MaxEdges:  DefaultMaxEdges,
		MaxCycles: DefaultMaxCycles,
	}
}

// BuilderOption is a functional option for configuring Builder.
type BuilderOption func(*BuilderOptions)

// WithProjectRoot sets the project root recorded on the graph.
func WithProjectRoot(root string) BuilderOption {
	return func(o *BuilderOptions) {
		o.ProjectRoot = root
	}
}

// WithProgressCallback sets the progress callback function.
func WithProgressCallback(fn ProgressFunc) BuilderOption {
	return func(o *BuilderOptions) {
		o.ProgressCallback = fn
	}
}

// WithBuilderMaxNodes sets the maximum number of nodes.
func WithBuilderMaxNodes(n int) BuilderOption {
	return func(o *BuilderOptions) {
		o.MaxNodes = n
	}
}

// WithBuilderMaxEdges sets the maximum number of edges.
func WithBuilderMaxEdges(n int) BuilderOption {
	return func(o *BuilderOptions) {
		o.MaxEdges = n
	}
}

// WithMaxCycles sets the maximum number of cycles reported.
func WithMaxCycles(n int) BuilderOption {
	return func(o *BuilderOptions) {
		o.MaxCycles = n
	}
}

// WithLogger sets the builder's logger.
func WithLogger(logger *slog.Logger) BuilderOption {
	return func(o *BuilderOptions) {
		o.Logger = logger
	}
}

// Builder constructs dependency graphs from file records.
//
// The builder is stateless and can be reused across multiple builds.
// Each Build() call creates a new graph.
//
// Thread Safety:
//
//	Builder is safe for concurrent use. Each Build() call operates
//	independently with its own internal state.
type Builder struct {
	options BuilderOptions
	logger  *slog.Logger
}

// NewBuilder creates a new Builder with the given options.
//
// Example:
//
//	builder := NewBuilder(
//	    WithProjectRoot("/path/to/project"),
//	    WithMaxCycles(500),
//	)
func NewBuilder(opts ...BuilderOption) *Builder {
	options := DefaultBuilderOptions()
	for _, opt := range opts {
		opt(&options)
	}
	if options.MaxCycles <= 0 {
		options.MaxCycles = DefaultMaxCycles
	}

	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Builder{
		options: options,
		logger:  logger.With(slog.String("component", "graph_builder")),
	}
}

// importBinding is what a local name introduced by an import refers to.
type importBinding struct {
	// targetFile is the resolved file path.
	targetFile string

	// nodeID is the resolved symbol node, or "" for namespace imports.
	nodeID string
}

// buildState holds mutable state during a single build operation.
type buildState struct {
	graph  *DependencyGraph
	result *BuildResult

	// records are the accepted records in input order.
	records []*ast.FileRecord

	// files maps file path to record for resolution probes.
	files map[string]*ast.FileRecord

	// functionsByName lists function node ids per bare name in record order.
	functionsByName map[string][]functionRef

	// importLocals maps filePath -> local name -> binding.
	importLocals map[string]map[string]importBinding

	// external aggregates unresolved non-relative imports by specifier.
	external *externalCollector

	startTime time.Time
}

type functionRef struct {
	nodeID    string
	className string
}

// Build constructs a dependency graph from the given file records.
//
// Description:
//
//	Best effort: unresolvable imports, superclasses and calls produce no
//	edge. The graph is always returned, frozen. When ctx is cancelled the
//	build stops at the next file boundary and the result is marked
//	Incomplete.
//
// Inputs:
//
//	ctx - Context for cancellation.
//	records - File records in a stable order. Output ordering is a pure
//	          function of this order. Nil records are skipped.
//
// Outputs:
//
//	*BuildResult - Never nil. Graph is never nil.
//
// Build Phases:
//
//  1. COLLECT: one File node per record plus one node per declaration
//  2. IMPORTS: file->file and file->symbol import edges
//  3. INHERITANCE: extends and implements edges, first match wins
//  4. CALLS: call edges from function call sites
//  5. CYCLES: DFS with a recursion stack over all edges
//  6. FINALIZE: freeze the graph
func (b *Builder) Build(ctx context.Context, records []*ast.FileRecord) *BuildResult {
	ctx, span := startBuildSpan(ctx, len(records))
	defer span.End()

	state := &buildState{
		graph: NewDependencyGraph(b.options.ProjectRoot,
			WithMaxNodes(b.options.MaxNodes),
			WithMaxEdges(b.options.MaxEdges),
		),
		result: &BuildResult{
			FileErrors: make([]FileError, 0),
		},
		records:         make([]*ast.FileRecord, 0, len(records)),
		files:           make(map[string]*ast.FileRecord, len(records)),
		functionsByName: make(map[string][]functionRef),
		importLocals:    make(map[string]map[string]importBinding),
		external:        newExternalCollector(),
		startTime:       time.Now(),
	}
	state.result.Graph = state.graph

	phases := []struct {
		phase ProgressPhase
		run   func(context.Context, *buildState) error
	}{
		{ProgressPhaseCollecting, func(ctx context.Context, s *buildState) error { return b.collectPhase(ctx, s, records) }},
		{ProgressPhaseImports, b.importPhase},
		{ProgressPhaseInheritance, b.inheritancePhase},
		{ProgressPhaseCalls, b.callPhase},
		{ProgressPhaseCycles, b.cyclePhase},
	}

	for _, p := range phases {
		phaseCtx, phaseSpan := startPhaseSpan(ctx, p.phase)
		err := p.run(phaseCtx, state)
		phaseSpan.End()
		if err != nil {
			b.logger.Warn("graph build stopped early",
				slog.String("phase", p.phase.String()),
				slog.String("error", err.Error()),
			)
			state.result.Incomplete = true
			break
		}
	}

	state.graph.Freeze()
	state.result.External = state.external.list()
	state.result.Stats.NodesCreated = state.graph.NodeCount()
	state.result.Stats.Cycles = len(state.graph.Cycles)
	state.result.Stats.DurationMilli = time.Since(state.startTime).Milliseconds()

	b.reportProgress(state, ProgressPhaseFinalizing, len(state.records), len(state.records))

	setBuildSpanResult(span, state.result.Stats, state.result.Incomplete)
	recordBuildMetrics(ctx, time.Since(state.startTime), state.result.Stats, !state.result.Incomplete)

	return state.result
}

// isFatal reports whether an error should stop the build.
func isFatal(err error) bool {
	return errors.Is(err, ErrMaxNodesExceeded) || errors.Is(err, ErrMaxEdgesExceeded)
}

// collectPhase validates records and adds declarations as nodes.
func (b *Builder) collectPhase(ctx context.Context, state *buildState, records []*ast.FileRecord) error {
	for i, rec := range records {
		if err := ctx.Err(); err != nil {
			return err
		}

		if rec == nil {
			state.fileError(fmt.Sprintf("record[%d]", i), fmt.Errorf("nil record"))
			continue
		}
		if err := rec.Validate(); err != nil {
			state.fileError(rec.FilePath, err)
			continue
		}
		if _, dup := state.files[rec.FilePath]; dup {
			state.fileError(rec.FilePath, fmt.Errorf("%w: duplicate file record", ErrDuplicateNode))
			continue
		}

		fileNode := Node{
			ID:       FileNodeID(rec.FilePath),
			Kind:     NodeKindFile,
			FilePath: rec.FilePath,
			Name:     path.Base(rec.FilePath),
		}
		if err := state.graph.AddNode(fileNode); err != nil {
			if isFatal(err) {
				return err
			}
			state.fileError(rec.FilePath, err)
			continue
		}

		state.records = append(state.records, rec)
		state.files[rec.FilePath] = rec

		if err := b.addDeclarations(state, rec); err != nil {
			return err
		}

		state.result.Stats.FilesProcessed++
		b.reportProgress(state, ProgressPhaseCollecting, len(records), i+1)
	}
	return nil
}

// addDeclarations emits one node per symbol, then any function or class
// the record lists without a matching symbol.
func (b *Builder) addDeclarations(state *buildState, rec *ast.FileRecord) error {
	for _, sym := range rec.Symbols {
		kind := NodeKindForSymbol(sym.Kind)
		if kind == NodeKindUnknown || sym.Name == "" {
			continue
		}
		if err := b.addSymbolNode(state, rec.FilePath, sym.Name, kind, sym.Location); err != nil {
			return err
		}
	}
	for _, fn := range rec.Functions {
		id := SymbolNodeID(rec.FilePath, fn.Name)
		if !state.graph.HasNode(id) {
			if err := b.addSymbolNode(state, rec.FilePath, fn.Name, NodeKindFunction, fn.Location); err != nil {
				return err
			}
		}
		if n, ok := state.graph.Node(id); ok && n.Kind == NodeKindFunction {
			state.indexFunction(fn.Name, functionRef{nodeID: id, className: fn.ClassName})
		}
	}
	for _, cls := range rec.Classes {
		if state.graph.HasNode(SymbolNodeID(rec.FilePath, cls.Name)) {
			continue
		}
		if err := b.addSymbolNode(state, rec.FilePath, cls.Name, NodeKindClass, cls.Location); err != nil {
			return err
		}
	}
	return nil
}

// indexFunction records a function node under its bare name once.
func (s *buildState) indexFunction(name string, ref functionRef) {
	for _, existing := range s.functionsByName[name] {
		if existing.nodeID == ref.nodeID {
			return
		}
	}
	s.functionsByName[name] = append(s.functionsByName[name], ref)
}

// addSymbolNode adds a declaration node. Duplicates are counted, not errors.
func (b *Builder) addSymbolNode(state *buildState, filePath, name string, kind NodeKind, loc ast.Location) error {
	id := SymbolNodeID(filePath, name)
	if state.graph.HasNode(id) {
		state.result.Stats.DuplicateSymbols++
		return nil
	}
	err := state.graph.AddNode(Node{
		ID:       id,
		Kind:     kind,
		FilePath: filePath,
		Name:     name,
		Location: loc,
	})
	if err != nil && isFatal(err) {
		return err
	}
	return nil
}

// importPhase resolves import declarations to files and symbols.
//
// Each resolved declaration adds a file -> file Import edge. Each named,
// default or CommonJS specifier that resolves inside the target file adds
// a second Import edge whose source is the importing file node. The
// importing symbol is not known at this point.
func (b *Builder) importPhase(ctx context.Context, state *buildState) error {
	for i, rec := range state.records {
		if err := ctx.Err(); err != nil {
			return err
		}

		locals := make(map[string]importBinding)
		state.importLocals[rec.FilePath] = locals

		for _, imp := range rec.Imports {
			target, ok := resolveModule(state, rec.FilePath, imp.Source)
			if !ok {
				state.result.Stats.UnresolvedImports++
				if !imp.IsRelative() {
					state.external.add(imp.Source, rec.FilePath)
				}
				b.logger.Debug("unresolved import",
					slog.String("file", rec.FilePath),
					slog.String("source", imp.Source),
				)
				continue
			}

			if err := b.addEdge(state, Edge{
				From:    FileNodeID(rec.FilePath),
				To:      FileNodeID(target),
				Kind:    EdgeKindImport,
				Dynamic: imp.IsDynamic,
			}); err != nil {
				return err
			}

			if imp.Namespace != "" {
				locals[imp.Namespace] = importBinding{targetFile: target}
			}
			if imp.DefaultName != "" {
				if id := resolveDefaultExport(state, target); id != "" {
					locals[imp.DefaultName] = importBinding{targetFile: target, nodeID: id}
					if err := b.addEdge(state, Edge{
						From:    FileNodeID(rec.FilePath),
						To:      id,
						Kind:    EdgeKindImport,
						Dynamic: imp.IsDynamic,
					}); err != nil {
						return err
					}
				} else {
					locals[imp.DefaultName] = importBinding{targetFile: target}
				}
			}

			for _, spec := range imp.Specifiers {
				id := resolveSpecifier(state, target, spec)
				if id == "" {
					continue
				}
				locals[spec.Local] = importBinding{targetFile: target, nodeID: id}
				if err := b.addEdge(state, Edge{
					From:    FileNodeID(rec.FilePath),
					To:      id,
					Kind:    EdgeKindImport,
					Dynamic: imp.IsDynamic,
				}); err != nil {
					return err
				}
			}
		}

		b.reportProgress(state, ProgressPhaseImports, len(state.records), i+1)
	}
	return nil
}

// resolveSpecifier resolves a named import: the local name, then the
// imported name, then the local name against the default export.
func resolveSpecifier(state *buildState, target string, spec ast.ImportSpecifier) string {
	if id := resolveSymbolInFile(state, target, spec.Local, false); id != "" {
		return id
	}
	if spec.Imported != spec.Local {
		if id := resolveSymbolInFile(state, target, spec.Imported, false); id != "" {
			return id
		}
	}
	return resolveSymbolInFile(state, target, spec.Local, true)
}

// inheritancePhase emits extends and implements edges, first match wins.
func (b *Builder) inheritancePhase(ctx context.Context, state *buildState) error {
	for i, rec := range state.records {
		if err := ctx.Err(); err != nil {
			return err
		}

		for _, cls := range rec.Classes {
			from := SymbolNodeID(rec.FilePath, cls.Name)
			if !state.graph.HasNode(from) {
				continue
			}

			if cls.SuperClass != "" {
				if to := findClass(state, cls.SuperClass); to != "" {
					if err := b.addEdge(state, Edge{From: from, To: to, Kind: EdgeKindExtends}); err != nil {
						return err
					}
				}
			}

			for _, iface := range cls.Implements {
				to := findInterface(state, iface)
				if to == "" {
					continue
				}
				if err := b.addEdge(state, Edge{From: from, To: to, Kind: EdgeKindImplements}); err != nil {
					return err
				}
			}
		}

		b.reportProgress(state, ProgressPhaseInheritance, len(state.records), i+1)
	}
	return nil
}

// callPhase emits call edges from each function's call sites.
func (b *Builder) callPhase(ctx context.Context, state *buildState) error {
	for i, rec := range state.records {
		if err := ctx.Err(); err != nil {
			return err
		}

		for _, fn := range rec.Functions {
			from := SymbolNodeID(rec.FilePath, fn.Name)
			if n, ok := state.graph.Node(from); !ok || n.Kind != NodeKindFunction {
				continue
			}
			for _, call := range fn.Calls {
				to := resolveCall(state, rec, fn, call)
				if to == "" {
					state.result.Stats.UnresolvedCalls++
					continue
				}
				if err := b.addEdge(state, Edge{From: from, To: to, Kind: EdgeKindCall}); err != nil {
					return err
				}
			}
		}

		b.reportProgress(state, ProgressPhaseCalls, len(state.records), i+1)
	}
	return nil
}

// cyclePhase runs cycle detection over the edges built so far.
func (b *Builder) cyclePhase(ctx context.Context, state *buildState) error {
	cycles, truncated, err := detectCycles(ctx, state.graph, b.options.MaxCycles)
	state.graph.Cycles = cycles
	state.result.Stats.CyclesTruncated = truncated
	if truncated {
		b.logger.Info("cycle detection truncated", slog.Int("limit", b.options.MaxCycles))
	}
	return err
}

// addEdge adds an edge and updates per-kind stats. Missing endpoints are
// skipped silently; capacity errors stop the build.
func (b *Builder) addEdge(state *buildState, e Edge) error {
	if err := state.graph.AddEdge(e); err != nil {
		if isFatal(err) {
			return err
		}
		return nil
	}
	switch e.Kind {
	case EdgeKindImport:
		state.result.Stats.ImportEdges++
	case EdgeKindExtends:
		state.result.Stats.ExtendsEdges++
	case EdgeKindImplements:
		state.result.Stats.ImplementsEdges++
	case EdgeKindCall:
		state.result.Stats.CallEdges++
	}
	return nil
}

func (s *buildState) fileError(filePath string, err error) {
	s.result.FileErrors = append(s.result.FileErrors, FileError{FilePath: filePath, Err: err})
	s.result.Stats.FilesFailed++
}

// reportProgress calls the progress callback if configured.
func (b *Builder) reportProgress(state *buildState, phase ProgressPhase, total, processed int) {
	if b.options.ProgressCallback == nil {
		return
	}
	b.options.ProgressCallback(BuildProgress{
		Phase:          phase,
		FilesTotal:     total,
		FilesProcessed: processed,
		NodesCreated:   state.graph.NodeCount(),
		EdgesCreated:   state.graph.EdgeCount(),
	})
}

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
	"context"
	"log/slog"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/flowtrace/services/trace/ast"
	"github.com/AleutianAI/flowtrace/services/trace/graph"
)

// DefaultMaxDepth bounds recursion into handlers and called functions.
const DefaultMaxDepth = 10

// TracerOptions configures a Tracer.
type TracerOptions struct {
	// MaxDepth is the deepest level expanded. Steps beyond it are created
	// but not expanded. Default: 10
	MaxDepth int

	// Parallelism is the number of entry points traced at once.
	// Default: runtime.NumCPU()
	Parallelism int

	// DerivedFlows enables the second pass seeded from service calls and
	// database operations. Default: true
	DerivedFlows bool

	// EntryFilter drops entry points whose file it rejects. May be nil.
	EntryFilter func(filePath string) bool

	// Logger for debug output. Default: slog.Default()
	Logger *slog.Logger
}

// TracerOption is a functional option for configuring a Tracer.
type TracerOption func(*TracerOptions)

// WithMaxDepth sets the depth limit.
func WithMaxDepth(depth int) TracerOption {
	return func(o *TracerOptions) {
		o.MaxDepth = depth
	}
}

// WithParallelism sets how many entry points are traced concurrently.
func WithParallelism(n int) TracerOption {
	return func(o *TracerOptions) {
		o.Parallelism = n
	}
}

// WithDerivedFlows enables or disables the second pass.
func WithDerivedFlows(enabled bool) TracerOption {
	return func(o *TracerOptions) {
		o.DerivedFlows = enabled
	}
}

// WithEntryFilter restricts entry points to files the filter accepts,
// for example graph.FileClassification.IsProduction.
func WithEntryFilter(filter func(filePath string) bool) TracerOption {
	return func(o *TracerOptions) {
		o.EntryFilter = filter
	}
}

// WithTracerLogger sets the tracer's logger.
func WithTracerLogger(logger *slog.Logger) TracerOption {
	return func(o *TracerOptions) {
		o.Logger = logger
	}
}

// Tracer assembles end-to-end flows from file records and a dependency graph.
//
// Thread Safety: Safe for concurrent use. Trace holds no state between calls.
type Tracer struct {
	detector FrameworkDetector
	options  TracerOptions
	logger   *slog.Logger
}

// NewTracer creates a Tracer. A nil detector uses NewHeuristicDetector().
//
// Example:
//
//	tracer := flow.NewTracer(nil, flow.WithMaxDepth(6), flow.WithParallelism(4))
//	flows := tracer.Trace(ctx, records, result.Graph)
func NewTracer(detector FrameworkDetector, opts ...TracerOption) *Tracer {
	options := TracerOptions{
		MaxDepth:     DefaultMaxDepth,
		Parallelism:  runtime.NumCPU(),
		DerivedFlows: true,
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.MaxDepth <= 0 {
		options.MaxDepth = DefaultMaxDepth
	}
	if options.Parallelism <= 0 {
		options.Parallelism = 1
	}
	if detector == nil {
		detector = NewHeuristicDetector()
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracer{
		detector: detector,
		options:  options,
		logger:   logger.With(slog.String("component", "flow_tracer")),
	}
}

// functionInfo locates the declaration behind a function node.
type functionInfo struct {
	rec *ast.FileRecord
	fn  ast.Function
}

// traceIndex is the read-only view shared by all traversals of one Trace.
type traceIndex struct {
	records []*ast.FileRecord
	graph   *graph.DependencyGraph

	// entries are the detected entry points in record order.
	entries []EntryPoint

	// handlers are all detected entry points, including those the entry
	// filter dropped. Internal HTTP calls are matched against them.
	handlers []EntryPoint

	// entryIDs marks function nodes that are entry points.
	entryIDs map[string]bool

	// functions maps a function node id to its first declaration.
	functions map[string]functionInfo

	// serviceCalls lists each file's service calls in record order.
	serviceCalls map[string][]ast.ServiceCall
}

// Trace detects entry points and traces one flow per entry point.
//
// Description:
//
//	Entry points are traced in parallel; the result order is the entry
//	point order, which follows record and function order. With derived
//	flows enabled, service-to-service and data flows follow in record
//	order. Tracing never fails: unresolved handlers and call targets end
//	a branch. If ctx is cancelled, flows finished so far are returned.
//
// Inputs:
//
//	ctx - Context for cancellation.
//	records - The same records the graph was built from.
//	g - The dependency graph. A nil graph yields no call edges.
//
// Outputs:
//
//	[]*EndToEndFlow - Never nil.
func (t *Tracer) Trace(ctx context.Context, records []*ast.FileRecord, g *graph.DependencyGraph) []*EndToEndFlow {
	start := time.Now()
	if g == nil {
		g = graph.NewDependencyGraph("")
	}
	idx := t.buildIndex(records, g)

	slots := make([]*EndToEndFlow, len(idx.entries))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(t.options.Parallelism)
	for i := range idx.entries {
		i := i
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return err
			}
			slots[i] = t.traceEntry(idx, idx.entries[i])
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		t.logger.Warn("flow tracing stopped early", slog.String("error", err.Error()))
	}

	flows := make([]*EndToEndFlow, 0, len(slots))
	for _, f := range slots {
		if f != nil {
			flows = append(flows, f)
		}
	}

	if t.options.DerivedFlows && ctx.Err() == nil {
		flows = append(flows, t.deriveFlows(ctx, idx, flows)...)
	}

	for _, f := range flows {
		recordFlowMetrics(f)
	}
	recordTraceDuration(time.Since(start))

	t.logger.Debug("flow tracing complete",
		slog.Int("entry_points", len(idx.entries)),
		slog.Int("flows", len(flows)),
		slog.Duration("duration", time.Since(start)),
	)
	return flows
}

func (t *Tracer) buildIndex(records []*ast.FileRecord, g *graph.DependencyGraph) *traceIndex {
	idx := &traceIndex{
		records:      make([]*ast.FileRecord, 0, len(records)),
		graph:        g,
		entryIDs:     make(map[string]bool),
		functions:    make(map[string]functionInfo),
		serviceCalls: make(map[string][]ast.ServiceCall),
	}
	for _, rec := range records {
		if rec == nil || rec.FilePath == "" {
			continue
		}
		idx.records = append(idx.records, rec)
		idx.serviceCalls[rec.FilePath] = append(idx.serviceCalls[rec.FilePath], rec.ServiceCalls...)

		for _, fn := range rec.Functions {
			id := graph.SymbolNodeID(rec.FilePath, fn.Name)
			if _, ok := idx.functions[id]; !ok {
				idx.functions[id] = functionInfo{rec: rec, fn: fn}
			}
		}

		for _, ep := range t.detector.DetectEntryPoints(rec) {
			if idx.entryIDs[ep.NodeID] {
				continue
			}
			idx.entryIDs[ep.NodeID] = true
			idx.handlers = append(idx.handlers, ep)
			if t.options.EntryFilter != nil && !t.options.EntryFilter(ep.FilePath) {
				continue
			}
			idx.entries = append(idx.entries, ep)
		}
	}
	return idx
}

// traversal is the state of one flow under construction. It is never
// shared between goroutines.
type traversal struct {
	idx      *traceIndex
	tracer   *Tracer
	steps    []*FlowStep
	byID     map[string]*FlowStep
	visited  map[string]bool
	depthHit bool
}

func (t *Tracer) newTraversal(idx *traceIndex) *traversal {
	return &traversal{
		idx:     idx,
		tracer:  t,
		steps:   make([]*FlowStep, 0, 8),
		byID:    make(map[string]*FlowStep),
		visited: make(map[string]bool),
	}
}

// traceEntry builds the flow rooted at one entry point.
func (t *Tracer) traceEntry(idx *traceIndex, ep EntryPoint) *EndToEndFlow {
	tr := t.newTraversal(idx)
	entry := tr.add(&FlowStep{
		ID:          "entry:" + ep.NodeID,
		Kind:        StepKindHTTPEndpoint,
		Name:        ep.Function.QualifiedName(),
		FilePath:    ep.FilePath,
		Location:    ep.Function.Location,
		FunctionRef: ep.NodeID,
		Detail: HTTPDetail{
			Method:    ep.Method,
			Route:     ep.Route,
			Framework: t.detector.Name(),
		},
	})
	tr.expand(entry, 0)
	return tr.finish("flow:"+entry.ID, ep.Method+" "+ep.Route, "")
}

// add registers a step, or returns the existing step with the same id.
func (tr *traversal) add(step *FlowStep) *FlowStep {
	if existing, ok := tr.byID[step.ID]; ok {
		return existing
	}
	step.NextSteps = make([]string, 0)
	step.PreviousSteps = make([]string, 0)
	tr.steps = append(tr.steps, step)
	tr.byID[step.ID] = step
	return step
}

// link records from -> to in both directions once.
func link(from, to *FlowStep) {
	for _, id := range from.NextSteps {
		if id == to.ID {
			return
		}
	}
	from.NextSteps = append(from.NextSteps, to.ID)
	to.PreviousSteps = append(to.PreviousSteps, from.ID)
}

// expand follows service calls nested in the step's function and the
// call edges leaving it.
//
// Description:
//
//	A step is expanded at most once per flow. Steps reached below the
//	depth limit are kept as leaves. Database steps and external calls are
//	terminal. An internal HTTP request is linked to the first handler the
//	detector matches, and that handler is expanded one level deeper.
func (tr *traversal) expand(step *FlowStep, depth int) {
	if depth > tr.tracer.options.MaxDepth {
		tr.depthHit = true
		return
	}
	if tr.visited[step.ID] || !step.Kind.expandable() {
		return
	}
	tr.visited[step.ID] = true

	for _, sc := range tr.idx.serviceCalls[step.FilePath] {
		if !step.Location.Contains(sc.Location) {
			continue
		}
		scStep := tr.add(serviceStep(sc))
		link(step, scStep)

		if sc.Kind != ast.ServiceCallHTTPRequest || sc.IsExternal {
			continue
		}
		if ep, ok := tr.matchHandler(sc); ok {
			handler := tr.add(handlerStep(ep))
			link(scStep, handler)
			tr.expand(handler, depth+1)
		}
	}

	if step.FunctionRef == "" {
		return
	}
	for _, e := range tr.idx.graph.Outgoing(step.FunctionRef, graph.EdgeKindCall) {
		info, ok := tr.idx.functions[e.To]
		if !ok {
			continue
		}
		callee := tr.add(callStep(e.To, info))
		link(step, callee)
		tr.expand(callee, depth+1)
	}
}

// matchHandler returns the first handler the detector matches.
func (tr *traversal) matchHandler(sc ast.ServiceCall) (EntryPoint, bool) {
	for _, ep := range tr.idx.handlers {
		if tr.tracer.detector.MatchHandler(sc, ep) {
			return ep, true
		}
	}
	return EntryPoint{}, false
}

// finish assembles the flow. An empty kind is classified from the steps.
func (tr *traversal) finish(id, name string, kind FlowKind) *EndToEndFlow {
	f := &EndToEndFlow{
		ID:         id,
		Name:       name,
		Steps:      tr.steps,
		ExitPoints: make([]*FlowStep, 0),
	}
	if len(tr.steps) > 0 {
		f.EntryPoint = tr.steps[0]
	}
	for _, s := range tr.steps {
		if len(s.NextSteps) == 0 {
			f.ExitPoints = append(f.ExitPoints, s)
		}
	}
	if kind == "" {
		kind = classify(tr.steps)
	}
	f.Kind = kind
	f.Metadata = buildMetadata(tr.steps)
	f.Metadata.DepthLimited = tr.depthHit
	return f
}

func serviceStep(sc ast.ServiceCall) *FlowStep {
	call := sc
	step := &FlowStep{
		FilePath:    sc.Location.FilePath,
		Location:    sc.Location,
		ServiceCall: &call,
	}
	switch {
	case sc.Kind == ast.ServiceCallDatabaseQuery:
		step.ID = "db:" + sc.ID
		step.Kind = StepKindDatabaseOperation
		step.Name = sc.Service + "." + sc.Operation
		step.Detail = DatabaseDetail{
			Library:   sc.Service,
			Operation: sc.Operation,
			Target:    sc.Metadata["target"],
		}
	case sc.Kind == ast.ServiceCallHTTPRequest && !sc.IsExternal:
		step.ID = "svc:" + sc.ID
		step.Kind = StepKindServiceCall
		step.Name = sc.Method + " " + sc.Endpoint
		step.Detail = ServiceDetail{
			Service:  sc.Service,
			Method:   sc.Method,
			Endpoint: sc.Endpoint,
		}
	default:
		step.ID = "ext:" + sc.ID
		step.Kind = StepKindExternalAPICall
		step.Name = sc.Service
		if sc.Operation != "" {
			step.Name = sc.Service + "." + sc.Operation
		}
		step.Detail = ExternalDetail{
			Service:  sc.Service,
			Endpoint: sc.Endpoint,
		}
	}
	return step
}

func handlerStep(ep EntryPoint) *FlowStep {
	return &FlowStep{
		ID:          "handler:" + ep.NodeID,
		Kind:        StepKindHandler,
		Name:        ep.Function.QualifiedName(),
		FilePath:    ep.FilePath,
		Location:    ep.Function.Location,
		FunctionRef: ep.NodeID,
		Detail: HandlerDetail{
			Method:     ep.Method,
			Route:      ep.Route,
			Controller: ep.Function.ClassName,
		},
	}
}

func callStep(nodeID string, info functionInfo) *FlowStep {
	return &FlowStep{
		ID:          "call:" + nodeID,
		Kind:        StepKindFunctionCall,
		Name:        info.fn.QualifiedName(),
		FilePath:    info.rec.FilePath,
		Location:    info.fn.Location,
		FunctionRef: nodeID,
		Detail: CallDetail{
			ClassName:  info.fn.ClassName,
			IsAsync:    info.fn.IsAsync,
			Complexity: info.fn.Complexity,
		},
	}
}

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

	"github.com/AleutianAI/flowtrace/services/trace/ast"
	"github.com/AleutianAI/flowtrace/services/trace/graph"
)

// deriveFlows runs the second pass over seeds that are not HTTP entry
// points.
//
// Description:
//
//	Service-to-service flows start at each internal HTTP request that no
//	primary flow already contains, and continue into the matched handler.
//	Data flows start at the innermost function containing a database
//	operation, unless that function is itself an entry point, and are
//	prefixed with the function's direct callers. One data flow is built
//	per function no matter how many operations it contains.
//
// Outputs:
//
//	[]*EndToEndFlow - Service flows then data flows, in record order.
func (t *Tracer) deriveFlows(ctx context.Context, idx *traceIndex, primary []*EndToEndFlow) []*EndToEndFlow {
	seenService := make(map[string]bool)
	for _, f := range primary {
		for _, s := range f.Steps {
			if s.Kind == StepKindServiceCall {
				seenService[s.ID] = true
			}
		}
	}

	var out []*EndToEndFlow
	for _, rec := range idx.records {
		if ctx.Err() != nil {
			return out
		}
		for _, sc := range rec.ServiceCalls {
			if sc.Kind != ast.ServiceCallHTTPRequest || sc.IsExternal {
				continue
			}
			id := "svc:" + sc.ID
			if seenService[id] {
				continue
			}
			seenService[id] = true
			out = append(out, t.traceServiceSeed(idx, sc))
		}
	}

	seenFunction := make(map[string]bool)
	for _, rec := range idx.records {
		if ctx.Err() != nil {
			return out
		}
		for _, op := range rec.DatabaseOperations {
			fn, ok := innermostFunction(rec, op.Location)
			if !ok {
				continue
			}
			nodeID := graph.SymbolNodeID(rec.FilePath, fn.Name)
			if idx.entryIDs[nodeID] || seenFunction[nodeID] {
				continue
			}
			seenFunction[nodeID] = true
			if f := t.traceDataSeed(idx, nodeID); f != nil {
				out = append(out, f)
			}
		}
	}
	return out
}

func (t *Tracer) traceServiceSeed(idx *traceIndex, sc ast.ServiceCall) *EndToEndFlow {
	tr := t.newTraversal(idx)
	root := tr.add(serviceStep(sc))
	if ep, ok := tr.matchHandler(sc); ok {
		handler := tr.add(handlerStep(ep))
		link(root, handler)
		tr.expand(handler, 1)
	}
	return tr.finish("flow:"+root.ID, root.Name, FlowKindServiceToService)
}

func (t *Tracer) traceDataSeed(idx *traceIndex, nodeID string) *EndToEndFlow {
	info, ok := idx.functions[nodeID]
	if !ok {
		return nil
	}
	tr := t.newTraversal(idx)

	var callers []*FlowStep
	for _, e := range idx.graph.Incoming(nodeID, graph.EdgeKindCall) {
		if e.From == nodeID {
			continue
		}
		callerInfo, ok := idx.functions[e.From]
		if !ok {
			continue
		}
		if _, dup := tr.byID["call:"+e.From]; dup {
			continue
		}
		caller := tr.add(callStep(e.From, callerInfo))
		// Callers are context only; they are not expanded.
		tr.visited[caller.ID] = true
		callers = append(callers, caller)
	}

	target := tr.add(callStep(nodeID, info))
	for _, c := range callers {
		link(c, target)
	}
	tr.expand(target, 0)
	return tr.finish("flow:data:"+nodeID, info.fn.QualifiedName(), FlowKindDataFlow)
}

// innermostFunction returns the smallest function whose span contains loc.
func innermostFunction(rec *ast.FileRecord, loc ast.Location) (ast.Function, bool) {
	var (
		best  ast.Function
		found bool
	)
	for _, fn := range rec.Functions {
		if !fn.Location.Contains(loc) {
			continue
		}
		if !found || fn.Location.Span() < best.Location.Span() {
			best = fn
			found = true
		}
	}
	return best, found
}

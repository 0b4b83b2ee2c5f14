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

// classify picks a flow kind from the step kinds present.
//
// Precedence: an HTTP endpoint together with a database step is
// HttpToDatabase; any internal service call is ServiceToService; an HTTP
// endpoint alone is FrontendToBackend; anything else is FunctionChain.
func classify(steps []*FlowStep) FlowKind {
	var hasHTTP, hasDB, hasService bool
	for _, s := range steps {
		switch s.Kind {
		case StepKindHTTPEndpoint:
			hasHTTP = true
		case StepKindDatabaseOperation:
			hasDB = true
		case StepKindServiceCall:
			hasService = true
		}
	}
	switch {
	case hasHTTP && hasDB:
		return FlowKindHTTPToDatabase
	case hasService:
		return FlowKindServiceToService
	case hasHTTP:
		return FlowKindFrontendToBackend
	default:
		return FlowKindFunctionChain
	}
}

// buildMetadata computes the flow summary.
//
// MaxDepth is ceil(len(steps)/2) and Complexity is len(steps) plus the
// number of next-step links. Both are kept for compatibility with existing
// consumers; neither is a true graph measure.
func buildMetadata(steps []*FlowStep) FlowMetadata {
	m := FlowMetadata{
		TotalSteps: len(steps),
		MaxDepth:   (len(steps) + 1) / 2,
		Complexity: len(steps),
	}
	for _, s := range steps {
		m.Complexity += len(s.NextSteps)
		switch s.Kind {
		case StepKindExternalAPICall:
			m.HasExternalCalls = true
		case StepKindDatabaseOperation:
			m.HasDatabaseOperations = true
		}
		if s.ServiceCall != nil && s.ServiceCall.IsExternal {
			m.HasExternalCalls = true
		}
	}
	return m
}

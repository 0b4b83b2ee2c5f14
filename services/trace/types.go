// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.


package trace

import (
	"github.com/AleutianAI/flowtrace/services/trace/ast"
	"github.com/AleutianAI/flowtrace/services/trace/flow"
	"github.com/AleutianAI/flowtrace/services/trace/graph"
	"github.com/AleutianAI/flowtrace/services/trace/snapshot"
)

// ServiceVersion is reported by the health endpoint.
const ServiceVersion = "0.4.0"

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	// Error is the error message.
	Error string `json:"error"`

	// Code is a stable machine-readable error code.
	Code string `json:"code,omitempty"`

	// Details provides additional error context (optional).
	Details string `json:"details,omitempty"`
}

// RecordsRequest is the body of POST /v1/trace/records.
type RecordsRequest struct {
	// ProjectRoot is recorded on the graph. Optional.
	ProjectRoot string `json:"project_root,omitempty"`

	Records []*ast.FileRecord `json:"records" binding:"required"`
}

// AnalysisSummary is the compact view of an AnalysisResult.
type AnalysisSummary struct {
	ProjectRoot    string                        `json:"project_root"`
	Nodes          int                           `json:"nodes"`
	Edges          int                           `json:"edges"`
	Cycles         int                           `json:"cycles"`
	FlowsByKind    map[flow.FlowKind]int         `json:"flows_by_kind"`
	Stats          graph.BuildStats              `json:"stats"`
	Classification graph.FileClassificationStats `json:"classification"`
	ParseErrors    int                           `json:"parse_errors"`
	FileErrors     int                           `json:"file_errors"`
	ExternalDeps   int                           `json:"external_deps"`
	Incomplete     bool                          `json:"incomplete,omitempty"`
	Snapshot       *snapshot.Metadata            `json:"snapshot,omitempty"`
	DurationMilli  int64                         `json:"duration_milli"`
}

// Summary condenses the result.
func (r *AnalysisResult) Summary() AnalysisSummary {
	byKind := make(map[flow.FlowKind]int)
	for _, f := range r.Flows {
		byKind[f.Kind]++
	}
	return AnalysisSummary{
		ProjectRoot:    r.ProjectRoot,
		Nodes:          r.Graph.NodeCount(),
		Edges:          r.Graph.EdgeCount(),
		Cycles:         len(r.Graph.Cycles),
		FlowsByKind:    byKind,
		Stats:          r.Stats,
		Classification: r.Classification,
		ParseErrors:    len(r.ParseErrors),
		FileErrors:     len(r.FileErrors),
		ExternalDeps:   len(r.External),
		Incomplete:     r.Incomplete,
		Snapshot:       r.Snapshot,
		DurationMilli:  r.DurationMilli,
	}
}

// HealthResponse is the body of GET /v1/trace/health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// ReadyResponse is the body of GET /v1/trace/ready.
type ReadyResponse struct {
	Ready       bool  `json:"ready"`
	Snapshots   bool  `json:"snapshots"`
	Analyses    int   `json:"analyses"`
	UptimeMilli int64 `json:"uptime_milli"`
}

// ListSnapshotsResponse is the body of GET /v1/trace/snapshots.
type ListSnapshotsResponse struct {
	Snapshots []*snapshot.Metadata `json:"snapshots"`
}

// SnapshotResponse is the body of GET /v1/trace/snapshots/:id.
//
// Graph and Flows are only set when the request asks for full=true.
type SnapshotResponse struct {
	Metadata snapshot.Metadata      `json:"metadata"`
	Graph    *graph.DependencyGraph `json:"graph,omitempty"`
	Flows    []*flow.EndToEndFlow   `json:"flows,omitempty"`
}

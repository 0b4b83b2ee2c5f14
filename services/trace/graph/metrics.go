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
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Package-level tracer and meter for graph operations.
var (
	tracer = otel.Tracer("flowtrace.graph")
	meter  = otel.Meter("flowtrace.graph")
)

// Metrics for graph building operations.
var (
	buildLatency metric.Float64Histogram
	buildTotal   metric.Int64Counter
	nodesCreated metric.Int64Histogram
	edgesCreated metric.Int64Histogram
	cyclesFound  metric.Int64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		buildLatency, err = meter.Float64Histogram(
			"graph_build_duration_seconds",
			metric.WithDescription("Duration of dependency graph builds"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		buildTotal, err = meter.Int64Counter(
			"graph_build_total",
			metric.WithDescription("Total number of dependency graph builds"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		nodesCreated, err = meter.Int64Histogram(
			"graph_nodes_created",
			metric.WithDescription("Number of nodes created per build"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		edgesCreated, err = meter.Int64Histogram(
			"graph_edges_created",
			metric.WithDescription("Number of edges created per build"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		cyclesFound, err = meter.Int64Histogram(
			"graph_cycles_found",
			metric.WithDescription("Number of cycles reported per build"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// recordBuildMetrics records metrics for a build operation.
func recordBuildMetrics(ctx context.Context, duration time.Duration, stats BuildStats, complete bool) {
	if err := initMetrics(); err != nil {
		return
	}

	attrs := metric.WithAttributes(attribute.Bool("complete", complete))

	buildLatency.Record(ctx, duration.Seconds(), attrs)
	buildTotal.Add(ctx, 1, attrs)

	if complete {
		nodesCreated.Record(ctx, int64(stats.NodesCreated))
		edgesCreated.Record(ctx, int64(stats.EdgesCreated()))
		cyclesFound.Record(ctx, int64(stats.Cycles))
	}
}

// startBuildSpan creates a span for a build operation.
func startBuildSpan(ctx context.Context, fileCount int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "DependencyGraphBuilder.Build",
		trace.WithAttributes(
			attribute.Int("graph.file_count", fileCount),
		),
	)
}

// startPhaseSpan creates a child span for one build phase.
func startPhaseSpan(ctx context.Context, phase ProgressPhase) (context.Context, trace.Span) {
	return tracer.Start(ctx, "DependencyGraphBuilder."+phase.String())
}

// setBuildSpanResult sets the result attributes on a build span.
func setBuildSpanResult(span trace.Span, stats BuildStats, incomplete bool) {
	span.SetAttributes(
		attribute.Int("graph.node_count", stats.NodesCreated),
		attribute.Int("graph.edge_count", stats.EdgesCreated()),
		attribute.Int("graph.cycle_count", stats.Cycles),
		attribute.Bool("graph.incomplete", incomplete),
	)
}

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
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// flowsTracedTotal counts flows by kind.
	// Labels: kind (http_to_database, service_to_service, ...)
	flowsTracedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flowtrace",
		Subsystem: "flow",
		Name:      "flows_total",
		Help:      "Total flows traced by kind",
	}, []string{"kind"})

	// flowSteps observes the number of steps per flow.
	flowSteps = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "flowtrace",
		Subsystem: "flow",
		Name:      "steps",
		Help:      "Steps per traced flow",
		Buckets:   []float64{1, 2, 4, 8, 16, 32, 64, 128},
	})

	// depthLimitedTotal counts flows cut off at the depth limit.
	depthLimitedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "flowtrace",
		Subsystem: "flow",
		Name:      "depth_limited_total",
		Help:      "Flows whose traversal stopped at the depth limit",
	})

	// traceDurationSeconds measures one Trace call.
	traceDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "flowtrace",
		Subsystem: "flow",
		Name:      "trace_duration_seconds",
		Help:      "Duration of a full flow tracing pass",
		Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
	})
)

func recordFlowMetrics(f *EndToEndFlow) {
	flowsTracedTotal.WithLabelValues(string(f.Kind)).Inc()
	flowSteps.Observe(float64(len(f.Steps)))
	if f.Metadata.DepthLimited {
		depthLimitedTotal.Inc()
	}
}

func recordTraceDuration(d time.Duration) {
	traceDurationSeconds.Observe(d.Seconds())
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/flowtrace/services/trace"
	"github.com/AleutianAI/flowtrace/services/trace/config"
)

func TestServerRouter_MetricsAfterAnalysis(t *testing.T) {
	gin.SetMode(gin.TestMode)
	if err := setupMetrics(); err != nil {
		t.Fatalf("setupMetrics: %v", err)
	}

	c, err := config.Defaults(context.Background())
	if err != nil {
		t.Fatalf("config.Defaults: %v", err)
	}
	svc, err := trace.NewService(c, trace.WithServiceLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	router := newServerRouter(svc, false)

	root, err := filepath.Abs(filepath.Join("..", "..", "test", "fixtures", "express-app"))
	if err != nil {
		t.Fatalf("Abs: %v", err)
	}
	body := fmt.Sprintf(`{"project_root":%q}`, root)
	req := httptest.NewRequest(http.MethodPost, "/v1/trace/analyze?view=summary", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("analyze: status %d: %s", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("metrics: status %d", w.Code)
	}
	scrape := w.Body.String()
	for _, name := range []string{
		"graph_build_duration_seconds",
		"graph_build_total",
		"graph_cycles_found",
		"ast_parse_duration_seconds",
		"ast_parse_total",
		"flowtrace_flow_flows_total",
	} {
		if !strings.Contains(scrape, name) {
			t.Errorf("expected %s on /metrics", name)
		}
	}
}

func TestSetupMetrics_Idempotent(t *testing.T) {
	if err := setupMetrics(); err != nil {
		t.Fatalf("first call: %v", err)
	}
	if err := setupMetrics(); err != nil {
		t.Errorf("second call: %v", err)
	}
}

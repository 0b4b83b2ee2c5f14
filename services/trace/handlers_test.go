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
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/flowtrace/services/trace/ast"
	"github.com/AleutianAI/flowtrace/services/trace/flow"
	"github.com/AleutianAI/flowtrace/services/trace/graph"
	"github.com/AleutianAI/flowtrace/services/trace/snapshot"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func doRequest(t *testing.T, router http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %s: %v", w.Body.String(), err)
	}
	return v
}

func TestHandleHealth(t *testing.T) {
	router := NewRouter(newTestService(t, ""))
	w := doRequest(t, router, http.MethodGet, "/v1/trace/health", nil)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	resp := decode[HealthResponse](t, w)
	if resp.Status != "healthy" {
		t.Errorf("expected healthy, got %q", resp.Status)
	}
	if resp.Version != ServiceVersion {
		t.Errorf("expected version %s, got %s", ServiceVersion, resp.Version)
	}
}

func TestHandleReady(t *testing.T) {
	router := NewRouter(newTestService(t, "", WithSnapshotManager(newTestSnapshots(t))))
	w := doRequest(t, router, http.MethodGet, "/v1/trace/ready", nil)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	resp := decode[ReadyResponse](t, w)
	if !resp.Ready || !resp.Snapshots {
		t.Errorf("expected ready with snapshots, got %+v", resp)
	}
	if resp.Analyses != 0 {
		t.Errorf("expected 0 analyses, got %d", resp.Analyses)
	}
}

func TestHandleAnalyze_BadRequest(t *testing.T) {
	router := NewRouter(newTestService(t, ""))

	tests := []struct {
		name string
		body any
	}{
		{"malformed", "{not json"},
		{"missing root", map[string]any{"label": "x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(t, router, http.MethodPost, "/v1/trace/analyze", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
			}
			if resp := decode[ErrorResponse](t, w); resp.Code != "INVALID_REQUEST" {
				t.Errorf("expected INVALID_REQUEST, got %q", resp.Code)
			}
		})
	}
}

func TestHandleAnalyze_PathErrors(t *testing.T) {
	router := NewRouter(newTestService(t, ""))

	tests := []struct {
		name   string
		root   string
		status int
		code   string
	}{
		{"relative", "relative/path", http.StatusBadRequest, "INVALID_PATH"},
		{"missing", "/definitely/not/a/real/project", http.StatusNotFound, "PROJECT_NOT_FOUND"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(t, router, http.MethodPost, "/v1/trace/analyze", AnalyzeRequest{ProjectRoot: tt.root})
			if w.Code != tt.status {
				t.Fatalf("expected %d, got %d: %s", tt.status, w.Code, w.Body.String())
			}
			if resp := decode[ErrorResponse](t, w); resp.Code != tt.code {
				t.Errorf("expected %s, got %q", tt.code, resp.Code)
			}
		})
	}
}

func TestHandleAnalyze_Summary(t *testing.T) {
	router := NewRouter(newTestService(t, ""))
	w := doRequest(t, router, http.MethodPost, "/v1/trace/analyze?view=summary", AnalyzeRequest{ProjectRoot: fixtureRoot(t)})

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	resp := decode[AnalysisSummary](t, w)
	if resp.Nodes == 0 || resp.Edges == 0 {
		t.Errorf("expected a non-empty graph, got %+v", resp)
	}
	if resp.FlowsByKind[flow.FlowKindHTTPToDatabase] == 0 {
		t.Errorf("expected http_to_database flows, got %v", resp.FlowsByKind)
	}
	if resp.ExternalDeps < 2 {
		t.Errorf("expected at least 2 external deps, got %d", resp.ExternalDeps)
	}
}

func TestHandleAnalyze_Full(t *testing.T) {
	router := NewRouter(newTestService(t, ""))
	w := doRequest(t, router, http.MethodPost, "/v1/trace/analyze", AnalyzeRequest{ProjectRoot: fixtureRoot(t)})

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	resp := decode[AnalysisResult](t, w)
	if resp.Graph == nil || resp.Graph.NodeCount() == 0 {
		t.Fatal("expected the graph in the full view")
	}
	if !resp.Graph.IsFrozen() {
		t.Error("decoded graph should be frozen")
	}
	if flowByID(resp.Flows, "flow:entry:src/routes/users.ts:getUser") == nil {
		t.Error("expected the getUser flow in the response")
	}
}

func testRecords() []*ast.FileRecord {
	loc := ast.Location{FilePath: "handlers.ts", StartLine: 3, EndLine: 3, StartColumn: 4, EndColumn: 40}
	id := ast.ServiceCallID(loc, ast.ServiceCallDatabaseQuery)

	rec := ast.NewFileRecord("handlers.ts", ast.LanguageTypeScript)
	rec.Functions = []ast.Function{{
		Name:       "listOrders",
		Parameters: []ast.Parameter{{Name: "req"}, {Name: "res"}},
		IsExported: true,
		Location:   ast.Location{FilePath: "handlers.ts", StartLine: 1, EndLine: 5},
	}}
	rec.ServiceCalls = []ast.ServiceCall{{
		ID: id, Kind: ast.ServiceCallDatabaseQuery, Service: "mongodb", Operation: "find", Location: loc,
	}}
	rec.DatabaseOperations = []ast.DatabaseOperation{{
		ID: id, Operation: "find", Target: "orders", Library: "mongodb", Location: loc,
	}}
	return []*ast.FileRecord{rec}
}

func TestHandleRecords(t *testing.T) {
	router := NewRouter(newTestService(t, ""))
	w := doRequest(t, router, http.MethodPost, "/v1/trace/records", RecordsRequest{Records: testRecords()})

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	resp := decode[AnalysisResult](t, w)
	f := flowByID(resp.Flows, "flow:entry:handlers.ts:listOrders")
	if f == nil {
		t.Fatalf("expected a listOrders flow, got %d flows", len(resp.Flows))
	}
	if f.Kind != flow.FlowKindHTTPToDatabase {
		t.Errorf("expected http_to_database, got %s", f.Kind)
	}
	if f.EntryPoint == nil || f.EntryPoint.ID != f.Steps[0].ID {
		t.Error("entry point should be the first step after decoding")
	}
}

func TestHandleRecords_Errors(t *testing.T) {
	router := NewRouter(newTestService(t, "server:\n  max_records: 1\n"))

	w := doRequest(t, router, http.MethodPost, "/v1/trace/records", map[string]any{"project_root": "/x"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without records, got %d", w.Code)
	}

	records := append(testRecords(), ast.NewFileRecord("other.ts", ast.LanguageTypeScript))
	w = doRequest(t, router, http.MethodPost, "/v1/trace/records", RecordsRequest{Records: records})
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d: %s", w.Code, w.Body.String())
	}
	if resp := decode[ErrorResponse](t, w); resp.Code != "TOO_MANY_RECORDS" {
		t.Errorf("expected TOO_MANY_RECORDS, got %q", resp.Code)
	}
}

func TestSnapshotHandlers_Disabled(t *testing.T) {
	router := NewRouter(newTestService(t, ""))

	for _, target := range []string{
		"/v1/trace/snapshots",
		"/v1/trace/snapshots/latest?project_root=/x",
		"/v1/trace/snapshots/diff?base=a&target=b",
		"/v1/trace/snapshots/abc",
	} {
		w := doRequest(t, router, http.MethodGet, target, nil)
		if w.Code != http.StatusServiceUnavailable {
			t.Errorf("%s: expected 503, got %d", target, w.Code)
		}
	}

	w := doRequest(t, router, http.MethodPost, "/v1/trace/analyze", AnalyzeRequest{ProjectRoot: fixtureRoot(t), SaveSnapshot: true})
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
	if resp := decode[ErrorResponse](t, w); resp.Code != "SNAPSHOTS_NOT_AVAILABLE" {
		t.Errorf("expected SNAPSHOTS_NOT_AVAILABLE, got %q", resp.Code)
	}
}

func TestSnapshotHandlers(t *testing.T) {
	root := fixtureRoot(t)
	router := NewRouter(newTestService(t, "", WithSnapshotManager(newTestSnapshots(t))))

	var ids []string
	for _, label := range []string{"first", "second"} {
		w := doRequest(t, router, http.MethodPost, "/v1/trace/analyze?view=summary",
			AnalyzeRequest{ProjectRoot: root, SaveSnapshot: true, Label: label})
		if w.Code != http.StatusOK {
			t.Fatalf("analyze %s: expected 200, got %d: %s", label, w.Code, w.Body.String())
		}
		resp := decode[AnalysisSummary](t, w)
		if resp.Snapshot == nil {
			t.Fatalf("analyze %s: expected snapshot metadata", label)
		}
		ids = append(ids, resp.Snapshot.SnapshotID)
	}

	q := url.Values{"project_root": {root}}.Encode()

	t.Run("list", func(t *testing.T) {
		w := doRequest(t, router, http.MethodGet, "/v1/trace/snapshots?"+q, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}
		resp := decode[ListSnapshotsResponse](t, w)
		if len(resp.Snapshots) != 2 {
			t.Fatalf("expected 2 snapshots, got %d", len(resp.Snapshots))
		}
		if resp.Snapshots[0].SnapshotID != ids[1] {
			t.Error("expected newest snapshot first")
		}
	})

	t.Run("limit", func(t *testing.T) {
		w := doRequest(t, router, http.MethodGet, "/v1/trace/snapshots?limit=1&"+q, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}
		if resp := decode[ListSnapshotsResponse](t, w); len(resp.Snapshots) != 1 {
			t.Errorf("expected 1 snapshot, got %d", len(resp.Snapshots))
		}
	})

	t.Run("latest", func(t *testing.T) {
		w := doRequest(t, router, http.MethodGet, "/v1/trace/snapshots/latest?"+q, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}
		resp := decode[SnapshotResponse](t, w)
		if resp.Metadata.Label != "second" {
			t.Errorf("expected the second snapshot, got %q", resp.Metadata.Label)
		}
		if resp.Graph != nil {
			t.Error("graph should be omitted without full=true")
		}

		w = doRequest(t, router, http.MethodGet, "/v1/trace/snapshots/latest", nil)
		if w.Code != http.StatusBadRequest {
			t.Errorf("expected 400 without project_root, got %d", w.Code)
		}
	})

	t.Run("load full", func(t *testing.T) {
		w := doRequest(t, router, http.MethodGet, "/v1/trace/snapshots/"+ids[0]+"?full=true", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
		}
		resp := decode[SnapshotResponse](t, w)
		if resp.Graph == nil || len(resp.Flows) == 0 {
			t.Error("expected graph and flows with full=true")
		}
	})

	t.Run("diff", func(t *testing.T) {
		w := doRequest(t, router, http.MethodGet, "/v1/trace/snapshots/diff?base="+ids[0]+"&target="+ids[1], nil)
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
		}
		resp := decode[snapshot.Diff](t, w)
		if resp.Graph == nil || resp.Graph.Summary.TotalChanges != 0 {
			t.Errorf("expected no changes between identical analyses, got %+v", resp.Graph)
		}
		if len(resp.FlowsAdded) != 0 || len(resp.FlowsRemoved) != 0 {
			t.Error("expected identical flow sets")
		}

		w = doRequest(t, router, http.MethodGet, "/v1/trace/snapshots/diff?base="+ids[0], nil)
		if w.Code != http.StatusBadRequest {
			t.Errorf("expected 400 without target, got %d", w.Code)
		}
	})

	t.Run("delete", func(t *testing.T) {
		w := doRequest(t, router, http.MethodDelete, "/v1/trace/snapshots/"+ids[1], nil)
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}

		w = doRequest(t, router, http.MethodGet, "/v1/trace/snapshots/"+ids[1], nil)
		if w.Code != http.StatusNotFound {
			t.Fatalf("expected 404 after delete, got %d", w.Code)
		}
		if resp := decode[ErrorResponse](t, w); resp.Code != "SNAPSHOT_NOT_FOUND" {
			t.Errorf("expected SNAPSHOT_NOT_FOUND, got %q", resp.Code)
		}

		w = doRequest(t, router, http.MethodGet, "/v1/trace/snapshots/latest?"+q, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}
		if resp := decode[SnapshotResponse](t, w); resp.Metadata.SnapshotID != ids[0] {
			t.Error("latest should fall back to the remaining snapshot")
		}
	})
}

func TestRateLimit(t *testing.T) {
	router := NewRouter(newTestService(t, "server:\n  requests_per_second: 0.01\n  burst: 1\n"))
	body := RecordsRequest{Records: testRecords()}

	w := doRequest(t, router, http.MethodPost, "/v1/trace/records", body)
	if w.Code != http.StatusOK {
		t.Fatalf("first request: expected 200, got %d", w.Code)
	}

	w = doRequest(t, router, http.MethodPost, "/v1/trace/records", body)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: expected 429, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("expected a Retry-After header")
	}
	if resp := decode[ErrorResponse](t, w); resp.Code != "RATE_LIMITED" {
		t.Errorf("expected RATE_LIMITED, got %q", resp.Code)
	}

	// Health is never limited.
	w = doRequest(t, router, http.MethodGet, "/v1/trace/health", nil)
	if w.Code != http.StatusOK {
		t.Errorf("health: expected 200, got %d", w.Code)
	}
}

func TestRequestID(t *testing.T) {
	router := NewRouter(newTestService(t, ""))

	req := httptest.NewRequest(http.MethodPost, "/v1/trace/analyze", bytes.NewReader([]byte("{}")))
	req.Header.Set("X-Request-ID", "req-123")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-ID"); got != "req-123" {
		t.Errorf("expected request id to be echoed, got %q", got)
	}

	w = doRequest(t, router, http.MethodPost, "/v1/trace/analyze", "{}")
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected a generated request id")
	}
}

func TestHandleSearch(t *testing.T) {
	router := NewRouter(newTestService(t, ""))

	w := doRequest(t, router, http.MethodPost, "/v1/trace/search", map[string]any{
		"project_root": fixtureRoot(t),
		"query":        "saveUser",
		"kinds":        []string{"function"},
		"limit":        5,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	resp := decode[SearchResponse](t, w)
	if resp.Total == 0 || resp.Matches[0].Node.Name != "saveUser" {
		t.Errorf("expected saveUser first, got %+v", resp.Matches)
	}

	w = doRequest(t, router, http.MethodPost, "/v1/trace/search", map[string]any{"project_root": fixtureRoot(t)})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without query, got %d", w.Code)
	}
}

func TestHandlePathAndSymbol(t *testing.T) {
	router := NewRouter(newTestService(t, ""))
	root := fixtureRoot(t)

	w := doRequest(t, router, http.MethodPost, "/v1/trace/path", map[string]any{
		"project_root": root,
		"from":         "createUser",
		"to":           "saveUser",
		"kinds":        []string{"call"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("path: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if resp := decode[graph.PathResult](t, w); !resp.Found || resp.Hops != 1 {
		t.Errorf("expected a 1-hop path, got %+v", resp)
	}

	w = doRequest(t, router, http.MethodPost, "/v1/trace/symbol", map[string]any{
		"project_root": root,
		"symbol":       "missingFunction",
	})
	if w.Code != http.StatusNotFound {
		t.Fatalf("symbol: expected 404, got %d", w.Code)
	}
	if resp := decode[ErrorResponse](t, w); resp.Code != "SYMBOL_NOT_FOUND" {
		t.Errorf("expected SYMBOL_NOT_FOUND, got %q", resp.Code)
	}
}

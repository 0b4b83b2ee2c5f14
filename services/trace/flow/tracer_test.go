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
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/flowtrace/services/trace/ast"
	"github.com/AleutianAI/flowtrace/services/trace/graph"
)

// =============================================================================
// Fixture helpers
// =============================================================================

func loc(file string, start, end int) ast.Location {
	return ast.Location{FilePath: file, StartLine: start, EndLine: end}
}

func newRecord(file string) *ast.FileRecord {
	return ast.NewFileRecord(file, ast.LanguageForPath(file))
}

// addFn declares a top-level function. params may be empty.
func addFn(rec *ast.FileRecord, name string, start, end int, params []string, calls ...string) {
	fn := ast.Function{Name: name, Location: loc(rec.FilePath, start, end), Complexity: 1}
	for _, p := range params {
		fn.Parameters = append(fn.Parameters, ast.Parameter{Name: p})
	}
	for _, c := range calls {
		fn.Calls = append(fn.Calls, ast.CallSite{Callee: c})
	}
	rec.Functions = append(rec.Functions, fn)
	rec.Symbols = append(rec.Symbols, ast.Symbol{Name: name, Kind: ast.SymbolKindFunction, Location: fn.Location})
}

func addDBCall(rec *ast.FileRecord, line int, library, op string) ast.ServiceCall {
	sc := ast.ServiceCall{
		Kind:      ast.ServiceCallDatabaseQuery,
		Service:   library,
		Operation: op,
		Location:  loc(rec.FilePath, line, line),
		Metadata:  map[string]string{"library": library},
	}
	sc.ID = ast.ServiceCallID(sc.Location, sc.Kind)
	rec.ServiceCalls = append(rec.ServiceCalls, sc)
	rec.DatabaseOperations = append(rec.DatabaseOperations, ast.DatabaseOperation{
		ID:        sc.ID,
		Operation: op,
		Library:   library,
		Location:  sc.Location,
	})
	return sc
}

func addHTTPCall(rec *ast.FileRecord, line int, method, endpoint string, external bool) ast.ServiceCall {
	sc := ast.ServiceCall{
		Kind:       ast.ServiceCallHTTPRequest,
		Service:    "fetch",
		Method:     method,
		Endpoint:   endpoint,
		Location:   loc(rec.FilePath, line, line),
		IsExternal: external,
	}
	sc.ID = ast.ServiceCallID(sc.Location, sc.Kind)
	rec.ServiceCalls = append(rec.ServiceCalls, sc)
	return sc
}

func buildAndTrace(t *testing.T, records []*ast.FileRecord, opts ...TracerOption) []*EndToEndFlow {
	t.Helper()
	result := graph.NewBuilder().Build(context.Background(), records)
	require.False(t, result.Incomplete)
	return NewTracer(nil, opts...).Trace(context.Background(), records, result.Graph)
}

func stepIDs(f *EndToEndFlow) []string {
	ids := make([]string, 0, len(f.Steps))
	for _, s := range f.Steps {
		ids = append(ids, s.ID)
	}
	return ids
}

// =============================================================================
// Tests
// =============================================================================

func TestTrace_Empty(t *testing.T) {
	flows := NewTracer(nil).Trace(context.Background(), nil, nil)
	require.NotNil(t, flows)
	assert.Empty(t, flows)
}

func TestTrace_HandlerWithDatabaseQuery(t *testing.T) {
	rec := newRecord("api.ts")
	addFn(rec, "getUsers", 1, 10, []string{"req", "res"})
	db := addDBCall(rec, 5, "prisma", "findMany")

	flows := buildAndTrace(t, []*ast.FileRecord{rec})
	require.Len(t, flows, 1)

	f := flows[0]
	assert.Equal(t, FlowKindHTTPToDatabase, f.Kind)
	assert.Equal(t, "flow:entry:api.ts:getUsers", f.ID)
	assert.Equal(t, "GET /users", f.Name)
	require.Len(t, f.Steps, 2)
	assert.Same(t, f.Steps[0], f.EntryPoint)
	assert.Equal(t, StepKindHTTPEndpoint, f.EntryPoint.Kind)

	require.Len(t, f.ExitPoints, 1)
	exit := f.ExitPoints[0]
	assert.Equal(t, "db:"+db.ID, exit.ID)
	assert.Equal(t, StepKindDatabaseOperation, exit.Kind)
	assert.Equal(t, []string{f.EntryPoint.ID}, exit.PreviousSteps)
	assert.Equal(t, []string{exit.ID}, f.EntryPoint.NextSteps)

	assert.Equal(t, FlowMetadata{
		TotalSteps:            2,
		MaxDepth:              1,
		HasDatabaseOperations: true,
		Complexity:            3,
	}, f.Metadata)
}

func TestTrace_ServiceCallOutsideFunctionIgnored(t *testing.T) {
	rec := newRecord("api.ts")
	addFn(rec, "listUsers", 1, 10, []string{"req"})
	addDBCall(rec, 12, "pool", "query")

	flows := buildAndTrace(t, []*ast.FileRecord{rec})
	require.Len(t, flows, 1)
	assert.Len(t, flows[0].Steps, 1)
	assert.Equal(t, FlowKindFrontendToBackend, flows[0].Kind)
}

func TestTrace_FollowsCallEdges(t *testing.T) {
	routes := newRecord("routes.ts")
	routes.Imports = append(routes.Imports, ast.Import{
		Source:     "./service",
		Specifiers: []ast.ImportSpecifier{{Imported: "createUser", Local: "createUser"}},
	})
	addFn(routes, "postUser", 1, 8, []string{"req", "res"}, "createUser")

	service := newRecord("service.ts")
	addFn(service, "createUser", 1, 6, nil, "audit")
	addFn(service, "audit", 7, 9, nil)
	addDBCall(service, 3, "knex", "insert")

	flows := buildAndTrace(t, []*ast.FileRecord{routes, service})
	require.Len(t, flows, 2)

	f := flows[0]
	assert.Equal(t, FlowKindHTTPToDatabase, f.Kind)
	assert.Equal(t, "POST /user", f.Name)
	assert.Equal(t, []string{
		"entry:routes.ts:postUser",
		"call:service.ts:createUser",
		"db:service.ts:3:0:database_query",
		"call:service.ts:audit",
	}, stepIDs(f))
	assert.Len(t, f.ExitPoints, 2)

	// createUser holds a query but is not an entry point, so it also
	// seeds a data flow prefixed with its caller.
	data := flows[1]
	assert.Equal(t, FlowKindDataFlow, data.Kind)
	assert.Equal(t, []string{
		"call:routes.ts:postUser",
		"call:service.ts:createUser",
		"db:service.ts:3:0:database_query",
		"call:service.ts:audit",
	}, stepIDs(data))
}

func TestTrace_CycleTerminates(t *testing.T) {
	for _, n := range []int{1, 3, 20} {
		t.Run(fmt.Sprintf("cycle_%d", n), func(t *testing.T) {
			rec := newRecord("loop.js")
			addFn(rec, "handle", 1, 3, []string{"request"}, "f0")
			for i := 0; i < n; i++ {
				start := 10 * (i + 1)
				addFn(rec, fmt.Sprintf("f%d", i), start, start+5, nil, fmt.Sprintf("f%d", (i+1)%n))
			}

			flows := buildAndTrace(t, []*ast.FileRecord{rec})
			require.Len(t, flows, 1)
			f := flows[0]

			if n <= DefaultMaxDepth {
				assert.Len(t, f.Steps, n+1)
				assert.False(t, f.Metadata.DepthLimited)
			} else {
				assert.Len(t, f.Steps, DefaultMaxDepth+2)
				assert.True(t, f.Metadata.DepthLimited)
			}
		})
	}
}

func TestTrace_ServiceToService(t *testing.T) {
	gateway := newRecord("gateway/proxy.ts")
	addFn(gateway, "proxyUsers", 1, 6, []string{"req", "res"})
	addHTTPCall(gateway, 3, "GET", "/api/users", false)

	users := newRecord("users/handlers.ts")
	addFn(users, "getUsers", 1, 9, []string{"req", "res"})
	addDBCall(users, 4, "mongoose", "find")

	worker := newRecord("worker/sync.ts")
	addFn(worker, "syncOrders", 1, 9, nil)
	addHTTPCall(worker, 2, "POST", "http://orders:8080/orders", false)
	addFn(worker, "postOrders", 10, 20, []string{"req"})

	flows := buildAndTrace(t, []*ast.FileRecord{gateway, users, worker})
	require.Len(t, flows, 4)

	proxy := flows[0]
	assert.Equal(t, FlowKindHTTPToDatabase, proxy.Kind)
	assert.Equal(t, []string{
		"entry:gateway/proxy.ts:proxyUsers",
		"svc:gateway/proxy.ts:3:0:http_request",
		"handler:users/handlers.ts:getUsers",
		"db:users/handlers.ts:4:0:database_query",
	}, stepIDs(proxy))

	assert.Equal(t, "flow:entry:users/handlers.ts:getUsers", flows[1].ID)
	assert.Equal(t, "flow:entry:worker/sync.ts:postOrders", flows[2].ID)

	derived := flows[3]
	assert.Equal(t, FlowKindServiceToService, derived.Kind)
	assert.Equal(t, "flow:svc:worker/sync.ts:2:0:http_request", derived.ID)
	assert.Equal(t, []string{
		"svc:worker/sync.ts:2:0:http_request",
		"handler:worker/sync.ts:postOrders",
	}, stepIDs(derived))
}

func TestTrace_DataFlowWithCallers(t *testing.T) {
	repo := newRecord("repo.ts")
	addFn(repo, "saveUser", 1, 5, nil)
	addDBCall(repo, 3, "db", "insert")
	addDBCall(repo, 4, "db", "update")

	svc := newRecord("service.ts")
	svc.Imports = append(svc.Imports, ast.Import{
		Source:     "./repo",
		Specifiers: []ast.ImportSpecifier{{Imported: "saveUser", Local: "saveUser"}},
	})
	addFn(svc, "register", 1, 4, nil, "saveUser")
	addFn(svc, "importUsers", 5, 9, nil, "saveUser", "saveUser")

	flows := buildAndTrace(t, []*ast.FileRecord{repo, svc})
	require.Len(t, flows, 1, "one data flow per containing function")

	f := flows[0]
	assert.Equal(t, FlowKindDataFlow, f.Kind)
	assert.Equal(t, "flow:data:repo.ts:saveUser", f.ID)
	assert.Equal(t, []string{
		"call:service.ts:register",
		"call:service.ts:importUsers",
		"call:repo.ts:saveUser",
		"db:repo.ts:3:0:database_query",
		"db:repo.ts:4:0:database_query",
	}, stepIDs(f))
	assert.Equal(t, "call:service.ts:register", f.EntryPoint.ID)
	assert.True(t, f.Metadata.HasDatabaseOperations)
}

func TestTrace_DerivedFlowsDisabled(t *testing.T) {
	repo := newRecord("repo.ts")
	addFn(repo, "saveUser", 1, 5, nil)
	addDBCall(repo, 3, "db", "insert")

	flows := buildAndTrace(t, []*ast.FileRecord{repo}, WithDerivedFlows(false))
	assert.Empty(t, flows)
}

func TestTrace_ExternalCall(t *testing.T) {
	rec := newRecord("billing.ts")
	addFn(rec, "charge", 1, 6, []string{"req", "res"})
	addHTTPCall(rec, 3, "POST", "https://api.stripe.com/v1/charges", true)

	flows := buildAndTrace(t, []*ast.FileRecord{rec})
	require.Len(t, flows, 1)
	f := flows[0]
	assert.Equal(t, FlowKindFrontendToBackend, f.Kind)
	require.Len(t, f.Steps, 2)
	assert.Equal(t, StepKindExternalAPICall, f.Steps[1].Kind)
	assert.True(t, f.Metadata.HasExternalCalls)
	assert.IsType(t, ExternalDetail{}, f.Steps[1].Detail)
}

func TestTrace_EntryFilter(t *testing.T) {
	prod := newRecord("src/api.ts")
	addFn(prod, "getItems", 1, 3, []string{"req"})
	test := newRecord("src/api.test.ts")
	addFn(test, "fakeHandler", 1, 3, []string{"req"})

	flows := buildAndTrace(t, []*ast.FileRecord{prod, test},
		WithEntryFilter(func(p string) bool { return !graph.IsTestFile(p) }))
	require.Len(t, flows, 1)
	assert.Equal(t, "entry:src/api.ts:getItems", flows[0].EntryPoint.ID)
}

func TestTrace_Deterministic(t *testing.T) {
	records := make([]*ast.FileRecord, 0, 20)
	for i := 0; i < 20; i++ {
		rec := newRecord(fmt.Sprintf("routes/r%02d.ts", i))
		addFn(rec, fmt.Sprintf("getThing%d", i), 1, 9, []string{"req"}, "helper")
		addFn(rec, "helper", 10, 12, nil)
		addDBCall(rec, 4, "pool", "query")
		records = append(records, rec)
	}
	g := graph.NewBuilder().Build(context.Background(), records).Graph

	serial, err := json.Marshal(NewTracer(nil, WithParallelism(1)).Trace(context.Background(), records, g))
	require.NoError(t, err)
	parallel, err := json.Marshal(NewTracer(nil, WithParallelism(8)).Trace(context.Background(), records, g))
	require.NoError(t, err)
	assert.JSONEq(t, string(serial), string(parallel))
	assert.Equal(t, serial, parallel)
}

func TestTrace_Cancelled(t *testing.T) {
	rec := newRecord("api.ts")
	addFn(rec, "getUsers", 1, 3, []string{"req"})
	g := graph.NewBuilder().Build(context.Background(), []*ast.FileRecord{rec}).Graph

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	flows := NewTracer(nil).Trace(ctx, []*ast.FileRecord{rec}, g)
	assert.NotNil(t, flows)
	assert.Empty(t, flows)
}

func TestEndToEndFlow_JSONRoundTrip(t *testing.T) {
	rec := newRecord("api.ts")
	addFn(rec, "getUsers", 1, 10, []string{"req", "res"})
	addDBCall(rec, 5, "prisma", "findMany")
	addHTTPCall(rec, 6, "GET", "https://example.com/x", true)

	flows := buildAndTrace(t, []*ast.FileRecord{rec})
	require.Len(t, flows, 1)

	data, err := json.Marshal(flows[0])
	require.NoError(t, err)
	assert.Contains(t, string(data), `"detail_kind":"http"`)

	var decoded EndToEndFlow
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, flows[0].Kind, decoded.Kind)
	require.Len(t, decoded.Steps, 3)
	assert.Same(t, decoded.Steps[0], decoded.EntryPoint)
	require.Len(t, decoded.ExitPoints, 2)
	assert.Same(t, decoded.Steps[1], decoded.ExitPoints[0])

	assert.Equal(t, HTTPDetail{Method: "GET", Route: "/users", Framework: "heuristic"}, decoded.Steps[0].Detail)
	assert.Equal(t, DatabaseDetail{Library: "prisma", Operation: "findMany"}, decoded.Steps[1].Detail)
	assert.Equal(t, flows[0].Steps[2].Detail, decoded.Steps[2].Detail)
}

func TestFlowStep_UnknownDetailKind(t *testing.T) {
	var s FlowStep
	err := json.Unmarshal([]byte(`{"id":"x","detail_kind":"bogus","detail":{}}`), &s)
	assert.Error(t, err)
}

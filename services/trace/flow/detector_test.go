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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/flowtrace/services/trace/ast"
)

func TestHeuristicDetector_DetectEntryPoints(t *testing.T) {
	rec := newRecord("src/users.controller.ts")
	addFn(rec, "listHandler", 1, 5, []string{"Request", "h"})
	addFn(rec, "helper", 6, 8, []string{"id"})
	rec.Functions = append(rec.Functions,
		ast.Function{Name: "deleteUser", ClassName: "UserController", Location: loc(rec.FilePath, 10, 14)},
		ast.Function{Name: "constructor", ClassName: "UserController", Location: loc(rec.FilePath, 15, 16)},
		ast.Function{Name: "getAll", ClassName: "UserService", Location: loc(rec.FilePath, 20, 24)},
	)

	eps := NewHeuristicDetector().DetectEntryPoints(rec)
	require.Len(t, eps, 2)

	assert.Equal(t, EntryPointHandler, eps[0].Kind)
	assert.Equal(t, "src/users.controller.ts:listHandler", eps[0].NodeID)
	assert.Equal(t, "GET", eps[0].Method)
	assert.Equal(t, "/list", eps[0].Route)

	assert.Equal(t, EntryPointController, eps[1].Kind)
	assert.Equal(t, "DELETE", eps[1].Method)
	assert.Equal(t, "/user", eps[1].Route)
}

func TestHeuristicDetector_NilRecord(t *testing.T) {
	assert.Empty(t, NewHeuristicDetector().DetectEntryPoints(nil))
}

func TestHeuristicDetector_Options(t *testing.T) {
	rec := newRecord("a.ts")
	addFn(rec, "onMessage", 1, 3, []string{"ctx"})
	rec.Functions = append(rec.Functions,
		ast.Function{Name: "fetchAll", ClassName: "OrdersResource", Location: loc("a.ts", 5, 9)})

	d := NewHeuristicDetector(
		WithHandlerParams("ctx"),
		WithControllerMarker("Resource"),
		WithVerbs("fetch", "get"),
	)
	eps := d.DetectEntryPoints(rec)
	require.Len(t, eps, 2)
	assert.Equal(t, "/on-message", eps[0].Route)
	assert.Equal(t, "FETCH", eps[1].Method)
	assert.Equal(t, "/orders", eps[1].Route)
}

func TestHeuristicDetector_DeriveMethod(t *testing.T) {
	d := NewHeuristicDetector()
	tests := map[string]string{
		"getUsers":      "GET",
		"createPost":    "POST",
		"updateProfile": "GET",
		"putItem":       "PUT",
		"deleteOrder":   "DELETE",
		"patchSettings": "PATCH",
		"index":         "GET",
	}
	for name, want := range tests {
		assert.Equal(t, want, d.deriveMethod(name), name)
	}
}

func TestHeuristicDetector_DeriveRoute(t *testing.T) {
	d := NewHeuristicDetector()
	tests := map[string]string{
		"getUsers":          "/users",
		"getUserById":       "/user-by-id",
		"handleLogin":       "/login",
		"loginHandler":      "/login",
		"UserController":    "/user",
		"get":               "/get",
		"list_orders":       "/list-orders",
		"HTTPStatusHandler": "/http-status",
	}
	for name, want := range tests {
		assert.Equal(t, want, d.deriveRoute(name), name)
	}
}

func TestHeuristicDetector_MatchHandler(t *testing.T) {
	d := NewHeuristicDetector()
	ep := EntryPoint{Method: "GET", Route: "/users"}

	tests := []struct {
		name string
		call ast.ServiceCall
		want bool
	}{
		{"endpoint contains route", ast.ServiceCall{Method: "GET", Endpoint: "/api/users/:param"}, true},
		{"route contains endpoint", ast.ServiceCall{Method: "get", Endpoint: "/user"}, true},
		{"method defaults to GET", ast.ServiceCall{Endpoint: "http://users/users"}, true},
		{"method mismatch", ast.ServiceCall{Method: "POST", Endpoint: "/users"}, false},
		{"no overlap", ast.ServiceCall{Method: "GET", Endpoint: "/orders"}, false},
		{"empty endpoint", ast.ServiceCall{Method: "GET"}, false},
		{"root endpoint", ast.ServiceCall{Method: "GET", Endpoint: "/"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, d.MatchHandler(tt.call, ep))
		})
	}
}

func TestSplitWords(t *testing.T) {
	assert.Equal(t, []string{"get", "user", "by", "id"}, splitWords("getUserById"))
	assert.Equal(t, []string{"http", "server"}, splitWords("HTTPServer"))
	assert.Equal(t, []string{"snake", "case"}, splitWords("snake_case"))
	assert.Equal(t, []string{"kebab", "case"}, splitWords("kebab-case"))
	assert.Nil(t, splitWords(""))
}

func TestHeuristicDetector_RegisteredRoute(t *testing.T) {
	rec := newRecord("routes.js")
	rec.Functions = append(rec.Functions,
		ast.Function{
			Name:     "router.get:7",
			Location: loc(rec.FilePath, 7, 10),
			Route:    &ast.RouteBinding{Method: "get", Path: "/users/:param"},
		},
		ast.Function{
			Name:     "listOrders",
			Location: loc(rec.FilePath, 12, 14),
			Route:    &ast.RouteBinding{Method: "POST", Path: "/orders"},
		},
	)

	eps := NewHeuristicDetector().DetectEntryPoints(rec)
	require.Len(t, eps, 2)

	assert.Equal(t, "routes.js:router.get:7", eps[0].NodeID)
	assert.Equal(t, "GET", eps[0].Method)
	assert.Equal(t, "/users/:param", eps[0].Route)

	assert.Equal(t, "POST", eps[1].Method)
	assert.Equal(t, "/orders", eps[1].Route)

	d := NewHeuristicDetector()
	assert.True(t, d.MatchHandler(ast.ServiceCall{Method: "POST", Endpoint: "/api/orders"}, eps[1]))
	assert.True(t, d.MatchHandler(ast.ServiceCall{Endpoint: "/api/users/:param"}, eps[0]))
	assert.False(t, d.MatchHandler(ast.ServiceCall{Method: "GET", Endpoint: "/api/orders"}, eps[1]))
}

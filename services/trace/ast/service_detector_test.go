// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ast

import "testing"

func str(v string) CallArgument { return CallArgument{Kind: ArgumentString, Value: v} }

func obj(props map[string]string) CallArgument {
	return CallArgument{Kind: ArgumentObject, Properties: props}
}

func detectOne(t *testing.T, call CallExpression) *FileRecord {
	t.Helper()
	if call.Location.FilePath == "" {
		call.Location = Location{FilePath: "svc.js", StartLine: 4, EndLine: 4, StartColumn: 2}
	}
	rec := NewFileRecord("svc.js", LanguageJavaScript)
	NewServiceDetector(DefaultServicePatterns()).Detect(rec, []CallExpression{call})
	return rec
}

func TestServiceDetector_HTTP(t *testing.T) {
	tests := []struct {
		name     string
		call     CallExpression
		method   string
		endpoint string
		external bool
	}{
		{
			name:     "fetch default GET",
			call:     CallExpression{Callee: "fetch", Args: []CallArgument{str("/api/users")}},
			method:   "GET",
			endpoint: "/api/users",
		},
		{
			name:     "fetch with method option",
			call:     CallExpression{Callee: "fetch", Args: []CallArgument{str("/api/users"), obj(map[string]string{"method": "post"})}},
			method:   "POST",
			endpoint: "/api/users",
		},
		{
			name:     "axios verb",
			call:     CallExpression{Callee: "delete", Receiver: "axios", Args: []CallArgument{{Kind: ArgumentTemplate, Value: "/api/users/:param"}}},
			method:   "DELETE",
			endpoint: "/api/users/:param",
		},
		{
			name:     "axios config object",
			call:     CallExpression{Callee: "axios", Args: []CallArgument{obj(map[string]string{"url": "/orders", "method": "put"})}},
			method:   "PUT",
			endpoint: "/orders",
		},
		{
			name:     "this-scoped client",
			call:     CallExpression{Callee: "patch", Receiver: "this.httpClient", Args: []CallArgument{str("/items")}},
			method:   "PATCH",
			endpoint: "/items",
		},
		{
			name:     "external host",
			call:     CallExpression{Callee: "get", Receiver: "axios", Args: []CallArgument{str("https://api.github.com/repos")}},
			method:   "GET",
			endpoint: "https://api.github.com/repos",
			external: true,
		},
		{
			name:     "loopback is internal",
			call:     CallExpression{Callee: "fetch", Args: []CallArgument{str("http://127.0.0.1:8080/x")}},
			method:   "GET",
			endpoint: "http://127.0.0.1:8080/x",
		},
		{
			name:     "localhost is internal",
			call:     CallExpression{Callee: "fetch", Args: []CallArgument{str("http://localhost:3000/x")}},
			method:   "GET",
			endpoint: "http://localhost:3000/x",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := detectOne(t, tt.call)
			if len(rec.ServiceCalls) != 1 {
				t.Fatalf("expected 1 service call, got %d", len(rec.ServiceCalls))
			}
			sc := rec.ServiceCalls[0]
			if sc.Kind != ServiceCallHTTPRequest {
				t.Errorf("expected http_request, got %q", sc.Kind)
			}
			if sc.Method != tt.method {
				t.Errorf("expected method %q, got %q", tt.method, sc.Method)
			}
			if sc.Endpoint != tt.endpoint {
				t.Errorf("expected endpoint %q, got %q", tt.endpoint, sc.Endpoint)
			}
			if sc.IsExternal != tt.external {
				t.Errorf("expected external=%v", tt.external)
			}
			if sc.ID != "svc.js:4:2:http_request" {
				t.Errorf("unexpected id %q", sc.ID)
			}
			if tt.external && len(rec.ExternalServices) != 1 {
				t.Errorf("expected external service entry, got %+v", rec.ExternalServices)
			}
		})
	}
}

func TestServiceDetector_HTTP_NonLiteralEndpoint(t *testing.T) {
	rec := detectOne(t, CallExpression{Callee: "fetch", Args: []CallArgument{{Kind: ArgumentOther, Value: "url"}}})
	if len(rec.ServiceCalls) != 1 {
		t.Fatalf("expected 1 service call, got %d", len(rec.ServiceCalls))
	}
	sc := rec.ServiceCalls[0]
	if sc.Endpoint != "" {
		t.Errorf("expected empty endpoint, got %q", sc.Endpoint)
	}
	if sc.Metadata["endpoint_expr"] != "url" {
		t.Errorf("expected endpoint_expr metadata, got %v", sc.Metadata)
	}
}

func TestServiceDetector_Database(t *testing.T) {
	tests := []struct {
		name    string
		call    CallExpression
		library string
		target  string
	}{
		{"prisma model", CallExpression{Callee: "findMany", Receiver: "prisma.order"}, "prisma", "order"},
		{"this prisma", CallExpression{Callee: "create", Receiver: "this.prisma.user"}, "prisma", "user"},
		{"sql query", CallExpression{Callee: "query", Receiver: "pool", Args: []CallArgument{str("SELECT * FROM users WHERE id = $1")}}, "sql", "users"},
		{"knex table", CallExpression{Callee: "knex", Args: []CallArgument{str("accounts")}}, "knex", "accounts"},
		{"typeorm repository suffix", CallExpression{Callee: "save", Receiver: "this.userRepository"}, "typeorm", ""},
		{"mongoose model", CallExpression{Callee: "findOne", Receiver: "User"}, "model", "User"},
		{"redis", CallExpression{Callee: "get", Receiver: "redis"}, "redis", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := detectOne(t, tt.call)
			if len(rec.ServiceCalls) != 1 || len(rec.DatabaseOperations) != 1 {
				t.Fatalf("expected one db call, got %+v / %+v", rec.ServiceCalls, rec.DatabaseOperations)
			}
			sc := rec.ServiceCalls[0]
			if sc.Kind != ServiceCallDatabaseQuery || sc.IsExternal {
				t.Errorf("unexpected service call: %+v", sc)
			}
			op := rec.DatabaseOperations[0]
			if op.Library != tt.library {
				t.Errorf("expected library %q, got %q", tt.library, op.Library)
			}
			if op.Target != tt.target {
				t.Errorf("expected target %q, got %q", tt.target, op.Target)
			}
			if op.Operation != tt.call.Callee {
				t.Errorf("expected operation %q, got %q", tt.call.Callee, op.Operation)
			}
		})
	}
}

func TestServiceDetector_Ignored(t *testing.T) {
	tests := []struct {
		name string
		call CallExpression
	}{
		{"builtin global", CallExpression{Callee: "create", Receiver: "Object"}},
		{"query builder where", CallExpression{Callee: "where", Receiver: "db"}},
		{"unknown receiver", CallExpression{Callee: "find", Receiver: "items"}},
		{"response helper", CallExpression{Callee: "json", Receiver: "res"}},
		{"unknown bare call", CallExpression{Callee: "doThing"}},
		{"this call", CallExpression{Callee: "save", Receiver: "this"}},
		{"model with unknown verb", CallExpression{Callee: "render", Receiver: "View"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := detectOne(t, tt.call)
			if len(rec.ServiceCalls) != 0 {
				t.Errorf("expected no service calls, got %+v", rec.ServiceCalls)
			}
		})
	}
}

func TestServiceDetector_ExternalServiceAggregation(t *testing.T) {
	rec := NewFileRecord("pay.js", LanguageJavaScript)
	calls := []CallExpression{
		{Callee: "create", Receiver: "stripe.charges", Location: Location{FilePath: "pay.js", StartLine: 1, EndLine: 1}},
		{Callee: "create", Receiver: "stripe.charges", Location: Location{FilePath: "pay.js", StartLine: 2, EndLine: 2}},
		{Callee: "retrieve", Receiver: "stripe.customers", Location: Location{FilePath: "pay.js", StartLine: 3, EndLine: 3}},
		{Callee: "send", Receiver: "sgMail", Location: Location{FilePath: "pay.js", StartLine: 4, EndLine: 4}},
	}
	NewServiceDetector(DefaultServicePatterns()).Detect(rec, calls)

	if len(rec.ServiceCalls) != 4 {
		t.Fatalf("expected 4 calls, got %d", len(rec.ServiceCalls))
	}
	if len(rec.ExternalServices) != 2 {
		t.Fatalf("expected 2 services, got %+v", rec.ExternalServices)
	}
	stripe := rec.ExternalServices[0]
	if stripe.Name != "stripe" || stripe.CallCount != 3 {
		t.Errorf("unexpected stripe aggregate: %+v", stripe)
	}
	if len(stripe.Endpoints) != 2 {
		t.Errorf("expected 2 distinct operations, got %v", stripe.Endpoints)
	}
	if rec.ExternalServices[1].Name != "sgmail" {
		t.Errorf("expected sgmail second, got %q", rec.ExternalServices[1].Name)
	}
}

func TestServiceDetector_CustomPatterns(t *testing.T) {
	patterns := DefaultServicePatterns()
	patterns.ExternalSDKs = append(patterns.ExternalSDKs, "Segment")

	rec := NewFileRecord("a.js", LanguageJavaScript)
	NewServiceDetector(patterns).Detect(rec, []CallExpression{{Callee: "track", Receiver: "segment"}})
	if len(rec.ServiceCalls) != 1 || rec.ServiceCalls[0].Kind != ServiceCallExternalAPI {
		t.Errorf("expected custom sdk match, got %+v", rec.ServiceCalls)
	}
}

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

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ArgumentKind categorizes a call argument for pattern matching.
type ArgumentKind int

const (
	ArgumentOther ArgumentKind = iota
	ArgumentString
	ArgumentTemplate
	ArgumentObject
)

// CallArgument is the pattern-relevant shape of one call argument.
type CallArgument struct {
	Kind ArgumentKind

	// Value is the unquoted string, the template with substitutions
	// replaced by ":param", or the compacted source text for other kinds.
	Value string

	// Properties holds the key/value text of object literal arguments.
	Properties map[string]string
}

// IsLiteral reports whether the argument is a string or template literal.
func (a CallArgument) IsLiteral() bool {
	return a.Kind == ArgumentString || a.Kind == ArgumentTemplate
}

// CallExpression is a call found anywhere in a file, reduced to what the
// ServiceDetector needs.
type CallExpression struct {
	Callee   string
	Receiver string
	Args     []CallArgument
	Location Location
}

// ServicePatterns lists the client names the detector recognizes.
//
// All names are matched case-insensitively against the first segment of
// the call receiver, after a leading "this." is removed.
type ServicePatterns struct {
	// HTTPClients are receivers whose verb methods issue HTTP requests.
	HTTPClients []string `yaml:"http_clients" json:"http_clients"`

	// HTTPFunctions are bare functions that issue HTTP requests.
	HTTPFunctions []string `yaml:"http_functions" json:"http_functions"`

	// DatabaseClients maps a receiver name to the library it implies.
	DatabaseClients map[string]string `yaml:"database_clients" json:"database_clients"`

	// DatabaseOperations are method names treated as queries.
	DatabaseOperations []string `yaml:"database_operations" json:"database_operations"`

	// ExternalSDKs are receivers of third-party API clients.
	ExternalSDKs []string `yaml:"external_sdks" json:"external_sdks"`
}

// DefaultServicePatterns returns the built-in client lists.
func DefaultServicePatterns() ServicePatterns {
	return ServicePatterns{
		HTTPClients:   []string{"axios", "got", "superagent", "request", "http", "https", "ky", "needle", "httpclient", "apiclient", "api"},
		HTTPFunctions: []string{"fetch", "axios", "got", "ky", "request", "superagent"},
		DatabaseClients: map[string]string{
			"prisma":     "prisma",
			"db":         "sql",
			"pool":       "sql",
			"client":     "sql",
			"connection": "sql",
			"conn":       "sql",
			"knex":       "knex",
			"sequelize":  "sequelize",
			"mongoose":   "mongoose",
			"repository": "typeorm",
			"repo":       "typeorm",
			"redis":      "redis",
			"collection": "mongodb",
		},
		DatabaseOperations: []string{
			"query", "execute", "exec", "raw",
			"find", "findone", "findmany", "findunique", "findfirst", "findall", "findbyid", "findbypk",
			"findoneandupdate", "findoneanddelete", "findbyidandupdate", "findbyidanddelete",
			"create", "createmany", "insert", "insertone", "insertmany",
			"update", "updateone", "updatemany", "upsert", "save",
			"delete", "deleteone", "deletemany", "destroy", "remove",
			"count", "aggregate", "groupby",
			"get", "set", "del", "hget", "hset", "lpush", "rpush", "expire",
		},
		ExternalSDKs: []string{"stripe", "twilio", "sendgrid", "sgmail", "s3", "sns", "sqs", "dynamodb", "openai", "anthropic", "slack", "firebase", "mailgun", "paypal"},
	}
}

var httpVerbs = map[string]bool{
	"get": true, "post": true, "put": true, "delete": true, "patch": true, "head": true, "options": true,
}

// builtinGlobals are capitalized receivers that are never data models.
var builtinGlobals = map[string]bool{
	"Object": true, "Array": true, "Promise": true, "JSON": true, "Math": true, "Date": true,
	"String": true, "Number": true, "Boolean": true, "Reflect": true, "Symbol": true, "Map": true,
	"Set": true, "Error": true, "Buffer": true, "Intl": true, "Atomics": true, "URL": true,
	"React": true, "Vue": true,
}

// modelOperations are Mongoose/Sequelize verbs accepted on capitalized
// receivers such as `User.findOne()`.
var modelOperations = map[string]bool{
	"find": true, "findone": true, "findbyid": true, "findall": true, "findbypk": true,
	"findoneandupdate": true, "findoneanddelete": true, "findbyidandupdate": true, "findbyidanddelete": true,
	"create": true, "insertmany": true, "updateone": true, "updatemany": true, "deleteone": true,
	"deletemany": true, "destroy": true, "countdocuments": true, "aggregate": true, "upsert": true,
	"bulkcreate": true,
}

// ServiceDetector turns call expressions into ServiceCalls,
// DatabaseOperations and ExternalServices.
//
// Rules run in order for each call: HTTP, external SDK, database. The
// first matching rule wins.
//
// Thread Safety: Safe for concurrent use after construction.
type ServiceDetector struct {
	httpClients   map[string]bool
	httpFunctions map[string]bool
	dbClients     map[string]string
	dbOperations  map[string]bool
	externalSDKs  map[string]bool
}

// NewServiceDetector builds a detector from patterns.
func NewServiceDetector(p ServicePatterns) *ServiceDetector {
	d := &ServiceDetector{
		httpClients:   lowerSet(p.HTTPClients),
		httpFunctions: lowerSet(p.HTTPFunctions),
		dbClients:     make(map[string]string, len(p.DatabaseClients)),
		dbOperations:  lowerSet(p.DatabaseOperations),
		externalSDKs:  lowerSet(p.ExternalSDKs),
	}
	for k, v := range p.DatabaseClients {
		d.dbClients[strings.ToLower(k)] = v
	}
	return d
}

func lowerSet(values []string) map[string]bool {
	m := make(map[string]bool, len(values))
	for _, v := range values {
		m[strings.ToLower(v)] = true
	}
	return m
}

// Detect appends detected calls to rec in call order.
func (d *ServiceDetector) Detect(rec *FileRecord, calls []CallExpression) {
	for _, call := range calls {
		if sc, ok := d.detectHTTP(call); ok {
			rec.ServiceCalls = append(rec.ServiceCalls, sc)
			if sc.IsExternal {
				addExternalService(rec, sc)
			}
			continue
		}
		if sc, ok := d.detectExternalSDK(call); ok {
			rec.ServiceCalls = append(rec.ServiceCalls, sc)
			addExternalService(rec, sc)
			continue
		}
		if sc, op, ok := d.detectDatabase(call); ok {
			rec.ServiceCalls = append(rec.ServiceCalls, sc)
			rec.DatabaseOperations = append(rec.DatabaseOperations, op)
		}
	}
}

// ServiceCallID returns the deterministic id of a call at loc.
func ServiceCallID(loc Location, kind ServiceCallKind) string {
	return fmt.Sprintf("%s:%d:%d:%s", loc.FilePath, loc.StartLine, loc.StartColumn, kind)
}

// receiverSegments splits "this.prisma.user" into ["prisma", "user"].
func receiverSegments(receiver string) []string {
	receiver = strings.TrimPrefix(receiver, "this.")
	if receiver == "" || receiver == "this" {
		return nil
	}
	return strings.Split(receiver, ".")
}

func (d *ServiceDetector) detectHTTP(call CallExpression) (ServiceCall, bool) {
	callee := strings.ToLower(call.Callee)
	segments := receiverSegments(call.Receiver)

	var service, method string
	var options map[string]string
	endpointArg := -1

	switch {
	case len(segments) == 0 || segments[0] == "window" || segments[0] == "globalThis":
		if !d.httpFunctions[callee] {
			return ServiceCall{}, false
		}
		service = call.Callee
		method = "GET"
		if len(call.Args) > 0 && call.Args[0].Kind == ArgumentObject {
			options = call.Args[0].Properties
		} else {
			endpointArg = 0
			if len(call.Args) > 1 && call.Args[1].Kind == ArgumentObject {
				options = call.Args[1].Properties
			}
		}

	case d.httpClients[strings.ToLower(segments[0])]:
		service = segments[0]
		switch {
		case httpVerbs[callee]:
			method = strings.ToUpper(callee)
		case callee == "request" || callee == "fetch":
			method = "GET"
		default:
			return ServiceCall{}, false
		}
		if len(call.Args) > 0 && call.Args[0].Kind == ArgumentObject {
			options = call.Args[0].Properties
		} else {
			endpointArg = 0
			if callee == "request" && len(call.Args) > 1 && call.Args[1].Kind == ArgumentObject {
				options = call.Args[1].Properties
			}
		}

	default:
		return ServiceCall{}, false
	}

	sc := ServiceCall{
		Kind:     ServiceCallHTTPRequest,
		Service:  service,
		Method:   method,
		Location: call.Location,
		Metadata: map[string]string{"client": service},
	}
	if m := options["method"]; m != "" {
		sc.Method = strings.ToUpper(strings.Trim(m, `"'`))
	}
	if endpointArg >= 0 && endpointArg < len(call.Args) {
		arg := call.Args[endpointArg]
		if arg.IsLiteral() {
			sc.Endpoint = arg.Value
		} else if arg.Value != "" {
			sc.Metadata["endpoint_expr"] = arg.Value
		}
	}
	if sc.Endpoint == "" {
		if u := options["url"]; u != "" {
			sc.Endpoint = u
		} else if u := options["path"]; u != "" {
			sc.Endpoint = u
		}
	}

	if host, ok := externalHost(sc.Endpoint); ok {
		sc.IsExternal = true
		sc.Service = host
		sc.Metadata["host"] = host
	}
	sc.ID = ServiceCallID(sc.Location, sc.Kind)
	return sc, true
}

// externalHost returns the host of an absolute http(s) URL that is not a
// loopback or single-label host.
func externalHost(endpoint string) (string, bool) {
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		return "", false
	}
	u, err := url.Parse(endpoint)
	if err != nil || u.Hostname() == "" {
		return "", false
	}
	host := u.Hostname()
	if host == "localhost" || !strings.Contains(host, ".") {
		return "", false
	}
	if ip := net.ParseIP(host); ip != nil && ip.IsLoopback() {
		return "", false
	}
	return host, true
}

func (d *ServiceDetector) detectExternalSDK(call CallExpression) (ServiceCall, bool) {
	segments := receiverSegments(call.Receiver)
	if len(segments) == 0 || !d.externalSDKs[strings.ToLower(segments[0])] {
		return ServiceCall{}, false
	}

	op := strings.Join(append(segments[1:], call.Callee), ".")
	sc := ServiceCall{
		Kind:       ServiceCallExternalAPI,
		Service:    strings.ToLower(segments[0]),
		Operation:  op,
		Location:   call.Location,
		IsExternal: true,
		Metadata:   map[string]string{"sdk": segments[0]},
	}
	sc.ID = ServiceCallID(sc.Location, sc.Kind)
	return sc, true
}

func (d *ServiceDetector) detectDatabase(call CallExpression) (ServiceCall, DatabaseOperation, bool) {
	callee := strings.ToLower(call.Callee)
	segments := receiverSegments(call.Receiver)

	var library, target string

	switch {
	// knex('users') as a bare call names the table.
	case len(segments) == 0 && callee == "knex":
		if len(call.Args) == 0 || !call.Args[0].IsLiteral() {
			return ServiceCall{}, DatabaseOperation{}, false
		}
		library, target = "knex", call.Args[0].Value

	case len(segments) == 0:
		return ServiceCall{}, DatabaseOperation{}, false

	case callee == "where" || callee == "select":
		return ServiceCall{}, DatabaseOperation{}, false

	case d.databaseLibrary(segments[0]) != "":
		if !d.dbOperations[callee] {
			return ServiceCall{}, DatabaseOperation{}, false
		}
		library = d.databaseLibrary(segments[0])
		switch {
		case len(segments) > 1:
			target = segments[1]
		case library == "knex" || library == "sql":
			target = firstWordAfter(call.Args, "from", "into", "update")
		}

	case len(segments) == 1 && isModelName(segments[0]):
		if !modelOperations[callee] {
			return ServiceCall{}, DatabaseOperation{}, false
		}
		library, target = "model", segments[0]

	default:
		return ServiceCall{}, DatabaseOperation{}, false
	}

	sc := ServiceCall{
		Kind:      ServiceCallDatabaseQuery,
		Service:   library,
		Operation: call.Callee,
		Location:  call.Location,
		Metadata:  map[string]string{"library": library},
	}
	if target != "" {
		sc.Metadata["target"] = target
	}
	sc.ID = ServiceCallID(sc.Location, sc.Kind)

	op := DatabaseOperation{
		ID:        sc.ID,
		Operation: call.Callee,
		Target:    target,
		Library:   library,
		Location:  call.Location,
	}
	return sc, op, true
}

// dbSuffixes lets "userRepository" or "ordersCollection" match their
// generic client name.
var dbSuffixes = []string{"repository", "repo", "collection", "pool"}

// databaseLibrary returns the library implied by a receiver, or "".
func (d *ServiceDetector) databaseLibrary(receiver string) string {
	lower := strings.ToLower(receiver)
	if lib := d.dbClients[lower]; lib != "" {
		return lib
	}
	for _, suffix := range dbSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return d.dbClients[suffix]
		}
	}
	return ""
}

func isModelName(s string) bool {
	if s == "" || builtinGlobals[s] {
		return false
	}
	return s[0] >= 'A' && s[0] <= 'Z'
}

// firstWordAfter finds the table name following one of keywords in the
// first literal argument, e.g. "SELECT * FROM users" yields "users".
func firstWordAfter(args []CallArgument, keywords ...string) string {
	if len(args) == 0 || !args[0].IsLiteral() {
		return ""
	}
	words := strings.Fields(args[0].Value)
	for i := 0; i < len(words)-1; i++ {
		for _, kw := range keywords {
			if strings.EqualFold(words[i], kw) {
				return strings.Trim(words[i+1], "`\"();,")
			}
		}
	}
	return ""
}

// addExternalService aggregates sc into rec.ExternalServices by name.
func addExternalService(rec *FileRecord, sc ServiceCall) {
	endpoint := sc.Endpoint
	if endpoint == "" {
		endpoint = sc.Operation
	}
	for i := range rec.ExternalServices {
		es := &rec.ExternalServices[i]
		if es.Name != sc.Service {
			continue
		}
		es.CallCount++
		if endpoint != "" && !containsString(es.Endpoints, endpoint) {
			es.Endpoints = append(es.Endpoints, endpoint)
		}
		return
	}
	es := ExternalService{Name: sc.Service, Kind: sc.Kind, CallCount: 1}
	if endpoint != "" {
		es.Endpoints = []string{endpoint}
	}
	rec.ExternalServices = append(rec.ExternalServices, es)
}

func containsString(values []string, s string) bool {
	for _, v := range values {
		if v == s {
			return true
		}
	}
	return false
}

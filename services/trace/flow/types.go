// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package flow traces end-to-end execution flows through a dependency graph.
//
// A flow starts at a detected entry point (an HTTP-style handler), follows
// service calls nested inside each function and call edges out of it, and
// ends at terminal steps such as database operations or external API
// calls. Entry point detection is pluggable through FrameworkDetector.
//
// # Thread Safety
//
// Tracer is safe for concurrent use. Every traversal owns its visited set
// and step list; the records and graph it reads are never modified.
package flow

import (
	"encoding/json"
	"fmt"

	"github.com/AleutianAI/flowtrace/services/trace/ast"
)

// StepKind categorizes a flow step.
type StepKind string

const (
	StepKindHTTPEndpoint      StepKind = "http_endpoint"
	StepKindFunctionCall      StepKind = "function_call"
	StepKindServiceCall       StepKind = "service_call"
	StepKindDatabaseOperation StepKind = "database_operation"
	StepKindExternalAPICall   StepKind = "external_api_call"
	StepKindHandler           StepKind = "handler"
)

// expandable reports whether steps of this kind are function bodies that
// can contain service calls and make further calls.
func (k StepKind) expandable() bool {
	switch k {
	case StepKindHTTPEndpoint, StepKindHandler, StepKindFunctionCall:
		return true
	default:
		return false
	}
}

// FlowKind categorizes a whole flow.
type FlowKind string

const (
	FlowKindHTTPToDatabase    FlowKind = "http_to_database"
	FlowKindFrontendToBackend FlowKind = "frontend_to_backend"
	FlowKindServiceToService  FlowKind = "service_to_service"
	FlowKindFunctionChain     FlowKind = "function_chain"
	FlowKindDataFlow          FlowKind = "data_flow"
)

// StepDetail carries the kind-specific fields of a step.
//
// The set of implementations is closed: HTTPDetail, HandlerDetail,
// CallDetail, ServiceDetail, DatabaseDetail and ExternalDetail.
type StepDetail interface {
	// DetailKind names the detail type in JSON.
	DetailKind() string

	isStepDetail()
}

// HTTPDetail describes an HTTP entry point.
type HTTPDetail struct {
	Method    string `json:"method"`
	Route     string `json:"route"`
	Framework string `json:"framework,omitempty"`
}

// HandlerDetail describes a handler reached from a service call.
type HandlerDetail struct {
	Method     string `json:"method"`
	Route      string `json:"route"`
	Controller string `json:"controller,omitempty"`
}

// CallDetail describes a function reached through a call edge.
type CallDetail struct {
	ClassName  string `json:"class_name,omitempty"`
	IsAsync    bool   `json:"is_async,omitempty"`
	Complexity int    `json:"complexity"`
}

// ServiceDetail describes an internal HTTP request to another service.
type ServiceDetail struct {
	Service  string `json:"service"`
	Method   string `json:"method,omitempty"`
	Endpoint string `json:"endpoint,omitempty"`
}

// DatabaseDetail describes a database query.
type DatabaseDetail struct {
	Library   string `json:"library"`
	Operation string `json:"operation"`
	Target    string `json:"target,omitempty"`
}

// ExternalDetail describes a call leaving the system.
type ExternalDetail struct {
	Service  string `json:"service"`
	Endpoint string `json:"endpoint,omitempty"`
}

func (HTTPDetail) DetailKind() string     { return "http" }
func (HandlerDetail) DetailKind() string  { return "handler" }
func (CallDetail) DetailKind() string     { return "call" }
func (ServiceDetail) DetailKind() string  { return "service" }
func (DatabaseDetail) DetailKind() string { return "database" }
func (ExternalDetail) DetailKind() string { return "external" }

func (HTTPDetail) isStepDetail()     {}
func (HandlerDetail) isStepDetail()  {}
func (CallDetail) isStepDetail()     {}
func (ServiceDetail) isStepDetail()  {}
func (DatabaseDetail) isStepDetail() {}
func (ExternalDetail) isStepDetail() {}

// decodeDetail reverses DetailKind for JSON decoding.
func decodeDetail(kind string, raw json.RawMessage) (StepDetail, error) {
	var (
		d   StepDetail
		err error
	)
	switch kind {
	case "":
		return nil, nil
	case "http":
		var v HTTPDetail
		err = json.Unmarshal(raw, &v)
		d = v
	case "handler":
		var v HandlerDetail
		err = json.Unmarshal(raw, &v)
		d = v
	case "call":
		var v CallDetail
		err = json.Unmarshal(raw, &v)
		d = v
	case "service":
		var v ServiceDetail
		err = json.Unmarshal(raw, &v)
		d = v
	case "database":
		var v DatabaseDetail
		err = json.Unmarshal(raw, &v)
		d = v
	case "external":
		var v ExternalDetail
		err = json.Unmarshal(raw, &v)
		d = v
	default:
		return nil, fmt.Errorf("unknown step detail kind %q", kind)
	}
	if err != nil {
		return nil, fmt.Errorf("decoding %s detail: %w", kind, err)
	}
	return d, nil
}

// FlowStep is one hop in a flow.
//
// NextSteps and PreviousSteps hold step ids, never pointers, so a flow
// serializes as a plain tree of values even when the traced calls loop.
type FlowStep struct {
	ID       string       `json:"id"`
	Kind     StepKind     `json:"kind"`
	Name     string       `json:"name"`
	FilePath string       `json:"file_path"`
	Location ast.Location `json:"location"`

	// ServiceCall is set for service, database and external steps.
	ServiceCall *ast.ServiceCall `json:"service_call,omitempty"`

	// FunctionRef is the dependency graph node id for function-like steps.
	FunctionRef string `json:"function_ref,omitempty"`

	NextSteps     []string `json:"next_steps"`
	PreviousSteps []string `json:"previous_steps"`

	Detail StepDetail `json:"-"`
}

type flowStepJSON struct {
	flowStepAlias
	DetailKind string          `json:"detail_kind,omitempty"`
	Detail     json.RawMessage `json:"detail,omitempty"`
}

type flowStepAlias FlowStep

// MarshalJSON encodes Detail with a detail_kind discriminator.
func (s FlowStep) MarshalJSON() ([]byte, error) {
	out := flowStepJSON{flowStepAlias: flowStepAlias(s)}
	if s.Detail != nil {
		raw, err := json.Marshal(s.Detail)
		if err != nil {
			return nil, err
		}
		out.DetailKind = s.Detail.DetailKind()
		out.Detail = raw
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes a step and its detail.
func (s *FlowStep) UnmarshalJSON(data []byte) error {
	var in flowStepJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	detail, err := decodeDetail(in.DetailKind, in.Detail)
	if err != nil {
		return err
	}
	*s = FlowStep(in.flowStepAlias)
	s.Detail = detail
	return nil
}

// FlowMetadata summarizes a flow.
type FlowMetadata struct {
	TotalSteps int `json:"total_steps"`

	// MaxDepth is ceil(TotalSteps / 2). It approximates depth; it is not
	// the longest path.
	MaxDepth int `json:"max_depth"`

	HasExternalCalls      bool `json:"has_external_calls"`
	HasDatabaseOperations bool `json:"has_database_operations"`

	// Complexity is TotalSteps plus the number of step links.
	Complexity int `json:"complexity"`

	// DepthLimited is true when traversal stopped at the depth limit.
	DepthLimited bool `json:"depth_limited,omitempty"`
}

// EndToEndFlow is a traced path from an entry point to its terminal steps.
type EndToEndFlow struct {
	ID   string   `json:"id"`
	Name string   `json:"name"`
	Kind FlowKind `json:"kind"`

	Steps []*FlowStep `json:"steps"`

	// EntryPoint is Steps[0].
	EntryPoint *FlowStep `json:"entry_point"`

	// ExitPoints are the steps with no NextSteps, in step order.
	ExitPoints []*FlowStep `json:"exit_points"`

	Metadata FlowMetadata `json:"metadata"`
}

// Step returns the step with the given id.
func (f *EndToEndFlow) Step(id string) (*FlowStep, bool) {
	for _, s := range f.Steps {
		if s.ID == id {
			return s, true
		}
	}
	return nil, false
}

type flowAlias EndToEndFlow

// UnmarshalJSON decodes a flow and points EntryPoint and ExitPoints back
// at the matching entries of Steps.
func (f *EndToEndFlow) UnmarshalJSON(data []byte) error {
	var in flowAlias
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*f = EndToEndFlow(in)
	if f.EntryPoint != nil {
		if s, ok := f.Step(f.EntryPoint.ID); ok {
			f.EntryPoint = s
		}
	}
	for i, exit := range f.ExitPoints {
		if s, ok := f.Step(exit.ID); ok {
			f.ExitPoints[i] = s
		}
	}
	return nil
}

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
	"context"

	"github.com/AleutianAI/flowtrace/services/trace/graph"
	"github.com/AleutianAI/flowtrace/services/trace/index"
)

// DefaultSearchLimit caps search hits when the request sets no limit.
const DefaultSearchLimit = 50

// SearchRequest looks up graph nodes by name.
type SearchRequest struct {
	ProjectRoot string `json:"project_root" binding:"required"`
	Query       string `json:"query" binding:"required"`

	// Kinds restricts hits, e.g. ["function", "class"].
	Kinds []graph.NodeKind `json:"kinds,omitempty"`

	Limit int `json:"limit,omitempty" binding:"omitempty,min=0,max=1000"`

	// ProductionOnly drops nodes in test, script and excluded files.
	ProductionOnly bool `json:"production_only,omitempty"`
}

// SearchResponse is the body of POST /v1/trace/search.
type SearchResponse struct {
	Query   string        `json:"query"`
	Matches []index.Match `json:"matches"`
	Total   int           `json:"total"`
}

// Search analyzes the project and ranks its nodes against req.Query.
//
// Repeated searches over an unchanged project reuse cached parse records,
// so only the build and trace steps run again.
//
// Outputs:
//
//	*SearchResponse - Ranked hits, best first.
//	error - ErrEmptyQuery, or any error Analyze returns.
func (s *Service) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	if req.Query == "" {
		return nil, ErrEmptyQuery
	}
	result, err := s.Analyze(ctx, AnalyzeRequest{ProjectRoot: req.ProjectRoot})
	if err != nil {
		return nil, err
	}

	limit := req.Limit
	if limit == 0 {
		limit = DefaultSearchLimit
	}
	opts := index.SearchOptions{Kinds: req.Kinds, Limit: limit}
	if req.ProductionOnly {
		opts.FileFilter = result.IsProduction
	}

	matches, err := index.NewNodeIndex(result.Graph).Search(ctx, req.Query, opts)
	if err != nil {
		return nil, err
	}
	if matches == nil {
		matches = []index.Match{}
	}
	return &SearchResponse{Query: req.Query, Matches: matches, Total: len(matches)}, nil
}

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
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers all /v1/trace routes with the router group.
//
// Description:
//
//	The analysis endpoints sit behind limiter when it is non-nil; health
//	and snapshot reads are never limited.
//
// Endpoints:
//
//	POST   /v1/trace/analyze              - Analyze a project directory
//	POST   /v1/trace/records              - Build and trace supplied records
//	POST   /v1/trace/search               - Find graph nodes by name
//	POST   /v1/trace/path                 - Shortest path between two nodes
//	POST   /v1/trace/symbol               - Callers, callees and flows of a node
//	GET    /v1/trace/snapshots            - List snapshots
//	GET    /v1/trace/snapshots/latest     - Latest snapshot for a project
//	GET    /v1/trace/snapshots/diff       - Compare two snapshots
//	GET    /v1/trace/snapshots/:id        - Load a snapshot
//	DELETE /v1/trace/snapshots/:id        - Delete a snapshot
//	GET    /v1/trace/health               - Health check
//	GET    /v1/trace/ready                - Readiness check
//
// Example:
//
//	svc, _ := trace.NewService(cfg)
//	v1 := router.Group("/v1")
//	trace.RegisterRoutes(v1, trace.NewHandlers(svc), trace.NewClientRateLimiter(5, 10))
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers, limiter *ClientRateLimiter) {
	trace := rg.Group("/trace")
	{
		analysis := trace.Group("")
		if limiter != nil {
			analysis.Use(limiter.Middleware())
		}
		analysis.POST("/analyze", handlers.HandleAnalyze)
		analysis.POST("/records", handlers.HandleRecords)
		analysis.POST("/search", handlers.HandleSearch)
		analysis.POST("/path", handlers.HandlePath)
		analysis.POST("/symbol", handlers.HandleSymbol)

		// Static segments before the :id wildcard.
		trace.GET("/snapshots", handlers.HandleListSnapshots)
		trace.GET("/snapshots/latest", handlers.HandleLatestSnapshot)
		trace.GET("/snapshots/diff", handlers.HandleDiffSnapshots)
		trace.GET("/snapshots/:id", handlers.HandleLoadSnapshot)
		trace.DELETE("/snapshots/:id", handlers.HandleDeleteSnapshot)

		trace.GET("/health", handlers.HandleHealth)
		trace.GET("/ready", handlers.HandleReady)
	}
}

// NewRouter builds a gin engine with recovery, the given middleware, and
// every trace route under /v1.
func NewRouter(svc *Service, middleware ...gin.HandlerFunc) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware...)

	srv := svc.Config().Server
	v1 := router.Group("/v1")
	RegisterRoutes(v1, NewHandlers(svc), NewClientRateLimiter(srv.RequestsPerSecond, srv.Burst))
	return router
}

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
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/flowtrace/services/trace/config"
	"github.com/AleutianAI/flowtrace/services/trace/snapshot"
)

// Handlers serves the trace HTTP API.
type Handlers struct {
	svc *Service
}

// NewHandlers creates handlers for the given service.
func NewHandlers(svc *Service) *Handlers {
	return &Handlers{svc: svc}
}

// getOrCreateRequestID echoes X-Request-ID or generates one.
func getOrCreateRequestID(c *gin.Context) string {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	return requestID
}

// analysisError maps an Analyze error to a status and code.
func analysisError(err error) (int, string) {
	switch {
	case errors.Is(err, ErrRelativeRoot):
		return http.StatusBadRequest, "INVALID_PATH"
	case errors.Is(err, ErrProjectNotFound):
		return http.StatusNotFound, "PROJECT_NOT_FOUND"
	case errors.Is(err, ErrNotDirectory):
		return http.StatusBadRequest, "NOT_A_DIRECTORY"
	case errors.Is(err, ErrEmptyQuery):
		return http.StatusBadRequest, "INVALID_REQUEST"
	case errors.Is(err, ErrSymbolNotFound):
		return http.StatusNotFound, "SYMBOL_NOT_FOUND"
	case errors.Is(err, config.ErrInvalidConfig), errors.Is(err, config.ErrConfigTooLarge):
		return http.StatusUnprocessableEntity, "INVALID_PROJECT_CONFIG"
	case errors.Is(err, ErrTooManyRecords):
		return http.StatusRequestEntityTooLarge, "TOO_MANY_RECORDS"
	case errors.Is(err, ErrSnapshotsDisabled):
		return http.StatusServiceUnavailable, "SNAPSHOTS_NOT_AVAILABLE"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "ANALYSIS_TIMEOUT"
	case errors.Is(err, context.Canceled):
		return 499, "CLIENT_CLOSED_REQUEST"
	default:
		return http.StatusInternalServerError, "ANALYSIS_FAILED"
	}
}

// respondResult writes the full result, or its summary for view=summary.
func respondResult(c *gin.Context, result *AnalysisResult) {
	if c.Query("view") == "summary" {
		c.JSON(http.StatusOK, result.Summary())
		return
	}
	c.JSON(http.StatusOK, result)
}

// HandleAnalyze handles POST /v1/trace/analyze.
//
// Description:
//
//	Walks, parses, builds and traces the project on the server's file
//	system.
//
// Request Body:
//
//	AnalyzeRequest
//
// Query Parameters:
//
//	view: "summary" returns AnalysisSummary instead of the full result
//
// Response:
//
//	200 OK: AnalysisResult or AnalysisSummary
//	400 Bad Request: Invalid body or project root
//	404 Not Found: Project root does not exist
//	422 Unprocessable Entity: Invalid flowtrace.config.yaml
//	503 Service Unavailable: save_snapshot without a snapshot store
func (h *Handlers) HandleAnalyze(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleAnalyze")

	var req AnalyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid request body",
			Code:    "INVALID_REQUEST",
			Details: err.Error(),
		})
		return
	}

	result, err := h.svc.Analyze(c.Request.Context(), req)
	if err != nil {
		status, code := analysisError(err)
		logger.Error("analysis failed", slog.String("project_root", req.ProjectRoot), slog.String("error", err.Error()))
		c.JSON(status, ErrorResponse{Error: err.Error(), Code: code})
		return
	}

	logger.Info("analysis served",
		slog.String("project_root", result.ProjectRoot),
		slog.Int("flows", len(result.Flows)),
		slog.Int64("duration_ms", result.DurationMilli),
	)
	respondResult(c, result)
}

// HandleRecords handles POST /v1/trace/records.
//
// Description:
//
//	Runs graph building and flow tracing over records produced by an
//	external extractor.
//
// Response:
//
//	200 OK: AnalysisResult or AnalysisSummary
//	400 Bad Request: Invalid body
//	413 Request Entity Too Large: More than server.max_records records
func (h *Handlers) HandleRecords(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleRecords")

	var req RecordsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid request body",
			Code:    "INVALID_REQUEST",
			Details: err.Error(),
		})
		return
	}

	result, err := h.svc.AnalyzeRecords(c.Request.Context(), req.ProjectRoot, req.Records)
	if err != nil {
		status, code := analysisError(err)
		logger.Warn("records rejected", slog.String("error", err.Error()))
		c.JSON(status, ErrorResponse{Error: err.Error(), Code: code})
		return
	}

	logger.Info("records analyzed",
		slog.Int("records", len(req.Records)),
		slog.Int("file_errors", len(result.FileErrors)),
		slog.Int("flows", len(result.Flows)),
	)
	respondResult(c, result)
}

// HandleSearch handles POST /v1/trace/search.
//
// Request Body:
//
//	SearchRequest
//
// Response:
//
//	200 OK: SearchResponse
//	400 Bad Request: Missing project_root or query
//	404 Not Found: Project directory does not exist
func (h *Handlers) HandleSearch(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleSearch")

	var req SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid request body",
			Code:    "INVALID_REQUEST",
			Details: err.Error(),
		})
		return
	}

	resp, err := h.svc.Search(c.Request.Context(), req)
	if err != nil {
		status, code := analysisError(err)
		logger.Error("search failed", slog.String("project_root", req.ProjectRoot), slog.String("error", err.Error()))
		c.JSON(status, ErrorResponse{Error: err.Error(), Code: code})
		return
	}
	c.JSON(http.StatusOK, resp)
}

// HandlePath handles POST /v1/trace/path.
//
// Response:
//
//	200 OK: graph.PathResult (found=false when unreachable)
//	400 Bad Request: Invalid body
//	404 Not Found: Unknown project or symbol
func (h *Handlers) HandlePath(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandlePath")

	var req PathRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid request body",
			Code:    "INVALID_REQUEST",
			Details: err.Error(),
		})
		return
	}

	result, err := h.svc.Path(c.Request.Context(), req)
	if err != nil {
		status, code := analysisError(err)
		logger.Warn("path query failed",
			slog.String("from", req.From),
			slog.String("to", req.To),
			slog.String("error", err.Error()),
		)
		c.JSON(status, ErrorResponse{Error: err.Error(), Code: code})
		return
	}
	c.JSON(http.StatusOK, result)
}

// HandleSymbol handles POST /v1/trace/symbol.
func (h *Handlers) HandleSymbol(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleSymbol")

	var req SymbolRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid request body",
			Code:    "INVALID_REQUEST",
			Details: err.Error(),
		})
		return
	}

	resp, err := h.svc.Symbol(c.Request.Context(), req)
	if err != nil {
		status, code := analysisError(err)
		logger.Warn("symbol query failed", slog.String("symbol", req.Symbol), slog.String("error", err.Error()))
		c.JSON(status, ErrorResponse{Error: err.Error(), Code: code})
		return
	}
	c.JSON(http.StatusOK, resp)
}

// HandleHealth handles GET /v1/trace/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:  "healthy",
		Version: ServiceVersion,
	})
}

// HandleReady handles GET /v1/trace/ready.
func (h *Handlers) HandleReady(c *gin.Context) {
	c.JSON(http.StatusOK, ReadyResponse{
		Ready:       true,
		Snapshots:   h.svc.Snapshots() != nil,
		Analyses:    h.svc.Analyses(),
		UptimeMilli: h.svc.Uptime().Milliseconds(),
	})
}

// snapshotsOrAbort returns the snapshot manager or writes 503.
func (h *Handlers) snapshotsOrAbort(c *gin.Context) *snapshot.Manager {
	mgr := h.svc.Snapshots()
	if mgr == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error: ErrSnapshotsDisabled.Error(),
			Code:  "SNAPSHOTS_NOT_AVAILABLE",
		})
	}
	return mgr
}

// HandleListSnapshots handles GET /v1/trace/snapshots.
//
// Query Parameters:
//
//	project_root: Optional filter by project root path
//	limit: Maximum results, default 100
//
// Response:
//
//	200 OK: ListSnapshotsResponse
//	503 Service Unavailable: Snapshot store not configured
func (h *Handlers) HandleListSnapshots(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleListSnapshots")

	mgr := h.snapshotsOrAbort(c)
	if mgr == nil {
		return
	}

	limit := 100
	if limitStr := c.Query("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	snapshots, err := mgr.List(c.Request.Context(), c.Query("project_root"), limit)
	if err != nil {
		logger.Error("failed to list snapshots", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: "failed to list snapshots: " + err.Error(),
			Code:  "SNAPSHOT_LIST_FAILED",
		})
		return
	}
	if snapshots == nil {
		snapshots = []*snapshot.Metadata{}
	}
	c.JSON(http.StatusOK, ListSnapshotsResponse{Snapshots: snapshots})
}

// HandleLoadSnapshot handles GET /v1/trace/snapshots/:id.
//
// Query Parameters:
//
//	full: "true" includes the graph and flows
//
// Response:
//
//	200 OK: SnapshotResponse
//	404 Not Found: Snapshot not found
//	503 Service Unavailable: Snapshot store not configured
func (h *Handlers) HandleLoadSnapshot(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleLoadSnapshot")

	mgr := h.snapshotsOrAbort(c)
	if mgr == nil {
		return
	}

	snapshotID := c.Param("id")
	snap, err := mgr.Load(c.Request.Context(), snapshotID)
	if err != nil {
		h.snapshotError(c, logger, snapshotID, err)
		return
	}

	resp := SnapshotResponse{Metadata: snap.Metadata}
	if c.Query("full") == "true" {
		resp.Graph = snap.Graph
		resp.Flows = snap.Flows
	}
	c.JSON(http.StatusOK, resp)
}

// HandleLatestSnapshot handles GET /v1/trace/snapshots/latest.
//
// Query Parameters:
//
//	project_root: Project root path (required)
//	full: "true" includes the graph and flows
func (h *Handlers) HandleLatestSnapshot(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleLatestSnapshot")

	mgr := h.snapshotsOrAbort(c)
	if mgr == nil {
		return
	}

	projectRoot := c.Query("project_root")
	if projectRoot == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "project_root parameter is required",
			Code:  "MISSING_PARAMETER",
		})
		return
	}

	snap, err := mgr.LoadLatest(c.Request.Context(), projectRoot)
	if err != nil {
		h.snapshotError(c, logger, projectRoot, err)
		return
	}
	resp := SnapshotResponse{Metadata: snap.Metadata}
	if c.Query("full") == "true" {
		resp.Graph = snap.Graph
		resp.Flows = snap.Flows
	}
	c.JSON(http.StatusOK, resp)
}

// HandleDeleteSnapshot handles DELETE /v1/trace/snapshots/:id.
//
// Response:
//
//	200 OK: {"deleted": true}
//	404 Not Found: Snapshot not found
func (h *Handlers) HandleDeleteSnapshot(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleDeleteSnapshot")

	mgr := h.snapshotsOrAbort(c)
	if mgr == nil {
		return
	}

	snapshotID := c.Param("id")
	if err := mgr.Delete(c.Request.Context(), snapshotID); err != nil {
		h.snapshotError(c, logger, snapshotID, err)
		return
	}
	logger.Info("snapshot deleted", slog.String("snapshot_id", snapshotID))
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

// HandleDiffSnapshots handles GET /v1/trace/snapshots/diff.
//
// Query Parameters:
//
//	base: Base snapshot ID (required)
//	target: Target snapshot ID (required)
//
// Response:
//
//	200 OK: snapshot.Diff
//	400 Bad Request: Missing parameter
//	404 Not Found: Either snapshot not found
func (h *Handlers) HandleDiffSnapshots(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleDiffSnapshots")

	mgr := h.snapshotsOrAbort(c)
	if mgr == nil {
		return
	}

	baseID, targetID := c.Query("base"), c.Query("target")
	if baseID == "" || targetID == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "base and target parameters are required",
			Code:  "MISSING_PARAMETER",
		})
		return
	}

	diff, err := mgr.Diff(c.Request.Context(), baseID, targetID)
	if err != nil {
		h.snapshotError(c, logger, baseID+".."+targetID, err)
		return
	}
	logger.Info("snapshots diffed",
		slog.String("base", baseID),
		slog.String("target", targetID),
		slog.Int("total_changes", diff.Graph.Summary.TotalChanges),
	)
	c.JSON(http.StatusOK, diff)
}

func (h *Handlers) snapshotError(c *gin.Context, logger *slog.Logger, ref string, err error) {
	if errors.Is(err, snapshot.ErrNotFound) {
		logger.Warn("snapshot not found", slog.String("ref", ref))
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: err.Error(),
			Code:  "SNAPSHOT_NOT_FOUND",
		})
		return
	}
	logger.Error("snapshot operation failed", slog.String("ref", ref), slog.String("error", err.Error()))
	c.JSON(http.StatusInternalServerError, ErrorResponse{
		Error: err.Error(),
		Code:  "SNAPSHOT_FAILED",
	})
}

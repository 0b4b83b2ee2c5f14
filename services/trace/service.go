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
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/flowtrace/services/trace/ast"
	"github.com/AleutianAI/flowtrace/services/trace/config"
	"github.com/AleutianAI/flowtrace/services/trace/flow"
	"github.com/AleutianAI/flowtrace/services/trace/graph"
	"github.com/AleutianAI/flowtrace/services/trace/snapshot"
)

var serviceTracer = otel.Tracer("flowtrace.service")

// AnalyzeRequest selects a project to analyze.
type AnalyzeRequest struct {
	// ProjectRoot is the absolute path of the project directory.
	ProjectRoot string `json:"project_root" binding:"required"`

	// ExcludePatterns are extra path.Match patterns tested against each
	// project-relative path and its base name. A pattern ending in "/"
	// is a path prefix.
	ExcludePatterns []string `json:"exclude_patterns,omitempty"`

	// SaveSnapshot stores the result when a snapshot store is configured.
	SaveSnapshot bool   `json:"save_snapshot,omitempty"`
	Label        string `json:"label,omitempty"`
}

// ParseError records a file that could not be parsed at all.
type ParseError struct {
	FilePath string `json:"file_path"`
	Error    string `json:"error"`
}

// AnalysisResult is the outcome of one analysis.
type AnalysisResult struct {
	ProjectRoot string `json:"project_root"`

	Graph *graph.DependencyGraph `json:"graph"`
	Flows []*flow.EndToEndFlow   `json:"flows"`

	Stats          graph.BuildStats              `json:"stats"`
	Classification graph.FileClassificationStats `json:"classification"`
	External       []graph.ExternalDependency    `json:"external,omitempty"`
	FileErrors     []graph.FileError             `json:"file_errors,omitempty"`
	ParseErrors    []ParseError                  `json:"parse_errors,omitempty"`

	// Incomplete is true when the build stopped early.
	Incomplete bool `json:"incomplete,omitempty"`

	// FilesParsed counts records fed to the builder; CacheHits counts
	// those reused from earlier runs.
	FilesParsed int `json:"files_parsed"`
	CacheHits   int `json:"cache_hits"`

	Snapshot *snapshot.Metadata `json:"snapshot,omitempty"`

	DurationMilli int64 `json:"duration_milli"`

	classes *graph.FileClassification
}

// IsProduction reports whether filePath was classified as production
// code in this analysis.
func (r *AnalysisResult) IsProduction(filePath string) bool {
	if r.classes == nil {
		return true
	}
	return r.classes.IsProduction(filePath)
}

// ServiceOption is a functional option for Service.
type ServiceOption func(*Service)

// WithSnapshotManager enables snapshot persistence.
func WithSnapshotManager(m *snapshot.Manager) ServiceOption {
	return func(s *Service) {
		s.snapshots = m
	}
}

// WithServiceLogger sets the service logger.
func WithServiceLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = logger
	}
}

// Service runs analyses.
//
// Description:
//
//	Analyze walks a project directory, parses supported files in parallel,
//	builds the dependency graph, classifies files, and traces flows.
//	Parsed records are cached by path and content hash, so re-analyzing
//	an unchanged project skips parsing. AnalyzeRecords runs the same
//	pipeline over caller-supplied records.
//
// Thread Safety: Safe for concurrent use.
type Service struct {
	cfg       *config.Config
	registry  *ast.Registry
	cache     *lru.Cache[string, *ast.FileRecord]
	snapshots *snapshot.Manager
	logger    *slog.Logger
	startedAt time.Time

	mu       sync.RWMutex
	analyses int
}

// NewService creates a Service from a loaded config.
//
// Outputs:
//
//	*Service - The service.
//	error - Non-nil if cfg is nil or the record cache cannot be created.
func NewService(cfg *config.Config, opts ...ServiceOption) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("config must not be nil")
	}
	s := &Service{
		cfg:       cfg,
		registry:  ast.NewRegistry(ast.NewEcmaScriptParser(cfg.ParserOptions()...)),
		startedAt: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With(slog.String("component", "trace_service"))

	if cfg.Analysis.RecordCacheSize > 0 {
		cache, err := lru.New[string, *ast.FileRecord](cfg.Analysis.RecordCacheSize)
		if err != nil {
			return nil, fmt.Errorf("creating record cache: %w", err)
		}
		s.cache = cache
	}
	return s, nil
}

// Config returns the service configuration.
func (s *Service) Config() *config.Config {
	return s.cfg
}

// Supports reports whether rel names a file Analyze would parse.
func (s *Service) Supports(rel string) bool {
	return s.registry.Supports(rel)
}

// Snapshots returns the snapshot manager, or nil when persistence is off.
func (s *Service) Snapshots() *snapshot.Manager {
	return s.snapshots
}

// Analyze analyzes the project at req.ProjectRoot.
//
// Description:
//
//	Per-project overrides from flowtrace.config.yaml are applied before
//	walking. Files that fail to parse are reported in ParseErrors and
//	skipped; they never fail the analysis.
//
// Inputs:
//
//	ctx - Context for cancellation.
//	req - The project to analyze. ProjectRoot must be an absolute directory.
//
// Outputs:
//
//	*AnalysisResult - The result.
//	error - ErrRelativeRoot, ErrProjectNotFound, ErrNotDirectory, a project
//	        config error, or ctx.Err() when cancelled while parsing.
func (s *Service) Analyze(ctx context.Context, req AnalyzeRequest) (*AnalysisResult, error) {
	start := time.Now()
	ctx, span := serviceTracer.Start(ctx, "trace.Service.Analyze")
	defer span.End()
	span.SetAttributes(attribute.String("project_root", req.ProjectRoot))

	root, err := checkProjectRoot(req.ProjectRoot)
	if err != nil {
		return nil, err
	}

	pc, err := config.LoadProject(root)
	if err != nil {
		return nil, err
	}
	cfg, err := s.cfg.WithProject(pc)
	if err != nil {
		return nil, err
	}

	files, err := collectFiles(ctx, root, s.registry, cfg.Analysis.ExcludeDirs, req.ExcludePatterns)
	if err != nil {
		return nil, err
	}

	records, parseErrs, hits, err := s.parseFiles(ctx, root, files, cfg.Analysis.EffectiveWorkers())
	if err != nil {
		return nil, err
	}

	result := s.analyze(ctx, cfg, root, records)
	result.ParseErrors = parseErrs
	result.CacheHits = hits

	if req.SaveSnapshot {
		meta, err := s.saveSnapshot(ctx, result, req.Label)
		if err != nil {
			return nil, err
		}
		result.Snapshot = meta
	}

	result.DurationMilli = time.Since(start).Milliseconds()
	span.SetAttributes(
		attribute.Int("files", len(files)),
		attribute.Int("flows", len(result.Flows)),
		attribute.Int("cache_hits", hits),
	)
	s.logger.Info("analysis complete",
		slog.String("project_root", root),
		slog.Int("files", len(files)),
		slog.Int("parse_errors", len(parseErrs)),
		slog.Int("nodes", result.Graph.NodeCount()),
		slog.Int("edges", result.Graph.EdgeCount()),
		slog.Int("flows", len(result.Flows)),
		slog.Int("cache_hits", hits),
		slog.Int64("duration_ms", result.DurationMilli),
	)
	return result, nil
}

// AnalyzeRecords builds and traces caller-supplied records.
//
// Inputs:
//
//	ctx - Context for cancellation.
//	projectRoot - Recorded on the graph. May be empty.
//	records - File records. Invalid ones appear in FileErrors.
//
// Outputs:
//
//	*AnalysisResult - The result.
//	error - ErrTooManyRecords when over server.max_records.
func (s *Service) AnalyzeRecords(ctx context.Context, projectRoot string, records []*ast.FileRecord) (*AnalysisResult, error) {
	if len(records) > s.cfg.Server.MaxRecords {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooManyRecords, len(records), s.cfg.Server.MaxRecords)
	}
	start := time.Now()
	ctx, span := serviceTracer.Start(ctx, "trace.Service.AnalyzeRecords")
	defer span.End()

	result := s.analyze(ctx, s.cfg, projectRoot, records)
	result.DurationMilli = time.Since(start).Milliseconds()
	return result, nil
}

// analyze is the pure pipeline: build, classify, trace.
func (s *Service) analyze(ctx context.Context, cfg *config.Config, root string, records []*ast.FileRecord) *AnalysisResult {
	build := graph.NewBuilder(cfg.BuilderOptions(root, s.logger)...).Build(ctx, records)
	classes := graph.ClassifyFiles(build.Graph, cfg.Analysis.FileClassificationOptions)

	topts := cfg.TracerOptions(s.logger)
	if cfg.Flow.SkipTestEntryPoints {
		topts = append(topts, flow.WithEntryFilter(classes.IsProduction))
	}
	flows := flow.NewTracer(cfg.Detector(), topts...).Trace(ctx, records, build.Graph)

	s.mu.Lock()
	s.analyses++
	s.mu.Unlock()

	return &AnalysisResult{
		ProjectRoot:    root,
		Graph:          build.Graph,
		Flows:          flows,
		Stats:          build.Stats,
		Classification: classes.Stats(),
		External:       build.External,
		FileErrors:     build.FileErrors,
		Incomplete:     build.Incomplete,
		FilesParsed:    len(records),
		classes:        classes,
	}
}

func (s *Service) saveSnapshot(ctx context.Context, result *AnalysisResult, label string) (*snapshot.Metadata, error) {
	if s.snapshots == nil {
		return nil, ErrSnapshotsDisabled
	}
	return s.snapshots.Save(ctx, result.Graph, result.Flows, label)
}

// Analyses returns how many analyses have completed.
func (s *Service) Analyses() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.analyses
}

// Uptime returns the time since the service was created.
func (s *Service) Uptime() time.Duration {
	return time.Since(s.startedAt)
}

// parseFiles parses files in parallel, reusing cached records.
//
// Records come back in the order of files, so output is deterministic
// regardless of worker scheduling.
func (s *Service) parseFiles(ctx context.Context, root string, files []string, workers int) ([]*ast.FileRecord, []ParseError, int, error) {
	slots := make([]*ast.FileRecord, len(files))
	errs := make([]string, len(files))
	var (
		hitsMu sync.Mutex
		hits   int
	)

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(workers)
	for i, rel := range files {
		i, rel := i, rel
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return err
			}
			content, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
			if err != nil {
				errs[i] = err.Error()
				return nil
			}

			sum := sha256.Sum256(content)
			key := rel + "@" + hex.EncodeToString(sum[:])
			if s.cache != nil {
				if rec, ok := s.cache.Get(key); ok {
					slots[i] = rec
					hitsMu.Lock()
					hits++
					hitsMu.Unlock()
					return nil
				}
			}

			rec, err := s.registry.Parse(egCtx, content, rel)
			if err != nil {
				if egCtx.Err() != nil {
					return egCtx.Err()
				}
				errs[i] = err.Error()
				return nil
			}
			if s.cache != nil {
				s.cache.Add(key, rec)
			}
			slots[i] = rec
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, nil, 0, err
	}

	records := make([]*ast.FileRecord, 0, len(files))
	var parseErrs []ParseError
	for i, rec := range slots {
		if rec != nil {
			records = append(records, rec)
			continue
		}
		if errs[i] != "" {
			parseErrs = append(parseErrs, ParseError{FilePath: files[i], Error: errs[i]})
		}
	}
	return records, parseErrs, hits, nil
}

// checkProjectRoot cleans root and verifies it is an existing directory.
func checkProjectRoot(root string) (string, error) {
	if !filepath.IsAbs(root) {
		return "", fmt.Errorf("%w: %q", ErrRelativeRoot, root)
	}
	root = filepath.Clean(root)
	info, err := os.Stat(root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrProjectNotFound, root)
		}
		return "", fmt.Errorf("checking project root: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%w: %s", ErrNotDirectory, root)
	}
	return root, nil
}

// collectFiles returns project-relative, slash-separated paths of every
// supported file under root, sorted.
func collectFiles(ctx context.Context, root string, registry *ast.Registry, excludeDirs, excludePatterns []string) ([]string, error) {
	skipDir := make(map[string]bool, len(excludeDirs))
	for _, d := range excludeDirs {
		skipDir[d] = true
	}

	var files []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable entries are skipped, not fatal.
			if d != nil && d.IsDir() && p != root {
				return filepath.SkipDir
			}
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, relErr := filepath.Rel(root, p)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if p != root && (skipDir[d.Name()] || excluded(rel+"/", excludePatterns)) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || !registry.Supports(rel) || excluded(rel, excludePatterns) {
			return nil
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// excluded reports whether rel matches any pattern. Directory paths are
// passed with a trailing slash.
func excluded(rel string, patterns []string) bool {
	base := path.Base(strings.TrimSuffix(rel, "/"))
	for _, p := range patterns {
		if p == "" {
			continue
		}
		if strings.HasSuffix(p, "/") {
			if strings.HasPrefix(rel, p) {
				return true
			}
			continue
		}
		if ok, _ := path.Match(p, strings.TrimSuffix(rel, "/")); ok {
			return true
		}
		if ok, _ := path.Match(p, base); ok {
			return true
		}
	}
	return false
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads flowtrace settings.
//
// Settings come from three layers, later layers winning:
//
//  1. defaults.yaml, embedded in the binary
//  2. an optional file named by --config or FLOWTRACE_CONFIG
//  3. an optional flowtrace.config.yaml in the analyzed project root
//     (classification and exclusion overrides only, see LoadProject)
//
// The merged result is validated with go-playground/validator struct tags.
package config

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/flowtrace/services/trace/ast"
	"github.com/AleutianAI/flowtrace/services/trace/flow"
	"github.com/AleutianAI/flowtrace/services/trace/graph"
)

//go:embed defaults.yaml
var defaultConfigYAML []byte

// EnvConfigPath names the environment variable holding a config file path.
const EnvConfigPath = "FLOWTRACE_CONFIG"

// MaxYAMLFileSize bounds any config document read from disk.
const MaxYAMLFileSize = 1 << 20

var tracer = otel.Tracer("flowtrace.config")

var (
	// ErrConfigTooLarge is returned when a config document exceeds MaxYAMLFileSize.
	ErrConfigTooLarge = errors.New("config exceeds maximum size")

	// ErrInvalidConfig wraps validation failures.
	ErrInvalidConfig = errors.New("invalid config")
)

// Config is the full flowtrace configuration.
//
// Thread Safety: Immutable after loading; safe for concurrent use.
type Config struct {
	Parser   ParserConfig   `yaml:"parser" json:"parser"`
	Graph    GraphConfig    `yaml:"graph" json:"graph"`
	Flow     FlowConfig     `yaml:"flow" json:"flow"`
	Analysis AnalysisConfig `yaml:"analysis" json:"analysis"`
	Server   ServerConfig   `yaml:"server" json:"server"`
	Snapshot SnapshotConfig `yaml:"snapshot" json:"snapshot"`
}

// ParserConfig configures the ECMAScript parser.
type ParserConfig struct {
	// MaxFileSize is the largest file parsed, in bytes.
	MaxFileSize int `yaml:"max_file_size" json:"max_file_size" validate:"gt=0"`

	// DetectServices enables service call detection.
	DetectServices bool `yaml:"detect_services" json:"detect_services"`

	// Patterns replaces the built-in service client lists. Map entries in
	// database_clients are merged with the built-in map.
	Patterns ast.ServicePatterns `yaml:"patterns" json:"patterns"`
}

// GraphConfig configures the dependency graph builder.
type GraphConfig struct {
	MaxNodes  int `yaml:"max_nodes" json:"max_nodes" validate:"gt=0"`
	MaxEdges  int `yaml:"max_edges" json:"max_edges" validate:"gt=0"`
	MaxCycles int `yaml:"max_cycles" json:"max_cycles" validate:"gt=0"`
}

// FlowConfig configures the flow tracer.
type FlowConfig struct {
	MaxDepth int `yaml:"max_depth" json:"max_depth" validate:"min=1,max=100"`

	// Parallelism is the number of entry points traced at once.
	// 0 means runtime.NumCPU().
	Parallelism int `yaml:"parallelism" json:"parallelism" validate:"min=0,max=256"`

	DerivedFlows bool `yaml:"derived_flows" json:"derived_flows"`

	// SkipTestEntryPoints drops entry points in files classified as
	// non-production.
	SkipTestEntryPoints bool `yaml:"skip_test_entry_points" json:"skip_test_entry_points"`

	Heuristics flow.HeuristicOptions `yaml:"heuristics" json:"heuristics"`
}

// AnalysisConfig configures project walking.
type AnalysisConfig struct {
	// Workers is the number of files parsed at once. 0 means runtime.NumCPU().
	Workers int `yaml:"workers" json:"workers" validate:"min=0,max=256"`

	// RecordCacheSize is the number of parsed records kept between runs.
	RecordCacheSize int `yaml:"record_cache_size" json:"record_cache_size" validate:"min=0"`

	// ExcludeDirs are directory base names never descended into.
	ExcludeDirs []string `yaml:"exclude_dirs" json:"exclude_dirs" validate:"dive,required,dirname"`

	graph.FileClassificationOptions `yaml:",inline"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Address           string  `yaml:"address" json:"address" validate:"required"`
	RequestsPerSecond float64 `yaml:"requests_per_second" json:"requests_per_second" validate:"gt=0"`
	Burst             int     `yaml:"burst" json:"burst" validate:"gt=0"`

	// MaxRecords bounds the records accepted in one build request.
	MaxRecords int `yaml:"max_records" json:"max_records" validate:"gt=0"`
}

// SnapshotConfig configures the snapshot store.
type SnapshotConfig struct {
	// Dir is the badger directory, relative to the project root when not
	// absolute.
	Dir string `yaml:"dir" json:"dir" validate:"required"`

	// Retain is how many snapshots per project are kept. 0 keeps all.
	Retain int `yaml:"retain" json:"retain" validate:"min=0"`
}

// ResolveDir returns Dir, joined to base when Dir is relative.
func (s SnapshotConfig) ResolveDir(base string) string {
	if filepath.IsAbs(s.Dir) || base == "" {
		return s.Dir
	}
	return filepath.Join(base, s.Dir)
}

var validate *validator.Validate

func init() {
	validate = validator.New()
	// A directory base name: no separators, not "." or "..".
	_ = validate.RegisterValidation("dirname", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		return s != "." && s != ".." && !strings.ContainsAny(s, `/\`)
	})
}

// base returns the values that defaults.yaml does not spell out.
func base() *Config {
	return &Config{
		Parser: ParserConfig{Patterns: ast.DefaultServicePatterns()},
		Flow:   FlowConfig{Heuristics: flow.DefaultHeuristicOptions()},
	}
}

// Load builds a Config from the embedded defaults with each overlay
// document merged on top, in order.
//
// Description:
//
//	Every overlay is checked against MaxYAMLFileSize and decoded over the
//	running result, so an overlay only needs the keys it changes. The
//	merged result is validated once at the end.
//
// Inputs:
//
//	ctx - Context for tracing. Must not be nil.
//	overlays - Raw YAML documents. Empty documents are skipped.
//
// Outputs:
//
//	*Config - The validated configuration.
//	error - Non-nil if an overlay is too large, malformed, or the result
//	        fails validation (wraps ErrInvalidConfig).
func Load(ctx context.Context, overlays ...[]byte) (*Config, error) {
	_, span := tracer.Start(ctx, "config.Load")
	defer span.End()

	cfg := base()
	docs := append([][]byte{defaultConfigYAML}, overlays...)
	for i, data := range docs {
		if len(data) == 0 {
			continue
		}
		if len(data) > MaxYAMLFileSize {
			return nil, fmt.Errorf("config document %d: %w (%d > %d)", i, ErrConfigTooLarge, len(data), MaxYAMLFileSize)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config document %d: parsing YAML: %w", i, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		span.RecordError(err)
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("overlays", len(overlays)),
		attribute.Int("flow.max_depth", cfg.Flow.MaxDepth),
		attribute.Int("analysis.workers", cfg.Analysis.Workers),
	)
	return cfg, nil
}

// LoadFile loads the defaults merged with the YAML file at path.
// An empty path loads the defaults alone.
func LoadFile(ctx context.Context, path string) (*Config, error) {
	if path == "" {
		return Load(ctx)
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if info.Size() > MaxYAMLFileSize {
		return nil, fmt.Errorf("config %s: %w (%d > %d)", path, ErrConfigTooLarge, info.Size(), MaxYAMLFileSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg, err := Load(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	slog.Info("config loaded", slog.String("path", path))
	return cfg, nil
}

// ResolvePath picks the config file to load: the explicit flag value if
// set, otherwise FLOWTRACE_CONFIG, otherwise none.
func ResolvePath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return os.Getenv(EnvConfigPath)
}

// Validate checks struct tags and cross-field rules.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.Graph.MaxEdges < c.Graph.MaxNodes {
		return fmt.Errorf("%w: graph.max_edges (%d) must be at least graph.max_nodes (%d)",
			ErrInvalidConfig, c.Graph.MaxEdges, c.Graph.MaxNodes)
	}
	return nil
}

// =============================================================================
// Component options
// =============================================================================

// ParserOptions returns the parser options this config selects.
func (c *Config) ParserOptions() []ast.EcmaScriptParserOption {
	return []ast.EcmaScriptParserOption{
		ast.WithMaxFileSize(c.Parser.MaxFileSize),
		ast.WithServiceDetection(c.Parser.DetectServices),
		ast.WithServicePatterns(c.Parser.Patterns),
	}
}

// BuilderOptions returns the graph builder options this config selects.
func (c *Config) BuilderOptions(projectRoot string, logger *slog.Logger) []graph.BuilderOption {
	return []graph.BuilderOption{
		graph.WithProjectRoot(projectRoot),
		graph.WithBuilderMaxNodes(c.Graph.MaxNodes),
		graph.WithBuilderMaxEdges(c.Graph.MaxEdges),
		graph.WithMaxCycles(c.Graph.MaxCycles),
		graph.WithLogger(logger),
	}
}

// Detector returns a heuristic detector configured from Flow.Heuristics.
func (c *Config) Detector() *flow.HeuristicDetector {
	return flow.NewHeuristicDetector(flow.WithHeuristicOptions(c.Flow.Heuristics))
}

// TracerOptions returns the tracer options this config selects. The
// entry filter is added by callers that have a file classification.
func (c *Config) TracerOptions(logger *slog.Logger) []flow.TracerOption {
	return []flow.TracerOption{
		flow.WithMaxDepth(c.Flow.MaxDepth),
		flow.WithParallelism(c.Flow.EffectiveParallelism()),
		flow.WithDerivedFlows(c.Flow.DerivedFlows),
		flow.WithTracerLogger(logger),
	}
}

// EffectiveParallelism resolves 0 to runtime.NumCPU().
func (f FlowConfig) EffectiveParallelism() int {
	if f.Parallelism > 0 {
		return f.Parallelism
	}
	return runtime.NumCPU()
}

// EffectiveWorkers resolves 0 to runtime.NumCPU().
func (a AnalysisConfig) EffectiveWorkers() int {
	if a.Workers > 0 {
		return a.Workers
	}
	return runtime.NumCPU()
}

// =============================================================================
// Process-wide defaults
// =============================================================================

var (
	defaultsMu   sync.Mutex
	defaultsOnce sync.Once
	defaults     *Config
	defaultsErr  error
)

// Defaults returns the embedded defaults, loaded once per process.
//
// Thread Safety: Safe for concurrent use via sync.Once. Callers must not
// modify the returned Config.
func Defaults(ctx context.Context) (*Config, error) {
	defaultsMu.Lock()
	defer defaultsMu.Unlock()
	defaultsOnce.Do(func() {
		defaults, defaultsErr = Load(ctx)
	})
	return defaults, defaultsErr
}

// ResetDefaults clears the cached defaults for testing.
func ResetDefaults() {
	defaultsMu.Lock()
	defer defaultsMu.Unlock()
	defaults = nil
	defaultsErr = nil
	defaultsOnce = sync.Once{}
}

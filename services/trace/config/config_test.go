// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.


package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoad_Embedded(t *testing.T) {
	cfg, err := Load(context.Background())
	if err != nil {
		t.Fatalf("Load failed on embedded YAML: %v", err)
	}

	if cfg.Flow.MaxDepth != 10 {
		t.Errorf("expected flow.max_depth = 10, got %d", cfg.Flow.MaxDepth)
	}
	if !cfg.Flow.DerivedFlows {
		t.Error("expected flow.derived_flows = true")
	}
	if cfg.Graph.MaxCycles != 10000 {
		t.Errorf("expected graph.max_cycles = 10000, got %d", cfg.Graph.MaxCycles)
	}
	if cfg.Parser.MaxFileSize != 10*1024*1024 {
		t.Errorf("expected parser.max_file_size = 10MB, got %d", cfg.Parser.MaxFileSize)
	}
	if len(cfg.Parser.Patterns.HTTPFunctions) == 0 {
		t.Error("expected built-in HTTP function patterns")
	}
	if cfg.Flow.Heuristics.ControllerMarker != "controller" {
		t.Errorf("expected controller marker, got %q", cfg.Flow.Heuristics.ControllerMarker)
	}
	if cfg.Server.Burst != 10 {
		t.Errorf("expected server.burst = 10, got %d", cfg.Server.Burst)
	}
	found := false
	for _, d := range cfg.Analysis.ExcludeDirs {
		if d == "node_modules" {
			found = true
		}
	}
	if !found {
		t.Error("expected node_modules in analysis.exclude_dirs")
	}
}

func TestLoad_OverlayMergesKeys(t *testing.T) {
	overlay := []byte(`
flow:
  max_depth: 4
  heuristics:
    verbs: [fetch, store]
analysis:
  exclude_from_analysis: [scripts/]
parser:
  patterns:
    database_clients:
      knexdb: knex
`)
	cfg, err := Load(context.Background(), overlay)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Flow.MaxDepth != 4 {
		t.Errorf("expected max_depth 4, got %d", cfg.Flow.MaxDepth)
	}
	if !cfg.Flow.DerivedFlows {
		t.Error("keys absent from the overlay should keep their defaults")
	}
	if got := strings.Join(cfg.Flow.Heuristics.Verbs, ","); got != "fetch,store" {
		t.Errorf("expected verbs replaced, got %s", got)
	}
	if len(cfg.Flow.Heuristics.HandlerParams) != 4 {
		t.Errorf("expected default handler params kept, got %v", cfg.Flow.Heuristics.HandlerParams)
	}
	if len(cfg.Analysis.ExcludePrefixes) != 1 || cfg.Analysis.ExcludePrefixes[0] != "scripts/" {
		t.Errorf("expected inline classification prefixes, got %v", cfg.Analysis.ExcludePrefixes)
	}
	if cfg.Parser.Patterns.DatabaseClients["knexdb"] != "knex" {
		t.Error("expected overlay database client")
	}
	if cfg.Parser.Patterns.DatabaseClients["prisma"] != "prisma" {
		t.Error("expected built-in database clients to be merged, not replaced")
	}
}

func TestLoad_OverlaysApplyInOrder(t *testing.T) {
	cfg, err := Load(context.Background(),
		[]byte("flow:\n  max_depth: 3\n"),
		nil,
		[]byte("flow:\n  max_depth: 7\n"),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Flow.MaxDepth != 7 {
		t.Errorf("expected last overlay to win, got %d", cfg.Flow.MaxDepth)
	}
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantMsg string
	}{
		{"zero depth", "flow:\n  max_depth: 0\n", "MaxDepth"},
		{"depth too large", "flow:\n  max_depth: 500\n", "MaxDepth"},
		{"negative workers", "analysis:\n  workers: -1\n", "Workers"},
		{"empty verbs", "flow:\n  heuristics:\n    verbs: []\n", "Verbs"},
		{"empty verb", "flow:\n  heuristics:\n    verbs: [get, '']\n", "Verbs"},
		{"empty marker", "flow:\n  heuristics:\n    controller_marker: ''\n", "ControllerMarker"},
		{"exclude dir with separator", "analysis:\n  exclude_dirs: [a/b]\n", "ExcludeDirs"},
		{"dot exclude dir", "analysis:\n  exclude_dirs: ['..']\n", "ExcludeDirs"},
		{"zero burst", "server:\n  burst: 0\n", "Burst"},
		{"empty address", "server:\n  address: ''\n", "Address"},
		{"edges below nodes", "graph:\n  max_nodes: 100\n  max_edges: 10\n", "max_edges"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(context.Background(), []byte(tt.yaml))
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("expected error mentioning %q, got %v", tt.wantMsg, err)
			}
		})
	}
}

func TestLoad_MalformedYAML(t *testing.T) {
	_, err := Load(context.Background(), []byte("flow: [unclosed"))
	if err == nil {
		t.Fatal("expected parse error")
	}
	if errors.Is(err, ErrInvalidConfig) {
		t.Error("parse errors should not be reported as validation errors")
	}
}

func TestLoad_TooLarge(t *testing.T) {
	big := make([]byte, MaxYAMLFileSize+1)
	for i := range big {
		big[i] = '#'
	}
	_, err := Load(context.Background(), big)
	if !errors.Is(err, ErrConfigTooLarge) {
		t.Errorf("expected ErrConfigTooLarge, got %v", err)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "flowtrace.yaml")
	if err := os.WriteFile(path, []byte("snapshot:\n  retain: 3\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFile(context.Background(), path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Snapshot.Retain != 3 {
		t.Errorf("expected retain 3, got %d", cfg.Snapshot.Retain)
	}

	if _, err := LoadFile(context.Background(), filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("expected error for a missing explicit config file")
	}

	cfg, err = LoadFile(context.Background(), "")
	if err != nil {
		t.Fatalf("empty path should load defaults: %v", err)
	}
	if cfg.Snapshot.Retain != 20 {
		t.Errorf("expected default retain 20, got %d", cfg.Snapshot.Retain)
	}
}

func TestResolvePath(t *testing.T) {
	t.Setenv(EnvConfigPath, "/etc/flowtrace.yaml")

	if got := ResolvePath("local.yaml"); got != "local.yaml" {
		t.Errorf("flag should win, got %q", got)
	}
	if got := ResolvePath(""); got != "/etc/flowtrace.yaml" {
		t.Errorf("expected env path, got %q", got)
	}

	t.Setenv(EnvConfigPath, "")
	if got := ResolvePath(""); got != "" {
		t.Errorf("expected no path, got %q", got)
	}
}

func TestDefaults_Cached(t *testing.T) {
	ResetDefaults()
	defer ResetDefaults()

	a, err := Defaults(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, _ := Defaults(context.Background())
	if a != b {
		t.Error("expected the same cached instance")
	}

	ResetDefaults()
	c, _ := Defaults(context.Background())
	if c == a {
		t.Error("expected a fresh instance after reset")
	}
}

func TestComponentOptions(t *testing.T) {
	cfg, err := Load(context.Background(), []byte("flow:\n  parallelism: 3\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := len(cfg.ParserOptions()); got != 3 {
		t.Errorf("expected 3 parser options, got %d", got)
	}
	if got := len(cfg.BuilderOptions("/src", nil)); got != 5 {
		t.Errorf("expected 5 builder options, got %d", got)
	}
	if got := cfg.Flow.EffectiveParallelism(); got != 3 {
		t.Errorf("expected parallelism 3, got %d", got)
	}
	if got := (AnalysisConfig{}).EffectiveWorkers(); got < 1 {
		t.Errorf("expected at least one worker, got %d", got)
	}
	if cfg.Detector().Name() != "heuristic" {
		t.Error("expected heuristic detector")
	}
}

func TestSnapshotConfig_ResolveDir(t *testing.T) {
	tests := []struct {
		dir, base, want string
	}{
		{".flowtrace/snapshots", "/srv/app", "/srv/app/.flowtrace/snapshots"},
		{"/var/lib/flowtrace", "/srv/app", "/var/lib/flowtrace"},
		{".flowtrace/snapshots", "", ".flowtrace/snapshots"},
	}
	for _, tt := range tests {
		got := SnapshotConfig{Dir: tt.dir}.ResolveDir(tt.base)
		if got != tt.want {
			t.Errorf("ResolveDir(%q, %q) = %q, want %q", tt.dir, tt.base, got, tt.want)
		}
	}
}

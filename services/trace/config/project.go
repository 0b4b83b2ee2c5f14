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
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ProjectConfigFile is the per-project override file name.
const ProjectConfigFile = "flowtrace.config.yaml"

// ProjectConfig holds overrides read from the analyzed project itself.
//
// Description:
//
//	Loaded from <projectRoot>/flowtrace.config.yaml. All fields are
//	optional and a missing file is not an error. Only settings that
//	describe the project are accepted here; limits and server settings
//	stay with the operator's config.
//
// Thread Safety: Safe for concurrent reads after construction.
type ProjectConfig struct {
	// ExcludeFromAnalysis lists path prefixes forced to non-production.
	// Example: ["scripts/", "generated/"]
	ExcludeFromAnalysis []string `yaml:"exclude_from_analysis"`

	// IncludeOverride lists path prefixes forced to production.
	// Example: ["test/harness/"]
	IncludeOverride []string `yaml:"include_override"`

	// ExcludeDirs adds directory base names to skip while walking.
	ExcludeDirs []string `yaml:"exclude_dirs"`

	// MaxDepth, when set, replaces flow.max_depth.
	MaxDepth int `yaml:"max_depth"`
}

// LoadProject reads flowtrace.config.yaml from the project root.
//
// Inputs:
//
//	projectRoot - Path to the project root. May be empty.
//
// Outputs:
//
//	ProjectConfig - The parsed overrides, or the zero value if the root is
//	                empty or the file is missing.
//	error - Non-nil only if the file exists but cannot be read or parsed.
//
// Thread Safety: Safe for concurrent use (stateless function).
func LoadProject(projectRoot string) (ProjectConfig, error) {
	if projectRoot == "" {
		return ProjectConfig{}, nil
	}

	path := filepath.Join(projectRoot, ProjectConfigFile)
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ProjectConfig{}, nil
		}
		return ProjectConfig{}, fmt.Errorf("reading %s: %w", ProjectConfigFile, err)
	}
	if info.Size() > MaxYAMLFileSize {
		return ProjectConfig{}, fmt.Errorf("%s: %w", ProjectConfigFile, ErrConfigTooLarge)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return ProjectConfig{}, fmt.Errorf("reading %s: %w", ProjectConfigFile, err)
	}

	var pc ProjectConfig
	if err := yaml.Unmarshal(data, &pc); err != nil {
		return ProjectConfig{}, fmt.Errorf("parsing %s: %w", ProjectConfigFile, err)
	}
	return pc, nil
}

// WithProject returns a copy of c with the project overrides applied.
// List overrides are appended to the operator's lists. The result is
// validated again.
func (c *Config) WithProject(pc ProjectConfig) (*Config, error) {
	out := *c
	out.Analysis.ExcludePrefixes = concat(c.Analysis.ExcludePrefixes, pc.ExcludeFromAnalysis)
	out.Analysis.IncludePrefixes = concat(c.Analysis.IncludePrefixes, pc.IncludeOverride)
	out.Analysis.ExcludeDirs = concat(c.Analysis.ExcludeDirs, pc.ExcludeDirs)
	if pc.MaxDepth > 0 {
		out.Flow.MaxDepth = pc.MaxDepth
	}
	if err := out.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", ProjectConfigFile, err)
	}
	return &out, nil
}

// concat never aliases a's backing array.
func concat(a, b []string) []string {
	out := make([]string, 0, len(a)+len(b))
	out = append(out, a...)
	return append(out, b...)
}

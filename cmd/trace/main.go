// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.


// Command flowtrace builds dependency graphs and end-to-end flows for
// JavaScript and TypeScript projects.
//
// Usage:
//
//	flowtrace analyze ./my-app --summary
//	flowtrace search ./my-app getUser
//	flowtrace serve --address :8089
//	flowtrace watch ./my-app
//	flowtrace snapshots list --project ./my-app
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/flowtrace/services/trace/config"
)

var (
	configPath string
	logLevel   string
	otelStdout bool

	// cfg is loaded once in PersistentPreRunE.
	cfg *config.Config

	shutdownTracing func(context.Context) error

	rootCmd = &cobra.Command{
		Use:   "flowtrace",
		Short: "Dependency graphs and end-to-end flows for ECMAScript projects",
		Long: `flowtrace parses JavaScript and TypeScript sources, builds a dependency
graph of files and symbols, and traces request flows from HTTP handlers
through function calls to databases and other services.`,
		SilenceUsage:      true,
		PersistentPreRunE: setup,
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if shutdownTracing != nil {
				return shutdownTracing(context.Background())
			}
			return nil
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default $"+config.EnvConfigPath+")")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVar(&otelStdout, "otel-stdout", false, "Export OpenTelemetry spans to stdout")

	rootCmd.AddCommand(analyzeCmd, searchCmd, pathCmd, symbolCmd, serveCmd, watchCmd, snapshotsCmd)
}

// setup configures logging, tracing and config for every subcommand.
func setup(cmd *cobra.Command, args []string) error {
	level, err := parseLevel(logLevel)
	if err != nil {
		return err
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	shutdownTracing, err = setupTracing(otelStdout)
	if err != nil {
		return fmt.Errorf("setting up tracing: %w", err)
	}
	if err := setupMetrics(); err != nil {
		return fmt.Errorf("setting up metrics: %w", err)
	}

	cfg, err = config.LoadFile(cmd.Context(), config.ResolvePath(configPath))
	if err != nil {
		return err
	}
	return nil
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown log level %q", s)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.


package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/flowtrace/services/trace"
	"github.com/AleutianAI/flowtrace/services/trace/snapshot"
)

var (
	analyzeOut         string
	analyzeFlowsOnly   bool
	analyzeGraphOnly   bool
	analyzeSummary     bool
	analyzeSnapshot    bool
	analyzeSnapshotDir string
	analyzeLabel       string
	analyzeExclude     []string

	analyzeCmd = &cobra.Command{
		Use:   "analyze <dir>",
		Short: "Analyze a project and print the graph and flows as JSON",
		Args:  cobra.ExactArgs(1),
		RunE:  runAnalyze,
	}
)

func init() {
	f := analyzeCmd.Flags()
	f.StringVarP(&analyzeOut, "out", "o", "", "Write JSON to this file instead of stdout")
	f.BoolVar(&analyzeFlowsOnly, "flows-only", false, "Print only the flows")
	f.BoolVar(&analyzeGraphOnly, "graph-only", false, "Print only the dependency graph")
	f.BoolVar(&analyzeSummary, "summary", false, "Print counts instead of the full result")
	f.BoolVar(&analyzeSnapshot, "snapshot", false, "Save the result as a snapshot")
	f.StringVar(&analyzeSnapshotDir, "snapshot-dir", "", "Snapshot store directory (default from config, relative to <dir>)")
	f.StringVar(&analyzeLabel, "label", "", "Label for the saved snapshot")
	f.StringSliceVar(&analyzeExclude, "exclude", nil, "Extra exclude patterns (glob, or prefix ending in /)")
	analyzeCmd.MarkFlagsMutuallyExclusive("flows-only", "graph-only", "summary")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	root, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}

	var opts []trace.ServiceOption
	if analyzeSnapshot || analyzeSnapshotDir != "" {
		mgr, closeStore, err := openSnapshots(snapshotDirFor(analyzeSnapshotDir, root))
		if err != nil {
			return err
		}
		defer closeStore()
		opts = append(opts, trace.WithSnapshotManager(mgr))
	}

	svc, err := trace.NewService(cfg, opts...)
	if err != nil {
		return err
	}
	result, err := svc.Analyze(cmd.Context(), trace.AnalyzeRequest{
		ProjectRoot:     root,
		ExcludePatterns: analyzeExclude,
		SaveSnapshot:    analyzeSnapshot,
		Label:           analyzeLabel,
	})
	if err != nil {
		return err
	}
	for _, pe := range result.ParseErrors {
		slog.Warn("parse failed", slog.String("file", pe.FilePath), slog.String("error", pe.Error))
	}

	var v any = result
	switch {
	case analyzeSummary:
		v = result.Summary()
	case analyzeFlowsOnly:
		v = result.Flows
	case analyzeGraphOnly:
		v = result.Graph
	}

	if analyzeOut == "" {
		return writeJSON(cmd.OutOrStdout(), v)
	}
	out, err := os.Create(analyzeOut)
	if err != nil {
		return err
	}
	if err := writeJSON(out, v); err != nil {
		return errors.Join(err, out.Close())
	}
	if err := out.Close(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "wrote %s\n", analyzeOut)
	return nil
}

// snapshotDirFor returns flagDir, or the configured directory resolved
// against base.
func snapshotDirFor(flagDir, base string) string {
	if flagDir != "" {
		return flagDir
	}
	return cfg.Snapshot.ResolveDir(base)
}

// openSnapshots opens the badger store at dir and wraps it in a manager.
func openSnapshots(dir string) (*snapshot.Manager, func(), error) {
	db, err := snapshot.OpenStore(snapshot.StoreOptions{Dir: dir, Logger: slog.Default()})
	if err != nil {
		return nil, nil, err
	}
	closeStore := func() {
		if err := db.Close(); err != nil {
			slog.Warn("closing snapshot store", slog.String("error", err.Error()))
		}
	}
	mgr, err := snapshot.NewManager(db, slog.Default(), snapshot.WithRetain(cfg.Snapshot.Retain))
	if err != nil {
		closeStore()
		return nil, nil, err
	}
	return mgr, closeStore, nil
}

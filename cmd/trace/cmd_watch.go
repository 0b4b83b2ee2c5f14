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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/flowtrace/services/trace"
	"github.com/AleutianAI/flowtrace/services/trace/config"
	"github.com/AleutianAI/flowtrace/services/trace/watch"
)

var (
	watchDebounce time.Duration
	watchSnapshot bool

	watchCmd = &cobra.Command{
		Use:   "watch <dir>",
		Short: "Re-analyze a project whenever its sources change",
		Args:  cobra.ExactArgs(1),
		RunE:  runWatch,
	}
)

func init() {
	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", watch.DefaultDebounce, "Quiet period before re-analyzing")
	watchCmd.Flags().BoolVar(&watchSnapshot, "snapshot", false, "Save a snapshot after every analysis")
}

func runWatch(cmd *cobra.Command, args []string) error {
	root, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}

	var opts []trace.ServiceOption
	if watchSnapshot {
		mgr, closeStore, err := openSnapshots(cfg.Snapshot.ResolveDir(root))
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

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	analyze := func(ctx context.Context) {
		result, err := svc.Analyze(ctx, trace.AnalyzeRequest{
			ProjectRoot:  root,
			SaveSnapshot: watchSnapshot,
			Label:        "watch",
		})
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				slog.Error("analysis failed", slog.String("error", err.Error()))
			}
			return
		}
		printSummaryLine(out, result.Summary())
	}

	analyze(ctx)

	w, err := watch.New(root, func(ctx context.Context, changed []string) {
		fmt.Fprintf(out, "%d file(s) changed, re-analyzing\n", len(changed))
		analyze(ctx)
	}, watch.Options{
		Debounce: watchDebounce,
		SkipDirs: cfg.Analysis.ExcludeDirs,
		Filter: func(rel string) bool {
			return svc.Supports(rel) || rel == config.ProjectConfigFile
		},
		Logger: slog.Default(),
	})
	if err != nil {
		return err
	}
	defer w.Close()

	fmt.Fprintf(out, "watching %s\n", root)
	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

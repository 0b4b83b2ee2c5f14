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
	"fmt"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/flowtrace/services/trace/snapshot"
)

var (
	snapshotsDir     string
	snapshotsProject string
	snapshotsLimit   int
	snapshotsFull    bool

	snapshotsCmd = &cobra.Command{
		Use:   "snapshots",
		Short: "Inspect saved analysis snapshots",
	}
	snapshotsListCmd = &cobra.Command{
		Use:   "list",
		Short: "List snapshots, newest first",
		Args:  cobra.NoArgs,
		RunE:  runSnapshotsList,
	}
	snapshotsShowCmd = &cobra.Command{
		Use:   "show <id|latest>",
		Short: "Print a snapshot as JSON",
		Args:  cobra.ExactArgs(1),
		RunE:  runSnapshotsShow,
	}
	snapshotsDeleteCmd = &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a snapshot",
		Args:  cobra.ExactArgs(1),
		RunE:  runSnapshotsDelete,
	}
	snapshotsDiffCmd = &cobra.Command{
		Use:   "diff <base-id> <target-id>",
		Short: "Compare two snapshots",
		Args:  cobra.ExactArgs(2),
		RunE:  runSnapshotsDiff,
	}
)

func init() {
	pf := snapshotsCmd.PersistentFlags()
	pf.StringVar(&snapshotsDir, "snapshot-dir", "", "Snapshot store directory (default from config, relative to --project)")
	pf.StringVar(&snapshotsProject, "project", ".", "Project root the snapshots belong to")

	snapshotsListCmd.Flags().IntVar(&snapshotsLimit, "limit", 20, "Maximum snapshots to list")
	snapshotsShowCmd.Flags().BoolVar(&snapshotsFull, "full", false, "Include the graph and flows")

	snapshotsCmd.AddCommand(snapshotsListCmd, snapshotsShowCmd, snapshotsDeleteCmd, snapshotsDiffCmd)
}

// withSnapshots opens the store for the selected project and runs fn.
func withSnapshots(fn func(mgr *snapshot.Manager, projectRoot string) error) error {
	root, err := filepath.Abs(snapshotsProject)
	if err != nil {
		return err
	}
	mgr, closeStore, err := openSnapshots(snapshotDirFor(snapshotsDir, root))
	if err != nil {
		return err
	}
	defer closeStore()
	return fn(mgr, root)
}

func runSnapshotsList(cmd *cobra.Command, args []string) error {
	return withSnapshots(func(mgr *snapshot.Manager, root string) error {
		metas, err := mgr.List(cmd.Context(), root, snapshotsLimit)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tCREATED\tLABEL\tNODES\tEDGES\tFLOWS")
		for _, m := range metas {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\n",
				m.SnapshotID,
				time.UnixMilli(m.CreatedAtMilli).Format(time.RFC3339),
				m.Label, m.NodeCount, m.EdgeCount, m.FlowCount)
		}
		return tw.Flush()
	})
}

func runSnapshotsShow(cmd *cobra.Command, args []string) error {
	return withSnapshots(func(mgr *snapshot.Manager, root string) error {
		var (
			snap *snapshot.Snapshot
			err  error
		)
		if args[0] == "latest" {
			snap, err = mgr.LoadLatest(cmd.Context(), root)
		} else {
			snap, err = mgr.Load(cmd.Context(), args[0])
		}
		if err != nil {
			return err
		}
		if !snapshotsFull {
			return writeJSON(cmd.OutOrStdout(), snap.Metadata)
		}
		return writeJSON(cmd.OutOrStdout(), snap)
	})
}

func runSnapshotsDelete(cmd *cobra.Command, args []string) error {
	return withSnapshots(func(mgr *snapshot.Manager, _ string) error {
		if err := mgr.Delete(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "deleted %s\n", args[0])
		return nil
	})
}

func runSnapshotsDiff(cmd *cobra.Command, args []string) error {
	return withSnapshots(func(mgr *snapshot.Manager, _ string) error {
		diff, err := mgr.Diff(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		return writeJSON(cmd.OutOrStdout(), diff)
	})
}

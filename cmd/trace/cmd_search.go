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

	"github.com/spf13/cobra"

	"github.com/AleutianAI/flowtrace/services/trace"
	"github.com/AleutianAI/flowtrace/services/trace/graph"
)

var (
	searchKinds          []string
	searchLimit          int
	searchProductionOnly bool
	searchJSON           bool

	searchCmd = &cobra.Command{
		Use:   "search <dir> <query>",
		Short: "Find functions, classes, variables and files by name",
		Args:  cobra.ExactArgs(2),
		RunE:  runSearch,
	}
)

func init() {
	f := searchCmd.Flags()
	f.StringSliceVar(&searchKinds, "kind", nil, "Restrict to node kinds: file, function, class, variable")
	f.IntVar(&searchLimit, "limit", trace.DefaultSearchLimit, "Maximum hits")
	f.BoolVar(&searchProductionOnly, "production-only", false, "Skip test, script and excluded files")
	f.BoolVar(&searchJSON, "json", false, "Print hits as JSON")
}

func runSearch(cmd *cobra.Command, args []string) error {
	root, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}
	kinds := make([]graph.NodeKind, 0, len(searchKinds))
	for _, k := range searchKinds {
		var kind graph.NodeKind
		if err := kind.UnmarshalText([]byte(k)); err != nil {
			return err
		}
		kinds = append(kinds, kind)
	}

	svc, err := trace.NewService(cfg)
	if err != nil {
		return err
	}
	resp, err := svc.Search(cmd.Context(), trace.SearchRequest{
		ProjectRoot:    root,
		Query:          args[1],
		Kinds:          kinds,
		Limit:          searchLimit,
		ProductionOnly: searchProductionOnly,
	})
	if err != nil {
		return err
	}
	if searchJSON {
		return writeJSON(cmd.OutOrStdout(), resp)
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KIND\tMATCH\tNODE\tLINE")
	for _, m := range resp.Matches {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", m.Node.Kind, m.Type, m.Node.ID, m.Node.Location.StartLine)
	}
	return tw.Flush()
}

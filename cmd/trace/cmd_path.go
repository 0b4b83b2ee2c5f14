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
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/flowtrace/services/trace"
	"github.com/AleutianAI/flowtrace/services/trace/graph"
)

var (
	pathKinds []string

	pathCmd = &cobra.Command{
		Use:   "path <dir> <from> <to>",
		Short: "Print the shortest dependency path between two symbols",
		Args:  cobra.ExactArgs(3),
		RunE:  runPath,
	}

	symbolCmd = &cobra.Command{
		Use:   "symbol <dir> <name|id>",
		Short: "Show a symbol's callers, callees and flows as JSON",
		Args:  cobra.ExactArgs(2),
		RunE:  runSymbol,
	}
)

func init() {
	pathCmd.Flags().StringSliceVar(&pathKinds, "edge", nil, "Edge kinds to follow: import, extends, implements, call")
}

func runPath(cmd *cobra.Command, args []string) error {
	root, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}
	kinds := make([]graph.EdgeKind, 0, len(pathKinds))
	for _, k := range pathKinds {
		var kind graph.EdgeKind
		if err := kind.UnmarshalText([]byte(k)); err != nil {
			return err
		}
		kinds = append(kinds, kind)
	}

	svc, err := trace.NewService(cfg)
	if err != nil {
		return err
	}
	res, err := svc.Path(cmd.Context(), trace.PathRequest{ProjectRoot: root, From: args[1], To: args[2], Kinds: kinds})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if !res.Found {
		fmt.Fprintf(out, "no path from %s to %s\n", res.From, res.To)
		return nil
	}
	var b strings.Builder
	b.WriteString(res.Nodes[0])
	for i, e := range res.Edges {
		fmt.Fprintf(&b, "\n  -%s-> %s", e.Kind, res.Nodes[i+1])
	}
	fmt.Fprintf(out, "%s\n(%d hops)\n", b.String(), res.Hops)
	return nil
}

func runSymbol(cmd *cobra.Command, args []string) error {
	root, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}
	svc, err := trace.NewService(cfg)
	if err != nil {
		return err
	}
	resp, err := svc.Symbol(cmd.Context(), trace.SymbolRequest{ProjectRoot: root, Symbol: args[1]})
	if err != nil {
		return err
	}
	return writeJSON(cmd.OutOrStdout(), resp)
}

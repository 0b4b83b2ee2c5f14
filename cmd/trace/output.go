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
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/mattn/go-isatty"

	"github.com/AleutianAI/flowtrace/services/trace"
	"github.com/AleutianAI/flowtrace/services/trace/flow"
)

// writeJSON encodes v to w, indented when w is a terminal.
func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	if f, ok := w.(*os.File); ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())) {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}

// printSummaryLine writes a one-line human summary, used by watch.
func printSummaryLine(w io.Writer, s trace.AnalysisSummary) {
	kinds := make([]flow.FlowKind, 0, len(s.FlowsByKind))
	for k := range s.FlowsByKind {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })

	fmt.Fprintf(w, "%d nodes, %d edges, %d cycles", s.Nodes, s.Edges, s.Cycles)
	for _, k := range kinds {
		fmt.Fprintf(w, ", %s=%d", k, s.FlowsByKind[k])
	}
	if s.ParseErrors > 0 {
		fmt.Fprintf(w, ", %d parse errors", s.ParseErrors)
	}
	fmt.Fprintf(w, " (%dms)\n", s.DurationMilli)
}

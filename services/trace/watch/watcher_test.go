// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.


package watch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestWatcher_DeliversDebouncedBatch(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "src"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(root, "node_modules"), 0o755); err != nil {
		t.Fatal(err)
	}

	batches := make(chan []string, 4)
	w, err := New(root, func(_ context.Context, changed []string) {
		batches <- changed
	}, Options{
		Debounce: 50 * time.Millisecond,
		SkipDirs: []string{"node_modules"},
		Filter:   func(rel string) bool { return strings.HasSuffix(rel, ".ts") },
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// Give Run time to register the tree.
	time.Sleep(100 * time.Millisecond)

	write := func(rel string) {
		if err := os.WriteFile(filepath.Join(root, rel), []byte("export const x = 1;\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write("src/a.ts")
	write("src/b.ts")
	write("src/notes.md")
	write("node_modules/ignored.ts")

	select {
	case changed := <-batches:
		if len(changed) != 2 || changed[0] != "src/a.ts" || changed[1] != "src/b.ts" {
			t.Errorf("expected [src/a.ts src/b.ts], got %v", changed)
		}
	case <-ctx.Done():
		t.Fatal("no batch delivered")
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	w.Close()
}

func TestWatcher_RunTwice(t *testing.T) {
	w, err := New(t.TempDir(), func(context.Context, []string) {}, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)

	if err := w.Run(ctx); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("expected ErrAlreadyRunning, got %v", err)
	}
	cancel()
	<-done
}

func TestNew_NilHandler(t *testing.T) {
	if _, err := New(t.TempDir(), nil, Options{}); err == nil {
		t.Error("expected error for nil handler")
	}
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.


// Package watch re-runs analysis when files under a project change.
package watch

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is the quiet period before a batch of changes is
// delivered.
const DefaultDebounce = 300 * time.Millisecond

// ErrAlreadyRunning is returned when Run is called twice.
var ErrAlreadyRunning = errors.New("watcher already running")

// ChangeHandler receives a batch of changed project-relative paths,
// sorted and deduplicated.
type ChangeHandler func(ctx context.Context, changed []string)

// Options configures a Watcher.
type Options struct {
	// Debounce is the quiet period before delivering changes.
	Debounce time.Duration

	// SkipDirs are directory base names never watched.
	SkipDirs []string

	// Filter selects the files whose changes are delivered. Nil accepts all.
	Filter func(rel string) bool

	Logger *slog.Logger
}

// Watcher watches a project tree.
//
// Description:
//
//	Every directory under root is watched except SkipDirs. Directories
//	created while running are added. Changes are collected until no event
//	arrives for the debounce period and then handed to the handler in one
//	batch. The handler runs on the watcher goroutine, so batches never
//	overlap.
//
// Thread Safety: Run must be called once. Close is safe from any goroutine.
type Watcher struct {
	root    string
	opts    Options
	handler ChangeHandler
	skip    map[string]bool
	fsw     *fsnotify.Watcher
	logger  *slog.Logger

	mu      sync.Mutex
	running bool
}

// New creates a Watcher for root.
func New(root string, handler ChangeHandler, opts Options) (*Watcher, error) {
	if handler == nil {
		return nil, errors.New("handler must not be nil")
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	skip := make(map[string]bool, len(opts.SkipDirs))
	for _, d := range opts.SkipDirs {
		skip[d] = true
	}
	return &Watcher{
		root:    filepath.Clean(root),
		opts:    opts,
		handler: handler,
		skip:    skip,
		fsw:     fsw,
		logger:  logger.With(slog.String("component", "watcher")),
	}, nil
}

// Run watches until ctx is done or Close is called.
//
// Outputs:
//
//	error - ctx.Err() on cancellation, nil after Close, or a setup error.
func (w *Watcher) Run(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return ErrAlreadyRunning
	}
	w.running = true
	w.mu.Unlock()

	if err := w.addTree(w.root); err != nil {
		return err
	}

	pending := make(map[string]bool)
	timer := time.NewTimer(w.opts.Debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if rel, ok := w.accept(ev); ok {
				pending[rel] = true
				timer.Reset(w.opts.Debounce)
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", slog.String("error", err.Error()))

		case <-timer.C:
			if len(pending) == 0 {
				continue
			}
			changed := make([]string, 0, len(pending))
			for rel := range pending {
				changed = append(changed, rel)
			}
			sort.Strings(changed)
			clear(pending)
			w.handler(ctx, changed)
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}

// accept turns an event into a relative path, adding new directories
// to the watch list.
func (w *Watcher) accept(ev fsnotify.Event) (string, bool) {
	if ev.Op == fsnotify.Chmod {
		return "", false
	}
	rel, err := filepath.Rel(w.root, ev.Name)
	if err != nil {
		return "", false
	}
	rel = filepath.ToSlash(rel)

	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if !w.skip[info.Name()] {
				if err := w.addTree(ev.Name); err != nil {
					w.logger.Warn("watching new directory failed",
						slog.String("path", rel), slog.String("error", err.Error()))
				}
			}
			return "", false
		}
	}
	if w.opts.Filter != nil && !w.opts.Filter(rel) {
		return "", false
	}
	return rel, true
}

// addTree watches dir and its subdirectories.
func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if p != w.root && w.skip[d.Name()] {
			return filepath.SkipDir
		}
		return w.fsw.Add(p)
	})
}

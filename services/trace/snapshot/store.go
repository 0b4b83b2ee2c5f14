// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.


// Package snapshot persists analysis results in BadgerDB.
//
// A snapshot is one dependency graph plus the flows traced over it,
// stored as gzip-compressed JSON with metadata for listing. Snapshots are
// grouped per project so the latest result for a project can be loaded
// and two results can be diffed.
package snapshot

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"
)

var (
	// ErrNotFound is returned when a snapshot or latest pointer is missing.
	ErrNotFound = errors.New("snapshot not found")

	// ErrIntegrity is returned when stored data does not match its hash.
	ErrIntegrity = errors.New("snapshot integrity check failed")
)

// StoreOptions configures how the database is opened.
type StoreOptions struct {
	// Dir holds the database files. Ignored when InMemory is true.
	Dir string

	// InMemory keeps everything in RAM. Used by tests and one-shot runs.
	InMemory bool

	// SyncWrites fsyncs every commit.
	SyncWrites bool

	// Logger receives badger's own log lines. nil silences them.
	Logger *slog.Logger
}

// badgerLogger adapts slog.Logger to badger.Logger.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// OpenStore opens a badger database for snapshots.
//
// Outputs:
//
//	*badger.DB - The opened database. Caller must Close it.
//	error - Non-nil if Dir is missing or badger cannot open it.
func OpenStore(opts StoreOptions) (*badger.DB, error) {
	var bopts badger.Options
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if opts.Dir == "" {
			return nil, errors.New("snapshot dir is required for a persistent store")
		}
		if err := os.MkdirAll(opts.Dir, 0o750); err != nil {
			return nil, fmt.Errorf("creating snapshot dir %s: %w", opts.Dir, err)
		}
		bopts = badger.DefaultOptions(opts.Dir)
	}
	bopts = bopts.WithSyncWrites(opts.SyncWrites).WithNumVersionsToKeep(1)

	if opts.Logger != nil {
		bopts = bopts.WithLogger(&badgerLogger{logger: opts.Logger.With(slog.String("component", "badger"))})
	} else {
		bopts = bopts.WithLogger(nil)
	}

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("opening snapshot store: %w", err)
	}
	return db, nil
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.


package snapshot

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/AleutianAI/flowtrace/services/trace/flow"
	"github.com/AleutianAI/flowtrace/services/trace/graph"
)

// Key layout.
//
//	flowtrace:snap:{projectHash}:{snapshotID}:data -> gzip(JSON(payload))
//	flowtrace:snap:{projectHash}:{snapshotID}:meta -> JSON(Metadata)
//	flowtrace:snap:{projectHash}:latest            -> snapshotID
//	flowtrace:snapidx:{snapshotID}                 -> projectHash
const (
	keyPrefixSnap   = "flowtrace:snap:"
	keyPrefixIndex  = "flowtrace:snapidx:"
	keySuffixData   = ":data"
	keySuffixMeta   = ":meta"
	keySuffixLatest = ":latest"
)

// Metadata describes a stored snapshot.
type Metadata struct {
	// SnapshotID is a time-ordered UUID (version 7).
	SnapshotID string `json:"snapshot_id"`

	ProjectRoot string `json:"project_root"`

	// ProjectHash is SHA256(ProjectRoot)[:16]. See ProjectHash.
	ProjectHash string `json:"project_hash"`

	// GraphHash is the graph's deterministic content hash.
	GraphHash string `json:"graph_hash"`

	Label string `json:"label,omitempty"`

	// CreatedAtMilli is the save time in Unix milliseconds UTC.
	CreatedAtMilli int64 `json:"created_at_milli"`

	NodeCount  int `json:"node_count"`
	EdgeCount  int `json:"edge_count"`
	CycleCount int `json:"cycle_count"`
	FlowCount  int `json:"flow_count"`

	SchemaVersion  string `json:"schema_version"`
	CompressedSize int64  `json:"compressed_size"`

	// ContentHash is SHA256 of the compressed payload.
	ContentHash string `json:"content_hash"`
}

// Snapshot is a loaded analysis result.
type Snapshot struct {
	Metadata Metadata               `json:"metadata"`
	Graph    *graph.DependencyGraph `json:"graph"`
	Flows    []*flow.EndToEndFlow   `json:"flows"`
}

type payload struct {
	Graph *graph.SerializableGraph `json:"graph"`
	Flows []*flow.EndToEndFlow     `json:"flows"`
}

// Diff compares two snapshots.
type Diff struct {
	Base   Metadata `json:"base"`
	Target Metadata `json:"target"`

	Graph *graph.GraphDiff `json:"graph"`

	// FlowsAdded and FlowsRemoved are flow ids, sorted.
	FlowsAdded   []string `json:"flows_added"`
	FlowsRemoved []string `json:"flows_removed"`
}

// ManagerOption is a functional option for Manager.
type ManagerOption func(*Manager)

// WithRetain keeps at most n snapshots per project; older ones are
// deleted after each Save. n <= 0 keeps everything.
func WithRetain(n int) ManagerOption {
	return func(m *Manager) {
		m.retain = n
	}
}

// WithClock replaces time.Now for CreatedAtMilli.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.now = now
	}
}

// Manager saves and loads snapshots.
//
// Thread Safety: Safe for concurrent use. Badger transactions provide
// the isolation; retention pruning may race with a concurrent Save for
// the same project and keep one extra snapshot.
type Manager struct {
	db     *badger.DB
	logger *slog.Logger
	retain int
	now    func() time.Time
}

// NewManager creates a Manager over an opened database.
//
// Inputs:
//
//	db - An opened badger database. Must not be nil. The caller closes it.
//	logger - Logger for diagnostics. Must not be nil.
//
// Outputs:
//
//	*Manager - The configured manager.
//	error - Non-nil if db or logger is nil.
func NewManager(db *badger.DB, logger *slog.Logger, opts ...ManagerOption) (*Manager, error) {
	if db == nil {
		return nil, errors.New("badger db must not be nil")
	}
	if logger == nil {
		return nil, errors.New("logger must not be nil")
	}
	m := &Manager{
		db:     db,
		logger: logger.With(slog.String("component", "snapshot")),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Save stores a graph and its flows as a new snapshot and makes it the
// project's latest.
//
// Inputs:
//
//	ctx - Context for cancellation. Must not be nil.
//	g - The graph. Must not be nil. Its ProjectRoot groups the snapshot.
//	flows - Flows traced over g. May be empty.
//	label - Optional human-readable label.
//
// Outputs:
//
//	*Metadata - The stored snapshot's metadata.
//	error - Non-nil if encoding or storage fails.
func (m *Manager) Save(ctx context.Context, g *graph.DependencyGraph, flows []*flow.EndToEndFlow, label string) (*Metadata, error) {
	if g == nil {
		return nil, errors.New("graph must not be nil")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sg := g.ToSerializable()
	if flows == nil {
		flows = []*flow.EndToEndFlow{}
	}
	raw, err := json.Marshal(payload{Graph: sg, Flows: flows})
	if err != nil {
		return nil, fmt.Errorf("marshaling snapshot: %w", err)
	}
	compressed, err := gzipBytes(raw)
	if err != nil {
		return nil, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generating snapshot id: %w", err)
	}

	meta := &Metadata{
		SnapshotID:     id.String(),
		ProjectRoot:    g.ProjectRoot,
		ProjectHash:    ProjectHash(g.ProjectRoot),
		GraphHash:      sg.GraphHash,
		Label:          label,
		CreatedAtMilli: m.now().UTC().UnixMilli(),
		NodeCount:      g.NodeCount(),
		EdgeCount:      g.EdgeCount(),
		CycleCount:     len(g.Cycles),
		FlowCount:      len(flows),
		SchemaVersion:  graph.GraphSchemaVersion,
		CompressedSize: int64(len(compressed)),
		ContentHash:    hashBytes(compressed),
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("marshaling metadata: %w", err)
	}

	err = m.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(dataKey(meta.ProjectHash, meta.SnapshotID), compressed); err != nil {
			return fmt.Errorf("storing data: %w", err)
		}
		if err := txn.Set(metaKey(meta.ProjectHash, meta.SnapshotID), metaJSON); err != nil {
			return fmt.Errorf("storing metadata: %w", err)
		}
		if err := txn.Set(latestKey(meta.ProjectHash), []byte(meta.SnapshotID)); err != nil {
			return fmt.Errorf("updating latest pointer: %w", err)
		}
		if err := txn.Set(indexKey(meta.SnapshotID), []byte(meta.ProjectHash)); err != nil {
			return fmt.Errorf("storing reverse index: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("writing snapshot: %w", err)
	}

	m.logger.Info("snapshot saved",
		slog.String("snapshot_id", meta.SnapshotID),
		slog.String("project_root", meta.ProjectRoot),
		slog.Int("node_count", meta.NodeCount),
		slog.Int("flow_count", meta.FlowCount),
		slog.Int64("compressed_size", meta.CompressedSize),
	)

	if m.retain > 0 {
		if err := m.prune(ctx, meta.ProjectHash); err != nil {
			m.logger.Warn("snapshot retention failed", slog.String("error", err.Error()))
		}
	}
	return meta, nil
}

// Load returns the snapshot with the given id.
func (m *Manager) Load(ctx context.Context, snapshotID string) (*Snapshot, error) {
	if snapshotID == "" {
		return nil, errors.New("snapshot ID must not be empty")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	projectHash, err := m.projectHashOf(snapshotID)
	if err != nil {
		return nil, err
	}
	return m.load(projectHash, snapshotID)
}

// LoadLatest returns the most recently saved snapshot for a project root.
func (m *Manager) LoadLatest(ctx context.Context, projectRoot string) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	projectHash := ProjectHash(projectRoot)

	var snapshotID string
	err := m.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(latestKey(projectHash))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			snapshotID = string(val)
			return nil
		})
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, fmt.Errorf("%w: no snapshot for %s", ErrNotFound, projectRoot)
		}
		return nil, fmt.Errorf("reading latest pointer: %w", err)
	}
	return m.load(projectHash, snapshotID)
}

// List returns snapshot metadata, newest first.
//
// Inputs:
//
//	ctx - Context for cancellation.
//	projectRoot - Optional filter. Empty lists every project.
//	limit - Maximum results. <= 0 means 100.
func (m *Manager) List(ctx context.Context, projectRoot string, limit int) ([]*Metadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}
	prefix := keyPrefixSnap
	if projectRoot != "" {
		prefix = keyPrefixSnap + ProjectHash(projectRoot) + ":"
	}

	results, err := m.listPrefix(prefix)
	if err != nil {
		return nil, err
	}
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Delete removes a snapshot. If it was its project's latest, the latest
// pointer moves to the next newest snapshot, or is removed.
func (m *Manager) Delete(ctx context.Context, snapshotID string) error {
	if snapshotID == "" {
		return errors.New("snapshot ID must not be empty")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	projectHash, err := m.projectHashOf(snapshotID)
	if err != nil {
		return err
	}

	err = m.db.Update(func(txn *badger.Txn) error {
		for _, key := range [][]byte{
			dataKey(projectHash, snapshotID),
			metaKey(projectHash, snapshotID),
			indexKey(snapshotID),
		} {
			if err := txn.Delete(key); err != nil {
				return fmt.Errorf("deleting %s: %w", key, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("deleting snapshot %s: %w", snapshotID, err)
	}

	if err := m.repointLatest(projectHash, snapshotID); err != nil {
		return err
	}
	m.logger.Info("snapshot deleted", slog.String("snapshot_id", snapshotID))
	return nil
}

// Diff loads two snapshots and compares them, base to target.
func (m *Manager) Diff(ctx context.Context, baseID, targetID string) (*Diff, error) {
	base, err := m.Load(ctx, baseID)
	if err != nil {
		return nil, fmt.Errorf("loading base: %w", err)
	}
	target, err := m.Load(ctx, targetID)
	if err != nil {
		return nil, fmt.Errorf("loading target: %w", err)
	}
	gd, err := graph.DiffGraphs(base.Graph, target.Graph)
	if err != nil {
		return nil, err
	}

	added, removed := diffFlowIDs(base.Flows, target.Flows)
	return &Diff{
		Base:         base.Metadata,
		Target:       target.Metadata,
		Graph:        gd,
		FlowsAdded:   added,
		FlowsRemoved: removed,
	}, nil
}

func diffFlowIDs(base, target []*flow.EndToEndFlow) (added, removed []string) {
	before := make(map[string]bool, len(base))
	for _, f := range base {
		before[f.ID] = true
	}
	after := make(map[string]bool, len(target))
	for _, f := range target {
		after[f.ID] = true
		if !before[f.ID] {
			added = append(added, f.ID)
		}
	}
	for _, f := range base {
		if !after[f.ID] {
			removed = append(removed, f.ID)
		}
	}
	sort.Strings(added)
	sort.Strings(removed)
	return added, removed
}

// prune deletes the project's snapshots beyond the retention count.
func (m *Manager) prune(ctx context.Context, projectHash string) error {
	all, err := m.listPrefix(keyPrefixSnap + projectHash + ":")
	if err != nil {
		return err
	}
	for i := m.retain; i < len(all); i++ {
		if err := m.Delete(ctx, all[i].SnapshotID); err != nil {
			return err
		}
	}
	return nil
}

// repointLatest moves the latest pointer off a deleted snapshot.
func (m *Manager) repointLatest(projectHash, deletedID string) error {
	remaining, err := m.listPrefix(keyPrefixSnap + projectHash + ":")
	if err != nil {
		return err
	}
	return m.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(latestKey(projectHash))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		current, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if string(current) != deletedID {
			return nil
		}
		if len(remaining) == 0 {
			return txn.Delete(latestKey(projectHash))
		}
		return txn.Set(latestKey(projectHash), []byte(remaining[0].SnapshotID))
	})
}

// listPrefix reads every metadata record under prefix, newest first.
func (m *Manager) listPrefix(prefix string) ([]*Metadata, error) {
	var results []*Metadata
	err := m.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			key := string(item.Key())
			if !strings.HasSuffix(key, keySuffixMeta) {
				continue
			}
			var meta Metadata
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &meta)
			}); err != nil {
				m.logger.Warn("skipping corrupt metadata", slog.String("key", key), slog.String("error", err.Error()))
				continue
			}
			results = append(results, &meta)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].CreatedAtMilli != results[j].CreatedAtMilli {
			return results[i].CreatedAtMilli > results[j].CreatedAtMilli
		}
		return results[i].SnapshotID > results[j].SnapshotID
	})
	return results, nil
}

func (m *Manager) load(projectHash, snapshotID string) (*Snapshot, error) {
	var compressed, metaJSON []byte
	err := m.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(dataKey(projectHash, snapshotID))
		if err != nil {
			return err
		}
		if compressed, err = item.ValueCopy(nil); err != nil {
			return err
		}
		item, err = txn.Get(metaKey(projectHash, snapshotID))
		if err != nil {
			return err
		}
		metaJSON, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, snapshotID)
		}
		return nil, fmt.Errorf("reading snapshot %s: %w", snapshotID, err)
	}

	var meta Metadata
	if err := json.Unmarshal(metaJSON, &meta); err != nil {
		return nil, fmt.Errorf("unmarshaling metadata for %s: %w", snapshotID, err)
	}
	if actual := hashBytes(compressed); meta.ContentHash != "" && meta.ContentHash != actual {
		return nil, fmt.Errorf("%w: %s: expected %s, got %s", ErrIntegrity, snapshotID, meta.ContentHash, actual)
	}

	raw, err := gunzipBytes(compressed)
	if err != nil {
		return nil, fmt.Errorf("decompressing snapshot %s: %w", snapshotID, err)
	}
	var p payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("unmarshaling snapshot %s: %w", snapshotID, err)
	}
	if p.Graph == nil {
		return nil, fmt.Errorf("snapshot %s has no graph", snapshotID)
	}
	g, err := graph.FromSerializable(p.Graph)
	if err != nil {
		return nil, fmt.Errorf("reconstructing graph for %s: %w", snapshotID, err)
	}

	return &Snapshot{Metadata: meta, Graph: g, Flows: p.Flows}, nil
}

func (m *Manager) projectHashOf(snapshotID string) (string, error) {
	var projectHash string
	err := m.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(indexKey(snapshotID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			projectHash = string(val)
			return nil
		})
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, snapshotID)
		}
		return "", fmt.Errorf("looking up snapshot %s: %w", snapshotID, err)
	}
	return projectHash, nil
}

// ProjectHash returns SHA256(projectRoot)[:16], the key prefix for a
// project's snapshots.
func ProjectHash(projectRoot string) string {
	h := sha256.Sum256([]byte(projectRoot))
	return hex.EncodeToString(h[:])[:16]
}

func dataKey(projectHash, id string) []byte {
	return []byte(keyPrefixSnap + projectHash + ":" + id + keySuffixData)
}

func metaKey(projectHash, id string) []byte {
	return []byte(keyPrefixSnap + projectHash + ":" + id + keySuffixMeta)
}

func latestKey(projectHash string) []byte {
	return []byte(keyPrefixSnap + projectHash + keySuffixLatest)
}

func indexKey(id string) []byte {
	return []byte(keyPrefixIndex + id)
}

func hashBytes(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	gw, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return nil, fmt.Errorf("creating gzip writer: %w", err)
	}
	if _, err := gw.Write(data); err != nil {
		return nil, fmt.Errorf("compressing snapshot: %w", err)
	}
	if err := gw.Close(); err != nil {
		return nil, fmt.Errorf("closing gzip writer: %w", err)
	}
	return buf.Bytes(), nil
}

func gunzipBytes(data []byte) ([]byte, error) {
	gr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer gr.Close()
	return io.ReadAll(gr)
}

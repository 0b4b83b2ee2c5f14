// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/AleutianAI/flowtrace/services/trace/ast"
)

// Default configuration values.
const (
	// DefaultMaxNodes is the default maximum number of nodes a graph can hold.
	DefaultMaxNodes = 1_000_000

	// DefaultMaxEdges is the default maximum number of edges a graph can hold.
	DefaultMaxEdges = 10_000_000
)

// NodeKind categorizes a dependency graph node.
type NodeKind int

const (
	NodeKindUnknown NodeKind = iota
	NodeKindFile
	NodeKindFunction
	NodeKindClass
	NodeKindVariable
)

var nodeKindNames = map[NodeKind]string{
	NodeKindUnknown:  "unknown",
	NodeKindFile:     "file",
	NodeKindFunction: "function",
	NodeKindClass:    "class",
	NodeKindVariable: "variable",
}

// String returns the string representation of the NodeKind.
func (k NodeKind) String() string {
	if name, ok := nodeKindNames[k]; ok {
		return name
	}
	return "unknown"
}

// MarshalText encodes the kind as its name.
func (k NodeKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText decodes a kind name.
func (k *NodeKind) UnmarshalText(text []byte) error {
	for kind, name := range nodeKindNames {
		if name == string(text) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown node kind %q", text)
}

// NodeKindForSymbol maps a declared symbol kind onto the graph's four
// node kinds. Interfaces, enums and type aliases are Class nodes so that
// implements edges always have a target.
func NodeKindForSymbol(kind ast.SymbolKind) NodeKind {
	switch kind {
	case ast.SymbolKindFunction, ast.SymbolKindMethod:
		return NodeKindFunction
	case ast.SymbolKindClass, ast.SymbolKindInterface, ast.SymbolKindEnum, ast.SymbolKindType:
		return NodeKindClass
	case ast.SymbolKindVariable, ast.SymbolKindConstant:
		return NodeKindVariable
	default:
		return NodeKindUnknown
	}
}

// EdgeKind defines the type of relationship between nodes.
type EdgeKind int

const (
	EdgeKindUnknown EdgeKind = iota
	EdgeKindImport
	EdgeKindExtends
	EdgeKindImplements
	EdgeKindCall

	// NumEdgeKinds is the total number of edge kinds (for array sizing).
	NumEdgeKinds
)

var edgeKindNames = map[EdgeKind]string{
	EdgeKindUnknown:    "unknown",
	EdgeKindImport:     "import",
	EdgeKindExtends:    "extends",
	EdgeKindImplements: "implements",
	EdgeKindCall:       "call",
}

// String returns the string representation of the EdgeKind.
func (k EdgeKind) String() string {
	if name, ok := edgeKindNames[k]; ok {
		return name
	}
	return "unknown"
}

// MarshalText encodes the kind as its name.
func (k EdgeKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText decodes a kind name.
func (k *EdgeKind) UnmarshalText(text []byte) error {
	for kind, name := range edgeKindNames {
		if name == string(text) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown edge kind %q", text)
}

// Node is a file or a declaration scoped under a file.
type Node struct {
	// ID is FilePath for files and FilePath + ":" + Name otherwise.
	ID       string   `json:"id"`
	Kind     NodeKind `json:"kind"`
	FilePath string   `json:"file_path"`
	Name     string   `json:"name"`

	// Location is the declaration span. Zero for file nodes.
	Location ast.Location `json:"location"`
}

// FileNodeID returns the id of the node for a file.
func FileNodeID(filePath string) string {
	return filePath
}

// SymbolNodeID returns the id of the node for a named declaration.
func SymbolNodeID(filePath, name string) string {
	return filePath + ":" + name
}

// Edge is a directed relationship between two nodes.
//
// Multiple edges with the same endpoints and kind are allowed; each comes
// from a separate declaration or call site.
type Edge struct {
	From    string   `json:"from"`
	To      string   `json:"to"`
	Kind    EdgeKind `json:"kind"`
	Dynamic bool     `json:"dynamic"`
}

// GraphOptions configures graph limits.
type GraphOptions struct {
	MaxNodes int
	MaxEdges int
}

// DefaultGraphOptions returns the default limits.
func DefaultGraphOptions() GraphOptions {
	return GraphOptions{
		MaxNodes: DefaultMaxNodes,
		MaxEdges: DefaultMaxEdges,
	}
}

// GraphOption is a functional option for configuring a graph.
type GraphOption func(*GraphOptions)

// WithMaxNodes sets the maximum number of nodes.
func WithMaxNodes(n int) GraphOption {
	return func(o *GraphOptions) {
		o.MaxNodes = n
	}
}

// WithMaxEdges sets the maximum number of edges.
func WithMaxEdges(n int) GraphOption {
	return func(o *GraphOptions) {
		o.MaxEdges = n
	}
}

// DependencyGraph is the output of a build: nodes, edges and cycles.
//
// Nodes and Edges keep insertion order, which is a pure function of the
// input record order. Lookups go through indexes that are rebuilt on
// deserialization.
//
// Thread Safety:
//
//	Single writer during build. Safe for concurrent reads after Freeze().
type DependencyGraph struct {
	ProjectRoot string

	Nodes []Node

	Edges []Edge

	// Cycles are node id sequences that start and end at the same id.
	// The same underlying cycle may appear more than once.
	Cycles [][]string

	options  GraphOptions
	frozen   bool
	nodeIdx  map[string]int
	outgoing map[string][]int
	incoming map[string][]int
	byFile   map[string][]int
}

// NewDependencyGraph creates an empty graph in building state.
func NewDependencyGraph(projectRoot string, opts ...GraphOption) *DependencyGraph {
	options := DefaultGraphOptions()
	for _, opt := range opts {
		opt(&options)
	}
	return &DependencyGraph{
		ProjectRoot: projectRoot,
		Nodes:       make([]Node, 0),
		Edges:       make([]Edge, 0),
		Cycles:      make([][]string, 0),
		options:     options,
		nodeIdx:     make(map[string]int),
		outgoing:    make(map[string][]int),
		incoming:    make(map[string][]int),
		byFile:      make(map[string][]int),
	}
}

// IsFrozen reports whether the graph is read-only.
func (g *DependencyGraph) IsFrozen() bool {
	return g.frozen
}

// Freeze makes the graph read-only. Safe to call more than once.
func (g *DependencyGraph) Freeze() {
	g.frozen = true
}

// NodeCount returns the number of nodes.
func (g *DependencyGraph) NodeCount() int {
	return len(g.Nodes)
}

// EdgeCount returns the number of edges.
func (g *DependencyGraph) EdgeCount() int {
	return len(g.Edges)
}

// AddNode appends a node.
//
// Outputs:
//
//	error - ErrGraphFrozen, ErrInvalidNode, ErrDuplicateNode or
//	        ErrMaxNodesExceeded.
func (g *DependencyGraph) AddNode(n Node) error {
	if g.frozen {
		return ErrGraphFrozen
	}
	if n.ID == "" || n.Kind == NodeKindUnknown {
		return fmt.Errorf("%w: id=%q kind=%s", ErrInvalidNode, n.ID, n.Kind)
	}
	if _, exists := g.nodeIdx[n.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateNode, n.ID)
	}
	if len(g.Nodes) >= g.options.MaxNodes {
		return ErrMaxNodesExceeded
	}

	g.nodeIdx[n.ID] = len(g.Nodes)
	g.byFile[n.FilePath] = append(g.byFile[n.FilePath], len(g.Nodes))
	g.Nodes = append(g.Nodes, n)
	return nil
}

// AddEdge appends an edge. Both endpoints must already be nodes.
//
// Outputs:
//
//	error - ErrGraphFrozen, ErrNodeNotFound or ErrMaxEdgesExceeded.
func (g *DependencyGraph) AddEdge(e Edge) error {
	if g.frozen {
		return ErrGraphFrozen
	}
	if _, ok := g.nodeIdx[e.From]; !ok {
		return fmt.Errorf("%w: from %s", ErrNodeNotFound, e.From)
	}
	if _, ok := g.nodeIdx[e.To]; !ok {
		return fmt.Errorf("%w: to %s", ErrNodeNotFound, e.To)
	}
	if len(g.Edges) >= g.options.MaxEdges {
		return ErrMaxEdgesExceeded
	}

	i := len(g.Edges)
	g.Edges = append(g.Edges, e)
	g.outgoing[e.From] = append(g.outgoing[e.From], i)
	g.incoming[e.To] = append(g.incoming[e.To], i)
	return nil
}

// Node returns the node with the given id.
func (g *DependencyGraph) Node(id string) (Node, bool) {
	i, ok := g.nodeIdx[id]
	if !ok {
		return Node{}, false
	}
	return g.Nodes[i], true
}

// HasNode reports whether a node with the id exists.
func (g *DependencyGraph) HasNode(id string) bool {
	_, ok := g.nodeIdx[id]
	return ok
}

// Outgoing returns edges leaving id, filtered to kinds when any are given.
// Edges are returned in insertion order.
func (g *DependencyGraph) Outgoing(id string, kinds ...EdgeKind) []Edge {
	return g.collectEdges(g.outgoing[id], kinds)
}

// Incoming returns edges arriving at id, filtered to kinds when any are
// given. Edges are returned in insertion order.
func (g *DependencyGraph) Incoming(id string, kinds ...EdgeKind) []Edge {
	return g.collectEdges(g.incoming[id], kinds)
}

func (g *DependencyGraph) collectEdges(indexes []int, kinds []EdgeKind) []Edge {
	out := make([]Edge, 0, len(indexes))
	for _, i := range indexes {
		e := g.Edges[i]
		if len(kinds) == 0 || containsKind(kinds, e.Kind) {
			out = append(out, e)
		}
	}
	return out
}

func containsKind(kinds []EdgeKind, k EdgeKind) bool {
	for _, kind := range kinds {
		if kind == k {
			return true
		}
	}
	return false
}

// NodesByFile returns the nodes declared in a file, file node first.
func (g *DependencyGraph) NodesByFile(filePath string) []Node {
	indexes := g.byFile[filePath]
	out := make([]Node, 0, len(indexes))
	for _, i := range indexes {
		out = append(out, g.Nodes[i])
	}
	return out
}

// EdgeCountByKind returns the number of edges of one kind.
func (g *DependencyGraph) EdgeCountByKind(kind EdgeKind) int {
	n := 0
	for _, e := range g.Edges {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

// Hash returns a deterministic hash of the node and edge multisets.
//
// Ordering does not affect the hash, so two builds over the same records
// in different orders that produce the same multisets hash equal.
func (g *DependencyGraph) Hash() string {
	nodeKeys := make([]string, 0, len(g.Nodes))
	for _, n := range g.Nodes {
		nodeKeys = append(nodeKeys, n.ID+"|"+n.Kind.String())
	}
	sort.Strings(nodeKeys)

	edgeKeys := make([]string, 0, len(g.Edges))
	for _, e := range g.Edges {
		edgeKeys = append(edgeKeys, fmt.Sprintf("%s|%s|%s|%t", e.From, e.To, e.Kind, e.Dynamic))
	}
	sort.Strings(edgeKeys)

	h := sha256.New()
	h.Write([]byte(strings.Join(nodeKeys, "\n")))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(edgeKeys, "\n")))
	return hex.EncodeToString(h.Sum(nil))
}

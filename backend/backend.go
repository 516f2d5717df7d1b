// Package backend defines the storage contract every implementation of the
// engine satisfies (spec §4.11), and provides an in-memory implementation.
package backend

import (
	"context"

	"github.com/memkit/memkit/memory"
)

// ListOptions configures Backend.ListMemories.
type ListOptions struct {
	Limit int
	Type  memory.MemoryType
	Tags  []string
}

// SearchOptions configures Backend.SearchMemories.
type SearchOptions struct {
	Limit         int
	Threshold     float64
	Type          memory.MemoryType
	Tags          []string
	MinConfidence float64
}

// Direction selects which incident edges Backend.Neighbors traverses.
type Direction string

const (
	DirOutgoing Direction = "outgoing"
	DirIncoming Direction = "incoming"
	DirBoth     Direction = "both"
)

// NeighborOptions configures Backend.Neighbors.
type NeighborOptions struct {
	Type      memory.EdgeType
	MinWeight float64
	Limit     int
}

// ExpandOptions configures Backend.Expand.
type ExpandOptions struct {
	Depth         int
	MinWeight     float64
	MinConfidence float64
	Limit         int
}

// Scored pairs a memory with a similarity score.
type Scored struct {
	Memory *memory.Memory
	Score  float64
}

// Neighbor pairs a peer memory with the edge that connects it.
type Neighbor struct {
	Memory *memory.Memory
	Edge   *memory.Edge
}

// ExpandResult is the induced subgraph returned by Backend.Expand.
type ExpandResult struct {
	Memories []*memory.Memory
	Edges    []*memory.Edge
}

// Backend is the single storage/search/traversal contract satisfied by
// every implementation (spec §4.11).
type Backend interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error

	PutMemory(ctx context.Context, m *memory.Memory, ac memory.AccessContext) error
	GetMemory(ctx context.Context, id string, ac memory.AccessContext) (*memory.Memory, error)
	DeleteMemory(ctx context.Context, id string, ac memory.AccessContext) error
	ListMemories(ctx context.Context, ac memory.AccessContext, opts ListOptions) ([]*memory.Memory, error)
	SearchMemories(ctx context.Context, vec []float32, ac memory.AccessContext, opts SearchOptions) ([]Scored, error)

	PutEdge(ctx context.Context, e *memory.Edge, ac memory.AccessContext) (*memory.Edge, error)
	DeleteEdge(ctx context.Context, fromID, toID string, typ memory.EdgeType) error
	Neighbors(ctx context.Context, id string, dir Direction, ac memory.AccessContext, opts NeighborOptions) ([]Neighbor, error)
	Expand(ctx context.Context, seedIDs []string, ac memory.AccessContext, opts ExpandOptions) (ExpandResult, error)
}

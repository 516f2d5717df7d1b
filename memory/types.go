// Package memory defines the core value types of the engine: Memory, Edge
// and AccessContext, their enumerations, and the invariants enforced at
// construction.
package memory

import (
	"time"

	"github.com/google/uuid"
)

// MemoryType enumerates the kinds of memory atom (spec §3).
type MemoryType string

const (
	TypeFact         MemoryType = "fact"
	TypeConversation MemoryType = "conversation"
	TypeEpisodic     MemoryType = "episodic"
	TypeReflection   MemoryType = "reflection"
	TypeObservation  MemoryType = "observation"
	TypeDecision     MemoryType = "decision"
)

func (t MemoryType) Valid() bool {
	switch t {
	case TypeFact, TypeConversation, TypeEpisodic, TypeReflection, TypeObservation, TypeDecision:
		return true
	}
	return false
}

func (t MemoryType) String() string { return string(t) }

// Scope is the access tier of a Memory or Edge, under the total order
// private < shared < global.
type Scope string

const (
	ScopePrivate Scope = "private"
	ScopeShared  Scope = "shared"
	ScopeGlobal  Scope = "global"
)

func (s Scope) Valid() bool {
	switch s {
	case ScopePrivate, ScopeShared, ScopeGlobal:
		return true
	}
	return false
}

func (s Scope) String() string { return string(s) }

// rank returns the position of s in the total order, used by Min.
func (s Scope) rank() int {
	switch s {
	case ScopePrivate:
		return 0
	case ScopeShared:
		return 1
	case ScopeGlobal:
		return 2
	}
	return 0
}

// Min returns the more restrictive (lower-ranked) of two scopes, per I6.
func (s Scope) Min(other Scope) Scope {
	if s.rank() <= other.rank() {
		return s
	}
	return other
}

// EdgeType enumerates the kinds of relationship between two memories.
type EdgeType string

const (
	EdgeRelatesTo   EdgeType = "relates_to"
	EdgeSupports    EdgeType = "supports"
	EdgeContradicts EdgeType = "contradicts"
	EdgeCauses      EdgeType = "causes"
	EdgeFollows     EdgeType = "follows"
)

func (t EdgeType) Valid() bool {
	switch t {
	case EdgeRelatesTo, EdgeSupports, EdgeContradicts, EdgeCauses, EdgeFollows:
		return true
	}
	return false
}

func (t EdgeType) String() string { return string(t) }

// Role is the caller's role carried by an AccessContext.
type Role string

const (
	RoleAgent      Role = "agent"
	RoleSupervisor Role = "supervisor"
	RoleSystem     Role = "system"
)

func (r Role) Valid() bool {
	switch r {
	case RoleAgent, RoleSupervisor, RoleSystem:
		return true
	}
	return false
}

// Capability strings recognized by AccessContext.Permissions.
const (
	CapReadShared  = "read_shared"
	CapWriteShared = "write_shared"
	CapReadGlobal  = "read_global"
	CapWriteGlobal = "write_global"
)

// Memory is a typed text record with an optional embedding, owned by an
// agent (spec §3).
type Memory struct {
	ID             string
	Type           MemoryType
	Summary        string
	Content        string
	Embedding      []float32
	Importance     float64
	Confidence     float64
	Scope          Scope
	AgentID        string
	TenantID       string
	Tags           []string
	Metadata       map[string]any
	SessionID      string
	AccessCount    int
	LastAccessedAt *time.Time
	InsertedAt     time.Time
	UpdatedAt      time.Time
}

// Edge is a typed weighted directed link between two memories (spec §3).
type Edge struct {
	ID         string
	FromID     string
	ToID       string
	Type       EdgeType
	Weight     float64
	Confidence float64
	Scope      Scope
	Metadata   map[string]any
	InsertedAt time.Time
	UpdatedAt  time.Time
}

// NewID generates a new opaque, backend-unique identifier. The spec calls
// for "16 random bytes when absent"; a UUIDv4 satisfies this directly and is
// the id scheme the teacher uses throughout its own storage layers.
func NewID() string {
	return uuid.New().String()
}

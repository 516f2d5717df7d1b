// Package storage implements the write-path Storage service (spec §4.6):
// applying context defaults, demoting unwritable scopes, validating
// invariants, and persisting through the Backend contract.
package storage

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/memkit/memkit/backend"
	"github.com/memkit/memkit/memory"
)

// Store persists and retrieves memories through the write-path pipeline.
type Store struct {
	backend    backend.Backend
	dimensions int
	now        func() time.Time
	logger     *zap.Logger
}

func NewStore(be backend.Backend, embeddingDimensions int, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		backend:    be,
		dimensions: embeddingDimensions,
		now:        time.Now,
		logger:     logger.With(zap.String("component", "storage")),
	}
}

// StoreMemory implements spec §4.6's store operation, steps 1-6.
func (s *Store) StoreMemory(ctx context.Context, attrs memory.MemoryAttrs, ac memory.AccessContext) (*memory.Memory, error) {
	// Step 1: apply context defaults.
	if attrs.AgentID == "" {
		attrs.AgentID = ac.AgentID
	}
	if attrs.TenantID == "" {
		attrs.TenantID = ac.TenantID
	}

	// Step 2: silently demote a scope the caller cannot write.
	proposedScope := attrs.Scope
	if proposedScope == "" {
		proposedScope = memory.ScopePrivate
	}
	if !ac.CanWrite(proposedScope) {
		attrs.Scope = memory.ScopePrivate
	}

	// Step 3: embedding is computed asynchronously by the indexer; a
	// pre-computed embedding in attrs (if present) bypasses that step.

	// Step 4: construct, enforcing I1-I4.
	m, err := memory.NewMemory(attrs, s.dimensions, s.now().UTC())
	if err != nil {
		return nil, err
	}

	// Step 5: re-check write access against the (possibly I1-demoted) scope.
	if !ac.CanWrite(m.Scope) {
		return nil, memory.NewError(memory.ErrAccessDenied, "caller cannot write to this scope")
	}

	// Step 6: persist.
	if err := s.backend.PutMemory(ctx, m, ac); err != nil {
		return nil, err
	}
	return m, nil
}

// GetMemory is a thin pass-through to the backend.
func (s *Store) GetMemory(ctx context.Context, id string, ac memory.AccessContext) (*memory.Memory, error) {
	return s.backend.GetMemory(ctx, id, ac)
}

// ListMemories is a thin pass-through to the backend.
func (s *Store) ListMemories(ctx context.Context, ac memory.AccessContext, opts backend.ListOptions) ([]*memory.Memory, error) {
	return s.backend.ListMemories(ctx, ac, opts)
}

// DeleteMemory additionally requires that the caller is system role or the
// memory's owner (spec §4.6).
func (s *Store) DeleteMemory(ctx context.Context, id string, ac memory.AccessContext) error {
	m, err := s.backend.GetMemory(ctx, id, ac)
	if err != nil {
		if memory.KindOf(err) == memory.ErrNotFound {
			return nil
		}
		return err
	}
	if ac.Role != memory.RoleSystem && m.AgentID != ac.AgentID {
		return memory.NewError(memory.ErrAccessDenied, "only the owning agent or a system caller may delete this memory")
	}
	return s.backend.DeleteMemory(ctx, id, ac)
}

package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memkit/memkit/backend"
	"github.com/memkit/memkit/memory"
)

// TestStoreDemotesLowConfidenceScope covers P1/S2: confidence < 0.7 forces
// scope=private regardless of the requested scope.
func TestStoreDemotesLowConfidenceScope(t *testing.T) {
	be := backend.NewMemoryBackend(nil)
	store := NewStore(be, 0, nil)
	ac := memory.NewAccessContext("a1")
	ac.Permissions[memory.CapWriteShared] = struct{}{}

	c := 0.5
	m, err := store.StoreMemory(context.Background(), memory.MemoryAttrs{
		Content:    "text",
		Scope:      memory.ScopeShared,
		Confidence: &c,
	}, ac)
	require.NoError(t, err)
	assert.Equal(t, memory.ScopePrivate, m.Scope)
}

// TestStoreDemotesScopeCallerCannotWrite covers spec §4.6 step 2: a caller
// without write_shared silently gets a private memory instead of an error.
func TestStoreDemotesScopeCallerCannotWrite(t *testing.T) {
	be := backend.NewMemoryBackend(nil)
	store := NewStore(be, 0, nil)
	ac := memory.NewAccessContext("a1")

	m, err := store.StoreMemory(context.Background(), memory.MemoryAttrs{
		Content: "text",
		Scope:   memory.ScopeShared,
	}, ac)
	require.NoError(t, err)
	assert.Equal(t, memory.ScopePrivate, m.Scope)
}

// TestStoreAppliesContextDefaults covers spec §4.6 step 1.
func TestStoreAppliesContextDefaults(t *testing.T) {
	be := backend.NewMemoryBackend(nil)
	store := NewStore(be, 0, nil)
	ac := memory.NewAccessContext("a1")
	ac.TenantID = "tenant-x"

	m, err := store.StoreMemory(context.Background(), memory.MemoryAttrs{Content: "text"}, ac)
	require.NoError(t, err)
	assert.Equal(t, "a1", m.AgentID)
	assert.Equal(t, "tenant-x", m.TenantID)
}

// TestGetMemoryAccessDenied covers S3: a private memory is invisible to a
// different agent with no shared access.
func TestGetMemoryAccessDenied(t *testing.T) {
	be := backend.NewMemoryBackend(nil)
	store := NewStore(be, 0, nil)
	ac1 := memory.NewAccessContext("a1")
	m, err := store.StoreMemory(context.Background(), memory.MemoryAttrs{Content: "private thing"}, ac1)
	require.NoError(t, err)

	ac2 := memory.NewAccessContext("a2")
	_, err = store.GetMemory(context.Background(), m.ID, ac2)
	require.Error(t, err)
	assert.Equal(t, memory.ErrAccessDenied, memory.KindOf(err))
}

func TestDeleteMemoryRequiresOwnerOrSystem(t *testing.T) {
	be := backend.NewMemoryBackend(nil)
	store := NewStore(be, 0, nil)
	ac1 := memory.NewAccessContext("a1")
	m, err := store.StoreMemory(context.Background(), memory.MemoryAttrs{Content: "mine"}, ac1)
	require.NoError(t, err)

	ac2 := memory.NewAccessContext("a2")
	ac2.AllowShared = true
	err = store.DeleteMemory(context.Background(), m.ID, ac2)
	require.Error(t, err)
	assert.Equal(t, memory.ErrAccessDenied, memory.KindOf(err))

	sysAC := memory.AccessContext{AgentID: "system", Role: memory.RoleSystem}
	require.NoError(t, store.DeleteMemory(context.Background(), m.ID, sysAC))

	_, err = store.GetMemory(context.Background(), m.ID, sysAC)
	assert.Equal(t, memory.ErrNotFound, memory.KindOf(err))
}

func TestDeleteMemoryIsIdempotent(t *testing.T) {
	be := backend.NewMemoryBackend(nil)
	store := NewStore(be, 0, nil)
	ac := memory.NewAccessContext("a1")
	require.NoError(t, store.DeleteMemory(context.Background(), "nonexistent", ac))
}

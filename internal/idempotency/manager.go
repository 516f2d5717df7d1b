// Package idempotency provides the durable-mode Indexer's dedup window:
// claiming a memory id for up to a configured uniqueness window so
// concurrent re-enqueues of the same memory collapse into one job (spec
// §4.4, §9).
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultWindow is the uniqueness window spec §4.4 names for the durable
// Indexer mode.
const DefaultWindow = 60 * time.Second

// Manager claims and releases dedup keys for in-flight indexing jobs.
type Manager interface {
	// TryClaim atomically claims key for window if unclaimed, returning
	// true on success. A claimed key is rejected by subsequent TryClaim
	// calls until it expires or is released.
	TryClaim(ctx context.Context, key string, window time.Duration) (bool, error)
	// Release clears a claim early, e.g. after a job completes or gives up.
	Release(ctx context.Context, key string) error
}

type redisManager struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

// NewRedisManager builds a Redis-backed Manager using SET NX for atomic
// claim semantics.
func NewRedisManager(client *redis.Client, prefix string, logger *zap.Logger) Manager {
	if prefix == "" {
		prefix = "memkit:indexer:"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &redisManager{client: client, prefix: prefix, logger: logger.With(zap.String("component", "idempotency_redis"))}
}

func (m *redisManager) TryClaim(ctx context.Context, key string, window time.Duration) (bool, error) {
	if window <= 0 {
		window = DefaultWindow
	}
	ok, err := m.client.SetNX(ctx, m.prefix+key, "1", window).Result()
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", key, err)
	}
	return ok, nil
}

func (m *redisManager) Release(ctx context.Context, key string) error {
	if err := m.client.Del(ctx, m.prefix+key).Err(); err != nil {
		return fmt.Errorf("release %s: %w", key, err)
	}
	return nil
}

type memoryEntry struct {
	expiresAt time.Time
}

type memoryManager struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	logger  *zap.Logger
	stop    chan struct{}
}

// NewMemoryManager builds an in-process Manager (single-node deployments,
// tests).
func NewMemoryManager(logger *zap.Logger) Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &memoryManager{
		entries: make(map[string]memoryEntry),
		logger:  logger.With(zap.String("component", "idempotency_memory")),
		stop:    make(chan struct{}),
	}
	go m.cleanupLoop()
	return m
}

func (m *memoryManager) TryClaim(ctx context.Context, key string, window time.Duration) (bool, error) {
	if window <= 0 {
		window = DefaultWindow
	}
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[key]; ok && now.Before(e.expiresAt) {
		return false, nil
	}
	m.entries[key] = memoryEntry{expiresAt: now.Add(window)}
	return true, nil
}

func (m *memoryManager) Release(ctx context.Context, key string) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

func (m *memoryManager) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			now := time.Now()
			m.mu.Lock()
			for k, e := range m.entries {
				if now.After(e.expiresAt) {
					delete(m.entries, k)
				}
			}
			m.mu.Unlock()
		case <-m.stop:
			return
		}
	}
}

// Close stops the in-memory manager's cleanup goroutine. Redis-backed
// managers have no background loop to stop.
func (m *memoryManager) Close() { close(m.stop) }

var ErrNotMemoryManager = errors.New("manager is not an in-memory idempotency manager")

// CloseMemoryManager stops the cleanup goroutine of a Manager created by
// NewMemoryManager.
func CloseMemoryManager(m Manager) error {
	mm, ok := m.(*memoryManager)
	if !ok {
		return ErrNotMemoryManager
	}
	mm.Close()
	return nil
}

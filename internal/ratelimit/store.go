package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/inference-gate/llm-gateway/internal/storage"
)

// Counter is the mutable usage state for one (identity, window) pair.
// Each counter carries its own window start; the window slides only when it
// expires, independent of wall-clock boundaries.
type Counter struct {
	Tokens    int64     `json:"tokens"`
	Requests  int64     `json:"requests"`
	StartedAt time.Time `json:"timestamp"`
}

// Store persists counters with per-key expiry so abandoned counters are
// reclaimed without a background sweep. Get returns (nil, nil) when the key
// is absent. No atomic increment is assumed; callers perform read-modify-write
// and accept the resulting race as a soft limit.
type Store interface {
	Get(ctx context.Context, key string) (*Counter, error)
	Put(ctx context.Context, key string, counter *Counter, ttl time.Duration) error
}

// RedisStore keeps counters as JSON values with a TTL.
type RedisStore struct {
	redis *storage.RedisClient
}

func NewRedisStore(redis *storage.RedisClient) *RedisStore {
	return &RedisStore{redis: redis}
}

func (s *RedisStore) Get(ctx context.Context, key string) (*Counter, error) {
	data, err := s.redis.Get(ctx, key)
	if storage.IsNil(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read counter %s: %w", key, err)
	}

	var counter Counter
	if err := json.Unmarshal([]byte(data), &counter); err != nil {
		// A corrupt counter is treated as absent rather than poisoning
		// every subsequent check for this identity.
		return nil, nil
	}

	return &counter, nil
}

func (s *RedisStore) Put(ctx context.Context, key string, counter *Counter, ttl time.Duration) error {
	data, err := json.Marshal(counter)
	if err != nil {
		return fmt.Errorf("failed to encode counter %s: %w", key, err)
	}

	if err := s.redis.Set(ctx, key, data, ttl); err != nil {
		return fmt.Errorf("failed to write counter %s: %w", key, err)
	}

	return nil
}

// MemoryStore is a mutex-guarded in-process store for tests and single-node
// deployments. Expired entries are dropped on read.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	counter  Counter
	expireAt time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]memoryEntry)}
}

func (s *MemoryStore) Get(ctx context.Context, key string) (*Counter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		return nil, nil
	}
	if time.Now().After(entry.expireAt) {
		delete(s.entries, key)
		return nil, nil
	}

	counter := entry.counter
	return &counter, nil
}

func (s *MemoryStore) Put(ctx context.Context, key string, counter *Counter, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = memoryEntry{
		counter:  *counter,
		expireAt: time.Now().Add(ttl),
	}
	return nil
}

// Len returns the number of live entries, for tests.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

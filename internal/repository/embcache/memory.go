package embcache

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/kailas-cloud/voicerag/internal/db"
)

// MemoryStore is a bounded in-process KV for deployments without Redis.
type MemoryStore struct {
	cache *lru.Cache[string, []byte]
}

// NewMemoryStore creates an LRU store holding at most size entries.
func NewMemoryStore(size int) (*MemoryStore, error) {
	c, err := lru.New[string, []byte](size)
	if err != nil {
		return nil, fmt.Errorf("create lru: %w", err)
	}
	return &MemoryStore{cache: c}, nil
}

// Get returns a copy of the stored value or db.ErrKeyNotFound.
func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	v, ok := m.cache.Get(key)
	if !ok {
		return nil, db.ErrKeyNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

// Set stores a copy of value, evicting the least recently used entry when full.
func (m *MemoryStore) Set(_ context.Context, key string, value []byte) error {
	v := make([]byte, len(value))
	copy(v, value)
	m.cache.Add(key, v)
	return nil
}

// Len returns the number of cached entries.
func (m *MemoryStore) Len() int {
	return m.cache.Len()
}

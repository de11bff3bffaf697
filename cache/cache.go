// Package cache provides response stores for the REST client: an in-memory
// LRU, Redis, and SQLite backends behind one Store interface.
package cache

import (
	"container/list"
	"context"
	"errors"
	"sync"
	"time"
)

// ErrMiss is returned by Get when the key is absent or expired.
var ErrMiss = errors.New("cache miss")

// Store is a byte-valued key store with per-entry TTL.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Memory implements Store with TTL expiration and LRU eviction.
type Memory struct {
	mu         sync.Mutex
	items      map[string]*list.Element
	eviction   *list.List // front = most recently used
	maxSize    int
	defaultTTL time.Duration
	now        func() time.Time

	hits      int64
	misses    int64
	evictions int64
}

type memoryEntry struct {
	key       string
	value     []byte
	expiresAt time.Time
}

// MemoryConfig configures a Memory store.
type MemoryConfig struct {
	// MaxSize is the maximum number of entries.
	MaxSize int
	// DefaultTTL applies when Set is called with a zero TTL.
	DefaultTTL time.Duration
}

// DefaultMemoryConfig returns sensible defaults.
func DefaultMemoryConfig() MemoryConfig {
	return MemoryConfig{
		MaxSize:    1000,
		DefaultTTL: time.Minute,
	}
}

// NewMemory creates a Memory store.
func NewMemory(cfg MemoryConfig) *Memory {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 1000
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = time.Minute
	}
	return &Memory{
		items:      make(map[string]*list.Element, cfg.MaxSize),
		eviction:   list.New(),
		maxSize:    cfg.MaxSize,
		defaultTTL: cfg.DefaultTTL,
		now:        time.Now,
	}
}

// Get returns the value for key or ErrMiss.
func (c *Memory) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		c.misses++
		return nil, ErrMiss
	}
	entry := elem.Value.(*memoryEntry)
	if c.now().After(entry.expiresAt) {
		c.removeLocked(elem)
		c.misses++
		return nil, ErrMiss
	}
	c.eviction.MoveToFront(elem)
	c.hits++
	out := make([]byte, len(entry.value))
	copy(out, entry.value)
	return out, nil
}

// Set stores value under key. A zero ttl uses the default TTL.
func (c *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	stored := make([]byte, len(value))
	copy(stored, value)

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		entry := elem.Value.(*memoryEntry)
		entry.value = stored
		entry.expiresAt = c.now().Add(ttl)
		c.eviction.MoveToFront(elem)
		return nil
	}

	for c.eviction.Len() >= c.maxSize {
		c.evictLocked()
	}
	elem := c.eviction.PushFront(&memoryEntry{
		key:       key,
		value:     stored,
		expiresAt: c.now().Add(ttl),
	})
	c.items[key] = elem
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (c *Memory) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.items[key]; ok {
		c.removeLocked(elem)
	}
	return nil
}

// Len returns the number of entries, including expired ones not yet evicted.
func (c *Memory) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.eviction.Len()
}

// Stats holds cache statistics.
type Stats struct {
	Size      int
	MaxSize   int
	Hits      int64
	Misses    int64
	Evictions int64
}

// Stats returns a snapshot of the counters.
func (c *Memory) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Size:      c.eviction.Len(),
		MaxSize:   c.maxSize,
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
}

func (c *Memory) evictLocked() {
	back := c.eviction.Back()
	if back == nil {
		return
	}
	c.removeLocked(back)
	c.evictions++
}

func (c *Memory) removeLocked(elem *list.Element) {
	entry := elem.Value.(*memoryEntry)
	delete(c.items, entry.key)
	c.eviction.Remove(elem)
}

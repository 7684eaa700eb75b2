package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrCacheMiss indicates the requested key was not found in cache
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates the cache entry is invalid or corrupted
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// DefaultMaxEntries bounds the memory layer when Options leaves it unset.
const DefaultMaxEntries = 256

// Options configures a Manager.
type Options struct {
	// MaxEntries bounds the in-memory LRU.
	MaxEntries int

	// Redis enables the shared layer. Nil keeps the cache in memory only.
	Redis *redis.Client
}

// Manager handles two-tier caching: an in-memory LRU backed by Redis.
type Manager struct {
	memory *lru.Cache[string, *Entry]
	redis  *redis.Client
}

// NewManager creates a new cache manager.
func NewManager(opts Options) (*Manager, error) {
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = DefaultMaxEntries
	}
	memory, err := lru.New[string, *Entry](opts.MaxEntries)
	if err != nil {
		return nil, fmt.Errorf("create lru: %w", err)
	}
	return &Manager{memory: memory, redis: opts.Redis}, nil
}

// Get retrieves a cache entry by key.
// Returns ErrCacheMiss if the key doesn't exist in any layer or is expired.
func (m *Manager) Get(ctx context.Context, key Key) (*Entry, error) {
	k := key.String()

	if entry, ok := m.memory.Get(k); ok {
		if !entry.IsExpired() {
			CacheHits.WithLabelValues("memory").Inc()
			return entry, nil
		}
		m.memory.Remove(k)
		CacheEntries.WithLabelValues("memory").Set(float64(m.memory.Len()))
	}

	if m.redis == nil {
		CacheMisses.Inc()
		return nil, ErrCacheMiss
	}

	data, err := m.redis.Get(ctx, k).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			CacheMisses.Inc()
			return nil, ErrCacheMiss
		}
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}

	if entry.IsExpired() {
		_ = m.redis.Del(ctx, k).Err()
		CacheMisses.Inc()
		return nil, ErrCacheMiss
	}

	CacheHits.WithLabelValues("redis").Inc()
	m.memory.Add(k, &entry)
	CacheEntries.WithLabelValues("memory").Set(float64(m.memory.Len()))

	return &entry, nil
}

// Set stores an entry in every layer. Expired entries are not stored.
func (m *Manager) Set(ctx context.Context, key Key, entry *Entry) error {
	if entry == nil {
		return fmt.Errorf("cache entry cannot be nil")
	}

	ttl := entry.TTL()
	if ttl <= 0 {
		return nil
	}

	k := key.String()
	m.memory.Add(k, entry)
	CacheEntries.WithLabelValues("memory").Set(float64(m.memory.Len()))

	if m.redis == nil {
		return nil
	}

	data, err := json.Marshal(entry)
	if err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	if err := m.redis.Set(ctx, k, data, ttl).Err(); err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("redis set: %w", err)
	}

	return nil
}

// Delete removes an entry from every layer.
func (m *Manager) Delete(ctx context.Context, key Key) error {
	k := key.String()
	m.memory.Remove(k)
	CacheEntries.WithLabelValues("memory").Set(float64(m.memory.Len()))

	if m.redis == nil {
		return nil
	}
	if err := m.redis.Del(ctx, k).Err(); err != nil {
		CacheErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Purge empties the memory layer. Redis entries expire on their own.
func (m *Manager) Purge() {
	m.memory.Purge()
	CacheEntries.WithLabelValues("memory").Set(0)
}

// Len returns the number of entries held in memory.
func (m *Manager) Len() int {
	return m.memory.Len()
}

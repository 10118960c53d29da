package cache

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

func (entry *memoryEntry) expired() bool {
	return time.Now().After(entry.expiresAt)
}

// MemoryCache is an in-process Cache for single-instance deployments and
// tests. Expired entries are dropped lazily on read and swept by a
// background goroutine.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]*memoryEntry

	sweepInterval time.Duration
	stopSweep     chan struct{}
	stopOnce      sync.Once
}

func NewMemoryCache() *MemoryCache {
	memory := &MemoryCache{
		entries:       make(map[string]*memoryEntry),
		sweepInterval: time.Minute,
		stopSweep:     make(chan struct{}),
	}
	go memory.sweep()
	return memory
}

func (cache *MemoryCache) Get(ctx context.Context, key string) ([]byte, error) {
	cache.mu.RLock()
	defer cache.mu.RUnlock()

	entry, exists := cache.entries[key]
	if !exists || entry.expired() {
		return nil, ErrCacheMiss
	}

	value := make([]byte, len(entry.value))
	copy(value, entry.value)
	return value, nil
}

func (cache *MemoryCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	stored := make([]byte, len(value))
	copy(stored, value)

	cache.mu.Lock()
	defer cache.mu.Unlock()
	cache.entries[key] = &memoryEntry{value: stored, expiresAt: time.Now().Add(ttl)}
	return nil
}

func (cache *MemoryCache) Delete(ctx context.Context, key string) error {
	cache.mu.Lock()
	defer cache.mu.Unlock()
	delete(cache.entries, key)
	return nil
}

func (cache *MemoryCache) Exists(ctx context.Context, key string) (bool, error) {
	cache.mu.RLock()
	defer cache.mu.RUnlock()

	entry, exists := cache.entries[key]
	return exists && !entry.expired(), nil
}

func (cache *MemoryCache) GetOrSet(ctx context.Context, key string, ttl time.Duration, fn func() ([]byte, error)) ([]byte, error) {
	if value, err := cache.Get(ctx, key); err == nil {
		return value, nil
	}

	value, err := fn()
	if err != nil {
		return nil, err
	}
	_ = cache.Set(ctx, key, value, ttl)
	return value, nil
}

func (cache *MemoryCache) Clear(ctx context.Context) error {
	cache.mu.Lock()
	defer cache.mu.Unlock()
	cache.entries = make(map[string]*memoryEntry)
	return nil
}

// Close stops the background sweeper.
func (cache *MemoryCache) Close() error {
	cache.stopOnce.Do(func() {
		close(cache.stopSweep)
	})
	return nil
}

func (cache *MemoryCache) sweep() {
	ticker := time.NewTicker(cache.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cache.removeExpired()
		case <-cache.stopSweep:
			return
		}
	}
}

func (cache *MemoryCache) removeExpired() {
	cache.mu.Lock()
	defer cache.mu.Unlock()

	for key, entry := range cache.entries {
		if entry.expired() {
			delete(cache.entries, key)
		}
	}
}

package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// MemoryCache implements an in-memory cache with TTL support
type MemoryCache struct {
	items    map[string]*memoryItem
	mu       sync.RWMutex
	maxSize  int
	stopChan chan struct{}
	stopOnce sync.Once

	hits      int64
	misses    int64
	evictions int64
}

// memoryItem represents an item in memory cache
type memoryItem struct {
	value      []byte
	expiration time.Time
	accessed   int64 // unix nanos, updated atomically under read lock
}

// MemoryCacheStats represents memory cache statistics
type MemoryCacheStats struct {
	ItemCount     int   `json:"item_count"`
	MaxSize       int   `json:"max_size"`
	HitCount      int64 `json:"hit_count"`
	MissCount     int64 `json:"miss_count"`
	EvictionCount int64 `json:"eviction_count"`
}

// NewMemoryCache creates a new memory cache
func NewMemoryCache(maxSize int, cleanupInterval time.Duration) *MemoryCache {
	if maxSize <= 0 {
		maxSize = 10000
	}
	if cleanupInterval <= 0 {
		cleanupInterval = 5 * time.Minute
	}

	mc := &MemoryCache{
		items:    make(map[string]*memoryItem),
		maxSize:  maxSize,
		stopChan: make(chan struct{}),
	}

	go mc.cleanupLoop(cleanupInterval)

	return mc
}

// Get retrieves a value from memory cache
func (mc *MemoryCache) Get(ctx context.Context, key string) ([]byte, error) {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	item, exists := mc.items[key]
	if !exists || time.Now().After(item.expiration) {
		// 过期项由 cleanupLoop 回收
		atomic.AddInt64(&mc.misses, 1)
		return nil, ErrCacheMiss
	}

	atomic.StoreInt64(&item.accessed, time.Now().UnixNano())
	atomic.AddInt64(&mc.hits, 1)
	return item.value, nil
}

// Set stores a value in memory cache
func (mc *MemoryCache) Set(ctx context.Context, key string, value []byte, expiration time.Duration) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	if _, exists := mc.items[key]; !exists && len(mc.items) >= mc.maxSize {
		mc.evictLRU()
	}

	if expiration <= 0 {
		expiration = 24 * time.Hour
	}

	now := time.Now()
	mc.items[key] = &memoryItem{
		value:      value,
		expiration: now.Add(expiration),
		accessed:   now.UnixNano(),
	}

	return nil
}

// Delete removes a value from memory cache
func (mc *MemoryCache) Delete(ctx context.Context, key string) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	delete(mc.items, key)
	return nil
}

// Size returns the current number of items in the cache
func (mc *MemoryCache) Size() int {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	return len(mc.items)
}

// GetStats returns memory cache statistics
func (mc *MemoryCache) GetStats() MemoryCacheStats {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	return MemoryCacheStats{
		ItemCount:     len(mc.items),
		MaxSize:       mc.maxSize,
		HitCount:      atomic.LoadInt64(&mc.hits),
		MissCount:     atomic.LoadInt64(&mc.misses),
		EvictionCount: atomic.LoadInt64(&mc.evictions),
	}
}

// evictLRU evicts the least recently used item. Caller holds the write lock.
func (mc *MemoryCache) evictLRU() {
	var oldestKey string
	var oldest int64
	first := true

	for key, item := range mc.items {
		accessed := atomic.LoadInt64(&item.accessed)
		if first || accessed < oldest {
			oldestKey = key
			oldest = accessed
			first = false
		}
	}

	if !first {
		delete(mc.items, oldestKey)
		atomic.AddInt64(&mc.evictions, 1)
	}
}

// cleanupLoop runs periodic cleanup of expired items
func (mc *MemoryCache) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			mc.cleanup()
		case <-mc.stopChan:
			return
		}
	}
}

// cleanup removes expired items
func (mc *MemoryCache) cleanup() {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	now := time.Now()
	for key, item := range mc.items {
		if now.After(item.expiration) {
			delete(mc.items, key)
		}
	}
}

// Close stops the cleanup goroutine
func (mc *MemoryCache) Close() error {
	mc.stopOnce.Do(func() { close(mc.stopChan) })
	return nil
}

package snapshot

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

const memCacheTTL = 10 * time.Second

type memCacheEntry struct {
	snapshot  Snapshot
	expiresAt time.Time
}

// memCache is the process-local, first-tier cache keyed by chatId. A hit
// whose configHash no longer matches the chat's current effective config is
// treated as a miss by the caller, not by memCache itself.
type memCache struct {
	mu      sync.RWMutex
	entries map[string]memCacheEntry
}

func newMemCache() *memCache {
	return &memCache{entries: make(map[string]memCacheEntry)}
}

func (c *memCache) get(chatID string) (Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[chatID]
	if !ok || time.Now().After(entry.expiresAt) {
		return Snapshot{}, false
	}
	return entry.snapshot, true
}

func (c *memCache) put(chatID string, snap Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[chatID] = memCacheEntry{snapshot: snap, expiresAt: time.Now().Add(memCacheTTL)}
}

// redisCache is the optional second-tier persistent cache, keyed by
// configHash like the SQLite tier. A nil client makes every method a no-op
// miss, so the builder never needs a feature flag of its own.
type redisCache struct {
	client *redis.Client
}

func newRedisCache(client *redis.Client) *redisCache {
	return &redisCache{client: client}
}

func (c *redisCache) get(ctx context.Context, configHash string) (Snapshot, bool) {
	if c.client == nil {
		return Snapshot{}, false
	}
	raw, err := c.client.Get(ctx, redisKey(configHash)).Bytes()
	if err != nil {
		return Snapshot{}, false
	}
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return Snapshot{}, false
	}
	return snap, true
}

func (c *redisCache) put(ctx context.Context, snap Snapshot) {
	if c.client == nil {
		return
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		return
	}
	c.client.Set(ctx, redisKey(snap.ConfigHash), raw, 0)
}

func redisKey(configHash string) string {
	return "snapshot:config:" + configHash
}

package stac

import (
	"crypto/md5"
	"encoding/hex"
	"sync"

	"github.com/nci/gomemcache/memcache"
)

// Cache stores raw catalog responses keyed by request hash.
type Cache interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte)
}

// MemcacheCache is a Cache backed by memcached. Errors are ignored;
// memcache may not retain entries anyway.
type MemcacheCache struct {
	mc         *memcache.Client
	Expiration int32
}

func NewMemcacheCache(address string, expiration int32) *MemcacheCache {
	// lazy connection; errors returned in .Get
	return &MemcacheCache{mc: memcache.New(address), Expiration: expiration}
}

func (c *MemcacheCache) Get(key string) ([]byte, bool) {
	item, err := c.mc.Get(key)
	if err != nil {
		return nil, false
	}
	return item.Value, true
}

func (c *MemcacheCache) Set(key string, value []byte) {
	c.mc.Set(&memcache.Item{Key: key, Value: value, Expiration: c.Expiration})
}

// MemoryCache is an unbounded in-process Cache, mostly for tests.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string][]byte
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string][]byte)}
}

func (c *MemoryCache) Get(key string) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.entries[key]
	return v, ok
}

func (c *MemoryCache) Set(key string, value []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = value
}

func cacheKey(parts ...string) string {
	h := md5.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

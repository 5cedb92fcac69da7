package filesystem

import (
	"strings"
	"time"

	cmap "github.com/orcaman/concurrent-map"
)

// CacheObserver is notified of attribute cache lookups.
type CacheObserver interface {
	CacheHit()
	CacheMiss()
}

type nopCacheObserver struct{}

func (nopCacheObserver) CacheHit()  {}
func (nopCacheObserver) CacheMiss() {}

type cacheEntry struct {
	info    FileInfo
	expires time.Time
}

// AttributeCache remembers FileInfo per path for a fixed TTL. Concurrent
// writers race and the last one wins. A TTL of zero disables caching.
type AttributeCache struct {
	entries  cmap.ConcurrentMap
	ttl      time.Duration
	now      func() time.Time
	observer CacheObserver
}

// NewAttributeCache returns an empty cache.
func NewAttributeCache(ttl time.Duration, now func() time.Time, observer CacheObserver) *AttributeCache {
	if now == nil {
		now = time.Now
	}

	if observer == nil {
		observer = nopCacheObserver{}
	}

	return &AttributeCache{entries: cmap.New(), ttl: ttl, now: now, observer: observer}
}

// Put stores info under its path.
func (c *AttributeCache) Put(info FileInfo) {
	if c.ttl <= 0 {
		return
	}

	c.entries.Set(info.Path(), cacheEntry{info: info, expires: c.now().Add(c.ttl)})
}

// Get returns a live entry. Expired entries count as misses and are dropped.
func (c *AttributeCache) Get(p string) (FileInfo, bool) {
	value, ok := c.entries.Get(p)
	if !ok {
		c.observer.CacheMiss()

		return FileInfo{}, false
	}

	entry, _ := value.(cacheEntry)
	if !c.now().Before(entry.expires) {
		c.removeExpired(p)
		c.observer.CacheMiss()

		return FileInfo{}, false
	}

	c.observer.CacheHit()

	return entry.info, true
}

// removeExpired drops p only if the stored entry is still expired, so a
// fresh Put that raced with the lookup survives.
func (c *AttributeCache) removeExpired(p string) {
	c.entries.RemoveCb(p, func(_ string, value interface{}, exists bool) bool {
		if !exists {
			return false
		}

		entry, _ := value.(cacheEntry)

		return !c.now().Before(entry.expires)
	})
}

// Invalidate drops p.
func (c *AttributeCache) Invalidate(p string) {
	c.entries.Remove(p)
}

// InvalidateTree drops p and everything below it.
func (c *AttributeCache) InvalidateTree(p string) {
	c.entries.Remove(p)

	prefix := strings.TrimSuffix(p, "/") + "/"

	for _, key := range c.entries.Keys() {
		if strings.HasPrefix(key, prefix) {
			c.entries.Remove(key)
		}
	}
}

// Len returns the number of stored entries, expired ones included.
func (c *AttributeCache) Len() int {
	return c.entries.Count()
}

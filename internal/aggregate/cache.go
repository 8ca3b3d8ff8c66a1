package aggregate

import (
	"slices"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/micutio/airfuse/internal"
)

// resultCache keeps the latest successful result per query key. Entries stay in the store for
// ttl+staleWindow, but only count as fresh for ttl.
type resultCache struct {
	store       *gocache.Cache
	ttl         time.Duration
	staleWindow time.Duration
}

type cacheEntry struct {
	result   Result
	storedAt time.Time
}

func newResultCache(ttl, staleWindow time.Duration) *resultCache {
	retention := ttl + staleWindow
	return &resultCache{
		store:       gocache.New(retention, retention),
		ttl:         ttl,
		staleWindow: staleWindow,
	}
}

func (c *resultCache) get(key string) (cacheEntry, bool) {
	v, ok := c.store.Get(key)
	if !ok {
		return cacheEntry{}, false
	}
	entry, ok := v.(cacheEntry)
	return entry, ok
}

// fresh returns the entry for key if it is not older than the TTL.
func (c *resultCache) fresh(key string, now time.Time) (cacheEntry, bool) {
	entry, ok := c.get(key)
	if !ok || now.Sub(entry.storedAt) > c.ttl {
		return cacheEntry{}, false
	}
	return entry, true
}

// usable returns the entry for key if it is still within the staleness window.
func (c *resultCache) usable(key string, now time.Time) (cacheEntry, bool) {
	entry, ok := c.get(key)
	if !ok || now.Sub(entry.storedAt) > c.ttl+c.staleWindow {
		return cacheEntry{}, false
	}
	return entry, true
}

func (c *resultCache) set(key string, result Result, now time.Time) {
	c.store.Set(key, cacheEntry{result: result, storedAt: now}, gocache.DefaultExpiration)
}

func (c *resultCache) len() int {
	return c.store.ItemCount()
}

// cacheKey derives the cache key of a query. sources is the explicit source subset of the query,
// if any; its order does not matter.
func cacheKey(area internal.Area, sources []string) string {
	key := area.Key()
	if len(sources) == 0 {
		return key
	}

	sorted := slices.Clone(sources)
	slices.Sort(sorted)
	return key + "|src=" + strings.Join(slices.Compact(sorted), ",")
}

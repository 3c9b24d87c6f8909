package core

import (
	"strconv"

	"github.com/edmongo/edmongo/core/internal/edmpath"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Cache holds compiled tables keyed by mapping hash, so a reload only
// recompiles mappings whose content changed.
type Cache struct {
	cache *lru.TwoQueueCache[string, *edmpath.Table]
}

// initCache initializes the cache
func (e *engine) initCache() (err error) {
	size := e.conf.CacheSize
	if size == 0 {
		size = defaultCacheSize
	}
	e.cache.cache, err = lru.New2Q[string, *edmpath.Table](size)
	return
}

// Get returns the value from the cache
func (c Cache) Get(key string) (val *edmpath.Table, fromCache bool) {
	val, fromCache = c.cache.Get(key)
	return
}

// Set sets the value in the cache
func (c Cache) Set(key string, val *edmpath.Table) {
	c.cache.Add(key, val)
}

func cacheKey(hash uint64) string {
	return strconv.FormatUint(hash, 16)
}

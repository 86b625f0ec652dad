package symtab

import (
	lru "github.com/hashicorp/golang-lru"
)

// DefaultCacheSize is the number of addresses remembered by a
// CachedResolver when no size is configured.
const DefaultCacheSize = 256

type cachedLookup struct {
	sym DebugSymbol
	err error
}

// CachedResolver remembers the result of recent LookupPC calls.
type CachedResolver struct {
	Resolver
	cache *lru.Cache
}

// NewCachedResolver wraps r in a cache of the given size.
func NewCachedResolver(r Resolver, size int) (*CachedResolver, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &CachedResolver{Resolver: r, cache: cache}, nil
}

func (c *CachedResolver) LookupPC(pc uint32) (DebugSymbol, error) {
	if v, ok := c.cache.Get(pc); ok {
		l := v.(cachedLookup)
		return l.sym, l.err
	}
	sym, err := c.Resolver.LookupPC(pc)
	c.cache.Add(pc, cachedLookup{sym, err})
	return sym, err
}

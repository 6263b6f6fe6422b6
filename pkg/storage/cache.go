package storage

import (
	"context"
	"encoding/binary"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/vjranagit/framepivot/pkg/types"
)

// QueryCache is an LRU of query results with a time-to-live
type QueryCache struct {
	ttl   time.Duration
	cache *lru.Cache[uint64, cacheEntry]
	now   func() time.Time
}

type cacheEntry struct {
	series    []types.Series
	timestamp time.Time
}

// NewQueryCache creates a cache holding up to capacity results for ttl
func NewQueryCache(capacity int, ttl time.Duration) (*QueryCache, error) {
	c, err := lru.New[uint64, cacheEntry](capacity)
	if err != nil {
		return nil, err
	}
	return &QueryCache{
		ttl:   ttl,
		cache: c,
		now:   time.Now,
	}, nil
}

// Get retrieves a cached query result
func (qc *QueryCache) Get(req *types.QueryRequest) ([]types.Series, bool) {
	key := cacheKey(req)
	entry, ok := qc.cache.Get(key)
	if !ok {
		return nil, false
	}
	if qc.now().Sub(entry.timestamp) > qc.ttl {
		qc.cache.Remove(key)
		return nil, false
	}
	return entry.series, true
}

// Put stores a query result in the cache
func (qc *QueryCache) Put(req *types.QueryRequest, series []types.Series) {
	qc.cache.Add(cacheKey(req), cacheEntry{series: series, timestamp: qc.now()})
}

// Clear clears all cache entries
func (qc *QueryCache) Clear() {
	qc.cache.Purge()
}

// Size returns the current cache size
func (qc *QueryCache) Size() int {
	return qc.cache.Len()
}

// cacheKey hashes tenant, selector and range; fields are separated by a byte
// that cannot occur in valid UTF-8.
func cacheKey(req *types.QueryRequest) uint64 {
	d := xxhash.New()
	_, _ = d.WriteString(tenantOf(req.TenantID))
	_, _ = d.Write([]byte{0xff})
	_, _ = d.WriteString(req.Query)
	_, _ = d.Write([]byte{0xff})
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[:8], uint64(req.StartTime.UnixNano()))
	binary.LittleEndian.PutUint64(buf[8:], uint64(req.EndTime.UnixNano()))
	_, _ = d.Write(buf[:])
	return d.Sum64()
}

// CachedStorage wraps a storage with query caching. Every completed write
// starts a new generation; results read in an older generation are returned
// but not cached.
type CachedStorage struct {
	storage Storage
	cache   *QueryCache
	hits    atomic.Uint64
	misses  atomic.Uint64

	mu         sync.Mutex
	generation uint64
}

// NewCachedStorage creates a cached storage wrapper. Cache hits, misses and
// size are exported on reg when it is not nil.
func NewCachedStorage(storage Storage, cacheCapacity int, cacheTTL time.Duration, reg prometheus.Registerer) (*CachedStorage, error) {
	cache, err := NewQueryCache(cacheCapacity, cacheTTL)
	if err != nil {
		return nil, err
	}
	cs := &CachedStorage{
		storage: storage,
		cache:   cache,
	}

	f := promauto.With(reg)
	f.NewCounterFunc(prometheus.CounterOpts{
		Namespace: "framepivot",
		Name:      "query_cache_hits_total",
		Help:      "Queries answered from the result cache.",
	}, func() float64 { return float64(cs.hits.Load()) })
	f.NewCounterFunc(prometheus.CounterOpts{
		Namespace: "framepivot",
		Name:      "query_cache_misses_total",
		Help:      "Queries that missed the result cache.",
	}, func() float64 { return float64(cs.misses.Load()) })
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "framepivot",
		Name:      "query_cache_entries",
		Help:      "Results held in the query cache.",
	}, func() float64 { return float64(cs.cache.Size()) })

	return cs, nil
}

// Write passes through to the underlying storage and drops every cached result
func (cs *CachedStorage) Write(ctx context.Context, req *types.WriteRequest) error {
	err := cs.storage.Write(ctx, req)

	cs.mu.Lock()
	cs.generation++
	cs.cache.Clear()
	cs.mu.Unlock()

	return err
}

// Query checks cache before querying storage
func (cs *CachedStorage) Query(ctx context.Context, req *types.QueryRequest) ([]types.Series, error) {
	if result, ok := cs.cache.Get(req); ok {
		cs.hits.Add(1)
		return result, nil
	}
	cs.misses.Add(1)

	cs.mu.Lock()
	generation := cs.generation
	cs.mu.Unlock()

	result, err := cs.storage.Query(ctx, req)
	if err != nil {
		return nil, err
	}

	cs.mu.Lock()
	if cs.generation == generation {
		cs.cache.Put(req, result)
	}
	cs.mu.Unlock()
	return result, nil
}

// LabelValues passes through to the underlying storage
func (cs *CachedStorage) LabelValues(ctx context.Context, tenantID, name string) ([]string, error) {
	return cs.storage.LabelValues(ctx, tenantID, name)
}

// Close closes the underlying storage
func (cs *CachedStorage) Close() error {
	return cs.storage.Close()
}

// CacheStats contains cache statistics
type CacheStats struct {
	Size   int
	Hits   uint64
	Misses uint64
}

// Stats returns cache statistics
func (cs *CachedStorage) Stats() CacheStats {
	return CacheStats{
		Size:   cs.cache.Size(),
		Hits:   cs.hits.Load(),
		Misses: cs.misses.Load(),
	}
}

// CacheHitRate returns the cache hit rate as a percentage
func (cs *CachedStorage) CacheHitRate() float64 {
	hits, misses := cs.hits.Load(), cs.misses.Load()
	total := hits + misses
	if total == 0 {
		return 0.0
	}
	return float64(hits) / float64(total) * 100.0
}

package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/vjranagit/framepivot/pkg/types"
)

func cacheRequest(query string) *types.QueryRequest {
	return &types.QueryRequest{
		TenantID:  "test",
		Query:     query,
		StartTime: time.UnixMilli(1000),
		EndTime:   time.UnixMilli(2000),
	}
}

func TestQueryCache(t *testing.T) {
	cache, err := NewQueryCache(100, time.Minute)
	if err != nil {
		t.Fatalf("Failed to create cache: %v", err)
	}

	req := cacheRequest("temp")
	if _, ok := cache.Get(req); ok {
		t.Error("Expected cache miss, got hit")
	}

	result := []types.Series{
		{
			Metric: types.Metric{
				Name: "temp",
				Labels: map[string]string{
					"location": "inside",
				},
			},
			Samples: []types.Sample{
				{Timestamp: time.UnixMilli(1500), Value: 42.0},
			},
		},
	}
	cache.Put(req, result)

	cached, ok := cache.Get(req)
	if !ok {
		t.Fatal("Expected cache hit, got miss")
	}
	if len(cached) != 1 || cached[0].Samples[0].Value != 42.0 {
		t.Errorf("Unexpected cached result %+v", cached)
	}

	// tenant and range are part of the key
	other := cacheRequest("temp")
	other.TenantID = "other"
	if _, ok := cache.Get(other); ok {
		t.Error("Expected miss for a different tenant")
	}
	other = cacheRequest("temp")
	other.EndTime = time.UnixMilli(3000)
	if _, ok := cache.Get(other); ok {
		t.Error("Expected miss for a different range")
	}
}

func TestQueryCacheTTL(t *testing.T) {
	cache, err := NewQueryCache(100, time.Minute)
	if err != nil {
		t.Fatalf("Failed to create cache: %v", err)
	}
	now := time.Unix(0, 0)
	cache.now = func() time.Time { return now }

	req := cacheRequest("temp")
	cache.Put(req, []types.Series{})

	if _, ok := cache.Get(req); !ok {
		t.Error("Expected cache hit")
	}

	now = now.Add(2 * time.Minute)
	if _, ok := cache.Get(req); ok {
		t.Error("Expected cache miss after TTL expiry")
	}
	if cache.Size() != 0 {
		t.Errorf("Expected expired entry to be removed, size %d", cache.Size())
	}
}

func TestQueryCacheLRUEviction(t *testing.T) {
	cache, err := NewQueryCache(3, time.Minute)
	if err != nil {
		t.Fatalf("Failed to create cache: %v", err)
	}

	for i := 0; i < 4; i++ {
		cache.Put(cacheRequest(fmt.Sprintf("metric_%d", i)), []types.Series{})
	}

	if cache.Size() != 3 {
		t.Errorf("Expected cache size 3, got %d", cache.Size())
	}
	if _, ok := cache.Get(cacheRequest("metric_0")); ok {
		t.Error("Expected metric_0 to be evicted")
	}
	if _, ok := cache.Get(cacheRequest("metric_3")); !ok {
		t.Error("Expected metric_3 to be in cache")
	}
}

func TestNewQueryCacheRejectsZeroCapacity(t *testing.T) {
	if _, err := NewQueryCache(0, time.Minute); err == nil {
		t.Error("Expected error for zero capacity")
	}
}

type countingStorage struct {
	queries int
	writes  int
	err     error
}

func (s *countingStorage) Write(context.Context, *types.WriteRequest) error {
	s.writes++
	return nil
}

func (s *countingStorage) Query(context.Context, *types.QueryRequest) ([]types.Series, error) {
	s.queries++
	if s.err != nil {
		return nil, s.err
	}
	return []types.Series{{Metric: types.Metric{Name: "temp"}}}, nil
}

func (s *countingStorage) LabelValues(context.Context, string, string) ([]string, error) {
	return []string{"inside"}, nil
}

func (s *countingStorage) Close() error { return nil }

func TestCachedStorage(t *testing.T) {
	backend := &countingStorage{}
	cs, err := NewCachedStorage(backend, 10, time.Minute, nil)
	if err != nil {
		t.Fatalf("Failed to create cached storage: %v", err)
	}
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := cs.Query(ctx, cacheRequest("temp")); err != nil {
			t.Fatalf("Query failed: %v", err)
		}
	}
	if backend.queries != 1 {
		t.Errorf("Expected 1 backend query, got %d", backend.queries)
	}

	stats := cs.Stats()
	if stats.Hits != 2 || stats.Misses != 1 || stats.Size != 1 {
		t.Errorf("Unexpected stats %+v", stats)
	}
	if rate := cs.CacheHitRate(); rate < 66 || rate > 67 {
		t.Errorf("Expected hit rate ~66.7%%, got %f", rate)
	}

	// writes invalidate cached results
	if err := cs.Write(ctx, &types.WriteRequest{}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if _, err := cs.Query(ctx, cacheRequest("temp")); err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if backend.queries != 2 {
		t.Errorf("Expected cache to be purged by write, backend queries %d", backend.queries)
	}
}

func TestCachedStorageDoesNotCacheErrors(t *testing.T) {
	backend := &countingStorage{err: errors.New("boom")}
	cs, err := NewCachedStorage(backend, 10, time.Minute, nil)
	if err != nil {
		t.Fatalf("Failed to create cached storage: %v", err)
	}

	for i := 0; i < 2; i++ {
		if _, err := cs.Query(context.Background(), cacheRequest("temp")); err == nil {
			t.Fatal("Expected error")
		}
	}
	if backend.queries != 2 {
		t.Errorf("Expected errors to bypass the cache, backend queries %d", backend.queries)
	}
	if cs.Stats().Size != 0 {
		t.Error("Expected empty cache")
	}
}

// slowStorage serves a single value; a query reads it, then waits for release
type slowStorage struct {
	countingStorage

	mu      sync.Mutex
	value   float64
	started chan struct{}
	release chan struct{}
}

func (s *slowStorage) Write(_ context.Context, req *types.WriteRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.value = req.Series[0].Samples[0].Value
	return nil
}

func (s *slowStorage) Query(context.Context, *types.QueryRequest) ([]types.Series, error) {
	s.mu.Lock()
	v := s.value
	s.mu.Unlock()

	if s.started != nil {
		close(s.started)
		<-s.release
		s.started = nil
	}
	return []types.Series{{Samples: []types.Sample{{Value: v}}}}, nil
}

func TestCachedStorageDropsResultsReadBeforeWrite(t *testing.T) {
	backend := &slowStorage{
		value:   1,
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	cs, err := NewCachedStorage(backend, 10, time.Minute, nil)
	if err != nil {
		t.Fatalf("Failed to create cached storage: %v", err)
	}
	ctx := context.Background()
	req := cacheRequest("temp")
	started := backend.started

	done := make(chan []types.Series)
	go func() {
		result, _ := cs.Query(ctx, req)
		done <- result
	}()

	<-started
	write := &types.WriteRequest{Series: []types.Series{{Samples: []types.Sample{{Value: 2}}}}}
	if err := cs.Write(ctx, write); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	close(backend.release)

	if inflight := <-done; inflight[0].Samples[0].Value != 1 {
		t.Errorf("Expected the in-flight query to see 1, got %v", inflight[0].Samples[0].Value)
	}

	result, err := cs.Query(ctx, req)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if result[0].Samples[0].Value != 2 {
		t.Errorf("Expected value 2 after completed write, got %v", result[0].Samples[0].Value)
	}
}

func TestCachedStorageMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	cs, err := NewCachedStorage(&countingStorage{}, 10, time.Minute, reg)
	if err != nil {
		t.Fatalf("Failed to create cached storage: %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, err := cs.Query(context.Background(), cacheRequest("temp")); err != nil {
			t.Fatalf("Query failed: %v", err)
		}
	}

	expected := `
# HELP framepivot_query_cache_entries Results held in the query cache.
# TYPE framepivot_query_cache_entries gauge
framepivot_query_cache_entries 1
# HELP framepivot_query_cache_hits_total Queries answered from the result cache.
# TYPE framepivot_query_cache_hits_total counter
framepivot_query_cache_hits_total 2
# HELP framepivot_query_cache_misses_total Queries that missed the result cache.
# TYPE framepivot_query_cache_misses_total counter
framepivot_query_cache_misses_total 1
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected)); err != nil {
		t.Error(err)
	}

	values, err := cs.LabelValues(context.Background(), "test", "location")
	if err != nil || len(values) != 1 {
		t.Errorf("Expected label values to pass through, got %v, %v", values, err)
	}
}

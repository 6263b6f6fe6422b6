package storage

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/cespare/xxhash/v2"
	"github.com/prometheus/prometheus/model/labels"
	"github.com/prometheus/prometheus/promql/parser"

	"github.com/vjranagit/framepivot/pkg/types"
)

// ErrInvalidQuery is returned for selectors that cannot be parsed.
var ErrInvalidQuery = errors.New("invalid query")

// Index manages the time-series index
type Index struct {
	// Maps metric fingerprint to series metadata
	series map[uint64]*seriesMetadata
	// Inverted index: label name -> label value -> series IDs
	labelIndex map[string]map[string][]uint64
}

// seriesMetadata holds metadata about a single series. MinTime and MaxTime
// span every sample written for it, across tenants.
type seriesMetadata struct {
	ID      uint64       `json:"id"`
	Metric  types.Metric `json:"metric"`
	MinTime int64        `json:"min_time"`
	MaxTime int64        `json:"max_time"`
	// Tenants that wrote the series, sorted
	Tenants []string `json:"tenants,omitempty"`
}

func (m *seriesMetadata) hasTenant(tenant string) bool {
	i := sort.SearchStrings(m.Tenants, tenant)
	return i < len(m.Tenants) && m.Tenants[i] == tenant
}

// overlaps reports whether the series may hold samples in [minTime, maxTime]
func (m *seriesMetadata) overlaps(minTime, maxTime int64) bool {
	return m.MinTime <= m.MaxTime && m.MinTime <= maxTime && m.MaxTime >= minTime
}

// NewIndex creates a new index
func NewIndex() *Index {
	return &Index{
		series:     make(map[uint64]*seriesMetadata),
		labelIndex: make(map[string]map[string][]uint64),
	}
}

// AddSeries indexes a metric and returns its fingerprint and whether it was new.
// A __name__ entry in the labels is dropped in favour of the metric name.
func (idx *Index) AddSeries(metric *types.Metric) (uint64, bool) {
	m := normalizeMetric(metric)
	fingerprint := calculateFingerprint(&m)

	if _, exists := idx.series[fingerprint]; exists {
		return fingerprint, false
	}

	idx.series[fingerprint] = &seriesMetadata{
		ID:      fingerprint,
		Metric:  m,
		MinTime: math.MaxInt64,
		MaxTime: math.MinInt64,
	}

	idx.addPosting(types.MetricNameLabel, m.Name, fingerprint)
	for name, value := range m.Labels {
		idx.addPosting(name, value, fingerprint)
	}

	return fingerprint, true
}

// restore re-adds persisted metadata, keeping its time range and tenants.
func (idx *Index) restore(meta *seriesMetadata) {
	id, created := idx.AddSeries(&meta.Metric)
	if !created {
		return
	}
	idx.series[id].MinTime = meta.MinTime
	idx.series[id].MaxTime = meta.MaxTime
	for _, tenant := range meta.Tenants {
		idx.AddTenant(id, tenant)
	}
}

// AddTenant records that tenant wrote series id and reports whether it is new.
func (idx *Index) AddTenant(id uint64, tenant string) bool {
	meta, ok := idx.series[id]
	if !ok || meta.hasTenant(tenant) {
		return false
	}
	pos := sort.SearchStrings(meta.Tenants, tenant)
	meta.Tenants = append(meta.Tenants, "")
	copy(meta.Tenants[pos+1:], meta.Tenants[pos:])
	meta.Tenants[pos] = tenant
	return true
}

func (idx *Index) addPosting(name, value string, id uint64) {
	values, ok := idx.labelIndex[name]
	if !ok {
		values = make(map[string][]uint64)
		idx.labelIndex[name] = values
	}
	ids := values[value]
	pos := sort.Search(len(ids), func(i int) bool { return ids[i] >= id })
	ids = append(ids, 0)
	copy(ids[pos+1:], ids[pos:])
	ids[pos] = id
	values[value] = ids
}

// GetSeries retrieves series metadata by ID
func (idx *Index) GetSeries(id uint64) (*seriesMetadata, bool) {
	meta, ok := idx.series[id]
	return meta, ok
}

// Select returns the sorted IDs of series matching every matcher.
// Equality matchers narrow the candidates through the inverted index; the
// remaining matchers are evaluated against each candidate.
func (idx *Index) Select(matchers []*labels.Matcher) []uint64 {
	if len(matchers) == 0 {
		return nil
	}

	var candidates []uint64
	narrowed := false
	for _, m := range matchers {
		if m.Type != labels.MatchEqual || m.Value == "" {
			continue
		}
		ids := idx.labelIndex[m.Name][m.Value]
		if !narrowed {
			candidates = append([]uint64(nil), ids...)
			narrowed = true
		} else {
			candidates = intersect(candidates, ids)
		}
		if len(candidates) == 0 {
			return nil
		}
	}

	if !narrowed {
		candidates = make([]uint64, 0, len(idx.series))
		for id := range idx.series {
			candidates = append(candidates, id)
		}
		sort.Slice(candidates, func(i, j int) bool { return candidates[i] < candidates[j] })
	}

	result := make([]uint64, 0, len(candidates))
	for _, id := range candidates {
		if matchesAll(idx.series[id].Metric, matchers) {
			result = append(result, id)
		}
	}
	return result
}

// UpdateTimeRange widens the known time range of a series
func (idx *Index) UpdateTimeRange(id uint64, minTime, maxTime int64) error {
	meta, ok := idx.series[id]
	if !ok {
		return fmt.Errorf("series %d not found", id)
	}

	meta.MinTime = min(meta.MinTime, minTime)
	meta.MaxTime = max(meta.MaxTime, maxTime)

	return nil
}

// SeriesCount returns the number of indexed series
func (idx *Index) SeriesCount() int {
	return len(idx.series)
}

// LabelValues returns the sorted values of a label name across the series
// written by tenant. The metric name is listed under __name__.
func (idx *Index) LabelValues(tenant, name string) []string {
	values := make([]string, 0, len(idx.labelIndex[name]))
	for v, ids := range idx.labelIndex[name] {
		for _, id := range ids {
			if idx.series[id].hasTenant(tenant) {
				values = append(values, v)
				break
			}
		}
	}
	sort.Strings(values)
	return values
}

// ParseSelector parses a metric selector such as up{job="api"}
func ParseSelector(query string) ([]*labels.Matcher, error) {
	if query == "" {
		return nil, fmt.Errorf("%w: empty selector", ErrInvalidQuery)
	}
	matchers, err := parser.ParseMetricSelector(query)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidQuery, err)
	}
	return matchers, nil
}

func matchesAll(metric types.Metric, matchers []*labels.Matcher) bool {
	for _, m := range matchers {
		value := metric.Labels[m.Name]
		if m.Name == types.MetricNameLabel {
			value = metric.Name
		}
		if !m.Matches(value) {
			return false
		}
	}
	return true
}

func normalizeMetric(metric *types.Metric) types.Metric {
	m := types.Metric{Name: metric.Name}
	if len(metric.Labels) == 0 {
		return m
	}
	m.Labels = make(map[string]string, len(metric.Labels))
	for k, v := range metric.Labels {
		if k == types.MetricNameLabel {
			continue
		}
		m.Labels[k] = v
	}
	return m
}

// calculateFingerprint hashes the metric name and its sorted labels
func calculateFingerprint(metric *types.Metric) uint64 {
	keys := make([]string, 0, len(metric.Labels))
	for k := range metric.Labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	sep := []byte{0xff}
	d := xxhash.New()
	_, _ = d.WriteString(metric.Name)
	for _, k := range keys {
		_, _ = d.Write(sep)
		_, _ = d.WriteString(k)
		_, _ = d.Write(sep)
		_, _ = d.WriteString(metric.Labels[k])
	}
	return d.Sum64()
}

// intersect returns the common elements of two sorted slices
func intersect(a, b []uint64) []uint64 {
	result := make([]uint64, 0, min(len(a), len(b)))
	i, j := 0, 0

	for i < len(a) && j < len(b) {
		switch {
		case a[i] < b[j]:
			i++
		case a[i] > b[j]:
			j++
		default:
			result = append(result, a[i])
			i++
			j++
		}
	}

	return result
}

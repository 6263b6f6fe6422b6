package frame

import (
	"sort"
	"time"

	"github.com/vjranagit/framepivot/pkg/types"
)

// TimeFieldName is the name of the time field of frames built from series.
const TimeFieldName = "time"

// FromSeries builds instant frames: one frame per distinct label set, holding
// a time field and one number field per metric name, each a single row with
// the latest sample at or before at. With a positive lookback, samples older
// than at-lookback are ignored. Series without a qualifying sample are skipped.
//
// Frames are ordered by label set and fields by metric name, so the result
// does not depend on the order of series.
func FromSeries(series []types.Series, at time.Time, lookback time.Duration) []*Frame {
	type group struct {
		labels Labels
		ts     time.Time
		names  []string
		values map[string]float64
	}

	sorted := append([]types.Series(nil), series...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Metric.Name != sorted[j].Metric.Name {
			return sorted[i].Metric.Name < sorted[j].Metric.Name
		}
		return seriesLabels(sorted[i]).String() < seriesLabels(sorted[j]).String()
	})

	groups := make(map[string]*group)
	var keys []string
	for _, s := range sorted {
		sample, ok := latestSample(s.Samples, at, lookback)
		if !ok {
			continue
		}
		ls := seriesLabels(s)
		key := ls.String()
		g, exists := groups[key]
		if !exists {
			g = &group{labels: ls, values: make(map[string]float64)}
			groups[key] = g
			keys = append(keys, key)
		}
		if _, seen := g.values[s.Metric.Name]; !seen {
			g.names = append(g.names, s.Metric.Name)
		}
		g.values[s.Metric.Name] = sample.Value
		if sample.Timestamp.After(g.ts) {
			g.ts = sample.Timestamp
		}
	}
	sort.Strings(keys)

	frames := make([]*Frame, 0, len(keys))
	for _, key := range keys {
		g := groups[key]
		fields := make([]*Field, 0, len(g.names)+1)
		fields = append(fields, NewField(TimeFieldName, nil, g.ts))
		for _, name := range g.names {
			fields = append(fields, NewField(name, g.labels.Copy(), g.values[name]))
		}
		frames = append(frames, New(key, fields...))
	}
	return frames
}

// FromRange builds one frame per series holding every sample: a time field
// and a number field named after the metric and carrying its labels.
func FromRange(series []types.Series) []*Frame {
	frames := make([]*Frame, 0, len(series))
	for _, s := range series {
		samples := append([]types.Sample(nil), s.Samples...)
		sort.SliceStable(samples, func(i, j int) bool {
			return samples[i].Timestamp.Before(samples[j].Timestamp)
		})

		ts := NewTypedField(TimeFieldName, FieldTypeTime, len(samples))
		vals := NewTypedField(s.Metric.Name, FieldTypeNumber, len(samples))
		vals.Labels = seriesLabels(s)
		for i, sample := range samples {
			ts.Values[i] = ValueOf(sample.Timestamp)
			vals.Values[i] = ValueOf(sample.Value)
		}
		frames = append(frames, New(s.Metric.Name+vals.Labels.String(), ts, vals))
	}
	return frames
}

// seriesLabels orders series labels by name; series carry no label order.
func seriesLabels(s types.Series) Labels {
	m := make(map[string]string, len(s.Metric.Labels))
	for k, v := range s.Metric.Labels {
		if k == types.MetricNameLabel {
			continue
		}
		m[k] = v
	}
	return LabelsFromMap(m)
}

func latestSample(samples []types.Sample, at time.Time, lookback time.Duration) (types.Sample, bool) {
	var (
		best  types.Sample
		found bool
	)
	for _, s := range samples {
		if s.Timestamp.After(at) {
			continue
		}
		if lookback > 0 && s.Timestamp.Before(at.Add(-lookback)) {
			continue
		}
		if !found || !s.Timestamp.Before(best.Timestamp) {
			best = s
			found = true
		}
	}
	return best, found
}

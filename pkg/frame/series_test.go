package frame

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vjranagit/framepivot/pkg/types"
)

func TestFromSeriesGroupsByLabelSet(t *testing.T) {
	at := time.UnixMilli(10_000)
	series := []types.Series{
		{
			Metric:  types.Metric{Name: "temp", Labels: map[string]string{"location": "outside"}},
			Samples: []types.Sample{{Timestamp: time.UnixMilli(2000), Value: -1}},
		},
		{
			Metric:  types.Metric{Name: "temp", Labels: map[string]string{"location": "inside"}},
			Samples: []types.Sample{{Timestamp: time.UnixMilli(500), Value: 0}, {Timestamp: time.UnixMilli(1000), Value: 1}},
		},
		{
			Metric:  types.Metric{Name: "humidity", Labels: map[string]string{"location": "inside", "__name__": "humidity"}},
			Samples: []types.Sample{{Timestamp: time.UnixMilli(900), Value: 10000}},
		},
	}

	frames := FromSeries(series, at, 0)
	require.Len(t, frames, 2)

	inside := frames[0]
	assert.Equal(t, `{location="inside"}`, inside.Name)
	require.Len(t, inside.Fields, 3)
	assert.Equal(t, "time", inside.Fields[0].Name)
	assert.Equal(t, "humidity", inside.Fields[1].Name)
	assert.Equal(t, "temp", inside.Fields[2].Name)
	assert.Equal(t, NewLabels("location", "inside"), inside.Fields[1].Labels)

	ts, ok := inside.Fields[0].At(0).Time()
	require.True(t, ok)
	assert.Equal(t, int64(1000), ts.UnixMilli())
	v, _ := inside.Fields[2].At(0).Float()
	assert.Equal(t, 1.0, v)

	assert.Equal(t, `{location="outside"}`, frames[1].Name)
}

func TestFromSeriesHonoursEvaluationTimeAndLookback(t *testing.T) {
	series := []types.Series{
		{
			Metric: types.Metric{Name: "temp", Labels: map[string]string{"location": "inside"}},
			Samples: []types.Sample{
				{Timestamp: time.UnixMilli(1000), Value: 1},
				{Timestamp: time.UnixMilli(5000), Value: 5},
			},
		},
	}

	frames := FromSeries(series, time.UnixMilli(4000), 0)
	require.Len(t, frames, 1)
	v, _ := frames[0].Fields[1].At(0).Float()
	assert.Equal(t, 1.0, v)

	assert.Empty(t, FromSeries(series, time.UnixMilli(4000), 2*time.Second))
	assert.Empty(t, FromSeries(series, time.UnixMilli(500), 0))
}

func TestFromRange(t *testing.T) {
	series := []types.Series{
		{
			Metric: types.Metric{Name: "temp", Labels: map[string]string{"location": "inside"}},
			Samples: []types.Sample{
				{Timestamp: time.UnixMilli(2000), Value: 2},
				{Timestamp: time.UnixMilli(1000), Value: 1},
			},
		},
	}

	frames := FromRange(series)
	require.Len(t, frames, 1)
	require.NoError(t, frames[0].Validate())
	assert.Equal(t, `temp{location="inside"}`, frames[0].Name)
	assert.Equal(t, 2, frames[0].Rows())

	first, _ := frames[0].Fields[0].At(0).Time()
	assert.Equal(t, int64(1000), first.UnixMilli())
}

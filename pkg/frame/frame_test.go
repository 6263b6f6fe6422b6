package frame

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValueNullIsDistinctFromZero(t *testing.T) {
	null := Null()
	assert.True(t, null.IsNull())
	assert.Nil(t, null.Interface())

	for _, zero := range []any{0, 0.0, "", false, time.Time{}} {
		v := ValueOf(zero)
		assert.False(t, v.IsNull(), "%T zero value must not be null", zero)
		assert.False(t, v.Equal(null))
	}

	var missing *float64
	assert.True(t, ValueOf(missing).IsNull())
	assert.True(t, ValueOf(nil).IsNull())
}

func TestValueOfWidensNumbers(t *testing.T) {
	for _, in := range []any{int(3), int32(3), int64(3), uint8(3), float32(3), 3.0} {
		f, ok := ValueOf(in).Float()
		require.True(t, ok, "%T", in)
		assert.Equal(t, 3.0, f)
	}
}

func TestValueConvert(t *testing.T) {
	ts := time.UnixMilli(1000).UTC()

	tests := []struct {
		name string
		in   Value
		to   FieldType
		want Value
		err  bool
	}{
		{name: "null stays null", in: Null(), to: FieldTypeNumber, want: Null()},
		{name: "millis to time", in: ValueOf(1000), to: FieldTypeTime, want: ValueOf(ts)},
		{name: "rfc3339 to time", in: ValueOf("1970-01-01T00:00:01Z"), to: FieldTypeTime, want: ValueOf(ts)},
		{name: "bad time string", in: ValueOf("yesterday"), to: FieldTypeTime, err: true},
		{name: "string to number", in: ValueOf("-1.5"), to: FieldTypeNumber, want: ValueOf(-1.5)},
		{name: "time to number", in: ValueOf(ts), to: FieldTypeNumber, err: true},
		{name: "number to string", in: ValueOf(10000), to: FieldTypeString, want: ValueOf("10000")},
		{name: "bool to string", in: ValueOf(true), to: FieldTypeString, want: ValueOf("true")},
		{name: "string to boolean", in: ValueOf("false"), to: FieldTypeBoolean, want: ValueOf(false)},
		{name: "number to boolean", in: ValueOf(2), to: FieldTypeBoolean, want: ValueOf(true)},
		{name: "time to boolean", in: ValueOf(ts), to: FieldTypeBoolean, err: true},
		{name: "anything to other", in: ValueOf([]int{1}), to: FieldTypeOther, want: ValueOf([]int{1})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.in.Convert(tt.to)
			if tt.err {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrTypeMismatch))
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "want %s, got %s", tt.want, got)
		})
	}
}

func TestNewFieldInfersType(t *testing.T) {
	assert.Equal(t, FieldTypeTime, NewField("time", nil, time.UnixMilli(1)).Type)
	assert.Equal(t, FieldTypeNumber, NewField("temp", nil, nil, 1).Type)
	assert.Equal(t, FieldTypeString, NewField("location", nil, "inside").Type)
	assert.Equal(t, FieldTypeBoolean, NewField("up", nil, true).Type)
	assert.Equal(t, FieldTypeOther, NewField("empty", nil, nil).Type)
}

func TestFieldAppendConverts(t *testing.T) {
	f := NewTypedField("temp", FieldTypeNumber, 0)
	require.NoError(t, f.Append(int64(4)))
	require.NoError(t, f.Append(nil))
	require.Error(t, f.Append(time.Now()))

	require.Equal(t, 2, f.Len())
	got, ok := f.At(0).Float()
	require.True(t, ok)
	assert.Equal(t, 4.0, got)
	assert.True(t, f.At(1).IsNull())
}

func TestLabelsKeepInsertionOrder(t *testing.T) {
	ls := NewLabels("location", "inside", "area", "living room")
	assert.Equal(t, []string{"location", "area"}, ls.Keys())
	assert.Equal(t, `{location="inside", area="living room"}`, ls.String())

	ls = ls.Set("location", "outside")
	assert.Equal(t, []string{"location", "area"}, ls.Keys())
	v, ok := ls.Get("location")
	require.True(t, ok)
	assert.Equal(t, "outside", v)

	_, ok = ls.Get("sky")
	assert.False(t, ok)
	assert.Equal(t, map[string]string{"location": "outside", "area": "living room"}, ls.Map())

	cp := ls.Copy()
	cp.Set("area", "backyard")
	v, _ = ls.Get("area")
	assert.Equal(t, "living room", v)
	assert.Nil(t, Labels{}.Copy())

	assert.Panics(t, func() { NewLabels("location") })
}

func TestLabelsFromMapSortsByName(t *testing.T) {
	ls := LabelsFromMap(map[string]string{"sky": "cloudy", "area": "backyard", "location": "outside"})
	assert.Equal(t, []string{"area", "location", "sky"}, ls.Keys())
	assert.Nil(t, LabelsFromMap(nil))
}

func TestFrameValidate(t *testing.T) {
	ok := New("A",
		NewField("time", nil, time.UnixMilli(1000)),
		NewField("temp", NewLabels("location", "inside"), 1),
	)
	require.NoError(t, ok.Validate())
	assert.Equal(t, 1, ok.Rows())

	ragged := New("B",
		NewField("time", nil, time.UnixMilli(1000), time.UnixMilli(2000)),
		NewField("temp", nil, 1),
	)
	assert.ErrorIs(t, ragged.Validate(), ErrFieldLength)

	wrongType := New("C", &Field{Name: "temp", Type: FieldTypeNumber, Values: []Value{ValueOf("hot")}})
	assert.ErrorIs(t, wrongType.Validate(), ErrTypeMismatch)
}

func TestFrameLookups(t *testing.T) {
	f := New("A",
		NewField("temp", nil, 1),
		NewField("time", nil, time.UnixMilli(1000)),
	)

	tf, idx := f.TimeField()
	require.NotNil(t, tf)
	assert.Equal(t, 1, idx)

	_, idx = f.Field("humidity")
	assert.Equal(t, -1, idx)

	_, idx = New("empty").TimeField()
	assert.Equal(t, -1, idx)
}

func TestFrameCopyIsIndependent(t *testing.T) {
	f := New("A", NewField("temp", NewLabels("location", "inside"), 1))
	cp := f.Copy()
	cp.Fields[0].Values[0] = ValueOf(99)
	cp.Fields[0].Labels.Set("location", "outside")

	got, _ := f.Fields[0].At(0).Float()
	assert.Equal(t, 1.0, got)
	v, _ := f.Fields[0].Labels.Get("location")
	assert.Equal(t, "inside", v)
}

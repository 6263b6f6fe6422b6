package frame

import (
	"fmt"
	"math"
	"strconv"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// MarshalJSON encodes null as null and times as epoch milliseconds.
// Non-finite numbers are encoded as the strings "NaN", "+Inf" and "-Inf",
// which number fields parse back.
func (v Value) MarshalJSON() ([]byte, error) {
	if !v.valid {
		return []byte("null"), nil
	}
	switch x := v.v.(type) {
	case time.Time:
		return json.Marshal(x.UnixMilli())
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return json.Marshal(strconv.FormatFloat(x, 'f', -1, 64))
		}
	}
	return json.Marshal(v.v)
}

type fieldOut struct {
	Name   string    `json:"name"`
	Type   FieldType `json:"type"`
	Labels Labels    `json:"labels,omitempty"`
	Values []Value   `json:"values"`
}

func (f *Field) MarshalJSON() ([]byte, error) {
	values := f.Values
	if values == nil {
		values = []Value{}
	}
	return json.Marshal(fieldOut{
		Name:   f.Name,
		Type:   f.Type,
		Labels: f.Labels,
		Values: values,
	})
}

// UnmarshalJSON decodes a field and converts every value to the declared
// type. A field without a type takes the type of its first non-null value.
func (f *Field) UnmarshalJSON(data []byte) error {
	var raw struct {
		Name   string  `json:"name"`
		Type   *string `json:"type"`
		Labels Labels  `json:"labels"`
		Values []any   `json:"values"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	decoded := NewField(raw.Name, raw.Labels, raw.Values...)
	if raw.Type != nil {
		t, err := ParseFieldType(*raw.Type)
		if err != nil {
			return fmt.Errorf("field %q: %w", raw.Name, err)
		}
		decoded.Type = t
	}
	for i, v := range decoded.Values {
		converted, err := v.Convert(decoded.Type)
		if err != nil {
			return fmt.Errorf("field %q row %d: %w", raw.Name, i, err)
		}
		decoded.Values[i] = converted
	}

	*f = *decoded
	return nil
}

type frameJSON struct {
	Name   string   `json:"name,omitempty"`
	Fields []*Field `json:"fields"`
}

func (f *Frame) MarshalJSON() ([]byte, error) {
	fields := f.Fields
	if fields == nil {
		fields = []*Field{}
	}
	return json.Marshal(frameJSON{Name: f.Name, Fields: fields})
}

func (f *Frame) UnmarshalJSON(data []byte) error {
	var raw frameJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	f.Name = raw.Name
	f.Fields = raw.Fields
	return nil
}

package frame

import (
	"fmt"
	"time"
)

// FieldType tags the kind of values a field holds.
type FieldType uint8

const (
	FieldTypeOther FieldType = iota
	FieldTypeTime
	FieldTypeNumber
	FieldTypeString
	FieldTypeBoolean
)

var fieldTypeNames = map[FieldType]string{
	FieldTypeOther:   "other",
	FieldTypeTime:    "time",
	FieldTypeNumber:  "number",
	FieldTypeString:  "string",
	FieldTypeBoolean: "boolean",
}

func (t FieldType) String() string {
	if name, ok := fieldTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("FieldType(%d)", uint8(t))
}

// ParseFieldType parses the lowercase name of a field type.
func ParseFieldType(s string) (FieldType, error) {
	for t, name := range fieldTypeNames {
		if name == s {
			return t, nil
		}
	}
	return FieldTypeOther, fmt.Errorf("unknown field type %q", s)
}

func (t FieldType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *FieldType) UnmarshalText(text []byte) error {
	parsed, err := ParseFieldType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// TypeOf infers the field type of a Go value.
func TypeOf(v any) FieldType {
	switch ValueOf(v).Interface().(type) {
	case time.Time:
		return FieldTypeTime
	case float64:
		return FieldTypeNumber
	case string:
		return FieldTypeString
	case bool:
		return FieldTypeBoolean
	default:
		return FieldTypeOther
	}
}

// Field is a named, typed column.
type Field struct {
	Name   string
	Type   FieldType
	Labels Labels
	Values []Value
}

// NewField builds a field from Go values. The type is inferred from the
// first non-null value; a field with no non-null values is typed other.
func NewField(name string, labels Labels, values ...any) *Field {
	f := &Field{
		Name:   name,
		Labels: labels,
		Values: make([]Value, len(values)),
	}
	for i, v := range values {
		f.Values[i] = ValueOf(v)
	}
	for _, v := range f.Values {
		if !v.IsNull() {
			f.Type = TypeOf(v.Interface())
			break
		}
	}
	return f
}

// NewTypedField returns a field of type t holding n null values.
func NewTypedField(name string, t FieldType, n int) *Field {
	return &Field{
		Name:   name,
		Type:   t,
		Values: make([]Value, n),
	}
}

// Len returns the number of values.
func (f *Field) Len() int {
	return len(f.Values)
}

// At returns the value at row i.
func (f *Field) At(i int) Value {
	return f.Values[i]
}

// Append converts v to the field type and appends it.
func (f *Field) Append(v any) error {
	converted, err := ValueOf(v).Convert(f.Type)
	if err != nil {
		return fmt.Errorf("field %q: %w", f.Name, err)
	}
	f.Values = append(f.Values, converted)
	return nil
}

// Copy returns a deep copy of the field's values and labels.
func (f *Field) Copy() *Field {
	return &Field{
		Name:   f.Name,
		Type:   f.Type,
		Labels: f.Labels.Copy(),
		Values: append([]Value(nil), f.Values...),
	}
}

package frame

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"time"
)

// ErrTypeMismatch is returned when a value cannot be converted to a field type.
var ErrTypeMismatch = errors.New("type mismatch")

// Value is a single nullable cell. The zero Value is null, which is distinct
// from every legitimate zero value (0, "", false, the zero time).
type Value struct {
	v     any
	valid bool
}

// Null returns the null value.
func Null() Value {
	return Value{}
}

// ValueOf wraps a Go value. nil and nil pointers yield null; every numeric
// kind is widened to float64 and pointers to supported kinds are dereferenced.
func ValueOf(v any) Value {
	switch x := v.(type) {
	case nil:
		return Value{}
	case Value:
		return x
	case *float64:
		if x == nil {
			return Value{}
		}
		return Value{v: *x, valid: true}
	case *string:
		if x == nil {
			return Value{}
		}
		return Value{v: *x, valid: true}
	case *bool:
		if x == nil {
			return Value{}
		}
		return Value{v: *x, valid: true}
	case *time.Time:
		if x == nil {
			return Value{}
		}
		return Value{v: *x, valid: true}
	}
	if f, ok := toFloat(v); ok {
		return Value{v: f, valid: true}
	}
	return Value{v: v, valid: true}
}

// IsNull reports whether the value is null.
func (v Value) IsNull() bool {
	return !v.valid
}

// Interface returns the wrapped Go value, or nil for null.
func (v Value) Interface() any {
	if !v.valid {
		return nil
	}
	return v.v
}

// Float returns the value as a float64 when it holds a number.
func (v Value) Float() (float64, bool) {
	f, ok := v.v.(float64)
	return f, ok && v.valid
}

// Time returns the value as a time.Time when it holds a time.
func (v Value) Time() (time.Time, bool) {
	t, ok := v.v.(time.Time)
	return t, ok && v.valid
}

// Str returns the value as a string when it holds a string.
func (v Value) Str() (string, bool) {
	s, ok := v.v.(string)
	return s, ok && v.valid
}

// Bool returns the value as a bool when it holds a bool.
func (v Value) Bool() (bool, bool) {
	b, ok := v.v.(bool)
	return b, ok && v.valid
}

// String renders the value for display; null renders as "null".
func (v Value) String() string {
	if !v.valid {
		return "null"
	}
	if t, ok := v.v.(time.Time); ok {
		return t.UTC().Format(time.RFC3339Nano)
	}
	return fmt.Sprint(v.v)
}

// Equal reports whether two values are both null or hold equal data.
// Times are compared with time.Time.Equal.
func (v Value) Equal(o Value) bool {
	if v.valid != o.valid {
		return false
	}
	if !v.valid {
		return true
	}
	if a, ok := v.v.(time.Time); ok {
		b, ok := o.v.(time.Time)
		return ok && a.Equal(b)
	}
	return reflect.DeepEqual(v.v, o.v)
}

// Convert returns the value converted to t. Null converts to null for every
// type. Times convert from epoch milliseconds and RFC3339 strings; numbers,
// booleans and strings convert between each other where the text parses.
func (v Value) Convert(t FieldType) (Value, error) {
	if !v.valid {
		return v, nil
	}
	switch t {
	case FieldTypeTime:
		switch x := v.v.(type) {
		case time.Time:
			return v, nil
		case float64:
			return Value{v: time.UnixMilli(int64(x)).UTC(), valid: true}, nil
		case string:
			parsed, err := time.Parse(time.RFC3339Nano, x)
			if err != nil {
				return Value{}, fmt.Errorf("%w: cannot parse %q as time: %v", ErrTypeMismatch, x, err)
			}
			return Value{v: parsed, valid: true}, nil
		}
	case FieldTypeNumber:
		switch x := v.v.(type) {
		case float64:
			return v, nil
		case string:
			f, err := strconv.ParseFloat(x, 64)
			if err != nil {
				return Value{}, fmt.Errorf("%w: cannot parse %q as number", ErrTypeMismatch, x)
			}
			return Value{v: f, valid: true}, nil
		case bool:
			if x {
				return Value{v: 1.0, valid: true}, nil
			}
			return Value{v: 0.0, valid: true}, nil
		}
	case FieldTypeString:
		switch x := v.v.(type) {
		case string:
			return v, nil
		case float64:
			return Value{v: strconv.FormatFloat(x, 'f', -1, 64), valid: true}, nil
		case bool:
			return Value{v: strconv.FormatBool(x), valid: true}, nil
		case time.Time:
			return Value{v: x.UTC().Format(time.RFC3339Nano), valid: true}, nil
		default:
			return Value{v: fmt.Sprint(x), valid: true}, nil
		}
	case FieldTypeBoolean:
		switch x := v.v.(type) {
		case bool:
			return v, nil
		case string:
			b, err := strconv.ParseBool(x)
			if err != nil {
				return Value{}, fmt.Errorf("%w: cannot parse %q as boolean", ErrTypeMismatch, x)
			}
			return Value{v: b, valid: true}, nil
		case float64:
			return Value{v: x != 0, valid: true}, nil
		}
	case FieldTypeOther:
		return v, nil
	}
	return Value{}, fmt.Errorf("%w: cannot convert %T to %s", ErrTypeMismatch, v.v, t)
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int8:
		return float64(x), true
	case int16:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint:
		return float64(x), true
	case uint8:
		return float64(x), true
	case uint16:
		return float64(x), true
	case uint32:
		return float64(x), true
	case uint64:
		return float64(x), true
	}
	return 0, false
}

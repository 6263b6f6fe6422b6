// Package frame holds the tabular time-series model shared by storage, the
// transforms and the HTTP API: frames of typed, labeled fields whose cells
// are nullable values.
package frame

import (
	"errors"
	"fmt"
)

// ErrFieldLength is returned by Validate when fields disagree on row count.
var ErrFieldLength = errors.New("fields have different lengths")

// Frame is an ordered collection of fields sharing a row index.
type Frame struct {
	Name   string
	Fields []*Field
}

// New creates a frame from fields.
func New(name string, fields ...*Field) *Frame {
	return &Frame{Name: name, Fields: fields}
}

// Rows returns the row count, the length of the longest field.
func (f *Frame) Rows() int {
	rows := 0
	for _, fld := range f.Fields {
		if fld.Len() > rows {
			rows = fld.Len()
		}
	}
	return rows
}

// TimeField returns the first time-typed field and its index, or nil and -1.
func (f *Frame) TimeField() (*Field, int) {
	for i, fld := range f.Fields {
		if fld.Type == FieldTypeTime {
			return fld, i
		}
	}
	return nil, -1
}

// Field returns the first field with the given name and its index, or nil and -1.
func (f *Frame) Field(name string) (*Field, int) {
	for i, fld := range f.Fields {
		if fld.Name == name {
			return fld, i
		}
	}
	return nil, -1
}

// Validate checks that every field has the same length and that every
// non-null value agrees with its field type.
func (f *Frame) Validate() error {
	rows := -1
	for _, fld := range f.Fields {
		if fld == nil {
			return errors.New("nil field")
		}
		if rows >= 0 && fld.Len() != rows {
			return fmt.Errorf("%w: field %q has %d rows, expected %d", ErrFieldLength, fld.Name, fld.Len(), rows)
		}
		rows = fld.Len()
		if fld.Type == FieldTypeOther {
			continue
		}
		for i, v := range fld.Values {
			if v.IsNull() {
				continue
			}
			if got := TypeOf(v.Interface()); got != fld.Type {
				return fmt.Errorf("%w: field %q row %d holds %s, field is %s", ErrTypeMismatch, fld.Name, i, got, fld.Type)
			}
		}
	}
	return nil
}

// Copy returns a deep copy of the frame.
func (f *Frame) Copy() *Frame {
	out := &Frame{Name: f.Name, Fields: make([]*Field, len(f.Fields))}
	for i, fld := range f.Fields {
		out.Fields[i] = fld.Copy()
	}
	return out
}

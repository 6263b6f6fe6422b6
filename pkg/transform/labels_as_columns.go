package transform

import (
	"context"
	"fmt"

	"github.com/vjranagit/framepivot/pkg/frame"
)

// LabelsAsColumnsID identifies the labels-as-columns transform.
const LabelsAsColumnsID = "labelsAsColumns"

// LabelsAsColumns pivots frames into a single table with one row per input
// frame. The columns are the time field, then one string column per label key,
// then one column per value field name; keys and names appear in the order
// they are first seen across frames. Cells a frame has no data for are null.
//
// Each frame contributes its last row. Within a frame, when several value
// fields carry the same label key, the last field wins; likewise for two
// value fields with the same name. Frames are never modified.
func LabelsAsColumns(frames []*frame.Frame) (*frame.Frame, error) {
	if len(frames) == 0 {
		return frame.New(""), nil
	}

	var (
		keys      = newOrderedSet()
		names     = newOrderedSet()
		nameTypes []frame.FieldType
		timeIdx   = make([]int, len(frames))
		timeName  string
	)

	for i, f := range frames {
		if f == nil {
			return nil, fmt.Errorf("%w: frame %d is nil", ErrMalformedInput, i)
		}
		if err := f.Validate(); err != nil {
			return nil, fmt.Errorf("%w: frame %d (%q): %w", ErrMalformedInput, i, f.Name, err)
		}
		tf, ti := f.TimeField()
		if tf == nil {
			return nil, fmt.Errorf("%w: frame %d (%q) has no time field", ErrMalformedInput, i, f.Name)
		}
		timeIdx[i] = ti
		if i == 0 {
			timeName = tf.Name
		}

		for _, fld := range f.Fields {
			if fld.Type == frame.FieldTypeTime {
				continue
			}
			pos, added := names.add(fld.Name)
			if added {
				nameTypes = append(nameTypes, fld.Type)
			} else if nameTypes[pos] != fld.Type {
				return nil, fmt.Errorf("%w: field %q is %s in frame %d (%q) but was first seen as %s",
					ErrSchemaConflict, fld.Name, fld.Type, i, f.Name, nameTypes[pos])
			}
			for _, lbl := range fld.Labels {
				keys.add(lbl.Name)
			}
		}
	}

	rows := len(frames)
	timeCol := frame.NewTypedField(timeName, frame.FieldTypeTime, rows)
	labelCols := make([]*frame.Field, keys.len())
	for i, k := range keys.keys {
		labelCols[i] = frame.NewTypedField(k, frame.FieldTypeString, rows)
	}
	valueCols := make([]*frame.Field, names.len())
	for i, name := range names.keys {
		valueCols[i] = frame.NewTypedField(name, nameTypes[i], rows)
	}

	for i, f := range frames {
		last := f.Rows() - 1
		if last >= 0 {
			timeCol.Values[i] = f.Fields[timeIdx[i]].At(last)
		}

		for _, fld := range f.Fields {
			if fld.Type == frame.FieldTypeTime {
				continue
			}
			for _, lbl := range fld.Labels {
				pos, _ := keys.indexOf(lbl.Name)
				labelCols[pos].Values[i] = frame.ValueOf(lbl.Value)
			}
			if last < 0 {
				continue
			}
			pos, _ := names.indexOf(fld.Name)
			v, err := fld.At(last).Convert(nameTypes[pos])
			if err != nil {
				return nil, fmt.Errorf("%w: frame %d (%q) field %q: %w", ErrSchemaConflict, i, f.Name, fld.Name, err)
			}
			valueCols[pos].Values[i] = v
		}
	}

	fields := make([]*frame.Field, 0, 1+len(labelCols)+len(valueCols))
	fields = append(fields, timeCol)
	fields = append(fields, labelCols...)
	fields = append(fields, valueCols...)
	return frame.New("", fields...), nil
}

type labelsAsColumns struct{}

func (labelsAsColumns) ID() string {
	return LabelsAsColumnsID
}

func (labelsAsColumns) Apply(_ context.Context, frames []*frame.Frame) ([]*frame.Frame, error) {
	out, err := LabelsAsColumns(frames)
	if err != nil {
		return nil, err
	}
	return []*frame.Frame{out}, nil
}

func newLabelsAsColumns(options []byte) (Transformer, error) {
	if err := requireEmptyOptions(options); err != nil {
		return nil, err
	}
	return labelsAsColumns{}, nil
}

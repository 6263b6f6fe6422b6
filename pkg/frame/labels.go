package frame

import (
	"fmt"
	"sort"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

// Label is a single name/value pair.
type Label struct {
	Name, Value string
}

// Labels is the label set attached to a field. Pairs keep the order they
// were added in; names are unique.
type Labels []Label

// NewLabels builds a label set from name, value pairs in order. A repeated
// name keeps its first position and takes the later value.
func NewLabels(kv ...string) Labels {
	if len(kv)%2 != 0 {
		panic("frame.NewLabels: odd number of strings")
	}
	var ls Labels
	for i := 0; i < len(kv); i += 2 {
		ls = ls.Set(kv[i], kv[i+1])
	}
	return ls
}

// LabelsFromMap builds a label set ordered by name.
func LabelsFromMap(m map[string]string) Labels {
	if len(m) == 0 {
		return nil
	}
	ls := make(Labels, 0, len(m))
	for k, v := range m {
		ls = append(ls, Label{Name: k, Value: v})
	}
	sort.Slice(ls, func(i, j int) bool { return ls[i].Name < ls[j].Name })
	return ls
}

// Get returns the value for name.
func (l Labels) Get(name string) (string, bool) {
	for _, lbl := range l {
		if lbl.Name == name {
			return lbl.Value, true
		}
	}
	return "", false
}

// Set replaces the value of name in place, or appends the pair.
func (l Labels) Set(name, value string) Labels {
	for i := range l {
		if l[i].Name == name {
			l[i].Value = value
			return l
		}
	}
	return append(l, Label{Name: name, Value: value})
}

// Keys returns the label names in insertion order.
func (l Labels) Keys() []string {
	keys := make([]string, len(l))
	for i, lbl := range l {
		keys[i] = lbl.Name
	}
	return keys
}

// Map returns the labels as a map.
func (l Labels) Map() map[string]string {
	m := make(map[string]string, len(l))
	for _, lbl := range l {
		m[lbl.Name] = lbl.Value
	}
	return m
}

// Copy returns an independent copy, or nil for an empty set.
func (l Labels) Copy() Labels {
	if len(l) == 0 {
		return nil
	}
	return append(Labels(nil), l...)
}

// String renders the set as {k="v", ...} in insertion order.
func (l Labels) String() string {
	var b strings.Builder
	b.WriteByte('{')
	for i, lbl := range l {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s=%q", lbl.Name, lbl.Value)
	}
	b.WriteByte('}')
	return b.String()
}

// MarshalJSON encodes the set as an object with keys in insertion order.
func (l Labels) MarshalJSON() ([]byte, error) {
	stream := json.BorrowStream(nil)
	defer json.ReturnStream(stream)

	stream.WriteObjectStart()
	for i, lbl := range l {
		if i > 0 {
			stream.WriteMore()
		}
		stream.WriteObjectField(lbl.Name)
		stream.WriteString(lbl.Value)
	}
	stream.WriteObjectEnd()
	if stream.Error != nil {
		return nil, stream.Error
	}
	return append([]byte(nil), stream.Buffer()...), nil
}

// UnmarshalJSON decodes an object keeping its keys in document order.
func (l *Labels) UnmarshalJSON(data []byte) error {
	iter := json.BorrowIterator(data)
	defer json.ReturnIterator(iter)

	if iter.WhatIsNext() == jsoniter.NilValue {
		iter.ReadNil()
		*l = nil
		return iter.Error
	}

	var ls Labels
	iter.ReadObjectCB(func(it *jsoniter.Iterator, name string) bool {
		if it.WhatIsNext() != jsoniter.StringValue {
			it.ReportError("decode labels", fmt.Sprintf("value of %q is not a string", name))
			return false
		}
		ls = ls.Set(name, it.ReadString())
		return true
	})
	if iter.Error != nil {
		return fmt.Errorf("labels: %w", iter.Error)
	}
	*l = ls
	return nil
}

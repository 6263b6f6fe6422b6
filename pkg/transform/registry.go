package transform

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/vjranagit/framepivot/pkg/frame"
)

// Transformer turns a set of frames into another set of frames.
type Transformer interface {
	ID() string
	Apply(ctx context.Context, frames []*frame.Frame) ([]*frame.Frame, error)
}

// Factory builds a transformer from its raw JSON options.
type Factory func(options []byte) (Transformer, error)

// Registry maps transform ids to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	metrics   *Metrics
}

// NewRegistry creates an empty registry. Transformers it builds are
// instrumented with m when m is not nil.
func NewRegistry(m *Metrics) *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		metrics:   m,
	}
}

// DefaultRegistry returns a registry holding every built-in transform.
func DefaultRegistry(m *Metrics) *Registry {
	r := NewRegistry(m)
	if err := r.Register(LabelsAsColumnsID, newLabelsAsColumns); err != nil {
		panic(err)
	}
	return r
}

// Register adds a factory. Registering an id twice is an error.
func (r *Registry) Register(id string, f Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[id]; exists {
		return fmt.Errorf("transform %q already registered", id)
	}
	r.factories[id] = f
	return nil
}

// Build returns the transformer registered under id configured with options.
func (r *Registry) Build(id string, options []byte) (Transformer, error) {
	r.mu.RLock()
	f, ok := r.factories[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTransform, id)
	}

	t, err := f(options)
	if err != nil {
		return nil, fmt.Errorf("transform %q: %w", id, err)
	}
	if r.metrics != nil {
		t = &instrumented{Transformer: t, metrics: r.metrics}
	}
	return t, nil
}

// IDs returns the registered ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.factories))
	for id := range r.factories {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Step names a registered transform and its raw options.
type Step struct {
	ID      string              `json:"id"`
	Options jsoniter.RawMessage `json:"options,omitempty"`
}

// BuildChain builds one transformer per step, in order.
func (r *Registry) BuildChain(steps []Step) (Chain, error) {
	if len(steps) == 0 {
		return nil, fmt.Errorf("%w: no transforms given", ErrInvalidOptions)
	}
	chain := make(Chain, 0, len(steps))
	for _, step := range steps {
		t, err := r.Build(step.ID, step.Options)
		if err != nil {
			return nil, err
		}
		chain = append(chain, t)
	}
	return chain, nil
}

// Chain is an ordered list of transformers.
type Chain []Transformer

// Apply runs every transformer on the output of the previous one.
func (c Chain) Apply(ctx context.Context, frames []*frame.Frame) ([]*frame.Frame, error) {
	out := frames
	for _, t := range c {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		next, err := t.Apply(ctx, out)
		if err != nil {
			return nil, fmt.Errorf("transform %q: %w", t.ID(), err)
		}
		out = next
	}
	return out, nil
}

type instrumented struct {
	Transformer
	metrics *Metrics
}

func (t *instrumented) Apply(ctx context.Context, frames []*frame.Frame) ([]*frame.Frame, error) {
	start := time.Now()
	out, err := t.Transformer.Apply(ctx, frames)
	t.metrics.observe(t.ID(), time.Since(start), err)
	return out, err
}

// requireEmptyOptions accepts absent options, null and the empty object.
func requireEmptyOptions(options []byte) error {
	trimmed := bytes.TrimSpace(options)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	var fields map[string]jsoniter.RawMessage
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(trimmed, &fields); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}
	if len(fields) > 0 {
		names := make([]string, 0, len(fields))
		for name := range fields {
			names = append(names, name)
		}
		sort.Strings(names)
		return fmt.Errorf("%w: unsupported options %v", ErrInvalidOptions, names)
	}
	return nil
}

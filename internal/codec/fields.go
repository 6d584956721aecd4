package codec

import (
	"fmt"

	"github.com/danmuck/ghostwire/internal/protocol/wire"
	"github.com/danmuck/ghostwire/internal/world"
)

// Fields encodes a component of type T as a fixed number of int32 fields,
// each sent as a zig-zag packed delta against the baseline field.
type Fields[T any] struct {
	name      string
	component world.ComponentType
	exclude   world.ComponentType
	width     int
	split     func(T) []int32
	join      func([]int32) T
}

func NewFields[T any](name string, component world.ComponentType, width int, split func(T) []int32, join func([]int32) T) *Fields[T] {
	return &Fields[T]{
		name:      name,
		component: component,
		width:     width,
		split:     split,
		join:      join,
	}
}

// Excluding stops the codec from applying to layouts that carry t.
func (f *Fields[T]) Excluding(t world.ComponentType) *Fields[T] {
	f.exclude = t
	return f
}

func (f *Fields[T]) Name() string { return f.name }

func (f *Fields[T]) AppliesTo(layout world.Layout) bool {
	if !layout.Has(f.component) {
		return false
	}
	return f.exclude == "" || !layout.Has(f.exclude)
}

func (f *Fields[T]) Zero() Value {
	return f.join(make([]int32, f.width))
}

func (f *Fields[T]) Capture(obj world.Object) (Value, error) {
	raw, ok := obj.Component(f.component)
	if !ok {
		return nil, fmt.Errorf("%w: %s on entity %d", ErrMissingValue, f.component, obj.Entity())
	}
	v, ok := raw.(T)
	if !ok {
		return nil, fmt.Errorf("%w: %s holds %T", ErrValueType, f.component, raw)
	}
	return v, nil
}

func (f *Fields[T]) fields(v Value) ([]int32, error) {
	typed, ok := v.(T)
	if !ok {
		return nil, fmt.Errorf("%w: %s got %T", ErrValueType, f.name, v)
	}
	out := f.split(typed)
	if len(out) != f.width {
		return nil, fmt.Errorf("%w: %s split %d fields, want %d", ErrValueType, f.name, len(out), f.width)
	}
	return out, nil
}

func (f *Fields[T]) Encode(m *wire.Model, w *wire.Writer, current, baseline Value) error {
	cur, err := f.fields(current)
	if err != nil {
		return err
	}
	base, err := f.fields(baseline)
	if err != nil {
		return err
	}
	for i := range cur {
		m.WritePackedInt(w, int64(cur[i])-int64(base[i]))
	}
	return nil
}

func (f *Fields[T]) Decode(m *wire.Model, r *wire.Reader, baseline Value) (Value, error) {
	base, err := f.fields(baseline)
	if err != nil {
		return nil, err
	}
	out := make([]int32, f.width)
	for i := range out {
		d, err := m.ReadPackedInt(r)
		if err != nil {
			return nil, err
		}
		out[i] = int32(int64(base[i]) + d)
	}
	return f.join(out), nil
}

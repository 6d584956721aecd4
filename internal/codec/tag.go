package codec

import (
	"cmp"
	"fmt"
	"slices"
	"sync"

	"github.com/danmuck/ghostwire/internal/protocol/wire"
	"github.com/danmuck/ghostwire/internal/world"
)

// Present is the only value a Tag codec produces.
type Present struct{}

// Tag replicates the presence of a component with an empty payload.
// Presence is decided per chunk: the replicator shares the chunks whose
// layout carries the component before any encode, and Capture only accepts
// objects living in one of them.
type Tag struct {
	name      string
	component world.ComponentType
	exclude   world.ComponentType

	mu     sync.RWMutex
	chunks map[world.ChunkKey]struct{}
}

var (
	_ Codec       = (*Tag)(nil)
	_ ChunkSharer = (*Tag)(nil)
)

func NewTag(name string, component, exclude world.ComponentType) *Tag {
	return &Tag{
		name:      name,
		component: component,
		exclude:   exclude,
		chunks:    make(map[world.ChunkKey]struct{}),
	}
}

func (t *Tag) Name() string { return t.name }

func (t *Tag) AppliesTo(layout world.Layout) bool {
	if !layout.Has(t.component) {
		return false
	}
	return t.exclude == "" || !layout.Has(t.exclude)
}

func (t *Tag) Zero() Value { return Present{} }

// Capture reports the tag present for obj's chunk. An object in a chunk
// that was not shared this tick is an error; its presence is unknown.
func (t *Tag) Capture(obj world.Object) (Value, error) {
	t.mu.RLock()
	_, ok := t.chunks[obj.Chunk()]
	t.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s entity=%d chunk=%s", ErrChunkNotShared, t.name, obj.Entity(), obj.Chunk())
	}
	return Present{}, nil
}

func (t *Tag) Encode(*wire.Model, *wire.Writer, Value, Value) error { return nil }

func (t *Tag) Decode(*wire.Model, *wire.Reader, Value) (Value, error) { return Present{}, nil }

// ShareChunks replaces the tagged chunk set for the coming tick.
func (t *Tag) ShareChunks(chunks []world.ChunkKey) {
	next := make(map[world.ChunkKey]struct{}, len(chunks))
	for _, k := range chunks {
		next[k] = struct{}{}
	}
	t.mu.Lock()
	t.chunks = next
	t.mu.Unlock()
}

// Chunks returns the chunks shared for the current tick in key order.
func (t *Tag) Chunks() []world.ChunkKey {
	t.mu.RLock()
	out := make([]world.ChunkKey, 0, len(t.chunks))
	for k := range t.chunks {
		out = append(out, k)
	}
	t.mu.RUnlock()
	slices.SortFunc(out, func(a, b world.ChunkKey) int {
		if c := cmp.Compare(a.Group, b.Group); c != 0 {
			return c
		}
		return cmp.Compare(a.Index, b.Index)
	})
	return out
}

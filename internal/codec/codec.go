// Package codec defines per-component delta codecs and the ordered set they
// are registered into. Registration order is the canonical wire order.
package codec

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/danmuck/ghostwire/internal/protocol/wire"
	"github.com/danmuck/ghostwire/internal/world"
)

var (
	ErrNilCodec       = errors.New("codec: nil codec")
	ErrDuplicateCodec = errors.New("codec: duplicate codec name")
	ErrUnknownCodec   = errors.New("codec: unknown codec id")
	ErrMissingValue   = errors.New("codec: component missing")
	ErrValueType      = errors.New("codec: unexpected value type")
	ErrChunkNotShared = errors.New("codec: object chunk not shared this tick")
)

// ID is assigned by registration order starting at 1.
type ID uint32

// Value is a codec-defined component state. Codecs must treat values as
// immutable once returned.
type Value any

// Codec encodes one component kind as a delta against a baseline.
type Codec interface {
	Name() string
	AppliesTo(layout world.Layout) bool
	// Zero is the baseline every new object is first encoded against.
	Zero() Value
	Capture(obj world.Object) (Value, error)
	Encode(m *wire.Model, w *wire.Writer, current, baseline Value) error
	Decode(m *wire.Model, r *wire.Reader, baseline Value) (Value, error)
}

// ChunkSharer is implemented by codecs that want the chunks holding their
// objects before each tick's encode pass.
type ChunkSharer interface {
	ShareChunks(chunks []world.ChunkKey)
}

// Set holds registered codecs in registration order.
type Set struct {
	mu      sync.RWMutex
	codecs  []Codec
	byName  map[string]ID
	sharers []ID
}

func NewSet() *Set {
	return &Set{byName: make(map[string]ID)}
}

// Register appends c and returns its id. The chunk sharing capability is
// resolved here, once.
func (s *Set) Register(c Codec) (ID, error) {
	if c == nil {
		return 0, ErrNilCodec
	}
	name := strings.TrimSpace(c.Name())
	if name == "" {
		return 0, fmt.Errorf("%w: empty name", ErrNilCodec)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byName[name]; ok {
		return 0, fmt.Errorf("%w: %q", ErrDuplicateCodec, name)
	}
	s.codecs = append(s.codecs, c)
	id := ID(len(s.codecs))
	s.byName[name] = id
	if _, ok := c.(ChunkSharer); ok {
		s.sharers = append(s.sharers, id)
	}
	return id, nil
}

// MustRegister registers each codec and panics on failure.
func (s *Set) MustRegister(codecs ...Codec) *Set {
	for _, c := range codecs {
		if _, err := s.Register(c); err != nil {
			panic(err)
		}
	}
	return s
}

func (s *Set) Get(id ID) (Codec, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if id == 0 || int(id) > len(s.codecs) {
		return nil, false
	}
	return s.codecs[id-1], true
}

func (s *Set) Lookup(name string) (ID, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byName[name]
	return id, ok
}

func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.codecs)
}

// Applicable lists, in registration order, the codecs that apply to layout.
func (s *Set) Applicable(layout world.Layout) []ID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ID, 0, len(s.codecs))
	for i, c := range s.codecs {
		if c.AppliesTo(layout) {
			out = append(out, ID(i+1))
		}
	}
	return out
}

// Sharers lists the ids of codecs implementing ChunkSharer.
func (s *Set) Sharers() []ID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.sharers)
}

package world

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
)

var (
	ErrUnknownEntity = errors.New("world: unknown entity")
	ErrReservedType  = errors.New("world: empty component type")
)

const DefaultChunkCapacity = 64

// Store is an in-memory entity store that groups entities of the same layout
// into fixed-capacity chunks. Changing an entity's layout moves it to a
// chunk of the new layout; removing an entity swap-removes it from its chunk.
type Store struct {
	mu       sync.RWMutex
	next     atomic.Uint64
	capacity int

	groups   map[uint64][]*group
	groupSeq uint32
	records  map[Entity]*record
}

type group struct {
	id     uint32
	layout Layout
	chunks [][]Entity
}

type record struct {
	values map[ComponentType]any
	layout Layout
	group  *group
	chunk  int
	row    int
}

func NewStore(chunkCapacity int) *Store {
	if chunkCapacity <= 0 {
		chunkCapacity = DefaultChunkCapacity
	}
	return &Store{
		capacity: chunkCapacity,
		groups:   make(map[uint64][]*group),
		records:  make(map[Entity]*record),
	}
}

// Spawn creates an entity holding the given components.
func (s *Store) Spawn(values map[ComponentType]any) (Entity, error) {
	types := make([]ComponentType, 0, len(values))
	for t := range values {
		if t == "" {
			return 0, ErrReservedType
		}
		types = append(types, t)
	}
	e := Entity(s.next.Add(1))

	s.mu.Lock()
	defer s.mu.Unlock()
	rec := &record{values: maps.Clone(values), layout: NewLayout(types...)}
	if rec.values == nil {
		rec.values = make(map[ComponentType]any)
	}
	s.place(e, rec)
	s.records[e] = rec
	return e, nil
}

func (s *Store) Despawn(e Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[e]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownEntity, e)
	}
	s.unplace(rec)
	delete(s.records, e)
	return nil
}

// Set writes a component value, moving the entity if its layout changes.
func (s *Store) Set(e Entity, t ComponentType, v any) error {
	if t == "" {
		return ErrReservedType
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[e]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownEntity, e)
	}
	_, had := rec.values[t]
	rec.values[t] = v
	if !had {
		s.relayout(e, rec, rec.layout.With(t))
	}
	return nil
}

// Unset removes a component, moving the entity to its new layout.
func (s *Store) Unset(e Entity, t ComponentType) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[e]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownEntity, e)
	}
	if _, had := rec.values[t]; !had {
		return nil
	}
	delete(rec.values, t)
	s.relayout(e, rec, rec.layout.Without(t))
	return nil
}

func (s *Store) Get(e Entity, t ComponentType) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[e]
	if !ok {
		return nil, false
	}
	v, ok := rec.values[t]
	return v, ok
}

// Get reads a typed component value.
func Get[T any](s *Store, e Entity, t ComponentType) (T, bool) {
	var zero T
	v, ok := s.Get(e, t)
	if !ok {
		return zero, false
	}
	typed, ok := v.(T)
	return typed, ok
}

// Update applies fn to every entity that has component t.
func (s *Store) Update(t ComponentType, fn func(e Entity, v any) any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for e, rec := range s.records {
		if v, ok := rec.values[t]; ok {
			rec.values[t] = fn(e, v)
		}
	}
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Entities lists every live entity in ascending order.
func (s *Store) Entities() []Entity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entity, 0, len(s.records))
	for e := range s.records {
		out = append(out, e)
	}
	slices.Sort(out)
	return out
}

// ChunkOf reports the chunk an entity currently lives in.
func (s *Store) ChunkOf(e Entity) (ChunkKey, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[e]
	if !ok {
		return ChunkKey{}, false
	}
	return ChunkKey{Group: rec.group.id, Index: uint32(rec.chunk)}, true
}

// Objects snapshots every entity carrying the Replicated tag, ordered by
// entity handle so list positions only move on spawn and despawn.
func (s *Store) Objects() []Object {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Object, 0, len(s.records))
	for e, rec := range s.records {
		if !rec.layout.Has(Replicated) {
			continue
		}
		out = append(out, &Snapshot{
			ID:     e,
			Shape:  rec.layout,
			Group:  ChunkKey{Group: rec.group.id, Index: uint32(rec.chunk)},
			Values: maps.Clone(rec.values),
		})
	}
	slices.SortFunc(out, func(a, b Object) int {
		switch {
		case a.Entity() < b.Entity():
			return -1
		case a.Entity() > b.Entity():
			return 1
		}
		return 0
	})
	return out
}

func (s *Store) relayout(e Entity, rec *record, next Layout) {
	s.unplace(rec)
	rec.layout = next
	s.place(e, rec)
}

func (s *Store) groupFor(l Layout) *group {
	for _, g := range s.groups[l.Hash()] {
		if g.layout.Equal(l) {
			return g
		}
	}
	s.groupSeq++
	g := &group{id: s.groupSeq, layout: l}
	s.groups[l.Hash()] = append(s.groups[l.Hash()], g)
	return g
}

func (s *Store) place(e Entity, rec *record) {
	g := s.groupFor(rec.layout)
	idx := -1
	for i, c := range g.chunks {
		if len(c) < s.capacity {
			idx = i
			break
		}
	}
	if idx < 0 {
		g.chunks = append(g.chunks, make([]Entity, 0, s.capacity))
		idx = len(g.chunks) - 1
	}
	g.chunks[idx] = append(g.chunks[idx], e)
	rec.group = g
	rec.chunk = idx
	rec.row = len(g.chunks[idx]) - 1
}

func (s *Store) unplace(rec *record) {
	c := rec.group.chunks[rec.chunk]
	last := len(c) - 1
	if rec.row != last {
		moved := c[last]
		c[rec.row] = moved
		s.records[moved].row = rec.row
	}
	rec.group.chunks[rec.chunk] = c[:last]
}

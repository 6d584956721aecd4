package world

import "fmt"

// Entity is a storage handle. It is not a ghost id and never crosses the wire.
type Entity uint64

// ChunkKey identifies the storage group an entity currently lives in. Two
// keys are the same chunk exactly when they compare equal.
type ChunkKey struct {
	Group uint32
	Index uint32
}

func (k ChunkKey) String() string {
	return fmt.Sprintf("%d.%d", k.Group, k.Index)
}

// Object is the per-tick view of one replication-eligible entity.
type Object interface {
	Entity() Entity
	Layout() Layout
	Chunk() ChunkKey
	Component(t ComponentType) (any, bool)
}

// Source enumerates eligible objects once per tick, in a stable order.
type Source interface {
	Objects() []Object
}

// SourceFunc adapts a function to Source.
type SourceFunc func() []Object

func (f SourceFunc) Objects() []Object {
	return f()
}

// Snapshot is an immutable Object value captured from storage.
type Snapshot struct {
	ID     Entity
	Shape  Layout
	Group  ChunkKey
	Values map[ComponentType]any
}

var _ Object = (*Snapshot)(nil)

func (s *Snapshot) Entity() Entity  { return s.ID }
func (s *Snapshot) Layout() Layout  { return s.Shape }
func (s *Snapshot) Chunk() ChunkKey { return s.Group }

func (s *Snapshot) Component(t ComponentType) (any, bool) {
	v, ok := s.Values[t]
	return v, ok
}

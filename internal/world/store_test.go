package world

import (
	"errors"
	"testing"
)

const (
	position ComponentType = "position"
	health   ComponentType = "health"
)

func TestLayoutNormalizesAndCompares(t *testing.T) {
	a := NewLayout(position, Replicated, position)
	b := NewLayout(Replicated, position)
	if !a.Equal(b) || a.Hash() != b.Hash() {
		t.Fatalf("expected equal layouts: %s vs %s", a, b)
	}
	if a.Len() != 2 || !a.Has(position) || a.Has(health) {
		t.Fatalf("unexpected layout membership: %s", a)
	}
	c := a.With(health)
	if c.Equal(a) || !c.Has(health) {
		t.Fatalf("With did not add component: %s", c)
	}
	if !c.Without(health).Equal(a) {
		t.Fatalf("Without did not restore layout: %s", c.Without(health))
	}
}

func TestStoreChunksByLayout(t *testing.T) {
	s := NewStore(2)
	e1, _ := s.Spawn(map[ComponentType]any{Replicated: struct{}{}, position: 1})
	e2, _ := s.Spawn(map[ComponentType]any{Replicated: struct{}{}, position: 2})
	e3, _ := s.Spawn(map[ComponentType]any{Replicated: struct{}{}, position: 3})

	k1, _ := s.ChunkOf(e1)
	k2, _ := s.ChunkOf(e2)
	k3, _ := s.ChunkOf(e3)
	if k1 != k2 {
		t.Fatalf("expected e1 and e2 to share a chunk: %v %v", k1, k2)
	}
	if k3 == k1 || k3.Group != k1.Group {
		t.Fatalf("expected e3 in a second chunk of the same group: %v %v", k1, k3)
	}

	if err := s.Set(e2, health, 10); err != nil {
		t.Fatalf("set: %v", err)
	}
	moved, _ := s.ChunkOf(e2)
	if moved.Group == k1.Group {
		t.Fatalf("expected e2 to move group after layout change: %v", moved)
	}

	objs := s.Objects()
	if len(objs) != 3 {
		t.Fatalf("unexpected object count: %d", len(objs))
	}
	for i, want := range []Entity{e1, e2, e3} {
		if objs[i].Entity() != want {
			t.Fatalf("objects not ordered by entity at %d: %d", i, objs[i].Entity())
		}
	}
	if v, ok := objs[1].Component(health); !ok || v.(int) != 10 {
		t.Fatalf("unexpected health component: %v %v", v, ok)
	}
}

func TestStoreDespawnSwapRemoves(t *testing.T) {
	s := NewStore(4)
	e1, _ := s.Spawn(map[ComponentType]any{position: 1})
	e2, _ := s.Spawn(map[ComponentType]any{position: 2})
	e3, _ := s.Spawn(map[ComponentType]any{position: 3})
	if err := s.Despawn(e1); err != nil {
		t.Fatalf("despawn: %v", err)
	}
	if err := s.Despawn(e1); !errors.Is(err, ErrUnknownEntity) {
		t.Fatalf("expected ErrUnknownEntity, got %v", err)
	}
	if s.Len() != 2 {
		t.Fatalf("unexpected len: %d", s.Len())
	}
	if err := s.Unset(e3, position); err != nil {
		t.Fatalf("unset: %v", err)
	}
	if _, ok := Get[int](s, e3, position); ok {
		t.Fatalf("expected component removed")
	}
	if v, ok := Get[int](s, e2, position); !ok || v != 2 {
		t.Fatalf("unexpected e2 position: %v %v", v, ok)
	}
}

func TestStoreObjectsSkipsUnreplicated(t *testing.T) {
	s := NewStore(0)
	_, _ = s.Spawn(map[ComponentType]any{position: 1})
	e, _ := s.Spawn(map[ComponentType]any{Replicated: struct{}{}})
	objs := s.Objects()
	if len(objs) != 1 || objs[0].Entity() != e {
		t.Fatalf("unexpected objects: %+v", objs)
	}
	if _, err := s.Spawn(map[ComponentType]any{"": 1}); !errors.Is(err, ErrReservedType) {
		t.Fatalf("expected ErrReservedType, got %v", err)
	}
}

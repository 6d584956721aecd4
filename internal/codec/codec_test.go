package codec

import (
	"errors"
	"testing"

	"github.com/danmuck/ghostwire/internal/protocol/wire"
	"github.com/danmuck/ghostwire/internal/testutil/testlog"
	"github.com/danmuck/ghostwire/internal/world"
)

func TestSetRegistrationOrder(t *testing.T) {
	testlog.Start(t)
	set := DefaultSet()
	if set.Len() != 3 {
		t.Fatalf("unexpected set size: %d", set.Len())
	}
	for i, name := range []string{"ghostwire.transform", "ghostwire.health", "ghostwire.dead"} {
		id, ok := set.Lookup(name)
		if !ok || id != ID(i+1) {
			t.Fatalf("lookup %s: id=%d ok=%v", name, id, ok)
		}
	}
	if _, err := set.Register(NewHealthCodec()); !errors.Is(err, ErrDuplicateCodec) {
		t.Fatalf("expected ErrDuplicateCodec, got %v", err)
	}
	if _, err := set.Register(nil); !errors.Is(err, ErrNilCodec) {
		t.Fatalf("expected ErrNilCodec, got %v", err)
	}
	if _, ok := set.Get(0); ok {
		t.Fatalf("id 0 must not resolve")
	}
	sharers := set.Sharers()
	if len(sharers) != 1 || sharers[0] != 3 {
		t.Fatalf("unexpected sharers: %v", sharers)
	}
}

func TestApplicableRespectsExclude(t *testing.T) {
	testlog.Start(t)
	set := DefaultSet()
	alive := world.NewLayout(world.Replicated, TransformComponent, HealthComponent)
	if got := set.Applicable(alive); len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Fatalf("unexpected alive codecs: %v", got)
	}
	dead := alive.With(DeadComponent)
	if got := set.Applicable(dead); len(got) != 2 || got[0] != 1 || got[1] != 3 {
		t.Fatalf("unexpected dead codecs: %v", got)
	}
	if got := set.Applicable(world.NewLayout(world.Replicated)); len(got) != 0 {
		t.Fatalf("expected no codecs, got %v", got)
	}
}

func TestFieldsDeltaRoundTrip(t *testing.T) {
	testlog.Start(t)
	c := NewTransformCodec()
	m := wire.DefaultModel()
	w := wire.NewWriter(16)
	base := c.Zero()
	cur := Transform{X: 100, Y: -5, Z: 0, Heading: 90}
	if err := c.Encode(m, w, cur, base); err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := c.Decode(m, wire.NewReader(w.Bytes()), base)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.(Transform) != cur {
		t.Fatalf("round trip mismatch: got=%+v want=%+v", got, cur)
	}

	unchanged := wire.NewWriter(4)
	if err := c.Encode(m, unchanged, cur, cur); err != nil {
		t.Fatalf("encode unchanged: %v", err)
	}
	if unchanged.Len() != 4 {
		t.Fatalf("unchanged value should cost one byte per field, got %d", unchanged.Len())
	}
}

func TestFieldsCaptureErrors(t *testing.T) {
	testlog.Start(t)
	c := NewHealthCodec()
	obj := &world.Snapshot{ID: 1, Values: map[world.ComponentType]any{HealthComponent: "full"}}
	if _, err := c.Capture(obj); !errors.Is(err, ErrValueType) {
		t.Fatalf("expected ErrValueType, got %v", err)
	}
	if _, err := c.Capture(&world.Snapshot{ID: 2}); !errors.Is(err, ErrMissingValue) {
		t.Fatalf("expected ErrMissingValue, got %v", err)
	}
	if err := c.Encode(wire.DefaultModel(), wire.NewWriter(0), Transform{}, c.Zero()); !errors.Is(err, ErrValueType) {
		t.Fatalf("expected ErrValueType on mismatched value, got %v", err)
	}
}

func TestTagCapturesOnlySharedChunks(t *testing.T) {
	testlog.Start(t)
	tag := NewDeadCodec()
	dead := world.NewLayout(world.Replicated, DeadComponent)
	inChunk := func(k world.ChunkKey) world.Object {
		return &world.Snapshot{ID: 9, Shape: dead, Group: k, Values: map[world.ComponentType]any{DeadComponent: struct{}{}}}
	}

	if _, err := tag.Capture(inChunk(world.ChunkKey{Group: 1})); !errors.Is(err, ErrChunkNotShared) {
		t.Fatalf("expected ErrChunkNotShared before sharing, got %v", err)
	}

	tag.ShareChunks([]world.ChunkKey{{Group: 1, Index: 1}, {Group: 1, Index: 0}})
	tag.ShareChunks([]world.ChunkKey{{Group: 2, Index: 0}})
	got := tag.Chunks()
	if len(got) != 1 || got[0] != (world.ChunkKey{Group: 2, Index: 0}) {
		t.Fatalf("unexpected shared chunks: %v", got)
	}
	if v, err := tag.Capture(inChunk(world.ChunkKey{Group: 2})); err != nil || v != (Present{}) {
		t.Fatalf("expected presence for shared chunk: %v %v", v, err)
	}
	if _, err := tag.Capture(inChunk(world.ChunkKey{Group: 1})); !errors.Is(err, ErrChunkNotShared) {
		t.Fatalf("stale chunk must be rejected after the next share, got %v", err)
	}

	w := wire.NewWriter(0)
	if err := tag.Encode(nil, w, Present{}, Present{}); err != nil || w.Len() != 0 {
		t.Fatalf("tag payload must be empty: len=%d err=%v", w.Len(), err)
	}
}

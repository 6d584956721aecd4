package snapshot

import (
	"encoding/binary"
	"errors"
	"slices"
	"testing"

	"github.com/danmuck/ghostwire/internal/archetype"
	"github.com/danmuck/ghostwire/internal/codec"
	"github.com/danmuck/ghostwire/internal/ghost"
	"github.com/danmuck/ghostwire/internal/protocol/wire"
	"github.com/danmuck/ghostwire/internal/testutil/testlog"
	"github.com/danmuck/ghostwire/internal/world"
)

var (
	layoutA = world.NewLayout(world.Replicated, codec.TransformComponent)
	layoutB = world.NewLayout(world.Replicated, codec.TransformComponent, codec.HealthComponent)
)

const (
	transformID codec.ID = 1
	healthID    codec.ID = 2
)

type fixture struct {
	t        *testing.T
	registry *archetype.Registry
	enc      *Encoder
	dec      *Decoder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	set := codec.DefaultSet()
	model := wire.DefaultModel()
	reg := archetype.NewRegistry(set)
	return &fixture{t: t, registry: reg, enc: NewEncoder(reg, model), dec: NewDecoder(set, model)}
}

func (fx *fixture) entry(g ghost.ID, layout world.Layout, chunk uint32, x int32) Entry {
	fx.t.Helper()
	arch, err := fx.registry.ArchetypeFor(layout)
	if err != nil {
		fx.t.Fatalf("archetype: %v", err)
	}
	values := map[world.ComponentType]any{
		world.Replicated:         struct{}{},
		codec.TransformComponent: codec.Transform{X: x, Y: x * 2},
	}
	if layout.Has(codec.HealthComponent) {
		values[codec.HealthComponent] = codec.Health{Current: x, Max: 100}
	}
	key := world.ChunkKey{Group: uint32(arch), Index: chunk}
	return Entry{
		Ghost:     g,
		Archetype: arch,
		Chunk:     key,
		Object:    &world.Snapshot{ID: world.Entity(g) + 1000, Shape: layout, Group: key, Values: values},
	}
}

func (fx *fixture) encode(f Frame, st *ObserverState) ([]byte, Stats) {
	fx.t.Helper()
	payload, stats, err := fx.enc.Encode(f, st)
	if err != nil {
		fx.t.Fatalf("encode tick %d: %v", f.Tick, err)
	}
	return payload, stats
}

func (fx *fixture) decode(payload []byte, rs *ReceiverState) Result {
	fx.t.Helper()
	res, err := fx.dec.Decode(payload, rs)
	if err != nil {
		fx.t.Fatalf("decode: %v", err)
	}
	return res
}

func selector(payload []byte) int32 {
	return int32(binary.LittleEndian.Uint32(payload[9:13]))
}

func TestRebuildRoundTrip(t *testing.T) {
	testlog.Start(t)
	fx := newFixture(t)
	st := NewObserverState()
	rs := NewReceiverState(4)

	f := Frame{Tick: 1, Entries: []Entry{fx.entry(1, layoutA, 0, 10), fx.entry(2, layoutA, 0, 20), fx.entry(3, layoutB, 0, 30)}}
	payload, stats := fx.encode(f, st)
	if stats.Mode != ModeRebuild || stats.Taught != 2 || stats.Bytes != len(payload) {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if payload[4] != TagVerify || selector(payload) != 3 {
		t.Fatalf("unexpected header: tag=%d selector=%d", payload[4], selector(payload))
	}
	if binary.LittleEndian.Uint32(payload[len(payload)-4:]) != 0 {
		t.Fatalf("missing terminator")
	}

	res := fx.decode(payload, rs)
	if res.Mode != ModeRebuild || res.Tick != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if !slices.Equal(rs.IDs(), st.IDs()) {
		t.Fatalf("id list mismatch: got=%v want=%v", rs.IDs(), st.IDs())
	}
	for _, g := range st.IDs() {
		want, _ := st.Archetype(g)
		got, _ := rs.Archetype(g)
		if got != want {
			t.Fatalf("archetype mismatch for %v: got=%d want=%d", g, got, want)
		}
	}
	v, ok := rs.Latest(3, healthID)
	if !ok || v.(codec.Health) != (codec.Health{Current: 30, Max: 100}) {
		t.Fatalf("unexpected health for ghost 3: %v %v", v, ok)
	}
	v, _ = rs.Latest(2, transformID)
	if v.(codec.Transform) != (codec.Transform{X: 20, Y: 40}) {
		t.Fatalf("unexpected transform for ghost 2: %+v", v)
	}
}

func TestNoopIsIdempotent(t *testing.T) {
	testlog.Start(t)
	fx := newFixture(t)
	st := NewObserverState()
	rs := NewReceiverState(4)
	entries := []Entry{fx.entry(1, layoutA, 0, 1), fx.entry(2, layoutA, 0, 2)}

	fx.decode(first(fx.encode(Frame{Tick: 1, Entries: entries}, st)), rs)
	idsBefore := st.IDs()
	baseBefore, _ := st.Baseline(2, transformID)
	blockedBefore := st.Blocked()

	payload, stats := fx.encode(Frame{Tick: 2, Entries: entries}, st)
	if stats.Mode != ModeNoop || selector(payload) != -1 {
		t.Fatalf("expected no-op, got mode=%s selector=%d", stats.Mode, selector(payload))
	}
	baseAfter, _ := st.Baseline(2, transformID)
	if !slices.Equal(idsBefore, st.IDs()) || baseBefore != baseAfter || !slices.Equal(blockedBefore, st.Blocked()) {
		t.Fatalf("no-op changed observer state")
	}
	if st.KnownArchetypes() != 1 {
		t.Fatalf("unexpected known archetypes: %d", st.KnownArchetypes())
	}

	res := fx.decode(payload, rs)
	if res.Mode != ModeNoop || !slices.Equal(res.Ghosts, []ghost.ID{1, 2}) {
		t.Fatalf("unexpected noop decode: %+v", res)
	}
}

func first(b []byte, _ Stats) []byte { return b }

func TestIncrementalSingleArchetypeChange(t *testing.T) {
	testlog.Start(t)
	fx := newFixture(t)
	st := NewObserverState()
	rs := NewReceiverState(4)

	a := []Entry{fx.entry(1, layoutA, 0, 1), fx.entry(2, layoutA, 0, 2), fx.entry(3, layoutA, 0, 3)}
	fx.decode(first(fx.encode(Frame{Tick: 1, Entries: a}, st)), rs)

	b := []Entry{a[0], fx.entry(2, layoutB, 0, 2), a[2]}
	payload, stats := fx.encode(Frame{Tick: 2, Entries: b, Changed: map[ghost.ID]struct{}{2: {}}}, st)
	if stats.Mode != ModeIncremental || stats.Changes != 1 || stats.Taught != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if selector(payload) != -2 || int32(binary.LittleEndian.Uint32(payload[13:17])) != 1 {
		t.Fatalf("unexpected incremental prefix: %v", payload[9:17])
	}

	res := fx.decode(payload, rs)
	if res.Mode != ModeIncremental || res.Changes != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
	archA, _ := fx.registry.ArchetypeFor(layoutA)
	archB, _ := fx.registry.ArchetypeFor(layoutB)
	want := map[ghost.ID]archetype.ID{1: archA, 2: archB, 3: archA}
	got := rs.Archetypes()
	for g, arch := range want {
		if got[g] != arch {
			t.Fatalf("archetype map mismatch: got=%v want=%v", got, want)
		}
	}
	v, ok := rs.Latest(2, healthID)
	if !ok || v.(codec.Health) != (codec.Health{Current: 2, Max: 100}) {
		t.Fatalf("health for newly added codec should decode from zero: %v %v", v, ok)
	}
}

func TestRemovalForcesRebuildAndBlocks(t *testing.T) {
	testlog.Start(t)
	fx := newFixture(t)
	st := NewObserverState()
	rs := NewReceiverState(4)
	e1, e2, e3 := fx.entry(1, layoutA, 0, 1), fx.entry(2, layoutA, 0, 2), fx.entry(3, layoutA, 0, 3)

	fx.decode(first(fx.encode(Frame{Tick: 1, Entries: []Entry{e1, e2, e3}}, st)), rs)
	payload, stats := fx.encode(Frame{Tick: 2, Entries: []Entry{e1, e3}}, st)
	if stats.Mode != ModeRebuild || stats.Removed != 1 || stats.Taught != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if !st.IsBlocked(2) || !slices.Equal(st.Blocked(), []ghost.ID{2}) {
		t.Fatalf("expected ghost 2 blocked, got %v", st.Blocked())
	}
	if _, ok := st.Baseline(2, transformID); ok {
		t.Fatalf("removed ghost baseline should be released")
	}
	res := fx.decode(payload, rs)
	if !slices.Equal(res.Ghosts, []ghost.ID{1, 3}) {
		t.Fatalf("unexpected decoded ghosts: %v", res.Ghosts)
	}
	if rs.History(2, transformID) != nil {
		t.Fatalf("receiver kept history for removed ghost")
	}

	if n := st.Acknowledge(1); n != 0 || !st.IsBlocked(2) {
		t.Fatalf("ack before removal tick must not clear, cleared=%d", n)
	}
	if n := st.Acknowledge(2); n != 1 || st.IsBlocked(2) {
		t.Fatalf("ack of removal tick must clear, cleared=%d", n)
	}
}

func TestNewObjectDeltasAgainstZero(t *testing.T) {
	testlog.Start(t)
	fx := newFixture(t)
	st := NewObserverState()
	rs := NewReceiverState(4)

	fx.decode(first(fx.encode(Frame{Tick: 1, Entries: []Entry{fx.entry(1, layoutA, 0, 500)}}, st)), rs)
	fx.decode(first(fx.encode(Frame{Tick: 2, Entries: nil}, st)), rs)
	st.Acknowledge(2)

	// id 1 comes back naming a different object
	reused := fx.entry(1, layoutA, 0, 7)
	payload, _ := fx.encode(Frame{Tick: 3, Entries: []Entry{reused}}, st)
	fx.decode(payload, rs)

	v, _ := rs.Latest(1, transformID)
	if v.(codec.Transform) != (codec.Transform{X: 7, Y: 14}) {
		t.Fatalf("reused id decoded against stale baseline: %+v", v)
	}
	if h := rs.History(1, transformID); len(h) != 1 {
		t.Fatalf("expected fresh history slot, got %d entries", len(h))
	}

	w := wire.NewWriter(8)
	c := codec.NewTransformCodec()
	if err := c.Encode(wire.DefaultModel(), w, codec.Transform{X: 7, Y: 14}, c.Zero()); err != nil {
		t.Fatalf("encode: %v", err)
	}
	body := payload[len(payload)-4-w.Len() : len(payload)-4]
	if !slices.Equal(body, w.Bytes()) {
		t.Fatalf("component payload not delta coded against zero: got=%v want=%v", body, w.Bytes())
	}
}

func TestHistoryBoundAfterManyDecodes(t *testing.T) {
	testlog.Start(t)
	fx := newFixture(t)
	st := NewObserverState()
	rs := NewReceiverState(3)
	for tick := uint32(1); tick <= 5; tick++ {
		payload, _ := fx.encode(Frame{Tick: tick, Entries: []Entry{fx.entry(9, layoutA, 0, int32(tick))}}, st)
		fx.decode(payload, rs)
	}
	h := rs.History(9, transformID)
	if len(h) != 3 {
		t.Fatalf("expected 3 retained states, got %d", len(h))
	}
	for i, want := range []int32{3, 4, 5} {
		if h[i].(codec.Transform).X != want {
			t.Fatalf("history order mismatch at %d: %+v", i, h)
		}
	}
}

func TestDecodeDesyncResetsUntilRebuild(t *testing.T) {
	testlog.Start(t)
	fx := newFixture(t)
	st := NewObserverState()
	rs := NewReceiverState(4)
	entries := []Entry{fx.entry(1, layoutA, 0, 1)}
	fx.decode(first(fx.encode(Frame{Tick: 1, Entries: entries}, st)), rs)

	payload, _ := fx.encode(Frame{Tick: 2, Entries: entries}, st)
	corrupt := slices.Clone(payload)
	corrupt[4] = 61
	_, err := fx.dec.Decode(corrupt, rs)
	var de *DesyncError
	if !errors.Is(err, ErrDesync) || !errors.As(err, &de) || de.Reason != "missing verification tag" {
		t.Fatalf("expected verification desync, got %v", err)
	}
	if !rs.AwaitingRebuild() || len(rs.IDs()) != 0 {
		t.Fatalf("receiver state must be reset after desync")
	}

	noop, _ := fx.encode(Frame{Tick: 3, Entries: entries}, st)
	if res := fx.decode(noop, rs); !res.Skipped {
		t.Fatalf("expected non-rebuild payload to be skipped: %+v", res)
	}

	st.Reset()
	rebuild, stats := fx.encode(Frame{Tick: 4, Entries: entries}, st)
	if stats.Mode != ModeRebuild || stats.Taught != 1 {
		t.Fatalf("reset observer must rebuild and re-teach: %+v", stats)
	}
	res := fx.decode(rebuild, rs)
	if res.Skipped || rs.AwaitingRebuild() || !slices.Equal(rs.IDs(), []ghost.ID{1}) {
		t.Fatalf("receiver did not recover: %+v", res)
	}
}

func TestDecodeRejectsBadFraming(t *testing.T) {
	testlog.Start(t)
	fx := newFixture(t)
	payload, _ := fx.encode(Frame{Tick: 1, Entries: []Entry{fx.entry(1, layoutA, 0, 1)}}, NewObserverState())

	cases := map[string]func([]byte) []byte{
		"tick mismatch": func(b []byte) []byte { b[5]++; return b },
		"marker":        func(b []byte) []byte { b[bytesIndex(b, TagMarker, 17)] = 41; return b },
		"terminator":    func(b []byte) []byte { b[len(b)-1] = 1; return b },
		"truncated":     func(b []byte) []byte { return b[:len(b)-2] },
		"trailing":      func(b []byte) []byte { return append(b, 0) },
		"selector":      func(b []byte) []byte { binary.LittleEndian.PutUint32(b[9:], uint32(0xfffffff0)); return b },
	}
	for name, mutate := range cases {
		_, err := fx.dec.Decode(mutate(slices.Clone(payload)), NewReceiverState(4))
		if !errors.Is(err, ErrDesync) {
			t.Fatalf("%s: expected ErrDesync, got %v", name, err)
		}
	}
}

func bytesIndex(b []byte, v byte, from int) int {
	for i := from; i < len(b); i++ {
		if b[i] == v {
			return i
		}
	}
	return -1
}

func TestEncodeOutOfChainNotImplemented(t *testing.T) {
	testlog.Start(t)
	fx := newFixture(t)
	st := NewObserverState()
	fx.encode(Frame{Tick: 5}, st)
	if _, _, err := fx.enc.Encode(Frame{Tick: 5}, st); !errors.Is(err, ErrNotImplemented) {
		t.Fatalf("expected ErrNotImplemented, got %v", err)
	}
}

func TestMissingBaselineIsInvariantViolation(t *testing.T) {
	testlog.Start(t)
	fx := newFixture(t)
	st := NewObserverState()
	entries := []Entry{fx.entry(1, layoutA, 0, 1)}
	fx.encode(Frame{Tick: 1, Entries: entries}, st)
	delete(st.baselines[1], transformID)

	_, _, err := fx.enc.Encode(Frame{Tick: 2, Entries: entries}, st)
	var ie *InvariantError
	if !errors.Is(err, ErrInvariant) || !errors.As(err, &ie) || ie.Ghost != 1 || ie.Codec != transformID {
		t.Fatalf("expected missing baseline invariant, got %v", err)
	}
}

func TestHistoryEvictsOldestFirst(t *testing.T) {
	testlog.Start(t)
	h := NewHistory(2)
	if _, ok := h.Latest(); ok {
		t.Fatalf("empty history has no latest")
	}
	for i := 1; i <= 4; i++ {
		h.Push(i)
	}
	got := h.Values()
	if h.Len() != 2 || h.Cap() != 2 || got[0] != 3 || got[1] != 4 {
		t.Fatalf("unexpected history: %v", got)
	}
	if v, _ := h.Latest(); v != 4 {
		t.Fatalf("unexpected latest: %v", v)
	}
}

func TestResetRebuildDropsReceiverValues(t *testing.T) {
	testlog.Start(t)
	fx := newFixture(t)
	st := NewObserverState()
	rs := NewReceiverState(4)
	entries := []Entry{fx.entry(1, layoutA, 0, 10)}
	fx.decode(first(fx.encode(Frame{Tick: 1, Entries: entries}, st)), rs)

	// only the sending side forgets its baselines
	st.Reset()
	payload, stats := fx.encode(Frame{Tick: 2, Entries: entries}, st)
	if stats.Mode != ModeRebuild || !stats.Reset {
		t.Fatalf("expected reset rebuild, got %+v", stats)
	}
	if selector(payload) != selectorReset || int32(binary.LittleEndian.Uint32(payload[13:17])) != 1 {
		t.Fatalf("unexpected reset header: selector=%d", selector(payload))
	}
	res := fx.decode(payload, rs)
	if res.Mode != ModeRebuild || !res.Reset {
		t.Fatalf("unexpected result: %+v", res)
	}
	v, ok := rs.Latest(1, transformID)
	if !ok || v.(codec.Transform) != (codec.Transform{X: 10, Y: 20}) {
		t.Fatalf("value corrupted after reset: %+v", v)
	}
	if got := len(rs.History(1, transformID)); got != 1 {
		t.Fatalf("history must restart after reset, got %d values", got)
	}

	// the following rebuild is ordinary again
	payload, stats = fx.encode(Frame{Tick: 3, Entries: append(entries, fx.entry(2, layoutA, 0, 5))}, st)
	if stats.Reset || selector(payload) != 2 {
		t.Fatalf("reset flag must not persist: %+v selector=%d", stats, selector(payload))
	}
	fx.decode(payload, rs)
	v, _ = rs.Latest(1, transformID)
	if v.(codec.Transform) != (codec.Transform{X: 10, Y: 20}) {
		t.Fatalf("unexpected transform after rebuild: %+v", v)
	}
}

func TestDecodeRejectsResetWithoutCount(t *testing.T) {
	testlog.Start(t)
	fx := newFixture(t)
	w := wire.NewWriter(16)
	w.WriteUint32(1)
	w.WriteUint8(TagVerify)
	w.WriteUint32(1)
	w.WriteInt32(selectorReset)
	w.WriteInt32(selectorNoop)
	_, err := fx.dec.Decode(w.Bytes(), NewReceiverState(4))
	var de *DesyncError
	if !errors.As(err, &de) || de.Reason != "reset without rebuild count" {
		t.Fatalf("expected reset desync, got %v", err)
	}
}

func TestFreshObserverRebuildsEmptyWorld(t *testing.T) {
	testlog.Start(t)
	fx := newFixture(t)
	st := NewObserverState()
	rs := NewReceiverState(4)
	rs.Reset()

	payload, stats := fx.encode(Frame{Tick: 1}, st)
	if stats.Mode != ModeRebuild || stats.Reset || selector(payload) != 0 {
		t.Fatalf("first snapshot must be a plain rebuild: %+v selector=%d", stats, selector(payload))
	}
	res := fx.decode(payload, rs)
	if res.Skipped || rs.AwaitingRebuild() {
		t.Fatalf("receiver still waiting after first rebuild: %+v", res)
	}

	payload, stats = fx.encode(Frame{Tick: 2}, st)
	if stats.Mode != ModeNoop {
		t.Fatalf("expected no-op once the empty list is known: %+v", stats)
	}
	if res := fx.decode(payload, rs); res.Skipped || res.Mode != ModeNoop {
		t.Fatalf("unexpected result: %+v", res)
	}
}

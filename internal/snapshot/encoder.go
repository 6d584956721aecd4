package snapshot

import (
	"fmt"

	"github.com/danmuck/ghostwire/internal/archetype"
	"github.com/danmuck/ghostwire/internal/codec"
	"github.com/danmuck/ghostwire/internal/ghost"
	"github.com/danmuck/ghostwire/internal/protocol/wire"
)

// Encoder writes snapshots. It holds no per-observer state and may be used
// by many goroutines while the registry is frozen.
type Encoder struct {
	registry *archetype.Registry
	codecs   *codec.Set
	model    *wire.Model
}

func NewEncoder(registry *archetype.Registry, model *wire.Model) *Encoder {
	if model == nil {
		model = wire.DefaultModel()
	}
	return &Encoder{registry: registry, codecs: registry.Codecs(), model: model}
}

// Encode writes the snapshot for f and advances st to it. Ticks must strictly
// increase per observer; encoding out of chain is not implemented.
func (e *Encoder) Encode(f Frame, st *ObserverState) ([]byte, Stats, error) {
	if st.started && f.Tick <= st.tick {
		return nil, Stats{}, fmt.Errorf("%w: unchained encode tick=%d last=%d", ErrNotImplemented, f.Tick, st.tick)
	}
	stats := Stats{Tick: f.Tick, Objects: len(f.Entries)}
	w := wire.NewWriter(32 + 8*len(f.Entries))
	w.WriteUint32(f.Tick)
	w.WriteUint8(TagVerify)
	w.WriteUint32(f.Tick)

	var err error
	switch {
	case st.rebuild || needsRebuild(f.Entries, st.ids):
		stats.Mode = ModeRebuild
		err = e.writeRebuild(w, &f, st, &stats)
	case e.hasChanges(&f, st):
		stats.Mode = ModeIncremental
		err = e.writeIncremental(w, &f, st, &stats)
	default:
		stats.Mode = ModeNoop
		w.WriteInt32(selectorNoop)
	}
	if err != nil {
		return nil, Stats{}, err
	}
	if err := e.writePayloads(w, &f, st); err != nil {
		return nil, Stats{}, err
	}
	w.WriteUint32(0)

	st.tick = f.Tick
	st.started = true
	stats.Bytes = w.Len()
	return w.Bytes(), stats, nil
}

func needsRebuild(entries []Entry, last []ghost.ID) bool {
	if len(entries) != len(last) {
		return true
	}
	for i := range entries {
		if entries[i].Ghost != last[i] {
			return true
		}
	}
	return false
}

func (e *Encoder) hasChanges(f *Frame, st *ObserverState) bool {
	for _, entry := range f.Entries {
		if e.changed(f, st, entry) {
			return true
		}
	}
	return false
}

func (e *Encoder) changed(f *Frame, st *ObserverState, entry Entry) bool {
	if f.chunkChanged(entry.Ghost) {
		return true
	}
	prev, ok := st.archetypes[entry.Ghost]
	return !ok || prev != entry.Archetype
}

func (e *Encoder) writeRebuild(w *wire.Writer, f *Frame, st *ObserverState, stats *Stats) error {
	current := make(map[ghost.ID]struct{}, len(f.Entries))
	for _, entry := range f.Entries {
		current[entry.Ghost] = struct{}{}
	}
	for _, id := range st.ids {
		if _, ok := current[id]; ok {
			continue
		}
		st.blocked[id] = f.Tick
		st.forget(id)
		stats.Removed++
	}

	if st.discard {
		w.WriteInt32(selectorReset)
		stats.Reset = true
	}
	w.WriteInt32(int32(len(f.Entries)))
	taught, err := e.writeArchetypes(w, st, f.Entries)
	if err != nil {
		return err
	}
	stats.Taught = taught
	w.WriteUint8(TagMarker)

	ids := make([]ghost.ID, len(f.Entries))
	var prevID, prevArch uint64
	for i, entry := range f.Entries {
		e.model.WritePackedUintDelta(w, uint64(entry.Ghost), prevID)
		e.model.WritePackedUintDelta(w, uint64(entry.Archetype), prevArch)
		prevID, prevArch = uint64(entry.Ghost), uint64(entry.Archetype)
		ids[i] = entry.Ghost
		delete(st.blocked, entry.Ghost)
		if err := e.assign(st, entry.Ghost, entry.Archetype); err != nil {
			return err
		}
	}
	st.ids = ids
	st.rebuild = false
	st.discard = false
	return nil
}

func (e *Encoder) writeIncremental(w *wire.Writer, f *Frame, st *ObserverState, stats *Stats) error {
	w.WriteInt32(selectorIncremental)
	countSlot := w.Reserve32()

	changed := make([]int, 0, 8)
	entries := make([]Entry, 0, 8)
	for i, entry := range f.Entries {
		if e.changed(f, st, entry) {
			changed = append(changed, i)
			entries = append(entries, entry)
		}
	}
	taught, err := e.writeArchetypes(w, st, entries)
	if err != nil {
		return err
	}
	stats.Taught = taught
	w.WriteUint8(TagMarker)

	var prevPos, prevArch uint64
	for i, pos := range changed {
		entry := entries[i]
		e.model.WritePackedUintDelta(w, uint64(pos), prevPos)
		e.model.WritePackedUintDelta(w, uint64(entry.Archetype), prevArch)
		prevPos, prevArch = uint64(pos), uint64(entry.Archetype)
		if err := e.assign(st, entry.Ghost, entry.Archetype); err != nil {
			return err
		}
	}
	if err := w.Patch32(countSlot, int32(len(changed))); err != nil {
		return err
	}
	w.WriteUint8(TagMarker)
	stats.Changes = len(changed)
	return nil
}

// writeArchetypes teaches every archetype of entries the observer does not
// know yet, in first-appearance order.
func (e *Encoder) writeArchetypes(w *wire.Writer, st *ObserverState, entries []Entry) (int, error) {
	countSlot := w.Reserve32()
	added := 0
	var prev uint64
	for _, entry := range entries {
		if st.KnowsArchetype(entry.Archetype) {
			continue
		}
		list, ok := e.registry.CodecsFor(entry.Archetype)
		if !ok {
			return 0, &InvariantError{Ghost: entry.Ghost, Reason: fmt.Sprintf("unregistered archetype %d", entry.Archetype)}
		}
		e.model.WritePackedUintDelta(w, uint64(entry.Archetype), prev)
		e.model.WritePackedUint(w, uint64(len(list)))
		for _, id := range list {
			e.model.WritePackedUint(w, uint64(id))
		}
		prev = uint64(entry.Archetype)
		st.known[entry.Archetype] = struct{}{}
		added++
	}
	return added, w.Patch32(countSlot, int32(added))
}

// assign records g's archetype, dropping baselines of codecs that no longer
// apply and seeding zero baselines for codecs that now do.
func (e *Encoder) assign(st *ObserverState, g ghost.ID, arch archetype.ID) error {
	prev, had := st.archetypes[g]
	if had && prev == arch {
		return nil
	}
	list, ok := e.registry.CodecsFor(arch)
	if !ok {
		return &InvariantError{Ghost: g, Reason: fmt.Sprintf("unregistered archetype %d", arch)}
	}
	slots := st.baselines[g]
	if slots == nil {
		slots = make(map[codec.ID]codec.Value, len(list))
		st.baselines[g] = slots
	}
	keep := make(map[codec.ID]struct{}, len(list))
	for _, id := range list {
		keep[id] = struct{}{}
		if _, ok := slots[id]; ok {
			continue
		}
		c, ok := e.codecs.Get(id)
		if !ok {
			return &InvariantError{Ghost: g, Codec: id, Reason: "unregistered codec"}
		}
		slots[id] = c.Zero()
	}
	for id := range slots {
		if _, ok := keep[id]; !ok {
			delete(slots, id)
		}
	}
	st.archetypes[g] = arch
	return nil
}

func (e *Encoder) writePayloads(w *wire.Writer, f *Frame, st *ObserverState) error {
	for _, entry := range f.Entries {
		list, ok := e.registry.CodecsFor(entry.Archetype)
		if !ok {
			return &InvariantError{Ghost: entry.Ghost, Reason: fmt.Sprintf("unregistered archetype %d", entry.Archetype)}
		}
		slots := st.baselines[entry.Ghost]
		for _, id := range list {
			base, ok := slots[id]
			if !ok {
				return &InvariantError{Ghost: entry.Ghost, Codec: id, Reason: "missing baseline"}
			}
			c, _ := e.codecs.Get(id)
			cur, err := c.Capture(entry.Object)
			if err != nil {
				return fmt.Errorf("snapshot: capture ghost=%v codec=%s: %w", entry.Ghost, c.Name(), err)
			}
			if err := c.Encode(e.model, w, cur, base); err != nil {
				return fmt.Errorf("snapshot: encode ghost=%v codec=%s: %w", entry.Ghost, c.Name(), err)
			}
			slots[id] = cur
		}
	}
	return nil
}

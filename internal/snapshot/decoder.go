package snapshot

import (
	"errors"
	"slices"

	"github.com/danmuck/ghostwire/internal/archetype"
	"github.com/danmuck/ghostwire/internal/codec"
	"github.com/danmuck/ghostwire/internal/ghost"
	"github.com/danmuck/ghostwire/internal/protocol/wire"
)

// Result describes one decoded payload.
type Result struct {
	Tick    uint32
	Mode    Mode
	Ghosts  []ghost.ID
	Changes int
	Learned int
	// Reset is set when the sender discarded its baselines and the receiver
	// dropped every retained value before applying this rebuild.
	Reset bool
	// Skipped is set when a non-rebuild payload arrives while the receiver
	// waits for a rebuild after a desync.
	Skipped bool
}

// Decoder reads snapshots written by Encoder. Both ends must register the
// same codecs in the same order.
type Decoder struct {
	codecs *codec.Set
	model  *wire.Model
}

func NewDecoder(codecs *codec.Set, model *wire.Model) *Decoder {
	if model == nil {
		model = wire.DefaultModel()
	}
	return &Decoder{codecs: codecs, model: model}
}

// Decode applies payload to st. Any framing error resets st and is returned
// as a *DesyncError.
func (d *Decoder) Decode(payload []byte, st *ReceiverState) (Result, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	r := wire.NewReader(payload)
	res, err := d.decode(r, st)
	if err != nil {
		st.reset()
		var de *DesyncError
		if !errors.As(err, &de) {
			err = &DesyncError{Offset: r.Offset(), Reason: "malformed payload", Err: err}
		}
		return Result{}, err
	}
	return res, nil
}

func desync(r *wire.Reader, reason string) error {
	return &DesyncError{Offset: r.Offset(), Reason: reason}
}

func (d *Decoder) decode(r *wire.Reader, st *ReceiverState) (Result, error) {
	tick, err := r.ReadUint32()
	if err != nil {
		return Result{}, err
	}
	tag, err := r.ReadUint8()
	if err != nil {
		return Result{}, err
	}
	if tag != TagVerify {
		return Result{}, desync(r, "missing verification tag")
	}
	verify, err := r.ReadUint32()
	if err != nil {
		return Result{}, err
	}
	if verify != tick {
		return Result{}, desync(r, "verification tick mismatch")
	}
	selector, err := r.ReadInt32()
	if err != nil {
		return Result{}, err
	}

	res := Result{Tick: tick}
	if selector == selectorReset {
		if selector, err = r.ReadInt32(); err != nil {
			return Result{}, err
		}
		if selector < 0 {
			return Result{}, desync(r, "reset without rebuild count")
		}
		res.Reset = true
	}
	switch {
	case selector == selectorNoop:
		res.Mode = ModeNoop
	case selector >= 0:
		res.Mode = ModeRebuild
	case selector == selectorIncremental:
		res.Mode = ModeIncremental
	default:
		return Result{}, desync(r, "unknown mode selector")
	}
	if st.awaiting && res.Mode != ModeRebuild {
		res.Skipped = true
		return res, nil
	}

	if res.Reset {
		st.clear()
	}
	switch res.Mode {
	case ModeRebuild:
		if err := d.readRebuild(r, st, int(selector), &res); err != nil {
			return Result{}, err
		}
	case ModeIncremental:
		if err := d.readIncremental(r, st, &res); err != nil {
			return Result{}, err
		}
	}

	if err := d.readPayloads(r, st); err != nil {
		return Result{}, err
	}
	term, err := r.ReadUint32()
	if err != nil {
		return Result{}, err
	}
	if term != 0 || r.Remaining() != 0 {
		return Result{}, desync(r, "bad terminator")
	}
	st.tick = tick
	st.awaiting = false
	res.Ghosts = slices.Clone(st.ids)
	return res, nil
}

func (d *Decoder) readRebuild(r *wire.Reader, st *ReceiverState, count int, res *Result) error {
	if d.model.MaxCount > 0 && uint64(count) > d.model.MaxCount {
		return desync(r, "object count exceeds limit")
	}
	learned, err := d.readArchetypes(r, st)
	if err != nil {
		return err
	}
	res.Learned = learned
	if err := d.readMarker(r); err != nil {
		return err
	}

	ids := make([]ghost.ID, count)
	archs := make([]archetype.ID, count)
	seen := make(map[ghost.ID]struct{}, count)
	var prevID, prevArch uint64
	for i := range ids {
		id, err := d.model.ReadPackedUintDelta(r, prevID)
		if err != nil {
			return err
		}
		arch, err := d.model.ReadPackedUintDelta(r, prevArch)
		if err != nil {
			return err
		}
		prevID, prevArch = id, arch
		if id == 0 || id > uint64(^uint32(0)) {
			return desync(r, "ghost id out of range")
		}
		g := ghost.ID(id)
		if _, dup := seen[g]; dup {
			return desync(r, "duplicate ghost id")
		}
		seen[g] = struct{}{}
		if _, ok := st.table[archetype.ID(arch)]; !ok {
			return desync(r, "unknown archetype")
		}
		ids[i] = g
		archs[i] = archetype.ID(arch)
	}

	for _, old := range st.ids {
		if _, ok := seen[old]; !ok {
			st.forget(old)
		}
	}
	for i, g := range ids {
		st.assign(g, archs[i])
	}
	st.ids = ids
	return nil
}

func (d *Decoder) readIncremental(r *wire.Reader, st *ReceiverState, res *Result) error {
	count, err := r.ReadInt32()
	if err != nil {
		return err
	}
	if count < 0 || int(count) > len(st.ids) {
		return desync(r, "change count out of range")
	}
	learned, err := d.readArchetypes(r, st)
	if err != nil {
		return err
	}
	res.Learned = learned
	if err := d.readMarker(r); err != nil {
		return err
	}
	var prevPos, prevArch uint64
	for i := 0; i < int(count); i++ {
		pos, err := d.model.ReadPackedUintDelta(r, prevPos)
		if err != nil {
			return err
		}
		arch, err := d.model.ReadPackedUintDelta(r, prevArch)
		if err != nil {
			return err
		}
		prevPos, prevArch = pos, arch
		if pos >= uint64(len(st.ids)) {
			return desync(r, "change position out of range")
		}
		if _, ok := st.table[archetype.ID(arch)]; !ok {
			return desync(r, "unknown archetype")
		}
		st.assign(st.ids[pos], archetype.ID(arch))
	}
	res.Changes = int(count)
	return d.readMarker(r)
}

func (d *Decoder) readMarker(r *wire.Reader) error {
	b, err := r.ReadUint8()
	if err != nil {
		return err
	}
	if b != TagMarker {
		return desync(r, "missing table marker")
	}
	return nil
}

func (d *Decoder) readArchetypes(r *wire.Reader, st *ReceiverState) (int, error) {
	count, err := r.ReadInt32()
	if err != nil {
		return 0, err
	}
	if count < 0 || (d.model.MaxCount > 0 && uint64(count) > d.model.MaxCount) {
		return 0, desync(r, "archetype count out of range")
	}
	var prev uint64
	for i := 0; i < int(count); i++ {
		fp, err := d.model.ReadPackedUintDelta(r, prev)
		if err != nil {
			return 0, err
		}
		prev = fp
		if fp == 0 || fp > uint64(^uint32(0)) {
			return 0, desync(r, "archetype fingerprint out of range")
		}
		n, err := d.model.ReadCount(r)
		if err != nil {
			return 0, err
		}
		list := make([]codec.ID, n)
		for j := range list {
			id, err := d.model.ReadPackedUint(r)
			if err != nil {
				return 0, err
			}
			if _, ok := d.codecs.Get(codec.ID(id)); !ok {
				return 0, desync(r, "unknown codec id")
			}
			list[j] = codec.ID(id)
		}
		a := archetype.ID(fp)
		if known, ok := st.table[a]; ok && !slices.Equal(known, list) {
			return 0, desync(r, "archetype redefined")
		}
		st.table[a] = list
	}
	return int(count), nil
}

func (d *Decoder) readPayloads(r *wire.Reader, st *ReceiverState) error {
	for _, g := range st.ids {
		a, ok := st.archetypes[g]
		if !ok {
			return desync(r, "ghost without archetype")
		}
		for _, id := range st.table[a] {
			c, _ := d.codecs.Get(id)
			h := st.slot(g, id)
			base, ok := h.Latest()
			if !ok {
				base = c.Zero()
			}
			v, err := c.Decode(d.model, r, base)
			if err != nil {
				return err
			}
			h.Push(v)
		}
	}
	return nil
}

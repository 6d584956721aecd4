package snapshot

import (
	"github.com/danmuck/ghostwire/internal/archetype"
	"github.com/danmuck/ghostwire/internal/ghost"
	"github.com/danmuck/ghostwire/internal/world"
)

const (
	TagVerify uint8 = 60
	TagMarker uint8 = 42

	selectorNoop        int32 = -1
	selectorIncremental int32 = -2
	// selectorReset precedes a rebuild count and tells the receiver to drop
	// every retained value before applying the rebuild.
	selectorReset int32 = -3
)

type Mode uint8

const (
	ModeNoop Mode = iota
	ModeRebuild
	ModeIncremental
)

func (m Mode) String() string {
	switch m {
	case ModeRebuild:
		return "rebuild"
	case ModeIncremental:
		return "incremental"
	default:
		return "noop"
	}
}

// Entry is one object of a tick, in list position order.
type Entry struct {
	Ghost     ghost.ID
	Archetype archetype.ID
	Chunk     world.ChunkKey
	Object    world.Object
}

// Frame is the read-only per-tick input shared by every observer encode.
type Frame struct {
	Tick    uint32
	Entries []Entry
	// Changed holds the ghosts whose chunk changed since the previous tick.
	Changed map[ghost.ID]struct{}
}

func (f *Frame) chunkChanged(g ghost.ID) bool {
	_, ok := f.Changed[g]
	return ok
}

// Stats summarizes one encoded payload.
type Stats struct {
	Tick    uint32
	Mode    Mode
	Bytes   int
	Objects int
	Changes int
	Taught  int
	Removed int
	// Reset is set on a rebuild that follows ObserverState.Reset.
	Reset bool
}

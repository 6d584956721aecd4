package replication

import (
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/danmuck/ghostwire/internal/snapshot"
)

// ObserverID names one observer for the lifetime of its connection.
type ObserverID = uuid.UUID

// Summary is the last published view of an observer.
type Summary struct {
	ID              ObserverID `json:"id"`
	Tick            uint32     `json:"tick"`
	Mode            string     `json:"mode"`
	Bytes           int        `json:"bytes"`
	Ghosts          int        `json:"ghosts"`
	Blocked         int        `json:"blocked"`
	KnownArchetypes int        `json:"known_archetypes"`
	Acked           uint32     `json:"acked"`
	Waiting         bool       `json:"waiting"`
	Error           string     `json:"error,omitempty"`
}

const ackPresent = uint64(1) << 32

type observer struct {
	id ObserverID
	// state is touched by the prepass and by exactly one encode task per tick.
	state *snapshot.ObserverState

	// ack holds the highest pending acknowledged tick, tagged with ackPresent.
	ack     atomic.Uint64
	acked   atomic.Uint32
	resync  atomic.Bool
	removed atomic.Bool
	summary atomic.Pointer[Summary]
}

func newObserver(id ObserverID) *observer {
	o := &observer{id: id, state: snapshot.NewObserverState()}
	o.summary.Store(&Summary{ID: id, Mode: "none", Waiting: true})
	return o
}

// offerAck keeps the highest tick offered since the last prepass.
func (o *observer) offerAck(tick uint32) {
	next := ackPresent | uint64(tick)
	for {
		cur := o.ack.Load()
		if cur&ackPresent != 0 && uint32(cur) >= tick {
			return
		}
		if o.ack.CompareAndSwap(cur, next) {
			return
		}
	}
}

func (o *observer) takeAck() (uint32, bool) {
	v := o.ack.Swap(0)
	if v&ackPresent == 0 {
		return 0, false
	}
	return uint32(v), true
}

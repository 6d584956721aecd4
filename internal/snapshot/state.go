package snapshot

import (
	"slices"

	"github.com/danmuck/ghostwire/internal/archetype"
	"github.com/danmuck/ghostwire/internal/codec"
	"github.com/danmuck/ghostwire/internal/ghost"
)

// ObserverState is the sending-side view of what one observer holds. It is
// owned by a single encode task at a time.
type ObserverState struct {
	ids        []ghost.ID
	archetypes map[ghost.ID]archetype.ID
	known      map[archetype.ID]struct{}
	// blocked maps a retired id to the tick its removal was sent.
	blocked   map[ghost.ID]uint32
	baselines map[ghost.ID]map[codec.ID]codec.Value

	tick    uint32
	started bool
	// rebuild forces the next encode into rebuild mode.
	rebuild bool
	// discard marks that rebuild as a reset the receiver must mirror.
	discard bool
}

var _ ghost.BlockList = (*ObserverState)(nil)

// NewObserverState returns state for an observer that holds nothing. Its
// first encode is a rebuild, even of an empty world.
func NewObserverState() *ObserverState {
	s := &ObserverState{blocked: make(map[ghost.ID]uint32), rebuild: true}
	s.clear()
	return s
}

func (s *ObserverState) clear() {
	s.ids = nil
	s.archetypes = make(map[ghost.ID]archetype.ID)
	s.known = make(map[archetype.ID]struct{})
	s.baselines = make(map[ghost.ID]map[codec.ID]codec.Value)
}

// Reset forgets everything the observer was taught. The next encode is a
// reset rebuild, which makes the receiver drop its retained values too.
// Blocked ids are kept.
func (s *ObserverState) Reset() {
	s.clear()
	s.rebuild = true
	s.discard = true
}

// Release drops all state, blocked ids included. Used on disconnect.
func (s *ObserverState) Release() {
	s.clear()
	s.blocked = make(map[ghost.ID]uint32)
}

// IsBlocked reports whether id was removed from this observer's list and
// not yet acknowledged.
func (s *ObserverState) IsBlocked(id ghost.ID) bool {
	_, ok := s.blocked[id]
	return ok
}

// Blocked lists blocked ids in ascending order.
func (s *ObserverState) Blocked() []ghost.ID {
	out := make([]ghost.ID, 0, len(s.blocked))
	for id := range s.blocked {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// Acknowledge clears every id whose removal was sent at or before tick and
// returns how many were cleared.
func (s *ObserverState) Acknowledge(tick uint32) int {
	cleared := 0
	for id, retired := range s.blocked {
		if retired <= tick {
			delete(s.blocked, id)
			cleared++
		}
	}
	return cleared
}

// IDs returns the last transmitted object list.
func (s *ObserverState) IDs() []ghost.ID {
	return slices.Clone(s.ids)
}

// KnowsArchetype reports whether id's codec list was already sent.
func (s *ObserverState) KnowsArchetype(id archetype.ID) bool {
	_, ok := s.known[id]
	return ok
}

// KnownArchetypes counts archetypes taught to the observer.
func (s *ObserverState) KnownArchetypes() int {
	return len(s.known)
}

// Archetype is the archetype last sent for g.
func (s *ObserverState) Archetype(g ghost.ID) (archetype.ID, bool) {
	a, ok := s.archetypes[g]
	return a, ok
}

// Baseline is the last value of codec c sent for g.
func (s *ObserverState) Baseline(g ghost.ID, c codec.ID) (codec.Value, bool) {
	v, ok := s.baselines[g][c]
	return v, ok
}

// Tick is the last tick encoded for this observer.
func (s *ObserverState) Tick() (uint32, bool) {
	return s.tick, s.started
}

func (s *ObserverState) forget(g ghost.ID) {
	delete(s.archetypes, g)
	delete(s.baselines, g)
}

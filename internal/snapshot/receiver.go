package snapshot

import (
	"maps"
	"slices"
	"sync"

	"github.com/danmuck/ghostwire/internal/archetype"
	"github.com/danmuck/ghostwire/internal/codec"
	"github.com/danmuck/ghostwire/internal/ghost"
)

// ReceiverState is the receiving-side mirror of one connection. Decode holds
// its lock for the whole payload; accessors are safe from other goroutines.
type ReceiverState struct {
	mu       sync.RWMutex
	capacity int

	ids        []ghost.ID
	archetypes map[ghost.ID]archetype.ID
	table      map[archetype.ID][]codec.ID
	history    map[ghost.ID]map[codec.ID]*History

	tick     uint32
	awaiting bool
}

func NewReceiverState(historyCapacity int) *ReceiverState {
	if historyCapacity < 1 {
		historyCapacity = DefaultHistoryCapacity
	}
	s := &ReceiverState{capacity: historyCapacity}
	s.clear()
	return s
}

func (s *ReceiverState) clear() {
	s.ids = nil
	s.archetypes = make(map[ghost.ID]archetype.ID)
	s.table = make(map[archetype.ID][]codec.ID)
	s.history = make(map[ghost.ID]map[codec.ID]*History)
}

// Reset discards everything and waits for the next rebuild.
func (s *ReceiverState) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
}

func (s *ReceiverState) reset() {
	s.clear()
	s.awaiting = true
}

func (s *ReceiverState) AwaitingRebuild() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.awaiting
}

func (s *ReceiverState) IDs() []ghost.ID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.ids)
}

func (s *ReceiverState) Archetype(g ghost.ID) (archetype.ID, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.archetypes[g]
	return a, ok
}

// Archetypes returns a copy of the ghost to archetype assignment.
func (s *ReceiverState) Archetypes() map[ghost.ID]archetype.ID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.archetypes)
}

func (s *ReceiverState) CodecsFor(a archetype.ID) ([]codec.ID, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list, ok := s.table[a]
	return slices.Clone(list), ok
}

// History returns the retained values for (g, c), oldest first.
func (s *ReceiverState) History(g ghost.ID, c codec.ID) []codec.Value {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.history[g][c]
	if !ok {
		return nil
	}
	return h.Values()
}

func (s *ReceiverState) Latest(g ghost.ID, c codec.ID) (codec.Value, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.history[g][c]
	if !ok {
		return nil, false
	}
	return h.Latest()
}

func (s *ReceiverState) Tick() uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tick
}

func (s *ReceiverState) slot(g ghost.ID, c codec.ID) *History {
	slots := s.history[g]
	if slots == nil {
		slots = make(map[codec.ID]*History)
		s.history[g] = slots
	}
	h, ok := slots[c]
	if !ok {
		h = NewHistory(s.capacity)
		slots[c] = h
	}
	return h
}

func (s *ReceiverState) forget(g ghost.ID) {
	delete(s.archetypes, g)
	delete(s.history, g)
}

// assign mirrors Encoder.assign: histories of codecs that no longer apply
// are dropped so a later re-add starts from the zero baseline.
func (s *ReceiverState) assign(g ghost.ID, a archetype.ID) {
	prev, had := s.archetypes[g]
	s.archetypes[g] = a
	if !had || prev == a {
		return
	}
	keep := s.table[a]
	for id := range s.history[g] {
		if !slices.Contains(keep, id) {
			delete(s.history[g], id)
		}
	}
}

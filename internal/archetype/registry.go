// Package archetype maps structural layouts to replication fingerprints and
// the ordered codec lists that serialize them.
package archetype

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/danmuck/ghostwire/internal/codec"
	"github.com/danmuck/ghostwire/internal/logging"
	"github.com/danmuck/ghostwire/internal/world"
)

var ErrFrozen = errors.New("archetype: registry frozen")

// ID is an allocated fingerprint. Zero is never assigned.
type ID uint32

type entry struct {
	layout world.Layout
	id     ID
}

// Registry owns the layout to fingerprint memo for one replication world.
type Registry struct {
	codecs *codec.Set

	mu     sync.RWMutex
	next   ID
	byHash map[uint64][]entry
	lists  map[ID][]codec.ID
	frozen bool
}

func NewRegistry(codecs *codec.Set) *Registry {
	return &Registry{
		codecs: codecs,
		next:   1,
		byHash: make(map[uint64][]entry),
		lists:  make(map[ID][]codec.ID),
	}
}

func (r *Registry) Codecs() *codec.Set {
	return r.codecs
}

// ArchetypeFor returns the fingerprint for layout, minting one on first
// sight. Minting while frozen fails with ErrFrozen.
func (r *Registry) ArchetypeFor(layout world.Layout) (ID, error) {
	if id, ok := r.lookup(layout); ok {
		return id, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.byHash[layout.Hash()] {
		if e.layout.Equal(layout) {
			return e.id, nil
		}
	}
	if r.frozen {
		return 0, fmt.Errorf("%w: new layout %s", ErrFrozen, layout)
	}
	id := r.next
	r.next++
	r.byHash[layout.Hash()] = append(r.byHash[layout.Hash()], entry{layout: layout, id: id})
	r.lists[id] = r.codecs.Applicable(layout)
	logging.Debugf("archetype.Registry.ArchetypeFor minted archetype=%d layout=%s codecs=%v", id, layout, r.lists[id])
	return id, nil
}

func (r *Registry) lookup(layout world.Layout) (ID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.byHash[layout.Hash()] {
		if e.layout.Equal(layout) {
			return e.id, true
		}
	}
	return 0, false
}

// CodecsFor returns the canonical codec order for id. The returned slice
// must not be modified.
func (r *Registry) CodecsFor(id ID) ([]codec.ID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list, ok := r.lists[id]
	return list, ok
}

// Uses reports whether codec c runs for archetype id.
func (r *Registry) Uses(id ID, c codec.ID) bool {
	list, ok := r.CodecsFor(id)
	return ok && slices.Contains(list, c)
}

// Freeze rejects new layouts until Thaw.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

func (r *Registry) Thaw() {
	r.mu.Lock()
	r.frozen = false
	r.mu.Unlock()
}

func (r *Registry) Frozen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frozen
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.lists)
}

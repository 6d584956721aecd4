package ghost

import (
	"slices"

	"github.com/danmuck/ghostwire/internal/world"
)

// Binding pairs one eligible object with its ghost id for a tick.
type Binding struct {
	ID     ID
	Object world.Object
}

// SyncResult is the outcome of one Table.Sync pass.
type SyncResult struct {
	Bindings []Binding
	Created  []ID
	Released []ID
}

// Table tracks which ghost id each storage entity holds.
type Table struct {
	alloc *Allocator
	ids   map[world.Entity]ID
}

func NewTable(alloc *Allocator) *Table {
	if alloc == nil {
		alloc = NewAllocator()
	}
	return &Table{alloc: alloc, ids: make(map[world.Entity]ID)}
}

func (t *Table) Allocator() *Allocator {
	return t.alloc
}

func (t *Table) Len() int {
	return len(t.ids)
}

func (t *Table) Lookup(e world.Entity) (ID, bool) {
	id, ok := t.ids[e]
	return id, ok
}

// Sync binds ids to the current objects. New entities get ids first; ids of
// entities that disappeared are released afterwards so they cannot be
// reissued within the same tick.
func (t *Table) Sync(objects []world.Object, blocked BlockList) SyncResult {
	res := SyncResult{Bindings: make([]Binding, 0, len(objects))}
	seen := make(map[world.Entity]struct{}, len(objects))
	for _, obj := range objects {
		e := obj.Entity()
		if _, dup := seen[e]; dup {
			continue
		}
		seen[e] = struct{}{}
		id, ok := t.ids[e]
		if !ok {
			id = t.alloc.Allocate(blocked)
			t.ids[e] = id
			res.Created = append(res.Created, id)
		}
		res.Bindings = append(res.Bindings, Binding{ID: id, Object: obj})
	}
	for e, id := range t.ids {
		if _, ok := seen[e]; ok {
			continue
		}
		delete(t.ids, e)
		res.Released = append(res.Released, id)
	}
	// map order is random; release in id order so reuse is deterministic
	slices.Sort(res.Released)
	for _, id := range res.Released {
		t.alloc.Release(id)
	}
	return res
}

package ghost

import "fmt"

// ID names a replicated object on the wire. Zero is never allocated.
type ID uint32

const Invalid ID = 0

func (id ID) String() string {
	return fmt.Sprintf("g%d", uint32(id))
}

// BlockList reports ids an observer must still treat as removed.
type BlockList interface {
	IsBlocked(id ID) bool
}

// BlockLists blocks an id when any member blocks it.
type BlockLists []BlockList

func (b BlockLists) IsBlocked(id ID) bool {
	for _, l := range b {
		if l != nil && l.IsBlocked(id) {
			return true
		}
	}
	return false
}

// Allocator mints ids from a counter and reuses released ids in FIFO order.
type Allocator struct {
	next ID
	free []ID
	head int
}

func NewAllocator() *Allocator {
	return &Allocator{next: 1}
}

// Allocate returns the oldest released id unless it is blocked, in which
// case a fresh id is minted. Only the head of the queue is considered.
func (a *Allocator) Allocate(blocked BlockList) ID {
	if a.head < len(a.free) {
		candidate := a.free[a.head]
		if blocked == nil || !blocked.IsBlocked(candidate) {
			a.head++
			a.compact()
			return candidate
		}
	}
	id := a.next
	a.next++
	return id
}

// Release queues id for reuse behind every previously released id.
func (a *Allocator) Release(id ID) {
	if id == Invalid {
		return
	}
	a.free = append(a.free, id)
}

// Pending is the number of released ids waiting for reuse.
func (a *Allocator) Pending() int {
	return len(a.free) - a.head
}

// Minted is the number of distinct ids ever created.
func (a *Allocator) Minted() int {
	return int(a.next - 1)
}

func (a *Allocator) compact() {
	if a.head == len(a.free) {
		a.free = a.free[:0]
		a.head = 0
		return
	}
	if a.head > 32 && a.head*2 > len(a.free) {
		n := copy(a.free, a.free[a.head:])
		a.free = a.free[:n]
		a.head = 0
	}
}

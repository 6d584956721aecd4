package world

import (
	"slices"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// ComponentType names one kind of component data.
type ComponentType string

// Replicated marks an entity as eligible for ghost replication.
const Replicated ComponentType = "ghostwire.replicated"

// Layout is the structural shape of an entity: its sorted, de-duplicated set
// of component types. Layout values are immutable.
type Layout struct {
	types []ComponentType
	hash  uint64
}

func NewLayout(types ...ComponentType) Layout {
	sorted := slices.Clone(types)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)
	return Layout{types: sorted, hash: hashTypes(sorted)}
}

func hashTypes(types []ComponentType) uint64 {
	d := xxhash.New()
	for _, t := range types {
		_, _ = d.WriteString(string(t))
		_, _ = d.Write([]byte{0})
	}
	return d.Sum64()
}

// Hash is a content hash of the layout. Equal layouts have equal hashes;
// the converse is not guaranteed.
func (l Layout) Hash() uint64 {
	return l.hash
}

func (l Layout) Len() int {
	return len(l.types)
}

func (l Layout) Types() []ComponentType {
	return slices.Clone(l.types)
}

func (l Layout) Has(t ComponentType) bool {
	_, found := slices.BinarySearch(l.types, t)
	return found
}

func (l Layout) Equal(o Layout) bool {
	return l.hash == o.hash && slices.Equal(l.types, o.types)
}

func (l Layout) With(t ComponentType) Layout {
	if l.Has(t) {
		return l
	}
	return NewLayout(append(slices.Clone(l.types), t)...)
}

func (l Layout) Without(t ComponentType) Layout {
	if !l.Has(t) {
		return l
	}
	out := make([]ComponentType, 0, len(l.types)-1)
	for _, have := range l.types {
		if have != t {
			out = append(out, have)
		}
	}
	return Layout{types: out, hash: hashTypes(out)}
}

func (l Layout) String() string {
	parts := make([]string, len(l.types))
	for i, t := range l.types {
		parts[i] = string(t)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

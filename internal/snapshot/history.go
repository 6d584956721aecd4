package snapshot

import "github.com/danmuck/ghostwire/internal/codec"

// DefaultHistoryCapacity is the number of values a receiver keeps per component.
const DefaultHistoryCapacity = 8

// History is a fixed-capacity FIFO of decoded values, oldest evicted first.
type History struct {
	values []codec.Value
	start  int
	size   int
}

// NewHistory returns an empty history holding at most capacity values.
// Capacities below one are raised to one.
func NewHistory(capacity int) *History {
	if capacity < 1 {
		capacity = 1
	}
	return &History{values: make([]codec.Value, capacity)}
}

// Push appends v, evicting the oldest value when the history is full.
func (h *History) Push(v codec.Value) {
	idx := (h.start + h.size) % len(h.values)
	h.values[idx] = v
	if h.size < len(h.values) {
		h.size++
		return
	}
	h.start = (h.start + 1) % len(h.values)
}

// Latest returns the most recently pushed value.
func (h *History) Latest() (codec.Value, bool) {
	if h.size == 0 {
		return nil, false
	}
	return h.values[(h.start+h.size-1)%len(h.values)], true
}

// Values returns the retained values oldest first.
func (h *History) Values() []codec.Value {
	out := make([]codec.Value, h.size)
	for i := range out {
		out[i] = h.values[(h.start+i)%len(h.values)]
	}
	return out
}

// Len reports how many values are retained.
func (h *History) Len() int { return h.size }

// Cap reports the maximum number of retained values.
func (h *History) Cap() int { return len(h.values) }

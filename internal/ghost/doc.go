// Package ghost owns ghost identifiers.
//
// Ownership boundary:
// - id allocation and FIFO reuse
//
// - entity to id bindings across ticks
//
// A released id is only reissued once no observer still blocks it. Both
// Allocator and Table are driven from the single-threaded tick prepass and
// are not safe for concurrent use.
package ghost

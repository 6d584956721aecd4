// Package snapshot owns the per-observer snapshot wire state machine.
//
// Ownership boundary:
// - observer baselines on the sending side
//
// - receiver state and bounded history on the receiving side
//
// - rebuild, incremental and no-op payload layouts
//
// Payload layout (little-endian):
//
//	tick              uint32
//	verify tag        uint8 = 60
//	verify tick       uint32 (equals tick)
//	mode selector     int32  (object count, -2 incremental, -1 no-op)
//	[incremental]     change count int32
//	[rebuild|incr]    archetype count int32, archetype table, marker uint8 = 42, body
//	[incremental]     marker uint8 = 42
//	component payloads per object in list order, codecs in archetype order
//	terminator        uint32 = 0
package snapshot

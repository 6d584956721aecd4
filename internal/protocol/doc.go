// Package protocol owns the message envelope exchanged between a replication
// server and its observers.
//
// Every message is an int16 code followed by a body. Code 0 is the
// RegisterPattern handshake; every other code is the sender's local pattern
// id and is resolved through the sender's bank learned at handshake time.
//
// Subpackages:
// - wire: little-endian and packed integer primitives
// - pattern: code negotiation
// - tlv, schema: control message bodies
// - frame: stream framing for byte-oriented transports
// - session: reconnect and timeout policy
package protocol

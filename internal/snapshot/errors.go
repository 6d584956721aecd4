package snapshot

import (
	"errors"
	"fmt"

	"github.com/danmuck/ghostwire/internal/codec"
	"github.com/danmuck/ghostwire/internal/ghost"
)

var (
	ErrDesync         = errors.New("snapshot: replication desync")
	ErrInvariant      = errors.New("snapshot: invariant violated")
	ErrNotImplemented = errors.New("snapshot: not implemented")
)

// DesyncError is a framing failure. The receiver state it happened on has
// been reset and must be rebuilt from a full snapshot.
type DesyncError struct {
	Offset int
	Reason string
	Err    error
}

func (e *DesyncError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("snapshot: desync at offset %d: %s: %v", e.Offset, e.Reason, e.Err)
	}
	return fmt.Sprintf("snapshot: desync at offset %d: %s", e.Offset, e.Reason)
}

func (e *DesyncError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrDesync}
	}
	return []error{ErrDesync, e.Err}
}

// InvariantError reports encoder state that can only come from a bug, such
// as an object reaching component encoding without a baseline.
type InvariantError struct {
	Ghost  ghost.ID
	Codec  codec.ID
	Reason string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("snapshot: invariant violated ghost=%v codec=%d: %s", e.Ghost, e.Codec, e.Reason)
}

func (e *InvariantError) Is(target error) bool {
	return target == ErrInvariant
}

package wire

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

var (
	ErrMalformedVarint = errors.New("wire: malformed packed integer")
	ErrCountTooLarge   = errors.New("wire: packed count exceeds model limit")
)

// Model is the packed-integer context shared by every encoder and decoder of
// a replication world. It is never mutated after construction, so one
// instance may be used from many goroutines.
type Model struct {
	// MaxCount bounds counts read through ReadCount.
	MaxCount uint64
}

func DefaultModel() *Model {
	return &Model{MaxCount: 1 << 20}
}

func (m *Model) WritePackedUint(w *Writer, v uint64) {
	w.buf = protowire.AppendVarint(w.buf, v)
}

func (m *Model) WritePackedInt(w *Writer, v int64) {
	w.buf = protowire.AppendVarint(w.buf, protowire.EncodeZigZag(v))
}

// WritePackedUintDelta writes v as a signed difference against prev.
func (m *Model) WritePackedUintDelta(w *Writer, v, prev uint64) {
	m.WritePackedInt(w, int64(v)-int64(prev))
}

func (m *Model) ReadPackedUint(r *Reader) (uint64, error) {
	v, n := protowire.ConsumeVarint(r.buf[r.off:])
	if n < 0 {
		return 0, fmt.Errorf("%w at offset %d: %v", ErrMalformedVarint, r.off, protowire.ParseError(n))
	}
	r.off += n
	return v, nil
}

func (m *Model) ReadPackedInt(r *Reader) (int64, error) {
	v, err := m.ReadPackedUint(r)
	if err != nil {
		return 0, err
	}
	return protowire.DecodeZigZag(v), nil
}

func (m *Model) ReadPackedUintDelta(r *Reader, prev uint64) (uint64, error) {
	d, err := m.ReadPackedInt(r)
	if err != nil {
		return 0, err
	}
	return uint64(int64(prev) + d), nil
}

// ReadCount reads a packed count and checks it against MaxCount.
func (m *Model) ReadCount(r *Reader) (int, error) {
	v, err := m.ReadPackedUint(r)
	if err != nil {
		return 0, err
	}
	if m.MaxCount > 0 && v > m.MaxCount {
		return 0, fmt.Errorf("%w: %d > %d", ErrCountTooLarge, v, m.MaxCount)
	}
	return int(v), nil
}

// PackedSize reports how many bytes WritePackedUint would append for v.
func (m *Model) PackedSize(v uint64) int {
	return protowire.SizeVarint(v)
}

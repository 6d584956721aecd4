package wire

import (
	"errors"
	"strings"
	"testing"
)

func TestFixedWidthLittleEndian(t *testing.T) {
	w := NewWriter(16)
	w.WriteUint32(0x01020304)
	w.WriteUint8(60)
	w.WriteInt32(-1)
	w.WriteInt16(-2)

	got := w.Bytes()
	want := []byte{0x04, 0x03, 0x02, 0x01, 60, 0xff, 0xff, 0xff, 0xff, 0xfe, 0xff}
	if string(got) != string(want) {
		t.Fatalf("bytes mismatch: got=%v want=%v", got, want)
	}

	r := NewReader(got)
	if v, err := r.ReadUint32(); err != nil || v != 0x01020304 {
		t.Fatalf("read uint32: %v %v", v, err)
	}
	if v, err := r.ReadUint8(); err != nil || v != 60 {
		t.Fatalf("read uint8: %v %v", v, err)
	}
	if v, err := r.ReadInt32(); err != nil || v != -1 {
		t.Fatalf("read int32: %v %v", v, err)
	}
	if v, err := r.ReadInt16(); err != nil || v != -2 {
		t.Fatalf("read int16: %v %v", v, err)
	}
	if r.Remaining() != 0 {
		t.Fatalf("expected fully consumed reader, remaining=%d", r.Remaining())
	}
}

func TestReaderShortBuffer(t *testing.T) {
	r := NewReader([]byte{1, 2})
	if _, err := r.ReadUint32(); !errors.Is(err, ErrShortBuffer) {
		t.Fatalf("expected ErrShortBuffer, got %v", err)
	}
	if r.Offset() != 0 {
		t.Fatalf("failed read must not advance offset")
	}
}

func TestReserveAndPatch(t *testing.T) {
	w := NewWriter(8)
	w.WriteUint8(9)
	slot := w.Reserve32()
	w.WriteUint8(7)
	if err := w.Patch32(slot, 513); err != nil {
		t.Fatalf("patch: %v", err)
	}
	r := NewReader(w.Bytes())
	_, _ = r.ReadUint8()
	if v, _ := r.ReadInt32(); v != 513 {
		t.Fatalf("patched value mismatch: %d", v)
	}
	if err := w.Patch32(Slot(w.Len()-2), 1); !errors.Is(err, ErrInvalidSlot) {
		t.Fatalf("expected ErrInvalidSlot, got %v", err)
	}
}

func TestStrings(t *testing.T) {
	w := NewWriter(8)
	if err := w.WriteString("ghostwire.snapshot"); err != nil {
		t.Fatalf("write string: %v", err)
	}
	if err := w.WriteString(strings.Repeat("x", 70000)); !errors.Is(err, ErrStringTooLong) {
		t.Fatalf("expected ErrStringTooLong, got %v", err)
	}
	if err := w.WriteString(string([]byte{0xff})); !errors.Is(err, ErrInvalidString) {
		t.Fatalf("expected ErrInvalidString, got %v", err)
	}
	s, err := NewReader(w.Bytes()).ReadString()
	if err != nil || s != "ghostwire.snapshot" {
		t.Fatalf("read string: %q %v", s, err)
	}
}

func TestPackedDeltas(t *testing.T) {
	m := DefaultModel()
	w := NewWriter(16)
	ids := []uint64{1, 2, 9, 3, 1000}
	var prev uint64
	for _, id := range ids {
		m.WritePackedUintDelta(w, id, prev)
		prev = id
	}
	m.WritePackedUint(w, 300)

	r := NewReader(w.Bytes())
	prev = 0
	for _, want := range ids {
		got, err := m.ReadPackedUintDelta(r, prev)
		if err != nil {
			t.Fatalf("read delta: %v", err)
		}
		if got != want {
			t.Fatalf("delta mismatch: got=%d want=%d", got, want)
		}
		prev = got
	}
	if v, err := m.ReadPackedUint(r); err != nil || v != 300 {
		t.Fatalf("read packed: %d %v", v, err)
	}
}

func TestPackedMalformedAndLimits(t *testing.T) {
	m := &Model{MaxCount: 4}
	if _, err := m.ReadPackedUint(NewReader([]byte{0x80})); !errors.Is(err, ErrMalformedVarint) {
		t.Fatalf("expected ErrMalformedVarint, got %v", err)
	}
	w := NewWriter(2)
	m.WritePackedUint(w, 5)
	if _, err := m.ReadCount(NewReader(w.Bytes())); !errors.Is(err, ErrCountTooLarge) {
		t.Fatalf("expected ErrCountTooLarge, got %v", err)
	}
	if m.PackedSize(127) != 1 || m.PackedSize(128) != 2 {
		t.Fatalf("unexpected packed sizes")
	}
}

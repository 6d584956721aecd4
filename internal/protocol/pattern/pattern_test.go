package pattern

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/danmuck/ghostwire/internal/testutil/testlog"
)

var (
	snapshotIdent = Ident{Name: "ghostwire.snapshot", Version: 1}
	ackIdent      = Ident{Name: "ghostwire.ack", Version: 1}
)

func TestBankAssignsCodesFromOne(t *testing.T) {
	testlog.Start(t)
	b := NewBank()
	r1, err := b.Register(snapshotIdent)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	r2, _ := b.Register(ackIdent)
	again, _ := b.Register(snapshotIdent)
	if r1.ID != 1 || r2.ID != 2 || again != r1 {
		t.Fatalf("unexpected codes: %+v %+v %+v", r1, r2, again)
	}
	if _, err := b.Register(Ident{Name: " "}); !errors.Is(err, ErrInvalidIdent) {
		t.Fatalf("expected ErrInvalidIdent, got %v", err)
	}
	if got := b.Results(); len(got) != 2 || got[0] != r1 || got[1] != r2 {
		t.Fatalf("unexpected results: %+v", got)
	}
}

func TestRegisterMessageLayout(t *testing.T) {
	testlog.Start(t)
	b := NewBank().MustRegister(snapshotIdent)
	payload, err := EncodeRegister(b.Results())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	// count, id, name length, name, version
	want := 2 + 2 + 2 + len(snapshotIdent.Name) + 1
	if len(payload) != want {
		t.Fatalf("unexpected payload length: got=%d want=%d", len(payload), want)
	}
	if binary.LittleEndian.Uint16(payload[0:2]) != 1 || binary.LittleEndian.Uint16(payload[2:4]) != 1 {
		t.Fatalf("unexpected count/id prefix: %v", payload[:4])
	}
	if payload[len(payload)-1] != 1 {
		t.Fatalf("unexpected version byte: %d", payload[len(payload)-1])
	}

	out, err := DecodeRegister(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != 1 || out[0].Ident != snapshotIdent || out[0].ID != 1 {
		t.Fatalf("unexpected decode: %+v", out)
	}
	if _, err := DecodeRegister(payload[:len(payload)-1]); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
	if _, err := DecodeRegister(append(payload, 9)); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed on trailing bytes, got %v", err)
	}
}

func TestPeersValidateOnce(t *testing.T) {
	testlog.Start(t)
	peers := NewPeers[string]()
	if err := peers.Link("a", nil); !errors.Is(err, ErrUnknownPeer) {
		t.Fatalf("expected ErrUnknownPeer, got %v", err)
	}
	peers.Add("a")
	if peers.Validated("a") {
		t.Fatalf("peer must not be validated before handshake")
	}
	results := []Result{{ID: 3, Ident: snapshotIdent}, {ID: 5, Ident: ackIdent}}
	if err := peers.Link("a", results); err != nil {
		t.Fatalf("link: %v", err)
	}
	if !peers.Validated("a") {
		t.Fatalf("expected validated peer")
	}
	if ident, ok := peers.Resolve("a", 5); !ok || ident != ackIdent {
		t.Fatalf("resolve: %v %v", ident, ok)
	}
	if code, ok := peers.Code("a", snapshotIdent); !ok || code != 3 {
		t.Fatalf("code: %d %v", code, ok)
	}
	if err := peers.Link("a", results); !errors.Is(err, ErrAlreadyValidated) {
		t.Fatalf("expected ErrAlreadyValidated, got %v", err)
	}
	peers.Remove("a")
	if peers.Validated("a") || peers.Len() != 0 {
		t.Fatalf("removed peer still tracked")
	}
}

func TestPeersRejectConflicts(t *testing.T) {
	testlog.Start(t)
	peers := NewPeers[int]()
	peers.Add(1)
	err := peers.Link(1, []Result{{ID: 2, Ident: snapshotIdent}, {ID: 2, Ident: ackIdent}})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if peers.Validated(1) {
		t.Fatalf("conflicting handshake must not validate")
	}
	peers.Add(2)
	if err := peers.Link(2, []Result{{ID: ReservedID, Ident: ackIdent}}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected reserved code conflict, got %v", err)
	}
}

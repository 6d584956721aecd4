package protocol

import (
	"fmt"

	"github.com/danmuck/ghostwire/internal/protocol/pattern"
	"github.com/danmuck/ghostwire/internal/protocol/wire"
)

// Code prefixes every message.
type Code int16

const CodeRegisterPattern = Code(pattern.ReservedID)

// Standard message patterns.
var (
	// IdentRegisterPattern labels the handshake message. It always travels
	// as CodeRegisterPattern and is never registered in a bank.
	IdentRegisterPattern = pattern.Ident{Name: "ghostwire.register_pattern", Version: 1}

	IdentSnapshot = pattern.Ident{Name: "ghostwire.snapshot", Version: 1}
	IdentAck      = pattern.Ident{Name: "ghostwire.ack", Version: 1}
	IdentUsers    = pattern.Ident{Name: "ghostwire.users", Version: 1}
	IdentResync   = pattern.Ident{Name: "ghostwire.resync", Version: 1}
)

// StandardBank returns a local bank holding every standard pattern.
func StandardBank() *pattern.Bank {
	return pattern.NewBank().MustRegister(IdentSnapshot, IdentAck, IdentUsers, IdentResync)
}

func Pack(code Code, body []byte) []byte {
	w := wire.NewWriter(2 + len(body))
	w.WriteInt16(int16(code))
	w.WriteBytes(body)
	return w.Bytes()
}

// Unpack splits msg into its code and body. The body aliases msg.
func Unpack(msg []byte) (Code, []byte, error) {
	r := wire.NewReader(msg)
	code, err := r.ReadInt16()
	if err != nil {
		return 0, nil, ErrTruncated
	}
	return Code(code), msg[2:], nil
}

// Register builds the RegisterPattern message for a local bank.
func Register(local *pattern.Bank) ([]byte, error) {
	body, err := pattern.EncodeRegister(local.Results())
	if err != nil {
		return nil, err
	}
	return Pack(CodeRegisterPattern, body), nil
}

// Seal prefixes body with the local code of ident.
func Seal(local *pattern.Bank, ident pattern.Ident, body []byte) ([]byte, error) {
	r, ok := local.Lookup(ident)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPattern, ident)
	}
	return Pack(Code(r.ID), body), nil
}

// Message is an inbound message after code resolution.
type Message struct {
	Code     Code
	Ident    pattern.Ident
	Body     []byte
	Register []pattern.Result
}

func (m Message) IsRegister() bool {
	return m.Code == CodeRegisterPattern
}

// Open resolves an inbound message from peer. A RegisterPattern message is
// decoded but not linked; callers link it with peers.Link. Any other code
// requires a validated peer.
func Open[K comparable](peers *pattern.Peers[K], peer K, msg []byte) (Message, error) {
	code, body, err := Unpack(msg)
	if err != nil {
		return Message{}, err
	}
	if code == CodeRegisterPattern {
		results, err := pattern.DecodeRegister(body)
		if err != nil {
			return Message{}, err
		}
		return Message{Code: code, Body: body, Register: results}, nil
	}
	if !peers.Validated(peer) {
		return Message{}, fmt.Errorf("%w: code %d", ErrNotValidated, code)
	}
	ident, ok := peers.Resolve(peer, int16(code))
	if !ok {
		return Message{}, fmt.Errorf("%w: %d", ErrUnknownCode, code)
	}
	return Message{Code: code, Ident: ident, Body: body}, nil
}

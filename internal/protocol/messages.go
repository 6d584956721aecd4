package protocol

import (
	"fmt"

	"github.com/danmuck/ghostwire/internal/protocol/schema"
	"github.com/danmuck/ghostwire/internal/protocol/tlv"
)

// Ack confirms the observer applied the snapshot for Tick.
type Ack struct {
	Tick uint32
}

// UserKind classifies roster events.
type UserKind uint8

const (
	UserJoined UserKind = 1
	UserLeft   UserKind = 2
	UserSelf   UserKind = 3
)

func (k UserKind) String() string {
	switch k {
	case UserJoined:
		return "joined"
	case UserLeft:
		return "left"
	case UserSelf:
		return "self"
	default:
		return fmt.Sprintf("user_kind(%d)", uint8(k))
	}
}

// UserEvent announces an observer joining or leaving.
type UserEvent struct {
	Kind UserKind
	User uint64
}

// Resync asks the server for a full rebuild. Tick is the last tick the
// observer applied, zero when none.
type Resync struct {
	Tick   uint32
	Reason string
}

func EncodeAck(a Ack) []byte {
	return tlv.EncodeFields([]tlv.Field{tlv.U32(schema.FieldTick, a.Tick)})
}

func DecodeAck(body []byte) (Ack, error) {
	fields, err := decodeValid(schema.MsgAck, body)
	if err != nil {
		return Ack{}, err
	}
	f, _ := tlv.GetField(fields, schema.FieldTick)
	tick, err := f.AsU32()
	if err != nil {
		return Ack{}, err
	}
	return Ack{Tick: tick}, nil
}

func EncodeUserEvent(e UserEvent) []byte {
	return tlv.EncodeFields([]tlv.Field{
		tlv.U8(schema.FieldUserKind, uint8(e.Kind)),
		tlv.U64(schema.FieldUserID, e.User),
	})
}

func DecodeUserEvent(body []byte) (UserEvent, error) {
	fields, err := decodeValid(schema.MsgUsers, body)
	if err != nil {
		return UserEvent{}, err
	}
	kf, _ := tlv.GetField(fields, schema.FieldUserKind)
	kind, err := kf.AsU8()
	if err != nil {
		return UserEvent{}, err
	}
	uf, _ := tlv.GetField(fields, schema.FieldUserID)
	user, err := uf.AsU64()
	if err != nil {
		return UserEvent{}, err
	}
	return UserEvent{Kind: UserKind(kind), User: user}, nil
}

func EncodeResync(r Resync) []byte {
	return tlv.EncodeFields([]tlv.Field{
		tlv.U32(schema.FieldTick, r.Tick),
		tlv.String(schema.FieldReason, r.Reason),
	})
}

func DecodeResync(body []byte) (Resync, error) {
	fields, err := decodeValid(schema.MsgResync, body)
	if err != nil {
		return Resync{}, err
	}
	tf, _ := tlv.GetField(fields, schema.FieldTick)
	tick, err := tf.AsU32()
	if err != nil {
		return Resync{}, err
	}
	rf, _ := tlv.GetField(fields, schema.FieldReason)
	reason, err := rf.AsString()
	if err != nil {
		return Resync{}, err
	}
	return Resync{Tick: tick, Reason: reason}, nil
}

func decodeValid(messageType uint32, body []byte) ([]tlv.Field, error) {
	fields, err := tlv.DecodeFields(body)
	if err != nil {
		return nil, err
	}
	if err := schema.Validate(messageType, fields); err != nil {
		return nil, err
	}
	return fields, nil
}

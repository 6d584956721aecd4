package schema

import (
	"fmt"

	"github.com/danmuck/ghostwire/internal/logging"
	"github.com/danmuck/ghostwire/internal/protocol/tlv"
)

// Control message kinds carried as TLV field lists.
const (
	MsgAck    uint32 = 1
	MsgUsers  uint32 = 2
	MsgResync uint32 = 3
)

// Field IDs of control messages.
const (
	FieldTick uint16 = 1

	FieldUserKind uint16 = 100
	FieldUserID   uint16 = 101

	FieldReason uint16 = 200
)

type Requirement struct {
	ID   uint16
	Type uint8
}

type ValidationError struct {
	MessageType uint32
	FieldID     uint16
	Reason      string
}

func (e ValidationError) Error() string {
	if e.FieldID == 0 {
		return fmt.Sprintf("schema: message_type=%d: %s", e.MessageType, e.Reason)
	}
	return fmt.Sprintf("schema: message_type=%d field=%d: %s", e.MessageType, e.FieldID, e.Reason)
}

var requirements = map[uint32][]Requirement{
	MsgAck: {
		{FieldTick, tlv.TypeU32},
	},
	MsgUsers: {
		{FieldUserKind, tlv.TypeU8},
		{FieldUserID, tlv.TypeU64},
	},
	MsgResync: {
		{FieldTick, tlv.TypeU32},
		{FieldReason, tlv.TypeString},
	},
}

// Validate enforces required fields and their types. Unknown fields are
// ignored.
func Validate(messageType uint32, fields []tlv.Field) error {
	reqs, ok := requirements[messageType]
	if !ok {
		logging.Errf("schema.Validate unknown message_type=%d", messageType)
		return ValidationError{MessageType: messageType, Reason: "unknown message_type"}
	}
	for _, req := range reqs {
		f, found := tlv.GetField(fields, req.ID)
		if !found {
			logging.Warnf("schema.Validate missing field message_type=%d field_id=%d", messageType, req.ID)
			return ValidationError{MessageType: messageType, FieldID: req.ID, Reason: "missing required field"}
		}
		if f.Type != req.Type {
			logging.Warnf(
				"schema.Validate type mismatch message_type=%d field_id=%d got=%d want=%d",
				messageType,
				req.ID,
				f.Type,
				req.Type,
			)
			return ValidationError{MessageType: messageType, FieldID: req.ID, Reason: "type mismatch"}
		}
	}
	return nil
}

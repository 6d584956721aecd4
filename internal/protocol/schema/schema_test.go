package schema

import (
	"testing"

	"github.com/danmuck/ghostwire/internal/protocol/tlv"
	"github.com/danmuck/ghostwire/internal/testutil/testlog"
)

func TestValidateAck(t *testing.T) {
	testlog.Start(t)
	if err := Validate(MsgAck, []tlv.Field{tlv.U32(FieldTick, 12)}); err != nil {
		t.Fatalf("validate ack: %v", err)
	}
}

func TestValidateUnknownFieldsIgnored(t *testing.T) {
	testlog.Start(t)
	fields := []tlv.Field{
		tlv.U8(FieldUserKind, 1),
		tlv.U64(FieldUserID, 9),
		tlv.String(9999, "extra"),
	}
	if err := Validate(MsgUsers, fields); err != nil {
		t.Fatalf("validate with unknown field: %v", err)
	}
}

func TestValidateMissingRequiredDeterministic(t *testing.T) {
	testlog.Start(t)
	err := Validate(MsgResync, []tlv.Field{tlv.U32(FieldTick, 1)})
	ve, ok := err.(ValidationError)
	if !ok {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	if ve.FieldID != FieldReason || ve.Reason != "missing required field" {
		t.Fatalf("unexpected validation error: %+v", ve)
	}
}

func TestValidateTypeMismatchDeterministic(t *testing.T) {
	testlog.Start(t)
	err := Validate(MsgAck, []tlv.Field{tlv.U64(FieldTick, 1)})
	ve, ok := err.(ValidationError)
	if !ok || ve.FieldID != FieldTick || ve.Reason != "type mismatch" {
		t.Fatalf("unexpected validation error: %v", err)
	}
}

func TestValidateUnknownMessageType(t *testing.T) {
	testlog.Start(t)
	err := Validate(99, nil)
	ve, ok := err.(ValidationError)
	if !ok || ve.Reason != "unknown message_type" {
		t.Fatalf("unexpected validation error: %v", err)
	}
}

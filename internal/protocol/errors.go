package protocol

import "errors"

var (
	ErrTruncated      = errors.New("protocol: truncated message")
	ErrUnknownCode    = errors.New("protocol: unknown message code")
	ErrUnknownPattern = errors.New("protocol: pattern not registered")
	ErrNotValidated   = errors.New("protocol: peer not validated")
	ErrMessageKind    = errors.New("protocol: message kind mismatch")
)

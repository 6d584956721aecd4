// Package transport moves opaque messages between a server and its
// observers. Message boundaries are preserved; ordering is per connection.
package transport

import (
	"context"
	"errors"
)

var (
	ErrClosed      = errors.New("transport: connection closed")
	ErrMessageKind = errors.New("transport: unexpected message kind")
)

// Conn is one bidirectional message channel.
type Conn interface {
	Send(ctx context.Context, msg []byte) error
	Receive(ctx context.Context) ([]byte, error)
	Close() error
}

package transport

import (
	"bytes"
	"context"
	"sync"
)

type pipeEnd struct {
	in   <-chan []byte
	out  chan<- []byte
	done chan struct{}
	peer *pipeEnd
	once sync.Once
}

// Pipe returns two connected in-memory endpoints. Each direction buffers up
// to depth messages before Send blocks.
func Pipe(depth int) (Conn, Conn) {
	if depth < 0 {
		depth = 0
	}
	ab := make(chan []byte, depth)
	ba := make(chan []byte, depth)
	a := &pipeEnd{in: ba, out: ab, done: make(chan struct{})}
	b := &pipeEnd{in: ab, out: ba, done: make(chan struct{})}
	a.peer, b.peer = b, a
	return a, b
}

func (p *pipeEnd) Send(ctx context.Context, msg []byte) error {
	select {
	case <-p.done:
		return ErrClosed
	case <-p.peer.done:
		return ErrClosed
	default:
	}
	select {
	case p.out <- bytes.Clone(msg):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.done:
		return ErrClosed
	case <-p.peer.done:
		return ErrClosed
	}
}

// Receive drains buffered messages before reporting a closed peer.
func (p *pipeEnd) Receive(ctx context.Context) ([]byte, error) {
	select {
	case msg := <-p.in:
		return msg, nil
	default:
	}
	select {
	case msg := <-p.in:
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.done:
		return nil, ErrClosed
	case <-p.peer.done:
		select {
		case msg := <-p.in:
			return msg, nil
		default:
			return nil, ErrClosed
		}
	}
}

func (p *pipeEnd) Close() error {
	p.once.Do(func() { close(p.done) })
	return nil
}

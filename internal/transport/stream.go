package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/danmuck/ghostwire/internal/protocol/frame"
)

// Stream carries messages over a byte stream using frame headers.
type Stream struct {
	conn   net.Conn
	limits frame.Limits

	writeMu sync.Mutex
	readMu  sync.Mutex
	once    sync.Once
}

func NewStream(conn net.Conn, limits frame.Limits) *Stream {
	return &Stream{conn: conn, limits: limits}
}

func (s *Stream) Send(ctx context.Context, msg []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	stop := bindDeadline(ctx, s.conn.SetWriteDeadline)
	defer stop()
	err := frame.WriteFrame(s.conn, frame.Frame{Payload: msg}, s.limits)
	return s.mapErr(ctx, err)
}

func (s *Stream) Receive(ctx context.Context) ([]byte, error) {
	s.readMu.Lock()
	defer s.readMu.Unlock()
	stop := bindDeadline(ctx, s.conn.SetReadDeadline)
	defer stop()
	f, err := frame.ReadFrame(s.conn, s.limits)
	if err != nil {
		return nil, s.mapErr(ctx, err)
	}
	if f.Final() {
		return nil, ErrClosed
	}
	return f.Payload, nil
}

// Close tells the peer no more frames follow, then closes the stream.
func (s *Stream) Close() error {
	var err error
	s.once.Do(func() {
		s.writeMu.Lock()
		_ = s.conn.SetWriteDeadline(time.Now().Add(time.Second))
		_ = frame.WriteFrame(s.conn, frame.Frame{Header: frame.Header{Flags: frame.FlagFinal}}, s.limits)
		s.writeMu.Unlock()
		err = s.conn.Close()
	})
	return err
}

func (s *Stream) mapErr(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return ErrClosed
	}
	return err
}

// bindDeadline mirrors ctx onto a connection deadline until stop is called.
func bindDeadline(ctx context.Context, set func(time.Time) error) (stop func()) {
	if d, ok := ctx.Deadline(); ok {
		_ = set(d)
	} else {
		_ = set(time.Time{})
	}
	cancel := context.AfterFunc(ctx, func() {
		_ = set(time.Now())
	})
	return func() { cancel() }
}

package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/danmuck/ghostwire/internal/logging"
	"github.com/danmuck/ghostwire/internal/protocol"
	"github.com/danmuck/ghostwire/internal/protocol/pattern"
	"github.com/danmuck/ghostwire/internal/replication"
	"github.com/danmuck/ghostwire/internal/transport"
)

// outboxDepth bounds queued messages per observer. A full outbox closes the
// session instead of dropping a snapshot.
const outboxDepth = 64

var (
	ErrHandshake    = errors.New("server: handshake failed")
	ErrSlowObserver = errors.New("server: observer outbox full")
)

type outbound struct {
	ident pattern.Ident
	msg   []byte
}

type observerSession struct {
	id   replication.ObserverID
	user uint64
	conn transport.Conn

	out    chan outbound
	cancel context.CancelCauseFunc
}

func (o *observerSession) enqueue(ident pattern.Ident, msg []byte) {
	select {
	case o.out <- outbound{ident: ident, msg: msg}:
	default:
		logging.Warnf("server.session.enqueue outbox full observer=%s pattern=%s", o.id, ident)
		o.cancel(ErrSlowObserver)
	}
}

func (o *observerSession) close() {
	o.cancel(transport.ErrClosed)
}

// Attach runs one observer session over conn until it ends. The session
// registers patterns in both directions before any snapshot is sent.
func (s *Server) Attach(ctx context.Context, conn transport.Conn) error {
	ctx, cancel := context.WithCancelCause(ctx)
	sess := &observerSession{
		id:     s.rep.AddObserver(),
		user:   s.nextUser.Add(1),
		conn:   conn,
		out:    make(chan outbound, outboxDepth),
		cancel: cancel,
	}
	s.peers.Add(sess.id)
	s.sessions.Store(sess.id, sess)
	logging.Infof("server.Server.Attach observer=%s user=%d", sess.id, sess.user)

	defer func() {
		cancel(nil)
		announced := s.peers.Validated(sess.id)
		s.rep.RemoveObserver(sess.id)
		s.peers.Remove(sess.id)
		s.sessions.Delete(sess.id)
		_ = conn.Close()
		if announced {
			s.broadcastUser(protocol.UserEvent{Kind: protocol.UserLeft, User: sess.user}, sess.id)
		}
		logging.Infof("server.Server.Attach closed observer=%s user=%d", sess.id, sess.user)
	}()

	reg, err := protocol.Register(s.local)
	if err != nil {
		return err
	}
	sess.enqueue(protocol.IdentRegisterPattern, reg)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writeLoop(ctx, sess)
	}()

	err = s.readLoop(ctx, sess)
	cause := context.Cause(ctx)
	cancel(err)
	<-writerDone
	if cause != nil && !errors.Is(cause, context.Canceled) {
		return cause
	}
	return err
}

func (s *Server) writeLoop(ctx context.Context, sess *observerSession) {
	for {
		select {
		case <-ctx.Done():
			return
		case o := <-sess.out:
			sendCtx, cancel := context.WithTimeout(ctx, s.cfg.Session.WriteTimeout)
			err := sess.conn.Send(sendCtx, o.msg)
			cancel()
			if err != nil {
				recordSendFailure(o.ident)
				logging.Warnf("server.session.write observer=%s pattern=%s err=%v", sess.id, o.ident, err)
				sess.cancel(err)
				return
			}
		}
	}
}

func (s *Server) readLoop(ctx context.Context, sess *observerSession) error {
	hsCtx, cancel := context.WithTimeout(ctx, s.cfg.Session.HandshakeTimeout)
	raw, err := sess.conn.Receive(hsCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrHandshake, err)
	}
	msg, err := protocol.Open(s.peers, sess.id, raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrHandshake, err)
	}
	if !msg.IsRegister() {
		return fmt.Errorf("%w: first message code=%d", ErrHandshake, msg.Code)
	}
	if err := s.peers.Link(sess.id, msg.Register); err != nil {
		return fmt.Errorf("%w: %v", ErrHandshake, err)
	}
	logging.Debugf("server.session.handshake observer=%s patterns=%d", sess.id, len(msg.Register))
	s.introduce(sess)

	for {
		recvCtx, cancel := s.idleContext(ctx)
		raw, err := sess.conn.Receive(recvCtx)
		cancel()
		if err != nil {
			return err
		}
		msg, err := protocol.Open(s.peers, sess.id, raw)
		if err != nil {
			logging.Warnf("server.session.read observer=%s err=%v", sess.id, err)
			continue
		}
		if msg.IsRegister() {
			return fmt.Errorf("%w: repeated registration", ErrHandshake)
		}
		if err := s.handle(sess, msg); err != nil {
			return err
		}
	}
}

func (s *Server) idleContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.Session.IdleTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.cfg.Session.IdleTimeout)
}

func (s *Server) handle(sess *observerSession, msg protocol.Message) error {
	switch msg.Ident {
	case protocol.IdentAck:
		ack, err := protocol.DecodeAck(msg.Body)
		if err != nil {
			logging.Warnf("server.session.ack observer=%s err=%v", sess.id, err)
			return nil
		}
		return s.rep.Acknowledge(sess.id, ack.Tick)
	case protocol.IdentResync:
		rs, err := protocol.DecodeResync(msg.Body)
		if err != nil {
			logging.Warnf("server.session.resync observer=%s err=%v", sess.id, err)
			return nil
		}
		logging.Infof("server.session.resync observer=%s tick=%d reason=%q", sess.id, rs.Tick, rs.Reason)
		return s.rep.Resync(sess.id)
	default:
		logging.Debugf("server.session.read observer=%s ignored pattern=%s", sess.id, msg.Ident)
		return nil
	}
}

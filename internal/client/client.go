// Package client is the observer side of a ghostwire connection: it decodes
// snapshots into a ReceiverState and reports progress back to the server.
package client

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/danmuck/ghostwire/internal/codec"
	"github.com/danmuck/ghostwire/internal/ghost"
	"github.com/danmuck/ghostwire/internal/logging"
	"github.com/danmuck/ghostwire/internal/observability"
	"github.com/danmuck/ghostwire/internal/protocol"
	"github.com/danmuck/ghostwire/internal/protocol/pattern"
	"github.com/danmuck/ghostwire/internal/protocol/session"
	"github.com/danmuck/ghostwire/internal/snapshot"
	"github.com/danmuck/ghostwire/internal/transport"
)

const serverPeer = "server"

var ErrHandshake = errors.New("client: handshake failed")

type Config struct {
	HistoryCapacity int
	// AckEvery acknowledges every Nth decoded snapshot.
	AckEvery int
	Session  session.Config
	// OnSnapshot, when set, is called after every decoded snapshot.
	OnSnapshot func(snapshot.Result)
}

// Stats counts what the client has seen on the current connection.
type Stats struct {
	Snapshots uint64
	Desyncs   uint64
	Skipped   uint64
	LastTick  uint32
}

type Client struct {
	cfg   Config
	local *pattern.Bank
	peers *pattern.Peers[string]
	dec   *snapshot.Decoder
	state *snapshot.ReceiverState

	mu    sync.RWMutex
	self  uint64
	users map[uint64]struct{}

	snapshots atomic.Uint64
	desyncs   atomic.Uint64
	skipped   atomic.Uint64
	lastTick  atomic.Uint32
}

func New(codecs *codec.Set, cfg Config) *Client {
	if cfg.HistoryCapacity <= 0 {
		cfg.HistoryCapacity = snapshot.DefaultHistoryCapacity
	}
	if cfg.AckEvery <= 0 {
		cfg.AckEvery = 1
	}
	if cfg.Session.HandshakeTimeout <= 0 {
		cfg.Session = session.DefaultConfig()
	}
	return &Client{
		cfg:   cfg,
		local: protocol.StandardBank(),
		peers: pattern.NewPeers[string](),
		dec:   snapshot.NewDecoder(codecs, nil),
		state: snapshot.NewReceiverState(cfg.HistoryCapacity),
		users: make(map[uint64]struct{}),
	}
}

func (c *Client) State() *snapshot.ReceiverState {
	return c.state
}

// Ghosts lists the ghosts held after the last decoded snapshot.
func (c *Client) Ghosts() []ghost.ID {
	return c.state.IDs()
}

func (c *Client) History(g ghost.ID, id codec.ID) []codec.Value {
	return c.state.History(g, id)
}

// Self is the user id the server assigned to this connection.
func (c *Client) Self() (uint64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.self, c.self != 0
}

// Users lists the other connected users in ascending order.
func (c *Client) Users() []uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]uint64, 0, len(c.users))
	for u := range c.users {
		out = append(out, u)
	}
	slices.Sort(out)
	return out
}

func (c *Client) Stats() Stats {
	return Stats{
		Snapshots: c.snapshots.Load(),
		Desyncs:   c.desyncs.Load(),
		Skipped:   c.skipped.Load(),
		LastTick:  c.lastTick.Load(),
	}
}

// Run handshakes over conn and processes messages until ctx ends or the
// connection closes. Decoded state is discarded when Run starts.
func (c *Client) Run(ctx context.Context, conn transport.Conn) error {
	c.reset()
	defer c.peers.Remove(serverPeer)

	reg, err := protocol.Register(c.local)
	if err != nil {
		return err
	}
	if err := c.send(ctx, conn, reg); err != nil {
		return fmt.Errorf("%w: %v", ErrHandshake, err)
	}

	hsCtx, cancel := context.WithTimeout(ctx, c.cfg.Session.HandshakeTimeout)
	raw, err := conn.Receive(hsCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrHandshake, err)
	}
	msg, err := protocol.Open(c.peers, serverPeer, raw)
	if err != nil || !msg.IsRegister() {
		return fmt.Errorf("%w: expected pattern registration: %v", ErrHandshake, err)
	}
	if err := c.peers.Link(serverPeer, msg.Register); err != nil {
		return fmt.Errorf("%w: %v", ErrHandshake, err)
	}
	logging.Debugf("client.Client.Run handshake patterns=%d", len(msg.Register))

	for {
		raw, err := conn.Receive(ctx)
		if err != nil {
			return err
		}
		msg, err := protocol.Open(c.peers, serverPeer, raw)
		if err != nil {
			logging.Warnf("client.Client.Run open err=%v", err)
			continue
		}
		if err := c.handle(ctx, conn, msg); err != nil {
			return err
		}
	}
}

func (c *Client) reset() {
	c.state.Reset()
	c.peers.Remove(serverPeer)
	c.peers.Add(serverPeer)
	c.mu.Lock()
	c.self = 0
	c.users = make(map[uint64]struct{})
	c.mu.Unlock()
	c.snapshots.Store(0)
	c.desyncs.Store(0)
	c.skipped.Store(0)
	c.lastTick.Store(0)
}

func (c *Client) handle(ctx context.Context, conn transport.Conn, msg protocol.Message) error {
	switch msg.Ident {
	case protocol.IdentSnapshot:
		return c.handleSnapshot(ctx, conn, msg.Body)
	case protocol.IdentUsers:
		ev, err := protocol.DecodeUserEvent(msg.Body)
		if err != nil {
			logging.Warnf("client.Client.users err=%v", err)
			return nil
		}
		c.applyUser(ev)
		return nil
	default:
		if msg.IsRegister() {
			return fmt.Errorf("%w: repeated registration", ErrHandshake)
		}
		logging.Debugf("client.Client.Run ignored pattern=%s", msg.Ident)
		return nil
	}
}

func (c *Client) handleSnapshot(ctx context.Context, conn transport.Conn, body []byte) error {
	res, err := c.dec.Decode(body, c.state)
	if err != nil {
		var de *snapshot.DesyncError
		if !errors.As(err, &de) {
			return err
		}
		c.desyncs.Add(1)
		observability.RecordDesync("client")
		logging.Warnf("client.Client.snapshot desync err=%v", err)
		resync := protocol.EncodeResync(protocol.Resync{Tick: c.lastTick.Load(), Reason: de.Reason})
		msg, err := protocol.Seal(c.local, protocol.IdentResync, resync)
		if err != nil {
			return err
		}
		return c.send(ctx, conn, msg)
	}
	if res.Skipped {
		c.skipped.Add(1)
		return nil
	}
	n := c.snapshots.Add(1)
	c.lastTick.Store(res.Tick)
	if c.cfg.OnSnapshot != nil {
		c.cfg.OnSnapshot(res)
	}
	if n%uint64(c.cfg.AckEvery) != 0 {
		return nil
	}
	msg, err := protocol.Seal(c.local, protocol.IdentAck, protocol.EncodeAck(protocol.Ack{Tick: res.Tick}))
	if err != nil {
		return err
	}
	return c.send(ctx, conn, msg)
}

func (c *Client) applyUser(ev protocol.UserEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch ev.Kind {
	case protocol.UserSelf:
		c.self = ev.User
	case protocol.UserJoined:
		c.users[ev.User] = struct{}{}
	case protocol.UserLeft:
		delete(c.users, ev.User)
	default:
		logging.Debugf("client.Client.users unknown kind=%s", ev.Kind)
	}
}

func (c *Client) send(ctx context.Context, conn transport.Conn, msg []byte) error {
	sendCtx, cancel := context.WithTimeout(ctx, c.cfg.Session.WriteTimeout)
	defer cancel()
	return conn.Send(sendCtx, msg)
}

// Package server accepts observer connections and streams snapshots to them
// on a fixed tick.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/danmuck/ghostwire/internal/codec"
	"github.com/danmuck/ghostwire/internal/config"
	"github.com/danmuck/ghostwire/internal/logging"
	"github.com/danmuck/ghostwire/internal/observability"
	"github.com/danmuck/ghostwire/internal/protocol"
	"github.com/danmuck/ghostwire/internal/protocol/frame"
	"github.com/danmuck/ghostwire/internal/protocol/pattern"
	"github.com/danmuck/ghostwire/internal/replication"
	"github.com/danmuck/ghostwire/internal/transport"
	"github.com/danmuck/ghostwire/internal/world"
)

// Server owns the replicator, the local pattern bank and every observer
// session.
type Server struct {
	cfg      config.ServerConfig
	rep      *replication.Replicator
	local    *pattern.Bank
	peers    *pattern.Peers[replication.ObserverID]
	sessions *xsync.MapOf[replication.ObserverID, *observerSession]

	nextUser atomic.Uint64
	tick     atomic.Uint32
	running  atomic.Bool
	appeared time.Time
}

func New(cfg config.ServerConfig, source world.Source, codecs *codec.Set) *Server {
	peers := pattern.NewPeers[replication.ObserverID]()
	return &Server{
		cfg: cfg,
		rep: replication.New(source, codecs, replication.Config{
			Workers: cfg.Workers,
			Gate:    peers,
		}),
		local:    protocol.StandardBank(),
		peers:    peers,
		sessions: xsync.NewMapOf[replication.ObserverID, *observerSession](),
		appeared: time.Now(),
	}
}

func (s *Server) Replicator() *replication.Replicator {
	return s.rep
}

// Tick is the last tick replicated.
func (s *Server) Tick() uint32 {
	return s.tick.Load()
}

func (s *Server) Sessions() int {
	return s.sessions.Size()
}

// Step runs one replication tick and queues each payload on its session.
func (s *Server) Step(ctx context.Context) error {
	tick := s.tick.Add(1)
	res, err := s.rep.Tick(ctx, tick)
	if err != nil {
		return fmt.Errorf("server: tick %d: %w", tick, err)
	}
	for id, payload := range res.Payloads {
		sess, ok := s.sessions.Load(id)
		if !ok {
			continue
		}
		msg, err := protocol.Seal(s.local, protocol.IdentSnapshot, payload)
		if err != nil {
			return err
		}
		sess.enqueue(protocol.IdentSnapshot, msg)
	}
	return nil
}

// Run ticks until ctx ends, serving observers and the admin API alongside.
func (s *Server) Run(ctx context.Context) error {
	if err := s.cfg.Validate(); err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.running.Store(true)
	defer s.running.Store(false)

	errc := make(chan error, 3)
	wsSrv := &http.Server{Addr: s.cfg.ListenAddr, Handler: s.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() { errc <- serveHTTP(wsSrv, "observers") }()
	defer shutdownHTTP(wsSrv)

	if s.cfg.AdminAddr != "" {
		adminSrv := &http.Server{Addr: s.cfg.AdminAddr, Handler: s.Router(), ReadHeaderTimeout: 5 * time.Second}
		go func() { errc <- serveHTTP(adminSrv, "admin") }()
		defer shutdownHTTP(adminSrv)
	}
	if s.cfg.StreamAddr != "" {
		ln, err := net.Listen("tcp", s.cfg.StreamAddr)
		if err != nil {
			return err
		}
		go func() { errc <- s.ServeStream(ctx, ln) }()
	}

	logging.Warnf(
		"server.Server.Run listening addr=%q admin=%q stream=%q tick_rate=%d",
		s.cfg.ListenAddr, s.cfg.AdminAddr, s.cfg.StreamAddr, s.cfg.TickRate,
	)
	ticker := time.NewTicker(s.cfg.TickInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.closeAll()
			return nil
		case err := <-errc:
			if err != nil {
				return err
			}
		case <-ticker.C:
			if err := s.Step(ctx); err != nil {
				logging.Errf("server.Server.Run step err=%v", err)
			}
		}
	}
}

// Handler serves websocket observers on /ws.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		ws, err := transport.Accept(w, r, s.cfg.CorsOrigins, s.cfg.MaxPayloadBytes)
		if err != nil {
			logging.Warnf("server.Server.ws accept remote=%q err=%v", r.RemoteAddr, err)
			return
		}
		if err := s.Attach(r.Context(), ws); err != nil {
			logging.Debugf("server.Server.ws session ended remote=%q err=%v", r.RemoteAddr, err)
		}
	})
	return mux
}

// ServeStream accepts framed TCP observers until ctx ends.
func (s *Server) ServeStream(ctx context.Context, ln net.Listener) error {
	defer ln.Close()
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()
	limits := frame.Limits{MaxPayloadBytes: uint32(min(s.cfg.MaxPayloadBytes, int64(^uint32(0))))}
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		go func() {
			if err := s.Attach(ctx, transport.NewStream(conn, limits)); err != nil {
				logging.Debugf("server.Server.stream session ended remote=%q err=%v", conn.RemoteAddr(), err)
			}
		}()
	}
}

func (s *Server) closeAll() {
	s.sessions.Range(func(_ replication.ObserverID, sess *observerSession) bool {
		sess.close()
		return true
	})
}

func serveHTTP(srv *http.Server, name string) error {
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: %s listener: %w", name, err)
	}
	return nil
}

func shutdownHTTP(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}

func recordSendFailure(ident pattern.Ident) {
	observability.RecordSendFailure(ident.String())
}

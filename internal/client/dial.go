package client

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/danmuck/ghostwire/internal/logging"
	"github.com/danmuck/ghostwire/internal/protocol/session"
	"github.com/danmuck/ghostwire/internal/transport"
)

// Dialer opens a fresh connection for each attempt.
type Dialer func(ctx context.Context) (transport.Conn, error)

// WebSocketDialer dials url with the client's connect timeout.
func WebSocketDialer(url string, cfg session.Config, readLimit int64) Dialer {
	return func(ctx context.Context) (transport.Conn, error) {
		dialCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
		return transport.Dial(dialCtx, url, readLimit)
	}
}

// Connect runs the client over dialed connections, reconnecting with
// backoff until ctx ends or the attempt budget is spent.
func (c *Client) Connect(ctx context.Context, dial Dialer) error {
	backoff := session.NewBackoff(c.cfg.Session.Backoff, rand.New(rand.NewSource(time.Now().UnixNano())))
	for {
		conn, err := dial(ctx)
		if err == nil {
			start := time.Now()
			err = c.Run(ctx, conn)
			_ = conn.Close()
			if time.Since(start) > c.cfg.Session.Backoff.MaxDelay {
				backoff.Reset()
			}
		}
		if ctx.Err() != nil {
			return nil
		}
		logging.Warnf("client.Client.Connect attempt=%d err=%v", backoff.Attempt()+1, err)
		if werr := backoff.Wait(ctx); werr != nil {
			if errors.Is(werr, session.ErrAttemptsExhausted) {
				return errors.Join(werr, err)
			}
			return nil
		}
	}
}

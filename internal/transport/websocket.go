package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/coder/websocket"
)

// WebSocket carries one message per binary websocket message.
type WebSocket struct {
	conn *websocket.Conn
}

// Accept upgrades an HTTP request. An empty origins list only accepts
// same-origin requests.
func Accept(w http.ResponseWriter, r *http.Request, origins []string, readLimit int64) (*WebSocket, error) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: origins})
	if err != nil {
		return nil, err
	}
	if readLimit > 0 {
		c.SetReadLimit(readLimit)
	}
	return &WebSocket{conn: c}, nil
}

func Dial(ctx context.Context, url string, readLimit int64) (*WebSocket, error) {
	c, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", url, err)
	}
	if readLimit > 0 {
		c.SetReadLimit(readLimit)
	}
	return &WebSocket{conn: c}, nil
}

func (ws *WebSocket) Send(ctx context.Context, msg []byte) error {
	return ws.mapErr(ctx, ws.conn.Write(ctx, websocket.MessageBinary, msg))
}

func (ws *WebSocket) Receive(ctx context.Context) ([]byte, error) {
	typ, msg, err := ws.conn.Read(ctx)
	if err != nil {
		return nil, ws.mapErr(ctx, err)
	}
	if typ != websocket.MessageBinary {
		return nil, fmt.Errorf("%w: %v", ErrMessageKind, typ)
	}
	return msg, nil
}

func (ws *WebSocket) Close() error {
	err := ws.conn.Close(websocket.StatusNormalClosure, "")
	var ce websocket.CloseError
	if errors.As(err, &ce) {
		return nil
	}
	return err
}

func (ws *WebSocket) mapErr(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return ErrClosed
	}
	return err
}

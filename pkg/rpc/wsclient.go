package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/canopy-network/collatorx/pkg/utils"
	"github.com/gorilla/websocket"
)

const defaultCallTimeout = 30 * time.Second

// WSConn is a JSON-RPC connection over a websocket. Calls are serialized.
type WSConn struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	nextID uint64
}

// DialWS opens a websocket to endpoint.
func DialWS(ctx context.Context, endpoint string) (*WSConn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, endpoint, nil)
	if resp != nil {
		_ = utils.DrainAndClose(resp.Body)
	}
	if err != nil {
		return nil, err
	}
	return &WSConn{conn: conn}, nil
}

// Call sends one request and waits for the response with the same id,
// skipping subscription notifications that may be interleaved.
func (c *WSConn) Call(ctx context.Context, method string, params []any, out any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultCallTimeout)
	}
	_ = c.conn.SetWriteDeadline(deadline)
	_ = c.conn.SetReadDeadline(deadline)

	c.nextID++
	id := c.nextID
	if err := c.conn.WriteJSON(newRequest(id, method, params)); err != nil {
		return fmt.Errorf("write %s: %w", method, err)
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read %s: %w", method, err)
		}
		var r response
		if err := json.Unmarshal(msg, &r); err != nil {
			return fmt.Errorf("decode %s response: %w", method, err)
		}
		if r.ID == nil || *r.ID != id {
			continue
		}
		return r.decode(out)
	}
}

func (c *WSConn) Close() error {
	return c.conn.Close()
}

package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/canopy-network/collatorx/pkg/utils"
)

// HTTPConn is a JSON-RPC connection over plain HTTP POSTs to a single endpoint.
type HTTPConn struct {
	endpoint string
	client   *http.Client
	nextID   atomic.Uint64
}

// DialHTTP "connects" by issuing a system_health probe, so an unreachable node
// fails here rather than on the first real query.
func DialHTTP(ctx context.Context, endpoint string, client *http.Client) (*HTTPConn, error) {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	c := &HTTPConn{endpoint: endpoint, client: client}
	if err := c.Call(ctx, "system_health", nil, nil); err != nil {
		return nil, err
	}
	return c, nil
}

// Call posts one JSON-RPC request and unmarshals its result into out.
func (c *HTTPConn) Call(ctx context.Context, method string, params []any, out any) error {
	b, err := json.Marshal(newRequest(c.nextID.Add(1), method, params))
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	// From here on, always drain+close the body before returning.
	defer func() { _ = utils.DrainAndClose(resp.Body) }()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("server %d", resp.StatusCode)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("http %d", resp.StatusCode)
	}

	var r response
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return fmt.Errorf("decode %s response: %w", method, err)
	}
	return r.decode(out)
}

func (c *HTTPConn) Close() error {
	c.client.CloseIdleConnections()
	return nil
}

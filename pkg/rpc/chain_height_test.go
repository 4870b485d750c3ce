package rpc_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/canopy-network/collatorx/pkg/rpc"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type rpcRequest struct {
	ID     uint64 `json:"id"`
	Method string `json:"method"`
}

func rpcReply(id uint64, result any) map[string]any {
	return map[string]any{"jsonrpc": "2.0", "id": id, "result": result}
}

// newHTTPNode answers system_health and chain_getHeader with the given header number.
func newHTTPNode(t *testing.T, number any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		switch req.Method {
		case "system_health":
			_ = json.NewEncoder(w).Encode(rpcReply(req.ID, map[string]any{"peers": 12, "isSyncing": false}))
		case "chain_getHeader":
			_ = json.NewEncoder(w).Encode(rpcReply(req.ID, map[string]any{"number": number, "parentHash": "0x00"}))
		default:
			_ = json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": req.ID, "error": map[string]any{"code": -32601, "message": "Method not found"}})
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newWSNode(t *testing.T, number any) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var req rpcRequest
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			// an unrelated notification first, the client must skip it
			_ = conn.WriteJSON(map[string]any{"jsonrpc": "2.0", "method": "chain_newHead", "params": map[string]any{}})
			_ = conn.WriteJSON(rpcReply(req.ID, map[string]any{"number": number}))
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestChainHeightOverHTTP(t *testing.T) {
	node := newHTTPNode(t, "0x3e8")
	p := rpc.NewChainHeightProvider([]string{node.URL}, nil, zaptest.NewLogger(t))

	h, err := p.ChainHeight(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(1000), h)
}

func TestChainHeightOverWebsocket(t *testing.T) {
	node := newWSNode(t, "0x1f4")
	p := rpc.NewChainHeightProvider([]string{"ws" + strings.TrimPrefix(node.URL, "http")}, nil, zaptest.NewLogger(t))

	h, err := p.ChainHeight(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(500), h)
}

func TestConnectRotatesThroughEndpoints(t *testing.T) {
	node := newHTTPNode(t, 42)
	var tried []string
	dial := func(ctx context.Context, ep string) (rpc.Conn, error) {
		tried = append(tried, ep)
		// the healthy node refuses its first connection too
		if ep != node.URL || len(tried) < 6 {
			return nil, errors.New("connection refused")
		}
		return rpc.DialHTTP(ctx, ep, nil)
	}
	p := rpc.NewChainHeightProvider([]string{"http://bad-1", "http://bad-2", node.URL}, dial, zaptest.NewLogger(t))

	h, err := p.ChainHeight(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(42), h)
	require.Equal(t, []string{"http://bad-1", "http://bad-2", node.URL, "http://bad-1", "http://bad-2", node.URL}, tried)
}

func TestConnectStopsOnContext(t *testing.T) {
	dial := func(context.Context, string) (rpc.Conn, error) {
		time.Sleep(time.Millisecond)
		return nil, errors.New("down")
	}
	p := rpc.NewChainHeightProvider([]string{"ws://a", "ws://b"}, dial, zaptest.NewLogger(t))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := p.ChainHeight(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestChainHeightRejectsInvalidNumber(t *testing.T) {
	node := newHTTPNode(t, "banana")
	p := rpc.NewChainHeightProvider([]string{node.URL}, nil, zaptest.NewLogger(t))

	_, err := p.ChainHeight(context.Background())
	require.ErrorIs(t, err, rpc.ErrInvalidHeight)
}

func TestParseBlockNumber(t *testing.T) {
	cases := []struct {
		raw  string
		want uint64
		ok   bool
	}{
		{`"0x0"`, 0, true},
		{`"0xFF"`, 255, true},
		{`"1234"`, 1234, true},
		{`987`, 987, true},
		{`-1`, 0, false},
		{`1.5`, 0, false},
		{`"0xzz"`, 0, false},
		{`null`, 0, false},
		{`""`, 0, false},
	}
	for _, tc := range cases {
		got, err := rpc.ParseBlockNumber(json.RawMessage(tc.raw))
		if !tc.ok {
			require.ErrorIs(t, err, rpc.ErrInvalidHeight, tc.raw)
			continue
		}
		require.NoError(t, err, tc.raw)
		require.Equal(t, tc.want, got, tc.raw)
	}
}

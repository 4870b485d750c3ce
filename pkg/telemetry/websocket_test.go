package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newFeedServer(t *testing.T, frames []string, subscribed chan<- string) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	var conns atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		select {
		case subscribed <- string(msg):
		default:
		}

		if conns.Add(1) > 1 {
			// later connections stay silent until the client leaves
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}

		for _, f := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
				return
			}
		}
		// the first connection hangs up once everything is sent
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestWebsocketFeedSubscribesAndDecodes(t *testing.T) {
	subscribed := make(chan string, 1)
	srv := newFeedServer(t, []string{addedNodeFrame, `[6,[7,[1021,"0x1",6000,0,null]]]`}, subscribed)

	feed := NewWebsocketFeed("ws"+strings.TrimPrefix(srv.URL, "http"), "0xnetwork", zaptest.NewLogger(t))
	reports, err := feed.Open(context.Background())
	require.NoError(t, err)
	defer feed.Close()

	require.Equal(t, "subscribe:0xnetwork", <-subscribed)

	var got []Report
	timeout := time.After(5 * time.Second)
	for done := false; !done; {
		select {
		case r, ok := <-reports:
			if !ok {
				done = true
				continue
			}
			got = append(got, r)
		case <-timeout:
			t.Fatal("feed channel was not closed after the server hung up")
		}
	}

	require.Equal(t, []Report{
		{NetworkID: "12D3KooWA", NodeName: "collator-01", Block: 1020},
		{NetworkID: "12D3KooWB", NodeName: "collator-02", Block: 1001},
		{NetworkID: "12D3KooWA", NodeName: "collator-01", Block: 1021},
	}, got)
}

func TestWebsocketFeedOpenFailsWhenUnreachable(t *testing.T) {
	feed := NewWebsocketFeed("ws://127.0.0.1:1/feed", "0xnetwork", zaptest.NewLogger(t))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := feed.Open(ctx)
	require.Error(t, err)
	require.NoError(t, feed.Close())
}

func TestWebsocketFeedWithAggregator(t *testing.T) {
	subscribed := make(chan string, 1)
	srv := newFeedServer(t, []string{addedNodeFrame}, subscribed)
	feed := NewWebsocketFeed("ws"+strings.TrimPrefix(srv.URL, "http"), "0xnetwork", zaptest.NewLogger(t))

	agg := NewAggregator(feed, zaptest.NewLogger(t), Options{
		Timeout:     3 * time.Second,
		QuietPeriod: 300 * time.Millisecond,
		Reconnect:   fastReconnect(),
	})
	snap, err := agg.Collect(context.Background(), []string{"12D3KooWB"})
	require.NoError(t, err)
	require.Equal(t, Snapshot{"12D3KooWB": {Height: 1001, Name: "collator-02"}}, snap)
}

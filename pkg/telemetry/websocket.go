package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/canopy-network/collatorx/pkg/utils"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// WebsocketFeed subscribes to one network on a substrate telemetry feed server.
type WebsocketFeed struct {
	url         string
	networkHash string
	dialer      *websocket.Dialer
	logger      *zap.Logger

	mu   sync.Mutex
	conn *websocket.Conn
	done chan struct{}
}

// NewWebsocketFeed returns a closed feed; call Open to connect.
func NewWebsocketFeed(url, networkHash string, logger *zap.Logger) *WebsocketFeed {
	return &WebsocketFeed{
		url:         url,
		networkHash: networkHash,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
			ReadBufferSize:   64 * 1024,
		},
		logger: logger,
	}
}

// Open dials the feed and sends "subscribe:<networkHash>".
func (f *WebsocketFeed) Open(ctx context.Context) (<-chan Report, error) {
	conn, resp, err := f.dialer.DialContext(ctx, f.url, nil)
	if resp != nil {
		_ = utils.DrainAndClose(resp.Body)
	}
	if err != nil {
		return nil, fmt.Errorf("dial telemetry %s: %w", f.url, err)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte("subscribe:"+f.networkHash)); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("subscribe to %s: %w", f.networkHash, err)
	}
	f.logger.Info("Subscribed to telemetry", zap.String("network_hash", f.networkHash))

	out := make(chan Report, 256)
	done := make(chan struct{})

	f.mu.Lock()
	f.conn = conn
	f.done = done
	f.mu.Unlock()

	go f.read(conn, out, done)
	return out, nil
}

// Close closes the current connection, if any. The reader then closes its channel.
func (f *WebsocketFeed) Close() error {
	f.mu.Lock()
	conn, done := f.conn, f.done
	f.conn, f.done = nil, nil
	f.mu.Unlock()

	if conn == nil {
		return nil
	}
	close(done)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return conn.Close()
}

func (f *WebsocketFeed) read(conn *websocket.Conn, out chan<- Report, done <-chan struct{}) {
	defer close(out)

	dec := newFeedDecoder()
	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-done:
			default:
				f.logger.Warn("Telemetry read failed", zap.Error(err))
			}
			return
		}

		reports, err := dec.decode(frame)
		if err != nil {
			f.logger.Debug("Skipping telemetry frame", zap.Error(err))
		}
		for _, r := range reports {
			select {
			case out <- r:
			case <-done:
				return
			}
		}
	}
}

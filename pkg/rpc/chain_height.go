package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// ErrInvalidHeight is returned when the node reports a header number that is not
// a non-negative integer.
var ErrInvalidHeight = errors.New("block height is not a number")

// DialFunc connects to one endpoint.
type DialFunc func(ctx context.Context, endpoint string) (Conn, error)

// ChainHeightProvider reads the canonical chain height from the first endpoint
// that accepts a connection.
type ChainHeightProvider struct {
	endpoints []string
	dial      DialFunc
	logger    *zap.Logger
}

// NewChainHeightProvider dials ws(s):// endpoints as websockets and everything
// else as HTTP. A nil dial uses DefaultDial.
func NewChainHeightProvider(endpoints []string, dial DialFunc, logger *zap.Logger) *ChainHeightProvider {
	if dial == nil {
		dial = DefaultDial(nil)
	}
	return &ChainHeightProvider{endpoints: endpoints, dial: dial, logger: logger}
}

// DefaultDial picks the transport from the endpoint scheme.
func DefaultDial(client *http.Client) DialFunc {
	return func(ctx context.Context, endpoint string) (Conn, error) {
		if strings.HasPrefix(endpoint, "ws://") || strings.HasPrefix(endpoint, "wss://") {
			c, err := DialWS(ctx, endpoint)
			if err != nil {
				return nil, err
			}
			return c, nil
		}
		c, err := DialHTTP(ctx, endpoint, client)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

// Connect tries endpoint[i mod N] for i = 0, 1, ... with no backoff and no
// attempt limit. Only ctx ends the loop.
func (p *ChainHeightProvider) Connect(ctx context.Context) (Conn, string, error) {
	if len(p.endpoints) == 0 {
		return nil, "", fmt.Errorf("no rpc endpoints configured")
	}
	for i := 0; ; i++ {
		if err := ctx.Err(); err != nil {
			return nil, "", fmt.Errorf("rpc connect cancelled after %d attempts: %w", i, err)
		}
		ep := p.endpoints[i%len(p.endpoints)]
		c, err := p.dial(ctx, ep)
		if err == nil {
			p.logger.Debug("Connected to rpc endpoint", zap.String("endpoint", ep), zap.Int("attempt", i+1))
			return c, ep, nil
		}
		p.logger.Warn("RPC endpoint unavailable, trying next",
			zap.String("endpoint", ep),
			zap.Int("attempt", i+1),
			zap.Error(err))
	}
}

type header struct {
	Number json.RawMessage `json:"number"`
}

// ChainHeight returns the number of the latest header.
func (p *ChainHeightProvider) ChainHeight(ctx context.Context) (uint64, error) {
	c, ep, err := p.Connect(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = c.Close() }()

	var h header
	if err := c.Call(ctx, "chain_getHeader", nil, &h); err != nil {
		return 0, fmt.Errorf("chain_getHeader on %s: %w", ep, err)
	}
	return ParseBlockNumber(h.Number)
}

// ParseBlockNumber accepts a hex string ("0x1f4"), a decimal string or a JSON integer.
func ParseBlockNumber(raw json.RawMessage) (uint64, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		s = strings.TrimSpace(s)
		var n uint64
		var perr error
		if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
			n, perr = strconv.ParseUint(s[2:], 16, 64)
		} else {
			n, perr = strconv.ParseUint(s, 10, 64)
		}
		if perr != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidHeight, s)
		}
		return n, nil
	}

	var n uint64
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, fmt.Errorf("%w: %s", ErrInvalidHeight, string(raw))
	}
	return n, nil
}

package collator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/canopy-network/collatorx/pkg/secret"
	"github.com/canopy-network/collatorx/pkg/utils"
)

// ErrNoChallenge means the node answered but did not hand out a challenge,
// which happens when it is configured for another network.
var ErrNoChallenge = errors.New("node did not provide a challenge")

// Client calls the control surface of any node of one network.
type Client struct {
	networkName string
	codec       secret.Codec
	client      *http.Client
}

// NewClient builds a client. A nil httpClient gets a 10s timeout.
func NewClient(networkName string, codec secret.Codec, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{networkName: networkName, codec: codec, client: httpClient}
}

// Challenge fetches a fresh one-time challenge from the node at baseURL.
func (c *Client) Challenge(ctx context.Context, baseURL string) (string, error) {
	var out ChallengeResponse
	if err := c.doJSON(ctx, http.MethodGet, baseURL, ChallengePath, nil, &out); err != nil {
		return "", err
	}
	if out.Challenge == "" {
		return "", ErrNoChallenge
	}
	return out.Challenge, nil
}

// IsValidator asks the node whether it is currently in validator mode.
func (c *Client) IsValidator(ctx context.Context, baseURL string) (bool, error) {
	var out ResponseMessage
	if err := c.doJSON(ctx, http.MethodGet, baseURL, IsValidatorPath, nil, &out); err != nil {
		return false, err
	}
	return out.Info == "true", nil
}

// MakeBackup asks the node to stop validating.
func (c *Client) MakeBackup(ctx context.Context, baseURL, challenge string) (*ResponseMessage, error) {
	return c.send(ctx, baseURL, Command{NetworkName: c.networkName, Backup: true, Challenge: challenge})
}

// MakeValidator asks the node to start validating.
func (c *Client) MakeValidator(ctx context.Context, baseURL, challenge string) (*ResponseMessage, error) {
	return c.send(ctx, baseURL, Command{NetworkName: c.networkName, Validate: true, Challenge: challenge})
}

func (c *Client) send(ctx context.Context, baseURL string, cmd Command) (*ResponseMessage, error) {
	blob, err := c.codec.Encrypt(cmd)
	if err != nil {
		return nil, fmt.Errorf("encrypt command: %w", err)
	}
	var out ResponseMessage
	body := FailoverRequest{NetworkName: c.networkName, Blob: blob}
	if err := c.doJSON(ctx, http.MethodPost, baseURL, FailoverPath, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// doJSON sends one request to baseURL+path?networkName=... and decodes the JSON answer into out.
// An empty body is not an error: nodes of another network answer with nothing.
func (c *Client) doJSON(ctx context.Context, method, baseURL, path string, payload any, out any) error {
	u := baseURL + path + "?networkName=" + url.QueryEscape(c.networkName)

	var body io.Reader = http.NoBody
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = utils.DrainAndClose(resp.Body) }()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s: http %d", method, path, resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(raw)) == 0 || out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%s %s: decode: %w", method, path, err)
	}
	return nil
}

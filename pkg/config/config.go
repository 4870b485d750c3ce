// Package config gathers the health-check settings from the environment into one
// struct that is validated before any network activity happens.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/canopy-network/collatorx/pkg/cluster"
	"github.com/canopy-network/collatorx/pkg/utils"
)

const (
	DefaultBlockLagThreshold = 20
	DefaultTelemetryURL      = "wss://feed.telemetry.polkadot.io/feed"
	DefaultTelemetryTimeout  = 20 * time.Second
	DefaultQuietPeriod       = 2 * time.Second
	DefaultRunTimeout        = 5 * time.Minute
	DefaultHTTPTimeout       = 10 * time.Second
	DefaultDemoteDrain       = 5 * time.Second
	DefaultAddr              = ":3002"
)

var (
	ErrMissingNetworkName   = errors.New("NETWORK_NAME is required")
	ErrNoNodes              = errors.New("NODE_NETWORK_IDS is required")
	ErrNodeListMismatch     = errors.New("NODE_NETWORK_IDS and NODE_URLS must have the same length")
	ErrMissingTelemetryHash = errors.New("NETWORK_TELEMETRY_HASH is required")
	ErrNoRPCEndpoints       = errors.New("RPC_ENDPOINTS is required")
	ErrMissingSecretKey     = errors.New("SECRET_KEY is required")
)

// Config is the validated configuration of one health-check pass.
type Config struct {
	NetworkName       string
	ForceFail         bool
	BlockLagThreshold uint64

	NodeNetworkIDs []string
	NodeURLs       []string

	TelemetryURL     string
	TelemetryHash    string
	TelemetryTimeout time.Duration
	QuietPeriod      time.Duration

	RPCEndpoints []string

	SecretKey string

	RunTimeout   time.Duration
	HTTPTimeout  time.Duration
	DemoteDrain  time.Duration
	CronSpec     string
	Addr         string
	RedisChannel string
	WebhookURL   string
}

// FromEnv reads the configuration without validating it.
func FromEnv() *Config {
	return &Config{
		NetworkName:       utils.Env("NETWORK_NAME", ""),
		ForceFail:         utils.EnvBool("FORCE_FAIL", false),
		BlockLagThreshold: uint64(utils.EnvInt("BLOCK_LAG_THRESHOLD", DefaultBlockLagThreshold)),
		NodeNetworkIDs:    utils.EnvList("NODE_NETWORK_IDS"),
		NodeURLs:          utils.EnvList("NODE_URLS"),
		TelemetryURL:      utils.Env("TELEMETRY_URL", DefaultTelemetryURL),
		TelemetryHash:     utils.Env("NETWORK_TELEMETRY_HASH", ""),
		TelemetryTimeout:  utils.EnvDuration("TELEMETRY_TIMEOUT", DefaultTelemetryTimeout),
		QuietPeriod:       utils.EnvDuration("TELEMETRY_QUIET_PERIOD", DefaultQuietPeriod),
		RPCEndpoints:      utils.Dedup(utils.EnvList("RPC_ENDPOINTS")),
		SecretKey:         utils.Env("SECRET_KEY", ""),
		RunTimeout:        utils.EnvDuration("RUN_TIMEOUT", DefaultRunTimeout),
		HTTPTimeout:       utils.EnvDuration("HTTP_TIMEOUT", DefaultHTTPTimeout),
		DemoteDrain:       utils.EnvDuration("DEMOTE_DRAIN_TIMEOUT", DefaultDemoteDrain),
		CronSpec:          utils.Env("CRON_SPEC", ""),
		Addr:              utils.Env("ADDR", DefaultAddr),
		RedisChannel:      utils.Env("NOTIFY_REDIS_CHANNEL", ""),
		WebhookURL:        utils.Env("NOTIFY_WEBHOOK_URL", ""),
	}
}

// Load reads and validates the configuration.
func Load() (*Config, error) {
	cfg := FromEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required settings and list alignment.
func (c *Config) Validate() error {
	if c.NetworkName == "" {
		return ErrMissingNetworkName
	}
	if len(c.NodeNetworkIDs) == 0 {
		return ErrNoNodes
	}
	if len(c.NodeURLs) != len(c.NodeNetworkIDs) {
		return fmt.Errorf("%w: %d ids, %d urls", ErrNodeListMismatch, len(c.NodeNetworkIDs), len(c.NodeURLs))
	}
	if c.TelemetryHash == "" {
		return ErrMissingTelemetryHash
	}
	if len(c.RPCEndpoints) == 0 {
		return ErrNoRPCEndpoints
	}
	if c.SecretKey == "" {
		return ErrMissingSecretKey
	}
	if _, err := c.Registry(); err != nil {
		return err
	}
	return nil
}

// Registry builds the ordered node registry. Order is failover priority.
func (c *Config) Registry() (*cluster.Registry, error) {
	return cluster.NewRegistry(c.NodeNetworkIDs, c.NodeURLs)
}

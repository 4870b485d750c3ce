package nodecontrol

import (
	"errors"
	"time"

	"github.com/canopy-network/collatorx/pkg/utils"
)

const (
	DefaultChallengeTTL = 2 * time.Minute
	DefaultJobTimeout   = 2 * time.Minute
)

var (
	ErrMissingNetworkName = errors.New("NETWORK_NAME is required")
	ErrMissingSecretKey   = errors.New("SECRET_KEY is required")
	ErrMissingUnits       = errors.New("COLLATOR_SERVICE and COLLATOR_SERVICE_BACKUP are required")
)

// Config of the node control service.
type Config struct {
	NetworkName string
	// Addr is <ip>:<port> to bind to a specific interface or :<port> for all of them.
	Addr string

	SecretKey string
	// ChallengeSecret signs challenges. Empty means a random per-process key.
	ChallengeSecret string
	ChallengeTTL    time.Duration

	ValidatorUnit string
	BackupUnit    string
	JobTimeout    time.Duration
}

// LoadConfig reads and validates the environment. PORT is honoured when ADDR is unset.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		NetworkName:     utils.Env("NETWORK_NAME", ""),
		Addr:            utils.Env("ADDR", ":"+utils.Env("PORT", "3005")),
		SecretKey:       utils.Env("SECRET_KEY", ""),
		ChallengeSecret: utils.Env("CHALLENGE_SECRET", ""),
		ChallengeTTL:    utils.EnvDuration("CHALLENGE_TTL", DefaultChallengeTTL),
		ValidatorUnit:   utils.Env("COLLATOR_SERVICE", ""),
		BackupUnit:      utils.Env("COLLATOR_SERVICE_BACKUP", ""),
		JobTimeout:      utils.EnvDuration("UNIT_JOB_TIMEOUT", DefaultJobTimeout),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch {
	case c.NetworkName == "":
		return ErrMissingNetworkName
	case c.SecretKey == "":
		return ErrMissingSecretKey
	case c.ValidatorUnit == "" || c.BackupUnit == "":
		return ErrMissingUnits
	}
	return nil
}

// Package collator speaks the per-node control surface that every collator host
// exposes: challenge issuance, role query and encrypted role-change commands.
package collator

// Control surface paths. Every request carries ?networkName=<name>.
const (
	ChallengePath   = "/challenge"
	IsValidatorPath = "/is-validator"
	FailoverPath    = "/failover"
)

// Info values returned after a successful role change.
const (
	InfoNowValidator = "IS_NOW_VALIDATOR"
	InfoNowBackup    = "IS_NOW_BACKUP"
)

// Command is the plaintext of a failover blob. Exactly one of Validate or Backup is set.
type Command struct {
	NetworkName string `json:"networkName"`
	Validate    bool   `json:"validate,omitempty"`
	Backup      bool   `json:"backup,omitempty"`
	Challenge   string `json:"challenge"`
}

// FailoverRequest is the POST /failover body.
type FailoverRequest struct {
	NetworkName string `json:"networkName"`
	Blob        string `json:"blob"`
}

// ResponseMessage answers /is-validator and /failover.
type ResponseMessage struct {
	Status string `json:"status"`
	Info   string `json:"info"`
}

// ChallengeResponse answers /challenge.
type ChallengeResponse struct {
	Challenge string `json:"challenge"`
}

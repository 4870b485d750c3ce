// Package failover decides, once per pass, whether the cluster's validator role
// has to move to another collator, and carries the move out.
package failover

import (
	"context"
	"errors"

	"github.com/canopy-network/collatorx/pkg/cluster"
	"github.com/canopy-network/collatorx/pkg/collator"
)

var (
	// ErrNoHealthyBackup stops the pass before any role change: no node can take over.
	ErrNoHealthyBackup = errors.New("no healthy backup")
	// ErrMultipleActiveNodes is an anomaly left to the operator.
	ErrMultipleActiveNodes = errors.New("more than 1 validator nodes detected")
)

// NodeClient is the control surface of the collator hosts.
type NodeClient interface {
	Challenge(ctx context.Context, baseURL string) (string, error)
	IsValidator(ctx context.Context, baseURL string) (bool, error)
	MakeBackup(ctx context.Context, baseURL, challenge string) (*collator.ResponseMessage, error)
	MakeValidator(ctx context.Context, baseURL, challenge string) (*collator.ResponseMessage, error)
}

// Action is what a pass ended up doing.
type Action int

const (
	ActionNone Action = iota
	// ActionPromoted: no node was validating, the backup was promoted.
	ActionPromoted
	// ActionFailedOver: the active node was demoted and the backup promoted.
	ActionFailedOver
	// ActionMultipleActive: anomaly reported, nothing changed.
	ActionMultipleActive
)

func (a Action) String() string {
	switch a {
	case ActionPromoted:
		return "promoted"
	case ActionFailedOver:
		return "failed_over"
	case ActionMultipleActive:
		return "multiple_active"
	default:
		return "none"
	}
}

// Decision is the outcome of one engine pass.
type Decision struct {
	Action      Action
	ChainHeight uint64
	LagFloor    uint64
	ActiveCount int
	// ForceFail is set when the pass ran with every node treated as unhealthy.
	ForceFail bool

	Backup  *cluster.State
	Demoted *cluster.State
	// Lagging lists non-active nodes found unhealthy; they only raise alerts.
	Lagging []*cluster.State
}

// LagFloor is the lowest height still considered in sync.
func LagFloor(height, threshold uint64) uint64 {
	if threshold >= height {
		return 0
	}
	return height - threshold
}

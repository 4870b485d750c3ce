package failover

import (
	"context"
	"fmt"

	"github.com/canopy-network/collatorx/pkg/cluster"
	"go.uber.org/zap"
)

// Policy holds the knobs of the decision.
type Policy struct {
	LagThreshold uint64
	ForceFail    bool
}

// Engine runs one failover decision over a telemetry snapshot.
type Engine struct {
	prober   *Prober
	executor *Executor
	logger   *zap.Logger
	policy   Policy
}

func NewEngine(prober *Prober, executor *Executor, logger *zap.Logger, policy Policy) *Engine {
	return &Engine{prober: prober, executor: executor, logger: logger, policy: policy}
}

// Run selects a backup, counts validators and acts on the result. The returned
// decision is non-nil whenever the pass got as far as selection, including
// failed passes, so lagging nodes can still be reported.
func (e *Engine) Run(ctx context.Context, states *cluster.States, height uint64) (*Decision, error) {
	d := &Decision{
		ChainHeight: height,
		LagFloor:    LagFloor(height, e.policy.LagThreshold),
		ForceFail:   e.policy.ForceFail,
	}

	backup := e.selectBackup(ctx, states, d.LagFloor)
	if err := ctx.Err(); err != nil {
		return d, err
	}
	if backup == nil {
		return d, ErrNoHealthyBackup
	}
	d.Backup = backup
	e.logger.Info("Backup candidate selected", zap.Object("node", backup))

	d.ActiveCount = e.prober.ProbeRoles(ctx, states)
	// unanswered probes would otherwise read as "no validator"
	if err := ctx.Err(); err != nil {
		return d, err
	}
	e.logger.Info("Validator nodes detected", zap.Int("count", d.ActiveCount))

	switch {
	case d.ActiveCount > 1:
		d.Action = ActionMultipleActive
		return d, ErrMultipleActiveNodes

	case d.ActiveCount == 0:
		if err := e.executor.Promote(ctx, backup); err != nil {
			return d, err
		}
		d.Action = ActionPromoted
		return d, nil
	}

	for _, st := range states.Ordered() {
		if !e.unhealthy(st, d.LagFloor) {
			continue
		}
		if !st.IsActive() {
			e.logger.Warn("Node not found on telemetry or is lagging", zap.Object("node", st))
			d.Lagging = append(d.Lagging, st)
			continue
		}
		if st == backup {
			e.logger.Error("Backup candidate is the failing validator", zap.Object("node", st))
			return d, fmt.Errorf("%w: candidate %s is the active node", ErrNoHealthyBackup, st.Label())
		}

		e.logger.Warn("Validator unhealthy, failing over",
			zap.Object("from", st),
			zap.Object("to", backup),
			zap.Bool("force_fail", e.policy.ForceFail))
		e.executor.Demote(ctx, st)
		if err := e.executor.Promote(ctx, backup); err != nil {
			return d, err
		}
		d.Action = ActionFailedOver
		d.Demoted = st
		return d, nil
	}

	e.logger.Info("All validators healthy, no action")
	return d, nil
}

// selectBackup walks nodes in priority order. Every node gets a fresh challenge,
// since a later demote needs it. The first node with a challenge and a fresh
// height that does not report itself as validating wins.
func (e *Engine) selectBackup(ctx context.Context, states *cluster.States, floor uint64) *cluster.State {
	var backup *cluster.State
	for _, st := range states.Ordered() {
		if ctx.Err() != nil {
			return nil
		}
		if !e.prober.Challenge(ctx, st) {
			continue
		}
		if backup != nil {
			continue
		}
		if !st.HasHeight() || *st.Height < floor {
			e.logger.Debug("Not eligible as backup, lagging", zap.Object("node", st), zap.Uint64("floor", floor))
			continue
		}
		active, ok := e.prober.Role(ctx, st)
		if ok {
			st.Active = &active
		}
		if active {
			continue
		}
		backup = st
	}
	return backup
}

func (e *Engine) unhealthy(st *cluster.State, floor uint64) bool {
	e.logger.Debug("Compare block heights", zap.Object("node", st), zap.Uint64("floor", floor))
	if e.policy.ForceFail {
		return true
	}
	return !st.HasHeight() || *st.Height < floor
}

package healthcheck

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/canopy-network/collatorx/pkg/cluster"
	"github.com/canopy-network/collatorx/pkg/failover"
	"github.com/canopy-network/collatorx/pkg/notify"
	"github.com/canopy-network/collatorx/pkg/rpc"
	"github.com/canopy-network/collatorx/pkg/telemetry"
	"go.uber.org/zap"
)

// OutcomeFailed marks a pass that ended on an error.
const OutcomeFailed = "failed"

// RunReport summarizes one pass.
type RunReport struct {
	Network     string    `json:"network"`
	Outcome     string    `json:"outcome"`
	Error       string    `json:"error,omitempty"`
	ChainHeight uint64    `json:"chain_height,omitempty"`
	Backup      string    `json:"backup,omitempty"`
	Demoted     string    `json:"demoted,omitempty"`
	Lagging     []string  `json:"lagging,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	Duration    string    `json:"duration"`
}

// LastReport returns the report of the most recent pass, or nil.
func (a *App) LastReport() *RunReport { return a.last.Load() }

// RunOnce executes one failover pass bounded by RUN_TIMEOUT. It never panics
// and never returns an error: every failure is logged and notified exactly once.
func (a *App) RunOnce(ctx context.Context) (report *RunReport) {
	started := time.Now()
	report = &RunReport{Network: a.Config.NetworkName, StartedAt: started}

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic: %v", r)
			a.Logger.Error("Failover pass panicked", zap.Any("panic", r), zap.Stack("stack"))
			report.Outcome = OutcomeFailed
			report.Error = err.Error()
			a.notify(ctx, a.runFailed(err))
		}
		if a.Drainer != nil && !a.Drainer.Wait(a.Config.DemoteDrain) {
			a.Logger.Warn("Demote still in flight after drain timeout", zap.Duration("timeout", a.Config.DemoteDrain))
		}
		report.Duration = time.Since(started).String()
		a.last.Store(report)
	}()

	runCtx, cancel := context.WithTimeout(ctx, a.Config.RunTimeout)
	defer cancel()

	decision, err := a.pass(runCtx)
	a.fill(report, decision, err)
	a.publish(ctx, decision, err)
	return report
}

func (a *App) pass(ctx context.Context) (*failover.Decision, error) {
	states := cluster.NewStates(a.Registry)

	snapshot, err := a.Telemetry.Collect(ctx, a.Registry.NetworkIDs())
	if err != nil {
		return nil, err
	}
	snapshot.Apply(states)
	a.Logger.Info("Telemetry collected", zap.Int("seen", len(snapshot)), zap.Array("nodes", states))

	height, err := a.Chain.ChainHeight(ctx)
	if err != nil {
		return nil, err
	}
	a.Logger.Info("Chain height", zap.Uint64("height", height))

	return a.Engine.Run(ctx, states, height)
}

func (a *App) fill(report *RunReport, d *failover.Decision, err error) {
	if d != nil {
		report.Outcome = d.Action.String()
		report.ChainHeight = d.ChainHeight
		if d.Backup != nil {
			report.Backup = d.Backup.Label()
		}
		if d.Demoted != nil {
			report.Demoted = d.Demoted.Label()
		}
		for _, st := range d.Lagging {
			report.Lagging = append(report.Lagging, st.Label())
		}
	}
	if err != nil {
		report.Error = err.Error()
		if !errors.Is(err, failover.ErrMultipleActiveNodes) {
			report.Outcome = OutcomeFailed
		}
	}
}

// publish sends the health alerts of the pass followed by at most one outcome message.
func (a *App) publish(ctx context.Context, d *failover.Decision, err error) {
	if d != nil {
		for _, st := range d.Lagging {
			a.notify(ctx, a.message(notify.LevelWarn, notify.EventHealthAlert, laggingText(d, st), st.Label()))
		}
	}

	if err != nil {
		a.notify(ctx, a.failure(err))
		return
	}
	if d == nil || d.Backup == nil {
		return
	}
	switch d.Action {
	case failover.ActionPromoted, failover.ActionFailedOver:
		a.notify(ctx, a.message(notify.LevelInfo, notify.EventFailoverCompleted, "Failover completed", d.Backup.Label()))
	}
}

// laggingText names the reason a node was reported. A node that is in sync
// only shows up under force-fail.
func laggingText(d *failover.Decision, st *cluster.State) string {
	if d.ForceFail && st.HasHeight() && *st.Height >= d.LagFloor {
		return fmt.Sprintf("Node %s flagged unhealthy by force-fail", st.Label())
	}
	return fmt.Sprintf("Node %s not found on telemetry or is lagging", st.Label())
}

func (a *App) failure(err error) notify.Message {
	switch {
	case errors.Is(err, telemetry.ErrTelemetryTimeout):
		return a.message(notify.LevelError, notify.EventTelemetryTimeout, "Telemetry timed out or 0 nodes", "")
	case errors.Is(err, rpc.ErrInvalidHeight):
		return a.message(notify.LevelError, notify.EventInvalidHeight, "Block height is not a number", "")
	case errors.Is(err, failover.ErrNoHealthyBackup):
		return a.message(notify.LevelError, notify.EventNoHealthyBackup, "No healthy backup", "")
	case errors.Is(err, failover.ErrMultipleActiveNodes):
		return a.message(notify.LevelWarn, notify.EventMultipleActive, "More than 1 validator nodes detected", "")
	default:
		return a.runFailed(err)
	}
}

func (a *App) runFailed(err error) notify.Message {
	return a.message(notify.LevelError, notify.EventRunFailed,
		fmt.Sprintf("Error in %s failover run: %v", a.Config.NetworkName, err), "")
}

func (a *App) message(level notify.Level, event notify.Event, text, node string) notify.Message {
	return notify.Message{
		Network: a.Config.NetworkName,
		Level:   level,
		Event:   event,
		Text:    text,
		Node:    node,
		Time:    time.Now().UTC(),
	}
}

// notify delivers msg even when the pass context is already done. Delivery
// failures never change the pass outcome.
func (a *App) notify(ctx context.Context, msg notify.Message) {
	if a.Notifier == nil {
		return
	}
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.Config.HTTPTimeout)
	defer cancel()
	if err := a.Notifier.Notify(nctx, msg); err != nil {
		a.Logger.Warn("Notification delivery failed", zap.String("event", string(msg.Event)), zap.Error(err))
	}
}

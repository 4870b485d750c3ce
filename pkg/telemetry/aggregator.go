package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/canopy-network/collatorx/pkg/retry"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

const (
	DefaultTimeout     = 20 * time.Second
	DefaultQuietPeriod = 2 * time.Second
)

// Options tune an Aggregator. Zero values pick the defaults.
type Options struct {
	Timeout     time.Duration
	QuietPeriod time.Duration
	Clock       clockwork.Clock
	Reconnect   *retry.Config
}

// Aggregator turns an open-ended feed into a snapshot. The feed never says
// "done", so completion is declared after QuietPeriod without reports, raced
// against the absolute Timeout.
type Aggregator struct {
	feed      Feed
	logger    *zap.Logger
	clock     clockwork.Clock
	timeout   time.Duration
	quiet     time.Duration
	reconnect retry.Config
}

// NewAggregator returns an aggregator that owns feed for the duration of each Collect.
func NewAggregator(feed Feed, logger *zap.Logger, o Options) *Aggregator {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.QuietPeriod <= 0 {
		o.QuietPeriod = DefaultQuietPeriod
	}
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
	rc := retry.ReconnectConfig()
	if o.Reconnect != nil {
		rc = *o.Reconnect
	}
	return &Aggregator{
		feed:      feed,
		logger:    logger,
		clock:     o.Clock,
		timeout:   o.Timeout,
		quiet:     o.QuietPeriod,
		reconnect: rc,
	}
}

// Collect gathers the latest report per expected network id. Reports for other
// ids still count as traffic. It fails with ErrTelemetryTimeout when the hard
// timeout fires first or nothing was received at all. The feed is closed on return.
func (a *Aggregator) Collect(ctx context.Context, expected []string) (Snapshot, error) {
	want := make(map[string]struct{}, len(expected))
	for _, id := range expected {
		want[id] = struct{}{}
	}

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	hard := a.clock.NewTimer(a.timeout)
	defer hard.Stop()
	go func() {
		select {
		case <-hard.Chan():
			cancel(ErrTelemetryTimeout)
		case <-runCtx.Done():
		}
	}()

	defer func() {
		if err := a.feed.Close(); err != nil {
			a.logger.Debug("Closing telemetry feed", zap.Error(err))
		}
	}()

	reports, err := a.open(runCtx)
	if err != nil {
		return nil, err
	}

	snapshot := Snapshot{}
	received := 0
	// consecutive sessions that ended without delivering a report
	hangups := 0
	sessionEmpty := true
	var idle clockwork.Timer
	var idleC <-chan time.Time
	defer func() {
		if idle != nil {
			idle.Stop()
		}
	}()

	for {
		select {
		case <-runCtx.Done():
			return nil, a.failure(runCtx, received)

		case <-idleC:
			a.logger.Info("Finished getting node data from telemetry",
				zap.Int("reports", received),
				zap.Int("nodes", len(snapshot)))
			return snapshot, nil

		case r, ok := <-reports:
			if !ok {
				a.logger.Warn("Telemetry feed disconnected, reconnecting", zap.Int("reports_so_far", received))
				_ = a.feed.Close()
				if sessionEmpty {
					hangups++
					if !a.pause(runCtx, hangups) {
						return nil, a.failure(runCtx, received)
					}
				} else {
					hangups = 0
				}
				if reports, err = a.open(runCtx); err != nil {
					return nil, a.failure(runCtx, received)
				}
				sessionEmpty = true
				continue
			}

			received++
			sessionEmpty = false
			if _, ok := want[r.NetworkID]; ok && r.Valid() {
				snapshot[r.NetworkID] = Observation{Height: uint64(r.Block), Name: r.NodeName}
			}

			if idle == nil {
				idle = a.clock.NewTimer(a.quiet)
				idleC = idle.Chan()
			} else {
				idle.Reset(a.quiet)
			}
		}
	}
}

// open connects the feed, retrying until runCtx ends.
func (a *Aggregator) open(runCtx context.Context) (<-chan Report, error) {
	var reports <-chan Report
	err := retry.WithBackoff(runCtx, a.reconnect, a.logger, "telemetry connect", func() error {
		ch, err := a.feed.Open(runCtx)
		if err != nil {
			_ = a.feed.Close()
			return err
		}
		reports = ch
		return nil
	})
	if err != nil {
		if cause := context.Cause(runCtx); cause != nil {
			return nil, cause
		}
		return nil, err
	}
	a.logger.Debug("Telemetry feed connected")
	return reports, nil
}

// pause waits out the reconnect backoff for attempt. It reports false when
// runCtx ended first.
func (a *Aggregator) pause(runCtx context.Context, attempt int) bool {
	delay := retry.Backoff(a.reconnect, attempt)
	a.logger.Debug("Telemetry feed closed without reports, backing off",
		zap.Int("attempt", attempt),
		zap.Duration("retry_in", delay))

	t := a.clock.NewTimer(delay)
	defer t.Stop()
	select {
	case <-runCtx.Done():
		return false
	case <-t.Chan():
		return true
	}
}

func (a *Aggregator) failure(runCtx context.Context, received int) error {
	cause := context.Cause(runCtx)
	if errors.Is(cause, ErrTelemetryTimeout) {
		a.logger.Error("Telemetry connection timed out or zero nodes found",
			zap.Int("reports", received),
			zap.Duration("timeout", a.timeout))
		return ErrTelemetryTimeout
	}
	return fmt.Errorf("telemetry collection aborted: %w", cause)
}

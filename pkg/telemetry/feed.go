// Package telemetry collects per-node block heights from a substrate telemetry
// feed into a point-in-time snapshot.
package telemetry

import (
	"context"
	"errors"

	"github.com/canopy-network/collatorx/pkg/cluster"
)

// ErrTelemetryTimeout is returned when the feed produced no data, or never went
// quiet, before the absolute collection timeout.
var ErrTelemetryTimeout = errors.New("telemetry timed out or 0 nodes")

// Report is one block-height observation pushed by the feed.
type Report struct {
	NetworkID string
	NodeName  string
	// Block is negative when the feed sent something that is not a height.
	Block int64
}

// Valid reports whether Block is a usable height.
func (r Report) Valid() bool { return r.Block >= 0 }

// Feed is a push subscription owned by one aggregator at a time.
//
// Open connects and subscribes; the returned channel is closed by the feed when
// the transport errors or is closed. Close releases the current connection and
// may be followed by another Open.
type Feed interface {
	Open(ctx context.Context) (<-chan Report, error)
	Close() error
}

// Observation is the latest height and display name seen for a node.
type Observation struct {
	Height uint64
	Name   string
}

// Snapshot maps network id to its latest observation.
type Snapshot map[string]Observation

// Apply copies the snapshot into the run's node states.
func (s Snapshot) Apply(states *cluster.States) {
	for id, o := range s {
		states.Observe(id, o.Height, o.Name)
	}
}

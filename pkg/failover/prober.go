package failover

import (
	"context"
	"errors"

	"github.com/alitto/pond/v2"
	"github.com/canopy-network/collatorx/pkg/cluster"
	"go.uber.org/zap"
)

const defaultProbeWorkers = 8

// Prober fills in challenge tokens and validator flags. Failures never
// propagate: an unanswered probe leaves the field unset and the node is
// treated as unreachable.
type Prober struct {
	client  NodeClient
	logger  *zap.Logger
	workers int
}

func NewProber(client NodeClient, logger *zap.Logger, workers int) *Prober {
	if workers <= 0 {
		workers = defaultProbeWorkers
	}
	return &Prober{client: client, logger: logger, workers: workers}
}

// Challenge fetches a fresh token into st. It reports whether one was obtained.
func (p *Prober) Challenge(ctx context.Context, st *cluster.State) bool {
	st.Challenge = ""
	challenge, err := p.client.Challenge(ctx, st.URL)
	if err != nil {
		p.logger.Warn("Did not provide a valid challenge code",
			zap.String("node", st.Label()),
			zap.String("url", st.URL),
			zap.Error(err))
		return false
	}
	st.Challenge = challenge
	return true
}

// Role queries one node. ok is false when the node did not answer.
func (p *Prober) Role(ctx context.Context, st *cluster.State) (active, ok bool) {
	active, err := p.client.IsValidator(ctx, st.URL)
	if err != nil {
		p.logger.Warn("Validator status query failed, node presumed offline",
			zap.String("node", st.Label()),
			zap.Error(err))
		return false, false
	}
	return active, true
}

// ProbeRoles queries every node concurrently and records the answers. Nodes
// that do not answer keep an unknown flag. It returns how many report active.
func (p *Prober) ProbeRoles(ctx context.Context, states *cluster.States) int {
	list := states.Ordered()
	results := make([]*bool, len(list))

	pool := pond.NewPool(p.workers)
	defer pool.StopAndWait()
	group := pool.NewGroupContext(ctx)
	groupCtx := group.Context()

	for i, st := range list {
		group.Submit(func() {
			if groupCtx.Err() != nil {
				return
			}
			if active, ok := p.Role(groupCtx, st); ok {
				results[i] = &active
			}
		})
	}
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, pond.ErrGroupStopped) {
		p.logger.Warn("Some validator status probes failed", zap.Error(err))
	}

	count := 0
	for i, st := range list {
		st.Active = results[i]
		if st.IsActive() {
			count++
		}
	}
	return count
}

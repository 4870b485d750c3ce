package failover

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/canopy-network/collatorx/pkg/cluster"
	"go.uber.org/zap"
)

const defaultDemoteTimeout = 10 * time.Second

// Executor sends role-change commands.
type Executor struct {
	client        NodeClient
	logger        *zap.Logger
	demoteTimeout time.Duration

	inflight sync.WaitGroup
}

func NewExecutor(client NodeClient, logger *zap.Logger, demoteTimeout time.Duration) *Executor {
	if demoteTimeout <= 0 {
		demoteTimeout = defaultDemoteTimeout
	}
	return &Executor{client: client, logger: logger, demoteTimeout: demoteTimeout}
}

// Demote asks st to become a backup without waiting for the result. The node
// may well be unreachable; the outcome is only logged. Wait flushes in-flight
// demotes before exit.
func (e *Executor) Demote(ctx context.Context, st *cluster.State) {
	node, url, challenge := st.Label(), st.URL, st.Challenge
	ctx = context.WithoutCancel(ctx)

	e.inflight.Add(1)
	go func() {
		defer e.inflight.Done()
		dctx, cancel := context.WithTimeout(ctx, e.demoteTimeout)
		defer cancel()

		if _, err := e.client.MakeBackup(dctx, url, challenge); err != nil {
			e.logger.Debug("Demote request not acknowledged", zap.String("node", node), zap.Error(err))
			return
		}
		e.logger.Info("Demoted node to backup", zap.String("node", node))
	}()
}

// Promote asks st to start validating. Its failure may leave the cluster with
// no validator, so it is returned to the caller.
func (e *Executor) Promote(ctx context.Context, st *cluster.State) error {
	res, err := e.client.MakeValidator(ctx, st.URL, st.Challenge)
	if err != nil {
		return fmt.Errorf("promote %s: %w", st.Label(), err)
	}
	info := ""
	if res != nil {
		info = res.Info
	}
	e.logger.Info("Failover completed", zap.String("node", st.Label()), zap.String("info", info))
	return nil
}

// Wait blocks until in-flight demotes finish or timeout elapses. It reports
// whether everything finished.
func (e *Executor) Wait(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		e.inflight.Wait()
		close(done)
	}()
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-done:
		return true
	case <-t.C:
		return false
	}
}

package telemetry

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/canopy-network/collatorx/pkg/cluster"
	"github.com/canopy-network/collatorx/pkg/retry"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type feedSession struct {
	reports []Report
	gap     time.Duration
	hangUp  bool
}

// scriptedFeed plays one session per successful Open.
type scriptedFeed struct {
	mu       sync.Mutex
	sessions []feedSession
	openErrs int
	attempts int
	opens    int
	closes   int
	stop     chan struct{}
}

func (f *scriptedFeed) Open(context.Context) (<-chan Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if f.openErrs > 0 {
		f.openErrs--
		return nil, errors.New("connection refused")
	}

	var s feedSession
	if f.opens < len(f.sessions) {
		s = f.sessions[f.opens]
	}
	f.opens++

	ch := make(chan Report)
	stop := make(chan struct{})
	f.stop = stop
	go func() {
		for _, r := range s.reports {
			if s.gap > 0 {
				time.Sleep(s.gap)
			}
			select {
			case ch <- r:
			case <-stop:
				return
			}
		}
		if s.hangUp {
			close(ch)
		}
	}()
	return ch, nil
}

func (f *scriptedFeed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	if f.stop != nil {
		close(f.stop)
		f.stop = nil
	}
	return nil
}

func fastReconnect() *retry.Config {
	return &retry.Config{InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}
}

func TestCollectLastWriteWinsAndFiltersUnknown(t *testing.T) {
	feed := &scriptedFeed{sessions: []feedSession{{reports: []Report{
		{NetworkID: "A", NodeName: "collator-a", Block: 100},
		{NetworkID: "B", NodeName: "collator-b", Block: 90},
		{NetworkID: "X", NodeName: "stranger", Block: 5},
		{NetworkID: "A", NodeName: "collator-a", Block: 101},
		{NetworkID: "B", NodeName: "collator-b", Block: -1},
	}}}}

	agg := NewAggregator(feed, zaptest.NewLogger(t), Options{Timeout: 2 * time.Second, QuietPeriod: 100 * time.Millisecond})
	snap, err := agg.Collect(context.Background(), []string{"A", "B", "C"})
	require.NoError(t, err)

	require.Equal(t, Snapshot{
		"A": {Height: 101, Name: "collator-a"},
		"B": {Height: 90, Name: "collator-b"},
	}, snap)
	require.GreaterOrEqual(t, feed.closes, 1, "feed is closed on completion")
}

func TestCollectTimesOutWithoutReports(t *testing.T) {
	clock := clockwork.NewFakeClock()
	feed := &scriptedFeed{}
	agg := NewAggregator(feed, zaptest.NewLogger(t), Options{Timeout: 20 * time.Second, QuietPeriod: 2 * time.Second, Clock: clock})

	errCh := make(chan error, 1)
	go func() {
		_, err := agg.Collect(context.Background(), []string{"A"})
		errCh <- err
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(20 * time.Second)

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, ErrTelemetryTimeout)
	case <-ctx.Done():
		t.Fatal("collect did not return after the hard timeout")
	}
	require.Equal(t, 1, feed.closes)
}

func TestCollectTimesOutWhenFeedNeverGoesQuiet(t *testing.T) {
	reports := make([]Report, 100)
	for i := range reports {
		reports[i] = Report{NetworkID: "A", Block: int64(i)}
	}
	feed := &scriptedFeed{sessions: []feedSession{{reports: reports, gap: 10 * time.Millisecond}}}

	agg := NewAggregator(feed, zaptest.NewLogger(t), Options{Timeout: 250 * time.Millisecond, QuietPeriod: 150 * time.Millisecond})
	_, err := agg.Collect(context.Background(), []string{"A"})
	require.ErrorIs(t, err, ErrTelemetryTimeout)
}

func TestCollectSurvivesDisconnect(t *testing.T) {
	feed := &scriptedFeed{
		sessions: []feedSession{
			{reports: []Report{{NetworkID: "A", NodeName: "a", Block: 100}}, hangUp: true},
			{reports: []Report{{NetworkID: "B", NodeName: "b", Block: 98}}},
		},
		openErrs: 0,
	}

	agg := NewAggregator(feed, zaptest.NewLogger(t), Options{
		Timeout:     2 * time.Second,
		QuietPeriod: 200 * time.Millisecond,
		Reconnect:   fastReconnect(),
	})
	snap, err := agg.Collect(context.Background(), []string{"A", "B"})
	require.NoError(t, err)
	require.Equal(t, uint64(100), snap["A"].Height)
	require.Equal(t, uint64(98), snap["B"].Height)
	require.Equal(t, 2, feed.opens)
}

// hangupFeed accepts every connection and closes it straight away.
type hangupFeed struct {
	opens atomic.Int64
}

func (f *hangupFeed) Open(context.Context) (<-chan Report, error) {
	f.opens.Add(1)
	ch := make(chan Report)
	close(ch)
	return ch, nil
}

func (f *hangupFeed) Close() error { return nil }

func TestCollectBacksOffWhenFeedKeepsHangingUp(t *testing.T) {
	feed := &hangupFeed{}
	agg := NewAggregator(feed, zaptest.NewLogger(t), Options{
		Timeout:     200 * time.Millisecond,
		QuietPeriod: 50 * time.Millisecond,
		Reconnect:   &retry.Config{InitialDelay: 10 * time.Millisecond, MaxDelay: 50 * time.Millisecond, Multiplier: 2},
	})

	_, err := agg.Collect(context.Background(), []string{"A"})
	require.ErrorIs(t, err, ErrTelemetryTimeout)
	// 10+20+40+50+50... fits roughly seven reconnects into 200ms
	require.Less(t, feed.opens.Load(), int64(15))
	require.GreaterOrEqual(t, feed.opens.Load(), int64(2))
}

func TestCollectRetriesInitialConnect(t *testing.T) {
	feed := &scriptedFeed{
		sessions: []feedSession{{reports: []Report{{NetworkID: "A", Block: 7}}}},
		openErrs: 2,
	}

	agg := NewAggregator(feed, zaptest.NewLogger(t), Options{
		Timeout:     2 * time.Second,
		QuietPeriod: 50 * time.Millisecond,
		Reconnect:   fastReconnect(),
	})
	snap, err := agg.Collect(context.Background(), []string{"A"})
	require.NoError(t, err)
	require.Equal(t, uint64(7), snap["A"].Height)
	require.Equal(t, 3, feed.attempts)
}

func TestCollectHonoursParentCancellation(t *testing.T) {
	feed := &scriptedFeed{}
	agg := NewAggregator(feed, zaptest.NewLogger(t), Options{Timeout: time.Minute})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := agg.Collect(ctx, []string{"A"})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.NotErrorIs(t, err, ErrTelemetryTimeout)
}

func TestSnapshotApply(t *testing.T) {
	reg, err := cluster.NewRegistry([]string{"A", "B"}, []string{"u1", "u2"})
	require.NoError(t, err)
	states := cluster.NewStates(reg)

	Snapshot{"A": {Height: 10, Name: "a"}, "Z": {Height: 1}}.Apply(states)

	require.Equal(t, uint64(10), *states.Get("A").Height)
	require.Equal(t, "a", states.Get("A").Name)
	require.False(t, states.Get("B").HasHeight())
	require.Equal(t, 2, states.Len())
}

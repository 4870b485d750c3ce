package nodecontrol

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/coreos/go-systemd/v22/dbus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// fakeUnits mimics systemd for two conflicting units.
type fakeUnits struct {
	sub    map[string]string
	result string
	jobs   []string
	closed int
}

func (f *fakeUnits) ListUnitsByNamesContext(_ context.Context, units []string) ([]dbus.UnitStatus, error) {
	var out []dbus.UnitStatus
	for _, u := range units {
		if s, ok := f.sub[u]; ok {
			out = append(out, dbus.UnitStatus{Name: u, SubState: s})
		}
	}
	return out, nil
}

func (f *fakeUnits) StartUnitContext(_ context.Context, name, _ string, ch chan<- string) (int, error) {
	f.jobs = append(f.jobs, "start "+name)
	if f.result == "" {
		for u := range f.sub {
			f.sub[u] = "dead"
		}
		f.sub[name] = "running"
	}
	ch <- f.resultOrDone()
	return len(f.jobs), nil
}

func (f *fakeUnits) StopUnitContext(_ context.Context, name, _ string, ch chan<- string) (int, error) {
	f.jobs = append(f.jobs, "stop "+name)
	f.sub[name] = "dead"
	ch <- f.resultOrDone()
	return len(f.jobs), nil
}

func (f *fakeUnits) resultOrDone() string {
	if f.result == "" {
		return "done"
	}
	return f.result
}

func (f *fakeUnits) Close() { f.closed++ }

func newSwitcher(t *testing.T, units *fakeUnits) *SystemdSwitcher {
	s := NewSystemdSwitcher("collator.service", "collator-backup.service", time.Second, zaptest.NewLogger(t))
	s.dial = func(context.Context) (unitManager, error) { return units, nil }
	return s
}

func TestSystemdMakeValidator(t *testing.T) {
	units := &fakeUnits{sub: map[string]string{"collator.service": "dead", "collator-backup.service": "running"}}
	s := newSwitcher(t, units)

	active, err := s.IsValidator(context.Background())
	require.NoError(t, err)
	require.False(t, active)

	require.NoError(t, s.MakeValidator(context.Background()))
	require.Equal(t, []string{"stop collator-backup.service", "start collator.service"}, units.jobs)

	active, err = s.IsValidator(context.Background())
	require.NoError(t, err)
	require.True(t, active)
	require.Equal(t, 3, units.closed)

	require.ErrorIs(t, s.MakeValidator(context.Background()), ErrAlreadyValidator)
}

func TestSystemdMakeValidatorNeedsRunningBackup(t *testing.T) {
	units := &fakeUnits{sub: map[string]string{"collator.service": "dead", "collator-backup.service": "dead"}}
	require.ErrorIs(t, newSwitcher(t, units).MakeValidator(context.Background()), ErrBackupNotRunning)
	require.Empty(t, units.jobs)
}

func TestSystemdMakeBackup(t *testing.T) {
	units := &fakeUnits{sub: map[string]string{"collator.service": "running", "collator-backup.service": "dead"}}
	s := newSwitcher(t, units)

	require.NoError(t, s.MakeBackup(context.Background()))
	require.Equal(t, []string{"start collator-backup.service"}, units.jobs)
	require.Equal(t, "dead", units.sub["collator.service"])

	require.ErrorIs(t, s.MakeBackup(context.Background()), ErrAlreadyBackup)
}

func TestSystemdJobFailure(t *testing.T) {
	units := &fakeUnits{sub: map[string]string{"collator.service": "running", "collator-backup.service": "dead"}, result: "failed"}
	err := newSwitcher(t, units).MakeBackup(context.Background())
	require.ErrorContains(t, err, "job failed")
}

func TestSystemdMissingUnit(t *testing.T) {
	units := &fakeUnits{sub: map[string]string{"collator.service": "running"}}
	_, err := newSwitcher(t, units).IsValidator(context.Background())
	require.NoError(t, err)

	require.ErrorIs(t, newSwitcher(t, units).MakeBackup(context.Background()), ErrUnitNotFound)
}

func TestSystemdDialFailure(t *testing.T) {
	s := newSwitcher(t, nil)
	s.dial = func(context.Context) (unitManager, error) { return nil, errors.New("no bus") }
	_, err := s.IsValidator(context.Background())
	require.EqualError(t, err, "no bus")
}

package nodecontrol

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coreos/go-systemd/v22/dbus"
	"go.uber.org/zap"
)

var (
	ErrUnitNotFound     = errors.New("could not locate services")
	ErrAlreadyValidator = errors.New("node is already validator")
	ErrAlreadyBackup    = errors.New("node is already backup")
	ErrBackupNotRunning = errors.New("backup service was expected to be running")
)

const subStateRunning = "running"

// RoleSwitcher moves the local node between validator and backup mode.
type RoleSwitcher interface {
	IsValidator(ctx context.Context) (bool, error)
	MakeValidator(ctx context.Context) error
	MakeBackup(ctx context.Context) error
}

// unitManager is the part of the systemd D-Bus connection in use.
type unitManager interface {
	ListUnitsByNamesContext(ctx context.Context, units []string) ([]dbus.UnitStatus, error)
	StartUnitContext(ctx context.Context, name string, mode string, ch chan<- string) (int, error)
	StopUnitContext(ctx context.Context, name string, mode string, ch chan<- string) (int, error)
	Close()
}

// SystemdSwitcher switches roles by starting and stopping two conflicting
// service units: one runs the node as validator, the other as warm backup.
type SystemdSwitcher struct {
	validatorUnit string
	backupUnit    string
	jobTimeout    time.Duration
	logger        *zap.Logger
	dial          func(ctx context.Context) (unitManager, error)
}

func NewSystemdSwitcher(validatorUnit, backupUnit string, jobTimeout time.Duration, logger *zap.Logger) *SystemdSwitcher {
	if jobTimeout <= 0 {
		jobTimeout = DefaultJobTimeout
	}
	return &SystemdSwitcher{
		validatorUnit: validatorUnit,
		backupUnit:    backupUnit,
		jobTimeout:    jobTimeout,
		logger:        logger,
		dial: func(ctx context.Context) (unitManager, error) {
			conn, err := dbus.NewSystemConnectionContext(ctx)
			if err != nil {
				return nil, fmt.Errorf("connect to systemd: %w", err)
			}
			return conn, nil
		},
	}
}

// IsValidator reports whether the validator unit is running.
func (s *SystemdSwitcher) IsValidator(ctx context.Context) (bool, error) {
	conn, err := s.dial(ctx)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	states, err := s.subStates(ctx, conn, s.validatorUnit)
	if err != nil {
		return false, err
	}
	return states[s.validatorUnit] == subStateRunning, nil
}

// MakeValidator requires the backup unit running and the validator unit not,
// then stops the backup and starts the validator.
func (s *SystemdSwitcher) MakeValidator(ctx context.Context) error {
	conn, err := s.dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	states, err := s.subStates(ctx, conn, s.validatorUnit, s.backupUnit)
	if err != nil {
		return err
	}
	if states[s.validatorUnit] == subStateRunning {
		return ErrAlreadyValidator
	}
	if states[s.backupUnit] != subStateRunning {
		return ErrBackupNotRunning
	}

	s.logger.Info("Stopping backup service", zap.String("unit", s.backupUnit))
	if err := s.job(ctx, conn.StopUnitContext, s.backupUnit); err != nil {
		return err
	}
	s.logger.Info("Starting validator service", zap.String("unit", s.validatorUnit))
	return s.job(ctx, conn.StartUnitContext, s.validatorUnit)
}

// MakeBackup starts the backup unit. The units conflict, so systemd stops the
// validator as part of the same job.
func (s *SystemdSwitcher) MakeBackup(ctx context.Context) error {
	conn, err := s.dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	states, err := s.subStates(ctx, conn, s.backupUnit)
	if err != nil {
		return err
	}
	if states[s.backupUnit] == subStateRunning {
		return ErrAlreadyBackup
	}

	s.logger.Info("Starting backup service", zap.String("unit", s.backupUnit))
	return s.job(ctx, conn.StartUnitContext, s.backupUnit)
}

func (s *SystemdSwitcher) subStates(ctx context.Context, conn unitManager, units ...string) (map[string]string, error) {
	statuses, err := conn.ListUnitsByNamesContext(ctx, units)
	if err != nil {
		return nil, fmt.Errorf("list units: %w", err)
	}
	out := make(map[string]string, len(statuses))
	for _, st := range statuses {
		out[st.Name] = st.SubState
	}
	for _, u := range units {
		if _, ok := out[u]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnitNotFound, u)
		}
	}
	return out, nil
}

type unitJob func(ctx context.Context, name string, mode string, ch chan<- string) (int, error)

// job enqueues a unit job and waits for systemd to report its result.
func (s *SystemdSwitcher) job(ctx context.Context, enqueue unitJob, unit string) error {
	ctx, cancel := context.WithTimeout(ctx, s.jobTimeout)
	defer cancel()

	done := make(chan string, 1)
	if _, err := enqueue(ctx, unit, "replace", done); err != nil {
		return fmt.Errorf("%s: %w", unit, err)
	}
	select {
	case result := <-done:
		if result != "done" {
			return fmt.Errorf("%s: job %s", unit, result)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", unit, ctx.Err())
	}
}

package inventory

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

const (
	defaultGrace = 3 * time.Second
	pollInterval = 100 * time.Millisecond
)

// Elevator runs a shell command with elevated privileges.
type Elevator interface {
	Run(ctx context.Context, command string) (string, error)
}

// Logger defines the logging interface used by the terminator.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Terminator stops processes by pid: SIGTERM, a grace period, then SIGKILL.
// Processes owned by another user are signalled through the Elevator.
type Terminator struct {
	grace    time.Duration
	elevator Elevator
	logger   Logger
}

// NewTerminator returns a Terminator. elevator may be nil, in which case
// permission errors are returned as-is.
func NewTerminator(grace time.Duration, elevator Elevator) *Terminator {
	if grace <= 0 {
		grace = defaultGrace
	}
	return &Terminator{grace: grace, elevator: elevator, logger: noopLogger{}}
}

// SetLogger sets the logger.
func (t *Terminator) SetLogger(l Logger) {
	if l != nil {
		t.logger = l
	}
}

// Terminate stops pid and waits for it to disappear. A pid that is already
// gone is not an error.
func (t *Terminator) Terminate(ctx context.Context, pid int) error {
	if pid <= 1 {
		return fmt.Errorf("%w: %d", ErrInvalidPID, pid)
	}

	if !Alive(ctx, pid) {
		return nil
	}

	if err := t.signal(ctx, pid, syscall.SIGTERM); err != nil {
		return err
	}
	if t.waitGone(ctx, pid, t.grace) {
		t.logger.Debug("process exited after SIGTERM", "pid", pid)
		return nil
	}

	t.logger.Warn("process ignored SIGTERM, sending SIGKILL", "pid", pid, "grace", t.grace)
	if err := t.signal(ctx, pid, syscall.SIGKILL); err != nil {
		return err
	}
	if t.waitGone(ctx, pid, t.grace) {
		return nil
	}
	return fmt.Errorf("%w: pid %d", ErrStillRunning, pid)
}

func (t *Terminator) signal(ctx context.Context, pid int, sig syscall.Signal) error {
	p, err := process.NewProcessWithContext(ctx, int32(pid)) //nolint:gosec // pid range checked
	if err != nil {
		if errors.Is(err, process.ErrorProcessNotRunning) {
			return nil
		}
		return fmt.Errorf("looking up pid %d: %w", pid, err)
	}

	err = p.SendSignalWithContext(ctx, sig)
	if err == nil || errors.Is(err, syscall.ESRCH) {
		return nil
	}
	if errors.Is(err, syscall.EPERM) && t.elevator != nil {
		t.logger.Info("signalling through privileged channel", "pid", pid, "signal", sig.String())
		cmd := fmt.Sprintf("kill -%d %d", int(sig), pid)
		if _, perr := t.elevator.Run(ctx, cmd); perr != nil {
			return fmt.Errorf("privileged kill of pid %d: %w", pid, perr)
		}
		return nil
	}
	return fmt.Errorf("signalling pid %d: %w", pid, err)
}

func (t *Terminator) waitGone(ctx context.Context, pid int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !Alive(ctx, pid) {
			return true
		}
		select {
		case <-ctx.Done():
			return !Alive(context.Background(), pid)
		case <-time.After(pollInterval):
		}
	}
	return !Alive(ctx, pid)
}

// Alive reports whether pid names a live process. Zombies count as dead.
func Alive(ctx context.Context, pid int) bool {
	if pid <= 0 {
		return false
	}
	exists, err := process.PidExistsWithContext(ctx, int32(pid)) //nolint:gosec // pid range checked
	if err != nil || !exists {
		return false
	}
	p, err := process.NewProcessWithContext(ctx, int32(pid)) //nolint:gosec // pid range checked
	if err != nil {
		return false
	}
	status, err := p.StatusWithContext(ctx)
	if err != nil {
		return true
	}
	for _, s := range status {
		if s == process.Zombie {
			return false
		}
	}
	return true
}

package recovery

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nerrad567/keymap-core/internal/inventory"
)

// Runner executes a shell command with elevated privileges.
type Runner interface {
	Run(ctx context.Context, command string) (string, error)
}

// Terminator stops a process by pid.
type Terminator interface {
	Terminate(ctx context.Context, pid int) error
}

// Logger defines the logging interface for this package.
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

// Config holds the Controller's collaborators and timing.
type Config struct {
	// Lister finds every engine instance, owned or not.
	Lister     inventory.Lister
	Terminator Terminator
	Runner     Runner

	// RestartCommand restarts the driver daemon.
	RestartCommand string
	// DaemonRunning reports whether the driver daemon is up.
	DaemonRunning func(ctx context.Context) (bool, error)
	// Relaunch starts the engine again.
	Relaunch func(ctx context.Context) error

	// StepDelay is the pause after termination and after the restart.
	StepDelay       time.Duration
	ConfirmAttempts int
	ConfirmInterval time.Duration
}

// Report describes one recovery run.
type Report struct {
	Trigger         string        `json:"trigger"`
	StartedAt       time.Time     `json:"started_at"`
	Duration        time.Duration `json:"duration"`
	Terminated      []int         `json:"terminated,omitempty"`
	DaemonRestarted bool          `json:"daemon_restarted"`
	DaemonRunning   bool          `json:"daemon_running"`
	Relaunched      bool          `json:"relaunched"`
	Error           string        `json:"error,omitempty"`
}

// Success reports whether the engine was relaunched.
func (r Report) Success() bool { return r.Relaunched && r.Error == "" }

// Controller runs the driver recovery procedure.
type Controller struct {
	cfg     Config
	running atomic.Bool
	sleep   func(time.Duration)
	logger  Logger
}

// NewController creates a Controller.
func NewController(cfg Config) *Controller {
	if cfg.ConfirmAttempts < 1 {
		cfg.ConfirmAttempts = 5
	}
	if cfg.ConfirmInterval <= 0 {
		cfg.ConfirmInterval = time.Second
	}
	return &Controller{cfg: cfg, sleep: time.Sleep, logger: noopLogger{}}
}

// SetLogger sets the logger for the controller.
func (c *Controller) SetLogger(l Logger) {
	if l != nil {
		c.logger = l
	}
}

// InProgress reports whether a run is active.
func (c *Controller) InProgress() bool { return c.running.Load() }

// Run executes the procedure. trigger describes what started it and is
// carried into the report.
//
// It performs the following steps:
//  1. Terminates every engine instance
//  2. Restarts the virtual HID daemon
//  3. Confirms the daemon is running
//  4. Relaunches the engine
//
// Parameters:
//   - ctx: Context for the steps; cancellation does not abort a started run
//   - trigger: What started the recovery, e.g. an exit code or log signature
//
// Returns:
//   - Report: What each step did and how long the run took
//   - error: ErrRecoveryInProgress, ErrDaemonNotRunning or a relaunch failure
func (c *Controller) Run(ctx context.Context, trigger string) (Report, error) {
	if !c.running.CompareAndSwap(false, true) {
		return Report{}, ErrRecoveryInProgress
	}
	defer c.running.Store(false)

	// Once started, a run completes even if the caller goes away.
	ctx = context.WithoutCancel(ctx)

	rep := Report{Trigger: trigger, StartedAt: time.Now().UTC()}
	c.logger.Info("driver recovery started", "trigger", trigger)

	err := c.run(ctx, &rep)
	rep.Duration = time.Since(rep.StartedAt)
	if err != nil {
		rep.Error = err.Error()
		c.logger.Error("driver recovery failed", "trigger", trigger, "error", err, "duration", rep.Duration)
		return rep, err
	}
	c.logger.Info("driver recovery complete", "trigger", trigger, "duration", rep.Duration)
	return rep, nil
}

func (c *Controller) run(ctx context.Context, rep *Report) error {
	// 1. Terminate every engine instance.
	if c.cfg.Lister != nil && c.cfg.Terminator != nil {
		procs, err := c.cfg.Lister.List(ctx)
		if err != nil {
			c.logger.Warn("listing engine processes failed", "error", err)
		}
		for _, p := range procs {
			if err := c.cfg.Terminator.Terminate(ctx, p.PID); err != nil {
				c.logger.Warn("terminating engine failed", "pid", p.PID, "error", err)
				continue
			}
			rep.Terminated = append(rep.Terminated, p.PID)
		}
	}
	c.sleep(c.cfg.StepDelay)

	// 2. Restart the driver daemon.
	if c.cfg.RestartCommand != "" && c.cfg.Runner != nil {
		out, err := c.cfg.Runner.Run(ctx, c.cfg.RestartCommand)
		if err != nil {
			c.logger.Warn("driver daemon restart failed", "error", err, "output", out)
		} else {
			rep.DaemonRestarted = true
		}
	}
	c.sleep(c.cfg.StepDelay)

	// 3. Confirm the daemon is up.
	if c.cfg.DaemonRunning != nil {
		rep.DaemonRunning = c.confirmDaemon(ctx)
		if !rep.DaemonRunning {
			return ErrDaemonNotRunning
		}
	} else {
		rep.DaemonRunning = true
	}

	// 4. Relaunch.
	if c.cfg.Relaunch == nil {
		return errors.New("no relaunch hook configured")
	}
	if err := c.cfg.Relaunch(ctx); err != nil {
		return fmt.Errorf("relaunching engine: %w", err)
	}
	rep.Relaunched = true
	return nil
}

func (c *Controller) confirmDaemon(ctx context.Context) bool {
	for i := 0; i < c.cfg.ConfirmAttempts; i++ {
		ok, err := c.cfg.DaemonRunning(ctx)
		if err != nil {
			c.logger.Debug("daemon probe failed", "attempt", i+1, "error", err)
		}
		if ok {
			return true
		}
		if i < c.cfg.ConfirmAttempts-1 {
			c.sleep(c.cfg.ConfirmInterval)
		}
	}
	return false
}

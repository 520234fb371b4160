package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/keymap-core/internal/inventory"
	"github.com/nerrad567/keymap-core/internal/ownership"
)

// DefaultSettleDelay is how long a fresh engine gets before verification.
const DefaultSettleDelay = 2 * time.Second

// Launcher starts the engine. It returns once the launch has been issued,
// not once the engine is ready.
type Launcher interface {
	Launch(ctx context.Context) error
}

// pidReporter is implemented by launchers that spawn the engine themselves
// and so know its pid.
type pidReporter interface {
	PID() int
}

// Terminator stops a process by pid.
type Terminator interface {
	Terminate(ctx context.Context, pid int) error
}

// Logger defines the logging interface for the reconciler.
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

// Failure records a step that failed without aborting the plan.
type Failure struct {
	Action Action `json:"action"`
	PID    int    `json:"pid"`
	Err    string `json:"error"`
}

// Result describes one reconciliation pass.
type Result struct {
	Intent   Intent    `json:"intent"`
	Plan     []Action  `json:"plan"`
	OwnedPID int       `json:"owned_pid,omitempty"`
	Failures []Failure `json:"failures,omitempty"`
}

// Config holds the reconciler's collaborators.
type Config struct {
	Lister      inventory.Lister
	Classifier  *ownership.Classifier
	Launcher    Launcher
	Terminator  Terminator
	SettleDelay time.Duration

	// Observe is called with every executed action. Optional.
	Observe func(Action)
}

// Reconciler executes plans. It is not safe for concurrent use: the
// supervisor loop is its only caller.
type Reconciler struct {
	cfg    Config
	sleep  func(time.Duration)
	logger Logger
}

// New creates a Reconciler. A non-positive SettleDelay uses
// DefaultSettleDelay.
func New(cfg Config) *Reconciler {
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = DefaultSettleDelay
	}
	return &Reconciler{cfg: cfg, sleep: time.Sleep, logger: noopLogger{}}
}

// SetLogger sets the logger.
func (r *Reconciler) SetLogger(l Logger) {
	if l != nil {
		r.logger = l
	}
}

// Scan lists engine processes, forgets registry entries for pids that are
// gone, and partitions the rest by ownership.
func (r *Reconciler) Scan(ctx context.Context) (owned, external []inventory.ManagedProcess, err error) {
	procs, err := r.cfg.Lister.List(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("scanning processes: %w", err)
	}

	live := make([]int, len(procs))
	for i, p := range procs {
		live[i] = p.PID
	}
	if n, err := r.cfg.Classifier.Registry().Prune(ctx, live); err != nil {
		r.logger.Warn("pruning ownership registry failed", "error", err)
	} else if n > 0 {
		r.logger.Debug("pruned ownership registry", "removed", n)
	}

	owned, external = r.cfg.Classifier.Partition(ctx, procs)
	return owned, external, nil
}

// Reconcile brings the process table in line with intent. Actions run
// sequentially; termination failures are collected in the result while a
// failed launch aborts the pass.
//
// Parameters:
//   - ctx: Context for the scan, terminations and launch
//   - intent: Whether the engine should be running, and who asked
//
// Returns:
//   - Result: The executed plan, the owned pid and any termination failures
//   - error: ErrProcessStartFailed when a launch fails or no owned engine
//     is visible after the settle delay; a scan error otherwise
func (r *Reconciler) Reconcile(ctx context.Context, intent Intent) (Result, error) {
	res := Result{Intent: intent}

	owned, external, err := r.Scan(ctx)
	if err != nil {
		return res, err
	}

	res.Plan = Plan(intent, owned, external)
	r.logger.Debug("reconcile plan", "intent", intent.Kind, "source", intent.Source,
		"owned", len(owned), "external", len(external), "plan", fmt.Sprint(res.Plan))

	for _, action := range res.Plan {
		if err := r.execute(ctx, action, &res); err != nil {
			return res, err
		}
	}
	return res, nil
}

func (r *Reconciler) execute(ctx context.Context, action Action, res *Result) error {
	if r.cfg.Observe != nil {
		r.cfg.Observe(action)
	}

	switch action.Kind {
	case ActionNone:
		return nil

	case ActionAdoptExisting:
		p := action.Processes[0]
		if err := r.cfg.Classifier.Adopt(ctx, p); err != nil {
			r.logger.Warn("recording adopted engine failed", "pid", p.PID, "error", err)
		}
		res.OwnedPID = p.PID
		r.logger.Info("adopted running engine", "pid", p.PID)
		return nil

	case ActionResolveConflict:
		for _, p := range action.Processes {
			r.terminate(ctx, action, p, res)
		}
		return r.start(ctx, res)

	case ActionStartNew:
		return r.start(ctx, res)

	case ActionStop:
		for _, p := range action.Processes {
			if r.terminate(ctx, action, p, res) {
				if err := r.cfg.Classifier.Registry().Forget(ctx, p.PID); err != nil {
					r.logger.Warn("forgetting stopped engine failed", "pid", p.PID, "error", err)
				}
			}
		}
		return nil

	default:
		return fmt.Errorf("unknown action %q", action.Kind)
	}
}

func (r *Reconciler) terminate(ctx context.Context, action Action, p inventory.ManagedProcess, res *Result) bool {
	if err := r.cfg.Terminator.Terminate(ctx, p.PID); err != nil {
		r.logger.Warn("terminating engine process failed", "pid", p.PID, "action", action.Kind, "error", err)
		res.Failures = append(res.Failures, Failure{Action: action, PID: p.PID, Err: err.Error()})
		return false
	}
	r.logger.Info("terminated engine process", "pid", p.PID, "action", action.Kind)
	return true
}

func (r *Reconciler) start(ctx context.Context, res *Result) error {
	if r.cfg.Launcher == nil {
		return ErrNoLauncher
	}

	r.cfg.Classifier.MarkLaunchAttempt()
	if err := r.cfg.Launcher.Launch(ctx); err != nil {
		return fmt.Errorf("%w: launching: %w", ErrProcessStartFailed, err)
	}
	if pr, ok := r.cfg.Launcher.(pidReporter); ok {
		if pid := pr.PID(); pid > 0 {
			if err := r.cfg.Classifier.Registry().Register(ctx, pid, ownership.Owned(ownership.ReasonLaunched)); err != nil {
				r.logger.Warn("recording launched engine failed", "pid", pid, "error", err)
			}
		}
	}

	r.sleep(r.cfg.SettleDelay)

	owned, _, err := r.Scan(ctx)
	if err != nil {
		return fmt.Errorf("%w: verifying: %w", ErrProcessStartFailed, err)
	}
	if len(owned) == 0 {
		return fmt.Errorf("%w: no engine process after %s", ErrProcessStartFailed, r.cfg.SettleDelay)
	}

	res.OwnedPID = owned[0].PID
	r.logger.Info("engine started", "pid", res.OwnedPID)
	return nil
}

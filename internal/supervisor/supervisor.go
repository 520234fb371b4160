package supervisor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/nerrad567/keymap-core/internal/diagnostics"
	"github.com/nerrad567/keymap-core/internal/inventory"
	"github.com/nerrad567/keymap-core/internal/keymap"
	"github.com/nerrad567/keymap-core/internal/ownership"
	"github.com/nerrad567/keymap-core/internal/permissions"
	"github.com/nerrad567/keymap-core/internal/reconcile"
	"github.com/nerrad567/keymap-core/internal/recovery"
	"github.com/nerrad567/keymap-core/internal/retry"
)

// Defaults applied by New when the corresponding Config field is zero.
const (
	DefaultHealthCheckInterval    = 30 * time.Second
	DefaultNeedsHelpPollInterval  = 5 * time.Second
	DefaultMaxAutoStartAttempts   = 2
	DefaultMaxExternalFixAttempts = 3
	DefaultMinLaunchInterval      = 3 * time.Second

	readyTimeout = 5 * time.Second
	eventBuffer  = 32
)

// Reconciler brings the process table in line with an intent.
type Reconciler interface {
	Reconcile(ctx context.Context, intent reconcile.Intent) (reconcile.Result, error)
	Scan(ctx context.Context) (owned, external []inventory.ManagedProcess, err error)
}

// ConflictDetector reports external engine processes.
type ConflictDetector interface {
	DetectConflicts(ctx context.Context) (ownership.ConflictResolution, error)
}

// Adopter records an external process as owned.
type Adopter interface {
	Adopt(ctx context.Context, p inventory.ManagedProcess) error
}

// PermissionChecker answers permission queries and can drop cached answers.
type PermissionChecker interface {
	permissions.Checker
	Invalidate()
}

// HealthChecker probes a running engine pid.
type HealthChecker interface {
	Check(ctx context.Context, pid int) error
	WaitReady(ctx context.Context, timeout time.Duration) error
}

// ConfigStore is the configuration pipeline as seen by the supervisor.
type ConfigStore interface {
	EnsureConfig(ctx context.Context) error
	Save(ctx context.Context, mappings []keymap.KeyMapping) (keymap.SaveResult, error)
	Reset(ctx context.Context) error
	Mappings() []keymap.KeyMapping
	LastUpdate() time.Time
	Fingerprint() string
}

// Recoverer runs the driver recovery procedure.
type Recoverer interface {
	Run(ctx context.Context, trigger string) (recovery.Report, error)
	InProgress() bool
}

// LogSource returns trailing engine log lines.
type LogSource interface {
	TailLog(n int) ([]string, error)
}

// Logger defines the logging interface for the supervisor.
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

// Config holds the supervisor's collaborators and policy.
type Config struct {
	Reconciler  Reconciler
	Conflicts   ConflictDetector
	Adopter     Adopter
	Permissions PermissionChecker
	// BinaryPresent is the first precondition. Optional.
	BinaryPresent func() error
	Health        HealthChecker
	Keymap        ConfigStore
	Diagnostics   *diagnostics.Log
	Recovery      Recoverer
	EngineLog     LogSource

	HealthCheckInterval    time.Duration
	NeedsHelpPollInterval  time.Duration
	MaxAutoStartAttempts   int
	MaxExternalFixAttempts int
	MinLaunchInterval      time.Duration
	RetryBackoff           time.Duration
	RetryMaxBackoff        time.Duration

	// StartOnBoot makes Run begin in starting with intent shouldRun.
	// Otherwise the supervisor waits in stopped for an explicit Start.
	StartOnBoot bool
}

// Supervisor drives the engine lifecycle. Create with New, then call Run.
type Supervisor struct {
	cfg    Config
	logger Logger

	requests chan request
	events   chan event
	done     chan struct{}
	started  atomic.Bool

	limiter     *rate.Limiter
	autoStart   *retry.Budget
	externalFix *retry.Budget

	// Loop-owned state. Only the Run goroutine touches these.
	state      State
	reason     string
	intent     reconcile.Intent
	ownedPID   int
	failed     precondition
	recovering bool
	conflict   *ownership.ConflictResolution
	lastRecov  *recovery.Report
	retryTimer *time.Timer
	retryC     <-chan time.Time

	mu        sync.RWMutex
	snapshot  Status
	observers []StatusObserver
}

// New creates a Supervisor.
func New(cfg Config) *Supervisor {
	if cfg.HealthCheckInterval <= 0 {
		cfg.HealthCheckInterval = DefaultHealthCheckInterval
	}
	if cfg.NeedsHelpPollInterval <= 0 {
		cfg.NeedsHelpPollInterval = DefaultNeedsHelpPollInterval
	}
	if cfg.MaxAutoStartAttempts <= 0 {
		cfg.MaxAutoStartAttempts = DefaultMaxAutoStartAttempts
	}
	if cfg.MaxExternalFixAttempts <= 0 {
		cfg.MaxExternalFixAttempts = DefaultMaxExternalFixAttempts
	}
	if cfg.MinLaunchInterval < 0 {
		cfg.MinLaunchInterval = DefaultMinLaunchInterval
	}
	if cfg.Diagnostics == nil {
		cfg.Diagnostics = diagnostics.NewLog(diagnostics.DefaultMaxEntries, nil)
	}

	s := &Supervisor{
		cfg:      cfg,
		logger:   noopLogger{},
		requests: make(chan request),
		events:   make(chan event, eventBuffer),
		done:     make(chan struct{}),
		state:    StateStarting,
		intent:   reconcile.DontCare(),
	}

	limit := rate.Inf
	if cfg.MinLaunchInterval > 0 {
		limit = rate.Every(cfg.MinLaunchInterval)
	}
	s.limiter = rate.NewLimiter(limit, 1)

	s.autoStart = retry.NewBudget(retry.Policy{
		Name:           "auto_start",
		MaxAttempts:    cfg.MaxAutoStartAttempts,
		InitialBackoff: cfg.RetryBackoff,
		MaxBackoff:     cfg.RetryMaxBackoff,
		Escalate:       s.logEscalation,
	})
	s.externalFix = retry.NewBudget(retry.Policy{
		Name:           "external_fix",
		MaxAttempts:    cfg.MaxExternalFixAttempts,
		InitialBackoff: cfg.RetryBackoff,
		MaxBackoff:     cfg.RetryMaxBackoff,
		Escalate:       s.logEscalation,
	})
	s.snapshot = Status{State: s.state, Intent: s.intent, Diagnostics: []diagnostics.Diagnostic{}}
	return s
}

// SetLogger sets the logger.
func (s *Supervisor) SetLogger(l Logger) {
	if l != nil {
		s.logger = l
	}
}

// AddObserver registers an observer. Call before Run.
func (s *Supervisor) AddObserver(o StatusObserver) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, o)
}

// Status returns the last published status. It never blocks on the loop.
func (s *Supervisor) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot
}

// Done is closed when Run returns.
func (s *Supervisor) Done() <-chan struct{} {
	return s.done
}

func (s *Supervisor) logEscalation(name string, attempts int) {
	s.logger.Warn("retry budget exhausted, automatic retries stopped", "budget", name, "attempts", attempts)
}

// Run processes commands and events until ctx is cancelled. A step in
// progress when ctx is cancelled runs to completion first.
func (s *Supervisor) Run(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(s.done)

	// Steps must not be abandoned half-done on shutdown.
	stepCtx := context.WithoutCancel(ctx)

	if s.cfg.Keymap != nil {
		if err := s.cfg.Keymap.EnsureConfig(stepCtx); err != nil {
			s.logger.Error("preparing engine configuration failed", "error", err)
		}
	}

	health := time.NewTicker(s.cfg.HealthCheckInterval)
	defer health.Stop()
	poll := time.NewTicker(s.cfg.NeedsHelpPollInterval)
	defer poll.Stop()
	defer s.stopRetry()

	if s.cfg.StartOnBoot {
		s.attemptStart(stepCtx, "boot", false)
	} else {
		s.transition(StateStopped, "automatic start disabled", false)
	}

	s.logger.Info("supervisor started", "state", s.state)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("supervisor stopping", "state", s.state)
			return nil

		case req := <-s.requests:
			v, err := req.fn(stepCtx)
			req.reply <- response{value: v, err: err}

		case ev := <-s.events:
			s.handleEvent(stepCtx, ev)

		case <-health.C:
			s.healthTick(stepCtx)

		case <-poll.C:
			s.pollTick(stepCtx)

		case <-s.retryC:
			s.retryTimer, s.retryC = nil, nil
			s.attemptStart(stepCtx, "auto_retry", true)
		}
	}
}

// publish rebuilds the snapshot and notifies observers.
func (s *Supervisor) publish() {
	st := Status{
		State:               s.state,
		Reason:              s.reason,
		UserActionRequired:  s.state == StateNeedsHelp,
		Intent:              s.intent,
		OwnedPID:            s.ownedPID,
		Recovering:          s.recovering,
		Conflict:            s.conflict,
		Diagnostics:         s.cfg.Diagnostics.List(),
		AutoStartAttempts:   s.autoStart.Attempts(),
		ExternalFixAttempts: s.externalFix.Attempts(),
		LastRecovery:        s.lastRecov,
		UpdatedAt:           time.Now().UTC(),
	}
	if s.cfg.Keymap != nil {
		st.Mappings = s.cfg.Keymap.Mappings()
		st.LastConfigUpdate = s.cfg.Keymap.LastUpdate()
		st.ConfigFingerprint = s.cfg.Keymap.Fingerprint()
	}
	if st.Mappings == nil {
		st.Mappings = []keymap.KeyMapping{}
	}

	s.mu.Lock()
	s.snapshot = st
	observers := append([]StatusObserver(nil), s.observers...)
	s.mu.Unlock()

	for _, o := range observers {
		o.OnStatus(st)
	}
}

// transition changes state and publishes. Quiet transitions to starting
// are not published.
func (s *Supervisor) transition(to State, reason string, quiet bool) {
	from := s.state
	s.state = to
	s.reason = reason
	if quiet && to == StateStarting {
		return
	}
	if from != to {
		s.logger.Info("lifecycle transition", "from", from, "to", to, "reason", reason)
		for _, o := range s.snapshotObservers() {
			if t, ok := o.(TransitionObserver); ok {
				t.OnTransition(from, to, reason)
			}
		}
	}
	s.publish()
}

func (s *Supervisor) snapshotObservers() []StatusObserver {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]StatusObserver(nil), s.observers...)
}

// addDiagnostics stores diagnostics and tells interested observers.
func (s *Supervisor) addDiagnostics(ctx context.Context, diags ...diagnostics.Diagnostic) {
	if len(diags) == 0 {
		return
	}
	s.cfg.Diagnostics.Add(ctx, diags...)
	for _, o := range s.snapshotObservers() {
		if d, ok := o.(DiagnosticObserver); ok {
			for _, diag := range diags {
				d.OnDiagnostic(diag)
			}
		}
	}
}

func (s *Supervisor) scheduleRetry(d time.Duration) {
	if s.retryTimer != nil {
		s.logger.Debug("retry already scheduled, coalescing")
		return
	}
	if d <= 0 {
		d = time.Millisecond
	}
	s.retryTimer = time.NewTimer(d)
	s.retryC = s.retryTimer.C
	s.logger.Debug("automatic retry scheduled", "in", d)
}

func (s *Supervisor) stopRetry() {
	if s.retryTimer != nil {
		s.retryTimer.Stop()
	}
	s.retryTimer, s.retryC = nil, nil
}

package supervisor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/keymap-core/internal/diagnostics"
	"github.com/nerrad567/keymap-core/internal/inventory"
	"github.com/nerrad567/keymap-core/internal/keymap"
	"github.com/nerrad567/keymap-core/internal/ownership"
	"github.com/nerrad567/keymap-core/internal/permissions"
	"github.com/nerrad567/keymap-core/internal/process"
	"github.com/nerrad567/keymap-core/internal/reconcile"
	"github.com/nerrad567/keymap-core/internal/recovery"
)

// fakeEngine stands in for the reconciler and the process table.
type fakeEngine struct {
	mu         sync.Mutex
	alwaysFail bool
	running    bool
	pid        int
	nextPID    int
	starts     int
	stops      int
	intents    []reconcile.Intent
}

func newFakeEngine() *fakeEngine { return &fakeEngine{nextPID: 100} }

func (f *fakeEngine) Reconcile(_ context.Context, intent reconcile.Intent) (reconcile.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.intents = append(f.intents, intent)
	res := reconcile.Result{Intent: intent}

	switch intent.Kind {
	case reconcile.IntentShouldRun:
		if f.running {
			res.OwnedPID = f.pid
			return res, nil
		}
		f.starts++
		if f.alwaysFail {
			return res, reconcile.ErrProcessStartFailed
		}
		f.nextPID++
		f.pid = f.nextPID
		f.running = true
		res.OwnedPID = f.pid
	case reconcile.IntentShouldStop:
		if f.running {
			f.stops++
		}
		f.running = false
	}
	return res, nil
}

func (f *fakeEngine) Scan(context.Context) (owned, external []inventory.ManagedProcess, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running {
		owned = []inventory.ManagedProcess{{PID: f.pid, ExecutableName: "kanata"}}
	}
	return owned, nil, nil
}

func (f *fakeEngine) adopt(pid int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = true
	f.pid = pid
}

// crash makes the engine disappear without an exit event.
func (f *fakeEngine) crash() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = false
}

func (f *fakeEngine) counts() (starts, stops int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts, f.stops
}

func (f *fakeEngine) currentPID() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pid
}

type fakePermissions struct {
	mu          sync.Mutex
	granted     bool
	invalidated int
}

func (p *fakePermissions) Granted(context.Context, permissions.Kind) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.granted, nil
}

func (p *fakePermissions) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.invalidated++
}

func (p *fakePermissions) grant() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.granted = true
}

type fakeConflicts struct {
	mu  sync.Mutex
	res ownership.ConflictResolution
}

func (c *fakeConflicts) DetectConflicts(context.Context) (ownership.ConflictResolution, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.res, nil
}

func (c *fakeConflicts) set(res ownership.ConflictResolution) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.res = res
}

type fakeAdopter struct {
	engine  *fakeEngine
	adopted []int
}

func (a *fakeAdopter) Adopt(_ context.Context, p inventory.ManagedProcess) error {
	a.adopted = append(a.adopted, p.PID)
	a.engine.adopt(p.PID)
	return nil
}

type fakeStore struct {
	mu       sync.Mutex
	mappings []keymap.KeyMapping
	saveErr  error
	changed  bool
	resets   int
}

func (s *fakeStore) EnsureConfig(context.Context) error { return nil }

func (s *fakeStore) Save(_ context.Context, m []keymap.KeyMapping) (keymap.SaveResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return keymap.SaveResult{}, s.saveErr
	}
	s.mappings = m
	return keymap.SaveResult{Mappings: m, Changed: s.changed}, nil
}

func (s *fakeStore) Reset(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resets++
	return nil
}

func (s *fakeStore) Mappings() []keymap.KeyMapping {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mappings
}

func (s *fakeStore) LastUpdate() time.Time { return time.Time{} }
func (s *fakeStore) Fingerprint() string   { return "" }

type fakeRecovery struct {
	mu     sync.Mutex
	runs   int
	engine *fakeEngine
	sup    *Supervisor
	fail   error
}

func (r *fakeRecovery) Run(ctx context.Context, trigger string) (recovery.Report, error) {
	r.mu.Lock()
	r.runs++
	r.mu.Unlock()

	rep := recovery.Report{Trigger: trigger}
	if r.fail != nil {
		rep.Error = r.fail.Error()
		return rep, r.fail
	}
	r.engine.crash()
	if err := r.sup.Relaunch(ctx); err != nil {
		rep.Error = err.Error()
		return rep, err
	}
	rep.Relaunched = true
	return rep, nil
}

func (r *fakeRecovery) InProgress() bool { return false }

func (r *fakeRecovery) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runs
}

type recordingObserver struct {
	mu          sync.Mutex
	states      []State
	transitions []string
	commands    []string
}

func (o *recordingObserver) OnStatus(st Status) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.states = append(o.states, st.State)
}

func (o *recordingObserver) OnTransition(from, to State, _ string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.transitions = append(o.transitions, string(from)+">"+string(to))
}

func (o *recordingObserver) OnCommand(name, source string, _ error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.commands = append(o.commands, source+":"+name)
}

func (o *recordingObserver) snapshot() (states []State, transitions, commands []string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]State(nil), o.states...), append([]string(nil), o.transitions...), append([]string(nil), o.commands...)
}

type harness struct {
	engine    *fakeEngine
	perms     *fakePermissions
	conflicts *fakeConflicts
	adopter   *fakeAdopter
	store     *fakeStore
	observer  *recordingObserver
	cfg       Config
}

func newHarness() *harness {
	e := newFakeEngine()
	h := &harness{
		engine:    e,
		perms:     &fakePermissions{granted: true},
		conflicts: &fakeConflicts{res: ownership.ConflictResolution{RecommendedAction: ownership.ActionStartNew, CanAutoResolve: true}},
		adopter:   &fakeAdopter{engine: e},
		store:     &fakeStore{},
		observer:  &recordingObserver{},
	}
	h.cfg = Config{
		Reconciler:            e,
		Conflicts:             h.conflicts,
		Adopter:               h.adopter,
		Permissions:           h.perms,
		BinaryPresent:         func() error { return nil },
		Keymap:                h.store,
		HealthCheckInterval:   time.Hour,
		NeedsHelpPollInterval: time.Hour,
		RetryBackoff:          time.Millisecond,
		RetryMaxBackoff:       time.Millisecond,
		StartOnBoot:           true,
	}
	return h
}

func (h *harness) start(t *testing.T) *Supervisor {
	t.Helper()
	s := New(h.cfg)
	s.AddObserver(h.observer)
	ctx, cancel := context.WithCancel(context.Background())
	go s.Run(ctx) //nolint:errcheck // returns nil on cancel
	t.Cleanup(func() {
		cancel()
		<-s.Done()
	})
	return s
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func waitState(t *testing.T, s *Supervisor, want State) Status {
	t.Helper()
	waitFor(t, "state "+string(want), func() bool { return s.Status().State == want })
	return s.Status()
}

func TestCleanStart(t *testing.T) {
	h := newHarness()
	s := h.start(t)

	st := waitState(t, s, StateRunning)
	if st.OwnedPID != 101 {
		t.Errorf("OwnedPID = %d, want 101", st.OwnedPID)
	}
	if st.UserActionRequired {
		t.Error("UserActionRequired = true, want false")
	}
	if starts, _ := h.engine.counts(); starts != 1 {
		t.Errorf("starts = %d, want 1", starts)
	}
	if st.Intent != reconcile.ShouldRun("boot") {
		t.Errorf("Intent = %+v, want shouldRun(boot)", st.Intent)
	}
}

func TestStart_IdempotentWhileRunning(t *testing.T) {
	h := newHarness()
	s := h.start(t)
	waitState(t, s, StateRunning)

	for i := 0; i < 3; i++ {
		if err := s.Start(context.Background()); err != nil {
			t.Fatalf("Start() error = %v", err)
		}
	}
	if starts, _ := h.engine.counts(); starts != 1 {
		t.Errorf("starts = %d, want 1", starts)
	}
}

func TestRetryBudgetExhaustion(t *testing.T) {
	h := newHarness()
	h.engine.alwaysFail = true
	h.cfg.NeedsHelpPollInterval = 5 * time.Millisecond
	s := h.start(t)

	st := waitState(t, s, StateNeedsHelp)
	if !st.UserActionRequired {
		t.Error("UserActionRequired = false, want true")
	}
	if !strings.Contains(st.Reason, "gave up after 2 attempts") {
		t.Errorf("Reason = %q, want budget exhaustion", st.Reason)
	}

	time.Sleep(50 * time.Millisecond)
	if starts, _ := h.engine.counts(); starts != DefaultMaxAutoStartAttempts {
		t.Errorf("starts = %d, want %d", starts, DefaultMaxAutoStartAttempts)
	}

	// An explicit command resets the budget.
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitFor(t, "second round of starts", func() bool {
		starts, _ := h.engine.counts()
		return starts == 2*DefaultMaxAutoStartAttempts && s.Status().State == StateNeedsHelp
	})
}

func TestPermissionsMissingThenGranted(t *testing.T) {
	h := newHarness()
	h.perms.granted = false
	h.cfg.NeedsHelpPollInterval = 10 * time.Millisecond
	s := h.start(t)

	st := waitState(t, s, StateNeedsHelp)
	if st.Reason != "Permission required: input_capture, automation" {
		t.Errorf("Reason = %q", st.Reason)
	}
	if starts, _ := h.engine.counts(); starts != 0 {
		t.Errorf("starts = %d, want 0 before permissions are granted", starts)
	}
	if len(st.Diagnostics) == 0 || st.Diagnostics[len(st.Diagnostics)-1].Category != diagnostics.CategoryPermissions {
		t.Errorf("Diagnostics = %+v, want a permissions diagnostic", st.Diagnostics)
	}

	h.perms.grant()
	st = waitState(t, s, StateRunning)
	if st.ExternalFixAttempts != 1 {
		t.Errorf("ExternalFixAttempts = %d, want 1", st.ExternalFixAttempts)
	}
}

// flappingPermissions reports granted to every other Missing call: the
// needsHelp poll sees the grant, the start chain that follows does not.
type flappingPermissions struct {
	mu    sync.Mutex
	calls int
}

func (p *flappingPermissions) Granted(context.Context, permissions.Kind) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := p.calls
	p.calls++
	return (n/len(permissions.All))%2 == 1, nil
}

func (p *flappingPermissions) Invalidate() {}

func TestExternalFixBudget(t *testing.T) {
	h := newHarness()
	h.cfg.Permissions = &flappingPermissions{}
	h.cfg.NeedsHelpPollInterval = 5 * time.Millisecond
	s := h.start(t)

	waitFor(t, "external fix budget spent", func() bool {
		return s.Status().ExternalFixAttempts == DefaultMaxExternalFixAttempts
	})
	waitState(t, s, StateNeedsHelp)
	time.Sleep(50 * time.Millisecond)

	st := s.Status()
	if st.ExternalFixAttempts != DefaultMaxExternalFixAttempts {
		t.Errorf("ExternalFixAttempts = %d, want %d", st.ExternalFixAttempts, DefaultMaxExternalFixAttempts)
	}
	if st.State != StateNeedsHelp {
		t.Errorf("State = %s, want needsHelp", st.State)
	}
	if starts, _ := h.engine.counts(); starts != 0 {
		t.Errorf("starts = %d, want 0", starts)
	}
}

func TestLaunchFailureNotRetriedByPoll(t *testing.T) {
	h := newHarness()
	h.engine.alwaysFail = true
	h.perms.granted = false
	h.cfg.NeedsHelpPollInterval = 5 * time.Millisecond
	s := h.start(t)
	waitState(t, s, StateNeedsHelp)

	// Permission appears but every launch fails: one external-fix retry
	// spends the auto-start budget, and a launch failure never clears by
	// polling.
	h.perms.grant()
	waitFor(t, "launch attempts", func() bool {
		starts, _ := h.engine.counts()
		return starts == DefaultMaxAutoStartAttempts && s.Status().State == StateNeedsHelp
	})
	time.Sleep(50 * time.Millisecond)

	if starts, _ := h.engine.counts(); starts != DefaultMaxAutoStartAttempts {
		t.Errorf("starts = %d, want %d", starts, DefaultMaxAutoStartAttempts)
	}
	if got := s.Status().ExternalFixAttempts; got != 1 {
		t.Errorf("ExternalFixAttempts = %d, want 1", got)
	}
}

func TestUserDecisionConflict(t *testing.T) {
	h := newHarness()
	h.conflicts.set(ownership.ConflictResolution{
		ExternalProcesses: []inventory.ManagedProcess{{PID: 50, ExecutableName: "sudo"}},
		RecommendedAction: ownership.ActionUserDecision,
		Summary:           "pid 50 (sudo) is not ours",
	})
	s := h.start(t)

	st := waitState(t, s, StateNeedsHelp)
	if !strings.Contains(st.Reason, "pid 50 (sudo) is not ours") {
		t.Errorf("Reason = %q, want conflict summary", st.Reason)
	}
	if st.Conflict == nil || st.Conflict.RecommendedAction != ownership.ActionUserDecision {
		t.Errorf("Conflict = %+v, want userDecision", st.Conflict)
	}
	if starts, _ := h.engine.counts(); starts != 0 {
		t.Errorf("starts = %d, want 0", starts)
	}
}

func TestAdoptExternal(t *testing.T) {
	h := newHarness()
	h.conflicts.set(ownership.ConflictResolution{
		ExternalProcesses: []inventory.ManagedProcess{{PID: 77, ExecutableName: "kanata"}},
		RecommendedAction: ownership.ActionAdoptExternal,
		CanAutoResolve:    true,
	})
	s := h.start(t)

	st := waitState(t, s, StateRunning)
	if st.OwnedPID != 77 {
		t.Errorf("OwnedPID = %d, want 77", st.OwnedPID)
	}
	if len(h.adopter.adopted) != 1 || h.adopter.adopted[0] != 77 {
		t.Errorf("adopted = %v, want [77]", h.adopter.adopted)
	}
	if starts, _ := h.engine.counts(); starts != 0 {
		t.Errorf("starts = %d, want 0 (no new process)", starts)
	}
}

func TestStop(t *testing.T) {
	h := newHarness()
	s := h.start(t)
	waitState(t, s, StateRunning)

	ctx := WithSource(context.Background(), "api")
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	st := s.Status()
	if st.State != StateStopped {
		t.Fatalf("State = %s, want stopped", st.State)
	}
	if st.Intent.Kind != reconcile.IntentShouldStop {
		t.Errorf("Intent = %+v, want shouldStop", st.Intent)
	}
	if _, stops := h.engine.counts(); stops != 1 {
		t.Errorf("stops = %d, want 1", stops)
	}

	// An exit while stopped is recorded but does not restart anything.
	s.NotifyExit(process.ExitStatus{PID: 101, Code: 1})
	time.Sleep(30 * time.Millisecond)
	if starts, _ := h.engine.counts(); starts != 1 {
		t.Errorf("starts = %d after exit while stopped, want 1", starts)
	}
	if s.Status().State != StateStopped {
		t.Errorf("State = %s, want stopped", s.Status().State)
	}

	_, _, commands := h.observer.snapshot()
	if len(commands) == 0 || commands[0] != "api:stop" {
		t.Errorf("commands = %v, want api:stop", commands)
	}
}

func TestStartOnBootDisabled(t *testing.T) {
	h := newHarness()
	h.cfg.StartOnBoot = false
	s := h.start(t)

	waitState(t, s, StateStopped)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if st := s.Status(); st.State != StateRunning || st.Intent.Source != "user" {
		t.Errorf("Status = %s/%+v, want running started by user", st.State, st.Intent)
	}
}

func TestExitTriggersQuietRetry(t *testing.T) {
	h := newHarness()
	s := h.start(t)
	waitState(t, s, StateRunning)
	before, _, _ := h.observer.snapshot()

	h.engine.crash()
	s.NotifyExit(process.ExitStatus{PID: 101, Code: 1, Output: []string{"something broke"}})

	waitFor(t, "relaunch", func() bool { return s.Status().OwnedPID == 102 })
	if s.Status().State != StateRunning {
		t.Errorf("State = %s, want running", s.Status().State)
	}

	after, _, _ := h.observer.snapshot()
	for _, st := range after[len(before):] {
		if st != StateRunning {
			t.Errorf("published state %s during quiet retry, want only running", st)
		}
	}
	if n := len(s.Status().Diagnostics); n == 0 {
		t.Error("no diagnostic recorded for the exit")
	}
}

func TestRequestedExitIgnored(t *testing.T) {
	h := newHarness()
	s := h.start(t)
	waitState(t, s, StateRunning)

	s.NotifyExit(process.ExitStatus{PID: 101, Code: 143, Requested: true})
	time.Sleep(30 * time.Millisecond)
	if starts, _ := h.engine.counts(); starts != 1 {
		t.Errorf("starts = %d, want 1", starts)
	}
	if n := len(s.Status().Diagnostics); n != 0 {
		t.Errorf("diagnostics = %d, want 0", n)
	}
}

func TestDriverFailureExitRunsRecovery(t *testing.T) {
	h := newHarness()
	rec := &fakeRecovery{engine: h.engine}
	h.cfg.Recovery = rec
	s := New(h.cfg)
	rec.sup = s
	ctx, cancel := context.WithCancel(context.Background())
	go s.Run(ctx) //nolint:errcheck // returns nil on cancel
	t.Cleanup(func() { cancel(); <-s.Done() })

	waitState(t, s, StateRunning)
	s.NotifyExit(process.ExitStatus{PID: 101, Code: 1, Output: []string{"connect_failed asio.system:2"}})

	waitFor(t, "recovery report", func() bool { return s.Status().LastRecovery != nil })
	st := s.Status()
	if rec.count() != 1 {
		t.Errorf("recovery runs = %d, want 1", rec.count())
	}
	if st.State != StateRunning || st.Recovering {
		t.Errorf("State = %s recovering=%v, want running", st.State, st.Recovering)
	}
	if st.OwnedPID != 102 {
		t.Errorf("OwnedPID = %d, want 102", st.OwnedPID)
	}
}

func TestDriverFailureNotificationRunsRecovery(t *testing.T) {
	h := newHarness()
	rec := &fakeRecovery{engine: h.engine, fail: recovery.ErrDaemonNotRunning}
	h.cfg.Recovery = rec
	s := New(h.cfg)
	rec.sup = s
	ctx, cancel := context.WithCancel(context.Background())
	go s.Run(ctx) //nolint:errcheck // returns nil on cancel
	t.Cleanup(func() { cancel(); <-s.Done() })

	waitState(t, s, StateRunning)
	s.NotifyDriverFailure("connect_failed asio.system")

	st := waitState(t, s, StateNeedsHelp)
	if !strings.Contains(st.Reason, "Driver daemon did not restart") {
		t.Errorf("Reason = %q", st.Reason)
	}
	if rec.count() != 1 {
		t.Errorf("recovery runs = %d, want 1", rec.count())
	}
}

func TestHealthTickRestartsVanishedEngine(t *testing.T) {
	h := newHarness()
	h.cfg.HealthCheckInterval = 10 * time.Millisecond
	s := h.start(t)
	waitState(t, s, StateRunning)

	h.engine.crash()
	waitFor(t, "relaunch after health tick", func() bool { return h.engine.currentPID() == 102 })
	waitFor(t, "budget reset after healthy tick", func() bool {
		st := s.Status()
		return st.State == StateRunning && st.OwnedPID == 102 && st.AutoStartAttempts == 0
	})
}

type unhealthyError struct{ recoverable bool }

func (e unhealthyError) Error() string       { return "unhealthy" }
func (e unhealthyError) IsRecoverable() bool { return e.recoverable }

// fakeHealth fails every check against badPID.
type fakeHealth struct {
	badPID      int
	recoverable bool
}

func (f *fakeHealth) Check(_ context.Context, pid int) error {
	if pid == f.badPID {
		return unhealthyError{recoverable: f.recoverable}
	}
	return nil
}

func (f *fakeHealth) WaitReady(context.Context, time.Duration) error { return nil }

func TestHealthCheckFailure(t *testing.T) {
	t.Run("recoverable restarts", func(t *testing.T) {
		h := newHarness()
		h.cfg.Health = &fakeHealth{badPID: 101, recoverable: true}
		h.cfg.HealthCheckInterval = 10 * time.Millisecond
		s := h.start(t)

		waitFor(t, "replacement engine", func() bool {
			st := s.Status()
			return st.State == StateRunning && st.OwnedPID == 102
		})
		if _, stops := h.engine.counts(); stops != 1 {
			t.Errorf("stops = %d, want 1", stops)
		}
	})

	t.Run("unrecoverable needs help", func(t *testing.T) {
		h := newHarness()
		h.cfg.Health = &fakeHealth{badPID: 101, recoverable: false}
		h.cfg.HealthCheckInterval = 10 * time.Millisecond
		s := h.start(t)

		st := waitState(t, s, StateNeedsHelp)
		if !strings.Contains(st.Reason, "Engine health check failed") {
			t.Errorf("Reason = %q", st.Reason)
		}
		if _, stops := h.engine.counts(); stops != 0 {
			t.Errorf("stops = %d, want 0", stops)
		}
	})
}

func TestAutoFix(t *testing.T) {
	h := newHarness()
	log := diagnostics.NewLog(diagnostics.DefaultMaxEntries, nil)
	h.cfg.Diagnostics = log
	s := h.start(t)
	waitState(t, s, StateRunning)

	manual := diagnostics.New(diagnostics.SeverityError, diagnostics.CategoryPermissions, "Permission denied", "x")
	relaunch := diagnostics.New(diagnostics.SeverityWarning, diagnostics.CategoryProcess, "Killed", "x").
		WithFix(diagnostics.FixRelaunch)
	reset := diagnostics.New(diagnostics.SeverityError, diagnostics.CategoryConfiguration, "Config", "x").
		WithFix(diagnostics.FixResetConfiguration)
	driver := diagnostics.DriverConnectionFailed("connect_failed asio.system")
	log.Add(context.Background(), manual, relaunch, reset, driver)

	ctx := context.Background()
	if err := s.AutoFix(ctx, "nope"); !errors.Is(err, ErrUnknownDiagnostic) {
		t.Errorf("AutoFix(unknown) error = %v, want ErrUnknownDiagnostic", err)
	}
	if err := s.AutoFix(ctx, manual.ID); !errors.Is(err, ErrNotAutoFixable) {
		t.Errorf("AutoFix(manual) error = %v, want ErrNotAutoFixable", err)
	}
	if err := s.AutoFix(ctx, driver.ID); !errors.Is(err, ErrRecoveryUnavailable) {
		t.Errorf("AutoFix(driver) error = %v, want ErrRecoveryUnavailable", err)
	}

	if err := s.AutoFix(ctx, relaunch.ID); err != nil {
		t.Fatalf("AutoFix(relaunch) error = %v", err)
	}
	if starts, stops := h.engine.counts(); starts != 2 || stops != 1 {
		t.Errorf("after relaunch fix starts=%d stops=%d, want 2 and 1", starts, stops)
	}

	if err := s.AutoFix(ctx, reset.ID); err != nil {
		t.Fatalf("AutoFix(reset) error = %v", err)
	}
	if h.store.resets != 1 {
		t.Errorf("resets = %d, want 1", h.store.resets)
	}
	if s.Status().State != StateRunning {
		t.Errorf("State = %s, want running", s.Status().State)
	}
}

func TestSaveMappings(t *testing.T) {
	h := newHarness()
	s := h.start(t)
	waitState(t, s, StateRunning)
	ctx := context.Background()
	mappings := []keymap.KeyMapping{{Input: "caps", Output: "esc"}}

	if _, err := s.SaveMappings(ctx, mappings); err != nil {
		t.Fatalf("SaveMappings() error = %v", err)
	}
	if _, stops := h.engine.counts(); stops != 0 {
		t.Errorf("stops = %d after unchanged save, want 0", stops)
	}

	h.store.changed = true
	res, err := s.SaveMappings(ctx, mappings)
	if err != nil {
		t.Fatalf("SaveMappings() error = %v", err)
	}
	if !res.Changed {
		t.Error("Changed = false, want true")
	}
	if starts, stops := h.engine.counts(); starts != 2 || stops != 1 {
		t.Errorf("starts=%d stops=%d after changed save, want 2 and 1", starts, stops)
	}
	if got := s.Status().Mappings; len(got) != 1 || got[0].Input != "caps" {
		t.Errorf("Mappings = %v", got)
	}

	h.store.saveErr = &keymap.RepairFailedError{OriginalErrors: []string{"bad"}}
	if _, err := s.SaveMappings(ctx, mappings); !errors.Is(err, keymap.ErrRepairFailed) {
		t.Fatalf("SaveMappings() error = %v, want ErrRepairFailed", err)
	}
	diags := s.Status().Diagnostics
	if len(diags) == 0 || diags[len(diags)-1].Title != "Configuration repair failed" {
		t.Errorf("Diagnostics = %+v, want repair failure", diags)
	}
}

func TestRetryAfterFixInvalidatesPermissions(t *testing.T) {
	h := newHarness()
	h.perms.granted = false
	s := h.start(t)
	waitState(t, s, StateNeedsHelp)

	h.perms.grant()
	if err := s.RetryAfterFix(context.Background()); err != nil {
		t.Fatalf("RetryAfterFix() error = %v", err)
	}
	if s.Status().State != StateRunning {
		t.Errorf("State = %s, want running", s.Status().State)
	}
	h.perms.mu.Lock()
	defer h.perms.mu.Unlock()
	if h.perms.invalidated != 1 {
		t.Errorf("invalidated = %d, want 1", h.perms.invalidated)
	}
}

func TestMinLaunchIntervalCoalesces(t *testing.T) {
	h := newHarness()
	h.cfg.MinLaunchInterval = 200 * time.Millisecond
	h.cfg.StartOnBoot = false
	s := h.start(t)
	waitState(t, s, StateStopped)

	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if err := s.Stop(ctx); err != nil {
		t.Fatal(err)
	}
	// Inside the interval: coalesced into one deferred attempt.
	for i := 0; i < 3; i++ {
		if err := s.Start(ctx); err != nil {
			t.Fatal(err)
		}
	}
	if starts, _ := h.engine.counts(); starts != 1 {
		t.Errorf("starts = %d inside interval, want 1", starts)
	}
	waitFor(t, "deferred start", func() bool { starts, _ := h.engine.counts(); return starts == 2 })
	time.Sleep(250 * time.Millisecond)
	if starts, _ := h.engine.counts(); starts != 2 {
		t.Errorf("starts = %d, want 2", starts)
	}
}

func TestCommandsAfterShutdown(t *testing.T) {
	h := newHarness()
	s := New(h.cfg)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	waitState(t, s, StateRunning)

	if err := s.Run(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Run() error = %v, want ErrAlreadyRunning", err)
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run() error = %v", err)
	}
	if err := s.Start(context.Background()); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Start() after shutdown error = %v, want ErrNotRunning", err)
	}
}

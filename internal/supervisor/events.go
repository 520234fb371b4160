package supervisor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nerrad567/keymap-core/internal/diagnostics"
	"github.com/nerrad567/keymap-core/internal/process"
	"github.com/nerrad567/keymap-core/internal/reconcile"
	"github.com/nerrad567/keymap-core/internal/recovery"
)

type event any

type exitEvent struct {
	status process.ExitStatus
}

type driverFailureEvent struct {
	line string
}

type recoveryDoneEvent struct {
	report recovery.Report
	err    error
}

func (s *Supervisor) post(ev event) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

// NotifyExit reports that an engine child exited. Safe to call from any
// goroutine; the exit is handled on the loop.
func (s *Supervisor) NotifyExit(st process.ExitStatus) {
	s.post(exitEvent{status: st})
}

// NotifyDriverFailure reports that the log watcher saw repeated driver
// connection failures.
func (s *Supervisor) NotifyDriverFailure(line string) {
	s.post(driverFailureEvent{line: line})
}

func (s *Supervisor) handleEvent(ctx context.Context, ev event) {
	switch e := ev.(type) {
	case exitEvent:
		s.handleExit(ctx, e.status)
	case driverFailureEvent:
		s.handleDriverFailure(ctx, e.line)
	case recoveryDoneEvent:
		s.handleRecoveryDone(ctx, e.report, e.err)
	default:
		s.logger.Warn("unknown supervisor event", "type", fmt.Sprintf("%T", ev))
	}
}

func (s *Supervisor) handleExit(ctx context.Context, st process.ExitStatus) {
	if st.Requested {
		s.logger.Debug("engine stopped on request", "pid", st.PID)
		return
	}

	diags := diagnostics.Diagnose(st.Code, strings.Join(st.Output, "\n"))
	s.addDiagnostics(ctx, diags...)

	switch {
	case s.intent.Kind != reconcile.IntentShouldRun || s.state == StateStopped:
		s.publish()
		return
	case s.recovering:
		s.logger.Debug("engine exit during recovery", "pid", st.PID, "code", st.Code)
		s.publish()
		return
	case diagnostics.RequiresRecovery(diags) && s.cfg.Recovery != nil:
		s.ownedPID = 0
		s.startRecovery(ctx, "engine_exit")
		return
	case st.PID != s.ownedPID || s.state != StateRunning:
		s.logger.Debug("exit of engine that is not current", "pid", st.PID, "owned", s.ownedPID)
		s.publish()
		return
	}

	reason := fmt.Sprintf("engine exited with code %d", st.Code)
	if len(diags) > 0 {
		reason = diags[0].Title
	}
	s.logger.Warn("engine exited unexpectedly", "pid", st.PID, "code", st.Code, "signal", st.Signal)
	s.handleFailure(ctx, reason)
}

func (s *Supervisor) handleDriverFailure(ctx context.Context, line string) {
	if s.intent.Kind != reconcile.IntentShouldRun || s.state == StateStopped {
		return
	}
	s.addDiagnostics(ctx, diagnostics.DriverConnectionFailed(line))
	s.startRecovery(ctx, "log_watch")
}

// startRecovery runs the recovery procedure off the loop. Its relaunch step
// comes back through Relaunch.
func (s *Supervisor) startRecovery(ctx context.Context, trigger string) {
	if s.cfg.Recovery == nil {
		s.handleFailure(ctx, "driver connection failed")
		return
	}
	if s.recovering || s.cfg.Recovery.InProgress() {
		s.logger.Debug("recovery already in progress", "trigger", trigger)
		return
	}

	s.stopRetry()
	s.recovering = true
	s.reason = "recovering from driver connection failure"
	s.publish()

	s.logger.Info("starting driver recovery", "trigger", trigger)
	go func() {
		rep, err := s.cfg.Recovery.Run(ctx, trigger)
		s.post(recoveryDoneEvent{report: rep, err: err})
	}()
}

func (s *Supervisor) handleRecoveryDone(ctx context.Context, rep recovery.Report, err error) {
	s.recovering = false
	s.lastRecov = &rep
	for _, o := range s.snapshotObservers() {
		if r, ok := o.(RecoveryObserver); ok {
			r.OnRecovery(rep)
		}
	}

	if s.intent.Kind != reconcile.IntentShouldRun {
		s.publish()
		return
	}

	if err != nil || !rep.Success() {
		if err == nil {
			err = errors.New(rep.Error)
		}
		s.addDiagnostics(ctx, diagnostics.New(diagnostics.SeverityError, diagnostics.CategorySystem,
			"Driver recovery failed",
			"The automatic driver recovery procedure did not bring the engine back.").
			WithDetails(err.Error()).
			WithAction("Restart the virtual keyboard driver or reboot, then retry"))
		if errors.Is(err, recovery.ErrDaemonNotRunning) {
			s.needsHelp(preLaunch, "Driver daemon did not restart; user action needed")
			return
		}
		s.handleFailure(ctx, "driver recovery failed: "+err.Error())
		return
	}

	s.failed = preNone
	s.transition(StateRunning, fmt.Sprintf("engine relaunched after driver recovery (pid %d)", s.ownedPID), false)
}

// healthTick verifies the owned engine while running.
func (s *Supervisor) healthTick(ctx context.Context) {
	if s.state != StateRunning || s.recovering || s.retryTimer != nil ||
		s.intent.Kind != reconcile.IntentShouldRun {
		return
	}

	owned, _, err := s.cfg.Reconciler.Scan(ctx)
	if err != nil {
		s.logger.Warn("health check scan failed", "error", err)
		return
	}
	if len(owned) == 0 {
		diags := s.diagnoseLog()
		s.addDiagnostics(ctx, diags...)
		if diagnostics.RequiresRecovery(diags) && s.cfg.Recovery != nil {
			s.ownedPID = 0
			s.startRecovery(ctx, "health_check")
			return
		}
		s.handleFailure(ctx, "engine process is no longer running")
		return
	}

	pid := owned[0].PID
	if s.cfg.Health != nil {
		if err := s.cfg.Health.Check(ctx, pid); err != nil {
			s.unhealthy(ctx, pid, err)
			return
		}
	}

	changed := s.ownedPID != pid
	s.ownedPID = pid
	if s.autoStart.Attempts() > 0 || s.externalFix.Attempts() > 0 {
		s.logger.Debug("engine healthy, resetting retry budgets")
		s.autoStart.Reset()
		s.externalFix.Reset()
		changed = true
	}
	if changed {
		s.publish()
	}
}

type recoverable interface {
	IsRecoverable() bool
}

func (s *Supervisor) unhealthy(ctx context.Context, pid int, err error) {
	s.logger.Warn("engine health check failed", "pid", pid, "error", err)

	var rec recoverable
	if errors.As(err, &rec) && !rec.IsRecoverable() {
		s.addDiagnostics(ctx, diagnostics.New(diagnostics.SeverityError, diagnostics.CategorySystem,
			"Engine health check failed",
			"The engine is in a state that restarting will not fix.").
			WithDetails(err.Error()).
			WithAction("Check the engine installation"))
		s.needsHelp(preBinary, "Engine health check failed: "+err.Error())
		return
	}

	s.addDiagnostics(ctx, diagnostics.New(diagnostics.SeverityWarning, diagnostics.CategoryProcess,
		"Engine unresponsive",
		"The engine process failed its health check and will be restarted.").
		WithDetails(err.Error()).
		WithFix(diagnostics.FixRelaunch))
	s.stopOwned(ctx)
	s.handleFailure(ctx, "engine health check failed")
}

// pollTick re-checks the failed precondition while in needsHelp.
func (s *Supervisor) pollTick(ctx context.Context) {
	if s.state != StateNeedsHelp || s.recovering || !s.externalFix.Allow() {
		return
	}
	if !s.preconditionCleared(ctx) {
		return
	}

	if _, err := s.externalFix.Record(); err != nil {
		s.logger.Info("last automatic retry after external fix", "attempts", s.externalFix.Attempts())
	}
	s.logger.Info("failed precondition cleared, retrying start", "precondition", s.failed)
	s.autoStart.Reset()
	s.attemptStart(ctx, "external_fix", false)
}

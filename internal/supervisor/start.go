package supervisor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nerrad567/keymap-core/internal/diagnostics"
	"github.com/nerrad567/keymap-core/internal/ownership"
	"github.com/nerrad567/keymap-core/internal/permissions"
	"github.com/nerrad567/keymap-core/internal/reconcile"
	"github.com/nerrad567/keymap-core/internal/retry"
)

const logTailLines = 50

// attemptStart sets intent to shouldRun and runs the precondition chain:
// binary present → permissions granted → no unresolved conflict → launch.
// quiet keeps the published state unchanged for internal retries.
func (s *Supervisor) attemptStart(ctx context.Context, source string, quiet bool) {
	s.intent = reconcile.ShouldRun(source)
	if quiet {
		s.reason = "restarting engine"
	} else {
		s.transition(StateStarting, "starting engine", false)
	}

	if !s.limiter.Allow() {
		s.logger.Info("start coalesced, minimum launch interval not elapsed", "source", source)
		s.scheduleRetry(s.cfg.MinLaunchInterval)
		return
	}

	if pre, reason, diags := s.checkPreconditions(ctx); pre != preNone {
		s.addDiagnostics(ctx, diags...)
		s.needsHelp(pre, reason)
		return
	}

	res, err := s.cfg.Reconciler.Reconcile(ctx, s.intent)
	s.recordTerminationFailures(ctx, res)
	if err != nil {
		s.logger.Warn("engine start failed", "source", source, "error", err)
		s.addDiagnostics(ctx, diagnostics.New(diagnostics.SeverityError, diagnostics.CategoryProcess,
			"Engine failed to start",
			"The engine was launched but no running engine process was found afterwards.").
			WithDetails(err.Error()).
			WithAction("Check the engine log for details"))
		s.handleFailure(ctx, "engine failed to start: "+err.Error())
		return
	}

	s.ownedPID = res.OwnedPID
	s.failed = preNone
	s.conflict = nil
	if s.cfg.Health != nil {
		if err := s.cfg.Health.WaitReady(ctx, readyTimeout); err != nil {
			s.logger.Warn("engine not accepting connections yet", "pid", s.ownedPID, "error", err)
		}
	}
	s.transition(StateRunning, fmt.Sprintf("engine running (pid %d)", s.ownedPID), false)
}

// checkPreconditions returns the first failed precondition with a
// user-actionable reason.
func (s *Supervisor) checkPreconditions(ctx context.Context) (precondition, string, []diagnostics.Diagnostic) {
	if s.cfg.BinaryPresent != nil {
		if err := s.cfg.BinaryPresent(); err != nil {
			return preBinary, "Engine binary is not available: " + err.Error(),
				[]diagnostics.Diagnostic{diagnostics.New(diagnostics.SeverityError, diagnostics.CategorySystem,
					"Engine binary missing",
					"The remapping engine could not be found or is not executable.").
					WithDetails(err.Error()).
					WithAction("Reinstall the engine or fix engine.binary in the configuration")}
		}
	}

	if s.cfg.Permissions != nil {
		if missing := permissions.Missing(ctx, s.cfg.Permissions); len(missing) > 0 {
			names := make([]string, len(missing))
			for i, k := range missing {
				names[i] = string(k)
			}
			list := strings.Join(names, ", ")
			return prePermissions, "Permission required: " + list,
				[]diagnostics.Diagnostic{diagnostics.New(diagnostics.SeverityError, diagnostics.CategoryPermissions,
					"Permission not granted",
					"The engine needs permissions that have not been granted: "+list+".").
					WithAction("Grant the permission in System Settings, then retry")}
		}
	}

	if s.cfg.Conflicts != nil {
		res, err := s.cfg.Conflicts.DetectConflicts(ctx)
		if err != nil {
			s.logger.Warn("conflict detection failed", "error", err)
			return preNone, "", nil
		}
		if len(res.ExternalProcesses) == 0 {
			s.conflict = nil
			return preNone, "", nil
		}
		s.conflict = &res

		switch res.RecommendedAction {
		case ownership.ActionAdoptExternal:
			p := res.ExternalProcesses[0]
			if s.cfg.Adopter != nil {
				if err := s.cfg.Adopter.Adopt(ctx, p); err != nil {
					s.logger.Warn("adopting external engine failed", "pid", p.PID, "error", err)
				} else {
					s.logger.Info("adopted external engine", "pid", p.PID)
				}
			}
		case ownership.ActionUserDecision:
			return preConflict, "Conflicting engine processes need your decision: " + res.Summary,
				[]diagnostics.Diagnostic{diagnostics.New(diagnostics.SeverityError, diagnostics.CategoryConflict,
					"Conflicting engine processes",
					"Other engine processes are running that keymapd did not start and cannot safely stop.").
					WithDetails(res.Summary).
					WithAction("Quit the other remapping tools, then retry")}
		}
	}
	return preNone, "", nil
}

// preconditionCleared reports whether the precondition that sent the
// supervisor to needsHelp has changed. Launch failures never clear on
// their own.
func (s *Supervisor) preconditionCleared(ctx context.Context) bool {
	switch s.failed {
	case preBinary:
		return s.cfg.BinaryPresent == nil || s.cfg.BinaryPresent() == nil
	case prePermissions:
		return s.cfg.Permissions == nil || len(permissions.Missing(ctx, s.cfg.Permissions)) == 0
	case preConflict:
		if s.cfg.Conflicts == nil {
			return true
		}
		res, err := s.cfg.Conflicts.DetectConflicts(ctx)
		return err == nil && res.RecommendedAction != ownership.ActionUserDecision
	default:
		return false
	}
}

// handleFailure charges the auto-start budget and either schedules a quiet
// retry or escalates to needsHelp.
func (s *Supervisor) handleFailure(_ context.Context, reason string) {
	s.ownedPID = 0
	delay, err := s.autoStart.Record()
	if errors.Is(err, retry.ErrExhausted) {
		s.needsHelp(preLaunch, fmt.Sprintf("%s (gave up after %d attempts)", reason, s.autoStart.Attempts()))
		return
	}
	s.reason = reason + ", retrying"
	s.scheduleRetry(delay)
	s.publish()
}

func (s *Supervisor) needsHelp(pre precondition, reason string) {
	s.stopRetry()
	s.failed = pre
	s.transition(StateNeedsHelp, reason, false)
}

func (s *Supervisor) recordTerminationFailures(ctx context.Context, res reconcile.Result) {
	for _, f := range res.Failures {
		s.addDiagnostics(ctx, diagnostics.New(diagnostics.SeverityWarning, diagnostics.CategoryConflict,
			"Could not stop engine process",
			fmt.Sprintf("Process %d could not be terminated.", f.PID)).
			WithDetails(f.Err).
			WithAction("Quit the process manually"))
	}
}

// stopOwned terminates owned engines without changing intent.
func (s *Supervisor) stopOwned(ctx context.Context) {
	res, err := s.cfg.Reconciler.Reconcile(ctx, reconcile.ShouldStop())
	if err != nil {
		s.logger.Warn("stopping engine failed", "error", err)
	}
	s.recordTerminationFailures(ctx, res)
	s.ownedPID = 0
}

// restart stops the owned engine and starts it again quietly.
func (s *Supervisor) restart(ctx context.Context, source string) {
	s.stopRetry()
	s.stopOwned(ctx)
	s.attemptStart(ctx, source, s.state == StateRunning)
}

func (s *Supervisor) restartIfRunning(ctx context.Context, why string) {
	if s.intent.Kind != reconcile.IntentShouldRun || s.state != StateRunning || s.recovering {
		return
	}
	s.logger.Info("restarting engine", "reason", why)
	s.restart(ctx, "config_change")
}

// diagnoseLog classifies the tail of the engine log.
func (s *Supervisor) diagnoseLog() []diagnostics.Diagnostic {
	if s.cfg.EngineLog == nil {
		return nil
	}
	lines, err := s.cfg.EngineLog.TailLog(logTailLines)
	if err != nil {
		s.logger.Debug("reading engine log failed", "error", err)
		return nil
	}
	return diagnostics.DiagnoseOutput(strings.Join(lines, "\n"))
}

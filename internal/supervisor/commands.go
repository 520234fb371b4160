package supervisor

import (
	"context"
	"errors"
	"fmt"

	"github.com/nerrad567/keymap-core/internal/diagnostics"
	"github.com/nerrad567/keymap-core/internal/keymap"
	"github.com/nerrad567/keymap-core/internal/ownership"
	"github.com/nerrad567/keymap-core/internal/reconcile"
)

type request struct {
	fn    func(ctx context.Context) (any, error)
	reply chan response
}

type response struct {
	value any
	err   error
}

type sourceKey struct{}

// WithSource tags ctx with the origin of a command ("api", "mqtt", "cli").
func WithSource(ctx context.Context, source string) context.Context {
	return context.WithValue(ctx, sourceKey{}, source)
}

// SourceFrom returns the command origin stored by WithSource, or "user".
func SourceFrom(ctx context.Context) string {
	if s, ok := ctx.Value(sourceKey{}).(string); ok && s != "" {
		return s
	}
	return "user"
}

// call runs fn on the supervisor loop and waits for its result. If ctx ends
// first the step still completes on the loop; only the wait is abandoned.
func (s *Supervisor) call(ctx context.Context, name string, fn func(ctx context.Context) (any, error)) (any, error) {
	req := request{fn: fn, reply: make(chan response, 1)}
	select {
	case s.requests <- req:
	case <-s.done:
		return nil, ErrNotRunning
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case resp := <-req.reply:
		s.notifyCommand(name, SourceFrom(ctx), resp.err)
		return resp.value, resp.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Supervisor) notifyCommand(name, source string, err error) {
	for _, o := range s.snapshotObservers() {
		if c, ok := o.(CommandObserver); ok {
			c.OnCommand(name, source, err)
		}
	}
}

// Start sets intent to shouldRun and starts the engine now. Both retry
// budgets are reset.
func (s *Supervisor) Start(ctx context.Context) error {
	source := SourceFrom(ctx)
	_, err := s.call(ctx, "start", func(ctx context.Context) (any, error) {
		s.autoStart.Reset()
		s.externalFix.Reset()
		s.stopRetry()
		if s.state == StateRunning && s.ownedPID > 0 && !s.recovering {
			s.logger.Debug("start requested while running", "pid", s.ownedPID)
			return nil, nil
		}
		s.attemptStart(ctx, source, false)
		return nil, nil
	})
	return err
}

// Stop sets intent to shouldStop and terminates owned engine processes.
// External processes are left alone.
func (s *Supervisor) Stop(ctx context.Context) error {
	_, err := s.call(ctx, "stop", func(ctx context.Context) (any, error) {
		return nil, s.stop(ctx)
	})
	return err
}

func (s *Supervisor) stop(ctx context.Context) error {
	s.stopRetry()
	s.intent = reconcile.ShouldStop()
	s.failed = preNone
	s.conflict = nil

	res, err := s.cfg.Reconciler.Reconcile(ctx, s.intent)
	s.ownedPID = 0
	if err != nil {
		s.transition(StateStopped, "stopped with errors: "+err.Error(), false)
		return fmt.Errorf("stopping engine: %w", err)
	}
	if len(res.Failures) > 0 {
		reason := fmt.Sprintf("stopped, but %d engine process(es) could not be terminated", len(res.Failures))
		s.transition(StateStopped, reason, false)
		return nil
	}
	s.transition(StateStopped, "stopped by user", false)
	return nil
}

// RetryAfterFix is called after the user fixed something outside keymapd,
// typically granting a permission. Cached permission answers are dropped
// and both retry budgets reset.
func (s *Supervisor) RetryAfterFix(ctx context.Context) error {
	_, err := s.call(ctx, "retry", func(ctx context.Context) (any, error) {
		if s.cfg.Permissions != nil {
			s.cfg.Permissions.Invalidate()
		}
		s.autoStart.Reset()
		s.externalFix.Reset()
		s.stopRetry()
		s.attemptStart(ctx, "retry_after_fix", false)
		return nil, nil
	})
	return err
}

// SaveMappings runs the configuration pipeline. A running engine is
// restarted when the committed text changed. A *keymap.RepairFailedError
// means the safe default is now live.
func (s *Supervisor) SaveMappings(ctx context.Context, mappings []keymap.KeyMapping) (keymap.SaveResult, error) {
	v, err := s.call(ctx, "save_mappings", func(ctx context.Context) (any, error) {
		res, err := s.cfg.Keymap.Save(ctx, mappings)
		var rf *keymap.RepairFailedError
		switch {
		case errors.As(err, &rf):
			s.addDiagnostics(ctx, repairFailedDiagnostic(rf))
			s.restartIfRunning(ctx, "configuration reset to safe default")
			s.publish()
			return res, err
		case err != nil:
			return res, err
		}
		if res.Changed {
			s.restartIfRunning(ctx, "configuration changed")
		}
		s.publish()
		return res, nil
	})
	res, _ := v.(keymap.SaveResult) //nolint:errcheck // zero value on error
	return res, err
}

// ResetConfig commits the safe default configuration.
func (s *Supervisor) ResetConfig(ctx context.Context) error {
	_, err := s.call(ctx, "reset_config", func(ctx context.Context) (any, error) {
		return nil, s.resetConfig(ctx)
	})
	return err
}

func (s *Supervisor) resetConfig(ctx context.Context) error {
	if err := s.cfg.Keymap.Reset(ctx); err != nil {
		return fmt.Errorf("resetting configuration: %w", err)
	}
	s.restartIfRunning(ctx, "configuration reset")
	s.publish()
	return nil
}

// AutoFix applies the fix attached to one diagnostic.
func (s *Supervisor) AutoFix(ctx context.Context, id string) error {
	_, err := s.call(ctx, "auto_fix", func(ctx context.Context) (any, error) {
		d, err := s.cfg.Diagnostics.Get(id)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrUnknownDiagnostic, id)
		}
		if !d.CanAutoFix || d.Fix == diagnostics.FixNone {
			return nil, fmt.Errorf("%w: %s", ErrNotAutoFixable, d.Title)
		}

		s.logger.Info("applying auto-fix", "diagnostic", id, "fix", d.Fix)
		switch d.Fix {
		case diagnostics.FixRelaunch:
			s.autoStart.Reset()
			s.stopRetry()
			if s.ownedPID > 0 {
				s.restart(ctx, "auto_fix")
				return nil, nil
			}
			s.attemptStart(ctx, "auto_fix", false)
			return nil, nil
		case diagnostics.FixResetConfiguration:
			if err := s.cfg.Keymap.Reset(ctx); err != nil {
				return nil, fmt.Errorf("resetting configuration: %w", err)
			}
			s.autoStart.Reset()
			s.restart(ctx, "auto_fix")
			return nil, nil
		case diagnostics.FixDriverRecovery:
			if s.cfg.Recovery == nil {
				return nil, ErrRecoveryUnavailable
			}
			s.startRecovery(ctx, "auto_fix")
			return nil, nil
		default:
			return nil, fmt.Errorf("%w: unknown fix %q", ErrNotAutoFixable, d.Fix)
		}
	})
	return err
}

// Conflicts runs the conflict resolver on the loop and returns its result.
func (s *Supervisor) Conflicts(ctx context.Context) (ownership.ConflictResolution, error) {
	v, err := s.call(ctx, "detect_conflicts", func(ctx context.Context) (any, error) {
		return s.cfg.Conflicts.DetectConflicts(ctx)
	})
	res, _ := v.(ownership.ConflictResolution) //nolint:errcheck // zero value on error
	return res, err
}

// Relaunch starts the engine on behalf of the recovery controller.
func (s *Supervisor) Relaunch(ctx context.Context) error {
	_, err := s.call(ctx, "relaunch", func(ctx context.Context) (any, error) {
		if s.intent.Kind != reconcile.IntentShouldRun {
			return nil, fmt.Errorf("engine intent is %s", s.intent.Kind)
		}
		res, err := s.cfg.Reconciler.Reconcile(ctx, s.intent)
		if err != nil {
			return nil, err
		}
		s.ownedPID = res.OwnedPID
		return nil, nil
	})
	return err
}

func repairFailedDiagnostic(rf *keymap.RepairFailedError) diagnostics.Diagnostic {
	details := fmt.Sprintf("original errors: %v; repair errors: %v", rf.OriginalErrors, rf.RepairErrors)
	if rf.BackupPath != "" {
		details += "; rejected configuration saved to " + rf.BackupPath
	}
	return diagnostics.New(diagnostics.SeverityWarning, diagnostics.CategoryConfiguration,
		"Configuration repair failed",
		"The generated configuration was rejected and could not be repaired. The safe default is active.").
		WithDetails(details).
		WithAction("Review the rejected mappings and save them again")
}

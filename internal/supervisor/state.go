package supervisor

import (
	"time"

	"github.com/nerrad567/keymap-core/internal/diagnostics"
	"github.com/nerrad567/keymap-core/internal/keymap"
	"github.com/nerrad567/keymap-core/internal/ownership"
	"github.com/nerrad567/keymap-core/internal/reconcile"
	"github.com/nerrad567/keymap-core/internal/recovery"
)

// State is the published lifecycle state.
type State string

const (
	StateStarting  State = "starting"
	StateRunning   State = "running"
	StateNeedsHelp State = "needsHelp"
	StateStopped   State = "stopped"
)

// precondition names the step of the start chain that failed.
type precondition string

const (
	preNone        precondition = ""
	preBinary      precondition = "binary"
	prePermissions precondition = "permissions"
	preConflict    precondition = "conflict"
	preLaunch      precondition = "launch"
)

// Status is the read-only view published to callers.
type Status struct {
	State               State                         `json:"state"`
	Reason              string                        `json:"reason,omitempty"`
	UserActionRequired  bool                          `json:"user_action_required"`
	Intent              reconcile.Intent              `json:"intent"`
	OwnedPID            int                           `json:"owned_pid,omitempty"`
	Recovering          bool                          `json:"recovering"`
	Conflict            *ownership.ConflictResolution `json:"conflict,omitempty"`
	Diagnostics         []diagnostics.Diagnostic      `json:"diagnostics"`
	Mappings            []keymap.KeyMapping           `json:"mappings"`
	LastConfigUpdate    time.Time                     `json:"last_config_update"`
	ConfigFingerprint   string                        `json:"config_fingerprint,omitempty"`
	AutoStartAttempts   int                           `json:"auto_start_attempts"`
	ExternalFixAttempts int                           `json:"external_fix_attempts"`
	LastRecovery        *recovery.Report              `json:"last_recovery,omitempty"`
	UpdatedAt           time.Time                     `json:"updated_at"`
}

// StatusObserver receives every published Status. Calls come from the
// supervisor loop and must not block.
type StatusObserver interface {
	OnStatus(Status)
}

// TransitionObserver is optionally implemented by observers interested in
// state changes only.
type TransitionObserver interface {
	OnTransition(from, to State, reason string)
}

// DiagnosticObserver is optionally implemented by observers that record
// each new diagnostic.
type DiagnosticObserver interface {
	OnDiagnostic(diagnostics.Diagnostic)
}

// RecoveryObserver is optionally implemented by observers that record
// recovery runs.
type RecoveryObserver interface {
	OnRecovery(recovery.Report)
}

// CommandObserver is optionally implemented by observers that record the
// commands issued to the supervisor. It is called on the caller's goroutine.
type CommandObserver interface {
	OnCommand(name, source string, err error)
}

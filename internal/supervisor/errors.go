package supervisor

import "errors"

var (
	// ErrNotRunning is returned by commands when the supervisor loop is not running.
	ErrNotRunning = errors.New("supervisor not running")

	// ErrAlreadyRunning is returned when Run is called twice.
	ErrAlreadyRunning = errors.New("supervisor already running")

	// ErrUnknownDiagnostic is returned by AutoFix for an ID not in the log.
	ErrUnknownDiagnostic = errors.New("unknown diagnostic")

	// ErrNotAutoFixable is returned by AutoFix for a diagnostic that needs a human.
	ErrNotAutoFixable = errors.New("diagnostic is not auto-fixable")

	// ErrRecoveryUnavailable is returned when driver recovery is requested
	// but no recovery controller is configured.
	ErrRecoveryUnavailable = errors.New("driver recovery not configured")
)

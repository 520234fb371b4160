package recovery

import "errors"

var (
	// ErrRecoveryInProgress is returned when Run is called during a run.
	ErrRecoveryInProgress = errors.New("recovery already in progress")

	// ErrDaemonNotRunning is returned when the driver daemon did not come
	// back after a restart. The engine is not relaunched.
	ErrDaemonNotRunning = errors.New("driver daemon not running after restart")
)

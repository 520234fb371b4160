package reconcile

import "errors"

var (
	// ErrProcessStartFailed is returned when no owned engine process is
	// observed after a launch.
	ErrProcessStartFailed = errors.New("process start failed")

	// ErrNoLauncher is returned when a plan needs a launch but none is set.
	ErrNoLauncher = errors.New("no launcher configured")
)

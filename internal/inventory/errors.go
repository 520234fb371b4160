package inventory

import "errors"

var (
	// ErrInvalidPID is returned for pids that can never name a process.
	ErrInvalidPID = errors.New("invalid pid")

	// ErrStillRunning is returned when a process survives SIGKILL.
	ErrStillRunning = errors.New("process still running after kill")
)

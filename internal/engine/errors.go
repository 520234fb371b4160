package engine

import "errors"

var (
	// ErrBinaryMissing is returned when the engine executable does not exist.
	ErrBinaryMissing = errors.New("engine binary not found")

	// ErrNotExecutable is returned when the engine binary lacks execute permission.
	ErrNotExecutable = errors.New("engine binary is not executable")

	// ErrInvalidSettings is returned when engine settings fail validation.
	ErrInvalidSettings = errors.New("invalid engine settings")

	// ErrUnhealthy is wrapped by every HealthError.
	ErrUnhealthy = errors.New("engine unhealthy")

	// ErrNotReady is returned when the engine port never accepted a connection.
	ErrNotReady = errors.New("engine not ready")
)

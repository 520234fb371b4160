package privileged

import "errors"

var (
	// ErrUserCancelled is returned when the user declines the privilege prompt.
	ErrUserCancelled = errors.New("user cancelled the privilege prompt")

	// ErrCommandFailed is returned when the command ran and exited non-zero.
	ErrCommandFailed = errors.New("privileged command failed")

	// ErrUnknownMode is returned by New for an unsupported mode.
	ErrUnknownMode = errors.New("unknown privileged mode")
)

package diagnostics

import "errors"

// ErrNotFound is returned when a diagnostic ID is not in the log.
var ErrNotFound = errors.New("diagnostic not found")

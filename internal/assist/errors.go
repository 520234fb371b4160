package assist

import "errors"

var (
	// ErrEmptyResponse is returned when the service answers without content.
	ErrEmptyResponse = errors.New("assist service returned no configuration")

	// ErrNotConfigured is returned by New when no API key is set.
	ErrNotConfigured = errors.New("assist service not configured")
)

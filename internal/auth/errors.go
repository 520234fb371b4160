package auth

import "errors"

var (
	// ErrTokenInvalid is returned for tokens that fail signature, expiry or
	// claim checks.
	ErrTokenInvalid = errors.New("invalid token")

	// ErrUnknownRole is returned when a role name is not recognised.
	ErrUnknownRole = errors.New("unknown role")

	// ErrNoSecret is returned when signing is attempted without a secret.
	ErrNoSecret = errors.New("jwt secret is not configured")
)

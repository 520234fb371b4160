package ownership

import "errors"

var (
	// ErrInvalidSignature is returned for a signature that cannot be compiled.
	ErrInvalidSignature = errors.New("invalid signature")

	// ErrUnknownKind is returned when a stored ownership kind is not recognised.
	ErrUnknownKind = errors.New("unknown ownership kind")
)

// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across repo/service/transport layers.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrForbidden indicates a social-graph precondition failed (e.g., no longer friends)
	// or the caller acts on behalf of someone else.
	ErrForbidden = errors.New("forbidden")

	// ErrInvalid indicates malformed input or a violated invariant (short sequence, duplicate sequence).
	ErrInvalid = errors.New("invalid")

	// ErrUnauthorized indicates failed authentication.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrAlreadyExists indicates a unique constraint violation (e.g., combination id taken).
	ErrAlreadyExists = errors.New("already exists")
)

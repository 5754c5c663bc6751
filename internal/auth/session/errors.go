package session

import "errors"

// Public, stable errors for callers.
var (
	// ErrInvalidToken covers every verification failure: bad signature, wrong
	// method, wrong issuer, malformed, or expired. Callers must not
	// distinguish causes to avoid token probing.
	ErrInvalidToken = errors.New("invalid token")

	// ErrConfig indicates invalid or missing session configuration.
	ErrConfig = errors.New("invalid session config")
)

package auth

import "errors"

// Sentinel errors returned by the middleware and checkers; HTTP handlers
// map them to 401/403 without inspecting messages.
var (
	ErrUnauthorized = errors.New("auth: unauthorized")
	ErrForbidden    = errors.New("auth: forbidden")
	ErrInvalidToken = errors.New("auth: invalid token")
)

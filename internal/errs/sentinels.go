// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across api/session/channel layers.
var (
	// ErrUnauthorized indicates the backend rejected the credential.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNoToken indicates no persisted or in-memory token is available.
	ErrNoToken = errors.New("no token")
)

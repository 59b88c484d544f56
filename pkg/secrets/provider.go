// Package secrets provides named-secret lookup for connection credentials
// (Redis and Sentinel passwords) across different backends.
package secrets

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a named secret does not exist in the backend.
var ErrNotFound = errors.New("secret not found")

// Provider defines secret lookup by name.
type Provider interface {
	// Lookup resolves a named secret. Returns ErrNotFound when the secret
	// does not exist.
	Lookup(ctx context.Context, name string) (string, error)
}

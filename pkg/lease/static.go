package lease

import (
	"context"
	"time"
)

// StaticBackend grants and keeps the lease unconditionally. Used for
// single-replica deployments and local development where leader election
// is not needed.
type StaticBackend struct{}

// Ensure StaticBackend implements Backend.
var _ Backend = StaticBackend{}

// Acquire always succeeds.
func (StaticBackend) Acquire(_ context.Context, _, _ string, _ time.Duration) (bool, error) {
	return true, nil
}

// Renew always succeeds.
func (StaticBackend) Renew(_ context.Context, _, _ string, _ time.Duration) (bool, error) {
	return true, nil
}

// Release is a no-op.
func (StaticBackend) Release(_ context.Context, _, _ string) error {
	return nil
}

// Package lease implements leader election for scheduler replicas using a
// renewable TTL lease held in an external lock service. At most one replica
// holds the lease at a time; the holder dispatches scheduled tasks while the
// others stand by and take over when the lease expires unrenewed.
package lease

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
)

// Default lease parameters. The interval should divide evenly into the TTL
// for clean tolerance arithmetic, though this is not enforced.
const (
	DefaultKey      = "beat-fleet:leader"
	DefaultTTL      = 60 * time.Second
	DefaultInterval = 15 * time.Second
)

// Config holds lease timing parameters. Immutable once the controller is built.
type Config struct {
	// Key names the mutual-exclusion resource in the lock backend.
	Key string

	// TTL is how long the backend holds the lease absent renewal.
	TTL time.Duration

	// Interval is the renewal cadence. It equals the host loop's tick cadence.
	Interval time.Duration
}

// DefaultConfig returns recommended lease parameters.
func DefaultConfig() Config {
	return Config{
		Key:      DefaultKey,
		TTL:      DefaultTTL,
		Interval: DefaultInterval,
	}
}

// Validate checks lease timing parameters.
func (c Config) Validate() error {
	if c.Key == "" {
		return fmt.Errorf("lease key is required")
	}
	if c.TTL <= 0 {
		return fmt.Errorf("lease TTL must be positive, got %v", c.TTL)
	}
	if c.Interval <= 0 {
		return fmt.Errorf("lease interval must be positive, got %v", c.Interval)
	}
	return nil
}

// renewTolerance is the number of consecutive renewal failures absorbed before
// the lease is conceded, leaving at least one interval of slack before the
// backend's own TTL would expire the lease independently.
func (c Config) renewTolerance() int {
	t := int(c.TTL/c.Interval) - 1
	if t < 1 {
		t = 1
	}
	return t
}

// NewIdentity returns a process-unique ownership token derived from host name,
// pid and a random component. Generated once per process and passed as the
// ownership proof on every acquire, renew and release call.
func NewIdentity() string {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return fmt.Sprintf("%s-%d-%s", hostname, os.Getpid(), uuid.NewString())
}

// Backend defines the lock service operations the controller needs. All
// operations are non-blocking at the lock-semantics level: acquisition polls
// once and returns rather than waiting for the resource to free up.
type Backend interface {
	// Acquire attempts a set-if-absent on key with the given TTL.
	// Returns true if this token now owns the lease.
	Acquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error)

	// Renew extends the lease TTL if token is still the current owner.
	// Returns false if ownership was lost (expired or taken by another token).
	Renew(ctx context.Context, key, token string, ttl time.Duration) (bool, error)

	// Release deletes the lease if token is the current owner, else no-op.
	Release(ctx context.Context, key, token string) error
}

// TickFunc is the host engine's per-cycle due-task pass. It returns the delay
// the engine would like to sleep before the next cycle.
type TickFunc func(ctx context.Context) time.Duration

package lease

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/Shavakan/beat-fleet/pkg/logging"
)

var ctrlLog = logging.WithComponent(logging.LogTypeLease, "controller")

// Metrics defines metric publishing operations used by the controller.
type Metrics interface {
	PublishLeaderStatus(ctx context.Context, held bool) error
	PublishLeaseAcquired(ctx context.Context) error
	PublishRenewalFailure(ctx context.Context) error
	PublishLeadershipLost(ctx context.Context) error
}

// Controller owns one named lease. Invoked synchronously once per host-loop
// cycle, it decides whether to acquire, renew or do nothing, and returns the
// delay the host may sleep before the next invocation. Backend failures are
// absorbed into the state machine; no error ever escapes Tick or Close.
type Controller struct {
	cfg       Config
	backend   Backend
	token     string
	threshold int
	clock     clockwork.Clock
	metrics   Metrics

	mu          sync.RWMutex
	held        bool
	failures    int
	lastRenewal time.Time
}

// NewController creates a controller for the given lease. An empty token is
// replaced by a fresh process identity.
func NewController(cfg Config, backend Backend, token string) (*Controller, error) {
	return newController(cfg, backend, token, clockwork.NewRealClock())
}

// NewControllerWithClock creates a controller with an explicit clock (for testing).
func NewControllerWithClock(cfg Config, backend Backend, token string, clock clockwork.Clock) (*Controller, error) {
	return newController(cfg, backend, token, clock)
}

func newController(cfg Config, backend Backend, token string, clock clockwork.Clock) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid lease config: %w", err)
	}
	if backend == nil {
		return nil, fmt.Errorf("lease backend is required")
	}
	if token == "" {
		token = NewIdentity()
	}
	return &Controller{
		cfg:       cfg,
		backend:   backend,
		token:     token,
		threshold: cfg.renewTolerance(),
		clock:     clock,
	}, nil
}

// SetMetrics sets the metrics publisher for leadership events.
func (c *Controller) SetMetrics(m Metrics) {
	c.metrics = m
}

// Token returns the ownership token this controller presents to the backend.
func (c *Controller) Token() string {
	return c.token
}

// Held reports whether this replica currently considers itself the leader.
func (c *Controller) Held() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.held
}

// Tick runs one control cycle. While the lease is held and fresh it invokes
// host, the engine's own due-task pass; otherwise the pass is skipped for
// this cycle. The returned delay never exceeds the time remaining until the
// lease needs renewing, so the host loop cannot sleep past a renewal point.
func (c *Controller) Tick(ctx context.Context, host TickFunc) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.held {
		if c.sinceRenewal() < c.cfg.Interval {
			// Lease still fresh, skip the backend round trip this cycle.
		} else if !c.renew(ctx) {
			return c.cfg.Interval
		}
	} else if !c.acquire(ctx) {
		ctrlLog.Debug("lease busy, standing by",
			slog.String(logging.KeyLeaseKey, c.cfg.Key),
			slog.Duration(logging.KeyInterval, c.cfg.Interval))
		return c.cfg.Interval
	}

	wait := c.cfg.Interval - c.sinceRenewal()
	if host != nil {
		if hostWait := host(ctx); hostWait < wait {
			wait = hostWait
		}
	}
	if wait < 0 {
		wait = 0
	}
	return wait
}

// Close releases the lease if held. Backend errors are logged and swallowed:
// an unreleased lease simply expires via TTL. The controller must not be
// reused afterward; the caller shuts down its engine regardless of outcome.
func (c *Controller) Close(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.held {
		return
	}
	if err := c.backend.Release(ctx, c.cfg.Key, c.token); err != nil {
		ctrlLog.Error("failed to release lease, leaving it to expire",
			slog.String(logging.KeyLeaseKey, c.cfg.Key),
			slog.String(logging.KeyError, err.Error()))
	} else {
		ctrlLog.Info("released lease",
			slog.String(logging.KeyLeaseKey, c.cfg.Key))
	}
	c.held = false
	c.publishStatus(ctx)
}

func (c *Controller) sinceRenewal() time.Duration {
	return c.clock.Since(c.lastRenewal)
}

func (c *Controller) acquire(ctx context.Context) bool {
	ok, err := c.backend.Acquire(ctx, c.cfg.Key, c.token, c.cfg.TTL)
	if err != nil {
		ctrlLog.Debug("lease acquire attempt failed",
			slog.String(logging.KeyLeaseKey, c.cfg.Key),
			slog.String(logging.KeyError, err.Error()))
		return false
	}
	if !ok {
		return false
	}
	c.lastRenewal = c.clock.Now()
	c.failures = 0
	if !c.held {
		ctrlLog.Info("acquired lease, becoming leader",
			slog.String(logging.KeyLeaseKey, c.cfg.Key),
			slog.String(logging.KeyToken, c.token))
		if c.metrics != nil {
			_ = c.metrics.PublishLeaseAcquired(ctx)
		}
	}
	c.held = true
	c.publishStatus(ctx)
	return true
}

func (c *Controller) renew(ctx context.Context) bool {
	ok, err := c.backend.Renew(ctx, c.cfg.Key, c.token, c.cfg.TTL)
	if ok && err == nil {
		c.failures = 0
		c.lastRenewal = c.clock.Now()
		ctrlLog.Debug("renewed lease",
			slog.String(logging.KeyLeaseKey, c.cfg.Key))
		return true
	}

	c.failures++
	if c.metrics != nil {
		_ = c.metrics.PublishRenewalFailure(ctx)
	}

	if c.failures < c.threshold {
		ctrlLog.Warn("lease renewal failed, keeping lease",
			slog.String(logging.KeyLeaseKey, c.cfg.Key),
			slog.Int(logging.KeyFailures, c.failures),
			slog.Int(logging.KeyThreshold, c.threshold),
			slog.String(logging.KeyError, errText(err)))
		return false
	}

	ctrlLog.Warn("lease renewal failed, stepping down",
		slog.String(logging.KeyLeaseKey, c.cfg.Key),
		slog.Int(logging.KeyFailures, c.failures),
		slog.String(logging.KeyError, errText(err)))
	c.held = false
	if c.metrics != nil {
		_ = c.metrics.PublishLeadershipLost(ctx)
	}
	c.publishStatus(ctx)
	return false
}

func (c *Controller) publishStatus(ctx context.Context) {
	if c.metrics != nil {
		_ = c.metrics.PublishLeaderStatus(ctx, c.held)
	}
}

func errText(err error) string {
	if err == nil {
		return "lost ownership"
	}
	return err.Error()
}

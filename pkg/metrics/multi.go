package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Shavakan/beat-fleet/pkg/logging"
)

const publishTimeout = 5 * time.Second

var metricsLog = logging.WithComponent(logging.LogTypeMetrics, "multi")

// MultiPublisher publishes metrics to multiple backends simultaneously.
// All Publisher interface methods are documented on the Publisher interface.
type MultiPublisher struct {
	publishers []Publisher
}

// Ensure MultiPublisher implements Publisher.
var _ Publisher = (*MultiPublisher)(nil)

// NewMultiPublisher creates a publisher that fans out to multiple backends.
func NewMultiPublisher(publishers ...Publisher) *MultiPublisher {
	return &MultiPublisher{publishers: publishers}
}

// Add adds a publisher to the fan-out list.
func (m *MultiPublisher) Add(p Publisher) {
	m.publishers = append(m.publishers, p)
}

// Publishers returns the list of configured publishers.
func (m *MultiPublisher) Publishers() []Publisher {
	return m.publishers
}

// Close closes all child publishers.
func (m *MultiPublisher) Close() error {
	var errs []error
	for _, p := range m.publishers {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *MultiPublisher) publishAll(fn func(p Publisher) error) error {
	var wg sync.WaitGroup
	var mu sync.Mutex
	var errs []error

	for _, p := range m.publishers {
		wg.Add(1)
		go func(pub Publisher) {
			defer wg.Done()
			done := make(chan error, 1)
			go func() {
				done <- fn(pub)
			}()
			select {
			case err := <-done:
				if err != nil {
					metricsLog.Warn("metrics publish error", slog.String("error", err.Error()))
					mu.Lock()
					errs = append(errs, err)
					mu.Unlock()
				}
			case <-time.After(publishTimeout):
				metricsLog.Warn("metrics publish timeout", slog.Duration("timeout", publishTimeout))
				mu.Lock()
				errs = append(errs, fmt.Errorf("publish timeout after %v", publishTimeout))
				mu.Unlock()
			}
		}(p)
	}
	wg.Wait()
	return errors.Join(errs...)
}

// Publisher interface implementation below.
// All methods are documented on the Publisher interface.

func (m *MultiPublisher) PublishLeaderStatus(ctx context.Context, held bool) error { //nolint:revive
	return m.publishAll(func(p Publisher) error {
		return p.PublishLeaderStatus(ctx, held)
	})
}

func (m *MultiPublisher) PublishLeaseAcquired(ctx context.Context) error { //nolint:revive
	return m.publishAll(func(p Publisher) error {
		return p.PublishLeaseAcquired(ctx)
	})
}

func (m *MultiPublisher) PublishRenewalFailure(ctx context.Context) error { //nolint:revive
	return m.publishAll(func(p Publisher) error {
		return p.PublishRenewalFailure(ctx)
	})
}

func (m *MultiPublisher) PublishLeadershipLost(ctx context.Context) error { //nolint:revive
	return m.publishAll(func(p Publisher) error {
		return p.PublishLeadershipLost(ctx)
	})
}

func (m *MultiPublisher) PublishTaskDispatched(ctx context.Context, task string) error { //nolint:revive
	return m.publishAll(func(p Publisher) error {
		return p.PublishTaskDispatched(ctx, task)
	})
}

func (m *MultiPublisher) PublishDispatchFailure(ctx context.Context, task string) error { //nolint:revive
	return m.publishAll(func(p Publisher) error {
		return p.PublishDispatchFailure(ctx, task)
	})
}

func (m *MultiPublisher) PublishTickDuration(ctx context.Context, seconds float64) error { //nolint:revive
	return m.publishAll(func(p Publisher) error {
		return p.PublishTickDuration(ctx, seconds)
	})
}

func (m *MultiPublisher) PublishQueueDepth(ctx context.Context, depth float64) error { //nolint:revive
	return m.publishAll(func(p Publisher) error {
		return p.PublishQueueDepth(ctx, depth)
	})
}

func (m *MultiPublisher) PublishServiceCheck(ctx context.Context, name string, status int, message string) error { //nolint:revive
	return m.publishAll(func(p Publisher) error {
		return p.PublishServiceCheck(ctx, name, status, message)
	})
}

func (m *MultiPublisher) PublishEvent(ctx context.Context, title, text, alertType string, tags []string) error { //nolint:revive
	return m.publishAll(func(p Publisher) error {
		return p.PublishEvent(ctx, title, text, alertType, tags)
	})
}

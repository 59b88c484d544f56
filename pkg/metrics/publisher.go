// Package metrics provides metrics publishing abstractions and implementations.
package metrics

import "context"

// Publisher defines the interface for publishing metrics to various backends.
type Publisher interface {
	// Close releases any resources held by the publisher.
	// Implementations that don't need cleanup should return nil.
	Close() error

	// PublishLeaderStatus publishes whether this replica holds the lease (gauge 0/1).
	PublishLeaderStatus(ctx context.Context, held bool) error

	// PublishLeaseAcquired publishes a leadership-gained event.
	PublishLeaseAcquired(ctx context.Context) error

	// PublishRenewalFailure publishes a lease renewal failure event.
	PublishRenewalFailure(ctx context.Context) error

	// PublishLeadershipLost publishes a leadership-lost event.
	PublishLeadershipLost(ctx context.Context) error

	// PublishTaskDispatched publishes a dispatched task event with task dimension.
	PublishTaskDispatched(ctx context.Context, task string) error

	// PublishDispatchFailure publishes a failed dispatch event with task dimension.
	PublishDispatchFailure(ctx context.Context, task string) error

	// PublishTickDuration publishes the duration of one scheduler tick in seconds.
	PublishTickDuration(ctx context.Context, seconds float64) error

	// PublishQueueDepth publishes the current task stream depth as a gauge metric.
	PublishQueueDepth(ctx context.Context, depth float64) error

	// PublishServiceCheck publishes a service health check.
	// status: 0=OK, 1=Warning, 2=Critical, 3=Unknown
	PublishServiceCheck(ctx context.Context, name string, status int, message string) error

	// PublishEvent publishes a notable event (e.g., leadership change).
	// alertType: "info", "warning", "error", "success"
	PublishEvent(ctx context.Context, title, text, alertType string, tags []string) error
}

// NoopPublisher is a no-op implementation of Publisher for testing or disabled metrics.
// All methods are documented on the Publisher interface.
type NoopPublisher struct{}

//nolint:revive // Interface implementation - documented on Publisher interface
func (NoopPublisher) Close() error { return nil }

//nolint:revive // Interface implementation - documented on Publisher interface
func (NoopPublisher) PublishLeaderStatus(context.Context, bool) error { return nil }

//nolint:revive // Interface implementation - documented on Publisher interface
func (NoopPublisher) PublishLeaseAcquired(context.Context) error { return nil }

//nolint:revive // Interface implementation - documented on Publisher interface
func (NoopPublisher) PublishRenewalFailure(context.Context) error { return nil }

//nolint:revive // Interface implementation - documented on Publisher interface
func (NoopPublisher) PublishLeadershipLost(context.Context) error { return nil }

//nolint:revive // Interface implementation - documented on Publisher interface
func (NoopPublisher) PublishTaskDispatched(context.Context, string) error { return nil }

//nolint:revive // Interface implementation - documented on Publisher interface
func (NoopPublisher) PublishDispatchFailure(context.Context, string) error { return nil }

//nolint:revive // Interface implementation - documented on Publisher interface
func (NoopPublisher) PublishTickDuration(context.Context, float64) error { return nil }

//nolint:revive // Interface implementation - documented on Publisher interface
func (NoopPublisher) PublishQueueDepth(context.Context, float64) error { return nil }

//nolint:revive // Interface implementation - documented on Publisher interface
func (NoopPublisher) PublishServiceCheck(context.Context, string, int, string) error { return nil }

//nolint:revive // Interface implementation - documented on Publisher interface
func (NoopPublisher) PublishEvent(context.Context, string, string, string, []string) error {
	return nil
}

// Ensure NoopPublisher implements Publisher.
var _ Publisher = NoopPublisher{}

package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/DataDog/datadog-go/v5/statsd"
)

const defaultDatadogNamespace = "beat_fleet"

// ServiceCheckStatus represents Datadog service check status values.
const (
	ServiceCheckOK       = 0
	ServiceCheckWarning  = 1
	ServiceCheckCritical = 2
	ServiceCheckUnknown  = 3
)

// DatadogPublisher publishes metrics to Datadog via DogStatsD.
// All Publisher interface methods are documented on the Publisher interface.
type DatadogPublisher struct {
	client     *statsd.Client
	namespace  string
	tags       []string
	sampleRate float64
}

// Ensure DatadogPublisher implements Publisher.
var _ Publisher = (*DatadogPublisher)(nil)

// DatadogConfig holds configuration for the Datadog publisher.
type DatadogConfig struct {
	// Address is the DogStatsD address (default: "127.0.0.1:8125")
	Address string
	// Namespace is the metric namespace prefix (default: "beat_fleet")
	Namespace string
	// Tags are global tags applied to all metrics
	Tags []string
	// SampleRate for high-frequency metrics (default: 1.0 = 100%)
	// Values < 1.0 enable sampling to reduce network traffic
	SampleRate float64

	// Client tuning options (0 = use library default)
	// BufferFlushInterval configures flush interval (0 = library default of 100ms)
	BufferFlushInterval time.Duration
	// WorkersCount configures parallel workers (0 = library default of 1)
	WorkersCount int
}

// NewDatadogPublisher creates a Datadog metrics publisher using DogStatsD.
func NewDatadogPublisher(cfg DatadogConfig) (*DatadogPublisher, error) {
	if cfg.Address == "" {
		cfg.Address = "127.0.0.1:8125"
	}
	if cfg.Namespace == "" {
		cfg.Namespace = defaultDatadogNamespace
	}
	if cfg.SampleRate <= 0 || cfg.SampleRate > 1 {
		cfg.SampleRate = 1.0
	}

	opts := []statsd.Option{
		statsd.WithNamespace(cfg.Namespace + "."),
		statsd.WithTags(cfg.Tags),
	}

	if cfg.BufferFlushInterval > 0 {
		opts = append(opts, statsd.WithBufferFlushInterval(cfg.BufferFlushInterval))
	}
	if cfg.WorkersCount > 0 {
		opts = append(opts, statsd.WithWorkersCount(cfg.WorkersCount))
	}

	client, err := statsd.New(cfg.Address, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create DogStatsD client: %w", err)
	}

	return &DatadogPublisher{
		client:     client,
		namespace:  cfg.Namespace,
		tags:       cfg.Tags,
		sampleRate: cfg.SampleRate,
	}, nil
}

// Close closes the DogStatsD client connection.
func (p *DatadogPublisher) Close() error {
	return p.client.Close()
}

// Publisher interface implementation below.
// All methods are documented on the Publisher interface.

func (p *DatadogPublisher) PublishLeaderStatus(_ context.Context, held bool) error { //nolint:revive
	v := 0.0
	if held {
		v = 1.0
	}
	return p.client.Gauge("leader_status", v, nil, 1)
}

func (p *DatadogPublisher) PublishLeaseAcquired(_ context.Context) error { //nolint:revive
	return p.client.Incr("leases_acquired", nil, 1)
}

func (p *DatadogPublisher) PublishRenewalFailure(_ context.Context) error { //nolint:revive
	return p.client.Incr("lease_renewal_failures", nil, 1)
}

func (p *DatadogPublisher) PublishLeadershipLost(_ context.Context) error { //nolint:revive
	return p.client.Incr("leadership_lost", nil, 1)
}

func (p *DatadogPublisher) PublishTaskDispatched(_ context.Context, task string) error { //nolint:revive
	return p.client.Incr("tasks_dispatched", []string{"task:" + task}, 1)
}

func (p *DatadogPublisher) PublishDispatchFailure(_ context.Context, task string) error { //nolint:revive
	return p.client.Incr("dispatch_failures", []string{"task:" + task}, 1)
}

// PublishTickDuration uses Distribution for global percentile aggregation
// across all replicas, sampled for high-frequency ticks.
func (p *DatadogPublisher) PublishTickDuration(_ context.Context, seconds float64) error { //nolint:revive
	return p.client.Distribution("tick_duration_seconds", seconds, nil, p.sampleRate)
}

func (p *DatadogPublisher) PublishQueueDepth(_ context.Context, depth float64) error { //nolint:revive
	return p.client.Gauge("queue_depth", depth, nil, 1)
}

// PublishServiceCheck publishes a Datadog service check.
func (p *DatadogPublisher) PublishServiceCheck(_ context.Context, name string, status int, message string) error { //nolint:revive
	var ddStatus statsd.ServiceCheckStatus
	switch status {
	case ServiceCheckOK:
		ddStatus = statsd.Ok
	case ServiceCheckWarning:
		ddStatus = statsd.Warn
	case ServiceCheckCritical:
		ddStatus = statsd.Critical
	default:
		ddStatus = statsd.Unknown
	}

	return p.client.ServiceCheck(&statsd.ServiceCheck{
		Name:    p.namespace + "." + name,
		Status:  ddStatus,
		Message: message,
		Tags:    p.tags,
	})
}

// PublishEvent publishes a Datadog event.
func (p *DatadogPublisher) PublishEvent(_ context.Context, title, text, alertType string, tags []string) error { //nolint:revive
	var ddAlertType statsd.EventAlertType
	switch alertType {
	case "warning":
		ddAlertType = statsd.Warning
	case "error":
		ddAlertType = statsd.Error
	case "success":
		ddAlertType = statsd.Success
	default:
		ddAlertType = statsd.Info
	}

	allTags := make([]string, 0, len(p.tags)+len(tags))
	allTags = append(allTags, p.tags...)
	allTags = append(allTags, tags...)

	return p.client.Event(&statsd.Event{
		Title:     title,
		Text:      text,
		AlertType: ddAlertType,
		Tags:      allTags,
	})
}

package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const defaultPrometheusNamespace = "beat_fleet"

// PrometheusPublisher publishes metrics to Prometheus via /metrics endpoint.
// All Publisher interface methods are documented on the Publisher interface.
type PrometheusPublisher struct {
	registry *prometheus.Registry

	leaderStatus     prometheus.Gauge
	leasesAcquired   prometheus.Counter
	renewalFailures  prometheus.Counter
	leadershipLost   prometheus.Counter
	tasksDispatched  *prometheus.CounterVec
	dispatchFailures *prometheus.CounterVec
	tickDuration     prometheus.Histogram
	queueDepth       prometheus.Gauge
}

// Ensure PrometheusPublisher implements Publisher.
var _ Publisher = (*PrometheusPublisher)(nil)

// PrometheusConfig holds configuration for the Prometheus publisher.
type PrometheusConfig struct {
	Namespace string
}

// NewPrometheusPublisher creates a Prometheus metrics publisher.
func NewPrometheusPublisher(cfg PrometheusConfig) *PrometheusPublisher {
	if cfg.Namespace == "" {
		cfg.Namespace = defaultPrometheusNamespace
	}

	registry := prometheus.NewRegistry()

	p := &PrometheusPublisher{
		registry: registry,

		leaderStatus: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Name:      "leader_status",
			Help:      "Whether this replica currently holds the scheduler lease (1) or not (0)",
		}),
		leasesAcquired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "leases_acquired_total",
			Help:      "Total number of times this replica acquired the lease",
		}),
		renewalFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "lease_renewal_failures_total",
			Help:      "Total number of lease renewal failures",
		}),
		leadershipLost: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "leadership_lost_total",
			Help:      "Total number of times this replica conceded the lease",
		}),
		tasksDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "tasks_dispatched_total",
			Help:      "Total number of tasks dispatched to the queue",
		}, []string{"task"}),
		dispatchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "dispatch_failures_total",
			Help:      "Total number of failed task dispatches",
		}, []string{"task"}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Name:      "tick_duration_seconds",
			Help:      "Duration of one scheduler tick in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Name:      "queue_depth",
			Help:      "Current depth of the task stream",
		}),
	}

	registry.MustRegister(
		p.leaderStatus,
		p.leasesAcquired,
		p.renewalFailures,
		p.leadershipLost,
		p.tasksDispatched,
		p.dispatchFailures,
		p.tickDuration,
		p.queueDepth,
	)

	return p
}

// Handler returns an HTTP handler for the /metrics endpoint.
func (p *PrometheusPublisher) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Registry returns the Prometheus registry for custom integrations.
func (p *PrometheusPublisher) Registry() *prometheus.Registry {
	return p.registry
}

// Close implements Publisher.Close. Prometheus registry doesn't require cleanup.
func (p *PrometheusPublisher) Close() error {
	return nil
}

func (p *PrometheusPublisher) PublishLeaderStatus(_ context.Context, held bool) error { //nolint:revive
	if held {
		p.leaderStatus.Set(1)
	} else {
		p.leaderStatus.Set(0)
	}
	return nil
}

func (p *PrometheusPublisher) PublishLeaseAcquired(_ context.Context) error { //nolint:revive
	p.leasesAcquired.Inc()
	return nil
}

func (p *PrometheusPublisher) PublishRenewalFailure(_ context.Context) error { //nolint:revive
	p.renewalFailures.Inc()
	return nil
}

func (p *PrometheusPublisher) PublishLeadershipLost(_ context.Context) error { //nolint:revive
	p.leadershipLost.Inc()
	return nil
}

func (p *PrometheusPublisher) PublishTaskDispatched(_ context.Context, task string) error { //nolint:revive
	p.tasksDispatched.WithLabelValues(task).Inc()
	return nil
}

func (p *PrometheusPublisher) PublishDispatchFailure(_ context.Context, task string) error { //nolint:revive
	p.dispatchFailures.WithLabelValues(task).Inc()
	return nil
}

func (p *PrometheusPublisher) PublishTickDuration(_ context.Context, seconds float64) error { //nolint:revive
	p.tickDuration.Observe(seconds)
	return nil
}

func (p *PrometheusPublisher) PublishQueueDepth(_ context.Context, depth float64) error { //nolint:revive
	p.queueDepth.Set(depth)
	return nil
}

// PublishServiceCheck is a no-op for Prometheus (Datadog-specific feature).
func (p *PrometheusPublisher) PublishServiceCheck(_ context.Context, _ string, _ int, _ string) error { //nolint:revive
	return nil
}

// PublishEvent is a no-op for Prometheus (Datadog-specific feature).
func (p *PrometheusPublisher) PublishEvent(_ context.Context, _, _, _ string, _ []string) error { //nolint:revive
	return nil
}

// Package main implements the beat-fleet scheduler server. Every replica runs
// the same binary; the lease controller decides which one dispatches.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Shavakan/beat-fleet/pkg/config"
	"github.com/Shavakan/beat-fleet/pkg/lease"
	"github.com/Shavakan/beat-fleet/pkg/logging"
	"github.com/Shavakan/beat-fleet/pkg/metrics"
	"github.com/Shavakan/beat-fleet/pkg/queue"
	"github.com/Shavakan/beat-fleet/pkg/schedule"
	"github.com/Shavakan/beat-fleet/pkg/secrets"
	"github.com/Shavakan/beat-fleet/pkg/state"
	"github.com/Shavakan/beat-fleet/pkg/tracing"
)

const (
	consumerGroup   = "beat-fleet-workers"
	shutdownTimeout = 30 * time.Second
)

// staticLeaseURL selects the always-succeeds backend for single-replica runs.
const staticLeaseURL = "static://"

// secret names resolved through the secrets backend. Values already present
// in the environment win over the provider.
const (
	secretRedisPassword    = "redis-password"
	secretSentinelPassword = "sentinel-password"
	secretQueuePassword    = "queue-password"
)

func initSecrets(ctx context.Context, cfg *config.Config) {
	var provider secrets.Provider
	switch cfg.SecretsBackend {
	case "vault":
		vp, err := secrets.NewVaultProvider(ctx, secrets.VaultConfig{})
		if err != nil {
			log.Fatalf("Failed to create Vault secrets provider: %v", err)
		}
		provider = vp
		log.Println("Vault secrets backend enabled")
	default:
		provider = secrets.NewEnvProvider("")
	}

	resolve := func(name, current string) string {
		if current != "" {
			return current
		}
		value, err := provider.Lookup(ctx, name)
		if errors.Is(err, secrets.ErrNotFound) {
			return current
		}
		if err != nil {
			log.Fatalf("Failed to resolve secret %s: %v", name, err)
		}
		return value
	}

	cfg.RedisPassword = resolve(secretRedisPassword, cfg.RedisPassword)
	cfg.SentinelPassword = resolve(secretSentinelPassword, cfg.SentinelPassword)
	cfg.QueuePassword = resolve(secretQueuePassword, cfg.QueuePassword)
}

func initLeaseBackend(cfg *config.Config) lease.Backend {
	if cfg.LeaseURL == staticLeaseURL {
		log.Println("Static lease backend enabled (single-replica mode)")
		return lease.StaticBackend{}
	}

	backend, err := lease.NewRedisBackend(lease.RedisConfig{
		URL:              cfg.LeaseURL,
		MasterName:       cfg.SentinelMaster,
		Password:         cfg.RedisPassword,
		SentinelPassword: cfg.SentinelPassword,
		DB:               cfg.RedisDB,
	})
	if err != nil {
		log.Fatalf("Failed to create lease backend: %v", err)
	}
	return backend
}

func initMetrics(cfg *config.Config) (metrics.Publisher, http.Handler) {
	prom := metrics.NewPrometheusPublisher(metrics.PrometheusConfig{})
	publishers := []metrics.Publisher{prom}

	if cfg.DatadogAddr != "" {
		dd, err := metrics.NewDatadogPublisher(metrics.DatadogConfig{
			Address: cfg.DatadogAddr,
		})
		if err != nil {
			log.Printf("WARNING: Failed to create Datadog metrics publisher: %v (continuing without Datadog)", err)
		} else {
			publishers = append(publishers, dd)
			log.Printf("Datadog metrics enabled (addr: %s)", cfg.DatadogAddr)
		}
	}

	if len(publishers) == 1 {
		return prom, prom.Handler()
	}
	return metrics.NewMultiPublisher(publishers...), prom.Handler()
}

func initQueue(cfg *config.Config) *queue.StreamQueue {
	hostname, _ := os.Hostname()
	q, err := queue.NewStreamQueue(queue.StreamConfig{
		Addr:       cfg.QueueAddr,
		Password:   cfg.QueuePassword,
		DB:         cfg.QueueDB,
		Stream:     cfg.Stream,
		Group:      consumerGroup,
		ConsumerID: hostname,
	})
	if err != nil {
		log.Fatalf("Failed to create task queue: %v", err)
	}
	log.Printf("Task stream %s on %s", cfg.Stream, cfg.QueueAddr)
	return q
}

func makeReadyHandler(ctrl *lease.Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if ctrl.Held() {
			w.WriteHeader(http.StatusOK)
			_, _ = fmt.Fprintf(w, "leader\n")
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = fmt.Fprintf(w, "standby\n")
	}
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		logging.Init()
		log.Fatalf("Failed to load config: %v", err)
	}
	logging.InitWithLevel(cfg.LogLevel)

	log.Println("Starting beat-fleet server...")

	traceProvider, err := tracing.Init(ctx, tracing.LoadConfig())
	if err != nil {
		log.Fatalf("Failed to initialize tracing: %v", err)
	}

	initSecrets(ctx, cfg)

	metricsPublisher, prometheusHandler := initMetrics(cfg)

	backend := initLeaseBackend(cfg)
	controller, err := lease.NewController(lease.Config{
		Key:      cfg.LeaseKey,
		TTL:      cfg.LeaseTTL,
		Interval: cfg.LeaseInterval,
	}, backend, "")
	if err != nil {
		log.Fatalf("Failed to create lease controller: %v", err)
	}
	controller.SetMetrics(metricsPublisher)

	sched, err := schedule.LoadFile(cfg.ScheduleFile)
	if err != nil {
		log.Fatalf("Failed to load schedule: %v", err)
	}
	log.Printf("Loaded %d schedule entries from %s", len(sched.Entries), cfg.ScheduleFile)

	taskQueue := initQueue(cfg)
	stateStore := state.NewRedisStateStore(cfg.QueueAddr, cfg.QueuePassword, cfg.QueueDB, cfg.StatePrefix)

	engine := schedule.NewEngine(sched, taskQueue, stateStore)
	engine.SetMetrics(metricsPublisher)
	engine.SetTracer(tracing.NewDispatchTracer())

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprintf(w, "OK\n")
	})
	mux.HandleFunc("/readyz", makeReadyHandler(controller))
	mux.Handle("/metrics", prometheusHandler)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		for {
			wait := controller.Tick(ctx, engine.Tick)
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
		}
	}()

	go func() {
		log.Printf("Server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutdown signal received, gracefully stopping...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	controller.Close(shutdownCtx)

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown failed: %v", err)
	}

	if err := taskQueue.Close(); err != nil {
		log.Printf("Task queue close failed: %v", err)
	}
	if err := stateStore.Close(); err != nil {
		log.Printf("State store close failed: %v", err)
	}
	if err := metricsPublisher.Close(); err != nil {
		log.Printf("Metrics publisher close failed: %v", err)
	}
	if err := traceProvider.Shutdown(shutdownCtx); err != nil {
		log.Printf("Tracing shutdown failed: %v", err)
	}

	log.Println("Server stopped")
}

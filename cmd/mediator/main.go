package main

import (
	"context"
	"encoding/json"
	"fmt"
	stdlog "log"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/ahrav/cluster-mediator/internal/app/mediator"
	"github.com/ahrav/cluster-mediator/internal/config"
	"github.com/ahrav/cluster-mediator/internal/domain/cluster"
	"github.com/ahrav/cluster-mediator/internal/infra/coordination/etcd"
	"github.com/ahrav/cluster-mediator/internal/infra/coordination/kubernetes"
	"github.com/ahrav/cluster-mediator/pkg/common"
	"github.com/ahrav/cluster-mediator/pkg/common/logger"
	"github.com/ahrav/cluster-mediator/pkg/common/otel"
)

const serviceType = "cluster-mediator"

// coordinationWatcher is the lifecycle both backend watchers share.
type coordinationWatcher interface {
	Start(ctx context.Context) error
	Stop() error
}

func main() {
	_, _ = maxprocs.Set()

	hostname, err := os.Hostname()
	if err != nil {
		stdlog.Fatalf("failed to get hostname: %v", err)
	}
	mediatorID := fmt.Sprintf("%s-%s", hostname, uuid.New().String()[:8])

	var log *logger.Logger

	logEvents := logger.Events{
		Error: func(ctx context.Context, r logger.Record) {
			errorAttrs := map[string]any{
				"error_message": r.Message,
				"error_time":    r.Time.UTC().Format(time.RFC3339),
				"trace_id":      otel.GetTraceID(ctx),
			}

			// Add any error-specific attributes.
			for k, v := range r.Attributes {
				errorAttrs[k] = v
			}

			errorAttrsJSON, err := json.Marshal(errorAttrs)
			if err != nil {
				fmt.Fprintf(os.Stderr, "failed to marshal error attributes: %v\n", err)
				return
			}

			fmt.Fprintf(os.Stderr, "Error event: %s, details: %s\n",
				r.Message, errorAttrsJSON)
		},
	}

	traceIDFn := func(ctx context.Context) string {
		return otel.GetTraceID(ctx)
	}

	svcName := fmt.Sprintf("CLUSTER-MEDIATOR-%s", hostname)
	metadata := map[string]string{
		"service":   svcName,
		"hostname":  hostname,
		"pod":       os.Getenv("POD_NAME"),
		"namespace": os.Getenv("POD_NAMESPACE"),
		"app":       serviceType,
	}

	log = logger.NewWithMetadata(os.Stdout, logger.LevelDebug, svcName, traceIDFn, logEvents, metadata)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	loader := config.NewViperLoader(os.Getenv("CLUSTER_MEDIATOR_CONFIG_FILE"))
	cfg, err := loader.Load(ctx)
	if err != nil {
		log.Error(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	var tracer trace.Tracer
	if cfg.Telemetry.Endpoint != "" {
		tp, telemetryTeardown, err := otel.InitTelemetry(log, otel.Config{
			ServiceName:      svcName,
			ExporterEndpoint: cfg.Telemetry.Endpoint,
			ExcludedRoutes: map[string]struct{}{
				"/v1/health":    {},
				"/v1/readiness": {},
			},
			Probability: cfg.Telemetry.SampleProbability,
			ResourceAttributes: map[string]string{
				"library.language": "go",
				"k8s.pod.name":     os.Getenv("POD_NAME"),
				"k8s.namespace":    os.Getenv("POD_NAMESPACE"),
				"k8s.container.id": hostname,
			},
			InsecureExporter: true, // TODO: Come back to setup TLS.
		})
		if err != nil {
			log.Error(ctx, "failed to initialize telemetry", "error", err)
			os.Exit(1)
		}
		// Teardown runs after cancel(), so it needs its own context to flush
		// the final batch of spans and metrics.
		defer func() {
			teardownCtx, teardownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer teardownCancel()
			telemetryTeardown(teardownCtx)
		}()
		tracer = tp.Tracer(svcName)
	} else {
		log.Info(ctx, "Telemetry export disabled, no endpoint configured")
		tracer = noop.NewTracerProvider().Tracer(svcName)
	}

	ready := &atomic.Bool{}
	healthServer := common.NewHealthServer(ready)
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := healthServer.Server().Shutdown(shutdownCtx); err != nil {
			log.Error(shutdownCtx, "Error shutting down health server", "error", err)
		}
	}()

	registry := cluster.NewRegistry()
	for _, kind := range []cluster.ChangeKind{
		cluster.ChangeKindExternalView,
		cluster.ChangeKindInstanceConfig,
		cluster.ChangeKindLiveInstance,
	} {
		if err := registry.Register(kind, refreshHandler(kind, log)); err != nil {
			log.Error(ctx, "failed to register change handler", "change_kind", kind, "error", err)
			os.Exit(1)
		}
	}

	metricCollector, err := mediator.NewClusterChangeMetrics(otel.GetMeterProvider())
	if err != nil {
		log.Error(ctx, "failed to create metrics collector", "error", err)
		os.Exit(1)
	}

	var opts []mediator.Option
	if cfg.Mediator.CheckInterval > 0 {
		opts = append(opts, mediator.WithCheckInterval(cfg.Mediator.CheckInterval))
	}
	if cfg.Mediator.ProactiveCheckInterval > 0 {
		opts = append(opts, mediator.WithProactiveCheckInterval(cfg.Mediator.ProactiveCheckInterval))
	}
	med := mediator.New(mediatorID, registry, log, metricCollector, tracer, opts...)

	var watcher coordinationWatcher
	switch cfg.Coordination.Backend {
	case config.BackendEtcd:
		watcher, err = etcd.NewWatcher(mediatorID, &etcd.Config{
			Endpoints:   cfg.Coordination.Etcd.Endpoints,
			Namespace:   cfg.Coordination.Etcd.Namespace,
			DialTimeout: cfg.Coordination.Etcd.DialTimeout,
		}, med, log, tracer)
	case config.BackendKubernetes:
		watcher, err = kubernetes.NewWatcher(mediatorID, &kubernetes.K8sConfig{
			Namespace:   cfg.Coordination.Kubernetes.Namespace,
			RelistRPS:   cfg.Coordination.Kubernetes.RelistRPS,
			RelistBurst: cfg.Coordination.Kubernetes.RelistBurst,
		}, med, log, tracer)
	}
	if err != nil {
		log.Error(ctx, "failed to create coordination watcher",
			"backend", cfg.Coordination.Backend, "error", err)
		os.Exit(1)
	}

	if err := med.Start(ctx); err != nil {
		log.Error(ctx, "failed to start mediator", "error", err)
		os.Exit(1)
	}

	watcherErrCh := make(chan error, 1)
	go func() { watcherErrCh <- watcher.Start(ctx) }()

	ready.Store(true)
	log.Info(ctx, "Cluster mediator running",
		"mediator_id", mediatorID, "backend", cfg.Coordination.Backend)

	select {
	case sig := <-sigCh:
		log.Info(ctx, "Shutting down on signal", "signal", sig.String())
	case err := <-watcherErrCh:
		if err != nil {
			log.Error(ctx, "Coordination watcher failed", "error", err)
		}
	}
	ready.Store(false)

	// Stop the watcher first so no new notifications race the drain.
	cancel()
	if err := watcher.Stop(); err != nil {
		log.Error(context.Background(), "Error stopping coordination watcher", "error", err)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	if err := med.Stop(stopCtx); err != nil {
		log.Error(stopCtx, "Error stopping mediator", "error", err)
	}
}

// refreshHandler returns a placeholder handler for a change kind. A broker
// embedding the mediator replaces these with its routing, config, and
// liveness refresh logic.
func refreshHandler(kind cluster.ChangeKind, log *logger.Logger) cluster.ChangeHandler {
	return cluster.ChangeHandlerFunc(func(ctx context.Context) error {
		log.Info(ctx, "Refreshing cluster state", "change_kind", kind)
		return nil
	})
}

// Package kubernetes adapts the Kubernetes API to the mediator's notification
// contract. Cluster state maps onto core resources: Endpoints carry the
// routable view of each service, ConfigMaps carry per-instance configuration,
// and Pods carry instance liveness.
package kubernetes

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/kubernetes"

	"github.com/ahrav/cluster-mediator/internal/domain/cluster"
	"github.com/ahrav/cluster-mediator/pkg/common"
	"github.com/ahrav/cluster-mediator/pkg/common/logger"
)

const (
	defaultRelistRPS   = 1.0
	defaultRelistBurst = 3
)

// resourceWatch binds one watched resource to the change kind it signals.
type resourceWatch struct {
	resource string
	kind     cluster.ChangeKind
	watch    func(ctx context.Context) (watch.Interface, error)
}

// Watcher relays Kubernetes resource events to a ChangeNotifier as
// signal-only change notifications. Event objects are never forwarded;
// handlers re-read cluster state themselves.
type Watcher struct {
	id string

	client kubernetes.Interface
	config *K8sConfig

	notifier cluster.ChangeNotifier
	// Bounds how fast closed watches are re-established so a flapping API
	// server cannot turn the watcher into a relist hot loop.
	limiter *common.RateLimiter

	logger *logger.Logger
	tracer trace.Tracer
}

// NewWatcher creates a watcher over the configured namespace using in-cluster
// credentials, falling back to the local kubeconfig.
func NewWatcher(id string, cfg *K8sConfig, notifier cluster.ChangeNotifier, logger *logger.Logger, tracer trace.Tracer) (*Watcher, error) {
	_, span := tracer.Start(context.Background(), "kubernetes_coordination_watcher.new",
		trace.WithAttributes(
			attribute.String("watcher_id", id),
		),
	)
	defer span.End()

	if cfg == nil {
		span.RecordError(fmt.Errorf("config is required"))
		span.SetStatus(codes.Error, "config is required")
		return nil, fmt.Errorf("config is required")
	}
	if cfg.Namespace == "" {
		span.RecordError(fmt.Errorf("namespace is required"))
		span.SetStatus(codes.Error, "namespace is required")
		return nil, fmt.Errorf("namespace is required")
	}

	client, err := getKubernetesClient()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to create kubernetes client")
		return nil, fmt.Errorf("creating kubernetes client for coordination watcher: %w", err)
	}
	span.AddEvent("kubernetes_client_created")

	return newWatcherWithClient(id, cfg, client, notifier, logger, tracer), nil
}

func newWatcherWithClient(
	id string,
	cfg *K8sConfig,
	client kubernetes.Interface,
	notifier cluster.ChangeNotifier,
	logger *logger.Logger,
	tracer trace.Tracer,
) *Watcher {
	rps := cfg.RelistRPS
	if rps <= 0 {
		rps = defaultRelistRPS
	}
	burst := cfg.RelistBurst
	if burst <= 0 {
		burst = defaultRelistBurst
	}

	logger = logger.With(
		"component", "kubernetes_coordination_watcher",
		"namespace", cfg.Namespace,
	)

	return &Watcher{
		id:       id,
		client:   client,
		config:   cfg,
		notifier: notifier,
		limiter:  common.NewRateLimiter(rps, burst),
		logger:   logger,
		tracer:   tracer,
	}
}

// Start watches Endpoints, ConfigMaps, and Pods in the configured namespace
// and relays change notifications until ctx is canceled.
func (w *Watcher) Start(ctx context.Context) error {
	ctx, span := w.tracer.Start(ctx, "kubernetes_coordination_watcher.start",
		trace.WithAttributes(
			attribute.String("watcher_id", w.id),
			attribute.String("namespace", w.config.Namespace),
		),
	)

	watches := []resourceWatch{
		{
			resource: "endpoints",
			kind:     cluster.ChangeKindExternalView,
			watch: func(ctx context.Context) (watch.Interface, error) {
				return w.client.CoreV1().Endpoints(w.config.Namespace).Watch(ctx, metav1.ListOptions{})
			},
		},
		{
			resource: "configmaps",
			kind:     cluster.ChangeKindInstanceConfig,
			watch: func(ctx context.Context) (watch.Interface, error) {
				return w.client.CoreV1().ConfigMaps(w.config.Namespace).Watch(ctx, metav1.ListOptions{})
			},
		},
		{
			resource: "pods",
			kind:     cluster.ChangeKindLiveInstance,
			watch: func(ctx context.Context) (watch.Interface, error) {
				return w.client.CoreV1().Pods(w.config.Namespace).Watch(ctx, metav1.ListOptions{})
			},
		},
	}

	w.logger.Info(ctx, "Starting resource watches", "watcher_id", w.id)
	span.AddEvent("resource_watches_started")
	span.End()

	var wg sync.WaitGroup
	for _, rw := range watches {
		wg.Add(1)
		go func(rw resourceWatch) {
			defer wg.Done()
			w.watchResource(ctx, rw)
		}(rw)
	}
	wg.Wait()
	return nil
}

// Stop gracefully shuts down the watcher. The watch loops themselves stop
// when the Start context is canceled.
func (w *Watcher) Stop() error {
	w.logger.Info(context.Background(), "Stopping kubernetes coordination watcher")
	return nil
}

// watchResource keeps one resource watch alive until ctx is canceled.
// Kubernetes closes watches routinely (timeouts, API server restarts), so a
// closed channel means re-establish, not fail.
func (w *Watcher) watchResource(ctx context.Context, rw resourceWatch) {
	logger := w.logger.With("resource", rw.resource, "change_kind", rw.kind)

	for {
		if err := w.limiter.Wait(ctx); err != nil {
			return
		}

		watcher, err := rw.watch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn(ctx, "Failed to establish resource watch, retrying", "error", err)
			continue
		}

		w.consume(ctx, watcher, rw, logger)

		if ctx.Err() != nil {
			logger.Info(ctx, "Resource watch stopped")
			return
		}
		logger.Debug(ctx, "Resource watch closed, re-establishing")
	}
}

func (w *Watcher) consume(ctx context.Context, watcher watch.Interface, rw resourceWatch, logger *logger.Logger) {
	defer watcher.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.ResultChan():
			if !ok {
				return
			}
			if event.Type == watch.Error {
				logger.Warn(ctx, "Resource watch reported an error event", "object", fmt.Sprintf("%v", event.Object))
				return
			}

			// Signal only: the event object stays behind. Handlers re-read
			// whatever cluster state they need.
			if err := w.notifier.OnClusterChange(ctx, rw.kind, nil); err != nil {
				logger.Error(ctx, "Failed to deliver cluster change notification", "error", err)
			}
		}
	}
}

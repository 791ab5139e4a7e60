// Package etcd adapts an etcd-backed coordination service to the mediator's
// notification contract. The cluster state lives under a namespace prefix
// with one subtree per change kind; the watcher folds every key event in a
// subtree into a signal-only notification for that kind.
package etcd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/cluster-mediator/internal/domain/cluster"
	"github.com/ahrav/cluster-mediator/pkg/common/logger"
)

// Subtree names under the namespace, one per built-in change kind. The
// layout mirrors how coordination services keep routing views, instance
// configs, and liveness ephemerals in separate branches.
const (
	externalViewPrefix   = "externalview"
	instanceConfigPrefix = "instanceconfig"
	liveInstancesPrefix  = "liveinstances"
)

// Config holds the settings needed to watch an etcd-backed cluster.
type Config struct {
	// Endpoints lists the etcd cluster members to dial.
	Endpoints []string

	// Namespace is the root prefix the cluster state lives under,
	// e.g. "/clusters/prod".
	Namespace string

	// DialTimeout bounds the initial connection attempt.
	DialTimeout time.Duration
}

// Watcher relays etcd key events to a ChangeNotifier as signal-only change
// notifications. Key contents are never read or forwarded; handlers are
// expected to fetch whatever state they need.
type Watcher struct {
	id        string
	namespace string

	client  *clientv3.Client
	watcher clientv3.Watcher

	notifier cluster.ChangeNotifier

	logger *logger.Logger
	tracer trace.Tracer
}

// NewWatcher connects to etcd and prepares a watcher over the configured
// namespace. Notifications start flowing once Start is called.
func NewWatcher(id string, cfg *Config, notifier cluster.ChangeNotifier, logger *logger.Logger, tracer trace.Tracer) (*Watcher, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if len(cfg.Endpoints) == 0 {
		return nil, fmt.Errorf("at least one etcd endpoint is required")
	}
	if cfg.Namespace == "" {
		return nil, fmt.Errorf("namespace is required")
	}

	dialTimeout := cfg.DialTimeout
	if dialTimeout == 0 {
		dialTimeout = 5 * time.Second
	}

	client, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: dialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("creating etcd client for coordination watcher: %w", err)
	}

	logger = logger.With(
		"component", "etcd_coordination_watcher",
		"namespace", cfg.Namespace,
	)

	return &Watcher{
		id:        id,
		namespace: strings.TrimSuffix(cfg.Namespace, "/") + "/",
		client:    client,
		watcher:   clientv3.NewWatcher(client),
		notifier:  notifier,
		logger:    logger,
		tracer:    tracer,
	}, nil
}

// Start watches the namespace and relays change notifications until ctx is
// canceled. Failed watches are re-established with exponential backoff from
// the last observed revision, so transient etcd trouble delays notifications
// instead of dropping them.
func (w *Watcher) Start(ctx context.Context) error {
	ctx, span := w.tracer.Start(ctx, "etcd_coordination_watcher.start",
		trace.WithAttributes(
			attribute.String("watcher_id", w.id),
			attribute.String("namespace", w.namespace),
		))

	rev, err := w.currentRevision(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to read namespace revision")
		span.End()
		return fmt.Errorf("reading namespace revision: %w", err)
	}

	w.logger.Info(ctx, "Watching cluster namespace", "watcher_id", w.id, "revision", rev)
	span.AddEvent("watch_established")
	span.End()

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = time.Second
	expBackoff.MaxElapsedTime = 0 // retry for as long as we run

	for {
		watchCh := w.watcher.Watch(ctx, w.namespace,
			clientv3.WithPrefix(), clientv3.WithRev(rev+1))

		for watchResp := range watchCh {
			if err := watchResp.Err(); err != nil {
				w.logger.Warn(ctx, "Cluster namespace watch failed, re-establishing",
					"error", err, "revision", rev)
				break
			}

			for _, event := range watchResp.Events {
				w.relay(ctx, string(event.Kv.Key))
			}
			rev = watchResp.Header.GetRevision()
			expBackoff.Reset()
		}

		if ctx.Err() != nil {
			w.logger.Info(ctx, "Cluster namespace watch stopped")
			return nil
		}

		select {
		case <-time.After(expBackoff.NextBackOff()):
		case <-ctx.Done():
			w.logger.Info(ctx, "Cluster namespace watch stopped")
			return nil
		}
	}
}

// Stop closes the underlying etcd client.
func (w *Watcher) Stop() error {
	w.logger.Info(context.Background(), "Stopping etcd coordination watcher")
	return w.client.Close()
}

func (w *Watcher) currentRevision(ctx context.Context) (int64, error) {
	resp, err := w.client.Get(ctx, w.namespace,
		clientv3.WithPrefix(), clientv3.WithCountOnly())
	if err != nil {
		return 0, err
	}
	return resp.Header.GetRevision(), nil
}

func (w *Watcher) relay(ctx context.Context, key string) {
	kind, ok := kindForKey(w.namespace, key)
	if !ok {
		w.logger.Debug(ctx, "Ignoring key outside known subtrees", "key", key)
		return
	}

	// Signal only: key contents stay behind in etcd.
	if err := w.notifier.OnClusterChange(ctx, kind, nil); err != nil {
		w.logger.Error(ctx, "Failed to deliver cluster change notification",
			"change_kind", kind, "key", key, "error", err)
	}
}

// kindForKey maps an etcd key to the change kind of the subtree it belongs
// to. Keys outside the namespace or in unknown subtrees map to nothing.
func kindForKey(namespace, key string) (cluster.ChangeKind, bool) {
	rest, found := strings.CutPrefix(key, namespace)
	if !found {
		return "", false
	}

	subtree, _, _ := strings.Cut(rest, "/")
	switch subtree {
	case externalViewPrefix:
		return cluster.ChangeKindExternalView, true
	case instanceConfigPrefix:
		return cluster.ChangeKindInstanceConfig, true
	case liveInstancesPrefix:
		return cluster.ChangeKindLiveInstance, true
	default:
		return "", false
	}
}

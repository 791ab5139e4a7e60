package kubernetes

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/ahrav/cluster-mediator/internal/domain/cluster"
	"github.com/ahrav/cluster-mediator/pkg/common/logger"
)

type recordingNotifier struct {
	mu    sync.Mutex
	kinds map[cluster.ChangeKind]int
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{kinds: make(map[cluster.ChangeKind]int)}
}

func (r *recordingNotifier) OnClusterChange(ctx context.Context, kind cluster.ChangeKind, payload []any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kinds[kind]++
	return nil
}

func (r *recordingNotifier) count(kind cluster.ChangeKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.kinds[kind]
}

func newTestWatcher(t *testing.T, client *fake.Clientset, notifier cluster.ChangeNotifier) *Watcher {
	t.Helper()
	cfg := &K8sConfig{Namespace: "default", RelistRPS: 100, RelistBurst: 10}
	log := logger.New(io.Discard, logger.LevelDebug, "test", nil)
	return newWatcherWithClient("test-watcher", cfg, client, notifier, log, noop.NewTracerProvider().Tracer("test"))
}

func TestWatcherRelaysResourceEventsAsChangeKinds(t *testing.T) {
	fakeClient := fake.NewSimpleClientset()
	notifier := newRecordingNotifier()
	watcher := newTestWatcher(t, fakeClient, notifier)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = watcher.Start(ctx)
	}()

	// Let the watch loops establish before mutating resources.
	time.Sleep(100 * time.Millisecond)

	_, err := fakeClient.CoreV1().Pods("default").Create(ctx,
		&corev1.Pod{ObjectMeta: metav1.ObjectMeta{Name: "server-0"}}, metav1.CreateOptions{})
	require.NoError(t, err)

	_, err = fakeClient.CoreV1().ConfigMaps("default").Create(ctx,
		&corev1.ConfigMap{ObjectMeta: metav1.ObjectMeta{Name: "server-0-config"}}, metav1.CreateOptions{})
	require.NoError(t, err)

	_, err = fakeClient.CoreV1().Endpoints("default").Create(ctx,
		&corev1.Endpoints{ObjectMeta: metav1.ObjectMeta{Name: "server"}}, metav1.CreateOptions{})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return notifier.count(cluster.ChangeKindLiveInstance) >= 1 &&
			notifier.count(cluster.ChangeKindInstanceConfig) >= 1 &&
			notifier.count(cluster.ChangeKindExternalView) >= 1
	}, 5*time.Second, 20*time.Millisecond, "expected one notification per resource kind")

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop after context cancellation")
	}
}

func TestWatcherIgnoresOtherNamespaces(t *testing.T) {
	fakeClient := fake.NewSimpleClientset()
	notifier := newRecordingNotifier()
	watcher := newTestWatcher(t, fakeClient, notifier)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = watcher.Start(ctx) }()
	time.Sleep(100 * time.Millisecond)

	_, err := fakeClient.CoreV1().Pods("other").Create(ctx,
		&corev1.Pod{ObjectMeta: metav1.ObjectMeta{Name: "server-0"}}, metav1.CreateOptions{})
	require.NoError(t, err)

	time.Sleep(200 * time.Millisecond)
	assert.Zero(t, notifier.count(cluster.ChangeKindLiveInstance))
}

func TestNewWatcherValidatesConfig(t *testing.T) {
	log := logger.Noop()
	tracer := noop.NewTracerProvider().Tracer("test")

	_, err := NewWatcher("test-watcher", nil, nil, log, tracer)
	require.Error(t, err)

	_, err = NewWatcher("test-watcher", &K8sConfig{}, nil, log, tracer)
	require.Error(t, err)
}

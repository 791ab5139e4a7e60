// Package mediator sits between a cluster coordination service and the
// per-kind change handlers that reconcile local state. Coordination services
// deliver change notifications in noisy bursts, and callbacks can be dropped
// or delayed; the mediator coalesces bursts of the same kind into a single
// handler invocation, bounds the latency between notification and processing,
// and proactively re-invokes handlers after prolonged silence so a lost
// notification never wedges the system.
package mediator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/cluster-mediator/internal/domain/cluster"
	"github.com/ahrav/cluster-mediator/pkg/common/logger"
)

// Compile-time check to verify that Mediator implements ChangeNotifier.
var _ cluster.ChangeNotifier = (*Mediator)(nil)

const (
	// defaultCheckInterval is the pause between drain passes. It is also the
	// coalescing window: notifications of the same kind arriving within it
	// merge into one handler invocation.
	defaultCheckInterval = time.Second

	// defaultProactiveCheckInterval bounds how long a kind may go unprocessed
	// before its handler is invoked without a notification.
	defaultProactiveCheckInterval = time.Hour
)

// ErrAlreadyStarted is returned by Start when the drain loop is already running.
var ErrAlreadyStarted = errors.New("mediator already started")

// ErrStopped is returned by Start after Stop; a stopped mediator cannot be restarted.
var ErrStopped = errors.New("mediator is stopped")

type runState int

const (
	stateNotStarted runState = iota
	stateRunning
	stateStopped
)

// Option configures a Mediator.
type Option func(*Mediator)

// WithCheckInterval overrides the pause between drain passes. Shrinking it
// narrows the coalescing window, so bursts of notifications fan out into more
// handler invocations; keep it at the default unless that trade-off is
// understood.
func WithCheckInterval(d time.Duration) Option {
	return func(m *Mediator) { m.checkInterval = d }
}

// WithProactiveCheckInterval overrides how long a kind may stay silent before
// its handler is invoked proactively.
func WithProactiveCheckInterval(d time.Duration) Option {
	return func(m *Mediator) { m.proactiveCheckInterval = d }
}

// Mediator coalesces cluster change notifications and drives the registered
// handlers from a single background drain loop. If the loop is not running
// (never started, stopped, or dead), notifications are processed synchronously
// on the caller so no change is silently dropped.
type Mediator struct {
	id string

	registry      *cluster.Registry
	pending       *pendingChangeTracker
	lastProcessed *processTimeTracker

	checkInterval          time.Duration
	proactiveCheckInterval time.Duration

	// mu protects state transitions; loopAlive is owned by the loop goroutine
	// and read by notification callbacks without coordination.
	mu        sync.Mutex
	state     runState
	stopped   atomic.Bool
	loopAlive atomic.Bool
	loopDone  chan struct{}

	logger  *logger.Logger
	metrics ClusterChangeMetrics
	tracer  trace.Tracer
}

// New creates a Mediator for the given handler registry. The last-processed
// time of every registered kind is initialized to the construction time, so
// proactive checks start counting from now. The registry must not be mutated
// after this call.
func New(
	id string,
	registry *cluster.Registry,
	logger *logger.Logger,
	metrics ClusterChangeMetrics,
	tracer trace.Tracer,
	opts ...Option,
) *Mediator {
	m := &Mediator{
		id:                     id,
		registry:               registry,
		pending:                newPendingChangeTracker(),
		lastProcessed:          newProcessTimeTracker(registry.Kinds(), time.Now()),
		checkInterval:          defaultCheckInterval,
		proactiveCheckInterval: defaultProactiveCheckInterval,
		logger:                 logger.With("component", "cluster_mediator", "mediator_id", id),
		metrics:                metrics,
		tracer:                 tracer,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Start spawns the drain loop. The loop is not bound to ctx: once started it
// runs until Stop, so a canceled startup context cannot silently kill change
// processing. Start returns an error if the mediator is already running or
// was stopped.
func (m *Mediator) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case stateRunning:
		return ErrAlreadyStarted
	case stateStopped:
		return ErrStopped
	}

	m.logger.Info(ctx, "Starting cluster change drain loop")
	m.state = stateRunning
	m.loopDone = make(chan struct{})
	m.loopAlive.Store(true)
	go m.run()

	return nil
}

// Stop signals the drain loop to exit after its current pass and blocks until
// it has fully exited; once Stop returns, no further handler invocation can
// come from the loop. If ctx is canceled while waiting, the cancellation is
// logged and returned so the caller can react; the loop still stops on its
// own. Stopped is terminal. Safe to call multiple times.
func (m *Mediator) Stop(ctx context.Context) error {
	m.mu.Lock()
	alreadyStopped := m.state == stateStopped
	m.state = stateStopped
	m.stopped.Store(true)
	loopDone := m.loopDone
	m.mu.Unlock()

	if alreadyStopped || loopDone == nil {
		return nil
	}

	m.logger.Info(ctx, "Stopping cluster change drain loop")
	select {
	case <-loopDone:
		return nil
	case <-ctx.Done():
		m.logger.Error(ctx, "Interrupted while waiting for drain loop to exit", "error", ctx.Err())
		return ctx.Err()
	}
}

// OnClusterChange is the notification entry point for all change kinds. The
// upstream coordination client must be configured to deliver signal only, so
// payload must be empty. While the drain loop is alive the notification is
// recorded asynchronously (last write wins); otherwise the handler is invoked
// synchronously on the calling goroutine and its error is propagated, since
// there is no loop to absorb it.
func (m *Mediator) OnClusterChange(ctx context.Context, kind cluster.ChangeKind, payload []any) error {
	if len(payload) != 0 {
		return &cluster.UnexpectedPayloadError{Kind: kind, Size: len(payload)}
	}

	handler, ok := m.registry.Handler(kind)
	if !ok {
		return &cluster.UnknownChangeKindError{Kind: kind}
	}

	if m.loopAlive.Load() {
		m.logger.Debug(ctx, "Enqueue cluster change", "change_kind", kind)
		m.pending.notify(kind)
		return nil
	}

	m.logger.Error(ctx, "Drain loop is not running, directly processing cluster change",
		"change_kind", kind)
	m.metrics.IncDirectInvocations(ctx, kind)
	return m.processChange(ctx, kind, handler)
}

// run is the drain loop. Each pass visits every registered kind in
// registration order, then sleeps for the check interval. The stop flag is
// read once per pass, never mid-pass.
func (m *Mediator) run() {
	ctx := context.Background()
	defer close(m.loopDone)
	defer m.loopAlive.Store(false)

	m.logger.Info(ctx, "Cluster change drain loop running",
		"check_interval", m.checkInterval.String(),
		"proactive_check_interval", m.proactiveCheckInterval.String(),
	)

	for !m.stopped.Load() {
		for _, kind := range m.registry.Kinds() {
			m.checkChange(ctx, kind)
		}

		// The pause between passes is what merges notification bursts of the
		// same kind into a single handler invocation.
		time.Sleep(m.checkInterval)
	}

	m.logger.Info(ctx, "Cluster change drain loop exited")
}

// checkChange handles one kind within a pass: drain a pending notification if
// there is one, otherwise force a proactive check if the kind has been silent
// past the threshold. Handler failures are contained here so one kind cannot
// skip the kinds after it.
func (m *Mediator) checkChange(ctx context.Context, kind cluster.ChangeKind) {
	handler, ok := m.registry.Handler(kind)
	if !ok {
		return
	}

	now := time.Now()
	if notifiedAt, pending := m.pending.takeAndClear(kind); pending {
		m.metrics.ObserveChangeQueueTime(ctx, kind, now.Sub(notifiedAt))
		_ = m.processChange(ctx, kind, handler)
		return
	}

	if now.Sub(m.lastProcessed.get(kind)) > m.proactiveCheckInterval {
		m.logger.Info(ctx, "Proactively checking cluster change", "change_kind", kind)
		m.metrics.IncProactiveChecks(ctx, kind)
		_ = m.processChange(ctx, kind, handler)
	}
}

// processChange runs one handler invocation with logging, metrics, and a span.
// The last-processed time is updated even when the handler fails; a broken
// handler is retried by the next notification or proactive window rather than
// on every pass.
func (m *Mediator) processChange(ctx context.Context, kind cluster.ChangeKind, handler cluster.ChangeHandler) error {
	ctx, span := m.tracer.Start(ctx, "cluster_mediator.process_change",
		trace.WithAttributes(
			attribute.String("mediator_id", m.id),
			attribute.String("change_kind", string(kind)),
		))
	defer span.End()

	logger := m.logger.With("operation", "process_change", "change_kind", kind)
	logger.Info(ctx, "Start processing cluster change")

	startTime := time.Now()
	err := invokeHandler(ctx, handler)
	duration := time.Since(startTime)

	m.lastProcessed.set(kind, time.Now())
	m.metrics.ObserveChangeProcessingTime(ctx, kind, duration)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "change handler failed")
		m.metrics.IncHandlerErrors(ctx, kind)
		logger.Error(ctx, "Failed to process cluster change", "duration", duration.String(), "error", err)
		return fmt.Errorf("processing %s change: %w", kind, err)
	}

	span.AddEvent("change_processed")
	m.metrics.IncChangesProcessed(ctx, kind)
	logger.Info(ctx, "Finished processing cluster change", "duration", duration.String())
	return nil
}

// invokeHandler converts a handler panic into an error so a misbehaving
// handler degrades like a failing one instead of killing the drain loop.
func invokeHandler(ctx context.Context, handler cluster.ChangeHandler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("change handler panicked: %v", r)
		}
	}()
	return handler.ProcessClusterChange(ctx)
}

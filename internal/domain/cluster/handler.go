package cluster

import "context"

// ChangeHandler reconciles local state after a cluster change of one kind.
// Implementations receive no payload; they are expected to fetch the current
// cluster state themselves. Processing may be expensive, which is exactly why
// the mediator coalesces bursts of notifications into single invocations.
type ChangeHandler interface {
	// ProcessClusterChange performs one reconciliation for the handler's kind.
	// It runs to completion even across shutdown; cancellation of ctx is
	// advisory.
	ProcessClusterChange(ctx context.Context) error
}

// ChangeHandlerFunc adapts an ordinary function to the ChangeHandler interface.
type ChangeHandlerFunc func(ctx context.Context) error

// ProcessClusterChange calls f.
func (f ChangeHandlerFunc) ProcessClusterChange(ctx context.Context) error { return f(ctx) }

// Package cluster defines the domain types for cluster-state change
// notifications: the kinds of change a coordination service can report,
// the handler contract for reconciling a change, and the registry that
// binds the two together.
package cluster

import (
	"context"
	"fmt"
)

// ChangeKind identifies a category of cluster-state change. It is the key
// for all change bookkeeping, so it must stay comparable. The set is open:
// embedding services may define their own kinds and register handlers for
// them alongside the built-in ones.
type ChangeKind string

const (
	// ChangeKindExternalView signals that the routing view of the cluster
	// (which instances serve which resources) has changed.
	ChangeKindExternalView ChangeKind = "external-view"

	// ChangeKindInstanceConfig signals that the configuration of one or more
	// cluster instances has changed.
	ChangeKindInstanceConfig ChangeKind = "instance-config"

	// ChangeKindLiveInstance signals that cluster membership has changed
	// (an instance joined, left, or expired).
	ChangeKindLiveInstance ChangeKind = "live-instance"
)

// ChangeNotifier receives change notifications from a coordination source.
// Notifications carry no content: the upstream watch clients are configured
// to deliver signal only, and handlers re-read whatever state they need.
type ChangeNotifier interface {
	// OnClusterChange records that a change of the given kind occurred.
	// payload must be empty; it exists only so the signal-only contract with
	// the upstream source can be enforced at the boundary.
	OnClusterChange(ctx context.Context, kind ChangeKind, payload []any) error
}

// UnknownChangeKindError indicates a notification for a kind that has no
// registered handler.
type UnknownChangeKindError struct{ Kind ChangeKind }

func (e *UnknownChangeKindError) Error() string {
	return fmt.Sprintf("no handler registered for change kind: %s", e.Kind)
}

// UnexpectedPayloadError indicates a notification that carried content even
// though the upstream source is supposed to deliver signal only.
type UnexpectedPayloadError struct {
	Kind ChangeKind
	Size int
}

func (e *UnexpectedPayloadError) Error() string {
	return fmt.Sprintf("notification for change kind %s carried %d payload items, expected none (is pre-fetch disabled upstream?)",
		e.Kind, e.Size)
}

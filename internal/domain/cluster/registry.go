package cluster

import "fmt"

// HandlerAlreadyRegisteredError indicates an attempt to register a second
// handler for a change kind that already has one.
type HandlerAlreadyRegisteredError struct{ Kind ChangeKind }

func (e *HandlerAlreadyRegisteredError) Error() string {
	return fmt.Sprintf("handler already registered for change kind: %s", e.Kind)
}

// Registry maps change kinds to their handlers while preserving registration
// order. The drain loop visits kinds in exactly this order on every pass, so
// the order is part of the processing contract. A registry is assembled
// during service construction and must not be mutated once handed to the
// mediator; Registry itself is not safe for concurrent registration.
type Registry struct {
	kinds    []ChangeKind
	handlers map[ChangeKind]ChangeHandler
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[ChangeKind]ChangeHandler)}
}

// Register binds a handler to a change kind. Each kind gets exactly one
// handler; registering a duplicate returns a HandlerAlreadyRegisteredError.
func (r *Registry) Register(kind ChangeKind, handler ChangeHandler) error {
	if _, exists := r.handlers[kind]; exists {
		return &HandlerAlreadyRegisteredError{Kind: kind}
	}
	r.kinds = append(r.kinds, kind)
	r.handlers[kind] = handler
	return nil
}

// Handler returns the handler for kind, if one is registered.
func (r *Registry) Handler(kind ChangeKind) (ChangeHandler, bool) {
	h, ok := r.handlers[kind]
	return h, ok
}

// Kinds returns the registered change kinds in registration order. The
// returned slice is shared; callers must not modify it.
func (r *Registry) Kinds() []ChangeKind { return r.kinds }

// Len returns the number of registered kinds.
func (r *Registry) Len() int { return len(r.kinds) }

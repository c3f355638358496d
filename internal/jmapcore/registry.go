package jmapcore

import "context"

// MethodFlags are per-method flags the dispatcher consults before invoking
// a handler (spec §4.1, §4.2).
type MethodFlags uint8

const (
	// FlagSharedState marks a method as never mutating account-scoped
	// state, letting the dispatcher open a shared (read-only) mailbox
	// handle for it instead of an exclusive one.
	FlagSharedState MethodFlags = 1 << iota
)

// MethodHandler processes one already-argument-resolved method call against
// the request context and returns the response invocation(s) it produces —
// normally exactly one, but a handler may also schedule sub-calls via
// RequestContext.ScheduleSubCall and return just its own response here.
type MethodHandler func(ctx context.Context, rc *RequestContext, call Invocation) Invocation

// MethodRegistry is the process-wide, read-only-after-init method table
// (spec §4.2) for methods Core implements directly (Core/echo, Blob/*).
// Methods outside this table are looked up in the plugin registry instead.
type MethodRegistry struct {
	handlers   map[string]MethodHandler
	flags      map[string]MethodFlags
	capability map[string]string
}

// NewMethodRegistry returns an empty registry.
func NewMethodRegistry() *MethodRegistry {
	return &MethodRegistry{
		handlers:   make(map[string]MethodHandler),
		flags:      make(map[string]MethodFlags),
		capability: make(map[string]string),
	}
}

// Register adds a method. Intended to be called only during server init,
// before the registry is shared across concurrent request handlers.
func (r *MethodRegistry) Register(name, capability string, flags MethodFlags, handler MethodHandler) {
	r.handlers[name] = handler
	r.flags[name] = flags
	r.capability[name] = capability
}

// Lookup returns the handler, flags, and declaring capability for a method name.
func (r *MethodRegistry) Lookup(name string) (handler MethodHandler, flags MethodFlags, capability string, ok bool) {
	handler, ok = r.handlers[name]
	if !ok {
		return nil, 0, "", false
	}
	return handler, r.flags[name], r.capability[name], true
}

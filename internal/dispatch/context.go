package dispatch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// callState is the cancellation and acknowledgement state shared by a Context
// and every Context derived from it.
type callState struct {
	done       chan struct{}
	cancelOnce sync.Once
	acked      atomic.Bool
}

// Context is the per-invocation execution state of one in-flight call. It is
// exclusively owned by that call and never shared between concurrent
// dispatches. Deriving helpers (WithExtension, WithAuthentication) return a
// child that shares the cancellation state but leaves the receiver untouched,
// so interceptors earlier in the chain never observe values injected later.
type Context struct {
	requestID string
	deadline  time.Time
	auth      any
	base      context.Context

	state *callState

	parent *Context
	extKey any
	extVal any
}

// ContextOption customises NewContext.
type ContextOption func(*Context)

// WithDeadline sets the advisory absolute expiry instant. The router never
// aborts a handler at the deadline; the deadline interceptor enforces it.
func WithDeadline(t time.Time) ContextOption {
	return func(c *Context) { c.deadline = t }
}

// WithAuthentication attaches principal/claims information. Adapters populate
// this, never the router.
func WithAuthentication(principal any) ContextOption {
	return func(c *Context) { c.auth = principal }
}

// WithParent attaches a standard library context for handlers and
// observability interceptors that need one for I/O or trace propagation.
func WithParent(ctx context.Context) ContextOption {
	return func(c *Context) { c.base = ctx }
}

// NewContext constructs a Context. A request id is required; all other fields
// default to unset.
func NewContext(requestID string, opts ...ContextOption) *Context {
	if requestID == "" {
		panic("raffel: context requires a request id")
	}
	c := &Context{
		requestID: requestID,
		base:      context.Background(),
		state:     &callState{done: make(chan struct{})},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RequestID returns the stable identifier of this call.
func (c *Context) RequestID() string { return c.requestID }

// Deadline returns the advisory expiry instant, if one was set.
func (c *Context) Deadline() (time.Time, bool) {
	return c.deadline, !c.deadline.IsZero()
}

// Authentication returns the principal attached by the adapter, or nil.
func (c *Context) Authentication() any { return c.auth }

// Base returns the standard library context attached by the adapter,
// defaulting to context.Background.
func (c *Context) Base() context.Context {
	if c.base == nil {
		return context.Background()
	}
	return c.base
}

// Cancel sets the cancellation signal. It is idempotent and observable by
// stream iteration, retry loops, and any handler polling Cancelled or Done.
func (c *Context) Cancel() {
	c.state.cancelOnce.Do(func() { close(c.state.done) })
}

// Cancelled reports whether the cancellation signal has fired.
func (c *Context) Cancelled() bool {
	select {
	case <-c.state.done:
		return true
	default:
		return false
	}
}

// Done returns a channel closed when the call is cancelled.
func (c *Context) Done() <-chan struct{} { return c.state.done }

// Ack signals, for at-least-once event delivery, that no further retries are
// needed even if the handler is still doing background work. Idempotent; a
// no-op for every other handler kind.
func (c *Context) Ack() { c.state.acked.Store(true) }

// Acknowledged reports whether Ack was called during this delivery.
func (c *Context) Acknowledged() bool { return c.state.acked.Load() }

// derive returns a child sharing the call state.
func (c *Context) derive() *Context {
	return &Context{
		requestID: c.requestID,
		deadline:  c.deadline,
		auth:      c.auth,
		base:      c.base,
		state:     c.state,
		parent:    c,
	}
}

// WithAuthenticationValue returns a derived Context carrying the given
// principal. Used by authentication interceptors to inject a principal for
// the rest of the chain without mutating the Context already observed.
func (c *Context) WithAuthenticationValue(principal any) *Context {
	child := c.derive()
	child.auth = principal
	return child
}

// ExtensionKey is an opaque capability token for the typed extension store.
// The type parameter fixes the value type at every access site, so adapters
// attach protocol-specific data without name-based dynamic lookup.
type ExtensionKey[T any] struct {
	name string
}

// NewExtensionKey allocates a distinct token. Two keys with the same name are
// still distinct; the identity is the pointer, not the string.
func NewExtensionKey[T any](name string) *ExtensionKey[T] {
	return &ExtensionKey[T]{name: name}
}

func (k *ExtensionKey[T]) String() string { return k.name }

// WithExtension returns a derived Context carrying value under key.
func WithExtension[T any](c *Context, key *ExtensionKey[T], value T) *Context {
	child := c.derive()
	child.extKey = key
	child.extVal = value
	return child
}

// Extension retrieves the value stored under key, walking the derivation
// chain from newest to oldest.
func Extension[T any](c *Context, key *ExtensionKey[T]) (T, bool) {
	for cur := c; cur != nil; cur = cur.parent {
		if cur.extKey == any(key) {
			if typed, ok := cur.extVal.(T); ok {
				return typed, true
			}
		}
	}
	var zero T
	return zero, false
}

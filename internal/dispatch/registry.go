package dispatch

import (
	"iter"
	"sort"
	"sync"
	"sync/atomic"

	errspkg "github.com/forattini-dev/raffel-sub000/internal/dispatch/errors"
	metadatapkg "github.com/forattini-dev/raffel-sub000/internal/dispatch/metadata"
)

// HandlerKind is the family a handler belongs to. Each inbound envelope kind
// is only compatible with one family.
type HandlerKind string

const (
	HandlerProcedure HandlerKind = "procedure"
	HandlerStream    HandlerKind = "stream"
	HandlerEvent     HandlerKind = "event"
)

func (k HandlerKind) valid() bool {
	switch k {
	case HandlerProcedure, HandlerStream, HandlerEvent:
		return true
	}
	return false
}

// ProcedureFunc handles a request envelope and returns the response payload.
type ProcedureFunc func(ctx *Context, env *Envelope) (any, error)

// StreamFunc handles a stream-start envelope and returns the lazy item source
// the adapter will iterate.
type StreamFunc func(ctx *Context, env *Envelope) (Source, error)

// EventFunc handles a fire-and-forget event envelope. Call ctx.Ack to stop
// further at-least-once retries before returning.
type EventFunc func(ctx *Context, env *Envelope) error

// Descriptor is the registered metadata and function for one handler, keyed
// by (kind, name). Immutable once registered; the hot-reload path replaces
// descriptors wholesale instead of mutating them.
type Descriptor struct {
	Name string
	Kind HandlerKind

	Procedure ProcedureFunc
	Stream    StreamFunc
	Event     EventFunc

	// Interceptors bound at registration time, run after the router's
	// global chain in registration order.
	Interceptors []Interceptor

	// Delivery applies to event handlers only.
	Delivery DeliveryOptions

	// Metadata carries documentation and transport hints; irrelevant to
	// dispatch.
	Metadata metadatapkg.Metadata

	stats *HandlerStats
}

func (d *Descriptor) validate() error {
	if d == nil {
		return errspkg.ErrHandlerRequired
	}
	if d.Name == "" {
		return errspkg.ErrHandlerNameRequired
	}
	if !d.Kind.valid() {
		return errspkg.ErrHandlerKindInvalid
	}
	switch d.Kind {
	case HandlerProcedure:
		if d.Procedure == nil {
			return errspkg.ErrHandlerRequired
		}
	case HandlerStream:
		if d.Stream == nil {
			return errspkg.ErrHandlerRequired
		}
	case HandlerEvent:
		if d.Event == nil {
			return errspkg.ErrHandlerRequired
		}
	}
	return nil
}

// Stats exposes the per-handler dispatch statistics collected by the router.
// Nil until the descriptor is registered through a Router.
func (d *Descriptor) Stats() *HandlerStats { return d.stats }

type registryKey struct {
	kind HandlerKind
	name string
}

// Registry maps (kind, name) to handler descriptors. Lookups read an
// immutable copy-on-write snapshot, so they are safe concurrently with
// registration and never observe a partially-constructed descriptor.
type Registry struct {
	mu       sync.Mutex
	snapshot atomic.Pointer[map[registryKey]*Descriptor]
	closed   atomic.Bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	r := &Registry{}
	empty := make(map[registryKey]*Descriptor)
	r.snapshot.Store(&empty)
	return r
}

// Register inserts a descriptor. Re-registering the exact (kind, name) pair
// fails with an ALREADY_EXISTS-shaped error; use Replace for the hot-reload
// path.
func (r *Registry) Register(d *Descriptor) error {
	return r.insert(d, false)
}

// Replace atomically swaps in a descriptor for its (kind, name) pair,
// inserting it when absent. This is the hot-reload path: in-flight lookups
// keep the snapshot they already read.
func (r *Registry) Replace(d *Descriptor) error {
	return r.insert(d, true)
}

func (r *Registry) insert(d *Descriptor, replace bool) error {
	if err := d.validate(); err != nil {
		return err
	}
	if r.closed.Load() {
		return errspkg.ErrRegistryClosed
	}

	key := registryKey{kind: d.Kind, name: d.Name}

	r.mu.Lock()
	defer r.mu.Unlock()

	current := *r.snapshot.Load()
	if _, exists := current[key]; exists && !replace {
		return errspkg.Newf(errspkg.CodeAlreadyExists,
			"handler %q already registered for kind %s", d.Name, d.Kind)
	}

	next := make(map[registryKey]*Descriptor, len(current)+1)
	for k, v := range current {
		next[k] = v
	}
	next[key] = d
	r.snapshot.Store(&next)
	return nil
}

// Lookup returns the descriptor registered under (kind, name).
func (r *Registry) Lookup(kind HandlerKind, name string) (*Descriptor, bool) {
	if r.closed.Load() {
		return nil, false
	}
	d, ok := (*r.snapshot.Load())[registryKey{kind: kind, name: name}]
	return d, ok
}

// existsUnderOtherKind reports whether name is registered under any family
// other than kind. The router uses it to distinguish a kind mismatch from a
// plain unknown name.
func (r *Registry) existsUnderOtherKind(name string, kind HandlerKind) bool {
	snapshot := *r.snapshot.Load()
	for _, other := range []HandlerKind{HandlerProcedure, HandlerStream, HandlerEvent} {
		if other == kind {
			continue
		}
		if _, ok := snapshot[registryKey{kind: other, name: name}]; ok {
			return true
		}
	}
	return false
}

// List yields the registered descriptors sorted by kind then name. With no
// arguments every descriptor is yielded; otherwise only the given kinds. The
// sequence is finite and restartable over the snapshot taken at call time;
// consumers such as documentation export must treat descriptors as read-only.
func (r *Registry) List(kinds ...HandlerKind) iter.Seq[*Descriptor] {
	snapshot := *r.snapshot.Load()

	wanted := func(HandlerKind) bool { return true }
	if len(kinds) > 0 {
		allowed := make(map[HandlerKind]bool, len(kinds))
		for _, k := range kinds {
			allowed[k] = true
		}
		wanted = func(k HandlerKind) bool { return allowed[k] }
	}

	descriptors := make([]*Descriptor, 0, len(snapshot))
	for key, d := range snapshot {
		if wanted(key.kind) {
			descriptors = append(descriptors, d)
		}
	}
	sort.Slice(descriptors, func(i, j int) bool {
		if descriptors[i].Kind != descriptors[j].Kind {
			return descriptors[i].Kind < descriptors[j].Kind
		}
		return descriptors[i].Name < descriptors[j].Name
	})

	return func(yield func(*Descriptor) bool) {
		for _, d := range descriptors {
			if !yield(d) {
				return
			}
		}
	}
}

// Len reports the number of registered descriptors.
func (r *Registry) Len() int {
	return len(*r.snapshot.Load())
}

// Close tears the registry down. Further registrations fail and lookups
// report not-found.
func (r *Registry) Close() {
	r.closed.Store(true)
}

package dispatch

import (
	"context"
	"sync"

	errspkg "github.com/forattini-dev/raffel-sub000/internal/dispatch/errors"
	loggingpkg "github.com/forattini-dev/raffel-sub000/internal/dispatch/logging"
)

// Result is the outcome of one Handle call: a response envelope, a lazy
// stream, or the no-response marker for fire-and-forget dispatch.
type Result struct {
	response *Envelope
	stream   *Stream
}

// Response returns the response or error envelope, nil for streams and
// fire-and-forget outcomes.
func (r Result) Response() *Envelope { return r.response }

// Stream returns the lazy envelope sequence for stream-start dispatch, nil
// otherwise.
func (r Result) Stream() *Stream { return r.stream }

// None reports the explicit "no response" marker: the adapter must not send a
// response frame. Distinct from a response envelope with an empty payload.
func (r Result) None() bool { return r.response == nil && r.stream == nil }

// Err returns the normalized error when the result is an error envelope.
func (r Result) Err() *errspkg.Error { return r.response.Err() }

// RouterDependencies holds the optional collaborators a Router can use.
type RouterDependencies struct {
	// Interceptors are appended after the default interceptor chain.
	Interceptors []InterceptorRegistration

	// DisableDefaultInterceptors skips the default chain entirely.
	DisableDefaultInterceptors bool

	// Validator backs the validation interceptor slot. Nil disables it.
	Validator PayloadValidator

	// FailureReporter receives final event delivery failures. Nil falls
	// back to logging.
	FailureReporter FailureReporter

	// DefaultRetry backs at-least-once registrations that leave retry
	// fields zero. Its own zero fields fall back to library defaults.
	DefaultRetry RetryPolicy

	// MetricsRegisterer enables the Prometheus interceptor when non-nil.
	MetricsRegisterer Registerer

	// TracingEnabled turns on the OpenTelemetry interceptor.
	TracingEnabled bool
}

// Router is the dispatch core: it resolves envelopes against the registry,
// composes the interceptor chain, invokes the handler, and normalizes every
// failure into the shared error taxonomy. Envelopes with different ids are
// dispatched fully concurrently; no global lock serializes them.
type Router struct {
	logger    loggingpkg.ServiceLogger
	registry  *Registry
	delivery  *deliveryManager
	validator PayloadValidator

	interceptors []Interceptor

	handlers   []*HandlerInfo
	handlersMu sync.RWMutex
}

// NewRouter constructs a Router with its own registry and delivery manager.
// Register handlers before dispatching envelopes at it.
func NewRouter(logger loggingpkg.ServiceLogger, deps RouterDependencies) *Router {
	if logger == nil {
		logger = loggingpkg.Nop()
	}

	r := &Router{
		logger:    logger,
		registry:  NewRegistry(),
		validator: deps.Validator,
	}
	r.delivery = newDeliveryManager(logger, deps.FailureReporter, deps.DefaultRetry)

	var registrations []InterceptorRegistration
	if !deps.DisableDefaultInterceptors {
		registrations = DefaultInterceptors(deps)
	}
	registrations = append(registrations, deps.Interceptors...)

	for _, reg := range registrations {
		if err := r.RegisterInterceptor(reg); err != nil {
			name := reg.Name
			if name == "" {
				name = "anonymous_interceptor"
			}
			logger.Error("failed to register interceptor", err, loggingpkg.LogFields{"name": name})
		}
	}

	return r
}

// Registry exposes the handler registry for documentation export and hot
// reload. Treat listed descriptors as read-only.
func (r *Router) Registry() *Registry { return r.registry }

// register validates, attaches stats, and inserts or replaces the descriptor.
func (r *Router) register(d *Descriptor, replace bool) error {
	if err := d.validate(); err != nil {
		return err
	}

	d.stats = newHandlerStats()

	var err error
	if replace {
		err = r.registry.Replace(d)
	} else {
		err = r.registry.Register(d)
	}
	if err != nil {
		return err
	}

	info := &HandlerInfo{
		Name:  d.Name,
		Kind:  d.Kind,
		Stats: d.stats,
	}
	if d.Kind == HandlerEvent {
		info.Delivery = string(d.Delivery.withDefaults().Policy)
	}

	r.handlersMu.Lock()
	if replace {
		for i, existing := range r.handlers {
			if existing.Name == d.Name && existing.Kind == d.Kind {
				r.handlers = append(r.handlers[:i], r.handlers[i+1:]...)
				break
			}
		}
	}
	r.handlers = append(r.handlers, info)
	r.handlersMu.Unlock()

	r.logger.Debug("handler registered", loggingpkg.LogFields{
		"name": d.Name,
		"kind": string(d.Kind),
	})
	return nil
}

// Handlers returns the introspection view of every registered handler.
func (r *Router) Handlers() []*HandlerInfo {
	r.handlersMu.RLock()
	defer r.handlersMu.RUnlock()
	out := make([]*HandlerInfo, len(r.handlers))
	copy(out, r.handlers)
	return out
}

// Handle dispatches one envelope. The hard error return is reserved for
// programmer misuse (nil envelope); every dispatch failure is shaped into an
// error envelope carrying the triggering envelope's id.
func (r *Router) Handle(env *Envelope) (Result, error) {
	if env == nil {
		return Result{}, errspkg.ErrEnvelopeRequired
	}
	if env.ID == "" || env.Procedure == "" {
		return Result{response: errorEnvelope(env, errspkg.New(errspkg.CodeInvalidEnvelope,
			"envelope requires an id and a procedure"))}, nil
	}

	ctx := env.Context
	if ctx == nil {
		ctx = NewContext(env.ID)
		env.Context = ctx
	}

	family, ok := env.Kind.handlerKind()
	if !ok {
		return Result{response: errorEnvelope(env, errspkg.Newf(errspkg.CodeInvalidEnvelope,
			"kind %q cannot be dispatched", env.Kind))}, nil
	}

	desc, found := r.registry.Lookup(family, env.Procedure)
	if !found {
		if r.registry.existsUnderOtherKind(env.Procedure, family) {
			return Result{response: errorEnvelope(env, errspkg.Newf(errspkg.CodeInvalidEnvelope,
				"procedure %q is not registered for kind %s", env.Procedure, env.Kind))}, nil
		}
		return Result{response: errorEnvelope(env, errspkg.Newf(errspkg.CodeNotFound,
			"procedure %q is not registered", env.Procedure))}, nil
	}

	chain := r.buildChain(desc)

	switch family {
	case HandlerStream:
		return r.handleStream(env, ctx, chain)
	case HandlerEvent:
		return r.handleEvent(env, ctx, desc, chain)
	default:
		return r.handleRequest(env, ctx, chain)
	}
}

// buildChain composes the effective chain: global interceptors first, then
// the descriptor's bound interceptors, in registration order, around the
// stats-wrapped terminal handler.
func (r *Router) buildChain(desc *Descriptor) Next {
	terminal := wrapTerminalWithStats(terminalFor(desc), desc.stats)

	total := len(r.interceptors) + len(desc.Interceptors)
	if total == 0 {
		return terminal
	}
	effective := make([]Interceptor, 0, total)
	effective = append(effective, r.interceptors...)
	effective = append(effective, desc.Interceptors...)
	return chainInterceptors(terminal, effective)
}

func terminalFor(desc *Descriptor) Next {
	switch desc.Kind {
	case HandlerStream:
		return func(env *Envelope, ctx *Context) (any, error) {
			return desc.Stream(ctx, env)
		}
	case HandlerEvent:
		return func(env *Envelope, ctx *Context) (any, error) {
			return nil, desc.Event(ctx, env)
		}
	default:
		return func(env *Envelope, ctx *Context) (any, error) {
			return desc.Procedure(ctx, env)
		}
	}
}

func (r *Router) handleRequest(env *Envelope, ctx *Context, chain Next) (Result, error) {
	out, err := r.invoke(env, ctx, chain)
	if err != nil {
		derr := errspkg.Normalize(err)
		r.logFailure(env, derr)
		return Result{response: errorEnvelope(env, derr)}, nil
	}
	return Result{response: responseEnvelope(env, out)}, nil
}

func (r *Router) handleStream(env *Envelope, ctx *Context, chain Next) (Result, error) {
	out, err := r.invoke(env, ctx, chain)
	if err != nil {
		derr := errspkg.Normalize(err)
		r.logFailure(env, derr)
		return Result{response: errorEnvelope(env, derr)}, nil
	}

	source, ok := out.(Source)
	if !ok || source == nil {
		derr := errspkg.Newf(errspkg.CodeInternalError,
			"stream handler %q returned no source", env.Procedure)
		r.logFailure(env, derr)
		return Result{response: errorEnvelope(env, derr)}, nil
	}
	return Result{stream: newStream(env, ctx, source)}, nil
}

func (r *Router) handleEvent(env *Envelope, ctx *Context, desc *Descriptor, chain Next) (Result, error) {
	invoke := func(env *Envelope, ctx *Context) (any, error) {
		return r.invoke(env, ctx, chain)
	}
	if derr := r.delivery.deliver(ctx, env, desc.Delivery, invoke); derr != nil {
		return Result{response: errorEnvelope(env, derr)}, nil
	}
	return Result{}, nil
}

// invoke is the router's single catch boundary: panics escaping the chain are
// recovered and normalized exactly once.
func (r *Router) invoke(env *Envelope, ctx *Context, chain Next) (out any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			derr := errspkg.Normalize(rec)
			r.logger.Error("handler panicked", derr, loggingpkg.LogFields{
				"envelope_id": env.ID,
				"procedure":   env.Procedure,
			})
			out, err = nil, derr
		}
	}()
	return chain(env, ctx)
}

func (r *Router) logFailure(env *Envelope, derr *errspkg.Error) {
	fields := loggingpkg.LogFields{
		"envelope_id": env.ID,
		"procedure":   env.Procedure,
		"code":        string(derr.Code),
	}
	if errspkg.IsOperational(derr) {
		r.logger.Debug("dispatch rejected", fields)
		return
	}
	r.logger.Error("dispatch failed", derr, fields)
}

// Drain blocks until background event retries finish or ctx expires.
func (r *Router) Drain(ctx context.Context) error {
	return r.delivery.drain(ctx)
}

// Close tears down the router: the registry stops serving lookups and
// outstanding retries are awaited.
func (r *Router) Close(ctx context.Context) error {
	r.registry.Close()
	return r.delivery.drain(ctx)
}

package dispatch

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	errspkg "github.com/forattini-dev/raffel-sub000/internal/dispatch/errors"
	idspkg "github.com/forattini-dev/raffel-sub000/internal/dispatch/ids"
	loggingpkg "github.com/forattini-dev/raffel-sub000/internal/dispatch/logging"
)

// MetadataKeyCorrelationID is the envelope metadata entry filled in by the
// correlation id interceptor when the adapter left it empty.
const MetadataKeyCorrelationID = "correlation_id"

// Registerer is the Prometheus registration surface the metrics interceptor
// needs.
type Registerer = prometheus.Registerer

// PayloadValidator is the schema-validation slot: implementations typically
// forward to a JSON-schema or protobuf validator. The core guarantees only
// that the slot runs in chain order before the handler.
type PayloadValidator interface {
	Validate(procedure string, payload any) error
}

// InterceptorBuilder constructs an interceptor against a router instance.
// Returning a nil interceptor with a nil error skips registration.
type InterceptorBuilder func(*Router) (Interceptor, error)

// InterceptorRegistration captures how an interceptor is registered on a
// router.
type InterceptorRegistration struct {
	Name        string
	Interceptor Interceptor
	Builder     InterceptorBuilder
}

// DefaultInterceptors returns the standard chain used by NewRouter:
// correlation id, call logging, validation, tracing, metrics, deadline,
// recoverer. The observability entries only observe; they never alter the
// outcome.
func DefaultInterceptors(deps RouterDependencies) []InterceptorRegistration {
	return []InterceptorRegistration{
		CorrelationIDInterceptor(),
		LogCallsInterceptor(nil),
		ValidationInterceptor(),
		TracerInterceptor(deps.TracingEnabled),
		MetricsInterceptor(deps.MetricsRegisterer),
		DeadlineInterceptor(),
		RecovererInterceptor(),
	}
}

// RegisterInterceptor appends an interceptor to the router's global chain.
// Global interceptors run before handler-bound ones, in registration order.
func (r *Router) RegisterInterceptor(cfg InterceptorRegistration) error {
	var interceptor Interceptor
	switch {
	case cfg.Interceptor != nil:
		interceptor = cfg.Interceptor
	case cfg.Builder != nil:
		var err error
		interceptor, err = cfg.Builder(r)
		if err != nil {
			return err
		}
	default:
		return errspkg.ErrHandlerRequired
	}

	if interceptor == nil {
		return nil
	}
	r.interceptors = append(r.interceptors, interceptor)
	return nil
}

// CorrelationIDInterceptor fills in a missing correlation id on the envelope
// metadata so every call is traceable across adapters.
func CorrelationIDInterceptor() InterceptorRegistration {
	return InterceptorRegistration{
		Name: "correlation_id",
		Interceptor: func(env *Envelope, ctx *Context, next Next) (any, error) {
			if env.Metadata == nil {
				env.Metadata = map[string]string{}
			}
			if env.Metadata[MetadataKeyCorrelationID] == "" {
				env.Metadata[MetadataKeyCorrelationID] = idspkg.CreateULID()
			}
			return next(env, ctx)
		},
	}
}

// LogCallsInterceptor logs dispatch entry and outcome at debug level. A nil
// logger falls back to the router's own.
func LogCallsInterceptor(logger loggingpkg.ServiceLogger) InterceptorRegistration {
	return InterceptorRegistration{
		Name: "log_calls",
		Builder: func(r *Router) (Interceptor, error) {
			l := logger
			if l == nil {
				l = r.logger
			}
			return func(env *Envelope, ctx *Context, next Next) (any, error) {
				l.Debug("dispatching", loggingpkg.LogFields{
					"envelope_id": env.ID,
					"procedure":   env.Procedure,
					"kind":        string(env.Kind),
				})
				out, err := next(env, ctx)
				if err != nil {
					l.Debug("dispatch returned error", loggingpkg.LogFields{
						"envelope_id": env.ID,
						"procedure":   env.Procedure,
						"error":       err.Error(),
					})
				}
				return out, err
			}, nil
		},
	}
}

// ValidationInterceptor runs the router's PayloadValidator against request
// and event payloads before the handler sees them. Skipped when no validator
// is configured.
func ValidationInterceptor() InterceptorRegistration {
	return InterceptorRegistration{
		Name: "validation",
		Builder: func(r *Router) (Interceptor, error) {
			if r.validator == nil {
				return nil, nil
			}
			validator := r.validator
			return func(env *Envelope, ctx *Context, next Next) (any, error) {
				if env.Kind == KindRequest || env.Kind == KindEvent {
					if err := validator.Validate(env.Procedure, env.Payload); err != nil {
						if derr := errspkg.Normalize(err); derr.Code != errspkg.CodeInternalError {
							return nil, derr
						}
						return nil, errspkg.Wrap(errspkg.CodeValidationError,
							"payload validation failed", err)
					}
				}
				return next(env, ctx)
			}, nil
		},
	}
}

// TracerInterceptor wraps each dispatch in an OpenTelemetry span. The span
// only observes; outcome and error pass through unchanged.
func TracerInterceptor(enabled bool) InterceptorRegistration {
	return InterceptorRegistration{
		Name: "tracer",
		Builder: func(*Router) (Interceptor, error) {
			if !enabled {
				return nil, nil
			}
			tracer := otel.Tracer("raffel-dispatch")
			return func(env *Envelope, ctx *Context, next Next) (any, error) {
				spanCtx, span := tracer.Start(ctx.Base(), "Dispatch")
				defer span.End()

				span.SetAttributes(
					attribute.String("envelope.id", env.ID),
					attribute.String("envelope.procedure", env.Procedure),
					attribute.String("envelope.kind", string(env.Kind)),
				)

				out, err := next(env, WithExtension(ctx, spanContextKey, spanCtx))
				if err != nil {
					span.RecordError(err)
				}
				return out, err
			}, nil
		},
	}
}

// spanContextKey carries the per-dispatch trace context for handlers that
// propagate spans into downstream calls.
var spanContextKey = NewExtensionKey[context.Context]("raffel.trace_context")

// TraceContext retrieves the trace context injected by the tracer
// interceptor, when tracing is enabled.
func TraceContext(ctx *Context) (context.Context, bool) {
	return Extension(ctx, spanContextKey)
}

// MetricsInterceptor counts dispatches and observes their duration with
// Prometheus. Skipped when no registerer is supplied.
func MetricsInterceptor(registerer Registerer) InterceptorRegistration {
	return InterceptorRegistration{
		Name: "metrics",
		Builder: func(*Router) (Interceptor, error) {
			if registerer == nil {
				return nil, nil
			}

			dispatches := prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "raffel",
				Name:      "dispatches_total",
				Help:      "Envelopes dispatched, partitioned by procedure, kind, and outcome.",
			}, []string{"procedure", "kind", "outcome"})
			duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "raffel",
				Name:      "dispatch_duration_seconds",
				Help:      "Handler chain execution time.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"procedure", "kind"})

			if err := registerer.Register(dispatches); err != nil {
				return nil, err
			}
			if err := registerer.Register(duration); err != nil {
				return nil, err
			}

			return func(env *Envelope, ctx *Context, next Next) (any, error) {
				start := time.Now()
				out, err := next(env, ctx)
				duration.WithLabelValues(env.Procedure, string(env.Kind)).
					Observe(time.Since(start).Seconds())

				outcome := "success"
				if err != nil {
					outcome = string(errspkg.Normalize(err).Code)
				}
				dispatches.WithLabelValues(env.Procedure, string(env.Kind), outcome).Inc()
				return out, err
			}, nil
		},
	}
}

// DeadlineInterceptor enforces the context's advisory deadline: once it
// passes, the chain outcome is DEADLINE_EXCEEDED even though the handler may
// still be running. Deadline enforcement lives here because the router never
// aborts handlers itself.
func DeadlineInterceptor() InterceptorRegistration {
	return InterceptorRegistration{
		Name: "deadline",
		Interceptor: func(env *Envelope, ctx *Context, next Next) (any, error) {
			deadline, ok := ctx.Deadline()
			if !ok {
				return next(env, ctx)
			}

			remaining := time.Until(deadline)
			if remaining <= 0 {
				return nil, errspkg.Newf(errspkg.CodeDeadlineExceeded,
					"deadline passed before dispatching %q", env.Procedure)
			}

			type outcome struct {
				out any
				err error
			}
			results := make(chan outcome, 1)
			go func() {
				out, err := next(env, ctx)
				results <- outcome{out: out, err: err}
			}()

			timer := time.NewTimer(remaining)
			defer timer.Stop()

			select {
			case result := <-results:
				return result.out, result.err
			case <-timer.C:
				ctx.Cancel()
				return nil, errspkg.Newf(errspkg.CodeDeadlineExceeded,
					"deadline exceeded dispatching %q", env.Procedure)
			case <-ctx.Done():
				return nil, errspkg.Newf(errspkg.CodeCancelled,
					"dispatch of %q cancelled", env.Procedure)
			}
		},
	}
}

// RecovererInterceptor converts panics below it into normalized errors so
// interceptors further out can observe and transform them. The router's own
// catch boundary still covers panics escaping the chain itself.
func RecovererInterceptor() InterceptorRegistration {
	return InterceptorRegistration{
		Name: "recoverer",
		Interceptor: func(env *Envelope, ctx *Context, next Next) (out any, err error) {
			defer func() {
				if rec := recover(); rec != nil {
					out, err = nil, errspkg.Normalize(rec)
				}
			}()
			return next(env, ctx)
		},
	}
}

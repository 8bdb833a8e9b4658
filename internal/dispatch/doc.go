/*
Package dispatch provides the protocol-agnostic request dispatch core for
raffel.

# Architecture Overview

The dispatch package routes envelopes (requests, stream starts, events) to
registered handlers through an interceptor chain. Protocol adapters convert
wire frames into envelopes and hand them to the Router; the core never
parses payload bytes or touches sockets.

# Package Structure

The dispatch package is organized into the following components:

## Envelopes (envelope.go)

The Envelope is the protocol-neutral unit of work. Inbound kinds (request,
stream-start, event) select the handler family that may serve them; outbound
kinds (response, error, stream-data, stream-end, stream-error) shape the
frames an adapter writes back.

## Call Context (context.go)

Context carries per-call state: request id, deadline, authentication,
idempotent cancellation, the delivery acknowledgement flag, and typed
extensions. Derived contexts share cancellation with their parent.

## Registry (registry.go)

Copy-on-write handler registry keyed by (kind, name). Lookups read an
atomic snapshot and never block registration; Replace supports hot
reloading a handler under traffic.

## Router (router.go)

The Router matches an envelope's kind to the handler family, builds the
interceptor chain around the handler, and normalizes every failure (error
or panic) into a single error envelope at one catch boundary.

## Interceptors (interceptor.go, interceptors.go)

Composable dispatch stages running global interceptors around
handler-bound ones:
  - CorrelationID: fills a missing correlation id
  - LogCalls: debug logging of dispatches
  - Validation: payload validation for requests and events
  - Tracer: OpenTelemetry spans per dispatch
  - Metrics: Prometheus dispatch counters and latency histograms
  - Deadline: enforces the context deadline
  - Recoverer: converts panics into internal errors

## Streams (stream.go)

Lazy pull-based stream production. Handlers return a Source; the Stream
wraps it and emits stream-data chunks on demand, ending with stream-end or
a terminal stream-error.

## Delivery (delivery.go, dedup.go)

Per-handler delivery policies for events: best-effort, at-least-once with
exponential backoff retries, and at-most-once backed by a sharded
duplicate-suppression cache. Handlers acknowledge via Context.Ack to stop
retries early.

## Stats & Introspection (stats.go, introspect.go)

Latency percentiles, throughput, and failure counts per handler, exposed
over an HTTP introspection API.

## Service (service.go)

Wires the router to a messaging transport: bridges configured topics into
event envelopes, publishes exhausted deliveries to a dead-letter topic,
and runs the HTTP servers.

# Sub-packages

  - config/: Service configuration with validation
  - errors/: Error taxonomy, normalization, and sentinel errors
  - ids/: ULID generation for envelope IDs
  - jsoncodec/: JSON marshaling utilities
  - logging/: Logger interface and adapters
  - metadata/: Envelope metadata utilities

# Usage Example

	cfg := &raffel.Config{
		Transport:   "nats",
		NATSURL:     "nats://localhost:4222",
		EventTopics: []string{"orders.created"},
	}

	svc := raffel.NewService(cfg, logger, ctx, raffel.ServiceDependencies{})

	raffel.RegisterProcedure(svc.Router(), raffel.ProcedureRegistration{
		Name: "orders.get",
		Handler: func(ctx *raffel.Context, env *raffel.Envelope) (any, error) {
			return lookupOrder(ctx, env.Payload)
		},
	})

	svc.Start(ctx)
*/
package dispatch

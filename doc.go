// Package raffel is a protocol-agnostic request dispatch core built on top of
// Watermill. Protocol adapters (HTTP, WebSocket, message brokers) translate
// their native frames into envelopes; raffel routes each envelope through an
// interceptor pipeline to the registered handler and hands back a normalized
// result, so handlers, validation, retries, and error mapping are written once
// and shared by every transport.
//
// Service hosts the dispatch router next to a Watermill router: it reads the
// target transport (Kafka, RabbitMQ, NATS, or Go channels) from Config,
// bridges subscribed topics into event-kind envelopes, and republishes
// exhausted failures to a dead-letter topic. A minimal setup fills Config,
// creates a Service, registers handlers on its Router, and calls Start; see
// README.md for a copy/paste quick start snippet.
//
// # Handlers
//
// Three handler families cover the inbound envelope kinds:
//   - procedures: one request envelope in, one response payload out
//   - streams: one stream-start envelope in, a lazy source of items out
//   - events: fire-and-forget with a per-handler delivery policy
//
// RegisterJSONProcedure layers typed JSON decoding on top of RegisterProcedure
// so handlers receive their payload struct instead of raw bytes.
//
// # Interceptors
//
// The default interceptor chain injects correlation IDs, logs calls, validates
// payloads, enforces deadlines, records OpenTelemetry spans and Prometheus
// metrics, and recovers panics. Custom interceptors can be added globally via
// ServiceDependencies.Interceptors or per handler at registration.
//
// # Delivery policies
//
// Event handlers pick best-effort, at-least-once (retries with exponential
// backoff until the handler acks), or at-most-once (envelope ID deduplication
// within a suppression window). Failures that exhaust a policy are reported to
// the configured FailureReporter and, when a dead-letter topic is set, to the
// transport.
//
// # Errors
//
// Every failure that crosses the core's boundary is normalized into *Error
// with a code from a fixed taxonomy and a protocol-neutral status. Adapters
// map codes to their wire format; handlers return coded errors to control the
// mapping and plain errors to get INTERNAL_ERROR.
package raffel

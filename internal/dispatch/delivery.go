package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	errspkg "github.com/forattini-dev/raffel-sub000/internal/dispatch/errors"
	loggingpkg "github.com/forattini-dev/raffel-sub000/internal/dispatch/logging"
)

// DeliveryPolicy selects the semantics applied to event-kind dispatch.
type DeliveryPolicy string

const (
	DeliveryBestEffort  DeliveryPolicy = "best-effort"
	DeliveryAtLeastOnce DeliveryPolicy = "at-least-once"
	DeliveryAtMostOnce  DeliveryPolicy = "at-most-once"
)

// RetryPolicy tunes at-least-once retries. Zero values fall back to defaults.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// withFallback fills zero fields from another policy, keeping any value the
// registration set explicitly.
func (p RetryPolicy) withFallback(fallback RetryPolicy) RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = fallback.MaxAttempts
	}
	if p.InitialInterval <= 0 {
		p.InitialInterval = fallback.InitialInterval
	}
	if p.MaxInterval <= 0 {
		p.MaxInterval = fallback.MaxInterval
	}
	return p
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 5
	}
	if p.InitialInterval <= 0 {
		p.InitialInterval = time.Second
	}
	if p.MaxInterval <= 0 {
		p.MaxInterval = 16 * time.Second
	}
	return p
}

// DeliveryOptions configures delivery semantics for one event handler.
type DeliveryOptions struct {
	Policy DeliveryPolicy

	// Retry applies under at-least-once.
	Retry RetryPolicy

	// DedupWindow applies under at-most-once. Defaults to one minute.
	DedupWindow time.Duration
}

func (o DeliveryOptions) withDefaults() DeliveryOptions {
	if o.Policy == "" {
		o.Policy = DeliveryBestEffort
	}
	if o.DedupWindow <= 0 {
		o.DedupWindow = time.Minute
	}
	return o
}

// FailureReporter receives event failures that will not be retried further.
// Final failures are always reported, never silently dropped.
type FailureReporter interface {
	ReportFailure(env *Envelope, derr *errspkg.Error)
}

// FailureReporterFunc adapts a function to the FailureReporter interface.
type FailureReporterFunc func(env *Envelope, derr *errspkg.Error)

func (f FailureReporterFunc) ReportFailure(env *Envelope, derr *errspkg.Error) { f(env, derr) }

type logReporter struct {
	logger loggingpkg.ServiceLogger
}

func (r logReporter) ReportFailure(env *Envelope, derr *errspkg.Error) {
	r.logger.Error("event delivery failed", derr, loggingpkg.LogFields{
		"envelope_id": env.ID,
		"procedure":   env.Procedure,
		"code":        string(derr.Code),
	})
}

// deliveryManager applies the configured delivery policy to event dispatch.
// Retries past the first attempt run on their own goroutine so the adapter's
// dispatch path is never blocked by backoff waits.
type deliveryManager struct {
	logger       loggingpkg.ServiceLogger
	reporter     FailureReporter
	defaultRetry RetryPolicy
	seen         *seenCache
	inflight     sync.WaitGroup
}

func newDeliveryManager(logger loggingpkg.ServiceLogger, reporter FailureReporter, defaultRetry RetryPolicy) *deliveryManager {
	if reporter == nil {
		reporter = logReporter{logger: logger}
	}
	return &deliveryManager{
		logger:       logger,
		reporter:     reporter,
		defaultRetry: defaultRetry,
		seen:         newSeenCache(),
	}
}

// deliver runs one event dispatch under the descriptor's policy. The returned
// error is non-nil only when the synchronous part of the delivery has
// definitively failed, so a transport-level nack can be reported; nil means
// the event was handled, suppressed by dedup, or is still retrying in the
// background.
func (m *deliveryManager) deliver(ctx *Context, env *Envelope, opts DeliveryOptions, invoke Next) *errspkg.Error {
	opts = opts.withDefaults()

	switch opts.Policy {
	case DeliveryAtMostOnce:
		return m.deliverAtMostOnce(ctx, env, opts, invoke)
	case DeliveryAtLeastOnce:
		return m.deliverAtLeastOnce(ctx, env, opts, invoke)
	default:
		return m.deliverBestEffort(ctx, env, invoke)
	}
}

func (m *deliveryManager) deliverBestEffort(ctx *Context, env *Envelope, invoke Next) *errspkg.Error {
	if _, err := invoke(env, ctx); err != nil {
		m.reporter.ReportFailure(env, errspkg.Normalize(err))
	}
	return nil
}

func (m *deliveryManager) deliverAtMostOnce(ctx *Context, env *Envelope, opts DeliveryOptions, invoke Next) *errspkg.Error {
	if !m.seen.reserve(env.ID, opts.DedupWindow) {
		m.logger.Debug("duplicate event suppressed", loggingpkg.LogFields{
			"envelope_id": env.ID,
			"procedure":   env.Procedure,
		})
		return nil
	}
	if _, err := invoke(env, ctx); err != nil {
		m.reporter.ReportFailure(env, errspkg.Normalize(err))
	}
	return nil
}

func (m *deliveryManager) deliverAtLeastOnce(ctx *Context, env *Envelope, opts DeliveryOptions, invoke Next) *errspkg.Error {
	retry := opts.Retry.withFallback(m.defaultRetry).withDefaults()

	// First attempt runs synchronously so the adapter can nack when no
	// retries remain.
	_, err := invoke(env, ctx)
	if err == nil || ctx.Acknowledged() {
		m.logPostAckFailure(env, err)
		return nil
	}

	if ctx.Cancelled() {
		derr := errspkg.Wrap(errspkg.CodeCancelled, "event delivery cancelled", err)
		m.reporter.ReportFailure(env, derr)
		return derr
	}

	if retry.MaxAttempts <= 1 {
		derr := errspkg.Normalize(err)
		m.reporter.ReportFailure(env, derr)
		return derr
	}

	m.inflight.Add(1)
	go m.retryLoop(ctx, env, retry, invoke, err)
	return nil
}

// retryLoop runs attempts 2..MaxAttempts with exponential backoff, stopping
// on success, explicit ack, cancellation, or exhaustion.
func (m *deliveryManager) retryLoop(ctx *Context, env *Envelope, retry RetryPolicy, invoke Next, lastErr error) {
	defer m.inflight.Done()

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = retry.InitialInterval
	policy.MaxInterval = retry.MaxInterval

	for attempt := 2; attempt <= retry.MaxAttempts; attempt++ {
		wait := time.NewTimer(policy.NextBackOff())
		select {
		case <-ctx.Done():
			wait.Stop()
			m.reporter.ReportFailure(env, errspkg.Wrap(errspkg.CodeCancelled,
				"event delivery cancelled during retry", lastErr))
			return
		case <-wait.C:
		}

		m.logger.Debug("retrying event delivery", loggingpkg.LogFields{
			"envelope_id": env.ID,
			"procedure":   env.Procedure,
			"attempt":     attempt,
		})

		_, err := invoke(env, ctx)
		if err == nil || ctx.Acknowledged() {
			m.logPostAckFailure(env, err)
			return
		}
		lastErr = err
	}

	m.reporter.ReportFailure(env, errspkg.Normalize(lastErr))
}

// logPostAckFailure records a handler error that arrived after an explicit
// ack. Acked deliveries are never retried, so the error is surfaced in logs
// only.
func (m *deliveryManager) logPostAckFailure(env *Envelope, err error) {
	if err == nil {
		return
	}
	m.logger.Error("event handler failed after ack", err, loggingpkg.LogFields{
		"envelope_id": env.ID,
		"procedure":   env.Procedure,
	})
}

// drain waits until every background retry loop finishes or ctx expires.
func (m *deliveryManager) drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

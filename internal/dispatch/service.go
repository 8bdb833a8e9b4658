package dispatch

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/plugin"

	configpkg "github.com/forattini-dev/raffel-sub000/internal/dispatch/config"
	errspkg "github.com/forattini-dev/raffel-sub000/internal/dispatch/errors"
	jsoncodecpkg "github.com/forattini-dev/raffel-sub000/internal/dispatch/jsoncodec"
	loggingpkg "github.com/forattini-dev/raffel-sub000/internal/dispatch/logging"
	metadatapkg "github.com/forattini-dev/raffel-sub000/internal/dispatch/metadata"
	transportpkg "github.com/forattini-dev/raffel-sub000/transport"
)

// MetadataKeyProcedure names the message metadata key that overrides the
// topic-derived procedure for bridged events.
const MetadataKeyProcedure = "procedure"

// drainTimeout bounds how long Start waits for in-flight retry deliveries
// after the bridge stops.
const drainTimeout = 30 * time.Second

var routerRun = func(router *message.Router, ctx context.Context) error {
	return router.Run(ctx)
}

// ServiceDependencies holds the optional collaborators a Service can use.
// Leave fields nil to use the defaults.
type ServiceDependencies struct {
	Interceptors               []InterceptorRegistration // Appended after the default interceptor chain.
	DisableDefaultInterceptors bool                      // Skips registering the default interceptor chain when true.
	Validator                  PayloadValidator
	FailureReporter            FailureReporter // Wrapped with the dead-letter publisher when a topic is configured.
	MetricsRegisterer          Registerer
	TransportRegistry          *transportpkg.Registry
}

// Service wires the dispatch router to a messaging transport. Inbound
// messages on the configured event topics are bridged into event envelopes
// and dispatched through the router; envelopes that exhaust their delivery
// policy are published to the dead-letter topic.
type Service struct {
	Conf   *configpkg.Config
	Logger loggingpkg.ServiceLogger

	router *Router

	publisher  message.Publisher
	subscriber message.Subscriber
	wmRouter   *message.Router

	httpServers   map[int]*http.ServeMux
	httpServersMu sync.Mutex
}

// NewService constructs a Service for the supplied configuration. Register
// handlers on the returned Service before calling Start.
func NewService(conf *configpkg.Config, log loggingpkg.ServiceLogger, ctx context.Context, deps ServiceDependencies) *Service {
	if log == nil {
		log = loggingpkg.Nop()
	}
	wmLogger := loggingpkg.NewWatermillAdapter(log)
	log.Info("Creating dispatch service",
		loggingpkg.LogFields{
			"transport": conf.Transport,
			"config":    conf,
		})

	s := &Service{
		Conf:   conf,
		Logger: log,
	}

	registry := deps.TransportRegistry
	if registry == nil {
		registry = transportpkg.DefaultRegistry
	}
	tr, err := registry.Build(ctx, conf, wmLogger)
	if err != nil {
		panic(err)
	}
	s.publisher = tr.Publisher
	s.subscriber = tr.Subscriber

	wmRouter, err := message.NewRouter(message.RouterConfig{}, wmLogger)
	if err != nil {
		panic(err)
	}
	s.wmRouter = wmRouter
	s.wmRouter.AddPlugin(plugin.SignalsHandler)

	s.router = NewRouter(log, RouterDependencies{
		Interceptors:               deps.Interceptors,
		DisableDefaultInterceptors: deps.DisableDefaultInterceptors,
		Validator:                  deps.Validator,
		FailureReporter:            s.buildFailureReporter(deps.FailureReporter),
		MetricsRegisterer:          deps.MetricsRegisterer,
		TracingEnabled:             conf.TracingEnabled,
		DefaultRetry: RetryPolicy{
			MaxAttempts:     conf.RetryMaxAttempts,
			InitialInterval: conf.RetryInitialInterval,
			MaxInterval:     conf.RetryMaxInterval,
		},
	})

	for _, topic := range conf.EventTopics {
		s.addEventBridge(topic)
	}

	return s
}

// Router exposes the dispatch router so adapters can feed request and
// stream envelopes directly.
func (s *Service) Router() *Router { return s.router }

// Publisher exposes the transport publisher for emitting events.
func (s *Service) Publisher() message.Publisher { return s.publisher }

// Start runs the event bridge until the provided context is cancelled, then
// drains in-flight deliveries.
func (s *Service) Start(ctx context.Context) error {
	s.startIntrospectionServer()
	s.startMetricsServer()
	s.startHTTPServers()

	runErr := routerRun(s.wmRouter, ctx)

	drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if err := s.router.Drain(drainCtx); err != nil {
		s.Logger.Error("Failed to drain in-flight deliveries", err, nil)
	}

	return runErr
}

// Handle dispatches a single envelope through the router. Adapters use this
// entry point for request and stream envelopes that arrive outside the
// event bridge.
func (s *Service) Handle(env *Envelope) (Result, error) {
	return s.router.Handle(env)
}

// addEventBridge subscribes to a topic and converts each message into an
// event envelope. The procedure defaults to the topic name; messages may
// override it through the "procedure" metadata key.
func (s *Service) addEventBridge(topic string) {
	s.wmRouter.AddNoPublisherHandler(
		fmt.Sprintf("event-bridge-%s", topic),
		topic,
		s.subscriber,
		func(msg *message.Message) error {
			env := s.envelopeFromMessage(topic, msg)
			if _, err := s.router.Handle(env); err != nil {
				// Delivery policies own retries and dead-lettering.
				// Redelivering at the transport level would double up,
				// so the bridge always acks.
				s.Logger.Error("Event dispatch failed", err, loggingpkg.LogFields{
					"topic":     topic,
					"procedure": env.Procedure,
					"id":        env.ID,
				})
			}
			return nil
		},
	)
}

func (s *Service) envelopeFromMessage(topic string, msg *message.Message) *Envelope {
	md := metadatapkg.FromWatermill(msg.Metadata)
	procedure := md.Get(MetadataKeyProcedure)
	if procedure == "" {
		procedure = topic
	}

	return &Envelope{
		ID:        msg.UUID,
		Procedure: procedure,
		Kind:      KindEvent,
		Payload:   []byte(msg.Payload),
		Metadata:  md,
		Context:   NewContext(msg.UUID, WithParent(msg.Context())),
	}
}

// deadLetter is the body published to the dead-letter topic for envelopes
// that exhausted their delivery policy.
type deadLetter struct {
	ID        string                `json:"id"`
	Procedure string                `json:"procedure"`
	Kind      Kind                  `json:"kind"`
	Code      errspkg.Code          `json:"code"`
	Message   string                `json:"message"`
	Payload   any                   `json:"payload,omitempty"`
	Metadata  metadatapkg.Metadata  `json:"metadata,omitempty"`
}

// buildFailureReporter chains the caller's reporter with the dead-letter
// publisher when a dead-letter topic is configured.
func (s *Service) buildFailureReporter(base FailureReporter) FailureReporter {
	if s.Conf.DeadLetterTopic == "" {
		return base
	}

	return FailureReporterFunc(func(env *Envelope, derr *errspkg.Error) {
		if base != nil {
			base.ReportFailure(env, derr)
		}
		if err := s.publishDeadLetter(env, derr); err != nil {
			s.Logger.Error("Failed to publish dead letter", err, loggingpkg.LogFields{
				"topic":     s.Conf.DeadLetterTopic,
				"procedure": env.Procedure,
				"id":        env.ID,
			})
		}
	})
}

func (s *Service) publishDeadLetter(env *Envelope, derr *errspkg.Error) error {
	body, err := jsoncodecpkg.Marshal(deadLetter{
		ID:        env.ID,
		Procedure: env.Procedure,
		Kind:      env.Kind,
		Code:      derr.Code,
		Message:   derr.Message,
		Payload:   env.Payload,
		Metadata:  env.Metadata,
	})
	if err != nil {
		return fmt.Errorf("marshal dead letter: %w", err)
	}

	msg := message.NewMessage(env.ID, body)
	msg.Metadata = env.Metadata.ToWatermill()
	return s.publisher.Publish(s.Conf.DeadLetterTopic, msg)
}

// RegisterHTTPHandler attaches an HTTP handler to the mux serving the given
// port. Servers start when Start is called.
func (s *Service) RegisterHTTPHandler(port int, pattern string, handler http.Handler) {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	if s.httpServers == nil {
		s.httpServers = make(map[int]*http.ServeMux)
	}

	mux, ok := s.httpServers[port]
	if !ok {
		mux = http.NewServeMux()
		s.httpServers[port] = mux
	}

	mux.Handle(pattern, handler)
}

func (s *Service) startHTTPServers() {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	for port, mux := range s.httpServers {
		addr := fmt.Sprintf(":%d", port)
		s.Logger.Info("Starting HTTP server", loggingpkg.LogFields{"address": addr})
		go func(addr string, handler http.Handler) {
			if err := http.ListenAndServe(addr, handler); err != nil {
				s.Logger.Error("Failed to start HTTP server", err, loggingpkg.LogFields{"address": addr})
			}
		}(addr, mux)
	}
}

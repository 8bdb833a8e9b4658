package dispatch

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"

	configpkg "github.com/forattini-dev/raffel-sub000/internal/dispatch/config"
	errspkg "github.com/forattini-dev/raffel-sub000/internal/dispatch/errors"
	jsoncodecpkg "github.com/forattini-dev/raffel-sub000/internal/dispatch/jsoncodec"
	loggingpkg "github.com/forattini-dev/raffel-sub000/internal/dispatch/logging"
	_ "github.com/forattini-dev/raffel-sub000/transport/channel"
	kafkatransport "github.com/forattini-dev/raffel-sub000/transport/kafka"
)

func newTestLogger() loggingpkg.ServiceLogger {
	return loggingpkg.NewSlogServiceLogger(
		slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug})))
}

type testPublisher struct {
	published map[string][]*message.Message
}

func (p *testPublisher) Publish(topic string, messages ...*message.Message) error {
	if p.published == nil {
		p.published = make(map[string][]*message.Message)
	}
	p.published[topic] = append(p.published[topic], messages...)
	return nil
}

func (p *testPublisher) Close() error { return nil }

type testSubscriber struct{}

func (s *testSubscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return make(chan *message.Message), nil
}

func (s *testSubscriber) Close() error { return nil }

func TestNewServiceConfiguresKafka(t *testing.T) {
	origPub := kafkatransport.PublisherFactory
	origSub := kafkatransport.SubscriberFactory
	t.Cleanup(func() {
		kafkatransport.PublisherFactory = origPub
		kafkatransport.SubscriberFactory = origSub
	})

	pub := &testPublisher{}
	sub := &testSubscriber{}
	kafkatransport.PublisherFactory = func(config kafka.PublisherConfig, _ watermill.LoggerAdapter) (message.Publisher, error) {
		if len(config.Brokers) != 1 || config.Brokers[0] != "b1" {
			t.Fatalf("unexpected brokers: %v", config.Brokers)
		}
		return pub, nil
	}
	kafkatransport.SubscriberFactory = func(config kafka.SubscriberConfig, _ watermill.LoggerAdapter) (message.Subscriber, error) {
		if config.ConsumerGroup != "group" {
			t.Fatalf("unexpected consumer group: %s", config.ConsumerGroup)
		}
		return sub, nil
	}

	cfg := &configpkg.Config{
		Transport:          "kafka",
		KafkaBrokers:       []string{"b1"},
		KafkaConsumerGroup: "group",
	}
	svc := NewService(cfg, newTestLogger(), context.Background(), ServiceDependencies{})

	if svc.publisher != message.Publisher(pub) {
		t.Fatal("expected kafka publisher to be assigned")
	}
	if svc.subscriber != message.Subscriber(sub) {
		t.Fatal("expected kafka subscriber to be assigned")
	}
	if svc.Conf != cfg {
		t.Fatal("service config not set")
	}
	if svc.Router() == nil {
		t.Fatal("router should not be nil")
	}
}

func TestNewServiceUnknownTransportPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for unknown transport")
		}
	}()

	cfg := &configpkg.Config{Transport: "carrier-pigeon"}
	NewService(cfg, newTestLogger(), context.Background(), ServiceDependencies{})
}

func TestNewServiceAppliesRetryConfig(t *testing.T) {
	cfg := &configpkg.Config{
		Transport:            "channel",
		RetryMaxAttempts:     7,
		RetryInitialInterval: 250 * time.Millisecond,
		RetryMaxInterval:     10 * time.Second,
	}
	svc := NewService(cfg, newTestLogger(), context.Background(), ServiceDependencies{})

	got := svc.router.delivery.defaultRetry
	if got.MaxAttempts != 7 || got.InitialInterval != 250*time.Millisecond || got.MaxInterval != 10*time.Second {
		t.Fatalf("configured retry tuning must reach the delivery manager, got %+v", got)
	}
}

func TestServiceEventBridge(t *testing.T) {
	cfg := &configpkg.Config{
		Transport:   "channel",
		EventTopics: []string{"orders.created"},
	}
	svc := NewService(cfg, newTestLogger(), context.Background(), ServiceDependencies{})

	received := make(chan *Envelope, 1)
	if err := RegisterEvent(svc.Router(), EventRegistration{
		Name: "orders.created",
		Handler: func(ctx *Context, env *Envelope) error {
			received <- env
			return nil
		},
	}); err != nil {
		t.Fatalf("RegisterEvent: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runDone := make(chan error, 1)
	go func() { runDone <- svc.Start(ctx) }()

	select {
	case <-svc.wmRouter.Running():
	case <-time.After(5 * time.Second):
		t.Fatal("bridge router did not start")
	}

	msg := message.NewMessage("evt-1", []byte(`{"order":"o-1"}`))
	msg.Metadata.Set("tenant", "acme")
	if err := svc.Publisher().Publish("orders.created", msg); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case env := <-received:
		if env.Kind != KindEvent {
			t.Fatalf("Kind = %s", env.Kind)
		}
		if env.ID != "evt-1" {
			t.Fatalf("ID = %s, want the message uuid", env.ID)
		}
		if env.Procedure != "orders.created" {
			t.Fatalf("Procedure = %s, want the topic name", env.Procedure)
		}
		if env.Metadata.Get("tenant") != "acme" {
			t.Fatal("message metadata must ride on the envelope")
		}
		payload, ok := env.Payload.([]byte)
		if !ok || string(payload) != `{"order":"o-1"}` {
			t.Fatalf("Payload = %v", env.Payload)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("bridged event never reached the handler")
	}

	cancel()
	select {
	case <-runDone:
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after cancellation")
	}
}

func TestServiceEnvelopeFromMessageProcedureOverride(t *testing.T) {
	cfg := &configpkg.Config{Transport: "channel"}
	svc := NewService(cfg, newTestLogger(), context.Background(), ServiceDependencies{})

	msg := message.NewMessage("evt-2", []byte(`{}`))
	msg.Metadata.Set(MetadataKeyProcedure, "orders.refunded")

	env := svc.envelopeFromMessage("orders.created", msg)
	if env.Procedure != "orders.refunded" {
		t.Fatalf("Procedure = %s, the metadata override must win", env.Procedure)
	}
	if env.Context == nil || env.Context.RequestID() != "evt-2" {
		t.Fatal("envelope context must carry the message uuid")
	}
}

func TestServiceDeadLetterPublishing(t *testing.T) {
	pub := &testPublisher{}

	cfg := &configpkg.Config{
		Transport:       "channel",
		DeadLetterTopic: "orders.dlq",
	}
	svc := NewService(cfg, newTestLogger(), context.Background(), ServiceDependencies{})
	svc.publisher = pub

	// The reporter built at construction captured the service, so swapping
	// the publisher afterwards is visible to it.
	if err := RegisterEvent(svc.Router(), EventRegistration{
		Name: "orders.created",
		Handler: func(ctx *Context, env *Envelope) error {
			return errspkg.New(errspkg.CodeUnavailable, "downstream gone")
		},
		Delivery: DeliveryOptions{
			Policy: DeliveryAtLeastOnce,
			Retry:  RetryPolicy{MaxAttempts: 1},
		},
	}); err != nil {
		t.Fatalf("RegisterEvent: %v", err)
	}

	env := NewEvent("orders.created", map[string]string{"order": "o-1"})
	result, err := svc.Handle(env)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if result.Err() == nil {
		t.Fatal("exhausted delivery must surface an error envelope")
	}

	letters := pub.published["orders.dlq"]
	if len(letters) != 1 {
		t.Fatalf("dead letters = %d, want 1", len(letters))
	}

	var body deadLetter
	if err := jsoncodecpkg.Unmarshal(letters[0].Payload, &body); err != nil {
		t.Fatalf("Unmarshal dead letter: %v", err)
	}
	if body.ID != env.ID || body.Procedure != "orders.created" {
		t.Fatalf("unexpected dead letter %+v", body)
	}
	if body.Code != errspkg.CodeUnavailable {
		t.Fatalf("Code = %s", body.Code)
	}
}

func TestServiceCustomReporterStillRuns(t *testing.T) {
	reported := 0

	cfg := &configpkg.Config{
		Transport:       "channel",
		DeadLetterTopic: "dlq",
	}
	svc := NewService(cfg, newTestLogger(), context.Background(), ServiceDependencies{
		FailureReporter: FailureReporterFunc(func(env *Envelope, derr *errspkg.Error) {
			reported++
		}),
	})
	svc.publisher = &testPublisher{}

	if err := RegisterEvent(svc.Router(), EventRegistration{
		Name:    "oops",
		Handler: func(ctx *Context, env *Envelope) error { return errspkg.New(errspkg.CodeDataLoss, "gone") },
	}); err != nil {
		t.Fatalf("RegisterEvent: %v", err)
	}

	if _, err := svc.Handle(NewEvent("oops", nil)); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if reported != 1 {
		t.Fatalf("custom reporter invocations = %d, want 1", reported)
	}
}

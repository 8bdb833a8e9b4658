package channel

import (
	"context"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/forattini-dev/raffel-sub000/transport"
)

type stubConfig struct{}

func (*stubConfig) GetTransport() string          { return "channel" }
func (*stubConfig) GetKafkaBrokers() []string     { return nil }
func (*stubConfig) GetKafkaConsumerGroup() string { return "" }
func (*stubConfig) GetRabbitMQURL() string        { return "" }
func (*stubConfig) GetNATSURL() string            { return "" }

type stubPublisher struct{}

func (*stubPublisher) Publish(topic string, messages ...*message.Message) error { return nil }
func (*stubPublisher) Close() error                                             { return nil }

type stubSubscriber struct{}

func (*stubSubscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return make(chan *message.Message), nil
}
func (*stubSubscriber) Close() error { return nil }

func TestInitRegistersChannel(t *testing.T) {
	if !transport.DefaultRegistry.Has(TransportName) {
		t.Fatal("channel transport should self-register on import")
	}
}

func TestBuild(t *testing.T) {
	t.Run("default factory", func(t *testing.T) {
		tr, err := Build(context.Background(), &stubConfig{}, watermill.NopLogger{})
		if err != nil {
			t.Fatalf("Build: %v", err)
		}
		if tr.Publisher == nil || tr.Subscriber == nil {
			t.Fatal("expected publisher and subscriber")
		}
	})

	t.Run("custom factory", func(t *testing.T) {
		original := Factory
		defer func() { Factory = original }()

		pub := &stubPublisher{}
		sub := &stubSubscriber{}
		Factory = func(cfg gochannel.Config, logger watermill.LoggerAdapter) (message.Publisher, message.Subscriber) {
			return pub, sub
		}

		tr, err := Build(context.Background(), &stubConfig{}, watermill.NopLogger{})
		if err != nil {
			t.Fatalf("Build: %v", err)
		}
		if tr.Publisher != message.Publisher(pub) {
			t.Fatal("expected custom publisher")
		}
		if tr.Subscriber != message.Subscriber(sub) {
			t.Fatal("expected custom subscriber")
		}
	})
}

func TestRoundTrip(t *testing.T) {
	tr, err := Build(context.Background(), &stubConfig{}, watermill.NopLogger{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	messages, err := tr.Subscriber.Subscribe(ctx, "ticks")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	sent := message.NewMessage(watermill.NewUUID(), []byte(`{"n":1}`))
	if err := tr.Publisher.Publish("ticks", sent); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	got := <-messages
	if string(got.Payload) != `{"n":1}` {
		t.Fatalf("unexpected payload %q", got.Payload)
	}
	got.Ack()
}

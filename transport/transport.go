// Package transport defines the interfaces and registry for the messaging
// transports that feed event envelopes into a raffel service. Each transport
// implementation (kafka, rabbitmq, nats, channel) lives in its own sub-package
// and registers itself with the transport registry.
package transport

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// Transport combines the publisher and subscriber pair produced by a builder.
// The subscriber feeds the event bridge; the publisher carries dead-letter
// messages.
type Transport struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber
}

// Builder is the function signature for creating a transport from config.
type Builder func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error)

// Config exposes the configuration values transports need without depending
// on the full config package.
type Config interface {
	// GetTransport returns the transport type name.
	GetTransport() string

	// Kafka
	GetKafkaBrokers() []string
	GetKafkaConsumerGroup() string

	// RabbitMQ
	GetRabbitMQURL() string

	// NATS
	GetNATSURL() string
}

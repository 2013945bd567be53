// Package bus is the abstract telemetry transport (§4.6, §5): an
// ordered stream of topic-tagged, JSON-decodable records, backed by
// Kafka via github.com/IBM/sarama with a reconnect-with-backoff loop.
package bus

import "context"

// ConnectionState reports bus liveness for the health surface.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Record is one inbound message: a topic name and its raw JSON payload.
type Record struct {
	Topic   string
	Payload []byte
}

// Handler is invoked once per inbound record. Implementations (the
// ingestion dispatcher) must never block past the tick budget; a slow
// handler backs up the whole consumer.
type Handler func(ctx context.Context, rec Record)

// Consumer is the abstract inbound half of the bus (§4.6: "consumes
// from the abstract bus"). Run blocks, invoking handler for every
// record, until ctx is cancelled or an unrecoverable error occurs.
type Consumer interface {
	Run(ctx context.Context, handler Handler) error
	State() ConnectionState
	Close() error
}

// Producer is the abstract outbound half of the bus, used to publish
// factory.sensor-at-risk notifications (§6).
type Producer interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Close() error
}

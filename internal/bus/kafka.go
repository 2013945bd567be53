package bus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"

	"github.com/devansharora/fleetguard/internal/ferrors"
	"github.com/devansharora/fleetguard/internal/observ"
)

// KafkaConsumer implements Consumer over github.com/IBM/sarama consumer
// groups. On any group-session error it waits reconnectDelay and
// reconnects indefinitely, per §4.6: "on bus error, wait 5s and
// reconnect."
type KafkaConsumer struct {
	brokers       []string
	topics        []string
	group         string
	reconnectDelay time.Duration

	state atomic.Int32

	mu     sync.Mutex
	client sarama.ConsumerGroup
}

func NewKafkaConsumer(brokers []string, topics []string, group string, reconnectDelay time.Duration) *KafkaConsumer {
	return &KafkaConsumer{
		brokers:        brokers,
		topics:         topics,
		group:          group,
		reconnectDelay: reconnectDelay,
	}
}

func (k *KafkaConsumer) State() ConnectionState {
	return ConnectionState(k.state.Load())
}

// Run consumes until ctx is cancelled. Every session failure is logged
// and retried after reconnectDelay; partition EOF is not an error for
// sarama's consumer-group API, so the outer loop simply re-enters
// Consume on each rebalance (§4.6: "on partition EOF, continue").
func (k *KafkaConsumer) Run(ctx context.Context, handler Handler) error {
	k.state.Store(int32(StateConnecting))

	cfg := sarama.NewConfig()
	cfg.Consumer.Return.Errors = true
	cfg.Consumer.Offsets.Initial = sarama.OffsetNewest

	client, err := sarama.NewConsumerGroup(k.brokers, k.group, cfg)
	if err != nil {
		k.state.Store(int32(StateDisconnected))
		return &ferrors.TransportError{Op: "connect", Err: err}
	}
	k.mu.Lock()
	k.client = client
	k.mu.Unlock()
	defer client.Close()

	h := &groupHandler{handler: handler}

	go func() {
		for err := range client.Errors() {
			observ.Warn("bus_consumer_error", map[string]any{"error": err.Error()})
		}
	}()

	for {
		select {
		case <-ctx.Done():
			k.state.Store(int32(StateDisconnected))
			return nil
		default:
		}

		k.state.Store(int32(StateConnected))
		if err := client.Consume(ctx, k.topics, h); err != nil {
			if ctx.Err() != nil {
				k.state.Store(int32(StateDisconnected))
				return nil
			}
			observ.Warn("bus_consume_error", map[string]any{"error": err.Error()})
			k.state.Store(int32(StateDisconnected))
			select {
			case <-time.After(k.reconnectDelay):
			case <-ctx.Done():
				return nil
			}
		}
	}
}

func (k *KafkaConsumer) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.client == nil {
		return nil
	}
	return k.client.Close()
}

// groupHandler adapts sarama's ConsumerGroupHandler to our Handler func.
type groupHandler struct {
	handler Handler
}

func (h *groupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *groupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			h.handler(sess.Context(), Record{Topic: msg.Topic, Payload: msg.Value})
			sess.MarkMessage(msg, "")
		case <-sess.Context().Done():
			return nil
		}
	}
}

// KafkaProducer implements Producer over a sarama synchronous producer.
type KafkaProducer struct {
	producer sarama.SyncProducer
}

func NewKafkaProducer(brokers []string) (*KafkaProducer, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForLocal

	p, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, &ferrors.TransportError{Op: "connect_producer", Err: err}
	}
	return &KafkaProducer{producer: p}, nil
}

func (k *KafkaProducer) Publish(ctx context.Context, topic string, payload []byte) error {
	_, _, err := k.producer.SendMessage(&sarama.ProducerMessage{
		Topic: topic,
		Value: sarama.ByteEncoder(payload),
	})
	if err != nil {
		return &ferrors.TransportError{Op: "publish", Err: err}
	}
	return nil
}

func (k *KafkaProducer) Close() error {
	return k.producer.Close()
}

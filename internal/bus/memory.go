package bus

import (
	"context"
	"sync"
)

// MemoryBus is an in-process Consumer+Producer fake for tests: Deliver
// feeds a record directly into whatever Consumer.Run loop is currently
// registered, and Publish only records outbound messages for Published.
type MemoryBus struct {
	mu       sync.Mutex
	handler  Handler
	state    ConnectionState
	published []Record
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{}
}

func (m *MemoryBus) Run(ctx context.Context, handler Handler) error {
	m.mu.Lock()
	m.handler = handler
	m.state = StateConnected
	m.mu.Unlock()
	<-ctx.Done()
	m.mu.Lock()
	m.state = StateDisconnected
	m.mu.Unlock()
	return nil
}

func (m *MemoryBus) State() ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *MemoryBus) Close() error { return nil }

// Deliver synchronously invokes the registered handler, as if a record
// had arrived from the wire. Tests use this to drive the ingestion
// dispatcher deterministically.
func (m *MemoryBus) Deliver(ctx context.Context, rec Record) {
	m.mu.Lock()
	h := m.handler
	m.mu.Unlock()
	if h != nil {
		h(ctx, rec)
	}
}

func (m *MemoryBus) Publish(ctx context.Context, topic string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, Record{Topic: topic, Payload: payload})
	return nil
}

// Published returns every record handed to Publish, in order.
func (m *MemoryBus) Published() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, len(m.published))
	copy(out, m.published)
	return out
}

package memory

import (
	"context"
	"sync"
	"time"

	"github.com/syntrixbase/nodestream/internal/core/pubsub"
)

type memoryMessage struct {
	data         []byte
	subject      string
	timestamp    time.Time
	numDelivered uint64
	sub          *subscription

	mu      sync.Mutex
	settled bool
}

func (m *memoryMessage) Data() []byte    { return m.data }
func (m *memoryMessage) Subject() string { return m.subject }

// Ack acknowledges the message. Settling twice is a no-op.
func (m *memoryMessage) Ack() error {
	m.settle()
	return nil
}

// Term drops the message.
func (m *memoryMessage) Term() error {
	m.settle()
	return nil
}

// Nak requeues the message on its subscription without blocking.
// The message is dropped when the queue is full or gone.
func (m *memoryMessage) Nak() error {
	if !m.settle() {
		return nil
	}

	redelivery := &memoryMessage{
		data:         m.data,
		subject:      m.subject,
		timestamp:    m.timestamp,
		numDelivered: m.numDelivered + 1,
		sub:          m.sub,
	}

	_ = m.sub.deliver(context.Background(), redelivery, 0)
	return nil
}

func (m *memoryMessage) settle() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.settled {
		return false
	}
	m.settled = true
	return true
}

func (m *memoryMessage) Metadata() (pubsub.MessageMetadata, error) {
	return pubsub.MessageMetadata{
		NumDelivered: m.numDelivered,
		Timestamp:    m.timestamp,
		Subject:      m.subject,
	}, nil
}

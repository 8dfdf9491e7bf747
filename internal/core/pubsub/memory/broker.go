package memory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/syntrixbase/nodestream/internal/core/pubsub"
)

// broker routes published messages to the subscriptions whose pattern matches.
type broker struct {
	mu            sync.RWMutex
	subscriptions map[string]*subscription
	closed        atomic.Bool
	slowWait      time.Duration
}

type subscription struct {
	pattern string
	msgCh   chan pubsub.Message
	ctx     context.Context
	cancel  context.CancelFunc

	// held for reading while sending on msgCh, for writing to close it
	sendMu sync.RWMutex
}

func newBroker(slowWait time.Duration) *broker {
	return &broker{
		subscriptions: make(map[string]*subscription),
		slowWait:      slowWait,
	}
}

// publish delivers the message to every matching subscription. The broker
// lock only covers the lookup, so a full subscription never holds up other
// subjects or new subscribers. A subscription still full after the slow
// consumer wait loses the message and publish reports ErrSlowConsumer.
func (b *broker) publish(ctx context.Context, subject string, data []byte) error {
	if b.closed.Load() {
		return ErrEngineClosed
	}

	b.mu.RLock()
	var targets []*subscription
	for pattern, sub := range b.subscriptions {
		if matchSubject(pattern, subject) {
			targets = append(targets, sub)
		}
	}
	b.mu.RUnlock()

	var errs []error
	now := time.Now()
	for _, sub := range targets {
		msg := &memoryMessage{
			data:         data,
			subject:      subject,
			timestamp:    now,
			numDelivered: 1,
			sub:          sub,
		}
		if err := sub.deliver(ctx, msg, b.slowWait); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// deliver sends msg unless the subscription is gone. wait <= 0 never blocks.
func (s *subscription) deliver(ctx context.Context, msg pubsub.Message, wait time.Duration) error {
	s.sendMu.RLock()
	defer s.sendMu.RUnlock()

	if s.ctx.Err() != nil {
		return nil
	}
	select {
	case s.msgCh <- msg:
		return nil
	default:
	}
	if wait <= 0 {
		return ErrSlowConsumer
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case s.msgCh <- msg:
		return nil
	case <-s.ctx.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrSlowConsumer
	}
}

// end cancels pending sends first so that sendMu is acquired promptly.
func (s *subscription) end() {
	s.cancel()
	s.sendMu.Lock()
	close(s.msgCh)
	s.sendMu.Unlock()
}

// subscribe registers pattern and returns its channel and an unsubscribe func.
func (b *broker) subscribe(ctx context.Context, pattern string, bufSize int) (<-chan pubsub.Message, func(), error) {
	if b.closed.Load() {
		return nil, nil, ErrEngineClosed
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subscriptions[pattern] != nil {
		return nil, nil, ErrPatternSubscribed
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &subscription{
		pattern: pattern,
		msgCh:   make(chan pubsub.Message, bufSize),
		ctx:     subCtx,
		cancel:  cancel,
	}
	b.subscriptions[pattern] = sub

	unsubscribe := func() {
		b.mu.Lock()
		owned := b.subscriptions[pattern] == sub
		if owned {
			delete(b.subscriptions, pattern)
		}
		b.mu.Unlock()
		if owned {
			sub.end()
		}
	}
	return sub.msgCh, unsubscribe, nil
}

func (b *broker) close() error {
	if b.closed.Swap(true) {
		return nil
	}

	b.mu.Lock()
	subs := make([]*subscription, 0, len(b.subscriptions))
	for pattern, sub := range b.subscriptions {
		subs = append(subs, sub)
		delete(b.subscriptions, pattern)
	}
	b.mu.Unlock()

	for _, sub := range subs {
		sub.end()
	}
	return nil
}

func (b *broker) subscriptionCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscriptions)
}

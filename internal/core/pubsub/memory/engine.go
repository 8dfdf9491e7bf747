package memory

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/syntrixbase/nodestream/internal/core/pubsub"
)

// Compile-time check that Engine implements pubsub.Provider
var _ pubsub.Provider = (*Engine)(nil)

// Engine is an in-process broker with the same subject semantics as the
// NATS provider. Messages are not retained: only subscriptions live at
// publish time receive them.
type Engine struct {
	broker *broker
}

// DefaultSlowConsumerWait bounds how long a publish waits on a full subscription.
const DefaultSlowConsumerWait = time.Second

// Option configures an Engine.
type Option func(*options)

type options struct {
	slowWait time.Duration
}

// WithSlowConsumerWait sets how long a publish waits for room on a full
// subscription before dropping the message. Zero drops immediately.
func WithSlowConsumerWait(d time.Duration) Option {
	return func(o *options) {
		o.slowWait = d
	}
}

// New creates a new in-memory pubsub engine.
func New(opts ...Option) *Engine {
	o := options{slowWait: DefaultSlowConsumerWait}
	for _, opt := range opts {
		opt(&o)
	}
	return &Engine{broker: newBroker(o.slowWait)}
}

func (e *Engine) NewPublisher(opts pubsub.PublisherOptions) (pubsub.Publisher, error) {
	if e.IsClosed() {
		return nil, ErrEngineClosed
	}
	return &memoryPublisher{broker: e.broker, opts: opts}, nil
}

func (e *Engine) NewConsumer(opts pubsub.ConsumerOptions) (pubsub.Consumer, error) {
	if e.IsClosed() {
		return nil, ErrEngineClosed
	}
	return &memoryConsumer{engine: e, opts: opts}, nil
}

// Close shuts down the engine and all subscriptions.
func (e *Engine) Close() error {
	return e.broker.close()
}

// IsClosed returns true if the engine is closed.
func (e *Engine) IsClosed() bool {
	return e.broker.closed.Load()
}

// Subscriptions returns the number of live subscriptions.
func (e *Engine) Subscriptions() int {
	return e.broker.subscriptionCount()
}

type memoryPublisher struct {
	broker *broker
	opts   pubsub.PublisherOptions
	closed atomic.Bool
}

func (p *memoryPublisher) Publish(ctx context.Context, subject string, data []byte) error {
	if p.closed.Load() {
		return ErrEngineClosed
	}

	start := time.Now()
	fullSubject := subject
	if p.opts.SubjectPrefix != "" {
		fullSubject = p.opts.SubjectPrefix + "." + subject
	}

	err := p.broker.publish(ctx, fullSubject, data)

	if p.opts.OnPublish != nil {
		p.opts.OnPublish(fullSubject, err, time.Since(start))
	}
	return err
}

func (p *memoryPublisher) Close() error {
	p.closed.Store(true)
	return nil
}

type memoryConsumer struct {
	engine *Engine
	opts   pubsub.ConsumerOptions
}

// Subscribe registers the consumer's filter subject. The subscription ends
// when ctx is cancelled.
func (c *memoryConsumer) Subscribe(ctx context.Context) (<-chan pubsub.Message, error) {
	if c.engine.IsClosed() {
		return nil, ErrEngineClosed
	}

	pattern := c.opts.FilterSubject
	if pattern == "" {
		if c.opts.StreamName != "" {
			pattern = c.opts.StreamName + ".>"
		} else {
			pattern = ">"
		}
	}

	bufSize := c.opts.ChannelBufSize
	if bufSize <= 0 {
		bufSize = pubsub.DefaultConsumerOptions().ChannelBufSize
	}

	msgCh, unsubscribe, err := c.engine.broker.subscribe(ctx, pattern, bufSize)
	if err != nil {
		return nil, err
	}

	go func() {
		<-ctx.Done()
		unsubscribe()
	}()
	return msgCh, nil
}

package nats

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/syntrixbase/nodestream/internal/core/pubsub"
)

// ephemeralInactiveThreshold removes unnamed consumers after their owner goes away.
const ephemeralInactiveThreshold = 30 * time.Second

type jetStreamConsumer struct {
	js     JetStream
	opts   pubsub.ConsumerOptions
	logger *slog.Logger
}

// NewConsumer creates a Consumer on opts.StreamName.
func NewConsumer(js JetStream, opts pubsub.ConsumerOptions) (pubsub.Consumer, error) {
	if js == nil {
		return nil, fmt.Errorf("jetstream cannot be nil")
	}
	if opts.StreamName == "" {
		return nil, fmt.Errorf("stream name is required")
	}
	if opts.ChannelBufSize <= 0 {
		opts.ChannelBufSize = pubsub.DefaultConsumerOptions().ChannelBufSize
	}
	return &jetStreamConsumer{
		js:     js,
		opts:   opts,
		logger: slog.Default().With("component", "pubsub-nats", "stream", opts.StreamName),
	}, nil
}

// Subscribe only delivers messages published after it returns.
func (c *jetStreamConsumer) Subscribe(ctx context.Context) (<-chan pubsub.Message, error) {
	filterSubject := c.opts.FilterSubject
	if filterSubject == "" {
		filterSubject = c.opts.StreamName + ".>"
	}

	if err := ensureStream(ctx, c.js, c.opts.StreamName, "", c.opts.Storage); err != nil {
		return nil, err
	}

	cfg := jetstream.ConsumerConfig{
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverNewPolicy,
		FilterSubject: filterSubject,
	}
	if c.opts.ConsumerName != "" {
		cfg.Durable = c.opts.ConsumerName
	} else {
		cfg.InactiveThreshold = ephemeralInactiveThreshold
	}

	consumer, err := c.js.CreateOrUpdateConsumer(ctx, c.opts.StreamName, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer: %w", err)
	}

	msgCh := make(chan pubsub.Message, c.opts.ChannelBufSize)
	var closing atomic.Bool

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		if closing.Load() {
			_ = msg.Nak()
			return
		}
		select {
		case msgCh <- WrapMessage(msg):
		case <-ctx.Done():
			_ = msg.Nak()
		}
	})
	if err != nil {
		close(msgCh)
		return nil, fmt.Errorf("failed to start consumer: %w", err)
	}

	c.logger.Debug("Consumer subscribed", "filter", filterSubject)

	go func() {
		<-ctx.Done()
		closing.Store(true)
		cc.Stop()
		close(msgCh)
		c.logger.Debug("Consumer stopped", "filter", filterSubject)
	}()

	return msgCh, nil
}

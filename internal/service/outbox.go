package service

import (
	"context"
	"fmt"

	"github.com/syntrixbase/nodestream/internal/core/pubsub"
	"github.com/syntrixbase/nodestream/internal/protocol"
)

// Outbox publishes envelopes to actor inboxes.
type Outbox struct {
	pub pubsub.Publisher
}

// NewOutbox creates an outbox on the stream named prefix.
func NewOutbox(provider pubsub.Provider, prefix string) (*Outbox, error) {
	if prefix == "" {
		prefix = protocol.DefaultPrefix
	}
	pub, err := provider.NewPublisher(pubsub.PublisherOptions{
		StreamName:    prefix,
		SubjectPrefix: prefix,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create outbox publisher: %w", err)
	}
	return &Outbox{pub: pub}, nil
}

// Send publishes env to the inbox of env.To.
func (o *Outbox) Send(ctx context.Context, env protocol.Envelope) error {
	data, err := env.Marshal()
	if err != nil {
		return err
	}
	return o.pub.Publish(ctx, protocol.InboxSubject(env.To), data)
}

// Close releases the publisher.
func (o *Outbox) Close() error {
	return o.pub.Close()
}

package nats

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/syntrixbase/nodestream/internal/core/pubsub"
)

type jetStreamPublisher struct {
	js   JetStream
	opts pubsub.PublisherOptions
}

// NewPublisher creates a Publisher and ensures its stream exists.
func NewPublisher(js JetStream, opts pubsub.PublisherOptions) (pubsub.Publisher, error) {
	if js == nil {
		return nil, fmt.Errorf("jetstream cannot be nil")
	}

	if opts.StreamName != "" {
		if err := ensureStream(context.Background(), js, opts.StreamName, opts.SubjectPrefix, opts.Storage); err != nil {
			return nil, err
		}
	}
	return &jetStreamPublisher{js: js, opts: opts}, nil
}

// ensureStream creates or updates a stream capturing prefix.> (name.> when prefix is empty).
func ensureStream(ctx context.Context, js JetStream, name, prefix string, storage pubsub.StorageType) error {
	if prefix == "" {
		prefix = name
	}
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     name,
		Subjects: []string{prefix + ".>"},
		Storage:  storageOf(storage),
		MaxAge:   time.Hour,
	})
	if err != nil {
		return fmt.Errorf("failed to ensure stream: %w", err)
	}
	return nil
}

func (p *jetStreamPublisher) Publish(ctx context.Context, subject string, data []byte) error {
	start := time.Now()

	fullSubject := subject
	if p.opts.SubjectPrefix != "" {
		fullSubject = p.opts.SubjectPrefix + "." + subject
	}

	_, err := p.js.Publish(ctx, fullSubject, data)

	if p.opts.OnPublish != nil {
		p.opts.OnPublish(fullSubject, err, time.Since(start))
	}
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", fullSubject, err)
	}
	return nil
}

// Close is a no-op; the connection belongs to the provider.
func (p *jetStreamPublisher) Close() error {
	return nil
}

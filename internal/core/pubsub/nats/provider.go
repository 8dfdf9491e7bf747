// Package nats provides the NATS JetStream transport for distributed deployments.
package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
	"github.com/syntrixbase/nodestream/internal/core/pubsub"
)

// ErrNotConnected is returned when the provider is used before Connect.
var ErrNotConnected = errors.New("NATS not connected, call Connect first")

// natsConnection abstracts the nats.Conn for testing purposes
type natsConnection interface {
	Close()
}

// natsConnectFunc is a function type for connecting to NATS (injectable for testing)
type natsConnectFunc func(url string) (natsConnection, error)

// jetStreamFactory is a function type for creating JetStream (injectable for testing)
type jetStreamFactory func(nc natsConnection) (JetStream, error)

var defaultNatsConnect natsConnectFunc = func(url string) (natsConnection, error) {
	return nats.Connect(url, nats.Name("nodestream"))
}

var defaultJetStreamFactory jetStreamFactory = func(nc natsConnection) (JetStream, error) {
	conn, ok := nc.(*nats.Conn)
	if !ok {
		return nil, fmt.Errorf("unexpected connection type %T", nc)
	}
	return NewJetStream(conn)
}

// Provider implements pubsub.Provider using NATS JetStream.
type Provider struct {
	url              string
	nc               natsConnection
	js               JetStream
	natsConnect      natsConnectFunc
	jetStreamFactory jetStreamFactory
	logger           *slog.Logger
}

// Compile-time check that Provider implements pubsub.Provider
var _ pubsub.Provider = (*Provider)(nil)

// Compile-time check that Provider implements pubsub.Connectable
var _ pubsub.Connectable = (*Provider)(nil)

// NewProvider creates a provider for the server at url. Call Connect before use.
func NewProvider(url string) *Provider {
	return &Provider{
		url:              url,
		natsConnect:      defaultNatsConnect,
		jetStreamFactory: defaultJetStreamFactory,
		logger:           slog.Default().With("component", "pubsub-nats"),
	}
}

// Connect establishes the NATS connection and initializes JetStream.
func (p *Provider) Connect(ctx context.Context) error {
	nc, err := p.natsConnect(p.url)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at %s: %w", p.url, err)
	}

	js, err := p.jetStreamFactory(nc)
	if err != nil {
		nc.Close()
		return fmt.Errorf("failed to create JetStream: %w", err)
	}
	p.nc = nc
	p.js = js

	p.logger.Info("Connected to NATS", "url", p.url)
	return nil
}

// NewPublisher creates a new Publisher backed by NATS JetStream.
func (p *Provider) NewPublisher(opts pubsub.PublisherOptions) (pubsub.Publisher, error) {
	if p.js == nil {
		return nil, ErrNotConnected
	}
	return NewPublisher(p.js, opts)
}

// NewConsumer creates a new Consumer backed by NATS JetStream.
func (p *Provider) NewConsumer(opts pubsub.ConsumerOptions) (pubsub.Consumer, error) {
	if p.js == nil {
		return nil, ErrNotConnected
	}
	return NewConsumer(p.js, opts)
}

// Close closes the NATS connection.
func (p *Provider) Close() error {
	if p.nc != nil {
		p.logger.Info("Closing NATS connection")
		p.nc.Close()
		p.nc = nil
		p.js = nil
	}
	return nil
}

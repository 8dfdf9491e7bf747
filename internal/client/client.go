// Package client is a per-actor protocol client. It sends requests to the
// service and receives replies and notifications on the actor's inbox,
// correlating them to waiting callers.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/syntrixbase/nodestream/internal/core/pubsub"
	"github.com/syntrixbase/nodestream/internal/correlation"
	"github.com/syntrixbase/nodestream/internal/metrics"
	"github.com/syntrixbase/nodestream/internal/protocol"
	"github.com/syntrixbase/nodestream/pkg/model"
)

// DefaultTimeout bounds every wait unless configured otherwise.
const DefaultTimeout = 10 * time.Second

type Config struct {
	Prefix string
	// Service is the identity replies and notifications must come from.
	Service    string
	Timeout    time.Duration
	BufferSize int
}

func (c *Config) applyDefaults() {
	if c.Prefix == "" {
		c.Prefix = protocol.DefaultPrefix
	}
	if c.Service == "" {
		c.Service = "pubsub.nodestream"
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
}

type Client struct {
	actor    string
	cfg      Config
	provider pubsub.Provider
	pub      pubsub.Publisher
	table    *correlation.Table[protocol.Envelope]
	logger   *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

// New creates a client for actor. Call Start before sending requests.
func New(actor string, provider pubsub.Provider, cfg Config) (*Client, error) {
	if actor == "" {
		return nil, errors.New("actor identity is required")
	}
	cfg.applyDefaults()

	pub, err := provider.NewPublisher(pubsub.PublisherOptions{
		StreamName:    cfg.Prefix,
		SubjectPrefix: cfg.Prefix,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create request publisher: %w", err)
	}

	logger := slog.Default().With("component", "client", "actor", actor)
	return &Client{
		actor:    actor,
		cfg:      cfg,
		provider: provider,
		pub:      pub,
		logger:   logger,
		table: correlation.New(correlation.WithUnmatched(func(env protocol.Envelope) {
			logger.Debug("Unmatched inbound envelope", "kind", env.Kind, "op", env.Op, "id", env.ID, "node", env.Node)
		})),
	}, nil
}

// Actor returns the identity the client acts as.
func (c *Client) Actor() string {
	return c.actor
}

// Start subscribes to the actor inbox. Nothing sent to the inbox before
// Start returns is received.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return errors.New("client already started")
	}

	consumer, err := c.provider.NewConsumer(pubsub.ConsumerOptions{
		StreamName:     c.cfg.Prefix,
		FilterSubject:  protocol.Qualify(c.cfg.Prefix, protocol.InboxSubject(c.actor)),
		ChannelBufSize: c.cfg.BufferSize,
	})
	if err != nil {
		return fmt.Errorf("failed to create inbox consumer: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	msgs, err := consumer.Subscribe(ctx)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to subscribe to inbox: %w", err)
	}

	c.cancel = cancel
	c.done = make(chan struct{})
	c.started = true
	go c.receive(msgs)
	return nil
}

func (c *Client) receive(msgs <-chan pubsub.Message) {
	defer close(c.done)
	for msg := range msgs {
		env, err := protocol.Unmarshal(msg.Data())
		if err != nil {
			c.logger.Warn("Dropping malformed envelope", "subject", msg.Subject(), "error", err)
			_ = msg.Term()
			continue
		}
		c.table.Deliver(env)
		_ = msg.Ack()
	}
}

// Close stops the inbox consumer and releases every waiter.
func (c *Client) Close() error {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.started = false
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	c.table.Close()
	return c.pub.Close()
}

// Send stamps env as a request from the actor and publishes it to the service.
// Publishing is bounded by the client timeout.
func (c *Client) Send(ctx context.Context, env protocol.Envelope) (protocol.Envelope, error) {
	env.Kind = protocol.KindRequest
	env.From = c.actor
	if env.ID == "" {
		env.ID = uuid.NewString()
	}
	env.Sent = time.Now()

	data, err := env.Marshal()
	if err != nil {
		return env, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	return env, model.WrapError(c.pub.Publish(ctx, protocol.ServiceSubject, data))
}

// Do sends req and waits for its single reply. The reply expectation is
// registered before the request is sent. Error replies are returned as the
// matching model error together with the reply.
func (c *Client) Do(ctx context.Context, req protocol.Envelope) (protocol.Envelope, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	x, err := c.Expect(protocol.ReplyTo(c.cfg.Service, req.ID))
	if err != nil {
		return protocol.Envelope{}, err
	}
	if _, err := c.Send(ctx, req); err != nil {
		x.Cancel()
		return protocol.Envelope{}, fmt.Errorf("send %s: %w", req.Op, err)
	}

	reply, err := x.Await(ctx)
	if err != nil {
		return protocol.Envelope{}, fmt.Errorf("%s %s: %w", req.Op, req.Node, err)
	}
	if err := protocol.Err(reply); err != nil {
		return reply, fmt.Errorf("%s %s: %w", req.Op, req.Node, err)
	}
	return reply, nil
}

// Expectation is a registered wait for one inbound envelope.
type Expectation struct {
	c    *Client
	h    correlation.Handle
	once sync.Once
}

// Expect registers pred. Register before triggering the envelope.
func (c *Client) Expect(pred protocol.Predicate) (*Expectation, error) {
	h, err := c.table.Register(pred)
	if err != nil {
		return nil, err
	}
	metrics.CorrelationPending.Inc()
	return &Expectation{c: c, h: h}, nil
}

// ExpectNotification registers a wait for the next item notification on node.
func (c *Client) ExpectNotification(node string) (*Expectation, error) {
	return c.Expect(protocol.NotificationFrom(c.cfg.Service, node))
}

// Await waits for the envelope; model.ErrTimedOut after the client timeout.
func (x *Expectation) Await(ctx context.Context) (protocol.Envelope, error) {
	defer x.release()
	return x.c.table.Wait(ctx, x.h, x.c.cfg.Timeout)
}

// AwaitNone reports absent=true when nothing matched within window.
// A non-positive window uses the client timeout. A canceled ctx or a closed
// client is an error, never absence.
func (x *Expectation) AwaitNone(ctx context.Context, window time.Duration) (protocol.Envelope, bool, error) {
	defer x.release()
	if window <= 0 {
		window = x.c.cfg.Timeout
	}
	return x.c.table.WaitNone(ctx, x.h, window)
}

// Cancel drops the expectation without waiting.
func (x *Expectation) Cancel() {
	x.c.table.Cancel(x.h)
	x.release()
}

func (x *Expectation) release() {
	x.once.Do(metrics.CorrelationPending.Dec)
}

// CreateNode creates node with opts (nil selects the defaults).
func (c *Client) CreateNode(ctx context.Context, node string, opts *model.NodeOptions) error {
	_, err := c.Do(ctx, protocol.Envelope{Op: protocol.OpCreate, Node: node, Options: opts})
	return err
}

func (c *Client) DeleteNode(ctx context.Context, node string) error {
	_, err := c.Do(ctx, protocol.Envelope{Op: protocol.OpDelete, Node: node})
	return err
}

func (c *Client) Subscribe(ctx context.Context, node string) error {
	_, err := c.Do(ctx, protocol.Envelope{Op: protocol.OpSubscribe, Node: node})
	return err
}

func (c *Client) Unsubscribe(ctx context.Context, node string) error {
	_, err := c.Do(ctx, protocol.Envelope{Op: protocol.OpUnsubscribe, Node: node})
	return err
}

// Publish publishes payload on node and returns the stored item.
// An empty itemID lets the service assign one.
func (c *Client) Publish(ctx context.Context, node, itemID string, payload model.Payload) (model.Item, error) {
	reply, err := c.Do(ctx, protocol.Envelope{
		Op:   protocol.OpPublish,
		Node: node,
		Item: &model.Item{ID: itemID, Payload: payload},
	})
	if err != nil {
		return model.Item{}, err
	}
	if reply.Item == nil {
		return model.Item{}, errors.New("publish reply without item")
	}
	return *reply.Item, nil
}

// Items returns the most recent limit items of node; limit <= 0 returns all.
func (c *Client) Items(ctx context.Context, node string, limit int) ([]model.Item, error) {
	reply, err := c.Do(ctx, protocol.Envelope{Op: protocol.OpItems, Node: node, Limit: limit})
	if err != nil {
		return nil, err
	}
	return reply.Items, nil
}

// DiscoverNodes lists the nodes nested under parent; model.RootNode lists all.
func (c *Client) DiscoverNodes(ctx context.Context, parent string) ([]model.NodeDescriptor, error) {
	reply, err := c.Do(ctx, protocol.Envelope{Op: protocol.OpDiscoNodes, Node: parent})
	if err != nil {
		return nil, err
	}
	return reply.Nodes, nil
}

// DiscoverItems lists the item ids retained on node.
func (c *Client) DiscoverItems(ctx context.Context, node string) ([]string, error) {
	reply, err := c.Do(ctx, protocol.Envelope{Op: protocol.OpDiscoItems, Node: node})
	if err != nil {
		return nil, err
	}
	return reply.ItemIDs, nil
}

// DiscoverFeatures lists the service feature tags.
func (c *Client) DiscoverFeatures(ctx context.Context) ([]string, error) {
	reply, err := c.Do(ctx, protocol.Envelope{Op: protocol.OpDiscoInfo})
	if err != nil {
		return nil, err
	}
	return reply.Features, nil
}

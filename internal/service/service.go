// Package service consumes request envelopes from the transport, runs them
// against the engine and publishes exactly one reply per request.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/syntrixbase/nodestream/internal/core/pubsub"
	"github.com/syntrixbase/nodestream/internal/engine"
	"github.com/syntrixbase/nodestream/internal/metrics"
	"github.com/syntrixbase/nodestream/internal/protocol"
	"github.com/syntrixbase/nodestream/pkg/model"
)

// DefaultIdentity is the sender identity of replies and notifications.
const DefaultIdentity = "pubsub.nodestream"

type Config struct {
	Identity string
	Prefix   string
	// Workers partitions requests by node; requests for one node keep arrival order.
	Workers   int
	QueueSize int
	// ConsumerName is the durable JetStream consumer shared by service replicas.
	ConsumerName string
}

func (c *Config) applyDefaults() {
	if c.Identity == "" {
		c.Identity = DefaultIdentity
	}
	if c.Prefix == "" {
		c.Prefix = protocol.DefaultPrefix
	}
	if c.Workers <= 0 {
		c.Workers = 8
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
	if c.ConsumerName == "" {
		c.ConsumerName = "nodestream-service"
	}
}

type task struct {
	msg pubsub.Message
	req protocol.Envelope
}

type Service struct {
	cfg      Config
	engine   *engine.Engine
	provider pubsub.Provider
	outbox   *Outbox
	logger   *slog.Logger

	mu      sync.Mutex
	started bool
	wg      sync.WaitGroup
}

// New creates a service consuming requests from provider and replying through outbox.
func New(cfg Config, eng *engine.Engine, provider pubsub.Provider, outbox *Outbox, logger *slog.Logger) *Service {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		cfg:      cfg,
		engine:   eng,
		provider: provider,
		outbox:   outbox,
		logger:   logger.With("component", "service"),
	}
}

// Identity returns the sender identity of replies.
func (s *Service) Identity() string {
	return s.cfg.Identity
}

// Start subscribes to the service subject and runs the workers until ctx
// is cancelled. Use Wait to block until in-flight requests are finished.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("service already started")
	}

	consumer, err := s.provider.NewConsumer(pubsub.ConsumerOptions{
		StreamName:    s.cfg.Prefix,
		ConsumerName:  s.cfg.ConsumerName,
		FilterSubject: protocol.Qualify(s.cfg.Prefix, protocol.ServiceSubject),
	})
	if err != nil {
		return fmt.Errorf("failed to create request consumer: %w", err)
	}
	msgs, err := consumer.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("failed to subscribe to requests: %w", err)
	}

	queues := make([]chan task, s.cfg.Workers)
	for i := range queues {
		queues[i] = make(chan task, s.cfg.QueueSize)
		s.wg.Add(1)
		go s.worker(queues[i])
	}

	s.wg.Add(1)
	go s.route(msgs, queues)

	s.started = true
	s.logger.Info("Service started", "identity", s.cfg.Identity, "workers", s.cfg.Workers)
	return nil
}

// Wait blocks until the workers have drained after ctx cancellation.
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) route(msgs <-chan pubsub.Message, queues []chan task) {
	defer s.wg.Done()
	defer func() {
		for _, q := range queues {
			close(q)
		}
	}()

	for msg := range msgs {
		req, err := protocol.Unmarshal(msg.Data())
		if err != nil || req.From == "" {
			s.logger.Warn("Dropping undeliverable request", "subject", msg.Subject(), "error", err)
			_ = msg.Term()
			continue
		}
		queues[partition(req.Node, len(queues))] <- task{msg: msg, req: req}
	}
}

func partition(node string, n int) int {
	return int(xxhash.Sum64String(node) % uint64(n))
}

func (s *Service) worker(queue <-chan task) {
	defer s.wg.Done()
	for t := range queue {
		// replies are still sent while shutting down
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		reply := s.Handle(ctx, t.req)
		if err := s.outbox.Send(ctx, reply); err != nil {
			s.logger.Error("Failed to send reply", "request", t.req.ID, "to", t.req.From, "error", err)
		}
		cancel()
		_ = t.msg.Ack()
	}
}

// Handle runs req against the engine and returns its single reply.
func (s *Service) Handle(ctx context.Context, req protocol.Envelope) protocol.Envelope {
	start := time.Now()
	op := string(req.Op)

	reply, err := s.handle(ctx, req)

	metrics.RequestLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.RequestsTotal.WithLabelValues(op, metrics.OutcomeError).Inc()
		if model.IsExpected(err) {
			s.logger.Debug("Request rejected", "op", op, "node", req.Node, "from", req.From, "error", err)
		} else {
			s.logger.Error("Request failed", "op", op, "node", req.Node, "from", req.From, "error", err)
		}
		return protocol.Failure(req, s.cfg.Identity, err)
	}
	metrics.RequestsTotal.WithLabelValues(op, metrics.OutcomeOK).Inc()
	if req.Op.Mutating() {
		s.logger.Info("Request applied", "op", op, "node", req.Node, "from", req.From, "id", req.ID)
	}
	return reply
}

func (s *Service) handle(ctx context.Context, req protocol.Envelope) (protocol.Envelope, error) {
	if req.Kind != protocol.KindRequest {
		return protocol.Envelope{}, fmt.Errorf("kind %q: %w", req.Kind, model.ErrBadRequest)
	}

	res := protocol.Result(req, s.cfg.Identity)
	e := s.engine

	switch req.Op {
	case protocol.OpCreate:
		n, err := e.CreateNode(ctx, req.Node, req.From, req.Options)
		if err != nil {
			return res, err
		}
		res.Nodes = []model.NodeDescriptor{n.Descriptor()}

	case protocol.OpDelete:
		return res, e.DeleteNode(ctx, req.Node, req.From)

	case protocol.OpSubscribe:
		return res, e.Subscribe(ctx, req.Node, req.From)

	case protocol.OpUnsubscribe:
		return res, e.Unsubscribe(ctx, req.Node, req.From)

	case protocol.OpPublish:
		if req.Item == nil {
			return res, fmt.Errorf("publish without item: %w", model.ErrBadRequest)
		}
		item, err := e.Publish(ctx, req.Node, req.From, *req.Item)
		if err != nil {
			return res, err
		}
		res.Item = &item

	case protocol.OpItems:
		items, err := e.QueryItems(ctx, req.Node, req.From, req.Limit)
		if err != nil {
			return res, err
		}
		res.Items = items

	case protocol.OpDiscoNodes:
		res.Nodes = e.DiscoverChildren(req.Node)

	case protocol.OpDiscoItems:
		ids, err := e.DiscoverItems(ctx, req.Node)
		if err != nil {
			return res, err
		}
		res.ItemIDs = ids

	case protocol.OpDiscoInfo:
		res.Features = e.DiscoverFeatures()

	default:
		return res, fmt.Errorf("unknown op %q: %w", req.Op, model.ErrBadRequest)
	}
	return res, nil
}

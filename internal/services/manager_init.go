package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/syntrixbase/nodestream/internal/authz"
	"github.com/syntrixbase/nodestream/internal/config"
	"github.com/syntrixbase/nodestream/internal/core/pubsub"
	"github.com/syntrixbase/nodestream/internal/core/pubsub/memory"
	natsprov "github.com/syntrixbase/nodestream/internal/core/pubsub/nats"
	"github.com/syntrixbase/nodestream/internal/engine"
	"github.com/syntrixbase/nodestream/internal/fanout"
	"github.com/syntrixbase/nodestream/internal/gateway"
	"github.com/syntrixbase/nodestream/internal/itemstore"
	memstore "github.com/syntrixbase/nodestream/internal/itemstore/memory"
	mongostore "github.com/syntrixbase/nodestream/internal/itemstore/mongo"
	"github.com/syntrixbase/nodestream/internal/metrics"
	"github.com/syntrixbase/nodestream/internal/server"
	"github.com/syntrixbase/nodestream/internal/service"
)

// Factories are variables so tests can substitute backends.
var (
	storeFactory = func(ctx context.Context, cfg config.StorageConfig) (itemstore.Store, error) {
		switch cfg.Backend {
		case config.BackendMongo:
			return mongostore.Open(ctx, cfg.MongoURI, cfg.MongoDatabase, cfg.ItemsCollection)
		default:
			return memstore.New(), nil
		}
	}

	natsProviderFactory = func(url string) pubsub.Provider {
		return natsprov.NewProvider(url)
	}
)

// Init builds every component. Nothing is listening until Start.
func (m *Manager) Init(ctx context.Context) error {
	if err := m.initTransport(ctx); err != nil {
		return err
	}
	if err := m.initStorage(ctx); err != nil {
		return err
	}
	if err := m.initPolicy(); err != nil {
		return err
	}
	if err := m.initEngine(); err != nil {
		return err
	}
	if err := m.initGateway(); err != nil {
		return err
	}
	m.initServer()
	return nil
}

func (m *Manager) initTransport(ctx context.Context) error {
	cfg := m.cfg.Transport
	if cfg.Provider != config.ProviderNATS {
		m.provider = memory.New(memory.WithSlowConsumerWait(cfg.SlowConsumerWait))
		slog.Info("Using in-memory transport", "slow_consumer_wait", cfg.SlowConsumerWait)
		return nil
	}

	url := cfg.NatsURL
	if cfg.Embedded {
		e, err := natsprov.StartEmbedded(cfg.StoreDir, -1, 0)
		if err != nil {
			return err
		}
		m.embedded = e
		url = e.ClientURL()
		slog.Info("Started embedded NATS server", "url", url, "store_dir", cfg.StoreDir)
	}

	p := natsProviderFactory(url)
	if c, ok := p.(pubsub.Connectable); ok {
		if err := c.Connect(ctx); err != nil {
			return err
		}
	}
	m.provider = p
	return nil
}

func (m *Manager) initStorage(ctx context.Context) error {
	store, err := storeFactory(ctx, m.cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize item store: %w", err)
	}
	m.store = store
	slog.Info("Initialized item store", "backend", m.cfg.Storage.Backend)
	return nil
}

func (m *Manager) initPolicy() error {
	if m.cfg.Engine.RulesPath == "" {
		m.policy = authz.AllowAll{}
		return nil
	}
	e, err := authz.NewEngine()
	if err != nil {
		return err
	}
	if err := e.LoadRules(m.cfg.Engine.RulesPath); err != nil {
		return fmt.Errorf("failed to load access rules: %w", err)
	}
	m.policy = e
	slog.Info("Loaded access rules", "path", m.cfg.Engine.RulesPath)
	return nil
}

func (m *Manager) initEngine() error {
	prefix := m.cfg.Transport.Prefix

	outbox, err := service.NewOutbox(m.provider, prefix)
	if err != nil {
		return err
	}
	m.outbox = outbox
	m.dispatcher = fanout.NewDispatcher(outbox.Send, m.cfg.Engine.MailboxSize, nil)

	m.engine = engine.New(engine.Config{
		Service:         m.cfg.Engine.Identity,
		DefaultMaxItems: m.cfg.Engine.DefaultMaxItems,
		MaxItemsCeiling: m.cfg.Engine.MaxItemsCeiling,
	}, m.store, m.dispatcher, engine.WithPolicy(m.policy))

	m.service = service.New(service.Config{
		Identity: m.cfg.Engine.Identity,
		Prefix:   prefix,
		Workers:  m.cfg.Engine.Workers,
	}, m.engine, m.provider, outbox, nil)
	return nil
}

func (m *Manager) initGateway() error {
	gw, err := gateway.New(gateway.Config{
		Prefix:         m.cfg.Transport.Prefix,
		Identity:       m.cfg.Engine.Identity,
		AllowedOrigins: m.cfg.Gateway.AllowedOrigins,
		SendBuffer:     m.cfg.Gateway.SendBuffer,
		RequestTimeout: m.cfg.Gateway.RequestTimeout,
	}, m.engine, m.provider, nil)
	if err != nil {
		return fmt.Errorf("failed to create gateway: %w", err)
	}
	m.gateway = gw
	return nil
}

func (m *Manager) initServer() {
	m.server = server.New(m.cfg.Server, nil)
	m.gateway.RegisterRoutes(m.server.HTTPMux())
	m.server.RegisterHTTPHandler("GET /metrics", metrics.Handler())
}

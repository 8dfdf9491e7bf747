// Package services wires the node engine, request service, gateway and
// network server into one process and runs their lifecycle.
package services

import (
	"context"
	"sync"

	"github.com/syntrixbase/nodestream/internal/authz"
	"github.com/syntrixbase/nodestream/internal/config"
	"github.com/syntrixbase/nodestream/internal/core/pubsub"
	natsprov "github.com/syntrixbase/nodestream/internal/core/pubsub/nats"
	"github.com/syntrixbase/nodestream/internal/engine"
	"github.com/syntrixbase/nodestream/internal/fanout"
	"github.com/syntrixbase/nodestream/internal/gateway"
	"github.com/syntrixbase/nodestream/internal/itemstore"
	"github.com/syntrixbase/nodestream/internal/server"
	"github.com/syntrixbase/nodestream/internal/service"
)

type Manager struct {
	cfg *config.Config

	provider pubsub.Provider
	embedded *natsprov.Embedded
	store    itemstore.Store
	policy   authz.Policy

	outbox     *service.Outbox
	dispatcher *fanout.Dispatcher
	engine     *engine.Engine
	service    *service.Service
	gateway    *gateway.Gateway
	server     server.Service

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewManager(cfg *config.Config) *Manager {
	return &Manager{cfg: cfg}
}

// Provider returns the transport shared by every component.
func (m *Manager) Provider() pubsub.Provider {
	return m.provider
}

func (m *Manager) Engine() *engine.Engine {
	return m.engine
}

func (m *Manager) Server() server.Service {
	return m.server
}

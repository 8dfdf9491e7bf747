// Package engine runs node operations against the registry, subscription
// manager and item store, and hands item notifications to the fan-out.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/syntrixbase/nodestream/internal/authz"
	"github.com/syntrixbase/nodestream/internal/discovery"
	"github.com/syntrixbase/nodestream/internal/itemstore"
	"github.com/syntrixbase/nodestream/internal/metrics"
	"github.com/syntrixbase/nodestream/internal/node"
	"github.com/syntrixbase/nodestream/internal/protocol"
	"github.com/syntrixbase/nodestream/internal/subscription"
	"github.com/syntrixbase/nodestream/pkg/model"
)

const (
	DefaultMaxItems        = 100
	DefaultMaxItemsCeiling = 1000
)

// Stage is a step of the publish state machine.
type Stage string

const (
	StageValidating Stage = "validating"
	StageStoring    Stage = "storing"
	StageNotifying  Stage = "notifying"
	StageDone       Stage = "done"
	StageRejected   Stage = "rejected"
)

// Notifier accepts notifications for asynchronous delivery. Enqueue must not block.
type Notifier interface {
	Enqueue(env protocol.Envelope) bool
}

type Config struct {
	// Service is the identity notifications are sent from.
	Service         string
	DefaultMaxItems int
	MaxItemsCeiling int
}

func (c *Config) applyDefaults() {
	if c.DefaultMaxItems <= 0 {
		c.DefaultMaxItems = DefaultMaxItems
	}
	if c.MaxItemsCeiling <= 0 {
		c.MaxItemsCeiling = DefaultMaxItemsCeiling
	}
	if c.DefaultMaxItems > c.MaxItemsCeiling {
		c.DefaultMaxItems = c.MaxItemsCeiling
	}
}

type Option func(*Engine)

// WithPolicy sets the access-control policy. The default allows everything.
func WithPolicy(p authz.Policy) Option {
	return func(e *Engine) { e.policy = p }
}

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithStageHook observes publish stage transitions.
func WithStageHook(fn func(item model.Item, stage Stage)) Option {
	return func(e *Engine) { e.onStage = fn }
}

// WithClock overrides the publish timestamp source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

type Engine struct {
	cfg      Config
	nodes    *node.Registry
	subs     *subscription.Manager
	items    itemstore.Store
	disco    *discovery.Service
	policy   authz.Policy
	notifier Notifier
	logger   *slog.Logger
	onStage  func(model.Item, Stage)
	now      func() time.Time
}

// New creates an engine. Node deletion cascades to subscriptions and stored items.
func New(cfg Config, items itemstore.Store, notifier Notifier, opts ...Option) *Engine {
	cfg.applyDefaults()
	e := &Engine{
		cfg:      cfg,
		items:    items,
		policy:   authz.AllowAll{},
		notifier: notifier,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "engine")

	e.nodes = node.NewRegistry(
		node.WithLogger(e.logger),
		node.WithCascade(
			func(_ context.Context, id string) error {
				e.subs.Drop(id)
				return nil
			},
			func(ctx context.Context, id string) error {
				return e.items.Drop(ctx, id)
			},
		),
	)
	e.subs = subscription.NewManager(e.nodes)
	e.disco = discovery.New(e.nodes, items)
	return e
}

// Registry exposes the node registry for read access.
func (e *Engine) Registry() *node.Registry {
	return e.nodes
}

// Subscriptions exposes the subscription manager for read access.
func (e *Engine) Subscriptions() *subscription.Manager {
	return e.subs
}

func (e *Engine) maxItems(requested int) int {
	if requested <= 0 {
		return e.cfg.DefaultMaxItems
	}
	if requested > e.cfg.MaxItemsCeiling {
		return e.cfg.MaxItemsCeiling
	}
	return requested
}

// CreateNode creates id owned by owner.
func (e *Engine) CreateNode(ctx context.Context, id, owner string, opts *model.NodeOptions) (model.Node, error) {
	if !model.CheckNodeID(id) {
		return model.Node{}, fmt.Errorf("node id %q: %w", id, model.ErrBadRequest)
	}
	if !e.policy.Allow(ctx, authz.ActionCreate, owner, id, nil) {
		return model.Node{}, fmt.Errorf("create %s: %w", id, model.ErrForbidden)
	}

	n := model.Node{
		ID:         id,
		Owner:      owner,
		Persistent: true,
		MaxItems:   e.cfg.DefaultMaxItems,
		CreatedAt:  e.now(),
	}
	if opts != nil {
		if opts.Persistent != nil {
			n.Persistent = *opts.Persistent
		}
		n.MaxItems = e.maxItems(opts.MaxItems)
	}

	unlock := e.nodes.Lock(id)
	defer unlock()

	if err := e.nodes.Create(n); err != nil {
		return model.Node{}, err
	}
	if n.Persistent {
		// history left behind by an earlier node with the same id
		if err := e.items.Drop(ctx, id); err != nil {
			e.logger.Warn("Failed to purge stale items", "node", id, "error", err)
		}
	}
	metrics.Nodes.Set(float64(e.nodes.Len()))
	e.logger.Debug("Node created", "node", id, "owner", owner, "persistent", n.Persistent, "max_items", n.MaxItems)
	return n, nil
}

// DeleteNode deletes id on behalf of requester. Only the owner may delete.
func (e *Engine) DeleteNode(ctx context.Context, id, requester string) error {
	unlock := e.nodes.Lock(id)
	defer unlock()

	n, err := e.nodes.Get(id)
	if err != nil {
		return err
	}
	if !e.policy.Allow(ctx, authz.ActionDelete, requester, id, &n) {
		return fmt.Errorf("delete %s: %w", id, model.ErrForbidden)
	}
	if err := e.nodes.Delete(ctx, id, requester); err != nil {
		return err
	}
	metrics.Nodes.Set(float64(e.nodes.Len()))
	metrics.Subscriptions.Set(float64(e.subs.Count()))
	e.logger.Debug("Node deleted", "node", id, "requester", requester)
	return nil
}

// Subscribe registers subscriber for notifications of id. Repeated calls are no-ops.
func (e *Engine) Subscribe(ctx context.Context, id, subscriber string) error {
	unlock := e.nodes.Lock(id)
	defer unlock()

	n, err := e.nodes.Get(id)
	if err != nil {
		return err
	}
	if !e.policy.Allow(ctx, authz.ActionSubscribe, subscriber, id, &n) {
		return fmt.Errorf("subscribe %s: %w", id, model.ErrForbidden)
	}
	if err := e.subs.Subscribe(id, subscriber); err != nil {
		return err
	}
	metrics.Subscriptions.Set(float64(e.subs.Count()))
	return nil
}

// Unsubscribe removes the subscription of subscriber to id. A missing node
// and a missing subscription both yield model.ErrNotFound.
func (e *Engine) Unsubscribe(ctx context.Context, id, subscriber string) error {
	unlock := e.nodes.Lock(id)
	defer unlock()

	n, err := e.nodes.Get(id)
	if err != nil {
		return fmt.Errorf("unsubscribe %s: %w", id, model.ErrNotFound)
	}
	if !e.policy.Allow(ctx, authz.ActionUnsubscribe, subscriber, id, &n) {
		return fmt.Errorf("unsubscribe %s: %w", id, model.ErrForbidden)
	}
	if err := e.subs.Unsubscribe(id, subscriber); err != nil {
		return err
	}
	metrics.Subscriptions.Set(float64(e.subs.Count()))
	return nil
}

// Publish stores item on id and queues one notification per current
// subscriber. It returns once the item is stored; notification delivery
// continues asynchronously.
func (e *Engine) Publish(ctx context.Context, id, publisher string, item model.Item) (model.Item, error) {
	item.Node = id
	item.Publisher = publisher

	unlock := e.nodes.Lock(id)
	defer unlock()

	e.stage(item, StageValidating)
	n, err := e.nodes.Get(id)
	if err != nil {
		e.stage(item, StageRejected)
		return model.Item{}, err
	}
	if !e.policy.Allow(ctx, authz.ActionPublish, publisher, id, &n) {
		e.stage(item, StageRejected)
		return model.Item{}, fmt.Errorf("publish %s: %w", id, model.ErrForbidden)
	}
	if !item.Payload.Valid() {
		e.stage(item, StageRejected)
		return model.Item{}, fmt.Errorf("publish %s: invalid payload: %w", id, model.ErrBadRequest)
	}

	seq, err := e.nodes.NextSeq(id)
	if err != nil {
		e.stage(item, StageRejected)
		return model.Item{}, err
	}
	item.Seq = seq
	item.PublishedAt = e.now()
	if item.ID == "" {
		item.ID = uuid.NewString()
	}

	e.stage(item, StageStoring)
	if n.Persistent {
		if err := e.items.Append(ctx, item, n.MaxItems); err != nil {
			e.stage(item, StageRejected)
			return model.Item{}, fmt.Errorf("store item on %s: %w", id, model.WrapError(err))
		}
	}

	e.stage(item, StageNotifying)
	for _, subscriber := range e.subs.SubscribersOf(id) {
		e.notifier.Enqueue(protocol.Notification(e.cfg.Service, subscriber, item))
	}

	e.stage(item, StageDone)
	return item, nil
}

func (e *Engine) stage(item model.Item, s Stage) {
	if e.onStage != nil {
		e.onStage(item, s)
	}
}

// QueryItems returns the most recent limit items of id in publish order.
// limit <= 0 returns all retained items. Non-persistent nodes have none.
func (e *Engine) QueryItems(ctx context.Context, id, actor string, limit int) ([]model.Item, error) {
	n, err := e.nodes.Get(id)
	if err != nil {
		return nil, err
	}
	if !e.policy.Allow(ctx, authz.ActionItems, actor, id, &n) {
		return nil, fmt.Errorf("items %s: %w", id, model.ErrForbidden)
	}
	if !n.Persistent {
		return []model.Item{}, nil
	}
	items, err := e.items.Recent(ctx, id, limit)
	if err != nil {
		return nil, model.WrapError(err)
	}
	return items, nil
}

// DiscoverChildren lists the nodes nested under parent.
func (e *Engine) DiscoverChildren(parent string) []model.NodeDescriptor {
	return e.disco.ChildNodes(parent)
}

// DiscoverItems lists the retained item ids of id.
func (e *Engine) DiscoverItems(ctx context.Context, id string) ([]string, error) {
	return e.disco.Items(ctx, id)
}

// DiscoverFeatures lists the supported feature tags.
func (e *Engine) DiscoverFeatures() []string {
	return e.disco.Features()
}

// Package node owns node identity, existence and ownership.
package node

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/syntrixbase/nodestream/pkg/model"
)

// CascadeFunc discards state that belongs to a deleted node.
type CascadeFunc func(ctx context.Context, id string) error

// Option configures a Registry.
type Option func(*Registry)

// WithCascade registers functions run after a node is deleted.
func WithCascade(fns ...CascadeFunc) Option {
	return func(r *Registry) {
		r.cascade = append(r.cascade, fns...)
	}
}

// WithLogger sets the registry logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

type entry struct {
	node model.Node
	seq  uint64
}

// Registry tracks live nodes. Mutations for a node must be performed while
// holding that node's region (see Lock); the internal map lock only guards
// short lookups so operations on distinct nodes never serialize.
type Registry struct {
	mu    sync.RWMutex
	nodes map[string]*entry

	locks   *Locks
	cascade []CascadeFunc
	logger  *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		nodes:  make(map[string]*entry),
		locks:  NewLocks(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "node-registry")
	return r
}

// Lock acquires the exclusive region of node id.
func (r *Registry) Lock(id string) (unlock func()) {
	return r.locks.Lock(id)
}

// Create registers n. It fails with model.ErrConflict when the id is live.
func (r *Registry) Create(n model.Node) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.nodes[n.ID]; exists {
		return fmt.Errorf("create %s: %w", n.ID, model.ErrConflict)
	}
	r.nodes[n.ID] = &entry{node: n}
	return nil
}

// Delete removes node id on behalf of requester and cascades removal of its
// dependent state. Cascade failures are logged; the node is gone regardless.
func (r *Registry) Delete(ctx context.Context, id, requester string) error {
	r.mu.Lock()
	e, ok := r.nodes[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("delete %s: %w", id, model.ErrNotFound)
	}
	if e.node.Owner != requester {
		r.mu.Unlock()
		return fmt.Errorf("delete %s: %w", id, model.ErrForbidden)
	}
	delete(r.nodes, id)
	r.mu.Unlock()

	for _, fn := range r.cascade {
		if err := fn(ctx, id); err != nil {
			r.logger.Error("Cascade after node delete failed", "node", id, "error", err)
		}
	}
	return nil
}

// NextSeq assigns the next publish sequence number of node id.
func (r *Registry) NextSeq(id string) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.nodes[id]
	if !ok {
		return 0, fmt.Errorf("node %s: %w", id, model.ErrNotFound)
	}
	e.seq++
	return e.seq, nil
}

// Get returns a copy of node id.
func (r *Registry) Get(id string) (model.Node, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.nodes[id]
	if !ok {
		return model.Node{}, fmt.Errorf("node %s: %w", id, model.ErrNotFound)
	}
	return e.node, nil
}

// Exists reports whether node id is live.
func (r *Registry) Exists(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.nodes[id]
	return ok
}

// OwnerOf returns the identity that created node id.
func (r *Registry) OwnerOf(id string) (string, error) {
	n, err := r.Get(id)
	if err != nil {
		return "", err
	}
	return n.Owner, nil
}

// Descendants returns the live nodes nested under parent, sorted by id.
func (r *Registry) Descendants(parent string) []model.Node {
	r.mu.RLock()
	out := make([]model.Node, 0, len(r.nodes))
	for id, e := range r.nodes {
		if model.IsDescendant(id, parent) {
			out = append(out, e.node)
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of live nodes.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.nodes)
}

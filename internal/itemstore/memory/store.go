// Package memory provides the in-memory item history used in standalone mode.
package memory

import (
	"context"
	"sync"

	"github.com/syntrixbase/nodestream/internal/itemstore"
	"github.com/syntrixbase/nodestream/pkg/model"
)

// Compile-time check that Store implements itemstore.Store
var _ itemstore.Store = (*Store)(nil)

type history struct {
	mu    sync.Mutex
	items []model.Item
}

// Store keeps one history per node, each guarded by its own lock.
type Store struct {
	mu    sync.RWMutex
	nodes map[string]*history
}

// New creates an empty store.
func New() *Store {
	return &Store{nodes: make(map[string]*history)}
}

func (s *Store) history(node string, create bool) *history {
	s.mu.RLock()
	h, ok := s.nodes[node]
	s.mu.RUnlock()
	if ok || !create {
		return h
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok = s.nodes[node]; !ok {
		h = &history{}
		s.nodes[node] = h
	}
	return h
}

// Append adds item as the newest entry and evicts the oldest beyond maxItems.
func (s *Store) Append(_ context.Context, item model.Item, maxItems int) error {
	h := s.history(item.Node, true)

	h.mu.Lock()
	defer h.mu.Unlock()

	for i := range h.items {
		if h.items[i].ID == item.ID {
			h.items = append(h.items[:i], h.items[i+1:]...)
			break
		}
	}
	h.items = append(h.items, item)

	if maxItems > 0 && len(h.items) > maxItems {
		evict := len(h.items) - maxItems
		kept := make([]model.Item, maxItems)
		copy(kept, h.items[evict:])
		h.items = kept
	}
	return nil
}

// Recent returns a copy of the newest limit items, oldest first.
func (s *Store) Recent(_ context.Context, node string, limit int) ([]model.Item, error) {
	h := s.history(node, false)
	if h == nil {
		return []model.Item{}, nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	start := 0
	if limit > 0 && len(h.items) > limit {
		start = len(h.items) - limit
	}
	out := make([]model.Item, len(h.items)-start)
	copy(out, h.items[start:])
	return out, nil
}

// Drop discards the history of node.
func (s *Store) Drop(_ context.Context, node string) error {
	s.mu.Lock()
	delete(s.nodes, node)
	s.mu.Unlock()
	return nil
}

// Close is a no-op for the memory store.
func (s *Store) Close(context.Context) error {
	return nil
}

// Package subscription tracks which actors are subscribed to which node.
package subscription

import (
	"fmt"
	"sort"
	"sync"

	"github.com/syntrixbase/nodestream/pkg/model"
)

// NodeChecker reports whether a node is live.
type NodeChecker interface {
	Exists(id string) bool
}

// Manager holds subscriptions keyed by (node, subscriber). It has its own
// lock; callers that need subscribe/delete exclusion on a node hold that
// node's registry region around the call.
type Manager struct {
	nodes NodeChecker

	mu     sync.RWMutex
	byNode map[string]map[string]struct{}
}

// NewManager creates a manager validating node existence against nodes.
func NewManager(nodes NodeChecker) *Manager {
	return &Manager{
		nodes:  nodes,
		byNode: make(map[string]map[string]struct{}),
	}
}

// Subscribe registers subscriber on node. Subscribing twice is a no-op.
func (m *Manager) Subscribe(node, subscriber string) error {
	if !m.nodes.Exists(node) {
		return fmt.Errorf("subscribe %s: %w", node, model.ErrNotFound)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	subs, ok := m.byNode[node]
	if !ok {
		subs = make(map[string]struct{})
		m.byNode[node] = subs
	}
	subs[subscriber] = struct{}{}
	return nil
}

// Unsubscribe removes subscriber from node. An absent node and an absent
// subscription are reported identically as model.ErrNotFound.
func (m *Manager) Unsubscribe(node, subscriber string) error {
	notFound := fmt.Errorf("unsubscribe %s: %w", node, model.ErrNotFound)
	if !m.nodes.Exists(node) {
		return notFound
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	subs, ok := m.byNode[node]
	if !ok {
		return notFound
	}
	if _, ok := subs[subscriber]; !ok {
		return notFound
	}
	delete(subs, subscriber)
	if len(subs) == 0 {
		delete(m.byNode, node)
	}
	return nil
}

// SubscribersOf returns a sorted snapshot of node's subscribers.
func (m *Manager) SubscribersOf(node string) []string {
	m.mu.RLock()
	subs := m.byNode[node]
	out := make([]string, 0, len(subs))
	for s := range subs {
		out = append(out, s)
	}
	m.mu.RUnlock()

	sort.Strings(out)
	return out
}

// Drop discards every subscription to node.
func (m *Manager) Drop(node string) {
	m.mu.Lock()
	delete(m.byNode, node)
	m.mu.Unlock()
}

// Count returns the number of subscriptions across all nodes.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, subs := range m.byNode {
		n += len(subs)
	}
	return n
}

// Package itemstore keeps the bounded, ordered item history of persistent nodes.
package itemstore

import (
	"context"

	"github.com/syntrixbase/nodestream/pkg/model"
)

// Store retains published items per node in publish order.
// Callers validate node existence; Store has no notion of live nodes.
type Store interface {
	// Append stores item as the newest entry of item.Node, replacing any
	// entry with the same item id, then evicts the oldest entries until at
	// most maxItems remain. maxItems <= 0 disables eviction.
	Append(ctx context.Context, item model.Item, maxItems int) error

	// Recent returns the newest limit items of node, oldest first.
	// limit <= 0 returns every retained item.
	Recent(ctx context.Context, node string, limit int) ([]model.Item, error)

	// Drop discards the whole history of node.
	Drop(ctx context.Context, node string) error

	// Close releases resources.
	Close(ctx context.Context) error
}

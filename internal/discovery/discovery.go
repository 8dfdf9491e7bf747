// Package discovery answers read-only queries about the node hierarchy,
// retained items and the supported feature set.
package discovery

import (
	"context"
	"sort"

	"github.com/syntrixbase/nodestream/internal/itemstore"
	"github.com/syntrixbase/nodestream/pkg/model"
)

// Feature tags advertised by the service.
const (
	FeatureCreateNodes     = "create-nodes"
	FeatureDeleteNodes     = "delete-nodes"
	FeatureItemIDs         = "item-ids"
	FeaturePersistentItems = "persistent-items"
	FeaturePublish         = "publish"
	FeatureRetrieveItems   = "retrieve-items"
	FeatureSubscribe       = "subscribe"
)

var features = []string{
	FeatureCreateNodes,
	FeatureDeleteNodes,
	FeatureItemIDs,
	FeaturePersistentItems,
	FeaturePublish,
	FeatureRetrieveItems,
	FeatureSubscribe,
}

func init() {
	sort.Strings(features)
}

// NodeSource is the registry view discovery reads from.
type NodeSource interface {
	Get(id string) (model.Node, error)
	Descendants(parent string) []model.Node
}

type Service struct {
	nodes NodeSource
	items itemstore.Store
}

func New(nodes NodeSource, items itemstore.Store) *Service {
	return &Service{nodes: nodes, items: items}
}

// ChildNodes lists every live node nested under parent, sorted by id.
// The root parent lists all nodes.
func (s *Service) ChildNodes(parent string) []model.NodeDescriptor {
	nodes := s.nodes.Descendants(parent)
	out := make([]model.NodeDescriptor, len(nodes))
	for i, n := range nodes {
		out[i] = n.Descriptor()
	}
	return out
}

// Items lists the ids of the items retained for node in publish order.
func (s *Service) Items(ctx context.Context, node string) ([]string, error) {
	n, err := s.nodes.Get(node)
	if err != nil {
		return nil, err
	}
	if !n.Persistent {
		return []string{}, nil
	}

	items, err := s.items.Recent(ctx, node, 0)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.ID
	}
	return ids, nil
}

// Features returns the sorted feature tags.
func (s *Service) Features() []string {
	return append([]string(nil), features...)
}

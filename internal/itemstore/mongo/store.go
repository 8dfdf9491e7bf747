package mongo

import (
	"context"
	"errors"
	"fmt"

	"github.com/syntrixbase/nodestream/internal/itemstore"
	"github.com/syntrixbase/nodestream/pkg/model"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// DefaultCollection holds item documents when no collection is configured.
const DefaultCollection = "node_items"

// Compile-time check that Store implements itemstore.Store
var _ itemstore.Store = (*Store)(nil)

// Store persists items with their node and sequence number. Eviction keeps
// the newest maxItems documents per node by seq.
type Store struct {
	coll     *mongo.Collection
	provider *Provider
}

// NewStore returns a store over collectionName in db.
func NewStore(db *mongo.Database, collectionName string) *Store {
	if collectionName == "" {
		collectionName = DefaultCollection
	}
	return &Store{coll: db.Collection(collectionName)}
}

// Open connects a provider and returns a store that closes it on Close.
func Open(ctx context.Context, uri, dbName, collectionName string) (*Store, error) {
	p, err := NewProvider(ctx, uri, dbName)
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	s := NewStore(p.Database(), collectionName)
	s.provider = p
	if err := s.EnsureIndexes(ctx); err != nil {
		_ = p.Close(ctx)
		return nil, fmt.Errorf("ensure item indexes: %w", err)
	}
	return s, nil
}

// EnsureIndexes creates the ordering index and the per-node item id index.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "node", Value: 1}, {Key: "seq", Value: 1}},
		},
		{
			Keys:    bson.D{{Key: "node", Value: 1}, {Key: "item_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	})
	return err
}

func (s *Store) Append(ctx context.Context, item model.Item, maxItems int) error {
	if _, err := s.coll.DeleteOne(ctx, bson.M{"node": item.Node, "item_id": item.ID}); err != nil {
		return err
	}
	if _, err := s.coll.InsertOne(ctx, item); err != nil {
		return err
	}
	if maxItems <= 0 {
		return nil
	}
	return s.trim(ctx, item.Node, maxItems)
}

// trim deletes everything older than the maxItems-th newest document.
func (s *Store) trim(ctx context.Context, node string, maxItems int) error {
	opts := options.FindOne().
		SetSort(bson.D{{Key: "seq", Value: -1}}).
		SetSkip(int64(maxItems - 1)).
		SetProjection(bson.M{"seq": 1})

	var cutoff struct {
		Seq uint64 `bson:"seq"`
	}
	err := s.coll.FindOne(ctx, bson.M{"node": node}, opts).Decode(&cutoff)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil
		}
		return err
	}

	_, err = s.coll.DeleteMany(ctx, bson.M{"node": node, "seq": bson.M{"$lt": cutoff.Seq}})
	return err
}

func (s *Store) Recent(ctx context.Context, node string, limit int) ([]model.Item, error) {
	opts := options.Find().SetSort(bson.D{{Key: "seq", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := s.coll.Find(ctx, bson.M{"node": node}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	items := []model.Item{}
	if err := cursor.All(ctx, &items); err != nil {
		return nil, err
	}

	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
	return items, nil
}

func (s *Store) Drop(ctx context.Context, node string) error {
	_, err := s.coll.DeleteMany(ctx, bson.M{"node": node})
	return err
}

func (s *Store) Close(ctx context.Context) error {
	if s.provider != nil {
		return s.provider.Close(ctx)
	}
	return nil
}

// Package mongo stores item history in MongoDB, one document per retained item.
package mongo

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Provider owns the MongoDB connection shared by the stores of a process
type Provider struct {
	client *mongo.Client
	dbName string
}

// NewProvider connects to uri and verifies the connection
func NewProvider(ctx context.Context, uri string, dbName string) (*Provider, error) {
	clientOpts := options.Client().ApplyURI(uri)

	if clientOpts.ConnectTimeout == nil {
		clientOpts.SetConnectTimeout(10 * time.Second)
	}

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, err
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}

	return &Provider{
		client: client,
		dbName: dbName,
	}, nil
}

// Database returns the configured database handle
func (p *Provider) Database() *mongo.Database {
	return p.client.Database(p.dbName)
}

// Close disconnects the client
func (p *Provider) Close(ctx context.Context) error {
	return p.client.Disconnect(ctx)
}

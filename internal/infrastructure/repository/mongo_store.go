package repository

import (
	"context"
	"fmt"

	"shop-integrations-layer/internal/ports"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore bundles the MongoDB repositories into a ports.Store
type MongoStore struct {
	*MongoRepository
	*MongoIntegrationRepository
	client *mongo.Client
}

var _ ports.Store = (*MongoStore)(nil)

// NewMongoStore connects to MongoDB, verifies the connection and ensures indexes
func NewMongoStore(ctx context.Context, uri, database string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	db := client.Database(database)
	store := &MongoStore{
		MongoRepository:            NewMongoRepository(db),
		MongoIntegrationRepository: NewMongoIntegrationRepository(db),
		client:                     client,
	}
	if err := store.MongoRepository.EnsureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	if err := store.MongoIntegrationRepository.EnsureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return store, nil
}

// Close disconnects the MongoDB client
func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

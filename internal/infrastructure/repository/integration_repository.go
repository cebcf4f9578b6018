package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"shop-integrations-layer/internal/domain"
	"shop-integrations-layer/internal/infrastructure/repository/entity"
	"shop-integrations-layer/internal/ports"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoIntegrationRepository implements IntegrationRepository using MongoDB
type MongoIntegrationRepository struct {
	collection *mongo.Collection
}

var _ ports.IntegrationRepository = (*MongoIntegrationRepository)(nil)

// NewMongoIntegrationRepository creates a new MongoDB integration repository
func NewMongoIntegrationRepository(db *mongo.Database) *MongoIntegrationRepository {
	return &MongoIntegrationRepository{
		collection: db.Collection("integrations"),
	}
}

// EnsureIndexes creates the unique (shopId, provider) index that serializes upserts
func (r *MongoIntegrationRepository) EnsureIndexes(ctx context.Context) error {
	indexModel := mongo.IndexModel{
		Keys:    bson.D{{Key: "shopId", Value: 1}, {Key: "provider", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	if _, err := r.collection.Indexes().CreateOne(ctx, indexModel); err != nil {
		return fmt.Errorf("failed to create integration index: %w", err)
	}
	return nil
}

// UpsertIntegration replaces the (shopId, provider) row, creating it if absent
func (r *MongoIntegrationRepository) UpsertIntegration(ctx context.Context, integration *domain.Integration) (*domain.Integration, error) {
	now := time.Now().UTC()
	doc := entity.MongoIntegrationDocFromDomain(integration)
	if doc.ConnectedAt.IsZero() {
		doc.ConnectedAt = now
	}

	filter := bson.M{"shopId": doc.ShopID, "provider": doc.Provider}
	update := bson.M{
		"$set": bson.M{
			"accessToken":         doc.AccessToken,
			"refreshToken":        doc.RefreshToken,
			"tokenExpiresAt":      doc.TokenExpiresAt,
			"providerAccountId":   doc.ProviderAccountID,
			"providerAccountName": doc.ProviderAccountName,
			"metadata":            doc.Metadata,
			"isActive":            doc.IsActive,
			"connectedAt":         doc.ConnectedAt,
			"updatedAt":           now,
		},
		"$setOnInsert": bson.M{
			"_id":       domain.NewID(),
			"createdAt": now,
		},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var saved entity.MongoIntegrationDoc
	err := r.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&saved)
	if mongo.IsDuplicateKeyError(err) {
		// lost an insert race on the unique index; the row exists now, so update it
		err = r.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&saved)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to upsert integration: %w", err)
	}
	return saved.ToDomain(), nil
}

// GetIntegration retrieves the integration of a shop for one provider
func (r *MongoIntegrationRepository) GetIntegration(ctx context.Context, shopID string, provider domain.Provider) (*domain.Integration, error) {
	var doc entity.MongoIntegrationDoc
	filter := bson.M{"shopId": shopID, "provider": string(provider)}

	err := r.collection.FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get integration: %w", err)
	}

	return doc.ToDomain(), nil
}

// ListIntegrations retrieves all integrations of a shop
func (r *MongoIntegrationRepository) ListIntegrations(ctx context.Context, shopID string) ([]*domain.Integration, error) {
	cursor, err := r.collection.Find(ctx, bson.M{"shopId": shopID}, options.Find().SetSort(bson.D{{Key: "provider", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to list integrations: %w", err)
	}
	defer cursor.Close(ctx)

	var integrations []*domain.Integration
	for cursor.Next(ctx) {
		var doc entity.MongoIntegrationDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode integration: %w", err)
		}
		integrations = append(integrations, doc.ToDomain())
	}

	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("cursor error: %w", err)
	}

	return integrations, nil
}

func deactivateUpdate() bson.M {
	return bson.M{"$set": bson.M{
		"isActive":     false,
		"accessToken":  "",
		"refreshToken": "",
		"updatedAt":    time.Now().UTC(),
	}}
}

// DeactivateIntegration disconnects one provider of a shop
func (r *MongoIntegrationRepository) DeactivateIntegration(ctx context.Context, shopID string, provider domain.Provider) error {
	result, err := r.collection.UpdateOne(ctx, bson.M{"shopId": shopID, "provider": string(provider)}, deactivateUpdate())
	if err != nil {
		return fmt.Errorf("failed to deactivate integration: %w", err)
	}
	if result.MatchedCount == 0 {
		return domain.ErrIntegrationNotFound
	}
	return nil
}

// DeactivateIntegrations disconnects every provider of a shop
func (r *MongoIntegrationRepository) DeactivateIntegrations(ctx context.Context, shopID string) (int64, error) {
	result, err := r.collection.UpdateMany(ctx, bson.M{"shopId": shopID, "isActive": true}, deactivateUpdate())
	if err != nil {
		return 0, fmt.Errorf("failed to deactivate integrations: %w", err)
	}
	return result.ModifiedCount, nil
}

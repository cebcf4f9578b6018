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

// MongoRepository implements ShopRepository and AuditRepository using MongoDB
type MongoRepository struct {
	shopsCollection         *mongo.Collection
	webhookLogsCollection   *mongo.Collection
	billingEventsCollection *mongo.Collection
}

var (
	_ ports.ShopRepository  = (*MongoRepository)(nil)
	_ ports.AuditRepository = (*MongoRepository)(nil)
)

// NewMongoRepository creates a new MongoDB repository
func NewMongoRepository(db *mongo.Database) *MongoRepository {
	return &MongoRepository{
		shopsCollection:         db.Collection("shops"),
		webhookLogsCollection:   db.Collection("webhook_logs"),
		billingEventsCollection: db.Collection("billing_events"),
	}
}

// EnsureIndexes creates the indexes the lookups rely on
func (r *MongoRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.shopsCollection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "domain", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "linkedDomain", Value: 1}, {Key: "accountType", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to create shop indexes: %w", err)
	}
	_, err = r.webhookLogsCollection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "shopDomain", Value: 1}, {Key: "receivedAt", Value: -1}},
	})
	if err != nil {
		return fmt.Errorf("failed to create webhook log indexes: %w", err)
	}
	_, err = r.billingEventsCollection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "shopId", Value: 1}, {Key: "occurredAt", Value: -1}},
	})
	if err != nil {
		return fmt.Errorf("failed to create billing event indexes: %w", err)
	}
	return nil
}

func (r *MongoRepository) findShop(ctx context.Context, filter bson.M) (*domain.Shop, error) {
	var doc entity.MongoShopDoc
	err := r.shopsCollection.FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get shop: %w", err)
	}
	return doc.ToDomain(), nil
}

// GetShopByID retrieves a shop by id
func (r *MongoRepository) GetShopByID(ctx context.Context, id string) (*domain.Shop, error) {
	return r.findShop(ctx, bson.M{"_id": id})
}

// GetShopByDomain retrieves a shop by its primary domain
func (r *MongoRepository) GetShopByDomain(ctx context.Context, shopDomain string) (*domain.Shop, error) {
	return r.findShop(ctx, bson.M{"domain": shopDomain})
}

// GetShopByLinkedDomain retrieves a shop by its secondary domain and account type
func (r *MongoRepository) GetShopByLinkedDomain(ctx context.Context, linkedDomain string, accountType domain.AccountType) (*domain.Shop, error) {
	if linkedDomain == "" {
		return nil, nil
	}
	return r.findShop(ctx, bson.M{"linkedDomain": linkedDomain, "accountType": string(accountType)})
}

// SaveShop upserts a shop by domain. Install fields are overwritten; id, plan,
// subscription and createdAt are only set when the shop is new.
func (r *MongoRepository) SaveShop(ctx context.Context, shop *domain.Shop) (*domain.Shop, error) {
	now := time.Now().UTC()
	doc := entity.MongoShopDocFromDomain(shop)
	if doc.ID == "" {
		doc.ID = domain.NewID()
	}
	if doc.Plan == "" {
		doc.Plan = string(domain.PlanFree)
	}

	filter := bson.M{"domain": shop.Domain}
	update := bson.M{
		"$set": bson.M{
			"accountType":   doc.AccountType,
			"name":          doc.Name,
			"email":         doc.Email,
			"isActive":      doc.IsActive,
			"accessToken":   doc.AccessToken,
			"scopes":        doc.Scopes,
			"installedAt":   doc.InstalledAt,
			"uninstalledAt": doc.UninstalledAt,
			"updatedAt":     now,
		},
		"$setOnInsert": bson.M{
			"_id":          doc.ID,
			"linkedDomain": doc.LinkedDomain,
			"plan":         doc.Plan,
			"subscription": doc.Subscription,
			"createdAt":    now,
		},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var saved entity.MongoShopDoc
	if err := r.shopsCollection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&saved); err != nil {
		return nil, fmt.Errorf("failed to save shop: %w", err)
	}
	return saved.ToDomain(), nil
}

// MarkUninstalled deactivates a shop and clears its access token
func (r *MongoRepository) MarkUninstalled(ctx context.Context, shopID string, at time.Time) error {
	update := bson.M{"$set": bson.M{
		"isActive":      false,
		"accessToken":   "",
		"uninstalledAt": at,
		"updatedAt":     time.Now().UTC(),
	}}
	result, err := r.shopsCollection.UpdateOne(ctx, bson.M{"_id": shopID}, update)
	if err != nil {
		return fmt.Errorf("failed to mark shop uninstalled: %w", err)
	}
	if result.MatchedCount == 0 {
		return domain.ErrShopNotFound
	}
	return nil
}

// ApplySubscription writes plan and subscription only when sub is newer than the stored one
func (r *MongoRepository) ApplySubscription(ctx context.Context, shopID string, plan domain.Plan, sub domain.Subscription) (bool, error) {
	filter := bson.M{
		"_id": shopID,
		"$or": bson.A{
			bson.M{"subscription.updatedAt": bson.M{"$lt": sub.UpdatedAt}},
			bson.M{"subscription.updatedAt": bson.M{"$exists": false}},
			bson.M{"subscription.updatedAt": nil},
		},
	}
	update := bson.M{"$set": bson.M{
		"plan":         string(plan),
		"subscription": entity.MongoSubscriptionDocFromDomain(sub),
		"updatedAt":    time.Now().UTC(),
	}}
	result, err := r.shopsCollection.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, fmt.Errorf("failed to apply subscription: %w", err)
	}
	return result.MatchedCount == 1, nil
}

// InsertWebhookLog appends a webhook log entry
func (r *MongoRepository) InsertWebhookLog(ctx context.Context, entry *domain.WebhookLog) error {
	doc := entity.MongoWebhookLogDocFromDomain(entry)
	if doc.ID == "" {
		doc.ID = domain.NewID()
	}
	if doc.ReceivedAt.IsZero() {
		doc.ReceivedAt = time.Now().UTC()
	}

	if _, err := r.webhookLogsCollection.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("failed to log webhook: %w", err)
	}
	return nil
}

// InsertBillingEvent appends a billing audit row
func (r *MongoRepository) InsertBillingEvent(ctx context.Context, event *domain.BillingEvent) error {
	doc := entity.MongoBillingEventDocFromDomain(event)
	if doc.ID == "" {
		doc.ID = domain.NewID()
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}

	if _, err := r.billingEventsCollection.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("failed to insert billing event: %w", err)
	}
	return nil
}

package ports

import (
	"context"
	"time"

	"shop-integrations-layer/internal/domain"
)

// ShopRepository defines the interface for shop persistence.
// Lookups return (nil, nil) when no row exists.
type ShopRepository interface {
	GetShopByID(ctx context.Context, id string) (*domain.Shop, error)
	GetShopByDomain(ctx context.Context, shopDomain string) (*domain.Shop, error)
	// GetShopByLinkedDomain matches the secondary domain of shops with the given account type.
	GetShopByLinkedDomain(ctx context.Context, linkedDomain string, accountType domain.AccountType) (*domain.Shop, error)

	// SaveShop upserts a shop keyed by domain and returns the stored row.
	SaveShop(ctx context.Context, shop *domain.Shop) (*domain.Shop, error)

	// MarkUninstalled sets is_active=false, clears the access token and stamps uninstalled_at.
	MarkUninstalled(ctx context.Context, shopID string, at time.Time) error

	// ApplySubscription stores plan and subscription only if sub.UpdatedAt is strictly newer
	// than the stored subscription. It reports whether the write was applied.
	ApplySubscription(ctx context.Context, shopID string, plan domain.Plan, sub domain.Subscription) (bool, error)
}

// AuditRepository stores append-only audit rows.
type AuditRepository interface {
	InsertWebhookLog(ctx context.Context, entry *domain.WebhookLog) error
	InsertBillingEvent(ctx context.Context, event *domain.BillingEvent) error
}

// Store is the full persistence surface the service needs.
type Store interface {
	ShopRepository
	IntegrationRepository
	AuditRepository
	Close(ctx context.Context) error
}

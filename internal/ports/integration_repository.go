package ports

import (
	"context"

	"shop-integrations-layer/internal/domain"
)

// IntegrationRepository defines the interface for integration persistence.
// Lookups return (nil, nil) when no row exists.
type IntegrationRepository interface {
	// UpsertIntegration replaces the row keyed by (ShopID, Provider), creating it if absent.
	// CreatedAt and ID of an existing row are preserved.
	UpsertIntegration(ctx context.Context, integration *domain.Integration) (*domain.Integration, error)

	// GetIntegration retrieves the integration for a shop and provider
	GetIntegration(ctx context.Context, shopID string, provider domain.Provider) (*domain.Integration, error)

	// ListIntegrations returns every integration row of a shop
	ListIntegrations(ctx context.Context, shopID string) ([]*domain.Integration, error)

	// DeactivateIntegration clears tokens and marks one integration inactive
	DeactivateIntegration(ctx context.Context, shopID string, provider domain.Provider) error

	// DeactivateIntegrations clears tokens and marks all integrations of a shop inactive
	DeactivateIntegrations(ctx context.Context, shopID string) (int64, error)
}

package ports

import (
	"context"
	"net/url"

	"shop-integrations-layer/internal/domain"
)

// ShopifyClient defines the Shopify operations used by the install flow
type ShopifyClient interface {
	// Authentication
	Configured() bool
	AuthorizeURL(shop string, state string) (string, error)
	VerifyCallback(u *url.URL) (bool, error)
	ExchangeToken(ctx context.Context, shop string, code string) (*domain.ProviderToken, error)

	// Shop API
	GetShop(ctx context.Context, shop string, accessToken string) (*domain.ShopInfo, error)

	// Webhook API
	CreateWebhook(ctx context.Context, shop string, accessToken string, topic string, address string) error
}

package ports

import (
	"context"

	"shop-integrations-layer/internal/domain"
)

// ProviderClient is the per-platform adapter for connecting an ad account.
type ProviderClient interface {
	Name() domain.Provider

	// Configured reports whether app credentials are present.
	Configured() bool

	// AuthCodeURL builds the consent screen URL carrying the state token.
	AuthCodeURL(state string) string

	// ExchangeCode trades an authorization code for tokens. Failures wrap domain.ErrTokenExchange.
	ExchangeCode(ctx context.Context, code string) (*domain.ProviderToken, error)

	// Enrich resolves the identity behind a token plus best-effort linked resources.
	// Only an identity failure is returned as an error.
	Enrich(ctx context.Context, accessToken string) (*domain.Enrichment, error)
}

package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"shop-integrations-layer/internal/domain"

	"github.com/rs/zerolog"
)

// IntegrationStatus is the connection state of one provider as shown in the app. It carries no tokens.
type IntegrationStatus struct {
	Provider       domain.Provider `json:"provider"`
	Connected      bool            `json:"connected"`
	AccountID      string          `json:"account_id,omitempty"`
	AccountName    string          `json:"account_name,omitempty"`
	AdAccounts     int             `json:"ad_accounts"`
	Pages          int             `json:"pages"`
	LinkedAccounts int             `json:"linked_accounts"`
	Degraded       []string        `json:"degraded,omitempty"`
	ConnectedAt    *time.Time      `json:"connected_at,omitempty"`
}

// IntegrationService handles integration listing and disconnects
type IntegrationService struct {
	store       OAuthStore
	credentials *CredentialsService
	providers   []domain.Provider
	logger      zerolog.Logger
}

// NewIntegrationService creates a new integration service
func NewIntegrationService(
	store OAuthStore,
	credentials *CredentialsService,
	logger zerolog.Logger,
) *IntegrationService {
	return &IntegrationService{
		store:       store,
		credentials: credentials,
		providers:   []domain.Provider{domain.ProviderMeta, domain.ProviderGoogle},
		logger:      logger.With().Str("component", "integrations").Logger(),
	}
}

func (s *IntegrationService) installedShop(ctx context.Context, shopDomain string) (*domain.Shop, error) {
	shop, err := s.store.GetShopByDomain(ctx, NormalizeShopDomain(shopDomain))
	if err != nil {
		return nil, fmt.Errorf("failed to get shop: %w", err)
	}
	if !shop.IsInstalled() {
		return nil, domain.E(domain.KindNotFound, "integrations", domain.ErrShopNotFound)
	}
	return shop, nil
}

// ListIntegrations returns one status per supported provider for the shop
func (s *IntegrationService) ListIntegrations(ctx context.Context, shopDomain string) ([]IntegrationStatus, error) {
	shop, err := s.installedShop(ctx, shopDomain)
	if err != nil {
		return nil, err
	}

	rows, err := s.store.ListIntegrations(ctx, shop.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list integrations: %w", err)
	}
	byProvider := make(map[domain.Provider]*domain.Integration, len(rows))
	for _, row := range rows {
		byProvider[row.Provider] = row
	}

	out := make([]IntegrationStatus, 0, len(s.providers))
	for _, p := range s.providers {
		status := IntegrationStatus{Provider: p}
		if row, ok := byProvider[p]; ok && row.IsActive {
			connectedAt := row.ConnectedAt
			status.Connected = true
			status.AccountID = row.ProviderAccountID
			status.AccountName = row.ProviderAccountName
			status.AdAccounts = len(row.Metadata.AdAccounts)
			status.Pages = len(row.Metadata.Pages)
			status.LinkedAccounts = len(row.Metadata.LinkedAccounts)
			status.Degraded = row.Metadata.Degraded
			status.ConnectedAt = &connectedAt
		}
		out = append(out, status)
	}
	return out, nil
}

// Disconnect drops cached tokens, then deactivates the integration and clears its tokens
func (s *IntegrationService) Disconnect(ctx context.Context, shopDomain string, providerName string) error {
	provider, ok := domain.ParseProvider(providerName)
	if !ok {
		return domain.E(domain.KindNotFound, "disconnect", fmt.Errorf("%w: %q", domain.ErrUnknownProvider, providerName))
	}
	shop, err := s.installedShop(ctx, shopDomain)
	if err != nil {
		return err
	}

	if err := s.credentials.Invalidate(ctx, shop.ID); err != nil {
		return fmt.Errorf("failed to invalidate cached tokens: %w", err)
	}

	if err := s.store.DeactivateIntegration(ctx, shop.ID, provider); err != nil {
		if errors.Is(err, domain.ErrIntegrationNotFound) {
			return domain.E(domain.KindNotFound, "disconnect", err)
		}
		s.logger.Error().Err(err).Str("shopId", shop.ID).Str("provider", string(provider)).Msg("Failed to deactivate integration")
		return domain.E(domain.KindPersistence, "disconnect", fmt.Errorf("failed to deactivate integration: %w", err))
	}

	s.logger.Info().Str("shopId", shop.ID).Str("provider", string(provider)).Msg("Integration disconnected")
	return nil
}

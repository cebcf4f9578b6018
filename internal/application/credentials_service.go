package application

import (
	"context"
	"fmt"
	"sync"
	"time"

	"shop-integrations-layer/internal/domain"
	"shop-integrations-layer/internal/ports"

	"github.com/rs/zerolog"
)

// CredentialsStore is the slice of the store the credentials service reads.
type CredentialsStore interface {
	GetShopByID(ctx context.Context, id string) (*domain.Shop, error)
	GetIntegration(ctx context.Context, shopID string, provider domain.Provider) (*domain.Integration, error)
}

// CredentialsService hands out decrypted tokens, cache first.
// Cache keys are "shop:<shopID>:<provider>".
type CredentialsService struct {
	store         CredentialsStore
	encryptionSvc ports.EncryptionService
	cache         ports.TokenCache
	ttl           time.Duration
	logger        zerolog.Logger

	// A gate exists only while reads for the shop are in flight. Invalidate bumps its
	// generation so those reads are not cached.
	mu    sync.Mutex
	gates map[string]*readGate
}

type readGate struct {
	generation uint64
	readers    int
}

// NewCredentialsService creates a new credentials service
func NewCredentialsService(
	store CredentialsStore,
	encryptionService ports.EncryptionService,
	cache ports.TokenCache,
	ttl time.Duration,
	logger zerolog.Logger,
) *CredentialsService {
	return &CredentialsService{
		store:         store,
		encryptionSvc: encryptionService,
		cache:         cache,
		ttl:           ttl,
		logger:        logger.With().Str("component", "credentials").Logger(),
		gates:         make(map[string]*readGate),
	}
}

func shopPrefix(shopID string) string {
	return "shop:" + shopID + ":"
}

func cacheKey(shopID string, provider domain.Provider) string {
	return shopPrefix(shopID) + string(provider)
}

func (s *CredentialsService) beginRead(shopID string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.gates[shopID]
	if !ok {
		g = &readGate{}
		s.gates[shopID] = g
	}
	g.readers++
	return g.generation
}

// endRead reports whether no invalidation happened since beginRead returned gen.
func (s *CredentialsService) endRead(shopID string, gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	g := s.gates[shopID]
	unchanged := g.generation == gen
	g.readers--
	if g.readers == 0 {
		delete(s.gates, shopID)
	}
	return unchanged
}

func (s *CredentialsService) bump(shopID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if g, ok := s.gates[shopID]; ok {
		g.generation++
	}
}

func (s *CredentialsService) inFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.gates)
}

// ShopToken returns the decrypted Shopify access token of an installed shop
func (s *CredentialsService) ShopToken(ctx context.Context, shopID string) (string, error) {
	return s.cached(ctx, shopID, domain.ProviderShopify, func() (string, error) {
		shop, err := s.store.GetShopByID(ctx, shopID)
		if err != nil {
			return "", fmt.Errorf("failed to get shop: %w", err)
		}
		if !shop.IsInstalled() || shop.EncryptedAccessToken == "" {
			return "", domain.E(domain.KindNotFound, "shop_token", domain.ErrShopNotFound)
		}
		return shop.EncryptedAccessToken, nil
	})
}

// IntegrationToken returns the decrypted access token of an active integration
func (s *CredentialsService) IntegrationToken(ctx context.Context, shopID string, provider domain.Provider) (string, error) {
	return s.cached(ctx, shopID, provider, func() (string, error) {
		integration, err := s.store.GetIntegration(ctx, shopID, provider)
		if err != nil {
			return "", fmt.Errorf("failed to get integration: %w", err)
		}
		if integration == nil || !integration.IsActive || integration.EncryptedAccessToken == "" {
			return "", domain.E(domain.KindNotFound, "integration_token", domain.ErrIntegrationNotFound)
		}
		return integration.EncryptedAccessToken, nil
	})
}

func (s *CredentialsService) cached(ctx context.Context, shopID string, provider domain.Provider, load func() (string, error)) (string, error) {
	key := cacheKey(shopID, provider)
	if token, ok, err := s.cache.Get(ctx, key); err != nil {
		s.logger.Warn().Err(err).Str("shopId", shopID).Str("provider", string(provider)).Msg("Token cache read failed, falling back to store")
	} else if ok {
		return token, nil
	}

	gen := s.beginRead(shopID)
	encrypted, err := load()
	if err != nil {
		s.endRead(shopID, gen)
		return "", err
	}
	token, err := s.encryptionSvc.Decrypt(encrypted)
	if err != nil {
		s.endRead(shopID, gen)
		s.logger.Error().Err(err).Str("shopId", shopID).Str("provider", string(provider)).Msg("Failed to decrypt access token")
		return "", fmt.Errorf("failed to decrypt access token: %w", err)
	}

	if s.endRead(shopID, gen) {
		if err := s.cache.Set(ctx, key, token, s.ttl); err != nil {
			s.logger.Warn().Err(err).Str("shopId", shopID).Msg("Failed to cache access token")
		}
	}
	return token, nil
}

// Invalidate synchronously drops every cached token of a shop
func (s *CredentialsService) Invalidate(ctx context.Context, shopID string) error {
	s.bump(shopID)
	if err := s.cache.InvalidatePrefix(ctx, shopPrefix(shopID)); err != nil {
		return fmt.Errorf("failed to invalidate cached tokens: %w", err)
	}
	s.logger.Debug().Str("shopId", shopID).Msg("Invalidated cached tokens")
	return nil
}

// Package memory provides an in-process ports.Store for development and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"shop-integrations-layer/internal/domain"
	"shop-integrations-layer/internal/ports"
)

type integrationKey struct {
	shopID   string
	provider domain.Provider
}

// Store keeps shops, integrations and audit rows in maps guarded by one mutex.
// Values are copied on the way in and out.
type Store struct {
	mu            sync.RWMutex
	shops         map[string]*domain.Shop
	shopsByDomain map[string]string
	integrations  map[integrationKey]*domain.Integration
	webhookLogs   []domain.WebhookLog
	billingEvents []domain.BillingEvent
	now           func() time.Time
}

var _ ports.Store = (*Store)(nil)

// New creates an empty store
func New() *Store {
	return &Store{
		shops:         make(map[string]*domain.Shop),
		shopsByDomain: make(map[string]string),
		integrations:  make(map[integrationKey]*domain.Integration),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

func copyShop(s *domain.Shop) *domain.Shop {
	c := *s
	c.Scopes = append([]string(nil), s.Scopes...)
	return &c
}

func copyIntegration(i *domain.Integration) *domain.Integration {
	c := *i
	c.Metadata = domain.IntegrationMetadata{
		AdAccounts:     append([]domain.LinkedResource(nil), i.Metadata.AdAccounts...),
		Pages:          append([]domain.LinkedResource(nil), i.Metadata.Pages...),
		LinkedAccounts: append([]domain.LinkedResource(nil), i.Metadata.LinkedAccounts...),
		Scopes:         append([]string(nil), i.Metadata.Scopes...),
		Degraded:       append([]string(nil), i.Metadata.Degraded...),
	}
	return &c
}

func (s *Store) GetShopByID(_ context.Context, id string) (*domain.Shop, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	shop, ok := s.shops[id]
	if !ok {
		return nil, nil
	}
	return copyShop(shop), nil
}

func (s *Store) GetShopByDomain(_ context.Context, shopDomain string) (*domain.Shop, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.shopsByDomain[shopDomain]
	if !ok {
		return nil, nil
	}
	return copyShop(s.shops[id]), nil
}

func (s *Store) GetShopByLinkedDomain(_ context.Context, linkedDomain string, accountType domain.AccountType) (*domain.Shop, error) {
	if linkedDomain == "" {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, shop := range s.shops {
		if shop.LinkedDomain == linkedDomain && shop.AccountType == accountType {
			return copyShop(shop), nil
		}
	}
	return nil, nil
}

func (s *Store) SaveShop(_ context.Context, shop *domain.Shop) (*domain.Shop, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if id, ok := s.shopsByDomain[shop.Domain]; ok {
		existing := s.shops[id]
		existing.AccountType = shop.AccountType
		existing.Name = shop.Name
		existing.Email = shop.Email
		existing.IsActive = shop.IsActive
		existing.EncryptedAccessToken = shop.EncryptedAccessToken
		existing.Scopes = append([]string(nil), shop.Scopes...)
		existing.InstalledAt = shop.InstalledAt
		existing.UninstalledAt = shop.UninstalledAt
		existing.UpdatedAt = now
		return copyShop(existing), nil
	}

	created := copyShop(shop)
	if created.ID == "" {
		created.ID = domain.NewID()
	}
	if created.Plan == "" {
		created.Plan = domain.PlanFree
	}
	created.CreatedAt = now
	created.UpdatedAt = now
	s.shops[created.ID] = created
	s.shopsByDomain[created.Domain] = created.ID
	return copyShop(created), nil
}

func (s *Store) MarkUninstalled(_ context.Context, shopID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	shop, ok := s.shops[shopID]
	if !ok {
		return domain.ErrShopNotFound
	}
	shop.IsActive = false
	shop.EncryptedAccessToken = ""
	shop.UninstalledAt = &at
	shop.UpdatedAt = s.now()
	return nil
}

func (s *Store) ApplySubscription(_ context.Context, shopID string, plan domain.Plan, sub domain.Subscription) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	shop, ok := s.shops[shopID]
	if !ok {
		return false, nil
	}
	if !sub.UpdatedAt.After(shop.Subscription.UpdatedAt) {
		return false, nil
	}
	shop.Plan = plan
	shop.Subscription = sub
	shop.UpdatedAt = s.now()
	return true, nil
}

func (s *Store) UpsertIntegration(_ context.Context, integration *domain.Integration) (*domain.Integration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	key := integrationKey{shopID: integration.ShopID, provider: integration.Provider}
	row := copyIntegration(integration)
	if row.ConnectedAt.IsZero() {
		row.ConnectedAt = now
	}
	if existing, ok := s.integrations[key]; ok {
		row.ID = existing.ID
		row.CreatedAt = existing.CreatedAt
	} else {
		row.ID = domain.NewID()
		row.CreatedAt = now
	}
	row.UpdatedAt = now
	s.integrations[key] = row
	return copyIntegration(row), nil
}

func (s *Store) GetIntegration(_ context.Context, shopID string, provider domain.Provider) (*domain.Integration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.integrations[integrationKey{shopID: shopID, provider: provider}]
	if !ok {
		return nil, nil
	}
	return copyIntegration(row), nil
}

func (s *Store) ListIntegrations(_ context.Context, shopID string) ([]*domain.Integration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.Integration
	for key, row := range s.integrations {
		if key.shopID == shopID {
			out = append(out, copyIntegration(row))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out, nil
}

func (s *Store) deactivate(row *domain.Integration) {
	row.IsActive = false
	row.EncryptedAccessToken = ""
	row.EncryptedRefreshToken = ""
	row.UpdatedAt = s.now()
}

func (s *Store) DeactivateIntegration(_ context.Context, shopID string, provider domain.Provider) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.integrations[integrationKey{shopID: shopID, provider: provider}]
	if !ok {
		return domain.ErrIntegrationNotFound
	}
	s.deactivate(row)
	return nil
}

func (s *Store) DeactivateIntegrations(_ context.Context, shopID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for key, row := range s.integrations {
		if key.shopID == shopID && row.IsActive {
			s.deactivate(row)
			n++
		}
	}
	return n, nil
}

func (s *Store) InsertWebhookLog(_ context.Context, entry *domain.WebhookLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row := *entry
	if row.ID == "" {
		row.ID = domain.NewID()
	}
	if row.ReceivedAt.IsZero() {
		row.ReceivedAt = s.now()
	}
	s.webhookLogs = append(s.webhookLogs, row)
	return nil
}

func (s *Store) InsertBillingEvent(_ context.Context, event *domain.BillingEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row := *event
	if row.ID == "" {
		row.ID = domain.NewID()
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = s.now()
	}
	s.billingEvents = append(s.billingEvents, row)
	return nil
}

// WebhookLogs returns a snapshot of the webhook log
func (s *Store) WebhookLogs() []domain.WebhookLog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.WebhookLog(nil), s.webhookLogs...)
}

// BillingEvents returns a snapshot of the billing audit trail
func (s *Store) BillingEvents() []domain.BillingEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.BillingEvent(nil), s.billingEvents...)
}

// IntegrationCount returns the number of integration rows
func (s *Store) IntegrationCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.integrations)
}

func (s *Store) Close(context.Context) error { return nil }

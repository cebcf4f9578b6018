// Package storetest is a behavioural suite every ports.Store implementation must pass.
package storetest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"shop-integrations-layer/internal/domain"
	"shop-integrations-layer/internal/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns an empty store. Cleanup is the factory's responsibility.
type Factory func(t *testing.T) ports.Store

// Run executes the suite against stores created by newStore
func Run(t *testing.T, newStore Factory) {
	t.Run("SaveShopInsertAndReinstall", func(t *testing.T) { testSaveShop(t, newStore(t)) })
	t.Run("LinkedDomainLookup", func(t *testing.T) { testLinkedDomain(t, newStore(t)) })
	t.Run("MarkUninstalled", func(t *testing.T) { testMarkUninstalled(t, newStore(t)) })
	t.Run("ApplySubscriptionOrdering", func(t *testing.T) { testApplySubscription(t, newStore(t)) })
	t.Run("UpsertIntegrationIdempotent", func(t *testing.T) { testUpsertIntegration(t, newStore(t)) })
	t.Run("DeactivateIntegrations", func(t *testing.T) { testDeactivate(t, newStore(t)) })
	t.Run("AuditRows", func(t *testing.T) { testAudit(t, newStore(t)) })
}

func ts(sec int64) time.Time {
	return time.Unix(1_760_000_000+sec, 0).UTC()
}

func uniqueDomain(prefix string) string {
	return fmt.Sprintf("%s-%s.myshopify.com", prefix, domain.NewID())
}

func installShop(t *testing.T, s ports.Store, shopDomain string) *domain.Shop {
	t.Helper()
	installed := ts(0)
	shop, err := s.SaveShop(context.Background(), &domain.Shop{
		Domain:               shopDomain,
		AccountType:          domain.AccountTypeShopify,
		Name:                 "Acme",
		IsActive:             true,
		EncryptedAccessToken: "k1:cipher",
		Scopes:               []string{"read_products"},
		InstalledAt:          &installed,
	})
	require.NoError(t, err)
	require.NotNil(t, shop)
	return shop
}

func testSaveShop(t *testing.T, s ports.Store) {
	ctx := context.Background()
	shopDomain := uniqueDomain("acme")

	missing, err := s.GetShopByDomain(ctx, shopDomain)
	require.NoError(t, err)
	assert.Nil(t, missing)

	shop := installShop(t, s, shopDomain)
	assert.NotEmpty(t, shop.ID)
	assert.Equal(t, domain.PlanFree, shop.Plan)
	assert.True(t, shop.IsActive)

	byID, err := s.GetShopByID(ctx, shop.ID)
	require.NoError(t, err)
	require.NotNil(t, byID)
	assert.Equal(t, shopDomain, byID.Domain)
	assert.Equal(t, "k1:cipher", byID.EncryptedAccessToken)

	applied, err := s.ApplySubscription(ctx, shop.ID, domain.PlanPro, domain.Subscription{Status: domain.StatusActive, UpdatedAt: ts(10)})
	require.NoError(t, err)
	require.True(t, applied)
	require.NoError(t, s.MarkUninstalled(ctx, shop.ID, ts(20)))

	reinstalled, err := s.SaveShop(ctx, &domain.Shop{
		Domain:               shopDomain,
		AccountType:          domain.AccountTypeShopify,
		IsActive:             true,
		EncryptedAccessToken: "k1:new",
	})
	require.NoError(t, err)
	assert.Equal(t, shop.ID, reinstalled.ID)
	assert.Equal(t, domain.PlanPro, reinstalled.Plan, "plan survives reinstall")
	assert.True(t, reinstalled.IsActive)
	assert.Nil(t, reinstalled.UninstalledAt)
	assert.Equal(t, "k1:new", reinstalled.EncryptedAccessToken)
}

func testLinkedDomain(t *testing.T, s ports.Store) {
	ctx := context.Background()
	linked := fmt.Sprintf("store-%s.example", domain.NewID())

	saved, err := s.SaveShop(ctx, &domain.Shop{
		Domain:       uniqueDomain("standalone"),
		LinkedDomain: linked,
		AccountType:  domain.AccountTypeStandalone,
		IsActive:     true,
	})
	require.NoError(t, err)

	got, err := s.GetShopByLinkedDomain(ctx, linked, domain.AccountTypeStandalone)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, saved.ID, got.ID)

	wrongType, err := s.GetShopByLinkedDomain(ctx, linked, domain.AccountTypeShopify)
	require.NoError(t, err)
	assert.Nil(t, wrongType)

	empty, err := s.GetShopByLinkedDomain(ctx, "", domain.AccountTypeStandalone)
	require.NoError(t, err)
	assert.Nil(t, empty)
}

func testMarkUninstalled(t *testing.T, s ports.Store) {
	ctx := context.Background()
	shop := installShop(t, s, uniqueDomain("gone"))

	require.NoError(t, s.MarkUninstalled(ctx, shop.ID, ts(30)))

	got, err := s.GetShopByID(ctx, shop.ID)
	require.NoError(t, err)
	assert.False(t, got.IsActive)
	assert.Empty(t, got.EncryptedAccessToken)
	require.NotNil(t, got.UninstalledAt)
	assert.True(t, got.UninstalledAt.Equal(ts(30)))

	err = s.MarkUninstalled(ctx, domain.NewID(), ts(30))
	assert.ErrorIs(t, err, domain.ErrShopNotFound)
}

func testApplySubscription(t *testing.T, s ports.Store) {
	ctx := context.Background()
	shop := installShop(t, s, uniqueDomain("billing"))

	apply := func(plan domain.Plan, status domain.SubscriptionStatus, at time.Time) bool {
		applied, err := s.ApplySubscription(ctx, shop.ID, plan, domain.Subscription{
			ChargeID:       "gid://shopify/AppSubscription/1",
			ProviderStatus: "X",
			Status:         status,
			UpdatedAt:      at,
		})
		require.NoError(t, err)
		return applied
	}

	assert.True(t, apply(domain.PlanGrowth, domain.StatusActive, ts(100)))
	assert.False(t, apply(domain.PlanFree, domain.StatusCanceled, ts(50)), "older event")
	assert.False(t, apply(domain.PlanFree, domain.StatusCanceled, ts(100)), "duplicate event")

	got, err := s.GetShopByID(ctx, shop.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PlanGrowth, got.Plan)
	assert.Equal(t, domain.StatusActive, got.Subscription.Status)
	assert.True(t, got.Subscription.UpdatedAt.Equal(ts(100)))

	assert.True(t, apply(domain.PlanFree, domain.StatusCanceled, ts(101)))
	got, err = s.GetShopByID(ctx, shop.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PlanFree, got.Plan)
	assert.Equal(t, domain.StatusCanceled, got.Subscription.Status)
}

func testUpsertIntegration(t *testing.T, s ports.Store) {
	ctx := context.Background()
	shop := installShop(t, s, uniqueDomain("ads"))

	first, err := s.UpsertIntegration(ctx, &domain.Integration{
		ShopID:               shop.ID,
		Provider:             domain.ProviderMeta,
		EncryptedAccessToken: "k1:first",
		ProviderAccountID:    "1001",
		Metadata: domain.IntegrationMetadata{
			Pages: []domain.LinkedResource{{ID: "p1", Name: "Acme"}},
		},
		IsActive:    true,
		ConnectedAt: ts(0),
	})
	require.NoError(t, err)
	require.NotEmpty(t, first.ID)

	second, err := s.UpsertIntegration(ctx, &domain.Integration{
		ShopID:               shop.ID,
		Provider:             domain.ProviderMeta,
		EncryptedAccessToken: "k1:second",
		ProviderAccountID:    "1001",
		Metadata: domain.IntegrationMetadata{
			AdAccounts: []domain.LinkedResource{{ID: "act_1"}},
		},
		IsActive:    true,
		ConnectedAt: ts(60),
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.True(t, first.CreatedAt.Equal(second.CreatedAt))

	_, err = s.UpsertIntegration(ctx, &domain.Integration{ShopID: shop.ID, Provider: domain.ProviderGoogle, EncryptedAccessToken: "k1:g", IsActive: true})
	require.NoError(t, err)

	all, err := s.ListIntegrations(ctx, shop.ID)
	require.NoError(t, err)
	require.Len(t, all, 2)

	got, err := s.GetIntegration(ctx, shop.ID, domain.ProviderMeta)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "k1:second", got.EncryptedAccessToken)
	assert.Len(t, got.Metadata.AdAccounts, 1)
	assert.Empty(t, got.Metadata.Pages, "whole-row replace")
	assert.True(t, got.ConnectedAt.Equal(ts(60)))

	none, err := s.GetIntegration(ctx, domain.NewID(), domain.ProviderMeta)
	require.NoError(t, err)
	assert.Nil(t, none)
}

func testDeactivate(t *testing.T, s ports.Store) {
	ctx := context.Background()
	shop := installShop(t, s, uniqueDomain("off"))

	for _, p := range []domain.Provider{domain.ProviderMeta, domain.ProviderGoogle} {
		_, err := s.UpsertIntegration(ctx, &domain.Integration{
			ShopID: shop.ID, Provider: p, EncryptedAccessToken: "k1:x", EncryptedRefreshToken: "k1:r", IsActive: true,
		})
		require.NoError(t, err)
	}

	require.NoError(t, s.DeactivateIntegration(ctx, shop.ID, domain.ProviderGoogle))
	g, err := s.GetIntegration(ctx, shop.ID, domain.ProviderGoogle)
	require.NoError(t, err)
	assert.False(t, g.IsActive)
	assert.Empty(t, g.EncryptedAccessToken)
	assert.Empty(t, g.EncryptedRefreshToken)

	n, err := s.DeactivateIntegrations(ctx, shop.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	m, err := s.GetIntegration(ctx, shop.ID, domain.ProviderMeta)
	require.NoError(t, err)
	assert.False(t, m.IsActive)
	assert.Empty(t, m.EncryptedAccessToken)

	assert.ErrorIs(t, s.DeactivateIntegration(ctx, domain.NewID(), domain.ProviderMeta), domain.ErrIntegrationNotFound)
}

func testAudit(t *testing.T, s ports.Store) {
	ctx := context.Background()

	require.NoError(t, s.InsertWebhookLog(ctx, &domain.WebhookLog{
		Topic:      domain.TopicAppUninstalled,
		ShopDomain: "acme.myshopify.com",
		WebhookID:  "w1",
		Outcome:    domain.WebhookProcessed,
	}))
	require.NoError(t, s.InsertBillingEvent(ctx, &domain.BillingEvent{
		ShopID:         domain.NewID(),
		ShopDomain:     "acme.myshopify.com",
		ProviderStatus: "ACTIVE",
		FromStatus:     domain.StatusTrialing,
		ToStatus:       domain.StatusActive,
		FromPlan:       domain.PlanFree,
		ToPlan:         domain.PlanPro,
		OccurredAt:     ts(0),
	}))
}

package application

import (
	"context"
	"net/url"
	"strings"
	"testing"
	"time"

	"shop-integrations-layer/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (e *testEnv) authorize(t *testing.T, provider string) string {
	t.Helper()
	res, err := e.oauth.Authorize(context.Background(), AuthorizeRequest{Provider: provider, Shop: "acme.example"})
	require.NoError(t, err)
	return stateFrom(t, res.RedirectURL)
}

func redirectQuery(t *testing.T, raw string) url.Values {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u.Query()
}

func TestOAuth_EndToEnd(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	res, err := env.oauth.Authorize(ctx, AuthorizeRequest{Provider: "meta", Shop: "acme.example"})
	require.NoError(t, err)
	assert.Equal(t, FoundViaPrimary, res.FoundVia)
	assert.True(t, strings.HasPrefix(res.RedirectURL, "https://provider.example.com/consent?state="))
	state := stateFrom(t, res.RedirectURL)

	cb, err := env.oauth.Callback(ctx, CallbackRequest{Provider: "meta", Code: "abc123", State: state})
	require.NoError(t, err)
	assert.Equal(t, OutcomeConnected, cb.Outcome)
	assert.True(t, strings.HasPrefix(cb.RedirectURL, testFrontendURL+"/settings/integrations?"))
	q := redirectQuery(t, cb.RedirectURL)
	assert.Equal(t, "true", q.Get("connected"))
	assert.Equal(t, "meta", q.Get("provider"))
	assert.Empty(t, q.Get("degraded"))

	assert.Equal(t, 1, env.store.IntegrationCount())
	row, err := env.store.GetIntegration(ctx, env.shop.ID, domain.ProviderMeta)
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.NotEqual(t, "t1", row.EncryptedAccessToken)
	plain, err := env.ring.Decrypt(row.EncryptedAccessToken)
	require.NoError(t, err)
	assert.Equal(t, "t1", plain)
	assert.True(t, row.IsActive)
	assert.Equal(t, "act-owner-1", row.ProviderAccountID)
	assert.Len(t, row.Metadata.AdAccounts, 1)
	assert.Equal(t, []string{"abc123"}, env.meta.exchanges)
	assert.Empty(t, env.alerter.categories())
}

func TestOAuth_AuthorizeErrors(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  AuthorizeRequest
		kind domain.Kind
	}{
		{"missing shop", AuthorizeRequest{Provider: "meta"}, domain.KindValidation},
		{"unknown shop", AuthorizeRequest{Provider: "meta", Shop: "nobody.example"}, domain.KindNotFound},
		{"unknown provider", AuthorizeRequest{Provider: "tiktok", Shop: "acme.example"}, domain.KindNotFound},
		{"shopify is not an integration", AuthorizeRequest{Provider: "shopify", Shop: "acme.example"}, domain.KindNotFound},
		{"bad return_to", AuthorizeRequest{Provider: "meta", Shop: "acme.example", ReturnTo: "https://evil.example"}, domain.KindValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.oauth.Authorize(ctx, tt.req)
			require.Error(t, err)
			assert.Equal(t, tt.kind, domain.KindOf(err))
		})
	}

	t.Run("not configured", func(t *testing.T) {
		env.google.configured = false
		defer func() { env.google.configured = true }()
		_, err := env.oauth.Authorize(ctx, AuthorizeRequest{Provider: "google", Shop: "acme.example"})
		require.Error(t, err)
		assert.Equal(t, domain.KindConfiguration, domain.KindOf(err))
		assert.ErrorIs(t, err, domain.ErrProviderNotConfigured)
	})
}

func TestOAuth_AuthorizeRejectsUninstalledShop(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.store.MarkUninstalled(ctx, env.shop.ID, time.Now().UTC()))

	res, err := env.oauth.Authorize(ctx, AuthorizeRequest{Provider: "meta", Shop: "acme.example"})
	require.Error(t, err)
	assert.Nil(t, res)
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))
	assert.ErrorIs(t, err, domain.ErrShopNotFound)
}

func TestOAuth_AuthorizeFallbackLookup(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	standalone, err := env.store.SaveShop(ctx, &domain.Shop{
		Domain:       "acct-42.standalone",
		LinkedDomain: "brand.example",
		AccountType:  domain.AccountTypeStandalone,
		IsActive:     true,
	})
	require.NoError(t, err)
	_, err = env.store.SaveShop(ctx, &domain.Shop{
		Domain:       "other.myshopify.com",
		LinkedDomain: "linked.example",
		AccountType:  domain.AccountTypeShopify,
		IsActive:     true,
	})
	require.NoError(t, err)

	res, err := env.oauth.Authorize(ctx, AuthorizeRequest{Provider: "google", Shop: "Brand.Example"})
	require.NoError(t, err)
	assert.Equal(t, FoundViaFallback, res.FoundVia)
	assert.Equal(t, standalone.ID, res.ShopID)

	// Only standalone accounts are matched on their linked domain.
	_, err = env.oauth.Authorize(ctx, AuthorizeRequest{Provider: "google", Shop: "linked.example"})
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))

	// The primary lookup always wins.
	res, err = env.oauth.Authorize(ctx, AuthorizeRequest{Provider: "google", Shop: "acme.example"})
	require.NoError(t, err)
	assert.Equal(t, FoundViaPrimary, res.FoundVia)
}

func TestOAuth_ReplayRejected(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	state := env.authorize(t, "meta")

	_, err := env.oauth.Callback(ctx, CallbackRequest{Provider: "meta", Code: "abc123", State: state})
	require.NoError(t, err)

	_, err = env.oauth.Callback(ctx, CallbackRequest{Provider: "meta", Code: "abc123", State: state})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrStateReplayed)
	assert.Equal(t, domain.KindAuthentication, domain.KindOf(err))
	assert.Equal(t, 1, env.meta.exchangeCount())
}

func TestOAuth_TwoStatesConvergeToOneRow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first := env.authorize(t, "meta")
	second := env.authorize(t, "meta")

	_, err := env.oauth.Callback(ctx, CallbackRequest{Provider: "meta", Code: "code-1", State: first})
	require.NoError(t, err)
	firstRow, err := env.store.GetIntegration(ctx, env.shop.ID, domain.ProviderMeta)
	require.NoError(t, err)

	env.meta.token = &domain.ProviderToken{AccessToken: "t2"}
	env.meta.enrichment = &domain.Enrichment{Identity: domain.Identity{AccountID: "owner-2"}}
	_, err = env.oauth.Callback(ctx, CallbackRequest{Provider: "meta", Code: "code-2", State: second})
	require.NoError(t, err)

	assert.Equal(t, 1, env.store.IntegrationCount())
	row, err := env.store.GetIntegration(ctx, env.shop.ID, domain.ProviderMeta)
	require.NoError(t, err)
	assert.Equal(t, firstRow.ID, row.ID)
	plain, err := env.ring.Decrypt(row.EncryptedAccessToken)
	require.NoError(t, err)
	assert.Equal(t, "t2", plain)
	assert.Equal(t, "owner-2", row.ProviderAccountID)
	assert.Empty(t, row.Metadata.AdAccounts)
}

func TestOAuth_UserDenied(t *testing.T) {
	env := newTestEnv(t)
	state := env.authorize(t, "meta")

	cb, err := env.oauth.Callback(context.Background(), CallbackRequest{
		Provider:    "meta",
		State:       state,
		Error:       "access_denied",
		ErrorReason: "user_denied<script>",
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeDenied, cb.Outcome)
	q := redirectQuery(t, cb.RedirectURL)
	assert.Equal(t, "true", q.Get("error"))
	assert.Equal(t, "user_deniedscript", q.Get("reason"))
	assert.Equal(t, 0, env.meta.exchangeCount())
	assert.Equal(t, 0, env.store.IntegrationCount())
}

func TestOAuth_ExchangeFailureIsGeneric(t *testing.T) {
	env := newTestEnv(t)
	env.meta.exchangeErr = &domain.ProviderError{
		Provider: domain.ProviderMeta, Endpoint: "token", StatusCode: 400,
		Detail: "Invalid verification code format", Err: domain.ErrTokenExchange,
	}
	state := env.authorize(t, "meta")

	cb, err := env.oauth.Callback(context.Background(), CallbackRequest{Provider: "meta", Code: "abc123", State: state})
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, cb.Outcome)
	q := redirectQuery(t, cb.RedirectURL)
	assert.Equal(t, "true", q.Get("error"))
	assert.Equal(t, msgConnectionFailed, q.Get("message"))
	assert.NotContains(t, cb.RedirectURL, "verification")
	assert.Equal(t, 0, env.store.IntegrationCount())
}

func TestOAuth_DegradedEnrichment(t *testing.T) {
	env := newTestEnv(t)
	env.meta.enrichment = &domain.Enrichment{
		Identity:   domain.Identity{AccountID: "owner-1"},
		AdAccounts: []domain.LinkedResource{{ID: "act_1"}},
		Degraded:   []string{"pages"},
	}
	state := env.authorize(t, "meta")

	cb, err := env.oauth.Callback(context.Background(), CallbackRequest{Provider: "meta", Code: "abc123", State: state})
	require.NoError(t, err)
	assert.Equal(t, OutcomeDegraded, cb.Outcome)
	q := redirectQuery(t, cb.RedirectURL)
	assert.Equal(t, "true", q.Get("connected"))
	assert.Equal(t, "true", q.Get("degraded"))

	row, err := env.store.GetIntegration(context.Background(), env.shop.ID, domain.ProviderMeta)
	require.NoError(t, err)
	assert.Empty(t, row.Metadata.Pages)
	assert.Len(t, row.Metadata.AdAccounts, 1)
	assert.Equal(t, []string{"pages"}, row.Metadata.Degraded)
}

func TestOAuth_PersistFailureAlerts(t *testing.T) {
	env := newTestEnv(t)
	env.store.upsertErr = errStoreDown
	state := env.authorize(t, "meta")

	cb, err := env.oauth.Callback(context.Background(), CallbackRequest{Provider: "meta", Code: "abc123", State: state})
	require.NoError(t, err)
	assert.Equal(t, OutcomePersistFailed, cb.Outcome)
	assert.Equal(t, "true", redirectQuery(t, cb.RedirectURL).Get("error"))
	assert.Equal(t, []string{domain.AlertIntegrationPersist}, env.alerter.categories())
}

func TestOAuth_ReadBackFailureAlertsButRedirectsSuccess(t *testing.T) {
	env := newTestEnv(t)
	env.store.dropUpserts = true
	state := env.authorize(t, "meta")

	cb, err := env.oauth.Callback(context.Background(), CallbackRequest{Provider: "meta", Code: "abc123", State: state})
	require.NoError(t, err)
	assert.Equal(t, OutcomeConnected, cb.Outcome)
	assert.Equal(t, "true", redirectQuery(t, cb.RedirectURL).Get("connected"))
	assert.Equal(t, []string{domain.AlertIntegrationVerification}, env.alerter.categories())
}

func TestOAuth_InvalidStates(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	state := env.authorize(t, "meta")

	tampered := []byte(state)
	last := len(tampered) - 1
	if tampered[last] == 'A' {
		tampered[last] = 'B'
	} else {
		tampered[last] = 'A'
	}

	for name, req := range map[string]CallbackRequest{
		"empty":             {Provider: "meta", Code: "abc123"},
		"garbage":           {Provider: "meta", Code: "abc123", State: "not-a-token"},
		"tampered":          {Provider: "meta", Code: "abc123", State: string(tampered)},
		"provider mismatch": {Provider: "google", Code: "abc123", State: state},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := env.oauth.Callback(ctx, req)
			require.Error(t, err)
			assert.Equal(t, domain.KindAuthentication, domain.KindOf(err))
		})
	}
	assert.Equal(t, 0, env.meta.exchangeCount())
	assert.Equal(t, 0, env.google.exchangeCount())
}

func TestOAuth_ClientDisconnectStillPersists(t *testing.T) {
	env := newTestEnv(t)
	state := env.authorize(t, "meta")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cb, err := env.oauth.Callback(ctx, CallbackRequest{Provider: "meta", Code: "abc123", State: state})
	require.NoError(t, err)
	assert.Equal(t, OutcomeConnected, cb.Outcome)
	assert.Equal(t, 1, env.store.IntegrationCount())
}

func TestOAuth_GraceBoundsStuckProvider(t *testing.T) {
	env := newTestEnv(t)
	env.oauth.grace = 50 * time.Millisecond
	block := make(chan struct{})
	env.meta.blockOn = block
	state := env.authorize(t, "meta")

	go func() {
		time.Sleep(200 * time.Millisecond)
		close(block)
	}()
	cb, err := env.oauth.Callback(context.Background(), CallbackRequest{Provider: "meta", Code: "abc123", State: state})
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, cb.Outcome)
}

func TestOAuth_ReconnectRefreshesCachedToken(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.oauth.Callback(ctx, CallbackRequest{Provider: "meta", Code: "c1", State: env.authorize(t, "meta")})
	require.NoError(t, err)
	token, err := env.creds.IntegrationToken(ctx, env.shop.ID, domain.ProviderMeta)
	require.NoError(t, err)
	assert.Equal(t, "t1", token)

	env.meta.token = &domain.ProviderToken{AccessToken: "t2"}
	_, err = env.oauth.Callback(ctx, CallbackRequest{Provider: "meta", Code: "c2", State: env.authorize(t, "meta")})
	require.NoError(t, err)

	token, err = env.creds.IntegrationToken(ctx, env.shop.ID, domain.ProviderMeta)
	require.NoError(t, err)
	assert.Equal(t, "t2", token)
}

func TestOAuth_EmbeddedContextEchoed(t *testing.T) {
	env := newTestEnv(t)
	res, err := env.oauth.Authorize(context.Background(), AuthorizeRequest{
		Provider: "google", Shop: "acme.example", ReturnTo: "onboarding", Host: "YWRtaW4uc2hvcGlmeS5jb20", Embedded: true,
	})
	require.NoError(t, err)

	cb, err := env.oauth.Callback(context.Background(), CallbackRequest{Provider: "google", Code: "abc", State: stateFrom(t, res.RedirectURL)})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(cb.RedirectURL, testFrontendURL+"/onboarding?"))
	q := redirectQuery(t, cb.RedirectURL)
	assert.Equal(t, "YWRtaW4uc2hvcGlmeS5jb20", q.Get("host"))
	assert.Equal(t, "1", q.Get("embedded"))
	assert.Equal(t, "acme.example", q.Get("shop"))
}

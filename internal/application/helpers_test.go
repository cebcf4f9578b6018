package application

import (
	"bytes"
	"context"
	"errors"
	"net/url"
	"sync"
	"testing"
	"time"

	"shop-integrations-layer/internal/domain"
	"shop-integrations-layer/internal/infrastructure/cache"
	"shop-integrations-layer/internal/infrastructure/encryption"
	"shop-integrations-layer/internal/infrastructure/repository/memory"
	"shop-integrations-layer/internal/infrastructure/statetoken"
	"shop-integrations-layer/internal/ports"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const testFrontendURL = "https://app.example.com"

type recordingAlerter struct {
	mu     sync.Mutex
	alerts []domain.Alert
}

func (a *recordingAlerter) Alert(_ context.Context, alert domain.Alert) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.alerts = append(a.alerts, alert)
}

func (a *recordingAlerter) categories() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.alerts))
	for _, al := range a.alerts {
		out = append(out, al.Category)
	}
	return out
}

type fakeProvider struct {
	name        domain.Provider
	configured  bool
	token       *domain.ProviderToken
	enrichment  *domain.Enrichment
	exchangeErr error
	enrichErr   error

	mu        sync.Mutex
	exchanges []string
	blockOn   chan struct{}
}

func newFakeProvider(name domain.Provider) *fakeProvider {
	return &fakeProvider{
		name:       name,
		configured: true,
		token:      &domain.ProviderToken{AccessToken: "t1", Scopes: []string{"ads_read"}},
		enrichment: &domain.Enrichment{
			Identity:   domain.Identity{AccountID: "act-owner-1", AccountName: "Acme Ads"},
			AdAccounts: []domain.LinkedResource{{ID: "act_1", Name: "Main", Kind: "ad_account"}},
			Pages:      []domain.LinkedResource{{ID: "page_1", Name: "Acme", Kind: "page"}},
		},
	}
}

func (p *fakeProvider) Name() domain.Provider { return p.name }
func (p *fakeProvider) Configured() bool      { return p.configured }

func (p *fakeProvider) AuthCodeURL(state string) string {
	return "https://provider.example.com/consent?state=" + state
}

func (p *fakeProvider) ExchangeCode(ctx context.Context, code string) (*domain.ProviderToken, error) {
	p.mu.Lock()
	p.exchanges = append(p.exchanges, code)
	block := p.blockOn
	p.mu.Unlock()
	if block != nil {
		<-block
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.exchangeErr != nil {
		return nil, p.exchangeErr
	}
	t := *p.token
	return &t, nil
}

func (p *fakeProvider) Enrich(_ context.Context, _ string) (*domain.Enrichment, error) {
	if p.enrichErr != nil {
		return nil, p.enrichErr
	}
	e := *p.enrichment
	return &e, nil
}

func (p *fakeProvider) exchangeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.exchanges)
}

// faultyStore injects failures into the memory store.
type faultyStore struct {
	*memory.Store
	upsertErr        error
	dropUpserts      bool
	markErr          error
	billingErr       error
	webhookLogErr    error
	applySubErr      error
	getIntegrationFn func(shopID string, provider domain.Provider) (*domain.Integration, error)
}

func (s *faultyStore) UpsertIntegration(ctx context.Context, i *domain.Integration) (*domain.Integration, error) {
	if s.upsertErr != nil {
		return nil, s.upsertErr
	}
	if s.dropUpserts {
		c := *i
		c.ID = domain.NewID()
		return &c, nil
	}
	return s.Store.UpsertIntegration(ctx, i)
}

func (s *faultyStore) GetIntegration(ctx context.Context, shopID string, provider domain.Provider) (*domain.Integration, error) {
	if s.getIntegrationFn != nil {
		return s.getIntegrationFn(shopID, provider)
	}
	return s.Store.GetIntegration(ctx, shopID, provider)
}

func (s *faultyStore) MarkUninstalled(ctx context.Context, shopID string, at time.Time) error {
	if s.markErr != nil {
		return s.markErr
	}
	return s.Store.MarkUninstalled(ctx, shopID, at)
}

func (s *faultyStore) ApplySubscription(ctx context.Context, shopID string, plan domain.Plan, sub domain.Subscription) (bool, error) {
	if s.applySubErr != nil {
		return false, s.applySubErr
	}
	return s.Store.ApplySubscription(ctx, shopID, plan, sub)
}

func (s *faultyStore) InsertBillingEvent(ctx context.Context, e *domain.BillingEvent) error {
	if s.billingErr != nil {
		return s.billingErr
	}
	return s.Store.InsertBillingEvent(ctx, e)
}

func (s *faultyStore) InsertWebhookLog(ctx context.Context, e *domain.WebhookLog) error {
	if s.webhookLogErr != nil {
		return s.webhookLogErr
	}
	return s.Store.InsertWebhookLog(ctx, e)
}

var errStoreDown = errors.New("store unavailable")

type testEnv struct {
	store   *faultyStore
	ring    *encryption.KeyRing
	codec   *statetoken.Codec
	nonces  *cache.MemoryNonceStore
	cache   *cache.MemoryTokenCache
	creds   *CredentialsService
	alerter *recordingAlerter
	meta    *fakeProvider
	google  *fakeProvider
	oauth   *OAuthService
	shop    *domain.Shop
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	ring, err := encryption.NewKeyRing([]encryption.Key{{ID: "k1", Secret: bytes.Repeat([]byte{7}, 32)}}, "k1")
	require.NoError(t, err)
	codec, err := statetoken.NewCodec([]byte("state-secret-state-secret-state-secret"), 10*time.Minute)
	require.NoError(t, err)

	env := &testEnv{
		store:   &faultyStore{Store: memory.New()},
		ring:    ring,
		codec:   codec,
		nonces:  cache.NewMemoryNonceStore(),
		cache:   cache.NewMemoryTokenCache(),
		alerter: &recordingAlerter{},
		meta:    newFakeProvider(domain.ProviderMeta),
		google:  newFakeProvider(domain.ProviderGoogle),
	}
	env.creds = NewCredentialsService(env.store, ring, env.cache, time.Minute, zerolog.Nop())
	env.oauth = NewOAuthService(OAuthConfig{
		Providers:     []ports.ProviderClient{env.meta, env.google},
		Store:         env.store,
		Codec:         codec,
		Nonces:        env.nonces,
		Encryption:    ring,
		Credentials:   env.creds,
		Alerter:       env.alerter,
		FrontendURL:   testFrontendURL,
		CallbackGrace: 5 * time.Second,
	}, zerolog.Nop())

	env.shop = env.seedShop(t, "acme.example", "shpat_acme")
	return env
}

func (e *testEnv) seedShop(t *testing.T, shopDomain, token string) *domain.Shop {
	t.Helper()
	encrypted, err := e.ring.Encrypt(token)
	require.NoError(t, err)
	now := time.Now().UTC()
	shop, err := e.store.SaveShop(context.Background(), &domain.Shop{
		Domain:               shopDomain,
		AccountType:          domain.AccountTypeShopify,
		IsActive:             true,
		EncryptedAccessToken: encrypted,
		InstalledAt:          &now,
		Plan:                 domain.PlanFree,
	})
	require.NoError(t, err)
	return shop
}

// stateFrom extracts the state parameter from a consent URL.
func stateFrom(t *testing.T, consentURL string) string {
	t.Helper()
	u, err := url.Parse(consentURL)
	require.NoError(t, err)
	state := u.Query().Get("state")
	require.NotEmpty(t, state)
	return state
}

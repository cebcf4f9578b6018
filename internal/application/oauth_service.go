package application

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"shop-integrations-layer/internal/domain"
	"shop-integrations-layer/internal/ports"

	"github.com/rs/zerolog"
)

const DefaultCallbackGrace = 30 * time.Second

// Callback outcomes, also used as metric labels.
const (
	OutcomeConnected     = "connected"
	OutcomeDegraded      = "degraded"
	OutcomeDenied        = "denied"
	OutcomeFailed        = "failed"
	OutcomePersistFailed = "persist_failed"
)

// OAuthStore is the persistence the connect flow needs.
type OAuthStore interface {
	ports.ShopRepository
	ports.IntegrationRepository
}

// OAuthConfig wires an OAuthService.
type OAuthConfig struct {
	Providers   []ports.ProviderClient
	Store       OAuthStore
	Codec       ports.StateCodec
	Nonces      ports.NonceStore
	Encryption  ports.EncryptionService
	Credentials *CredentialsService
	Alerter     ports.Alerter
	Metrics     ports.Metrics
	FrontendURL string
	// CallbackGrace bounds the exchange/enrich/persist work once a callback is accepted.
	// The work continues for this long even if the browser disconnects.
	CallbackGrace time.Duration
	Now           func() time.Time
}

// OAuthService runs the authorize and callback halves of the ad-provider connect flow.
type OAuthService struct {
	providers   map[domain.Provider]ports.ProviderClient
	store       OAuthStore
	resolver    *ShopResolver
	codec       ports.StateCodec
	nonces      ports.NonceStore
	encryption  ports.EncryptionService
	credentials *CredentialsService
	alerter     ports.Alerter
	metrics     ports.Metrics
	frontendURL string
	grace       time.Duration
	now         func() time.Time
	logger      zerolog.Logger
}

func NewOAuthService(cfg OAuthConfig, logger zerolog.Logger) *OAuthService {
	providers := make(map[domain.Provider]ports.ProviderClient, len(cfg.Providers))
	for _, p := range cfg.Providers {
		providers[p.Name()] = p
	}
	if cfg.Metrics == nil {
		cfg.Metrics = ports.NoopMetrics{}
	}
	if cfg.CallbackGrace <= 0 {
		cfg.CallbackGrace = DefaultCallbackGrace
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &OAuthService{
		providers:   providers,
		store:       cfg.Store,
		resolver:    NewShopResolver(cfg.Store),
		codec:       cfg.Codec,
		nonces:      cfg.Nonces,
		encryption:  cfg.Encryption,
		credentials: cfg.Credentials,
		alerter:     cfg.Alerter,
		metrics:     cfg.Metrics,
		frontendURL: cfg.FrontendURL,
		grace:       cfg.CallbackGrace,
		now:         cfg.Now,
		logger:      logger.With().Str("component", "oauth").Logger(),
	}
}

// AuthorizeRequest is the parsed authorize query.
type AuthorizeRequest struct {
	Provider string
	Shop     string
	ReturnTo string
	Host     string
	Embedded bool
}

// AuthorizeResult carries the consent screen URL.
type AuthorizeResult struct {
	RedirectURL string
	ShopID      string
	FoundVia    LookupPath
}

// CallbackRequest is the parsed callback query.
type CallbackRequest struct {
	Provider         string
	Code             string
	State            string
	Error            string
	ErrorReason      string
	ErrorDescription string
}

// CallbackResult is where to send the browser after a callback.
type CallbackResult struct {
	RedirectURL string
	Outcome     string
	Integration *domain.Integration
}

func (s *OAuthService) provider(op, name string) (ports.ProviderClient, error) {
	p, ok := domain.ParseProvider(name)
	if !ok {
		return nil, domain.E(domain.KindNotFound, op, fmt.Errorf("%w: %q", domain.ErrUnknownProvider, name))
	}
	client, ok := s.providers[p]
	if !ok {
		return nil, domain.E(domain.KindNotFound, op, fmt.Errorf("%w: %q", domain.ErrUnknownProvider, name))
	}
	if !client.Configured() {
		return nil, domain.E(domain.KindConfiguration, op, fmt.Errorf("%w: %s", domain.ErrProviderNotConfigured, p))
	}
	return client, nil
}

// Authorize resolves the shop, mints a state token and returns the provider consent URL.
func (s *OAuthService) Authorize(ctx context.Context, req AuthorizeRequest) (*AuthorizeResult, error) {
	client, err := s.provider("authorize", req.Provider)
	if err != nil {
		s.metrics.RecordAuthorize(providerLabel(req.Provider), outcomeForKind(err))
		if domain.KindOf(err) == domain.KindConfiguration {
			s.logger.Error().Err(err).Str("provider", req.Provider).Msg("Provider credentials are not configured")
		}
		return nil, err
	}
	provider := client.Name()

	if strings.TrimSpace(req.Shop) == "" {
		s.metrics.RecordAuthorize(string(provider), "invalid")
		return nil, domain.E(domain.KindValidation, "authorize", errors.New("shop parameter is required"))
	}
	returnTo, ok := domain.ParseReturnTo(req.ReturnTo)
	if !ok {
		s.metrics.RecordAuthorize(string(provider), "invalid")
		return nil, domain.E(domain.KindValidation, "authorize", fmt.Errorf("invalid return_to %q", req.ReturnTo))
	}

	resolution, err := s.resolver.Resolve(ctx, req.Shop)
	if err != nil {
		s.metrics.RecordAuthorize(string(provider), outcomeForKind(err))
		return nil, err
	}
	shop := resolution.Shop
	if !shop.IsInstalled() {
		s.metrics.RecordAuthorize(string(provider), "not_found")
		s.logger.Warn().Str("provider", string(provider)).Str("shopId", shop.ID).Msg("Authorize for an uninstalled shop")
		return nil, domain.E(domain.KindNotFound, "authorize", fmt.Errorf("%w: shop is uninstalled", domain.ErrShopNotFound))
	}

	token, err := s.codec.Encode(domain.OAuthState{
		Provider:   provider,
		ShopID:     shop.ID,
		ShopDomain: shop.Domain,
		ReturnTo:   returnTo,
		Host:       req.Host,
		Embedded:   req.Embedded,
	})
	if err != nil {
		s.metrics.RecordAuthorize(string(provider), "error")
		return nil, fmt.Errorf("failed to encode state: %w", err)
	}

	s.metrics.RecordAuthorize(string(provider), "redirect")
	s.logger.Info().
		Str("provider", string(provider)).
		Str("shop", shop.Domain).
		Str("shopId", shop.ID).
		Str("foundVia", string(resolution.FoundVia)).
		Msg("Redirecting to provider consent screen")

	return &AuthorizeResult{
		RedirectURL: client.AuthCodeURL(token),
		ShopID:      shop.ID,
		FoundVia:    resolution.FoundVia,
	}, nil
}

// Callback validates the state and, unless the user declined, connects the provider account.
// An error return means no redirect should be issued.
func (s *OAuthService) Callback(ctx context.Context, req CallbackRequest) (*CallbackResult, error) {
	client, err := s.provider("callback", req.Provider)
	if err != nil {
		s.metrics.RecordCallback(providerLabel(req.Provider), outcomeForKind(err))
		if domain.KindOf(err) == domain.KindConfiguration {
			s.logger.Error().Err(err).Str("provider", req.Provider).Msg("Provider credentials are not configured")
		}
		return nil, err
	}
	provider := client.Name()

	state, err := s.acceptState(ctx, provider, req.State)
	if err != nil {
		s.metrics.RecordCallback(string(provider), "invalid_state")
		s.logger.Warn().Err(err).Str("provider", string(provider)).Msg("Rejected OAuth callback state")
		return nil, err
	}

	log := s.logger.With().Str("provider", string(provider)).Str("shop", state.ShopDomain).Str("shopId", state.ShopID).Logger()

	if req.Error != "" {
		s.metrics.RecordCallback(string(provider), OutcomeDenied)
		log.Info().Str("error", req.Error).Str("reason", req.ErrorReason).Msg("User declined provider consent")
		params := url.Values{}
		params.Set("error", "true")
		params.Set("provider", string(provider))
		params.Set("reason", sanitizeReason(firstNonEmpty(req.ErrorReason, req.Error)))
		params.Set("message", msgDenied)
		return &CallbackResult{RedirectURL: appRedirect(s.frontendURL, state, params), Outcome: OutcomeDenied}, nil
	}

	// The browser may go away; the exchanged token must still be persisted.
	work, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.grace)
	defer cancel()

	return s.connect(work, log, client, state, req.Code), nil
}

// acceptState decodes the token, checks it belongs to this provider and consumes its nonce.
func (s *OAuthService) acceptState(ctx context.Context, provider domain.Provider, token string) (*domain.OAuthState, error) {
	if token == "" {
		return nil, domain.E(domain.KindAuthentication, "callback", domain.ErrInvalidState)
	}
	state, err := s.codec.Decode(token)
	if err != nil {
		return nil, domain.E(domain.KindAuthentication, "callback", err)
	}
	if state.Provider != provider {
		return nil, domain.E(domain.KindAuthentication, "callback", fmt.Errorf("%w: provider mismatch", domain.ErrInvalidState))
	}
	fresh, err := s.nonces.UseNonce(ctx, string(provider), state.Nonce, state.IssuedAt.Add(s.codec.TTL()))
	if err != nil {
		return nil, domain.E(domain.KindPersistence, "callback", fmt.Errorf("failed to record state nonce: %w", err))
	}
	if !fresh {
		return nil, domain.E(domain.KindAuthentication, "callback", domain.ErrStateReplayed)
	}
	return state, nil
}

func (s *OAuthService) failed(state *domain.OAuthState, outcome, message string) *CallbackResult {
	s.metrics.RecordCallback(string(state.Provider), outcome)
	params := url.Values{}
	params.Set("error", "true")
	params.Set("provider", string(state.Provider))
	params.Set("message", message)
	return &CallbackResult{RedirectURL: appRedirect(s.frontendURL, state, params), Outcome: outcome}
}

func (s *OAuthService) connect(ctx context.Context, log zerolog.Logger, client ports.ProviderClient, state *domain.OAuthState, code string) *CallbackResult {
	provider := client.Name()

	if code == "" {
		log.Warn().Msg("OAuth callback without code")
		return s.failed(state, OutcomeFailed, msgConnectionFailed)
	}

	shop, err := s.store.GetShopByID(ctx, state.ShopID)
	if err != nil {
		log.Error().Err(err).Msg("Failed to load shop for callback")
		return s.failed(state, OutcomeFailed, msgConnectionFailed)
	}
	if !shop.IsInstalled() {
		log.Warn().Msg("Callback for a shop that is missing or uninstalled")
		return s.failed(state, OutcomeFailed, msgConnectionFailed)
	}

	token, err := client.ExchangeCode(ctx, code)
	if err != nil {
		log.Error().Err(err).Msg("Failed to exchange authorization code")
		return s.failed(state, OutcomeFailed, msgConnectionFailed)
	}

	enrichment, err := client.Enrich(ctx, token.AccessToken)
	if err != nil {
		log.Error().Err(err).Msg("Failed to resolve provider identity")
		return s.failed(state, OutcomeFailed, msgConnectionFailed)
	}
	for _, lookup := range enrichment.Degraded {
		log.Warn().Str("lookup", lookup).Msg("Enrichment lookup failed, stored as empty")
	}

	encryptedAccess, err := s.encryption.Encrypt(token.AccessToken)
	if err != nil {
		log.Error().Err(err).Msg("Failed to encrypt access token")
		return s.failed(state, OutcomeFailed, msgConnectionFailed)
	}
	var encryptedRefresh string
	if token.RefreshToken != "" {
		if encryptedRefresh, err = s.encryption.Encrypt(token.RefreshToken); err != nil {
			log.Error().Err(err).Msg("Failed to encrypt refresh token")
			return s.failed(state, OutcomeFailed, msgConnectionFailed)
		}
	}

	degraded := append(append([]string(nil), enrichment.Degraded...), token.Warnings...)
	integration := &domain.Integration{
		ShopID:                shop.ID,
		Provider:              provider,
		EncryptedAccessToken:  encryptedAccess,
		EncryptedRefreshToken: encryptedRefresh,
		TokenExpiresAt:        token.ExpiresAt,
		ProviderAccountID:     enrichment.Identity.AccountID,
		ProviderAccountName:   enrichment.Identity.AccountName,
		Metadata: domain.IntegrationMetadata{
			AdAccounts:     nonNil(enrichment.AdAccounts),
			Pages:          nonNil(enrichment.Pages),
			LinkedAccounts: nonNil(enrichment.LinkedAccounts),
			Scopes:         token.Scopes,
			Degraded:       degraded,
		},
		IsActive:    true,
		ConnectedAt: s.now().UTC(),
	}

	saved, err := s.store.UpsertIntegration(ctx, integration)
	if err != nil {
		log.Error().Err(err).Msg("Failed to save integration")
		s.alerter.Alert(ctx, domain.Alert{
			Category: domain.AlertIntegrationPersist,
			Message:  "integration could not be saved after a successful token exchange",
			Context:  map[string]string{"shop_id": shop.ID, "provider": string(provider)},
			Cause:    err,
		})
		return s.failed(state, OutcomePersistFailed, msgSaveFailed)
	}

	s.verify(ctx, log, shop.ID, provider, encryptedAccess)

	if err := s.credentials.Invalidate(ctx, shop.ID); err != nil {
		log.Warn().Err(err).Msg("Failed to invalidate cached tokens after connect")
		s.alerter.Alert(ctx, domain.Alert{
			Category: domain.AlertCacheInvalidation,
			Message:  "cached tokens may be stale after reconnect",
			Context:  map[string]string{"shop_id": shop.ID, "provider": string(provider)},
			Cause:    err,
		})
	}

	outcome, message := OutcomeConnected, msgConnected
	params := url.Values{}
	params.Set("connected", "true")
	params.Set("provider", string(provider))
	if len(degraded) > 0 {
		outcome, message = OutcomeDegraded, msgConnectedPartial
		params.Set("degraded", "true")
	}
	params.Set("message", message)
	s.metrics.RecordCallback(string(provider), outcome)

	log.Info().
		Str("integrationId", saved.ID).
		Str("account", enrichment.Identity.AccountID).
		Int("adAccounts", len(integration.Metadata.AdAccounts)).
		Int("pages", len(integration.Metadata.Pages)).
		Strs("degraded", degraded).
		Msg("Provider account connected")

	return &CallbackResult{RedirectURL: appRedirect(s.frontendURL, state, params), Outcome: outcome, Integration: saved}
}

// verify reads the row back. A mismatch is alerted but does not change the user-facing result.
func (s *OAuthService) verify(ctx context.Context, log zerolog.Logger, shopID string, provider domain.Provider, encryptedAccess string) {
	stored, err := s.store.GetIntegration(ctx, shopID, provider)
	var problem error
	switch {
	case err != nil:
		problem = fmt.Errorf("failed to read integration back: %w", err)
	case stored == nil:
		problem = errors.New("integration row missing after upsert")
	case !stored.IsActive || stored.EncryptedAccessToken != encryptedAccess:
		problem = errors.New("integration row does not match what was written")
	}
	if problem == nil {
		return
	}
	log.Error().Err(problem).Msg("Integration verification failed")
	s.alerter.Alert(ctx, domain.Alert{
		Category: domain.AlertIntegrationVerification,
		Message:  "integration write reported success but could not be read back",
		Context:  map[string]string{"shop_id": shopID, "provider": string(provider)},
		Cause:    problem,
	})
}

func outcomeForKind(err error) string {
	switch domain.KindOf(err) {
	case domain.KindNotFound:
		return "not_found"
	case domain.KindValidation:
		return "invalid"
	case domain.KindConfiguration:
		return "not_configured"
	default:
		return "error"
	}
}

// providerLabel bounds metric label values to known providers.
func providerLabel(name string) string {
	if p, ok := domain.ParseProvider(name); ok {
		return string(p)
	}
	return "unknown"
}

func nonNil(in []domain.LinkedResource) []domain.LinkedResource {
	if in == nil {
		return []domain.LinkedResource{}
	}
	return in
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

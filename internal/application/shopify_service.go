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

// ShopifyConfig wires a ShopifyService.
type ShopifyConfig struct {
	Client      ports.ShopifyClient
	Shops       ports.ShopRepository
	Codec       ports.StateCodec
	Nonces      ports.NonceStore
	Encryption  ports.EncryptionService
	Credentials *CredentialsService
	// AppURL is the public base the webhook addresses are built from.
	AppURL        string
	FrontendURL   string
	CallbackGrace time.Duration
	Now           func() time.Time
}

// ShopifyService implements the app install flow that creates and reactivates shops.
type ShopifyService struct {
	client        ports.ShopifyClient
	shops         ports.ShopRepository
	codec         ports.StateCodec
	nonces        ports.NonceStore
	encryptionSvc ports.EncryptionService
	credentials   *CredentialsService
	appURL        string
	frontendURL   string
	grace         time.Duration
	now           func() time.Time
	logger        zerolog.Logger
}

// NewShopifyService creates a new Shopify application service
func NewShopifyService(cfg ShopifyConfig, logger zerolog.Logger) *ShopifyService {
	if cfg.CallbackGrace <= 0 {
		cfg.CallbackGrace = DefaultCallbackGrace
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &ShopifyService{
		client:        cfg.Client,
		shops:         cfg.Shops,
		codec:         cfg.Codec,
		nonces:        cfg.Nonces,
		encryptionSvc: cfg.Encryption,
		credentials:   cfg.Credentials,
		appURL:        strings.TrimRight(cfg.AppURL, "/"),
		frontendURL:   cfg.FrontendURL,
		grace:         cfg.CallbackGrace,
		now:           cfg.Now,
		logger:        logger.With().Str("component", "shopify_install").Logger(),
	}
}

// GenerateAuthURL mints an install state token and returns Shopify's consent URL
func (s *ShopifyService) GenerateAuthURL(ctx context.Context, shop string, host string) (string, error) {
	if !s.client.Configured() {
		s.logger.Error().Msg("Shopify app credentials are not configured")
		return "", domain.E(domain.KindConfiguration, "shopify.install", domain.ErrProviderNotConfigured)
	}
	shop = NormalizeShopDomain(shop)
	if shop == "" {
		return "", domain.E(domain.KindValidation, "shopify.install", errors.New("shop parameter is required"))
	}

	state, err := s.codec.Encode(domain.OAuthState{
		Provider:   domain.ProviderShopify,
		ShopDomain: shop,
		Host:       host,
		Embedded:   host != "",
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode state: %w", err)
	}

	authURL, err := s.client.AuthorizeURL(shop, state)
	if err != nil {
		return "", err
	}

	s.logger.Info().Str("shop", shop).Msg("Redirecting to Shopify install consent")
	return authURL, nil
}

// ExchangeToken completes an install callback and returns the app redirect
func (s *ShopifyService) ExchangeToken(ctx context.Context, callback *url.URL) (string, error) {
	if !s.client.Configured() {
		s.logger.Error().Msg("Shopify app credentials are not configured")
		return "", domain.E(domain.KindConfiguration, "shopify.callback", domain.ErrProviderNotConfigured)
	}

	query := callback.Query()
	shopDomain := NormalizeShopDomain(query.Get("shop"))
	code := query.Get("code")
	if shopDomain == "" || code == "" || query.Get("state") == "" {
		return "", domain.E(domain.KindValidation, "shopify.callback", errors.New("missing required parameters"))
	}

	ok, err := s.client.VerifyCallback(callback)
	if err != nil || !ok {
		s.logger.Warn().Err(err).Str("shop", shopDomain).Msg("Install callback HMAC verification failed")
		return "", domain.E(domain.KindAuthentication, "shopify.callback", domain.ErrInvalidSignature)
	}

	state, err := s.codec.Decode(query.Get("state"))
	if err != nil {
		s.logger.Warn().Err(err).Str("shop", shopDomain).Msg("Rejected install state")
		return "", domain.E(domain.KindAuthentication, "shopify.callback", err)
	}
	if state.Provider != domain.ProviderShopify || state.ShopDomain != shopDomain {
		s.logger.Warn().Str("shop", shopDomain).Msg("Install state does not match callback shop")
		return "", domain.E(domain.KindAuthentication, "shopify.callback", domain.ErrInvalidState)
	}
	fresh, err := s.nonces.UseNonce(ctx, string(domain.ProviderShopify), state.Nonce, state.IssuedAt.Add(s.codec.TTL()))
	if err != nil {
		return "", domain.E(domain.KindPersistence, "shopify.callback", fmt.Errorf("failed to record state nonce: %w", err))
	}
	if !fresh {
		return "", domain.E(domain.KindAuthentication, "shopify.callback", domain.ErrStateReplayed)
	}

	work, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.grace)
	defer cancel()

	shop, accessToken, err := s.install(work, shopDomain, code)
	if err != nil {
		params := url.Values{}
		params.Set("error", "true")
		params.Set("message", msgConnectionFailed)
		return appRedirect(s.frontendURL, state, params), nil
	}

	s.RegisterWebhooks(work, shop.Domain, accessToken)

	params := url.Values{}
	params.Set("installed", "true")
	params.Set("message", msgInstalled)
	return appRedirect(s.frontendURL, state, params), nil
}

func (s *ShopifyService) install(ctx context.Context, shopDomain, code string) (*domain.Shop, string, error) {
	log := s.logger.With().Str("shop", shopDomain).Logger()

	token, err := s.client.ExchangeToken(ctx, shopDomain, code)
	if err != nil {
		log.Error().Err(err).Msg("Failed to exchange install code")
		return nil, "", err
	}

	// Shop details are cosmetic; the install proceeds without them.
	info, err := s.client.GetShop(ctx, shopDomain, token.AccessToken)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to get shop info")
		info = &domain.ShopInfo{}
	}

	encryptedToken, err := s.encryptionSvc.Encrypt(token.AccessToken)
	if err != nil {
		log.Error().Err(err).Msg("Failed to encrypt access token")
		return nil, "", fmt.Errorf("failed to encrypt access token: %w", err)
	}

	now := s.now().UTC()
	saved, err := s.shops.SaveShop(ctx, &domain.Shop{
		Domain:               shopDomain,
		AccountType:          domain.AccountTypeShopify,
		Name:                 info.Name,
		Email:                info.Email,
		IsActive:             true,
		EncryptedAccessToken: encryptedToken,
		Scopes:               token.Scopes,
		InstalledAt:          &now,
		Plan:                 domain.PlanFree,
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to save shop")
		return nil, "", fmt.Errorf("failed to save shop: %w", err)
	}

	if err := s.credentials.Invalidate(ctx, saved.ID); err != nil {
		log.Warn().Err(err).Msg("Failed to invalidate cached tokens after install")
	}

	log.Info().Str("shopId", saved.ID).Strs("scopes", token.Scopes).Msg("Shop installed")
	return saved, token.AccessToken, nil
}

// RegisterWebhooks subscribes the shop to the topics this service handles. Failures are logged.
func (s *ShopifyService) RegisterWebhooks(ctx context.Context, shopDomain, accessToken string) {
	for _, topic := range domain.WebhookTopics() {
		event, _ := domain.RouteForTopic(topic)
		address := s.appURL + "/webhooks/shopify/" + event
		if err := s.client.CreateWebhook(ctx, shopDomain, accessToken, topic, address); err != nil {
			s.logger.Warn().Err(err).Str("shop", shopDomain).Str("topic", topic).Msg("Failed to register webhook")
			continue
		}
		s.logger.Info().Str("shop", shopDomain).Str("topic", topic).Msg("Registered webhook")
	}
}

package shopify

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"shop-integrations-layer/internal/domain"
	"shop-integrations-layer/internal/ports"

	goshopify "github.com/bold-commerce/go-shopify/v4"
	"github.com/rs/zerolog"
)

var shopDomainPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9\-]*\.myshopify\.com$`)

// ValidShopDomain reports whether shop is a bare <name>.myshopify.com host
func ValidShopDomain(shop string) bool {
	return shopDomainPattern.MatchString(shop)
}

// Config holds the app credentials used for the install flow
type Config struct {
	APIKey      string
	APISecret   string
	Scopes      []string
	RedirectURL string
	APIVersion  string
	Timeout     time.Duration
}

type client struct {
	app        goshopify.App
	apiVersion string
	httpClient *http.Client
	metrics    ports.Metrics
	logger     zerolog.Logger
}

// NewClient creates a new Shopify client adapter
func NewClient(cfg Config, metrics ports.Metrics, logger zerolog.Logger) ports.ShopifyClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if metrics == nil {
		metrics = ports.NoopMetrics{}
	}
	httpClient := &http.Client{Timeout: cfg.Timeout}
	return &client{
		app: goshopify.App{
			ApiKey:      cfg.APIKey,
			ApiSecret:   cfg.APISecret,
			RedirectUrl: cfg.RedirectURL,
			// Shopify expects scopes to be comma-separated (no spaces)
			Scope: strings.Join(cfg.Scopes, ","),
		},
		apiVersion: cfg.APIVersion,
		httpClient: httpClient,
		metrics:    metrics,
		logger:     logger.With().Str("component", "shopify_client").Logger(),
	}
}

// createClient is a helper to create a goshopify client
func (c *client) createClient(shopDomain string, accessToken string) (*goshopify.Client, error) {
	opts := []goshopify.Option{goshopify.WithHTTPClient(c.httpClient)}
	if c.apiVersion != "" {
		opts = append(opts, goshopify.WithVersion(c.apiVersion))
	}
	client, err := goshopify.NewClient(c.app, shopDomain, accessToken, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}
	return client, nil
}

func (c *client) Configured() bool {
	return c.app.ApiKey != "" && c.app.ApiSecret != ""
}

// Authentication methods

func (c *client) AuthorizeURL(shop string, state string) (string, error) {
	if !c.Configured() {
		return "", domain.ErrProviderNotConfigured
	}
	if !ValidShopDomain(shop) {
		return "", domain.E(domain.KindValidation, "shopify.authorize", fmt.Errorf("invalid shop domain %q", shop))
	}
	authURL, err := c.app.AuthorizeUrl(shop, state)
	if err != nil {
		return "", fmt.Errorf("failed to build authorize url: %w", err)
	}

	c.logger.Debug().
		Str("shop", shop).
		Str("scopes", c.app.Scope).
		Msg("Generated OAuth authorization URL")

	return authURL, nil
}

func (c *client) VerifyCallback(u *url.URL) (bool, error) {
	if !c.Configured() {
		return false, domain.ErrProviderNotConfigured
	}
	ok, err := c.app.VerifyAuthorizationURL(u)
	if err != nil {
		return false, fmt.Errorf("failed to verify callback: %w", err)
	}
	return ok, nil
}

func (c *client) ExchangeToken(ctx context.Context, shop string, code string) (*domain.ProviderToken, error) {
	start := time.Now()
	token, err := c.app.GetAccessToken(ctx, shop, code)
	if err != nil {
		c.metrics.RecordProviderCall(string(domain.ProviderShopify), "token", "error", time.Since(start))
		return nil, &domain.ProviderError{Provider: domain.ProviderShopify, Endpoint: "token", Detail: err.Error(), Err: domain.ErrTokenExchange}
	}
	c.metrics.RecordProviderCall(string(domain.ProviderShopify), "token", "ok", time.Since(start))
	if token == "" {
		return nil, &domain.ProviderError{Provider: domain.ProviderShopify, Endpoint: "token", Detail: "empty access token", Err: domain.ErrTokenExchange}
	}

	var scopes []string
	if c.app.Scope != "" {
		scopes = strings.Split(c.app.Scope, ",")
	}
	return &domain.ProviderToken{AccessToken: token, Scopes: scopes}, nil
}

// Shop API

func (c *client) GetShop(ctx context.Context, shopDomain string, accessToken string) (*domain.ShopInfo, error) {
	client, err := c.createClient(shopDomain, accessToken)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	shop, err := client.Shop.Get(ctx, nil)
	if err != nil {
		c.metrics.RecordProviderCall(string(domain.ProviderShopify), "shop", "error", time.Since(start))
		return nil, fmt.Errorf("failed to get shop: %w", err)
	}
	c.metrics.RecordProviderCall(string(domain.ProviderShopify), "shop", "ok", time.Since(start))
	return &domain.ShopInfo{
		Name:            shop.Name,
		Email:           shop.Email,
		Domain:          shop.Domain,
		MyshopifyDomain: shop.MyshopifyDomain,
		PlanName:        shop.PlanName,
	}, nil
}

// Webhook API

func (c *client) CreateWebhook(ctx context.Context, shopDomain string, accessToken string, topic string, address string) error {
	client, err := c.createClient(shopDomain, accessToken)
	if err != nil {
		return err
	}
	webhook := goshopify.Webhook{
		Topic:   topic,
		Address: address,
		Format:  "json",
	}
	start := time.Now()
	if _, err := client.Webhook.Create(ctx, webhook); err != nil {
		c.metrics.RecordProviderCall(string(domain.ProviderShopify), "webhook", "error", time.Since(start))
		return fmt.Errorf("failed to create webhook %s: %w", topic, err)
	}
	c.metrics.RecordProviderCall(string(domain.ProviderShopify), "webhook", "ok", time.Since(start))
	return nil
}

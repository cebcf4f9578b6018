// Package google connects Google Ads accounts.
package google

import (
	"context"
	"fmt"
	"strings"
	"time"

	"shop-integrations-layer/internal/domain"
	"shop-integrations-layer/internal/infrastructure/providers"
	"shop-integrations-layer/internal/ports"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
)

const (
	DefaultUserInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"
	DefaultAdsURL      = "https://googleads.googleapis.com/v17"
)

var DefaultScopes = []string{
	"https://www.googleapis.com/auth/adwords",
	"https://www.googleapis.com/auth/userinfo.email",
	"https://www.googleapis.com/auth/userinfo.profile",
}

// Config holds the Google OAuth client and Ads API settings
type Config struct {
	ClientID       string
	ClientSecret   string
	RedirectURL    string
	DeveloperToken string
	Scopes         []string
	UserInfoURL    string
	AdsURL         string
	Timeout        time.Duration
	Endpoint       *oauth2.Endpoint
}

// Client implements ports.ProviderClient for Google Ads
type Client struct {
	oauth          *oauth2.Config
	developerToken string
	userInfoURL    string
	adsURL         string
	caller         *providers.Caller
	logger         zerolog.Logger
}

var _ ports.ProviderClient = (*Client)(nil)

func NewClient(cfg Config, metrics ports.Metrics, logger zerolog.Logger) *Client {
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = DefaultScopes
	}
	if cfg.UserInfoURL == "" {
		cfg.UserInfoURL = DefaultUserInfoURL
	}
	if cfg.AdsURL == "" {
		cfg.AdsURL = DefaultAdsURL
	}
	endpoint := endpoints.Google
	if cfg.Endpoint != nil {
		endpoint = *cfg.Endpoint
	}
	return &Client{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       cfg.Scopes,
			Endpoint:     endpoint,
		},
		developerToken: cfg.DeveloperToken,
		userInfoURL:    cfg.UserInfoURL,
		adsURL:         strings.TrimRight(cfg.AdsURL, "/"),
		caller:         providers.NewCaller(domain.ProviderGoogle, cfg.Timeout, metrics),
		logger:         logger.With().Str("provider", string(domain.ProviderGoogle)).Logger(),
	}
}

func (c *Client) Name() domain.Provider { return domain.ProviderGoogle }

func (c *Client) Configured() bool {
	return c.oauth.ClientID != "" && c.oauth.ClientSecret != ""
}

// AuthCodeURL asks for offline access and forces the consent prompt so a refresh token is always issued.
func (c *Client) AuthCodeURL(state string) string {
	return c.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.SetAuthURLParam("prompt", "consent"))
}

func (c *Client) ExchangeCode(ctx context.Context, code string) (*domain.ProviderToken, error) {
	ctx, cancel := context.WithTimeout(c.caller.WithHTTPClient(ctx), c.caller.Timeout)
	defer cancel()

	start := time.Now()
	tok, err := c.oauth.Exchange(ctx, code)
	if err != nil {
		c.caller.Metrics.RecordProviderCall(string(domain.ProviderGoogle), "token", "error", time.Since(start))
		return nil, providers.ExchangeError(domain.ProviderGoogle, err)
	}
	c.caller.Metrics.RecordProviderCall(string(domain.ProviderGoogle), "token", "ok", time.Since(start))
	if tok.AccessToken == "" {
		return nil, &domain.ProviderError{Provider: domain.ProviderGoogle, Endpoint: "token", Detail: "empty access token", Err: domain.ErrTokenExchange}
	}

	result := &domain.ProviderToken{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Scopes:       c.oauth.Scopes,
	}
	if scope, ok := tok.Extra("scope").(string); ok && scope != "" {
		result.Scopes = strings.Fields(scope)
	}
	if !tok.Expiry.IsZero() {
		exp := tok.Expiry
		result.ExpiresAt = &exp
	}
	if result.RefreshToken == "" {
		c.logger.Warn().Msg("Google did not return a refresh token")
		result.Warnings = append(result.Warnings, "refresh_token")
	}
	return result, nil
}

type userInfo struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

type accessibleCustomers struct {
	ResourceNames []string `json:"resourceNames"`
}

// Enrich resolves the Google user and lists the Ads customers it can access.
func (c *Client) Enrich(ctx context.Context, accessToken string) (*domain.Enrichment, error) {
	var user userInfo
	if err := c.caller.GetJSON(ctx, "userinfo", c.userInfoURL, accessToken, nil, &user); err != nil {
		return nil, fmt.Errorf("failed to resolve google identity: %w", err)
	}
	if user.ID == "" {
		return nil, &domain.ProviderError{Provider: domain.ProviderGoogle, Endpoint: "userinfo", Detail: "missing id"}
	}
	name := user.Email
	if name == "" {
		name = user.Name
	}

	result := &domain.Enrichment{
		Identity:       domain.Identity{AccountID: user.ID, AccountName: name},
		AdAccounts:     []domain.LinkedResource{},
		Pages:          []domain.LinkedResource{},
		LinkedAccounts: []domain.LinkedResource{},
	}

	if c.developerToken == "" {
		c.logger.Warn().Msg("No Google Ads developer token configured, skipping customer lookup")
		result.Degraded = append(result.Degraded, "ad_accounts")
		return result, nil
	}

	var customers accessibleCustomers
	err := c.caller.GetJSON(ctx, "customers", c.adsURL+"/customers:listAccessibleCustomers", accessToken,
		map[string]string{"developer-token": c.developerToken}, &customers)
	if err != nil {
		c.logger.Warn().Err(err).Msg("Customer lookup failed, continuing without ad accounts")
		result.Degraded = append(result.Degraded, "ad_accounts")
		return result, nil
	}
	for _, rn := range customers.ResourceNames {
		id := strings.TrimPrefix(rn, "customers/")
		result.AdAccounts = append(result.AdAccounts, domain.LinkedResource{ID: id, Name: rn, Kind: "ads_customer"})
	}
	return result, nil
}

// Package meta connects Facebook and Instagram ad accounts through the Graph API.
package meta

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"shop-integrations-layer/internal/domain"
	"shop-integrations-layer/internal/infrastructure/providers"
	"shop-integrations-layer/internal/ports"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultGraphURL     = "https://graph.facebook.com"
	DefaultGraphVersion = "v19.0"
)

var DefaultScopes = []string{
	"ads_management",
	"ads_read",
	"pages_show_list",
	"pages_read_engagement",
	"instagram_basic",
	"business_management",
}

// Config holds the Meta app credentials
type Config struct {
	AppID        string
	AppSecret    string
	RedirectURL  string
	Scopes       []string
	GraphURL     string
	GraphVersion string
	Timeout      time.Duration
	// Endpoint overrides the OAuth endpoints, used in tests
	Endpoint *oauth2.Endpoint
}

// Client implements ports.ProviderClient for Meta
type Client struct {
	oauth    *oauth2.Config
	graphURL string
	caller   *providers.Caller
	logger   zerolog.Logger
}

var _ ports.ProviderClient = (*Client)(nil)

// NewClient creates a Meta provider client
func NewClient(cfg Config, metrics ports.Metrics, logger zerolog.Logger) *Client {
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = DefaultScopes
	}
	if cfg.GraphURL == "" {
		cfg.GraphURL = DefaultGraphURL
	}
	if cfg.GraphVersion == "" {
		cfg.GraphVersion = DefaultGraphVersion
	}
	endpoint := endpoints.Facebook
	if cfg.Endpoint != nil {
		endpoint = *cfg.Endpoint
	}
	return &Client{
		oauth: &oauth2.Config{
			ClientID:     cfg.AppID,
			ClientSecret: cfg.AppSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       cfg.Scopes,
			Endpoint:     endpoint,
		},
		graphURL: strings.TrimRight(cfg.GraphURL, "/") + "/" + cfg.GraphVersion,
		caller:   providers.NewCaller(domain.ProviderMeta, cfg.Timeout, metrics),
		logger:   logger.With().Str("provider", string(domain.ProviderMeta)).Logger(),
	}
}

func (c *Client) Name() domain.Provider { return domain.ProviderMeta }

func (c *Client) Configured() bool {
	return c.oauth.ClientID != "" && c.oauth.ClientSecret != ""
}

func (c *Client) AuthCodeURL(state string) string {
	return c.oauth.AuthCodeURL(state)
}

// ExchangeCode trades the code for a short-lived token and then tries to upgrade it
// to a long-lived one. A failed upgrade keeps the short-lived token.
func (c *Client) ExchangeCode(ctx context.Context, code string) (*domain.ProviderToken, error) {
	exCtx, cancel := context.WithTimeout(c.caller.WithHTTPClient(ctx), c.caller.Timeout)
	defer cancel()

	start := time.Now()
	tok, err := c.oauth.Exchange(exCtx, code)
	if err != nil {
		c.caller.Metrics.RecordProviderCall(string(domain.ProviderMeta), "token", "error", time.Since(start))
		return nil, providers.ExchangeError(domain.ProviderMeta, err)
	}
	c.caller.Metrics.RecordProviderCall(string(domain.ProviderMeta), "token", "ok", time.Since(start))
	if tok.AccessToken == "" {
		return nil, &domain.ProviderError{Provider: domain.ProviderMeta, Endpoint: "token", Detail: "empty access token", Err: domain.ErrTokenExchange}
	}

	result := &domain.ProviderToken{AccessToken: tok.AccessToken, Scopes: c.oauth.Scopes}
	if !tok.Expiry.IsZero() {
		exp := tok.Expiry
		result.ExpiresAt = &exp
	}

	long, err := c.longLived(ctx, tok.AccessToken)
	if err != nil {
		c.logger.Warn().Err(err).Msg("Long-lived token upgrade failed, keeping short-lived token")
		result.Warnings = append(result.Warnings, "long_lived_token")
		return result, nil
	}
	result.AccessToken = long.AccessToken
	if long.ExpiresIn > 0 {
		exp := time.Now().Add(time.Duration(long.ExpiresIn) * time.Second)
		result.ExpiresAt = &exp
	}
	return result, nil
}

type longLivedResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

func (c *Client) longLived(ctx context.Context, shortLived string) (*longLivedResponse, error) {
	q := url.Values{}
	q.Set("grant_type", "fb_exchange_token")
	q.Set("client_id", c.oauth.ClientID)
	q.Set("client_secret", c.oauth.ClientSecret)
	q.Set("fb_exchange_token", shortLived)

	var out longLivedResponse
	if err := c.caller.GetJSON(ctx, "long_lived_token", c.graphURL+"/oauth/access_token?"+q.Encode(), "", nil, &out); err != nil {
		return nil, err
	}
	if out.AccessToken == "" {
		return nil, fmt.Errorf("long-lived token response had no access_token")
	}
	return &out, nil
}

type me struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type adAccount struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	AccountStatus int    `json:"account_status"`
}

type instagramAccount struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

type page struct {
	ID                       string            `json:"id"`
	Name                     string            `json:"name"`
	InstagramBusinessAccount *instagramAccount `json:"instagram_business_account"`
}

type listResponse[T any] struct {
	Data []T `json:"data"`
}

// Enrich resolves the user behind the token, then lists ad accounts and pages concurrently.
// A failed listing degrades to an empty list.
func (c *Client) Enrich(ctx context.Context, accessToken string) (*domain.Enrichment, error) {
	var user me
	if err := c.caller.GetJSON(ctx, "me", c.graphURL+"/me?fields=id,name", accessToken, nil, &user); err != nil {
		return nil, fmt.Errorf("failed to resolve meta identity: %w", err)
	}
	if user.ID == "" {
		return nil, &domain.ProviderError{Provider: domain.ProviderMeta, Endpoint: "me", Detail: "missing id"}
	}

	result := &domain.Enrichment{
		Identity:       domain.Identity{AccountID: user.ID, AccountName: user.Name},
		AdAccounts:     []domain.LinkedResource{},
		Pages:          []domain.LinkedResource{},
		LinkedAccounts: []domain.LinkedResource{},
	}

	var (
		accounts          listResponse[adAccount]
		pages             listResponse[page]
		accountsErr, pErr error
	)
	// plain Group: one failed listing must not cancel the other
	var g errgroup.Group
	g.Go(func() error {
		accountsErr = c.caller.GetJSON(ctx, "adaccounts", c.graphURL+"/me/adaccounts?fields=id,name,account_status&limit=100", accessToken, nil, &accounts)
		return nil
	})
	g.Go(func() error {
		pErr = c.caller.GetJSON(ctx, "pages", c.graphURL+"/me/accounts?fields=id,name,instagram_business_account%7Bid,username%7D&limit=100", accessToken, nil, &pages)
		return nil
	})
	_ = g.Wait()

	if accountsErr != nil {
		c.logger.Warn().Err(accountsErr).Msg("Ad account lookup failed, continuing without ad accounts")
		result.Degraded = append(result.Degraded, "ad_accounts")
	} else {
		for _, a := range accounts.Data {
			result.AdAccounts = append(result.AdAccounts, domain.LinkedResource{
				ID:     a.ID,
				Name:   a.Name,
				Kind:   "ad_account",
				Status: accountStatus(a.AccountStatus),
			})
		}
	}

	if pErr != nil {
		c.logger.Warn().Err(pErr).Msg("Page lookup failed, continuing without pages")
		result.Degraded = append(result.Degraded, "pages")
	} else {
		for _, p := range pages.Data {
			result.Pages = append(result.Pages, domain.LinkedResource{ID: p.ID, Name: p.Name, Kind: "page"})
			if ig := p.InstagramBusinessAccount; ig != nil && ig.ID != "" {
				result.LinkedAccounts = append(result.LinkedAccounts, domain.LinkedResource{
					ID:       ig.ID,
					Name:     ig.Username,
					Kind:     "instagram_business",
					ParentID: p.ID,
				})
			}
		}
	}

	return result, nil
}

func accountStatus(code int) string {
	switch code {
	case 1:
		return "active"
	case 2:
		return "disabled"
	case 3:
		return "unsettled"
	case 101:
		return "closed"
	default:
		return strconv.Itoa(code)
	}
}

package shopify

import (
	"net/url"
	"testing"

	"shop-integrations-layer/internal/domain"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(key, secret string) *client {
	return NewClient(Config{
		APIKey:      key,
		APISecret:   secret,
		Scopes:      []string{"read_products", "read_orders"},
		RedirectURL: "https://app.example/auth/shopify/callback",
	}, nil, zerolog.Nop()).(*client)
}

func TestClient_AuthorizeURL(t *testing.T) {
	c := newTestClient("key", "secret")

	raw, err := c.AuthorizeURL("acme.myshopify.com", "state-token")
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "acme.myshopify.com", u.Host)
	assert.Equal(t, "/admin/oauth/authorize", u.Path)
	q := u.Query()
	assert.Equal(t, "key", q.Get("client_id"))
	assert.Equal(t, "read_products,read_orders", q.Get("scope"))
	assert.Equal(t, "state-token", q.Get("state"))
	assert.Equal(t, "https://app.example/auth/shopify/callback", q.Get("redirect_uri"))
}

func TestClient_AuthorizeURLRejectsForeignShop(t *testing.T) {
	c := newTestClient("key", "secret")
	_, err := c.AuthorizeURL("evil.example", "s")
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
}

func TestClient_NotConfigured(t *testing.T) {
	c := newTestClient("", "")
	assert.False(t, c.Configured())

	_, err := c.AuthorizeURL("acme.myshopify.com", "s")
	assert.ErrorIs(t, err, domain.ErrProviderNotConfigured)

	_, err = c.VerifyCallback(&url.URL{})
	assert.ErrorIs(t, err, domain.ErrProviderNotConfigured)
}

func TestClient_VerifyCallback(t *testing.T) {
	c := newTestClient("key", "secret")

	// signature over "code=abc&shop=acme.myshopify.com&timestamp=1700000000" with "secret"
	q := url.Values{}
	q.Set("code", "abc")
	q.Set("shop", "acme.myshopify.com")
	q.Set("timestamp", "1700000000")
	q.Set("hmac", hexHMAC("secret", q.Encode()))

	ok, err := c.VerifyCallback(&url.URL{RawQuery: q.Encode()})
	require.NoError(t, err)
	assert.True(t, ok)

	q.Set("shop", "other.myshopify.com")
	ok, err = c.VerifyCallback(&url.URL{RawQuery: q.Encode()})
	require.NoError(t, err)
	assert.False(t, ok)
}

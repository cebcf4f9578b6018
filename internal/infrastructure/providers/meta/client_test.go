package meta

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"shop-integrations-layer/internal/domain"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

type graphStub struct {
	dropLongLived bool
	failLongLived bool
	failPages     bool
	failMe        bool
	failToken     bool
}

func (s *graphStub) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	writeJSON := func(w http.ResponseWriter, status int, v interface{}) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(v)
	}
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		if s.failToken {
			writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": "invalid_grant"})
			return
		}
		assert.Equal(t, "abc123", r.PostForm.Get("code"))
		writeJSON(w, http.StatusOK, map[string]interface{}{"access_token": "short", "token_type": "bearer", "expires_in": 3600})
	})
	mux.HandleFunc("/v19.0/oauth/access_token", func(w http.ResponseWriter, r *http.Request) {
		if s.dropLongLived {
			hj, ok := w.(http.Hijacker)
			require.True(t, ok)
			conn, _, err := hj.Hijack()
			require.NoError(t, err)
			_ = conn.Close()
			return
		}
		if s.failLongLived {
			writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": map[string]string{"message": "nope"}})
			return
		}
		assert.Equal(t, "fb_exchange_token", r.URL.Query().Get("grant_type"))
		assert.Equal(t, "short", r.URL.Query().Get("fb_exchange_token"))
		writeJSON(w, http.StatusOK, map[string]interface{}{"access_token": "long", "expires_in": 5184000})
	})
	mux.HandleFunc("/v19.0/me", func(w http.ResponseWriter, r *http.Request) {
		if s.failMe {
			writeJSON(w, http.StatusUnauthorized, map[string]interface{}{"error": map[string]string{"message": "expired"}})
			return
		}
		assert.Equal(t, "Bearer long", r.Header.Get("Authorization"))
		writeJSON(w, http.StatusOK, map[string]string{"id": "1001", "name": "Acme Marketing"})
	})
	mux.HandleFunc("/v19.0/me/adaccounts", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{"data": []map[string]interface{}{
			{"id": "act_1", "name": "Main", "account_status": 1},
			{"id": "act_2", "name": "Old", "account_status": 101},
		}})
	})
	mux.HandleFunc("/v19.0/me/accounts", func(w http.ResponseWriter, r *http.Request) {
		if s.failPages {
			writeJSON(w, http.StatusInternalServerError, map[string]interface{}{"error": map[string]string{"message": "unavailable"}})
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"data": []map[string]interface{}{
			{"id": "p1", "name": "Acme", "instagram_business_account": map[string]string{"id": "ig1", "username": "acme"}},
			{"id": "p2", "name": "Acme Outlet"},
		}})
	})
	return mux
}

func newTestClient(t *testing.T, stub *graphStub) *Client {
	return newTestClientWithLogger(t, stub, zerolog.Nop())
}

func newTestClientWithLogger(t *testing.T, stub *graphStub, logger zerolog.Logger) *Client {
	srv := httptest.NewServer(stub.handler(t))
	t.Cleanup(srv.Close)
	return NewClient(Config{
		AppID:       "app",
		AppSecret:   "secret",
		RedirectURL: "https://app.example/oauth/meta/callback",
		GraphURL:    srv.URL,
		Timeout:     2 * time.Second,
		Endpoint: &oauth2.Endpoint{
			AuthURL:   srv.URL + "/dialog/oauth",
			TokenURL:  srv.URL + "/oauth/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}, nil, logger)
}

func TestClient_AuthCodeURL(t *testing.T) {
	c := NewClient(Config{AppID: "app", AppSecret: "secret", RedirectURL: "https://app.example/cb"}, nil, zerolog.Nop())
	assert.True(t, c.Configured())
	assert.Equal(t, domain.ProviderMeta, c.Name())

	u, err := url.Parse(c.AuthCodeURL("st"))
	require.NoError(t, err)
	assert.Equal(t, "www.facebook.com", u.Host)
	assert.Equal(t, "st", u.Query().Get("state"))
	assert.Equal(t, "app", u.Query().Get("client_id"))
	assert.Contains(t, u.Query().Get("scope"), "ads_read")

	assert.False(t, NewClient(Config{}, nil, zerolog.Nop()).Configured())
}

func TestClient_ExchangeCode(t *testing.T) {
	c := newTestClient(t, &graphStub{})

	tok, err := c.ExchangeCode(context.Background(), "abc123")
	require.NoError(t, err)
	assert.Equal(t, "long", tok.AccessToken)
	require.NotNil(t, tok.ExpiresAt)
	assert.True(t, tok.ExpiresAt.After(time.Now().Add(50*24*time.Hour)))
	assert.Empty(t, tok.Warnings)
}

func TestClient_ExchangeCodeKeepsShortLivedToken(t *testing.T) {
	c := newTestClient(t, &graphStub{failLongLived: true})

	tok, err := c.ExchangeCode(context.Background(), "abc123")
	require.NoError(t, err)
	assert.Equal(t, "short", tok.AccessToken)
	assert.Equal(t, []string{"long_lived_token"}, tok.Warnings)
}

func TestClient_ExchangeCodeUpgradeFailureLogsNoCredentials(t *testing.T) {
	var buf bytes.Buffer
	c := newTestClientWithLogger(t, &graphStub{dropLongLived: true}, zerolog.New(&buf))

	tok, err := c.ExchangeCode(context.Background(), "abc123")
	require.NoError(t, err)
	assert.Equal(t, "short", tok.AccessToken)
	assert.Equal(t, []string{"long_lived_token"}, tok.Warnings)

	logged := buf.String()
	require.Contains(t, logged, "Long-lived token upgrade failed")
	assert.Contains(t, logged, "/v19.0/oauth/access_token")
	assert.NotContains(t, logged, "client_secret")
	assert.NotContains(t, logged, "=secret")
	assert.NotContains(t, logged, "fb_exchange_token")
	assert.NotContains(t, logged, "=short")
}

func TestClient_ExchangeCodeFailure(t *testing.T) {
	c := newTestClient(t, &graphStub{failToken: true})

	_, err := c.ExchangeCode(context.Background(), "abc123")
	assert.ErrorIs(t, err, domain.ErrTokenExchange)
}

func TestClient_Enrich(t *testing.T) {
	c := newTestClient(t, &graphStub{})

	e, err := c.Enrich(context.Background(), "long")
	require.NoError(t, err)
	assert.Equal(t, domain.Identity{AccountID: "1001", AccountName: "Acme Marketing"}, e.Identity)
	require.Len(t, e.AdAccounts, 2)
	assert.Equal(t, "active", e.AdAccounts[0].Status)
	assert.Equal(t, "closed", e.AdAccounts[1].Status)
	assert.Len(t, e.Pages, 2)
	require.Len(t, e.LinkedAccounts, 1)
	assert.Equal(t, "ig1", e.LinkedAccounts[0].ID)
	assert.Equal(t, "p1", e.LinkedAccounts[0].ParentID)
	assert.False(t, e.IsDegraded())
}

func TestClient_EnrichPagesFailureDegrades(t *testing.T) {
	c := newTestClient(t, &graphStub{failPages: true})

	e, err := c.Enrich(context.Background(), "long")
	require.NoError(t, err)
	assert.Equal(t, "1001", e.Identity.AccountID)
	assert.NotNil(t, e.Pages)
	assert.Empty(t, e.Pages)
	assert.Empty(t, e.LinkedAccounts)
	assert.Len(t, e.AdAccounts, 2, "sibling lookup is not cancelled")
	assert.Equal(t, []string{"pages"}, e.Degraded)
}

func TestClient_EnrichIdentityFailureIsFatal(t *testing.T) {
	c := newTestClient(t, &graphStub{failMe: true})

	_, err := c.Enrich(context.Background(), "long")
	assert.Error(t, err)
}

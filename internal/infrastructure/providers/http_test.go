package providers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"shop-integrations-layer/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func TestCaller_GetJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "dev", r.Header.Get("developer-token"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"42"}`))
	}))
	defer srv.Close()

	c := NewCaller(domain.ProviderGoogle, time.Second, nil)
	var out struct {
		ID string `json:"id"`
	}
	err := c.GetJSON(context.Background(), "me", srv.URL, "tok", map[string]string{"developer-token": "dev"}, &out)
	require.NoError(t, err)
	assert.Equal(t, "42", out.ID)
}

func TestCaller_GetJSONErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"message":"(#200) Permissions error","code":200}}`))
	}))
	defer srv.Close()

	c := NewCaller(domain.ProviderMeta, time.Second, nil)
	err := c.GetJSON(context.Background(), "pages", srv.URL, "tok", nil, &struct{}{})

	var pe *domain.ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, http.StatusForbidden, pe.StatusCode)
	assert.Equal(t, "(#200) Permissions error", pe.Detail)
	assert.Equal(t, "pages", pe.Endpoint)
}

func TestCaller_GetJSONTimeout(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(block)

	c := NewCaller(domain.ProviderMeta, 50*time.Millisecond, nil)
	start := time.Now()
	err := c.GetJSON(context.Background(), "me", srv.URL, "tok", nil, &struct{}{})
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestCaller_GetJSONTransportErrorHidesQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hj, ok := w.(http.Hijacker)
		require.True(t, ok)
		conn, _, err := hj.Hijack()
		require.NoError(t, err)
		_ = conn.Close()
	}))
	defer srv.Close()

	c := NewCaller(domain.ProviderMeta, time.Second, nil)
	err := c.GetJSON(context.Background(), "long_lived_token", srv.URL+"/oauth/access_token?client_secret=s3cr3t&fb_exchange_token=tok123", "", nil, &struct{}{})
	require.Error(t, err)

	var pe *domain.ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Contains(t, err.Error(), "/oauth/access_token")
	assert.NotContains(t, err.Error(), "s3cr3t")
	assert.NotContains(t, err.Error(), "tok123")
}

func TestExchangeError(t *testing.T) {
	err := ExchangeError(domain.ProviderGoogle, &oauth2.RetrieveError{
		Response:  &http.Response{StatusCode: http.StatusBadRequest},
		Body:      []byte(`{"error":"invalid_grant"}`),
		ErrorCode: "invalid_grant",
	})
	assert.ErrorIs(t, err, domain.ErrTokenExchange)
	assert.Equal(t, domain.KindUpstream, domain.KindOf(err))
	assert.Contains(t, err.Error(), "status 400")
	assert.Contains(t, err.Error(), "invalid_grant")

	err = ExchangeError(domain.ProviderMeta, errors.New("dial tcp: timeout"))
	assert.ErrorIs(t, err, domain.ErrTokenExchange)
}

func TestErrorDetail(t *testing.T) {
	assert.Equal(t, "invalid_grant", ErrorDetail([]byte(`{"error":"invalid_grant"}`)))
	assert.Equal(t, "Bad code", ErrorDetail([]byte(`{"error":"invalid_request","error_description":"Bad code"}`)))
	assert.Equal(t, "boom", ErrorDetail([]byte(`{"error":{"message":"boom"}}`)))
	assert.Equal(t, "PERMISSION_DENIED", ErrorDetail([]byte(`{"error":{"status":"PERMISSION_DENIED"}}`)))
	assert.Equal(t, "unparseable error body", ErrorDetail([]byte(`<html>`)))
}

// Package providers holds the HTTP plumbing shared by the ad-platform clients.
package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"shop-integrations-layer/internal/domain"
	"shop-integrations-layer/internal/ports"

	"golang.org/x/oauth2"
)

const (
	DefaultTimeout = 10 * time.Second

	// cap on error bodies read for diagnostics
	maxErrorBody = 4 << 10
	maxBody      = 1 << 20
)

// Caller issues bounded, single-attempt JSON requests to one provider.
type Caller struct {
	Provider domain.Provider
	HTTP     *http.Client
	Timeout  time.Duration
	Metrics  ports.Metrics
}

// NewCaller creates a caller with its own http client
func NewCaller(provider domain.Provider, timeout time.Duration, metrics ports.Metrics) *Caller {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if metrics == nil {
		metrics = ports.NoopMetrics{}
	}
	return &Caller{
		Provider: provider,
		HTTP:     &http.Client{Timeout: timeout},
		Timeout:  timeout,
		Metrics:  metrics,
	}
}

// GetJSON performs an authenticated GET and decodes the JSON body into out.
// Non-2xx responses become a *domain.ProviderError carrying the provider's message.
func (c *Caller) GetJSON(ctx context.Context, endpoint, rawURL, accessToken string, headers map[string]string, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", endpoint, err)
	}
	req.Header.Set("Accept", "application/json")
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.HTTP.Do(req)
	if err != nil {
		c.Metrics.RecordProviderCall(string(c.Provider), endpoint, "error", time.Since(start))
		return &domain.ProviderError{Provider: c.Provider, Endpoint: endpoint, Err: redactURL(err)}
	}
	defer resp.Body.Close()
	c.Metrics.RecordProviderCall(string(c.Provider), endpoint, strconv.Itoa(resp.StatusCode), time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &domain.ProviderError{
			Provider:   c.Provider,
			Endpoint:   endpoint,
			StatusCode: resp.StatusCode,
			Detail:     ErrorDetail(body),
		}
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBody)).Decode(out); err != nil {
		return &domain.ProviderError{Provider: c.Provider, Endpoint: endpoint, Detail: "malformed response", Err: err}
	}
	return nil
}

// WithHTTPClient attaches the caller's client to ctx for golang.org/x/oauth2
func (c *Caller) WithHTTPClient(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.HTTP)
}

// ExchangeError converts an oauth2 exchange failure into a ProviderError wrapping domain.ErrTokenExchange.
func ExchangeError(provider domain.Provider, err error) error {
	pe := &domain.ProviderError{Provider: provider, Endpoint: "token", Err: domain.ErrTokenExchange}
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		if re.Response != nil {
			pe.StatusCode = re.Response.StatusCode
		}
		pe.Detail = re.ErrorCode
		if pe.Detail == "" {
			pe.Detail = ErrorDetail(re.Body)
		}
		return pe
	}
	pe.Detail = redactURL(err).Error()
	return pe
}

// redactURL drops the query string from a transport *url.Error. Some token
// endpoints take client secrets and tokens as query parameters.
func redactURL(err error) error {
	var ue *url.Error
	if !errors.As(err, &ue) {
		return err
	}
	u, perr := url.Parse(ue.URL)
	if perr != nil {
		ue.URL = ""
		return err
	}
	u.RawQuery = ""
	u.Fragment = ""
	u.User = nil
	ue.URL = u.String()
	return err
}

// ErrorDetail pulls a short message out of the common provider error envelopes:
// {"error":"code"}, {"error":{"message":"..."}} and {"error_description":"..."}.
func ErrorDetail(body []byte) string {
	var envelope struct {
		Error            json.RawMessage `json:"error"`
		ErrorDescription string          `json:"error_description"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return "unparseable error body"
	}
	if envelope.ErrorDescription != "" {
		return envelope.ErrorDescription
	}
	var code string
	if json.Unmarshal(envelope.Error, &code) == nil && code != "" {
		return code
	}
	var obj struct {
		Message string `json:"message"`
		Status  string `json:"status"`
	}
	if json.Unmarshal(envelope.Error, &obj) == nil {
		if obj.Message != "" {
			return obj.Message
		}
		return obj.Status
	}
	return ""
}

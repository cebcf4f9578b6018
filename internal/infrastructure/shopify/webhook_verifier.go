package shopify

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"time"

	"shop-integrations-layer/internal/domain"
)

// Webhook headers set by Shopify on every delivery
const (
	HeaderHmac        = "X-Shopify-Hmac-Sha256"
	HeaderTopic       = "X-Shopify-Topic"
	HeaderShopDomain  = "X-Shopify-Shop-Domain"
	HeaderWebhookID   = "X-Shopify-Webhook-Id"
	HeaderAPIVersion  = "X-Shopify-API-Version"
	HeaderTriggeredAt = "X-Shopify-Triggered-At"
)

// WebhookVerifier authenticates webhook deliveries against the app secret and a topic allow-list
type WebhookVerifier struct {
	secret  []byte
	allowed map[string]struct{}
}

// NewWebhookVerifier creates a verifier. Topics outside allowedTopics are always rejected.
func NewWebhookVerifier(secret string, allowedTopics []string) *WebhookVerifier {
	allowed := make(map[string]struct{}, len(allowedTopics))
	for _, t := range allowedTopics {
		allowed[t] = struct{}{}
	}
	return &WebhookVerifier{secret: []byte(secret), allowed: allowed}
}

// Verify reports whether signature is the base64 HMAC-SHA256 of the raw body.
// The body must be the bytes exactly as received.
func (v *WebhookVerifier) Verify(body []byte, signature string) bool {
	if len(v.secret) == 0 || signature == "" {
		return false
	}
	expected := Sign(v.secret, body)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// ValidateTopic fails closed for any topic not on the allow-list
func (v *WebhookVerifier) ValidateTopic(topic string) error {
	if _, ok := v.allowed[topic]; !ok {
		return fmt.Errorf("%w: %q", domain.ErrTopicNotAllowed, topic)
	}
	return nil
}

// Sign computes the signature Shopify sends for body
func Sign(secret []byte, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// ParseMetadata extracts delivery metadata from the request headers
func ParseMetadata(h http.Header) domain.WebhookMetadata {
	md := domain.WebhookMetadata{
		Topic:      h.Get(HeaderTopic),
		ShopDomain: h.Get(HeaderShopDomain),
		WebhookID:  h.Get(HeaderWebhookID),
		APIVersion: h.Get(HeaderAPIVersion),
	}
	if raw := h.Get(HeaderTriggeredAt); raw != "" {
		if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			md.TriggeredAt = &t
		}
	}
	return md
}

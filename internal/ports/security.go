package ports

import (
	"context"
	"time"

	"shop-integrations-layer/internal/domain"
)

// EncryptionService defines symmetric authenticated encryption of secrets at rest
type EncryptionService interface {
	Encrypt(plaintext string) (string, error)
	// Decrypt fails with domain.ErrDecryption on malformed or forged input.
	Decrypt(ciphertext string) (string, error)
}

// StateCodec mints and validates signed OAuth state tokens
type StateCodec interface {
	Encode(state domain.OAuthState) (string, error)
	// Decode fails with domain.ErrInvalidState or domain.ErrExpiredState.
	Decode(token string) (*domain.OAuthState, error)
	TTL() time.Duration
}

// NonceStore records single-use markers.
type NonceStore interface {
	// UseNonce stores the nonce until expiry. It returns false if the nonce was already used.
	UseNonce(ctx context.Context, scope, nonce string, expiry time.Time) (bool, error)
}

// TokenCache holds decrypted credentials close to their consumers.
type TokenCache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// InvalidatePrefix synchronously drops every entry whose key starts with prefix.
	InvalidatePrefix(ctx context.Context, prefix string) error
}

// Alerter is a fire-and-forget operational notifier. Alert must not block.
type Alerter interface {
	Alert(ctx context.Context, alert domain.Alert)
}

// WebhookAuthenticator verifies inbound webhook signatures over the raw body.
type WebhookAuthenticator interface {
	Verify(body []byte, signature string) bool
	// ValidateTopic fails closed with domain.ErrTopicNotAllowed.
	ValidateTopic(topic string) error
}

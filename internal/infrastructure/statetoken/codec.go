package statetoken

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"shop-integrations-layer/internal/domain"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
)

const (
	DefaultTTL = 10 * time.Minute

	// tolerated clock drift between replicas for tokens issued "in the future"
	maxSkew = time.Minute
)

// claims is the wire payload. Short keys keep the redirect URL compact.
type claims struct {
	Provider   string `json:"p"`
	ShopID     string `json:"sid,omitempty"`
	ShopDomain string `json:"sd"`
	ReturnTo   string `json:"rt,omitempty"`
	Host       string `json:"h,omitempty"`
	Embedded   bool   `json:"e,omitempty"`
	IssuedAt   int64  `json:"iat"`
	Nonce      string `json:"n"`
}

// Valid satisfies jwt.Claims. Expiry is checked by the codec against its own clock.
func (c *claims) Valid() error { return nil }

// Codec mints and validates HMAC-signed OAuth state tokens.
type Codec struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
	parser *jwt.Parser
}

// Option configures a Codec
type Option func(*Codec)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Codec) { c.now = now }
}

// NewCodec creates a codec. The secret must be at least 32 bytes.
func NewCodec(secret []byte, ttl time.Duration, opts ...Option) (*Codec, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("state secret must be at least 32 bytes")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &Codec{
		secret: secret,
		ttl:    ttl,
		now:    time.Now,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithoutClaimsValidation(),
		),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// TTL returns the validity window of minted tokens
func (c *Codec) TTL() time.Duration {
	return c.ttl
}

// Encode signs the state. A zero IssuedAt is stamped with the current time and an
// empty Nonce gets a random UUIDv4 (122 bits of entropy).
//
// IssuedAt is carried at whole-second precision in UTC, so Decode returns it
// truncated to the second and converted to UTC.
func (c *Codec) Encode(state domain.OAuthState) (string, error) {
	if state.Provider == "" || state.ShopDomain == "" {
		return "", fmt.Errorf("state requires provider and shop domain")
	}
	if state.IssuedAt.IsZero() {
		state.IssuedAt = c.now()
	}
	state.IssuedAt = state.IssuedAt.Truncate(time.Second).UTC()
	if state.Nonce == "" {
		state.Nonce = uuid.NewString()
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &claims{
		Provider:   string(state.Provider),
		ShopID:     state.ShopID,
		ShopDomain: state.ShopDomain,
		ReturnTo:   string(state.ReturnTo),
		Host:       state.Host,
		Embedded:   state.Embedded,
		IssuedAt:   state.IssuedAt.Unix(),
		Nonce:      state.Nonce,
	})
	signed, err := token.SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign state: %w", err)
	}
	return signed, nil
}

// Decode verifies signature, schema and age. It returns an error wrapping
// domain.ErrInvalidState or domain.ErrExpiredState.
func (c *Codec) Decode(token string) (*domain.OAuthState, error) {
	if token == "" {
		return nil, domain.ErrInvalidState
	}
	if err := canonical(token); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidState, err)
	}
	if _, err := c.parser.ParseWithClaims(token, &claims{}, c.keyFunc); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidState, err)
	}

	// the signature is good; now hold the payload to the exact schema
	cl, err := strictClaims(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidState, err)
	}

	issued := time.Unix(cl.IssuedAt, 0).UTC()
	now := c.now()
	if issued.After(now.Add(maxSkew)) {
		return nil, fmt.Errorf("%w: issued in the future", domain.ErrInvalidState)
	}
	if now.After(issued.Add(c.ttl)) {
		return nil, domain.ErrExpiredState
	}

	return &domain.OAuthState{
		Provider:   domain.Provider(cl.Provider),
		ShopID:     cl.ShopID,
		ShopDomain: cl.ShopDomain,
		ReturnTo:   domain.ReturnTo(cl.ReturnTo),
		Host:       cl.Host,
		Embedded:   cl.Embedded,
		IssuedAt:   issued,
		Nonce:      cl.Nonce,
	}, nil
}

func (c *Codec) keyFunc(_ *jwt.Token) (interface{}, error) {
	return c.secret, nil
}

// canonical rejects segments whose unused trailing bits are set, so every byte of the
// token is covered by the signature.
func canonical(token string) error {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return fmt.Errorf("token must have 3 segments")
	}
	for _, part := range parts {
		raw, err := base64.RawURLEncoding.DecodeString(part)
		if err != nil {
			return fmt.Errorf("segment is not base64url: %w", err)
		}
		if base64.RawURLEncoding.EncodeToString(raw) != part {
			return fmt.Errorf("segment is not canonical base64url")
		}
	}
	return nil
}

func strictClaims(token string) (*claims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("token must have 3 segments")
	}
	raw, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("payload is not base64url: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	var cl claims
	if err := dec.Decode(&cl); err != nil {
		return nil, fmt.Errorf("payload does not match schema: %w", err)
	}
	if dec.More() {
		return nil, fmt.Errorf("trailing data after payload")
	}

	switch domain.Provider(cl.Provider) {
	case domain.ProviderShopify, domain.ProviderMeta, domain.ProviderGoogle:
	default:
		return nil, fmt.Errorf("unknown provider %q", cl.Provider)
	}
	if cl.ShopDomain == "" {
		return nil, fmt.Errorf("missing shop domain")
	}
	if cl.Provider != string(domain.ProviderShopify) && cl.ShopID == "" {
		return nil, fmt.Errorf("missing shop id")
	}
	if _, ok := domain.ParseReturnTo(cl.ReturnTo); !ok {
		return nil, fmt.Errorf("unknown return target %q", cl.ReturnTo)
	}
	if cl.IssuedAt <= 0 {
		return nil, fmt.Errorf("missing issue time")
	}
	if _, err := uuid.Parse(cl.Nonce); err != nil {
		return nil, fmt.Errorf("malformed nonce")
	}
	return &cl, nil
}

package shopify

import (
	"fmt"
	"net/url"

	"github.com/golang-jwt/jwt/v4"
)

// sessionClaims are the claims of an App Bridge session token
type sessionClaims struct {
	jwt.RegisteredClaims
	Dest string `json:"dest"`
	Sid  string `json:"sid,omitempty"`
}

// SessionVerifier validates session tokens sent by the embedded admin UI
type SessionVerifier struct {
	apiKey string
	secret []byte
	parser *jwt.Parser
}

func NewSessionVerifier(apiKey, apiSecret string) *SessionVerifier {
	return &SessionVerifier{
		apiKey: apiKey,
		secret: []byte(apiSecret),
		parser: jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})),
	}
}

// Verify checks signature, expiry and audience and returns the shop domain from dest
func (v *SessionVerifier) Verify(token string) (string, error) {
	if len(v.secret) == 0 {
		return "", fmt.Errorf("session verifier has no secret")
	}
	var claims sessionClaims
	if _, err := v.parser.ParseWithClaims(token, &claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	}); err != nil {
		return "", fmt.Errorf("failed to parse session token: %w", err)
	}
	if !claims.VerifyAudience(v.apiKey, true) {
		return "", fmt.Errorf("session token audience mismatch")
	}

	dest, err := url.Parse(claims.Dest)
	if err != nil || dest.Scheme != "https" {
		return "", fmt.Errorf("session token has invalid dest")
	}
	shop := dest.Hostname()
	if !ValidShopDomain(shop) {
		return "", fmt.Errorf("session token dest %q is not a shop", shop)
	}
	return shop, nil
}

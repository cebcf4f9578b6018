package domain

import "time"

// Provider identifies a third-party platform a shop can connect.
type Provider string

const (
	ProviderShopify Provider = "shopify"
	ProviderMeta    Provider = "meta"
	ProviderGoogle  Provider = "google"
)

// ParseProvider returns the ad provider for a route segment.
// Shopify is not connectable as an integration; it is the install channel.
func ParseProvider(s string) (Provider, bool) {
	switch Provider(s) {
	case ProviderMeta, ProviderGoogle:
		return Provider(s), true
	default:
		return "", false
	}
}

// LinkedResource is an account, page or secondary profile discovered during enrichment.
type LinkedResource struct {
	ID     string `json:"id" bson:"id"`
	Name   string `json:"name,omitempty" bson:"name,omitempty"`
	Kind   string `json:"kind,omitempty" bson:"kind,omitempty"`
	Status string `json:"status,omitempty" bson:"status,omitempty"`
	// ParentID links a secondary account (e.g. Instagram) to the page it hangs off.
	ParentID string `json:"parent_id,omitempty" bson:"parent_id,omitempty"`
}

// IntegrationMetadata is the free-form enrichment stored with an integration.
type IntegrationMetadata struct {
	AdAccounts     []LinkedResource `json:"ad_accounts" bson:"ad_accounts"`
	Pages          []LinkedResource `json:"pages" bson:"pages"`
	LinkedAccounts []LinkedResource `json:"linked_accounts" bson:"linked_accounts"`
	Scopes         []string         `json:"scopes,omitempty" bson:"scopes,omitempty"`
	// Degraded lists the enrichment lookups that failed during the last connect.
	Degraded []string `json:"degraded,omitempty" bson:"degraded,omitempty"`
}

// Integration is the stored, encrypted credential set linking one shop to one provider account.
// At most one row exists per (ShopID, Provider).
type Integration struct {
	ID                    string              `json:"id"`
	ShopID                string              `json:"shop_id"`
	Provider              Provider            `json:"provider"`
	EncryptedAccessToken  string              `json:"-"`
	EncryptedRefreshToken string              `json:"-"`
	TokenExpiresAt        *time.Time          `json:"token_expires_at,omitempty"`
	ProviderAccountID     string              `json:"provider_account_id"`
	ProviderAccountName   string              `json:"provider_account_name"`
	Metadata              IntegrationMetadata `json:"metadata"`
	IsActive              bool                `json:"is_active"`
	ConnectedAt           time.Time           `json:"connected_at"`
	CreatedAt             time.Time           `json:"created_at"`
	UpdatedAt             time.Time           `json:"updated_at"`
}

// ProviderToken is the result of exchanging an authorization code.
type ProviderToken struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    *time.Time
	Scopes       []string
	// Warnings are non-fatal problems hit while obtaining the token.
	Warnings []string
}

// Identity is the provider account the token belongs to.
type Identity struct {
	AccountID   string
	AccountName string
}

// Enrichment is the result of the best-effort secondary lookups after an exchange.
type Enrichment struct {
	Identity       Identity
	AdAccounts     []LinkedResource
	Pages          []LinkedResource
	LinkedAccounts []LinkedResource
	// Degraded names the lookups that failed and were replaced by empty lists.
	Degraded []string
}

// IsDegraded reports whether any secondary lookup failed.
func (e *Enrichment) IsDegraded() bool {
	return e != nil && len(e.Degraded) > 0
}

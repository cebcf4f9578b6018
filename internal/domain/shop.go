package domain

import "time"

// AccountType distinguishes how a shop was provisioned.
type AccountType string

const (
	// AccountTypeShopify shops were created by installing the Shopify app.
	AccountTypeShopify AccountType = "shopify"
	// AccountTypeStandalone shops were provisioned outside Shopify and are matched on LinkedDomain.
	AccountTypeStandalone AccountType = "standalone"
)

// Shop is the tenant. It is created on install and never hard-deleted here.
type Shop struct {
	ID                   string       `json:"id"`
	Domain               string       `json:"domain"`
	LinkedDomain         string       `json:"linked_domain,omitempty"`
	AccountType          AccountType  `json:"account_type"`
	Name                 string       `json:"name,omitempty"`
	Email                string       `json:"email,omitempty"`
	IsActive             bool         `json:"is_active"`
	EncryptedAccessToken string       `json:"-"`
	Scopes               []string     `json:"scopes,omitempty"`
	InstalledAt          *time.Time   `json:"installed_at,omitempty"`
	UninstalledAt        *time.Time   `json:"uninstalled_at,omitempty"`
	Plan                 Plan         `json:"plan"`
	Subscription         Subscription `json:"subscription"`
	CreatedAt            time.Time    `json:"created_at"`
	UpdatedAt            time.Time    `json:"updated_at"`
}

// IsInstalled reports whether the shop currently has the app installed.
func (s *Shop) IsInstalled() bool {
	return s != nil && s.IsActive && s.UninstalledAt == nil
}

// ShopInfo is what the platform reports about a shop after install.
type ShopInfo struct {
	Name            string
	Email           string
	Domain          string
	MyshopifyDomain string
	PlanName        string
}

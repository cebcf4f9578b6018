package domain

import "time"

// ReturnTo is the allow-listed place in the app a flow returns to.
type ReturnTo string

const (
	ReturnToSettings   ReturnTo = "settings"
	ReturnToOnboarding ReturnTo = "onboarding"
	ReturnToCampaigns  ReturnTo = "campaigns"
)

// ParseReturnTo validates the optional return-path discriminator. Empty maps to settings.
func ParseReturnTo(s string) (ReturnTo, bool) {
	switch ReturnTo(s) {
	case "":
		return ReturnToSettings, true
	case ReturnToSettings, ReturnToOnboarding, ReturnToCampaigns:
		return ReturnTo(s), true
	default:
		return "", false
	}
}

// OAuthState is the flow context carried inside a signed state token. It is never stored as a row.
type OAuthState struct {
	Provider   Provider
	ShopID     string
	ShopDomain string
	ReturnTo   ReturnTo
	// Host is the opaque embedded-admin host parameter, echoed back on redirect.
	Host     string
	Embedded bool
	IssuedAt time.Time
	Nonce    string
}

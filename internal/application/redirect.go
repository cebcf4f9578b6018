package application

import (
	"net/url"
	"strings"

	"shop-integrations-layer/internal/domain"
)

// User-facing messages. Causes stay in server logs.
const (
	msgConnected        = "Account connected"
	msgConnectedPartial = "Account connected, some details could not be loaded"
	msgDenied           = "Connection was cancelled"
	msgConnectionFailed = "Connection failed, please try again"
	msgSaveFailed       = "Could not save the connection, please try again"
	msgInstalled        = "App installed"
)

var returnPaths = map[domain.ReturnTo]string{
	domain.ReturnToSettings:   "/settings/integrations",
	domain.ReturnToOnboarding: "/onboarding",
	domain.ReturnToCampaigns:  "/campaigns",
}

// appRedirect builds a redirect into the app for the flow described by state.
func appRedirect(frontendURL string, state *domain.OAuthState, params url.Values) string {
	path, ok := returnPaths[state.ReturnTo]
	if !ok {
		path = returnPaths[domain.ReturnToSettings]
	}
	if params == nil {
		params = url.Values{}
	}
	if state.ShopDomain != "" {
		params.Set("shop", state.ShopDomain)
	}
	if state.Host != "" {
		params.Set("host", state.Host)
	}
	if state.Embedded {
		params.Set("embedded", "1")
	}
	return strings.TrimRight(frontendURL, "/") + path + "?" + params.Encode()
}

// sanitizeReason keeps provider denial codes to a safe token such as "access_denied".
func sanitizeReason(reason string) string {
	var b strings.Builder
	for _, r := range reason {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		}
		if b.Len() >= 64 {
			break
		}
	}
	if b.Len() == 0 {
		return "access_denied"
	}
	return b.String()
}

package api

import (
	"errors"
	"io"
	"net/http"

	"shop-integrations-layer/internal/application"
	"shop-integrations-layer/internal/domain"
	"shop-integrations-layer/internal/infrastructure/shopify"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// MaxWebhookBodyBytes caps inbound webhook bodies
const MaxWebhookBodyBytes = 256 << 10

func healthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// authorizeHandler starts the connect flow for an ad provider
func authorizeHandler(oauth *application.OAuthService, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		res, err := oauth.Authorize(r.Context(), application.AuthorizeRequest{
			Provider: chi.URLParam(r, "provider"),
			Shop:     q.Get("shop"),
			ReturnTo: q.Get("return_to"),
			Host:     q.Get("host"),
			Embedded: q.Get("embedded") == "1",
		})
		if err != nil {
			writeError(w, r, logger, err)
			return
		}
		http.Redirect(w, r, res.RedirectURL, http.StatusFound)
	}
}

// callbackHandler completes the connect flow. State failures get a bare 400 with no hint of the cause.
func callbackHandler(oauth *application.OAuthService, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		res, err := oauth.Callback(r.Context(), application.CallbackRequest{
			Provider:         chi.URLParam(r, "provider"),
			Code:             q.Get("code"),
			State:            q.Get("state"),
			Error:            q.Get("error"),
			ErrorReason:      q.Get("error_reason"),
			ErrorDescription: q.Get("error_description"),
		})
		if err != nil {
			if domain.KindOf(err) == domain.KindAuthentication {
				writeErrorStatus(w, r, logger, err, http.StatusBadRequest)
				return
			}
			writeError(w, r, logger, err)
			return
		}
		http.Redirect(w, r, res.RedirectURL, http.StatusFound)
	}
}

// installHandler starts the Shopify app install
func installHandler(install *application.ShopifyService, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		authURL, err := install.GenerateAuthURL(r.Context(), q.Get("shop"), q.Get("host"))
		if err != nil {
			writeError(w, r, logger, err)
			return
		}
		http.Redirect(w, r, authURL, http.StatusFound)
	}
}

// installCallbackHandler completes the Shopify app install
func installCallbackHandler(install *application.ShopifyService, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		redirect, err := install.ExchangeToken(r.Context(), r.URL)
		if err != nil {
			if domain.KindOf(err) == domain.KindAuthentication {
				writeErrorStatus(w, r, logger, err, http.StatusBadRequest)
				return
			}
			writeError(w, r, logger, err)
			return
		}
		http.Redirect(w, r, redirect, http.StatusFound)
	}
}

// webhookHandler acknowledges every authenticated delivery with 200, whatever the processing outcome.
// Only signature (401) and topic (400) rejections are reported to the sender.
func webhookHandler(dispatcher *application.WebhookDispatcher, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		event := chi.URLParam(r, "event")
		routeTopic, ok := domain.TopicForRoute(event)
		if !ok {
			// Never equal to a real topic, so the delivery is logged and rejected on topic.
			routeTopic = "unrouted:" + event
		}

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxWebhookBodyBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				logger.Warn().Str("event", event).Int64("limit", tooLarge.Limit).Msg("Webhook body too large")
				writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "payload too large"})
				return
			}
			logger.Error().Err(err).Str("event", event).Msg("Failed to read webhook payload")
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request"})
			return
		}
		defer r.Body.Close()

		outcome := dispatcher.Receive(r.Context(), application.InboundWebhook{
			RouteTopic: routeTopic,
			Metadata:   shopify.ParseMetadata(r.Header),
			Signature:  r.Header.Get(shopify.HeaderHmac),
			Body:       body,
		})

		switch outcome {
		case domain.WebhookRejectedSignature:
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid signature"})
		case domain.WebhookRejectedTopic:
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "topic not accepted"})
		default:
			writeJSON(w, http.StatusOK, map[string]string{"received": "true"})
		}
	}
}

// listIntegrationsHandler returns the connection status of each provider for the session's shop
func listIntegrationsHandler(integrations *application.IntegrationService, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		shop := ShopFromContext(r.Context())
		statuses, err := integrations.ListIntegrations(r.Context(), shop)
		if err != nil {
			writeError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"shop":         shop,
			"integrations": statuses,
		})
	}
}

// disconnectHandler deactivates one provider integration for the session's shop
func disconnectHandler(integrations *application.IntegrationService, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		shop := ShopFromContext(r.Context())
		if err := integrations.Disconnect(r.Context(), shop, chi.URLParam(r, "provider")); err != nil {
			writeError(w, r, logger, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

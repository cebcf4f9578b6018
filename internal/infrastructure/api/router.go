// Package api exposes the OAuth, install, webhook and integration endpoints over HTTP.
package api

import (
	"net/http"

	"shop-integrations-layer/internal/application"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Deps are the services the router serves
type Deps struct {
	OAuth        *application.OAuthService
	Install      *application.ShopifyService
	Integrations *application.IntegrationService
	Webhooks     *application.WebhookDispatcher
	Sessions     SessionVerifier
	// Gatherer backs /metrics. Nil disables the endpoint.
	Gatherer       prometheus.Gatherer
	AllowedOrigins []string
}

// NewRouter builds the HTTP handler
func NewRouter(deps Deps, logger zerolog.Logger) http.Handler {
	log := logger.With().Str("component", "http").Logger()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLoggerMiddleware(log))
	r.Use(middleware.Recoverer)
	r.Use(SecurityHeadersMiddleware())

	r.Get("/health", healthHandler())
	if deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	// Shopify install; static routes win over the provider pattern.
	r.Get("/auth/shopify", installHandler(deps.Install, log))
	r.Get("/auth/shopify/callback", installCallbackHandler(deps.Install, log))

	r.Get("/auth/{provider}", authorizeHandler(deps.OAuth, log))
	r.Get("/auth/{provider}/callback", callbackHandler(deps.OAuth, log))

	r.Post("/webhooks/shopify/{event}", webhookHandler(deps.Webhooks, log))

	r.Route("/api", func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: deps.AllowedOrigins,
			AllowedMethods: []string{"GET", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Authorization", "Content-Type"},
			MaxAge:         300,
		}))
		r.Use(SessionAuthMiddleware(deps.Sessions, log))
		r.Get("/integrations", listIntegrationsHandler(deps.Integrations, log))
		r.Delete("/integrations/{provider}", disconnectHandler(deps.Integrations, log))
	})

	return r
}

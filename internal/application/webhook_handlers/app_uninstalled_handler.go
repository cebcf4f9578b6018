package webhook_handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"shop-integrations-layer/internal/application"
	"shop-integrations-layer/internal/domain"
	"shop-integrations-layer/internal/ports"

	"github.com/rs/zerolog"
)

// UninstallStore is the persistence the uninstall handler touches.
type UninstallStore interface {
	GetShopByDomain(ctx context.Context, shopDomain string) (*domain.Shop, error)
	MarkUninstalled(ctx context.Context, shopID string, at time.Time) error
	DeactivateIntegrations(ctx context.Context, shopID string) (int64, error)
}

// AppUninstalledHandler handles app uninstalled webhook events
type AppUninstalledHandler struct {
	logger      zerolog.Logger
	store       UninstallStore
	credentials *application.CredentialsService
	alerter     ports.Alerter
	now         func() time.Time
}

// NewAppUninstalledHandler creates a new app uninstalled webhook handler
func NewAppUninstalledHandler(
	logger zerolog.Logger,
	store UninstallStore,
	credentials *application.CredentialsService,
	alerter ports.Alerter,
) *AppUninstalledHandler {
	return &AppUninstalledHandler{
		logger:      logger.With().Str("handler", "app_uninstalled").Logger(),
		store:       store,
		credentials: credentials,
		alerter:     alerter,
		now:         time.Now,
	}
}

// CanHandle returns true if this handler can process the given topic
func (h *AppUninstalledHandler) CanHandle(topic string) bool {
	return topic == domain.TopicAppUninstalled
}

type uninstalledPayload struct {
	ID              int64  `json:"id"`
	Domain          string `json:"domain"`
	MyshopifyDomain string `json:"myshopify_domain"`
}

// Handle drops cached credentials first, then deactivates the shop and its integrations.
// Steps after the cache invalidation are best-effort; every failure is alerted.
func (h *AppUninstalledHandler) Handle(ctx context.Context, event *domain.WebhookEvent) error {
	shopDomain := event.Shop
	if shopDomain == "" {
		var payload uninstalledPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return fmt.Errorf("failed to parse app uninstalled webhook payload: %w", err)
		}
		shopDomain = payload.MyshopifyDomain
		if shopDomain == "" {
			shopDomain = payload.Domain
		}
	}
	shopDomain = application.NormalizeShopDomain(shopDomain)

	shop, err := h.store.GetShopByDomain(ctx, shopDomain)
	if err != nil {
		h.alert(ctx, domain.AlertUninstall, "uninstall could not load the shop", shopDomain, "", err)
		return fmt.Errorf("failed to get shop: %w", err)
	}
	if shop == nil {
		return fmt.Errorf("%w: unknown shop %q", application.ErrWebhookIgnored, shopDomain)
	}

	log := h.logger.With().Str("shop", shopDomain).Str("shopId", shop.ID).Logger()
	log.Info().Msg("Processing app uninstalled webhook event")

	var errs []error

	// 1. Cached tokens must be gone before the store changes.
	if err := h.credentials.Invalidate(ctx, shop.ID); err != nil {
		log.Error().Err(err).Msg("Failed to invalidate cached tokens")
		h.alert(ctx, domain.AlertCacheInvalidation, "cached tokens may outlive an uninstall", shopDomain, shop.ID, err)
		errs = append(errs, err)
	}

	// 2. The shop record is kept for audit; only its token and active flag are cleared.
	if err := h.store.MarkUninstalled(ctx, shop.ID, h.now().UTC()); err != nil {
		log.Error().Err(err).Msg("Failed to mark shop uninstalled")
		h.alert(ctx, domain.AlertUninstall, "shop could not be marked uninstalled", shopDomain, shop.ID, err)
		errs = append(errs, err)
	}

	// 3. Provider integrations stop working with the app.
	n, err := h.store.DeactivateIntegrations(ctx, shop.ID)
	if err != nil {
		log.Error().Err(err).Msg("Failed to deactivate integrations")
		h.alert(ctx, domain.AlertUninstall, "integrations could not be deactivated", shopDomain, shop.ID, err)
		errs = append(errs, err)
	}

	// 4. Drop anything a concurrent reader cached between steps 1 and 2.
	if err := h.credentials.Invalidate(ctx, shop.ID); err != nil {
		log.Warn().Err(err).Msg("Second cache invalidation failed")
	}

	if len(errs) > 0 {
		return fmt.Errorf("uninstall incomplete: %w", errors.Join(errs...))
	}

	log.Info().Int64("integrations", n).Msg("App uninstalled - cleanup completed")
	return nil
}

func (h *AppUninstalledHandler) alert(ctx context.Context, category, message, shopDomain, shopID string, cause error) {
	h.alerter.Alert(ctx, domain.Alert{
		Category: category,
		Message:  message,
		Context:  map[string]string{"shop": shopDomain, "shop_id": shopID},
		Cause:    cause,
	})
}

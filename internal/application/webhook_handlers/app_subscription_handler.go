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

// AppSubscriptionHandler applies app_subscriptions/update events to the shop's billing state
type AppSubscriptionHandler struct {
	logger  zerolog.Logger
	shops   ports.ShopRepository
	machine *application.SubscriptionMachine
	alerter ports.Alerter
}

// NewAppSubscriptionHandler creates a new subscription webhook handler
func NewAppSubscriptionHandler(
	logger zerolog.Logger,
	shops ports.ShopRepository,
	machine *application.SubscriptionMachine,
	alerter ports.Alerter,
) *AppSubscriptionHandler {
	return &AppSubscriptionHandler{
		logger:  logger.With().Str("handler", "app_subscriptions_update").Logger(),
		shops:   shops,
		machine: machine,
		alerter: alerter,
	}
}

// CanHandle returns true if this handler can process the given topic
func (h *AppSubscriptionHandler) CanHandle(topic string) bool {
	return topic == domain.TopicAppSubscriptionUpdate
}

type appSubscriptionPayload struct {
	AppSubscription struct {
		AdminGraphqlAPIID     string     `json:"admin_graphql_api_id"`
		Name                  string     `json:"name"`
		Status                string     `json:"status"`
		AdminGraphqlAPIShopID string     `json:"admin_graphql_api_shop_id"`
		CreatedAt             *time.Time `json:"created_at"`
		UpdatedAt             *time.Time `json:"updated_at"`
	} `json:"app_subscription"`
}

// Handle processes a subscription update. Stale deliveries are reported as ignored.
func (h *AppSubscriptionHandler) Handle(ctx context.Context, event *domain.WebhookEvent) error {
	var payload appSubscriptionPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		return fmt.Errorf("failed to parse subscription webhook payload: %w", err)
	}
	sub := payload.AppSubscription
	if sub.Status == "" {
		return errors.New("subscription webhook payload has no status")
	}

	shopDomain := application.NormalizeShopDomain(event.Shop)
	shop, err := h.shops.GetShopByDomain(ctx, shopDomain)
	if err != nil {
		return fmt.Errorf("failed to get shop: %w", err)
	}
	if shop == nil {
		return fmt.Errorf("%w: unknown shop %q", application.ErrWebhookIgnored, shopDomain)
	}

	update := application.SubscriptionUpdate{
		ChargeID:       sub.AdminGraphqlAPIID,
		ProviderStatus: sub.Status,
		PlanName:       sub.Name,
		WebhookID:      event.Metadata.WebhookID,
	}
	switch {
	case sub.UpdatedAt != nil:
		update.UpdatedAt = sub.UpdatedAt.UTC()
	case event.Metadata.TriggeredAt != nil:
		update.UpdatedAt = event.Metadata.TriggeredAt.UTC()
	}

	transition, err := h.machine.Apply(ctx, shop, update)
	if err != nil {
		h.alerter.Alert(ctx, domain.Alert{
			Category: domain.AlertSubscriptionUpdate,
			Message:  "subscription update could not be applied",
			Context: map[string]string{
				"shop":       shopDomain,
				"shop_id":    shop.ID,
				"status":     sub.Status,
				"webhook_id": event.Metadata.WebhookID,
			},
			Cause: err,
		})
		return err
	}
	if !transition.Applied {
		return fmt.Errorf("%w: subscription update is not newer than stored state", application.ErrWebhookIgnored)
	}

	h.logger.Info().
		Str("shop", shopDomain).
		Str("status", string(transition.ToStatus)).
		Str("plan", string(transition.ToPlan)).
		Msg("Processed subscription webhook event")
	return nil
}

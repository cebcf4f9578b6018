package application

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"shop-integrations-layer/internal/domain"
	"shop-integrations-layer/internal/ports"

	"github.com/rs/zerolog"
)

// Shopify app subscription statuses.
const (
	ProviderStatusActive    = "ACTIVE"
	ProviderStatusPending   = "PENDING"
	ProviderStatusAccepted  = "ACCEPTED"
	ProviderStatusFrozen    = "FROZEN"
	ProviderStatusCancelled = "CANCELLED"
	ProviderStatusDeclined  = "DECLINED"
	ProviderStatusExpired   = "EXPIRED"
)

var providerStatuses = map[string]domain.SubscriptionStatus{
	ProviderStatusActive:    domain.StatusActive,
	ProviderStatusPending:   domain.StatusTrialing,
	ProviderStatusAccepted:  domain.StatusTrialing,
	ProviderStatusFrozen:    domain.StatusPastDue,
	ProviderStatusCancelled: domain.StatusCanceled,
	ProviderStatusDeclined:  domain.StatusCanceled,
	ProviderStatusExpired:   domain.StatusCanceled,
}

// Matched as whole words, in order, so "Enterprise Pro" selects enterprise.
var planKeywords = []struct {
	keyword string
	plan    domain.Plan
}{
	{"enterprise", domain.PlanEnterprise},
	{"pro", domain.PlanPro},
	{"growth", domain.PlanGrowth},
	{"starter", domain.PlanStarter},
}

// SubscriptionUpdate is a provider-reported subscription change.
type SubscriptionUpdate struct {
	ChargeID         string
	ProviderStatus   string
	PlanName         string
	TrialEndsAt      *time.Time
	CurrentPeriodEnd *time.Time
	// UpdatedAt is the provider's event clock.
	UpdatedAt time.Time
	WebhookID string
}

// Transition is the result of applying an update.
type Transition struct {
	Applied    bool
	FromStatus domain.SubscriptionStatus
	ToStatus   domain.SubscriptionStatus
	FromPlan   domain.Plan
	ToPlan     domain.Plan
}

// SubscriptionMachine maps provider billing states onto shops and audits every applied transition.
type SubscriptionMachine struct {
	shops         ports.ShopRepository
	audit         ports.AuditRepository
	alerter       ports.Alerter
	defaultStatus domain.SubscriptionStatus
	now           func() time.Time
	logger        zerolog.Logger
}

func NewSubscriptionMachine(shops ports.ShopRepository, audit ports.AuditRepository, alerter ports.Alerter, logger zerolog.Logger) *SubscriptionMachine {
	return &SubscriptionMachine{
		shops:         shops,
		audit:         audit,
		alerter:       alerter,
		defaultStatus: domain.StatusTrialing,
		now:           time.Now,
		logger:        logger.With().Str("component", "subscriptions").Logger(),
	}
}

// WithDefaultStatus sets the status unknown provider statuses map to.
func (m *SubscriptionMachine) WithDefaultStatus(status domain.SubscriptionStatus) *SubscriptionMachine {
	m.defaultStatus = status
	return m
}

// MapStatus maps every provider status to exactly one internal status.
func (m *SubscriptionMachine) MapStatus(providerStatus string) domain.SubscriptionStatus {
	if status, ok := providerStatuses[strings.ToUpper(strings.TrimSpace(providerStatus))]; ok {
		return status
	}
	return m.defaultStatus
}

// InferPlan picks the plan for a status. Cancellation always lands on the free plan.
func InferPlan(status domain.SubscriptionStatus, planName string, current domain.Plan) domain.Plan {
	switch status {
	case domain.StatusCanceled:
		return domain.PlanFree
	case domain.StatusActive:
		words := strings.FieldsFunc(strings.ToLower(planName), func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		for _, k := range planKeywords {
			for _, w := range words {
				if w == k.keyword {
					return k.plan
				}
			}
		}
	}
	if current == "" {
		return domain.PlanFree
	}
	return current
}

// Apply stores the update on the shop if it is newer than the stored subscription and
// writes a billing event for it. Stale updates return Applied=false and no error.
func (m *SubscriptionMachine) Apply(ctx context.Context, shop *domain.Shop, update SubscriptionUpdate) (*Transition, error) {
	status := m.MapStatus(update.ProviderStatus)
	plan := InferPlan(status, update.PlanName, shop.Plan)
	if update.UpdatedAt.IsZero() {
		update.UpdatedAt = m.now()
	}
	// Stores keep milliseconds; a finer clock would make redeliveries look newer.
	update.UpdatedAt = update.UpdatedAt.UTC().Truncate(time.Millisecond)

	t := &Transition{
		FromStatus: shop.Subscription.Status,
		ToStatus:   status,
		FromPlan:   shop.Plan,
		ToPlan:     plan,
	}

	applied, err := m.shops.ApplySubscription(ctx, shop.ID, plan, domain.Subscription{
		ChargeID:         update.ChargeID,
		ProviderStatus:   update.ProviderStatus,
		Status:           status,
		PlanName:         update.PlanName,
		TrialEndsAt:      update.TrialEndsAt,
		CurrentPeriodEnd: update.CurrentPeriodEnd,
		UpdatedAt:        update.UpdatedAt,
	})
	if err != nil {
		return nil, domain.E(domain.KindPersistence, "apply_subscription", fmt.Errorf("failed to update subscription: %w", err))
	}
	if !applied {
		m.logger.Info().
			Str("shopId", shop.ID).
			Str("providerStatus", update.ProviderStatus).
			Time("updatedAt", update.UpdatedAt).
			Msg("Ignoring stale subscription update")
		return t, nil
	}
	t.Applied = true

	event := &domain.BillingEvent{
		ID:             domain.NewID(),
		ShopID:         shop.ID,
		ShopDomain:     shop.Domain,
		WebhookID:      update.WebhookID,
		ChargeID:       update.ChargeID,
		ProviderStatus: update.ProviderStatus,
		FromStatus:     t.FromStatus,
		ToStatus:       t.ToStatus,
		FromPlan:       t.FromPlan,
		ToPlan:         t.ToPlan,
		OccurredAt:     update.UpdatedAt,
		CreatedAt:      m.now().UTC(),
	}
	if err := m.audit.InsertBillingEvent(ctx, event); err != nil {
		m.logger.Error().Err(err).Str("shopId", shop.ID).Msg("Failed to write billing event")
		m.alerter.Alert(ctx, domain.Alert{
			Category: domain.AlertBillingAudit,
			Message:  "subscription changed but the billing event was not recorded",
			Context: map[string]string{
				"shop_id":   shop.ID,
				"charge_id": update.ChargeID,
				"status":    string(status),
				"plan":      string(plan),
			},
			Cause: err,
		})
	}

	m.logger.Info().
		Str("shopId", shop.ID).
		Str("from", string(t.FromStatus)).
		Str("to", string(t.ToStatus)).
		Str("plan", string(t.ToPlan)).
		Msg("Subscription updated")
	return t, nil
}

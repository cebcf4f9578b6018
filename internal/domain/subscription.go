package domain

import "time"

// SubscriptionStatus is the internal billing status of a shop.
type SubscriptionStatus string

const (
	StatusTrialing SubscriptionStatus = "trialing"
	StatusActive   SubscriptionStatus = "active"
	StatusPastDue  SubscriptionStatus = "past_due"
	StatusCanceled SubscriptionStatus = "canceled"
	StatusInactive SubscriptionStatus = "inactive"
)

// Plan is the internal pricing tier.
type Plan string

const (
	PlanFree       Plan = "free"
	PlanStarter    Plan = "starter"
	PlanGrowth     Plan = "growth"
	PlanPro        Plan = "pro"
	PlanEnterprise Plan = "enterprise"
)

// Subscription is the billing state stored on a shop. Only the subscription machine writes it.
type Subscription struct {
	ChargeID         string             `json:"charge_id,omitempty"`
	ProviderStatus   string             `json:"provider_status,omitempty"`
	Status           SubscriptionStatus `json:"status"`
	PlanName         string             `json:"plan_name,omitempty"`
	TrialEndsAt      *time.Time         `json:"trial_ends_at,omitempty"`
	CurrentPeriodEnd *time.Time         `json:"current_period_end,omitempty"`
	// UpdatedAt is the provider's event clock, used to reject out-of-order deliveries.
	UpdatedAt time.Time `json:"updated_at"`
}

// BillingEvent is the append-only audit row written for every applied subscription transition.
type BillingEvent struct {
	ID             string             `json:"id"`
	ShopID         string             `json:"shop_id"`
	ShopDomain     string             `json:"shop_domain"`
	WebhookID      string             `json:"webhook_id,omitempty"`
	ChargeID       string             `json:"charge_id,omitempty"`
	ProviderStatus string             `json:"provider_status"`
	FromStatus     SubscriptionStatus `json:"from_status"`
	ToStatus       SubscriptionStatus `json:"to_status"`
	FromPlan       Plan               `json:"from_plan"`
	ToPlan         Plan               `json:"to_plan"`
	OccurredAt     time.Time          `json:"occurred_at"`
	CreatedAt      time.Time          `json:"created_at"`
}

package entity

import (
	"time"

	"shop-integrations-layer/internal/domain"
)

// MongoWebhookLogDoc is one inbound webhook delivery
type MongoWebhookLogDoc struct {
	ID         string    `bson:"_id"`
	Topic      string    `bson:"topic"`
	ShopDomain string    `bson:"shopDomain"`
	WebhookID  string    `bson:"webhookId,omitempty"`
	APIVersion string    `bson:"apiVersion,omitempty"`
	Outcome    string    `bson:"outcome"`
	Error      string    `bson:"error,omitempty"`
	ReceivedAt time.Time `bson:"receivedAt"`
}

// MongoWebhookLogDocFromDomain converts a webhook log entry to a MongoDB document
func MongoWebhookLogDocFromDomain(entry *domain.WebhookLog) *MongoWebhookLogDoc {
	return &MongoWebhookLogDoc{
		ID:         entry.ID,
		Topic:      entry.Topic,
		ShopDomain: entry.ShopDomain,
		WebhookID:  entry.WebhookID,
		APIVersion: entry.APIVersion,
		Outcome:    string(entry.Outcome),
		Error:      entry.Error,
		ReceivedAt: entry.ReceivedAt,
	}
}

// MongoBillingEventDoc is one applied subscription transition
type MongoBillingEventDoc struct {
	ID             string    `bson:"_id"`
	ShopID         string    `bson:"shopId"`
	ShopDomain     string    `bson:"shopDomain"`
	WebhookID      string    `bson:"webhookId,omitempty"`
	ChargeID       string    `bson:"chargeId,omitempty"`
	ProviderStatus string    `bson:"providerStatus"`
	FromStatus     string    `bson:"fromStatus"`
	ToStatus       string    `bson:"toStatus"`
	FromPlan       string    `bson:"fromPlan"`
	ToPlan         string    `bson:"toPlan"`
	OccurredAt     time.Time `bson:"occurredAt"`
	CreatedAt      time.Time `bson:"createdAt"`
}

// MongoBillingEventDocFromDomain converts a billing event to a MongoDB document
func MongoBillingEventDocFromDomain(event *domain.BillingEvent) *MongoBillingEventDoc {
	return &MongoBillingEventDoc{
		ID:             event.ID,
		ShopID:         event.ShopID,
		ShopDomain:     event.ShopDomain,
		WebhookID:      event.WebhookID,
		ChargeID:       event.ChargeID,
		ProviderStatus: event.ProviderStatus,
		FromStatus:     string(event.FromStatus),
		ToStatus:       string(event.ToStatus),
		FromPlan:       string(event.FromPlan),
		ToPlan:         string(event.ToPlan),
		OccurredAt:     event.OccurredAt,
		CreatedAt:      event.CreatedAt,
	}
}

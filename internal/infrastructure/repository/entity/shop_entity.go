package entity

import (
	"time"

	"shop-integrations-layer/internal/domain"
)

// MongoSubscriptionDoc is the subscription sub-document of a shop
type MongoSubscriptionDoc struct {
	ChargeID         string     `bson:"chargeId,omitempty"`
	ProviderStatus   string     `bson:"providerStatus,omitempty"`
	Status           string     `bson:"status"`
	PlanName         string     `bson:"planName,omitempty"`
	TrialEndsAt      *time.Time `bson:"trialEndsAt,omitempty"`
	CurrentPeriodEnd *time.Time `bson:"currentPeriodEnd,omitempty"`
	UpdatedAt        time.Time  `bson:"updatedAt"`
}

// MongoShopDoc represents a shop in MongoDB
type MongoShopDoc struct {
	ID            string               `bson:"_id"`
	Domain        string               `bson:"domain"`
	LinkedDomain  string               `bson:"linkedDomain,omitempty"`
	AccountType   string               `bson:"accountType"`
	Name          string               `bson:"name,omitempty"`
	Email         string               `bson:"email,omitempty"`
	IsActive      bool                 `bson:"isActive"`
	AccessToken   string               `bson:"accessToken"`
	Scopes        []string             `bson:"scopes,omitempty"`
	InstalledAt   *time.Time           `bson:"installedAt,omitempty"`
	UninstalledAt *time.Time           `bson:"uninstalledAt"`
	Plan          string               `bson:"plan"`
	Subscription  MongoSubscriptionDoc `bson:"subscription"`
	CreatedAt     time.Time            `bson:"createdAt"`
	UpdatedAt     time.Time            `bson:"updatedAt"`
}

// ToDomain converts the MongoDB document to a domain entity
func (d *MongoShopDoc) ToDomain() *domain.Shop {
	return &domain.Shop{
		ID:                   d.ID,
		Domain:               d.Domain,
		LinkedDomain:         d.LinkedDomain,
		AccountType:          domain.AccountType(d.AccountType),
		Name:                 d.Name,
		Email:                d.Email,
		IsActive:             d.IsActive,
		EncryptedAccessToken: d.AccessToken,
		Scopes:               d.Scopes,
		InstalledAt:          d.InstalledAt,
		UninstalledAt:        d.UninstalledAt,
		Plan:                 domain.Plan(d.Plan),
		Subscription:         d.Subscription.ToDomain(),
		CreatedAt:            d.CreatedAt,
		UpdatedAt:            d.UpdatedAt,
	}
}

// ToDomain converts the sub-document to a domain value
func (d MongoSubscriptionDoc) ToDomain() domain.Subscription {
	return domain.Subscription{
		ChargeID:         d.ChargeID,
		ProviderStatus:   d.ProviderStatus,
		Status:           domain.SubscriptionStatus(d.Status),
		PlanName:         d.PlanName,
		TrialEndsAt:      d.TrialEndsAt,
		CurrentPeriodEnd: d.CurrentPeriodEnd,
		UpdatedAt:        d.UpdatedAt,
	}
}

// MongoSubscriptionDocFromDomain converts a subscription to its sub-document
func MongoSubscriptionDocFromDomain(sub domain.Subscription) MongoSubscriptionDoc {
	return MongoSubscriptionDoc{
		ChargeID:         sub.ChargeID,
		ProviderStatus:   sub.ProviderStatus,
		Status:           string(sub.Status),
		PlanName:         sub.PlanName,
		TrialEndsAt:      sub.TrialEndsAt,
		CurrentPeriodEnd: sub.CurrentPeriodEnd,
		UpdatedAt:        sub.UpdatedAt,
	}
}

// MongoShopDocFromDomain converts a domain entity to a MongoDB document
func MongoShopDocFromDomain(shop *domain.Shop) *MongoShopDoc {
	return &MongoShopDoc{
		ID:            shop.ID,
		Domain:        shop.Domain,
		LinkedDomain:  shop.LinkedDomain,
		AccountType:   string(shop.AccountType),
		Name:          shop.Name,
		Email:         shop.Email,
		IsActive:      shop.IsActive,
		AccessToken:   shop.EncryptedAccessToken,
		Scopes:        shop.Scopes,
		InstalledAt:   shop.InstalledAt,
		UninstalledAt: shop.UninstalledAt,
		Plan:          string(shop.Plan),
		Subscription:  MongoSubscriptionDocFromDomain(shop.Subscription),
		CreatedAt:     shop.CreatedAt,
		UpdatedAt:     shop.UpdatedAt,
	}
}

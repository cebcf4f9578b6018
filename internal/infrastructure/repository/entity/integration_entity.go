package entity

import (
	"time"

	"shop-integrations-layer/internal/domain"
)

// MongoIntegrationDoc represents an integration in MongoDB
type MongoIntegrationDoc struct {
	ID                  string                     `bson:"_id"`
	ShopID              string                     `bson:"shopId"`
	Provider            string                     `bson:"provider"`
	AccessToken         string                     `bson:"accessToken"`
	RefreshToken        string                     `bson:"refreshToken,omitempty"`
	TokenExpiresAt      *time.Time                 `bson:"tokenExpiresAt,omitempty"`
	ProviderAccountID   string                     `bson:"providerAccountId"`
	ProviderAccountName string                     `bson:"providerAccountName"`
	Metadata            domain.IntegrationMetadata `bson:"metadata"`
	IsActive            bool                       `bson:"isActive"`
	ConnectedAt         time.Time                  `bson:"connectedAt"`
	CreatedAt           time.Time                  `bson:"createdAt"`
	UpdatedAt           time.Time                  `bson:"updatedAt"`
}

// ToDomain converts the MongoDB document to a domain entity
func (d *MongoIntegrationDoc) ToDomain() *domain.Integration {
	return &domain.Integration{
		ID:                    d.ID,
		ShopID:                d.ShopID,
		Provider:              domain.Provider(d.Provider),
		EncryptedAccessToken:  d.AccessToken,
		EncryptedRefreshToken: d.RefreshToken,
		TokenExpiresAt:        d.TokenExpiresAt,
		ProviderAccountID:     d.ProviderAccountID,
		ProviderAccountName:   d.ProviderAccountName,
		Metadata:              d.Metadata,
		IsActive:              d.IsActive,
		ConnectedAt:           d.ConnectedAt,
		CreatedAt:             d.CreatedAt,
		UpdatedAt:             d.UpdatedAt,
	}
}

// MongoIntegrationDocFromDomain converts a domain entity to a MongoDB document
func MongoIntegrationDocFromDomain(integration *domain.Integration) *MongoIntegrationDoc {
	return &MongoIntegrationDoc{
		ID:                  integration.ID,
		ShopID:              integration.ShopID,
		Provider:            string(integration.Provider),
		AccessToken:         integration.EncryptedAccessToken,
		RefreshToken:        integration.EncryptedRefreshToken,
		TokenExpiresAt:      integration.TokenExpiresAt,
		ProviderAccountID:   integration.ProviderAccountID,
		ProviderAccountName: integration.ProviderAccountName,
		Metadata:            integration.Metadata,
		IsActive:            integration.IsActive,
		ConnectedAt:         integration.ConnectedAt,
		CreatedAt:           integration.CreatedAt,
		UpdatedAt:           integration.UpdatedAt,
	}
}

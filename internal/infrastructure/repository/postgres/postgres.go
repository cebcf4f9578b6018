// Package postgres provides a PostgreSQL implementation of ports.Store.
// Upserts rely on unique constraints; no explicit locking is used.
package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"shop-integrations-layer/internal/domain"
	"shop-integrations-layer/internal/ports"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schema string

// Config holds PostgreSQL storage configuration
type Config struct {
	ConnectionString string

	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		MaxConns:        10,
		MinConns:        2,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
	}
}

// Store implements ports.Store using PostgreSQL
type Store struct {
	pool *pgxpool.Pool
}

var _ ports.Store = (*Store)(nil)

// New creates a new PostgreSQL store and applies the bootstrap schema
func New(ctx context.Context, config Config) (*Store, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required")
	}

	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	if config.MaxConns > 0 {
		poolConfig.MaxConns = config.MaxConns
	}
	if config.MinConns > 0 {
		poolConfig.MinConns = config.MinConns
	}
	if config.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = config.MaxConnLifetime
	}
	if config.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = config.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Close closes the connection pool
func (s *Store) Close(context.Context) error {
	s.pool.Close()
	return nil
}

const shopColumns = `id, domain, COALESCE(linked_domain, ''), account_type, name, email, is_active,
	access_token, scopes, installed_at, uninstalled_at, plan, subscription, created_at, updated_at`

func scanShop(row pgx.Row) (*domain.Shop, error) {
	var (
		shop        domain.Shop
		accountType string
		plan        string
		sub         []byte
	)
	err := row.Scan(&shop.ID, &shop.Domain, &shop.LinkedDomain, &accountType, &shop.Name, &shop.Email, &shop.IsActive,
		&shop.EncryptedAccessToken, &shop.Scopes, &shop.InstalledAt, &shop.UninstalledAt, &plan, &sub,
		&shop.CreatedAt, &shop.UpdatedAt)
	if err != nil {
		return nil, err
	}
	shop.AccountType = domain.AccountType(accountType)
	shop.Plan = domain.Plan(plan)
	if len(sub) > 0 {
		if err := json.Unmarshal(sub, &shop.Subscription); err != nil {
			return nil, fmt.Errorf("failed to decode subscription: %w", err)
		}
	}
	return &shop, nil
}

func (s *Store) getShop(ctx context.Context, where string, args ...interface{}) (*domain.Shop, error) {
	shop, err := scanShop(s.pool.QueryRow(ctx, `SELECT `+shopColumns+` FROM shops WHERE `+where, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get shop: %w", err)
	}
	return shop, nil
}

// GetShopByID implements ports.ShopRepository
func (s *Store) GetShopByID(ctx context.Context, id string) (*domain.Shop, error) {
	return s.getShop(ctx, `id = $1`, id)
}

// GetShopByDomain implements ports.ShopRepository
func (s *Store) GetShopByDomain(ctx context.Context, shopDomain string) (*domain.Shop, error) {
	return s.getShop(ctx, `domain = $1`, shopDomain)
}

// GetShopByLinkedDomain implements ports.ShopRepository
func (s *Store) GetShopByLinkedDomain(ctx context.Context, linkedDomain string, accountType domain.AccountType) (*domain.Shop, error) {
	if linkedDomain == "" {
		return nil, nil
	}
	return s.getShop(ctx, `linked_domain = $1 AND account_type = $2 LIMIT 1`, linkedDomain, string(accountType))
}

// SaveShop implements ports.ShopRepository
func (s *Store) SaveShop(ctx context.Context, shop *domain.Shop) (*domain.Shop, error) {
	id := shop.ID
	if id == "" {
		id = domain.NewID()
	}
	plan := shop.Plan
	if plan == "" {
		plan = domain.PlanFree
	}
	sub, err := json.Marshal(shop.Subscription)
	if err != nil {
		return nil, fmt.Errorf("failed to encode subscription: %w", err)
	}
	scopes := shop.Scopes
	if scopes == nil {
		scopes = []string{}
	}
	now := time.Now().UTC()

	saved, err := scanShop(s.pool.QueryRow(ctx,
		`INSERT INTO shops (id, domain, linked_domain, account_type, name, email, is_active, access_token,
				scopes, installed_at, uninstalled_at, plan, subscription, created_at, updated_at)
			VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $14)
			ON CONFLICT (domain) DO UPDATE SET
				account_type = EXCLUDED.account_type,
				name = EXCLUDED.name,
				email = EXCLUDED.email,
				is_active = EXCLUDED.is_active,
				access_token = EXCLUDED.access_token,
				scopes = EXCLUDED.scopes,
				installed_at = EXCLUDED.installed_at,
				uninstalled_at = EXCLUDED.uninstalled_at,
				updated_at = EXCLUDED.updated_at
			RETURNING `+shopColumns,
		id, shop.Domain, shop.LinkedDomain, string(shop.AccountType), shop.Name, shop.Email, shop.IsActive,
		shop.EncryptedAccessToken, scopes, shop.InstalledAt, shop.UninstalledAt, string(plan), sub, now,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to save shop: %w", err)
	}
	return saved, nil
}

// MarkUninstalled implements ports.ShopRepository
func (s *Store) MarkUninstalled(ctx context.Context, shopID string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE shops SET is_active = FALSE, access_token = '', uninstalled_at = $2, updated_at = $3
			WHERE id = $1`,
		shopID, at, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to mark shop uninstalled: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrShopNotFound
	}
	return nil
}

// ApplySubscription implements ports.ShopRepository with a conditional update on the event clock
func (s *Store) ApplySubscription(ctx context.Context, shopID string, plan domain.Plan, sub domain.Subscription) (bool, error) {
	encoded, err := json.Marshal(sub)
	if err != nil {
		return false, fmt.Errorf("failed to encode subscription: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE shops SET plan = $2, subscription = $3, subscription_updated_at = $4, updated_at = $5
			WHERE id = $1 AND (subscription_updated_at IS NULL OR subscription_updated_at < $4)`,
		shopID, string(plan), encoded, sub.UpdatedAt, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("failed to apply subscription: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

const integrationColumns = `id, shop_id, provider, access_token, refresh_token, token_expires_at,
	provider_account_id, provider_account_name, metadata, is_active, connected_at, created_at, updated_at`

func scanIntegration(row pgx.Row) (*domain.Integration, error) {
	var (
		in       domain.Integration
		provider string
		metadata []byte
	)
	err := row.Scan(&in.ID, &in.ShopID, &provider, &in.EncryptedAccessToken, &in.EncryptedRefreshToken,
		&in.TokenExpiresAt, &in.ProviderAccountID, &in.ProviderAccountName, &metadata, &in.IsActive,
		&in.ConnectedAt, &in.CreatedAt, &in.UpdatedAt)
	if err != nil {
		return nil, err
	}
	in.Provider = domain.Provider(provider)
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &in.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode metadata: %w", err)
		}
	}
	return &in, nil
}

// UpsertIntegration implements ports.IntegrationRepository
func (s *Store) UpsertIntegration(ctx context.Context, integration *domain.Integration) (*domain.Integration, error) {
	metadata, err := json.Marshal(integration.Metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to encode metadata: %w", err)
	}
	now := time.Now().UTC()
	connectedAt := integration.ConnectedAt
	if connectedAt.IsZero() {
		connectedAt = now
	}

	saved, err := scanIntegration(s.pool.QueryRow(ctx,
		`INSERT INTO integrations (id, shop_id, provider, access_token, refresh_token, token_expires_at,
				provider_account_id, provider_account_name, metadata, is_active, connected_at, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)
			ON CONFLICT (shop_id, provider) DO UPDATE SET
				access_token = EXCLUDED.access_token,
				refresh_token = EXCLUDED.refresh_token,
				token_expires_at = EXCLUDED.token_expires_at,
				provider_account_id = EXCLUDED.provider_account_id,
				provider_account_name = EXCLUDED.provider_account_name,
				metadata = EXCLUDED.metadata,
				is_active = EXCLUDED.is_active,
				connected_at = EXCLUDED.connected_at,
				updated_at = EXCLUDED.updated_at
			RETURNING `+integrationColumns,
		domain.NewID(), integration.ShopID, string(integration.Provider), integration.EncryptedAccessToken,
		integration.EncryptedRefreshToken, integration.TokenExpiresAt, integration.ProviderAccountID,
		integration.ProviderAccountName, metadata, integration.IsActive, connectedAt, now,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to upsert integration: %w", err)
	}
	return saved, nil
}

// GetIntegration implements ports.IntegrationRepository
func (s *Store) GetIntegration(ctx context.Context, shopID string, provider domain.Provider) (*domain.Integration, error) {
	in, err := scanIntegration(s.pool.QueryRow(ctx,
		`SELECT `+integrationColumns+` FROM integrations WHERE shop_id = $1 AND provider = $2`,
		shopID, string(provider)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get integration: %w", err)
	}
	return in, nil
}

// ListIntegrations implements ports.IntegrationRepository
func (s *Store) ListIntegrations(ctx context.Context, shopID string) ([]*domain.Integration, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+integrationColumns+` FROM integrations WHERE shop_id = $1 ORDER BY provider`, shopID)
	if err != nil {
		return nil, fmt.Errorf("failed to list integrations: %w", err)
	}
	defer rows.Close()

	var out []*domain.Integration
	for rows.Next() {
		in, err := scanIntegration(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan integration: %w", err)
		}
		out = append(out, in)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list integrations: %w", err)
	}
	return out, nil
}

// DeactivateIntegration implements ports.IntegrationRepository
func (s *Store) DeactivateIntegration(ctx context.Context, shopID string, provider domain.Provider) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE integrations SET is_active = FALSE, access_token = '', refresh_token = '', updated_at = $3
			WHERE shop_id = $1 AND provider = $2`,
		shopID, string(provider), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to deactivate integration: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrIntegrationNotFound
	}
	return nil
}

// DeactivateIntegrations implements ports.IntegrationRepository
func (s *Store) DeactivateIntegrations(ctx context.Context, shopID string) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE integrations SET is_active = FALSE, access_token = '', refresh_token = '', updated_at = $2
			WHERE shop_id = $1 AND is_active`,
		shopID, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to deactivate integrations: %w", err)
	}
	return tag.RowsAffected(), nil
}

// InsertWebhookLog implements ports.AuditRepository
func (s *Store) InsertWebhookLog(ctx context.Context, entry *domain.WebhookLog) error {
	id := entry.ID
	if id == "" {
		id = domain.NewID()
	}
	receivedAt := entry.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO webhook_logs (id, topic, shop_domain, webhook_id, api_version, outcome, error, received_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		id, entry.Topic, entry.ShopDomain, entry.WebhookID, entry.APIVersion, string(entry.Outcome), entry.Error, receivedAt)
	if err != nil {
		return fmt.Errorf("failed to log webhook: %w", err)
	}
	return nil
}

// InsertBillingEvent implements ports.AuditRepository
func (s *Store) InsertBillingEvent(ctx context.Context, event *domain.BillingEvent) error {
	id := event.ID
	if id == "" {
		id = domain.NewID()
	}
	createdAt := event.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO billing_events (id, shop_id, shop_domain, webhook_id, charge_id, provider_status,
				from_status, to_status, from_plan, to_plan, occurred_at, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		id, event.ShopID, event.ShopDomain, event.WebhookID, event.ChargeID, event.ProviderStatus,
		string(event.FromStatus), string(event.ToStatus), string(event.FromPlan), string(event.ToPlan),
		event.OccurredAt, createdAt)
	if err != nil {
		return fmt.Errorf("failed to insert billing event: %w", err)
	}
	return nil
}

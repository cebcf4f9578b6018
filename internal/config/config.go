// Package config loads runtime configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Store drivers.
const (
	StoreMongo    = "mongo"
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Config contains runtime configuration values. Secrets are never logged.
type Config struct {
	Port        string
	AppURL      string
	FrontendURL string
	LogLevel    string

	StoreDriver     string
	MongoURI        string
	MongoDatabase   string
	DatabaseURL     string
	RedisURL        string
	CORSAllowedOrig []string

	EncryptionKeys      string
	EncryptionActiveKey string
	StateSecret         string
	StateTTL            time.Duration

	ShopifyAPIKey        string
	ShopifyAPISecret     string
	ShopifyScopes        []string
	ShopifyAPIVersion    string
	ShopifyWebhookSecret string

	MetaAppID        string
	MetaAppSecret    string
	MetaGraphVersion string
	MetaScopes       []string

	GoogleClientID       string
	GoogleClientSecret   string
	GoogleDeveloperToken string

	ProviderTimeout time.Duration
	CallbackGrace   time.Duration
	TokenCacheTTL   time.Duration
	AlertWebhookURL string
	AlertQueueSize  int
}

// Load reads configuration from environment variables with sane defaults.
func Load() (Config, error) {
	cfg := Config{
		Port:        getEnv("PORT", "8080"),
		AppURL:      strings.TrimRight(getEnv("APP_URL", "http://localhost:8080"), "/"),
		FrontendURL: strings.TrimRight(getEnv("FRONTEND_URL", "http://localhost:5173"), "/"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		StoreDriver:     strings.ToLower(getEnv("STORE_DRIVER", StoreMongo)),
		MongoURI:        getEnv("MONGODB_URI", "mongodb://localhost:27017"),
		MongoDatabase:   getEnv("MONGODB_DATABASE", "shop_integrations"),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		RedisURL:        os.Getenv("REDIS_URL"),
		CORSAllowedOrig: getList("CORS_ALLOWED_ORIGINS", []string{"*"}),

		EncryptionKeys:      os.Getenv("ENCRYPTION_KEYS"),
		EncryptionActiveKey: os.Getenv("ENCRYPTION_ACTIVE_KEY"),
		StateSecret:         os.Getenv("STATE_SECRET"),
		StateTTL:            getDuration("STATE_TTL", 10*time.Minute),

		ShopifyAPIKey:        os.Getenv("SHOPIFY_API_KEY"),
		ShopifyAPISecret:     os.Getenv("SHOPIFY_API_SECRET"),
		ShopifyScopes:        getList("SHOPIFY_SCOPES", []string{"read_products", "write_products", "read_orders"}),
		ShopifyAPIVersion:    getEnv("SHOPIFY_API_VERSION", "2024-01"),
		ShopifyWebhookSecret: os.Getenv("SHOPIFY_WEBHOOK_SECRET"),

		MetaAppID:        os.Getenv("META_APP_ID"),
		MetaAppSecret:    os.Getenv("META_APP_SECRET"),
		MetaGraphVersion: getEnv("META_GRAPH_VERSION", "v19.0"),
		MetaScopes:       getList("META_SCOPES", nil),

		GoogleClientID:       os.Getenv("GOOGLE_CLIENT_ID"),
		GoogleClientSecret:   os.Getenv("GOOGLE_CLIENT_SECRET"),
		GoogleDeveloperToken: os.Getenv("GOOGLE_ADS_DEVELOPER_TOKEN"),

		ProviderTimeout: getDuration("PROVIDER_TIMEOUT", 10*time.Second),
		CallbackGrace:   getDuration("CALLBACK_GRACE", 30*time.Second),
		TokenCacheTTL:   getDuration("TOKEN_CACHE_TTL", 15*time.Minute),
		AlertWebhookURL: os.Getenv("ALERT_WEBHOOK_URL"),
		AlertQueueSize:  getInt("ALERT_QUEUE_SIZE", 256),
	}

	if cfg.ShopifyWebhookSecret == "" {
		cfg.ShopifyWebhookSecret = cfg.ShopifyAPISecret
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.EncryptionKeys == "" {
		return fmt.Errorf("ENCRYPTION_KEYS is required")
	}
	if len(c.StateSecret) < 32 {
		return fmt.Errorf("STATE_SECRET must be at least 32 bytes")
	}
	if c.StateTTL <= 0 || c.StateTTL > 10*time.Minute {
		return fmt.Errorf("STATE_TTL must be between 0 and 10m, got %s", c.StateTTL)
	}
	switch c.StoreDriver {
	case StoreMongo, StoreMemory:
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_DRIVER=postgres")
		}
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	if c.ProviderTimeout <= 0 {
		return fmt.Errorf("PROVIDER_TIMEOUT must be positive")
	}
	return nil
}

// RedirectURL returns the public callback URL for a provider path segment.
func (c Config) RedirectURL(provider string) string {
	return c.AppURL + "/auth/" + provider + "/callback"
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		d, err := time.ParseDuration(v)
		if err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getList(key string, def []string) []string {
	if v, ok := os.LookupEnv(key); ok {
		parts := strings.Split(v, ",")
		var cleaned []string
		for _, p := range parts {
			trimmed := strings.TrimSpace(p)
			if trimmed != "" {
				cleaned = append(cleaned, trimmed)
			}
		}
		if len(cleaned) > 0 {
			return cleaned
		}
	}
	return def
}

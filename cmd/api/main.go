package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"shop-integrations-layer/internal/application"
	"shop-integrations-layer/internal/application/webhook_handlers"
	"shop-integrations-layer/internal/config"
	"shop-integrations-layer/internal/domain"
	"shop-integrations-layer/internal/infrastructure/alerting"
	"shop-integrations-layer/internal/infrastructure/api"
	"shop-integrations-layer/internal/infrastructure/cache"
	"shop-integrations-layer/internal/infrastructure/encryption"
	"shop-integrations-layer/internal/infrastructure/metrics"
	"shop-integrations-layer/internal/infrastructure/providers/google"
	"shop-integrations-layer/internal/infrastructure/providers/meta"
	"shop-integrations-layer/internal/infrastructure/repository"
	"shop-integrations-layer/internal/infrastructure/repository/memory"
	"shop-integrations-layer/internal/infrastructure/repository/postgres"
	shopifyinfra "shop-integrations-layer/internal/infrastructure/shopify"
	"shop-integrations-layer/internal/infrastructure/statetoken"
	"shop-integrations-layer/internal/ports"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const shutdownTimeout = 15 * time.Second

func main() {
	// Initialize logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if err := godotenv.Load(); err != nil {
		logger.Warn().Msg("Warning: .env file not found")
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("Invalid configuration")
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil && level != zerolog.NoLevel {
		logger = logger.Level(level)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("Server stopped with error")
	}
	logger.Info().Msg("Server stopped")
}

func run(ctx context.Context, cfg config.Config, logger zerolog.Logger) error {
	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics(reg, metrics.DefaultNamespace)

	// Encryption and state tokens
	keys, err := encryption.ParseKeys(cfg.EncryptionKeys)
	if err != nil {
		return fmt.Errorf("failed to parse encryption keys: %w", err)
	}
	keyRing, err := encryption.NewKeyRing(keys, cfg.EncryptionActiveKey)
	if err != nil {
		return fmt.Errorf("failed to initialize encryption service: %w", err)
	}
	logger.Info().Str("activeKeyId", keyRing.ActiveKeyID()).Int("keys", len(keys)).Msg("Encryption key ring loaded")
	codec, err := statetoken.NewCodec([]byte(cfg.StateSecret), cfg.StateTTL)
	if err != nil {
		return fmt.Errorf("failed to initialize state codec: %w", err)
	}

	// Storage
	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := store.Close(closeCtx); err != nil {
			logger.Warn().Err(err).Msg("Failed to close store")
		}
	}()

	tokenCache, nonces, closeCache, err := openCache(ctx, cfg, keyRing, logger)
	if err != nil {
		return err
	}
	defer closeCache()

	// Alerting
	alerter := alerting.New(alerting.Config{
		WebhookURL: cfg.AlertWebhookURL,
		QueueSize:  cfg.AlertQueueSize,
	}, m, logger)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := alerter.Close(closeCtx); err != nil {
			logger.Warn().Err(err).Msg("Alert queue not fully drained")
		}
	}()

	// Provider clients
	shopifyClient := shopifyinfra.NewClient(shopifyinfra.Config{
		APIKey:      cfg.ShopifyAPIKey,
		APISecret:   cfg.ShopifyAPISecret,
		Scopes:      cfg.ShopifyScopes,
		RedirectURL: cfg.RedirectURL(string(domain.ProviderShopify)),
		APIVersion:  cfg.ShopifyAPIVersion,
		Timeout:     cfg.ProviderTimeout,
	}, m, logger)
	metaClient := meta.NewClient(meta.Config{
		AppID:        cfg.MetaAppID,
		AppSecret:    cfg.MetaAppSecret,
		RedirectURL:  cfg.RedirectURL(string(domain.ProviderMeta)),
		Scopes:       cfg.MetaScopes,
		GraphVersion: cfg.MetaGraphVersion,
		Timeout:      cfg.ProviderTimeout,
	}, m, logger)
	googleClient := google.NewClient(google.Config{
		ClientID:       cfg.GoogleClientID,
		ClientSecret:   cfg.GoogleClientSecret,
		RedirectURL:    cfg.RedirectURL(string(domain.ProviderGoogle)),
		DeveloperToken: cfg.GoogleDeveloperToken,
		Timeout:        cfg.ProviderTimeout,
	}, m, logger)
	for _, p := range []ports.ProviderClient{metaClient, googleClient} {
		if !p.Configured() {
			logger.Warn().Str("provider", string(p.Name())).Msg("Provider credentials missing, connect flow disabled")
		}
	}

	// Initialize application services
	credentialsService := application.NewCredentialsService(store, keyRing, tokenCache, cfg.TokenCacheTTL, logger)

	oauthService := application.NewOAuthService(application.OAuthConfig{
		Providers:     []ports.ProviderClient{metaClient, googleClient},
		Store:         store,
		Codec:         codec,
		Nonces:        nonces,
		Encryption:    keyRing,
		Credentials:   credentialsService,
		Alerter:       alerter,
		Metrics:       m,
		FrontendURL:   cfg.FrontendURL,
		CallbackGrace: cfg.CallbackGrace,
	}, logger)

	shopifyService := application.NewShopifyService(application.ShopifyConfig{
		Client:        shopifyClient,
		Shops:         store,
		Codec:         codec,
		Nonces:        nonces,
		Encryption:    keyRing,
		Credentials:   credentialsService,
		AppURL:        cfg.AppURL,
		FrontendURL:   cfg.FrontendURL,
		CallbackGrace: cfg.CallbackGrace,
	}, logger)

	integrationService := application.NewIntegrationService(store, credentialsService, logger)
	subscriptions := application.NewSubscriptionMachine(store, store, alerter, logger)

	// Initialize webhook dispatcher and register handlers
	verifier := shopifyinfra.NewWebhookVerifier(cfg.ShopifyWebhookSecret, domain.WebhookTopics())
	webhookDispatcher := application.NewWebhookDispatcher(verifier, store, alerter, m, logger)
	webhookDispatcher.RegisterHandler(webhook_handlers.NewAppUninstalledHandler(logger, store, credentialsService, alerter))
	webhookDispatcher.RegisterHandler(webhook_handlers.NewAppSubscriptionHandler(logger, store, subscriptions, alerter))

	// Setup router
	router := api.NewRouter(api.Deps{
		OAuth:          oauthService,
		Install:        shopifyService,
		Integrations:   integrationService,
		Webhooks:       webhookDispatcher,
		Sessions:       shopifyinfra.NewSessionVerifier(cfg.ShopifyAPIKey, cfg.ShopifyAPISecret),
		Gatherer:       reg,
		AllowedOrigins: cfg.CORSAllowedOrig,
	}, logger)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		// Callbacks may spend the full grace period talking to providers.
		WriteTimeout: cfg.CallbackGrace + 10*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("port", cfg.Port).Str("store", cfg.StoreDriver).Msg("Starting API server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info().Msg("Shutting down API server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	return nil
}

func openStore(ctx context.Context, cfg config.Config, logger zerolog.Logger) (ports.Store, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	switch cfg.StoreDriver {
	case config.StorePostgres:
		pgCfg := postgres.DefaultConfig()
		pgCfg.ConnectionString = cfg.DatabaseURL
		store, err := postgres.New(connectCtx, pgCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres store: %w", err)
		}
		return store, nil
	case config.StoreMemory:
		logger.Warn().Msg("Using in-memory store, data is lost on restart")
		return memory.New(), nil
	default:
		store, err := repository.NewMongoStore(connectCtx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, fmt.Errorf("failed to open mongo store: %w", err)
		}
		return store, nil
	}
}

// openCache returns the token cache and state nonce store. Without REDIS_URL both live in process,
// which only holds for a single replica.
func openCache(ctx context.Context, cfg config.Config, sealer ports.EncryptionService, logger zerolog.Logger) (ports.TokenCache, ports.NonceStore, func(), error) {
	if cfg.RedisURL == "" {
		logger.Warn().Msg("REDIS_URL not set, using in-process token cache and nonce store")
		tokens := cache.NewMemoryTokenCache()
		cache.StartJanitor(ctx, tokens, cache.JanitorInterval(cfg.TokenCacheTTL))
		return tokens, cache.NewMemoryNonceStore(), func() {}, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to parse REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	tokens, err := cache.NewRedisTokenCache(client, "", sealer)
	if err != nil {
		_ = client.Close()
		return nil, nil, nil, err
	}
	nonces, err := cache.NewRedisNonceStore(client, "")
	if err != nil {
		_ = client.Close()
		return nil, nil, nil, err
	}
	closeFn := func() {
		if err := client.Close(); err != nil {
			logger.Warn().Err(err).Msg("Failed to close Redis client")
		}
	}
	return tokens, nonces, closeFn, nil
}

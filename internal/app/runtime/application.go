// Package runtime wires configuration, storage, embedding and the HTTP
// server into a runnable application.
package runtime

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
	openai "github.com/sashabaranov/go-openai"

	app "github.com/acilabs/toolcatalog/internal/app"
	"github.com/acilabs/toolcatalog/internal/app/embedding"
	"github.com/acilabs/toolcatalog/internal/app/encryption"
	"github.com/acilabs/toolcatalog/internal/app/httpapi"
	"github.com/acilabs/toolcatalog/internal/app/storage/postgres"
	"github.com/acilabs/toolcatalog/internal/config"
	"github.com/acilabs/toolcatalog/internal/platform/migrations"
	"github.com/acilabs/toolcatalog/pkg/logger"
)

// Application wires core dependencies and manages the HTTP server lifecycle.
type Application struct {
	cfg        *config.Config
	log        *logger.Logger
	httpServer *http.Server
	db         *sql.DB
	redis      *redis.Client
}

// NewApplication builds the application from configuration: database pool,
// schema migrations, capability detection, embedding provider with optional
// Redis cache, credential cipher and the REST handler.
func NewApplication(cfg *config.Config) (*Application, error) {
	log := logger.New(cfg.Logging)

	var platformKeyID *uuid.UUID
	if cfg.PlatformKeyID != "" {
		id, err := uuid.Parse(cfg.PlatformKeyID)
		if err != nil {
			return nil, fmt.Errorf("parse platform_key_id: %w", err)
		}
		platformKeyID = &id
	}

	if err := migrations.CheckDimension(cfg.Embedding.Dimension); err != nil {
		return nil, err
	}

	db, err := openDatabase(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := migrations.Apply(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}

	store := postgres.New(db, postgres.Options{
		PlatformKeyID: platformKeyID,
		Logger:        log.WithComponent("postgres"),
	})
	if err := store.DetectCapabilities(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("detect schema capabilities: %w", err)
	}

	cipher, err := buildCipher(cfg.Encryption, log)
	if err != nil {
		db.Close()
		return nil, err
	}

	embedder, redisClient, err := buildEmbedder(cfg, log)
	if err != nil {
		db.Close()
		return nil, err
	}

	application, err := app.New(app.Stores{
		Apps:           store,
		Functions:      store,
		Configurations: store,
		Transactor:     store,
	}, app.Options{
		Embedder:      embedder,
		Cipher:        cipher,
		PlatformKeyID: platformKeyID,
		Logger:        log,
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	handler := httpapi.NewHandler(httpapi.Options{
		Catalog:        application.Catalog,
		Configurations: application.Configurations,
		RateLimit:      httpapi.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst),
		HealthCheck:    db.Ping,
		Logger:         log.WithComponent("httpapi"),
	})

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      handler,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSec) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeoutSec) * time.Second,
	}

	return &Application{
		cfg:        cfg,
		log:        log,
		httpServer: srv,
		db:         db,
		redis:      redisClient,
	}, nil
}

// Run starts the HTTP server and blocks until the context is cancelled or
// the server fails.
func (a *Application) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		a.log.Infof("HTTP server listening on %s", a.cfg.Server.Addr())
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Shutdown gracefully stops the HTTP server and closes connections.
func (a *Application) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}

	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.WithError(err).Warn("error closing redis connection")
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.WithError(err).Warn("error closing database connection")
		}
	}
	return nil
}

// Logger exposes the application logger for the entrypoint.
func (a *Application) Logger() *logger.Logger {
	return a.log
}

func openDatabase(cfg config.DatabaseConfig) (*sql.DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database dsn not configured")
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, err
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetimeSec > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func buildCipher(cfg config.EncryptionConfig, log *logger.Logger) (encryption.Cipher, error) {
	if cfg.Disabled {
		log.Warn("credential encryption disabled; storing credentials unsealed")
		return encryption.Noop{}, nil
	}
	if cfg.Key != "" {
		key, err := encryption.ParseKey(cfg.Key)
		if err != nil {
			return nil, fmt.Errorf("parse encryption key: %w", err)
		}
		return encryption.NewAESGCM(encryption.StaticKey(key))
	}
	source, err := encryption.NewKeyVaultSource(cfg.KeyVaultURL, cfg.KeyVaultSecretName)
	if err != nil {
		return nil, fmt.Errorf("configure key vault source: %w", err)
	}
	return encryption.NewAESGCM(source)
}

func buildEmbedder(cfg *config.Config, log *logger.Logger) (embedding.Provider, *redis.Client, error) {
	if cfg.Embedding.APIKey == "" {
		return nil, nil, fmt.Errorf("embedding api key not configured")
	}
	clientCfg := openai.DefaultConfig(cfg.Embedding.APIKey)
	if cfg.Embedding.BaseURL != "" {
		clientCfg.BaseURL = cfg.Embedding.BaseURL
	}
	provider, err := embedding.NewOpenAIProvider(embedding.OpenAIOptions{
		Client:    openai.NewClientWithConfig(clientCfg),
		Model:     cfg.Embedding.Model,
		Dimension: cfg.Embedding.Dimension,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("configure embedding provider: %w", err)
	}
	if !cfg.Redis.Enabled {
		return provider, nil, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		log.WithError(err).Warn("redis unreachable; embedding cache disabled")
		client.Close()
		return provider, nil, nil
	}
	cache := embedding.NewRedisCache(client, cfg.Redis.TTL())
	return embedding.NewCachedProvider(provider, cache, log.WithComponent("embedding")), client, nil
}

// Package config loads service configuration from YAML with environment
// variable overrides layered on top.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joeshaw/envdecode"
	"gopkg.in/yaml.v3"

	"github.com/acilabs/toolcatalog/pkg/logger"
)

// Config is the full configuration for the catalog server.
type Config struct {
	Server     ServerConfig         `yaml:"server"`
	Database   DatabaseConfig       `yaml:"database"`
	Embedding  EmbeddingConfig      `yaml:"embedding"`
	Redis      RedisConfig          `yaml:"redis"`
	Encryption EncryptionConfig     `yaml:"encryption"`
	RateLimit  RateLimitConfig      `yaml:"rate_limit"`
	Logging    logger.LoggingConfig `yaml:"logging"`

	// PlatformKeyID identifies the owner whose records serve as the
	// shared fallback tier. Empty means NULL-owner rows fill that role.
	PlatformKeyID string `yaml:"platform_key_id" env:"PLATFORM_KEY_ID"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Host            string `yaml:"host" env:"SERVER_HOST"`
	Port            int    `yaml:"port" env:"SERVER_PORT"`
	ReadTimeoutSec  int    `yaml:"read_timeout_sec"`
	WriteTimeoutSec int    `yaml:"write_timeout_sec"`
	IdleTimeoutSec  int    `yaml:"idle_timeout_sec"`
}

// Addr returns the listen address in host:port form.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig controls the Postgres connection pool.
type DatabaseConfig struct {
	DSN                string `yaml:"dsn" env:"DATABASE_DSN"`
	MaxOpenConns       int    `yaml:"max_open_conns"`
	MaxIdleConns       int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeSec int    `yaml:"conn_max_lifetime_sec"`
}

// ConnMaxLifetime returns the pool lifetime as a duration.
func (c DatabaseConfig) ConnMaxLifetime() time.Duration {
	return time.Duration(c.ConnMaxLifetimeSec) * time.Second
}

// EmbeddingConfig controls the embedding provider.
type EmbeddingConfig struct {
	APIKey    string `yaml:"api_key" env:"OPENAI_API_KEY"`
	BaseURL   string `yaml:"base_url" env:"OPENAI_BASE_URL"`
	Model     string `yaml:"model"`
	Dimension int    `yaml:"dimension"`
}

// RedisConfig controls the optional embedding cache.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr" env:"REDIS_ADDR"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db"`
	TTLSec   int    `yaml:"ttl_sec"`
}

// TTL returns the cache entry lifetime. Zero means no expiry.
func (c RedisConfig) TTL() time.Duration {
	return time.Duration(c.TTLSec) * time.Second
}

// EncryptionConfig selects the credential cipher key source. Key takes
// priority when set; otherwise the key is fetched from Azure Key Vault.
type EncryptionConfig struct {
	Key                string `yaml:"key" env:"ENCRYPTION_KEY"`
	KeyVaultURL        string `yaml:"key_vault_url" env:"KEY_VAULT_URL"`
	KeyVaultSecretName string `yaml:"key_vault_secret_name"`
	Disabled           bool   `yaml:"disabled"`
}

// RateLimitConfig controls per-client request throttling.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// Default returns a configuration with workable local defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeoutSec:  15,
			WriteTimeoutSec: 30,
			IdleTimeoutSec:  60,
		},
		Database: DatabaseConfig{
			MaxOpenConns:       25,
			MaxIdleConns:       5,
			ConnMaxLifetimeSec: 300,
		},
		Embedding: EmbeddingConfig{
			Model:     "text-embedding-3-small",
			Dimension: 1024,
		},
		Redis: RedisConfig{
			TTLSec: 86400,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 50,
			Burst:             100,
		},
		Logging: logger.LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// Load reads configuration from the YAML file at path, then applies
// environment variable overrides. An empty path skips the file and uses
// defaults plus the environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := envdecode.Decode(cfg); err != nil && err != envdecode.ErrNoTargetFieldsAreSet {
		return nil, fmt.Errorf("apply environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the fields the server cannot run without.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Embedding.Dimension <= 0 {
		return fmt.Errorf("embedding.dimension must be positive")
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr required when redis is enabled")
	}
	if !c.Encryption.Disabled && c.Encryption.Key == "" && c.Encryption.KeyVaultURL == "" {
		return fmt.Errorf("encryption requires a key or a key vault URL")
	}
	if c.Encryption.KeyVaultURL != "" && c.Encryption.KeyVaultSecretName == "" {
		return fmt.Errorf("encryption.key_vault_secret_name required with a key vault URL")
	}
	return nil
}

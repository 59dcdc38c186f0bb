// Package config defines the top-level configuration for the auction house
// service and provides validation helpers.
package config

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by AUCTIONHOUSE_* environment variables.
type Config struct {
	Chain    ChainConfig    `toml:"chain"`
	Storage  StorageConfig  `toml:"storage"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Server   ServerConfig   `toml:"server"`
	Keeper   KeeperConfig   `toml:"keeper"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// ChainConfig describes the simulated chain: the operator account that
// deploys auctions, the faucet, and the genesis allocation.
type ChainConfig struct {
	// PrivateKey or EncryptedKeyPath+KeyPassword select the operator key.
	// The factory is deployed at the operator's address.
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
	// FactoryAddress is used when no operator key is configured.
	FactoryAddress string `toml:"factory_address"`
	FaucetEnabled  bool   `toml:"faucet_enabled"`
	// FaucetAmount is the wei minted per faucet call, as a decimal string.
	FaucetAmount string `toml:"faucet_amount"`
	// Genesis maps addresses to initial wei balances, applied only when the
	// account store is empty.
	Genesis map[string]string `toml:"genesis"`
}

// HasOperatorKey reports whether an operator key source is configured.
func (c ChainConfig) HasOperatorKey() bool {
	return c.PrivateKey != "" || c.EncryptedKeyPath != ""
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	// Driver is "memory" or "postgres".
	Driver string `toml:"driver"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters. Redis backs the
// transaction lock, the snapshot cache, rate limiting and the event bus.
type RedisConfig struct {
	Enabled      bool     `toml:"enabled"`
	Addr         string   `toml:"addr"`
	Password     string   `toml:"password"`
	DB           int      `toml:"db"`
	PoolSize     int      `toml:"pool_size"`
	MaxRetries   int      `toml:"max_retries"`
	TLSEnabled   bool     `toml:"tls_enabled"`
	CacheTTL     duration `toml:"cache_ttl"`
	StreamMaxLen int64    `toml:"stream_max_len"`
	LockTTL      duration `toml:"lock_ttl"`
}

// S3Config holds S3-compatible object storage parameters for event archives.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// APIKey, when set, is required in X-API-Key on every /api request.
	APIKey string `toml:"api_key"`
	// RequireSignatures makes X-Caller count only when backed by an
	// EIP-191 signature. Turning it off outside the memory driver also
	// needs AllowUnsignedCallers.
	RequireSignatures    bool     `toml:"require_signatures"`
	AllowUnsignedCallers bool     `toml:"allow_unsigned_callers"`
	SignatureMaxSkew     duration `toml:"signature_max_skew"`
	// RateLimitPerMinute caps requests per client IP; 0 disables it. The
	// limiter lives in Redis and is skipped when Redis is disabled.
	RateLimitPerMinute int `toml:"rate_limit_per_minute"`
}

// KeeperConfig holds the background keeper parameters.
type KeeperConfig struct {
	Interval       duration `toml:"interval"`
	ArchiveEnabled bool     `toml:"archive_enabled"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramAPIBase   string   `toml:"telegram_api_base"`
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Chain: ChainConfig{
			FactoryAddress: "0x5FbDB2315678afecb367f032d93F642f64180aa3",
			FaucetEnabled:  false,
			FaucetAmount:   "1000000000000000000",
			Genesis:        map[string]string{},
		},
		Storage: StorageConfig{Driver: "memory"},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "auctionhouse",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:      false,
			Addr:         "localhost:6379",
			PoolSize:     20,
			MaxRetries:   3,
			CacheTTL:     duration{10 * time.Minute},
			StreamMaxLen: 10000,
			LockTTL:      duration{5 * time.Second},
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "auctionhouse-archive",
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Enabled:            true,
			Port:               8000,
			CORSOrigins:        []string{"http://localhost:3000", "http://localhost:5173"},
			RequireSignatures:  true,
			SignatureMaxSkew:   duration{5 * time.Minute},
			RateLimitPerMinute: 120,
		},
		Keeper: KeeperConfig{
			Interval:       duration{5 * time.Second},
			ArchiveEnabled: false,
		},
		Notify: NotifyConfig{
			Events: []string{"auction_created", "auction_ended"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server": true,
	"keeper": true,
	"full":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validDrivers = map[string]bool{
	"memory":   true,
	"postgres": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	mode := strings.ToLower(c.Mode)
	if !validModes[mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, keeper, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Chain
	if c.Chain.EncryptedKeyPath != "" && c.Chain.KeyPassword == "" {
		errs = append(errs, "chain: key_password is required when encrypted_key_path is set")
	}
	if !c.Chain.HasOperatorKey() && !common.IsHexAddress(c.Chain.FactoryAddress) {
		errs = append(errs, fmt.Sprintf("chain: factory_address %q is not a hex address", c.Chain.FactoryAddress))
	}
	if c.Chain.FaucetEnabled {
		if v, ok := new(big.Int).SetString(c.Chain.FaucetAmount, 10); !ok || v.Sign() <= 0 {
			errs = append(errs, fmt.Sprintf("chain: faucet_amount must be a positive integer, got %q", c.Chain.FaucetAmount))
		}
	}
	for addr, amount := range c.Chain.Genesis {
		if !common.IsHexAddress(addr) {
			errs = append(errs, fmt.Sprintf("chain: genesis address %q is not a hex address", addr))
		}
		if v, ok := new(big.Int).SetString(amount, 10); !ok || v.Sign() < 0 {
			errs = append(errs, fmt.Sprintf("chain: genesis amount for %s must be a non-negative integer, got %q", addr, amount))
		}
	}

	// Storage
	driver := strings.ToLower(c.Storage.Driver)
	if !validDrivers[driver] {
		errs = append(errs, fmt.Sprintf("storage: unknown driver %q (valid: memory, postgres)", c.Storage.Driver))
	}
	if driver == "postgres" {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
		if c.Redis.LockTTL.Duration <= 0 {
			errs = append(errs, "redis: lock_ttl must be > 0")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
	}

	// Keeper
	if mode == "keeper" || mode == "full" {
		if c.Keeper.Interval.Duration <= 0 {
			errs = append(errs, "keeper: interval must be > 0")
		}
		if c.Keeper.ArchiveEnabled && !c.S3.Enabled {
			errs = append(errs, "keeper: archive_enabled requires s3.enabled")
		}
	}
	// A standalone keeper shares state with separate server processes.
	if mode == "keeper" && (driver != "postgres" || !c.Redis.Enabled) {
		errs = append(errs, `keeper: mode "keeper" requires storage.driver = "postgres" and redis.enabled`)
	}

	// Server
	if c.Server.Enabled && mode != "keeper" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RequireSignatures && c.Server.SignatureMaxSkew.Duration <= 0 {
			errs = append(errs, "server: signature_max_skew must be > 0 when require_signatures is set")
		}
		if !c.Server.RequireSignatures && driver != "memory" && !c.Server.AllowUnsignedCallers {
			errs = append(errs, `server: require_signatures = false needs storage.driver = "memory" or allow_unsigned_callers`)
		}
		if c.Server.RateLimitPerMinute < 0 {
			errs = append(errs, "server: rate_limit_per_minute must be >= 0")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

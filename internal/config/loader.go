package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads the TOML configuration file at path (skipped when path is
// empty), merges it on top of the built-in defaults, applies AUCTIONHOUSE_*
// environment variable overrides, and returns the final Config. The
// returned Config has NOT been validated; call Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known AUCTIONHOUSE_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Chain ──
	setStr(&cfg.Chain.PrivateKey, "AUCTIONHOUSE_CHAIN_PRIVATE_KEY")
	setStr(&cfg.Chain.EncryptedKeyPath, "AUCTIONHOUSE_CHAIN_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Chain.KeyPassword, "AUCTIONHOUSE_CHAIN_KEY_PASSWORD")
	setStr(&cfg.Chain.FactoryAddress, "AUCTIONHOUSE_CHAIN_FACTORY_ADDRESS")
	setBool(&cfg.Chain.FaucetEnabled, "AUCTIONHOUSE_CHAIN_FAUCET_ENABLED")
	setStr(&cfg.Chain.FaucetAmount, "AUCTIONHOUSE_CHAIN_FAUCET_AMOUNT")

	// ── Storage ──
	setStr(&cfg.Storage.Driver, "AUCTIONHOUSE_STORAGE_DRIVER")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "AUCTIONHOUSE_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "AUCTIONHOUSE_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "AUCTIONHOUSE_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "AUCTIONHOUSE_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "AUCTIONHOUSE_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "AUCTIONHOUSE_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "AUCTIONHOUSE_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "AUCTIONHOUSE_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "AUCTIONHOUSE_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "AUCTIONHOUSE_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "AUCTIONHOUSE_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "AUCTIONHOUSE_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "AUCTIONHOUSE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "AUCTIONHOUSE_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "AUCTIONHOUSE_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "AUCTIONHOUSE_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "AUCTIONHOUSE_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.CacheTTL, "AUCTIONHOUSE_REDIS_CACHE_TTL")
	setInt64(&cfg.Redis.StreamMaxLen, "AUCTIONHOUSE_REDIS_STREAM_MAX_LEN")
	setDuration(&cfg.Redis.LockTTL, "AUCTIONHOUSE_REDIS_LOCK_TTL")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "AUCTIONHOUSE_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "AUCTIONHOUSE_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "AUCTIONHOUSE_S3_REGION")
	setStr(&cfg.S3.Bucket, "AUCTIONHOUSE_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "AUCTIONHOUSE_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "AUCTIONHOUSE_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "AUCTIONHOUSE_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "AUCTIONHOUSE_S3_FORCE_PATH_STYLE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "AUCTIONHOUSE_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "AUCTIONHOUSE_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "AUCTIONHOUSE_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "AUCTIONHOUSE_SERVER_API_KEY")
	setBool(&cfg.Server.RequireSignatures, "AUCTIONHOUSE_SERVER_REQUIRE_SIGNATURES")
	setBool(&cfg.Server.AllowUnsignedCallers, "AUCTIONHOUSE_SERVER_ALLOW_UNSIGNED_CALLERS")
	setDuration(&cfg.Server.SignatureMaxSkew, "AUCTIONHOUSE_SERVER_SIGNATURE_MAX_SKEW")
	setInt(&cfg.Server.RateLimitPerMinute, "AUCTIONHOUSE_SERVER_RATE_LIMIT_PER_MINUTE")

	// ── Keeper ──
	setDuration(&cfg.Keeper.Interval, "AUCTIONHOUSE_KEEPER_INTERVAL")
	setBool(&cfg.Keeper.ArchiveEnabled, "AUCTIONHOUSE_KEEPER_ARCHIVE_ENABLED")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramAPIBase, "AUCTIONHOUSE_NOTIFY_TELEGRAM_API_BASE")
	setStr(&cfg.Notify.TelegramToken, "AUCTIONHOUSE_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "AUCTIONHOUSE_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "AUCTIONHOUSE_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "AUCTIONHOUSE_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "AUCTIONHOUSE_MODE")
	setStr(&cfg.LogLevel, "AUCTIONHOUSE_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}

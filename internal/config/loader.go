package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies LIQUIDATOR_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known LIQUIDATOR_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "LIQUIDATOR_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "LIQUIDATOR_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "LIQUIDATOR_WALLET_KEY_PASSWORD")

	// ── Chain ──
	setStr(&cfg.Chain.RPCURL, "LIQUIDATOR_CHAIN_RPC_URL")
	setInt64(&cfg.Chain.ChainID, "LIQUIDATOR_CHAIN_CHAIN_ID")
	setStr(&cfg.Chain.LoanManagerAddress, "LIQUIDATOR_CHAIN_LOAN_MANAGER_ADDRESS")
	setDuration(&cfg.Chain.CallTimeout, "LIQUIDATOR_CHAIN_CALL_TIMEOUT")

	// ── Ponder ──
	setStr(&cfg.Ponder.GraphQLURL, "LIQUIDATOR_PONDER_GRAPHQL_URL")
	setStr(&cfg.Ponder.APIKey, "LIQUIDATOR_PONDER_API_KEY")

	// ── Liquidation ──
	setBool(&cfg.Liquidation.Enabled, "LIQUIDATOR_LIQUIDATION_ENABLED")
	setDuration(&cfg.Liquidation.CheckInterval, "LIQUIDATOR_LIQUIDATION_CHECK_INTERVAL")
	setInt(&cfg.Liquidation.BatchSize, "LIQUIDATOR_LIQUIDATION_BATCH_SIZE")
	setInt(&cfg.Liquidation.MaxAttempts, "LIQUIDATOR_LIQUIDATION_MAX_ATTEMPTS")
	setDuration(&cfg.Liquidation.RecordDelay, "LIQUIDATOR_LIQUIDATION_RECORD_DELAY")
	setDuration(&cfg.Liquidation.LockTTL, "LIQUIDATOR_LIQUIDATION_LOCK_TTL")
	setInt(&cfg.Liquidation.TriggerRateLimit, "LIQUIDATOR_LIQUIDATION_TRIGGER_RATE_LIMIT")
	setDuration(&cfg.Liquidation.TriggerRateWindow, "LIQUIDATOR_LIQUIDATION_TRIGGER_RATE_WINDOW")

	// ── Ingestion ──
	setDuration(&cfg.Ingestion.PollInterval, "LIQUIDATOR_INGESTION_POLL_INTERVAL")
	setInt(&cfg.Ingestion.PageSize, "LIQUIDATOR_INGESTION_PAGE_SIZE")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "LIQUIDATOR_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "LIQUIDATOR_DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "LIQUIDATOR_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "LIQUIDATOR_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "LIQUIDATOR_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "LIQUIDATOR_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "LIQUIDATOR_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "LIQUIDATOR_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "LIQUIDATOR_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "LIQUIDATOR_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "LIQUIDATOR_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "LIQUIDATOR_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "LIQUIDATOR_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "LIQUIDATOR_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "LIQUIDATOR_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "LIQUIDATOR_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "LIQUIDATOR_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "LIQUIDATOR_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "LIQUIDATOR_S3_REGION")
	setStr(&cfg.S3.Bucket, "LIQUIDATOR_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "LIQUIDATOR_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "LIQUIDATOR_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "LIQUIDATOR_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "LIQUIDATOR_S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "LIQUIDATOR_ARCHIVE_ENABLED")
	setStr(&cfg.Archive.Cron, "LIQUIDATOR_ARCHIVE_CRON")
	setInt(&cfg.Archive.RetentionDays, "LIQUIDATOR_ARCHIVE_RETENTION_DAYS")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "LIQUIDATOR_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "LIQUIDATOR_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "LIQUIDATOR_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "LIQUIDATOR_SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.RateLimit, "LIQUIDATOR_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateLimitWindow, "LIQUIDATOR_SERVER_RATE_LIMIT_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "LIQUIDATOR_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "LIQUIDATOR_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "LIQUIDATOR_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "LIQUIDATOR_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "LIQUIDATOR_MODE")
	setStr(&cfg.LogLevel, "LIQUIDATOR_LOG_LEVEL")
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

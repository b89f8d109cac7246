package config

import (
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies PERPD_* environment variable overrides, and
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

// applyEnvOverrides reads well-known PERPD_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Chain ──
	setStr(&cfg.Chain.Backend, "PERPD_CHAIN_BACKEND")
	setStr(&cfg.Chain.RPCURL, "PERPD_CHAIN_RPC_URL")
	setInt64(&cfg.Chain.ChainID, "PERPD_CHAIN_ID")
	setUint64(&cfg.Chain.StartCursor, "PERPD_CHAIN_START_CURSOR")
	setStr(&cfg.Chain.PackageID, "PERPD_CHAIN_PACKAGE_ID")
	setStr(&cfg.Chain.ContractAddress, "PERPD_CHAIN_CONTRACT_ADDRESS")

	// ── Oracle ──
	setStr(&cfg.Oracle.HTTPEndpoint, "PERPD_ORACLE_HTTP_ENDPOINT")
	setStr(&cfg.Oracle.WSEndpoint, "PERPD_ORACLE_WS_ENDPOINT")
	setInt(&cfg.Oracle.MaxPriceAgeSeconds, "PERPD_ORACLE_MAX_PRICE_AGE_SECONDS")
	setFloat64(&cfg.Oracle.MaxConfidenceRatio, "PERPD_ORACLE_MAX_CONFIDENCE_RATIO")
	setBool(&cfg.Oracle.StreamEnabled, "PERPD_ORACLE_STREAM_ENABLED")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "PERPD_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "PERPD_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "PERPD_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "PERPD_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "PERPD_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "PERPD_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "PERPD_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "PERPD_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "PERPD_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "PERPD_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "PERPD_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "PERPD_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "PERPD_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "PERPD_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "PERPD_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "PERPD_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "PERPD_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "PERPD_S3_REGION")
	setStr(&cfg.S3.Bucket, "PERPD_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "PERPD_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "PERPD_S3_SECRET_KEY")
	setBool(&cfg.S3.ForcePathStyle, "PERPD_S3_FORCE_PATH_STYLE")

	// ── Indexer ──
	setInt(&cfg.Indexer.PollIntervalSeconds, "PERPD_INDEXER_POLL_INTERVAL_SECONDS")
	setUint64(&cfg.Indexer.BatchSize, "PERPD_INDEXER_BATCH_SIZE")

	// ── Risk ──
	setInt(&cfg.Risk.CheckIntervalSeconds, "PERPD_RISK_CHECK_INTERVAL_SECONDS")
	setFloat64(&cfg.Risk.MinHealthFactor, "PERPD_RISK_MIN_HEALTH_FACTOR")
	setInt(&cfg.Risk.CooldownSeconds, "PERPD_RISK_COOLDOWN_SECONDS")
	setFloat64(&cfg.Risk.RewardRate, "PERPD_RISK_REWARD_RATE")
	setBool(&cfg.Risk.AutoSubmit, "PERPD_RISK_AUTO_SUBMIT")

	// ── Funding ──
	setInt(&cfg.Funding.CheckIntervalSeconds, "PERPD_FUNDING_CHECK_INTERVAL_SECONDS")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "PERPD_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.IntervalHours, "PERPD_ARCHIVE_INTERVAL_HOURS")
	setInt(&cfg.Archive.RetentionDays, "PERPD_ARCHIVE_RETENTION_DAYS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "PERPD_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "PERPD_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhook, "PERPD_NOTIFY_DISCORD_WEBHOOK")

	// ── Misc ──
	setStr(&cfg.Mode, "PERPD_MODE")
	setStr(&cfg.LogLevel, "PERPD_LOG_LEVEL")
}

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

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
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

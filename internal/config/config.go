// Package config defines the top-level configuration for the perpetuals
// backend and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by PERPD_* environment variables.
type Config struct {
	Chain    ChainConfig    `toml:"chain"`
	Oracle   OracleConfig   `toml:"oracle"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Indexer  IndexerConfig  `toml:"indexer"`
	Risk     RiskConfig     `toml:"risk"`
	Funding  FundingConfig  `toml:"funding"`
	Archive  ArchiveConfig  `toml:"archive"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// ChainConfig selects and parameterizes the ledger event source backend.
type ChainConfig struct {
	// Backend is one of "onechain", "evm", or "mock".
	Backend     string `toml:"backend"`
	RPCURL      string `toml:"rpc_url"`
	ChainID     int64  `toml:"chain_id"`
	StartCursor uint64 `toml:"start_cursor"`
	// PackageID qualifies Move event types on the onechain backend.
	PackageID string `toml:"package_id"`
	// ContractAddress is the perpetuals core contract on the evm backend.
	ContractAddress string `toml:"contract_address"`
}

// OracleConfig holds Pyth Hermes endpoints and gating thresholds.
type OracleConfig struct {
	HTTPEndpoint       string  `toml:"http_endpoint"`
	WSEndpoint         string  `toml:"ws_endpoint"`
	CacheTTLSeconds    int     `toml:"cache_ttl_seconds"`
	MaxPriceAgeSeconds int     `toml:"max_price_age_seconds"`
	MaxConfidenceRatio float64 `toml:"max_confidence_ratio"`
	StreamEnabled      bool    `toml:"stream_enabled"`
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

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for the cold
// storage archiver.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// IndexerConfig holds event ingestion parameters.
type IndexerConfig struct {
	PollIntervalSeconds int    `toml:"poll_interval_seconds"`
	BatchSize           uint64 `toml:"batch_size"`
}

// RiskConfig holds liquidation scanning parameters.
type RiskConfig struct {
	CheckIntervalSeconds int     `toml:"check_interval_seconds"`
	MinHealthFactor      float64 `toml:"min_health_factor"`
	CooldownSeconds      int     `toml:"cooldown_seconds"`
	RewardRate           float64 `toml:"reward_rate"`
	AutoSubmit           bool    `toml:"auto_submit"`
}

// FundingConfig holds funding scheduler parameters.
type FundingConfig struct {
	CheckIntervalSeconds int `toml:"check_interval_seconds"`
}

// ArchiveConfig holds cold-storage export parameters.
type ArchiveConfig struct {
	Enabled       bool `toml:"enabled"`
	IntervalHours int  `toml:"interval_hours"`
	RetentionDays int  `toml:"retention_days"`
	BatchSize     int  `toml:"batch_size"`
}

// NotifyConfig holds notification channel credentials and filtering.
type NotifyConfig struct {
	TelegramToken  string   `toml:"telegram_token"`
	TelegramChatID string   `toml:"telegram_chat_id"`
	DiscordWebhook string   `toml:"discord_webhook"`
	Events         []string `toml:"events"`
}

// Defaults returns a Config pre-populated with sane defaults. Values from
// the TOML file and environment overrides are applied on top.
func Defaults() Config {
	return Config{
		Chain: ChainConfig{
			Backend:     "onechain",
			ChainID:     1,
			StartCursor: 0,
		},
		Oracle: OracleConfig{
			HTTPEndpoint:       "https://hermes.pyth.network",
			WSEndpoint:         "wss://hermes.pyth.network/ws",
			CacheTTLSeconds:    10,
			MaxPriceAgeSeconds: 30,
			MaxConfidenceRatio: 0.01,
		},
		Postgres: PostgresConfig{
			Port:         5432,
			SSLMode:      "disable",
			PoolMaxConns: 10,
			PoolMinConns: 2,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
		},
		Indexer: IndexerConfig{
			PollIntervalSeconds: 5,
			BatchSize:           1000,
		},
		Risk: RiskConfig{
			CheckIntervalSeconds: 10,
			MinHealthFactor:      1.0,
			CooldownSeconds:      30,
			RewardRate:           0.5,
		},
		Funding: FundingConfig{
			CheckIntervalSeconds: 60,
		},
		Archive: ArchiveConfig{
			IntervalHours: 24,
			RetentionDays: 30,
			BatchSize:     5000,
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// PollInterval returns the indexer poll interval as a duration.
func (c IndexerConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// CheckInterval returns the scan interval as a duration.
func (c RiskConfig) CheckInterval() time.Duration {
	return time.Duration(c.CheckIntervalSeconds) * time.Second
}

// Cooldown returns the per-position cooldown window as a duration.
func (c RiskConfig) Cooldown() time.Duration {
	return time.Duration(c.CooldownSeconds) * time.Second
}

// CheckInterval returns the scheduler wake-up interval as a duration.
func (c FundingConfig) CheckInterval() time.Duration {
	return time.Duration(c.CheckIntervalSeconds) * time.Second
}

// MaxPriceAge returns the staleness threshold as a duration.
func (c OracleConfig) MaxPriceAge() time.Duration {
	return time.Duration(c.MaxPriceAgeSeconds) * time.Second
}

// CacheTTL returns the oracle price cache TTL as a duration.
func (c OracleConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

// Interval returns the archive interval as a duration.
func (c ArchiveConfig) Interval() time.Duration {
	return time.Duration(c.IntervalHours) * time.Hour
}

// Retention returns the archive retention window as a duration.
func (c ArchiveConfig) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// validModes lists the supported operating modes.
var validModes = map[string]bool{
	"full":    true,
	"indexer": true,
	"risk":    true,
	"funding": true,
	"mock":    true,
}

// Validate checks the configuration for internal consistency. It is called
// once at startup after Load.
func (c *Config) Validate() error {
	mode := strings.ToLower(c.Mode)
	if !validModes[mode] {
		return fmt.Errorf("config: unsupported mode %q", c.Mode)
	}

	switch c.Chain.Backend {
	case "onechain":
		if mode != "mock" && c.Chain.RPCURL == "" {
			return fmt.Errorf("config: chain.rpc_url is required for the onechain backend")
		}
	case "evm":
		if c.Chain.RPCURL == "" {
			return fmt.Errorf("config: chain.rpc_url is required for the evm backend")
		}
		if c.Chain.ContractAddress == "" {
			return fmt.Errorf("config: chain.contract_address is required for the evm backend")
		}
	case "mock":
	default:
		return fmt.Errorf("config: unsupported chain backend %q", c.Chain.Backend)
	}

	if mode != "mock" {
		if c.Postgres.DSN == "" && c.Postgres.Host == "" {
			return fmt.Errorf("config: postgres.dsn or postgres.host is required")
		}
		if c.Redis.Addr == "" {
			return fmt.Errorf("config: redis.addr is required")
		}
	}

	if c.Indexer.BatchSize == 0 {
		return fmt.Errorf("config: indexer.batch_size must be positive")
	}
	if c.Indexer.PollIntervalSeconds <= 0 {
		return fmt.Errorf("config: indexer.poll_interval_seconds must be positive")
	}
	if c.Risk.MinHealthFactor <= 0 {
		return fmt.Errorf("config: risk.min_health_factor must be positive")
	}
	if c.Oracle.MaxConfidenceRatio <= 0 {
		return fmt.Errorf("config: oracle.max_confidence_ratio must be positive")
	}

	if c.Archive.Enabled {
		if c.S3.Bucket == "" || c.S3.Region == "" {
			return fmt.Errorf("config: s3.bucket and s3.region are required when archiving is enabled")
		}
	}

	return nil
}

// Package config provides configuration management using viper.
// It supports loading from YAML files and environment variable overrides.
package config

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Entitlement modes for the credit ledger.
const (
	EntitlementSingle  = "single"  // one credit row grants one attempt; used flips on consume
	EntitlementCounter = "counter" // balance counter, each purchase adds attempts
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	Database DatabaseConfig `mapstructure:"database"`
	Admin    AdminConfig    `mapstructure:"admin"`
	Token    TokenConfig    `mapstructure:"token"`
	Game     GameConfig     `mapstructure:"game"`
	Payment  PaymentConfig  `mapstructure:"payment"`
	Chain    ChainConfig    `mapstructure:"chain"`
	Prize    PrizeConfig    `mapstructure:"prize"`
	Archive  ArchiveConfig  `mapstructure:"archive"`
	Cache    CacheConfig    `mapstructure:"cache"`
}

// ServerConfig holds HTTP listener configuration.
type ServerConfig struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	AllowOrigins string        `mapstructure:"allow_origins"`
}

// LogConfig holds logger configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // console or json
}

// DatabaseConfig holds PostgreSQL connection configuration.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	PoolSize        int           `mapstructure:"pool_size"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	TxRetries       int           `mapstructure:"tx_retries"`
}

// AdminConfig holds the admin API key list.
type AdminConfig struct {
	Keys []string `mapstructure:"keys"`
}

// TokenConfig holds run token key material.
type TokenConfig struct {
	Secret string `mapstructure:"secret"`
}

// GameConfig holds entitlement and run policy.
type GameConfig struct {
	EntitlementMode string `mapstructure:"entitlement_mode"`
	MaxTries        int    `mapstructure:"max_tries"`
	// MaxRunAge bounds the age of a run token at submission. Zero leaves it
	// unbounded, so only the event freeze stops late submissions.
	MaxRunAge time.Duration `mapstructure:"max_run_age"`
	ClockSkew time.Duration `mapstructure:"clock_skew"`
	// CreditExpiryInterval is how often credit rows of ended events are removed.
	CreditExpiryInterval time.Duration `mapstructure:"credit_expiry_interval"`
}

// PaymentConfig holds payment intent configuration.
type PaymentConfig struct {
	FeeOrbWLD         string        `mapstructure:"fee_orb_wld"`
	FeeDeviceWLD      string        `mapstructure:"fee_device_wld"`
	IntentTTL         time.Duration `mapstructure:"intent_ttl"`
	ExpiryGrace       time.Duration `mapstructure:"expiry_grace"` // sweep waits this long past expiry before giving up on an intent
	MaxTrustedCredits int           `mapstructure:"max_trusted_credits"`
	AuditDelay        time.Duration `mapstructure:"audit_delay"`
	AuditTimeout      time.Duration `mapstructure:"audit_timeout"`
	SweepInterval     time.Duration `mapstructure:"sweep_interval"`
	SweepConcurrency  int           `mapstructure:"sweep_concurrency"`
}

// ChainConfig holds chain oracle configuration.
type ChainConfig struct {
	RPCURL           string `mapstructure:"rpc_url"`
	TokenAddress     string `mapstructure:"token_address"`
	TreasuryAddress  string `mapstructure:"treasury_address"`
	TokenDecimals    int32  `mapstructure:"token_decimals"`
	MinConfirmations uint64 `mapstructure:"min_confirmations"`
	ReorgWindow      uint64 `mapstructure:"reorg_window"`
	MaxScanBlocks    uint64 `mapstructure:"max_scan_blocks"`
}

// PrizeConfig holds payout policy.
type PrizeConfig struct {
	Table                []string `mapstructure:"table"` // percentage of pool per rank, rank 1 first
	UnverifiedMultiplier string   `mapstructure:"unverified_multiplier"`
	PayoutDecimals       int32    `mapstructure:"payout_decimals"`
}

// ArchiveConfig holds the S3-compatible bucket that receives winners snapshots.
type ArchiveConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	Endpoint        string `mapstructure:"endpoint"`
	Region          string `mapstructure:"region"`
	Bucket          string `mapstructure:"bucket"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	AccessKeySecret string `mapstructure:"access_key_secret"`
	Prefix          string `mapstructure:"prefix"`
}

// CacheConfig holds read-path cache TTLs.
type CacheConfig struct {
	LeaderboardTTL  time.Duration `mapstructure:"leaderboard_ttl"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

// DSN returns the PostgreSQL connection string.
func (d *DatabaseConfig) DSN() string {
	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, sslMode,
	)
}

// Load reads configuration from file and environment variables.
// It looks for config.yaml in the config directory.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// Environment variables use underscore separator and uppercase
	// e.g., TOKEN_SECRET, DATABASE_HOST, CHAIN_RPC_URL
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK - we can use env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.allow_origins", "*")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "arena")
	v.SetDefault("database.name", "arena")
	v.SetDefault("database.pool_size", 20)
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")
	v.SetDefault("database.tx_retries", 3)
	v.SetDefault("database.password", "")
	v.SetDefault("database.sslmode", "disable")

	// Keys without a meaningful default are registered so AutomaticEnv can
	// still resolve them during Unmarshal.
	v.SetDefault("token.secret", "")
	v.SetDefault("admin.keys", []string{})

	v.SetDefault("game.entitlement_mode", EntitlementSingle)
	v.SetDefault("game.max_tries", 1)
	v.SetDefault("game.max_run_age", "0s")
	v.SetDefault("game.clock_skew", "2s")
	v.SetDefault("game.credit_expiry_interval", "1h")

	v.SetDefault("payment.fee_orb_wld", "0.5")
	v.SetDefault("payment.fee_device_wld", "1")
	v.SetDefault("payment.intent_ttl", "15m")
	v.SetDefault("payment.expiry_grace", "5m")
	v.SetDefault("payment.max_trusted_credits", 1)
	v.SetDefault("payment.audit_delay", "30s")
	v.SetDefault("payment.audit_timeout", "20s")
	v.SetDefault("payment.sweep_interval", "1m")
	v.SetDefault("payment.sweep_concurrency", 4)

	v.SetDefault("chain.rpc_url", "")
	v.SetDefault("chain.token_address", "")
	v.SetDefault("chain.treasury_address", "")
	v.SetDefault("chain.token_decimals", 18)
	v.SetDefault("chain.min_confirmations", 3)
	v.SetDefault("chain.reorg_window", 12)
	v.SetDefault("chain.max_scan_blocks", 5000)

	v.SetDefault("prize.table", []string{"24.5", "17", "13", "10", "8", "7", "6", "5.5", "4.5", "4.5"})
	v.SetDefault("prize.unverified_multiplier", "0.5")
	v.SetDefault("prize.payout_decimals", 2)

	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.endpoint", "")
	v.SetDefault("archive.bucket", "")
	v.SetDefault("archive.access_key_id", "")
	v.SetDefault("archive.access_key_secret", "")
	v.SetDefault("archive.region", "auto")
	v.SetDefault("archive.prefix", "events")

	v.SetDefault("cache.leaderboard_ttl", "5s")
	v.SetDefault("cache.cleanup_interval", "1m")
}

// Validate checks invariants the services rely on.
func (c *Config) Validate() error {
	if len(c.Token.Secret) < 32 {
		return errors.New("token.secret must be at least 32 bytes")
	}
	switch c.Game.EntitlementMode {
	case EntitlementSingle, EntitlementCounter:
	default:
		return fmt.Errorf("unknown game.entitlement_mode %q", c.Game.EntitlementMode)
	}
	if c.Game.MaxTries < 1 {
		return errors.New("game.max_tries must be at least 1")
	}
	if c.Payment.MaxTrustedCredits < 0 {
		return errors.New("payment.max_trusted_credits must not be negative")
	}
	if len(c.Prize.Table) == 0 {
		return errors.New("prize.table must not be empty")
	}
	if c.Archive.Enabled && c.Archive.Bucket == "" {
		return errors.New("archive.bucket is required when archive is enabled")
	}
	return nil
}

// IsAdminKey checks if an API key is in the admin list.
func (c *Config) IsAdminKey(key string) bool {
	for _, k := range c.Admin.Keys {
		if k != "" && subtle.ConstantTimeCompare([]byte(k), []byte(key)) == 1 {
			return true
		}
	}
	return false
}

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	AES       AESConfig       `mapstructure:"aes"`
	Log       LogConfig       `mapstructure:"log"`
	Payment   PaymentConfig   `mapstructure:"payment"`
	Chain     ChainConfig     `mapstructure:"chain"`
	Webhook   WebhookConfig   `mapstructure:"webhook"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug, release, test
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns the Redis address string.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type JWTConfig struct {
	Secret string        `mapstructure:"secret"`
	Expiry time.Duration `mapstructure:"expiry"`
	Issuer string        `mapstructure:"issuer"`
}

type AESConfig struct {
	Key string `mapstructure:"key"` // 32-byte hex-encoded key for AES-256
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Pretty bool   `mapstructure:"pretty"` // human-readable output (dev only)
}

// PaymentConfig parameterizes the payment ledger and escrow lifecycle.
type PaymentConfig struct {
	SessionExpiryMinutes int           `mapstructure:"session_expiry_minutes"`
	RegularExpiryMinutes int           `mapstructure:"regular_expiry_minutes"` // hard cap for REGULAR payments
	RefundWindowHours    int           `mapstructure:"refund_window_hours"`
	EscrowHoldDays       int           `mapstructure:"escrow_hold_days"`
	ArbiterWallet        string        `mapstructure:"arbiter_wallet"` // identity recorded on arbitrated outcomes
	ArbiterKey           string        `mapstructure:"arbiter_key"`    // credential gating /resolve; empty disables it
	SweepInterval        time.Duration `mapstructure:"sweep_interval"`
}

// SessionExpiry returns the default payment expiry window.
func (p PaymentConfig) SessionExpiry() time.Duration {
	return time.Duration(p.SessionExpiryMinutes) * time.Minute
}

// RegularExpiry returns the hard expiry cap for regular payments.
func (p PaymentConfig) RegularExpiry() time.Duration {
	return time.Duration(p.RegularExpiryMinutes) * time.Minute
}

// RefundWindow returns how long after settlement a refund is accepted.
func (p PaymentConfig) RefundWindow() time.Duration {
	return time.Duration(p.RefundWindowHours) * time.Hour
}

// EscrowHold returns the escrow holding period.
func (p PaymentConfig) EscrowHold() time.Duration {
	return time.Duration(p.EscrowHoldDays) * 24 * time.Hour
}

// ChainConfig parameterizes the settlement-layer watcher.
type ChainConfig struct {
	RPCURL             string        `mapstructure:"rpc_url"`
	TokenAddress       string        `mapstructure:"token_address"`
	OracleAddress      string        `mapstructure:"oracle_address"`
	BlockConfirmations uint64        `mapstructure:"block_confirmations"`
	PollInterval       time.Duration `mapstructure:"poll_interval"`
	RequestTimeout     time.Duration `mapstructure:"request_timeout"`
}

// WebhookConfig parameterizes merchant webhook delivery.
type WebhookConfig struct {
	RetryCount int `mapstructure:"retry_count"`
	TimeoutMs  int `mapstructure:"timeout_ms"`
}

// Timeout returns the per-attempt delivery timeout.
func (w WebhookConfig) Timeout() time.Duration {
	return time.Duration(w.TimeoutMs) * time.Millisecond
}

// RateLimitConfig parameterizes the default API rate limit window.
type RateLimitConfig struct {
	WindowMs    int   `mapstructure:"window_ms"`
	MaxRequests int64 `mapstructure:"max_requests"`
}

// Window returns the rate limit window duration.
func (r RateLimitConfig) Window() time.Duration {
	return time.Duration(r.WindowMs) * time.Millisecond
}

// Load reads configuration from file and environment variables.
// Environment variables override file values. Prefix: PYL.
// Nested keys use underscore: PYL_DATABASE_HOST, PYL_WEBHOOK_RETRY_COUNT, etc.
func Load(path string) (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "pylinks")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.expiry", "24h")
	v.SetDefault("jwt.issuer", "pylinks")
	v.SetDefault("aes.key", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
	v.SetDefault("payment.session_expiry_minutes", 30)
	v.SetDefault("payment.regular_expiry_minutes", 10)
	v.SetDefault("payment.refund_window_hours", 24)
	v.SetDefault("payment.escrow_hold_days", 7)
	v.SetDefault("payment.arbiter_wallet", "")
	v.SetDefault("payment.arbiter_key", "")
	v.SetDefault("payment.sweep_interval", "30s")
	v.SetDefault("chain.rpc_url", "http://localhost:8545")
	v.SetDefault("chain.token_address", "")
	v.SetDefault("chain.oracle_address", "")
	v.SetDefault("chain.block_confirmations", 2)
	v.SetDefault("chain.poll_interval", "15s")
	v.SetDefault("chain.request_timeout", "10s")
	v.SetDefault("webhook.retry_count", 3)
	v.SetDefault("webhook.timeout_ms", 5000)
	v.SetDefault("ratelimit.window_ms", 60000)
	v.SetDefault("ratelimit.max_requests", 100)

	// File config
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// Environment variables: PYL_WEBHOOK_RETRY_COUNT -> webhook.retry_count
	v.SetEnvPrefix("PYL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (not required — env vars can suffice)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}

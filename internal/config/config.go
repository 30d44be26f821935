// Package config defines the top-level configuration for the reconciler and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by TPGUARD_* environment
// variables.
type Config struct {
	Exchange ExchangeConfig `toml:"exchange"`
	Monitor  MonitorConfig  `toml:"monitor"`
	Redis    RedisConfig    `toml:"redis"`
	Postgres PostgresConfig `toml:"postgres"`
	S3       S3Config       `toml:"s3"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// AccountCredentials holds the API key pair for one exchange account.
type AccountCredentials struct {
	ApiKey    string `toml:"api_key"`
	ApiSecret string `toml:"api_secret"`
}

// ExchangeConfig holds exchange endpoints and per-account credentials.
type ExchangeConfig struct {
	BaseURL       string             `toml:"base_url"`
	WsURL         string             `toml:"ws_url"`
	RecvWindow    string             `toml:"recv_window"`
	Category      string             `toml:"category"`
	SettleCoin    string             `toml:"settle_coin"`
	MirrorEnabled bool               `toml:"mirror_enabled"`
	Main          AccountCredentials `toml:"main"`
	Mirror        AccountCredentials `toml:"mirror"`
}

// MonitorConfig holds the reconciliation cadence and safety limits.
type MonitorConfig struct {
	PollInterval      duration `toml:"poll_interval"`
	DiscoveryInterval duration `toml:"discovery_interval"`
	FailureThreshold  int      `toml:"failure_threshold"`
	StopOrderCeiling  int      `toml:"stop_order_ceiling"`
	CloseDebounce     int      `toml:"close_debounce"`
	LockTTL           duration `toml:"lock_ttl"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	TLSEnabled bool   `toml:"tls_enabled"`
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
	RunMigrations bool   `toml:"run_migrations"`
}

// S3Config holds the archive object-store parameters. The archiver is
// optional; with Enabled false the journal simply grows in Postgres.
type S3Config struct {
	Enabled         bool     `toml:"enabled"`
	Endpoint        string   `toml:"endpoint"`
	Region          string   `toml:"region"`
	Bucket          string   `toml:"bucket"`
	AccessKey       string   `toml:"access_key"`
	SecretKey       string   `toml:"secret_key"`
	UseSSL          bool     `toml:"use_ssl"`
	ForcePathStyle  bool     `toml:"force_path_style"`
	RetentionDays   int      `toml:"retention_days"`
	ArchiveInterval duration `toml:"archive_interval"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5s", "2m").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Exchange: ExchangeConfig{
			BaseURL:    "https://api.bybit.com",
			WsURL:      "wss://stream.bybit.com/v5/private",
			RecvWindow: "5000",
			Category:   "linear",
			SettleCoin: "USDT",
		},
		Monitor: MonitorConfig{
			PollInterval:      duration{5 * time.Second},
			DiscoveryInterval: duration{30 * time.Second},
			FailureThreshold:  3,
			StopOrderCeiling:  10,
			CloseDebounce:     2,
			LockTTL:           duration{30 * time.Second},
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			DB:       0,
			PoolSize: 20,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "tpguard",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			RunMigrations: true,
		},
		S3: S3Config{
			Enabled:         false,
			Endpoint:        "http://localhost:9000",
			Region:          "us-east-1",
			Bucket:          "tpguard-archive",
			ForcePathStyle:  true,
			RetentionDays:   90,
			ArchiveInterval: duration{24 * time.Hour},
		},
		Notify: NotifyConfig{
			Events: []string{
				"FIRST_TARGET_HIT",
				"STOP_MOVED_TO_BREAKEVEN",
				"POSITION_CLOSED",
				"RECONCILIATION_DEGRADED",
				"ORDER_LIMIT_BLOCKED",
			},
		},
		Mode:     "run",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"run":     true,
	"observe": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: run, observe)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Exchange
	if c.Exchange.BaseURL == "" {
		errs = append(errs, "exchange: base_url must not be empty")
	}
	if c.Exchange.Category == "" {
		errs = append(errs, "exchange: category must not be empty")
	}
	if c.Exchange.Main.ApiKey == "" || c.Exchange.Main.ApiSecret == "" {
		errs = append(errs, "exchange: main.api_key and main.api_secret are required")
	}
	if c.Exchange.MirrorEnabled {
		if c.Exchange.Mirror.ApiKey == "" || c.Exchange.Mirror.ApiSecret == "" {
			errs = append(errs, "exchange: mirror.api_key and mirror.api_secret are required when mirror_enabled")
		}
	}

	// Monitor
	if c.Monitor.PollInterval.Duration <= 0 {
		errs = append(errs, "monitor: poll_interval must be > 0")
	}
	if c.Monitor.DiscoveryInterval.Duration <= 0 {
		errs = append(errs, "monitor: discovery_interval must be > 0")
	}
	if c.Monitor.FailureThreshold < 1 {
		errs = append(errs, "monitor: failure_threshold must be >= 1")
	}
	if c.Monitor.StopOrderCeiling < 1 {
		errs = append(errs, "monitor: stop_order_ceiling must be >= 1")
	}
	if c.Monitor.CloseDebounce < 1 {
		errs = append(errs, "monitor: close_debounce must be >= 1")
	}
	if c.Monitor.LockTTL.Duration < 3*time.Second {
		errs = append(errs, "monitor: lock_ttl must be >= 3s")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// Postgres
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

	// S3
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when enabled")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty when enabled")
		}
		if c.S3.RetentionDays < 1 {
			errs = append(errs, "s3: retention_days must be >= 1 when enabled")
		}
		if c.S3.ArchiveInterval.Duration <= 0 {
			errs = append(errs, "s3: archive_interval must be > 0 when enabled")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

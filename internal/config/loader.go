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
// built-in defaults, applies TPGUARD_* environment variable overrides, and
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

// applyEnvOverrides reads well-known TPGUARD_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject the API secrets at deploy time without touching the
// TOML file.
func applyEnvOverrides(cfg *Config) {
	// Exchange
	setStr(&cfg.Exchange.BaseURL, "TPGUARD_EXCHANGE_BASE_URL")
	setStr(&cfg.Exchange.WsURL, "TPGUARD_EXCHANGE_WS_URL")
	setStr(&cfg.Exchange.RecvWindow, "TPGUARD_EXCHANGE_RECV_WINDOW")
	setStr(&cfg.Exchange.Category, "TPGUARD_EXCHANGE_CATEGORY")
	setStr(&cfg.Exchange.SettleCoin, "TPGUARD_EXCHANGE_SETTLE_COIN")
	setBool(&cfg.Exchange.MirrorEnabled, "TPGUARD_EXCHANGE_MIRROR_ENABLED")
	setStr(&cfg.Exchange.Main.ApiKey, "TPGUARD_EXCHANGE_MAIN_API_KEY")
	setStr(&cfg.Exchange.Main.ApiSecret, "TPGUARD_EXCHANGE_MAIN_API_SECRET")
	setStr(&cfg.Exchange.Mirror.ApiKey, "TPGUARD_EXCHANGE_MIRROR_API_KEY")
	setStr(&cfg.Exchange.Mirror.ApiSecret, "TPGUARD_EXCHANGE_MIRROR_API_SECRET")

	// Monitor
	setDuration(&cfg.Monitor.PollInterval, "TPGUARD_MONITOR_POLL_INTERVAL")
	setDuration(&cfg.Monitor.DiscoveryInterval, "TPGUARD_MONITOR_DISCOVERY_INTERVAL")
	setInt(&cfg.Monitor.FailureThreshold, "TPGUARD_MONITOR_FAILURE_THRESHOLD")
	setInt(&cfg.Monitor.StopOrderCeiling, "TPGUARD_MONITOR_STOP_ORDER_CEILING")
	setInt(&cfg.Monitor.CloseDebounce, "TPGUARD_MONITOR_CLOSE_DEBOUNCE")
	setDuration(&cfg.Monitor.LockTTL, "TPGUARD_MONITOR_LOCK_TTL")

	// Redis
	setStr(&cfg.Redis.Addr, "TPGUARD_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "TPGUARD_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "TPGUARD_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "TPGUARD_REDIS_POOL_SIZE")
	setBool(&cfg.Redis.TLSEnabled, "TPGUARD_REDIS_TLS_ENABLED")

	// Postgres
	setStr(&cfg.Postgres.DSN, "TPGUARD_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "TPGUARD_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "TPGUARD_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "TPGUARD_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "TPGUARD_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "TPGUARD_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "TPGUARD_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "TPGUARD_POSTGRES_POOL_MAX_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "TPGUARD_POSTGRES_RUN_MIGRATIONS")

	// S3
	setBool(&cfg.S3.Enabled, "TPGUARD_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "TPGUARD_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "TPGUARD_S3_REGION")
	setStr(&cfg.S3.Bucket, "TPGUARD_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "TPGUARD_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "TPGUARD_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "TPGUARD_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "TPGUARD_S3_FORCE_PATH_STYLE")
	setInt(&cfg.S3.RetentionDays, "TPGUARD_S3_RETENTION_DAYS")
	setDuration(&cfg.S3.ArchiveInterval, "TPGUARD_S3_ARCHIVE_INTERVAL")

	// Notify
	setStr(&cfg.Notify.TelegramToken, "TPGUARD_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "TPGUARD_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "TPGUARD_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "TPGUARD_NOTIFY_EVENTS")

	// Top-level
	setStr(&cfg.Mode, "TPGUARD_MODE")
	setStr(&cfg.LogLevel, "TPGUARD_LOG_LEVEL")
}

// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.

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

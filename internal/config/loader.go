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
// built-in defaults, applies STAKEPILOT_* environment variable overrides, and
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

// applyEnvOverrides reads well-known STAKEPILOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file. Per-credential fields are list-valued and cannot be addressed
// by a flat variable name, so they remain file-only.
func applyEnvOverrides(cfg *Config) {
	// ── Exchange ──
	setStr(&cfg.Exchange.IdentityURL, "STAKEPILOT_EXCHANGE_IDENTITY_URL")
	setStr(&cfg.Exchange.KeepAliveURL, "STAKEPILOT_EXCHANGE_KEEPALIVE_URL")
	setStr(&cfg.Exchange.APIURL, "STAKEPILOT_EXCHANGE_API_URL")
	setDuration(&cfg.Exchange.Timeout, "STAKEPILOT_EXCHANGE_TIMEOUT")

	// ── Mirror ──
	setStr(&cfg.Mirror.BaseURL, "STAKEPILOT_MIRROR_BASE_URL")
	setStr(&cfg.Mirror.Token, "STAKEPILOT_MIRROR_TOKEN")
	setDuration(&cfg.Mirror.Timeout, "STAKEPILOT_MIRROR_TIMEOUT")

	// ── Database ──
	setStr(&cfg.Database.DSN, "STAKEPILOT_DATABASE_DSN")
	setStr(&cfg.Database.DSN, "STAKEPILOT_DATABASE_URL") // compatibility alias
	setStr(&cfg.Database.Host, "STAKEPILOT_DATABASE_HOST")
	setInt(&cfg.Database.Port, "STAKEPILOT_DATABASE_PORT")
	setStr(&cfg.Database.Database, "STAKEPILOT_DATABASE_NAME")
	setStr(&cfg.Database.User, "STAKEPILOT_DATABASE_USER")
	setStr(&cfg.Database.Password, "STAKEPILOT_DATABASE_PASSWORD")
	setStr(&cfg.Database.SSLMode, "STAKEPILOT_DATABASE_SSLMODE")
	setInt(&cfg.Database.PoolMaxConns, "STAKEPILOT_DATABASE_POOL_MAX_CONNS")
	setInt(&cfg.Database.PoolMinConns, "STAKEPILOT_DATABASE_POOL_MIN_CONNS")
	setBool(&cfg.Database.RunMigrations, "STAKEPILOT_DATABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "STAKEPILOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "STAKEPILOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "STAKEPILOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "STAKEPILOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "STAKEPILOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "STAKEPILOT_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "STAKEPILOT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "STAKEPILOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "STAKEPILOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "STAKEPILOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "STAKEPILOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "STAKEPILOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "STAKEPILOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "STAKEPILOT_S3_FORCE_PATH_STYLE")
	setInt(&cfg.S3.RetentionDays, "STAKEPILOT_S3_RETENTION_DAYS")

	// ── Staking ──
	setInt(&cfg.Staking.MaxSteps, "STAKEPILOT_STAKING_MAX_STEPS")
	setBool(&cfg.Staking.UseAccountLocks, "STAKEPILOT_STAKING_USE_ACCOUNT_LOCKS")

	// ── Scheduler ──
	setInt(&cfg.Scheduler.Concurrency, "STAKEPILOT_SCHEDULER_CONCURRENCY")
	setDuration(&cfg.Scheduler.InterBatchDelay, "STAKEPILOT_SCHEDULER_INTER_BATCH_DELAY")
	setDuration(&cfg.Scheduler.TenantTimeout, "STAKEPILOT_SCHEDULER_TENANT_TIMEOUT")
	setDuration(&cfg.Scheduler.PlaceInterval, "STAKEPILOT_SCHEDULER_PLACE_INTERVAL")
	setDuration(&cfg.Scheduler.ReconcileInterval, "STAKEPILOT_SCHEDULER_RECONCILE_INTERVAL")
	setDuration(&cfg.Scheduler.ImportInterval, "STAKEPILOT_SCHEDULER_IMPORT_INTERVAL")
	setDuration(&cfg.Scheduler.SettleLookback, "STAKEPILOT_SCHEDULER_SETTLE_LOOKBACK")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "STAKEPILOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "STAKEPILOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "STAKEPILOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "STAKEPILOT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "STAKEPILOT_MODE")
	setStr(&cfg.LogLevel, "STAKEPILOT_LOG_LEVEL")
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

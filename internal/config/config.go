// Package config defines the top-level configuration for the staking bot and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by STAKEPILOT_* environment variables.
type Config struct {
	Exchange    ExchangeConfig     `toml:"exchange"`
	Credentials []CredentialConfig `toml:"credentials"`
	Mirror      MirrorConfig       `toml:"mirror"`
	Database    DatabaseConfig     `toml:"database"`
	Redis       RedisConfig        `toml:"redis"`
	S3          S3Config           `toml:"s3"`
	Staking     StakingConfig      `toml:"staking"`
	Scheduler   SchedulerConfig    `toml:"scheduler"`
	Notify      NotifyConfig       `toml:"notify"`
	Mode        string             `toml:"mode"`
	LogLevel    string             `toml:"log_level"`
}

// ExchangeConfig holds the wagering venue's endpoints.
type ExchangeConfig struct {
	IdentityURL  string   `toml:"identity_url"`
	KeepAliveURL string   `toml:"keepalive_url"`
	APIURL       string   `toml:"api_url"`
	Timeout      duration `toml:"timeout"`
}

// CredentialConfig is one venue credential set, addressed by the handle
// tenants carry. Certificates may be file paths or inline base64; paths win.
type CredentialConfig struct {
	Ref        string `toml:"ref"`
	AppKey     string `toml:"app_key"`
	Username   string `toml:"username"`
	Password   string `toml:"password"`
	CertPath   string `toml:"cert_path"`
	KeyPath    string `toml:"key_path"`
	CertBase64 string `toml:"cert_base64"`
	KeyBase64  string `toml:"key_base64"`
}

// MirrorConfig holds the sheet-proxy endpoint for the best-effort mirror.
// An empty base_url disables mirroring entirely.
type MirrorConfig struct {
	BaseURL string   `toml:"base_url"`
	Token   string   `toml:"token"`
	Timeout duration `toml:"timeout"`
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
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

// RedisConfig holds Redis connection parameters. Redis is optional: with an
// empty addr the bot runs without account locks and rate limiting.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for settled-wager
// archival. Archival is skipped when disabled.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	RetentionDays  int    `toml:"retention_days"`
}

// StakingConfig holds loss-recovery progression parameters.
type StakingConfig struct {
	// MaxSteps is the progression step at which an account stops and pauses.
	MaxSteps int `toml:"max_steps"`
	// UseAccountLocks enables the redis advisory lock around each account's
	// placement attempt.
	UseAccountLocks bool `toml:"use_account_locks"`
}

// SchedulerConfig holds tenant batching and cycle cadence parameters.
type SchedulerConfig struct {
	Concurrency       int      `toml:"concurrency"`
	InterBatchDelay   duration `toml:"inter_batch_delay"`
	TenantTimeout     duration `toml:"tenant_timeout"`
	PlaceInterval     duration `toml:"place_interval"`
	ReconcileInterval duration `toml:"reconcile_interval"`
	ImportInterval    duration `toml:"import_interval"`
	SettleLookback    duration `toml:"settle_lookback"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
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

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Exchange: ExchangeConfig{
			Timeout: duration{30 * time.Second},
		},
		Database: DatabaseConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "stakepilot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "stakepilot-archive",
			ForcePathStyle: true,
			RetentionDays:  90,
		},
		Staking: StakingConfig{
			MaxSteps:        7,
			UseAccountLocks: true,
		},
		Scheduler: SchedulerConfig{
			Concurrency:       5,
			InterBatchDelay:   duration{10 * time.Second},
			TenantTimeout:     duration{5 * time.Minute},
			PlaceInterval:     duration{30 * time.Minute},
			ReconcileInterval: duration{15 * time.Minute},
			ImportInterval:    duration{6 * time.Hour},
			SettleLookback:    duration{72 * time.Hour},
		},
		Mirror: MirrorConfig{
			Timeout: duration{15 * time.Second},
		},
		Notify: NotifyConfig{
			Events: []string{"wager.settled", "account.stop_loss", "exchange.outage"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"place":     true,
	"reconcile": true,
	"import":    true,
	"archive":   true,
	"full":      true,
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
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: place, reconcile, import, archive, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Credentials
	seen := make(map[string]bool, len(c.Credentials))
	for i, cred := range c.Credentials {
		if cred.Ref == "" {
			errs = append(errs, fmt.Sprintf("credentials[%d]: ref must not be empty", i))
			continue
		}
		if seen[cred.Ref] {
			errs = append(errs, fmt.Sprintf("credentials: duplicate ref %q", cred.Ref))
		}
		seen[cred.Ref] = true
		if cred.AppKey == "" || cred.Username == "" || cred.Password == "" {
			errs = append(errs, fmt.Sprintf("credentials[%s]: app_key, username and password are all required", cred.Ref))
		}
	}

	// Database
	if strings.TrimSpace(c.Database.DSN) == "" {
		if c.Database.Host == "" {
			errs = append(errs, "database: host must not be empty (or set database.dsn)")
		}
		if c.Database.Port <= 0 || c.Database.Port > 65535 {
			errs = append(errs, fmt.Sprintf("database: port must be 1-65535, got %d", c.Database.Port))
		}
		if c.Database.Database == "" {
			errs = append(errs, "database: database must not be empty")
		}
	}
	if c.Database.PoolMaxConns < 1 {
		errs = append(errs, "database: pool_max_conns must be >= 1")
	}
	if c.Database.PoolMinConns < 0 {
		errs = append(errs, "database: pool_min_conns must be >= 0")
	}
	if c.Database.PoolMinConns > c.Database.PoolMaxConns {
		errs = append(errs, "database: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis is optional, but an address implies a sane pool.
	if c.Redis.Addr != "" && c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}
	if c.Staking.UseAccountLocks && c.Redis.Addr == "" {
		errs = append(errs, "staking: use_account_locks requires redis.addr")
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when enabled")
		}
		if c.S3.RetentionDays < 1 {
			errs = append(errs, "s3: retention_days must be >= 1 when enabled")
		}
	}

	// Staking
	if c.Staking.MaxSteps < 1 {
		errs = append(errs, "staking: max_steps must be >= 1")
	}

	// Scheduler
	if c.Scheduler.Concurrency < 1 {
		errs = append(errs, "scheduler: concurrency must be >= 1")
	}
	if c.Scheduler.InterBatchDelay.Duration < 0 {
		errs = append(errs, "scheduler: inter_batch_delay must not be negative")
	}
	if c.Scheduler.SettleLookback.Duration <= 0 {
		errs = append(errs, "scheduler: settle_lookback must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

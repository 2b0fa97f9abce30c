package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/mvrosca/stakepilot/internal/blob/s3"
	"github.com/mvrosca/stakepilot/internal/cache/redis"
	"github.com/mvrosca/stakepilot/internal/config"
	"github.com/mvrosca/stakepilot/internal/domain"
	"github.com/mvrosca/stakepilot/internal/exchange"
	"github.com/mvrosca/stakepilot/internal/mirror"
	"github.com/mvrosca/stakepilot/internal/notify"
	"github.com/mvrosca/stakepilot/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency that the application
// modes need to operate. It is constructed by Wire and torn down by the
// returned cleanup function.
type Dependencies struct {
	// Authoritative stores
	TenantStore  domain.TenantStore
	AccountStore domain.AccountStore
	FixtureStore domain.FixtureStore
	WagerStore   *postgres.WagerStore

	// Exchange gateway (concrete type: modes also drive its KeepAlive loop)
	Exchange *exchange.Gateway

	// Best-effort mirror; nil when no mirror endpoint is configured
	Mirror domain.MirrorStore

	// Redis coordination; both nil when redis is not configured
	LockManager domain.LockManager
	RateLimiter domain.RateLimiter

	// Blob storage; both nil unless s3.enabled
	BlobWriter domain.BlobWriter
	Archiver   *s3blob.Archiver

	// Notifications
	Notifier *notify.Notifier
}

// needsS3 returns true for modes that archive settled wagers.
func needsS3(mode string) bool {
	switch mode {
	case "archive", "full":
		return true
	default:
		return false
	}
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL (authoritative store; every mode needs it) ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Database.DSN,
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		Database: cfg.Database.Database,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		SSLMode:  cfg.Database.SSLMode,
		MaxConns: cfg.Database.PoolMaxConns,
		MinConns: cfg.Database.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Database.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.TenantStore = postgres.NewTenantStore(pool)
	deps.AccountStore = postgres.NewAccountStore(pool)
	deps.FixtureStore = postgres.NewFixtureStore(pool)
	deps.WagerStore = postgres.NewWagerStore(pool)

	// --- Redis (optional coordination layer) ---
	if cfg.Redis.Addr != "" {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		if cfg.Staking.UseAccountLocks {
			deps.LockManager = redis.NewLockManager(redisClient)
		}
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
	}

	// --- Exchange gateway ---
	creds := exchange.NewStaticSource()
	for _, c := range cfg.Credentials {
		if err := creds.Add(c.Ref, c.AppKey, c.Username, c.Password,
			c.CertPath, c.KeyPath, c.CertBase64, c.KeyBase64); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: credential %q: %w", c.Ref, err)
		}
	}
	deps.Exchange = exchange.NewGateway(exchange.Config{
		IdentityURL:  cfg.Exchange.IdentityURL,
		KeepAliveURL: cfg.Exchange.KeepAliveURL,
		APIURL:       cfg.Exchange.APIURL,
		Timeout:      cfg.Exchange.Timeout.Duration,
	}, creds, logger)

	// --- Mirror (optional) ---
	if cfg.Mirror.BaseURL != "" {
		deps.Mirror = mirror.NewClient(mirror.Config{
			BaseURL: cfg.Mirror.BaseURL,
			Token:   cfg.Mirror.Token,
			Timeout: cfg.Mirror.Timeout.Duration,
		})
	}

	// --- S3 blob storage (only for modes that archive) ---
	if cfg.S3.Enabled && needsS3(cfg.Mode) {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.Archiver = s3blob.NewArchiver(
			deps.BlobWriter,
			s3blob.NewReader(s3Client),
			deps.WagerStore,
			logger,
		)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}

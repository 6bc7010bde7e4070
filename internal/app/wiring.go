// Package app builds the shared dependencies of the service binaries from
// a loaded config.
package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/jogardn/bespoke-orders/internal/breaker"
	"github.com/jogardn/bespoke-orders/internal/config"
	"github.com/jogardn/bespoke-orders/internal/idempotency"
	"github.com/jogardn/bespoke-orders/internal/notify"
	"github.com/jogardn/bespoke-orders/internal/payment"
	"github.com/jogardn/bespoke-orders/internal/store"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	IntegrationPayment = "payment_gateway"

	idempotencyPrefix = "stallion:"
	idempotencyTTL    = 24 * time.Hour
)

func NewLogger(level logrus.Level) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)
	logger.SetLevel(level)
	return logger
}

// InitSentry enables error reporting when a DSN is configured. The returned
// func flushes pending events.
func InitSentry(dsn, release string, logger *logrus.Logger) func() {
	if dsn == "" {
		return func() {}
	}
	if err := sentry.Init(sentry.ClientOptions{Dsn: dsn, Release: release}); err != nil {
		logger.WithError(err).Warn("Failed to initialise Sentry, error reporting disabled")
		return func() {}
	}
	logger.Info("Sentry error reporting enabled")
	return func() { sentry.Flush(2 * time.Second) }
}

// NewBreakers returns the registry shared by the payment gateway and the
// notification sinks.
func NewBreakers(logger *logrus.Logger) *breaker.Registry {
	return breaker.NewRegistry(breaker.Config{
		MaxFailures:      5,
		OpenTimeout:      30 * time.Second,
		HalfOpenRequests: 1,
		OnStateChange: func(name string, from, to breaker.State) {
			if to == breaker.StateOpen {
				sentry.CaptureMessage(fmt.Sprintf("circuit breaker %s opened", name))
			}
		},
	}, logger)
}

func OpenStore(ctx context.Context, cfg config.StoreConfig, logger *logrus.Logger) (store.Store, error) {
	switch cfg.Backend {
	case config.BackendPostgres:
		return store.NewPostgresStore(ctx, store.PostgresConfig{
			Host:     cfg.DBHost,
			Port:     cfg.DBPort,
			User:     cfg.DBUser,
			Password: cfg.DBPassword,
			Name:     cfg.DBName,
		}, logger)
	case config.BackendMongo:
		return store.NewMongoStore(ctx, cfg.MongoURL, cfg.MongoDB, logger)
	case config.BackendMemory:
		logger.Warn("Using in-memory store, orders will not survive a restart")
		return store.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

func NewGateway(cfg config.PaymentConfig, breakers *breaker.Registry, logger *logrus.Logger) *payment.Gateway {
	b := breakers.Configure(breaker.Config{
		Name:      IntegrationPayment,
		IsFailure: payment.CountsAsOutage,
	})
	return payment.NewGateway(payment.Config{
		KeyID:     cfg.KeyID,
		KeySecret: cfg.KeySecret,
		APIURL:    cfg.APIURL,
		TestMode:  cfg.TestMode,
	}, b, logger)
}

// NewGuard uses Redis when REDIS_ADDR is set and an in-process set
// otherwise. The returned func releases the connection.
func NewGuard(ctx context.Context, addr string, logger *logrus.Logger) (idempotency.Guard, func() error, error) {
	if addr == "" {
		logger.Info("REDIS_ADDR not set, using in-memory idempotency guard")
		return idempotency.NewMemoryGuard(idempotencyTTL), func() error { return nil }, nil
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("redis not reachable at %s: %w", addr, err)
	}
	logger.WithField("addr", addr).Info("Redis idempotency guard connected")
	return idempotency.NewRedisGuard(client, idempotencyPrefix, idempotencyTTL), client.Close, nil
}

// NewMailer falls back to logging messages when Gmail is not configured.
func NewMailer(ctx context.Context, cfg config.NotifyConfig, logger *logrus.Logger) (notify.Mailer, error) {
	gcfg := notify.GmailConfig{
		ClientID:     cfg.GmailClientID,
		ClientSecret: cfg.GmailClientSecret,
		RefreshToken: cfg.GmailRefreshToken,
		From:         cfg.From,
	}
	if !gcfg.Enabled() {
		logger.Warn("Gmail credentials not configured, emails will only be logged")
		return notify.NewLogMailer(logger), nil
	}
	return notify.NewGmailMailer(ctx, gcfg, logger)
}

// NewSheet falls back to logging rows when no sheet is configured.
func NewSheet(ctx context.Context, cfg config.NotifyConfig, logger *logrus.Logger) (notify.SheetAppender, error) {
	if cfg.SheetID == "" || cfg.ServiceAccountKey == "" {
		logger.Warn("Google Sheets not configured, rows will only be logged")
		return notify.NewLogSheet(logger), nil
	}
	return notify.NewSheetsAppender(ctx, cfg.SheetID, []byte(cfg.ServiceAccountKey), logger)
}

func NewNotifier(ctx context.Context, cfg config.NotifyConfig, breakers *breaker.Registry, logger *logrus.Logger) (*notify.Notifier, error) {
	mailer, err := NewMailer(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	sheet, err := NewSheet(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return notify.NewNotifier(mailer, sheet, breakers, notify.Config{
		Company:   cfg.Company,
		TeamEmail: cfg.TeamEmail,
	}, logger), nil
}

package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

const (
	BackendPostgres = "postgres"
	BackendMongo    = "mongo"
	BackendMemory   = "memory"

	ModePool  = "pool"
	ModeKafka = "kafka"
)

type Config struct {
	Port        string
	CORSOrigins []string
	// WSOrigins must list every origin allowed on /ws. Empty denies all.
	WSOrigins   []string
	LogLevel    logrus.Level
	SentryDSN   string

	Store       StoreConfig
	RedisAddr   string
	Payment     PaymentConfig
	Notify      NotifyConfig
	Fulfillment FulfillmentConfig
	Upload      UploadConfig
	RateLimit   RateLimitConfig
}

type StoreConfig struct {
	Backend    string
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	MongoURL   string
	MongoDB    string
}

type PaymentConfig struct {
	KeyID     string
	KeySecret string
	APIURL    string
	TestMode  bool
	// BasePrice is in paise.
	BasePrice int64
	Currency  string
	LinkBase  string
}

type NotifyConfig struct {
	Company           string
	GmailClientID     string
	GmailClientSecret string
	GmailRefreshToken string
	From              string
	TeamEmail         string
	SheetID           string
	ServiceAccountKey string
}

type FulfillmentConfig struct {
	Mode        string
	Workers     int
	QueueSize   int
	TaskTimeout time.Duration
	Brokers     string
	GroupID     string
}

type UploadConfig struct {
	Dir      string
	MaxBytes int64
}

type RateLimitConfig struct {
	RPS   float64
	Burst int
	// TrustedProxies are CIDRs whose forwarding headers name the client.
	TrustedProxies []string
}

var defaults = map[string]interface{}{
	"ORDER_SERVICE_PORT":       "8001",
	"CORS_ORIGINS":             "*",
	"LOG_LEVEL":                "info",
	"STORE_BACKEND":            BackendPostgres,
	"DB_HOST":                  "localhost",
	"DB_PORT":                  "5432",
	"DB_USER":                  "orderservice",
	"DB_PASSWORD":              "orderservice",
	"DB_NAME":                  "orders",
	"MONGO_URL":                "mongodb://localhost:27017",
	"MONGO_DB_NAME":            "stallion_tailoring",
	"RAZORPAY_API_URL":         "https://api.razorpay.com",
	"PAYMENT_TEST_MODE":        false,
	"BASE_PRICE_PAISE":         45000,
	"CURRENCY":                 "INR",
	"COMPANY_NAME":             "Stallion & Co.",
	"FULFILLMENT_MODE":         ModePool,
	"FULFILLMENT_WORKERS":      4,
	"FULFILLMENT_QUEUE_SIZE":   1000,
	"FULFILLMENT_TASK_TIMEOUT": "1m",
	"KAFKA_BROKERS":            "localhost:9092",
	"KAFKA_GROUP_ID":           "fulfillment-worker",
	"UPLOAD_DIR":               "uploads",
	"UPLOAD_MAX_BYTES":         10 << 20,
	"RATE_LIMIT_RPS":           5.0,
	"RATE_LIMIT_BURST":         20,
}

// Load reads .env (when present), the optional CONFIG_FILE, and the
// environment, in increasing order of precedence.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	level, err := logrus.ParseLevel(v.GetString("LOG_LEVEL"))
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}

	cfg := &Config{
		Port:        v.GetString("ORDER_SERVICE_PORT"),
		CORSOrigins: splitList(v.GetString("CORS_ORIGINS")),
		WSOrigins:   splitList(v.GetString("WS_ORIGINS")),
		LogLevel:    level,
		SentryDSN:   v.GetString("SENTRY_DSN"),
		Store: StoreConfig{
			Backend:    strings.ToLower(v.GetString("STORE_BACKEND")),
			DBHost:     v.GetString("DB_HOST"),
			DBPort:     v.GetString("DB_PORT"),
			DBUser:     v.GetString("DB_USER"),
			DBPassword: v.GetString("DB_PASSWORD"),
			DBName:     v.GetString("DB_NAME"),
			MongoURL:   v.GetString("MONGO_URL"),
			MongoDB:    v.GetString("MONGO_DB_NAME"),
		},
		RedisAddr: v.GetString("REDIS_ADDR"),
		Payment: PaymentConfig{
			KeyID:     v.GetString("RAZORPAY_KEY_ID"),
			KeySecret: v.GetString("RAZORPAY_KEY_SECRET"),
			APIURL:    v.GetString("RAZORPAY_API_URL"),
			TestMode:  v.GetBool("PAYMENT_TEST_MODE"),
			BasePrice: v.GetInt64("BASE_PRICE_PAISE"),
			Currency:  strings.ToUpper(v.GetString("CURRENCY")),
			LinkBase:  v.GetString("PAYMENT_LINK_BASE_URL"),
		},
		Notify: NotifyConfig{
			Company:           v.GetString("COMPANY_NAME"),
			GmailClientID:     v.GetString("GMAIL_CLIENT_ID"),
			GmailClientSecret: v.GetString("GMAIL_CLIENT_SECRET"),
			GmailRefreshToken: v.GetString("GMAIL_REFRESH_TOKEN"),
			From:              v.GetString("COMPANY_EMAIL"),
			TeamEmail:         v.GetString("NOTIFICATION_EMAIL"),
			SheetID:           v.GetString("GOOGLE_SHEET_ID"),
			ServiceAccountKey: v.GetString("GOOGLE_SERVICE_ACCOUNT_KEY"),
		},
		Fulfillment: FulfillmentConfig{
			Mode:        strings.ToLower(v.GetString("FULFILLMENT_MODE")),
			Workers:     v.GetInt("FULFILLMENT_WORKERS"),
			QueueSize:   v.GetInt("FULFILLMENT_QUEUE_SIZE"),
			TaskTimeout: v.GetDuration("FULFILLMENT_TASK_TIMEOUT"),
			Brokers:     v.GetString("KAFKA_BROKERS"),
			GroupID:     v.GetString("KAFKA_GROUP_ID"),
		},
		Upload: UploadConfig{
			Dir:      v.GetString("UPLOAD_DIR"),
			MaxBytes: v.GetInt64("UPLOAD_MAX_BYTES"),
		},
		RateLimit: RateLimitConfig{
			RPS:   v.GetFloat64("RATE_LIMIT_RPS"),
			Burst: v.GetInt("RATE_LIMIT_BURST"),

			TrustedProxies: splitList(v.GetString("TRUSTED_PROXIES")),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Store.Backend {
	case BackendPostgres, BackendMongo, BackendMemory:
	default:
		return fmt.Errorf("invalid STORE_BACKEND %q", c.Store.Backend)
	}
	switch c.Fulfillment.Mode {
	case ModePool, ModeKafka:
	default:
		return fmt.Errorf("invalid FULFILLMENT_MODE %q", c.Fulfillment.Mode)
	}
	if c.Payment.BasePrice <= 0 {
		return fmt.Errorf("BASE_PRICE_PAISE must be positive, got %d", c.Payment.BasePrice)
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

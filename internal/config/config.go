package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application. Every knob is process-scope and read once at startup.
type Config struct {
	// Durable store
	DatabaseURL string
	DBMaxConns  int

	// Hot event store
	RedisURL string

	// Server
	Port        string
	CORSOrigins []string
	Env         string

	// Payment gateway
	Gateway GatewayConfig

	// Billing
	DefaultCurrency string

	// Migration worker
	MigrationBatchSize  int
	MigrationMaxBatches int

	// Hot-store cleanup
	CleanupRetentionDays int

	// Payment retry engine
	RetryEnabled      bool
	RetryMax          int
	RetryBaseHours    int
	PendingTTLMinutes int

	// Admin auth: "apikey", "jwt", or "dual"
	AdminAuthMode string
	Auth0Domain   string
	Auth0Audience string

	// Email / notifications
	EmailProvider string
	EmailEndpoint string
	EmailAPIKey   string
	OpsEmail      string

	// PDF rendering + object store
	PDFRendererEndpoint string
	S3                  S3Config

	// Exchange rates
	ExchangeSourceEndpoint string
	ExchangeSyncBases      []string

	// Ingest rate limiting
	RateLimitPerMinute int
	RateLimitBurst     int

	// Project api-key cache
	ProjectKeyCacheTTLMinutes int
}

// GatewayConfig holds the payment gateway credentials and webhook contract.
type GatewayConfig struct {
	BaseURL         string
	KeyID           string
	KeySecret       string
	WebhookSecret   string
	SignatureHeader string
	// Currency the gateway settles in; empty means no conversion at order
	// creation.
	Currency string
}

// S3Config holds object-store configuration for invoice PDFs.
type S3Config struct {
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{
		DatabaseURL: getEnv("DATABASE_URL", ""),
		DBMaxConns:  getEnvInt("DB_MAX_CONNS", 20),
		RedisURL:    getEnv("REDIS_URL", "redis://localhost:6379/0"),
		Port:        getEnv("PORT", "8080"),
		CORSOrigins: strings.Split(getEnv("CORS_ORIGINS", "http://localhost:3000"), ","),
		Env:         getEnv("ENV", "development"),
		Gateway: GatewayConfig{
			BaseURL:         getEnv("GATEWAY_BASE_URL", "https://api.razorpay.com/v1"),
			KeyID:           getEnv("GATEWAY_KEY_ID", ""),
			KeySecret:       getEnv("GATEWAY_KEY_SECRET", ""),
			WebhookSecret:   getEnv("GATEWAY_WEBHOOK_SECRET", ""),
			SignatureHeader: getEnv("GATEWAY_SIGNATURE_HEADER", "X-Razorpay-Signature"),
			Currency:        getEnv("GATEWAY_CURRENCY", ""),
		},
		DefaultCurrency:      getEnv("DEFAULT_CURRENCY", "INR"),
		MigrationBatchSize:   getEnvInt("MIGRATION_BATCH_SIZE", 1000),
		MigrationMaxBatches:  getEnvInt("MIGRATION_MAX_BATCHES", 10),
		CleanupRetentionDays: getEnvInt("CLEANUP_RETENTION_DAYS", 7),
		RetryEnabled:         getEnv("PAYMENT_RETRY_ENABLED", "true") == "true",
		RetryMax:             getEnvInt("PAYMENT_RETRY_MAX", 3),
		RetryBaseHours:       getEnvInt("PAYMENT_RETRY_BASE_HOURS", 24),
		PendingTTLMinutes:    getEnvInt("PAYMENT_PENDING_TTL_MINUTES", 30),
		AdminAuthMode:        getEnv("ADMIN_AUTH_MODE", "apikey"),
		Auth0Domain:          getEnv("AUTH0_DOMAIN", ""),
		Auth0Audience:        getEnv("AUTH0_AUDIENCE", ""),
		EmailProvider:        getEnv("EMAIL_PROVIDER", "smtp"),
		EmailEndpoint:        getEnv("EMAIL_ENDPOINT", ""),
		EmailAPIKey:          getEnv("EMAIL_API_KEY", ""),
		OpsEmail:             getEnv("OPS_EMAIL", ""),
		PDFRendererEndpoint:  getEnv("PDF_RENDERER_ENDPOINT", ""),
		S3: S3Config{
			Endpoint:        getEnv("S3_ENDPOINT", ""),
			Region:          getEnv("S3_REGION", "ap-south-1"),
			AccessKeyID:     getEnv("S3_ACCESS_KEY", ""),
			SecretAccessKey: getEnv("S3_SECRET_KEY", ""),
			Bucket:          getEnv("S3_BUCKET", "meterbill-invoices"),
		},
		ExchangeSourceEndpoint:    getEnv("EXCHANGE_SOURCE_ENDPOINT", ""),
		ExchangeSyncBases:         splitNonEmpty(getEnv("EXCHANGE_SYNC_BASES", "")),
		RateLimitPerMinute:        getEnvInt("RATE_LIMIT_PER_MINUTE", 600),
		RateLimitBurst:            getEnvInt("RATE_LIMIT_BURST", 100),
		ProjectKeyCacheTTLMinutes: getEnvInt("PROJECT_KEY_CACHE_TTL_MINUTES", 10),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}
	if c.Gateway.WebhookSecret == "" {
		return fmt.Errorf("GATEWAY_WEBHOOK_SECRET is required")
	}
	switch c.AdminAuthMode {
	case "apikey":
	case "jwt", "dual":
		if c.Auth0Domain == "" {
			return fmt.Errorf("AUTH0_DOMAIN is required when ADMIN_AUTH_MODE=%s", c.AdminAuthMode)
		}
		if c.Auth0Audience == "" {
			return fmt.Errorf("AUTH0_AUDIENCE is required when ADMIN_AUTH_MODE=%s", c.AdminAuthMode)
		}
	default:
		return fmt.Errorf("ADMIN_AUTH_MODE must be one of apikey, jwt, dual")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return n
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

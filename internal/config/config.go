// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Card rail (Stripe)
	StripeSecretKey     string
	StripeWebhookSecret string
	CheckoutReturnURL   string

	// Crypto rail (crypto-pay processor)
	CryptoAPIURL        string
	CryptoAPIKey        string
	CryptoWebhookSecret string
	CryptoExpiryMinutes int

	// Bank transfer rail
	BankAccountName   string
	BankAccountNumber string
	BankRoutingNumber string

	// Fee schedule, basis points per rail
	CardFeeBps   int
	BankFeeBps   int
	CryptoFeeBps int
	FeeMode      string // "surcharge" (payer covers the fee) or "deduct" (fee comes out of the credited amount)

	// Rail limits in cents (0 = no limit)
	CardMinCents   int64
	BankMinCents   int64
	BankMaxCents   int64
	CryptoMinCents int64
	CryptoMaxCents int64

	// Observability
	OTLPEndpoint string

	// Security
	AdminSecret        string
	NotifySecret       string // default HMAC secret for outbound notifications
	RateLimitRPM       int
	CORSAllowedOrigins []string // empty means allow all
}

// Defaults
const (
	DefaultPort      = "8080"
	DefaultEnv       = "development"
	DefaultLogLevel  = "info"
	DefaultRateLimit = 120

	DefaultCardFeeBps   = 300 // 3%
	DefaultBankFeeBps   = 50  // 0.5%
	DefaultCryptoFeeBps = 100 // 1%

	DefaultCardMinCents   = 1_000     // $10
	DefaultBankMinCents   = 5_000     // $50
	DefaultBankMaxCents   = 5_000_000 // $50,000
	DefaultCryptoMinCents = 1_000     // $10
	DefaultCryptoMaxCents = 1_000_000 // $10,000

	DefaultCryptoExpiryMinutes = 15

	FeeModeSurcharge = "surcharge"
	FeeModeDeduct    = "deduct"
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                getEnv("PORT", DefaultPort),
		Env:                 getEnv("ENV", DefaultEnv),
		LogLevel:            getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:         os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		StripeSecretKey:     os.Getenv("STRIPE_SECRET_KEY"),
		StripeWebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		CheckoutReturnURL:   getEnv("CHECKOUT_RETURN_URL", "http://localhost:3000/wallet"),
		CryptoAPIURL:        os.Getenv("CRYPTO_API_URL"),
		CryptoAPIKey:        os.Getenv("CRYPTO_API_KEY"),
		CryptoWebhookSecret: os.Getenv("CRYPTO_WEBHOOK_SECRET"),
		CryptoExpiryMinutes: int(getEnvInt64("CRYPTO_EXPIRY_MINUTES", DefaultCryptoExpiryMinutes)),
		BankAccountName:     getEnv("BANK_ACCOUNT_NAME", "Fundlane Inc."),
		BankAccountNumber:   os.Getenv("BANK_ACCOUNT_NUMBER"),
		BankRoutingNumber:   os.Getenv("BANK_ROUTING_NUMBER"),
		CardFeeBps:          int(getEnvInt64("CARD_FEE_BPS", DefaultCardFeeBps)),
		BankFeeBps:          int(getEnvInt64("BANK_FEE_BPS", DefaultBankFeeBps)),
		CryptoFeeBps:        int(getEnvInt64("CRYPTO_FEE_BPS", DefaultCryptoFeeBps)),
		FeeMode:             getEnv("FEE_MODE", FeeModeSurcharge),
		CardMinCents:        getEnvInt64("CARD_MIN_CENTS", DefaultCardMinCents),
		BankMinCents:        getEnvInt64("BANK_MIN_CENTS", DefaultBankMinCents),
		BankMaxCents:        getEnvInt64("BANK_MAX_CENTS", DefaultBankMaxCents),
		CryptoMinCents:      getEnvInt64("CRYPTO_MIN_CENTS", DefaultCryptoMinCents),
		CryptoMaxCents:      getEnvInt64("CRYPTO_MAX_CENTS", DefaultCryptoMaxCents),
		OTLPEndpoint:        os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		AdminSecret:         os.Getenv("ADMIN_SECRET"),
		NotifySecret:        os.Getenv("NOTIFY_SECRET"),
		RateLimitRPM:        int(getEnvInt64("RATE_LIMIT_RPM", DefaultRateLimit)),
		CORSAllowedOrigins:  getEnvList("CORS_ALLOWED_ORIGINS"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is internally consistent
func (c *Config) Validate() error {
	if c.CardMinCents <= 0 {
		return fmt.Errorf("CARD_MIN_CENTS must be positive")
	}
	if c.BankMinCents <= 0 || c.BankMaxCents < c.BankMinCents {
		return fmt.Errorf("bank transfer limits invalid: min=%d max=%d", c.BankMinCents, c.BankMaxCents)
	}
	if c.CryptoMinCents <= 0 || c.CryptoMaxCents < c.CryptoMinCents {
		return fmt.Errorf("crypto limits invalid: min=%d max=%d", c.CryptoMinCents, c.CryptoMaxCents)
	}
	if c.CardFeeBps < 0 || c.BankFeeBps < 0 || c.CryptoFeeBps < 0 {
		return fmt.Errorf("fee basis points must be non-negative")
	}
	if c.FeeMode != FeeModeSurcharge && c.FeeMode != FeeModeDeduct {
		return fmt.Errorf("FEE_MODE must be %q or %q", FeeModeSurcharge, FeeModeDeduct)
	}
	if c.CryptoExpiryMinutes <= 0 {
		return fmt.Errorf("CRYPTO_EXPIRY_MINUTES must be positive")
	}
	if c.IsProduction() && c.StripeSecretKey == "" {
		return fmt.Errorf("STRIPE_SECRET_KEY is required in production")
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

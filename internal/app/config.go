package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/velstore/checkout/internal/domain/order"
	"github.com/velstore/checkout/internal/domain/promo"
)

// Config holds the complete application configuration, loadable from
// environment variables (CHECKOUT_ prefix), flags, or YAML config files.
type Config struct {
	Addr          string `default:"0.0.0.0:8080" usage:"HTTP listen address"`
	DatabaseURL   string `usage:"PostgreSQL connection URL (CHECKOUT_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	WebhookSecret string `usage:"HMAC-SHA256 secret for payment webhook signatures (CHECKOUT_WEBHOOK_SECRET)" flag:"webhook-secret"`

	Checkout    CheckoutConfig
	Idempotency IdempotencyConfig
	RateLimit   RateLimitConfig
	CORS        CORSConfig
	Graceful    GracefulConfig
}

// CheckoutConfig holds the business parameters of the order transaction.
type CheckoutConfig struct {
	DeliveryCost           string `default:"300" usage:"Flat delivery cost added to each order" flag:"delivery-cost"`
	BonusCapPercent        int64  `default:"50"  usage:"Max share of the subtotal payable with bonuses, percent" flag:"bonus-cap-percent"`
	CashbackPercent        int64  `default:"5"   usage:"Cashback accrual rate, percent" flag:"cashback-percent"`
	CashbackReducedPercent int64  `default:"1"   usage:"Cashback rate when a discount or bonuses were applied, percent" flag:"cashback-reduced-percent"`
}

// IdempotencyConfig controls the idempotency key guard on order creation.
type IdempotencyConfig struct {
	TTL           time.Duration `default:"24h" usage:"Idempotency key lifetime" flag:"idempotency-ttl"`
	SweepInterval time.Duration `default:"1h"  usage:"How often expired idempotency keys are purged" flag:"idempotency-sweep-interval"`
}

// RateLimitConfig controls the per-client sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config
// files, and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "CHECKOUT",
		Files:     []string{"config.yaml", "/etc/checkout/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if cfg.DatabaseURL == "" {
		return nil, errors.New("database URL is required: set CHECKOUT_DATABASE_URL or DATABASE_URL")
	}
	if cfg.WebhookSecret == "" {
		return nil, errors.New("webhook secret is required: set CHECKOUT_WEBHOOK_SECRET")
	}
	if _, err := decimal.NewFromString(cfg.Checkout.DeliveryCost); err != nil {
		return nil, errors.Wrap(err, "parse delivery cost")
	}

	return &cfg, nil
}

// orderConfig converts the loaded values into the checkout service
// parameters. DeliveryCost is validated in LoadConfig.
func (c *Config) orderConfig() order.Config {
	cost, _ := decimal.NewFromString(c.Checkout.DeliveryCost)
	return order.Config{
		DeliveryCost:    cost,
		BonusCapPercent: c.Checkout.BonusCapPercent,
		Cashback: promo.CashbackRates{
			BasePercent:    c.Checkout.CashbackPercent,
			ReducedPercent: c.Checkout.CashbackReducedPercent,
		},
	}
}

// applyPlatformDefaults maps platform-provided environment variables
// (Railway, Render, etc.) that use standard names like DATABASE_URL and PORT
// to the application's CHECKOUT_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}

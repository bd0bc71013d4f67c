// Package config provides application configuration management.
// Configuration is loaded from environment variables following 12-factor principles.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds all application configuration.
// All fields are populated from environment variables. Every external
// integration is optional: when its credentials are absent the feature it
// backs is disabled instead of failing startup.
type Config struct {
	// Application settings
	AppEnv  string `env:"APP_ENV" envDefault:"development"`
	AppPort int    `env:"APP_PORT" envDefault:"8080"`

	// Public URL of this API, and of the site checkout and portal return to.
	BaseURL string `env:"BASE_URL" envDefault:"http://localhost:8080"`
	SiteURL string `env:"SITE_URL" envDefault:"http://localhost:3000"`

	// Credit ledger (PostgreSQL). Empty runs an in-process ledger with
	// payments and webhooks disabled, and is rejected in production.
	DatabaseURL string `env:"DATABASE_URL"`

	// Cache (Redis). Empty disables caching, rate limiting and sweep locking.
	RedisURL string `env:"REDIS_URL"`

	// Payments (Stripe)
	StripeSecretKey     string `env:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret string `env:"STRIPE_WEBHOOK_SECRET"`
	CatalogFile         string `env:"CATALOG_FILE"`

	// Voice provider (ElevenLabs)
	ElevenLabsAPIKey  string `env:"ELEVENLABS_API_KEY"`
	ElevenLabsBaseURL string `env:"ELEVENLABS_BASE_URL" envDefault:"https://api.elevenlabs.io"`
	// Comma-separated "slug:agent_id" pairs.
	VoiceAgents string `env:"VOICE_AGENTS"`

	// Credits
	FreeMinutes int `env:"FREE_MINUTES" envDefault:"3"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Server timeouts
	ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"15s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`

	// Upstream timeouts
	StorageTimeout  time.Duration `env:"STORAGE_TIMEOUT" envDefault:"3s"`
	ProviderTimeout time.Duration `env:"PROVIDER_TIMEOUT" envDefault:"10s"`

	// Session-start rate limiting (per client IP)
	RateLimitSessionEnabled bool    `env:"RATE_LIMIT_SESSION_ENABLED" envDefault:"true"`
	RateLimitSessionRPS     float64 `env:"RATE_LIMIT_SESSION_RPS" envDefault:"0.2"`
	RateLimitSessionBurst   int     `env:"RATE_LIMIT_SESSION_BURST" envDefault:"5"`

	// CORS configuration
	// Comma-separated list of allowed origins (e.g., "https://example.com,*.example.com")
	CORSAllowedOrigins string `env:"CORS_ALLOWED_ORIGINS" envDefault:""`

	// Request body size limit in bytes (default 1MB)
	MaxRequestBodySize int64 `env:"MAX_REQUEST_BODY_SIZE" envDefault:"1048576"`

	// Lapsed subscription sweep (cron syntax, UTC). Empty disables it.
	SubscriptionSweepSchedule string        `env:"SUBSCRIPTION_SWEEP_SCHEDULE" envDefault:"15 * * * *"`
	SubscriptionGracePeriod   time.Duration `env:"SUBSCRIPTION_GRACE_PERIOD" envDefault:"72h"`
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// DurableLedger reports whether balances survive a restart.
func (c *Config) DurableLedger() bool {
	return c.DatabaseURL != ""
}

// PaymentsEnabled reports whether checkout and portal sessions can be created.
// Money is only taken when the purchase lands in a durable ledger.
func (c *Config) PaymentsEnabled() bool {
	return c.StripeSecretKey != "" && c.DurableLedger()
}

// WebhooksEnabled reports whether provider webhooks can be verified and applied.
func (c *Config) WebhooksEnabled() bool {
	return c.StripeWebhookSecret != "" && c.DurableLedger()
}

// VoiceEnabled reports whether session credentials can be issued.
func (c *Config) VoiceEnabled() bool {
	return c.ElevenLabsAPIKey != "" && strings.TrimSpace(c.VoiceAgents) != ""
}

// Disabled lists the optional integrations that are not configured.
func (c *Config) Disabled() []string {
	var off []string
	if c.DatabaseURL == "" {
		off = append(off, "postgres")
	}
	if c.RedisURL == "" {
		off = append(off, "redis")
	}
	if !c.PaymentsEnabled() {
		off = append(off, "payments")
	}
	if !c.WebhooksEnabled() {
		off = append(off, "webhooks")
	}
	if !c.VoiceEnabled() {
		off = append(off, "voice")
	}
	return off
}

// GetCORSAllowedOrigins parses the comma-separated origins string into a slice.
func (c *Config) GetCORSAllowedOrigins() []string {
	if c.CORSAllowedOrigins == "" {
		return nil
	}

	origins := strings.Split(c.CORSAllowedOrigins, ",")
	result := make([]string, 0, len(origins))

	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}

// Validate checks values env parsing cannot.
func (c *Config) Validate() error {
	var errs []error

	if c.AppPort <= 0 || c.AppPort > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be between 1 and 65535, got %d", c.AppPort))
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be json or text, got %q", c.LogFormat))
	}
	if c.IsProduction() && !c.DurableLedger() {
		errs = append(errs, errors.New("DATABASE_URL is required when APP_ENV is production"))
	}
	if c.FreeMinutes < 0 {
		errs = append(errs, fmt.Errorf("FREE_MINUTES must not be negative, got %d", c.FreeMinutes))
	}
	if c.StorageTimeout <= 0 {
		errs = append(errs, errors.New("STORAGE_TIMEOUT must be positive"))
	}
	if c.ProviderTimeout <= 0 {
		errs = append(errs, errors.New("PROVIDER_TIMEOUT must be positive"))
	}
	if c.RateLimitSessionEnabled && (c.RateLimitSessionRPS <= 0 || c.RateLimitSessionBurst <= 0) {
		errs = append(errs, errors.New("RATE_LIMIT_SESSION_RPS and RATE_LIMIT_SESSION_BURST must be positive"))
	}
	if c.MaxRequestBodySize <= 0 {
		errs = append(errs, errors.New("MAX_REQUEST_BODY_SIZE must be positive"))
	}
	if c.SubscriptionGracePeriod < 0 {
		errs = append(errs, errors.New("SUBSCRIPTION_GRACE_PERIOD must not be negative"))
	}

	return errors.Join(errs...)
}

// Load parses environment variables and returns a validated Config.
func Load() (*Config, error) {
	return load(env.Options{})
}

// LoadFrom parses the given environment instead of the process one.
func LoadFrom(environ map[string]string) (*Config, error) {
	return load(env.Options{Environment: environ})
}

func load(opts env.Options) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

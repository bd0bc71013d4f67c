// Package main is the entrypoint for the voice credits API server.
package main

import (
	"context"
	"log/slog"
	"net/url"
	"os"
	"regexp"
	"strings"

	"github.com/voicecredits/voicecredits/internal/billing"
	"github.com/voicecredits/voicecredits/internal/cache"
	"github.com/voicecredits/voicecredits/internal/config"
	"github.com/voicecredits/voicecredits/internal/credit"
	"github.com/voicecredits/voicecredits/internal/handler"
	"github.com/voicecredits/voicecredits/internal/jobs"
	"github.com/voicecredits/voicecredits/internal/metrics"
	"github.com/voicecredits/voicecredits/internal/middleware"
	"github.com/voicecredits/voicecredits/internal/repository"
	"github.com/voicecredits/voicecredits/internal/repository/memory"
	"github.com/voicecredits/voicecredits/internal/server"
	"github.com/voicecredits/voicecredits/internal/voice"
)

// ledgerStore is everything the services need from the credit ledger.
// Both the PostgreSQL repository and the in-process store satisfy it.
type ledgerStore interface {
	credit.Ledger
	billing.ReconcileLedger
	billing.CustomerLedger
	jobs.SubscriptionStore
	Ping(ctx context.Context) error
}

func main() {
	ctx := context.Background()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := initLogger(cfg)
	if disabled := cfg.Disabled(); len(disabled) > 0 {
		logger.Warn("running with features disabled", slog.Any("disabled", disabled))
	}

	// Initialize credit ledger
	var (
		store ledgerStore
		repo  *repository.Repository
	)
	if cfg.DatabaseURL != "" {
		repo, err = repository.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error(
				"failed to connect to database",
				slog.String("error", sanitizeError(err, cfg.DatabaseURL)),
				slog.String("database_url", redactURL(cfg.DatabaseURL)),
			)
			os.Exit(1)
		}
		store = repo
		logger.Info("connected to database")
	} else {
		store = memory.New()
		logger.Warn("DATABASE_URL not set, using in-process ledger; balances are lost on restart and payments are off")
	}

	// Initialize cache
	var cacheClient *cache.Cache
	if cfg.RedisURL != "" {
		cacheClient, err = cache.New(ctx, cfg.RedisURL)
		if err != nil {
			logger.Error(
				"failed to connect to Redis",
				slog.String("error", sanitizeError(err, cfg.RedisURL)),
				slog.String("redis_url", redactURL(cfg.RedisURL)),
			)
			os.Exit(1)
		}
		logger.Info("connected to Redis")
	}

	recorder := metrics.NewPrometheus()

	catalog, err := billing.LoadCatalog(cfg.CatalogFile)
	if err != nil {
		logger.Error("failed to load catalog", slog.String("error", err.Error()))
		os.Exit(1)
	}

	registry, err := voice.ParseRegistry(cfg.VoiceAgents)
	if err != nil {
		logger.Error("failed to parse voice agents", slog.String("error", err.Error()))
		os.Exit(1)
	}

	deps := newDependencies(cfg, store, repo, cacheClient)
	app := newApp(cfg, deps, catalog, registry, recorder, logger)

	if err := app.sweeper.Start(); err != nil {
		logger.Error("failed to schedule subscription sweep", slog.String("error", err.Error()))
		os.Exit(1)
	}

	r := setupRouter(app, cfg, logger)

	srv := server.New(r, server.Options{
		Port:            cfg.AppPort,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		ShutdownTimeout: cfg.ShutdownTimeout,
		Logger:          logger,
	})

	// Registered first so they close last.
	if repo != nil {
		srv.OnShutdown("database", func(context.Context) error {
			repo.Close()
			return nil
		})
	}
	if cacheClient != nil {
		srv.OnShutdown("redis", func(context.Context) error {
			return cacheClient.Close()
		})
	}
	srv.OnShutdown("subscription-sweep", app.sweeper.Stop)

	logger.Info("starting server",
		"port", cfg.AppPort,
		"base_url", cfg.BaseURL,
		"env", cfg.AppEnv,
	)

	if err := srv.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

// dependencies holds the optional collaborators as interfaces so an absent
// Redis or database never reaches a service as a typed nil.
type dependencies struct {
	store       ledgerStore
	keys        middleware.KeyStore
	dbHealth    handler.HealthChecker
	cacheHealth handler.HealthChecker
	accounts    credit.AccountCache
	authCache   middleware.AuthCache
	limiter     middleware.SessionLimiter
	locker      jobs.Locker
	invalidator billing.AccountInvalidator
	payments    billing.Provider
	// Empty leaves the webhook endpoint unconfigured.
	webhookSecret string
	credentials   voice.CredentialSource
}

func newDependencies(cfg *config.Config, store ledgerStore, repo *repository.Repository, cacheClient *cache.Cache) dependencies {
	deps := dependencies{store: store}

	if repo != nil {
		deps.keys = repo
		deps.dbHealth = repo
	}
	if cacheClient != nil {
		deps.cacheHealth = cacheClient
		deps.accounts = cacheClient
		deps.authCache = cacheClient
		deps.limiter = cacheClient
		deps.locker = cacheClient
		deps.invalidator = cacheClient
	}
	if cfg.PaymentsEnabled() {
		deps.payments = billing.NewStripeProvider(cfg.StripeSecretKey, cfg.ProviderTimeout)
	}
	if cfg.WebhooksEnabled() {
		deps.webhookSecret = cfg.StripeWebhookSecret
	}
	if cfg.VoiceEnabled() {
		deps.credentials = voice.NewClient(
			cfg.ElevenLabsAPIKey,
			cfg.ElevenLabsBaseURL,
			voice.NewHTTPClient(cfg.ProviderTimeout),
		)
	}

	return deps
}

// app is the fully wired set of services and handlers.
type app struct {
	deps     dependencies
	recorder *metrics.PrometheusRecorder

	credits    *credit.Service
	billing    *billing.Service
	reconciler *billing.Reconciler
	gateway    *voice.Gateway
	sweeper    *jobs.SubscriptionSweeper

	index   *handler.Handler
	health  *handler.HealthHandler
	session *handler.SessionHandler
	credit  *handler.CreditHandler
	pay     *handler.BillingHandler
}

func newApp(
	cfg *config.Config,
	deps dependencies,
	catalog *billing.Catalog,
	registry *voice.Registry,
	recorder *metrics.PrometheusRecorder,
	logger *slog.Logger,
) *app {
	a := &app{deps: deps, recorder: recorder}

	a.credits = credit.NewService(deps.store, credit.Config{
		FreeMinutes:    cfg.FreeMinutes,
		StorageTimeout: cfg.StorageTimeout,
		Logger:         logger,
		Metrics:        recorder,
		Cache:          deps.accounts,
	})

	a.billing = billing.NewService(catalog, deps.payments, deps.store, billing.ServiceConfig{
		SiteURL:        cfg.SiteURL,
		FreeMinutes:    cfg.FreeMinutes,
		StorageTimeout: cfg.StorageTimeout,
		Logger:         logger,
		Metrics:        recorder,
	})

	a.reconciler = billing.NewReconciler(deps.store, catalog, billing.ReconcilerConfig{
		WebhookSecret:  deps.webhookSecret,
		FreeMinutes:    cfg.FreeMinutes,
		StorageTimeout: cfg.StorageTimeout,
		Cache:          deps.invalidator,
		Logger:         logger,
		Metrics:        recorder,
	})

	a.gateway = voice.NewGateway(registry, deps.credentials)

	a.sweeper = jobs.NewSubscriptionSweeper(deps.store, jobs.SweepConfig{
		Schedule:    cfg.SubscriptionSweepSchedule,
		GracePeriod: cfg.SubscriptionGracePeriod,
		Locker:      deps.locker,
		Cache:       deps.invalidator,
		Logger:      logger,
		Metrics:     recorder,
	})

	a.index = handler.New()
	a.health = handler.NewHealthHandler(deps.dbHealth, deps.cacheHealth, handler.Features{
		Ledger:   deps.dbHealth != nil,
		Payments: deps.payments != nil,
		Webhooks: deps.webhookSecret != "",
		Voice:    a.gateway.Configured(),
	})
	a.session = handler.NewSessionHandler(a.credits, a.gateway, logger, recorder)
	a.credit = handler.NewCreditHandler(a.credits, logger)
	a.pay = handler.NewBillingHandler(a.billing, a.reconciler, logger)

	return a
}

// initLogger initializes the slog logger based on configuration.
func initLogger(cfg *config.Config) *slog.Logger {
	var h slog.Handler

	level := parseLogLevel(cfg.LogLevel)

	opts := &slog.HandlerOptions{
		Level: level,
	}

	if cfg.LogFormat == "json" {
		h = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		h = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(h)
	slog.SetDefault(logger)

	return logger
}

// parseLogLevel converts string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

var passwordPattern = regexp.MustCompile(`(?i)password=[^\s]+`)

func redactURL(raw string) string {
	if raw == "" {
		return ""
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return "[redacted]"
	}

	if parsed.User != nil {
		username := parsed.User.Username()
		if username == "" {
			parsed.User = url.User("redacted")
		} else {
			parsed.User = url.User(username)
		}
	}

	return parsed.String()
}

func sanitizeError(err error, secrets ...string) string {
	if err == nil {
		return ""
	}

	msg := err.Error()
	for _, secret := range secrets {
		if secret == "" {
			continue
		}
		redacted := redactURL(secret)
		if redacted == "" {
			redacted = "[redacted]"
		}
		msg = strings.ReplaceAll(msg, secret, redacted)
	}

	return passwordPattern.ReplaceAllString(msg, "password=redacted")
}

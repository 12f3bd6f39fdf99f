package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strconv"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/sundayezeilo/linkshare/internal/auth"
	"github.com/sundayezeilo/linkshare/internal/cache"
	"github.com/sundayezeilo/linkshare/internal/config"
	"github.com/sundayezeilo/linkshare/internal/links"
	"github.com/sundayezeilo/linkshare/internal/notify"
	"github.com/sundayezeilo/linkshare/internal/preview"
	"github.com/sundayezeilo/linkshare/internal/server"
	"github.com/sundayezeilo/linkshare/internal/worker"
)

// App holds the application dependencies and configuration.
type App struct {
	Config  *config.Config
	Logger  *slog.Logger
	DBPool  *pgxpool.Pool
	Server  *server.Server
	Handler *links.Handler
	Workers *worker.Pool
	Clicks  *links.ClickCounter

	background sync.WaitGroup
}

// New initializes and returns a new App instance with all dependencies wired up.
func New(ctx context.Context) (*App, error) {
	if err := loadEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger := setupLogger(cfg.App.LogLevel)

	logger.Info("starting application",
		"env", cfg.App.Environment,
		"version", cfg.App.Version,
	)

	// Connect to database
	dbPool, err := connectDatabase(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	a, err := wire(cfg, logger, dbPool)
	if err != nil {
		dbPool.Close()
		return nil, err
	}

	logger.Info("application initialized",
		"port", cfg.Server.Port,
		"base_url", cfg.Server.BaseURL,
		"click_mode", cfg.Links.ClickMode,
		"cache_backend", cfg.Cache.Backend,
		"smtp_enabled", cfg.SMTP.Enabled(),
	)
	return a, nil
}

// wire builds every component on top of an open pool.
func wire(cfg *config.Config, logger *slog.Logger, dbPool *pgxpool.Pool) (*App, error) {
	kv := buildCache(cfg.Cache)

	gate, err := buildGate(cfg.Auth, logger)
	if err != nil {
		return nil, err
	}

	sender, err := buildSender(cfg.SMTP, logger)
	if err != nil {
		return nil, err
	}
	dispatcher := notify.NewDispatcher(notify.DispatcherConfig{
		Sender:     sender,
		MaxRetries: cfg.SMTP.MaxRetries,
		BaseURL:    cfg.Server.BaseURL,
		Logger:     logger,
	})

	previews := preview.NewService(preview.ServiceConfig{
		Source: preview.NewFetcher(preview.FetcherConfig{
			Timeout:      cfg.Preview.FetchTimeout,
			MaxBodyBytes: cfg.Preview.MaxBodyBytes,
			MaxRedirects: cfg.Preview.MaxRedirects,
			UserAgent:    cfg.Preview.UserAgent,
			AllowPrivate: cfg.Preview.AllowPrivate,
		}),
		Cache:        kv,
		TTL:          cfg.Preview.CacheTTL,
		NegativeTTL:  cfg.Preview.NegativeTTL,
		FetchTimeout: cfg.Preview.FetchTimeout,
		Logger:       logger,
	})

	workers := worker.New(worker.Config{
		Workers:     cfg.Worker.Count,
		QueueSize:   cfg.Worker.QueueSize,
		TaskTimeout: cfg.Worker.TaskTimeout,
		Logger:      logger,
	})

	repo := links.NewRepository(dbPool, &links.RepositoryConfig{
		QueryTimeout: cfg.Database.QueryTimeout,
	})
	clicks := links.NewClickCounter(links.ClickCounterConfig{
		Mode:          links.ClickMode(cfg.Links.ClickMode),
		Store:         repo,
		Cache:         kv,
		FlushInterval: cfg.Links.ClickFlushInterval,
		Logger:        logger,
	})

	var limiter links.Limiter
	if cfg.Links.ClickRateLimit > 0 {
		limiter = cache.NewFixedWindow(kv, cfg.Links.ClickRateLimit, cfg.Links.ClickRateWindow, nil)
	}

	svc := links.NewService(repo, &links.ServiceConfig{
		Policy: &links.Policy{
			EditWindow:            cfg.Links.EditWindow,
			AdminBypassOwnership:  cfg.Links.AdminBypassOwnership,
			AdminBypassEditWindow: cfg.Links.AdminBypassEditWindow,
		},
		Tasks:    workers,
		Previews: previews,
		Notifier: dispatcher,
		Clicks:   clicks,
		Limiter:  limiter,
		Logger:   logger,
	})
	handler := links.NewHandler(links.HandlerConfig{
		Service: svc,
		Logger:  logger,
	})

	srv := server.New(cfg, logger, handler, gate, dbPool)

	return &App{
		Config:  cfg,
		Logger:  logger,
		DBPool:  dbPool,
		Server:  srv,
		Handler: handler,
		Workers: workers,
		Clicks:  clicks,
	}, nil
}

// Start runs background work and the HTTP server until ctx is canceled.
func (a *App) Start(ctx context.Context) error {
	a.Logger.Info("server starting",
		"port", a.Config.Server.Port,
		"base_url", a.Config.Server.BaseURL,
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.Workers.Start(ctx)

	a.background.Add(1)
	go func() {
		defer a.background.Done()
		a.Clicks.Run(ctx)
	}()

	if err := a.Server.Start(ctx); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Shutdown drains queued tasks, flushes buffered clicks and closes the pool, in that
// order, within the configured shutdown timeout.
func (a *App) Shutdown() error {
	a.Logger.Info("shutting down application")

	ctx, cancel := context.WithTimeout(context.Background(), a.Config.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	if a.Workers != nil {
		if err := a.Workers.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("drain workers: %w", err))
		}
		a.Logger.Info("background tasks drained",
			"dropped", a.Workers.Dropped(),
			"failed", a.Workers.Failed(),
		)
	}

	a.background.Wait()
	if a.Clicks != nil {
		if err := a.Clicks.Flush(ctx); err != nil {
			errs = append(errs, fmt.Errorf("flush clicks: %w", err))
		}
	}

	if a.DBPool != nil {
		a.DBPool.Close()
		a.Logger.Info("database connection closed")
	}

	return errors.Join(errs...)
}

// loadEnv loads .env file only in non-production environments.
func loadEnv() error {
	env := os.Getenv("APP_ENV")
	if env == "development" || env == "test" {
		if err := godotenv.Load("../.env"); err != nil {
			log.Println("no .env file found.")
		}
	}
	return nil
}

// setupLogger creates a structured logger based on the log level.
func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	handler := slog.NewJSONHandler(os.Stdout, opts)
	return slog.New(handler)
}

// connectDatabase establishes a connection to the PostgreSQL database.
func connectDatabase(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.Database.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	// Set pool configuration
	poolConfig.MaxConns = cfg.Database.MaxConns
	poolConfig.MinConns = cfg.Database.MinConns
	poolConfig.ConnConfig.ConnectTimeout = cfg.Database.ConnectTimeout

	// Server-side backstop for the per-call deadlines in the repository.
	ms := strconv.FormatInt(cfg.Database.QueryTimeout.Milliseconds(), 10)
	poolConfig.ConnConfig.RuntimeParams["statement_timeout"] = ms
	poolConfig.ConnConfig.RuntimeParams["lock_timeout"] = ms

	logger.Info("connecting to database",
		"host", cfg.Database.Host,
		"port", cfg.Database.Port,
		"database", cfg.Database.Name,
	)

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("database connection established")

	return pool, nil
}

// buildCache returns the configured backend behind a per-call deadline and key prefix.
func buildCache(cfg config.CacheConfig) cache.Cache {
	var c cache.Cache
	switch cfg.Backend {
	case "rest":
		c = cache.NewREST(cfg.URL, cfg.Token)
	default:
		c = cache.NewMemory(nil)
	}
	return cache.WithPrefix(cache.WithTimeout(c, cfg.Timeout), cfg.KeyPrefix)
}

func buildGate(cfg config.AuthConfig, logger *slog.Logger) (*auth.Gate, error) {
	vc := auth.VerifierConfig{
		Issuer:   cfg.Issuer,
		Audience: cfg.Audience,
		Leeway:   cfg.Leeway,
	}
	if cfg.JWTSecret != "" {
		vc.Secret = []byte(cfg.JWTSecret)
	} else {
		pem, err := cfg.VerificationKey()
		if err != nil {
			return nil, fmt.Errorf("failed to load verification key: %w", err)
		}
		vc.PublicKeyPEM = pem
	}

	verifier, err := auth.NewVerifier(vc)
	if err != nil {
		return nil, fmt.Errorf("failed to build token verifier: %w", err)
	}

	if cfg.AdminSecret == "" {
		logger.Info("admin secret not configured, admin access disabled")
	}
	return auth.NewGate(auth.GateConfig{
		Tokens:      verifier,
		AdminSecret: cfg.AdminSecret,
		AdminHeader: cfg.AdminHeader,
		Logger:      logger,
	}), nil
}

func buildSender(cfg config.SMTPConfig, logger *slog.Logger) (notify.Sender, error) {
	if !cfg.Enabled() {
		logger.Info("SMTP not configured, creation emails will be logged")
		return notify.LogSender{Logger: logger}, nil
	}

	sender, err := notify.NewSMTPSender(notify.SMTPConfig{
		Host:     cfg.Host,
		Port:     cfg.Port,
		Username: cfg.Username,
		Password: cfg.Password,
		From:     cfg.From,
		Timeout:  cfg.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build SMTP sender: %w", err)
	}
	return sender, nil
}

package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/sundayezeilo/linkshare/internal/httpx"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	App      AppConfig
	Auth     AuthConfig
	Links    LinksConfig
	Cache    CacheConfig
	Preview  PreviewConfig
	SMTP     SMTPConfig
	Worker   WorkerConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            string        `envconfig:"SERVER_PORT" required:"true"`
	Host            string        `envconfig:"SERVER_HOST" required:"true"`
	BaseURL         string        `envconfig:"SERVER_BASE_URL" required:"true"`
	ReadTimeout     time.Duration `envconfig:"SERVER_READ_TIMEOUT" required:"true"`
	WriteTimeout    time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" required:"true"`
	IdleTimeout     time.Duration `envconfig:"SERVER_IDLE_TIMEOUT" required:"true"`
	ShutdownTimeout time.Duration `envconfig:"SERVER_SHUTDOWN_TIMEOUT" required:"true"`
	CORSOrigins     []string      `envconfig:"SERVER_CORS_ORIGINS"`
	// TrustedProxies lists CIDRs of reverse proxies allowed to set X-Forwarded-For.
	TrustedProxies  []string      `envconfig:"SERVER_TRUSTED_PROXIES"`
}

// Validate validates the server configuration.
func (c *ServerConfig) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("port cannot be empty")
	}
	if c.Host == "" {
		return fmt.Errorf("host cannot be empty")
	}
	if c.BaseURL == "" {
		return fmt.Errorf("base URL cannot be empty")
	}
	if u, err := url.Parse(c.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("base URL must be absolute, got %q", c.BaseURL)
	}
	if c.ReadTimeout <= 0 {
		return fmt.Errorf("read timeout must be positive")
	}
	if c.WriteTimeout <= 0 {
		return fmt.Errorf("write timeout must be positive")
	}
	if c.IdleTimeout <= 0 {
		return fmt.Errorf("idle timeout must be positive")
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown timeout must be positive")
	}
	if _, err := httpx.ParseTrustedProxies(c.TrustedProxies); err != nil {
		return err
	}
	return nil
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	Host     string `envconfig:"DB_HOST" required:"true"`
	Port     string `envconfig:"DB_PORT" required:"true"`
	User     string `envconfig:"DB_USER" required:"true"`
	Password string `envconfig:"DB_PASSWORD" required:"true"`
	Name     string `envconfig:"DB_NAME" required:"true"`
	SSLMode  string `envconfig:"DB_SSLMODE" required:"true"`
	MaxConns int32  `envconfig:"DB_MAX_CONNS" required:"true"`
	MinConns int32  `envconfig:"DB_MIN_CONNS" required:"true"`

	// QueryTimeout bounds every store call, including waits on row locks.
	QueryTimeout   time.Duration `envconfig:"DB_QUERY_TIMEOUT" default:"5s"`
	ConnectTimeout time.Duration `envconfig:"DB_CONNECT_TIMEOUT" default:"5s"`
}

// Validate validates the database configuration.
func (c *DatabaseConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host cannot be empty")
	}
	if c.Port == "" {
		return fmt.Errorf("port cannot be empty")
	}
	if c.User == "" {
		return fmt.Errorf("user cannot be empty")
	}
	if c.Password == "" {
		return fmt.Errorf("password cannot be empty")
	}
	if c.Name == "" {
		return fmt.Errorf("database name cannot be empty")
	}
	if c.MaxConns <= 0 {
		return fmt.Errorf("max connections must be positive")
	}
	if c.MinConns <= 0 {
		return fmt.Errorf("min connections must be positive")
	}
	if c.QueryTimeout <= 0 {
		return fmt.Errorf("query timeout must be positive")
	}
	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("connect timeout must be positive")
	}
	if c.MinConns > c.MaxConns {
		return fmt.Errorf("min connections (%d) cannot be greater than max connections (%d)", c.MinConns, c.MaxConns)
	}

	validSSLModes := map[string]bool{
		"disable":     true,
		"require":     true,
		"verify-ca":   true,
		"verify-full": true,
	}
	if !validSSLModes[c.SSLMode] {
		return fmt.Errorf("invalid SSL mode: %s (must be one of: disable, require, verify-ca, verify-full)", c.SSLMode)
	}
	return nil
}

// ConnectionString returns the PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// AppConfig holds application-specific configuration.
type AppConfig struct {
	Environment string `envconfig:"APP_ENV" required:"true"`   // development, staging, production, test
	LogLevel    string `envconfig:"LOG_LEVEL" required:"true"` // debug, info, warn, error
	Name        string `envconfig:"APP_NAME" default:"linkshare"`
	Version     string `envconfig:"APP_VERSION" default:"dev"`
}

// Validate validates the app configuration.
func (c *AppConfig) Validate() error {
	validEnvs := map[string]bool{
		"development": true,
		"staging":     true,
		"production":  true,
		"test":        true,
	}
	if !validEnvs[c.Environment] {
		return fmt.Errorf("invalid environment: %s (must be one of: development, staging, production, test)", c.Environment)
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be one of: debug, info, warn, error)", c.LogLevel)
	}
	return nil
}

// AuthConfig holds identity provider verification material and the admin secret.
// Exactly one of JWTSecret or a public key must be set.
type AuthConfig struct {
	Issuer        string        `envconfig:"AUTH_JWT_ISSUER" required:"true"`
	Audience      string        `envconfig:"AUTH_JWT_AUDIENCE"`
	JWTSecret     string        `envconfig:"AUTH_JWT_SECRET"`
	PublicKeyPEM  string        `envconfig:"AUTH_JWT_PUBLIC_KEY"`
	PublicKeyFile string        `envconfig:"AUTH_JWT_PUBLIC_KEY_FILE"`
	Leeway        time.Duration `envconfig:"AUTH_JWT_LEEWAY" default:"30s"`
	AdminSecret   string        `envconfig:"AUTH_ADMIN_SECRET"`
	AdminHeader   string        `envconfig:"AUTH_ADMIN_HEADER" default:"X-Admin-Secret"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Issuer == "" {
		return fmt.Errorf("issuer cannot be empty")
	}

	sources := 0
	for _, s := range []string{c.JWTSecret, c.PublicKeyPEM, c.PublicKeyFile} {
		if s != "" {
			sources++
		}
	}
	if sources != 1 {
		return fmt.Errorf("exactly one of AUTH_JWT_SECRET, AUTH_JWT_PUBLIC_KEY, AUTH_JWT_PUBLIC_KEY_FILE must be set")
	}
	if c.JWTSecret != "" && len(c.JWTSecret) < 32 {
		return fmt.Errorf("jwt secret must be at least 32 bytes")
	}
	if c.AdminSecret != "" && len(c.AdminSecret) < 16 {
		return fmt.Errorf("admin secret must be at least 16 bytes")
	}
	if c.AdminHeader == "" {
		return fmt.Errorf("admin header cannot be empty")
	}
	if c.Leeway < 0 {
		return fmt.Errorf("leeway cannot be negative")
	}
	return nil
}

// VerificationKey returns the PEM public key, reading it from disk if configured by path.
func (c *AuthConfig) VerificationKey() ([]byte, error) {
	if c.PublicKeyFile != "" {
		b, err := os.ReadFile(c.PublicKeyFile)
		if err != nil {
			return nil, fmt.Errorf("read public key: %w", err)
		}
		return b, nil
	}
	return []byte(c.PublicKeyPEM), nil
}

// LinksConfig holds link policy and click counting settings.
type LinksConfig struct {
	EditWindow            time.Duration `envconfig:"LINKS_EDIT_WINDOW" default:"60s"`
	AdminBypassOwnership  bool          `envconfig:"LINKS_ADMIN_BYPASS_OWNERSHIP" default:"true"`
	AdminBypassEditWindow bool          `envconfig:"LINKS_ADMIN_BYPASS_EDIT_WINDOW" default:"true"`
	ClickMode             string        `envconfig:"LINKS_CLICK_MODE" default:"direct"` // direct, buffered
	ClickFlushInterval    time.Duration `envconfig:"LINKS_CLICK_FLUSH_INTERVAL" default:"5s"`
	ClickRateLimit        int64         `envconfig:"LINKS_CLICK_RATE_LIMIT" default:"0"`
	ClickRateWindow       time.Duration `envconfig:"LINKS_CLICK_RATE_WINDOW" default:"1m"`
}

// Validate validates the links configuration.
func (c *LinksConfig) Validate() error {
	if c.EditWindow <= 0 {
		return fmt.Errorf("edit window must be positive")
	}
	switch c.ClickMode {
	case "direct":
	case "buffered":
		if c.ClickFlushInterval <= 0 {
			return fmt.Errorf("click flush interval must be positive in buffered mode")
		}
	default:
		return fmt.Errorf("invalid click mode: %s (must be one of: direct, buffered)", c.ClickMode)
	}
	if c.ClickRateLimit < 0 {
		return fmt.Errorf("click rate limit cannot be negative")
	}
	if c.ClickRateLimit > 0 && c.ClickRateWindow < time.Second {
		return fmt.Errorf("click rate window must be at least 1s")
	}
	return nil
}

// CacheConfig selects and configures the cache backend.
type CacheConfig struct {
	Backend   string        `envconfig:"CACHE_BACKEND" default:"memory"` // memory, rest
	URL       string        `envconfig:"CACHE_REST_URL"`
	Token     string        `envconfig:"CACHE_REST_TOKEN"`
	Timeout   time.Duration `envconfig:"CACHE_TIMEOUT" default:"500ms"`
	KeyPrefix string        `envconfig:"CACHE_KEY_PREFIX" default:"linkshare:"`
}

// Validate validates the cache configuration.
func (c *CacheConfig) Validate() error {
	switch c.Backend {
	case "memory":
	case "rest":
		if c.URL == "" {
			return fmt.Errorf("CACHE_REST_URL is required for the rest backend")
		}
		if c.Token == "" {
			return fmt.Errorf("CACHE_REST_TOKEN is required for the rest backend")
		}
	default:
		return fmt.Errorf("invalid cache backend: %s (must be one of: memory, rest)", c.Backend)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("cache timeout must be positive")
	}
	return nil
}

// PreviewConfig bounds outbound preview fetches.
type PreviewConfig struct {
	FetchTimeout time.Duration `envconfig:"PREVIEW_FETCH_TIMEOUT" default:"5s"`
	MaxBodyBytes int64         `envconfig:"PREVIEW_MAX_BODY_BYTES" default:"1048576"`
	MaxRedirects int           `envconfig:"PREVIEW_MAX_REDIRECTS" default:"5"`
	CacheTTL     time.Duration `envconfig:"PREVIEW_CACHE_TTL" default:"24h"`
	NegativeTTL  time.Duration `envconfig:"PREVIEW_NEGATIVE_TTL" default:"10m"`
	UserAgent    string        `envconfig:"PREVIEW_USER_AGENT" default:"linkshare-preview/1.0"`
	// AllowPrivate lets previews reach loopback and private networks. Local development only.
	AllowPrivate bool          `envconfig:"PREVIEW_ALLOW_PRIVATE" default:"false"`
}

// Validate validates the preview configuration.
func (c *PreviewConfig) Validate() error {
	if c.FetchTimeout <= 0 {
		return fmt.Errorf("fetch timeout must be positive")
	}
	if c.MaxBodyBytes <= 0 {
		return fmt.Errorf("max body bytes must be positive")
	}
	if c.MaxRedirects < 0 {
		return fmt.Errorf("max redirects cannot be negative")
	}
	if c.CacheTTL <= 0 || c.NegativeTTL <= 0 {
		return fmt.Errorf("preview cache TTLs must be positive")
	}
	if c.NegativeTTL > c.CacheTTL {
		return fmt.Errorf("negative TTL (%s) should not exceed cache TTL (%s)", c.NegativeTTL, c.CacheTTL)
	}
	return nil
}

// SMTPConfig configures the creation email relay. An empty host disables SMTP delivery.
type SMTPConfig struct {
	Host       string        `envconfig:"SMTP_HOST"`
	Port       int           `envconfig:"SMTP_PORT" default:"587"`
	Username   string        `envconfig:"SMTP_USERNAME"`
	Password   string        `envconfig:"SMTP_PASSWORD"`
	From       string        `envconfig:"SMTP_FROM" default:"no-reply@linkshare.local"`
	Timeout    time.Duration `envconfig:"SMTP_TIMEOUT" default:"10s"`
	MaxRetries uint64        `envconfig:"SMTP_MAX_RETRIES" default:"3"`
}

// Validate validates the SMTP configuration.
func (c *SMTPConfig) Validate() error {
	if c.Host == "" {
		return nil
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid SMTP port: %d", c.Port)
	}
	if c.From == "" {
		return fmt.Errorf("from address cannot be empty")
	}
	if (c.Username == "") != (c.Password == "") {
		return fmt.Errorf("SMTP username and password must be set together")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("SMTP timeout must be positive")
	}
	return nil
}

// Enabled reports whether real SMTP delivery is configured.
func (c *SMTPConfig) Enabled() bool { return c.Host != "" }

// WorkerConfig sizes the background task queue.
type WorkerConfig struct {
	Count       int           `envconfig:"WORKER_COUNT" default:"4"`
	QueueSize   int           `envconfig:"WORKER_QUEUE_SIZE" default:"256"`
	TaskTimeout time.Duration `envconfig:"WORKER_TASK_TIMEOUT" default:"30s"`
}

// Validate validates the worker configuration.
func (c *WorkerConfig) Validate() error {
	if c.Count <= 0 {
		return fmt.Errorf("worker count must be positive")
	}
	if c.QueueSize <= 0 {
		return fmt.Errorf("queue size must be positive")
	}
	if c.TaskTimeout <= 0 {
		return fmt.Errorf("task timeout must be positive")
	}
	return nil
}

type section struct {
	name     string
	target   any
	validate func() error
}

// Load loads configuration from environment variables only.
// (Do .env loading in internal/app for dev, not here.)
func Load() (*Config, error) {
	cfg := &Config{}

	sections := []section{
		{"Server", &cfg.Server, cfg.Server.Validate},
		{"Database", &cfg.Database, cfg.Database.Validate},
		{"App", &cfg.App, cfg.App.Validate},
		{"Auth", &cfg.Auth, cfg.Auth.Validate},
		{"Links", &cfg.Links, cfg.Links.Validate},
		{"Cache", &cfg.Cache, cfg.Cache.Validate},
		{"Preview", &cfg.Preview, cfg.Preview.Validate},
		{"SMTP", &cfg.SMTP, cfg.SMTP.Validate},
		{"Worker", &cfg.Worker, cfg.Worker.Validate},
	}

	for _, s := range sections {
		if err := envconfig.Process("", s.target); err != nil {
			return nil, fmt.Errorf("failed to load %s config: %w", s.name, err)
		}
		if err := s.validate(); err != nil {
			return nil, fmt.Errorf("invalid %s config: %w", s.name, err)
		}
	}

	return cfg, nil
}

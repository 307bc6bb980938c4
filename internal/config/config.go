// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
// It is built once at startup and passed by value or pointer to constructors; nothing mutates it afterwards.
type Config struct {
	// HTTPAddr is the address of the public HTTP server (e.g. :3000).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// InternalHTTPAddr serves only the session-validation endpoint for the routing guard.
	InternalHTTPAddr string `mapstructure:"INTERNAL_HTTP_ADDR"`
	// HealthGRPCAddr is the address of the gRPC health server.
	HealthGRPCAddr string `mapstructure:"HEALTH_GRPC_ADDR"`
	// DatabaseURL is the Postgres DSN. When empty the server runs on in-memory stores.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// JWTSecret is the HMAC signing secret, inline or a path to a file containing it.
	JWTSecret string `mapstructure:"JWT_SECRET"`
	// JWTIssuer is the iss claim set on every token.
	JWTIssuer string `mapstructure:"JWT_ISSUER"`
	// JWTAccessTTL is the access token lifetime (e.g. "24h").
	JWTAccessTTL string `mapstructure:"JWT_ACCESS_TTL"`
	// JWTRefreshTTL is the refresh token lifetime (e.g. "168h").
	JWTRefreshTTL string `mapstructure:"JWT_REFRESH_TTL"`
	// BcryptCost is the bcrypt cost factor (4–31); default 12.
	BcryptCost int `mapstructure:"BCRYPT_COST"`
	// Env is the application environment ("development", "production"). Cookies are Secure in production.
	Env string `mapstructure:"APP_ENV"`

	MaxConcurrentSessions int    `mapstructure:"MAX_CONCURRENT_SESSIONS"`
	MaxLoginAttempts      int    `mapstructure:"MAX_LOGIN_ATTEMPTS"`
	LockoutDuration       string `mapstructure:"LOCKOUT_DURATION"`
	DBRetryAttempts       int    `mapstructure:"DB_RETRY_ATTEMPTS"`
	DBRetryBaseDelay      string `mapstructure:"DB_RETRY_BASE_DELAY"`

	// ValidateURL is the base URL the routing guard calls for session validation (the internal listener).
	ValidateURL        string `mapstructure:"VALIDATE_URL"`
	ValidateRetries    int    `mapstructure:"VALIDATE_RETRIES"`
	ValidateRetryDelay string `mapstructure:"VALIDATE_RETRY_DELAY"`
	// SignInPath is where browser routes are redirected when authentication is missing.
	SignInPath string `mapstructure:"SIGN_IN_PATH"`

	// RedisURL enables the shared sliding-window rate limiter (e.g. redis://localhost:6379/0).
	// When empty a per-process limiter is used.
	RedisURL          string `mapstructure:"REDIS_URL"`
	// TrustedProxies lists the IPs or CIDRs of reverse proxies whose X-Forwarded-For is believed.
	// Empty means the peer address is the client.
	TrustedProxies    string `mapstructure:"TRUSTED_PROXIES"`
	RateLimitRequests int    `mapstructure:"RATE_LIMIT_REQUESTS"`
	RateLimitWindow   string `mapstructure:"RATE_LIMIT_WINDOW"`

	// EmailAPIURL is the transactional mail endpoint for login notifications. When empty notifications are logged.
	EmailAPIURL string `mapstructure:"EMAIL_API_URL"`
	EmailAPIKey string `mapstructure:"EMAIL_API_KEY"`
	EmailFrom   string `mapstructure:"EMAIL_FROM"`

	// OTLPEndpoint is the OpenTelemetry collector (gRPC). Empty disables export.
	OTLPEndpoint    string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTLPInsecure    bool   `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
	OTelServiceName string `mapstructure:"OTEL_SERVICE_NAME"`
	JanitorInterval string `mapstructure:"SESSION_JANITOR_INTERVAL"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":3000")
	v.SetDefault("INTERNAL_HTTP_ADDR", "127.0.0.1:3001")
	v.SetDefault("HEALTH_GRPC_ADDR", ":9090")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("JWT_ISSUER", "study-abroad-portal")
	v.SetDefault("JWT_ACCESS_TTL", "24h")
	v.SetDefault("JWT_REFRESH_TTL", "168h") // 7d
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("MAX_CONCURRENT_SESSIONS", 3)
	v.SetDefault("MAX_LOGIN_ATTEMPTS", 5)
	v.SetDefault("LOCKOUT_DURATION", "15m")
	v.SetDefault("DB_RETRY_ATTEMPTS", 3)
	v.SetDefault("DB_RETRY_BASE_DELAY", "1s")
	v.SetDefault("VALIDATE_URL", "")
	v.SetDefault("VALIDATE_RETRIES", 3)
	v.SetDefault("VALIDATE_RETRY_DELAY", "500ms")
	v.SetDefault("SIGN_IN_PATH", "/signin")
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("TRUSTED_PROXIES", "")
	v.SetDefault("RATE_LIMIT_REQUESTS", 10)
	v.SetDefault("RATE_LIMIT_WINDOW", "10s")
	v.SetDefault("EMAIL_API_URL", "")
	v.SetDefault("EMAIL_API_KEY", "")
	v.SetDefault("EMAIL_FROM", "no-reply@study-abroad-portal.local")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("OTEL_SERVICE_NAME", "study-abroad-portal")
	v.SetDefault("SESSION_JANITOR_INTERVAL", "10m")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}
	if strings.TrimSpace(cfg.JWTSecret) == "" {
		return nil, errors.New("config: JWT_SECRET must be set")
	}

	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = 12
	}
	if cfg.BcryptCost < 4 || cfg.BcryptCost > 31 {
		return nil, errors.New("config: BCRYPT_COST must be between 4 and 31")
	}
	if cfg.MaxConcurrentSessions < 1 {
		return nil, errors.New("config: MAX_CONCURRENT_SESSIONS must be at least 1")
	}
	if cfg.MaxLoginAttempts < 1 {
		return nil, errors.New("config: MAX_LOGIN_ATTEMPTS must be at least 1")
	}
	if cfg.DBRetryAttempts < 1 {
		cfg.DBRetryAttempts = 1
	}
	if cfg.RateLimitRequests < 1 {
		return nil, errors.New("config: RATE_LIMIT_REQUESTS must be at least 1")
	}
	if cfg.ValidateURL == "" {
		cfg.ValidateURL = "http://" + loopbackAddr(cfg.InternalHTTPAddr)
	}

	return &cfg, nil
}

// IsProduction reports whether APP_ENV is production. Used for Secure cookies.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// AccessTTL parses JWTAccessTTL as a time.Duration. Returns 24h if unset or invalid.
func (c *Config) AccessTTL() time.Duration {
	return parseDuration(c.JWTAccessTTL, 24*time.Hour)
}

// RefreshTTL parses JWTRefreshTTL as a time.Duration. Returns 168h if unset or invalid.
func (c *Config) RefreshTTL() time.Duration {
	return parseDuration(c.JWTRefreshTTL, 168*time.Hour)
}

// Lockout returns LockoutDuration, defaulting to 15m.
func (c *Config) Lockout() time.Duration {
	return parseDuration(c.LockoutDuration, 15*time.Minute)
}

// RetryBaseDelay returns DBRetryBaseDelay, defaulting to 1s.
func (c *Config) RetryBaseDelay() time.Duration {
	return parseDuration(c.DBRetryBaseDelay, time.Second)
}

// ValidateDelay returns ValidateRetryDelay, defaulting to 500ms.
func (c *Config) ValidateDelay() time.Duration {
	return parseDuration(c.ValidateRetryDelay, 500*time.Millisecond)
}

// RateWindow returns RateLimitWindow, defaulting to 10s.
func (c *Config) RateWindow() time.Duration {
	return parseDuration(c.RateLimitWindow, 10*time.Second)
}

// JanitorEvery returns SessionJanitorInterval, defaulting to 10m.
func (c *Config) JanitorEvery() time.Duration {
	return parseDuration(c.JanitorInterval, 10*time.Minute)
}

func parseDuration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// loopbackAddr turns ":3001" into "127.0.0.1:3001" so the guard can dial the internal listener.
func loopbackAddr(addr string) string {
	if strings.HasPrefix(addr, ":") {
		return "127.0.0.1" + addr
	}
	return addr
}

package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

const defaultAddr = "0.0.0.0:8080"

// Config holds the complete application configuration, loadable from
// environment variables (XIXI_ prefix), flags, or YAML config files.
type Config struct {
	Addr           string        `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL    string        `usage:"PostgreSQL connection URL (XIXI_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	RedisURL       string        `usage:"Redis URL for shared rate limit counters; in-process limiting when empty" flag:"redis-url"`
	RequestTimeout time.Duration `default:"10s" usage:"Per-request deadline for storage calls" flag:"request-timeout"`
	JWT            JWTConfig
	Cart           CartConfig
	RateLimit      RateLimitConfig
	CORS           CORSConfig
	Graceful       GracefulConfig
}

// JWTConfig controls bearer token verification.
type JWTConfig struct {
	Secret string `usage:"HS256 signing secret (XIXI_JWT_SECRET)" flag:"jwt-secret"`
	Issuer string `default:"xixi" usage:"Expected token issuer" flag:"jwt-issuer"`
}

// CartConfig bounds the optimistic retry loop of cart mutations.
type CartConfig struct {
	MaxAttempts          uint          `default:"20" usage:"Attempts per cart mutation before reporting a conflict" flag:"cart-max-attempts"`
	RetryInitialInterval time.Duration `default:"2ms" usage:"First backoff after a version conflict" flag:"cart-retry-initial"`
	RetryMaxInterval     time.Duration `default:"100ms" usage:"Backoff cap between retries" flag:"cart-retry-max"`
}

// RateLimitConfig controls the per-client rate limiter.
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

// LoadConfig loads configuration from environment variables and YAML config
// files, then applies platform defaults and validates it.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "XIXI",
		Files:     []string{"config.yaml", "/etc/xixi/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyPlatformDefaults maps the DATABASE_URL and PORT variables that
// hosting platforms inject onto the XIXI_-prefixed settings.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		c.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
}

func (c *Config) validate() error {
	switch {
	case c.DatabaseURL == "":
		return errors.New("database URL is required: set XIXI_DATABASE_URL or DATABASE_URL")
	case c.JWT.Secret == "":
		return errors.New("JWT secret is required: set XIXI_JWT_SECRET")
	case c.RateLimit.Max < 1 || c.RateLimit.Window <= 0:
		return errors.Errorf("invalid rate limit %d per %s", c.RateLimit.Max, c.RateLimit.Window)
	}
	return nil
}

package api

import (
	"os"
	"time"

	"github.com/stagefs/stagefs/internal/bytesize"
	"github.com/stagefs/stagefs/internal/logger"
)

// EnvJWTSecret is the name of the environment variable for the admin JWT
// signing secret.
const EnvJWTSecret = "STAGEFS_API_JWT_SECRET"

// Config configures the REST API HTTP server.
//
// The API server carries the whole upload surface (file, archive, and
// resumable session endpoints), file retrieval and deletion, task
// polling, and the admin endpoints for projects and API keys.
type Config struct {
	// Port is the HTTP port for the API endpoints.
	// Default: 8080
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`

	// ReadHeaderTimeout is the maximum duration for reading request
	// headers. Request bodies are deliberately unbounded here: uploads
	// stream for as long as the client needs.
	// Default: 10s
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`

	// IdleTimeout is the maximum amount of time to wait for the next request
	// when keep-alives are enabled.
	// Default: 60s
	IdleTimeout time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`

	// RequestTimeout bounds metadata and admin requests. Streaming
	// endpoints (upload bodies, file downloads) are exempt.
	// Default: 60s
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`

	// BaseURL is the externally visible base URL used when building task
	// polling URLs. When empty, URLs are derived from the incoming request.
	BaseURL string `mapstructure:"base_url" yaml:"base_url,omitempty"`

	// DefaultProjectQuota is the quota assigned to projects created
	// without an explicit one.
	// Default: 5GiB
	DefaultProjectQuota bytesize.Size `mapstructure:"default_project_quota" yaml:"default_project_quota"`

	// JWT configures admin token generation and validation.
	JWT JWTConfig `mapstructure:"jwt" yaml:"jwt"`
}

// JWTConfig configures JWT token generation and validation for the admin API.
type JWTConfig struct {
	// Secret is the HMAC signing key for admin tokens.
	// Must be at least 32 characters long.
	// Can also be set via STAGEFS_API_JWT_SECRET environment variable.
	// Environment variable takes precedence over config file.
	Secret string `mapstructure:"secret" yaml:"secret"`

	// AccessTokenDuration is the lifetime of access tokens.
	// Default: 15m
	AccessTokenDuration time.Duration `mapstructure:"access_token_duration" yaml:"access_token_duration"`

	// RefreshTokenDuration is the lifetime of refresh tokens.
	// Default: 168h (7 days)
	RefreshTokenDuration time.Duration `mapstructure:"refresh_token_duration" yaml:"refresh_token_duration"`
}

// ApplyDefaults fills in zero values with sensible defaults.
func (c *Config) ApplyDefaults() {
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.ReadHeaderTimeout == 0 {
		c.ReadHeaderTimeout = 10 * time.Second
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 60 * time.Second
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 60 * time.Second
	}
	if c.DefaultProjectQuota <= 0 {
		c.DefaultProjectQuota = 5 * bytesize.GiB
	}
	// JWT defaults
	if c.JWT.AccessTokenDuration == 0 {
		c.JWT.AccessTokenDuration = 15 * time.Minute
	}
	if c.JWT.RefreshTokenDuration == 0 {
		c.JWT.RefreshTokenDuration = 7 * 24 * time.Hour
	}
}

// GetJWTSecret returns the JWT secret, preferring the environment variable.
// Returns empty string if neither env var nor config secret is set.
// Logs a warning if the environment variable overrides a config file value.
func (c *Config) GetJWTSecret() string {
	envSecret := os.Getenv(EnvJWTSecret)
	if envSecret != "" {
		if c.JWT.Secret != "" && c.JWT.Secret != envSecret {
			logger.Warn("JWT secret from environment variable overrides config file value",
				"env_var", EnvJWTSecret)
		}
		return envSecret
	}
	return c.JWT.Secret
}

// HasJWTSecret returns whether a JWT secret is configured.
func (c *Config) HasJWTSecret() bool {
	return c.GetJWTSecret() != ""
}

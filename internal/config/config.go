// Package config loads the proxy configuration from the environment.
//
// Values come from the OS environment, optionally seeded by a .env file in the
// working directory. Existing environment variables always win over .env.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port               string        `envconfig:"PORT" default:"8000" validate:"required,numeric"`
	MailTMBaseURL      string        `envconfig:"MAILTM_BASE_URL" default:"https://api.mail.tm" validate:"required,url"`
	UpstreamTimeout    time.Duration `envconfig:"UPSTREAM_TIMEOUT" default:"20s" validate:"gt=0"`
	UserAgent          string        `envconfig:"USER_AGENT" default:"tempmail-proxy/1.0"`
	LogLevel           string        `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`
	CORSAllowedOrigins []string      `envconfig:"CORS_ALLOWED_ORIGINS" default:"*" validate:"min=1"`

	// Stats and the admin surface are enabled only when RedisURL is set.
	RedisURL      string `envconfig:"REDIS_URL"`
	AdminPassword string `envconfig:"ADMIN_PASSWORD" validate:"required_with=RedisURL"`
	JWTSecret     string `envconfig:"JWT_SECRET"`
}

// StatsEnabled reports whether the Redis stats store should be wired.
func (c *Config) StatsEnabled() bool {
	return c.RedisURL != ""
}

// Load reads .env (if present), processes the environment and validates the
// result.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("processing environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the struct rules. Callers that override fields after Load
// must validate again.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

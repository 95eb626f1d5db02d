// Package config loads the server configuration from the environment.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds the application configuration
type Config struct {
	Port        string `env:"PORT"        envDefault:"8080"`
	Environment string `env:"ENVIRONMENT" envDefault:"development"`

	// AllowedOrigins lists the browser origins that may open /ws.
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:","`

	DatabaseURL string `env:"DATABASE_URL,required,notEmpty"`
	// RedisURL enables cross-instance room fan-out; empty keeps it in process.
	RedisURL string `env:"REDIS_URL"`

	JWTSecret       string        `env:"JWT_SECRET,required,notEmpty"`
	AccessTokenTTL  time.Duration `env:"ACCESS_TOKEN_TTL"  envDefault:"48h"`
	RefreshTokenTTL time.Duration `env:"REFRESH_TOKEN_TTL" envDefault:"720h"`

	OTPSecret      string        `env:"OTP_SECRET,required,notEmpty"`
	OTPSalt        string        `env:"OTP_SALT,required,notEmpty"`
	ReaperInterval time.Duration `env:"REAPER_INTERVAL" envDefault:"1s"`

	SMSAPIKey string `env:"SMS_API_KEY"`
	SMSSender string `env:"SMS_SENDER"  envDefault:"Nika"`
	SMSDryRun bool   `env:"SMS_DRY_RUN" envDefault:"false"`

	OpenAIAPIKey  string `env:"OPENAI_API_KEY"`
	OpenAIModel   string `env:"OPENAI_MODEL"   envDefault:"gpt-3.5-turbo"`
	AssistantName string `env:"ASSISTANT_NAME" envDefault:"Nika"`

	PaymentPassword string `env:"PAYMENT_PASSWORD"`
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg.DatabaseURL = strings.TrimSpace(cfg.DatabaseURL)
	if _, err := url.Parse(cfg.DatabaseURL); err != nil {
		return nil, fmt.Errorf("config: invalid DATABASE_URL: %w", err)
	}
	return cfg, nil
}

// IsDevelopment reports whether the server runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// Package config loads the process-wide configuration from the environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the immutable startup configuration for the API. It is parsed
// once in main and passed explicitly to the services that need it; nothing
// reads the environment after startup.
type Config struct {
	Port        string `env:"PORT" envDefault:"8080"`
	Environment string `env:"ENVIRONMENT" envDefault:"development"`

	DatabaseURL string `env:"DATABASE_URL,required"`

	// RS256 key material, PEM encoded. Access and refresh tokens use
	// separate key pairs so a leaked access key cannot forge refresh
	// tokens and vice versa.
	AccessTokenPrivateKey  string `env:"ACCESS_TOKEN_PRIVATE_KEY,required"`
	AccessTokenPublicKey   string `env:"ACCESS_TOKEN_PUBLIC_KEY,required"`
	RefreshTokenPrivateKey string `env:"REFRESH_TOKEN_PRIVATE_KEY,required"`
	RefreshTokenPublicKey  string `env:"REFRESH_TOKEN_PUBLIC_KEY,required"`

	AccessTokenTTL  time.Duration `env:"ACCESS_TOKEN_TTL" envDefault:"15m"`
	RefreshTokenTTL time.Duration `env:"REFRESH_TOKEN_TTL" envDefault:"360h"`

	GoogleClientID     string `env:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string `env:"GOOGLE_CLIENT_SECRET"`
	GoogleRedirectURL  string `env:"GOOGLE_REDIRECT_URL"`

	MailAPIURL    string `env:"MAIL_API_URL" envDefault:"https://send.api.mailtrap.io/api/send"`
	MailAPIKey    string `env:"MAIL_API_KEY"`
	MailFromEmail string `env:"MAIL_FROM_EMAIL" envDefault:"noreply@multiemail.us"`
	MailFromName  string `env:"MAIL_FROM_NAME" envDefault:"Multi Email"`

	SentryDSN string `env:"SENTRY_DSN"`

	CORSAllowOrigins     []string `env:"CORS_ALLOW_ORIGINS" envSeparator:","`
	CORSAllowCredentials bool     `env:"CORS_ALLOW_CREDENTIALS"`

	// Requests per second per client IP, with an equal burst.
	RateLimit int `env:"RATE_LIMIT" envDefault:"20"`
}

// Load parses the configuration from environment variables. Key material may
// be provided with literal "\n" escapes (the usual way to keep PEM blocks in
// a single env line); those are unescaped here.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	cfg.AccessTokenPrivateKey = unescapePEM(cfg.AccessTokenPrivateKey)
	cfg.AccessTokenPublicKey = unescapePEM(cfg.AccessTokenPublicKey)
	cfg.RefreshTokenPrivateKey = unescapePEM(cfg.RefreshTokenPrivateKey)
	cfg.RefreshTokenPublicKey = unescapePEM(cfg.RefreshTokenPublicKey)

	return cfg, nil
}

func unescapePEM(s string) string {
	return strings.ReplaceAll(s, `\n`, "\n")
}

// Package config loads server configuration from the environment.
package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/caarlos0/env/v11"
)

// Config holds all settings for the MCP server. Every field can be set from
// the environment; serve command flags override the parsed values.
type Config struct {
	// GoogleClientID and GoogleClientSecret identify the OAuth client
	// registered in the Google Cloud console.
	GoogleClientID     string `env:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string `env:"GOOGLE_CLIENT_SECRET"`

	// RedirectURI must exactly match the redirect URI registered with the
	// OAuth client; the code exchange fails otherwise.
	RedirectURI string `env:"GOOGLE_REDIRECT_URI"`

	// BaseURL is the public URL of this server, used to build the redirect
	// URI default and the endpoint URLs shown to users after login.
	BaseURL string `env:"BASE_URL" envDefault:"http://localhost:8000"`

	// SecretKey is accepted for deployment compatibility. The OAuth state
	// is a random single-use nonce, so nothing currently signs with it.
	SecretKey string `env:"SECRET_KEY"`

	// DatabasePath is the SQLite file holding user credentials.
	DatabasePath string `env:"DATABASE_PATH" envDefault:"gsc_tokens.db"`

	HTTPAddr    string `env:"HTTP_ADDR" envDefault:":8000"`
	MetricsAddr string `env:"METRICS_ADDR" envDefault:":9090"`

	Debug bool `env:"DEBUG"`
}

// Load parses the configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return &cfg, nil
}

// Validate checks that the configuration is complete enough to serve.
func (c *Config) Validate() error {
	if c.GoogleClientID == "" || c.GoogleClientSecret == "" {
		return fmt.Errorf("GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET must be set")
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("base URL must be http or https, got %q", u.Scheme)
	}
	if u.Scheme == "http" {
		host := u.Hostname()
		if host != "localhost" && host != "127.0.0.1" && host != "::1" {
			return fmt.Errorf("base URL must use HTTPS outside localhost (got %s)", c.BaseURL)
		}
	}
	return nil
}

// EffectiveRedirectURI returns the configured redirect URI, defaulting to
// the callback path under the base URL.
func (c *Config) EffectiveRedirectURI() string {
	if c.RedirectURI != "" {
		return c.RedirectURI
	}
	return strings.TrimRight(c.BaseURL, "/") + "/oauth/callback"
}

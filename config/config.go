// Package config loads process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"

	"github.com/ggoodman/dsp-mcp-go/booking"
	"github.com/ggoodman/dsp-mcp-go/security"
)

// Server identity reported during initialization and by /health.
const (
	ServerName    = "dsp-mcp"
	ServerVersion = "0.1.0"
)

// Credential store kinds.
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

// Config is the process configuration. Defaults are provided via struct tags.
type Config struct {
	// BaseURL of the booking API. ENV: DSP_BOOKING_BASE_URL
	BaseURL         string `env:"DSP_BOOKING_BASE_URL"`
	APIVersion      string `env:"DSP_BOOKING_API_VERSION,default=1.0"`
	SubscriptionKey string `env:"DSP_APIM_SUBSCRIPTION_KEY"`

	OAuthClientID     string `env:"DSP_OAUTH_CLIENT_ID"`
	OAuthClientSecret string `env:"DSP_OAUTH_CLIENT_SECRET"`
	// OAuthTokenURL is the token endpoint for schemes that declare none.
	OAuthTokenURL string `env:"DSP_OAUTH_TOKEN_URL"`
	// OAuthIssuer enables OIDC discovery of the token endpoint.
	OAuthIssuer string `env:"DSP_OAUTH_ISSUER"`

	// AllowedHosts is a comma separated list; empty disables the check.
	AllowedHosts string `env:"MCP_ALLOWED_HOSTS"`
	RunInLambda  bool   `env:"RUN_IN_LAMBDA,default=false"`
	LambdaPort   int    `env:"AWS_LWA_PORT,default=0"`

	CredentialStore string `env:"CREDENTIAL_STORE,default=memory"`
	RedisAddr       string `env:"REDIS_ADDR,default=localhost:6379"`
	RedisKeyPrefix  string `env:"CREDENTIAL_KEY_PREFIX,default=dsp-mcp:credentials:"`

	RoutesFile  string        `env:"DSP_ROUTES_FILE"`
	HTTPTimeout time.Duration `env:"DSP_HTTP_TIMEOUT,default=30s"`
	LogLevel    string        `env:"LOG_LEVEL,default=info"`
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode environment: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.CredentialStore {
	case StoreMemory, StoreRedis:
	default:
		return fmt.Errorf("CREDENTIAL_STORE must be %q or %q, got %q", StoreMemory, StoreRedis, c.CredentialStore)
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	if c.HTTPTimeout < 0 {
		return fmt.Errorf("DSP_HTTP_TIMEOUT must not be negative")
	}
	return nil
}

// SlogLevel parses LogLevel.
func (c *Config) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	return lvl, nil
}

// Hosts splits AllowedHosts.
func (c *Config) Hosts() []string {
	var out []string
	for _, h := range strings.Split(c.AllowedHosts, ",") {
		if h = strings.TrimSpace(h); h != "" {
			out = append(out, h)
		}
	}
	return out
}

// SecurityValues projects the configuration onto the booking security
// schemes. API-key values are keyed by the header they are sent in.
func (c *Config) SecurityValues() security.Values {
	return security.Values{
		APIKeys: map[string]string{
			booking.HeaderSubscriptionKey: c.SubscriptionKey,
			booking.HeaderAPIVersion:      c.APIVersion,
		},
		ClientID:        c.OAuthClientID,
		ClientSecret:    c.OAuthClientSecret,
		DefaultTokenURL: c.OAuthTokenURL,
		Issuer:          c.OAuthIssuer,
	}
}

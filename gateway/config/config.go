package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// RateLimitConfig throttles a named route group. RequestsPerMinute applies per
// client identifier.
type RateLimitConfig struct {
	ID                string  `yaml:"id"`
	RequestsPerMinute float64 `yaml:"requestsPerMinute"`
	Burst             int     `yaml:"burst"`
}

// ObservabilityConfig toggles metrics and tracing for gateway handlers.
type ObservabilityConfig struct {
	ServiceName   string `yaml:"serviceName"`
	Metrics       bool   `yaml:"metrics"`
	Tracing       bool   `yaml:"tracing"`
	LogRequests   bool   `yaml:"logRequests"`
	MetricsPrefix string `yaml:"metricsPrefix"`
}

// AuthConfig configures bearer-token authentication for write routes.
type AuthConfig struct {
	Enabled    bool          `yaml:"enabled"`
	HMACSecret string        `yaml:"hmacSecret"`
	Issuer     string        `yaml:"issuer"`
	Audience   string        `yaml:"audience"`
	ScopeClaim string        `yaml:"scopeClaim"`
	ClockSkew  time.Duration `yaml:"clockSkew"`
}

// Config is the gateway-level configuration, kept separate from the node
// config so operators can front the same node with differently tuned gateways.
type Config struct {
	ListenAddress string              `yaml:"listen"`
	ReadTimeout   time.Duration       `yaml:"readTimeout"`
	WriteTimeout  time.Duration       `yaml:"writeTimeout"`
	IdleTimeout   time.Duration       `yaml:"idleTimeout"`
	RateLimits    []RateLimitConfig   `yaml:"rateLimits"`
	Observability ObservabilityConfig `yaml:"observability"`
	Auth          AuthConfig          `yaml:"auth"`
}

// Default returns the configuration used when no gateway config file exists.
func Default() Config {
	return Config{
		ListenAddress: ":8080",
		ReadTimeout:   30 * time.Second,
		WriteTimeout:  30 * time.Second,
		IdleTimeout:   120 * time.Second,
		Observability: ObservabilityConfig{
			ServiceName:   "credit-gateway",
			Metrics:       true,
			Tracing:       true,
			LogRequests:   true,
			MetricsPrefix: "gateway",
		},
		Auth: AuthConfig{
			ScopeClaim: "scope",
			ClockSkew:  2 * time.Minute,
		},
	}
}

// Load reads the gateway configuration from path, falling back to defaults
// when the path is empty.
func Load(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read gateway config: %w", err)
	}
	dec := yaml.NewDecoder(strings.NewReader(string(raw)))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse gateway config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.ListenAddress) == "" {
		return errors.New("gateway config: listen address required")
	}
	if c.Auth.Enabled && strings.TrimSpace(c.Auth.HMACSecret) == "" {
		return errors.New("gateway config: auth enabled without hmacSecret")
	}
	seen := make(map[string]struct{}, len(c.RateLimits))
	for _, rl := range c.RateLimits {
		id := strings.TrimSpace(rl.ID)
		if id == "" {
			return errors.New("gateway config: rate limit entry missing id")
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("gateway config: duplicate rate limit id %q", id)
		}
		seen[id] = struct{}{}
		if rl.RequestsPerMinute <= 0 {
			return fmt.Errorf("gateway config: rate limit %q needs requestsPerMinute > 0", id)
		}
	}
	return nil
}

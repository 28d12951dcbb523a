package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadEmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.ListenAddress != ":8080" {
		t.Fatalf("expected default listen address, got %q", cfg.ListenAddress)
	}
	if cfg.Auth.Enabled {
		t.Fatalf("expected auth disabled by default")
	}
	if cfg.Auth.ClockSkew != 2*time.Minute {
		t.Fatalf("expected default clock skew, got %v", cfg.Auth.ClockSkew)
	}
}

func TestLoadParsesRateLimits(t *testing.T) {
	path := writeConfig(t, "rateLimits:\n  - id: loans\n    requestsPerMinute: 120\n    burst: 10\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if len(cfg.RateLimits) != 1 || cfg.RateLimits[0].ID != "loans" {
		t.Fatalf("unexpected rate limits %+v", cfg.RateLimits)
	}
	if cfg.RateLimits[0].RequestsPerMinute != 120 {
		t.Fatalf("unexpected rate %v", cfg.RateLimits[0].RequestsPerMinute)
	}
}

func TestLoadRejectsAuthWithoutSecret(t *testing.T) {
	path := writeConfig(t, "auth:\n  enabled: true\n")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected load to fail when auth enabled without hmacSecret")
	}
}

func TestLoadRejectsDuplicateRateLimitIDs(t *testing.T) {
	content := "rateLimits:\n" +
		"  - id: loans\n    requestsPerMinute: 60\n" +
		"  - id: loans\n    requestsPerMinute: 30\n"
	path := writeConfig(t, content)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected duplicate rate limit ids to be rejected")
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, "listen: \":9999\"\nbogus: true\n")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected unknown field to be rejected")
	}
}

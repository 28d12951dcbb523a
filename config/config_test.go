package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadCreatesDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected default config file to be written: %v", err)
	}
	if cfg.ListenAddress == "" {
		t.Fatalf("expected default listen address")
	}
	if cfg.Lender.RiskAversionBps != 15_000 {
		t.Fatalf("expected default risk aversion 15000, got %d", cfg.Lender.RiskAversionBps)
	}
	if cfg.Credit.InterestRepaymentPeriodS != 31*24*3600 {
		t.Fatalf("unexpected default interest repayment period %d", cfg.Credit.InterestRepaymentPeriodS)
	}
	if len(cfg.Pools) != 1 || cfg.Pools[0].Symbol != "USDC" {
		t.Fatalf("expected a default USDC pool, got %+v", cfg.Pools)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("ListenAddress = \":9000\"\nBogusField = true\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected unknown field to be rejected")
	}
}

func TestLoadFillsMissingSections(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := "ListenAddress = \":9000\"\n\n[Lender]\nMinApyBps = 500\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.ListenAddress != ":9000" {
		t.Fatalf("expected listen address to survive, got %q", cfg.ListenAddress)
	}
	if cfg.Lender.MinApyBps != 500 {
		t.Fatalf("expected configured min apy 500, got %d", cfg.Lender.MinApyBps)
	}
	if cfg.Lender.VotingPeriodSeconds != 7*24*3600 {
		t.Fatalf("expected default voting period to be filled in, got %d", cfg.Lender.VotingPeriodSeconds)
	}
	if cfg.Rates.MaxRateCapBps != 50_000 {
		t.Fatalf("expected default rate cap to be filled in, got %d", cfg.Rates.MaxRateCapBps)
	}
}

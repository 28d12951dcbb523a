package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config is the credit daemon's node-level configuration.
type Config struct {
	ListenAddress string `toml:"ListenAddress"`
	DataDir       string `toml:"DataDir"`
	Environment   string `toml:"Environment"`

	Rates  RatesConfig  `toml:"Rates"`
	Lender LenderConfig `toml:"Lender"`
	Credit CreditConfig `toml:"Credit"`
	Rating RatingConfig `toml:"Rating"`
	Pools  []PoolConfig `toml:"Pools"`
}

// PoolConfig declares a lending pool the node should stand up at boot.
type PoolConfig struct {
	Symbol   string `toml:"Symbol"`
	Decimals uint8  `toml:"Decimals"`
	// BaseRateBps seeds the pool's base borrow rate until enough spot
	// samples accumulate in the time-averaged oracle.
	BaseRateBps uint64 `toml:"BaseRateBps"`
}

// RatesConfig tunes the composable rate model. All rates are basis points.
type RatesConfig struct {
	RiskPremiumBps          uint64 `toml:"RiskPremiumBps"`
	UtilizationCoefficient  uint64 `toml:"UtilizationCoefficient"`
	MaxRateCapBps           uint64 `toml:"MaxRateCapBps"`
	BaseRateUpdateCooldownS int64  `toml:"BaseRateUpdateCooldownSeconds"`
}

// LenderConfig bounds what the fixed-term gatekeeper will fund. Sizes are
// whole currency units in 18-decimal reference precision.
type LenderConfig struct {
	MinSizeUnits        int64  `toml:"MinSizeUnits"`
	MaxSizeUnits        int64  `toml:"MaxSizeUnits"`
	MinTermSeconds      int64  `toml:"MinTermSeconds"`
	MaxTermSeconds      int64  `toml:"MaxTermSeconds"`
	MinApyBps           uint64 `toml:"MinApyBps"`
	VotingPeriodSeconds int64  `toml:"VotingPeriodSeconds"`
	ParticipationBps    uint64 `toml:"ParticipationBps"`
	RiskAversionBps     uint64 `toml:"RiskAversionBps"`
}

// CreditConfig tunes the revolving line-of-credit ledger.
type CreditConfig struct {
	InterestRepaymentPeriodS int64 `toml:"InterestRepaymentPeriodSeconds"`
	CreditUpdatePeriodS      int64 `toml:"CreditUpdatePeriodSeconds"`
}

// RatingConfig tunes reward distribution for loan raters.
type RatingConfig struct {
	RatersRewardFactorBps uint64 `toml:"RatersRewardFactorBps"`
	RewardMultiplier      uint64 `toml:"RewardMultiplier"`
	// RewardBudgetUnits is the whole-unit stake-token budget minted to the
	// reward distributor at boot.
	RewardBudgetUnits int64 `toml:"RewardBudgetUnits"`
}

// Load loads the configuration from the given path, writing defaults when the
// file does not exist yet.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config file %s has unknown field %s", path, undecoded[0].String())
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.ListenAddress) == "" {
		c.ListenAddress = "0.0.0.0:8648"
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = "./creditd-data"
	}
	if c.Rates.UtilizationCoefficient == 0 {
		c.Rates.UtilizationCoefficient = 50
	}
	if c.Rates.MaxRateCapBps == 0 {
		c.Rates.MaxRateCapBps = 50_000
	}
	if c.Rates.BaseRateUpdateCooldownS == 0 {
		c.Rates.BaseRateUpdateCooldownS = 3600
	}
	if c.Lender.MinSizeUnits == 0 {
		c.Lender.MinSizeUnits = 1000
	}
	if c.Lender.MaxSizeUnits == 0 {
		c.Lender.MaxSizeUnits = 10_000_000
	}
	if c.Lender.MinTermSeconds == 0 {
		c.Lender.MinTermSeconds = 10 * 24 * 3600
	}
	if c.Lender.MaxTermSeconds == 0 {
		c.Lender.MaxTermSeconds = 10 * 365 * 24 * 3600
	}
	if c.Lender.MinApyBps == 0 {
		c.Lender.MinApyBps = 1000
	}
	if c.Lender.VotingPeriodSeconds == 0 {
		c.Lender.VotingPeriodSeconds = 7 * 24 * 3600
	}
	if c.Lender.ParticipationBps == 0 {
		c.Lender.ParticipationBps = 100
	}
	if c.Lender.RiskAversionBps == 0 {
		c.Lender.RiskAversionBps = 15_000
	}
	if c.Credit.InterestRepaymentPeriodS == 0 {
		c.Credit.InterestRepaymentPeriodS = 31 * 24 * 3600
	}
	if c.Credit.CreditUpdatePeriodS == 0 {
		c.Credit.CreditUpdatePeriodS = 31 * 24 * 3600
	}
	if c.Rating.RatersRewardFactorBps == 0 {
		c.Rating.RatersRewardFactorBps = 10_000
	}
	if c.Rating.RewardMultiplier == 0 {
		c.Rating.RewardMultiplier = 1
	}
	if c.Rating.RewardBudgetUnits == 0 {
		c.Rating.RewardBudgetUnits = 5_000_000
	}
	if len(c.Pools) == 0 {
		c.Pools = []PoolConfig{{Symbol: "USDC", Decimals: 6, BaseRateBps: 300}}
	}
}

func createDefault(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create config dir: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create config file: %w", err)
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return nil, fmt.Errorf("write default config: %w", err)
	}
	return cfg, nil
}

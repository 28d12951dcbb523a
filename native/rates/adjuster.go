package rates

import (
	"errors"
	"math/big"
	"sync"

	"github.com/trusttoken/contracts-pre22-sub001/core/token"
	"github.com/trusttoken/contracts-pre22-sub001/crypto"
	"github.com/trusttoken/contracts-pre22-sub001/native/oracle"
	"github.com/trusttoken/contracts-pre22-sub001/native/pool"
)

const (
	// BasisPoints is the denominator of every rate term: 1 bp = 0.01%.
	BasisPoints uint64 = 10_000
	// MaxCreditScore is the top of the oracle score range.
	MaxCreditScore uint8 = 255

	defaultRiskPremiumBps   uint64 = 200
	defaultUtilizationCoeff uint64 = 50
	defaultMaxRateCapBps    uint64 = 50_000
	defaultConcentrationBps uint64 = 1_500
)

var errNoBaseRateOracle = errors.New("rate adjuster: no base rate oracle for pool")

// TVLSource reports the system-wide value locked across every pool, in
// 18-decimal reference precision. Used for the global concentration ceiling.
type TVLSource interface {
	TotalValueLocked() *big.Int
}

// Adjuster composes the borrowing APY out of a time-averaged base rate, a
// flat risk premium, the credit-score premium table, and a utilization
// surcharge, and derives per-borrower borrow ceilings. It carries
// configuration only; every query recomputes from live pool and oracle
// state.
type Adjuster struct {
	mu                   sync.RWMutex
	credit               oracle.CreditOracle
	baseRates            map[string]oracle.BaseRateOracle
	tvl                  TVLSource
	riskPremiumBps       uint64
	utilizationCoeff     uint64
	maxRateCapBps        uint64
	poolConcentrationBps uint64
	tvlConcentrationBps  uint64
}

func NewAdjuster(credit oracle.CreditOracle) *Adjuster {
	return &Adjuster{
		credit:               credit,
		baseRates:            make(map[string]oracle.BaseRateOracle),
		riskPremiumBps:       defaultRiskPremiumBps,
		utilizationCoeff:     defaultUtilizationCoeff,
		maxRateCapBps:        defaultMaxRateCapBps,
		poolConcentrationBps: defaultConcentrationBps,
		tvlConcentrationBps:  defaultConcentrationBps,
	}
}

// SetRiskPremium configures the flat premium added to every borrow rate.
func (a *Adjuster) SetRiskPremium(bps uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.riskPremiumBps = bps
}

// SetUtilizationCoefficient tunes how aggressively the rate climbs as a pool
// is drained toward illiquidity.
func (a *Adjuster) SetUtilizationCoefficient(coeff uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.utilizationCoeff = coeff
}

// SetMaxRateCap bounds the all-in rate; the additive terms saturate here
// instead of overflowing.
func (a *Adjuster) SetMaxRateCap(bps uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.maxRateCapBps = bps
}

// SetBaseRateOracle wires the time-averaged rate feed for a pool.
func (a *Adjuster) SetBaseRateOracle(poolAddr crypto.Address, o oracle.BaseRateOracle) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.baseRates[string(poolAddr.Bytes())] = o
}

// SetTVLSource wires the aggregate used by the system-wide concentration
// ceiling. Without one, only the per-borrower and per-pool ceilings bind.
func (a *Adjuster) SetTVLSource(tvl TVLSource) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tvl = tvl
}

// RiskPremium returns the configured flat premium in basis points.
func (a *Adjuster) RiskPremium() uint64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.riskPremiumBps
}

// BaseRate returns the pool's time-averaged base borrow rate in basis points.
func (a *Adjuster) BaseRate(p pool.Pool) (uint64, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	o, ok := a.baseRates[string(p.Address().Bytes())]
	if !ok || o == nil {
		return 0, errNoBaseRateOracle
	}
	return o.WeeklyAPY(), nil
}

// Rate returns the all-in borrowing APY in basis points for the score, with
// the utilization term computed as if afterBorrow additional currency had
// already left the pool. All terms saturate at the configured cap.
func (a *Adjuster) Rate(p pool.Pool, score uint8, afterBorrow *big.Int) (uint64, error) {
	base, err := a.BaseRate(p)
	if err != nil {
		return 0, err
	}
	a.mu.RLock()
	premium := a.riskPremiumBps
	cap := a.maxRateCapBps
	a.mu.RUnlock()

	rate := saturatingAdd(base, premium, cap)
	rate = saturatingAdd(rate, CreditScoreAdjustmentRate(score), cap)
	rate = saturatingAdd(rate, a.UtilizationAdjustmentRate(p, afterBorrow), cap)
	return rate, nil
}

// UtilizationAdjustmentRate prices pool illiquidity: with
// liquidRatio = liquidValue * 10000 / poolValue, the surcharge is
// coeff * (10000^2 / liquidRatio^2 - 1), capped. It must be recomputed on
// every borrow or poke, never cached, so rate snapshots track drains.
func (a *Adjuster) UtilizationAdjustmentRate(p pool.Pool, afterBorrow *big.Int) uint64 {
	a.mu.RLock()
	coeff := a.utilizationCoeff
	cap := a.maxRateCapBps
	a.mu.RUnlock()

	poolValue := p.PoolValue()
	if poolValue == nil || poolValue.Sign() == 0 {
		return 0
	}
	liquid := p.LiquidValue()
	if liquid == nil {
		liquid = big.NewInt(0)
	}
	if afterBorrow != nil && afterBorrow.Sign() > 0 {
		liquid = new(big.Int).Sub(liquid, afterBorrow)
	}
	if liquid.Sign() <= 0 {
		return cap
	}

	liquidRatio := new(big.Int).Mul(liquid, new(big.Int).SetUint64(BasisPoints))
	liquidRatio.Quo(liquidRatio, poolValue)
	ratio := liquidRatio.Uint64()
	if ratio == 0 {
		return cap
	}
	adjustment := coeff*(BasisPoints*BasisPoints)/(ratio*ratio) - coeff
	if adjustment > cap {
		return cap
	}
	return adjustment
}

// BorrowLimit returns the borrower's effective ceiling in 18-decimal
// reference precision: the tightest of the score-scaled personal limit, the
// per-pool concentration ceiling, and the system-wide concentration ceiling.
func (a *Adjuster) BorrowLimit(p pool.Pool, borrower crypto.Address) *big.Int {
	score := a.credit.Score(borrower)
	personal := new(big.Int).Mul(a.credit.MaxBorrowerLimit(borrower), new(big.Int).SetUint64(BorrowLimitAdjustment(score)))
	personal.Quo(personal, new(big.Int).SetUint64(BasisPoints))

	a.mu.RLock()
	poolBps := a.poolConcentrationBps
	tvlBps := a.tvlConcentrationBps
	tvl := a.tvl
	a.mu.RUnlock()

	poolValue := token.Normalize18(p.PoolValue(), p.CurrencyToken().Decimals())
	poolCeiling := new(big.Int).Mul(poolValue, new(big.Int).SetUint64(poolBps))
	poolCeiling.Quo(poolCeiling, new(big.Int).SetUint64(BasisPoints))

	limit := minBig(personal, poolCeiling)
	if tvl != nil {
		tvlCeiling := new(big.Int).Mul(tvl.TotalValueLocked(), new(big.Int).SetUint64(tvlBps))
		tvlCeiling.Quo(tvlCeiling, new(big.Int).SetUint64(BasisPoints))
		limit = minBig(limit, tvlCeiling)
	}
	return limit
}

func saturatingAdd(a, b, cap uint64) uint64 {
	if a >= cap || cap-a < b {
		return cap
	}
	return a + b
}

func minBig(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return a
	}
	return b
}

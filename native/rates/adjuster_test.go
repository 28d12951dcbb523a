package rates

import (
	"math/big"
	"testing"

	"github.com/trusttoken/contracts-pre22-sub001/core/token"
	"github.com/trusttoken/contracts-pre22-sub001/crypto"
	"github.com/trusttoken/contracts-pre22-sub001/native/oracle"
	"github.com/trusttoken/contracts-pre22-sub001/native/pool"
)

func addr(tag byte) crypto.Address {
	var b [20]byte
	b[19] = tag
	return crypto.NewAddress(crypto.TruPrefix, b[:])
}

func poolAddr(tag byte) crypto.Address {
	var b [20]byte
	b[19] = tag
	return crypto.NewAddress(crypto.PoolPrefix, b[:])
}

type fixedTVL struct{ value *big.Int }

func (f fixedTVL) TotalValueLocked() *big.Int { return new(big.Int).Set(f.value) }

func newPool(t *testing.T, liquid, borrowed int64) *pool.SimplePool {
	t.Helper()
	currency := token.NewLedger("USDC", 18)
	p := pool.NewSimplePool(poolAddr(0x10), currency)
	if liquid+borrowed > 0 {
		if err := currency.Mint(p.Address(), big.NewInt(liquid+borrowed)); err != nil {
			t.Fatalf("mint: %v", err)
		}
	}
	if borrowed > 0 {
		if err := p.Borrow(addr(0x77), big.NewInt(borrowed)); err != nil {
			t.Fatalf("borrow: %v", err)
		}
	}
	return p
}

func TestScoreTables(t *testing.T) {
	// Pinned values of the documented step function
	// floor(10000 * (score/255)^(3/4)).
	pins := map[uint8]uint64{
		0:   0,
		1:   156,
		63:  3504,
		127: 5928,
		191: 8051,
		254: 9970,
		255: 10000,
	}
	for score, want := range pins {
		if got := BorrowLimitAdjustment(score); got != want {
			t.Errorf("BorrowLimitAdjustment(%d) = %d, want %d", score, got, want)
		}
		if got := CreditScoreAdjustmentRate(score); got != BasisPoints-want {
			t.Errorf("CreditScoreAdjustmentRate(%d) = %d, want %d", score, got, BasisPoints-want)
		}
	}

	// Limit adjustment is monotone increasing in score; the rate premium is
	// therefore monotone decreasing.
	for score := 1; score <= int(MaxCreditScore); score++ {
		if BorrowLimitAdjustment(uint8(score)) < BorrowLimitAdjustment(uint8(score-1)) {
			t.Fatalf("BorrowLimitAdjustment not monotone at %d", score)
		}
	}
}

func TestRateComposition(t *testing.T) {
	credit := oracle.NewSimpleCreditOracle()
	adjuster := NewAdjuster(credit)
	adjuster.SetRiskPremium(700)

	p := newPool(t, 1_000_000, 0) // fully liquid, zero utilization surcharge
	adjuster.SetBaseRateOracle(p.Address(), oracle.FixedRateOracle{RateBps: 300})

	got, err := adjuster.Rate(p, 255, nil)
	if err != nil {
		t.Fatalf("rate: %v", err)
	}
	if got != 1000 {
		t.Fatalf("rate(255) = %d, want 1000", got)
	}

	// Dropping the score to 191 adds the 1949bp table premium.
	got, err = adjuster.Rate(p, 191, nil)
	if err != nil {
		t.Fatalf("rate: %v", err)
	}
	if got != 2949 {
		t.Fatalf("rate(191) = %d, want 2949", got)
	}

	// Score 0 alone would push past the cap with a low enough cap.
	adjuster.SetMaxRateCap(5000)
	got, err = adjuster.Rate(p, 0, nil)
	if err != nil {
		t.Fatalf("rate: %v", err)
	}
	if got != 5000 {
		t.Fatalf("rate(0) = %d, want saturated 5000", got)
	}
}

func TestRateRequiresBaseOracle(t *testing.T) {
	adjuster := NewAdjuster(oracle.NewSimpleCreditOracle())
	p := newPool(t, 1000, 0)
	if _, err := adjuster.Rate(p, 255, nil); err == nil {
		t.Fatal("expected error without a base rate oracle")
	}
}

func TestUtilizationAdjustment(t *testing.T) {
	adjuster := NewAdjuster(oracle.NewSimpleCreditOracle())

	// Half the pool lent out: liquidRatio 5000, surcharge 50*(4-1) = 150.
	p := newPool(t, 500_000, 500_000)
	if got := adjuster.UtilizationAdjustmentRate(p, nil); got != 150 {
		t.Fatalf("surcharge at 50%% = %d, want 150", got)
	}

	// Fully liquid pool carries no surcharge.
	p = newPool(t, 1_000_000, 0)
	if got := adjuster.UtilizationAdjustmentRate(p, nil); got != 0 {
		t.Fatalf("surcharge at 0%% = %d, want 0", got)
	}

	// A pending draw is priced as if it had already left the pool.
	p = newPool(t, 1_000_000, 0)
	if got := adjuster.UtilizationAdjustmentRate(p, big.NewInt(500_000)); got != 150 {
		t.Fatalf("surcharge after borrow = %d, want 150", got)
	}

	// Draining the pool saturates at the cap.
	p = newPool(t, 1_000, 999_000)
	if got := adjuster.UtilizationAdjustmentRate(p, nil); got != defaultMaxRateCapBps {
		t.Fatalf("surcharge near empty = %d, want %d", got, defaultMaxRateCapBps)
	}
}

func TestBorrowLimitTakesTightestCeiling(t *testing.T) {
	credit := oracle.NewSimpleCreditOracle()
	adjuster := NewAdjuster(credit)
	borrower := addr(0x01)

	personal := new(big.Int).Mul(big.NewInt(2_000_000), pow10(18))
	if err := credit.SetScore(borrower, 255, personal, oracle.StatusEligible); err != nil {
		t.Fatalf("set score: %v", err)
	}

	p := newPool(t, 1_000_000, 0)
	// Per-pool ceiling: 15% of 1M = 150k, far below the personal limit.
	want := big.NewInt(150_000)
	got := adjuster.BorrowLimit(p, borrower)
	if got.Cmp(want) != 0 {
		t.Fatalf("limit = %s, want %s (pool ceiling)", got, want)
	}

	// A small system TVL tightens the ceiling further.
	adjuster.SetTVLSource(fixedTVL{value: big.NewInt(100_000)})
	want = big.NewInt(15_000)
	got = adjuster.BorrowLimit(p, borrower)
	if got.Cmp(want) != 0 {
		t.Fatalf("limit = %s, want %s (tvl ceiling)", got, want)
	}

	// At score 0 no personal credit is extended at all.
	if err := credit.SetScore(borrower, 0, personal, oracle.StatusEligible); err != nil {
		t.Fatalf("set score: %v", err)
	}
	if got := adjuster.BorrowLimit(p, borrower); got.Sign() != 0 {
		t.Fatalf("limit at score 0 = %s, want 0", got)
	}
}

func pow10(n uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

package creditbook

import (
	"math/big"

	"github.com/holiman/uint256"
)

// interestPrecision is the fixed-point scale of the per-share interest
// accumulator.
var interestPrecision = new(big.Int).Exp(big.NewInt(10), big.NewInt(27), nil)

// Bucket aggregates every borrower in one pool sharing the same discretized
// credit score. Interest accrues lazily against the whole bucket; a
// borrower's share is settled from the accumulator delta since their last
// touch.
type Bucket struct {
	BorrowersCount uint16 `json:"borrowersCount"`
	// TotalBorrowed is the sum of member principals, in the pool currency's
	// native precision.
	TotalBorrowed *big.Int `json:"totalBorrowed"`
	// Rate is the bucket's borrowing APY snapshot in basis points, refreshed
	// on every touch.
	Rate uint64 `json:"rate"`
	// CumulativeInterestPerShare carries interest per borrowed unit at
	// 10^27 precision. Non-decreasing.
	CumulativeInterestPerShare *big.Int `json:"cumulativeInterestPerShare"`
	UpdatedAt                  int64    `json:"updatedAt"`
}

func newBucket(now int64) *Bucket {
	return &Bucket{
		TotalBorrowed:              big.NewInt(0),
		CumulativeInterestPerShare: big.NewInt(0),
		UpdatedAt:                  now,
	}
}

func (b *Bucket) normalize() {
	if b.TotalBorrowed == nil {
		b.TotalBorrowed = big.NewInt(0)
	}
	if b.CumulativeInterestPerShare == nil {
		b.CumulativeInterestPerShare = big.NewInt(0)
	}
}

// Position is one borrower's revolving line in one pool. Zeroed, not
// deleted, on full repayment so lifetime counters survive.
type Position struct {
	Principal *big.Int `json:"principal"`
	// Score is the bucket the position currently sits in.
	Score uint8 `json:"score"`
	// PerShareSnapshot is the bucket accumulator at the last settlement.
	PerShareSnapshot *big.Int `json:"perShareSnapshot"`
	// AccruedInterest carries interest settled out of previous buckets (or
	// partial repayments) that is still owed.
	AccruedInterest       *big.Int `json:"accruedInterest"`
	NextInterestRepayTime int64    `json:"nextInterestRepayTime"`
	TotalInterestPaid     *big.Int `json:"totalInterestPaid"`
}

func newPosition() *Position {
	return &Position{
		Principal:         big.NewInt(0),
		PerShareSnapshot:  big.NewInt(0),
		AccruedInterest:   big.NewInt(0),
		TotalInterestPaid: big.NewInt(0),
	}
}

func (p *Position) normalize() {
	if p.Principal == nil {
		p.Principal = big.NewInt(0)
	}
	if p.PerShareSnapshot == nil {
		p.PerShareSnapshot = big.NewInt(0)
	}
	if p.AccruedInterest == nil {
		p.AccruedInterest = big.NewInt(0)
	}
	if p.TotalInterestPaid == nil {
		p.TotalInterestPaid = big.NewInt(0)
	}
}

// usedBuckets is a 256-bit presence bitmap, one bit per score, letting the
// engine iterate occupied buckets in O(occupied) instead of O(256).
type usedBuckets struct {
	bits uint256.Int
}

func (u *usedBuckets) set(score uint8) {
	var bit uint256.Int
	bit.Lsh(uint256.NewInt(1), uint(score))
	u.bits.Or(&u.bits, &bit)
}

func (u *usedBuckets) clear(score uint8) {
	var bit uint256.Int
	bit.Lsh(uint256.NewInt(1), uint(score))
	u.bits.And(&u.bits, bit.Not(&bit))
}

func (u *usedBuckets) has(score uint8) bool {
	var bit uint256.Int
	bit.Rsh(&u.bits, uint(score))
	return bit.And(&bit, uint256.NewInt(1)).Sign() != 0
}

// scores lists the occupied bucket indices in ascending order.
func (u *usedBuckets) scores() []uint8 {
	var out []uint8
	rest := new(uint256.Int).Set(&u.bits)
	for !rest.IsZero() {
		score := bitLen(rest)
		out = append(out, score)
		var bit uint256.Int
		bit.Lsh(uint256.NewInt(1), uint(score))
		rest.And(rest, bit.Not(&bit))
	}
	// Collected highest-first; reverse for ascending iteration.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

func bitLen(v *uint256.Int) uint8 {
	return uint8(v.BitLen() - 1)
}

func (u *usedBuckets) Bytes() []byte {
	b := u.bits.Bytes32()
	return b[:]
}

func usedBucketsFromBytes(raw []byte) *usedBuckets {
	u := &usedBuckets{}
	if len(raw) > 0 {
		u.bits.SetBytes(raw)
	}
	return u
}

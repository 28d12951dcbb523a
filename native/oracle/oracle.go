package oracle

import (
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/trusttoken/contracts-pre22-sub001/crypto"
)

var (
	errUnknownBorrower = errors.New("credit oracle: borrower not tracked")
	errInvalidLimit    = errors.New("credit oracle: borrower limit must not be negative")
)

// Status describes a borrower's standing with the credit oracle.
type Status uint8

const (
	StatusIneligible Status = iota
	StatusOnHold
	StatusEligible
)

func (s Status) String() string {
	switch s {
	case StatusEligible:
		return "eligible"
	case StatusOnHold:
		return "onHold"
	default:
		return "ineligible"
	}
}

// CreditOracle supplies borrower creditworthiness inputs to the rate model
// and the line-of-credit ledger. Scores range 0-255 with 255 best.
type CreditOracle interface {
	Score(borrower crypto.Address) uint8
	// MaxBorrowerLimit returns the borrower's nominal ceiling in 18-decimal
	// reference precision.
	MaxBorrowerLimit(borrower crypto.Address) *big.Int
	Status(borrower crypto.Address) Status
	LastUpdated(borrower crypto.Address) time.Time
}

// BaseRateOracle is the time-averaged external borrow-rate feed consumed by
// the rate adjuster. Rates are basis points.
type BaseRateOracle interface {
	WeeklyAPY() uint64
}

type creditRecord struct {
	score     uint8
	maxLimit  *big.Int
	status    Status
	updatedAt time.Time
}

// SimpleCreditOracle is the reference CreditOracle implementation: an
// admin-maintained registry of scores with freshness timestamps.
type SimpleCreditOracle struct {
	mu      sync.RWMutex
	records map[string]*creditRecord
	nowFn   func() time.Time
}

func NewSimpleCreditOracle() *SimpleCreditOracle {
	return &SimpleCreditOracle{
		records: make(map[string]*creditRecord),
		nowFn:   func() time.Time { return time.Now().UTC() },
	}
}

// SetNowFunc overrides the time source. Primarily intended for tests.
func (o *SimpleCreditOracle) SetNowFunc(now func() time.Time) {
	if now == nil {
		o.nowFn = func() time.Time { return time.Now().UTC() }
		return
	}
	o.nowFn = now
}

// SetScore records a fresh score and limit for the borrower.
func (o *SimpleCreditOracle) SetScore(borrower crypto.Address, score uint8, maxLimit *big.Int, status Status) error {
	if maxLimit == nil || maxLimit.Sign() < 0 {
		return errInvalidLimit
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.records[string(borrower.Bytes())] = &creditRecord{
		score:     score,
		maxLimit:  new(big.Int).Set(maxLimit),
		status:    status,
		updatedAt: o.nowFn(),
	}
	return nil
}

func (o *SimpleCreditOracle) lookup(borrower crypto.Address) (*creditRecord, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	rec, ok := o.records[string(borrower.Bytes())]
	return rec, ok
}

func (o *SimpleCreditOracle) Score(borrower crypto.Address) uint8 {
	if rec, ok := o.lookup(borrower); ok {
		return rec.score
	}
	return 0
}

func (o *SimpleCreditOracle) MaxBorrowerLimit(borrower crypto.Address) *big.Int {
	if rec, ok := o.lookup(borrower); ok {
		return new(big.Int).Set(rec.maxLimit)
	}
	return big.NewInt(0)
}

func (o *SimpleCreditOracle) Status(borrower crypto.Address) Status {
	if rec, ok := o.lookup(borrower); ok {
		return rec.status
	}
	return StatusIneligible
}

func (o *SimpleCreditOracle) LastUpdated(borrower crypto.Address) time.Time {
	if rec, ok := o.lookup(borrower); ok {
		return rec.updatedAt
	}
	return time.Time{}
}

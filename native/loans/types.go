package loans

import (
	"encoding/hex"
	"math/big"

	"github.com/trusttoken/contracts-pre22-sub001/crypto"
)

// Status is the fixed-term loan lifecycle. Transitions are monotonic:
// Awaiting -> Funded -> Withdrawn -> Settled/Defaulted, with the
// Settled/Defaulted distinction resolved when the loan is closed.
type Status uint8

const (
	StatusAwaiting Status = iota
	StatusFunded
	StatusWithdrawn
	StatusSettled
	StatusDefaulted
)

func (s Status) String() string {
	switch s {
	case StatusAwaiting:
		return "awaiting"
	case StatusFunded:
		return "funded"
	case StatusWithdrawn:
		return "withdrawn"
	case StatusSettled:
		return "settled"
	case StatusDefaulted:
		return "defaulted"
	default:
		return "unknown"
	}
}

// Closed reports whether the loan has reached a terminal state.
func (s Status) Closed() bool {
	return s == StatusSettled || s == StatusDefaulted
}

// Loan is a single fixed-term loan record. Principal, duration, and APY are
// immutable after creation; only status, start, returned, and the share
// ledger move.
type Loan struct {
	ID       [32]byte       `json:"id"`
	Pool     crypto.Address `json:"pool"`
	Borrower crypto.Address `json:"borrower"`
	// Principal is the drawn amount in the pool currency's native precision.
	Principal *big.Int `json:"principal"`
	// APY is the fixed yearly rate in basis points.
	APY uint64 `json:"apy"`
	// Duration is the committed term in seconds.
	Duration int64 `json:"duration"`
	// Debt is principal plus the full-term yield, fixed at creation.
	Debt   *big.Int `json:"debt"`
	Status Status   `json:"status"`
	// Start is the funding timestamp; zero while awaiting.
	Start int64 `json:"start"`
	// Returned records the currency recovered at close time. Less than Debt
	// on a default.
	Returned *big.Int `json:"returned"`
	// TotalShares is the outstanding loan-share supply, minted 1:1 with Debt
	// at funding and burnt on redemption.
	TotalShares *big.Int `json:"totalShares"`
	// Shares maps hex-encoded holder addresses to share balances.
	Shares map[string]*big.Int `json:"shares"`
}

// Address derives the loan's own fund-custody address from its id.
func Address(id [32]byte) crypto.Address {
	return crypto.NewAddress(crypto.TruPrefix, append([]byte(nil), id[12:]...))
}

// ShareBalance returns the holder's loan-share balance.
func (l *Loan) ShareBalance(holder crypto.Address) *big.Int {
	if l == nil || l.Shares == nil {
		return big.NewInt(0)
	}
	if bal, ok := l.Shares[shareKey(holder)]; ok {
		return new(big.Int).Set(bal)
	}
	return big.NewInt(0)
}

func shareKey(holder crypto.Address) string {
	return hex.EncodeToString(holder.Bytes())
}

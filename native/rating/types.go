package rating

import (
	"encoding/hex"
	"math/big"

	"github.com/trusttoken/contracts-pre22-sub001/crypto"
)

// Rating is the per-loan voting and reward ledger. Vote weights are
// snapshots of the rater's staked balance at cast time; no tokens move until
// rewards are claimed.
type Rating struct {
	LoanID    [32]byte       `json:"loanId"`
	Creator   crypto.Address `json:"creator"`
	CreatedAt int64          `json:"createdAt"`
	Retracted bool           `json:"retracted"`

	TotalYes *big.Int            `json:"totalYes"`
	TotalNo  *big.Int            `json:"totalNo"`
	Yes      map[string]*big.Int `json:"yes,omitempty"`
	No       map[string]*big.Int `json:"no,omitempty"`

	// Reserved is the reward pot set aside for raters on the first claim,
	// in 18-decimal reward-token units. Claimed tracks lifetime payouts per
	// rater and never exceeds Reserved in aggregate.
	Reserved *big.Int            `json:"reserved"`
	Claimed  map[string]*big.Int `json:"claimed,omitempty"`
}

func (r *Rating) YesWeight(rater crypto.Address) *big.Int {
	return weightOf(r.Yes, rater)
}

func (r *Rating) NoWeight(rater crypto.Address) *big.Int {
	return weightOf(r.No, rater)
}

func (r *Rating) ClaimedBy(rater crypto.Address) *big.Int {
	return weightOf(r.Claimed, rater)
}

func weightOf(m map[string]*big.Int, rater crypto.Address) *big.Int {
	if m == nil {
		return big.NewInt(0)
	}
	if w, ok := m[raterKey(rater)]; ok && w != nil {
		return new(big.Int).Set(w)
	}
	return big.NewInt(0)
}

func raterKey(rater crypto.Address) string {
	return hex.EncodeToString(rater.Bytes())
}

package rating

import (
	"errors"
	"math/big"

	"github.com/trusttoken/contracts-pre22-sub001/core/token"
	"github.com/trusttoken/contracts-pre22-sub001/crypto"
)

var errDistributorDrained = errors.New("rating: distributor has no remaining budget")

// LinearDistributor is the reference RewardDistributor: a fixed budget of
// reward tokens held on its own address, paid out until drained.
type LinearDistributor struct {
	addr  crypto.Address
	token token.Token
}

func NewLinearDistributor(addr crypto.Address, rewardToken token.Token) *LinearDistributor {
	return &LinearDistributor{addr: addr, token: rewardToken}
}

func (d *LinearDistributor) Address() crypto.Address { return d.addr }

func (d *LinearDistributor) Remaining() *big.Int {
	return d.token.BalanceOf(d.addr)
}

func (d *LinearDistributor) Distribute(to crypto.Address, amount *big.Int) error {
	if d.Remaining().Cmp(amount) < 0 {
		return errDistributorDrained
	}
	return d.token.Transfer(d.addr, to, amount)
}

// Empty sends the whole remaining budget back to the given address. Used when
// decommissioning a distributor.
func (d *LinearDistributor) Empty(to crypto.Address) error {
	remaining := d.Remaining()
	if remaining.Sign() == 0 {
		return nil
	}
	return d.token.Transfer(d.addr, to, remaining)
}

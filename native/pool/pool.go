package pool

import (
	"errors"
	"math/big"
	"sync"

	"github.com/trusttoken/contracts-pre22-sub001/core/token"
	"github.com/trusttoken/contracts-pre22-sub001/crypto"
)

var (
	errInvalidAmount       = errors.New("pool: amount must be positive")
	errInsufficientLiquid  = errors.New("pool: insufficient liquid value")
	errRepayExceedsBalance = errors.New("pool: repayment exceeds payer balance")
)

// Pool is the lender-capital interface the credit engines draw principal from
// and return it to. Pool-side share accounting and yield strategies stay out
// of scope; the engines only rely on the operations below.
type Pool interface {
	Address() crypto.Address
	CurrencyToken() token.Token
	// PoolValue is the total currency-equivalent value of the pool, liquid
	// plus lent out, in the currency token's native precision.
	PoolValue() *big.Int
	// LiquidValue is the currency immediately available for new borrowing.
	LiquidValue() *big.Int
	Borrow(to crypto.Address, amount *big.Int) error
	Repay(from crypto.Address, amount *big.Int) error
}

// SimplePool is the reference Pool implementation backed by a token ledger.
// It tracks outstanding principal so PoolValue stays flat across a borrow and
// grows only when repayments exceed what was drawn (interest).
type SimplePool struct {
	mu       sync.Mutex
	addr     crypto.Address
	currency token.Token
	borrowed *big.Int
}

func NewSimplePool(addr crypto.Address, currency token.Token) *SimplePool {
	return &SimplePool{addr: addr, currency: currency, borrowed: big.NewInt(0)}
}

func (p *SimplePool) Address() crypto.Address    { return p.addr }
func (p *SimplePool) CurrencyToken() token.Token { return p.currency }

func (p *SimplePool) PoolValue() *big.Int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return new(big.Int).Add(p.currency.BalanceOf(p.addr), p.borrowed)
}

func (p *SimplePool) LiquidValue() *big.Int {
	return p.currency.BalanceOf(p.addr)
}

func (p *SimplePool) Borrow(to crypto.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.currency.BalanceOf(p.addr).Cmp(amount) < 0 {
		return errInsufficientLiquid
	}
	if err := p.currency.Transfer(p.addr, to, amount); err != nil {
		return err
	}
	p.borrowed = new(big.Int).Add(p.borrowed, amount)
	return nil
}

func (p *SimplePool) Repay(from crypto.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.currency.BalanceOf(from).Cmp(amount) < 0 {
		return errRepayExceedsBalance
	}
	if err := p.currency.Transfer(from, p.addr, amount); err != nil {
		return err
	}
	// Interest repayments may push the repaid total past the drawn principal.
	p.borrowed = new(big.Int).Sub(p.borrowed, amount)
	if p.borrowed.Sign() < 0 {
		p.borrowed = big.NewInt(0)
	}
	return nil
}

// Set aggregates pools for system-wide concentration checks.
type Set struct {
	mu    sync.RWMutex
	pools []Pool
}

func NewSet(pools ...Pool) *Set {
	return &Set{pools: append([]Pool(nil), pools...)}
}

func (s *Set) Add(p Pool) {
	if p == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pools = append(s.pools, p)
}

func (s *Set) Pools() []Pool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Pool(nil), s.pools...)
}

// Find returns the registered pool with the given address, or nil.
func (s *Set) Find(addr crypto.Address) Pool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.pools {
		if p.Address().Equal(addr) {
			return p
		}
	}
	return nil
}

// TotalValueLocked sums every pool's value normalized to 18-decimal
// reference precision.
func (s *Set) TotalValueLocked() *big.Int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := big.NewInt(0)
	for _, p := range s.pools {
		value := token.Normalize18(p.PoolValue(), p.CurrencyToken().Decimals())
		total.Add(total, value)
	}
	return total
}

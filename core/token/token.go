package token

import (
	"errors"
	"math/big"
	"sync"

	"github.com/trusttoken/contracts-pre22-sub001/crypto"
)

var (
	errInvalidAmount         = errors.New("token: amount must be positive")
	errInsufficientBalance   = errors.New("token: insufficient balance")
	errInsufficientAllowance = errors.New("token: insufficient allowance")
)

// Token is the ERC20-style transfer primitive consumed by the credit engines.
// The engines never assume more than balance, allowance, and decimals
// semantics; production deployments are expected to adapt a real token, while
// Ledger below is the documented in-module implementation.
type Token interface {
	Symbol() string
	Decimals() uint8
	TotalSupply() *big.Int
	BalanceOf(addr crypto.Address) *big.Int
	Transfer(from, to crypto.Address, amount *big.Int) error
	Approve(owner, spender crypto.Address, amount *big.Int) error
	Allowance(owner, spender crypto.Address) *big.Int
	TransferFrom(spender, from, to crypto.Address, amount *big.Int) error
}

// Ledger is an in-memory balance and allowance ledger satisfying Token. It
// backs the mock pool currencies, the staked governance token, and the reward
// distributor budget.
type Ledger struct {
	mu         sync.RWMutex
	symbol     string
	decimals   uint8
	total      *big.Int
	balances   map[string]*big.Int
	allowances map[string]map[string]*big.Int
}

func NewLedger(symbol string, decimals uint8) *Ledger {
	return &Ledger{
		symbol:     symbol,
		decimals:   decimals,
		total:      big.NewInt(0),
		balances:   make(map[string]*big.Int),
		allowances: make(map[string]map[string]*big.Int),
	}
}

func (l *Ledger) Symbol() string  { return l.symbol }
func (l *Ledger) Decimals() uint8 { return l.decimals }

func (l *Ledger) TotalSupply() *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return new(big.Int).Set(l.total)
}

func (l *Ledger) BalanceOf(addr crypto.Address) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if bal, ok := l.balances[key(addr)]; ok {
		return new(big.Int).Set(bal)
	}
	return big.NewInt(0)
}

// Mint credits freshly issued units to the recipient. Not part of the Token
// interface: only test fixtures and genesis seeding issue supply.
func (l *Ledger) Mint(to crypto.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.credit(to, amount)
	l.total = new(big.Int).Add(l.total, amount)
	return nil
}

// Burn destroys units held by the owner.
func (l *Ledger) Burn(from crypto.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.debit(from, amount); err != nil {
		return err
	}
	l.total = new(big.Int).Sub(l.total, amount)
	return nil
}

func (l *Ledger) Transfer(from, to crypto.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.debit(from, amount); err != nil {
		return err
	}
	l.credit(to, amount)
	return nil
}

func (l *Ledger) Approve(owner, spender crypto.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return errInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	inner, ok := l.allowances[key(owner)]
	if !ok {
		inner = make(map[string]*big.Int)
		l.allowances[key(owner)] = inner
	}
	inner[key(spender)] = new(big.Int).Set(amount)
	return nil
}

func (l *Ledger) Allowance(owner, spender crypto.Address) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if inner, ok := l.allowances[key(owner)]; ok {
		if amt, ok := inner[key(spender)]; ok {
			return new(big.Int).Set(amt)
		}
	}
	return big.NewInt(0)
}

func (l *Ledger) TransferFrom(spender, from, to crypto.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	inner, ok := l.allowances[key(from)]
	if !ok {
		return errInsufficientAllowance
	}
	allowed, ok := inner[key(spender)]
	if !ok || allowed.Cmp(amount) < 0 {
		return errInsufficientAllowance
	}
	if err := l.debit(from, amount); err != nil {
		return err
	}
	inner[key(spender)] = new(big.Int).Sub(allowed, amount)
	l.credit(to, amount)
	return nil
}

func (l *Ledger) credit(addr crypto.Address, amount *big.Int) {
	current, ok := l.balances[key(addr)]
	if !ok {
		current = big.NewInt(0)
	}
	l.balances[key(addr)] = new(big.Int).Add(current, amount)
}

func (l *Ledger) debit(addr crypto.Address, amount *big.Int) error {
	current, ok := l.balances[key(addr)]
	if !ok || current.Cmp(amount) < 0 {
		return errInsufficientBalance
	}
	l.balances[key(addr)] = new(big.Int).Sub(current, amount)
	return nil
}

func key(addr crypto.Address) string {
	return string(addr.Bytes())
}

package loans

import (
	"encoding/binary"
	"errors"
	"math/big"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/trusttoken/contracts-pre22-sub001/core/events"
	"github.com/trusttoken/contracts-pre22-sub001/core/types"
	"github.com/trusttoken/contracts-pre22-sub001/crypto"
	nativecommon "github.com/trusttoken/contracts-pre22-sub001/native/common"
	"github.com/trusttoken/contracts-pre22-sub001/native/pool"
)

const moduleName = "loans"

const secondsPerYear = 31_536_000

const (
	EventTypeCreated   = "loan.created"
	EventTypeFunded    = "loan.funded"
	EventTypeWithdrawn = "loan.withdrawn"
	EventTypeRepaid    = "loan.repaid"
	EventTypeClosed    = "loan.closed"
	EventTypeRedeemed  = "loan.redeemed"
)

var (
	errNilState        = errors.New("loan: state not configured")
	errNotFound        = errors.New("loan: not found")
	errUnknownPool     = errors.New("loan: pool not registered")
	errInvalidAmount   = errors.New("loan: principal must be positive")
	errInvalidDuration = errors.New("loan: duration must be positive")
	errNotAwaiting     = errors.New("loan: current status should be Awaiting")
	errNotFunded       = errors.New("loan: current status should be Funded")
	errNotRunning      = errors.New("loan: current status should be Funded or Withdrawn")
	errNotBorrower     = errors.New("loan: caller is not the borrower")
	errNotMature       = errors.New("loan: loan cannot be closed before maturity")
	errAlreadyClosed   = errors.New("loan: already closed")
	errNotClosed       = errors.New("loan: not closed yet")
	errNoShares        = errors.New("loan: insufficient share balance")
)

type engineState interface {
	Loan(id [32]byte) (*Loan, error)
	PutLoan(loan *Loan) error
	NextLoanNonce() (uint64, error)
}

// Engine owns the fixed-term loan state machines. Each loan custodies its
// principal and repayments on a derived address until closed, when share
// holders redeem pro rata against whatever was recovered.
type Engine struct {
	state   engineState
	emitter events.Emitter
	pools   map[string]pool.Pool
	pauses  nativecommon.PauseView
	nowFn   func() int64
}

func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		pools:   make(map[string]pool.Pool),
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source. Primarily intended for tests.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// RegisterPool makes a pool eligible to denominate new loans.
func (e *Engine) RegisterPool(p pool.Pool) {
	if p == nil {
		return
	}
	e.pools[string(p.Address().Bytes())] = p
}

func (e *Engine) poolFor(addr crypto.Address) (pool.Pool, error) {
	p, ok := e.pools[string(addr.Bytes())]
	if !ok {
		return nil, errUnknownPool
	}
	return p, nil
}

// Create registers a new loan in Awaiting status. Principal, duration, and
// APY are fixed for the life of the loan; the all-in debt is computed here as
// principal + principal*apy*duration/(YEAR*10000).
func (e *Engine) Create(p pool.Pool, borrower crypto.Address, principal *big.Int, duration int64, apy uint64) ([32]byte, error) {
	var id [32]byte
	if e == nil || e.state == nil {
		return id, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return id, err
	}
	if p == nil {
		return id, errUnknownPool
	}
	if _, err := e.poolFor(p.Address()); err != nil {
		return id, err
	}
	if principal == nil || principal.Sign() <= 0 {
		return id, errInvalidAmount
	}
	if duration <= 0 {
		return id, errInvalidDuration
	}

	nonce, err := e.state.NextLoanNonce()
	if err != nil {
		return id, err
	}
	id = loanID(borrower, p.Address(), nonce)

	yield := new(big.Int).Mul(principal, new(big.Int).SetUint64(apy))
	yield.Mul(yield, big.NewInt(duration))
	yield.Quo(yield, big.NewInt(secondsPerYear*10_000))

	loan := &Loan{
		ID:          id,
		Pool:        p.Address(),
		Borrower:    borrower,
		Principal:   new(big.Int).Set(principal),
		APY:         apy,
		Duration:    duration,
		Debt:        new(big.Int).Add(principal, yield),
		Status:      StatusAwaiting,
		Returned:    big.NewInt(0),
		TotalShares: big.NewInt(0),
		Shares:      make(map[string]*big.Int),
	}
	if err := e.state.PutLoan(loan); err != nil {
		return id, err
	}
	e.emit(EventTypeCreated, loan, map[string]string{
		"principal": loan.Principal.String(),
		"debt":      loan.Debt.String(),
	})
	return id, nil
}

// Fund moves the loan Awaiting -> Funded: pulls principal from the funder via
// the currency allowance, mints loan shares 1:1 with the debt to the funder,
// and stamps the start timestamp.
func (e *Engine) Fund(id [32]byte, funder crypto.Address) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	loan, err := e.loan(id)
	if err != nil {
		return err
	}
	if loan.Status != StatusAwaiting {
		return errNotAwaiting
	}
	p, err := e.poolFor(loan.Pool)
	if err != nil {
		return err
	}

	custody := Address(id)
	if err := p.CurrencyToken().TransferFrom(custody, funder, custody, loan.Principal); err != nil {
		return err
	}

	loan.Status = StatusFunded
	loan.Start = e.nowFn()
	loan.TotalShares = new(big.Int).Set(loan.Debt)
	loan.Shares[shareKey(funder)] = new(big.Int).Set(loan.Debt)

	if err := e.state.PutLoan(loan); err != nil {
		return err
	}
	e.emit(EventTypeFunded, loan, map[string]string{"funder": funder.String()})
	return nil
}

// Withdraw pays the principal out to the beneficiary. Borrower only, and only
// from Funded.
func (e *Engine) Withdraw(id [32]byte, caller, beneficiary crypto.Address) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	loan, err := e.loan(id)
	if err != nil {
		return err
	}
	if !caller.Equal(loan.Borrower) {
		return errNotBorrower
	}
	if loan.Status != StatusFunded {
		return errNotFunded
	}
	p, err := e.poolFor(loan.Pool)
	if err != nil {
		return err
	}
	if err := p.CurrencyToken().Transfer(Address(id), beneficiary, loan.Principal); err != nil {
		return err
	}
	loan.Status = StatusWithdrawn
	if err := e.state.PutLoan(loan); err != nil {
		return err
	}
	e.emit(EventTypeWithdrawn, loan, map[string]string{"beneficiary": beneficiary.String()})
	return nil
}

// Repay transfers currency from the payer into the loan's custody address.
// Any party may repay on the borrower's behalf; recovery is measured at close
// time from the custody balance.
func (e *Engine) Repay(id [32]byte, payer crypto.Address, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	loan, err := e.loan(id)
	if err != nil {
		return err
	}
	if loan.Status != StatusFunded && loan.Status != StatusWithdrawn {
		return errNotRunning
	}
	p, err := e.poolFor(loan.Pool)
	if err != nil {
		return err
	}
	if err := p.CurrencyToken().Transfer(payer, Address(id), amount); err != nil {
		return err
	}
	e.emit(EventTypeRepaid, loan, map[string]string{"amount": amount.String()})
	return nil
}

// Close resolves the loan after maturity: the custody balance becomes the
// recovered amount, and the terminal status is Settled when it covers the
// debt, Defaulted otherwise.
func (e *Engine) Close(id [32]byte) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	loan, err := e.loan(id)
	if err != nil {
		return err
	}
	if loan.Status.Closed() {
		return errAlreadyClosed
	}
	if loan.Status != StatusFunded && loan.Status != StatusWithdrawn {
		return errNotRunning
	}
	if e.nowFn() < loan.Start+loan.Duration {
		return errNotMature
	}
	p, err := e.poolFor(loan.Pool)
	if err != nil {
		return err
	}
	loan.Returned = p.CurrencyToken().BalanceOf(Address(id))
	if loan.Returned.Cmp(loan.Debt) >= 0 {
		loan.Status = StatusSettled
	} else {
		loan.Status = StatusDefaulted
	}
	if err := e.state.PutLoan(loan); err != nil {
		return err
	}
	e.emit(EventTypeClosed, loan, map[string]string{"returned": loan.Returned.String()})
	return nil
}

// Redeem burns the holder's shares against the custody balance pro rata. On a
// default the recovered currency is smaller than the debt, so holders absorb
// the shortfall proportionally.
func (e *Engine) Redeem(id [32]byte, holder crypto.Address, shares *big.Int) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if shares == nil || shares.Sign() <= 0 {
		return nil, errInvalidAmount
	}
	loan, err := e.loan(id)
	if err != nil {
		return nil, err
	}
	if !loan.Status.Closed() {
		return nil, errNotClosed
	}
	held := loan.ShareBalance(holder)
	if held.Cmp(shares) < 0 {
		return nil, errNoShares
	}
	p, err := e.poolFor(loan.Pool)
	if err != nil {
		return nil, err
	}

	custody := Address(id)
	balance := p.CurrencyToken().BalanceOf(custody)
	amount := new(big.Int).Mul(shares, balance)
	amount.Quo(amount, loan.TotalShares)

	loan.Shares[shareKey(holder)] = new(big.Int).Sub(held, shares)
	loan.TotalShares = new(big.Int).Sub(loan.TotalShares, shares)
	if err := e.state.PutLoan(loan); err != nil {
		return nil, err
	}
	if amount.Sign() > 0 {
		if err := p.CurrencyToken().Transfer(custody, holder, amount); err != nil {
			return nil, err
		}
	}
	e.emit(EventTypeRedeemed, loan, map[string]string{
		"holder": holder.String(),
		"amount": amount.String(),
	})
	return amount, nil
}

// Transfer moves loan shares between holders without touching currency. Used
// by the lender's pro-rata distribute flow.
func (e *Engine) Transfer(id [32]byte, from, to crypto.Address, shares *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if shares == nil || shares.Sign() <= 0 {
		return errInvalidAmount
	}
	loan, err := e.loan(id)
	if err != nil {
		return err
	}
	held := loan.ShareBalance(from)
	if held.Cmp(shares) < 0 {
		return errNoShares
	}
	loan.Shares[shareKey(from)] = new(big.Int).Sub(held, shares)
	loan.Shares[shareKey(to)] = new(big.Int).Add(loan.ShareBalance(to), shares)
	return e.state.PutLoan(loan)
}

// Get returns the loan record.
func (e *Engine) Get(id [32]byte) (*Loan, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.loan(id)
}

// CurrentValue is the currency-equivalent value of a running loan: principal
// plus the committed yield prorated by elapsed time, clamped at the full
// debt. Closed loans are worth what they returned.
func (e *Engine) CurrentValue(loan *Loan) *big.Int {
	if loan == nil {
		return big.NewInt(0)
	}
	if loan.Status.Closed() {
		return new(big.Int).Set(loan.Returned)
	}
	if loan.Status == StatusAwaiting || loan.Start == 0 {
		return new(big.Int).Set(loan.Principal)
	}
	elapsed := e.nowFn() - loan.Start
	if elapsed <= 0 {
		return new(big.Int).Set(loan.Principal)
	}
	if elapsed >= loan.Duration {
		return new(big.Int).Set(loan.Debt)
	}
	yield := new(big.Int).Sub(loan.Debt, loan.Principal)
	accrued := new(big.Int).Mul(yield, big.NewInt(elapsed))
	accrued.Quo(accrued, big.NewInt(loan.Duration))
	return new(big.Int).Add(loan.Principal, accrued)
}

func (e *Engine) loan(id [32]byte) (*Loan, error) {
	loan, err := e.state.Loan(id)
	if err != nil {
		return nil, err
	}
	if loan == nil {
		return nil, errNotFound
	}
	if loan.Returned == nil {
		loan.Returned = big.NewInt(0)
	}
	if loan.TotalShares == nil {
		loan.TotalShares = big.NewInt(0)
	}
	if loan.Shares == nil {
		loan.Shares = make(map[string]*big.Int)
	}
	return loan, nil
}

func loanID(borrower, poolAddr crypto.Address, nonce uint64) [32]byte {
	var buf []byte
	buf = append(buf, borrower.Bytes()...)
	buf = append(buf, poolAddr.Bytes()...)
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], nonce)
	buf = append(buf, n[:]...)
	var id [32]byte
	copy(id[:], ethcrypto.Keccak256(buf))
	return id
}

type loanEvent struct {
	evt *types.Event
}

func (l loanEvent) EventType() string {
	if l.evt == nil {
		return ""
	}
	return l.evt.Type
}

func (l loanEvent) Event() *types.Event { return l.evt }

func (e *Engine) emit(eventType string, loan *Loan, extra map[string]string) {
	if e == nil || e.emitter == nil || loan == nil {
		return
	}
	attrs := map[string]string{
		"id":       loanIDHex(loan.ID),
		"borrower": loan.Borrower.String(),
		"pool":     loan.Pool.String(),
		"status":   loan.Status.String(),
	}
	for k, v := range extra {
		attrs[k] = v
	}
	e.emitter.Emit(loanEvent{evt: &types.Event{Type: eventType, Attributes: attrs}})
}

func loanIDHex(id [32]byte) string {
	const hexdigits = "0123456789abcdef"
	out := make([]byte, 0, 64)
	for _, b := range id {
		out = append(out, hexdigits[b>>4], hexdigits[b&0x0f])
	}
	return string(out)
}

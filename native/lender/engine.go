package lender

import (
	"encoding/hex"
	"errors"
	"math/big"
	"time"

	"github.com/trusttoken/contracts-pre22-sub001/core/events"
	"github.com/trusttoken/contracts-pre22-sub001/core/token"
	"github.com/trusttoken/contracts-pre22-sub001/core/types"
	"github.com/trusttoken/contracts-pre22-sub001/crypto"
	nativecommon "github.com/trusttoken/contracts-pre22-sub001/native/common"
	"github.com/trusttoken/contracts-pre22-sub001/native/loans"
	"github.com/trusttoken/contracts-pre22-sub001/native/pool"
	"github.com/trusttoken/contracts-pre22-sub001/native/rating"
)

const moduleName = "lender"

const (
	basisPoints    = 10_000
	secondsPerYear = 31_536_000
)

const (
	EventTypeFunded    = "lender.funded"
	EventTypeReclaimed = "lender.reclaimed"
)

var (
	errNilState          = errors.New("lender: state not configured")
	errNotAllowed        = errors.New("lender: borrower is not allowed")
	errBorrowerMismatch  = errors.New("lender: caller is not the loan borrower")
	errUnknownPool       = errors.New("lender: pool not registered")
	errSizeOutOfBounds   = errors.New("lender: loan size is out of bounds")
	errTermOutOfBounds   = errors.New("lender: loan term is out of bounds")
	errApyTooLow         = errors.New("lender: loan APY is below the minimum")
	errVotingTooShort    = errors.New("lender: voting period has not elapsed")
	errNotEnoughVotes    = errors.New("lender: not enough votes given for the loan")
	errNotCredible       = errors.New("lender: loan risk is too high")
	errLoanNotClosed     = errors.New("lender: loan has not been closed yet")
	errLoanNotHeld       = errors.New("lender: loan is not held by this lender")
	errNotPool           = errors.New("lender: caller is not the pool")
	errInvalidProportion = errors.New("lender: invalid distribution proportion")
)

// Params bound what the gatekeeper will fund. Sizes are in 18-decimal
// reference precision, durations in seconds, rates in basis points.
type Params struct {
	MinSize       *big.Int
	MaxSize       *big.Int
	MinTerm       int64
	MaxTerm       int64
	MinApy        uint64
	VotingPd      int64
	Participation uint64
	RiskAversion  uint64
}

// DefaultParams mirror the launch configuration: loans of 1k to 10M
// reference units, ten days to ten years, at least 10% APY, a seven-day
// voting window, 1% participation, and a 15000bps risk aversion.
func DefaultParams() Params {
	return Params{
		MinSize:       new(big.Int).Mul(big.NewInt(1000), pow10(18)),
		MaxSize:       new(big.Int).Mul(big.NewInt(10_000_000), pow10(18)),
		MinTerm:       10 * 24 * 3600,
		MaxTerm:       10 * 365 * 24 * 3600,
		MinApy:        1000,
		VotingPd:      7 * 24 * 3600,
		Participation: 100,
		RiskAversion:  15_000,
	}
}

type ratingSource interface {
	Get(loanID [32]byte) (*rating.Rating, error)
}

type loanBook interface {
	Get(id [32]byte) (*loans.Loan, error)
	Fund(id [32]byte, funder crypto.Address) error
	Redeem(id [32]byte, holder crypto.Address, shares *big.Int) (*big.Int, error)
	Transfer(id [32]byte, from, to crypto.Address, shares *big.Int) error
	CurrentValue(loan *loans.Loan) *big.Int
}

type borrowerMutex interface {
	Lock(borrower, locker crypto.Address) error
	Unlock(borrower, locker crypto.Address) error
}

type engineState interface {
	FundedLoans(poolAddr crypto.Address) ([][32]byte, error)
	SetFundedLoans(poolAddr crypto.Address, ids [][32]byte) error
}

// Engine is the fixed-term funding gatekeeper. It admits a loan to pool
// capital only when its terms sit inside the configured bounds, the rating
// vote has run long enough with enough participation, and the yes/no split
// clears the credibility policy.
type Engine struct {
	state     engineState
	emitter   events.Emitter
	pauses    nativecommon.PauseView
	nowFn     func() int64
	loans     loanBook
	ratings   ratingSource
	mutex     borrowerMutex
	pools     map[string]pool.Pool
	borrowers map[string]bool
	addr      crypto.Address
	params    Params

	// stakeDecimals is the staked-governance token precision used when
	// scaling the participation threshold from loan size to vote weight.
	stakeDecimals uint8
}

func NewEngine(addr crypto.Address) *Engine {
	return &Engine{
		emitter:       events.NoopEmitter{},
		nowFn:         func() int64 { return time.Now().Unix() },
		pools:         make(map[string]pool.Pool),
		borrowers:     make(map[string]bool),
		addr:          addr,
		params:        DefaultParams(),
		stakeDecimals: 8,
	}
}

func (e *Engine) SetState(state engineState) { e.state = state }

func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *Engine) SetLoanBook(book loanBook)        { e.loans = book }
func (e *Engine) SetRatingSource(src ratingSource) { e.ratings = src }
func (e *Engine) SetMutex(m borrowerMutex)         { e.mutex = m }

func (e *Engine) SetParams(p Params) {
	if p.MinSize == nil || p.MaxSize == nil {
		return
	}
	e.params = p
}

func (e *Engine) Params() Params { return e.params }

func (e *Engine) SetStakeDecimals(d uint8) { e.stakeDecimals = d }

func (e *Engine) Address() crypto.Address { return e.addr }

func (e *Engine) RegisterPool(p pool.Pool) {
	if p == nil {
		return
	}
	e.pools[string(p.Address().Bytes())] = p
}

// AllowBorrower admits a borrower to the fixed-term product.
func (e *Engine) AllowBorrower(addr crypto.Address) {
	e.borrowers[borrowerKey(addr)] = true
}

func (e *Engine) DisallowBorrower(addr crypto.Address) {
	delete(e.borrowers, borrowerKey(addr))
}

// Fund draws the loan principal from its pool and funds the loan, taking the
// loan shares onto the lender's own address. The borrower's mutex slot is
// locked for the life of the loan.
func (e *Engine) Fund(loanID [32]byte, caller crypto.Address) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if !e.borrowers[borrowerKey(caller)] {
		return errNotAllowed
	}
	loan, err := e.loans.Get(loanID)
	if err != nil {
		return err
	}
	if !caller.Equal(loan.Borrower) {
		return errBorrowerMismatch
	}
	p, ok := e.pools[string(loan.Pool.Bytes())]
	if !ok {
		return errUnknownPool
	}
	if err := e.checkTerms(p, loan); err != nil {
		return err
	}
	if err := e.checkVote(p, loan); err != nil {
		return err
	}

	ids, err := e.state.FundedLoans(loan.Pool)
	if err != nil {
		return err
	}

	if e.mutex != nil {
		if err := e.mutex.Lock(loan.Borrower, e.addr); err != nil {
			return err
		}
	}
	// Every failure past the lock unwinds: a failed fund must not leave the
	// borrower locked or the pool draw outstanding.
	unwind := func(repay bool) {
		if repay {
			_ = p.Repay(e.addr, loan.Principal)
		}
		if e.mutex != nil {
			_ = e.mutex.Unlock(loan.Borrower, e.addr)
		}
	}
	if err := p.Borrow(e.addr, loan.Principal); err != nil {
		unwind(false)
		return err
	}
	custody := loans.Address(loanID)
	if err := p.CurrencyToken().Approve(e.addr, custody, loan.Principal); err != nil {
		unwind(true)
		return err
	}
	if err := e.state.SetFundedLoans(loan.Pool, append(ids, loanID)); err != nil {
		unwind(true)
		return err
	}
	if err := e.loans.Fund(loanID, e.addr); err != nil {
		_ = e.state.SetFundedLoans(loan.Pool, ids)
		unwind(true)
		return err
	}
	e.emit(EventTypeFunded, loanID, map[string]string{
		"pool":      loan.Pool.String(),
		"principal": loan.Principal.String(),
	})
	return nil
}

func (e *Engine) checkTerms(p pool.Pool, loan *loans.Loan) error {
	size := token.Normalize18(loan.Principal, p.CurrencyToken().Decimals())
	if size.Cmp(e.params.MinSize) < 0 || size.Cmp(e.params.MaxSize) > 0 {
		return errSizeOutOfBounds
	}
	if loan.Duration < e.params.MinTerm || loan.Duration > e.params.MaxTerm {
		return errTermOutOfBounds
	}
	if loan.APY < e.params.MinApy {
		return errApyTooLow
	}
	return nil
}

func (e *Engine) checkVote(p pool.Pool, loan *loans.Loan) error {
	r, err := e.ratings.Get(loan.ID)
	if err != nil {
		return err
	}
	if e.nowFn()-r.CreatedAt < e.params.VotingPd {
		return errVotingTooShort
	}
	if r.TotalYes.Cmp(e.minVotes(p, loan)) < 0 {
		return errNotEnoughVotes
	}
	if !e.loanIsCredible(loan.APY, loan.Duration, r.TotalYes, r.TotalNo) {
		return errNotCredible
	}
	return nil
}

// minVotes scales the participation factor against the loan size, expressed
// in the staked-governance token's precision so vote weights compare
// directly.
func (e *Engine) minVotes(p pool.Pool, loan *loans.Loan) *big.Int {
	size := token.Normalize18(loan.Principal, p.CurrencyToken().Decimals())
	size = token.Denormalize18(size, e.stakeDecimals)
	size.Mul(size, new(big.Int).SetUint64(e.params.Participation))
	return size.Quo(size, big.NewInt(basisPoints))
}

// loanIsCredible accepts a loan when the yes stake, weighted by the annual
// yield on offer, outweighs the no stake weighted by risk aversion over the
// loan's term:
//
//	yes * apy * YEAR >= no * riskAversion * duration
//
// A lower APY, a longer term, or a higher risk aversion all demand a higher
// yes/no ratio. With no opposition any non-zero yes stake passes.
func (e *Engine) loanIsCredible(apy uint64, duration int64, yes, no *big.Int) bool {
	if yes.Sign() == 0 {
		return false
	}
	if no.Sign() == 0 {
		return true
	}
	lhs := new(big.Int).Mul(yes, new(big.Int).SetUint64(apy))
	lhs.Mul(lhs, big.NewInt(secondsPerYear))
	rhs := new(big.Int).Mul(no, new(big.Int).SetUint64(e.params.RiskAversion))
	rhs.Mul(rhs, big.NewInt(duration))
	return lhs.Cmp(rhs) >= 0
}

// Reclaim redeems the lender's shares of a closed loan, returns the proceeds
// to the pool, and drops the loan from the funded list. The borrower's mutex
// slot is released.
func (e *Engine) Reclaim(loanID [32]byte) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	loan, err := e.loans.Get(loanID)
	if err != nil {
		return err
	}
	if !loan.Status.Closed() {
		return errLoanNotClosed
	}
	p, ok := e.pools[string(loan.Pool.Bytes())]
	if !ok {
		return errUnknownPool
	}
	ids, err := e.state.FundedLoans(loan.Pool)
	if err != nil {
		return err
	}
	idx := indexOf(ids, loanID)
	if idx < 0 {
		return errLoanNotHeld
	}

	shares := loan.ShareBalance(e.addr)
	proceeds := big.NewInt(0)
	if shares.Sign() > 0 {
		proceeds, err = e.loans.Redeem(loanID, e.addr, shares)
		if err != nil {
			return err
		}
	}
	if proceeds.Sign() > 0 {
		if err := p.Repay(e.addr, proceeds); err != nil {
			return err
		}
	}

	// Swap-and-pop; funded-loan ordering is not part of the contract.
	ids[idx] = ids[len(ids)-1]
	ids = ids[:len(ids)-1]
	if err := e.state.SetFundedLoans(loan.Pool, ids); err != nil {
		return err
	}
	if e.mutex != nil {
		if err := e.mutex.Unlock(loan.Borrower, e.addr); err != nil {
			return err
		}
	}
	e.emit(EventTypeReclaimed, loanID, map[string]string{
		"pool":     loan.Pool.String(),
		"proceeds": proceeds.String(),
	})
	return nil
}

// Value sums the currency-equivalent value of every loan funded from the
// given pool, prorating running loans by elapsed time.
func (e *Engine) Value(poolAddr crypto.Address) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	ids, err := e.state.FundedLoans(poolAddr)
	if err != nil {
		return nil, err
	}
	total := big.NewInt(0)
	for _, id := range ids {
		loan, err := e.loans.Get(id)
		if err != nil {
			return nil, err
		}
		total.Add(total, e.loans.CurrentValue(loan))
	}
	return total, nil
}

// Distribute passes numerator/denominator of every held loan share through to
// the beneficiary. Pool-only: used when a pool exits pro-rata and must hand
// its loan exposure to the exiting party.
func (e *Engine) Distribute(caller, beneficiary crypto.Address, numerator, denominator uint64, poolAddr crypto.Address) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if _, ok := e.pools[string(caller.Bytes())]; !ok || !caller.Equal(poolAddr) {
		return errNotPool
	}
	if denominator == 0 || numerator > denominator {
		return errInvalidProportion
	}
	ids, err := e.state.FundedLoans(poolAddr)
	if err != nil {
		return err
	}
	for _, id := range ids {
		loan, err := e.loans.Get(id)
		if err != nil {
			return err
		}
		held := loan.ShareBalance(e.addr)
		if held.Sign() == 0 {
			continue
		}
		share := new(big.Int).Mul(held, new(big.Int).SetUint64(numerator))
		share.Quo(share, new(big.Int).SetUint64(denominator))
		if share.Sign() == 0 {
			continue
		}
		if err := e.loans.Transfer(id, e.addr, beneficiary, share); err != nil {
			return err
		}
	}
	return nil
}

func indexOf(ids [][32]byte, id [32]byte) int {
	for i, candidate := range ids {
		if candidate == id {
			return i
		}
	}
	return -1
}

func borrowerKey(addr crypto.Address) string {
	return hex.EncodeToString(addr.Bytes())
}

func pow10(n uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

type lenderEvent struct {
	evt *types.Event
}

func (l lenderEvent) EventType() string {
	if l.evt == nil {
		return ""
	}
	return l.evt.Type
}

func (l lenderEvent) Event() *types.Event { return l.evt }

func (e *Engine) emit(eventType string, loanID [32]byte, extra map[string]string) {
	if e == nil || e.emitter == nil {
		return
	}
	attrs := map[string]string{"loan": hex.EncodeToString(loanID[:])}
	for k, v := range extra {
		attrs[k] = v
	}
	e.emitter.Emit(lenderEvent{evt: &types.Event{Type: eventType, Attributes: attrs}})
}

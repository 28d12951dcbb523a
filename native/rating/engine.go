package rating

import (
	"errors"
	"math/big"
	"time"

	"github.com/trusttoken/contracts-pre22-sub001/core/events"
	"github.com/trusttoken/contracts-pre22-sub001/core/token"
	"github.com/trusttoken/contracts-pre22-sub001/core/types"
	"github.com/trusttoken/contracts-pre22-sub001/crypto"
	nativecommon "github.com/trusttoken/contracts-pre22-sub001/native/common"
	"github.com/trusttoken/contracts-pre22-sub001/native/loans"
)

const moduleName = "rating"

const basisPoints = 10_000

const (
	EventTypeSubmitted = "rating.submitted"
	EventTypeCast      = "rating.cast"
	EventTypeRetracted = "rating.retracted"
	EventTypeReset     = "rating.reset"
	EventTypeClaimed   = "rating.claimed"
)

var (
	errNilState         = errors.New("rating: state not configured")
	errNotFound         = errors.New("rating: not found")
	errNotSubmitter     = errors.New("rating: caller is not an allowed submitter")
	errNotLoanBorrower  = errors.New("rating: submitter is not the loan borrower")
	errAlreadySubmitted = errors.New("rating: loan was already submitted")
	errLoanNotPending   = errors.New("rating: loan is no longer pending")
	errNotCreator       = errors.New("rating: caller is not the rating creator")
	errNoStake          = errors.New("rating: rater has no staked balance")
	errStillPending     = errors.New("rating: loan has not left pending")
	errNoDistributor    = errors.New("rating: reward distributor not configured")
)

// loanSource exposes the loan records the agency rates. Satisfied by the
// loans engine.
type loanSource interface {
	Get(id [32]byte) (*loans.Loan, error)
}

// StakeView reads a rater's live staked-governance balance. Votes snapshot
// this balance; the agency never moves staked tokens.
type StakeView interface {
	BalanceOf(addr crypto.Address) *big.Int
}

// RewardDistributor is the drainable reward source tapped once per loan on
// the first claim.
type RewardDistributor interface {
	Distribute(to crypto.Address, amount *big.Int) error
	Remaining() *big.Int
}

type engineState interface {
	Rating(id [32]byte) (*Rating, error)
	PutRating(rating *Rating) error
}

// Engine runs stake-weighted loan voting and pro-rata reward claims. The
// reward pot for a loan is reserved exactly once, when the first claim
// arrives after the loan leaves pending; later claims only redistribute it.
type Engine struct {
	state       engineState
	emitter     events.Emitter
	pauses      nativecommon.PauseView
	nowFn       func() int64
	loans       loanSource
	stake       StakeView
	distributor RewardDistributor
	rewardToken token.Token
	agencyAddr  crypto.Address
	stakingPool crypto.Address
	submitters  map[string]bool
	decimalsFn  currencyDecimalsFn

	// ratersRewardFactor is the basis-point share of the reward budget that
	// goes to raters; the rest is forwarded to the staking pool.
	ratersRewardFactor uint64
	rewardMultiplier   uint64
}

func NewEngine(agencyAddr crypto.Address) *Engine {
	return &Engine{
		emitter:            events.NoopEmitter{},
		nowFn:              func() int64 { return time.Now().Unix() },
		agencyAddr:         agencyAddr,
		submitters:         make(map[string]bool),
		ratersRewardFactor: basisPoints,
		rewardMultiplier:   1,
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

func (e *Engine) SetLoanSource(src loanSource) { e.loans = src }

func (e *Engine) SetStakeView(stake StakeView) { e.stake = stake }

// SetRewardDistributor wires the one-shot reward source and the token it
// pays out in.
func (e *Engine) SetRewardDistributor(d RewardDistributor, rewardToken token.Token) {
	e.distributor = d
	e.rewardToken = rewardToken
}

func (e *Engine) SetStakingPool(addr crypto.Address) { e.stakingPool = addr }

func (e *Engine) SetRatersRewardFactor(bps uint64) {
	if bps > basisPoints {
		bps = basisPoints
	}
	e.ratersRewardFactor = bps
}

func (e *Engine) SetRewardMultiplier(multiplier uint64) {
	if multiplier == 0 {
		multiplier = 1
	}
	e.rewardMultiplier = multiplier
}

// AllowSubmitter adds an address to the submit allow-list.
func (e *Engine) AllowSubmitter(addr crypto.Address) {
	e.submitters[raterKey(addr)] = true
}

func (e *Engine) DisallowSubmitter(addr crypto.Address) {
	delete(e.submitters, raterKey(addr))
}

// Submit opens a rating for a pending loan. The caller must be allow-listed
// and must be the loan's own borrower; a loan can be submitted only once,
// even after a retract.
func (e *Engine) Submit(loanID [32]byte, caller crypto.Address) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if !e.submitters[raterKey(caller)] {
		return errNotSubmitter
	}
	loan, err := e.loans.Get(loanID)
	if err != nil {
		return err
	}
	if !caller.Equal(loan.Borrower) {
		return errNotLoanBorrower
	}
	if loan.Status != loans.StatusAwaiting {
		return errLoanNotPending
	}
	if existing, err := e.state.Rating(loanID); err != nil {
		return err
	} else if existing != nil {
		return errAlreadySubmitted
	}

	rating := &Rating{
		LoanID:    loanID,
		Creator:   caller,
		CreatedAt: e.nowFn(),
		TotalYes:  big.NewInt(0),
		TotalNo:   big.NewInt(0),
		Yes:       make(map[string]*big.Int),
		No:        make(map[string]*big.Int),
		Reserved:  big.NewInt(0),
		Claimed:   make(map[string]*big.Int),
	}
	if err := e.state.PutRating(rating); err != nil {
		return err
	}
	e.emit(EventTypeSubmitted, rating, map[string]string{"creator": caller.String()})
	return nil
}

// Yes casts the rater's current staked balance behind repayment. Recasting
// on the same side refreshes the snapshot; casting the opposite side replaces
// it atomically.
func (e *Engine) Yes(loanID [32]byte, rater crypto.Address) error {
	return e.cast(loanID, rater, true)
}

// No casts the rater's current staked balance against repayment.
func (e *Engine) No(loanID [32]byte, rater crypto.Address) error {
	return e.cast(loanID, rater, false)
}

func (e *Engine) cast(loanID [32]byte, rater crypto.Address, yes bool) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	rating, err := e.rating(loanID)
	if err != nil {
		return err
	}
	if err := e.requirePending(loanID); err != nil {
		return err
	}
	weight := e.stake.BalanceOf(rater)
	if weight == nil || weight.Sign() <= 0 {
		return errNoStake
	}

	e.removeWeight(rating, rater)
	key := raterKey(rater)
	if yes {
		rating.Yes[key] = new(big.Int).Set(weight)
		rating.TotalYes = new(big.Int).Add(rating.TotalYes, weight)
	} else {
		rating.No[key] = new(big.Int).Set(weight)
		rating.TotalNo = new(big.Int).Add(rating.TotalNo, weight)
	}
	if err := e.state.PutRating(rating); err != nil {
		return err
	}
	side := "no"
	if yes {
		side = "yes"
	}
	e.emit(EventTypeCast, rating, map[string]string{
		"rater":  rater.String(),
		"side":   side,
		"weight": weight.String(),
	})
	return nil
}

// Retract withdraws a pending submission. Aggregate totals are zeroed but
// the per-rater snapshots stay queryable.
func (e *Engine) Retract(loanID [32]byte, caller crypto.Address) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	rating, err := e.rating(loanID)
	if err != nil {
		return err
	}
	if rating.Creator.IsZero() || !caller.Equal(rating.Creator) {
		return errNotCreator
	}
	if err := e.requirePending(loanID); err != nil {
		return err
	}
	rating.Creator = crypto.Address{}
	rating.Retracted = true
	rating.TotalYes = big.NewInt(0)
	rating.TotalNo = big.NewInt(0)
	if err := e.state.PutRating(rating); err != nil {
		return err
	}
	e.emit(EventTypeRetracted, rating, nil)
	return nil
}

// ResetCastRatings removes the caller's own weight from the aggregates.
func (e *Engine) ResetCastRatings(loanID [32]byte, rater crypto.Address) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	rating, err := e.rating(loanID)
	if err != nil {
		return err
	}
	if err := e.requirePending(loanID); err != nil {
		return err
	}
	e.removeWeight(rating, rater)
	delete(rating.Yes, raterKey(rater))
	delete(rating.No, raterKey(rater))
	if err := e.state.PutRating(rating); err != nil {
		return err
	}
	e.emit(EventTypeReset, rating, map[string]string{"rater": rater.String()})
	return nil
}

// Claim pays the rater their pro-rata share of the loan's reward pot. The
// first claim after the loan leaves pending reserves the pot: the reward
// budget is the loan principal normalized to 18 decimals times the reward
// multiplier; raters get ratersRewardFactor of it and the staking pool the
// rest. Repeat claims transfer only what newly accrued, so a second claim in
// the same block moves zero.
func (e *Engine) Claim(loanID [32]byte, rater crypto.Address) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	rating, err := e.rating(loanID)
	if err != nil {
		return nil, err
	}
	loan, err := e.loans.Get(loanID)
	if err != nil {
		return nil, err
	}
	if loan.Status == loans.StatusAwaiting {
		return nil, errStillPending
	}

	if rating.Reserved.Sign() == 0 {
		if err := e.reserveReward(rating, loan); err != nil {
			return nil, err
		}
	}

	weight := rating.YesWeight(rater)
	weight.Add(weight, rating.NoWeight(rater))
	total := new(big.Int).Add(rating.TotalYes, rating.TotalNo)
	if weight.Sign() == 0 || total.Sign() == 0 {
		return big.NewInt(0), nil
	}

	entitled := new(big.Int).Mul(rating.Reserved, weight)
	entitled.Quo(entitled, total)
	claimed := rating.ClaimedBy(rater)
	due := new(big.Int).Sub(entitled, claimed)
	if due.Sign() <= 0 {
		return big.NewInt(0), nil
	}

	rating.Claimed[raterKey(rater)] = entitled
	if err := e.state.PutRating(rating); err != nil {
		return nil, err
	}
	if err := e.rewardToken.Transfer(e.agencyAddr, rater, due); err != nil {
		return nil, err
	}
	e.emit(EventTypeClaimed, rating, map[string]string{
		"rater":  rater.String(),
		"amount": due.String(),
	})
	return due, nil
}

// reserveReward pulls the loan's full reward budget from the distributor and
// forwards the non-rater share to the staking pool. Principal is normalized
// to 18 decimals first so 6-decimal loans earn the same reward as 18-decimal
// loans of equal size.
func (e *Engine) reserveReward(rating *Rating, loan *loans.Loan) error {
	if e.distributor == nil || e.rewardToken == nil {
		return errNoDistributor
	}
	decimals := uint8(token.BaseDecimals)
	if p, err := e.loanCurrencyDecimals(loan); err == nil {
		decimals = p
	}
	budget := token.Normalize18(loan.Principal, decimals)
	budget.Mul(budget, new(big.Int).SetUint64(e.rewardMultiplier))
	if remaining := e.distributor.Remaining(); remaining != nil && budget.Cmp(remaining) > 0 {
		budget.Set(remaining)
	}
	if budget.Sign() == 0 {
		return nil
	}
	if err := e.distributor.Distribute(e.agencyAddr, budget); err != nil {
		return err
	}
	reserved := new(big.Int).Mul(budget, new(big.Int).SetUint64(e.ratersRewardFactor))
	reserved.Quo(reserved, big.NewInt(basisPoints))
	rating.Reserved = reserved
	if remainder := new(big.Int).Sub(budget, reserved); remainder.Sign() > 0 && !e.stakingPool.IsZero() {
		if err := e.rewardToken.Transfer(e.agencyAddr, e.stakingPool, remainder); err != nil {
			return err
		}
	}
	return nil
}

type currencyDecimalsFn func(loan *loans.Loan) (uint8, error)

// loanCurrencyDecimals resolves the loan currency's precision via the
// configured resolver, defaulting to 18.
func (e *Engine) loanCurrencyDecimals(loan *loans.Loan) (uint8, error) {
	if e.decimalsFn != nil {
		return e.decimalsFn(loan)
	}
	return token.BaseDecimals, nil
}

// SetCurrencyDecimalsFunc overrides how the engine resolves a loan currency's
// decimal precision for reward normalization.
func (e *Engine) SetCurrencyDecimalsFunc(fn currencyDecimalsFn) { e.decimalsFn = fn }

// Get returns the rating record.
func (e *Engine) Get(loanID [32]byte) (*Rating, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.rating(loanID)
}

func (e *Engine) requirePending(loanID [32]byte) error {
	loan, err := e.loans.Get(loanID)
	if err != nil {
		return err
	}
	if loan.Status != loans.StatusAwaiting {
		return errLoanNotPending
	}
	return nil
}

func (e *Engine) removeWeight(rating *Rating, rater crypto.Address) {
	key := raterKey(rater)
	if prev, ok := rating.Yes[key]; ok && prev != nil {
		rating.TotalYes = new(big.Int).Sub(rating.TotalYes, prev)
		delete(rating.Yes, key)
	}
	if prev, ok := rating.No[key]; ok && prev != nil {
		rating.TotalNo = new(big.Int).Sub(rating.TotalNo, prev)
		delete(rating.No, key)
	}
}

func (e *Engine) rating(loanID [32]byte) (*Rating, error) {
	rating, err := e.state.Rating(loanID)
	if err != nil {
		return nil, err
	}
	if rating == nil {
		return nil, errNotFound
	}
	if rating.TotalYes == nil {
		rating.TotalYes = big.NewInt(0)
	}
	if rating.TotalNo == nil {
		rating.TotalNo = big.NewInt(0)
	}
	if rating.Yes == nil {
		rating.Yes = make(map[string]*big.Int)
	}
	if rating.No == nil {
		rating.No = make(map[string]*big.Int)
	}
	if rating.Reserved == nil {
		rating.Reserved = big.NewInt(0)
	}
	if rating.Claimed == nil {
		rating.Claimed = make(map[string]*big.Int)
	}
	return rating, nil
}

type ratingEvent struct {
	evt *types.Event
}

func (r ratingEvent) EventType() string {
	if r.evt == nil {
		return ""
	}
	return r.evt.Type
}

func (r ratingEvent) Event() *types.Event { return r.evt }

func (e *Engine) emit(eventType string, rating *Rating, extra map[string]string) {
	if e == nil || e.emitter == nil || rating == nil {
		return
	}
	attrs := map[string]string{
		"loan": loanIDHex(rating.LoanID),
		"yes":  rating.TotalYes.String(),
		"no":   rating.TotalNo.String(),
	}
	for k, v := range extra {
		attrs[k] = v
	}
	e.emitter.Emit(ratingEvent{evt: &types.Event{Type: eventType, Attributes: attrs}})
}

func loanIDHex(id [32]byte) string {
	const hexdigits = "0123456789abcdef"
	out := make([]byte, 0, 64)
	for _, b := range id {
		out = append(out, hexdigits[b>>4], hexdigits[b&0x0f])
	}
	return string(out)
}

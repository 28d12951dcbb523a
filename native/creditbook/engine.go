package creditbook

import (
	"encoding/hex"
	"errors"
	"math/big"
	"strconv"
	"time"

	"github.com/trusttoken/contracts-pre22-sub001/core/events"
	"github.com/trusttoken/contracts-pre22-sub001/core/token"
	"github.com/trusttoken/contracts-pre22-sub001/core/types"
	"github.com/trusttoken/contracts-pre22-sub001/crypto"
	nativecommon "github.com/trusttoken/contracts-pre22-sub001/native/common"
	"github.com/trusttoken/contracts-pre22-sub001/native/oracle"
	"github.com/trusttoken/contracts-pre22-sub001/native/pool"
)

const moduleName = "creditbook"

const (
	basisPoints    = 10_000
	secondsPerYear = 31_536_000
)

const (
	EventTypeBorrowed       = "credit.borrowed"
	EventTypeInterestPaid   = "credit.interestPaid"
	EventTypePrincipalPaid  = "credit.principalPaid"
	EventTypePositionClosed = "credit.positionClosed"
	EventTypeRebucketed     = "credit.rebucketed"
)

var (
	errNilState              = errors.New("credit book: state not configured")
	errPoolNotAllowed        = errors.New("credit book: pool is not allowed")
	errNotAllowed            = errors.New("credit book: borrower is not allowed")
	errIneligible            = errors.New("credit book: borrower is not eligible")
	errStaleScore            = errors.New("credit book: credit score is stale")
	errZeroScore             = errors.New("credit book: borrower has no credit score")
	errOverdueInterest       = errors.New("credit book: overdue interest must be repaid first")
	errLimitExceeded         = errors.New("credit book: borrow limit exceeded")
	errInsufficientLiquidity = errors.New("credit book: pool has insufficient liquidity")
	errAlreadyLocked         = errors.New("credit book: borrower is already locked")
	errInvalidAmount         = errors.New("credit book: amount must be positive")
	errNothingBorrowed       = errors.New("credit book: nothing borrowed")
	errRepayTooLarge         = errors.New("credit book: repayment exceeds debt")
)

// rateModel is the slice of the rate adjuster the credit book consumes.
type rateModel interface {
	Rate(p pool.Pool, score uint8, afterBorrow *big.Int) (uint64, error)
	BorrowLimit(p pool.Pool, borrower crypto.Address) *big.Int
}

type borrowerMutex interface {
	Lock(borrower, locker crypto.Address) error
	Unlock(borrower, locker crypto.Address) error
	Locker(borrower crypto.Address) (crypto.Address, error)
}

type engineState interface {
	CreditBucket(poolAddr crypto.Address, score uint8) (*Bucket, error)
	PutCreditBucket(poolAddr crypto.Address, score uint8, bucket *Bucket) error
	CreditPosition(poolAddr, borrower crypto.Address) (*Position, error)
	PutCreditPosition(poolAddr, borrower crypto.Address, position *Position) error
	UsedBuckets(poolAddr crypto.Address) ([]byte, error)
	PutUsedBuckets(poolAddr crypto.Address, bitmap []byte) error
	PoolInterestPaid(poolAddr crypto.Address) (*big.Int, error)
	PutPoolInterestPaid(poolAddr crypto.Address, total *big.Int) error
}

// Engine is the revolving line-of-credit ledger. Borrowers sharing a pool
// and a discretized credit score share one bucket and one lazily-updated
// interest accumulator, so every state transition costs O(1) regardless of
// how many positions a bucket holds.
type Engine struct {
	state     engineState
	emitter   events.Emitter
	pauses    nativecommon.PauseView
	nowFn     func() int64
	rates     rateModel
	oracle    oracle.CreditOracle
	mutex     borrowerMutex
	pools     map[string]pool.Pool
	borrowers map[string]bool
	addr      crypto.Address

	// interestRepaymentPeriod is how long a borrower may run before interest
	// falls due; creditUpdatePeriod bounds how stale an oracle score may be.
	interestRepaymentPeriod int64
	creditUpdatePeriod      int64
}

func NewEngine(addr crypto.Address) *Engine {
	return &Engine{
		emitter:                 events.NoopEmitter{},
		nowFn:                   func() int64 { return time.Now().Unix() },
		pools:                   make(map[string]pool.Pool),
		borrowers:               make(map[string]bool),
		addr:                    addr,
		interestRepaymentPeriod: 31 * 24 * 3600,
		creditUpdatePeriod:      31 * 24 * 3600,
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

func (e *Engine) SetRateModel(m rateModel)              { e.rates = m }
func (e *Engine) SetCreditOracle(o oracle.CreditOracle) { e.oracle = o }
func (e *Engine) SetMutex(m borrowerMutex)              { e.mutex = m }

func (e *Engine) SetInterestRepaymentPeriod(seconds int64) {
	if seconds > 0 {
		e.interestRepaymentPeriod = seconds
	}
}

func (e *Engine) SetCreditUpdatePeriod(seconds int64) {
	if seconds > 0 {
		e.creditUpdatePeriod = seconds
	}
}

func (e *Engine) Address() crypto.Address { return e.addr }

// AllowPool admits a pool to the line-of-credit product.
func (e *Engine) AllowPool(p pool.Pool) {
	if p == nil {
		return
	}
	e.pools[string(p.Address().Bytes())] = p
}

func (e *Engine) AllowBorrower(addr crypto.Address) {
	e.borrowers[hex.EncodeToString(addr.Bytes())] = true
}

func (e *Engine) DisallowBorrower(addr crypto.Address) {
	delete(e.borrowers, hex.EncodeToString(addr.Bytes()))
}

// Borrow draws amount against the borrower's credit line in the given pool.
// The first draw locks the borrowing mutex and starts the interest-repayment
// clock; top-ups in the same pool do neither.
func (e *Engine) Borrow(poolAddr, borrower crypto.Address, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	p, ok := e.pools[string(poolAddr.Bytes())]
	if !ok {
		return errPoolNotAllowed
	}
	if !e.borrowers[hex.EncodeToString(borrower.Bytes())] {
		return errNotAllowed
	}
	score, err := e.freshScore(borrower)
	if err != nil {
		return err
	}
	position, err := e.position(poolAddr, borrower)
	if err != nil {
		return err
	}
	now := e.nowFn()
	if position.Principal.Sign() > 0 && now > position.NextInterestRepayTime {
		return errOverdueInterest
	}

	decimals := p.CurrencyToken().Decimals()
	borrowed := token.Normalize18(position.Principal, decimals)
	borrowed.Add(borrowed, token.Normalize18(amount, decimals))
	if borrowed.Cmp(e.rates.BorrowLimit(p, borrower)) > 0 {
		return errLimitExceeded
	}
	if p.LiquidValue().Cmp(amount) < 0 {
		return errInsufficientLiquidity
	}

	firstDraw := position.Principal.Sign() == 0
	if firstDraw && e.mutex != nil {
		locker, err := e.mutex.Locker(borrower)
		if err != nil {
			return err
		}
		if !locker.IsZero() {
			return errAlreadyLocked
		}
		if err := e.mutex.Lock(borrower, e.addr); err != nil {
			return err
		}
	}

	bitmap, err := e.bitmap(poolAddr)
	if err != nil {
		return err
	}
	var bucket *Bucket
	if firstDraw {
		bucket, err = e.joinBucket(p, bitmap, position, score, now)
	} else {
		bucket, err = e.touchBucket(p, bitmap, position, score, now)
	}
	if err != nil {
		return err
	}

	position.Principal = new(big.Int).Add(position.Principal, amount)
	bucket.TotalBorrowed = new(big.Int).Add(bucket.TotalBorrowed, amount)
	if firstDraw {
		position.NextInterestRepayTime = now + e.interestRepaymentPeriod
	}

	if err := e.persist(poolAddr, borrower, position, bucket, bitmap); err != nil {
		return err
	}
	if err := p.Borrow(borrower, amount); err != nil {
		return err
	}
	e.emit(EventTypeBorrowed, poolAddr, borrower, map[string]string{
		"amount": amount.String(),
		"bucket": scoreString(position.Score),
	})
	return nil
}

// Interest returns what the borrower currently owes in interest, accrued to
// now but without mutating state.
func (e *Engine) Interest(poolAddr, borrower crypto.Address) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if _, ok := e.pools[string(poolAddr.Bytes())]; !ok {
		return nil, errPoolNotAllowed
	}
	position, err := e.position(poolAddr, borrower)
	if err != nil {
		return nil, err
	}
	if position.Principal.Sign() == 0 {
		return new(big.Int).Set(position.AccruedInterest), nil
	}
	bucket, err := e.bucket(poolAddr, position.Score)
	if err != nil {
		return nil, err
	}
	cumulative := projectedCumulative(bucket, e.nowFn())
	delta := new(big.Int).Sub(cumulative, position.PerShareSnapshot)
	delta.Mul(delta, position.Principal)
	delta.Quo(delta, interestPrecision)
	return delta.Add(delta, position.AccruedInterest), nil
}

// Borrowed returns the borrower's outstanding principal in the pool.
func (e *Engine) Borrowed(poolAddr, borrower crypto.Address) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	position, err := e.position(poolAddr, borrower)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(position.Principal), nil
}

// PayInterest settles only the interest portion, resetting the repayment
// clock. Principal is untouched.
func (e *Engine) PayInterest(poolAddr, borrower crypto.Address) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	p, ok := e.pools[string(poolAddr.Bytes())]
	if !ok {
		return nil, errPoolNotAllowed
	}
	position, err := e.position(poolAddr, borrower)
	if err != nil {
		return nil, err
	}
	if position.Principal.Sign() == 0 && position.AccruedInterest.Sign() == 0 {
		return nil, errNothingBorrowed
	}
	now := e.nowFn()
	bitmap, err := e.bitmap(poolAddr)
	if err != nil {
		return nil, err
	}
	bucket, err := e.touchBucket(p, bitmap, position, position.Score, now)
	if err != nil {
		return nil, err
	}

	interest := new(big.Int).Set(position.AccruedInterest)
	if interest.Sign() > 0 {
		if err := p.Repay(borrower, interest); err != nil {
			return nil, err
		}
	}
	position.AccruedInterest = big.NewInt(0)
	position.TotalInterestPaid = new(big.Int).Add(position.TotalInterestPaid, interest)
	position.NextInterestRepayTime = now + e.interestRepaymentPeriod
	if err := e.recordPoolInterest(poolAddr, interest); err != nil {
		return nil, err
	}
	if err := e.persist(poolAddr, borrower, position, bucket, bitmap); err != nil {
		return nil, err
	}
	e.emit(EventTypeInterestPaid, poolAddr, borrower, map[string]string{"amount": interest.String()})
	return interest, nil
}

// Repay applies amount interest-first, then to principal. The repayment
// clock resets only when the full outstanding interest is covered. A repay
// that zeroes both principal and interest closes the position.
func (e *Engine) Repay(poolAddr, borrower crypto.Address, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	p, ok := e.pools[string(poolAddr.Bytes())]
	if !ok {
		return errPoolNotAllowed
	}
	position, err := e.position(poolAddr, borrower)
	if err != nil {
		return err
	}
	if position.Principal.Sign() == 0 && position.AccruedInterest.Sign() == 0 {
		return errNothingBorrowed
	}
	now := e.nowFn()
	bitmap, err := e.bitmap(poolAddr)
	if err != nil {
		return err
	}
	bucket, err := e.touchBucket(p, bitmap, position, position.Score, now)
	if err != nil {
		return err
	}

	debt := new(big.Int).Add(position.Principal, position.AccruedInterest)
	if amount.Cmp(debt) > 0 {
		return errRepayTooLarge
	}

	interestPart := new(big.Int).Set(position.AccruedInterest)
	if amount.Cmp(interestPart) < 0 {
		interestPart.Set(amount)
	}
	principalPart := new(big.Int).Sub(amount, interestPart)

	if err := p.Repay(borrower, amount); err != nil {
		return err
	}

	position.AccruedInterest = new(big.Int).Sub(position.AccruedInterest, interestPart)
	position.TotalInterestPaid = new(big.Int).Add(position.TotalInterestPaid, interestPart)
	if position.AccruedInterest.Sign() == 0 && position.Principal.Sign() > 0 {
		position.NextInterestRepayTime = now + e.interestRepaymentPeriod
	}
	if err := e.recordPoolInterest(poolAddr, interestPart); err != nil {
		return err
	}

	if principalPart.Sign() > 0 {
		position.Principal = new(big.Int).Sub(position.Principal, principalPart)
		bucket.TotalBorrowed = new(big.Int).Sub(bucket.TotalBorrowed, principalPart)
	}
	if position.Principal.Sign() == 0 && position.AccruedInterest.Sign() == 0 {
		e.closePosition(position, bucket, bitmap)
		if err := e.persist(poolAddr, borrower, position, bucket, bitmap); err != nil {
			return err
		}
		if e.mutex != nil {
			if err := e.mutex.Unlock(borrower, e.addr); err != nil {
				return err
			}
		}
		e.emit(EventTypePositionClosed, poolAddr, borrower, nil)
		return nil
	}
	if err := e.persist(poolAddr, borrower, position, bucket, bitmap); err != nil {
		return err
	}
	e.emit(EventTypePrincipalPaid, poolAddr, borrower, map[string]string{
		"interest":  interestPart.String(),
		"principal": principalPart.String(),
	})
	return nil
}

// RepayInFull settles the whole outstanding principal and interest, zeroes
// the position, and releases the borrowing mutex.
func (e *Engine) RepayInFull(poolAddr, borrower crypto.Address) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	owed, err := e.Interest(poolAddr, borrower)
	if err != nil {
		return nil, err
	}
	position, err := e.position(poolAddr, borrower)
	if err != nil {
		return nil, err
	}
	total := new(big.Int).Add(position.Principal, owed)
	if total.Sign() == 0 {
		return nil, errNothingBorrowed
	}
	if err := e.Repay(poolAddr, borrower, total); err != nil {
		return nil, err
	}
	return total, nil
}

// UpdateCreditScore re-reads the borrower's score from the oracle and moves
// the position to the matching bucket, settling accrued interest first.
func (e *Engine) UpdateCreditScore(poolAddr, borrower crypto.Address) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	p, ok := e.pools[string(poolAddr.Bytes())]
	if !ok {
		return errPoolNotAllowed
	}
	score, err := e.freshScore(borrower)
	if err != nil {
		return err
	}
	position, err := e.position(poolAddr, borrower)
	if err != nil {
		return err
	}
	if position.Principal.Sign() == 0 {
		return errNothingBorrowed
	}
	if score == position.Score {
		return nil
	}
	bitmap, err := e.bitmap(poolAddr)
	if err != nil {
		return err
	}
	bucket, err := e.touchBucket(p, bitmap, position, score, e.nowFn())
	if err != nil {
		return err
	}
	if err := e.persist(poolAddr, borrower, position, bucket, bitmap); err != nil {
		return err
	}
	e.emit(EventTypeRebucketed, poolAddr, borrower, map[string]string{"bucket": scoreString(score)})
	return nil
}

// Poke brings every occupied bucket's accumulator current against the rate
// model. Permissionless; needed after global rate inputs move so stale
// buckets don't undercharge.
func (e *Engine) Poke(poolAddr crypto.Address) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	p, ok := e.pools[string(poolAddr.Bytes())]
	if !ok {
		return errPoolNotAllowed
	}
	bitmap, err := e.bitmap(poolAddr)
	if err != nil {
		return err
	}
	now := e.nowFn()
	for _, score := range bitmap.scores() {
		bucket, err := e.bucket(poolAddr, score)
		if err != nil {
			return err
		}
		rate, err := e.rates.Rate(p, score, nil)
		if err != nil {
			return err
		}
		accrueBucket(bucket, rate, now)
		if err := e.state.PutCreditBucket(poolAddr, score, bucket); err != nil {
			return err
		}
	}
	return nil
}

// Bucket returns the bucket record for inspection.
func (e *Engine) Bucket(poolAddr crypto.Address, score uint8) (*Bucket, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.bucket(poolAddr, score)
}

// Position returns the borrower's position record for inspection.
func (e *Engine) Position(poolAddr, borrower crypto.Address) (*Position, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.position(poolAddr, borrower)
}

// PoolInterestPaid returns the pool's lifetime collected interest.
func (e *Engine) PoolInterestPaid(poolAddr crypto.Address) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	total, err := e.state.PoolInterestPaid(poolAddr)
	if err != nil {
		return nil, err
	}
	if total == nil {
		total = big.NewInt(0)
	}
	return total, nil
}

// freshScore validates eligibility and staleness before returning the
// oracle's current score.
func (e *Engine) freshScore(borrower crypto.Address) (uint8, error) {
	if e.oracle.Status(borrower) != oracle.StatusEligible {
		return 0, errIneligible
	}
	updated := e.oracle.LastUpdated(borrower)
	if updated.IsZero() || e.nowFn()-updated.Unix() > e.creditUpdatePeriod {
		return 0, errStaleScore
	}
	score := e.oracle.Score(borrower)
	if score == 0 {
		return 0, errZeroScore
	}
	return score, nil
}

// joinBucket enters a position into the bucket for its score on first draw.
func (e *Engine) joinBucket(p pool.Pool, bitmap *usedBuckets, position *Position, score uint8, now int64) (*Bucket, error) {
	bucket, err := e.bucket(p.Address(), score)
	if err != nil {
		return nil, err
	}
	rate, err := e.rates.Rate(p, score, nil)
	if err != nil {
		return nil, err
	}
	accrueBucket(bucket, rate, now)
	bucket.BorrowersCount++
	bitmap.set(score)
	position.Score = score
	position.PerShareSnapshot = new(big.Int).Set(bucket.CumulativeInterestPerShare)
	return bucket, nil
}

// touchBucket accrues the position's current bucket and settles the
// position's share of interest. When the score moved, the position is
// carried over to the new bucket.
func (e *Engine) touchBucket(p pool.Pool, bitmap *usedBuckets, position *Position, score uint8, now int64) (*Bucket, error) {
	current, err := e.bucket(p.Address(), position.Score)
	if err != nil {
		return nil, err
	}
	rate, err := e.rates.Rate(p, position.Score, nil)
	if err != nil {
		return nil, err
	}
	accrueBucket(current, rate, now)
	settle(position, current)

	if score == position.Score {
		return current, nil
	}

	// Rebucket: pull the position out of the old bucket, then enter the new
	// one at its current accumulator.
	current.TotalBorrowed = new(big.Int).Sub(current.TotalBorrowed, position.Principal)
	if current.BorrowersCount > 0 {
		current.BorrowersCount--
	}
	if current.BorrowersCount == 0 {
		bitmap.clear(position.Score)
	}
	if err := e.state.PutCreditBucket(p.Address(), position.Score, current); err != nil {
		return nil, err
	}

	next, err := e.bucket(p.Address(), score)
	if err != nil {
		return nil, err
	}
	nextRate, err := e.rates.Rate(p, score, nil)
	if err != nil {
		return nil, err
	}
	accrueBucket(next, nextRate, now)
	next.BorrowersCount++
	next.TotalBorrowed = new(big.Int).Add(next.TotalBorrowed, position.Principal)
	bitmap.set(score)
	position.Score = score
	position.PerShareSnapshot = new(big.Int).Set(next.CumulativeInterestPerShare)
	return next, nil
}

// closePosition zeroes a fully repaid position and leaves its bucket.
// Lifetime interest counters are preserved.
func (e *Engine) closePosition(position *Position, bucket *Bucket, bitmap *usedBuckets) {
	if bucket.BorrowersCount > 0 {
		bucket.BorrowersCount--
	}
	if bucket.BorrowersCount == 0 {
		bitmap.clear(position.Score)
	}
	position.Principal = big.NewInt(0)
	position.AccruedInterest = big.NewInt(0)
	position.PerShareSnapshot = big.NewInt(0)
	position.NextInterestRepayTime = 0
}

func (e *Engine) persist(poolAddr, borrower crypto.Address, position *Position, bucket *Bucket, bitmap *usedBuckets) error {
	if err := e.state.PutCreditBucket(poolAddr, position.Score, bucket); err != nil {
		return err
	}
	if err := e.state.PutCreditPosition(poolAddr, borrower, position); err != nil {
		return err
	}
	return e.state.PutUsedBuckets(poolAddr, bitmap.Bytes())
}

func (e *Engine) recordPoolInterest(poolAddr crypto.Address, amount *big.Int) error {
	if amount.Sign() == 0 {
		return nil
	}
	total, err := e.state.PoolInterestPaid(poolAddr)
	if err != nil {
		return err
	}
	if total == nil {
		total = big.NewInt(0)
	}
	return e.state.PutPoolInterestPaid(poolAddr, new(big.Int).Add(total, amount))
}

func (e *Engine) bucket(poolAddr crypto.Address, score uint8) (*Bucket, error) {
	bucket, err := e.state.CreditBucket(poolAddr, score)
	if err != nil {
		return nil, err
	}
	if bucket == nil {
		return newBucket(e.nowFn()), nil
	}
	bucket.normalize()
	return bucket, nil
}

func (e *Engine) position(poolAddr, borrower crypto.Address) (*Position, error) {
	position, err := e.state.CreditPosition(poolAddr, borrower)
	if err != nil {
		return nil, err
	}
	if position == nil {
		return newPosition(), nil
	}
	position.normalize()
	return position, nil
}

func (e *Engine) bitmap(poolAddr crypto.Address) (*usedBuckets, error) {
	raw, err := e.state.UsedBuckets(poolAddr)
	if err != nil {
		return nil, err
	}
	return usedBucketsFromBytes(raw), nil
}

// accrueBucket advances the bucket accumulator to now at the given rate:
// rate * elapsed / YEAR, scaled to 10^27 per borrowed unit.
func accrueBucket(bucket *Bucket, rate uint64, now int64) {
	elapsed := now - bucket.UpdatedAt
	if elapsed > 0 && bucket.TotalBorrowed.Sign() > 0 {
		delta := new(big.Int).Mul(new(big.Int).SetUint64(bucket.Rate), big.NewInt(elapsed))
		delta.Mul(delta, interestPrecision)
		delta.Quo(delta, big.NewInt(secondsPerYear*basisPoints))
		bucket.CumulativeInterestPerShare = new(big.Int).Add(bucket.CumulativeInterestPerShare, delta)
	}
	bucket.Rate = rate
	bucket.UpdatedAt = now
}

// projectedCumulative is accrueBucket without mutation, for read-only views.
func projectedCumulative(bucket *Bucket, now int64) *big.Int {
	elapsed := now - bucket.UpdatedAt
	cumulative := new(big.Int).Set(bucket.CumulativeInterestPerShare)
	if elapsed > 0 && bucket.TotalBorrowed.Sign() > 0 {
		delta := new(big.Int).Mul(new(big.Int).SetUint64(bucket.Rate), big.NewInt(elapsed))
		delta.Mul(delta, interestPrecision)
		delta.Quo(delta, big.NewInt(secondsPerYear*basisPoints))
		cumulative.Add(cumulative, delta)
	}
	return cumulative
}

// settle folds the accumulator delta since the last snapshot into the
// position's accrued interest.
func settle(position *Position, bucket *Bucket) {
	if position.Principal.Sign() == 0 {
		position.PerShareSnapshot = new(big.Int).Set(bucket.CumulativeInterestPerShare)
		return
	}
	delta := new(big.Int).Sub(bucket.CumulativeInterestPerShare, position.PerShareSnapshot)
	delta.Mul(delta, position.Principal)
	delta.Quo(delta, interestPrecision)
	position.AccruedInterest = new(big.Int).Add(position.AccruedInterest, delta)
	position.PerShareSnapshot = new(big.Int).Set(bucket.CumulativeInterestPerShare)
}

func scoreString(score uint8) string {
	return strconv.Itoa(int(score))
}

type creditEvent struct {
	evt *types.Event
}

func (c creditEvent) EventType() string {
	if c.evt == nil {
		return ""
	}
	return c.evt.Type
}

func (c creditEvent) Event() *types.Event { return c.evt }

func (e *Engine) emit(eventType string, poolAddr, borrower crypto.Address, extra map[string]string) {
	if e == nil || e.emitter == nil {
		return
	}
	attrs := map[string]string{
		"pool":     poolAddr.String(),
		"borrower": borrower.String(),
	}
	for k, v := range extra {
		attrs[k] = v
	}
	e.emitter.Emit(creditEvent{evt: &types.Event{Type: eventType, Attributes: attrs}})
}

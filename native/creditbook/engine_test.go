package creditbook

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/trusttoken/contracts-pre22-sub001/core/token"
	"github.com/trusttoken/contracts-pre22-sub001/crypto"
	"github.com/trusttoken/contracts-pre22-sub001/native/mutex"
	"github.com/trusttoken/contracts-pre22-sub001/native/oracle"
	"github.com/trusttoken/contracts-pre22-sub001/native/pool"
)

type memoryState struct {
	buckets   map[string]*Bucket
	positions map[string]*Position
	bitmaps   map[string][]byte
	interest  map[string]*big.Int
}

func newMemoryState() *memoryState {
	return &memoryState{
		buckets:   make(map[string]*Bucket),
		positions: make(map[string]*Position),
		bitmaps:   make(map[string][]byte),
		interest:  make(map[string]*big.Int),
	}
}

func bucketKey(poolAddr crypto.Address, score uint8) string {
	return string(poolAddr.Bytes()) + string([]byte{score})
}

func positionKey(poolAddr, borrower crypto.Address) string {
	return string(poolAddr.Bytes()) + string(borrower.Bytes())
}

func (m *memoryState) CreditBucket(poolAddr crypto.Address, score uint8) (*Bucket, error) {
	return m.buckets[bucketKey(poolAddr, score)], nil
}

func (m *memoryState) PutCreditBucket(poolAddr crypto.Address, score uint8, bucket *Bucket) error {
	m.buckets[bucketKey(poolAddr, score)] = bucket
	return nil
}

func (m *memoryState) CreditPosition(poolAddr, borrower crypto.Address) (*Position, error) {
	return m.positions[positionKey(poolAddr, borrower)], nil
}

func (m *memoryState) PutCreditPosition(poolAddr, borrower crypto.Address, position *Position) error {
	m.positions[positionKey(poolAddr, borrower)] = position
	return nil
}

func (m *memoryState) UsedBuckets(poolAddr crypto.Address) ([]byte, error) {
	return m.bitmaps[string(poolAddr.Bytes())], nil
}

func (m *memoryState) PutUsedBuckets(poolAddr crypto.Address, bitmap []byte) error {
	m.bitmaps[string(poolAddr.Bytes())] = bitmap
	return nil
}

func (m *memoryState) PoolInterestPaid(poolAddr crypto.Address) (*big.Int, error) {
	return m.interest[string(poolAddr.Bytes())], nil
}

func (m *memoryState) PutPoolInterestPaid(poolAddr crypto.Address, total *big.Int) error {
	m.interest[string(poolAddr.Bytes())] = total
	return nil
}

type mutexMemoryState struct {
	slots map[string]*mutex.Slot
}

func (m *mutexMemoryState) MutexSlot(borrower crypto.Address) (*mutex.Slot, error) {
	return m.slots[string(borrower.Bytes())], nil
}

func (m *mutexMemoryState) PutMutexSlot(borrower crypto.Address, slot *mutex.Slot) error {
	m.slots[string(borrower.Bytes())] = slot
	return nil
}

func (m *mutexMemoryState) DeleteMutexSlot(borrower crypto.Address) error {
	delete(m.slots, string(borrower.Bytes()))
	return nil
}

// flatRates serves one fixed APY regardless of score and a generous limit.
type flatRates struct {
	rate  uint64
	limit *big.Int
}

func (f *flatRates) Rate(pool.Pool, uint8, *big.Int) (uint64, error) { return f.rate, nil }

func (f *flatRates) BorrowLimit(pool.Pool, crypto.Address) *big.Int {
	return new(big.Int).Set(f.limit)
}

func addr(tag byte) crypto.Address {
	var b [20]byte
	b[19] = tag
	return crypto.NewAddress(crypto.TruPrefix, b[:])
}

func poolAddr(tag byte) crypto.Address {
	var b [20]byte
	b[19] = tag
	return crypto.NewAddress(crypto.PoolPrefix, b[:])
}

type fixture struct {
	engine   *Engine
	state    *memoryState
	mutex    *mutex.Engine
	oracle   *oracle.SimpleCreditOracle
	rates    *flatRates
	pool     *pool.SimplePool
	currency *token.Ledger
	now      int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		state:    newMemoryState(),
		oracle:   oracle.NewSimpleCreditOracle(),
		rates:    &flatRates{rate: 1000, limit: new(big.Int).Mul(big.NewInt(1_000_000), big.NewInt(1e18))},
		currency: token.NewLedger("USDC", 18),
		now:      1_700_000_000,
	}
	f.oracle.SetNowFunc(func() time.Time { return time.Unix(f.now, 0).UTC() })
	f.pool = pool.NewSimplePool(poolAddr(0x10), f.currency)
	if err := f.currency.Mint(f.pool.Address(), big.NewInt(1_000_000)); err != nil {
		t.Fatalf("mint pool: %v", err)
	}

	f.mutex = mutex.NewEngine()
	f.mutex.SetState(&mutexMemoryState{slots: make(map[string]*mutex.Slot)})

	f.engine = NewEngine(addr(0xc0))
	f.engine.SetState(f.state)
	f.engine.SetNowFunc(func() int64 { return f.now })
	f.engine.SetRateModel(f.rates)
	f.engine.SetCreditOracle(f.oracle)
	f.engine.SetMutex(f.mutex)
	f.engine.AllowPool(f.pool)
	f.mutex.AllowLocker(f.engine.Address())
	return f
}

func (f *fixture) admit(t *testing.T, borrower crypto.Address, score uint8) {
	t.Helper()
	f.engine.AllowBorrower(borrower)
	if err := f.oracle.SetScore(borrower, score, f.rates.limit, oracle.StatusEligible); err != nil {
		t.Fatalf("set score: %v", err)
	}
}

// sumOfPositions checks the bucket bookkeeping invariant against the given
// members.
func (f *fixture) assertBucketTotals(t *testing.T, score uint8, members ...crypto.Address) {
	t.Helper()
	bucket, err := f.engine.Bucket(f.pool.Address(), score)
	if err != nil {
		t.Fatalf("bucket: %v", err)
	}
	sum := big.NewInt(0)
	for _, member := range members {
		borrowed, err := f.engine.Borrowed(f.pool.Address(), member)
		if err != nil {
			t.Fatalf("borrowed: %v", err)
		}
		sum.Add(sum, borrowed)
	}
	if bucket.TotalBorrowed.Cmp(sum) != 0 {
		t.Fatalf("bucket total = %s, member sum = %s", bucket.TotalBorrowed, sum)
	}
	if int(bucket.BorrowersCount) != len(members) {
		t.Fatalf("borrowers count = %d, want %d", bucket.BorrowersCount, len(members))
	}
}

func TestBorrowChecksPreconditions(t *testing.T) {
	f := newFixture(t)
	borrower := addr(0x01)

	if err := f.engine.Borrow(f.pool.Address(), borrower, big.NewInt(100)); !errors.Is(err, errNotAllowed) {
		t.Fatalf("unknown borrower: err = %v", err)
	}
	f.engine.AllowBorrower(borrower)
	if err := f.engine.Borrow(f.pool.Address(), borrower, big.NewInt(100)); !errors.Is(err, errIneligible) {
		t.Fatalf("no oracle record: err = %v", err)
	}
	f.admit(t, borrower, 200)

	if err := f.engine.Borrow(poolAddr(0x99), borrower, big.NewInt(100)); !errors.Is(err, errPoolNotAllowed) {
		t.Fatalf("unknown pool: err = %v", err)
	}
	if err := f.engine.Borrow(f.pool.Address(), borrower, big.NewInt(0)); !errors.Is(err, errInvalidAmount) {
		t.Fatalf("zero amount: err = %v", err)
	}

	// A stale score blocks new draws until the oracle refreshes it.
	f.now += 60 * 24 * 3600
	if err := f.engine.Borrow(f.pool.Address(), borrower, big.NewInt(100)); !errors.Is(err, errStaleScore) {
		t.Fatalf("stale score: err = %v", err)
	}
}

func TestBorrowEnforcesLimit(t *testing.T) {
	f := newFixture(t)
	borrower := addr(0x01)
	f.admit(t, borrower, 200)
	f.rates.limit = big.NewInt(500)

	if err := f.engine.Borrow(f.pool.Address(), borrower, big.NewInt(600)); !errors.Is(err, errLimitExceeded) {
		t.Fatalf("over limit: err = %v", err)
	}
	if err := f.engine.Borrow(f.pool.Address(), borrower, big.NewInt(400)); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	// The limit applies to principal plus the new draw.
	if err := f.engine.Borrow(f.pool.Address(), borrower, big.NewInt(200)); !errors.Is(err, errLimitExceeded) {
		t.Fatalf("top-up over limit: err = %v", err)
	}
}

func TestInterestAccruesOverTime(t *testing.T) {
	f := newFixture(t)
	borrower := addr(0x01)
	f.admit(t, borrower, 200)

	if err := f.engine.Borrow(f.pool.Address(), borrower, big.NewInt(10_000)); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	owed, err := f.engine.Interest(f.pool.Address(), borrower)
	if err != nil {
		t.Fatalf("interest: %v", err)
	}
	if owed.Sign() != 0 {
		t.Fatalf("interest at t0 = %s, want 0", owed)
	}

	// 10% APY on 10000 for a full year.
	f.now += secondsPerYear
	owed, err = f.engine.Interest(f.pool.Address(), borrower)
	if err != nil {
		t.Fatalf("interest: %v", err)
	}
	if owed.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("interest after a year = %s, want 1000", owed)
	}
}

func TestPayInterestResetsClock(t *testing.T) {
	f := newFixture(t)
	borrower := addr(0x01)
	f.admit(t, borrower, 200)
	if err := f.engine.Borrow(f.pool.Address(), borrower, big.NewInt(10_000)); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	f.now += 15 * 24 * 3600
	f.admit(t, borrower, 200) // refresh oracle timestamp
	paid, err := f.engine.PayInterest(f.pool.Address(), borrower)
	if err != nil {
		t.Fatalf("pay interest: %v", err)
	}
	if paid.Sign() <= 0 {
		t.Fatalf("paid = %s, want > 0", paid)
	}
	position, _ := f.engine.Position(f.pool.Address(), borrower)
	if position.NextInterestRepayTime != f.now+31*24*3600 {
		t.Fatalf("next repay time = %d", position.NextInterestRepayTime)
	}
	if position.TotalInterestPaid.Cmp(paid) != 0 {
		t.Fatalf("total interest paid = %s, want %s", position.TotalInterestPaid, paid)
	}
	total, _ := f.engine.PoolInterestPaid(f.pool.Address())
	if total.Cmp(paid) != 0 {
		t.Fatalf("pool interest = %s, want %s", total, paid)
	}
}

func TestOverdueInterestBlocksBorrow(t *testing.T) {
	f := newFixture(t)
	borrower := addr(0x01)
	f.admit(t, borrower, 200)
	if err := f.engine.Borrow(f.pool.Address(), borrower, big.NewInt(1000)); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	f.now += 40 * 24 * 3600
	f.admit(t, borrower, 200)
	if err := f.engine.Borrow(f.pool.Address(), borrower, big.NewInt(1000)); !errors.Is(err, errOverdueInterest) {
		t.Fatalf("overdue borrow: err = %v", err)
	}
}

func TestRepayInterestFirst(t *testing.T) {
	f := newFixture(t)
	borrower := addr(0x01)
	f.admit(t, borrower, 200)
	if err := f.engine.Borrow(f.pool.Address(), borrower, big.NewInt(10_000)); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	f.now += secondsPerYear // owes 1000 interest
	deadline := func() int64 {
		position, _ := f.engine.Position(f.pool.Address(), borrower)
		return position.NextInterestRepayTime
	}
	before := deadline()

	// A partial interest payment does not move the deadline.
	if err := f.engine.Repay(f.pool.Address(), borrower, big.NewInt(400)); err != nil {
		t.Fatalf("repay: %v", err)
	}
	position, _ := f.engine.Position(f.pool.Address(), borrower)
	if position.Principal.Cmp(big.NewInt(10_000)) != 0 {
		t.Fatalf("principal = %s, want 10000 untouched", position.Principal)
	}
	if position.AccruedInterest.Cmp(big.NewInt(600)) != 0 {
		t.Fatalf("accrued = %s, want 600", position.AccruedInterest)
	}
	if deadline() != before {
		t.Fatal("partial interest repayment must not reset the deadline")
	}

	// Covering the rest of the interest plus some principal resets it.
	if err := f.engine.Repay(f.pool.Address(), borrower, big.NewInt(2600)); err != nil {
		t.Fatalf("repay: %v", err)
	}
	position, _ = f.engine.Position(f.pool.Address(), borrower)
	if position.Principal.Cmp(big.NewInt(8000)) != 0 {
		t.Fatalf("principal = %s, want 8000", position.Principal)
	}
	if position.AccruedInterest.Sign() != 0 {
		t.Fatalf("accrued = %s, want 0", position.AccruedInterest)
	}
	if deadline() != f.now+31*24*3600 {
		t.Fatal("full interest repayment must reset the deadline")
	}
	f.assertBucketTotals(t, 200, borrower)
}

func TestRepayInFullRoundTrip(t *testing.T) {
	f := newFixture(t)
	borrower := addr(0x02)
	f.admit(t, borrower, 180)

	if err := f.engine.Borrow(f.pool.Address(), borrower, big.NewInt(5000)); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	// No time passes, so the full repayment is exactly the draw.
	total, err := f.engine.RepayInFull(f.pool.Address(), borrower)
	if err != nil {
		t.Fatalf("repay in full: %v", err)
	}
	if total.Cmp(big.NewInt(5000)) != 0 {
		t.Fatalf("repaid = %s, want 5000", total)
	}
	borrowed, _ := f.engine.Borrowed(f.pool.Address(), borrower)
	if borrowed.Sign() != 0 {
		t.Fatalf("borrowed = %s, want 0", borrowed)
	}
	if locked, _ := f.mutex.IsLocked(borrower); locked {
		t.Fatal("mutex should be released after full repayment")
	}
	bucket, _ := f.engine.Bucket(f.pool.Address(), 180)
	if bucket.BorrowersCount != 0 || bucket.TotalBorrowed.Sign() != 0 {
		t.Fatalf("bucket not emptied: count=%d total=%s", bucket.BorrowersCount, bucket.TotalBorrowed)
	}
}

func TestBucketSharedBetweenBorrowers(t *testing.T) {
	f := newFixture(t)
	a, b := addr(0x01), addr(0x02)
	f.admit(t, a, 200)
	f.admit(t, b, 200)

	if err := f.engine.Borrow(f.pool.Address(), a, big.NewInt(10_000)); err != nil {
		t.Fatalf("borrow a: %v", err)
	}
	if err := f.engine.Borrow(f.pool.Address(), b, big.NewInt(30_000)); err != nil {
		t.Fatalf("borrow b: %v", err)
	}
	f.assertBucketTotals(t, 200, a, b)

	f.now += secondsPerYear / 2
	f.admit(t, b, 200)
	// Cover B's accrued interest on top of the drawn principal.
	if err := f.currency.Mint(b, big.NewInt(2000)); err != nil {
		t.Fatalf("mint: %v", err)
	}

	owedBefore, _ := f.engine.Interest(f.pool.Address(), a)
	if _, err := f.engine.RepayInFull(f.pool.Address(), b); err != nil {
		t.Fatalf("repay b: %v", err)
	}
	owedAfter, _ := f.engine.Interest(f.pool.Address(), a)

	// B's exit removes exactly B's principal and one member, and does not
	// disturb A's accrued interest.
	f.assertBucketTotals(t, 200, a)
	if owedBefore.Cmp(owedAfter) != 0 {
		t.Fatalf("a's interest changed: %s -> %s", owedBefore, owedAfter)
	}
	if owedAfter.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("a's interest = %s, want 500", owedAfter)
	}
}

func TestMutexBlocksSecondPool(t *testing.T) {
	f := newFixture(t)
	borrower := addr(0x01)
	f.admit(t, borrower, 200)

	second := pool.NewSimplePool(poolAddr(0x20), f.currency)
	if err := f.currency.Mint(second.Address(), big.NewInt(100_000)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	f.engine.AllowPool(second)

	if err := f.engine.Borrow(f.pool.Address(), borrower, big.NewInt(1000)); err != nil {
		t.Fatalf("borrow pool A: %v", err)
	}
	if err := f.engine.Borrow(second.Address(), borrower, big.NewInt(1000)); !errors.Is(err, errAlreadyLocked) {
		t.Fatalf("borrow pool B while locked: err = %v", err)
	}
	// Top-ups in the locked pool stay allowed.
	if err := f.engine.Borrow(f.pool.Address(), borrower, big.NewInt(1000)); err != nil {
		t.Fatalf("top-up pool A: %v", err)
	}
}

func TestUpdateCreditScoreRebuckets(t *testing.T) {
	f := newFixture(t)
	borrower := addr(0x01)
	f.admit(t, borrower, 200)
	if err := f.engine.Borrow(f.pool.Address(), borrower, big.NewInt(10_000)); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	f.now += secondsPerYear / 2
	f.admit(t, borrower, 150)
	if err := f.engine.UpdateCreditScore(f.pool.Address(), borrower); err != nil {
		t.Fatalf("update score: %v", err)
	}

	old, _ := f.engine.Bucket(f.pool.Address(), 200)
	if old.BorrowersCount != 0 || old.TotalBorrowed.Sign() != 0 {
		t.Fatalf("old bucket not vacated: count=%d total=%s", old.BorrowersCount, old.TotalBorrowed)
	}
	f.assertBucketTotals(t, 150, borrower)

	// Interest accrued in the old bucket is carried, not lost.
	owed, _ := f.engine.Interest(f.pool.Address(), borrower)
	if owed.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("carried interest = %s, want 500", owed)
	}
}

func TestPokeAdvancesOccupiedBuckets(t *testing.T) {
	f := newFixture(t)
	a, b := addr(0x01), addr(0x02)
	f.admit(t, a, 200)
	f.admit(t, b, 100)
	if err := f.engine.Borrow(f.pool.Address(), a, big.NewInt(1000)); err != nil {
		t.Fatalf("borrow a: %v", err)
	}
	if err := f.engine.Borrow(f.pool.Address(), b, big.NewInt(1000)); err != nil {
		t.Fatalf("borrow b: %v", err)
	}

	f.now += secondsPerYear
	if err := f.engine.Poke(f.pool.Address()); err != nil {
		t.Fatalf("poke: %v", err)
	}
	for _, score := range []uint8{100, 200} {
		bucket, _ := f.engine.Bucket(f.pool.Address(), score)
		if bucket.UpdatedAt != f.now {
			t.Fatalf("bucket %d not poked", score)
		}
		if bucket.CumulativeInterestPerShare.Sign() <= 0 {
			t.Fatalf("bucket %d accumulator did not advance", score)
		}
	}
}

func TestUsedBucketsBitmap(t *testing.T) {
	u := &usedBuckets{}
	for _, score := range []uint8{0, 7, 100, 255} {
		u.set(score)
	}
	u.clear(7)
	if u.has(7) {
		t.Fatal("bit 7 should be clear")
	}
	got := u.scores()
	want := []uint8{0, 100, 255}
	if len(got) != len(want) {
		t.Fatalf("scores = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("scores = %v, want %v", got, want)
		}
	}

	round := usedBucketsFromBytes(u.Bytes())
	if round.bits.Cmp(&u.bits) != 0 {
		t.Fatal("bitmap did not survive serialization")
	}
}

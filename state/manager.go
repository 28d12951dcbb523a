package state

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"math/big"
	"sync"

	"github.com/trusttoken/contracts-pre22-sub001/crypto"
	"github.com/trusttoken/contracts-pre22-sub001/native/creditbook"
	"github.com/trusttoken/contracts-pre22-sub001/native/loans"
	"github.com/trusttoken/contracts-pre22-sub001/native/mutex"
	"github.com/trusttoken/contracts-pre22-sub001/native/rating"
	"github.com/trusttoken/contracts-pre22-sub001/storage"
)

// Key prefixes. Every record is JSON under a readable prefix so the ledger
// can be inspected with standard LevelDB tooling.
const (
	prefixLoan           = "loan/"
	keyLoanNonce         = "loan-nonce"
	prefixMutex          = "mutex/"
	prefixRating         = "rating/"
	prefixFunded         = "lender/funded/"
	prefixCreditBucket   = "credit/bucket/"
	prefixCreditPosition = "credit/position/"
	prefixCreditBitmap   = "credit/bitmap/"
	prefixCreditInterest = "credit/interest/"
)

// Manager persists every engine's state behind one storage.Database. It
// satisfies the narrow state interfaces of the loans, mutex, rating, lender,
// and credit book engines.
type Manager struct {
	mu sync.Mutex
	db storage.Database
}

func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

func (m *Manager) getJSON(key string, out interface{}) (bool, error) {
	raw, err := m.db.Get([]byte(key))
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, err
	}
	return true, nil
}

func (m *Manager) putJSON(key string, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return m.db.Put([]byte(key), raw)
}

// --- loans ---

func loanKey(id [32]byte) string {
	return prefixLoan + hex.EncodeToString(id[:])
}

func (m *Manager) Loan(id [32]byte) (*loans.Loan, error) {
	var loan loans.Loan
	ok, err := m.getJSON(loanKey(id), &loan)
	if err != nil || !ok {
		return nil, err
	}
	return &loan, nil
}

func (m *Manager) PutLoan(loan *loans.Loan) error {
	return m.putJSON(loanKey(loan.ID), loan)
}

// NextLoanNonce increments and returns the loan-id nonce.
func (m *Manager) NextLoanNonce() (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var nonce uint64
	raw, err := m.db.Get([]byte(keyLoanNonce))
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		return 0, err
	case len(raw) == 8:
		nonce = binary.BigEndian.Uint64(raw)
	}
	nonce++
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, nonce)
	if err := m.db.Put([]byte(keyLoanNonce), buf); err != nil {
		return 0, err
	}
	return nonce, nil
}

// Loans walks every stored loan. Used by the gateway's listing endpoints.
func (m *Manager) Loans() ([]*loans.Loan, error) {
	var out []*loans.Loan
	err := m.db.IteratePrefix([]byte(prefixLoan), func(_, value []byte) bool {
		var loan loans.Loan
		if json.Unmarshal(value, &loan) == nil {
			out = append(out, &loan)
		}
		return true
	})
	return out, err
}

// --- borrowing mutex ---

func mutexKey(borrower crypto.Address) string {
	return prefixMutex + hex.EncodeToString(borrower.Bytes())
}

func (m *Manager) MutexSlot(borrower crypto.Address) (*mutex.Slot, error) {
	var slot mutex.Slot
	ok, err := m.getJSON(mutexKey(borrower), &slot)
	if err != nil || !ok {
		return nil, err
	}
	return &slot, nil
}

func (m *Manager) PutMutexSlot(borrower crypto.Address, slot *mutex.Slot) error {
	return m.putJSON(mutexKey(borrower), slot)
}

func (m *Manager) DeleteMutexSlot(borrower crypto.Address) error {
	return m.db.Delete([]byte(mutexKey(borrower)))
}

// --- rating agency ---

func ratingKey(id [32]byte) string {
	return prefixRating + hex.EncodeToString(id[:])
}

func (m *Manager) Rating(id [32]byte) (*rating.Rating, error) {
	var record rating.Rating
	ok, err := m.getJSON(ratingKey(id), &record)
	if err != nil || !ok {
		return nil, err
	}
	return &record, nil
}

func (m *Manager) PutRating(record *rating.Rating) error {
	return m.putJSON(ratingKey(record.LoanID), record)
}

// --- lender ---

func fundedKey(poolAddr crypto.Address) string {
	return prefixFunded + hex.EncodeToString(poolAddr.Bytes())
}

type fundedList struct {
	IDs []string `json:"ids"`
}

func (m *Manager) FundedLoans(poolAddr crypto.Address) ([][32]byte, error) {
	var list fundedList
	ok, err := m.getJSON(fundedKey(poolAddr), &list)
	if err != nil || !ok {
		return nil, err
	}
	out := make([][32]byte, 0, len(list.IDs))
	for _, encoded := range list.IDs {
		raw, err := hex.DecodeString(encoded)
		if err != nil || len(raw) != 32 {
			continue
		}
		var id [32]byte
		copy(id[:], raw)
		out = append(out, id)
	}
	return out, nil
}

func (m *Manager) SetFundedLoans(poolAddr crypto.Address, ids [][32]byte) error {
	list := fundedList{IDs: make([]string, 0, len(ids))}
	for _, id := range ids {
		list.IDs = append(list.IDs, hex.EncodeToString(id[:]))
	}
	return m.putJSON(fundedKey(poolAddr), list)
}

// --- credit book ---

func bucketKey(poolAddr crypto.Address, score uint8) string {
	return prefixCreditBucket + hex.EncodeToString(poolAddr.Bytes()) + "/" + hex.EncodeToString([]byte{score})
}

func positionKey(poolAddr, borrower crypto.Address) string {
	return prefixCreditPosition + hex.EncodeToString(poolAddr.Bytes()) + "/" + hex.EncodeToString(borrower.Bytes())
}

func (m *Manager) CreditBucket(poolAddr crypto.Address, score uint8) (*creditbook.Bucket, error) {
	var bucket creditbook.Bucket
	ok, err := m.getJSON(bucketKey(poolAddr, score), &bucket)
	if err != nil || !ok {
		return nil, err
	}
	return &bucket, nil
}

func (m *Manager) PutCreditBucket(poolAddr crypto.Address, score uint8, bucket *creditbook.Bucket) error {
	return m.putJSON(bucketKey(poolAddr, score), bucket)
}

func (m *Manager) CreditPosition(poolAddr, borrower crypto.Address) (*creditbook.Position, error) {
	var position creditbook.Position
	ok, err := m.getJSON(positionKey(poolAddr, borrower), &position)
	if err != nil || !ok {
		return nil, err
	}
	return &position, nil
}

func (m *Manager) PutCreditPosition(poolAddr, borrower crypto.Address, position *creditbook.Position) error {
	return m.putJSON(positionKey(poolAddr, borrower), position)
}

func (m *Manager) UsedBuckets(poolAddr crypto.Address) ([]byte, error) {
	raw, err := m.db.Get([]byte(prefixCreditBitmap + hex.EncodeToString(poolAddr.Bytes())))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return raw, err
}

func (m *Manager) PutUsedBuckets(poolAddr crypto.Address, bitmap []byte) error {
	return m.db.Put([]byte(prefixCreditBitmap+hex.EncodeToString(poolAddr.Bytes())), bitmap)
}

func (m *Manager) PoolInterestPaid(poolAddr crypto.Address) (*big.Int, error) {
	raw, err := m.db.Get([]byte(prefixCreditInterest + hex.EncodeToString(poolAddr.Bytes())))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(raw), nil
}

func (m *Manager) PutPoolInterestPaid(poolAddr crypto.Address, total *big.Int) error {
	if total == nil {
		total = big.NewInt(0)
	}
	return m.db.Put([]byte(prefixCreditInterest+hex.EncodeToString(poolAddr.Bytes())), total.Bytes())
}

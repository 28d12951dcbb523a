package mutex

import (
	"errors"
	"testing"

	"github.com/trusttoken/contracts-pre22-sub001/crypto"
)

type memoryState struct {
	slots map[string]*Slot
}

func newMemoryState() *memoryState {
	return &memoryState{slots: make(map[string]*Slot)}
}

func (m *memoryState) MutexSlot(borrower crypto.Address) (*Slot, error) {
	return m.slots[string(borrower.Bytes())], nil
}

func (m *memoryState) PutMutexSlot(borrower crypto.Address, slot *Slot) error {
	m.slots[string(borrower.Bytes())] = slot
	return nil
}

func (m *memoryState) DeleteMutexSlot(borrower crypto.Address) error {
	delete(m.slots, string(borrower.Bytes()))
	return nil
}

func addr(tag byte) crypto.Address {
	var b [20]byte
	b[19] = tag
	return crypto.NewAddress(crypto.TruPrefix, b[:])
}

func newEngine(lockers ...crypto.Address) *Engine {
	engine := NewEngine()
	engine.SetState(newMemoryState())
	engine.SetNowFunc(func() int64 { return 1_700_000_000 })
	for _, locker := range lockers {
		engine.AllowLocker(locker)
	}
	return engine
}

func TestLockRejectsUnknownLocker(t *testing.T) {
	engine := newEngine()
	if err := engine.Lock(addr(0x01), addr(0xa0)); !errors.Is(err, errNotAllowed) {
		t.Fatalf("lock: err = %v", err)
	}
}

func TestLockIsExclusive(t *testing.T) {
	lenderA, lenderB := addr(0xa0), addr(0xb0)
	borrower := addr(0x01)
	engine := newEngine(lenderA, lenderB)

	if err := engine.Lock(borrower, lenderA); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if locked, _ := engine.IsLocked(borrower); !locked {
		t.Fatal("borrower should be locked")
	}
	if got, _ := engine.Locker(borrower); !got.Equal(lenderA) {
		t.Fatalf("locker = %s, want %s", got, lenderA)
	}

	// A second product may not take the slot, not even the same one twice.
	if err := engine.Lock(borrower, lenderB); !errors.Is(err, errAlreadyLocked) {
		t.Fatalf("relock by B: err = %v", err)
	}
	if err := engine.Lock(borrower, lenderA); !errors.Is(err, errAlreadyLocked) {
		t.Fatalf("relock by A: err = %v", err)
	}
}

func TestUnlockOnlyByCurrentLocker(t *testing.T) {
	lenderA, lenderB := addr(0xa0), addr(0xb0)
	borrower := addr(0x01)
	engine := newEngine(lenderA, lenderB)

	if err := engine.Unlock(borrower, lenderA); !errors.Is(err, errNotLocked) {
		t.Fatalf("unlock unlocked: err = %v", err)
	}
	if err := engine.Lock(borrower, lenderA); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if err := engine.Unlock(borrower, lenderB); !errors.Is(err, errNotCurrentOwner) {
		t.Fatalf("unlock by stranger: err = %v", err)
	}
	if err := engine.Unlock(borrower, lenderA); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if locked, _ := engine.IsLocked(borrower); locked {
		t.Fatal("borrower should be unlocked")
	}

	// The slot is reusable after release.
	if err := engine.Lock(borrower, lenderB); err != nil {
		t.Fatalf("relock after unlock: %v", err)
	}
}

func TestLockerReturnsZeroWhenUnlocked(t *testing.T) {
	engine := newEngine(addr(0xa0))
	got, err := engine.Locker(addr(0x01))
	if err != nil {
		t.Fatalf("locker: %v", err)
	}
	if !got.IsZero() {
		t.Fatalf("locker = %s, want zero address", got)
	}
}

package mutex

import (
	"errors"
	"time"

	"github.com/trusttoken/contracts-pre22-sub001/core/events"
	"github.com/trusttoken/contracts-pre22-sub001/core/types"
	"github.com/trusttoken/contracts-pre22-sub001/crypto"
	nativecommon "github.com/trusttoken/contracts-pre22-sub001/native/common"
)

const moduleName = "mutex"

const (
	EventTypeLocked   = "mutex.locked"
	EventTypeUnlocked = "mutex.unlocked"
)

var (
	errNilState        = errors.New("borrowing mutex: state not configured")
	errNotAllowed      = errors.New("borrowing mutex: caller is not an allowed locker")
	errAlreadyLocked   = errors.New("borrowing mutex: borrower is already locked")
	errNotLocked       = errors.New("borrowing mutex: borrower is not locked")
	errNotCurrentOwner = errors.New("borrowing mutex: caller does not hold the lock")
)

// Slot records who currently holds a borrower's exclusive debt position.
type Slot struct {
	Locker   crypto.Address `json:"locker"`
	LockedAt int64          `json:"lockedAt"`
}

type engineState interface {
	MutexSlot(borrower crypto.Address) (*Slot, error)
	PutMutexSlot(borrower crypto.Address, slot *Slot) error
	DeleteMutexSlot(borrower crypto.Address) error
}

// Engine enforces the system-wide single-debt-position invariant: at most one
// lending product may hold a borrower's slot at any time.
type Engine struct {
	state   engineState
	emitter events.Emitter
	allowed map[string]struct{}
	pauses  nativecommon.PauseView
	nowFn   func() int64
}

func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		allowed: make(map[string]struct{}),
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

// AllowLocker adds a lending product to the locker allow-list.
func (e *Engine) AllowLocker(locker crypto.Address) {
	e.allowed[string(locker.Bytes())] = struct{}{}
}

// DisallowLocker removes a lending product from the locker allow-list.
// Existing locks held by the locker stay valid until unlocked.
func (e *Engine) DisallowLocker(locker crypto.Address) {
	delete(e.allowed, string(locker.Bytes()))
}

// Lock claims the borrower's slot for the locker. Fails when any locker,
// including the caller, already holds it.
func (e *Engine) Lock(borrower, locker crypto.Address) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if _, ok := e.allowed[string(locker.Bytes())]; !ok {
		return errNotAllowed
	}
	slot, err := e.state.MutexSlot(borrower)
	if err != nil {
		return err
	}
	if slot != nil {
		return errAlreadyLocked
	}
	if err := e.state.PutMutexSlot(borrower, &Slot{Locker: locker, LockedAt: e.nowFn()}); err != nil {
		return err
	}
	e.emit(EventTypeLocked, borrower, locker)
	return nil
}

// Unlock releases the borrower's slot. Only the current locker may release.
func (e *Engine) Unlock(borrower, locker crypto.Address) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	slot, err := e.state.MutexSlot(borrower)
	if err != nil {
		return err
	}
	if slot == nil {
		return errNotLocked
	}
	if !slot.Locker.Equal(locker) {
		return errNotCurrentOwner
	}
	if err := e.state.DeleteMutexSlot(borrower); err != nil {
		return err
	}
	e.emit(EventTypeUnlocked, borrower, locker)
	return nil
}

// Locker returns the current lock holder, or the zero address sentinel when
// the borrower is unlocked.
func (e *Engine) Locker(borrower crypto.Address) (crypto.Address, error) {
	if e == nil || e.state == nil {
		return crypto.Address{}, errNilState
	}
	slot, err := e.state.MutexSlot(borrower)
	if err != nil {
		return crypto.Address{}, err
	}
	if slot == nil {
		return crypto.Address{}, nil
	}
	return slot.Locker, nil
}

// IsLocked reports whether any locker holds the borrower's slot.
func (e *Engine) IsLocked(borrower crypto.Address) (bool, error) {
	locker, err := e.Locker(borrower)
	if err != nil {
		return false, err
	}
	return !locker.IsZero(), nil
}

type mutexEvent struct {
	evt *types.Event
}

func (m mutexEvent) EventType() string {
	if m.evt == nil {
		return ""
	}
	return m.evt.Type
}

func (m mutexEvent) Event() *types.Event { return m.evt }

func (e *Engine) emit(eventType string, borrower, locker crypto.Address) {
	if e == nil || e.emitter == nil {
		return
	}
	e.emitter.Emit(mutexEvent{evt: &types.Event{
		Type: eventType,
		Attributes: map[string]string{
			"borrower": borrower.String(),
			"locker":   locker.String(),
		},
	}})
}

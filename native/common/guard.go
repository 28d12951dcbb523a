package common

import "errors"

var ErrModulePaused = errors.New("module paused")

// PauseView reports whether a named module has been halted by governance.
type PauseView interface {
	IsPaused(module string) bool
}

func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

// Pauses is a trivial PauseView backed by a set of halted module names.
type Pauses struct {
	halted map[string]struct{}
}

func NewPauses() *Pauses {
	return &Pauses{halted: make(map[string]struct{})}
}

func (p *Pauses) Pause(module string)  { p.halted[module] = struct{}{} }
func (p *Pauses) Resume(module string) { delete(p.halted, module) }

func (p *Pauses) IsPaused(module string) bool {
	_, ok := p.halted[module]
	return ok
}

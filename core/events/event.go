package events

import "github.com/trusttoken/contracts-pre22-sub001/core/types"

// Event represents a structured state change emitted by an engine.
type Event interface {
	EventType() string
}

// Emitter broadcasts events to downstream subscribers (e.g. the gateway,
// indexers).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Carrier is implemented by events that expose their serialized form.
type Carrier interface {
	Event() *types.Event
}

// Recorder collects emitted events in order. Intended for tests and for the
// gateway's in-process event feed.
type Recorder struct {
	Events []*types.Event
}

// Emit implements the Emitter interface.
func (r *Recorder) Emit(evt Event) {
	if r == nil || evt == nil {
		return
	}
	if carrier, ok := evt.(Carrier); ok {
		if e := carrier.Event(); e != nil {
			r.Events = append(r.Events, e)
		}
		return
	}
	r.Events = append(r.Events, &types.Event{Type: evt.EventType()})
}

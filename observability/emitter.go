package observability

import (
	"github.com/trusttoken/contracts-pre22-sub001/core/events"
)

// MetricsEmitter translates engine events into prometheus series, then hands
// them to the wrapped emitter unchanged. Event types and attributes mirror
// the loan and credit engines' emitters.
type MetricsEmitter struct {
	next events.Emitter
}

func NewMetricsEmitter(next events.Emitter) *MetricsEmitter {
	if next == nil {
		next = events.NoopEmitter{}
	}
	return &MetricsEmitter{next: next}
}

// Emit implements the events.Emitter interface.
func (m *MetricsEmitter) Emit(evt events.Event) {
	if m == nil || evt == nil {
		return
	}
	m.record(evt)
	m.next.Emit(evt)
}

func (m *MetricsEmitter) record(evt events.Event) {
	carrier, ok := evt.(events.Carrier)
	if !ok {
		return
	}
	e := carrier.Event()
	if e == nil {
		return
	}
	attrs := e.Attributes
	switch e.Type {
	case "loan.created", "loan.funded", "loan.withdrawn", "loan.closed":
		Loans().RecordTransition(attrs["status"])
		if e.Type == "loan.funded" {
			Loans().RecordFunded(attrs["pool"])
		}
		if e.Type == "loan.closed" && attrs["status"] == "defaulted" {
			Loans().RecordDefault()
		}
	case "credit.borrowed":
		CreditLines().RecordBorrow(attrs["pool"])
	case "credit.interestPaid", "credit.principalPaid", "credit.positionClosed":
		CreditLines().RecordRepay(attrs["pool"])
	}
}

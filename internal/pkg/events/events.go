package events

import (
	"context"
	"fmt"

	fiberlog "github.com/gofiber/fiber/v2/log"
)

// Event is a domain event emitted by the payment core.
type Event interface {
	Name() string
}

// PaymentSucceeded fires exactly once per ledger transaction, inside the same
// database transaction that persists the paid state. A handler observing it
// can assume the ledger row is already updated.
type PaymentSucceeded struct {
	TransactionID  uint
	OrderID        string
	BusinessID     uint
	PlanID         uint
	SubscriptionID *uint
	Provider       string
	Amount         float64
	BillingCycle   string
}

func (PaymentSucceeded) Name() string { return "payment.succeeded" }

// RefundRequested marks a Payme cancellation that arrived after the payment
// completed. Refund execution is not implemented; this event is the
// extension point for it.
type RefundRequested struct {
	TransactionID uint
	OrderID       string
	Amount        float64
	Reason        int
}

func (RefundRequested) Name() string { return "payment.refund_requested" }

// Handler consumes a single event. The context is the one the emitter
// dispatched with and carries its transaction-scoped resources; a returned
// error aborts the surrounding database transaction.
type Handler func(ctx context.Context, e Event) error

// Dispatcher delivers events synchronously to registered handlers.
type Dispatcher interface {
	Dispatch(ctx context.Context, e Event) error
}

// FanoutDispatcher runs all handlers registered for an event name in
// registration order, stopping at the first error.
type FanoutDispatcher struct {
	handlers map[string][]Handler
}

func NewFanoutDispatcher() *FanoutDispatcher {
	return &FanoutDispatcher{handlers: make(map[string][]Handler)}
}

// Subscribe registers a handler for all events with the given name.
func (d *FanoutDispatcher) Subscribe(name string, h Handler) {
	d.handlers[name] = append(d.handlers[name], h)
}

func (d *FanoutDispatcher) Dispatch(ctx context.Context, e Event) error {
	for _, h := range d.handlers[e.Name()] {
		if err := h(ctx, e); err != nil {
			return fmt.Errorf("event %s: %w", e.Name(), err)
		}
	}
	if len(d.handlers[e.Name()]) == 0 {
		fiberlog.Debugf("[Events] no handler for %s", e.Name())
	}
	return nil
}

// Recorder is a Dispatcher for tests: it stores every dispatched event.
type Recorder struct {
	Events []Event
}

func (r *Recorder) Dispatch(_ context.Context, e Event) error {
	r.Events = append(r.Events, e)
	return nil
}

// ByName returns the recorded events with the given name.
func (r *Recorder) ByName(name string) []Event {
	var out []Event
	for _, e := range r.Events {
		if e.Name() == name {
			out = append(out, e)
		}
	}
	return out
}

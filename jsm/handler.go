// Package jsm implements the session manager: per-user/per-session state
// (User, Session), a named event-chain pipeline modules register against,
// and the presence/roster/offline/privacy/groups modules that give an
// XMPP server its application-layer behavior.
//
// Generalizes the teacher's Mux/Middleware chain-until-taken idiom (see
// bus.Handler) from one chain to a registry of named chains, since jsm
// needs several independent pipelines (deliver, filter-in, filter-out,
// roster-change, ...) rather than bus's single destination-keyed one.
package jsm

import "context"

// Result is a jsm handler's verdict on an event, spec.md §4.6.1's
// Handled/Pass/Ignore vocabulary (distinct from bus.Result's
// Done/Pass/Err/Last: jsm chains never bounce, and Ignore means "not
// interested" rather than "retry the next handler because this one
// errored").
type Result int

const (
	// Handled means the event was fully processed; stop the chain.
	Handled Result = iota
	// Pass means this handler has an opinion but defers to the next one.
	Pass
	// Ignore means this handler doesn't apply to this event at all.
	Ignore
)

// Handler reacts to an event dispatched on one of Instance's or
// Session's named chains. data's concrete type depends on which Event
// or SessionEvent the handler was registered against.
type Handler interface {
	HandleEvent(ctx context.Context, data any) (Result, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, data any) (Result, error)

// HandleEvent calls f(ctx, data).
func (f HandlerFunc) HandleEvent(ctx context.Context, data any) (Result, error) {
	return f(ctx, data)
}

// runChain walks handlers in registration order, stopping at the first
// one that returns something other than Pass or Ignore.
func runChain(ctx context.Context, handlers []Handler, data any) (Result, error) {
	for _, h := range handlers {
		res, err := h.HandleEvent(ctx, data)
		if err != nil {
			return res, err
		}
		if res == Handled {
			return Handled, nil
		}
	}
	return Pass, nil
}

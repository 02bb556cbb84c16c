package bus

import (
	"context"
	"sync"
)

// InstanceType distinguishes what kind of packets an Instance accepts.
type InstanceType int

const (
	InstanceServer InstanceType = iota
	InstanceClient
	InstanceXDB
	InstanceLog
)

// Instance is a named routing endpoint: a domain (or the wildcard "*"),
// a type, and an ordered chain of handlers tried in registration order
// until one returns something other than ResultPass (a ResultLast from
// any handler but the final one also moves on to the next handler).
type Instance struct {
	Name string
	Type InstanceType

	mu       sync.RWMutex
	handlers []Handler
	mw       []Middleware
}

// NewInstance creates an Instance bound to name (a domain, or "*" to
// register the bus-wide catch-all).
func NewInstance(name string, typ InstanceType) *Instance {
	return &Instance{Name: name, Type: typ}
}

// Use adds middleware applied, outermost-first, to every handler
// registered on this instance after the call; handlers registered
// earlier are not wrapped.
func (inst *Instance) Use(mw ...Middleware) {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	inst.mw = append(inst.mw, mw...)
}

// Register appends h to the instance's handler chain.
func (inst *Instance) Register(h Handler) {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	inst.handlers = append(inst.handlers, Chain(h, inst.mw...))
}

// RegisterFunc is a convenience wrapper for Register.
func (inst *Instance) RegisterFunc(f HandlerFunc) {
	inst.Register(f)
}

// dispatch walks the handler chain for p, stopping at the first handler
// that returns neither ResultPass nor a non-final ResultLast.
func (inst *Instance) dispatch(ctx context.Context, p Packet) (Result, error) {
	inst.mu.RLock()
	handlers := append([]Handler(nil), inst.handlers...)
	inst.mu.RUnlock()

	for i, h := range handlers {
		res, err := h.HandlePacket(ctx, p)
		if err != nil {
			return ResultErr, err
		}
		switch res {
		case ResultPass:
			continue
		case ResultLast:
			if i == len(handlers)-1 {
				return ResultLast, nil
			}
			continue
		default:
			return res, nil
		}
	}
	return ResultPass, nil
}

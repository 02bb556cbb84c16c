package bus

import (
	"context"
	"sync"

	"github.com/jabberd-go/jabberd/stanza"
)

// DefaultError is the stanza error synthesized when a packet is
// undeliverable: no handler in the matched instance's chain consumed it
// and no catch-all instance exists either.
var DefaultError = stanza.NewStanzaError(stanza.ErrorTypeCancel, stanza.ErrorServiceUnavailable, "")

// Bus routes packets among registered instances by exact destination
// domain, falling back to a single wildcard instance if registered.
type Bus struct {
	mu        sync.RWMutex
	instances map[string]*Instance
	wildcard  *Instance
	outbound  Handler // where bounces and replies ultimately get written
}

// New creates an empty Bus. outbound receives every packet the bus
// decides to hand back to the caller (bounces, and anything an instance
// explicitly re-submits via Deliver).
func New(outbound Handler) *Bus {
	return &Bus{instances: make(map[string]*Instance), outbound: outbound}
}

// Register binds inst under its Name. Passing "*" registers the
// catch-all instance consulted when no exact domain match exists.
func (b *Bus) Register(inst *Instance) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if inst.Name == "*" {
		b.wildcard = inst
		return
	}
	b.instances[inst.Name] = inst
}

// Deliver routes p to the instance owning p.To.Domain(), walking its
// handler chain. If no instance accepts it, a bounce Packet is
// synthesized and handed to outbound, unless p was already a bounce (in
// which case it is dropped to prevent loops).
func (b *Bus) Deliver(ctx context.Context, p Packet) error {
	inst := b.lookup(p.To.Domain())
	if inst == nil {
		return b.bounce(ctx, p, DefaultError)
	}

	res, err := inst.dispatch(ctx, p)
	if err != nil {
		return b.bounce(ctx, p, stanza.NewStanzaError(stanza.ErrorTypeCancel, stanza.ErrorInternalServerError, err.Error()))
	}
	switch res {
	case ResultDone:
		return nil
	case ResultErr:
		return b.bounce(ctx, p, DefaultError)
	default: // ResultPass or ResultLast with nothing consuming
		return b.bounce(ctx, p, DefaultError)
	}
}

func (b *Bus) lookup(domain string) *Instance {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if inst, ok := b.instances[domain]; ok {
		return inst
	}
	return b.wildcard
}

func (b *Bus) bounce(ctx context.Context, p Packet, stanzaErr *stanza.StanzaError) error {
	if p.Bounced {
		return nil
	}
	bounced := p.Bounce()
	if bounced.Node != nil {
		bounced.Node = bounced.Node.Clone()
		bounced.Node.AppendChild(stanzaErr.ToNode())
		bounced.Node.SetAttr("type", "", "error")
	}
	if b.outbound == nil {
		return nil
	}
	_, err := b.outbound.HandlePacket(ctx, bounced)
	return err
}

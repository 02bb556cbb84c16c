// Package presence implements jsm's presence module: the A/I trust
// sets, directed-vs-undirected broadcast, invisibility, and probe
// handling.
package presence

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/jabberd-go/jabberd/bus"
	"github.com/jabberd-go/jabberd/internal/ns"
	"github.com/jabberd-go/jabberd/jid"
	"github.com/jabberd-go/jabberd/jsm"
	xmldom "github.com/jabberd-go/jabberd/xml"
)

const scratchKey jsm.ScratchKey = "presence.sets"

// sets is the per-session A/I bookkeeping, stored in the session's
// Scratch under scratchKey.
type sets struct {
	mu         sync.Mutex
	a          map[string]struct{} // contacts who believe this session is available
	i          map[string]struct{} // contacts who believe this session is invisible
	invisible  bool
}

func newSets() *sets {
	return &sets{a: make(map[string]struct{}), i: make(map[string]struct{})}
}

func setsFor(s *jsm.Session) *sets {
	if v, ok := s.Scratch.Get(scratchKey); ok {
		return v.(*sets)
	}
	v := newSets()
	s.Scratch.Set(scratchKey, v)
	return v
}

// Module wires presence handling into a jsm.Instance.
type Module struct{}

func New() *Module { return &Module{} }

func (*Module) Name() string            { return "presence" }
func (*Module) Version() string         { return "1.0.0" }
func (*Module) Dependencies() []string  { return nil }
func (*Module) Close() error            { return nil }

func (m *Module) Init(ctx context.Context, inst *jsm.Instance) error {
	inst.OnNewSession(func(s *jsm.Session) {
		s.RegisterSessionHandler(jsm.SessionEventOut, jsm.HandlerFunc(func(ctx context.Context, data any) (jsm.Result, error) {
			return handleOutgoing(ctx, inst, s, data)
		}))
		s.RegisterSessionHandler(jsm.SessionEventIn, jsm.HandlerFunc(func(ctx context.Context, data any) (jsm.Result, error) {
			return handleIncoming(ctx, inst, s, data)
		}))
	})
	return nil
}

func handleOutgoing(ctx context.Context, inst *jsm.Instance, s *jsm.Session, data any) (jsm.Result, error) {
	p, ok := data.(bus.Packet)
	if !ok || p.Node == nil || p.Node.Local != "presence" {
		return jsm.Ignore, nil
	}

	typ, _ := p.Node.Attribute("type", "")
	directed := !p.To.IsDomainOnly() && p.To.Local() != ""
	set := setsFor(s)

	switch typ {
	case "invisible":
		set.mu.Lock()
		wasInvisible := set.invisible
		set.mu.Unlock()
		if !wasInvisible {
			broadcastUnavailable(ctx, inst, s, set)
		}
		set.mu.Lock()
		set.invisible = true
		set.mu.Unlock()
		s.SetPresence(p.Node, priorityOf(p.Node), true)
		return jsm.Handled, nil

	case "unavailable":
		broadcastUnavailable(ctx, inst, s, set)
		s.SetPresence(nil, jsm.Gone, false)
		set.mu.Lock()
		set.invisible = false
		set.mu.Unlock()
		return jsm.Handled, nil

	case "": // available
		_, wasAvailable := s.LastPresence()
		stamped := p.Node.Clone()
		stampDelay(stamped)
		s.SetPresence(stamped, priorityOf(p.Node), true)

		if directed {
			contact := p.To.Bare().String()
			set.mu.Lock()
			set.a[contact] = struct{}{}
			set.mu.Unlock()
			return jsm.Pass, nil // sent verbatim by the caller
		}

		if !wasAvailable {
			probeSubscribedTo(ctx, inst, s)
			broadcastToTrustees(ctx, inst, s, set, stamped)
			return jsm.Handled, nil
		}
		broadcastTo(ctx, inst, s, set, stamped, subscriptionFrom)
		return jsm.Handled, nil
	}
	return jsm.Pass, nil
}

func handleIncoming(ctx context.Context, inst *jsm.Instance, s *jsm.Session, data any) (jsm.Result, error) {
	p, ok := data.(bus.Packet)
	if !ok || p.Node == nil || p.Node.Local != "presence" {
		return jsm.Ignore, nil
	}
	set := setsFor(s)
	typ, _ := p.Node.Attribute("type", "")
	from := p.From.Bare().String()

	switch typ {
	case "error":
		set.mu.Lock()
		delete(set.a, from)
		set.mu.Unlock()
		return jsm.Pass, nil

	case "probe":
		set.mu.Lock()
		invisible := set.invisible
		allowed := s.Owner.IsTrustee(from)
		_, seenByA := set.a[from]
		set.mu.Unlock()
		if !allowed {
			return jsm.Handled, nil
		}
		if invisible && !seenByA {
			return jsm.Handled, nil
		}
		if last, available := s.LastPresence(); available && last != nil {
			reply := last.Clone()
			reply.SetAttr("to", "", p.From.String())
			return jsm.Handled, inst.Deliver(ctx, bus.Packet{Kind: bus.KindNormal, To: p.From, From: s.Full, Node: reply})
		}
		return jsm.Handled, nil

	case "invisible":
		p.Node.SetAttr("type", "", "unavailable")
		return jsm.Pass, nil

	case "":
		if !s.Owner.HasSeen(from) {
			unsub := xmldom.NewElement("presence", ns.Server)
			unsub.SetAttr("to", "", p.From.Bare().String())
			unsub.SetAttr("type", "", "unsubscribe")
			_ = inst.Deliver(ctx, bus.Packet{Kind: bus.KindNormal, To: p.From.Bare(), From: s.Full, Node: unsub})
		}
		return jsm.Pass, nil
	}
	return jsm.Pass, nil
}

func priorityOf(n *xmldom.Node) int {
	for _, c := range n.Elements() {
		if c.Local == "priority" {
			if v, err := strconv.Atoi(c.GetData()); err == nil {
				return v
			}
		}
	}
	return 0
}

func stampDelay(n *xmldom.Node) {
	delay := xmldom.NewElement("x", "jabber:x:delay")
	delay.SetAttr("stamp", "", time.Now().UTC().Format("20060102T15:04:05"))
	n.AppendChild(delay)
}

// subscriptionFrom/subscriptionTo select which roster subscription
// states make a contact eligible for a given presence broadcast
// (presence itself doesn't know the roster; jsm/roster supplies the
// predicate via the User's trustee/seen sets it maintains).
func subscriptionFrom(inst *jsm.Instance, s *jsm.Session, contact string) bool {
	return s.Owner.IsTrustee(contact)
}

func broadcastTo(ctx context.Context, inst *jsm.Instance, s *jsm.Session, set *sets, n *xmldom.Node, eligible func(*jsm.Instance, *jsm.Session, string) bool) {
	set.mu.Lock()
	targets := make([]string, 0, len(set.a))
	for c := range set.a {
		targets = append(targets, c)
	}
	set.mu.Unlock()

	for _, c := range targets {
		if !eligible(inst, s, c) {
			continue
		}
		to, err := jid.Parse(c)
		if err != nil {
			continue
		}
		out := n.Clone()
		out.SetAttr("to", "", to.String())
		_ = inst.Deliver(ctx, bus.Packet{Kind: bus.KindNormal, To: to, From: s.Full, Node: out})
	}
}

// broadcastToTrustees sends n to every contact with a from/both roster
// subscription (s.Owner's trustees) and seeds A with them. On the
// unavailable-to-available transition A is empty (a fresh session has
// broadcast nothing yet), so the roster rather than A gates delivery.
func broadcastToTrustees(ctx context.Context, inst *jsm.Instance, s *jsm.Session, set *sets, n *xmldom.Node) {
	trustees := s.Owner.TrusteeSnapshot()

	set.mu.Lock()
	for c := range trustees {
		set.a[c] = struct{}{}
	}
	set.mu.Unlock()

	for c := range trustees {
		to, err := jid.Parse(c)
		if err != nil {
			continue
		}
		out := n.Clone()
		out.SetAttr("to", "", to.String())
		_ = inst.Deliver(ctx, bus.Packet{Kind: bus.KindNormal, To: to, From: s.Full, Node: out})
	}
}

func broadcastUnavailable(ctx context.Context, inst *jsm.Instance, s *jsm.Session, set *sets) {
	unavail := xmldom.NewElement("presence", ns.Server)
	unavail.SetAttr("type", "", "unavailable")

	set.mu.Lock()
	targets := make([]string, 0, len(set.a)+len(set.i))
	seen := make(map[string]struct{})
	for c := range set.a {
		targets = append(targets, c)
		seen[c] = struct{}{}
	}
	for c := range set.i {
		if _, ok := seen[c]; !ok {
			targets = append(targets, c)
		}
	}
	set.a = make(map[string]struct{})
	set.i = make(map[string]struct{})
	set.mu.Unlock()

	for _, c := range targets {
		to, err := jid.Parse(c)
		if err != nil {
			continue
		}
		out := unavail.Clone()
		out.SetAttr("to", "", to.String())
		_ = inst.Deliver(ctx, bus.Packet{Kind: bus.KindNormal, To: to, From: s.Full, Node: out})
	}
}

// probeSubscribedTo sends a probe to every contact the user has a
// to/both subscription to (jsm/roster keeps User.seen current as
// subscriptions change), on the unavailable-to-available transition.
func probeSubscribedTo(ctx context.Context, inst *jsm.Instance, s *jsm.Session) {
	for contact := range s.Owner.SeenSnapshot() {
		to, err := jid.Parse(contact)
		if err != nil {
			continue
		}
		probe := xmldom.NewElement("presence", ns.Server)
		probe.SetAttr("type", "", "probe")
		probe.SetAttr("to", "", to.String())
		_ = inst.Deliver(ctx, bus.Packet{Kind: bus.KindNormal, To: to, From: s.Full, Node: probe})
	}
}

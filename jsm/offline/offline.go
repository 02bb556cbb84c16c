// Package offline implements jsm's offline-storage module: per-type
// store/bounce policy, XEP-0013 flush suppression, and XEP-0023 expiry,
// from spec.md §4.6.4, backed by xdb under jabber:x:offline.
package offline

import (
	"context"
	"strconv"
	"time"

	"github.com/jabberd-go/jabberd/bus"
	"github.com/jabberd-go/jabberd/jsm"
	"github.com/jabberd-go/jabberd/xdb"
	xmldom "github.com/jabberd-go/jabberd/xml"
)

// OfflineNS is the storage namespace for shelved messages.
const OfflineNS = "jabber:x:offline"

// StoreDecision says whether a message type is shelved when no session
// can take it, or bounced immediately.
type StoreDecision int

const (
	Store StoreDecision = iota
	Bounce
)

// Module wires offline storage into a jsm.Instance.
type Module struct {
	policy map[string]StoreDecision // message type -> decision; "" is the default ("normal")
}

// New builds the module with policy overriding the default (store
// normal/chat/headline/groupchat, bounce error) for the named types.
func New(policy map[string]StoreDecision) *Module {
	return &Module{policy: policy}
}

func (*Module) Name() string    { return "offline" }
func (*Module) Version() string { return "1.0.0" }

// Dependencies orders offline's EventDeliver handler after roster's,
// presence's, and privacy's, so a message already claimed or denied by
// one of them never reaches the shelve-or-bounce decision here.
func (*Module) Dependencies() []string { return []string{"roster", "presence", "privacy"} }
func (*Module) Close() error           { return nil }

func (m *Module) Init(ctx context.Context, inst *jsm.Instance) error {
	inst.RegisterHandler(jsm.EventDeliver, jsm.HandlerFunc(func(ctx context.Context, data any) (jsm.Result, error) {
		return m.handleDeliver(ctx, inst, data)
	}))
	inst.OnNewSession(func(s *jsm.Session) {
		s.RegisterSessionHandler(jsm.SessionEventIn, jsm.HandlerFunc(func(ctx context.Context, data any) (jsm.Result, error) {
			return m.handleXEP0013(ctx, inst, s, data)
		}))
	})
	return nil
}

func (m *Module) decision(msgType string) StoreDecision {
	if d, ok := m.policy[msgType]; ok {
		return d
	}
	if msgType == "error" {
		return Bounce
	}
	return Store
}

// handleDeliver runs after roster/presence have had first refusal on
// EventDeliver: if the user has no live session, a message stanza is
// either shelved or bounced per decision.
func (m *Module) handleDeliver(ctx context.Context, inst *jsm.Instance, data any) (jsm.Result, error) {
	ev, ok := data.(jsm.DeliverEvent)
	if !ok || ev.Packet.Node == nil || ev.Packet.Node.Local != "message" {
		return jsm.Pass, nil
	}
	if len(ev.User.Sessions()) > 0 {
		return jsm.Pass, nil
	}

	msgType, _ := ev.Packet.Node.Attribute("type", "")
	if m.decision(msgType) == Bounce {
		return jsm.Pass, nil // let the bus's default bounce fire
	}

	stamped := ev.Packet.Node.Clone()
	node := strconv.FormatInt(time.Now().UnixMilli(), 10)
	stampDelay(stamped)

	_, err := inst.XDB.Query(ctx, ev.User.Bare, xdb.Request{
		NS:        OfflineNS,
		Action:    xdb.ActionInsert,
		MatchPath: node,
		Data:      []*xmldom.Node{stamped},
	})
	if err != nil {
		return jsm.Handled, err
	}
	return jsm.Handled, nil
}

// handleXEP0013 watches for disco-info/disco-items against the offline
// node, or an explicit <offline/> element, and marks the session as
// client-driven so handleAvailable doesn't flood it.
func (m *Module) handleXEP0013(ctx context.Context, inst *jsm.Instance, s *jsm.Session, data any) (jsm.Result, error) {
	p, ok := data.(bus.Packet)
	if !ok || p.Node == nil {
		return jsm.Ignore, nil
	}
	if p.Node.Local == "presence" {
		typ, _ := p.Node.Attribute("type", "")
		if typ == "" {
			return jsm.Pass, handleAvailable(ctx, inst, s)
		}
		return jsm.Pass, nil
	}
	if invokesXEP0013(p.Node) {
		s.Scratch.Set(xep0013Key, true)
	}
	return jsm.Pass, nil
}

const xep0013Key jsm.ScratchKey = "offline.xep0013"

func invokesXEP0013(n *xmldom.Node) bool {
	for _, c := range n.Elements() {
		if c.Local == "query" && (c.NS == "http://jabber.org/protocol/disco#info" || c.NS == "http://jabber.org/protocol/disco#items") {
			if node, ok := c.Attribute("node", ""); ok && node == "http://jabber.org/protocol/offline" {
				return true
			}
		}
		if c.Local == "offline" && c.NS == "http://jabber.org/protocol/offline" {
			return true
		}
	}
	return false
}

// handleAvailable flushes shelved messages once a session becomes
// available with priority >= 0, unless XEP-0013 has been invoked on it.
func handleAvailable(ctx context.Context, inst *jsm.Instance, s *jsm.Session) error {
	if s.Priority() < 0 {
		return nil
	}
	if v, ok := s.Scratch.Get(xep0013Key); ok && v.(bool) {
		return nil
	}

	resp, err := inst.XDB.Get(ctx, s.Owner.Bare, OfflineNS)
	if err != nil || resp.Data == nil {
		return err
	}
	now := time.Now()
	for _, msg := range resp.Data.Elements() {
		if expired(msg, now) {
			continue
		}
		out := msg.Clone()
		for _, c := range out.Elements() {
			if c.Local != "x" || c.NS != "jabber:x:expire" {
				continue
			}
			secondsAttr, _ := c.Attribute("seconds", "")
			storedAttr, _ := c.Attribute("stored", "")
			seconds, err1 := strconv.Atoi(secondsAttr)
			stored, err2 := time.Parse(time.RFC3339, storedAttr)
			if err1 == nil && err2 == nil {
				c.SetAttr("seconds", "", strconv.Itoa(seconds-int(now.Sub(stored).Seconds())))
			}
		}
		_ = s.Deliver(ctx, out)
	}
	_, err = inst.XDB.Query(ctx, s.Owner.Bare, xdb.Request{NS: OfflineNS, Action: xdb.ActionSet})
	return err
}

// expired applies XEP-0023: a <x xmlns='jabber:x:expire' seconds='N'
// stored='T'/> past its lifetime is dropped rather than delivered.
func expired(msg *xmldom.Node, now time.Time) bool {
	for _, c := range msg.Elements() {
		if c.Local != "x" || c.NS != "jabber:x:expire" {
			continue
		}
		secondsAttr, _ := c.Attribute("seconds", "")
		storedAttr, _ := c.Attribute("stored", "")
		seconds, err := strconv.Atoi(secondsAttr)
		if err != nil {
			continue
		}
		stored, err := time.Parse(time.RFC3339, storedAttr)
		if err != nil {
			continue
		}
		return now.After(stored.Add(time.Duration(seconds) * time.Second))
	}
	return false
}

func stampDelay(n *xmldom.Node) {
	delay := xmldom.NewElement("x", "jabber:x:delay")
	delay.SetAttr("stamp", "", time.Now().UTC().Format(time.RFC3339))
	n.AppendChild(delay)
	for _, c := range n.Elements() {
		if c.Local == "x" && c.NS == "jabber:x:expire" {
			c.SetAttr("stored", "", time.Now().UTC().Format(time.RFC3339))
		}
	}
}


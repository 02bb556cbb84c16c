// Package roster implements jsm's roster module: the RFC 6121
// subscription state machine from spec.md §4.6.3, backed by xdb under
// the jabber:iq:roster namespace rather than a dedicated store.
package roster

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jabberd-go/jabberd/bus"
	"github.com/jabberd-go/jabberd/internal/ns"
	"github.com/jabberd-go/jabberd/jid"
	"github.com/jabberd-go/jabberd/jsm"
	"github.com/jabberd-go/jabberd/xdb"
	xmldom "github.com/jabberd-go/jabberd/xml"
)

// RosterNS is the storage and IQ namespace for roster items.
const RosterNS = "jabber:iq:roster"

// PendingSubscriptionNS is where a not-yet-approved inbound subscribe
// request is persisted so it survives a restart, per spec.md §4.6.3.
const PendingSubscriptionNS = "http://jabberd.org/ns/storedsubscriptionrequest"

// Subscription mirrors RFC 6121's four states.
type Subscription int

const (
	SubNone Subscription = iota
	SubTo
	SubFrom
	SubBoth
)

func (s Subscription) String() string {
	switch s {
	case SubTo:
		return "to"
	case SubFrom:
		return "from"
	case SubBoth:
		return "both"
	default:
		return "none"
	}
}

func parseSubscription(s string) Subscription {
	switch s {
	case "to":
		return SubTo
	case "from":
		return SubFrom
	case "both":
		return SubBoth
	default:
		return SubNone
	}
}

// Module wires roster IQ handling and subscription-state mutation into
// a jsm.Instance.
type Module struct {
	log *slog.Logger
}

func New(log *slog.Logger) *Module {
	if log == nil {
		log = slog.Default()
	}
	return &Module{log: log}
}

func (*Module) Name() string           { return "roster" }
func (*Module) Version() string        { return "1.0.0" }
func (*Module) Dependencies() []string { return nil }
func (*Module) Close() error           { return nil }

// Init registers roster IQ handling on each session's SessionEventIn
// chain (a get/set with no explicit 'to' routes to the sender's own
// full JID, landing here); subscription-presence the session itself
// originates on SessionEventOut, to update the sender's own roster
// the moment they ask/approve/revoke; and the mirror image of that on
// the domain-wide EventDeliver chain, to update a local recipient's
// roster when the subscription presence actually arrives.
// subscribe/subscribed/unsubscribe/unsubscribed always address a bare
// JID per RFC 6121, which Instance.HandlePacket only ever routes
// through EventDeliver, never a per-session chain — that's why arrival
// can't be caught with a second SessionEventIn hook.
func (m *Module) Init(ctx context.Context, inst *jsm.Instance) error {
	inst.OnNewSession(func(s *jsm.Session) {
		s.RegisterSessionHandler(jsm.SessionEventIn, jsm.HandlerFunc(func(ctx context.Context, data any) (jsm.Result, error) {
			return m.handleSessionIn(ctx, inst, s, data)
		}))
		s.RegisterSessionHandler(jsm.SessionEventOut, jsm.HandlerFunc(func(ctx context.Context, data any) (jsm.Result, error) {
			return m.handleSessionOut(ctx, inst, s, data)
		}))
	})
	inst.RegisterHandler(jsm.EventDeliver, jsm.HandlerFunc(func(ctx context.Context, data any) (jsm.Result, error) {
		return m.handleDeliver(ctx, inst, data)
	}))
	return nil
}

func (m *Module) handleSessionIn(ctx context.Context, inst *jsm.Instance, s *jsm.Session, data any) (jsm.Result, error) {
	p, ok := data.(bus.Packet)
	if !ok || p.Node == nil || p.Node.Local != "iq" {
		return jsm.Ignore, nil
	}
	return m.handleIQ(ctx, inst, s, p)
}

// handleSessionOut updates the sending session's own roster when it
// originates subscribe/subscribed/unsubscribe/unsubscribed, then lets
// the stanza continue on to the bus for routing (Pass, never Handled:
// this is bookkeeping, not ownership of the stanza).
func (m *Module) handleSessionOut(ctx context.Context, inst *jsm.Instance, s *jsm.Session, data any) (jsm.Result, error) {
	p, ok := data.(bus.Packet)
	if !ok || p.Node == nil || p.Node.Local != "presence" {
		return jsm.Ignore, nil
	}
	typ, _ := p.Node.Attribute("type", "")
	contact := p.To.Bare()
	if contact.IsZero() {
		return jsm.Pass, nil
	}

	items, err := loadItems(ctx, inst, s.Owner.Bare)
	if err != nil {
		return jsm.Pass, err
	}
	item, had := items[contact.String()]
	if !had {
		item = &Item{JID: contact, Subscription: SubNone}
	}

	switch typ {
	case "subscribe":
		item.PendingOut = true
	case "subscribed":
		item.PendingIn = false
		item.Hidden = false
		item.Subscription = grantFrom(item.Subscription)
		s.Owner.AddTrustee(contact.String())
	case "unsubscribe":
		item.PendingOut = false
		item.Subscription = revokeTo(item.Subscription)
		s.Owner.UnmarkSeen(contact.String())
	case "unsubscribed":
		item.Subscription = revokeFrom(item.Subscription)
		s.Owner.RemoveTrustee(contact.String())
	default:
		return jsm.Pass, nil
	}

	items[contact.String()] = item
	if err := saveItems(ctx, inst, s.Owner.Bare, items); err != nil {
		return jsm.Pass, err
	}
	pushToAll(ctx, inst, s.Owner, itemNode(item))
	return jsm.Pass, nil
}

func (m *Module) handleDeliver(ctx context.Context, inst *jsm.Instance, data any) (jsm.Result, error) {
	ev, ok := data.(jsm.DeliverEvent)
	if !ok || ev.Packet.Node == nil || ev.Packet.Node.Local != "presence" {
		return jsm.Ignore, nil
	}
	return m.handlePresence(ctx, inst, ev.Packet)
}

// grantFrom/grantTo/revokeFrom/revokeTo apply one RFC 6121 roster
// transition. A subscription result touches two rosters (the sender's
// own, via handleSessionOut, and a local recipient's, via
// handleDeliver); these four transitions are exact mirrors of each
// other across that pair, just with to/from swapped.
func grantFrom(sub Subscription) Subscription {
	switch sub {
	case SubNone:
		return SubFrom
	case SubTo:
		return SubBoth
	}
	return sub
}

func grantTo(sub Subscription) Subscription {
	switch sub {
	case SubNone:
		return SubTo
	case SubFrom:
		return SubBoth
	}
	return sub
}

func revokeFrom(sub Subscription) Subscription {
	switch sub {
	case SubFrom:
		return SubNone
	case SubBoth:
		return SubTo
	}
	return sub
}

func revokeTo(sub Subscription) Subscription {
	switch sub {
	case SubTo:
		return SubNone
	case SubBoth:
		return SubFrom
	}
	return sub
}

func (m *Module) handleIQ(ctx context.Context, inst *jsm.Instance, s *jsm.Session, p bus.Packet) (jsm.Result, error) {
	query := findChild(p.Node, "query", RosterNS)
	if query == nil {
		return jsm.Pass, nil
	}
	typ, _ := p.Node.Attribute("type", "")

	switch typ {
	case "get":
		items, err := loadItems(ctx, inst, s.Owner.Bare)
		if err != nil {
			return jsm.Handled, err
		}
		s.SetRosterRequested(true)
		reply := rosterIQ("result", p.Node, items)
		return jsm.Handled, s.Deliver(ctx, reply)

	case "set":
		for _, item := range query.Elements() {
			if item.Local != "item" {
				continue
			}
			if err := m.applySet(ctx, inst, s, item); err != nil {
				return jsm.Handled, err
			}
		}
		ack := p.Node.Clone()
		ack.SetAttr("type", "", "result")
		ack.Children = nil
		return jsm.Handled, s.Deliver(ctx, ack)
	}
	return jsm.Pass, nil
}

// applySet handles one <item/> from a roster-set IQ: subscription='remove'
// deletes the item, anything else upserts its name and groups. A missing
// or unparsable jid is returned as an error.
func (m *Module) applySet(ctx context.Context, inst *jsm.Instance, s *jsm.Session, item *xmldom.Node) error {
	contactStr, _ := item.Attribute("jid", "")
	contact, err := jid.Parse(contactStr)
	if err != nil {
		return err
	}
	subAttr, _ := item.Attribute("subscription", "")

	items, err := loadItems(ctx, inst, s.Owner.Bare)
	if err != nil {
		return err
	}

	if subAttr == "remove" {
		delete(items, contact.Bare().String())
		if err := saveItems(ctx, inst, s.Owner.Bare, items); err != nil {
			return err
		}
		s.Owner.RemoveTrustee(contact.Bare().String())
		s.Owner.UnmarkSeen(contact.Bare().String())
		pushToAll(ctx, inst, s.Owner, removeItemNode(contact))
		return nil
	}

	existing, had := items[contact.Bare().String()]
	if !had {
		existing = &Item{JID: contact.Bare(), Subscription: SubNone}
	}
	if name, ok := item.Attribute("name", ""); ok {
		existing.Name = name
	}
	existing.Groups = nil
	for _, g := range item.Elements() {
		if g.Local == "group" {
			existing.Groups = append(existing.Groups, g.GetData())
		}
	}
	items[contact.Bare().String()] = existing
	if err := saveItems(ctx, inst, s.Owner.Bare, items); err != nil {
		return err
	}
	pushToAll(ctx, inst, s.Owner, itemNode(existing))
	return nil
}

func (m *Module) handlePresence(ctx context.Context, inst *jsm.Instance, p bus.Packet) (jsm.Result, error) {
	typ, _ := p.Node.Attribute("type", "")
	switch typ {
	case "subscribe":
		return jsm.Handled, m.handleSubscribe(ctx, inst, p)
	case "subscribed":
		return jsm.Handled, m.handleSubscribed(ctx, inst, p)
	case "unsubscribe":
		return jsm.Handled, m.handleUnsubscribe(ctx, inst, p)
	case "unsubscribed":
		return jsm.Handled, m.handleUnsubscribed(ctx, inst, p)
	}
	return jsm.Pass, nil
}

// handleSubscribe records a pending-in request against the contact's
// own roster item (hidden if the item didn't already exist) and
// persists it under PendingSubscriptionNS so it survives a restart.
func (m *Module) handleSubscribe(ctx context.Context, inst *jsm.Instance, p bus.Packet) error {
	owner := p.To.Bare()
	from := p.From.Bare()

	items, err := loadItems(ctx, inst, owner)
	if err != nil {
		return err
	}
	item, had := items[from.String()]
	if !had {
		item = &Item{JID: from, Subscription: SubNone, Hidden: true}
		items[from.String()] = item
	}
	item.PendingIn = true
	if err := saveItems(ctx, inst, owner, items); err != nil {
		return err
	}
	_, err = inst.XDB.Query(ctx, owner, xdb.Request{
		NS:     PendingSubscriptionNS,
		Action: xdb.ActionInsert,
		Match:  "item[@jid='" + from.String() + "']",
		Data:   []*xmldom.Node{item.subscribeRequestNode()},
	})
	if err != nil {
		return err
	}
	pushToAll(ctx, inst, ownerUser(inst, owner), itemNode(item))
	return deliverPresence(ctx, inst, p)
}

// handleSubscribed fires when a subscription approval arrives at the
// local recipient (the original subscriber): it's the mirror of
// handleSessionOut's own "subscribed" case, applied to the recipient's
// roster instead of the sender's.
func (m *Module) handleSubscribed(ctx context.Context, inst *jsm.Instance, p bus.Packet) error {
	owner := p.To.Bare()
	contact := p.From.Bare()

	items, err := loadItems(ctx, inst, owner)
	if err != nil {
		return err
	}
	item, had := items[contact.String()]
	if !had {
		item = &Item{JID: contact, Subscription: SubNone}
	}
	item.PendingOut = false
	item.Subscription = grantTo(item.Subscription)
	items[contact.String()] = item
	if err := saveItems(ctx, inst, owner, items); err != nil {
		return err
	}
	if u, ok := inst.GetUser(owner); ok {
		u.MarkSeen(contact.String())
	}
	pushToAll(ctx, inst, ownerUser(inst, owner), itemNode(item))
	return deliverPresence(ctx, inst, p)
}

func (m *Module) handleUnsubscribe(ctx context.Context, inst *jsm.Instance, p bus.Packet) error {
	owner := p.To.Bare()
	contact := p.From.Bare()

	items, err := loadItems(ctx, inst, owner)
	if err != nil {
		return err
	}
	if item, ok := items[contact.String()]; ok {
		item.Subscription = revokeFrom(item.Subscription)
		if err := saveItems(ctx, inst, owner, items); err != nil {
			return err
		}
		pushToAll(ctx, inst, ownerUser(inst, owner), itemNode(item))
	}
	if u, ok := inst.GetUser(owner); ok {
		u.RemoveTrustee(contact.String())
	}
	return deliverPresence(ctx, inst, p)
}

func (m *Module) handleUnsubscribed(ctx context.Context, inst *jsm.Instance, p bus.Packet) error {
	owner := p.To.Bare()
	contact := p.From.Bare()

	items, err := loadItems(ctx, inst, owner)
	if err != nil {
		return err
	}
	if item, ok := items[contact.String()]; ok {
		item.Subscription = revokeTo(item.Subscription)
		if err := saveItems(ctx, inst, owner, items); err != nil {
			return err
		}
		pushToAll(ctx, inst, ownerUser(inst, owner), itemNode(item))
	}
	if u, ok := inst.GetUser(owner); ok {
		u.UnmarkSeen(contact.String())
	}
	return deliverPresence(ctx, inst, p)
}

func deliverPresence(ctx context.Context, inst *jsm.Instance, p bus.Packet) error {
	return inst.Deliver(ctx, bus.Packet{Kind: bus.KindNormal, To: p.To, From: p.From, Node: p.Node.Clone()})
}

func ownerUser(inst *jsm.Instance, bare jid.JID) *jsm.User {
	if u, ok := inst.GetUser(bare); ok {
		return u
	}
	return nil
}

func pushToAll(ctx context.Context, inst *jsm.Instance, u *jsm.User, item *xmldom.Node) {
	if u == nil {
		return
	}
	for _, sess := range u.Sessions() {
		if !sess.RosterRequested() {
			continue
		}
		push := xmldom.NewElement("iq", ns.Server)
		push.SetAttr("type", "", "set")
		push.SetAttr("id", "", uuid.NewString())
		query := xmldom.NewElement("query", RosterNS)
		query.AppendChild(item.Clone())
		push.AppendChild(query)
		_ = sess.Deliver(ctx, push)
	}
}

// Item is one roster entry.
type Item struct {
	JID          jid.JID
	Name         string
	Subscription Subscription
	PendingOut   bool // ask='subscribe'
	PendingIn    bool
	Hidden       bool
	Groups       []string
}

func itemNode(it *Item) *xmldom.Node {
	n := xmldom.NewElement("item", RosterNS)
	n.SetAttr("jid", "", it.JID.String())
	if it.Name != "" {
		n.SetAttr("name", "", it.Name)
	}
	n.SetAttr("subscription", "", it.Subscription.String())
	if it.PendingOut {
		n.SetAttr("ask", "", "subscribe")
	}
	for _, g := range it.Groups {
		group := xmldom.NewElement("group", RosterNS)
		group.AppendText(g)
		n.AppendChild(group)
	}
	return n
}

func removeItemNode(contact jid.JID) *xmldom.Node {
	n := xmldom.NewElement("item", RosterNS)
	n.SetAttr("jid", "", contact.String())
	n.SetAttr("subscription", "", "remove")
	return n
}

func (it *Item) subscribeRequestNode() *xmldom.Node {
	n := xmldom.NewElement("item", PendingSubscriptionNS)
	n.SetAttr("jid", "", it.JID.String())
	return n
}

func rosterIQ(typ string, req *xmldom.Node, items map[string]*Item) *xmldom.Node {
	iq := xmldom.NewElement("iq", ns.Server)
	iq.SetAttr("type", "", typ)
	if req != nil {
		if id, ok := req.Attribute("id", ""); ok {
			iq.SetAttr("id", "", id)
		}
	}
	query := xmldom.NewElement("query", RosterNS)
	for _, it := range items {
		if it.Hidden {
			continue
		}
		query.AppendChild(itemNode(it))
	}
	iq.AppendChild(query)
	return iq
}

func findChild(n *xmldom.Node, local, nsURI string) *xmldom.Node {
	for _, c := range n.Elements() {
		if c.Local == local && c.NS == nsURI {
			return c
		}
	}
	return nil
}

func loadItems(ctx context.Context, inst *jsm.Instance, owner jid.JID) (map[string]*Item, error) {
	resp, err := inst.XDB.Get(ctx, owner, RosterNS)
	if err != nil {
		return nil, err
	}
	if resp.Err != nil {
		return nil, resp.Err
	}
	items := make(map[string]*Item)
	if resp.Data == nil {
		return items, nil
	}
	for _, c := range resp.Data.Elements() {
		if c.Local != "item" {
			continue
		}
		jidStr, _ := c.Attribute("jid", "")
		contact, err := jid.Parse(jidStr)
		if err != nil {
			continue
		}
		name, _ := c.Attribute("name", "")
		subAttr, _ := c.Attribute("subscription", "")
		_, ask := c.Attribute("ask", "")
		item := &Item{JID: contact, Name: name, Subscription: parseSubscription(subAttr), PendingOut: ask}
		for _, g := range c.Elements() {
			if g.Local == "group" {
				item.Groups = append(item.Groups, g.GetData())
			}
		}
		items[contact.String()] = item
	}
	return items, nil
}

func saveItems(ctx context.Context, inst *jsm.Instance, owner jid.JID, items map[string]*Item) error {
	root := xmldom.NewElement("roster", RosterNS)
	for _, it := range items {
		root.AppendChild(itemNode(it))
	}
	resp, err := inst.XDB.Query(ctx, owner, xdb.Request{
		NS:     RosterNS,
		Action: xdb.ActionSet,
		Data:   root.Elements(),
	})
	if err != nil {
		return err
	}
	return resp.Err
}

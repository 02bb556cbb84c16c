// Package groups implements jsm's optional roster-groups module from
// spec.md §4.6.6: named groups addressed as domain/groups/<gid>, with
// membership mirrored into each member's roster as subscription=both,
// online-only message/presence broadcast to fellow members, and
// write-restricted group messages. Disabled by default — the caller
// must explicitly LoadModule this into a jsm.Instance.
package groups

import (
	"context"
	"strings"
	"sync"

	"github.com/jabberd-go/jabberd/bus"
	"github.com/jabberd-go/jabberd/internal/ns"
	"github.com/jabberd-go/jabberd/jid"
	"github.com/jabberd-go/jabberd/jsm"
	"github.com/jabberd-go/jabberd/jsm/roster"
	"github.com/jabberd-go/jabberd/stanza"
	"github.com/jabberd-go/jabberd/xdb"
	xmldom "github.com/jabberd-go/jabberd/xml"
)

// GroupsNS is the storage namespace prefix for a group's member list
// (see groupNS below), mirroring jabberd14's NS_XGROUPS table — one xdb
// fragment per group rather than per user.
const GroupsNS = "jabber:xdb:groups"

// resourcePrefix is the resource namespace server-side group addresses
// live under (spec.md §4.6.6: "server/groups/<gid>").
const resourcePrefix = "groups"

// Group is a statically configured group: its id, display name, and
// the set of JIDs allowed to write to it. Configuration-file loading is
// out of scope (spec.md §1); callers build this list directly, the way
// jabberd14's mod_groups reads it out of its own <group/> config block.
type Group struct {
	ID      string
	Name    string
	Writers map[string]bool // bare JID -> may post a group message
}

func (g Group) canWrite(from jid.JID) bool {
	if len(g.Writers) == 0 {
		return true
	}
	return g.Writers[from.Bare().String()]
}

// Module wires the groups feature into a jsm.Instance.
type Module struct {
	groups map[string]Group // gid -> Group

	mu     sync.Mutex
	online map[string]map[string]*jsm.Session // gid -> bare jid -> primary session
}

// New builds the module from a static group roster. An empty or nil
// list still registers the module's handlers, it simply has nothing to
// browse or join — matching mod_groups's behavior with no config.
func New(groupList []Group) *Module {
	m := &Module{
		groups: make(map[string]Group, len(groupList)),
		online: make(map[string]map[string]*jsm.Session),
	}
	for _, g := range groupList {
		m.groups[g.ID] = g
	}
	return m
}

func (*Module) Name() string           { return "groups" }
func (*Module) Version() string        { return "1.0.0" }
func (*Module) Dependencies() []string { return []string{"roster"} }
func (*Module) Close() error           { return nil }

func (m *Module) Init(ctx context.Context, inst *jsm.Instance) error {
	inst.RegisterHandler(jsm.EventServer, jsm.HandlerFunc(func(ctx context.Context, data any) (jsm.Result, error) {
		return m.handleServer(ctx, inst, data)
	}))
	inst.OnNewSession(func(s *jsm.Session) {
		s.RegisterSessionHandler(jsm.SessionEventOut, jsm.HandlerFunc(func(ctx context.Context, data any) (jsm.Result, error) {
			return m.handleSessionOut(ctx, inst, s, data)
		}))
		s.RegisterSessionHandler(jsm.SessionEventEnd, jsm.HandlerFunc(func(ctx context.Context, data any) (jsm.Result, error) {
			return m.handleSessionEnd(ctx, inst, s, data)
		}))
	})
	return nil
}

// gidFromResource extracts "<gid>" from a to-address resource shaped
// "groups" or "groups/<gid>", the same split mod_groups_iq/_message do
// on jp->to->resource.
func gidFromResource(resource string) (gid string, ok bool) {
	if resource != resourcePrefix && !strings.HasPrefix(resource, resourcePrefix+"/") {
		return "", false
	}
	rest := strings.TrimPrefix(resource, resourcePrefix)
	rest = strings.TrimPrefix(rest, "/")
	return rest, rest != ""
}

func (m *Module) handleServer(ctx context.Context, inst *jsm.Instance, data any) (jsm.Result, error) {
	p, ok := data.(bus.Packet)
	if !ok || p.Node == nil {
		return jsm.Ignore, nil
	}
	switch p.Node.Local {
	case "message":
		return m.handleMessage(ctx, inst, p)
	case "iq":
		return m.handleIQ(ctx, inst, p)
	}
	return jsm.Ignore, nil
}

// handleMessage broadcasts a message addressed to domain/groups/<gid>
// to every online member, rewriting from= to the group's own address,
// per spec.md: "forbidden to non-writers".
func (m *Module) handleMessage(ctx context.Context, inst *jsm.Instance, p bus.Packet) (jsm.Result, error) {
	gid, ok := gidFromResource(p.To.Resource())
	if !ok {
		return jsm.Pass, nil
	}
	if hasDelay(p.Node) {
		// loop protection: a message that already carries a delay stamp
		// is not re-broadcast.
		return jsm.Handled, nil
	}

	g, known := m.groups[gid]
	if !known {
		return jsm.Handled, bounce(ctx, inst, p, stanza.ErrItemNotFound(""))
	}
	if !g.canWrite(p.From) {
		return jsm.Handled, bounce(ctx, inst, p, stanza.ErrNotAllowed(""))
	}

	m.mu.Lock()
	members := make([]*jsm.Session, 0, len(m.online[gid]))
	for _, s := range m.online[gid] {
		members = append(members, s)
	}
	m.mu.Unlock()

	for _, s := range members {
		out := p.Node.Clone()
		out.SetAttr("from", "", p.To.String())
		out.SetAttr("to", "", s.Full.String())
		_ = inst.Deliver(ctx, bus.Packet{Kind: bus.KindNormal, To: s.Full, From: p.To, Node: out})
	}
	return jsm.Handled, nil
}

func (m *Module) handleIQ(ctx context.Context, inst *jsm.Instance, p bus.Packet) (jsm.Result, error) {
	gid, inGroupsNS := gidFromResource(p.To.Resource())

	if query := p.Node.Element("query", ns.DiscoItems); query != nil && !inGroupsNS {
		return jsm.Handled, m.discoItems(ctx, inst, p)
	}
	if !inGroupsNS {
		return jsm.Pass, nil
	}

	if query := p.Node.Element("query", ns.Register); query != nil {
		typ, _ := p.Node.Attribute("type", "")
		switch typ {
		case "get":
			return jsm.Handled, m.registerGet(ctx, inst, p, gid)
		case "set":
			return jsm.Handled, m.registerSet(ctx, inst, p, gid, query)
		}
	}
	if query := p.Node.Element("query", ns.DiscoInfo); query != nil {
		return jsm.Handled, m.discoInfo(ctx, inst, p, gid)
	}
	return jsm.Handled, bounce(ctx, inst, p, stanza.ErrServiceUnavailable(""))
}

// discoItems lists every configured group as a disco item under
// domain/groups, the modern (XEP-0030) replacement for mod_groups'
// jabber:iq:browse toplevel listing.
func (m *Module) discoItems(ctx context.Context, inst *jsm.Instance, p bus.Packet) error {
	reply := p.Node.Clone()
	reply.SetAttr("type", "", "result")
	reply.SetAttr("to", "", p.From.String())
	reply.SetAttr("from", "", p.To.String())
	reply.Children = nil
	query := xmldom.NewElement("query", ns.DiscoItems)
	for _, g := range m.groups {
		item := xmldom.NewElement("item", ns.DiscoItems)
		item.SetAttr("jid", "", inst.Domain.Bare().WithResource(resourcePrefix+"/"+g.ID).String())
		item.SetAttr("name", "", g.Name)
		query.AppendChild(item)
	}
	reply.AppendChild(query)
	return inst.Deliver(ctx, bus.Packet{Kind: bus.KindNormal, To: p.From, From: p.To, Node: reply})
}

func (m *Module) discoInfo(ctx context.Context, inst *jsm.Instance, p bus.Packet, gid string) error {
	g, known := m.groups[gid]
	if !known {
		return bounce(ctx, inst, p, stanza.ErrItemNotFound(""))
	}
	reply := p.Node.Clone()
	reply.SetAttr("type", "", "result")
	reply.SetAttr("to", "", p.From.String())
	reply.SetAttr("from", "", p.To.String())
	reply.Children = nil
	query := xmldom.NewElement("query", ns.DiscoInfo)
	identity := xmldom.NewElement("identity", ns.DiscoInfo)
	identity.SetAttr("category", "", "conference")
	identity.SetAttr("type", "", "list")
	identity.SetAttr("name", "", g.Name)
	query.AppendChild(identity)
	feature := xmldom.NewElement("feature", ns.DiscoInfo)
	feature.SetAttr("var", "", ns.Register)
	query.AppendChild(feature)
	reply.AppendChild(query)
	return inst.Deliver(ctx, bus.Packet{Kind: bus.KindNormal, To: p.From, From: p.To, Node: reply})
}

// registerGet answers a XEP-0077 registration query for the named
// group: whether the requester is already a member, and the group's
// instructions.
func (m *Module) registerGet(ctx context.Context, inst *jsm.Instance, p bus.Packet, gid string) error {
	g, known := m.groups[gid]
	if !known {
		return bounce(ctx, inst, p, stanza.ErrItemNotFound(""))
	}
	members, err := loadMembers(ctx, inst, inst.Domain.Bare(), gid)
	if err != nil {
		return err
	}
	_, registered := members[p.From.Bare().String()]

	reply := p.Node.Clone()
	reply.SetAttr("type", "", "result")
	reply.SetAttr("to", "", p.From.String())
	reply.SetAttr("from", "", p.To.String())
	reply.Children = nil
	query := xmldom.NewElement("query", ns.Register)
	if registered {
		query.AppendChild(xmldom.NewElement("registered", ns.Register))
	}
	instr := xmldom.NewElement("instructions", ns.Register)
	instr.AppendText("This will add the group to your roster as " + g.Name)
	query.AppendChild(instr)
	reply.AppendChild(query)
	return inst.Deliver(ctx, bus.Packet{Kind: bus.KindNormal, To: p.From, From: p.To, Node: reply})
}

// registerSet joins or (with a <remove/> child) leaves the group,
// mirroring its membership into the user's own roster as subscription
// "both" (added) or "remove", and pushes an updated roster item to every
// session that holds a roster, per spec.md's "members see each other
// as subscription=both contacts".
func (m *Module) registerSet(ctx context.Context, inst *jsm.Instance, p bus.Packet, gid string, query *xmldom.Node) error {
	g, known := m.groups[gid]
	if !known {
		return bounce(ctx, inst, p, stanza.ErrItemNotFound(""))
	}
	leaving := query.Element("remove", ns.Register) != nil
	groupJID := inst.Domain.Bare().WithResource(resourcePrefix + "/" + gid)

	members, err := loadMembers(ctx, inst, inst.Domain.Bare(), gid)
	if err != nil {
		return err
	}
	self := p.From.Bare()
	if leaving {
		delete(members, self.String())
	} else {
		members[self.String()] = self
	}
	if err := saveMembers(ctx, inst, inst.Domain.Bare(), gid, members); err != nil {
		return err
	}

	if u, ok := inst.GetUser(self); ok {
		if leaving {
			u.RemoveTrustee(groupJID.String())
			u.UnmarkSeen(groupJID.String())
		} else {
			u.AddTrustee(groupJID.String())
			u.MarkSeen(groupJID.String())
		}
	}
	pushRoster(ctx, inst, self, groupJID, g.Name, !leaving)
	m.mirrorAllMembers(ctx, inst, members, self, g.Name, !leaving)

	ack := p.Node.Clone()
	ack.SetAttr("type", "", "result")
	ack.SetAttr("to", "", p.From.String())
	ack.SetAttr("from", "", p.To.String())
	ack.Children = nil
	return inst.Deliver(ctx, bus.Packet{Kind: bus.KindNormal, To: p.From, From: p.To, Node: ack})
}

// mirrorAllMembers pushes a roster item for the newly-(un)joined user
// to every fellow member's own roster, and one for each fellow member
// to the user's own roster, so group membership shows up as mutual
// subscription=both, per spec.md.
func (m *Module) mirrorAllMembers(ctx context.Context, inst *jsm.Instance, members map[string]jid.JID, who jid.JID, groupName string, joined bool) {
	for key, member := range members {
		if key == who.String() {
			continue
		}
		pushPeerItem(ctx, inst, member, who, groupName, joined)
		pushPeerItem(ctx, inst, who, member, groupName, joined)
	}
}

func pushPeerItem(ctx context.Context, inst *jsm.Instance, owner, peer jid.JID, groupName string, present bool) {
	if u, ok := inst.GetUser(owner); ok {
		if present {
			u.AddTrustee(peer.String())
			u.MarkSeen(peer.String())
		} else {
			u.RemoveTrustee(peer.String())
			u.UnmarkSeen(peer.String())
		}
	}
	item := xmldom.NewElement("item", roster.RosterNS)
	item.SetAttr("jid", "", peer.String())
	if present {
		item.SetAttr("subscription", "", "both")
		item.SetAttr("name", "", peer.String())
		group := xmldom.NewElement("group", roster.RosterNS)
		group.AppendText(groupName)
		item.AppendChild(group)
	} else {
		item.SetAttr("subscription", "", "remove")
	}
	pushToOwner(ctx, inst, owner, item)
}

func pushRoster(ctx context.Context, inst *jsm.Instance, owner, groupJID jid.JID, groupName string, present bool) {
	pushPeerItem(ctx, inst, owner, groupJID, groupName, present)
}

func pushToOwner(ctx context.Context, inst *jsm.Instance, owner jid.JID, item *xmldom.Node) {
	u, ok := inst.GetUser(owner)
	if !ok {
		return
	}
	for _, s := range u.Sessions() {
		if !s.RosterRequested() {
			continue
		}
		push := xmldom.NewElement("iq", ns.Client)
		push.SetAttr("type", "", "set")
		rq := xmldom.NewElement("query", roster.RosterNS)
		rq.AppendChild(item.Clone())
		push.AppendChild(rq)
		_ = s.Deliver(ctx, push)
	}
}

// handleSessionOut tracks which session represents a member online (for
// message/presence fan-out) and broadcasts an undirected presence to
// fellow members, probing them back in return, per mod_groups_presence.
func (m *Module) handleSessionOut(ctx context.Context, inst *jsm.Instance, s *jsm.Session, data any) (jsm.Result, error) {
	p, ok := data.(bus.Packet)
	if !ok || p.Node == nil || p.Node.Local != "presence" || !p.To.IsZero() {
		return jsm.Ignore, nil
	}
	typ, _ := p.Node.Attribute("type", "")
	if typ != "" && typ != "unavailable" {
		return jsm.Pass, nil
	}

	gids := m.memberOf(ctx, inst, s.Owner.Bare)
	for _, gid := range gids {
		m.mu.Lock()
		if m.online[gid] == nil {
			m.online[gid] = make(map[string]*jsm.Session)
		}
		wasOnline := len(m.online[gid]) > 0
		if typ == "unavailable" {
			delete(m.online[gid], s.Owner.Bare.String())
		} else {
			m.online[gid][s.Owner.Bare.String()] = s
		}
		peers := make([]*jsm.Session, 0, len(m.online[gid]))
		for bare, peer := range m.online[gid] {
			if bare != s.Owner.Bare.String() {
				peers = append(peers, peer)
			}
		}
		m.mu.Unlock()

		if typ != "unavailable" {
			for _, peer := range peers {
				out := p.Node.Clone()
				out.SetAttr("from", "", s.Full.String())
				out.SetAttr("to", "", peer.Full.String())
				_ = inst.Deliver(ctx, bus.Packet{Kind: bus.KindNormal, To: peer.Full, From: s.Full, Node: out})
			}
			if !wasOnline {
				for _, peer := range peers {
					probe := xmldom.NewElement("presence", ns.Client)
					probe.SetAttr("type", "", "probe")
					probe.SetAttr("from", "", s.Full.String())
					probe.SetAttr("to", "", peer.Full.String())
					_ = inst.Deliver(ctx, bus.Packet{Kind: bus.KindNormal, To: peer.Full, From: s.Full, Node: probe})
				}
			}
		}
	}
	return jsm.Pass, nil
}

func (m *Module) handleSessionEnd(ctx context.Context, inst *jsm.Instance, s *jsm.Session, data any) (jsm.Result, error) {
	if len(s.Owner.Sessions()) > 1 {
		return jsm.Pass, nil
	}
	gids := m.memberOf(ctx, inst, s.Owner.Bare)
	m.mu.Lock()
	for _, gid := range gids {
		delete(m.online[gid], s.Owner.Bare.String())
	}
	m.mu.Unlock()
	return jsm.Pass, nil
}

func (m *Module) memberOf(ctx context.Context, inst *jsm.Instance, who jid.JID) []string {
	var gids []string
	for gid := range m.groups {
		members, err := loadMembers(ctx, inst, inst.Domain.Bare(), gid)
		if err != nil {
			continue
		}
		if _, ok := members[who.String()]; ok {
			gids = append(gids, gid)
		}
	}
	return gids
}

func hasDelay(n *xmldom.Node) bool {
	return n.Element("x", "jabber:x:delay") != nil || n.Element("delay", "urn:xmpp:delay") != nil
}

func bounce(ctx context.Context, inst *jsm.Instance, p bus.Packet, e *stanza.StanzaError) error {
	out := p.Node.Clone()
	out.SetAttr("type", "", "error")
	out.SetAttr("to", "", p.From.String())
	out.SetAttr("from", "", p.To.String())
	out.AppendChild(e.ToNode())
	return inst.Deliver(ctx, bus.Packet{Kind: bus.KindNormal, To: p.From, From: p.To, Node: out})
}

// groupNS folds the group id into the storage namespace rather than a
// JID resource: every xdb Backend in this tree keys storage strictly by
// (bare JID, ns) and discards any resource, so a third addressing axis
// (which group, under one domain-wide bare JID) has to live in ns
// instead, the same way xdb.Request's own ns string already names a
// storage bucket rather than a routing target.
func groupNS(gid string) string { return GroupsNS + ":" + gid }

func loadMembers(ctx context.Context, inst *jsm.Instance, domain jid.JID, gid string) (map[string]jid.JID, error) {
	resp, err := inst.XDB.Get(ctx, domain, groupNS(gid))
	if err != nil {
		return nil, err
	}
	if resp.Err != nil {
		return nil, resp.Err
	}
	members := make(map[string]jid.JID)
	if resp.Data == nil {
		return members, nil
	}
	for _, c := range resp.Data.Elements() {
		if c.Local != "user" {
			continue
		}
		jidStr, _ := c.Attribute("jid", "")
		j, err := jid.Parse(jidStr)
		if err != nil {
			continue
		}
		members[j.String()] = j
	}
	return members, nil
}

func saveMembers(ctx context.Context, inst *jsm.Instance, domain jid.JID, gid string, members map[string]jid.JID) error {
	root := xmldom.NewElement("group", GroupsNS)
	for _, j := range members {
		u := xmldom.NewElement("user", GroupsNS)
		u.SetAttr("jid", "", j.String())
		root.AppendChild(u)
	}
	resp, err := inst.XDB.Query(ctx, domain, xdb.Request{NS: groupNS(gid), Action: xdb.ActionSet, Data: root.Elements()})
	if err != nil {
		return err
	}
	return resp.Err
}

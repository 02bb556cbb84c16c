// Package privacy implements jsm's privacy-list module: the compiled
// jid/group/subscription/universal rule matcher, backed by xdb under
// jabber:iq:privacy.
package privacy

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"golang.org/x/text/secure/precis"

	"github.com/jabberd-go/jabberd/bus"
	"github.com/jabberd-go/jabberd/internal/ns"
	"github.com/jabberd-go/jabberd/jid"
	"github.com/jabberd-go/jabberd/jsm"
	"github.com/jabberd-go/jabberd/jsm/roster"
	"github.com/jabberd-go/jabberd/stanza"
	"github.com/jabberd-go/jabberd/xdb"
	xmldom "github.com/jabberd-go/jabberd/xml"
)

// PrivacyNS is the storage and IQ namespace for privacy lists.
const PrivacyNS = "jabber:iq:privacy"

// Action is what a matched rule does to a stanza.
type Action int

const (
	Allow Action = iota
	Deny
)

// Kind bits select which stanza shapes a rule applies to. A rule with
// no <message/><iq/><presence-in/><presence-out/> children applies to
// all of them (KindAll).
type Kind int

const (
	KindMessage Kind = 1 << iota
	KindIQ
	KindPresenceIn
	KindPresenceOut
)

const KindAll = KindMessage | KindIQ | KindPresenceIn | KindPresenceOut

// compiledRule is one (order, match, kinds, action) tuple. jidSet holds
// the literal target for a jid_match, or the roster-expanded membership
// for a group_match; subWant holds the target subscription value for a
// subscription_match; universal is set for a value-less item.
type compiledRule struct {
	order     int
	action    Action
	kinds     Kind
	jidSet    map[string]bool
	subWant   string
	universal bool
}

func (r compiledRule) matches(contact jid.JID, subscription string) bool {
	switch {
	case r.universal:
		return true
	case r.jidSet != nil:
		if r.jidSet[contact.Bare().String()] {
			return true
		}
		return r.jidSet[contact.Domain()]
	case r.subWant != "":
		return subscription == r.subWant
	}
	return false
}

// storedList is one named list: the raw <item/> elements as stored (so
// a get IQ can echo them back unchanged) plus the rules compiled from
// them, sorted by ascending order.
type storedList struct {
	raw   []*xmldom.Node
	rules []compiledRule
}

// Module wires privacy-list IQ handling and per-stanza filtering into a
// jsm.Instance.
type Module struct{}

func New() *Module { return &Module{} }

func (*Module) Name() string    { return "privacy" }
func (*Module) Version() string { return "1.0.0" }

// Dependencies orders privacy's compilation after roster's, since
// group_match rules expand against the owner's current roster groups.
func (*Module) Dependencies() []string { return []string{"roster"} }
func (*Module) Close() error           { return nil }

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

// activeScratchKey holds this session's explicit <active/> choice, if
// any; absent, the session follows the owner's persistent default.
const activeScratchKey jsm.ScratchKey = "privacy.active"

type activeState struct {
	explicit bool
	name     string
}

func activeFor(s *jsm.Session) activeState {
	if v, ok := s.Scratch.Get(activeScratchKey); ok {
		return v.(activeState)
	}
	return activeState{}
}

// effectiveList resolves the list name currently governing s's own
// traffic: its own explicit choice, or the owner's persistent default.
func (m *Module) effectiveList(ctx context.Context, inst *jsm.Instance, s *jsm.Session) (string, error) {
	st := activeFor(s)
	if st.explicit {
		return st.name, nil
	}
	_, defaultName, err := loadPrivacy(ctx, inst, s.Owner.Bare)
	if err != nil {
		return "", err
	}
	return defaultName, nil
}

// handleSessionIn serves privacy IQs addressed to this session and
// filters everything else arriving here (message/iq/presence-in
// directed at this specific full JID) against the session's own
// effective list.
func (m *Module) handleSessionIn(ctx context.Context, inst *jsm.Instance, s *jsm.Session, data any) (jsm.Result, error) {
	p, ok := data.(bus.Packet)
	if !ok || p.Node == nil {
		return jsm.Ignore, nil
	}
	if p.Node.Local == "iq" {
		if query := findChild(p.Node, "query", PrivacyNS); query != nil {
			return m.handleIQ(ctx, inst, s, p, query)
		}
	}

	kind, ok := kindOfIncoming(p.Node)
	if !ok || p.From.IsZero() || p.From.IsDomainOnly() || p.From.Bare().Equal(s.Owner.Bare) {
		return jsm.Ignore, nil
	}
	listName, err := m.effectiveList(ctx, inst, s)
	if err != nil {
		return jsm.Pass, err
	}
	if listName == "" {
		return jsm.Pass, nil
	}
	action, err := m.decide(ctx, inst, s.Owner.Bare, p.From, listName, kind)
	if err != nil {
		return jsm.Pass, err
	}
	return m.enforce(ctx, inst, p, action, kind)
}

// handleSessionOut filters everything a session sends against its own
// effective list, per the same rule set handleSessionIn reads.
func (m *Module) handleSessionOut(ctx context.Context, inst *jsm.Instance, s *jsm.Session, data any) (jsm.Result, error) {
	p, ok := data.(bus.Packet)
	if !ok || p.Node == nil {
		return jsm.Ignore, nil
	}
	kind, ok := kindOfOutgoing(p.Node)
	if !ok || p.To.IsZero() || p.To.IsDomainOnly() || p.To.Bare().Equal(s.Owner.Bare) {
		return jsm.Ignore, nil
	}
	listName, err := m.effectiveList(ctx, inst, s)
	if err != nil {
		return jsm.Pass, err
	}
	if listName == "" {
		return jsm.Pass, nil
	}
	action, err := m.decide(ctx, inst, s.Owner.Bare, p.To, listName, kind)
	if err != nil {
		return jsm.Pass, err
	}
	return m.enforce(ctx, inst, p, action, kind)
}

// handleDeliver filters bare-JID-addressed traffic against the owner's
// default list when no session is live to apply its own. A live
// session with its own active list is reached through
// handleSessionIn/Out instead, since EventDeliver addresses the User
// as a whole rather than any one resource.
func (m *Module) handleDeliver(ctx context.Context, inst *jsm.Instance, data any) (jsm.Result, error) {
	ev, ok := data.(jsm.DeliverEvent)
	if !ok || ev.Packet.Node == nil {
		return jsm.Ignore, nil
	}
	if len(ev.User.Sessions()) > 0 {
		return jsm.Pass, nil
	}
	kind, ok := kindOfIncoming(ev.Packet.Node)
	if !ok {
		return jsm.Pass, nil
	}
	_, defaultName, err := loadPrivacy(ctx, inst, ev.User.Bare)
	if err != nil {
		return jsm.Pass, err
	}
	if defaultName == "" {
		return jsm.Pass, nil
	}
	action, err := m.decide(ctx, inst, ev.User.Bare, ev.Packet.From, defaultName, kind)
	if err != nil {
		return jsm.Pass, err
	}
	return m.enforce(ctx, inst, ev.Packet, action, kind)
}

// enforce applies a decision: Allow passes the stanza on unchanged;
// Deny drops presence silently and bounces message/iq with
// service-unavailable.
func (m *Module) enforce(ctx context.Context, inst *jsm.Instance, p bus.Packet, action Action, kind Kind) (jsm.Result, error) {
	if action == Allow {
		return jsm.Pass, nil
	}
	if kind == KindPresenceIn || kind == KindPresenceOut {
		return jsm.Handled, nil
	}
	return jsm.Handled, bounce(ctx, inst, p)
}

func bounce(ctx context.Context, inst *jsm.Instance, p bus.Packet) error {
	e := stanza.NewStanzaError(stanza.ErrorTypeCancel, stanza.ErrorServiceUnavailable, "")
	out := p.Node.Clone()
	out.SetAttr("type", "", "error")
	out.AppendChild(e.ToNode())
	return inst.Deliver(ctx, bus.Packet{Kind: bus.KindNormal, To: p.From, From: p.To, Node: out})
}

func kindOfOutgoing(n *xmldom.Node) (Kind, bool) {
	switch n.Local {
	case "message":
		return KindMessage, true
	case "iq":
		return KindIQ, true
	case "presence":
		return KindPresenceOut, true
	}
	return 0, false
}

func kindOfIncoming(n *xmldom.Node) (Kind, bool) {
	switch n.Local {
	case "message":
		return KindMessage, true
	case "iq":
		return KindIQ, true
	case "presence":
		return KindPresenceIn, true
	}
	return 0, false
}

// decide loads owner's named list fresh from xdb and walks its rules in
// order, exactly mirroring jsm/roster's load-on-every-access shape
// rather than caching a compiled list that an edit would have to
// invalidate: an edit this way takes effect immediately, without
// requiring the affected session to re-login.
func (m *Module) decide(ctx context.Context, inst *jsm.Instance, owner, contact jid.JID, listName string, kind Kind) (Action, error) {
	doc, _, err := loadPrivacy(ctx, inst, owner)
	if err != nil {
		return Allow, err
	}
	list, ok := doc[listName]
	if !ok {
		return Allow, nil
	}
	return decideFromRules(ctx, inst, owner, contact, list.rules, kind)
}

// decideFromRules walks rules directly rather than loading a named list
// from xdb first, so a caller comparing two rule sets against the same
// contact (presenceVisibilityDelta's before/after check) doesn't pay for
// a redundant xdb round trip per side.
func decideFromRules(ctx context.Context, inst *jsm.Instance, owner, contact jid.JID, rules []compiledRule, kind Kind) (Action, error) {
	subscription := ""
	haveSubscription := false
	for _, r := range rules {
		if r.kinds&kind == 0 {
			continue
		}
		if r.subWant != "" && !haveSubscription {
			var err error
			subscription, err = subscriptionOf(ctx, inst, owner, contact)
			if err != nil {
				return Allow, err
			}
			haveSubscription = true
		}
		if r.matches(contact, subscription) {
			return r.action, nil
		}
	}
	return Allow, nil
}

func subscriptionOf(ctx context.Context, inst *jsm.Instance, owner, contact jid.JID) (string, error) {
	resp, err := inst.XDB.Get(ctx, owner, roster.RosterNS)
	if err != nil {
		return "", err
	}
	if resp.Err != nil {
		return "", resp.Err
	}
	if resp.Data == nil {
		return "none", nil
	}
	for _, c := range resp.Data.Elements() {
		if c.Local != "item" {
			continue
		}
		if jidStr, _ := c.Attribute("jid", ""); jidStr == contact.Bare().String() {
			if sub, ok := c.Attribute("subscription", ""); ok {
				return sub, nil
			}
			return "none", nil
		}
	}
	return "none", nil
}

// handleIQ serves get/set on the jabber:iq:privacy namespace.
func (m *Module) handleIQ(ctx context.Context, inst *jsm.Instance, s *jsm.Session, p bus.Packet, query *xmldom.Node) (jsm.Result, error) {
	typ, _ := p.Node.Attribute("type", "")
	switch typ {
	case "get":
		return jsm.Handled, m.handleGet(ctx, inst, s, p, query)
	case "set":
		return jsm.Handled, m.handleSet(ctx, inst, s, p, query)
	}
	return jsm.Pass, nil
}

func (m *Module) handleGet(ctx context.Context, inst *jsm.Instance, s *jsm.Session, p bus.Packet, query *xmldom.Node) error {
	doc, defaultName, err := loadPrivacy(ctx, inst, s.Owner.Bare)
	if err != nil {
		return err
	}

	if name, _ := listNameChild(query, "list"); name != "" {
		list, ok := doc[name]
		if !ok {
			return s.Deliver(ctx, errorReply(p.Node, stanza.ErrorTypeCancel, stanza.ErrorItemNotFound))
		}
		reply := xmldom.NewElement("iq", ns.Server)
		reply.SetAttr("type", "", "result")
		copyID(reply, p.Node)
		resultQuery := xmldom.NewElement("query", PrivacyNS)
		listNode := xmldom.NewElement("list", PrivacyNS)
		listNode.SetAttr("name", "", name)
		for _, it := range list.raw {
			listNode.AppendChild(it.Clone())
		}
		resultQuery.AppendChild(listNode)
		reply.AppendChild(resultQuery)
		return s.Deliver(ctx, reply)
	}

	reply := xmldom.NewElement("iq", ns.Server)
	reply.SetAttr("type", "", "result")
	copyID(reply, p.Node)
	resultQuery := xmldom.NewElement("query", PrivacyNS)
	names := make([]string, 0, len(doc))
	for name := range doc {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		listNode := xmldom.NewElement("list", PrivacyNS)
		listNode.SetAttr("name", "", name)
		resultQuery.AppendChild(listNode)
	}
	if defaultName != "" {
		d := xmldom.NewElement("default", PrivacyNS)
		d.SetAttr("name", "", defaultName)
		resultQuery.AppendChild(d)
	}
	if st := activeFor(s); st.explicit {
		a := xmldom.NewElement("active", PrivacyNS)
		if st.name != "" {
			a.SetAttr("name", "", st.name)
		}
		resultQuery.AppendChild(a)
	}
	reply.AppendChild(resultQuery)
	return s.Deliver(ctx, reply)
}

func (m *Module) handleSet(ctx context.Context, inst *jsm.Instance, s *jsm.Session, p bus.Packet, query *xmldom.Node) error {
	for _, child := range query.Elements() {
		switch child.Local {
		case "active":
			if err := m.setActive(ctx, inst, s, child); err != nil {
				return s.Deliver(ctx, conflictOrErr(p.Node, err))
			}

		case "default":
			if err := m.setDefault(ctx, inst, s, child); err != nil {
				return s.Deliver(ctx, conflictOrErr(p.Node, err))
			}

		case "list":
			if err := m.editOrDeleteList(ctx, inst, s, child); err != nil {
				return s.Deliver(ctx, conflictOrErr(p.Node, err))
			}
		}
	}
	ack := p.Node.Clone()
	ack.SetAttr("type", "", "result")
	ack.Children = nil
	return s.Deliver(ctx, ack)
}

var errConflict = fmt.Errorf("privacy: list in use by another session")

func conflictOrErr(req *xmldom.Node, err error) *xmldom.Node {
	if err == errConflict {
		return errorReply(req, stanza.ErrorTypeCancel, stanza.ErrorConflict)
	}
	return errorReply(req, stanza.ErrorTypeCancel, stanza.ErrorItemNotFound)
}

// setActive changes s's own explicit active-list choice; unlike
// setDefault and editOrDeleteList, this only ever affects s itself, so
// the resulting presence delta (if any) is computed against just that
// one session.
func (m *Module) setActive(ctx context.Context, inst *jsm.Instance, s *jsm.Session, child *xmldom.Node) error {
	name, hasName := child.Attribute("name", "")
	doc, _, err := loadPrivacy(ctx, inst, s.Owner.Bare)
	if err != nil {
		return err
	}
	if hasName && name != "" {
		if _, ok := doc[name]; !ok {
			return fmt.Errorf("privacy: no such list %q", name)
		}
	} else {
		name = ""
	}

	oldName, err := m.effectiveList(ctx, inst, s)
	if err != nil {
		return err
	}
	if oldName == name {
		s.Scratch.Set(activeScratchKey, activeState{explicit: true, name: name})
		return nil
	}
	var oldRules, newRules []compiledRule
	if l, ok := doc[oldName]; ok {
		oldRules = l.rules
	}
	if l, ok := doc[name]; ok {
		newRules = l.rules
	}

	s.Scratch.Set(activeScratchKey, activeState{explicit: true, name: name})
	return m.presenceVisibilityDelta(ctx, inst, s.Owner.Bare, []*jsm.Session{s}, oldRules, newRules)
}

func (m *Module) setDefault(ctx context.Context, inst *jsm.Instance, s *jsm.Session, child *xmldom.Node) error {
	name, hasName := child.Attribute("name", "")
	doc, oldDefault, err := loadPrivacy(ctx, inst, s.Owner.Bare)
	if err != nil {
		return err
	}
	if hasName && name != "" {
		if _, ok := doc[name]; !ok {
			return fmt.Errorf("privacy: no such list %q", name)
		}
	} else {
		name = ""
	}
	if oldDefault != "" && oldDefault != name {
		inUse, err := m.otherSessionEffective(ctx, inst, s, oldDefault)
		if err != nil {
			return err
		}
		if inUse {
			return errConflict
		}
	}
	if oldDefault == name {
		return savePrivacy(ctx, inst, s.Owner.Bare, doc, name)
	}

	var oldRules, newRules []compiledRule
	if l, ok := doc[oldDefault]; ok {
		oldRules = l.rules
	}
	if l, ok := doc[name]; ok {
		newRules = l.rules
	}
	affected := defaultGovernedSessions(s.Owner)

	if err := savePrivacy(ctx, inst, s.Owner.Bare, doc, name); err != nil {
		return err
	}
	return m.presenceVisibilityDelta(ctx, inst, s.Owner.Bare, affected, oldRules, newRules)
}

func (m *Module) editOrDeleteList(ctx context.Context, inst *jsm.Instance, s *jsm.Session, child *xmldom.Node) error {
	name, _ := child.Attribute("name", "")
	if name == "" {
		return fmt.Errorf("privacy: list element missing name")
	}
	doc, defaultName, err := loadPrivacy(ctx, inst, s.Owner.Bare)
	if err != nil {
		return err
	}

	var oldRules []compiledRule
	if l, ok := doc[name]; ok {
		oldRules = l.rules
	}
	// Sessions currently governed by name, captured before the edit:
	// effectiveList's default lookup must still see the pre-edit
	// doc/defaultName, since deleting name can clear defaultName below.
	affected, err := m.sessionsUsing(ctx, inst, s.Owner, name)
	if err != nil {
		return err
	}

	items := itemChildren(child)
	if len(items) == 0 {
		inUse, err := m.otherSessionEffective(ctx, inst, s, name)
		if err != nil {
			return err
		}
		if inUse {
			return errConflict
		}
		delete(doc, name)
		if defaultName == name {
			defaultName = ""
		}
		if err := savePrivacy(ctx, inst, s.Owner.Bare, doc, defaultName); err != nil {
			return err
		}
		return m.presenceVisibilityDelta(ctx, inst, s.Owner.Bare, affected, oldRules, nil)
	}

	rules, err := compileRules(ctx, inst, s.Owner.Bare, items)
	if err != nil {
		return err
	}
	doc[name] = &storedList{raw: items, rules: rules}
	if err := savePrivacy(ctx, inst, s.Owner.Bare, doc, defaultName); err != nil {
		return err
	}
	return m.presenceVisibilityDelta(ctx, inst, s.Owner.Bare, affected, oldRules, rules)
}

// otherSessionEffective reports whether any of owner's live sessions
// other than s currently has name as its effective list.
func (m *Module) otherSessionEffective(ctx context.Context, inst *jsm.Instance, s *jsm.Session, name string) (bool, error) {
	for _, other := range s.Owner.Sessions() {
		if other == s {
			continue
		}
		eff, err := m.effectiveList(ctx, inst, other)
		if err != nil {
			return false, err
		}
		if eff == name {
			return true, nil
		}
	}
	return false, nil
}

// sessionsUsing returns owner's live sessions whose effective list is
// currently name, i.e. the sessions a mutation of that list's rules
// (or its deletion) will actually change behavior for.
func (m *Module) sessionsUsing(ctx context.Context, inst *jsm.Instance, owner *jsm.User, name string) ([]*jsm.Session, error) {
	var out []*jsm.Session
	for _, sess := range owner.Sessions() {
		eff, err := m.effectiveList(ctx, inst, sess)
		if err != nil {
			return nil, err
		}
		if eff == name {
			out = append(out, sess)
		}
	}
	return out, nil
}

// defaultGovernedSessions returns owner's live sessions that follow the
// persistent default rather than an explicit <active/> choice — the
// sessions a setDefault change actually affects.
func defaultGovernedSessions(owner *jsm.User) []*jsm.Session {
	var out []*jsm.Session
	for _, sess := range owner.Sessions() {
		if !activeFor(sess).explicit {
			out = append(out, sess)
		}
	}
	return out
}

// presenceVisibilityDelta handles the case where a privacy-rule change
// (activating, defaulting, or editing a list) changes how presence-out
// is decided for a contact: the affected sessions proactively tell that
// contact rather than wait for the next outgoing presence. A contact
// newly denied gets an unavailable; a contact newly allowed gets a
// probe and the session's current presence re-broadcast, matching how
// jsm/presence itself reacts to an unavailable-to-available transition.
func (m *Module) presenceVisibilityDelta(ctx context.Context, inst *jsm.Instance, owner jid.JID, sessions []*jsm.Session, oldRules, newRules []compiledRule) error {
	if len(sessions) == 0 {
		return nil
	}
	contacts, err := rosterContacts(ctx, inst, owner)
	if err != nil {
		return err
	}
	for _, contact := range contacts {
		wasAllowed, err := decideFromRules(ctx, inst, owner, contact, oldRules, KindPresenceOut)
		if err != nil {
			return err
		}
		nowAllowed, err := decideFromRules(ctx, inst, owner, contact, newRules, KindPresenceOut)
		if err != nil {
			return err
		}
		if wasAllowed == nowAllowed {
			continue
		}
		for _, sess := range sessions {
			if nowAllowed == Allow {
				sendPresence(ctx, inst, sess, contact, "probe")
				if last, available := sess.LastPresence(); available && last != nil {
					out := last.Clone()
					out.SetAttr("to", "", contact.String())
					_ = inst.Deliver(ctx, bus.Packet{Kind: bus.KindNormal, To: contact, From: sess.Full, Node: out})
				}
				continue
			}
			sendPresence(ctx, inst, sess, contact, "unavailable")
		}
	}
	return nil
}

func sendPresence(ctx context.Context, inst *jsm.Instance, s *jsm.Session, contact jid.JID, typ string) {
	n := xmldom.NewElement("presence", ns.Server)
	n.SetAttr("type", "", typ)
	n.SetAttr("to", "", contact.String())
	_ = inst.Deliver(ctx, bus.Packet{Kind: bus.KindNormal, To: contact, From: s.Full, Node: n})
}

// rosterContacts returns the bare JIDs in owner's roster, the candidate
// set presenceVisibilityDelta checks for a block/unblock transition; a
// non-roster address is never probed or notified.
func rosterContacts(ctx context.Context, inst *jsm.Instance, owner jid.JID) ([]jid.JID, error) {
	resp, err := inst.XDB.Get(ctx, owner, roster.RosterNS)
	if err != nil {
		return nil, err
	}
	if resp.Err != nil {
		return nil, resp.Err
	}
	if resp.Data == nil {
		return nil, nil
	}
	var out []jid.JID
	for _, c := range resp.Data.Elements() {
		if c.Local != "item" {
			continue
		}
		jidStr, _ := c.Attribute("jid", "")
		j, err := jid.Parse(jidStr)
		if err != nil {
			continue
		}
		out = append(out, j)
	}
	return out, nil
}

// compileRules builds one compiledRule per <item/>, sorted by ascending
// order, expanding any group_match rule against owner's current roster.
func compileRules(ctx context.Context, inst *jsm.Instance, owner jid.JID, items []*xmldom.Node) ([]compiledRule, error) {
	rules := make([]compiledRule, 0, len(items))
	for _, item := range items {
		orderStr, _ := item.Attribute("order", "")
		order, err := strconv.Atoi(orderStr)
		if err != nil {
			return nil, fmt.Errorf("privacy: invalid order %q: %w", orderStr, err)
		}
		actionAttr, _ := item.Attribute("action", "")
		action := Allow
		if actionAttr == "deny" {
			action = Deny
		}

		r := compiledRule{order: order, action: action, kinds: kindsOf(item)}
		typ, hasType := item.Attribute("type", "")
		value, _ := item.Attribute("value", "")
		switch {
		case !hasType:
			r.universal = true
		case typ == "jid":
			target, err := jid.Parse(value)
			if err != nil {
				return nil, fmt.Errorf("privacy: invalid jid value %q: %w", value, err)
			}
			if target.IsDomainOnly() {
				r.jidSet = map[string]bool{target.Domain(): true}
			} else {
				r.jidSet = map[string]bool{target.Bare().String(): true}
			}
		case typ == "group":
			set, err := expandGroup(ctx, inst, owner, value)
			if err != nil {
				return nil, err
			}
			r.jidSet = set
		case typ == "subscription":
			r.subWant = value
		default:
			return nil, fmt.Errorf("privacy: unknown match type %q", typ)
		}
		rules = append(rules, r)
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].order < rules[j].order })
	return rules, nil
}

// expandGroup reads owner's roster and returns the bare JIDs of every
// item carrying group (precis-normalized, like resourceprep would),
// per the compile-time group expansion a group_match rule requires.
func expandGroup(ctx context.Context, inst *jsm.Instance, owner jid.JID, group string) (map[string]bool, error) {
	normalized, err := precis.OpaqueString.String(group)
	if err != nil {
		return nil, fmt.Errorf("privacy: invalid group name %q: %w", group, err)
	}
	resp, err := inst.XDB.Get(ctx, owner, roster.RosterNS)
	if err != nil {
		return nil, err
	}
	if resp.Err != nil {
		return nil, resp.Err
	}
	set := make(map[string]bool)
	if resp.Data == nil {
		return set, nil
	}
	for _, c := range resp.Data.Elements() {
		if c.Local != "item" {
			continue
		}
		jidStr, _ := c.Attribute("jid", "")
		for _, g := range c.Elements() {
			if g.Local != "group" {
				continue
			}
			normGroup, err := precis.OpaqueString.String(g.GetData())
			if err == nil && normGroup == normalized {
				set[jidStr] = true
			}
		}
	}
	return set, nil
}

func kindsOf(item *xmldom.Node) Kind {
	var k Kind
	for _, c := range item.Elements() {
		switch c.Local {
		case "message":
			k |= KindMessage
		case "iq":
			k |= KindIQ
		case "presence-in":
			k |= KindPresenceIn
		case "presence-out":
			k |= KindPresenceOut
		}
	}
	if k == 0 {
		return KindAll
	}
	return k
}

func itemChildren(list *xmldom.Node) []*xmldom.Node {
	var items []*xmldom.Node
	for _, c := range list.Elements() {
		if c.Local == "item" {
			items = append(items, c)
		}
	}
	return items
}

func listNameChild(query *xmldom.Node, local string) (string, bool) {
	for _, c := range query.Elements() {
		if c.Local == local {
			name, ok := c.Attribute("name", "")
			return name, ok
		}
	}
	return "", false
}

func findChild(n *xmldom.Node, local, nsURI string) *xmldom.Node {
	for _, c := range n.Elements() {
		if c.Local == local && c.NS == nsURI {
			return c
		}
	}
	return nil
}

func copyID(dst, src *xmldom.Node) {
	if id, ok := src.Attribute("id", ""); ok {
		dst.SetAttr("id", "", id)
	}
}

func errorReply(req *xmldom.Node, errType, condition string) *xmldom.Node {
	reply := req.Clone()
	reply.SetAttr("type", "", "error")
	reply.AppendChild(stanza.NewStanzaError(errType, condition, "").ToNode())
	return reply
}

// loadPrivacy reads owner's jabber:iq:privacy fragment: one <list
// name='X' default='default'?> element per list, the default marker
// being wrapper-private (never echoed on the wire) and recovered here
// as a plain string.
func loadPrivacy(ctx context.Context, inst *jsm.Instance, owner jid.JID) (map[string]*storedList, string, error) {
	resp, err := inst.XDB.Get(ctx, owner, PrivacyNS)
	if err != nil {
		return nil, "", err
	}
	if resp.Err != nil {
		return nil, "", resp.Err
	}
	doc := make(map[string]*storedList)
	defaultName := ""
	if resp.Data == nil {
		return doc, "", nil
	}
	for _, c := range resp.Data.Elements() {
		if c.Local != "list" {
			continue
		}
		name, _ := c.Attribute("name", "")
		if name == "" {
			continue
		}
		items := itemChildren(c)
		rules, err := compileRules(ctx, inst, owner, items)
		if err != nil {
			return nil, "", err
		}
		doc[name] = &storedList{raw: items, rules: rules}
		if v, _ := c.Attribute("default", ""); v == "default" {
			defaultName = name
		}
	}
	return doc, defaultName, nil
}

func savePrivacy(ctx context.Context, inst *jsm.Instance, owner jid.JID, doc map[string]*storedList, defaultName string) error {
	root := xmldom.NewElement("privacy", PrivacyNS)
	for name, list := range doc {
		listNode := xmldom.NewElement("list", PrivacyNS)
		listNode.SetAttr("name", "", name)
		if name == defaultName {
			listNode.SetAttr("default", "", "default")
		}
		for _, it := range list.raw {
			listNode.AppendChild(it.Clone())
		}
		root.AppendChild(listNode)
	}
	resp, err := inst.XDB.Query(ctx, owner, xdb.Request{
		NS:     PrivacyNS,
		Action: xdb.ActionSet,
		Data:   root.Elements(),
	})
	if err != nil {
		return err
	}
	return resp.Err
}

package groups

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jabberd-go/jabberd/bus"
	"github.com/jabberd-go/jabberd/internal/ns"
	"github.com/jabberd-go/jabberd/jid"
	"github.com/jabberd-go/jabberd/jsm"
	"github.com/jabberd-go/jabberd/jsm/roster"
	"github.com/jabberd-go/jabberd/xdb"
	xmldom "github.com/jabberd-go/jabberd/xml"
)

// harness wires an Instance (with roster and groups loaded) to an
// in-memory xdb backend, the same shape jsm/roster's own test harness
// uses.
type harness struct {
	inst      *jsm.Instance
	delivered []bus.Packet
}

func newHarness(t *testing.T, groupList []Group) *harness {
	t.Helper()
	domain, err := jid.Parse("example.com")
	require.NoError(t, err)

	backend := xdb.NewMemoryBackend()
	h := &harness{}

	var client *xdb.Client
	xdbInst := xdb.NewInstance(backend, func(ctx context.Context, p bus.Packet) error {
		_, err := client.HandlePacket(ctx, p)
		return err
	}, nil)
	client = xdb.NewClient(domain, func(ctx context.Context, p bus.Packet) error {
		_, err := xdbInst.HandlePacket(ctx, p)
		return err
	}, nil)

	deliver := func(ctx context.Context, p bus.Packet) error {
		h.delivered = append(h.delivered, p)
		return nil
	}

	inst := jsm.NewInstance(domain, deliver, client)
	require.NoError(t, inst.LoadModule(roster.New(nil)))
	require.NoError(t, inst.LoadModule(New(groupList)))
	require.NoError(t, inst.Start(context.Background()))
	h.inst = inst
	return h
}

func newSession(t *testing.T, h *harness, full string) *jsm.Session {
	t.Helper()
	j, err := jid.Parse(full)
	require.NoError(t, err)
	return h.inst.NewSession(context.Background(), j)
}

func groupAddr(t *testing.T, gid string) jid.JID {
	t.Helper()
	return jid.MustParse("example.com").WithResource(resourcePrefix + "/" + gid)
}

func registerSet(t *testing.T, h *harness, s *jsm.Session, gid string, leave bool) *xmldom.Node {
	t.Helper()
	set := xmldom.NewElement("iq", ns.Client)
	set.SetAttr("type", "", "set")
	set.SetAttr("id", "", "r1")
	set.SetAttr("to", "", groupAddr(t, gid).String())
	set.SetAttr("from", "", s.Full.String())
	query := xmldom.NewElement("query", ns.Register)
	if leave {
		query.AppendChild(xmldom.NewElement("remove", ns.Register))
	}
	set.AppendChild(query)

	res, err := h.inst.HandlePacket(context.Background(), bus.Packet{
		Node: set,
		To:   groupAddr(t, gid),
		From: s.Full,
	})
	require.NoError(t, err)
	require.Equal(t, bus.ResultDone, res)
	require.NotEmpty(t, h.delivered)
	return h.delivered[len(h.delivered)-1].Node
}

func TestRegisterSetJoinMirrorsRosterBothWays(t *testing.T) {
	h := newHarness(t, []Group{{ID: "g1", Name: "Test Group"}})
	alice := newSession(t, h, "alice@example.com/home")
	bob := newSession(t, h, "bob@example.com/work")

	ack := registerSet(t, h, alice, "g1", false)
	assert.Equal(t, "result", mustAttr(t, ack, "type"))

	ack = registerSet(t, h, bob, "g1", false)
	assert.Equal(t, "result", mustAttr(t, ack, "type"))

	members, err := loadMembers(context.Background(), h.inst, jid.MustParse("example.com"), "g1")
	require.NoError(t, err)
	require.Contains(t, members, "alice@example.com")
	require.Contains(t, members, "bob@example.com")

	assert.True(t, alice.Owner.IsTrustee("bob@example.com"))
	assert.True(t, bob.Owner.IsTrustee("alice@example.com"))
	assert.True(t, alice.Owner.HasSeen("bob@example.com"))
}

func TestRegisterSetLeaveRemovesMembershipAndTrust(t *testing.T) {
	h := newHarness(t, []Group{{ID: "g1", Name: "Test Group"}})
	alice := newSession(t, h, "alice@example.com/home")
	bob := newSession(t, h, "bob@example.com/work")

	registerSet(t, h, alice, "g1", false)
	registerSet(t, h, bob, "g1", false)
	registerSet(t, h, alice, "g1", true)

	members, err := loadMembers(context.Background(), h.inst, jid.MustParse("example.com"), "g1")
	require.NoError(t, err)
	assert.NotContains(t, members, "alice@example.com")
	assert.Contains(t, members, "bob@example.com")
	assert.False(t, bob.Owner.IsTrustee("alice@example.com"))
}

func TestRegisterGetReportsMembership(t *testing.T) {
	h := newHarness(t, []Group{{ID: "g1", Name: "Test Group"}})
	alice := newSession(t, h, "alice@example.com/home")
	registerSet(t, h, alice, "g1", false)

	get := xmldom.NewElement("iq", ns.Client)
	get.SetAttr("type", "", "get")
	get.SetAttr("id", "", "g1")
	get.AppendChild(xmldom.NewElement("query", ns.Register))

	res, err := h.inst.HandlePacket(context.Background(), bus.Packet{
		Node: get,
		To:   groupAddr(t, "g1"),
		From: alice.Full,
	})
	require.NoError(t, err)
	require.Equal(t, bus.ResultDone, res)

	reply := h.delivered[len(h.delivered)-1].Node
	query := reply.Element("query", ns.Register)
	require.NotNil(t, query)
	assert.NotNil(t, query.Element("registered", ns.Register))
}

func TestMessageBroadcastsToOnlineMembersOnly(t *testing.T) {
	h := newHarness(t, []Group{{ID: "g1", Name: "Test Group"}})
	alice := newSession(t, h, "alice@example.com/home")
	bob := newSession(t, h, "bob@example.com/work")
	registerSet(t, h, alice, "g1", false)
	registerSet(t, h, bob, "g1", false)

	avail := xmldom.NewElement("presence", ns.Client)
	_, err := alice.Dispatch(context.Background(), jsm.SessionEventOut, bus.Packet{Node: avail, To: jid.JID{}, From: alice.Full})
	require.NoError(t, err)
	_, err = bob.Dispatch(context.Background(), jsm.SessionEventOut, bus.Packet{Node: avail, To: jid.JID{}, From: bob.Full})
	require.NoError(t, err)

	h.delivered = nil
	msg := xmldom.NewElement("message", ns.Client)
	msg.SetAttr("type", "", "groupchat")
	body := xmldom.NewElement("body", ns.Client)
	body.AppendText("hello group")
	msg.AppendChild(body)

	res, err := h.inst.HandlePacket(context.Background(), bus.Packet{
		Node: msg,
		To:   groupAddr(t, "g1"),
		From: alice.Full,
	})
	require.NoError(t, err)
	require.Equal(t, bus.ResultDone, res)

	var toBob *xmldom.Node
	for _, p := range h.delivered {
		if p.To.Equal(bob.Full) {
			toBob = p.Node
		}
	}
	require.NotNil(t, toBob)
	assert.Equal(t, groupAddr(t, "g1").String(), mustAttr(t, toBob, "from"))
}

func TestMessageFromNonWriterIsBounced(t *testing.T) {
	h := newHarness(t, []Group{{ID: "g1", Name: "Moderated", Writers: map[string]bool{"bob@example.com": true}}})
	alice := newSession(t, h, "alice@example.com/home")
	registerSet(t, h, alice, "g1", false)

	msg := xmldom.NewElement("message", ns.Client)
	msg.SetAttr("type", "", "groupchat")

	res, err := h.inst.HandlePacket(context.Background(), bus.Packet{
		Node: msg,
		To:   groupAddr(t, "g1"),
		From: alice.Full,
	})
	require.NoError(t, err)
	require.Equal(t, bus.ResultDone, res)

	bounced := h.delivered[len(h.delivered)-1].Node
	assert.Equal(t, "error", mustAttr(t, bounced, "type"))
}

func TestDiscoItemsListsConfiguredGroups(t *testing.T) {
	h := newHarness(t, []Group{{ID: "g1", Name: "Group One"}, {ID: "g2", Name: "Group Two"}})
	alice := newSession(t, h, "alice@example.com/home")

	get := xmldom.NewElement("iq", ns.Client)
	get.SetAttr("type", "", "get")
	get.AppendChild(xmldom.NewElement("query", ns.DiscoItems))

	res, err := h.inst.HandlePacket(context.Background(), bus.Packet{
		Node: get,
		To:   jid.MustParse("example.com").WithResource(resourcePrefix),
		From: alice.Full,
	})
	require.NoError(t, err)
	require.Equal(t, bus.ResultDone, res)

	reply := h.delivered[len(h.delivered)-1].Node
	query := reply.Element("query", ns.DiscoItems)
	require.NotNil(t, query)
	assert.Len(t, query.Elements(), 2)
}

func mustAttr(t *testing.T, n *xmldom.Node, local string) string {
	t.Helper()
	v, ok := n.Attribute(local, "")
	require.True(t, ok, "missing attribute %q", local)
	return v
}

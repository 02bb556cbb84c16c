package offline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jabberd-go/jabberd/bus"
	"github.com/jabberd-go/jabberd/internal/ns"
	"github.com/jabberd-go/jabberd/jid"
	"github.com/jabberd-go/jabberd/jsm"
	"github.com/jabberd-go/jabberd/jsm/presence"
	"github.com/jabberd-go/jabberd/jsm/privacy"
	"github.com/jabberd-go/jabberd/jsm/roster"
	"github.com/jabberd-go/jabberd/xdb"
	xmldom "github.com/jabberd-go/jabberd/xml"
)

// harness wires a real xdb memory backend behind an Instance, looping
// delivery between xdb.Client/xdb.Instance the same way a bus.Bus would
// route by To/From, per the pattern established in jsm/roster's tests.
// offline declares roster/presence/privacy as dependencies, so all three
// are loaded alongside it or Initialize fails with a missing-dependency
// error.
type harness struct {
	inst      *jsm.Instance
	delivered []bus.Packet
	domain    jid.JID
}

func newHarness(t *testing.T, policy map[string]StoreDecision) *harness {
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
	require.NoError(t, inst.LoadModule(presence.New()))
	require.NoError(t, inst.LoadModule(privacy.New()))
	require.NoError(t, inst.LoadModule(New(policy)))
	require.NoError(t, inst.Start(context.Background()))
	h.inst = inst
	h.domain = domain
	return h
}

func messageNode(typ string) *xmldom.Node {
	n := xmldom.NewElement("message", ns.Server)
	if typ != "" {
		n.SetAttr("type", "", typ)
	}
	return n
}

// offlineSessionOwner starts and immediately ends a session for full,
// leaving a *jsm.User with zero live sessions to exercise the
// no-session delivery path without ever opening a real connection.
func offlineSessionOwner(t *testing.T, h *harness, full string) *jsm.User {
	t.Helper()
	j, err := jid.Parse(full)
	require.NoError(t, err)
	s := h.inst.NewSession(context.Background(), j)
	owner := s.Owner
	h.inst.EndSession(context.Background(), s)
	require.Empty(t, owner.Sessions())
	return owner
}

func TestMessageIsShelvedWhenRecipientHasNoSession(t *testing.T) {
	h := newHarness(t, nil)
	alice := offlineSessionOwner(t, h, "alice@example.com/home")

	bob, err := jid.Parse("bob@example.com")
	require.NoError(t, err)
	res, err := h.inst.Dispatch(context.Background(), jsm.EventDeliver, jsm.DeliverEvent{
		User:   alice,
		Packet: bus.Packet{Node: messageNode(""), To: alice.Bare, From: bob},
	})
	require.NoError(t, err)
	assert.Equal(t, jsm.Handled, res)

	resp, err := h.inst.XDB.Get(context.Background(), alice.Bare, OfflineNS)
	require.NoError(t, err)
	require.NotNil(t, resp.Data)
	require.Len(t, resp.Data.Elements(), 1)
	assert.NotNil(t, resp.Data.Elements()[0].Element("x", "jabber:x:delay"), "shelved copy must carry a delay stamp")
}

func TestErrorTypeMessageIsBouncedNotStored(t *testing.T) {
	h := newHarness(t, nil)
	alice := offlineSessionOwner(t, h, "alice@example.com/home")

	bob, err := jid.Parse("bob@example.com")
	require.NoError(t, err)
	res, err := h.inst.Dispatch(context.Background(), jsm.EventDeliver, jsm.DeliverEvent{
		User:   alice,
		Packet: bus.Packet{Node: messageNode("error"), To: alice.Bare, From: bob},
	})
	require.NoError(t, err)
	assert.Equal(t, jsm.Pass, res, "an error stanza is left for the bus's own default bounce")

	resp, err := h.inst.XDB.Get(context.Background(), alice.Bare, OfflineNS)
	require.NoError(t, err)
	if resp.Data != nil {
		assert.Empty(t, resp.Data.Elements())
	}
}

func TestCustomPolicyCanBounceANormallyStoredType(t *testing.T) {
	h := newHarness(t, map[string]StoreDecision{"headline": Bounce})
	alice := offlineSessionOwner(t, h, "alice@example.com/home")

	bob, err := jid.Parse("bob@example.com")
	require.NoError(t, err)
	res, err := h.inst.Dispatch(context.Background(), jsm.EventDeliver, jsm.DeliverEvent{
		User:   alice,
		Packet: bus.Packet{Node: messageNode("headline"), To: alice.Bare, From: bob},
	})
	require.NoError(t, err)
	assert.Equal(t, jsm.Pass, res)
}

func TestSessionBecomingAvailableFlushesAndClearsTheStore(t *testing.T) {
	h := newHarness(t, nil)
	alice := offlineSessionOwner(t, h, "alice@example.com/home")

	bob, err := jid.Parse("bob@example.com")
	require.NoError(t, err)
	_, err = h.inst.Dispatch(context.Background(), jsm.EventDeliver, jsm.DeliverEvent{
		User:   alice,
		Packet: bus.Packet{Node: messageNode(""), To: alice.Bare, From: bob},
	})
	require.NoError(t, err)

	full, err := jid.Parse("alice@example.com/home")
	require.NoError(t, err)
	s := h.inst.NewSession(context.Background(), full)

	var flushed []*xmldom.Node
	s.Deliver = func(ctx context.Context, n *xmldom.Node) error {
		flushed = append(flushed, n)
		return nil
	}

	_, err = s.Dispatch(context.Background(), jsm.SessionEventOut, bus.Packet{Node: presenceAvailable(), To: h.domain, From: s.Full})
	require.NoError(t, err)
	_, err = s.Dispatch(context.Background(), jsm.SessionEventIn, bus.Packet{Node: presenceAvailable(), To: s.Full, From: s.Full})
	require.NoError(t, err)

	require.Len(t, flushed, 1)

	resp, err := h.inst.XDB.Get(context.Background(), s.Owner.Bare, OfflineNS)
	require.NoError(t, err)
	if resp.Data != nil {
		assert.Empty(t, resp.Data.Elements(), "store must be cleared after a flush")
	}
}

func TestXEP0013QuerySuppressesTheFloodOnAvailable(t *testing.T) {
	h := newHarness(t, nil)
	alice := offlineSessionOwner(t, h, "alice@example.com/home")

	bob, err := jid.Parse("bob@example.com")
	require.NoError(t, err)
	_, err = h.inst.Dispatch(context.Background(), jsm.EventDeliver, jsm.DeliverEvent{
		User:   alice,
		Packet: bus.Packet{Node: messageNode(""), To: alice.Bare, From: bob},
	})
	require.NoError(t, err)

	full, err := jid.Parse("alice@example.com/home")
	require.NoError(t, err)
	s := h.inst.NewSession(context.Background(), full)

	var flushed []*xmldom.Node
	s.Deliver = func(ctx context.Context, n *xmldom.Node) error {
		flushed = append(flushed, n)
		return nil
	}

	offlineQuery := xmldom.NewElement("iq", ns.Server)
	offlineQuery.SetAttr("type", "", "get")
	query := xmldom.NewElement("query", "http://jabber.org/protocol/disco#items")
	query.SetAttr("node", "", "http://jabber.org/protocol/offline")
	offlineQuery.AppendChild(query)
	_, err = s.Dispatch(context.Background(), jsm.SessionEventIn, bus.Packet{Node: offlineQuery, To: s.Full, From: s.Full})
	require.NoError(t, err)

	_, err = s.Dispatch(context.Background(), jsm.SessionEventOut, bus.Packet{Node: presenceAvailable(), To: h.domain, From: s.Full})
	require.NoError(t, err)
	_, err = s.Dispatch(context.Background(), jsm.SessionEventIn, bus.Packet{Node: presenceAvailable(), To: s.Full, From: s.Full})
	require.NoError(t, err)

	assert.Empty(t, flushed, "XEP-0013 invocation must suppress the automatic flood")

	resp, err := h.inst.XDB.Get(context.Background(), s.Owner.Bare, OfflineNS)
	require.NoError(t, err)
	require.NotNil(t, resp.Data)
	assert.Len(t, resp.Data.Elements(), 1, "message stays shelved when the client drives XEP-0013 itself")
}

func presenceAvailable() *xmldom.Node {
	return xmldom.NewElement("presence", ns.Server)
}


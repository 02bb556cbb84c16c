package dialback

import (
	"context"
	"time"

	"github.com/jabberd-go/jabberd/bus"
	"github.com/jabberd-go/jabberd/internal/ns"
	"github.com/jabberd-go/jabberd/jid"
	"github.com/jabberd-go/jabberd/mio"
	"github.com/jabberd-go/jabberd/stream"
	"github.com/jabberd-go/jabberd/transport"
	xmldom "github.com/jabberd-go/jabberd/xml"
)

// Accept wraps an inbound s2s connection, offering dialback features
// and handling db:result (the originator asserting its identity) and
// db:verify (a third server asking this one to vouch for a stream id it
// issued) per §4.5.3.
func (i *Instance) Accept(ctx context.Context, local string, trans transport.Transport) {
	streamID := NewStreamID()
	d := &dbic{state: inAwaitingResult, streamID: streamID, lastUse: time.Now()}

	i.mu.Lock()
	i.inByID[streamID] = d
	i.mu.Unlock()

	var cb mio.Callback = func(ctx context.Context, c *mio.Conn, ev mio.Event) {
		i.handleInboundEvent(ctx, local, streamID, d, c, ev)
	}
	conn := mio.NewConn(trans, mio.KindNormal, cb)
	d.conn = conn
	conn.Serve(ctx)
}

func (i *Instance) handleInboundEvent(ctx context.Context, local, streamID string, d *dbic, c *mio.Conn, ev mio.Event) {
	switch ev.Kind {
	case mio.EventXMLRoot:
		// §4.5.3 step 1: reply with our own stream header (our id, our
		// domain as from, the peer's declared from echoed back as to)
		// before offering features; the peer can't do anything with a
		// features element on a stream it never saw opened.
		header := stream.Header{ID: streamID, NS: ns.Server}
		if localJID, err := jid.Parse(local); err == nil {
			header.From = localJID
		}
		if ev.Node != nil {
			if peerFrom, ok := ev.Node.Attribute("from", ""); ok && peerFrom != "" {
				if peerJID, err := jid.Parse(peerFrom); err == nil {
					header.To = peerJID
				}
			}
		}
		c.Write(stream.Open(header))

		features := xmldom.NewElement("features", ns.Stream)
		features.AppendChild(xmldom.NewElement("dialback", ns.Dialback))
		c.WriteNode(features, xmldom.StreamServer)

	case mio.EventXMLNode:
		if ev.Node == nil {
			return
		}
		switch {
		case ev.Node.Local == "result" && ev.Node.NS == ns.Dialback:
			i.handleDBResult(ctx, local, streamID, d, c, ev.Node)
		case ev.Node.Local == "verify" && ev.Node.NS == ns.Dialback:
			i.handleDBVerify(ctx, local, streamID, d, c, ev.Node)
		default:
			i.forwardInbound(ctx, d, ev.Node)
		}

	case mio.EventClosed, mio.EventError:
		i.mu.Lock()
		delete(i.inByID, streamID)
		i.mu.Unlock()
	}
}

// handleDBResult verifies the key the originator asserted by recomputing
// it locally (since this Instance holds the shared secret, it can
// validate a db:result addressed to itself directly, the common
// same-process-authority case) and answers valid/invalid immediately.
// The asserted "to" is not compared with local, and no db:verify is
// sent to the originator's authoritative server.
func (i *Instance) handleDBResult(ctx context.Context, local, streamID string, d *dbic, c *mio.Conn, node *xmldom.Node) {
	from, _ := node.Attribute("from", "")
	to, _ := node.Attribute("to", "")
	gotKey := node.GetData()

	want := Key(i.secret, to, from, streamID)
	valid := gotKey == want
	if !valid && i.legacyKeys {
		valid = gotKey == LegacyKey(i.secret, to, streamID)
	}

	result := xmldom.NewElement("result", ns.Dialback)
	result.SetAttr("from", "", to)
	result.SetAttr("to", "", from)
	if valid {
		result.SetAttr("type", "", "valid")
		i.mu.Lock()
		d.state = inOKDB
		i.inOKDB[from] = d
		i.mu.Unlock()
	} else {
		result.SetAttr("type", "", "invalid")
	}
	c.WriteNode(result, xmldom.StreamServer)
}

// forwardInbound relays an ordinary message/presence/iq stanza arriving
// over a connection that has already earned a valid db:result for the
// stanza's "from" domain, handing it to the rest of the system the same
// way Instance.Send's local delivery does. A stanza whose "from" hasn't
// (yet, or ever) passed dialback on this exact connection is dropped:
// an unauthenticated link gets no stanza relaying, only the db:result/
// db:verify handshake above.
func (i *Instance) forwardInbound(ctx context.Context, d *dbic, node *xmldom.Node) {
	from, _ := node.Attribute("from", "")
	to, _ := node.Attribute("to", "")
	if from == "" || to == "" {
		return
	}

	toJID, err := jid.Parse(to)
	if err != nil {
		return
	}
	fromJID, err := jid.Parse(from)
	if err != nil {
		return
	}

	i.mu.Lock()
	authenticated := i.inOKDB[fromJID.Domain()] == d
	i.mu.Unlock()
	if !authenticated {
		return
	}

	d.lastUse = time.Now()
	_ = i.deliver(ctx, bus.Packet{Kind: bus.KindNormal, To: toJID, From: fromJID, Node: node})
}

// handleDBVerify answers a peer's request to vouch for a stream id this
// Instance issued as the recipient of an earlier inbound connection.
func (i *Instance) handleDBVerify(ctx context.Context, local, streamID string, d *dbic, c *mio.Conn, node *xmldom.Node) {
	id, _ := node.Attribute("id", "")
	from, _ := node.Attribute("from", "")
	to, _ := node.Attribute("to", "")
	gotKey := node.GetData()

	i.mu.Lock()
	_, issued := i.inByID[id]
	i.mu.Unlock()

	// The asking server (from) was the recipient of the original stream
	// and the claimed originator is to.
	valid := issued && gotKey == Key(i.secret, from, to, id)

	verify := xmldom.NewElement("verify", ns.Dialback)
	verify.SetAttr("from", "", to)
	verify.SetAttr("to", "", from)
	verify.SetAttr("id", "", id)
	if valid {
		verify.SetAttr("type", "", "valid")
	} else {
		verify.SetAttr("type", "", "invalid")
	}
	c.WriteNode(verify, xmldom.StreamServer)
}

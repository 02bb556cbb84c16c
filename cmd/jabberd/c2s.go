package main

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net"

	"github.com/jabberd-go/jabberd/bus"
	"github.com/jabberd-go/jabberd/internal/ns"
	"github.com/jabberd-go/jabberd/jid"
	"github.com/jabberd-go/jabberd/jsm"
	"github.com/jabberd-go/jabberd/mio"
	"github.com/jabberd-go/jabberd/stanza"
	"github.com/jabberd-go/jabberd/storage"
	"github.com/jabberd-go/jabberd/stream"
	"github.com/jabberd-go/jabberd/transport"
	xmldom "github.com/jabberd-go/jabberd/xml"
)

// c2sServer accepts client connections and negotiates STARTTLS, SASL
// PLAIN, and resource binding (RFC 6120 §5, §6, §7) before handing a
// connection's stanzas to jsm.
type c2sServer struct {
	domain    jid.JID
	jsmInst   *jsm.Instance
	bus       *bus.Bus
	accounts  storage.UserStore
	tlsConfig *tls.Config
}

// c2sConn is the per-connection negotiation state the feature closures
// close over: the bare JID SASL authenticates (owner), and the Session
// bind ultimately creates.
type c2sConn struct {
	srv   *c2sServer
	owner jid.JID
	sess  *jsm.Session
}

// handle drives one accepted c2s connection end to end: stream
// negotiation, then ordinary stanza routing once bound.
func (c *c2sServer) handle(ctx context.Context, manager *mio.Manager, nc net.Conn) {
	trans := transport.NewTCPServer(nc)
	cc := &c2sConn{srv: c}

	streamID := stanza.GenerateID()
	negotiator := mio.NewNegotiator(
		mio.StartTLSFeature(c.tlsConfig),
		mio.SASLFeature([]string{"PLAIN"}, func(authzid, authcid, password string) (bool, error) {
			ok, err := c.accounts.Authenticate(ctx, authcid, password)
			if err != nil || !ok {
				return false, err
			}
			owner, err := jid.New(authcid, c.domain.Domain(), "")
			if err != nil {
				return false, nil
			}
			cc.owner = owner
			return true, nil
		}),
		cc.bindFeature(),
	)

	cb := mio.Callback(func(ctx context.Context, mc *mio.Conn, ev mio.Event) {
		cc.handleEvent(ctx, mc, ev, streamID, negotiator)
	})
	conn := mio.NewConn(trans, mio.KindNormal, cb)
	manager.Serve(ctx, conn)
}

// bindFeature builds the resource-bind Feature lazily against cc.owner,
// which is only known once SASL (earlier in the offer order) succeeds;
// mio.BindFeature itself takes owner by value at construction, so this
// wrapper rebuilds it at negotiate time with whatever owner SASL set.
func (cc *c2sConn) bindFeature() mio.Feature {
	return mio.Feature{
		Name:       "bind",
		NS:         ns.Bind,
		Necessary:  mio.NegAuthenticated,
		Prohibited: mio.NegBound,
		Advertise: func(features *xmldom.Node) {
			features.AppendChild(xmldom.NewElement("bind", ns.Bind))
		},
		Negotiate: func(ctx context.Context, mc *mio.Conn, req *xmldom.Node) (mio.NegState, error) {
			var boundResource string
			f := mio.BindFeature(cc.owner, cc.allocateResource, func(resource string) {
				boundResource = resource
			})
			state, err := f.Negotiate(ctx, mc, req)
			if err == nil && state&mio.NegBound != 0 {
				full := cc.owner.WithResource(boundResource)
				sess := cc.srv.jsmInst.NewSession(ctx, full)
				sess.Deliver = func(ctx context.Context, n *xmldom.Node) error {
					mc.WriteNode(n, xmldom.StreamClient)
					return nil
				}
				cc.sess = sess
			}
			return state, err
		},
	}
}

// allocateResource honors a client-requested resource if it isn't
// already bound on the authenticated user's other sessions, otherwise
// mints one; an explicit request that collides is rejected rather than
// silently replaced, per RFC 6120 §7.7.2's server-may-reject option.
func (cc *c2sConn) allocateResource(requested string) (string, error) {
	resource := requested
	if resource == "" {
		resource = stanza.GenerateID()[:8]
	}
	u, ok := cc.srv.jsmInst.GetUser(cc.owner)
	if !ok {
		return resource, nil
	}
	for u.SessionByResource(resource) != nil {
		if requested != "" {
			return "", jid.ErrInvalidResource
		}
		resource = stanza.GenerateID()[:8]
	}
	return resource, nil
}

func (cc *c2sConn) handleEvent(ctx context.Context, c *mio.Conn, ev mio.Event, streamID string, negotiator *mio.Negotiator) {
	switch ev.Kind {
	case mio.EventXMLRoot:
		header := stream.Header{ID: streamID, NS: ns.Client, From: cc.srv.domain}
		c.Write(stream.Open(header))
		c.WriteNode(negotiator.FeaturesNode(), xmldom.StreamClient)

	case mio.EventXMLNode:
		if ev.Node == nil {
			return
		}
		handled, err := negotiator.Dispatch(ctx, c, ev.Node)
		if err != nil {
			slog.Default().Error("c2s: negotiate", "err", err)
			c.Close()
			return
		}
		if handled {
			return
		}
		cc.handleStanza(ctx, c, ev.Node)

	case mio.EventXMLClose, mio.EventClosed:
		if cc.sess != nil {
			cc.srv.jsmInst.EndSession(ctx, cc.sess)
			cc.sess = nil
		}

	case mio.EventError:
		slog.Default().Warn("c2s: conn error", "err", ev.Err)
	}
}

// handleStanza routes one post-negotiation top-level element. Anything
// that arrives before a resource is bound is rejected: ordinary stanza
// traffic isn't meaningful without a live Session to dispatch it
// through.
func (cc *c2sConn) handleStanza(ctx context.Context, c *mio.Conn, node *xmldom.Node) {
	if cc.sess == nil {
		errEl := xmldom.NewElement("error", ns.Stream)
		errEl.AppendChild(xmldom.NewElement(stream.ErrNotAuthorized, ns.Streams))
		c.WriteNode(errEl, xmldom.StreamClient)
		c.Close()
		return
	}

	from := cc.sess.Full
	to := destinationFor(from, node)
	p := bus.Packet{Kind: bus.KindNormal, To: to, From: from, Node: node}

	res, err := cc.sess.Dispatch(ctx, jsm.SessionEventOut, p)
	if err != nil {
		slog.Default().Error("c2s: session dispatch", "err", err)
		return
	}
	if res == jsm.Handled {
		return
	}
	if err := cc.srv.bus.Deliver(ctx, p); err != nil {
		slog.Default().Error("c2s: bus deliver", "err", err)
	}
}

// destinationFor applies the client-stream default-addressing
// convention jsm/roster documents: an iq or message with no explicit
// 'to' is addressed to the sender's own full JID, landing back on this
// same session's SessionEventIn chain. Presence is never defaulted to a
// JID; a zero-value To is what lets jsm/presence tell directed from
// undirected presence apart.
func destinationFor(from jid.JID, node *xmldom.Node) jid.JID {
	if toStr, ok := node.Attribute("to", ""); ok && toStr != "" {
		if to, err := jid.Parse(toStr); err == nil {
			return to
		}
	}
	if node.Local == "presence" {
		return jid.JID{}
	}
	return from
}

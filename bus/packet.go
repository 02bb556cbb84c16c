// Package bus implements the delivery bus: address-based routing of
// packets among named instances, each with its own ordered handler chain.
//
// Grounded on the teacher's mux.go/handler.go/middleware.go (the
// Handler/HandlerFunc/Middleware chain-of-responsibility shape is kept
// verbatim), generalized from "route a stanza.Stanza to a *Session" to
// "route a Packet to a named Instance" per the multi-instance routing
// table spec.md describes.
package bus

import (
	"github.com/jabberd-go/jabberd/jid"
	xmldom "github.com/jabberd-go/jabberd/xml"
)

// Kind tags why a Packet exists, mirroring dpacket's Normal|Route|XDB|Log.
type Kind int

const (
	// KindNormal is an ordinary stanza being delivered to its destination.
	KindNormal Kind = iota
	// KindRoute wraps another packet for transport between instances that
	// don't trust each other's raw stanza (s2s handoff).
	KindRoute
	// KindXDB is a storage request/response; To encodes both the owning
	// JID and the namespace being queried (see xdb.Address).
	KindXDB
	// KindLog is a diagnostic packet delivered to a log instance.
	KindLog
)

// Packet is a stanza plus its parsed destination and a kind tag, the
// bus's unit of delivery (dpacket in the terminology this module is
// grounded on).
type Packet struct {
	Kind    Kind
	To      jid.JID
	From    jid.JID
	Node    *xmldom.Node
	Bounced bool
}

// Bounce returns a copy of p marked as already-bounced, with To and From
// swapped, so a second bounce attempt is recognized and dropped instead
// of looping.
func (p Packet) Bounce() Packet {
	p.To, p.From = p.From, p.To
	p.Bounced = true
	return p
}

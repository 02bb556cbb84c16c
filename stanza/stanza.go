// Package stanza defines XMPP stanza types: Message, Presence, and IQ.
//
// A stanza's extension payload is carried as an *xml.Node tree rather than
// raw bytes or a struct tag, so the router, storage layer, and jsm modules
// all work against the one DOM the rest of the module uses.
package stanza

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/jabberd-go/jabberd/internal/ns"
	"github.com/jabberd-go/jabberd/jid"
	xmldom "github.com/jabberd-go/jabberd/xml"
)

// Stanza is the interface implemented by all XMPP stanza types.
type Stanza interface {
	StanzaType() string
	GetHeader() *Header
	// ToNode builds the wire-ready element for this stanza, canonicalized
	// to the server sentinel namespace so the caller's Serialize can
	// rewrite it per the destination StreamKind.
	ToNode() *xmldom.Node
}

// Header contains the common attributes of all stanzas.
type Header struct {
	ID   string
	From jid.JID
	To   jid.JID
	Type string
	Lang string
}

// GetHeader returns the stanza header.
func (h *Header) GetHeader() *Header {
	return h
}

// applyTo sets the header's attributes on n.
func (h *Header) applyTo(n *xmldom.Node) {
	if h.ID != "" {
		n.SetAttr("id", "", h.ID)
	}
	if !h.From.IsZero() {
		n.SetAttr("from", "", h.From.String())
	}
	if !h.To.IsZero() {
		n.SetAttr("to", "", h.To.String())
	}
	if h.Type != "" {
		n.SetAttr("type", "", h.Type)
	}
	if h.Lang != "" {
		n.SetAttr("lang", "http://www.w3.org/XML/1998/namespace", h.Lang)
	}
}

// headerFromNode extracts a Header from an inbound stanza element's
// attributes. Malformed from/to addresses are left zero; callers enforce
// addressing requirements (spec.md's "missing to" / "malformed from")
// themselves, since the right error condition differs by stanza kind.
func headerFromNode(n *xmldom.Node) Header {
	var h Header
	if v, ok := n.Attribute("id", ""); ok {
		h.ID = v
	}
	if v, ok := n.Attribute("from", ""); ok {
		if j, err := jid.Parse(v); err == nil {
			h.From = j
		}
	}
	if v, ok := n.Attribute("to", ""); ok {
		if j, err := jid.Parse(v); err == nil {
			h.To = j
		}
	}
	if v, ok := n.Attribute("type", ""); ok {
		h.Type = v
	}
	if v, ok := n.Attribute("lang", "http://www.w3.org/XML/1998/namespace"); ok {
		h.Lang = v
	}
	return h
}

// GenerateID generates a random stanza ID.
func GenerateID() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// FromNode adapts a parsed top-level stream child into a typed Stanza.
// Unrecognized element names (nonzas like <iq/>'s siblings "a" or plugin
// traffic outside message/presence/iq) return ok=false so the caller can
// route the raw node elsewhere instead of treating it as a stanza.
func FromNode(n *xmldom.Node) (st Stanza, ok bool) {
	h := headerFromNode(n)
	switch n.Local {
	case "iq":
		return iqFromNode(n, h), true
	case "message":
		return messageFromNode(n, h), true
	case "presence":
		return presenceFromNode(n, h), true
	default:
		return nil, false
	}
}

func newEnvelope(local string, h Header) *xmldom.Node {
	n := xmldom.NewElement(local, ns.Client)
	h.applyTo(n)
	return n
}

package stanza

import (
	"strconv"

	xmldom "github.com/jabberd-go/jabberd/xml"
)

// Presence type constants.
const (
	PresenceAvailable    = ""
	PresenceUnavailable  = "unavailable"
	PresenceSubscribe    = "subscribe"
	PresenceSubscribed   = "subscribed"
	PresenceUnsubscribe  = "unsubscribe"
	PresenceUnsubscribed = "unsubscribed"
	PresenceProbe        = "probe"
	PresenceError        = "error"
)

// Show values for presence.
const (
	ShowAway = "away"
	ShowChat = "chat"
	ShowDND  = "dnd"
	ShowXA   = "xa"
)

// Presence represents an XMPP presence stanza.
type Presence struct {
	Header
	Show       string
	Status     string
	Priority   int8
	Error      *StanzaError
	Extensions []*xmldom.Node
}

// NewPresence creates a new Presence with the given type and a random ID.
func NewPresence(typ string) *Presence {
	return &Presence{Header: Header{ID: GenerateID(), Type: typ}}
}

// StanzaType returns "presence".
func (p *Presence) StanzaType() string { return "presence" }

// ToNode builds the wire element for p.
func (p *Presence) ToNode() *xmldom.Node {
	n := newEnvelope("presence", p.Header)
	if p.Show != "" {
		n.AppendChild(textElement("show", p.Show))
	}
	if p.Status != "" {
		n.AppendChild(textElement("status", p.Status))
	}
	if p.Priority != 0 {
		n.AppendChild(textElement("priority", strconv.Itoa(int(p.Priority))))
	}
	if p.Error != nil {
		n.AppendChild(p.Error.ToNode())
	}
	for _, ext := range p.Extensions {
		n.AppendChild(ext.Clone())
	}
	return n
}

func presenceFromNode(n *xmldom.Node, h Header) *Presence {
	p := &Presence{Header: h}
	for _, c := range n.Elements() {
		switch c.Local {
		case "show":
			p.Show = c.GetData()
		case "status":
			p.Status = c.GetData()
		case "priority":
			if v, err := strconv.Atoi(c.GetData()); err == nil {
				p.Priority = int8(v)
			}
		case "error":
			p.Error = stanzaErrorFromNode(c)
		default:
			p.Extensions = append(p.Extensions, c)
		}
	}
	return p
}

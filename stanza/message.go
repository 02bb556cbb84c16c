package stanza

import (
	"github.com/jabberd-go/jabberd/internal/ns"
	xmldom "github.com/jabberd-go/jabberd/xml"
)

// Message type constants.
const (
	MessageChat      = "chat"
	MessageError     = "error"
	MessageGroupchat = "groupchat"
	MessageHeadline  = "headline"
	MessageNormal    = "normal"
)

// Message represents an XMPP message stanza.
type Message struct {
	Header
	Subject    string
	Body       string
	Thread     string
	Error      *StanzaError
	Extensions []*xmldom.Node
}

// NewMessage creates a new Message with the given type and a random ID.
func NewMessage(typ string) *Message {
	return &Message{Header: Header{ID: GenerateID(), Type: typ}}
}

// StanzaType returns "message".
func (m *Message) StanzaType() string { return "message" }

// ToNode builds the wire element for m.
func (m *Message) ToNode() *xmldom.Node {
	n := newEnvelope("message", m.Header)
	if m.Subject != "" {
		n.AppendChild(textElement("subject", m.Subject))
	}
	if m.Body != "" {
		n.AppendChild(textElement("body", m.Body))
	}
	if m.Thread != "" {
		n.AppendChild(textElement("thread", m.Thread))
	}
	if m.Error != nil {
		n.AppendChild(m.Error.ToNode())
	}
	for _, ext := range m.Extensions {
		n.AppendChild(ext.Clone())
	}
	return n
}

func textElement(local, data string) *xmldom.Node {
	n := xmldom.NewElement(local, ns.Client)
	n.AppendText(data)
	return n
}

func messageFromNode(n *xmldom.Node, h Header) *Message {
	m := &Message{Header: h}
	for _, c := range n.Elements() {
		switch c.Local {
		case "subject":
			m.Subject = c.GetData()
		case "body":
			m.Body = c.GetData()
		case "thread":
			m.Thread = c.GetData()
		case "error":
			m.Error = stanzaErrorFromNode(c)
		default:
			m.Extensions = append(m.Extensions, c)
		}
	}
	return m
}

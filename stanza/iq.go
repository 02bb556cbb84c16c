package stanza

import (
	xmldom "github.com/jabberd-go/jabberd/xml"
)

// IQ type constants.
const (
	IQGet    = "get"
	IQSet    = "set"
	IQResult = "result"
	IQError  = "error"
)

// IQ represents an XMPP IQ (Info/Query) stanza. Payload is the single
// child element RFC 6120 §8.2.3 requires get/set/result to carry (most
// often a <query/> or a feature-specific element); Error is set instead
// on a type='error' response.
type IQ struct {
	Header
	Payload *xmldom.Node
	Error   *StanzaError
}

// NewIQ creates a new IQ stanza with the given type and a random ID.
func NewIQ(typ string) *IQ {
	return &IQ{Header: Header{ID: GenerateID(), Type: typ}}
}

// StanzaType returns "iq".
func (iq *IQ) StanzaType() string { return "iq" }

// ToNode builds the wire element for iq.
func (iq *IQ) ToNode() *xmldom.Node {
	n := newEnvelope("iq", iq.Header)
	if iq.Payload != nil {
		n.AppendChild(iq.Payload.Clone())
	}
	if iq.Error != nil {
		n.AppendChild(iq.Error.ToNode())
	}
	return n
}

// ResultIQ creates a result IQ in response to this IQ, addressed back to
// the sender and carrying the sender's ID.
func (iq *IQ) ResultIQ() *IQ {
	return &IQ{Header: Header{ID: iq.ID, Type: IQResult, From: iq.To, To: iq.From}}
}

// ErrorIQ creates an error IQ in response to this IQ.
func (iq *IQ) ErrorIQ(err *StanzaError) *IQ {
	return &IQ{Header: Header{ID: iq.ID, Type: IQError, From: iq.To, To: iq.From}, Error: err}
}

func iqFromNode(n *xmldom.Node, h Header) *IQ {
	iq := &IQ{Header: h}
	for _, c := range n.Elements() {
		if c.Local == "error" {
			iq.Error = stanzaErrorFromNode(c)
			continue
		}
		if iq.Payload == nil {
			iq.Payload = c
		}
	}
	return iq
}

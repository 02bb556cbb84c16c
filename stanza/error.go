package stanza

import (
	"fmt"

	"github.com/jabberd-go/jabberd/internal/ns"
	xmldom "github.com/jabberd-go/jabberd/xml"
)

// Error type constants (RFC 6120 §8.3.2).
const (
	ErrorTypeAuth     = "auth"
	ErrorTypeCancel   = "cancel"
	ErrorTypeContinue = "continue"
	ErrorTypeModify   = "modify"
	ErrorTypeWait     = "wait"
)

// Error condition constants (RFC 6120 §8.3.3).
const (
	ErrorBadRequest            = "bad-request"
	ErrorConflict              = "conflict"
	ErrorFeatureNotImplemented = "feature-not-implemented"
	ErrorForbidden             = "forbidden"
	ErrorGone                  = "gone"
	ErrorInternalServerError   = "internal-server-error"
	ErrorItemNotFound          = "item-not-found"
	ErrorJIDMalformed          = "jid-malformed"
	ErrorNotAcceptable         = "not-acceptable"
	ErrorNotAllowed            = "not-allowed"
	ErrorNotAuthorized         = "not-authorized"
	ErrorPolicyViolation       = "policy-violation"
	ErrorRecipientUnavailable  = "recipient-unavailable"
	ErrorRedirect              = "redirect"
	ErrorRegistrationRequired  = "registration-required"
	ErrorRemoteServerNotFound  = "remote-server-not-found"
	ErrorRemoteServerTimeout   = "remote-server-timeout"
	ErrorResourceConstraint    = "resource-constraint"
	ErrorServiceUnavailable    = "service-unavailable"
	ErrorSubscriptionRequired  = "subscription-required"
	ErrorUndefinedCondition    = "undefined-condition"
	ErrorUnexpectedRequest     = "unexpected-request"
)

// StanzaError represents an XMPP stanza error.
type StanzaError struct {
	Type      string
	By        string
	Condition string
	Text      string
}

// NewStanzaError creates a new StanzaError.
func NewStanzaError(typ, condition, text string) *StanzaError {
	return &StanzaError{Type: typ, Condition: condition, Text: text}
}

// Error implements the error interface.
func (e *StanzaError) Error() string {
	if e.Text != "" {
		return fmt.Sprintf("stanza error: %s (%s: %s)", e.Condition, e.Type, e.Text)
	}
	return fmt.Sprintf("stanza error: %s (%s)", e.Condition, e.Type)
}

// ToNode builds the <error/> element for e.
func (e *StanzaError) ToNode() *xmldom.Node {
	n := xmldom.NewElement("error", ns.Client)
	n.SetAttr("type", "", e.Type)
	if e.By != "" {
		n.SetAttr("by", "", e.By)
	}
	n.AppendChild(xmldom.NewElement(e.Condition, ns.Stanzas))
	if e.Text != "" {
		text := xmldom.NewElement("text", ns.Stanzas)
		text.SetAttr("lang", "http://www.w3.org/XML/1998/namespace", "en")
		text.AppendText(e.Text)
		n.AppendChild(text)
	}
	return n
}

func stanzaErrorFromNode(n *xmldom.Node) *StanzaError {
	e := &StanzaError{}
	if v, ok := n.Attribute("type", ""); ok {
		e.Type = v
	}
	if v, ok := n.Attribute("by", ""); ok {
		e.By = v
	}
	for _, c := range n.Elements() {
		if c.Local == "text" {
			e.Text = c.GetData()
			continue
		}
		if e.Condition == "" {
			e.Condition = c.Local
		}
	}
	return e
}

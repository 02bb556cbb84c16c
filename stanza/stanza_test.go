package stanza

import (
	"encoding/hex"
	"testing"

	"github.com/jabberd-go/jabberd/internal/ns"
	"github.com/jabberd-go/jabberd/jid"
	xmldom "github.com/jabberd-go/jabberd/xml"
)

func TestGenerateID(t *testing.T) {
	t.Parallel()
	id := GenerateID()
	if len(id) != 32 {
		t.Errorf("GenerateID() length = %d, want 32", len(id))
	}
	if _, err := hex.DecodeString(id); err != nil {
		t.Errorf("GenerateID() not valid hex: %v", err)
	}
	id2 := GenerateID()
	if id == id2 {
		t.Error("two GenerateID() calls returned the same value")
	}
}

func TestNewMessageToNode(t *testing.T) {
	t.Parallel()
	m := NewMessage(MessageChat)
	m.To = jid.MustParse("bob@example.com")
	m.Body = "hi"

	if m.StanzaType() != "message" {
		t.Fatalf("StanzaType() = %q, want message", m.StanzaType())
	}

	n := m.ToNode()
	if n.Local != "message" {
		t.Fatalf("ToNode().Local = %q, want message", n.Local)
	}
	if v, _ := n.Attribute("type", ""); v != MessageChat {
		t.Errorf("type attr = %q, want %q", v, MessageChat)
	}
	if body := n.Element("body", ns.Client); body == nil || body.GetData() != "hi" {
		t.Errorf("body = %+v, want data hi", body)
	}
}

func TestMessageRoundTrip(t *testing.T) {
	t.Parallel()
	orig := NewMessage(MessageChat)
	orig.From = jid.MustParse("alice@example.com/phone")
	orig.To = jid.MustParse("bob@example.com")
	orig.Subject = "greetings"
	orig.Body = "hello there"
	orig.Thread = "thread-1"

	n := orig.ToNode()
	st, ok := FromNode(n)
	if !ok {
		t.Fatalf("FromNode: not recognized")
	}
	got, ok := st.(*Message)
	if !ok {
		t.Fatalf("FromNode returned %T, want *Message", st)
	}
	if got.Subject != orig.Subject || got.Body != orig.Body || got.Thread != orig.Thread {
		t.Errorf("round trip mismatch: got %+v", got)
	}
	if !got.From.Equal(orig.From) || !got.To.Equal(orig.To) {
		t.Errorf("round trip header mismatch: got From=%v To=%v", got.From, got.To)
	}
}

func TestIQResultAndError(t *testing.T) {
	t.Parallel()
	iq := NewIQ(IQGet)
	iq.From = jid.MustParse("alice@example.com")
	iq.To = jid.MustParse("example.com")

	result := iq.ResultIQ()
	if result.ID != iq.ID {
		t.Errorf("ResultIQ ID = %q, want %q", result.ID, iq.ID)
	}
	if !result.From.Equal(iq.To) || !result.To.Equal(iq.From) {
		t.Errorf("ResultIQ did not swap from/to")
	}

	errIQ := iq.ErrorIQ(NewStanzaError(ErrorTypeCancel, ErrorItemNotFound, ""))
	n := errIQ.ToNode()
	errNode := n.Element("error", ns.Client)
	if errNode == nil {
		t.Fatalf("expected <error/> child on error IQ")
	}
	if errIQ.Error.Condition != ErrorItemNotFound {
		t.Errorf("error condition = %q, want %q", errIQ.Error.Condition, ErrorItemNotFound)
	}
}

func TestFromNodeRejectsUnknownElement(t *testing.T) {
	t.Parallel()
	n := xmldom.NewElement("a", ns.Client) // a stream-level nonza, not a stanza
	if _, ok := FromNode(n); ok {
		t.Fatalf("FromNode should reject non-stanza elements")
	}
}

func TestPresenceRoundTrip(t *testing.T) {
	t.Parallel()
	p := NewPresence(PresenceAvailable)
	p.Show = ShowAway
	p.Status = "be right back"
	p.Priority = 5

	n := p.ToNode()
	st, ok := FromNode(n)
	if !ok {
		t.Fatalf("FromNode: not recognized")
	}
	got := st.(*Presence)
	if got.Show != ShowAway || got.Status != p.Status || got.Priority != 5 {
		t.Errorf("round trip mismatch: got %+v", got)
	}
}

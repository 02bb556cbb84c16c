package xml

import (
	"strings"
	"testing"

	"github.com/jabberd-go/jabberd/internal/ns"
)

func TestSerializeRewritesServerNamespace(t *testing.T) {
	t.Parallel()
	msg := NewElement("message", ns.Client) // canonicalized to CanonicalServerNS on construction
	msg.AppendText("")

	tests := []struct {
		kind StreamKind
		want string
	}{
		{StreamClient, "xmlns='jabber:client'"},
		{StreamServer, "xmlns='jabber:server'"},
		{StreamComponent, "xmlns='jabber:component:accept'"},
	}
	for _, tt := range tests {
		var b strings.Builder
		if err := msg.Serialize(&b, NewNSStack(), tt.kind); err != nil {
			t.Fatalf("Serialize: %v", err)
		}
		if !strings.Contains(b.String(), tt.want) {
			t.Errorf("Serialize(kind=%d) = %q, want to contain %q", tt.kind, b.String(), tt.want)
		}
	}
}

func TestSerializeReusesNamespaceDeclaration(t *testing.T) {
	t.Parallel()
	iq := NewElement("iq", ns.Client)
	query := NewElement("query", "jabber:iq:roster")
	item := NewElement("item", "jabber:iq:roster")
	query.AppendChild(item)
	iq.AppendChild(query)

	var b strings.Builder
	if err := iq.Serialize(&b, NewNSStack(), StreamClient); err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	out := b.String()
	if strings.Count(out, "jabber:iq:roster") != 1 {
		t.Errorf("expected the roster namespace to be declared once, got: %s", out)
	}
}

func TestSerializeEscapesText(t *testing.T) {
	t.Parallel()
	body := NewElement("body", ns.Client)
	body.AppendText("<script>&\"'")

	var b strings.Builder
	if err := body.Serialize(&b, NewNSStack(), StreamClient); err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	if strings.Contains(b.String(), "<script>") {
		t.Errorf("text was not escaped: %s", b.String())
	}
}

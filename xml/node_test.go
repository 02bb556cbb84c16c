package xml

import (
	"testing"

	"github.com/jabberd-go/jabberd/internal/ns"
)

func TestNodeBuild(t *testing.T) {
	t.Parallel()
	msg := NewElement("message", ns.Client)
	msg.SetAttr("type", "", "chat")
	body := NewElement("body", ns.Client)
	body.AppendText("hello")
	msg.AppendChild(body)

	if got := msg.Local; got != "message" {
		t.Errorf("Local = %q, want message", got)
	}
	if v, ok := msg.Attribute("type", ""); !ok || v != "chat" {
		t.Errorf("Attribute(type) = %q, %v, want chat, true", v, ok)
	}
	if got := msg.Element("body", ns.Client); got == nil || got.GetData() != "hello" {
		t.Errorf("body data = %v, want hello", got)
	}
}

func TestNodeDetachAndClone(t *testing.T) {
	t.Parallel()
	parent := NewElement("presence", ns.Client)
	child := NewElement("show", ns.Client)
	parent.AppendChild(child)

	child.Detach()
	if len(parent.Children) != 0 {
		t.Fatalf("expected parent to have no children after Detach, got %d", len(parent.Children))
	}
	if child.Parent != nil {
		t.Fatalf("expected detached child to have nil parent")
	}

	parent.AppendChild(NewElement("status", ns.Client))
	clone := parent.Clone()
	if len(clone.Children) != 1 {
		t.Fatalf("clone children = %d, want 1", len(clone.Children))
	}
	clone.Children[0].Local = "mutated"
	if parent.Children[0].Local == "mutated" {
		t.Fatalf("Clone did not deep-copy children")
	}
}

func TestNodeWrap(t *testing.T) {
	t.Parallel()
	root := NewElement("iq", ns.Client)
	inner := NewElement("query", "jabber:iq:roster")
	root.AppendChild(inner)

	wrapped := inner.Wrap("error", ns.Client)
	if len(root.Children) != 1 || root.Children[0] != wrapped {
		t.Fatalf("Wrap did not replace child in parent")
	}
	if len(wrapped.Children) != 1 || wrapped.Children[0] != inner {
		t.Fatalf("Wrap did not reparent original node")
	}
}

func TestCanonicalizeServerNS(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want string
	}{
		{"jabber:client", CanonicalServerNS},
		{"jabber:component:accept", CanonicalServerNS},
		{"jabber:server", CanonicalServerNS},
		{"jabber:iq:roster", "jabber:iq:roster"},
	}
	for _, tt := range tests {
		if got := CanonicalizeServerNS(tt.in); got != tt.want {
			t.Errorf("CanonicalizeServerNS(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

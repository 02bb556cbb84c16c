package xml

import (
	"fmt"
	"io"
	"strings"

	"github.com/jabberd-go/jabberd/internal/ns"
)

// StreamKind selects which concrete namespace the canonical jabber:server
// sentinel is rewritten to when a Node is serialized, matching the class
// of stream the bytes are headed for.
type StreamKind int

const (
	// StreamClient rewrites the canonical server namespace to jabber:client.
	StreamClient StreamKind = iota
	// StreamServer rewrites it to jabber:server (a no-op).
	StreamServer
	// StreamComponent rewrites it to jabber:component:accept.
	StreamComponent
)

// RewriteForStream maps the canonical sentinel namespace to the concrete
// namespace appropriate for kind. Any other namespace passes through
// unchanged.
func RewriteForStream(namespace string, kind StreamKind) string {
	if namespace != CanonicalServerNS {
		return namespace
	}
	switch kind {
	case StreamClient:
		return ns.Client
	case StreamComponent:
		return ns.Component
	default:
		return ns.Server
	}
}

var xmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
)

var xmlTextEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
)

// Serialize writes n and its subtree to w as XML, rewriting the canonical
// server namespace per kind and reusing namespace declarations already on
// stack rather than redeclaring them on every element.
func (n *Node) Serialize(w io.Writer, stack *NSStack, kind StreamKind) error {
	return serialize(w, n, stack, kind)
}

func serialize(w io.Writer, n *Node, stack *NSStack, kind StreamKind) error {
	if n.Kind == KindText {
		_, err := io.WriteString(w, xmlTextEscaper.Replace(n.Text))
		return err
	}
	if n.Kind != KindElement {
		return fmt.Errorf("xml: cannot serialize node kind %d", n.Kind)
	}

	effNS := RewriteForStream(n.NS, kind)
	stack.Push()
	defer stack.Pop()

	prefix, declare := resolvePrefix(stack, effNS)
	if declare {
		if prefix == "" {
			stack.Declare("", effNS)
		} else {
			stack.Declare(prefix, effNS)
		}
	}

	if prefix == "" {
		fmt.Fprintf(w, "<%s", n.Local)
	} else {
		fmt.Fprintf(w, "<%s:%s", prefix, n.Local)
	}
	if declare {
		if prefix == "" {
			fmt.Fprintf(w, " xmlns='%s'", xmlEscaper.Replace(effNS))
		} else {
			fmt.Fprintf(w, " xmlns:%s='%s'", prefix, xmlEscaper.Replace(effNS))
		}
	}

	for _, a := range n.Attrs {
		aNS := RewriteForStream(a.NS, kind)
		if aNS == "" {
			fmt.Fprintf(w, " %s='%s'", a.Local, xmlEscaper.Replace(a.Value))
			continue
		}
		aPrefix, aDeclare := resolvePrefix(stack, aNS)
		if aPrefix == "" {
			// The default namespace never applies to an attribute, so a
			// namespaced attribute always needs a real prefix.
			if aNS == "http://www.w3.org/XML/1998/namespace" {
				aPrefix, aDeclare = "xml", false
			} else {
				for i := 0; aPrefix == ""; i++ {
					if _, taken := stack.Lookup(fmt.Sprintf("ns%d", i)); !taken {
						aPrefix, aDeclare = fmt.Sprintf("ns%d", i), true
					}
				}
			}
		}
		if aDeclare {
			stack.Declare(aPrefix, aNS)
			fmt.Fprintf(w, " xmlns:%s='%s'", aPrefix, xmlEscaper.Replace(aNS))
		}
		fmt.Fprintf(w, " %s:%s='%s'", aPrefix, a.Local, xmlEscaper.Replace(a.Value))
	}

	if len(n.Children) == 0 {
		_, err := io.WriteString(w, "/>")
		return err
	}
	if _, err := io.WriteString(w, ">"); err != nil {
		return err
	}
	for _, c := range n.Children {
		if err := serialize(w, c, stack, kind); err != nil {
			return err
		}
	}
	if prefix == "" {
		fmt.Fprintf(w, "</%s>", n.Local)
	} else {
		fmt.Fprintf(w, "</%s:%s>", prefix, n.Local)
	}
	return nil
}

// resolvePrefix finds a prefix for ns against stack, falling back to the
// conventional stream/db/sc prefixes or, for any other namespace, the
// empty (default) prefix. declare reports whether the caller still needs
// to bind it (it wasn't already in scope under that prefix).
func resolvePrefix(stack *NSStack, namespace string) (prefix string, declare bool) {
	if namespace == "" {
		return "", false
	}
	if bound, ok := stack.Lookup(""); ok && bound == namespace {
		return "", false
	}
	if p, ok := stack.ReversePrefix(namespace); ok {
		return p, false
	}
	switch namespace {
	case ns.Stream:
		return "stream", true
	case ns.Dialback:
		return "db", true
	case ns.SessionControl:
		return "sc", true
	}
	if _, ok := stack.Lookup(""); !ok {
		return "", true
	}
	return "", true
}

// Package xml provides a namespace-aware XML DOM, an XPath subset query
// engine, a canonicalizing serializer, and an incremental stream parser for
// driving XMPP streams over a socket.
//
// encoding/xml is used underneath as the tokenizer (there is no dedicated
// DOM-for-XML or XPath library anywhere in the retrieval pack this module
// was built from; see DESIGN.md for why stdlib is the right call here).
// Everything above the tokenizer — the tree, the query language, the
// canonicalization of the three server-class namespaces — is this
// package's own.
package xml

import (
	"strings"

	"github.com/jabberd-go/jabberd/internal/ns"
)

// Kind distinguishes the three things a Node can represent.
type Kind int

const (
	KindElement Kind = iota
	KindText
	KindAttr // synthetic: produced only as a Query result for an @attr step
)

// CanonicalServerNS is the sentinel namespace IRI jabber:server,
// jabber:client, and jabber:component:accept are all canonicalized to
// internally. StreamKind picks which one to emit on serialize.
const CanonicalServerNS = ns.Server

// ClueNS is the namespace IRI synthesized for an inbound element or
// attribute whose prefix was never declared (spec.md §4.1 edge case).
const ClueNS = "http://jabberd.org/ns/clue"

// Attr is a single namespace-qualified attribute.
type Attr struct {
	Local string
	NS    string
	Value string
}

// Node is one node of the DOM tree: an element, a text run, or (only as a
// Query result) a synthesized attribute node.
type Node struct {
	Kind     Kind
	Local    string
	NS       string
	Attrs    []Attr
	Children []*Node
	Text     string
	Parent   *Node
}

// NewElement creates a detached element node.
func NewElement(local, ns string) *Node {
	return &Node{Kind: KindElement, Local: local, NS: CanonicalizeServerNS(ns)}
}

// NewText creates a detached text node.
func NewText(s string) *Node {
	return &Node{Kind: KindText, Text: s}
}

// CanonicalizeServerNS maps jabber:client and jabber:component:accept to
// the internal sentinel jabber:server, leaving every other namespace (and
// jabber:server itself) untouched.
func CanonicalizeServerNS(ns string) string {
	switch ns {
	case "jabber:client", "jabber:component:accept":
		return CanonicalServerNS
	default:
		return ns
	}
}

// AppendChild appends c as the last child of n and returns c.
func (n *Node) AppendChild(c *Node) *Node {
	c.Parent = n
	n.Children = append(n.Children, c)
	return c
}

// AppendText appends a text run as the last child of n.
func (n *Node) AppendText(s string) *Node {
	return n.AppendChild(NewText(s))
}

// Detach removes n from its parent's child list.
func (n *Node) Detach() {
	if n.Parent == nil {
		return
	}
	siblings := n.Parent.Children
	for i, c := range siblings {
		if c == n {
			n.Parent.Children = append(siblings[:i], siblings[i+1:]...)
			break
		}
	}
	n.Parent = nil
}

// SetAttr sets (or replaces) an attribute keyed by (local, ns).
func (n *Node) SetAttr(local, ns, value string) {
	for i := range n.Attrs {
		if n.Attrs[i].Local == local && n.Attrs[i].NS == ns {
			n.Attrs[i].Value = value
			return
		}
	}
	n.Attrs = append(n.Attrs, Attr{Local: local, NS: ns, Value: value})
}

// RemoveAttr removes an attribute keyed by (local, ns), if present.
func (n *Node) RemoveAttr(local, ns string) {
	for i := range n.Attrs {
		if n.Attrs[i].Local == local && n.Attrs[i].NS == ns {
			n.Attrs = append(n.Attrs[:i], n.Attrs[i+1:]...)
			return
		}
	}
}

// Attr returns the value of an attribute keyed by (local, ns).
func (n *Node) Attribute(local, ns string) (string, bool) {
	for _, a := range n.Attrs {
		if a.Local == local && a.NS == ns {
			return a.Value, true
		}
	}
	return "", false
}

// Wrap creates a new element (local, ns) and reparents n underneath it,
// returning the new parent.
func (n *Node) Wrap(local, ns string) *Node {
	wrapper := NewElement(local, ns)
	oldParent := n.Parent
	if oldParent != nil {
		for i, c := range oldParent.Children {
			if c == n {
				oldParent.Children[i] = wrapper
				break
			}
		}
		wrapper.Parent = oldParent
	}
	n.Parent = wrapper
	wrapper.Children = []*Node{n}
	return wrapper
}

// Clone returns a deep copy of n, detached from any parent.
func (n *Node) Clone() *Node {
	cp := &Node{Kind: n.Kind, Local: n.Local, NS: n.NS, Text: n.Text}
	cp.Attrs = append([]Attr(nil), n.Attrs...)
	for _, c := range n.Children {
		cc := c.Clone()
		cc.Parent = cp
		cp.Children = append(cp.Children, cc)
	}
	return cp
}

// Elements returns the element children of n, in document order.
func (n *Node) Elements() []*Node {
	var out []*Node
	for _, c := range n.Children {
		if c.Kind == KindElement {
			out = append(out, c)
		}
	}
	return out
}

// Element returns the first element child matching (local, ns).
func (n *Node) Element(local, ns string) *Node {
	ns = CanonicalizeServerNS(ns)
	for _, c := range n.Children {
		if c.Kind == KindElement && c.Local == local && c.NS == ns {
			return c
		}
	}
	return nil
}

// GetData merges contiguous text-child siblings on demand and returns the
// concatenated character data directly under n (not recursive).
func (n *Node) GetData() string {
	var b strings.Builder
	for _, c := range n.Children {
		if c.Kind == KindText {
			b.WriteString(c.Text)
		}
	}
	return b.String()
}

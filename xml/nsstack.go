package xml

import "github.com/jabberd-go/jabberd/internal/ns"

// NSStack tracks prefix-to-namespace bindings in effect at a point in a
// document, as a stack of frames. Each frame holds the declarations made
// by one element; Pop discards everything that element introduced.
type NSStack struct {
	frames []map[string]string // prefix -> IRI, per frame ("" is the default ns)
}

// NewNSStack returns an empty stack seeded with the conventional prefixes
// used throughout XMPP wire traffic: stream, db (dialback), and sc
// (session control, urn:xmpp:sc per internal/ns).
func NewNSStack() *NSStack {
	s := &NSStack{}
	s.Push()
	s.Declare("stream", ns.Stream)
	s.Declare("db", ns.Dialback)
	s.Declare("sc", ns.SessionControl)
	return s
}

// Push opens a new frame.
func (s *NSStack) Push() {
	s.frames = append(s.frames, make(map[string]string))
}

// Pop discards the innermost frame.
func (s *NSStack) Pop() {
	if len(s.frames) == 0 {
		return
	}
	s.frames = s.frames[:len(s.frames)-1]
}

// Declare binds prefix (empty string for the default namespace) to ns in
// the innermost frame.
func (s *NSStack) Declare(prefix, ns string) {
	if len(s.frames) == 0 {
		s.Push()
	}
	s.frames[len(s.frames)-1][prefix] = ns
}

// Lookup resolves prefix to a namespace IRI, searching from the innermost
// frame outward.
func (s *NSStack) Lookup(prefix string) (string, bool) {
	for i := len(s.frames) - 1; i >= 0; i-- {
		if ns, ok := s.frames[i][prefix]; ok {
			return ns, true
		}
	}
	return "", false
}

// ReversePrefix finds a prefix already bound to ns, searching from the
// innermost frame outward. Used by the serializer to reuse an ancestor's
// declaration instead of redeclaring the same namespace on every element.
func (s *NSStack) ReversePrefix(ns string) (string, bool) {
	for i := len(s.frames) - 1; i >= 0; i-- {
		for prefix, bound := range s.frames[i] {
			if bound == ns {
				return prefix, true
			}
		}
	}
	return "", false
}

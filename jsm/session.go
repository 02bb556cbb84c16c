package jsm

import (
	"context"
	"sync"

	"github.com/jabberd-go/jabberd/jid"
	xmldom "github.com/jabberd-go/jabberd/xml"
)

// Session is the per-full-JID record: one connected resource of a User,
// its last presence, and its own per-session handler chains, reached
// ahead of Instance's domain-wide chains for anything addressed to this
// resource specifically.
type Session struct {
	Owner    *User
	Full     jid.JID
	Resource string
	Scratch  *Scratch

	// Deliver writes a stanza to this session's connection. Set by
	// whatever wires a Session to a live mio.Conn; nil sessions (e.g. in
	// tests) simply can't be delivered to.
	Deliver func(ctx context.Context, n *xmldom.Node) error

	mu              sync.Mutex
	lastPresence    *xmldom.Node
	priority        int
	rosterRequested bool
	available       bool

	in, out, end, serialize, filterIn, filterOut []Handler
}

func newSession(owner *User, full jid.JID) *Session {
	return &Session{
		Owner:    owner,
		Full:     full,
		Resource: full.Resource(),
		Scratch:  NewScratch(),
		priority: Gone,
	}
}

// RegisterSessionHandler appends h to one of this session's chains.
func (s *Session) RegisterSessionHandler(ev SessionEvent, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch ev {
	case SessionEventIn:
		s.in = append(s.in, h)
	case SessionEventOut:
		s.out = append(s.out, h)
	case SessionEventEnd:
		s.end = append(s.end, h)
	case SessionEventSerialize:
		s.serialize = append(s.serialize, h)
	case SessionEventFilterIn:
		s.filterIn = append(s.filterIn, h)
	case SessionEventFilterOut:
		s.filterOut = append(s.filterOut, h)
	}
}

// Dispatch runs data through this session's chain for ev.
func (s *Session) Dispatch(ctx context.Context, ev SessionEvent, data any) (Result, error) {
	s.mu.Lock()
	var chain []Handler
	switch ev {
	case SessionEventIn:
		chain = append([]Handler(nil), s.in...)
	case SessionEventOut:
		chain = append([]Handler(nil), s.out...)
	case SessionEventEnd:
		chain = append([]Handler(nil), s.end...)
	case SessionEventSerialize:
		chain = append([]Handler(nil), s.serialize...)
	case SessionEventFilterIn:
		chain = append([]Handler(nil), s.filterIn...)
	case SessionEventFilterOut:
		chain = append([]Handler(nil), s.filterOut...)
	}
	s.mu.Unlock()
	return runChain(ctx, chain, data)
}

// LastPresence returns the last presence stanza this session broadcast,
// and whether it is currently available.
func (s *Session) LastPresence() (*xmldom.Node, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastPresence, s.available
}

// SetPresence records n (or nil for unavailable) and its priority,
// which must lie in [-128, +127]; values outside it (or an unavailable
// presence) set Gone.
func (s *Session) SetPresence(n *xmldom.Node, priority int, available bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastPresence = n
	s.available = available
	if !available {
		s.priority = Gone
		return
	}
	if priority < -128 || priority > 127 {
		priority = Gone
	}
	s.priority = priority
}

// Priority returns the session's last-set priority, or Gone.
func (s *Session) Priority() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.priority
}

// RosterRequested reports whether this session has requested its roster
// (and so should receive roster pushes).
func (s *Session) RosterRequested() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rosterRequested
}

func (s *Session) SetRosterRequested(v bool) {
	s.mu.Lock()
	s.rosterRequested = v
	s.mu.Unlock()
}

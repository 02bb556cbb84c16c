package jsm

import (
	"sync"

	"github.com/jabberd-go/jabberd/jid"
)

// ScratchKey is the key type for Scratch. Every module shares this one
// string type, so keys are kept apart by their names alone (offline,
// for example, uses "offline.xep0013").
type ScratchKey string

// Scratch is the heterogeneous map standing in for the teacher's
// void*-keyed aux_data hash: a module stores whatever shape of value it
// wants under a key of its own, and type-asserts the value Get returns.
type Scratch struct {
	mu   sync.RWMutex
	data map[ScratchKey]any
}

// NewScratch creates an empty Scratch.
func NewScratch() *Scratch {
	return &Scratch{data: make(map[ScratchKey]any)}
}

// Get returns the value stored under k, if any.
func (s *Scratch) Get(k ScratchKey) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[k]
	return v, ok
}

// Set stores v under k, replacing any previous value.
func (s *Scratch) Set(k ScratchKey, v any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[k] = v
}

// Gone is the priority floor below which a session is treated as absent
// for presence-routing purposes even though its record is kept around
// (spec.md: priority "< -128 for gone").
const Gone = -129

// User is the per-bare-JID record (udata): every live Session, the
// presence trust sets, and module scratch. Lazily created on first
// traffic, evicted once no session remains and no module still holds a
// reference (Ref/Unref).
type User struct {
	Bare jid.JID

	mu       sync.Mutex
	sessions []*Session
	trustees map[string]struct{} // bare JIDs subscribed-from this user (may probe)
	seen     map[string]struct{} // bare JIDs this user has subscribed-to
	refs     int

	Scratch *Scratch
}

func newUser(bare jid.JID) *User {
	return &User{
		Bare:     bare,
		trustees: make(map[string]struct{}),
		seen:     make(map[string]struct{}),
		Scratch:  NewScratch(),
	}
}

// Sessions returns a snapshot of the user's live sessions.
func (u *User) Sessions() []*Session {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]*Session(nil), u.sessions...)
}

// SessionByResource returns the session bound to resource, if live.
func (u *User) SessionByResource(resource string) *Session {
	u.mu.Lock()
	defer u.mu.Unlock()
	for _, s := range u.sessions {
		if s.Resource == resource {
			return s
		}
	}
	return nil
}

func (u *User) addSession(s *Session) {
	u.mu.Lock()
	u.sessions = append(u.sessions, s)
	u.mu.Unlock()
}

func (u *User) removeSession(s *Session) {
	u.mu.Lock()
	defer u.mu.Unlock()
	for i, sess := range u.sessions {
		if sess == s {
			u.sessions = append(u.sessions[:i], u.sessions[i+1:]...)
			return
		}
	}
}

// Ref keeps u alive past its last session ending, for a module with
// async work still outstanding against it (e.g. a roster push in
// flight).
func (u *User) Ref() {
	u.mu.Lock()
	u.refs++
	u.mu.Unlock()
}

// Unref releases a reference taken with Ref.
func (u *User) Unref() {
	u.mu.Lock()
	u.refs--
	u.mu.Unlock()
}

// idle reports whether u has no live sessions and no outstanding
// module references, i.e. is eligible for eviction.
func (u *User) idle() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.sessions) == 0 && u.refs <= 0
}

// IsTrustee reports whether contact (a bare JID string) may probe this
// user's presence, per the roster subscription from/both states.
func (u *User) IsTrustee(contact string) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	_, ok := u.trustees[contact]
	return ok
}

func (u *User) AddTrustee(contact string) {
	u.mu.Lock()
	u.trustees[contact] = struct{}{}
	u.mu.Unlock()
}

func (u *User) RemoveTrustee(contact string) {
	u.mu.Lock()
	delete(u.trustees, contact)
	u.mu.Unlock()
}

// TrusteeSnapshot returns a copy of the set of bare JIDs entitled to
// probe/receive this user's presence (roster subscription from/both),
// for a module (presence's seed-A-on-login broadcast) that needs to
// iterate it without holding User's lock.
func (u *User) TrusteeSnapshot() map[string]struct{} {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make(map[string]struct{}, len(u.trustees))
	for k := range u.trustees {
		out[k] = struct{}{}
	}
	return out
}

// HasSeen reports whether this user has a to/both subscription to
// contact, i.e. expects to receive its presence.
func (u *User) HasSeen(contact string) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	_, ok := u.seen[contact]
	return ok
}

func (u *User) MarkSeen(contact string) {
	u.mu.Lock()
	u.seen[contact] = struct{}{}
	u.mu.Unlock()
}

func (u *User) UnmarkSeen(contact string) {
	u.mu.Lock()
	delete(u.seen, contact)
	u.mu.Unlock()
}

// SeenSnapshot returns a copy of the set of bare JIDs this user has a
// to/both roster subscription to, for a module (presence's
// probe-on-available) that needs to iterate it without holding User's
// lock.
func (u *User) SeenSnapshot() map[string]struct{} {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make(map[string]struct{}, len(u.seen))
	for k := range u.seen {
		out[k] = struct{}{}
	}
	return out
}

package jsm

// Event names one of Instance's global, domain-wide handler chains.
// Generalizes the teacher's single Mux chain into a registry of named
// chains, one per lifecycle/session-pipeline moment from spec.md §4.6.1.
type Event int

const (
	// EventSession fires when a new Session is created for a User.
	EventSession Event = iota
	// EventDeserialize names a chain for stanzas decoded off the wire,
	// before routing. Handlers can be registered on it, but nothing in
	// this tree dispatches it.
	EventDeserialize
	// EventOffline names a chain for a stanza that finds no live session
	// able to take it. Nothing in this tree dispatches it; offline
	// storage runs on EventDeliver instead.
	EventOffline
	// EventDeliver fires for a stanza addressed to a local bare JID, or
	// to a full JID whose session did not handle it, so the
	// roster/privacy/offline modules can act on it.
	EventDeliver
	// EventFilterIn/EventFilterOut name domain-wide privacy-check
	// chains. Nothing in this tree dispatches them; jsm/privacy filters
	// on EventDeliver and the session In/Out chains.
	EventFilterIn
	EventFilterOut
	// EventServer fires for a stanza addressed to the domain itself
	// (no local part), e.g. service discovery.
	EventServer
	// EventRosterChange names a chain for roster subscription changes.
	// Nothing in this tree dispatches it; jsm/roster updates the User's
	// trustee/seen sets directly.
	EventRosterChange
	// EventDelete fires when a User is about to be evicted.
	EventDelete
	// EventShutdown fires once, when the Instance is stopping.
	EventShutdown
)

// SessionEvent names one of a Session's own per-connection handler
// chains (spec.md's IN, OUT, END, SERIALIZE, FILTER_IN, FILTER_OUT).
type SessionEvent int

const (
	// SessionEventIn is a stanza arriving for this session's resource.
	SessionEventIn SessionEvent = iota
	// SessionEventOut is a stanza this session is sending outbound.
	SessionEventOut
	// SessionEventEnd fires once, when the session closes.
	SessionEventEnd
	// SessionEventSerialize names a chain for a stanza about to be
	// written to the session's connection. Session.Dispatch accepts it,
	// but nothing in this tree dispatches it.
	SessionEventSerialize
	// SessionEventFilterIn/SessionEventFilterOut name per-session
	// privacy-check chains. Nothing in this tree dispatches them;
	// jsm/privacy filters on SessionEventIn/SessionEventOut.
	SessionEventFilterIn
	SessionEventFilterOut
)

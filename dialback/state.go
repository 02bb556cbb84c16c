package dialback

// outState is the lifecycle of one outbound s2s connection attempt.
type outState int

const (
	outNone outState = iota
	outConnecting
	outSentResult // db:result sent, awaiting the peer's verdict
	outOKDB       // peer confirmed via db:result type='valid'
	outOKLegacy   // peer confirmed via the legacy plain-SHA1 path
	outClosing
)

// inState is the lifecycle of one inbound s2s connection, from the
// local server's point of view as the recipient being asked to vouch
// for (or challenge) an originator.
type inState int

const (
	inNone inState = iota
	inAwaitingResult // stream open, waiting for db:result
	inVerifying      // db:verify sent to the asserted originator's own authoritative server
	inOKDB
	inOKLegacy
	inClosing
)

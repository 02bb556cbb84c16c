package mio

import (
	"context"

	"github.com/jabberd-go/jabberd/internal/ns"
	xmldom "github.com/jabberd-go/jabberd/xml"
)

// NegState is the stream-negotiation state of one Conn, tracked
// independently of Karma/State so feature gating (STARTTLS before SASL,
// SASL before bind) can be expressed declaratively.
type NegState uint32

const (
	NegSecure        NegState = 1 << iota // TLS negotiated
	NegAuthenticated                      // SASL complete
	NegBound                              // resource bound
)

// Feature is one entry in a stream's <features/> advertisement: a
// necessary/prohibited NegState gate, a builder for the advertised
// element, and a handler for the client's request element. Mirrors the
// teacher's StreamFeature shape, ported from encoding/xml's token
// Encoder/Decoder onto *xml.Node.
type Feature struct {
	Name       string
	NS         string
	Necessary  NegState
	Prohibited NegState

	// Advertise appends this feature's element to features.
	Advertise func(features *xmldom.Node)

	// Negotiate handles an inbound request element addressed to this
	// feature (matched by Name/NS) and returns the NegState bits it
	// grants.
	Negotiate func(ctx context.Context, c *Conn, req *xmldom.Node) (NegState, error)
}

// Negotiator offers a fixed list of Features and dispatches inbound
// top-level elements to whichever one claims them.
type Negotiator struct {
	features []Feature
	state    NegState
}

// NewNegotiator builds a Negotiator from the given features, offered in
// the order given (matching the teacher's registration-order semantics).
func NewNegotiator(features ...Feature) *Negotiator {
	return &Negotiator{features: features}
}

// State returns the negotiation state accumulated so far.
func (n *Negotiator) State() NegState { return n.state }

// Grant ORs extra bits into the negotiation state; used once SASL or
// bind completes via a path outside Dispatch (e.g. a multi-stanza SASL
// exchange).
func (n *Negotiator) Grant(s NegState) { n.state |= s }

// Offered returns the Features eligible for the current state, in
// offer order.
func (n *Negotiator) Offered() []Feature {
	var out []Feature
	for _, f := range n.features {
		if f.Necessary != 0 && n.state&f.Necessary != f.Necessary {
			continue
		}
		if f.Prohibited != 0 && n.state&f.Prohibited != 0 {
			continue
		}
		out = append(out, f)
	}
	return out
}

// FeaturesNode builds the <stream:features/> element for the current
// state.
func (n *Negotiator) FeaturesNode() *xmldom.Node {
	features := xmldom.NewElement("features", ns.Stream)
	for _, f := range n.Offered() {
		f.Advertise(features)
	}
	return features
}

// Dispatch matches an inbound top-level node against the currently
// offered Features and runs its Negotiate func, folding the returned
// bits into state. handled is false if no offered feature claims node.
func (n *Negotiator) Dispatch(ctx context.Context, c *Conn, node *xmldom.Node) (handled bool, err error) {
	for _, f := range n.Offered() {
		if node.Local != f.Name || node.NS != f.NS {
			continue
		}
		granted, err := f.Negotiate(ctx, c, node)
		if err != nil {
			return true, err
		}
		n.state |= granted
		return true, nil
	}
	return false, nil
}

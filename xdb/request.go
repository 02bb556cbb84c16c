// Package xdb is the storage facade: every persistent fragment outside
// the user account store (rosters, offline queues, privacy lists) is
// addressed by (jid, namespace) and moves as a Request/Response pair
// over the delivery bus, exactly like any other packet.
package xdb

import (
	"errors"

	"github.com/google/uuid"
	"github.com/jabberd-go/jabberd/jid"
	xmldom "github.com/jabberd-go/jabberd/xml"
)

// Action identifies what an xdb Request asks a Backend to do.
type Action int

const (
	ActionGet Action = iota
	ActionSet
	ActionInsert
)

// Request is the wire envelope exchanged between a caller (jsm, dialback,
// anything holding a *bus.Bus) and an xdb Instance.
type Request struct {
	ID        string
	To        jid.JID
	NS        string
	Action    Action
	Match     string // optional xpath-ish predicate; used by ActionInsert only
	MatchPath string
	Data      []*xmldom.Node // children to Set/Insert; empty for Get
}

// Response answers a Request by correlation ID.
type Response struct {
	ID   string
	Data *xmldom.Node // the stored fragment's root, or nil if absent
	Err  error
}

// NewRequestID mints a correlation id for a new Request.
func NewRequestID() string {
	return uuid.NewString()
}

// RequestToNode encodes req as the <xdb/> wire element an Instance's
// HandlePacket decodes via requestFromNode. Exported for Client (and any
// other caller holding a *bus.Bus directly) to build the packet body.
func RequestToNode(req Request) *xmldom.Node {
	n := xmldom.NewElement("xdb", "")
	n.NS = req.NS
	n.SetAttr("id", "", req.ID)
	if req.Match != "" {
		n.SetAttr("match", "", req.Match)
	}
	if req.MatchPath != "" {
		n.SetAttr("matchpath", "", req.MatchPath)
	}
	switch req.Action {
	case ActionSet:
		n.SetAttr("action", "", "set")
	case ActionInsert:
		n.SetAttr("action", "", "insert")
	}
	for _, c := range req.Data {
		n.AppendChild(c.Clone())
	}
	return n
}

// ResponseFromNode decodes a Response from the <xdb/> wire element a
// Client receives back from an Instance.
func ResponseFromNode(n *xmldom.Node) Response {
	resp := Response{}
	if id, ok := n.Attribute("id", ""); ok {
		resp.ID = id
	}
	if errMsg, ok := n.Attribute("error", ""); ok && errMsg != "" {
		resp.Err = errors.New(errMsg)
	}
	if children := n.Elements(); len(children) > 0 {
		resp.Data = children[0]
	}
	return resp
}

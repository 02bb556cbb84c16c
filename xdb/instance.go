package xdb

import (
	"context"
	"log/slog"

	"github.com/jabberd-go/jabberd/bus"
	"github.com/jabberd-go/jabberd/internal/ns"
	"github.com/jabberd-go/jabberd/jid"
	xmldom "github.com/jabberd-go/jabberd/xml"
)

// Instance wraps a Backend as a bus.Handler, registered under
// bus.InstanceXDB so the bus routes KindXDB packets to it. Requests are
// carried on the wire as an <xdb/> element (action/ns/match attributes,
// children being the fragment to Set/Insert); Responses go back the
// same way, addressed to From, via the Bus the Instance was built with.
type Instance struct {
	backend Backend
	deliver func(ctx context.Context, p bus.Packet) error
	log     *slog.Logger
}

// NewInstance builds an xdb Instance over backend. deliver is typically
// (*bus.Bus).Deliver, used to send the Response packet back to the
// requester.
func NewInstance(backend Backend, deliver func(ctx context.Context, p bus.Packet) error, log *slog.Logger) *Instance {
	if log == nil {
		log = slog.Default()
	}
	return &Instance{backend: backend, deliver: deliver, log: log}
}

// HandlePacket implements bus.Handler: only KindXDB packets are
// serviced; anything else is passed along.
func (inst *Instance) HandlePacket(ctx context.Context, p bus.Packet) (bus.Result, error) {
	if p.Kind != bus.KindXDB || p.Node == nil {
		return bus.ResultPass, nil
	}

	req := requestFromNode(p.Node)
	resp := inst.handle(ctx, p.To, req)

	reply := bus.Packet{
		Kind: bus.KindXDB,
		To:   p.From,
		From: p.To,
		Node: responseToNode(resp),
	}
	if err := inst.deliver(ctx, reply); err != nil {
		inst.log.Error("xdb: failed to deliver response", "err", err)
		return bus.ResultErr, err
	}
	return bus.ResultDone, nil
}

func (inst *Instance) handle(ctx context.Context, who jid.JID, req Request) Response {
	switch req.Action {
	case ActionGet:
		data, err := inst.backend.Get(ctx, who, req.NS)
		return Response{ID: req.ID, Data: data, Err: err}
	case ActionSet:
		err := inst.backend.Set(ctx, who, req.NS, req.Data)
		return Response{ID: req.ID, Err: err}
	case ActionInsert:
		err := inst.backend.Insert(ctx, who, req.NS, req.Match, req.Data)
		return Response{ID: req.ID, Err: err}
	default:
		return Response{ID: req.ID}
	}
}

func requestFromNode(n *xmldom.Node) Request {
	req := Request{NS: n.NS}
	if id, ok := n.Attribute("id", ""); ok {
		req.ID = id
	}
	if match, ok := n.Attribute("match", ""); ok {
		req.Match = match
	}
	if matchpath, ok := n.Attribute("matchpath", ""); ok {
		req.MatchPath = matchpath
	}
	switch action, _ := n.Attribute("action", ""); action {
	case "set":
		req.Action = ActionSet
	case "insert":
		req.Action = ActionInsert
	default:
		req.Action = ActionGet
	}
	req.Data = n.Elements()
	return req
}

func responseToNode(resp Response) *xmldom.Node {
	n := xmldom.NewElement("xdb", ns.XDB)
	n.SetAttr("id", "", resp.ID)
	if resp.Err != nil {
		n.SetAttr("error", "", resp.Err.Error())
	}
	if resp.Data != nil {
		n.AppendChild(resp.Data.Clone())
	}
	return n
}

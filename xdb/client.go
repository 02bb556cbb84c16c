package xdb

import (
	"context"
	"log/slog"

	"github.com/jabberd-go/jabberd/bus"
	"github.com/jabberd-go/jabberd/jid"
)

// Client is the caller side of the storage facade: it turns a Request
// into a KindXDB bus.Packet, sends it via deliver, and blocks (through a
// Cache) until the matching Response comes back or times out. jsm's
// modules hold one of these instead of talking to a Backend directly.
type Client struct {
	self    jid.JID // the domain-only JID this Client's replies are addressed to
	deliver func(ctx context.Context, p bus.Packet) error
	cache   *Cache
}

// NewClient builds a Client addressed as self (typically the jsm
// domain's own JID), sending requests via deliver (typically
// (*bus.Bus).Deliver) and replies must be routed back to self and
// handed to (*Client).Deliver for Cache to resolve them.
func NewClient(self jid.JID, deliver func(ctx context.Context, p bus.Packet) error, log *slog.Logger) *Client {
	return &Client{self: self, deliver: deliver, cache: NewCache(log)}
}

// HandlePacket implements bus.Handler so a Client can be registered
// directly on a bus.Instance to receive its own Responses.
func (c *Client) HandlePacket(ctx context.Context, p bus.Packet) (bus.Result, error) {
	if p.Kind != bus.KindXDB || p.Node == nil {
		return bus.ResultPass, nil
	}
	c.cache.Deliver(ResponseFromNode(p.Node))
	return bus.ResultDone, nil
}

// Query sends req to who and blocks for the Response.
func (c *Client) Query(ctx context.Context, who jid.JID, req Request) (*Response, error) {
	if req.ID == "" {
		req.ID = NewRequestID()
	}
	return c.cache.Call(ctx, req, func(r Request) error {
		return c.deliver(ctx, bus.Packet{
			Kind: bus.KindXDB,
			To:   who,
			From: c.self,
			Node: RequestToNode(r),
		})
	})
}

// Get is a convenience wrapper for an ActionGet Query.
func (c *Client) Get(ctx context.Context, who jid.JID, ns string) (*Response, error) {
	return c.Query(ctx, who, Request{NS: ns, Action: ActionGet})
}

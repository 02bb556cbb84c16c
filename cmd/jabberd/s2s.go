package main

import (
	"context"
	"net"

	"github.com/jabberd-go/jabberd/dialback"
	"github.com/jabberd-go/jabberd/jid"
	"github.com/jabberd-go/jabberd/transport"
)

// handleS2S wraps an accepted inbound s2s connection and hands it to
// dialback, which owns the whole inbound handshake (§4.5.3) plus
// stanza relaying once a peer domain earns a valid db:result.
func handleS2S(ctx context.Context, domain jid.JID, dialbackInst *dialback.Instance, nc net.Conn) {
	trans := transport.NewTCPServer(nc)
	dialbackInst.Accept(ctx, domain.Domain(), trans)
}

package dialback

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/jabberd-go/jabberd/bus"
	"github.com/jabberd-go/jabberd/dial"
	"github.com/jabberd-go/jabberd/internal/ns"
	"github.com/jabberd-go/jabberd/mio"
	xmldom "github.com/jabberd-go/jabberd/xml"
)

// Send routes p to its destination domain over s2s, establishing a new
// dboc if none is connecting or established for that domain (the
// at-most-one-per-key guarantee from spec.md's §4.5.4), and queuing p
// FIFO behind whatever else is waiting on that link.
func (i *Instance) Send(ctx context.Context, local string, p bus.Packet) error {
	remote := p.To.Domain()

	i.mu.Lock()
	if d, ok := i.outOKDB[remote]; ok {
		i.mu.Unlock()
		return i.writePacket(d, p)
	}
	if d, ok := i.outOKLegacy[remote]; ok {
		i.mu.Unlock()
		return i.writePacket(d, p)
	}
	if d, ok := i.outConnecting[remote]; ok {
		d.queue = append(d.queue, queuedPacket{pkt: p})
		i.mu.Unlock()
		return nil
	}

	d := &dboc{state: outConnecting, lastUse: time.Now()}
	d.queue = append(d.queue, queuedPacket{pkt: p})
	i.outConnecting[remote] = d
	i.mu.Unlock()

	go i.connect(context.Background(), local, remote, d)
	return nil
}

func (i *Instance) connect(ctx context.Context, local, remote string, d *dboc) {
	dialer := dial.NewDialer()
	trans, err := dialer.DialServer(ctx, remote)
	if err != nil {
		i.log.Warn("dialback: outbound dial failed", "remote", remote, "err", err)
		i.failOutbound(remote, d)
		return
	}

	streamID := NewStreamID()
	var cb mio.Callback = func(ctx context.Context, c *mio.Conn, ev mio.Event) {
		i.handleOutboundEvent(ctx, local, remote, streamID, d, c, ev)
	}
	conn := mio.NewConn(trans, mio.KindNormal, cb)
	d.conn = conn

	open := openStreamTag(local, remote, streamID)
	conn.Write([]byte(open))

	key := Key(i.secret, remote, local, streamID)
	result := xmldom.NewElement("result", ns.Dialback)
	result.SetAttr("from", "", local)
	result.SetAttr("to", "", remote)
	result.AppendText(key)
	conn.WriteNode(result, xmldom.StreamServer)

	conn.Serve(ctx)
}

func (i *Instance) handleOutboundEvent(ctx context.Context, local, remote, streamID string, d *dboc, c *mio.Conn, ev mio.Event) {
	if ev.Kind != mio.EventXMLNode || ev.Node == nil {
		return
	}
	if ev.Node.Local != "result" || ev.Node.NS != ns.Dialback {
		return
	}
	typ, _ := ev.Node.Attribute("type", "")
	switch typ {
	case "valid":
		i.promoteOutbound(remote, d)
	default:
		i.failOutbound(remote, d)
	}
}

func (i *Instance) promoteOutbound(remote string, d *dboc) {
	i.mu.Lock()
	delete(i.outConnecting, remote)
	d.state = outOKDB
	i.outOKDB[remote] = d
	pending := d.queue
	d.queue = nil
	i.mu.Unlock()

	for _, qp := range pending {
		i.writePacket(d, qp.pkt)
	}
}

func (i *Instance) failOutbound(remote string, d *dboc) {
	i.mu.Lock()
	delete(i.outConnecting, remote)
	pending := d.queue
	d.queue = nil
	i.mu.Unlock()

	for _, qp := range pending {
		bounced := qp.pkt.Bounce()
		i.deliver(context.Background(), bounced)
	}
	if d.conn != nil {
		d.conn.Close()
	}
}

func (i *Instance) writePacket(d *dboc, p bus.Packet) error {
	var buf bytes.Buffer
	if err := p.Node.Serialize(&buf, xmldom.NewNSStack(), xmldom.StreamServer); err != nil {
		return err
	}
	d.conn.Write(buf.Bytes())
	d.lastUse = time.Now()
	return nil
}

func openStreamTag(local, remote, streamID string) string {
	return fmt.Sprintf(
		"<stream:stream xmlns:stream='%s' xmlns='%s' xmlns:db='%s' from='%s' to='%s' id='%s' version='1.0'>",
		ns.Stream, ns.Server, ns.Dialback, local, remote, streamID)
}

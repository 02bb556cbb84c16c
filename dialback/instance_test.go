package dialback

import (
	"context"
	"testing"
	"time"

	"github.com/jabberd-go/jabberd/bus"
	"github.com/jabberd-go/jabberd/jid"
	"github.com/jabberd-go/jabberd/mio"
	xmldom "github.com/jabberd-go/jabberd/xml"
)

func testPacket(t *testing.T, to string) bus.Packet {
	t.Helper()
	toJID, err := jid.Parse(to)
	if err != nil {
		t.Fatalf("parse jid: %v", err)
	}
	return bus.Packet{Kind: bus.KindNormal, To: toJID, Node: xmldom.NewElement("message", "jabber:server")}
}

func TestSendQueuesBehindAnInFlightConnectionAttempt(t *testing.T) {
	i := NewInstance(func(context.Context, bus.Packet) error { return nil })

	d := &dboc{state: outConnecting, lastUse: time.Now()}
	i.outConnecting["example.net"] = d

	if err := i.Send(context.Background(), "example.com", testPacket(t, "alice@example.net")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := i.Send(context.Background(), "example.com", testPacket(t, "bob@example.net")); err != nil {
		t.Fatalf("Send: %v", err)
	}

	if len(d.queue) != 2 {
		t.Fatalf("want 2 queued packets, got %d", len(d.queue))
	}
	if len(i.outConnecting) != 1 {
		t.Fatalf("Send must not start a second dboc for the same remote domain, got %d entries", len(i.outConnecting))
	}
}

func TestSendWritesDirectlyOnAnEstablishedLink(t *testing.T) {
	i := NewInstance(func(context.Context, bus.Packet) error { return nil })

	conn := mio.NewConn(nil, mio.KindNormal, func(context.Context, *mio.Conn, mio.Event) {})
	d := &dboc{conn: conn, state: outOKDB, lastUse: time.Now()}
	i.outOKDB["example.net"] = d

	if err := i.Send(context.Background(), "example.com", testPacket(t, "alice@example.net")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(d.queue) != 0 {
		t.Fatal("an established link must write immediately, not queue")
	}
}

func TestPromoteOutboundDrainsQueueAndMovesToOKDB(t *testing.T) {
	i := NewInstance(func(context.Context, bus.Packet) error { return nil })

	conn := mio.NewConn(nil, mio.KindNormal, func(context.Context, *mio.Conn, mio.Event) {})
	p1 := testPacket(t, "alice@example.net")
	p2 := testPacket(t, "bob@example.net")
	d := &dboc{conn: conn, state: outConnecting, queue: []queuedPacket{{pkt: p1}, {pkt: p2}}}
	i.outConnecting["example.net"] = d

	i.promoteOutbound("example.net", d)

	if _, ok := i.outConnecting["example.net"]; ok {
		t.Fatal("promoteOutbound must remove the connecting entry")
	}
	got, ok := i.outOKDB["example.net"]
	if !ok || got != d {
		t.Fatal("promoteOutbound must install the dboc under outOKDB")
	}
	if got.state != outOKDB {
		t.Fatalf("want state outOKDB, got %v", got.state)
	}
	if len(got.queue) != 0 {
		t.Fatalf("queue must be drained after promotion, got %d left", len(got.queue))
	}
}

func TestFailOutboundBouncesQueuedPackets(t *testing.T) {
	var bounced []bus.Packet
	i := NewInstance(func(_ context.Context, p bus.Packet) error {
		bounced = append(bounced, p)
		return nil
	})

	p1 := testPacket(t, "alice@example.net")
	d := &dboc{state: outConnecting, queue: []queuedPacket{{pkt: p1}}}
	i.outConnecting["example.net"] = d

	i.failOutbound("example.net", d)

	if _, ok := i.outConnecting["example.net"]; ok {
		t.Fatal("failOutbound must remove the connecting entry")
	}
	if len(bounced) != 1 {
		t.Fatalf("want 1 bounced packet, got %d", len(bounced))
	}
	if !bounced[0].Bounced {
		t.Fatal("bounced packet must be marked Bounced")
	}
	if bounced[0].To != p1.From || bounced[0].From != p1.To {
		t.Fatal("Bounce must swap To/From")
	}
}

func TestNewStreamIDIsFortyCharsAndUnique(t *testing.T) {
	a := NewStreamID()
	b := NewStreamID()
	if len(a) != 40 || len(b) != 40 {
		t.Fatalf("want 40-char stream ids, got %d and %d", len(a), len(b))
	}
	if a == b {
		t.Fatal("NewStreamID must not repeat")
	}
}

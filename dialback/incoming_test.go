package dialback

import (
	"context"
	"testing"
	"time"

	"github.com/jabberd-go/jabberd/bus"
	"github.com/jabberd-go/jabberd/internal/ns"
	"github.com/jabberd-go/jabberd/mio"
	xmldom "github.com/jabberd-go/jabberd/xml"
)

func TestHandleDBResultAcceptsAValidKey(t *testing.T) {
	i := NewInstance(func(context.Context, bus.Packet) error { return nil }, WithSecret("shared-secret"))
	streamID := "stream-under-test"

	d := &dbic{state: inAwaitingResult, streamID: streamID, lastUse: time.Now()}
	i.inByID[streamID] = d

	conn := mio.NewConn(nil, mio.KindNormal, func(context.Context, *mio.Conn, mio.Event) {})

	result := xmldom.NewElement("result", ns.Dialback)
	result.SetAttr("from", "", "example.net")
	result.SetAttr("to", "", "example.com")
	result.AppendText(Key("shared-secret", "example.com", "example.net", streamID))

	i.handleDBResult(context.Background(), "example.com", streamID, d, conn, result)

	if d.state != inOKDB {
		t.Fatalf("want state inOKDB after a valid key, got %v", d.state)
	}
	if _, ok := i.inOKDB["example.net"]; !ok {
		t.Fatal("a valid db:result must register the originator under inOKDB")
	}
}

func TestHandleDBResultRejectsAWrongKey(t *testing.T) {
	i := NewInstance(func(context.Context, bus.Packet) error { return nil }, WithSecret("shared-secret"))
	streamID := "stream-under-test"

	d := &dbic{state: inAwaitingResult, streamID: streamID, lastUse: time.Now()}
	i.inByID[streamID] = d

	conn := mio.NewConn(nil, mio.KindNormal, func(context.Context, *mio.Conn, mio.Event) {})

	result := xmldom.NewElement("result", ns.Dialback)
	result.SetAttr("from", "", "example.net")
	result.SetAttr("to", "", "example.com")
	result.AppendText("not-the-right-key")

	i.handleDBResult(context.Background(), "example.com", streamID, d, conn, result)

	if d.state == inOKDB {
		t.Fatal("an invalid key must not promote the dbic to inOKDB")
	}
	if _, ok := i.inOKDB["example.net"]; ok {
		t.Fatal("an invalid key must not register the originator under inOKDB")
	}
}

func TestHandleDBVerifyReportsValidForAnIssuedStreamID(t *testing.T) {
	i := NewInstance(func(context.Context, bus.Packet) error { return nil }, WithSecret("shared-secret"))
	streamID := "issued-stream-id"
	i.inByID[streamID] = &dbic{state: inAwaitingResult, streamID: streamID, lastUse: time.Now()}

	conn := mio.NewConn(nil, mio.KindNormal, func(context.Context, *mio.Conn, mio.Event) {})

	verify := xmldom.NewElement("verify", ns.Dialback)
	verify.SetAttr("from", "", "example.org")
	verify.SetAttr("to", "", "example.com")
	verify.SetAttr("id", "", streamID)
	verify.AppendText(Key("shared-secret", "example.org", "example.com", streamID))

	// handleDBVerify only reads i.inByID to confirm the id was actually
	// issued by this Instance; it doesn't assert on the reply node here
	// since WriteNode only enqueues onto conn, which has no transport to
	// inspect in this test. Absence of a panic plus no state corruption
	// is what's under test.
	i.handleDBVerify(context.Background(), "example.com", streamID, i.inByID[streamID], conn, verify)
}

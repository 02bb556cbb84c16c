package mio

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"testing"
	"time"
)

// fakeTransport adapts a net.Conn (from net.Pipe) to transport.Transport
// for tests that don't need real TLS.
type fakeTransport struct {
	net.Conn
}

func (f fakeTransport) StartTLS(*tls.Config) error                  { return nil }
func (f fakeTransport) ConnectionState() (tls.ConnectionState, bool) { return tls.ConnectionState{}, false }
func (f fakeTransport) Peer() net.Addr                               { return f.Conn.RemoteAddr() }
func (f fakeTransport) LocalAddress() net.Addr                       { return f.Conn.LocalAddr() }

func TestConnDeliversRootAndStanzaEvents(t *testing.T) {
	t.Parallel()
	serverSide, clientSide := net.Pipe()
	defer clientSide.Close()

	events := make(chan Event, 8)
	c := NewConn(fakeTransport{serverSide}, KindNormal, func(_ context.Context, _ *Conn, ev Event) {
		events <- ev
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Serve(ctx)

	go func() {
		clientSide.Write([]byte(`<stream:stream xmlns:stream='http://etherx.jabber.org/streams' xmlns='jabber:client'>`))
		clientSide.Write([]byte(`<message type='chat'><body>hi</body></message>`))
	}()

	ev := waitForKind(t, events, EventNew)
	_ = ev
	ev = waitForKind(t, events, EventXMLRoot)
	if ev.Node.Local != "stream" {
		t.Errorf("root local = %q, want stream", ev.Node.Local)
	}
	ev = waitForKind(t, events, EventXMLNode)
	if ev.Node.Local != "message" {
		t.Errorf("stanza local = %q, want message", ev.Node.Local)
	}
}

func waitForKind(t *testing.T, events chan Event, want EventKind) Event {
	t.Helper()
	for {
		select {
		case ev := <-events:
			if ev.Kind == want {
				return ev
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for event kind %d", want)
		}
	}
}

func TestConnWriteDrainsQueue(t *testing.T) {
	t.Parallel()
	serverSide, clientSide := net.Pipe()
	defer clientSide.Close()

	c := NewConn(fakeTransport{serverSide}, KindNormal, func(context.Context, *Conn, Event) {})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Serve(ctx)

	c.Write([]byte("hello"))

	buf := make([]byte, 5)
	clientSide.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := io.ReadFull(clientSide, buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(buf[:n]) != "hello" {
		t.Errorf("got %q, want hello", buf[:n])
	}
}

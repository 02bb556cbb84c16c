package xml

import (
	"testing"
	"time"
)

func TestStreamParserRootAndStanza(t *testing.T) {
	t.Parallel()
	p := NewStreamParser()
	defer p.Close()

	go func() {
		p.Feed([]byte(`<stream:stream xmlns:stream='http://etherx.jabber.org/streams' xmlns='jabber:client' to='example.com' version='1.0'>`))
		p.Feed([]byte(`<message type='chat'><body>hi</body></message>`))
	}()

	ev := mustEvent(t, p, EventRootOpen)
	if ev.Root.Local != "stream" {
		t.Fatalf("root local = %q, want stream", ev.Root.Local)
	}

	ev = mustEvent(t, p, EventStanza)
	if ev.Node.Local != "message" {
		t.Fatalf("stanza local = %q, want message", ev.Node.Local)
	}
	body := ev.Node.Element("body", CanonicalServerNS)
	if body == nil || body.GetData() != "hi" {
		t.Fatalf("body = %+v, want data hi", body)
	}
}

func TestStreamParserUnresolvedPrefixBecomesClue(t *testing.T) {
	t.Parallel()
	p := NewStreamParser()
	defer p.Close()

	go func() {
		p.Feed([]byte(`<stream:stream xmlns:stream='http://etherx.jabber.org/streams' xmlns='jabber:client'>`))
		p.Feed([]byte(`<foo:bar xmlns='jabber:client'/>`))
	}()

	mustEvent(t, p, EventRootOpen)
	ev := mustEvent(t, p, EventStanza)
	if ev.Node.NS != ClueNS {
		t.Fatalf("unresolved prefix ns = %q, want %q", ev.Node.NS, ClueNS)
	}
}

func TestStreamParserMaxDepth(t *testing.T) {
	t.Parallel()
	p := NewStreamParser()
	defer p.Close()

	go func() {
		p.Feed([]byte(`<stream:stream xmlns:stream='http://etherx.jabber.org/streams' xmlns='jabber:client'>`))
		var open string
		for i := 0; i < MaxDepth+2; i++ {
			open += "<a>"
		}
		p.Feed([]byte(open))
	}()

	mustEvent(t, p, EventRootOpen)
	mustEvent(t, p, EventError)
}

func mustEvent(t *testing.T, p *StreamParser, want EventKind) Event {
	t.Helper()
	select {
	case ev, ok := <-p.Events():
		if !ok {
			t.Fatalf("events channel closed while waiting for kind %d", want)
		}
		if ev.Kind != want {
			t.Fatalf("got event kind %d (err=%v), want %d", ev.Kind, ev.Err, want)
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for event kind %d", want)
		return Event{}
	}
}

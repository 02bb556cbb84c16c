package xml

import (
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/jabberd-go/jabberd/internal/ns"
)

// Resource limits enforced by StreamParser, matching the jabberd14
// expat wrapper's hard caps on stream depth and per-stanza size.
const (
	MaxDepth   = 100
	MaxNodeLen = 1_000_000
)

// EventKind identifies what a StreamParser has produced.
type EventKind int

const (
	// EventRootOpen fires once, when the opening <stream:stream> tag (or
	// equivalent root element) has been read.
	EventRootOpen EventKind = iota
	// EventStanza fires once per complete top-level child element of the
	// stream root: a built, queryable *Node is attached.
	EventStanza
	// EventClose fires when the stream root's end tag is read, or the
	// underlying connection is closed.
	EventClose
	// EventError fires on malformed XML, a depth/size violation, or any
	// other unrecoverable parse failure. The stream is unusable after this.
	EventError
)

// Event is one item off a StreamParser's Events channel.
type Event struct {
	Kind EventKind
	Root *Node // set on EventRootOpen: the open root element (no children)
	Node *Node // set on EventStanza: a fully-built, detached top-level element
	Err  error // set on EventError
}

// StreamParser incrementally parses bytes fed to it into Node trees,
// delivering one Event per completed root-open, stanza, or the final
// close. It is built on io.Pipe so that Feed can be called from the
// connection's read loop while decoding happens on its own goroutine, the
// same division of labor mio.Conn uses for writes.
type StreamParser struct {
	pw     *io.PipeWriter
	pr     *io.PipeReader
	events chan Event
	done   chan struct{}
}

// NewStreamParser starts the background decode goroutine and returns a
// parser ready to accept Feed calls.
func NewStreamParser() *StreamParser {
	pr, pw := io.Pipe()
	p := &StreamParser{
		pw:     pw,
		pr:     pr,
		events: make(chan Event, 8),
		done:   make(chan struct{}),
	}
	go p.run()
	return p
}

// Feed appends bytes read off the wire for decoding. It may block if the
// decode goroutine is behind; callers should not call Feed concurrently.
func (p *StreamParser) Feed(b []byte) error {
	_, err := p.pw.Write(b)
	return err
}

// Close unblocks the decode goroutine, causing a final EventClose (or
// EventError, if a parse was mid-flight) to be emitted.
func (p *StreamParser) Close() error {
	return p.pw.Close()
}

// Events returns the channel Event values are delivered on. It is closed
// after EventClose or EventError is sent.
func (p *StreamParser) Events() <-chan Event {
	return p.events
}

type openElem struct {
	node *Node
}

func (p *StreamParser) run() {
	defer close(p.events)

	dec := xml.NewDecoder(p.pr)
	var stack []openElem
	var root *Node
	var rootSeen bool
	nodeBytes := 0

	emit := func(ev Event) {
		select {
		case p.events <- ev:
		case <-p.done:
		}
	}

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			emit(Event{Kind: EventClose})
			return
		}
		if err != nil {
			emit(Event{Kind: EventError, Err: fmt.Errorf("xml: %w", err)})
			return
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if len(stack) >= MaxDepth {
				emit(Event{Kind: EventError, Err: fmt.Errorf("xml: max stream depth %d exceeded", MaxDepth)})
				return
			}
			local, namespace := resolveName(t.Name)
			n := &Node{Kind: KindElement, Local: local, NS: CanonicalizeServerNS(namespace)}
			for _, a := range t.Attr {
				if a.Name.Space == "xmlns" || a.Name.Local == "xmlns" {
					continue
				}
				aLocal, aNS := resolveName(a.Name)
				n.Attrs = append(n.Attrs, Attr{Local: aLocal, NS: aNS, Value: a.Value})
				nodeBytes += len(a.Value)
			}

			if len(stack) == 0 {
				root = n
				rootSeen = true
				stack = append(stack, openElem{node: n})
				emit(Event{Kind: EventRootOpen, Root: n})
				continue
			}

			parent := stack[len(stack)-1].node
			parent.AppendChild(n)
			stack = append(stack, openElem{node: n})

		case xml.CharData:
			nodeBytes += len(t)
			if nodeBytes > MaxNodeLen {
				emit(Event{Kind: EventError, Err: fmt.Errorf("xml: max stanza size %d exceeded", MaxNodeLen)})
				return
			}
			if len(stack) > 0 {
				parent := stack[len(stack)-1].node
				parent.AppendText(string(t))
			}

		case xml.EndElement:
			if len(stack) == 0 {
				continue
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				if rootSeen {
					emit(Event{Kind: EventClose})
				}
				return
			}
			if len(stack) == 1 {
				finished := root.Children[len(root.Children)-1]
				emit(Event{Kind: EventStanza, Node: finished})
				nodeBytes = 0
			}
		}
	}
}

// resolveName maps an encoding/xml Name, whose Space may be a fully
// resolved IRI or (when the decoder could not resolve it) a bare prefix,
// to (local, namespace). Unresolved prefixes are substituted per the
// conventional bindings: stream, db, and otherwise the clue namespace.
func resolveName(name xml.Name) (local, namespace string) {
	space := name.Space
	switch {
	case space == "":
		return name.Local, ""
	case strings.Contains(space, "://") || strings.Contains(space, ":"):
		return name.Local, space
	case space == "stream":
		return name.Local, ns.Stream
	case space == "db":
		return name.Local, ns.Dialback
	default:
		return name.Local, ClueNS
	}
}

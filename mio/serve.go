package mio

import (
	"bytes"
	"context"
	"errors"
	"io"

	xmldom "github.com/jabberd-go/jabberd/xml"
)

// Serve drives c until the transport closes or ctx is cancelled: reads
// are throttled by karma, fed to the XML parser (unless c is in raw
// BUFFER mode), and the write queue is drained whenever new entries
// arrive. Callers run this on its own goroutine per connection.
func (c *Conn) Serve(ctx context.Context) {
	defer func() {
		c.trans.Close()
		c.mu.Lock()
		c.state = StateClosed
		c.mu.Unlock()
		close(c.done)
	}()

	c.cb(ctx, c, Event{Kind: EventNew})

	readDone := make(chan struct{})
	readCh := make(chan []byte, 4)
	readErrCh := make(chan error, 1)

	go func() {
		defer close(readDone)
		buf := make([]byte, defaultReadBufCap)
		sniffed := false
		for {
			budget := c.karma.ReadBudget(defaultReadBufCap)
			if budget > len(buf) {
				budget = len(buf)
			}
			n, err := c.trans.Read(buf[:budget])
			if n > 0 {
				chunk := append([]byte(nil), buf[:n]...)
				if !sniffed {
					sniffed = true
					if k, stripped := sniffFraming(chunk); k != KindNormal {
						c.kind = k
						chunk = stripped
					}
				}
				select {
				case readCh <- chunk:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				readErrCh <- err
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case chunk := <-readCh:
			c.handleRead(ctx, chunk)

		case err := <-readErrCh:
			if err != nil && !errors.Is(err, io.EOF) {
				c.cb(ctx, c, Event{Kind: EventError, Err: err})
			}
			c.mu.Lock()
			parser, xmlMode := c.parser, c.xmlMode
			c.mu.Unlock()
			if xmlMode {
				// Close unblocks the decode goroutine and closes its
				// Events channel once the final event is sent; ranging
				// over it here guarantees any stanza events still in
				// flight are delivered before EventClosed fires.
				parser.Close()
				for ev := range parser.Events() {
					c.emitParserEvent(ctx, ev)
				}
			}
			c.drainQueue(ctx)
			c.cb(ctx, c, Event{Kind: EventClosed})
			return

		case <-c.wake:
			c.drainQueue(ctx)
			c.mu.Lock()
			closing := c.state == StateClosePending
			c.mu.Unlock()
			if closing {
				c.cb(ctx, c, Event{Kind: EventClosed})
				return
			}
		}
	}
}

func (c *Conn) handleRead(ctx context.Context, chunk []byte) {
	if paused := c.karma.Check(len(chunk), KarmaReadMax); paused {
		return
	}

	if c.kind == KindLegacyFraming {
		chunk = bytes.ReplaceAll(chunk, []byte{0}, nil)
	}

	if !c.xmlMode {
		c.cb(ctx, c, Event{Kind: EventBuffer, Raw: chunk})
		return
	}

	c.mu.Lock()
	if c.resetNext {
		c.parser.Close()
		c.parser = xmldom.NewStreamParser()
		c.resetNext = false
	}
	parser := c.parser
	c.mu.Unlock()

	if err := parser.Feed(chunk); err != nil {
		c.cb(ctx, c, Event{Kind: EventError, Err: err})
		return
	}

	c.drainParserEvents(ctx, parser)
}

func (c *Conn) drainParserEvents(ctx context.Context, parser *xmldom.StreamParser) {
	for {
		select {
		case ev, ok := <-parser.Events():
			if !ok {
				return
			}
			c.emitParserEvent(ctx, ev)
		default:
			return
		}
	}
}

func (c *Conn) emitParserEvent(ctx context.Context, ev xmldom.Event) {
	switch ev.Kind {
	case xmldom.EventRootOpen:
		c.cb(ctx, c, Event{Kind: EventXMLRoot, Node: ev.Root})
	case xmldom.EventStanza:
		c.cb(ctx, c, Event{Kind: EventXMLNode, Node: ev.Node})
	case xmldom.EventClose:
		c.cb(ctx, c, Event{Kind: EventXMLClose})
	case xmldom.EventError:
		c.cb(ctx, c, Event{Kind: EventError, Err: ev.Err})
	}
}

func (c *Conn) drainQueue(ctx context.Context) {
	c.mu.Lock()
	entries := c.queue
	c.queue = nil
	c.mu.Unlock()

	for _, e := range entries {
		var raw []byte
		if e.node != nil {
			var buf bytes.Buffer
			stack := xmldom.NewNSStack()
			if err := e.node.Serialize(&buf, stack, e.kind); err != nil {
				c.cb(ctx, c, Event{Kind: EventError, Err: err})
				continue
			}
			raw = buf.Bytes()
		} else {
			raw = e.raw
		}
		if _, err := c.trans.Write(raw); err != nil {
			c.cb(ctx, c, Event{Kind: EventError, Err: err})
			return
		}
	}
}

package xdb

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultTimeout is how long Cache.Call waits for a Response to arrive
// before synthesizing an empty result, matching the teacher's bounded
// request patterns elsewhere in the pack (xdbcache in the original
// system blocks the calling logical task via the cooperative scheduler;
// here that's a goroutine parked on a channel receive).
const DefaultTimeout = 5 * time.Second

// Cache correlates outstanding Requests by ID, blocking the calling
// goroutine until a matching Deliver(Response) arrives or the timeout
// fires.
type Cache struct {
	mu       sync.Mutex
	pending  map[string]chan Response
	timeout  time.Duration
	log      *slog.Logger
}

// NewCache creates a Cache with the default timeout.
func NewCache(log *slog.Logger) *Cache {
	if log == nil {
		log = slog.Default()
	}
	return &Cache{
		pending: make(map[string]chan Response),
		timeout: DefaultTimeout,
		log:     log,
	}
}

// SetTimeout overrides the default per-request timeout.
func (c *Cache) SetTimeout(d time.Duration) { c.timeout = d }

// Call registers req.ID as outstanding, invokes send (which must
// eventually route the request to an Instance and call Deliver with the
// matching Response), and blocks until Deliver or the timeout.
func (c *Cache) Call(ctx context.Context, req Request, send func(Request) error) (*Response, error) {
	ch := make(chan Response, 1)
	c.mu.Lock()
	c.pending[req.ID] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, req.ID)
		c.mu.Unlock()
	}()

	if err := send(req); err != nil {
		return nil, err
	}

	select {
	case resp := <-ch:
		return &resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(c.timeout):
		c.log.Warn("xdb request timed out", "id", req.ID, "ns", req.NS)
		return &Response{ID: req.ID}, nil
	}
}

// Deliver resolves a pending Call by correlation ID. It is a no-op if
// no Call is waiting on resp.ID (a late or duplicate response).
func (c *Cache) Deliver(resp Response) {
	c.mu.Lock()
	ch, ok := c.pending[resp.ID]
	c.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- resp:
	default:
	}
}

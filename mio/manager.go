package mio

import (
	"context"
	"crypto/tls"
	"net"
	"sync"
	"time"

	"github.com/jabberd-go/jabberd/transport"
)

// Manager accepts listeners, originates client connections, and runs the
// shared heartbeats (karma recovery, idle timers) across every Conn it
// tracks. It is the accept-loop counterpart to spec.md's single
// scheduler thread; per DESIGN.md's Open Questions note, the scheduling
// itself is rendered as one goroutine per Conn rather than literally one
// thread, but karma recovery and timers still tick in lock-step here.
type Manager struct {
	mu    sync.Mutex
	conns map[*Conn]struct{}

	karmaPeriod time.Duration
	limiter     *RateLimit
}

// NewManager creates a Manager with the default 2s karma heartbeat.
func NewManager() *Manager {
	return &Manager{
		conns:       make(map[*Conn]struct{}),
		karmaPeriod: 2 * time.Second,
		limiter:     NewRateLimit(time.Minute, 60),
	}
}

// SetRateLimit replaces the accept-rate limiter shared by every Listen
// call on this Manager.
func (m *Manager) SetRateLimit(window time.Duration, maxPoints int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limiter = NewRateLimit(window, maxPoints)
}

// Track registers c for heartbeat ticking. It does not unregister c;
// Manager.Serve does that once c's Serve returns.
func (m *Manager) Track(c *Conn) {
	m.mu.Lock()
	m.conns[c] = struct{}{}
	m.mu.Unlock()
}

func (m *Manager) untrack(c *Conn) {
	m.mu.Lock()
	delete(m.conns, c)
	m.mu.Unlock()
}

// Serve runs c's read/write loop, tracking and untracking it with the
// Manager's heartbeat.
func (m *Manager) Serve(ctx context.Context, c *Conn) {
	m.Track(c)
	defer m.untrack(c)
	c.Serve(ctx)
}

// Heartbeat runs the shared karma-recovery and timer tick across every
// tracked connection; callers run this from a single ticker goroutine
// (spec.md's periodic heartbeat, default 2s).
func (m *Manager) Heartbeat(ctx context.Context) {
	ticker := time.NewTicker(m.karmaPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			m.mu.Lock()
			conns := make([]*Conn, 0, len(m.conns))
			for c := range m.conns {
				conns = append(conns, c)
			}
			m.mu.Unlock()
			for _, c := range conns {
				c.Tick(ctx, now)
			}
		}
	}
}

// Listen accepts connections on addr, rate-limiting by remote IP and
// passing each accepted connection to handle on its own goroutine.
func (m *Manager) Listen(ctx context.Context, addr string, handle func(net.Conn)) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		host, _, _ := net.SplitHostPort(conn.RemoteAddr().String())
		if !m.limiter.Check(host, time.Now()) {
			conn.Close()
			continue
		}
		go handle(conn)
	}
}

// Dial originates an outgoing TCP connection as a client-side transport,
// starting TLS at once when tlsConfig is non-nil.
func Dial(ctx context.Context, network, addr string, tlsConfig *tls.Config) (transport.Transport, error) {
	d := net.Dialer{}
	conn, err := d.DialContext(ctx, network, addr)
	if err != nil {
		return nil, err
	}
	t := transport.NewTCP(conn)
	if tlsConfig != nil {
		if err := t.StartTLS(tlsConfig); err != nil {
			conn.Close()
			return nil, err
		}
	}
	return t, nil
}

package jsm

import (
	"context"
	"log/slog"
	"sync"

	"github.com/jabberd-go/jabberd/bus"
	"github.com/jabberd-go/jabberd/jid"
	"github.com/jabberd-go/jabberd/plugin"
	"github.com/jabberd-go/jabberd/xdb"
)

// Option configures an Instance.
type Option func(*Instance)

// WithLogger sets the structured logger; defaults to slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(i *Instance) { i.log = log }
}

// DeliverEvent is the data passed to the EventDeliver chain: a stanza
// addressed to a local bare JID, ahead of any per-session routing.
type DeliverEvent struct {
	User   *User
	Packet bus.Packet
}

// Instance is the session manager for one domain: it implements
// bus.Handler, owns the User/Session tables, the named global event
// chains, and the dependency-ordered module registry.
type Instance struct {
	Domain jid.JID
	XDB    *xdb.Client
	log    *slog.Logger

	deliver func(ctx context.Context, p bus.Packet) error

	mu    sync.Mutex
	users map[string]*User // keyed by bare JID string

	chainsMu     sync.RWMutex
	chains       map[Event][]Handler
	onNewSession []func(*Session)

	modules *plugin.Manager
}

// NewInstance builds a jsm Instance for domain. deliver sends a Packet
// onward (typically (*bus.Bus).Deliver); xdbClient is this Instance's
// view of the storage facade (roster/offline/privacy all persist
// through it rather than through a dedicated store).
func NewInstance(domain jid.JID, deliver func(ctx context.Context, p bus.Packet) error, xdbClient *xdb.Client, opts ...Option) *Instance {
	i := &Instance{
		Domain:  domain,
		XDB:     xdbClient,
		deliver: deliver,
		log:     slog.Default(),
		users:   make(map[string]*User),
		chains:  make(map[Event][]Handler),
		modules: plugin.NewManager(),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// LoadModule registers m for initialization. Modules are initialized in
// dependency order by Start.
func (i *Instance) LoadModule(m Module) error {
	return i.modules.Register(moduleAdapter{m: m, inst: i})
}

// Start initializes every loaded module in dependency order.
func (i *Instance) Start(ctx context.Context) error {
	return i.modules.Initialize(ctx, plugin.InitParams{})
}

// Stop runs EventShutdown, then closes every module in reverse
// initialization order.
func (i *Instance) Stop(ctx context.Context) error {
	if _, err := i.Dispatch(ctx, EventShutdown, nil); err != nil {
		i.log.Error("jsm: shutdown handler error", "err", err)
	}
	return i.modules.Close()
}

// RegisterHandler appends h to the named global chain.
func (i *Instance) RegisterHandler(ev Event, h Handler) {
	i.chainsMu.Lock()
	defer i.chainsMu.Unlock()
	i.chains[ev] = append(i.chains[ev], h)
}

// OnNewSession registers a hook run against every Session as it's
// created, letting modules attach their per-session handlers (e.g.
// privacy's FilterIn/FilterOut) without Instance needing to know each
// module's chain needs up front.
func (i *Instance) OnNewSession(f func(*Session)) {
	i.chainsMu.Lock()
	defer i.chainsMu.Unlock()
	i.onNewSession = append(i.onNewSession, f)
}

// Dispatch runs data through the named global chain.
func (i *Instance) Dispatch(ctx context.Context, ev Event, data any) (Result, error) {
	i.chainsMu.RLock()
	chain := append([]Handler(nil), i.chains[ev]...)
	i.chainsMu.RUnlock()
	return runChain(ctx, chain, data)
}

// Deliver sends p onward via the Instance's outbound deliver func
// (e.g. a reply, a roster push, a probe).
func (i *Instance) Deliver(ctx context.Context, p bus.Packet) error {
	return i.deliver(ctx, p)
}

// GetUser returns the User for bare, if one is currently live.
func (i *Instance) GetUser(bare jid.JID) (*User, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	u, ok := i.users[bare.String()]
	return u, ok
}

// getOrCreateUser returns the existing User for bare or lazily creates
// one; it dispatches no event.
func (i *Instance) getOrCreateUser(bare jid.JID) *User {
	i.mu.Lock()
	defer i.mu.Unlock()
	key := bare.String()
	if u, ok := i.users[key]; ok {
		return u
	}
	u := newUser(bare)
	i.users[key] = u
	return u
}

// evictIfIdle removes u from the user table if it has no live sessions
// and no outstanding module references, firing EventDelete first.
func (i *Instance) evictIfIdle(ctx context.Context, u *User) {
	if !u.idle() {
		return
	}
	if _, err := i.Dispatch(ctx, EventDelete, u); err != nil {
		i.log.Error("jsm: EventDelete handler error", "err", err)
	}
	i.mu.Lock()
	if u.idle() {
		delete(i.users, u.Bare.String())
	}
	i.mu.Unlock()
}

// NewSession creates and registers a Session for full under its bare
// JID's User, running every OnNewSession hook and the EventSession
// chain.
func (i *Instance) NewSession(ctx context.Context, full jid.JID) *Session {
	u := i.getOrCreateUser(full.Bare())
	s := newSession(u, full)

	i.chainsMu.RLock()
	hooks := append([]func(*Session){}, i.onNewSession...)
	i.chainsMu.RUnlock()
	for _, hook := range hooks {
		hook(s)
	}

	u.addSession(s)
	if _, err := i.Dispatch(ctx, EventSession, s); err != nil {
		i.log.Error("jsm: EventSession handler error", "err", err)
	}
	return s
}

// EndSession runs s's SessionEventEnd chain, detaches it from its User,
// and evicts the User if it's now idle.
func (i *Instance) EndSession(ctx context.Context, s *Session) {
	if _, err := s.Dispatch(ctx, SessionEventEnd, s); err != nil {
		i.log.Error("jsm: SessionEventEnd handler error", "err", err)
	}
	s.Owner.removeSession(s)
	i.evictIfIdle(ctx, s.Owner)
}

// HandlePacket implements bus.Handler: a stanza addressed to a full JID
// is routed to that Session's SessionEventIn chain if the resource is
// live; otherwise (bare JID, resource not found, or the session's chain
// did not return Handled) it runs the domain-wide EventDeliver chain,
// which the roster/privacy/offline modules use to decide fan-out,
// storage, or a bounce.
func (i *Instance) HandlePacket(ctx context.Context, p bus.Packet) (bus.Result, error) {
	if p.To.Domain() != i.Domain.Domain() {
		return bus.ResultPass, nil
	}
	if p.To.IsDomainOnly() {
		res, err := i.Dispatch(ctx, EventServer, p)
		return eventResultToBus(res), err
	}

	u := i.getOrCreateUser(p.To.Bare())
	if p.To.IsFull() {
		if sess := u.SessionByResource(p.To.Resource()); sess != nil {
			res, err := sess.Dispatch(ctx, SessionEventIn, p)
			if res == Handled {
				return bus.ResultDone, err
			}
		}
	}

	res, err := i.Dispatch(ctx, EventDeliver, DeliverEvent{User: u, Packet: p})
	return eventResultToBus(res), err
}

func eventResultToBus(res Result) bus.Result {
	switch res {
	case Handled:
		return bus.ResultDone
	case Ignore:
		return bus.ResultPass
	default:
		return bus.ResultLast
	}
}

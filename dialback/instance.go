package dialback

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jabberd-go/jabberd/bus"
	"github.com/jabberd-go/jabberd/mio"
)

// idleTimeout and packetTimeout match jabberd14's dialback defaults: an
// established outbound link with no stanza written for idleTimeout is
// closed; an outbound attempt not established, or an inbound stream not
// authenticated, within packetTimeout is treated as failed.
const (
	idleTimeout   = 600 * time.Second
	packetTimeout = 30 * time.Second
)

// dboc is one outbound connection attempt/established link, keyed by
// the remote domain alone; the local domain is not part of the key.
type dboc struct {
	conn    *mio.Conn
	state   outState
	queue   []queuedPacket
	lastUse time.Time
}

type queuedPacket struct {
	pkt bus.Packet
}

type dbic struct {
	conn     *mio.Conn
	streamID string
	state    inState
	lastUse  time.Time
}

// Instance is the dialback service: it owns every in-flight and
// established s2s link for one local domain set. Send routes an outbound
// stanza (starting a new dboc for an unconnected remote domain) and
// Accept drives one inbound s2s connection; Instance is not itself a
// bus.Handler, and the caller wires both into its bus and listener.
type Instance struct {
	secret     string
	legacyKeys bool
	log        *slog.Logger
	deliver    func(ctx context.Context, p bus.Packet) error

	mu            sync.Mutex
	outConnecting map[string]*dboc // keyed by remote domain
	outOKDB       map[string]*dboc
	outOKLegacy   map[string]*dboc
	inByID        map[string]*dbic // keyed by stream id
	inOKDB        map[string]*dbic
	inOKLegacy    map[string]*dbic
}

// Option configures an Instance.
type Option func(*Instance)

// WithSecret pins the shared dialback secret instead of generating a
// random one at startup.
func WithSecret(secret string) Option {
	return func(i *Instance) { i.secret = secret }
}

// WithLegacyKeys enables the pre-XEP-0185 plain-SHA1 key chain
// (LegacyKey) as a fallback verification path for peers old enough to
// still use it. Off by default.
func WithLegacyKeys() Option {
	return func(i *Instance) { i.legacyKeys = true }
}

// WithLogger sets the structured logger; defaults to slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(i *Instance) { i.log = log }
}

// NewInstance creates a dialback Instance. deliver is typically
// (*bus.Bus).Deliver, used to hand verified inbound stanzas to the rest
// of the system and to return bounced outbound packets; db:result and
// db:verify elements are written straight to the s2s connection.
func NewInstance(deliver func(ctx context.Context, p bus.Packet) error, opts ...Option) *Instance {
	i := &Instance{
		deliver:       deliver,
		log:           slog.Default(),
		outConnecting: make(map[string]*dboc),
		outOKDB:       make(map[string]*dboc),
		outOKLegacy:   make(map[string]*dboc),
		inByID:        make(map[string]*dbic),
		inOKDB:        make(map[string]*dbic),
		inOKLegacy:    make(map[string]*dbic),
	}
	for _, opt := range opts {
		opt(i)
	}
	if i.secret == "" {
		i.secret = randomSecret()
	}
	return i
}

func randomSecret() string {
	buf := make([]byte, 20)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand.Read failing means the OS entropy source is
		// broken; there is nothing safer to fall back to than a
		// uuid, which itself reads crypto/rand.
		return uuid.NewString()
	}
	return hex.EncodeToString(buf)
}

// NewStreamID mints a dialback stream id: a uuid-derived 40-char token,
// keeping the original 40-character format spec.md fixes.
func NewStreamID() string {
	id := uuid.New()
	h := hex.EncodeToString(id[:])
	for len(h) < 40 {
		h += h
	}
	return h[:40]
}

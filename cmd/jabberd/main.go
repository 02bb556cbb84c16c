// Command jabberd wires mio, bus, xdb, dialback, and jsm (with its
// presence/roster/offline/privacy modules, and optionally groups) into a
// running XMPP server: c2s on C2SAddr, s2s on S2SAddr.
package main

import (
	"context"
	"crypto/tls"
	"errors"
	"log"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/jabberd-go/jabberd/bus"
	"github.com/jabberd-go/jabberd/dialback"
	"github.com/jabberd-go/jabberd/jid"
	"github.com/jabberd-go/jabberd/jsm"
	"github.com/jabberd-go/jabberd/jsm/groups"
	"github.com/jabberd-go/jabberd/jsm/offline"
	"github.com/jabberd-go/jabberd/jsm/presence"
	"github.com/jabberd-go/jabberd/jsm/privacy"
	"github.com/jabberd-go/jabberd/jsm/roster"
	"github.com/jabberd-go/jabberd/mio"
	"github.com/jabberd-go/jabberd/storage"
	"github.com/jabberd-go/jabberd/storage/memory"
	"github.com/jabberd-go/jabberd/xdb"
)

func main() {
	cfg := loadConfig()
	log.SetFlags(0)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	domain, err := jid.Parse(cfg.Domain)
	if err != nil {
		log.Fatalf("domain: %v", err)
	}

	var tlsConfig *tls.Config
	if cfg.TLSSelfSigned && (cfg.TLSCert == "" || cfg.TLSKey == "") {
		certPath, keyPath, err := ensureSelfSigned(cfg)
		if err != nil {
			log.Fatalf("tls: %v", err)
		}
		cfg.TLSCert, cfg.TLSKey = certPath, keyPath
	}
	if cfg.TLSCert != "" && cfg.TLSKey != "" {
		cert, err := tls.LoadX509KeyPair(cfg.TLSCert, cfg.TLSKey)
		if err != nil {
			log.Fatalf("tls: %v", err)
		}
		tlsConfig = &tls.Config{Certificates: []tls.Certificate{cert}}
	}

	accounts := memory.New()
	if err := accounts.Init(ctx); err != nil {
		log.Fatalf("account store: %v", err)
	}
	if err := seedDefaultAccounts(ctx, accounts, cfg.DefaultAccounts); err != nil {
		log.Fatalf("seed accounts: %v", err)
	}

	backend, err := buildXDBBackend(cfg)
	if err != nil {
		log.Fatalf("xdb backend: %v", err)
	}
	if init, ok := backend.(interface{ Init(context.Context) error }); ok {
		if err := init.Init(ctx); err != nil {
			log.Fatalf("xdb backend init: %v", err)
		}
	}

	// xdb.Instance and xdb.Client loop directly to each other rather than
	// through the bus: a session manager's storage round trip is purely
	// local, never addressed to another domain, so routing it through
	// destination lookup would be pure overhead.
	var xdbClient *xdb.Client
	xdbInst := xdb.NewInstance(backend, func(ctx context.Context, p bus.Packet) error {
		_, err := xdbClient.HandlePacket(ctx, p)
		return err
	}, nil)
	xdbClient = xdb.NewClient(domain, func(ctx context.Context, p bus.Packet) error {
		_, err := xdbInst.HandlePacket(ctx, p)
		return err
	}, nil)

	dialbackOpts := []dialback.Option{}
	if cfg.DialbackSecret != "" {
		dialbackOpts = append(dialbackOpts, dialback.WithSecret(cfg.DialbackSecret))
	}
	if cfg.DialbackLegacyKeys {
		dialbackOpts = append(dialbackOpts, dialback.WithLegacyKeys())
	}

	var theBus *bus.Bus
	var jsmInst *jsm.Instance

	dialbackInst := dialback.NewInstance(func(ctx context.Context, p bus.Packet) error {
		return theBus.Deliver(ctx, p)
	}, dialbackOpts...)

	jsmInst = jsm.NewInstance(domain, func(ctx context.Context, p bus.Packet) error {
		return theBus.Deliver(ctx, p)
	}, xdbClient)

	for _, m := range []jsm.Module{roster.New(nil), presence.New(), privacy.New(), offline.New(nil)} {
		if err := jsmInst.LoadModule(m); err != nil {
			log.Fatalf("jsm: load %s: %v", m.Name(), err)
		}
	}
	if len(cfg.Groups) > 0 {
		if err := jsmInst.LoadModule(groups.New(buildGroups(cfg.Groups))); err != nil {
			log.Fatalf("jsm: load groups: %v", err)
		}
	}
	if err := jsmInst.Start(ctx); err != nil {
		log.Fatalf("jsm: start: %v", err)
	}
	defer func() {
		if err := jsmInst.Stop(context.Background()); err != nil {
			slog.Error("jsm: stop", "err", err)
		}
	}()

	// outbound is bus.Bus's sink for a bounced or undeliverable packet.
	// A local bounce is addressed back to one of this domain's own
	// users, so it's delivered the same way any other local stanza is:
	// through the session manager.
	theBus = bus.New(bus.HandlerFunc(func(ctx context.Context, p bus.Packet) (bus.Result, error) {
		return jsmInst.HandlePacket(ctx, p)
	}))

	localInst := bus.NewInstance(domain.Domain(), bus.InstanceClient)
	localInst.RegisterFunc(func(ctx context.Context, p bus.Packet) (bus.Result, error) {
		return jsmInst.HandlePacket(ctx, p)
	})
	theBus.Register(localInst)

	// The wildcard instance catches everything addressed to a domain
	// this process doesn't own: that's exactly a foreign-server stanza,
	// which dialback.Instance.Send routes over s2s (connecting if
	// needed).
	s2sInst := bus.NewInstance("*", bus.InstanceServer)
	s2sInst.RegisterFunc(func(ctx context.Context, p bus.Packet) (bus.Result, error) {
		if err := dialbackInst.Send(ctx, domain.Domain(), p); err != nil {
			return bus.ResultErr, err
		}
		return bus.ResultDone, nil
	})
	theBus.Register(s2sInst)

	manager := mio.NewManager()

	c2s := &c2sServer{
		domain:    domain,
		jsmInst:   jsmInst,
		bus:       theBus,
		accounts:  accounts.UserStore(),
		tlsConfig: tlsConfig,
	}

	go func() {
		if err := manager.Listen(ctx, cfg.C2SAddr, func(conn net.Conn) {
			c2s.handle(ctx, manager, conn)
		}); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("c2s listen: %v", err)
		}
	}()

	go func() {
		if err := manager.Listen(ctx, cfg.S2SAddr, func(conn net.Conn) {
			handleS2S(ctx, domain, dialbackInst, conn)
		}); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("s2s listen: %v", err)
		}
	}()

	go manager.Heartbeat(ctx)
	go dialbackInst.StartSweeper(ctx)

	log.Printf("jabberd starting domain=%s c2s=%s s2s=%s xdb=%s", cfg.Domain, cfg.C2SAddr, cfg.S2SAddr, cfg.XDBBackend)
	<-ctx.Done()
	log.Printf("jabberd shutting down")
}

func seedDefaultAccounts(ctx context.Context, st storage.Storage, accounts []Account) error {
	if len(accounts) == 0 {
		return nil
	}
	us := st.UserStore()
	for _, acc := range accounts {
		exists, err := us.UserExists(ctx, acc.Username)
		if err != nil {
			return err
		}
		if exists {
			continue
		}
		if err := us.CreateUser(ctx, &storage.User{Username: acc.Username, Password: acc.Password}); err != nil {
			return err
		}
	}
	return nil
}

func buildGroups(ids []string) []groups.Group {
	out := make([]groups.Group, 0, len(ids))
	for _, id := range ids {
		out = append(out, groups.Group{ID: id, Name: id})
	}
	return out
}

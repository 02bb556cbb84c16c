package bus

import (
	"context"
	"testing"

	"github.com/jabberd-go/jabberd/jid"
)

func TestBusRoutesToExactInstance(t *testing.T) {
	t.Parallel()
	var delivered Packet
	outbound := HandlerFunc(func(_ context.Context, p Packet) (Result, error) {
		delivered = p
		return ResultDone, nil
	})

	b := New(outbound)
	inst := NewInstance("example.com", InstanceClient)
	var got Packet
	inst.RegisterFunc(func(_ context.Context, p Packet) (Result, error) {
		got = p
		return ResultDone, nil
	})
	b.Register(inst)

	p := Packet{To: jid.MustParse("alice@example.com"), From: jid.MustParse("bob@example.com")}
	if err := b.Deliver(context.Background(), p); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if got.To != p.To {
		t.Errorf("handler did not receive the routed packet")
	}
	if delivered.To != (jid.JID{}) {
		t.Errorf("outbound should not have been called when a handler consumed the packet")
	}
}

func TestBusFallsBackToWildcard(t *testing.T) {
	t.Parallel()
	b := New(nil)
	wildcard := NewInstance("*", InstanceServer)
	var hit bool
	wildcard.RegisterFunc(func(_ context.Context, p Packet) (Result, error) {
		hit = true
		return ResultDone, nil
	})
	b.Register(wildcard)

	p := Packet{To: jid.MustParse("nowhere.example"), From: jid.MustParse("bob@example.com")}
	if err := b.Deliver(context.Background(), p); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if !hit {
		t.Errorf("wildcard instance was not consulted")
	}
}

func TestBusBouncesUnreachable(t *testing.T) {
	t.Parallel()
	var bounced Packet
	var bounceCount int
	outbound := HandlerFunc(func(_ context.Context, p Packet) (Result, error) {
		bounced = p
		bounceCount++
		return ResultDone, nil
	})
	b := New(outbound)

	p := Packet{To: jid.MustParse("nowhere.example"), From: jid.MustParse("bob@example.com")}
	if err := b.Deliver(context.Background(), p); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if bounceCount != 1 {
		t.Fatalf("expected exactly one bounce, got %d", bounceCount)
	}
	if !bounced.Bounced {
		t.Errorf("bounce packet should be marked Bounced")
	}
	if !bounced.To.Equal(p.From) || !bounced.From.Equal(p.To) {
		t.Errorf("bounce did not swap to/from")
	}
}

func TestBusDropsDoubleBounce(t *testing.T) {
	t.Parallel()
	var calls int
	outbound := HandlerFunc(func(_ context.Context, p Packet) (Result, error) {
		calls++
		return ResultDone, nil
	})
	b := New(outbound)

	p := Packet{To: jid.MustParse("nowhere.example"), From: jid.MustParse("bob@example.com"), Bounced: true}
	if err := b.Deliver(context.Background(), p); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if calls != 0 {
		t.Errorf("an already-bounced packet should not be bounced again, got %d calls", calls)
	}
}

func TestChainOfHandlersPassesThrough(t *testing.T) {
	t.Parallel()
	inst := NewInstance("example.com", InstanceClient)
	var order []string
	inst.RegisterFunc(func(_ context.Context, p Packet) (Result, error) {
		order = append(order, "first")
		return ResultPass, nil
	})
	inst.RegisterFunc(func(_ context.Context, p Packet) (Result, error) {
		order = append(order, "second")
		return ResultDone, nil
	})

	b := New(nil)
	b.Register(inst)
	p := Packet{To: jid.MustParse("alice@example.com")}
	if err := b.Deliver(context.Background(), p); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Errorf("handler order = %v, want [first second]", order)
	}
}

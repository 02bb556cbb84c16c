package xdb

import (
	"context"
	"testing"
	"time"
)

func TestCacheCallResolvesOnDeliver(t *testing.T) {
	t.Parallel()
	c := NewCache(nil)
	req := Request{ID: "req-1", NS: "jabber:iq:roster"}

	go func() {
		time.Sleep(10 * time.Millisecond)
		c.Deliver(Response{ID: "req-1"})
	}()

	resp, err := c.Call(context.Background(), req, func(Request) error { return nil })
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if resp.ID != "req-1" {
		t.Errorf("resp.ID = %q, want req-1", resp.ID)
	}
}

func TestCacheCallTimesOut(t *testing.T) {
	t.Parallel()
	c := NewCache(nil)
	c.SetTimeout(20 * time.Millisecond)
	req := Request{ID: "req-2"}

	resp, err := c.Call(context.Background(), req, func(Request) error { return nil })
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if resp.ID != "req-2" {
		t.Errorf("resp.ID = %q, want req-2 (synthesized on timeout)", resp.ID)
	}
}

func TestCacheDeliverWithoutPendingIsNoop(t *testing.T) {
	t.Parallel()
	c := NewCache(nil)
	c.Deliver(Response{ID: "no-such-request"})
}

package xdb

import (
	"context"
	"testing"

	"github.com/jabberd-go/jabberd/internal/ns"
	"github.com/jabberd-go/jabberd/jid"
	xmldom "github.com/jabberd-go/jabberd/xml"
)

func TestMemoryBackendGetMissingReturnsNil(t *testing.T) {
	t.Parallel()
	b := NewMemoryBackend()
	who := jid.MustParse("alice@example.com")

	got, err := b.Get(context.Background(), who, ns.Roster)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil for missing fragment, got %v", got)
	}
}

func TestMemoryBackendSetThenGet(t *testing.T) {
	t.Parallel()
	b := NewMemoryBackend()
	who := jid.MustParse("alice@example.com")
	item := xmldom.NewElement("item", ns.Roster)
	item.SetAttr("jid", "", "bob@example.com")

	if err := b.Set(context.Background(), who, ns.Roster, []*xmldom.Node{item}); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, err := b.Get(context.Background(), who, ns.Roster)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	items := got.Elements()
	if len(items) != 1 {
		t.Fatalf("len(items) = %d, want 1", len(items))
	}
	if v, _ := items[0].Attribute("jid", ""); v != "bob@example.com" {
		t.Errorf("item jid = %q, want bob@example.com", v)
	}
}

func TestMemoryBackendInsertReplacesMatched(t *testing.T) {
	t.Parallel()
	b := NewMemoryBackend()
	who := jid.MustParse("alice@example.com")
	ctx := context.Background()

	first := xmldom.NewElement("item", ns.Roster)
	first.SetAttr("jid", "", "bob@example.com")
	first.SetAttr("subscription", "", "none")
	if err := b.Insert(ctx, who, ns.Roster, "item[@jid='bob@example.com']", []*xmldom.Node{first}); err != nil {
		t.Fatalf("Insert 1: %v", err)
	}

	updated := xmldom.NewElement("item", ns.Roster)
	updated.SetAttr("jid", "", "bob@example.com")
	updated.SetAttr("subscription", "", "both")
	if err := b.Insert(ctx, who, ns.Roster, "item[@jid='bob@example.com']", []*xmldom.Node{updated}); err != nil {
		t.Fatalf("Insert 2: %v", err)
	}

	got, err := b.Get(ctx, who, ns.Roster)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	items := got.Elements()
	if len(items) != 1 {
		t.Fatalf("len(items) = %d, want 1 (replaced, not appended)", len(items))
	}
	if v, _ := items[0].Attribute("subscription", ""); v != "both" {
		t.Errorf("subscription = %q, want both", v)
	}
}

package xml

import (
	"testing"

	"github.com/jabberd-go/jabberd/internal/ns"
)

func buildIQ() *Node {
	iq := NewElement("iq", ns.Client)
	iq.SetAttr("type", "", "result")
	query := NewElement("query", "jabber:iq:roster")
	for i, jidStr := range []string{"a@example.com", "b@example.com"} {
		item := NewElement("item", "jabber:iq:roster")
		item.SetAttr("jid", "", jidStr)
		if i == 0 {
			item.SetAttr("subscription", "", "both")
		}
		query.AppendChild(item)
	}
	iq.AppendChild(query)
	return iq
}

func TestQueryChildAndWildcard(t *testing.T) {
	t.Parallel()
	iq := buildIQ()
	prefixes := map[string]string{"roster": "jabber:iq:roster"}

	got := iq.Query("roster:query/roster:item", prefixes)
	if len(got) != 2 {
		t.Fatalf("len(query/item) = %d, want 2", len(got))
	}

	got = iq.Query("roster:query/*", prefixes)
	if len(got) != 2 {
		t.Fatalf("len(query/*) = %d, want 2", len(got))
	}
}

func TestQueryAttrPredicate(t *testing.T) {
	t.Parallel()
	iq := buildIQ()
	prefixes := map[string]string{"roster": "jabber:iq:roster"}

	got := iq.Query("roster:query/roster:item[@subscription='both']", prefixes)
	if len(got) != 1 {
		t.Fatalf("len(item[@subscription=both]) = %d, want 1", len(got))
	}
	if jidVal, _ := got[0].Attribute("jid", ""); jidVal != "a@example.com" {
		t.Errorf("matched item jid = %q, want a@example.com", jidVal)
	}
}

func TestQueryPositionalIndex(t *testing.T) {
	t.Parallel()
	iq := buildIQ()
	prefixes := map[string]string{"roster": "jabber:iq:roster"}

	got := iq.Query("roster:query/roster:item[2]", prefixes)
	if len(got) != 1 {
		t.Fatalf("len(item[2]) = %d, want 1", len(got))
	}
	if jidVal, _ := got[0].Attribute("jid", ""); jidVal != "b@example.com" {
		t.Errorf("item[2] jid = %q, want b@example.com", jidVal)
	}
}

func TestQueryAttrStep(t *testing.T) {
	t.Parallel()
	iq := buildIQ()
	got := iq.Query("@type", nil)
	if len(got) != 1 || got[0].Text != "result" {
		t.Fatalf("@type = %+v, want single node with text result", got)
	}
}

func TestBestLang(t *testing.T) {
	t.Parallel()
	subjEn := NewElement("subject", ns.Client)
	subjEn.SetAttr("lang", "http://www.w3.org/XML/1998/namespace", "en")
	subjFr := NewElement("subject", ns.Client)
	subjFr.SetAttr("lang", "http://www.w3.org/XML/1998/namespace", "fr")

	got := BestLang([]*Node{subjEn, subjFr}, "fr")
	if got != subjFr {
		t.Fatalf("BestLang did not pick the fr variant")
	}

	got = BestLang([]*Node{subjEn, subjFr}, "de")
	if got != subjEn {
		t.Fatalf("BestLang with no match should fall back to the first candidate")
	}
}

package xdb

import (
	"context"

	"github.com/jabberd-go/jabberd/jid"
	xmldom "github.com/jabberd-go/jabberd/xml"
)

// Backend stores and retrieves namespaced XML fragments keyed by JID;
// both implementations key on the bare JID and ignore any resource.
// Implementations: xdb.MemoryBackend (tests) and xdb/sqlxdb
// (production, one dialect per SQL engine).
type Backend interface {
	// Get returns the stored fragment for (who, ns), or nil if absent.
	Get(ctx context.Context, who jid.JID, ns string) (*xmldom.Node, error)

	// Set replaces the stored fragment's children wholesale.
	Set(ctx context.Context, who jid.JID, ns string, children []*xmldom.Node) error

	// Insert appends children to the fragment at ns, replacing any
	// existing child matched by match (an xdb xpath-ish predicate,
	// e.g. "item[@jid='foo@bar']") rather than the whole fragment.
	Insert(ctx context.Context, who jid.JID, ns, match string, children []*xmldom.Node) error
}

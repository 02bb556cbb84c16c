package xdb

import (
	"context"
	"sync"

	"github.com/jabberd-go/jabberd/jid"
	xmldom "github.com/jabberd-go/jabberd/xml"
)

type key struct {
	bare string
	ns   string
}

// MemoryBackend is an in-memory Backend for tests and single-process
// deployments, mirroring storage/memory's sync.RWMutex-guarded map shape.
type MemoryBackend struct {
	mu   sync.RWMutex
	data map[key]*xmldom.Node
}

// NewMemoryBackend creates an empty in-memory Backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{data: make(map[key]*xmldom.Node)}
}

func (m *MemoryBackend) Get(_ context.Context, who jid.JID, ns string) (*xmldom.Node, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.data[key{who.Bare().String(), ns}]
	if !ok {
		return nil, nil
	}
	return n.Clone(), nil
}

func (m *MemoryBackend) Set(_ context.Context, who jid.JID, ns string, children []*xmldom.Node) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	root := xmldom.NewElement("xdb", ns)
	for _, c := range children {
		root.AppendChild(c.Clone())
	}
	m.data[key{who.Bare().String(), ns}] = root
	return nil
}

// Insert detaches every existing child the query match selects
// (xml.Node.Query syntax, e.g. "item[@jid='bob@example.com']"; an empty
// match detaches nothing) and then appends children.
func (m *MemoryBackend) Insert(_ context.Context, who jid.JID, ns, match string, children []*xmldom.Node) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key{who.Bare().String(), ns}
	root, ok := m.data[k]
	if !ok {
		root = xmldom.NewElement("xdb", ns)
		m.data[k] = root
	}
	if match != "" {
		for _, old := range root.Query(match, nil) {
			old.Detach()
		}
	}
	for _, c := range children {
		root.AppendChild(c.Clone())
	}
	return nil
}

package sqlxdb

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/sony/gobreaker"

	"github.com/jabberd-go/jabberd/jid"
	xmldom "github.com/jabberd-go/jabberd/xml"
)

// Store implements xdb.Backend over database/sql, storing each
// (jid, namespace) fragment as a single serialized-XML blob column.
// Every round trip goes through a gobreaker.CircuitBreaker so a
// flapping database degrades to fast errors (the open breaker refuses
// the call at once) instead of hanging a caller's goroutine indefinitely.
type Store struct {
	db      *sql.DB
	dialect Dialect
	cb      *gobreaker.CircuitBreaker
}

// New wraps db with dialect-specific SQL, opening a circuit breaker
// named after the dialect.
func New(db *sql.DB, dialect Dialect) *Store {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "xdb-" + dialect.Name(),
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	})
	return &Store{db: db, dialect: dialect, cb: cb}
}

// Init runs the fragment table migration.
func (s *Store) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, s.dialect.CreateTableSQL())
	return errors.Wrap(err, "sqlxdb: migrate")
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Get(ctx context.Context, who jid.JID, ns string) (*xmldom.Node, error) {
	v, err := s.cb.Execute(func() (any, error) {
		query := fmt.Sprintf(
			"SELECT fragment FROM xdb_fragment WHERE bare_jid = %s AND ns = %s",
			s.dialect.Placeholder(1), s.dialect.Placeholder(2))
		var blob []byte
		err := s.db.QueryRowContext(ctx, query, who.Bare().String(), ns).Scan(&blob)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		if err != nil {
			return nil, errors.Wrap(err, "sqlxdb: get")
		}
		return blob, nil
	})
	if err != nil {
		return nil, err
	}
	blob, _ := v.([]byte)
	if blob == nil {
		return nil, nil
	}
	return decodeFragment(blob)
}

func (s *Store) Set(ctx context.Context, who jid.JID, ns string, children []*xmldom.Node) error {
	blob, err := encodeFragment(children, ns)
	if err != nil {
		return errors.Wrap(err, "sqlxdb: encode")
	}
	_, err = s.cb.Execute(func() (any, error) {
		query := fmt.Sprintf(
			"INSERT INTO xdb_fragment (bare_jid, ns, fragment) VALUES (%s, %s, %s) %s",
			s.dialect.Placeholder(1), s.dialect.Placeholder(2), s.dialect.Placeholder(3),
			s.dialect.UpsertSuffix())
		_, err := s.db.ExecContext(ctx, query, who.Bare().String(), ns, blob)
		return nil, errors.Wrap(err, "sqlxdb: set")
	})
	return err
}

// Insert applies match against the fragment currently stored for
// (who, ns) using the xml package's query evaluator, replaces whatever
// it selects with children (or appends if match selects nothing), and
// writes the result back with Set. match is evaluated in Go, not
// pushed into SQL — only the read/write of the opaque blob touches the
// database.
func (s *Store) Insert(ctx context.Context, who jid.JID, ns, match string, children []*xmldom.Node) error {
	current, err := s.Get(ctx, who, ns)
	if err != nil {
		return err
	}
	if current == nil {
		current = xmldom.NewElement("xdb", ns)
	}
	if match != "" {
		for _, old := range current.Query(match, nil) {
			old.Detach()
		}
	}
	for _, c := range children {
		current.AppendChild(c.Clone())
	}
	return s.Set(ctx, who, ns, current.Elements())
}

func encodeFragment(children []*xmldom.Node, ns string) ([]byte, error) {
	root := xmldom.NewElement("xdb", ns)
	for _, c := range children {
		root.AppendChild(c.Clone())
	}
	var buf bytes.Buffer
	if err := root.Serialize(&buf, xmldom.NewNSStack(), xmldom.StreamServer); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeFragment(blob []byte) (*xmldom.Node, error) {
	parser := xmldom.NewStreamParser()
	if err := parser.Feed(blob); err != nil {
		parser.Close()
		return nil, err
	}
	parser.Close()

	var root *xmldom.Node
	for ev := range parser.Events() {
		switch ev.Kind {
		case xmldom.EventRootOpen:
			root = ev.Root
		case xmldom.EventClose:
			if root == nil {
				return nil, errors.New("sqlxdb: empty fragment")
			}
			return root, nil
		case xmldom.EventError:
			return nil, ev.Err
		}
	}
	return nil, errors.New("sqlxdb: malformed fragment")
}

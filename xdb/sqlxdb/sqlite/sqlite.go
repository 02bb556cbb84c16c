// Package sqlite wires mattn/go-sqlite3 into xdb/sqlxdb, mirroring the
// teacher's storage/sqlite submodule layout — a single-file backend for
// single-process deployments and local development, chosen with the
// "sqlite" xdb backend setting (the default backend is memory).
package sqlite

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/jabberd-go/jabberd/xdb/sqlxdb"
)

type dialect struct{}

func (dialect) Name() string          { return "sqlite" }
func (dialect) Placeholder(int) string { return "?" }
func (dialect) UpsertSuffix() string {
	return "ON CONFLICT(bare_jid, ns) DO UPDATE SET fragment = excluded.fragment"
}
func (dialect) CreateTableSQL() string {
	return strings.TrimSpace(`
CREATE TABLE IF NOT EXISTS xdb_fragment (
	bare_jid TEXT NOT NULL,
	ns TEXT NOT NULL,
	fragment BLOB NOT NULL,
	PRIMARY KEY (bare_jid, ns)
)`)
}

// Open opens path (a file path, or ":memory:") with the sqlite3 driver
// and returns a ready sqlxdb.Store.
func Open(path string) (*sqlxdb.Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("sqlxdb/sqlite: open: %w", err)
	}
	return sqlxdb.New(db, dialect{}), nil
}

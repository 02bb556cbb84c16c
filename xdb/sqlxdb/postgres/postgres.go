// Package postgres wires pgx into xdb/sqlxdb, mirroring the teacher's
// storage/postgres submodule layout.
package postgres

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/jabberd-go/jabberd/xdb/sqlxdb"
)

type dialect struct{}

func (dialect) Name() string { return "postgres" }
func (dialect) Placeholder(n int) string {
	return "$" + strconv.Itoa(n)
}
func (dialect) UpsertSuffix() string {
	return "ON CONFLICT (bare_jid, ns) DO UPDATE SET fragment = EXCLUDED.fragment"
}
func (dialect) CreateTableSQL() string {
	return strings.TrimSpace(`
CREATE TABLE IF NOT EXISTS xdb_fragment (
	bare_jid TEXT NOT NULL,
	ns TEXT NOT NULL,
	fragment BYTEA NOT NULL,
	PRIMARY KEY (bare_jid, ns)
)`)
}

// Open dials dsn with pgx's database/sql driver and returns a ready
// sqlxdb.Store.
func Open(dsn string) (*sqlxdb.Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlxdb/postgres: open: %w", err)
	}
	return sqlxdb.New(db, dialect{}), nil
}

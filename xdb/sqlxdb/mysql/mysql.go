// Package mysql wires the MySQL driver into xdb/sqlxdb, mirroring the
// teacher's storage/mysql submodule layout (own go.mod, replace back to
// the root module).
package mysql

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/go-sql-driver/mysql"

	"github.com/jabberd-go/jabberd/xdb/sqlxdb"
)

type dialect struct{}

func (dialect) Name() string                  { return "mysql" }
func (dialect) Placeholder(int) string         { return "?" }
func (dialect) UpsertSuffix() string {
	return "ON DUPLICATE KEY UPDATE fragment = VALUES(fragment)"
}
func (dialect) CreateTableSQL() string {
	return strings.TrimSpace(`
CREATE TABLE IF NOT EXISTS xdb_fragment (
	bare_jid VARCHAR(255) NOT NULL,
	ns VARCHAR(255) NOT NULL,
	fragment LONGBLOB NOT NULL,
	PRIMARY KEY (bare_jid, ns)
) ENGINE=InnoDB`)
}

// Open dials dsn with the MySQL driver and returns a ready sqlxdb.Store.
func Open(dsn string) (*sqlxdb.Store, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlxdb/mysql: open: %w", err)
	}
	return sqlxdb.New(db, dialect{}), nil
}

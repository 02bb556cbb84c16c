package main

import (
	"fmt"

	"github.com/jabberd-go/jabberd/xdb"
	"github.com/jabberd-go/jabberd/xdb/sqlxdb/mysql"
	"github.com/jabberd-go/jabberd/xdb/sqlxdb/postgres"
	"github.com/jabberd-go/jabberd/xdb/sqlxdb/sqlite"
)

// buildXDBBackend picks the xdb.Backend named by cfg.XDBBackend. The
// account store (storage.Storage) stays memory-only — per-(jid,
// namespace) data is where this module's storage breadth actually
// lives, so that's what's made pluggable here.
func buildXDBBackend(cfg Config) (xdb.Backend, error) {
	switch cfg.XDBBackend {
	case "", "memory":
		return xdb.NewMemoryBackend(), nil
	case "mysql":
		if cfg.XDBDSN == "" {
			return nil, fmt.Errorf("JABBERD_XDB_DSN is required for mysql")
		}
		return mysql.Open(cfg.XDBDSN)
	case "postgres":
		if cfg.XDBDSN == "" {
			return nil, fmt.Errorf("JABBERD_XDB_DSN is required for postgres")
		}
		return postgres.Open(cfg.XDBDSN)
	case "sqlite":
		if cfg.XDBDSN == "" {
			return nil, fmt.Errorf("JABBERD_XDB_DSN is required for sqlite")
		}
		return sqlite.Open(cfg.XDBDSN)
	default:
		return nil, fmt.Errorf("unknown xdb backend: %s", cfg.XDBBackend)
	}
}

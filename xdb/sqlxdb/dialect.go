// Package sqlxdb is the SQL-backed xdb.Backend: one table storing
// opaque serialized XML fragments keyed by (jid, ns), mirroring the
// teacher's storage/sql package's Store+Dialect split but against the
// fragment model xdb specifies rather than per-domain typed tables.
package sqlxdb

// Dialect abstracts the database-specific SQL this package needs,
// grounded on storage/sql/dialect.go's split — trimmed to what a
// single opaque-blob table requires.
type Dialect interface {
	// Name returns the dialect name ("mysql", "postgres", "sqlite").
	Name() string

	// Placeholder returns the parameter placeholder for the nth
	// parameter (1-indexed): "?" for MySQL/SQLite, "$1"/"$2"/... for
	// PostgreSQL.
	Placeholder(n int) string

	// UpsertSuffix returns the dialect-specific clause appended to an
	// INSERT so a (jid, ns) conflict overwrites the stored fragment.
	UpsertSuffix() string

	// CreateTableSQL returns the migration statement for the fragment
	// table.
	CreateTableSQL() string
}

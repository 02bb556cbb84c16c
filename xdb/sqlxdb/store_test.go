package sqlxdb

import (
	"context"
	"database/sql"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/jabberd-go/jabberd/internal/ns"
	"github.com/jabberd-go/jabberd/jid"
	xmldom "github.com/jabberd-go/jabberd/xml"
)

type testDialect struct{}

func (testDialect) Name() string                  { return "test" }
func (testDialect) Placeholder(int) string         { return "?" }
func (testDialect) UpsertSuffix() string           { return "ON CONFLICT DO UPDATE SET fragment = ?" }
func (testDialect) CreateTableSQL() string         { return "CREATE TABLE xdb_fragment (bare_jid TEXT, ns TEXT, fragment BLOB)" }

func TestStoreGetReturnsNilOnNoRows(t *testing.T) {
	t.Parallel()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT fragment FROM xdb_fragment")).
		WithArgs("alice@example.com", ns.Roster).
		WillReturnError(sql.ErrNoRows)

	s := New(db, testDialect{})
	got, err := s.Get(context.Background(), jid.MustParse("alice@example.com"), ns.Roster)
	require.NoError(t, err)
	require.Nil(t, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreSetUpsertsFragment(t *testing.T) {
	t.Parallel()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO xdb_fragment")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	s := New(db, testDialect{})
	item := xmldom.NewElement("item", ns.Roster)
	err = s.Set(context.Background(), jid.MustParse("alice@example.com"), ns.Roster, []*xmldom.Node{item})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

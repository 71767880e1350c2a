package docstore

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockPostgres(t *testing.T) (*Postgres, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgres(db), mock
}

func TestBuildFind(t *testing.T) {
	query, args := buildFind("passionProfiles", Query{
		Any:    []Match{{"tags": "education", "kind": "ngo"}, {"tags": "environment"}},
		SortBy: "name",
	})

	assert.Equal(t,
		"SELECT data FROM documents WHERE collection = $1 AND "+
			"(((data -> $2) @> to_jsonb($3::text) AND (data -> $4) @> to_jsonb($5::text)) OR "+
			"((data -> $6) @> to_jsonb($7::text))) ORDER BY data ->> $8, seq",
		query)
	assert.Equal(t, []any{"passionProfiles", "kind", "ngo", "tags", "education", "tags", "environment", "name"}, args)
}

func TestBuildFind_All(t *testing.T) {
	query, args := buildFind("messages", Query{})
	assert.Equal(t, "SELECT data FROM documents WHERE collection = $1 ORDER BY seq", query)
	assert.Equal(t, []any{"messages"}, args)
}

func TestPostgres_Find(t *testing.T) {
	pg, mock := newMockPostgres(t)

	rows := sqlmock.NewRows([]string{"data"}).
		AddRow([]byte(`{"_id":"a","text":"hi","channel":"general"}`)).
		AddRow([]byte(`{"_id":"b","text":"yo","channel":"general"}`))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT data FROM documents WHERE collection = $1 AND")).
		WithArgs("messages", "channel", "general").
		WillReturnRows(rows)

	docs, err := pg.Find(context.Background(), "messages", Where("channel", "general"))
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "a", docs[0].ID())
	assert.Equal(t, "yo", docs[1]["text"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_FindKeepsInsertionOrder(t *testing.T) {
	pg, mock := newMockPostgres(t)

	// Seeded rows share one transaction timestamp, so only seq carries
	// the order they were written in.
	rows := sqlmock.NewRows([]string{"data"}).
		AddRow([]byte(`{"_id":"edu-001"}`)).
		AddRow([]byte(`{"_id":"arts-001"}`))
	mock.ExpectQuery(regexp.QuoteMeta("WHERE collection = $1 ORDER BY seq") + "$").
		WithArgs("passionProfiles").
		WillReturnRows(rows)

	docs, err := pg.Find(context.Background(), "passionProfiles", Query{})
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "edu-001", docs[0].ID())
	assert.Equal(t, "arts-001", docs[1].ID())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrations_AddInsertionSequence(t *testing.T) {
	up, err := migrationsFS.ReadFile("migrations/000003_documents_seq.up.sql")
	require.NoError(t, err)
	assert.Contains(t, string(up), "ADD COLUMN IF NOT EXISTS seq BIGSERIAL")

	down, err := migrationsFS.ReadFile("migrations/000003_documents_seq.down.sql")
	require.NoError(t, err)
	assert.Contains(t, string(down), "DROP COLUMN IF EXISTS seq")
}

func TestPostgres_FindUnavailable(t *testing.T) {
	pg, mock := newMockPostgres(t)
	mock.ExpectQuery("SELECT data FROM documents").WillReturnError(errors.New("connection refused"))

	_, err := pg.Find(context.Background(), "messages", Query{})
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestPostgres_GetNotFound(t *testing.T) {
	pg, mock := newMockPostgres(t)
	mock.ExpectQuery("SELECT data FROM documents WHERE collection").
		WithArgs("connections", "missing").
		WillReturnError(sql.ErrNoRows)

	_, err := pg.Get(context.Background(), "connections", "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgres_InsertAssignsID(t *testing.T) {
	pg, mock := newMockPostgres(t)
	mock.ExpectExec("INSERT INTO documents").
		WithArgs("mapData", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	doc := Document{"interest": "hiking"}
	id, err := pg.Insert(context.Background(), "mapData", doc)
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, id, doc.ID())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_InsertDuplicateID(t *testing.T) {
	pg, mock := newMockPostgres(t)
	mock.ExpectExec("INSERT INTO documents").
		WithArgs("connections", "pair", sqlmock.AnyArg()).
		WillReturnError(&pq.Error{Code: "23505", Message: `duplicate key value violates unique constraint "documents_pkey"`})

	_, err := pg.Insert(context.Background(), "connections", Document{"_id": "pair"})
	assert.ErrorIs(t, err, ErrDuplicate)
	assert.NotErrorIs(t, err, ErrUnavailable)
}

func TestPostgres_UpdateNotFound(t *testing.T) {
	pg, mock := newMockPostgres(t)
	mock.ExpectExec("UPDATE documents SET data").
		WithArgs("connections", "c1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := pg.Update(context.Background(), "connections", "c1", Document{"status": "accepted"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgres_ReplaceAll(t *testing.T) {
	pg, mock := newMockPostgres(t)
	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM documents").WithArgs("tedTalks").WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec("INSERT INTO documents").
		WithArgs("tedTalks", "t1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := pg.ReplaceAll(context.Background(), "tedTalks", []Document{{"_id": "t1", "title": "Talk"}})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_ReplaceAllInsertsInSliceOrder(t *testing.T) {
	pg, mock := newMockPostgres(t)
	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM documents").WithArgs("passionProfiles").WillReturnResult(sqlmock.NewResult(0, 0))
	for _, id := range []string{"edu-001", "env-001", "arts-001"} {
		mock.ExpectExec("INSERT INTO documents").
			WithArgs("passionProfiles", id, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
	}
	mock.ExpectCommit()

	err := pg.ReplaceAll(context.Background(), "passionProfiles", []Document{
		{"_id": "edu-001"}, {"_id": "env-001"}, {"_id": "arts-001"},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_ReplaceAllRollsBack(t *testing.T) {
	pg, mock := newMockPostgres(t)
	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM documents").WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := pg.ReplaceAll(context.Background(), "ngos", nil)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.NoError(t, mock.ExpectationsWereMet())
}

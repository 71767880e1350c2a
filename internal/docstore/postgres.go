package docstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/goccy/go-json"
	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Postgres stores every collection in one JSONB table keyed by
// (collection, id).
type Postgres struct {
	db *sql.DB
}

// OpenPostgres connects to dsn and verifies the connection.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("docstore: open postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, unavailable("ping", "postgres", err)
	}
	return &Postgres{db: db}, nil
}

// NewPostgres wraps an existing handle. Used by tests with sqlmock.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// Migrate applies the embedded schema migrations.
func (p *Postgres) Migrate() error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("docstore: migration source: %w", err)
	}
	driver, err := migratepg.WithInstance(p.db, &migratepg.Config{})
	if err != nil {
		return fmt.Errorf("docstore: migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("docstore: migrate: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("docstore: migrate up: %w", err)
	}
	return nil
}

// buildFind renders the SELECT for q. Match keys are sorted so the SQL is
// stable for a given query.
func buildFind(collection string, q Query) (string, []any) {
	var b strings.Builder
	args := []any{collection}
	b.WriteString("SELECT data FROM documents WHERE collection = $1")

	if len(q.Any) > 0 {
		groups := make([]string, 0, len(q.Any))
		for _, m := range q.Any {
			fields := make([]string, 0, len(m))
			for f := range m {
				fields = append(fields, f)
			}
			sort.Strings(fields)

			conds := make([]string, 0, len(fields))
			for _, f := range fields {
				// A scalar is contained in an array that holds it, so this
				// covers both equality and array membership.
				args = append(args, f, m[f])
				conds = append(conds, fmt.Sprintf("(data -> $%d) @> to_jsonb($%d::text)", len(args)-1, len(args)))
			}
			groups = append(groups, "("+strings.Join(conds, " AND ")+")")
		}
		b.WriteString(" AND (" + strings.Join(groups, " OR ") + ")")
	}

	if q.SortBy != "" {
		args = append(args, q.SortBy)
		fmt.Fprintf(&b, " ORDER BY data ->> $%d, seq", len(args))
	} else {
		b.WriteString(" ORDER BY seq")
	}
	return b.String(), args
}

func (p *Postgres) Find(ctx context.Context, collection string, q Query) ([]Document, error) {
	query, args := buildFind(collection, q)
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, unavailable("find", collection, err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, unavailable("find", collection, err)
		}
		var doc Document
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("docstore: find %s: decode: %w", collection, err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("find", collection, err)
	}
	return docs, nil
}

func (p *Postgres) Get(ctx context.Context, collection, id string) (Document, error) {
	const query = `SELECT data FROM documents WHERE collection = $1 AND id = $2`

	var raw []byte
	err := p.db.QueryRowContext(ctx, query, collection, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable("get", collection, err)
	}
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("docstore: get %s: decode: %w", collection, err)
	}
	return doc, nil
}

func (p *Postgres) Insert(ctx context.Context, collection string, doc Document) (string, error) {
	id := withID(doc)
	data, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("docstore: insert %s: encode: %w", collection, err)
	}

	const query = `INSERT INTO documents (collection, id, data) VALUES ($1, $2, $3)`
	if _, err := p.db.ExecContext(ctx, query, collection, id, data); err != nil {
		if isUniqueViolation(err) {
			return "", fmt.Errorf("docstore: insert %s: %w", collection, ErrDuplicate)
		}
		return "", unavailable("insert", collection, err)
	}
	return id, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func (p *Postgres) Update(ctx context.Context, collection, id string, fields Document) error {
	delete(fields, IDField)
	data, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("docstore: update %s: encode: %w", collection, err)
	}

	const query = `
		UPDATE documents SET data = data || $3::jsonb, updated_at = NOW()
		WHERE collection = $1 AND id = $2`

	res, err := p.db.ExecContext(ctx, query, collection, id, data)
	if err != nil {
		return unavailable("update", collection, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return unavailable("update", collection, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) ReplaceAll(ctx context.Context, collection string, docs []Document) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("replace", collection, err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE collection = $1`, collection); err != nil {
		return unavailable("replace", collection, err)
	}
	for _, doc := range docs {
		id := withID(doc)
		data, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("docstore: replace %s: encode: %w", collection, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO documents (collection, id, data) VALUES ($1, $2, $3)`,
			collection, id, data); err != nil {
			return unavailable("replace", collection, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return unavailable("replace", collection, err)
	}
	return nil
}

func (p *Postgres) Close(context.Context) error {
	return p.db.Close()
}

// withID returns doc's id, assigning a new UUID when it has none.
func withID(doc Document) string {
	if id := doc.ID(); id != "" {
		return id
	}
	id := uuid.New().String()
	doc[IDField] = id
	return id
}

// Package docstore is a small document store over named collections. Every
// domain package (chat, connections, map pins, content, passion profiles)
// persists JSON-shaped documents through the Store interface; the backing
// driver is Postgres JSONB, MongoDB, or an in-process map.
package docstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
)

// IDField is the document key holding the document id in every backend.
const IDField = "_id"

var (
	// ErrNotFound is returned by Get and Update when no document has the id.
	ErrNotFound = errors.New("docstore: document not found")

	// ErrUnavailable wraps any failure to reach the backing store.
	ErrUnavailable = errors.New("docstore: store unavailable")

	// ErrDuplicate is returned by Insert when the collection already
	// holds a document with the same id.
	ErrDuplicate = errors.New("docstore: duplicate id")
)

// Document is a decoded JSON object.
type Document map[string]any

// ID returns the document id, or "" when it has none.
func (d Document) ID() string {
	id, _ := d[IDField].(string)
	return id
}

// Match is a conjunction of field conditions. A condition holds when the
// field equals the value or, for array fields, contains it.
type Match map[string]string

// Query selects documents in a collection. A document is returned when it
// satisfies any Match in Any; an empty Any selects everything. Results are
// sorted ascending by SortBy when set, insertion order otherwise.
type Query struct {
	Any    []Match
	SortBy string
}

// Where is shorthand for a single-match query.
func Where(field, value string) Query {
	return Query{Any: []Match{{field: value}}}
}

// Store is implemented by every backend.
type Store interface {
	Find(ctx context.Context, collection string, q Query) ([]Document, error)
	Get(ctx context.Context, collection, id string) (Document, error)
	// Insert stores doc and returns its id, generating one when doc has none.
	// An id already present in the collection fails with ErrDuplicate.
	Insert(ctx context.Context, collection string, doc Document) (string, error)
	// Update merges fields into the stored document.
	Update(ctx context.Context, collection, id string, fields Document) error
	// ReplaceAll atomically swaps the collection contents for docs.
	ReplaceAll(ctx context.Context, collection string, docs []Document) error
	Close(ctx context.Context) error
}

// Encode converts a json-tagged struct into a Document.
func Encode(v any) (Document, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("docstore: encode: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("docstore: encode: %w", err)
	}
	return doc, nil
}

// Decode converts a Document into a json-tagged struct.
func Decode(doc Document, out any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("docstore: decode: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("docstore: decode: %w", err)
	}
	return nil
}

// DecodeAll decodes docs into a slice of T, skipping nothing: the first
// undecodable document fails the call.
func DecodeAll[T any](docs []Document) ([]T, error) {
	out := make([]T, 0, len(docs))
	for _, d := range docs {
		var v T
		if err := Decode(d, &v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func unavailable(op, collection string, err error) error {
	return fmt.Errorf("docstore: %s %s: %w: %w", op, collection, ErrUnavailable, err)
}

// matches reports whether doc satisfies m. Shared by the memory backend and
// tests.
func matches(doc Document, m Match) bool {
	for field, want := range m {
		switch v := doc[field].(type) {
		case string:
			if v != want {
				return false
			}
		case []any:
			found := false
			for _, item := range v {
				if s, ok := item.(string); ok && s == want {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		default:
			if fmt.Sprint(v) != want {
				return false
			}
		}
	}
	return true
}

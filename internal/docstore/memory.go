package docstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Memory is an in-process Store used by tests and the "memory" driver.
// Documents are deep-copied on the way in and out so callers never share
// state with the store.
type Memory struct {
	mu          sync.RWMutex
	collections map[string][]Document

	// FailWith, when set, is returned from every call. Tests use it to
	// simulate an unreachable store.
	FailWith error
}

func NewMemory() *Memory {
	return &Memory{collections: make(map[string][]Document)}
}

func (m *Memory) fail(op, collection string) error {
	if m.FailWith != nil {
		return unavailable(op, collection, m.FailWith)
	}
	return nil
}

func (m *Memory) Find(_ context.Context, collection string, q Query) ([]Document, error) {
	if err := m.fail("find", collection); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Document
	for _, doc := range m.collections[collection] {
		if len(q.Any) == 0 {
			out = append(out, copyDoc(doc))
			continue
		}
		for _, match := range q.Any {
			if matches(doc, match) {
				out = append(out, copyDoc(doc))
				break
			}
		}
	}
	if q.SortBy != "" {
		sort.SliceStable(out, func(i, j int) bool {
			return fmt.Sprint(out[i][q.SortBy]) < fmt.Sprint(out[j][q.SortBy])
		})
	}
	return out, nil
}

func (m *Memory) Get(_ context.Context, collection, id string) (Document, error) {
	if err := m.fail("get", collection); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, doc := range m.collections[collection] {
		if doc.ID() == id {
			return copyDoc(doc), nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) Insert(_ context.Context, collection string, doc Document) (string, error) {
	if err := m.fail("insert", collection); err != nil {
		return "", err
	}
	if doc.ID() == "" {
		doc[IDField] = uuid.New().String()
	}
	stored := copyDoc(doc)

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.collections[collection] {
		if existing.ID() == doc.ID() {
			return "", fmt.Errorf("docstore: insert %s: %w", collection, ErrDuplicate)
		}
	}
	m.collections[collection] = append(m.collections[collection], stored)
	return doc.ID(), nil
}

func (m *Memory) Update(_ context.Context, collection, id string, fields Document) error {
	if err := m.fail("update", collection); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, doc := range m.collections[collection] {
		if doc.ID() != id {
			continue
		}
		for k, v := range copyDoc(fields) {
			if k != IDField {
				doc[k] = v
			}
		}
		return nil
	}
	return ErrNotFound
}

func (m *Memory) ReplaceAll(_ context.Context, collection string, docs []Document) error {
	if err := m.fail("replace", collection); err != nil {
		return err
	}
	stored := make([]Document, 0, len(docs))
	for _, d := range docs {
		if d.ID() == "" {
			d[IDField] = uuid.New().String()
		}
		stored = append(stored, copyDoc(d))
	}

	m.mu.Lock()
	m.collections[collection] = stored
	m.mu.Unlock()
	return nil
}

func (m *Memory) Close(context.Context) error { return nil }

func copyDoc(d Document) Document {
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return map[string]any(copyDoc(val))
	case Document:
		return copyDoc(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = copyValue(item)
		}
		return out
	case []string:
		out := make([]any, len(val))
		for i, s := range val {
			out[i] = s
		}
		return out
	default:
		return v
	}
}

package docstore

import (
	"context"
	"time"

	"github.com/socio/backend/internal/metrics"
)

// Instrumented records per-call latency for the wrapped Store.
type Instrumented struct {
	Store
	driver string
}

func NewInstrumented(s Store, driver string) *Instrumented {
	return &Instrumented{Store: s, driver: driver}
}

func (i *Instrumented) observe(op string, start time.Time) {
	metrics.StoreDuration.WithLabelValues(i.driver, op).Observe(time.Since(start).Seconds())
}

func (i *Instrumented) Find(ctx context.Context, collection string, q Query) ([]Document, error) {
	defer i.observe("find", time.Now())
	return i.Store.Find(ctx, collection, q)
}

func (i *Instrumented) Get(ctx context.Context, collection, id string) (Document, error) {
	defer i.observe("get", time.Now())
	return i.Store.Get(ctx, collection, id)
}

func (i *Instrumented) Insert(ctx context.Context, collection string, doc Document) (string, error) {
	defer i.observe("insert", time.Now())
	return i.Store.Insert(ctx, collection, doc)
}

func (i *Instrumented) Update(ctx context.Context, collection, id string, fields Document) error {
	defer i.observe("update", time.Now())
	return i.Store.Update(ctx, collection, id, fields)
}

func (i *Instrumented) ReplaceAll(ctx context.Context, collection string, docs []Document) error {
	defer i.observe("replace", time.Now())
	return i.Store.ReplaceAll(ctx, collection, docs)
}

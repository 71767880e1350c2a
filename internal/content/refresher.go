package content

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/socio/backend/internal/logging"
	"github.com/socio/backend/internal/metrics"
)

// Fetcher pulls one upstream listing.
type Fetcher[T any] interface {
	Fetch(ctx context.Context) ([]T, error)
}

// Refresher replaces the stored talks and NGOs with fresh upstream data. It
// implements suture.Service through Serve.
type Refresher struct {
	svc      *Service
	talks    Fetcher[Talk]
	ngos     Fetcher[NGO]
	interval time.Duration
	onStart  bool
	log      zerolog.Logger
}

func NewRefresher(svc *Service, talks Fetcher[Talk], ngos Fetcher[NGO], interval time.Duration, onStart bool) *Refresher {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Refresher{
		svc:      svc,
		talks:    talks,
		ngos:     ngos,
		interval: interval,
		onStart:  onStart,
		log:      logging.Component("refresher"),
	}
}

// RefreshAll refreshes both sources. A failing source leaves its stored
// listing untouched and does not stop the other.
func (r *Refresher) RefreshAll(ctx context.Context) error {
	return errors.Join(
		refresh(ctx, r, "ted", r.talks, r.svc.ReplaceTalks),
		refresh(ctx, r, "ngo", r.ngos, r.svc.ReplaceNGOs),
	)
}

func refresh[T any](ctx context.Context, r *Refresher, source string, f Fetcher[T], store func(context.Context, []T) error) error {
	if f == nil {
		return nil
	}
	start := time.Now()
	items, err := f.Fetch(ctx)
	if err == nil && len(items) == 0 {
		// An empty upstream answer would wipe the listing.
		err = errors.New("upstream returned no items")
	}
	if err == nil {
		err = store(ctx, items)
	}
	if err != nil {
		metrics.ContentRefreshes.WithLabelValues(source, "error").Inc()
		r.log.Error().Err(err).Str("source", source).Msg("content refresh failed")
		return fmt.Errorf("content: refresh %s: %w", source, err)
	}
	metrics.ContentRefreshes.WithLabelValues(source, "ok").Inc()
	r.log.Info().Str("source", source).Int("items", len(items)).Dur("took", time.Since(start)).Msg("content refreshed")
	return nil
}

// Serve refreshes on start when configured and then every interval until
// ctx is done. Refresh failures are logged, never returned.
func (r *Refresher) Serve(ctx context.Context) error {
	if r.onStart {
		_ = r.RefreshAll(ctx)
	}
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			_ = r.RefreshAll(ctx)
		}
	}
}

func (r *Refresher) String() string { return "content-refresher" }

// Command refresher pulls TED talks and NGOs from their upstream APIs once
// and replaces the stored listings. The server runs the same refresh on a
// timer; this binary suits cron or a manual backfill.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/socio/backend/internal/cache"
	"github.com/socio/backend/internal/config"
	"github.com/socio/backend/internal/content"
	"github.com/socio/backend/internal/docstore"
	"github.com/socio/backend/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load configuration")
	}
	logging.Init(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := docstore.Open(ctx, cfg.Store)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to open document store")
	}
	defer store.Close(context.WithoutCancel(ctx))

	var c *cache.Cache
	if rdb, err := cache.Connect(ctx, cfg.Redis); err != nil {
		logging.Warn().Err(err).Msg("redis unavailable; cached listings expire on their own")
	} else {
		defer rdb.Close()
		c = cache.New(rdb, cfg.Redis.CacheTTL)
	}

	client := &http.Client{Timeout: cfg.Content.HTTPTimeout}
	var talks content.Fetcher[content.Talk]
	if cfg.Content.TEDAPIKey != "" {
		talks = content.NewTEDFetcher(cfg.Content.TEDURL, cfg.Content.TEDAPIKey, cfg.Content.TEDAPIHost, client)
	} else {
		logging.Warn().Msg("TED_API_KEY not set; skipping talks")
	}
	r := content.NewRefresher(content.NewService(store, c), talks,
		content.NewNGOFetcher(cfg.Content.NGOURL, client), cfg.Content.RefreshInterval, false)

	if err := r.RefreshAll(ctx); err != nil {
		logging.Error().Err(err).Msg("refresh finished with errors")
		os.Exit(1)
	}
	logging.Info().Msg("refresh complete")
}

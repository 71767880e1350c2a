// Command seed loads the bundled passion profiles and quiz into the
// document store. Existing data is kept unless -force is given.
package main

import (
	"context"
	"flag"
	"os"

	"github.com/socio/backend/internal/cache"
	"github.com/socio/backend/internal/config"
	"github.com/socio/backend/internal/docstore"
	"github.com/socio/backend/internal/logging"
	"github.com/socio/backend/internal/passion"
)

func main() {
	force := flag.Bool("force", false, "replace stored passion profiles with the bundled set")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load configuration")
	}
	logging.Init(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})

	ctx := context.Background()
	store, err := docstore.Open(ctx, cfg.Store)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to open document store")
	}
	defer store.Close(ctx)

	if *force {
		n, err := passion.ResetProfiles(ctx, store)
		if err != nil {
			logging.Error().Err(err).Msg("reset failed")
			os.Exit(1)
		}
		logging.Info().Int("profiles", n).Msg("passion profiles replaced")
		invalidateCorpus(ctx, cfg)
	}

	n, err := passion.EnsureSeeded(ctx, store)
	if err != nil {
		logging.Error().Err(err).Msg("seed failed")
		os.Exit(1)
	}
	logging.Info().Int("profiles", n).Msg("seed complete")
}

// invalidateCorpus drops the cached snapshot so running servers pick up
// the new corpus. Redis being down only means they wait for the TTL.
func invalidateCorpus(ctx context.Context, cfg *config.Config) {
	rdb, err := cache.Connect(ctx, cfg.Redis)
	if err != nil {
		logging.Warn().Err(err).Msg("redis unavailable; cached corpus expires on its own")
		return
	}
	defer rdb.Close()
	provider := passion.NewStoreProvider(nil, cache.New(rdb, cfg.Redis.CacheTTL), cfg.Passion.CorpusCacheTTL)
	if err := provider.InvalidateCorpus(ctx); err != nil {
		logging.Warn().Err(err).Msg("corpus cache invalidation failed")
	}
}

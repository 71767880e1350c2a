// Command server runs the socio backend: the REST API, the websocket relay
// and the hourly content refresher, all under one supervisor.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/socio/backend/internal/api"
	"github.com/socio/backend/internal/ban"
	"github.com/socio/backend/internal/cache"
	"github.com/socio/backend/internal/chat"
	"github.com/socio/backend/internal/config"
	"github.com/socio/backend/internal/connection"
	"github.com/socio/backend/internal/content"
	"github.com/socio/backend/internal/docstore"
	"github.com/socio/backend/internal/geomap"
	"github.com/socio/backend/internal/logging"
	"github.com/socio/backend/internal/messaging"
	"github.com/socio/backend/internal/moderation"
	"github.com/socio/backend/internal/passion"
	"github.com/socio/backend/internal/ratelimit"
	"github.com/socio/backend/internal/supervisor"
	"github.com/socio/backend/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load configuration")
	}
	logging.Init(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Caller: cfg.Log.Caller})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logging.Error().Err(err).Msg("server exited")
		os.Exit(1)
	}
	logging.Info().Msg("shutdown complete")
}

func run(ctx context.Context, cfg *config.Config) error {
	store, err := docstore.Open(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer store.Close(context.WithoutCancel(ctx))

	// Redis backs the cache, rate limits and mutes. Without it the server
	// still runs with all three disabled.
	var (
		rdb     *redis.Client
		c       *cache.Cache
		limiter *ratelimit.Limiter
		mutes   chat.Mutes
	)
	if rdb, err = cache.Connect(ctx, cfg.Redis); err != nil {
		logging.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("redis unavailable; cache, rate limits and mutes disabled")
	} else {
		defer rdb.Close()
		c = cache.New(rdb, cfg.Redis.CacheTTL)
		limiter = ratelimit.NewLimiter(rdb)
		mutes = ban.NewStore(rdb)
	}

	bus := connectBus(cfg.NATS)
	defer bus.Close()
	pub := messaging.NewPublisher(bus)

	if n, err := passion.EnsureSeeded(ctx, store); err != nil {
		logging.Warn().Err(err).Msg("passion seed failed; matching falls back to bundled profiles")
	} else if n > 0 {
		logging.Info().Int("profiles", n).Msg("passion corpus seeded")
	}

	filter := moderation.NewFilter()
	chatSvc := chat.NewService(store, filter, mutes, pub, nil)
	contentSvc := content.NewService(store, c)
	provider := passion.NewStoreProvider(store, c, cfg.Passion.CorpusCacheTTL)
	matcher := passion.NewMatcher(provider, passion.NewStoreSink(store, pub), passion.MustDefaultProfiles(),
		passion.WithAnalyticsTimeout(cfg.Passion.AnalyticsTimeout))
	defer matcher.Wait()

	relayCfg := ws.DefaultRelayConfig()
	relayCfg.MaxConnections = cfg.Server.MaxRelayConns
	relay := ws.NewRelay(relayCfg, bus, chatSvc)

	mwCfg := api.DefaultMiddlewareConfig()
	mwCfg.CORSAllowedOrigins = cfg.Server.CORSOrigins
	mwCfg.RateLimitRequests = cfg.Server.RequestsPerMin

	router := api.NewRouter(api.Deps{
		Chat:        chatSvc,
		Connections: connection.NewService(store, pub),
		Map:         geomap.NewService(store, filter),
		Content:     contentSvc,
		Matcher:     matcher,
		Catalog:     provider,
		Relay:       relay,
	}, api.NewMiddleware(mwCfg, limiter))

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}

	sup := supervisor.New("socio", supervisor.Config{ShutdownTimeout: cfg.Server.ShutdownTimeout})
	sup.Add(supervisor.NewHTTPService(httpServer, cfg.Server.ShutdownTimeout))
	sup.Add(relay)
	sup.Add(newRefresher(cfg.Content, contentSvc))

	logging.Info().
		Str("addr", cfg.Server.Addr).
		Str("store", cfg.Store.Driver).
		Bool("redis", rdb != nil).
		Msg("socio backend starting")

	if err := sup.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// connectBus prefers NATS and falls back to an in-process bus, which only
// reaches relay clients connected to this instance.
func connectBus(cfg config.NATSConfig) messaging.Bus {
	natsCfg := messaging.DefaultNATSConfig()
	natsCfg.URL = cfg.URL
	if cfg.Name != "" {
		natsCfg.Name = cfg.Name
	}
	nc, err := messaging.NewNATSClient(natsCfg)
	if err != nil {
		logging.Warn().Err(err).Str("url", cfg.URL).Msg("nats unavailable; using in-process bus")
		return messaging.NewLocalBus()
	}
	return nc
}

func newRefresher(cfg config.ContentConfig, svc *content.Service) *content.Refresher {
	client := &http.Client{Timeout: cfg.HTTPTimeout}

	var talks content.Fetcher[content.Talk]
	if cfg.TEDAPIKey != "" {
		talks = content.NewTEDFetcher(cfg.TEDURL, cfg.TEDAPIKey, cfg.TEDAPIHost, client)
	} else {
		logging.Warn().Msg("TED_API_KEY not set; talks will not be refreshed")
	}
	return content.NewRefresher(svc, talks, content.NewNGOFetcher(cfg.NGOURL, client), cfg.RefreshInterval, cfg.RefreshOnStart)
}

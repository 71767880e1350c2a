package docstore

import (
	"context"
	"fmt"

	"github.com/socio/backend/internal/config"
	"github.com/socio/backend/internal/logging"
)

// Open connects the backend named by cfg.Driver and wraps it with latency
// metrics. Postgres schemas are migrated when cfg.Migrate is set.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	log := logging.Component("docstore")

	var s Store
	switch cfg.Driver {
	case config.DriverPostgres:
		pg, err := OpenPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		if cfg.Migrate {
			if err := pg.Migrate(); err != nil {
				pg.Close(ctx)
				return nil, err
			}
			log.Info().Msg("postgres migrations applied")
		}
		s = pg
	case config.DriverMongo:
		mg, err := OpenMongo(ctx, cfg.MongoURI, cfg.MongoDB)
		if err != nil {
			return nil, err
		}
		s = mg
	case config.DriverMemory:
		log.Warn().Msg("using in-memory store; data is lost on restart")
		s = NewMemory()
	default:
		return nil, fmt.Errorf("docstore: unknown driver %q", cfg.Driver)
	}

	log.Info().Str("driver", cfg.Driver).Msg("document store connected")
	return NewInstrumented(s, cfg.Driver), nil
}

// Package content serves the external content shown in the app: TED talks
// for the learning feed and environmental NGOs for the action hub. Both are
// pulled from upstream APIs on a schedule by Refresher, stored in the
// document store and read through the Redis cache.
package content

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/socio/backend/internal/cache"
	"github.com/socio/backend/internal/docstore"
	"github.com/socio/backend/internal/logging"
)

const (
	TalksCollection = "tedTalks"
	NGOsCollection  = "ngos"

	talksCacheKey = "content:talks"
	ngosCacheKey  = "content:ngos"
)

type Talk struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Duration    string `json:"duration"`
	Speaker     string `json:"speaker"`
	URL         string `json:"url"`
	Thumbnail   string `json:"thumbnail"`
}

type NGO struct {
	ID       string `json:"id"` // EIN
	Name     string `json:"name"`
	Mission  string `json:"mission"`
	Location string `json:"location"`
	Website  string `json:"website"`
	Category string `json:"category"`
}

// Service reads content listings. The cache is optional.
type Service struct {
	store docstore.Store
	cache *cache.Cache
	log   zerolog.Logger
}

func NewService(store docstore.Store, c *cache.Cache) *Service {
	return &Service{store: store, cache: c, log: logging.Component("content")}
}

func (s *Service) Talks(ctx context.Context) ([]Talk, error) {
	return cachedList[Talk](ctx, s, talksCacheKey, TalksCollection)
}

func (s *Service) NGOs(ctx context.Context) ([]NGO, error) {
	return cachedList[NGO](ctx, s, ngosCacheKey, NGOsCollection)
}

func (s *Service) ReplaceTalks(ctx context.Context, talks []Talk) error {
	return replace(ctx, s, talksCacheKey, TalksCollection, talks)
}

func (s *Service) ReplaceNGOs(ctx context.Context, ngos []NGO) error {
	return replace(ctx, s, ngosCacheKey, NGOsCollection, ngos)
}

// cachedList serves from the cache when it can. Cache errors fall through
// to the store.
func cachedList[T any](ctx context.Context, s *Service, key, collection string) ([]T, error) {
	if s.cache != nil {
		var out []T
		hit, err := s.cache.Get(ctx, key, &out)
		if err != nil {
			s.log.Warn().Err(err).Str("key", key).Msg("cache read failed")
		}
		if hit {
			return out, nil
		}
	}

	docs, err := s.store.Find(ctx, collection, docstore.Query{})
	if err != nil {
		return nil, fmt.Errorf("content: list %s: %w", collection, err)
	}
	out, err := docstore.DecodeAll[T](docs)
	if err != nil {
		return nil, fmt.Errorf("content: list %s: %w", collection, err)
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, out); err != nil {
			s.log.Warn().Err(err).Str("key", key).Msg("cache write failed")
		}
	}
	return out, nil
}

func replace[T any](ctx context.Context, s *Service, key, collection string, items []T) error {
	docs := make([]docstore.Document, 0, len(items))
	for _, it := range items {
		doc, err := docstore.Encode(it)
		if err != nil {
			return fmt.Errorf("content: replace %s: %w", collection, err)
		}
		docs = append(docs, doc)
	}
	if err := s.store.ReplaceAll(ctx, collection, docs); err != nil {
		return fmt.Errorf("content: replace %s: %w", collection, err)
	}
	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, key); err != nil {
			s.log.Warn().Err(err).Str("key", key).Msg("cache invalidate failed")
		}
	}
	return nil
}

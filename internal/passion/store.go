package passion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/socio/backend/internal/cache"
	"github.com/socio/backend/internal/docstore"
	"github.com/socio/backend/internal/logging"
	"github.com/socio/backend/internal/messaging"
)

// Collections owned by this package.
const (
	ProfilesCollection  = "passionProfiles"
	QuestionsCollection = "passionQuestions"
	AnalyticsCollection = "passionAnalytics"
)

const corpusCacheKey = "passion:corpus"

// StoreProvider reads the corpus from the document store, optionally
// through a short-lived Redis snapshot.
type StoreProvider struct {
	store docstore.Store
	cache *cache.Cache
	ttl   time.Duration
}

// NewStoreProvider builds a provider. c may be nil.
func NewStoreProvider(store docstore.Store, c *cache.Cache, ttl time.Duration) *StoreProvider {
	return &StoreProvider{store: store, cache: c, ttl: ttl}
}

func (p *StoreProvider) Profiles(ctx context.Context) ([]Profile, error) {
	log := logging.Component("passion")

	if p.cache != nil {
		var snap []Profile
		ok, err := p.cache.Get(ctx, corpusCacheKey, &snap)
		if err != nil {
			log.Debug().Err(err).Msg("corpus cache read failed")
		}
		if ok && len(snap) > 0 {
			return snap, nil
		}
	}

	docs, err := p.store.Find(ctx, ProfilesCollection, docstore.Query{})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	profiles := make([]Profile, 0, len(docs))
	for _, d := range docs {
		profiles = append(profiles, profileFromDocument(d))
	}

	if p.cache != nil && len(profiles) > 0 {
		if err := p.cache.SetTTL(ctx, corpusCacheKey, profiles, p.ttl); err != nil {
			log.Debug().Err(err).Msg("corpus cache write failed")
		}
	}
	return profiles, nil
}

func (p *StoreProvider) ProfilesByTag(ctx context.Context, tag string) ([]Profile, error) {
	docs, err := p.store.Find(ctx, ProfilesCollection, docstore.Where("tags", tag))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	profiles := make([]Profile, 0, len(docs))
	for _, d := range docs {
		profiles = append(profiles, profileFromDocument(d))
	}
	return profiles, nil
}

// Questions returns the stored quiz, or the bundled one when the store has
// none or cannot be reached.
func (p *StoreProvider) Questions(ctx context.Context) ([]Question, error) {
	docs, err := p.store.Find(ctx, QuestionsCollection, docstore.Query{SortBy: "id"})
	if err != nil || len(docs) == 0 {
		if err != nil {
			log := logging.Component("passion")
			log.Warn().Err(err).Msg("questions unavailable, using defaults")
		}
		return DefaultQuestions()
	}
	return docstore.DecodeAll[Question](docs)
}

// InvalidateCorpus drops the cached corpus snapshot.
func (p *StoreProvider) InvalidateCorpus(ctx context.Context) error {
	if p.cache == nil {
		return nil
	}
	return p.cache.Invalidate(ctx, corpusCacheKey)
}

// AnalyticsRecord is the document written per match.
type AnalyticsRecord struct {
	Tags      []string  `json:"tags"`
	ProfileID string    `json:"profileId"`
	Timestamp time.Time `json:"timestamp"`
}

// StoreSink writes analytics records to the document store and announces
// each match on passion.matched when a publisher is set.
type StoreSink struct {
	store docstore.Store
	pub   *messaging.Publisher
}

// NewStoreSink builds a sink. pub may be nil.
func NewStoreSink(store docstore.Store, pub *messaging.Publisher) *StoreSink {
	return &StoreSink{store: store, pub: pub}
}

func (s *StoreSink) RecordMatch(ctx context.Context, tags []string, profileID string, at time.Time) error {
	if tags == nil {
		tags = []string{}
	}
	rec := AnalyticsRecord{Tags: tags, ProfileID: profileID, Timestamp: at.UTC()}

	doc, err := docstore.Encode(rec)
	if err != nil {
		return err
	}
	if _, err := s.store.Insert(ctx, AnalyticsCollection, doc); err != nil {
		if errors.Is(err, docstore.ErrUnavailable) {
			return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
		}
		return fmt.Errorf("passion: record match: %w", err)
	}

	if s.pub != nil {
		if err := s.pub.PublishEvent(messaging.SubjectPassionMatched, messaging.EventPassionMatched, rec); err != nil {
			log := logging.Component("passion")
			log.Debug().Err(err).Msg("publish passion.matched failed")
		}
	}
	return nil
}

// EnsureSeeded writes the bundled profiles and questions into empty
// collections. Existing data is left alone. It returns how many profiles
// were written.
func EnsureSeeded(ctx context.Context, store docstore.Store) (int, error) {
	log := logging.Component("passion")

	existing, err := store.Find(ctx, ProfilesCollection, docstore.Query{})
	if err != nil {
		return 0, fmt.Errorf("passion: seed: %w", err)
	}
	written := 0
	if len(existing) == 0 {
		if written, err = ResetProfiles(ctx, store); err != nil {
			return 0, err
		}
		log.Info().Int("profiles", written).Msg("seeded passion profiles")
	}

	qs, err := store.Find(ctx, QuestionsCollection, docstore.Query{})
	if err != nil {
		return written, fmt.Errorf("passion: seed: %w", err)
	}
	if len(qs) == 0 {
		questions, err := DefaultQuestions()
		if err != nil {
			return written, err
		}
		docs := make([]docstore.Document, 0, len(questions))
		for _, q := range questions {
			doc, err := docstore.Encode(q)
			if err != nil {
				return written, err
			}
			doc[docstore.IDField] = q.ID
			docs = append(docs, doc)
		}
		if err := store.ReplaceAll(ctx, QuestionsCollection, docs); err != nil {
			return written, fmt.Errorf("passion: seed questions: %w", err)
		}
		log.Info().Int("questions", len(docs)).Msg("seeded passion questions")
	}
	return written, nil
}

// ResetProfiles replaces the stored corpus with the bundled profiles.
func ResetProfiles(ctx context.Context, store docstore.Store) (int, error) {
	profiles, err := DefaultProfiles()
	if err != nil {
		return 0, err
	}
	docs := make([]docstore.Document, 0, len(profiles))
	for _, p := range profiles {
		docs = append(docs, profileToDocument(p))
	}
	if err := store.ReplaceAll(ctx, ProfilesCollection, docs); err != nil {
		return 0, fmt.Errorf("passion: seed profiles: %w", err)
	}
	return len(docs), nil
}

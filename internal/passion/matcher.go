// Package passion matches quiz responses to a profile by tag frequency.
//
// Match runs an ordered fallback chain, and each tier can be exercised on
// its own in tests:
//
//	Tier 1: load the live corpus; on error or an empty corpus use the
//	        bundled defaults.
//	Tier 2: score every profile with Select (first highest score wins).
//	Tier 3: if scoring fails, look up profiles carrying the single most
//	        frequent tag and take the first; else the first default.
//
// Analytics are written asynchronously and never affect the result.
package passion

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/socio/backend/internal/logging"
	"github.com/socio/backend/internal/metrics"
)

// CorpusProvider supplies the live profile corpus. Both methods return
// ErrStoreUnavailable when the store cannot be reached and an empty slice
// when it has no matching rows.
type CorpusProvider interface {
	Profiles(ctx context.Context) ([]Profile, error)
	// ProfilesByTag returns profiles whose tags contain tag.
	ProfilesByTag(ctx context.Context, tag string) ([]Profile, error)
}

// AnalyticsSink persists one record per match. Errors are logged by the
// matcher and otherwise ignored.
type AnalyticsSink interface {
	RecordMatch(ctx context.Context, tags []string, profileID string, at time.Time) error
}

const defaultAnalyticsTimeout = 5 * time.Second

// Matcher is safe for concurrent use. It holds no per-request state.
type Matcher struct {
	provider CorpusProvider
	sink     AnalyticsSink
	defaults []Profile

	score            ScoreFunc
	now              func() time.Time
	analyticsTimeout time.Duration
	log              zerolog.Logger

	inflight sync.WaitGroup
}

// MatcherOption configures a Matcher.
type MatcherOption func(*Matcher)

// WithScorer replaces Select as the primary scorer.
func WithScorer(fn ScoreFunc) MatcherOption {
	return func(m *Matcher) { m.score = fn }
}

// WithClock sets the analytics timestamp source.
func WithClock(now func() time.Time) MatcherOption {
	return func(m *Matcher) { m.now = now }
}

// WithAnalyticsTimeout bounds each analytics write.
func WithAnalyticsTimeout(d time.Duration) MatcherOption {
	return func(m *Matcher) { m.analyticsTimeout = d }
}

// WithLogger replaces the component logger.
func WithLogger(l zerolog.Logger) MatcherOption {
	return func(m *Matcher) { m.log = l }
}

// NewMatcher builds a Matcher. sink may be nil to disable analytics;
// defaults is the corpus used when the provider fails or is empty.
func NewMatcher(provider CorpusProvider, sink AnalyticsSink, defaults []Profile, opts ...MatcherOption) *Matcher {
	m := &Matcher{
		provider:         provider,
		sink:             sink,
		defaults:         defaults,
		score:            Select,
		now:              time.Now,
		analyticsTimeout: defaultAnalyticsTimeout,
		log:              logging.Component("passion"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Match returns exactly one profile for responses. The only error is
// ErrEmptyCorpus, when neither the live nor the default corpus has a
// profile.
func (m *Matcher) Match(ctx context.Context, responses []string) (Result, error) {
	freq := NewTagFrequency(responses)

	corpus, source, outcome := m.loadCorpus(ctx)
	if len(corpus) == 0 {
		metrics.PassionMatches.WithLabelValues("empty_corpus", string(source)).Inc()
		return Result{}, ErrEmptyCorpus
	}

	res, err := m.scoreSafely(freq, corpus)
	if err != nil {
		m.log.Warn().Err(err).Int("corpus_size", len(corpus)).Msg("primary scoring failed, using top-tag fallback")
		res, err = m.crudeMatch(ctx, freq, corpus, source)
		if err != nil {
			return Result{}, err
		}
	} else {
		res.Outcome = outcome
		res.Corpus = source
	}

	if res.Skipped > 0 {
		metrics.PassionSkippedProfiles.Add(float64(res.Skipped))
		m.log.Warn().Int("skipped", res.Skipped).Msg("skipped profiles with malformed tags")
	}
	metrics.PassionMatches.WithLabelValues(res.Outcome.String(), string(res.Corpus)).Inc()

	m.log.Debug().
		Str("profile", res.Profile.ID).
		Int("score", res.Score).
		Stringer("outcome", res.Outcome).
		Str("corpus", string(res.Corpus)).
		Msg("matched")

	m.recordAsync(ctx, res)
	return res, nil
}

// loadCorpus is tier 1.
func (m *Matcher) loadCorpus(ctx context.Context) ([]Profile, Source, Outcome) {
	live, err := m.provider.Profiles(ctx)
	if err != nil {
		m.log.Warn().Err(err).Msg("live corpus unavailable, using defaults")
		return m.defaults, SourceDefault, OutcomeStoreFailure
	}
	if len(live) == 0 {
		m.log.Info().Msg("live corpus empty, using defaults")
		return m.defaults, SourceDefault, OutcomeSuccess
	}
	return live, SourceLive, OutcomeSuccess
}

// scoreSafely is tier 2. Any failure other than ErrEmptyCorpus, including a
// panic, is reported as ErrScoringFailed.
func (m *Matcher) scoreSafely(freq TagFrequency, corpus []Profile) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			res, err = Result{}, fmt.Errorf("%w: panic: %v", ErrScoringFailed, r)
		}
	}()

	res, err = m.score(freq, corpus)
	if err != nil && !errors.Is(err, ErrEmptyCorpus) && !errors.Is(err, ErrScoringFailed) {
		err = fmt.Errorf("%w: %w", ErrScoringFailed, err)
	}
	return res, err
}

// crudeMatch is tier 3: the first profile carrying the most frequent tag,
// else the first default, else the first profile of corpus. It does not
// score the rest of the corpus.
func (m *Matcher) crudeMatch(ctx context.Context, freq TagFrequency, corpus []Profile, source Source) (Result, error) {
	res := Result{Outcome: OutcomeScoringFailure, Ranked: freq.Ranked()}

	if top, ok := freq.Top(); ok {
		hits, err := m.provider.ProfilesByTag(ctx, top)
		if err != nil {
			m.log.Warn().Err(err).Str("tag", top).Msg("top-tag lookup failed")
		}
		if len(hits) > 0 {
			res.Profile = hits[0]
			res.Corpus = SourceLive
			res.Score = crudeScore(freq, hits[0])
			return res, nil
		}
	}

	switch {
	case len(m.defaults) > 0:
		res.Profile = m.defaults[0]
		res.Corpus = SourceDefault
	case len(corpus) > 0:
		res.Profile = corpus[0]
		res.Corpus = source
	default:
		return Result{}, ErrEmptyCorpus
	}
	res.Score = crudeScore(freq, res.Profile)
	return res, nil
}

func crudeScore(freq TagFrequency, p Profile) int {
	tags, err := p.TagSet()
	if err != nil {
		return 0
	}
	return freq.Score(tags)
}

// recordAsync hands the analytics record to the sink without blocking the
// caller. The write outlives the request but not analyticsTimeout.
func (m *Matcher) recordAsync(ctx context.Context, res Result) {
	if m.sink == nil {
		return
	}
	at := m.now()
	tags := res.Ranked
	profileID := res.Profile.ID

	m.inflight.Add(1)
	go func() {
		defer m.inflight.Done()

		wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.analyticsTimeout)
		defer cancel()

		if err := m.sink.RecordMatch(wctx, tags, profileID, at); err != nil {
			metrics.AnalyticsWrites.WithLabelValues("error").Inc()
			m.log.Warn().Err(err).Str("profile", profileID).Msg("analytics write failed")
			return
		}
		metrics.AnalyticsWrites.WithLabelValues("ok").Inc()
	}()
}

// Wait blocks until in-flight analytics writes finish.
func (m *Matcher) Wait() {
	m.inflight.Wait()
}

// Defaults returns the bundled fallback corpus the matcher was built with.
func (m *Matcher) Defaults() []Profile {
	return m.defaults
}

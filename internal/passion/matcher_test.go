package passion

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	profiles []Profile
	err      error
	byTag    map[string][]Profile
	tagErr   error
	tagCalls []string
}

func (f *fakeProvider) Profiles(context.Context) ([]Profile, error) {
	return f.profiles, f.err
}

func (f *fakeProvider) ProfilesByTag(_ context.Context, tag string) ([]Profile, error) {
	f.tagCalls = append(f.tagCalls, tag)
	if f.tagErr != nil {
		return nil, f.tagErr
	}
	return f.byTag[tag], nil
}

type record struct {
	tags      []string
	profileID string
	at        time.Time
}

type fakeSink struct {
	mu      sync.Mutex
	records []record
	err     error
	block   chan struct{}
}

func (f *fakeSink) RecordMatch(ctx context.Context, tags []string, profileID string, at time.Time) error {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, record{tags, profileID, at})
	return f.err
}

func (f *fakeSink) all() []record {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]record(nil), f.records...)
}

var (
	liveCorpus = []Profile{
		profile("edu-001", []any{"education", "children"}),
		profile("env-001", []any{"environment", "sustainability"}),
	}
	defaultCorpus = []Profile{
		profile("def-1", []any{"arts"}),
		profile("def-2", []any{"environment"}),
	}
	fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
)

func newTestMatcher(p CorpusProvider, s AnalyticsSink, defaults []Profile, opts ...MatcherOption) *Matcher {
	opts = append([]MatcherOption{WithClock(func() time.Time { return fixedNow })}, opts...)
	return NewMatcher(p, s, defaults, opts...)
}

func TestMatch_LiveCorpus(t *testing.T) {
	sink := &fakeSink{}
	m := newTestMatcher(&fakeProvider{profiles: liveCorpus}, sink, defaultCorpus)

	res, err := m.Match(context.Background(), []string{"environment", "environment", "education"})
	require.NoError(t, err)
	m.Wait()

	assert.Equal(t, "env-001", res.Profile.ID)
	assert.Equal(t, 2, res.Score)
	assert.Equal(t, OutcomeSuccess, res.Outcome)
	assert.Equal(t, SourceLive, res.Corpus)

	recs := sink.all()
	require.Len(t, recs, 1)
	assert.Equal(t, []string{"environment", "education"}, recs[0].tags)
	assert.Equal(t, "env-001", recs[0].profileID)
	assert.Equal(t, fixedNow, recs[0].at)
}

func TestMatch_StoreFailureUsesDefaults(t *testing.T) {
	sink := &fakeSink{}
	provider := &fakeProvider{err: ErrStoreUnavailable}
	m := newTestMatcher(provider, sink, defaultCorpus)

	res, err := m.Match(context.Background(), []string{"environment"})
	require.NoError(t, err)
	m.Wait()

	assert.Equal(t, "def-2", res.Profile.ID)
	assert.Equal(t, OutcomeStoreFailure, res.Outcome)
	assert.Equal(t, SourceDefault, res.Corpus)
	assert.Len(t, sink.all(), 1, "analytics is still attempted after a store failure")
}

func TestMatch_EmptyLiveCorpusUsesDefaults(t *testing.T) {
	m := newTestMatcher(&fakeProvider{profiles: []Profile{}}, nil, defaultCorpus)

	res, err := m.Match(context.Background(), []string{"nothing-matches"})
	require.NoError(t, err)
	assert.Equal(t, "def-1", res.Profile.ID)
	assert.Equal(t, OutcomeSuccess, res.Outcome)
	assert.Equal(t, SourceDefault, res.Corpus)
}

func TestMatch_EmptyCorpusWithoutDefaults(t *testing.T) {
	m := newTestMatcher(&fakeProvider{}, nil, nil)

	_, err := m.Match(context.Background(), []string{"a"})
	assert.ErrorIs(t, err, ErrEmptyCorpus)
}

func TestMatch_StoreDownWithoutDefaults(t *testing.T) {
	m := newTestMatcher(&fakeProvider{err: ErrStoreUnavailable}, nil, nil)

	_, err := m.Match(context.Background(), []string{"a"})
	assert.ErrorIs(t, err, ErrEmptyCorpus)
}

func TestMatch_EmptyResponses(t *testing.T) {
	m := newTestMatcher(&fakeProvider{profiles: liveCorpus}, nil, defaultCorpus)

	res, err := m.Match(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "edu-001", res.Profile.ID)
	assert.Equal(t, 0, res.Score)
}

func TestMatch_MalformedSkipped(t *testing.T) {
	corpus := []Profile{
		profile("broken", []any{"x", 42, nil}),
		profile("ok", []any{"y"}),
	}
	m := newTestMatcher(&fakeProvider{profiles: corpus}, nil, defaultCorpus)

	res, err := m.Match(context.Background(), []string{"x"})
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Profile.ID)
}

func TestMatch_Idempotent(t *testing.T) {
	m := newTestMatcher(&fakeProvider{profiles: liveCorpus}, &fakeSink{}, defaultCorpus)
	responses := []string{"education", "environment", "children"}

	first, err := m.Match(context.Background(), responses)
	require.NoError(t, err)
	second, err := m.Match(context.Background(), responses)
	require.NoError(t, err)
	m.Wait()

	if !reflect.DeepEqual(first, second) {
		t.Errorf("results differ: %+v vs %+v", first, second)
	}
}

func panickingScorer(TagFrequency, []Profile) (Result, error) {
	panic("index out of range")
}

func TestMatch_ScoringFailureUsesTopTagLookup(t *testing.T) {
	hit := profile("env-by-tag", []any{"environment"})
	provider := &fakeProvider{
		profiles: liveCorpus,
		byTag:    map[string][]Profile{"environment": {hit}},
	}
	sink := &fakeSink{}
	m := newTestMatcher(provider, sink, defaultCorpus, WithScorer(panickingScorer))

	res, err := m.Match(context.Background(), []string{"education", "environment", "environment"})
	require.NoError(t, err)
	m.Wait()

	assert.Equal(t, "env-by-tag", res.Profile.ID)
	assert.Equal(t, OutcomeScoringFailure, res.Outcome)
	assert.Equal(t, SourceLive, res.Corpus)
	assert.Equal(t, 2, res.Score)
	assert.Equal(t, []string{"environment"}, provider.tagCalls)
	assert.Len(t, sink.all(), 1)
}

func TestMatch_ScoringFailureNoHitUsesFirstDefault(t *testing.T) {
	provider := &fakeProvider{profiles: liveCorpus}
	m := newTestMatcher(provider, nil, defaultCorpus, WithScorer(func(TagFrequency, []Profile) (Result, error) {
		return Result{}, errors.New("boom")
	}))

	res, err := m.Match(context.Background(), []string{"unknown"})
	require.NoError(t, err)
	assert.Equal(t, "def-1", res.Profile.ID)
	assert.Equal(t, OutcomeScoringFailure, res.Outcome)
	assert.Equal(t, SourceDefault, res.Corpus)
}

func TestMatch_ScoringFailureLookupErrorUsesFirstDefault(t *testing.T) {
	provider := &fakeProvider{profiles: liveCorpus, tagErr: ErrStoreUnavailable}
	m := newTestMatcher(provider, nil, defaultCorpus, WithScorer(panickingScorer))

	res, err := m.Match(context.Background(), []string{"environment"})
	require.NoError(t, err)
	assert.Equal(t, "def-1", res.Profile.ID)
}

func TestMatch_ScoringFailureEmptyResponsesSkipsLookup(t *testing.T) {
	provider := &fakeProvider{profiles: liveCorpus}
	m := newTestMatcher(provider, nil, defaultCorpus, WithScorer(panickingScorer))

	res, err := m.Match(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "def-1", res.Profile.ID)
	assert.Empty(t, provider.tagCalls)
}

func TestMatch_ScoringFailureWithoutDefaultsUsesCorpus(t *testing.T) {
	m := newTestMatcher(&fakeProvider{profiles: liveCorpus}, nil, nil, WithScorer(panickingScorer))

	res, err := m.Match(context.Background(), []string{"nothing"})
	require.NoError(t, err)
	assert.Equal(t, "edu-001", res.Profile.ID)
	assert.Equal(t, SourceLive, res.Corpus)
}

func TestScoreSafely_WrapsErrors(t *testing.T) {
	m := newTestMatcher(&fakeProvider{}, nil, nil, WithScorer(panickingScorer))
	_, err := m.scoreSafely(NewTagFrequency(nil), liveCorpus)
	assert.ErrorIs(t, err, ErrScoringFailed)

	m = newTestMatcher(&fakeProvider{}, nil, nil)
	_, err = m.scoreSafely(NewTagFrequency(nil), nil)
	assert.ErrorIs(t, err, ErrEmptyCorpus)
	assert.NotErrorIs(t, err, ErrScoringFailed)
}

func TestMatch_AnalyticsFailureIsSwallowed(t *testing.T) {
	sink := &fakeSink{err: ErrStoreUnavailable}
	m := newTestMatcher(&fakeProvider{profiles: liveCorpus}, sink, defaultCorpus)

	res, err := m.Match(context.Background(), []string{"education"})
	require.NoError(t, err)
	m.Wait()
	assert.Equal(t, "edu-001", res.Profile.ID)
}

func TestMatch_DoesNotWaitForAnalytics(t *testing.T) {
	sink := &fakeSink{block: make(chan struct{})}
	m := newTestMatcher(&fakeProvider{profiles: liveCorpus}, sink, defaultCorpus)

	done := make(chan struct{})
	go func() {
		_, _ = m.Match(context.Background(), []string{"education"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Match blocked on the analytics write")
	}
	close(sink.block)
	m.Wait()
	assert.Len(t, sink.all(), 1)
}

func TestMatch_AnalyticsOutlivesRequestContext(t *testing.T) {
	sink := &fakeSink{block: make(chan struct{})}
	m := newTestMatcher(&fakeProvider{profiles: liveCorpus}, sink, defaultCorpus)

	ctx, cancel := context.WithCancel(context.Background())
	_, err := m.Match(ctx, []string{"education"})
	require.NoError(t, err)
	cancel()

	close(sink.block)
	m.Wait()
	assert.Len(t, sink.all(), 1)
}

func TestMatch_AnalyticsTimeout(t *testing.T) {
	sink := &fakeSink{block: make(chan struct{})}
	m := newTestMatcher(&fakeProvider{profiles: liveCorpus}, sink, defaultCorpus,
		WithAnalyticsTimeout(20*time.Millisecond))

	_, err := m.Match(context.Background(), []string{"education"})
	require.NoError(t, err)
	m.Wait()
	assert.Empty(t, sink.all())
}

func TestMatch_Concurrent(t *testing.T) {
	sink := &fakeSink{}
	m := newTestMatcher(&fakeProvider{profiles: liveCorpus}, sink, defaultCorpus)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := m.Match(context.Background(), []string{"environment"})
			if err != nil || res.Profile.ID != "env-001" {
				t.Errorf("got %+v, %v", res.Profile.ID, err)
			}
		}()
	}
	wg.Wait()
	m.Wait()
	assert.Len(t, sink.all(), 50)
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "success", OutcomeSuccess.String())
	assert.Equal(t, "store_failure", OutcomeStoreFailure.String())
	assert.Equal(t, "scoring_failure", OutcomeScoringFailure.String())
}

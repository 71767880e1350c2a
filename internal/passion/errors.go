package passion

import "errors"

var (
	// ErrStoreUnavailable is returned by a CorpusProvider or AnalyticsSink
	// that cannot reach its store. The matcher recovers from it.
	ErrStoreUnavailable = errors.New("passion: store unavailable")

	// ErrMalformedProfile marks a profile whose tags are missing or are not
	// a list of strings. Such profiles are skipped during scoring.
	ErrMalformedProfile = errors.New("passion: malformed profile tags")

	// ErrEmptyCorpus means there was nothing to match against, not even the
	// bundled default corpus. It is the only error Match returns.
	ErrEmptyCorpus = errors.New("passion: empty corpus")

	// ErrScoringFailed wraps an unexpected failure inside the scorer.
	ErrScoringFailed = errors.New("passion: scoring failed")
)

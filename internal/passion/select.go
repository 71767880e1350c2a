package passion

// Outcome is the fallback tier that produced a Result.
type Outcome int

const (
	// OutcomeSuccess: the primary scorer ran over the live corpus, or over
	// the defaults because the live corpus was empty.
	OutcomeSuccess Outcome = iota
	// OutcomeStoreFailure: the live corpus could not be loaded and the
	// primary scorer ran over the defaults.
	OutcomeStoreFailure
	// OutcomeScoringFailure: the primary scorer failed and the crude
	// top-tag lookup picked the profile.
	OutcomeScoringFailure
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeStoreFailure:
		return "store_failure"
	case OutcomeScoringFailure:
		return "scoring_failure"
	}
	return "unknown"
}

func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// Source names the corpus a Result was drawn from.
type Source string

const (
	SourceLive    Source = "live"
	SourceDefault Source = "default"
)

// Result is one match.
type Result struct {
	Profile Profile  `json:"profile"`
	Score   int      `json:"score"`
	Outcome Outcome  `json:"outcome"`
	Corpus  Source   `json:"corpus"`
	Ranked  []string `json:"ranked"`
	// Skipped counts corpus entries ignored for malformed tags.
	Skipped int `json:"-"`
}

// ScoreFunc picks a profile from corpus for freq.
type ScoreFunc func(freq TagFrequency, corpus []Profile) (Result, error)

// Select scores every well-formed profile in corpus order and keeps the
// first one with the highest score: a later profile replaces the holder
// only with a strictly greater score. With no scorable profile it returns
// corpus[0]. An empty corpus is ErrEmptyCorpus.
func Select(freq TagFrequency, corpus []Profile) (Result, error) {
	if len(corpus) == 0 {
		return Result{}, ErrEmptyCorpus
	}

	res := Result{Ranked: freq.Ranked()}
	found := false
	for _, p := range corpus {
		tags, err := p.TagSet()
		if err != nil {
			res.Skipped++
			continue
		}
		score := freq.Score(tags)
		if !found || score > res.Score {
			res.Profile = p
			res.Score = score
			found = true
		}
	}

	if !found {
		res.Profile = corpus[0]
		res.Score = 0
	}
	return res, nil
}

package passion

import "sort"

// TagFrequency counts tag occurrences in one set of quiz responses. It is
// built once per request and never modified afterwards.
type TagFrequency struct {
	counts map[string]int
	order  []string // distinct tags in first-seen order
}

// NewTagFrequency counts responses. Duplicates add weight; an empty list
// gives an empty histogram.
func NewTagFrequency(responses []string) TagFrequency {
	f := TagFrequency{counts: make(map[string]int, len(responses))}
	for _, tag := range responses {
		if _, seen := f.counts[tag]; !seen {
			f.order = append(f.order, tag)
		}
		f.counts[tag]++
	}
	return f
}

// Count returns how many times tag appeared, 0 when it did not.
func (f TagFrequency) Count(tag string) int {
	return f.counts[tag]
}

// Len is the number of distinct tags.
func (f TagFrequency) Len() int {
	return len(f.order)
}

// Ranked returns the distinct tags by descending count. Equal counts keep
// first-seen order. The ranking feeds analytics and the crude fallback,
// never the primary score.
func (f TagFrequency) Ranked() []string {
	ranked := make([]string, len(f.order))
	copy(ranked, f.order)
	sort.SliceStable(ranked, func(i, j int) bool {
		return f.counts[ranked[i]] > f.counts[ranked[j]]
	})
	return ranked
}

// Top returns the most frequent tag, or false for an empty histogram.
func (f TagFrequency) Top() (string, bool) {
	ranked := f.Ranked()
	if len(ranked) == 0 {
		return "", false
	}
	return ranked[0], true
}

// Score sums the frequency of each of tags.
func (f TagFrequency) Score(tags []string) int {
	score := 0
	for _, tag := range tags {
		score += f.counts[tag]
	}
	return score
}

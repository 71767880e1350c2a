package moderation

import (
	"regexp"
	"strings"
)

var (
	// Bare domains need a trailing path so "v2.0" and "3.14" pass.
	urlPattern = regexp.MustCompile(`(?i)(https?://\S+|www\.\S+|\S+\.(com|net|org|io|co|xyz|info|biz|ru|cn|tk|ml|ga|cf)/\S*)`)

	// Anchored on whitespace so short numbers inside a sentence pass.
	phonePattern = regexp.MustCompile(`(?:^|\s)(\+?\d{1,3}[-.\s]?)?\(?\d{2,4}\)?[-.\s]?\d{3,4}[-.\s]?\d{3,4}(?:\s|$)`)
)

// checkSpam runs the spam heuristics in order; the first hit is reported.
func (f *Filter) checkSpam(text string) FilterResult {
	checks := []struct {
		name string
		hit  bool
	}{
		{"url", urlPattern.MatchString(text)},
		{"phone", phonePattern.MatchString(text)},
		{"char_flood", runLength(text) >= f.charFlood},
		{"word_flood", wordRunLength(text) >= f.wordFlood},
	}
	for _, c := range checks {
		if c.hit {
			return FilterResult{Blocked: true, Reason: ReasonSpam, Term: c.name}
		}
	}
	return FilterResult{}
}

// runLength returns the longest run of one repeated rune. RE2 has no
// backreferences, so this is a scan.
func runLength(text string) int {
	longest, run := 0, 0
	prev := rune(-1)
	for _, r := range text {
		if r == prev {
			run++
		} else {
			run, prev = 1, r
		}
		longest = max(longest, run)
	}
	return longest
}

// wordRunLength returns the longest run of one repeated word, ignoring case.
func wordRunLength(text string) int {
	longest, run := 0, 0
	prev := ""
	for _, w := range strings.Fields(text) {
		w = strings.ToLower(w)
		if w == prev {
			run++
		} else {
			run, prev = 1, w
		}
		longest = max(longest, run)
	}
	return longest
}

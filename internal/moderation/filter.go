// Package moderation screens chat messages and user-supplied labels before
// they are stored. A Filter combines a keyword/phrase blocklist (matched on
// whole tokens, with leetspeak folding) and spam heuristics.
package moderation

import (
	"strings"
	"unicode"
)

// defaultTerms is the built-in blocklist. Multi-word entries match as
// consecutive tokens.
var defaultTerms = []string{
	// harassment
	"kill yourself", "kys", "go die", "neck yourself",
	// violence
	"bomb threat", "shoot up", "school shooting",
	// hate
	"heil hitler", "white power", "gas the",
	// sexual solicitation
	"send nudes", "child porn", "cp trade",
	// scams
	"free bitcoin", "crypto giveaway", "wire me", "gift card code",
}

// Filter is safe for concurrent use once built.
type Filter struct {
	words   map[string]struct{}
	phrases [][]string

	charFlood int // consecutive identical runes that count as flooding
	wordFlood int // consecutive identical words that count as flooding
}

// NewFilter returns a Filter with the built-in blocklist.
func NewFilter() *Filter {
	return NewFilterWithTerms(defaultTerms)
}

// NewFilterWithTerms returns a Filter that blocks terms. Blank terms are
// ignored. Spam heuristics are always on.
func NewFilterWithTerms(terms []string) *Filter {
	f := &Filter{
		words:     make(map[string]struct{}),
		charFlood: 5,
		wordFlood: 3,
	}
	for _, term := range terms {
		tokens := tokenizePlain(term)
		switch len(tokens) {
		case 0:
		case 1:
			f.words[tokens[0]] = struct{}{}
		default:
			f.phrases = append(f.phrases, tokens)
		}
	}
	return f
}

// Check screens text. Blocklist hits win over spam patterns.
func (f *Filter) Check(text string) FilterResult {
	plain := tokenizePlain(text)
	if term, ok := f.matchTokens(plain); ok {
		return FilterResult{Blocked: true, Reason: ReasonKeyword, Term: term}
	}

	folded := make([]string, 0, len(plain))
	for _, tok := range tokenizeLeet(text) {
		folded = append(folded, tokenizePlain(normalizeLeet(tok))...)
	}
	if term, ok := f.matchTokens(folded); ok {
		return FilterResult{Blocked: true, Reason: ReasonKeyword, Term: term}
	}

	return f.checkSpam(text)
}

// CleanTerms returns the entries of terms that pass Check, in order.
func (f *Filter) CleanTerms(terms []string) []string {
	clean := make([]string, 0, len(terms))
	for _, t := range terms {
		if !f.Check(t).Blocked {
			clean = append(clean, t)
		}
	}
	return clean
}

func (f *Filter) matchTokens(tokens []string) (string, bool) {
	for _, tok := range tokens {
		if _, ok := f.words[tok]; ok {
			return tok, true
		}
	}
	for _, phrase := range f.phrases {
		if containsSequence(tokens, phrase) {
			return strings.Join(phrase, " "), true
		}
	}
	return "", false
}

func containsSequence(tokens, seq []string) bool {
	if len(seq) == 0 || len(tokens) < len(seq) {
		return false
	}
outer:
	for i := 0; i+len(seq) <= len(tokens); i++ {
		for j, s := range seq {
			if tokens[i+j] != s {
				continue outer
			}
		}
		return true
	}
	return false
}

// tokenizePlain lowercases text and splits it on anything that is not a
// letter or digit.
func tokenizePlain(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// tokenizeLeet splits on whitespace only so symbols used as letters stay
// inside their word.
func tokenizeLeet(text string) []string {
	return strings.Fields(strings.ToLower(text))
}

var leetReplacer = strings.NewReplacer(
	"0", "o",
	"1", "i",
	"3", "e",
	"4", "a",
	"5", "s",
	"7", "t",
	"@", "a",
	"$", "s",
	"!", "i",
)

func normalizeLeet(s string) string {
	return leetReplacer.Replace(strings.ToLower(s))
}

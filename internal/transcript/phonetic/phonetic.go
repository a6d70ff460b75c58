// Package phonetic finds the vocabulary term that a recognized phrase most
// likely stands for.
//
// Candidates are found in two passes. A term whose Double Metaphone codes
// share a code with the phrase is a phonetic candidate and is accepted when
// its Jaro-Winkler similarity reaches the phonetic threshold. Only when no
// phonetic candidate qualifies does a pure Jaro-Winkler comparison against a
// stricter fuzzy threshold run.
package phonetic

import (
	"strings"

	"github.com/antzucaro/matchr"
)

// Default similarity thresholds.
const (
	DefaultPhoneticThreshold = 0.70
	DefaultFuzzyThreshold    = 0.85
)

// Option configures a [Matcher].
type Option func(*Matcher)

// WithPhoneticThreshold sets the minimum similarity for phonetic candidates.
func WithPhoneticThreshold(v float64) Option {
	return func(m *Matcher) { m.phonetic = v }
}

// WithFuzzyThreshold sets the minimum similarity for the fuzzy fallback.
func WithFuzzyThreshold(v float64) Option {
	return func(m *Matcher) { m.fuzzy = v }
}

// Match is the result of [Matcher.Closest].
type Match struct {
	Term     string  // vocabulary spelling
	Score    float64 // Jaro-Winkler similarity in [0,1]
	Phonetic bool    // found through a shared Metaphone code
}

type term struct {
	spelling string
	lower    string
	tokens   []string
	codes    map[string]struct{}
}

// Matcher is read-only after construction and safe for concurrent use.
type Matcher struct {
	terms    []term
	maxWords int
	phonetic float64
	fuzzy    float64
}

// New encodes vocab once. Blank terms are ignored.
func New(vocab []string, opts ...Option) *Matcher {
	m := &Matcher{
		phonetic: DefaultPhoneticThreshold,
		fuzzy:    DefaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	for _, v := range vocab {
		lower := strings.ToLower(strings.TrimSpace(v))
		if lower == "" {
			continue
		}
		tokens := strings.Fields(lower)
		m.terms = append(m.terms, term{
			spelling: strings.TrimSpace(v),
			lower:    lower,
			tokens:   tokens,
			codes:    encode(tokens),
		})
		m.maxWords = max(m.maxWords, len(tokens))
	}
	return m
}

// MaxWords is the word count of the longest vocabulary term. Phrases longer
// than MaxWords+1 never match.
func (m *Matcher) MaxWords() int { return m.maxWords }

// Len is the number of vocabulary terms.
func (m *Matcher) Len() int { return len(m.terms) }

// Closest returns the best vocabulary match for phrase, which may span
// several words. A phrase may have at most one word more than the term it
// matches.
func (m *Matcher) Closest(phrase string) (Match, bool) {
	lower := strings.ToLower(strings.TrimSpace(phrase))
	if lower == "" || len(m.terms) == 0 {
		return Match{}, false
	}
	tokens := strings.Fields(lower)
	codes := encode(tokens)

	var best Match
	for _, t := range m.terms {
		if len(tokens) > len(t.tokens)+1 {
			continue
		}
		score := similarity(tokens, t.tokens, lower, t.lower)
		if overlaps(codes, t.codes) {
			if score >= m.phonetic && (!best.Phonetic || score > best.Score) {
				best = Match{Term: t.spelling, Score: score, Phonetic: true}
			}
			continue
		}
		if !best.Phonetic && score >= m.fuzzy && score > best.Score {
			best = Match{Term: t.spelling, Score: score}
		}
	}
	return best, best.Term != ""
}

func encode(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, 2*len(tokens))
	for _, tok := range tokens {
		primary, secondary := matchr.DoubleMetaphone(tok)
		for _, c := range [...]string{primary, secondary} {
			if c != "" {
				codes[c] = struct{}{}
			}
		}
	}
	return codes
}

func overlaps(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for c := range a {
		if _, ok := b[c]; ok {
			return true
		}
	}
	return false
}

// similarity compares the whole phrases and, for multi-word input, the
// phrases with spaces removed ("elder nacks" vs "eldrinax"). Single tokens
// are never scored alone, so "whispers" does not stand for "Tower of
// Whispers".
func similarity(a, b []string, aFull, bFull string) float64 {
	best := matchr.JaroWinkler(aFull, bFull, false)
	if len(a) > 1 || len(b) > 1 {
		best = max(best, matchr.JaroWinkler(strings.Join(a, ""), strings.Join(b, ""), false))
	}
	return best
}

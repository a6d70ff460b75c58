// Package transcript fixes recognizer output before it is submitted.
//
// Recognizers routinely mishear proper nouns ("elder nacks" for "Eldrinax").
// [KeywordCorrector] scores every n-gram window of a transcript against the
// configured keywords and replaces the best non-overlapping windows with the
// keyword's spelling.
package transcript

import (
	"cmp"
	"log/slog"
	"slices"
	"strings"
	"unicode"

	"github.com/MrWong99/earshot/internal/transcript/phonetic"
)

// minPhraseRunes skips windows too short to carry a name ("a", "at").
const minPhraseRunes = 3

// Correction is one substitution made by [KeywordCorrector.Apply].
type Correction struct {
	Original  string
	Corrected string
	Score     float64
}

// KeywordCorrector is safe for concurrent use.
type KeywordCorrector struct {
	m *phonetic.Matcher
}

// NewKeywordCorrector returns a corrector for keywords. opts tune the
// phonetic matcher.
func NewKeywordCorrector(keywords []string, opts ...phonetic.Option) *KeywordCorrector {
	return &KeywordCorrector{m: phonetic.New(keywords, opts...)}
}

// Correct returns text with keyword corrections applied.
func (k *KeywordCorrector) Correct(text string) string {
	out, corrections := k.Apply(text)
	for _, c := range corrections {
		slog.Debug("transcript: keyword corrected",
			"original", c.Original,
			"corrected", c.Corrected,
			"score", c.Score,
		)
	}
	return out
}

type window struct {
	start, n int
	original string
	trail    string
	match    phonetic.Match
}

// Apply corrects text and reports every substitution. Text without any
// match is returned unchanged; otherwise whitespace is normalised to single
// spaces. Punctuation trailing a replaced window is kept.
func (k *KeywordCorrector) Apply(text string) (string, []Correction) {
	tokens := strings.Fields(text)
	if len(tokens) == 0 || k.m.Len() == 0 {
		return text, nil
	}

	var candidates []window
	for i := range tokens {
		for n := 1; n <= min(k.m.MaxWords()+1, len(tokens)-i); n++ {
			words, trail := splitEdges(tokens[i : i+n])
			phrase := strings.Join(words, " ")
			if len([]rune(phrase)) < minPhraseRunes {
				continue
			}
			if m, ok := k.m.Closest(phrase); ok {
				candidates = append(candidates, window{start: i, n: n, original: phrase, trail: trail, match: m})
			}
		}
	}
	if len(candidates) == 0 {
		return text, nil
	}

	// Best score first; longer and earlier windows win ties.
	slices.SortFunc(candidates, func(a, b window) int {
		if c := cmp.Compare(b.match.Score, a.match.Score); c != 0 {
			return c
		}
		if c := cmp.Compare(b.n, a.n); c != 0 {
			return c
		}
		return cmp.Compare(a.start, b.start)
	})
	taken := make([]bool, len(tokens))
	chosen := make(map[int]window)
	for _, w := range candidates {
		if slices.Contains(taken[w.start:w.start+w.n], true) {
			continue
		}
		for j := w.start; j < w.start+w.n; j++ {
			taken[j] = true
		}
		chosen[w.start] = w
	}

	out := make([]string, 0, len(tokens))
	var corrections []Correction
	for i := 0; i < len(tokens); {
		w, ok := chosen[i]
		if !ok {
			out = append(out, tokens[i])
			i++
			continue
		}
		if w.original != w.match.Term {
			corrections = append(corrections, Correction{
				Original:  w.original,
				Corrected: w.match.Term,
				Score:     w.match.Score,
			})
		}
		out = append(out, w.match.Term+w.trail)
		i += w.n
	}
	return strings.Join(out, " "), corrections
}

// splitEdges strips punctuation around each word and returns the
// punctuation that followed the last one.
func splitEdges(window []string) ([]string, string) {
	words := make([]string, len(window))
	var trail string
	for i, w := range window {
		trimmed := strings.TrimRightFunc(w, unicode.IsPunct)
		if i == len(window)-1 {
			trail = w[len(trimmed):]
		}
		words[i] = strings.TrimLeftFunc(trimmed, unicode.IsPunct)
	}
	return words, trail
}

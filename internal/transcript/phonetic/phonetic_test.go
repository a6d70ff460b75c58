package phonetic_test

import (
	"testing"

	"github.com/MrWong99/earshot/internal/transcript/phonetic"
)

var vocab = []string{"Eldrinax", "Grimjaw", "Tower of Whispers"}

func TestClosest(t *testing.T) {
	t.Parallel()

	m := phonetic.New(vocab)

	tests := []struct {
		phrase   string
		want     string
		minScore float64
	}{
		{phrase: "elder nacks", want: "Eldrinax", minScore: 0.7},
		{phrase: "tower of wispers", want: "Tower of Whispers", minScore: 0.7},
		{phrase: "ELDRINAX", want: "Eldrinax", minScore: 0.9},
		{phrase: "grimjaw", want: "Grimjaw", minScore: 0.9},
	}
	for _, tc := range tests {
		t.Run(tc.phrase, func(t *testing.T) {
			t.Parallel()
			got, ok := m.Closest(tc.phrase)
			if !ok {
				t.Fatalf("Closest(%q): no match", tc.phrase)
			}
			if got.Term != tc.want {
				t.Errorf("Closest(%q) = %q, want %q", tc.phrase, got.Term, tc.want)
			}
			if got.Score < tc.minScore {
				t.Errorf("Closest(%q) score = %f, want >= %f", tc.phrase, got.Score, tc.minScore)
			}
		})
	}
}

func TestClosest_NoMatch(t *testing.T) {
	t.Parallel()

	m := phonetic.New(vocab)
	for _, phrase := range []string{"hello", "", "   "} {
		if got, ok := m.Closest(phrase); ok {
			t.Errorf("Closest(%q) = %+v, want no match", phrase, got)
		}
	}
}

func TestClosest_Thresholds(t *testing.T) {
	t.Parallel()

	m := phonetic.New([]string{"Eldrinax"},
		phonetic.WithPhoneticThreshold(0.99),
		phonetic.WithFuzzyThreshold(0.99),
	)
	if _, ok := m.Closest("elder nacks"); ok {
		t.Error("near match accepted above a 0.99 threshold")
	}
}

func TestNew_Vocabulary(t *testing.T) {
	t.Parallel()

	m := phonetic.New([]string{"Eldrinax", "  ", "Tower of Whispers"})
	if m.Len() != 2 {
		t.Errorf("Len = %d, want 2", m.Len())
	}
	if m.MaxWords() != 3 {
		t.Errorf("MaxWords = %d, want 3", m.MaxWords())
	}
	if _, ok := phonetic.New(nil).Closest("eldrinax"); ok {
		t.Error("empty vocabulary should never match")
	}
}

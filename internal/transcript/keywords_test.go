package transcript_test

import (
	"testing"

	"github.com/MrWong99/earshot/internal/transcript"
)

var keywords = []string{"Eldrinax", "Grimjaw", "Tower of Whispers"}

func TestApply(t *testing.T) {
	t.Parallel()

	k := transcript.NewKeywordCorrector(keywords)

	tests := []struct {
		name string
		in   string
		want string
		n    int
	}{
		{
			name: "misheard single keyword",
			in:   "ask elder nacks about it",
			want: "ask Eldrinax about it",
			n:    1,
		},
		{
			name: "multi-word keyword keeps punctuation",
			in:   "I met elder nacks at the tower of wispers.",
			want: "I met Eldrinax at the Tower of Whispers.",
			n:    2,
		},
		{
			name: "case only",
			in:   "GRIMJAW, come here",
			want: "Grimjaw, come here",
			n:    1,
		},
		{
			name: "already correct",
			in:   "Grimjaw waits",
			want: "Grimjaw waits",
			n:    0,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, corrections := k.Apply(tc.in)
			if got != tc.want {
				t.Errorf("Apply(%q) = %q, want %q", tc.in, got, tc.want)
			}
			if len(corrections) != tc.n {
				t.Errorf("corrections = %+v, want %d", corrections, tc.n)
			}
		})
	}
}

func TestApply_NoMatchLeavesTextAlone(t *testing.T) {
	t.Parallel()

	k := transcript.NewKeywordCorrector(keywords)
	in := "open  the gate\tplease"
	got, corrections := k.Apply(in)
	if got != in || corrections != nil {
		t.Errorf("Apply(%q) = %q, %v; want unchanged", in, got, corrections)
	}
}

func TestApply_EmptyVocabulary(t *testing.T) {
	t.Parallel()

	k := transcript.NewKeywordCorrector(nil)
	if got := k.Correct("elder nacks"); got != "elder nacks" {
		t.Errorf("Correct = %q, want input unchanged", got)
	}
}

func TestApply_CorrectionDetails(t *testing.T) {
	t.Parallel()

	k := transcript.NewKeywordCorrector(keywords)
	_, corrections := k.Apply("where is elder nacks")
	if len(corrections) != 1 {
		t.Fatalf("corrections = %+v, want 1", corrections)
	}
	c := corrections[0]
	if c.Original != "elder nacks" || c.Corrected != "Eldrinax" {
		t.Errorf("correction = %+v", c)
	}
	if c.Score < 0.7 || c.Score > 1 {
		t.Errorf("score = %f, want in [0.7, 1]", c.Score)
	}
}

package flywheel

import (
	"math"
	"testing"
)

func TestEditDistance(t *testing.T) {
	cases := []struct {
		name         string
		draft, final string
		want         float64
	}{
		{"identical", "hello world", "hello world", 0},
		{"both empty", "", "", 0},
		{"total rewrite from empty", "", "new content", 1},
		{"deleted everything", "old content", "", 1},
		{"single char of four", "abcd", "abcx", 0.25},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := EditDistance(tc.draft, tc.final)
			if math.Abs(got-tc.want) > 1e-9 {
				t.Fatalf("EditDistance=%v, want %v", got, tc.want)
			}
		})
	}
}

func TestEditDistanceBounded(t *testing.T) {
	got := EditDistance("completely different text here", "zzz")
	if got < 0 || got > 1 {
		t.Fatalf("EditDistance=%v outside [0, 1]", got)
	}
}

func TestEditDistanceUnicode(t *testing.T) {
	// Rune-based: one substituted rune out of three.
	got := EditDistance("日本語", "日本文")
	want := 1.0 / 3.0
	if math.Abs(got-want) > 1e-9 {
		t.Fatalf("EditDistance=%v, want %v", got, want)
	}
}

package service

import (
	"math"
	"testing"
)

func TestLevenshteinDistance(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want int
	}{
		{"identical", "hello", "hello", 0},
		{"both empty", "", "", 0},
		{"one empty", "", "abc", 3},
		{"classic", "kitten", "sitting", 3},
		{"single substitution", "cat", "car", 1},
		{"insertion", "cat", "cats", 1},
		{"unicode", "café", "cafe", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := levenshteinDistance(tt.a, tt.b); got != tt.want {
				t.Errorf("levenshteinDistance(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
			}
			// Distance is symmetric.
			if got := levenshteinDistance(tt.b, tt.a); got != tt.want {
				t.Errorf("levenshteinDistance(%q, %q) = %d, want %d", tt.b, tt.a, got, tt.want)
			}
		})
	}
}

func TestEditSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want float64
	}{
		{"identical", "machine learning", "machine learning", 1.0},
		{"both empty", "", "", 1.0},
		{"one empty", "something", "", 0.0},
		{"case insensitive", "Deep Work", "deep work", 1.0},
		{"kitten sitting", "kitten", "sitting", (7.0 - 3.0) / 7.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := editSimilarity(tt.a, tt.b)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("editSimilarity(%q, %q) = %f, want %f", tt.a, tt.b, got, tt.want)
			}
			sym := editSimilarity(tt.b, tt.a)
			if math.Abs(got-sym) > 1e-9 {
				t.Errorf("editSimilarity not symmetric: %f vs %f", got, sym)
			}
		})
	}
}

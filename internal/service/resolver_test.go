package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/timmy/recap/internal/config"
)

// fakeIndex serves canned results and records every query it sees.
type fakeIndex struct {
	mu      sync.Mutex
	queries []string
	results [][]IndexEntry // consumed in order, one slice per query
	errOn   map[string]error
}

func (f *fakeIndex) Search(ctx context.Context, query string, limit int) ([]IndexEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, query)
	if err, ok := f.errOn[query]; ok {
		return nil, err
	}
	if len(f.results) == 0 {
		return nil, nil
	}
	entries := f.results[0]
	f.results = f.results[1:]
	return entries, nil
}

func (f *fakeIndex) queryCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queries)
}

func testResolverConfig() config.ResolverConfig {
	return config.ResolverConfig{
		TitleWeight:             0.6,
		ChannelWeight:           0.2,
		HighConfidenceThreshold: 0.6,
		MinAcceptThreshold:      0.45,
		MinTitleLength:          4,
		JunkTitles:              []string{"the only way"},
		AnchorBonuses:           map[string]float64{"founders podcast": 0.3},
		FallbackQueries:         []string{"deep dive interview"},
	}
}

func TestResolveStopsOnHighConfidence(t *testing.T) {
	index := &fakeIndex{
		results: [][]IndexEntry{
			{
				{ExternalID: "vid-1", Title: "Quantum Computing Explained", Channel: "Science Hub", URL: "https://example.com/vid-1"},
				{ExternalID: "vid-2", Title: "Gardening Basics", Channel: "Green Thumb"},
			},
		},
	}
	r := NewResolver(index, testResolverConfig())

	match := r.Resolve(context.Background(), "Quantum Computing Explained", "Science Hub")
	if match == nil {
		t.Fatal("expected a match")
	}
	if match.ExternalID != "vid-1" {
		t.Errorf("matched %q, want vid-1", match.ExternalID)
	}
	if match.Score < 0.6 {
		t.Errorf("score = %f, want >= 0.6", match.Score)
	}
	// An exact match on the first variant must stop the ladder.
	if got := index.queryCount(); got != 1 {
		t.Errorf("resolver issued %d queries, want 1", got)
	}
}

func TestResolveRejectsWeakCandidates(t *testing.T) {
	index := &fakeIndex{
		results: [][]IndexEntry{
			{{ExternalID: "vid-9", Title: "Gardening Tips for Beginners", Channel: "Green Thumb"}},
		},
	}
	r := NewResolver(index, testResolverConfig())

	if match := r.Resolve(context.Background(), "Quantum Computing Explained", ""); match != nil {
		t.Errorf("expected no match, got %q with score %f", match.Title, match.Score)
	}
}

func TestResolveJunkTitleUsesFallbackQueries(t *testing.T) {
	index := &fakeIndex{
		results: [][]IndexEntry{
			{{ExternalID: "vid-3", Title: "Deep Dive Interview", Channel: "Founders Podcast", URL: "https://example.com/vid-3"}},
		},
	}
	r := NewResolver(index, testResolverConfig())

	match := r.Resolve(context.Background(), "The Only Way", "Founders Podcast")
	if match == nil {
		t.Fatal("expected anchor bonus to carry the fallback match")
	}
	if match.ExternalID != "vid-3" {
		t.Errorf("matched %q, want vid-3", match.ExternalID)
	}

	index.mu.Lock()
	first := index.queries[0]
	index.mu.Unlock()
	if !strings.Contains(first, "deep dive interview") {
		t.Errorf("first query %q should come from the fallback ladder", first)
	}
}

func TestResolveSkipsFailedQueries(t *testing.T) {
	cfg := testResolverConfig()
	index := &fakeIndex{
		errOn: map[string]error{
			`"Quantum Computing Explained" Science Hub`: errors.New("index unavailable"),
		},
		results: [][]IndexEntry{
			{{ExternalID: "vid-1", Title: "Quantum Computing Explained", Channel: "Science Hub"}},
		},
	}
	r := NewResolver(index, cfg)

	match := r.Resolve(context.Background(), "Quantum Computing Explained", "Science Hub")
	if match == nil {
		t.Fatal("a single failed query should not abort the ladder")
	}
	if got := index.queryCount(); got != 2 {
		t.Errorf("resolver issued %d queries, want 2", got)
	}
}

func TestNormalizeText(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Hello, World!", "hello world"},
		{"  spaced   out  ", "spaced out"},
		{"MiXeD CaSe", "mixed case"},
		{"emoji 🚀 title", "emoji title"},
	}
	for _, tt := range tests {
		if got := normalizeText(tt.in); got != tt.want {
			t.Errorf("normalizeText(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

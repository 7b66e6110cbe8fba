package index

import (
	"testing"

	"github.com/mohammad-safakhou/reporter/internal/report"
)

func TestRankPrefersMatchingSnippets(t *testing.T) {
	results := []report.SearchResult{
		{Title: "Cooking pasta", Snippet: "How to boil pasta al dente"},
		{Title: "Solar panel efficiency", Snippet: "Photovoltaic cells convert sunlight into electricity"},
		{Title: "Gardening tips", Snippet: "Tomatoes need full sun"},
		{Title: "Grid storage", Snippet: "Solar energy storage with lithium batteries"},
	}

	ranked, err := NewSnippetRanker().Rank("solar energy electricity", results, 2)
	if err != nil {
		t.Fatalf("rank: %v", err)
	}
	if len(ranked) != 2 {
		t.Fatalf("expected 2 results, got %d", len(ranked))
	}
	for _, r := range ranked {
		if r.Title != "Solar panel efficiency" && r.Title != "Grid storage" {
			t.Fatalf("unexpected result in top 2: %q", r.Title)
		}
	}
}

func TestRankFewerResultsThanK(t *testing.T) {
	results := []report.SearchResult{
		{Title: "Only one", Snippet: "single result"},
	}
	ranked, err := NewSnippetRanker().Rank("anything", results, 5)
	if err != nil {
		t.Fatalf("rank: %v", err)
	}
	if len(ranked) != 1 || ranked[0].Title != "Only one" {
		t.Fatalf("expected passthrough of the single result, got %+v", ranked)
	}
}

func TestRankEmptyInput(t *testing.T) {
	ranked, err := NewSnippetRanker().Rank("query", nil, 3)
	if err != nil {
		t.Fatalf("rank: %v", err)
	}
	if len(ranked) != 0 {
		t.Fatalf("expected no results, got %d", len(ranked))
	}
}

func TestRankBackfillsUnmatched(t *testing.T) {
	results := []report.SearchResult{
		{Title: "alpha", Snippet: "completely unrelated text"},
		{Title: "beta", Snippet: "quantum computing with superconducting qubits"},
		{Title: "gamma", Snippet: "more unrelated filler"},
	}
	ranked, err := NewSnippetRanker().Rank("quantum qubits", results, 2)
	if err != nil {
		t.Fatalf("rank: %v", err)
	}
	if len(ranked) != 2 {
		t.Fatalf("expected 2 results, got %d", len(ranked))
	}
	if ranked[0].Title != "beta" {
		t.Fatalf("expected matching snippet first, got %q", ranked[0].Title)
	}
}

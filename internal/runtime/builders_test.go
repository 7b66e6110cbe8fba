package runtime

import (
	"context"
	"testing"

	"github.com/mohammad-safakhou/reporter/internal/report"
	fetchmodels "github.com/mohammad-safakhou/reporter/tools/web_fetch/models"
	searchmodels "github.com/mohammad-safakhou/reporter/tools/web_search/models"
)

type fakeSearcher struct{ hits []searchmodels.Result }

func (f fakeSearcher) Discover(context.Context, string, int) ([]searchmodels.Result, error) {
	return f.hits, nil
}

type fakeFetcher struct{ calls int }

func (f *fakeFetcher) Exec(_ context.Context, url string) (fetchmodels.Result, error) {
	f.calls++
	return fetchmodels.Result{URL: url, Text: "full page text", Status: 200}, nil
}

func TestSearchAdapterFetchesContentWhenConfigured(t *testing.T) {
	hits := []searchmodels.Result{
		{Title: "Bare", URL: "https://bare.example", Snippet: "s"},
		{Title: "Rich", URL: "https://rich.example", Snippet: "s", Content: "already there"},
	}
	fetcher := &fakeFetcher{}
	adapter := &searchAdapter{searcher: fakeSearcher{hits: hits}, fetcher: fetcher, maxResults: 8}

	out, err := adapter.Search(context.Background(), "query", report.SearchOptions{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 results, got %d", len(out))
	}
	if out[0].Content != "full page text" {
		t.Fatalf("content not enriched: %+v", out[0])
	}
	// Results that already carry content are not re-fetched.
	if out[1].Content != "already there" {
		t.Fatalf("existing content overwritten: %+v", out[1])
	}
	if fetcher.calls != 1 {
		t.Fatalf("fetcher called %d times, want 1", fetcher.calls)
	}
}

func TestSearchAdapterSkipsFetchWithoutFetcher(t *testing.T) {
	hits := []searchmodels.Result{{Title: "Bare", URL: "https://bare.example", Snippet: "s"}}
	adapter := &searchAdapter{searcher: fakeSearcher{hits: hits}, maxResults: 8}

	out, err := adapter.Search(context.Background(), "query", report.SearchOptions{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if out[0].Content != "" {
		t.Fatalf("unexpected content without a configured fetcher: %+v", out[0])
	}
}

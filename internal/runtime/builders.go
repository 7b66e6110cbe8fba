package runtime

import (
	"context"
	"fmt"
	"time"

	"github.com/mohammad-safakhou/reporter/config"
	"github.com/mohammad-safakhou/reporter/internal/report"
	openai_provider "github.com/mohammad-safakhou/reporter/provider/openai"
	"github.com/mohammad-safakhou/reporter/tools/web_fetch"
	"github.com/mohammad-safakhou/reporter/tools/web_search"
)

// BuildModelProvider wires the configured LLM backend into the engine's
// completion interface.
func BuildModelProvider(cfg *config.Config) (report.ModelProvider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}
	if cfg.LLM.APIKey == "" {
		return nil, fmt.Errorf("llm.api_key is required")
	}
	client := openai_provider.New(cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.BaseURL, cfg.LLM.Timeout)
	return &modelAdapter{client: client}, nil
}

type modelAdapter struct {
	client *openai_provider.Client
}

func (m *modelAdapter) Send(ctx context.Context, prompt string, opts report.ModelOptions) (report.Completion, error) {
	out, err := m.client.Send(ctx, prompt, openai_provider.Options{
		Temperature:      opts.Temperature,
		TopP:             opts.TopP,
		MaxTokens:        opts.MaxTokens,
		IncludeCitations: opts.IncludeCitations,
	})
	if err != nil {
		return report.Completion{}, err
	}
	return report.Completion{Content: out.Content, TokensUsed: out.TokensUsed}, nil
}

// BuildSearcher wires the configured search provider, optionally enriched
// with full-page content through a headless fetcher.
func BuildSearcher(cfg *config.Config) (report.Searcher, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}
	sc := cfg.Search

	apiKey := ""
	switch web_search.Provider(sc.Provider) {
	case web_search.SerperProvider:
		apiKey = sc.SerperAPIKey
	case web_search.BraveProvider:
		apiKey = sc.BraveAPIKey
	}
	ws, err := web_search.NewWebSearcher(web_search.Provider(sc.Provider), apiKey)
	if err != nil {
		return nil, fmt.Errorf("building web searcher: %w", err)
	}

	var wf web_fetch.WebFetcher
	if sc.FetchContent {
		wf, err = web_fetch.NewWebFetcher(web_fetch.ChromedpFetcherType,
			time.Duration(sc.FetchTimeoutMS)*time.Millisecond, sc.FetchMaxChars)
		if err != nil {
			return nil, fmt.Errorf("building web fetcher: %w", err)
		}
	}
	return &searchAdapter{searcher: ws, fetcher: wf, maxResults: sc.MaxResults}, nil
}

type searchAdapter struct {
	searcher   web_search.WebSearcher
	fetcher    web_fetch.WebFetcher
	maxResults int
}

func (s *searchAdapter) Search(ctx context.Context, query string, opts report.SearchOptions) ([]report.SearchResult, error) {
	k := opts.MaxResults
	if k <= 0 {
		k = s.maxResults
	}
	hits, err := s.searcher.Discover(ctx, query, k)
	if err != nil {
		return nil, err
	}
	out := make([]report.SearchResult, 0, len(hits))
	for _, h := range hits {
		sr := report.SearchResult{Title: h.Title, URL: h.URL, Snippet: h.Snippet, Content: h.Content}
		// The fetcher is only constructed when content enrichment is
		// configured, so its presence is the gate.
		if sr.Content == "" && s.fetcher != nil {
			if page, err := s.fetcher.Exec(ctx, h.URL); err == nil && page.Text != "" {
				sr.Content = page.Text
			}
		}
		out = append(out, sr)
	}
	return out, nil
}

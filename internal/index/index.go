// Package index ranks gathered search snippets against a section query
// using an in-memory BM25 index.
package index

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/blevesearch/bleve"
	"github.com/mohammad-safakhou/reporter/internal/report"
)

// SnippetRanker scores search results against the query that produced them
// and keeps the strongest k. Results bleve cannot match keep their original
// order and fill remaining slots, so a weak query never empties the material.
type SnippetRanker struct{}

func NewSnippetRanker() *SnippetRanker { return &SnippetRanker{} }

type snippetDoc struct {
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
	Content string `json:"content"`
}

func (r *SnippetRanker) Rank(query string, results []report.SearchResult, k int) ([]report.SearchResult, error) {
	if k <= 0 || len(results) == 0 {
		return nil, nil
	}
	if strings.TrimSpace(query) == "" || len(results) <= k {
		if len(results) <= k {
			return results, nil
		}
		return results[:k], nil
	}

	idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("creating snippet index: %w", err)
	}
	defer idx.Close()

	batch := idx.NewBatch()
	for i, res := range results {
		doc := snippetDoc{Title: res.Title, Snippet: res.Snippet, Content: res.Content}
		if err := batch.Index(strconv.Itoa(i), doc); err != nil {
			return nil, fmt.Errorf("indexing snippet %d: %w", i, err)
		}
	}
	if err := idx.Batch(batch); err != nil {
		return nil, fmt.Errorf("committing snippet batch: %w", err)
	}

	q := bleve.NewMatchQuery(query)
	req := bleve.NewSearchRequestOptions(q, len(results), 0, false)
	res, err := idx.Search(req)
	if err != nil {
		return nil, fmt.Errorf("searching snippets: %w", err)
	}

	picked := make([]report.SearchResult, 0, k)
	seen := make(map[int]bool, len(results))
	for _, hit := range res.Hits {
		i, err := strconv.Atoi(hit.ID)
		if err != nil || i < 0 || i >= len(results) {
			continue
		}
		picked = append(picked, results[i])
		seen[i] = true
		if len(picked) >= k {
			return picked, nil
		}
	}
	// Backfill unmatched results in their original order.
	for i, sr := range results {
		if seen[i] {
			continue
		}
		picked = append(picked, sr)
		if len(picked) >= k {
			break
		}
	}
	return picked, nil
}

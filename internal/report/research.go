package report

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"
)

const defaultMaxSearchQueries = 3

// queryLine matches a numbered or bulleted list entry; anything else in
// the model's query response is discarded.
var queryLine = regexp.MustCompile(`^\s*(?:\d+[.)]|[-*•])\s+(.+)$`)

// ParseQueryList extracts search queries from a numbered or bulleted LLM
// response. Lines without a leading ordinal or bullet marker are dropped;
// duplicates are collapsed; the result is truncated to max. A response
// with no usable lines yields zero queries, never an error.
func ParseQueryList(response string, max int) []string {
	if max <= 0 {
		max = defaultMaxSearchQueries
	}
	var queries []string
	seen := make(map[string]struct{})
	for _, line := range strings.Split(response, "\n") {
		m := queryLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		q := strings.TrimSpace(strings.Trim(strings.TrimSpace(m[1]), `"`))
		if q == "" {
			continue
		}
		key := strings.ToLower(q)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		queries = append(queries, q)
		if len(queries) == max {
			break
		}
	}
	return queries
}

// research generates search queries for the task's section and executes
// them in order. A failed model call during query generation fails the
// section; per-query search failures and empty result lists are logged
// and skipped.
func (e *Engine) research(ctx context.Context, topic string, task *SectionTask) error {
	max := task.MaxSearchQueries
	if max <= 0 {
		max = defaultMaxSearchQueries
	}

	prompt := fmt.Sprintf(`Generate up to %d distinct web search queries for researching the
section %q of a report on %q.

SECTION DESCRIPTION: %s

Respond with a numbered list of plain query strings, one per line, and
nothing else.`, max, task.Name, topic, task.Description)

	completion, err := e.model.Send(ctx, prompt, ModelOptions{
		Temperature: queryGenTemperature,
		MaxTokens:   queryGenMaxTokens,
	})
	task.TokensUsed += completion.TokensUsed
	if err != nil {
		return fmt.Errorf("query generation: %w", err)
	}

	queries := ParseQueryList(completion.Content, max)
	if len(queries) == 0 {
		e.logger.Printf("no usable queries parsed for section %q", task.Name)
		return nil
	}

	for _, q := range queries {
		results, err := e.search.Search(ctx, q, SearchOptions{})
		if err != nil {
			e.logger.Printf("search %q failed, skipping: %v", q, err)
			continue
		}
		if len(results) == 0 {
			e.logger.Printf("search %q returned no results", q)
			continue
		}
		task.SearchResults = append(task.SearchResults, SearchResultSet{
			Query:     q,
			Results:   results,
			Timestamp: time.Now(),
		})
		if e.telemetry != nil {
			e.telemetry.RecordSearch(len(results))
		}
	}
	return nil
}

package report

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
)

type stubSearcher struct {
	fn func(query string) ([]SearchResult, error)
}

func (s stubSearcher) Search(_ context.Context, query string, _ SearchOptions) ([]SearchResult, error) {
	return s.fn(query)
}

func TestParseQueryList(t *testing.T) {
	cases := []struct {
		name     string
		response string
		max      int
		want     []string
	}{
		{
			name:     "numbered",
			response: "1. solar capacity 2025\n2. grid storage costs\n3) battery recycling",
			max:      5,
			want:     []string{"solar capacity 2025", "grid storage costs", "battery recycling"},
		},
		{
			name:     "bulleted with quotes",
			response: "- \"offshore wind permits\"\n* turbine supply chain",
			max:      5,
			want:     []string{"offshore wind permits", "turbine supply chain"},
		},
		{
			name:     "dedupe case insensitive",
			response: "1. Solar Capacity\n2. solar capacity\n3. storage",
			max:      5,
			want:     []string{"Solar Capacity", "storage"},
		},
		{
			name:     "truncated to max",
			response: "1. a\n2. b\n3. c\n4. d",
			max:      2,
			want:     []string{"a", "b"},
		},
		{
			name:     "prose discarded",
			response: "Here are some queries you could use:\n\nGood luck!",
			max:      3,
			want:     nil,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ParseQueryList(tc.response, tc.max)
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("ParseQueryList = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestResearchQueryGenerationFailure(t *testing.T) {
	model := &stubModel{}
	model.send = func(prompt string) (Completion, error) {
		return Completion{TokensUsed: 2}, errors.New("rate limited")
	}
	engine := NewEngine(model, NoopSearcher{})

	task := &SectionTask{SectionID: "s1", Name: "Market", Description: "market size"}
	err := engine.research(context.Background(), "energy", task)
	if err == nil || !strings.Contains(err.Error(), "query generation") {
		t.Fatalf("expected query generation error, got %v", err)
	}
	if task.TokensUsed != 2 {
		t.Fatalf("partial token usage not recorded: %d", task.TokensUsed)
	}
}

func TestResearchSkipsFailedAndEmptyQueries(t *testing.T) {
	model := &stubModel{}
	model.send = func(prompt string) (Completion, error) {
		return Completion{Content: "1. broken query\n2. dry query\n3. good query", TokensUsed: 1}, nil
	}
	search := stubSearcher{fn: func(query string) ([]SearchResult, error) {
		switch query {
		case "broken query":
			return nil, errors.New("upstream 500")
		case "dry query":
			return nil, nil
		default:
			return []SearchResult{{Title: "Hit", URL: "https://hit.example", Snippet: "s"}}, nil
		}
	}}
	engine := NewEngine(model, search)

	task := &SectionTask{SectionID: "s1", Name: "Market", MaxSearchQueries: 3}
	if err := engine.research(context.Background(), "energy", task); err != nil {
		t.Fatalf("research: %v", err)
	}
	if len(task.SearchResults) != 1 {
		t.Fatalf("expected 1 result set, got %d", len(task.SearchResults))
	}
	if task.SearchResults[0].Query != "good query" {
		t.Fatalf("kept query = %q", task.SearchResults[0].Query)
	}
	if flat := task.FlatResults(); len(flat) != 1 || flat[0].URL != "https://hit.example" {
		t.Fatalf("flat results = %+v", task.FlatResults())
	}
}

func TestResearchNoUsableQueries(t *testing.T) {
	model := &stubModel{}
	model.send = func(prompt string) (Completion, error) {
		return Completion{Content: "I cannot produce queries for that."}, nil
	}
	engine := NewEngine(model, stubSearcher{fn: func(string) ([]SearchResult, error) {
		t.Fatal("search must not run without parsed queries")
		return nil, nil
	}})

	task := &SectionTask{SectionID: "s1", Name: "Market"}
	if err := engine.research(context.Background(), "energy", task); err != nil {
		t.Fatalf("research: %v", err)
	}
	if len(task.SearchResults) != 0 {
		t.Fatalf("unexpected result sets: %d", len(task.SearchResults))
	}
}

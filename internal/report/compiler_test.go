package report

import (
	"strings"
	"testing"
	"time"
)

func compilePlan(tasks ...*SectionTask) *ExecutionPlan {
	plan := &ExecutionPlan{
		ID:        "plan-1",
		Topic:     "test topic",
		Tasks:     make(map[string]*SectionTask, len(tasks)),
		Status:    ExecutionStatusCompleted,
		CreatedAt: time.Now(),
	}
	for i, task := range tasks {
		plan.ApprovedSections = append(plan.ApprovedSections, PlanSection{
			ID:     task.SectionID,
			Number: i + 1,
			Name:   task.Name,
			Phase:  PhaseBody,
		})
		plan.Tasks[task.SectionID] = task
	}
	return plan
}

func resultSet(query string, urls ...string) SearchResultSet {
	set := SearchResultSet{Query: query, Timestamp: time.Now()}
	for _, u := range urls {
		set.Results = append(set.Results, SearchResult{Title: "Title " + u, URL: u, Snippet: "snippet"})
	}
	return set
}

func TestCompileRenumbersAcrossSections(t *testing.T) {
	first := &SectionTask{
		SectionID:     "s1",
		Name:          "First",
		Status:        TaskStatusCompleted,
		Content:       "Alpha [Source 1] beta [Source 1] gamma [Source 2].",
		SearchResults: []SearchResultSet{resultSet("q1", "https://a.example", "https://b.example")},
		TokensUsed:    7,
	}
	second := &SectionTask{
		SectionID:     "s2",
		Name:          "Second",
		Status:        TaskStatusCompleted,
		Content:       "Delta [Source 1].",
		SearchResults: []SearchResultSet{resultSet("q2", "https://c.example")},
		TokensUsed:    5,
	}

	rep := Compile(compilePlan(first, second))

	if len(rep.Sections) != 2 {
		t.Fatalf("expected 2 sections, got %d", len(rep.Sections))
	}
	if got := rep.Sections[0].Content; got != "Alpha [1] beta [1] gamma [2]." {
		t.Fatalf("first section content = %q", got)
	}
	if got := rep.Sections[1].Content; got != "Delta [3]." {
		t.Fatalf("second section content = %q", got)
	}

	if len(rep.Citations) != 3 {
		t.Fatalf("expected 3 citations, got %d", len(rep.Citations))
	}
	wantURLs := []string{"https://a.example", "https://b.example", "https://c.example"}
	for i, c := range rep.Citations {
		if c.Number != i+1 {
			t.Fatalf("citation %d carries number %d", i, c.Number)
		}
		if c.URL != wantURLs[i] {
			t.Fatalf("citation %d URL = %q, want %q", c.Number, c.URL, wantURLs[i])
		}
	}
	if rep.TokensUsed != 12 {
		t.Fatalf("tokens used = %d", rep.TokensUsed)
	}
}

func TestCompileOmitsUnfinishedSections(t *testing.T) {
	first := &SectionTask{
		SectionID:     "s1",
		Name:          "First",
		Status:        TaskStatusCompleted,
		Content:       "Intro [Source 1].",
		SearchResults: []SearchResultSet{resultSet("q1", "https://a.example")},
		TokensUsed:    4,
	}
	failed := &SectionTask{
		SectionID:    "s2",
		Name:         "Broken",
		Status:       TaskStatusFailed,
		Content:      "Partial draft [Source 1].",
		ErrorMessage: "model unavailable",
		TokensUsed:   9,
	}
	last := &SectionTask{
		SectionID:     "s3",
		Name:          "Last",
		Status:        TaskStatusCompleted,
		Content:       "End [Source 1].",
		SearchResults: []SearchResultSet{resultSet("q3", "https://z.example")},
		TokensUsed:    6,
	}

	rep := Compile(compilePlan(first, failed, last))

	if len(rep.Sections) != 2 {
		t.Fatalf("expected 2 sections, got %d", len(rep.Sections))
	}
	for _, s := range rep.Sections {
		if s.Name == "Broken" {
			t.Fatalf("failed section compiled into report")
		}
	}
	// Numbering stays continuous across the omitted section.
	if got := rep.Sections[1].Content; got != "End [2]." {
		t.Fatalf("last section content = %q", got)
	}
	// The failed task's partial token usage still counts.
	if rep.TokensUsed != 19 {
		t.Fatalf("tokens used = %d", rep.TokensUsed)
	}
}

func TestCompilePlaceholderCitations(t *testing.T) {
	task := &SectionTask{
		SectionID: "s1",
		Name:      "Unsourced",
		Status:    TaskStatusCompleted,
		Content:   "Claim [Source 5] without gathered results.",
	}

	rep := Compile(compilePlan(task))

	if len(rep.Citations) != 1 {
		t.Fatalf("expected 1 citation, got %d", len(rep.Citations))
	}
	c := rep.Citations[0]
	if c.URL != "source-1" || c.Title != "source-1" {
		t.Fatalf("placeholder citation = %+v", c)
	}
	if c.Marker != "[Source 5]" {
		t.Fatalf("marker = %q", c.Marker)
	}
	if !strings.Contains(rep.Sections[0].Content, "[1]") {
		t.Fatalf("content not rewritten: %q", rep.Sections[0].Content)
	}
}

func TestCompileNoMarkers(t *testing.T) {
	task := &SectionTask{
		SectionID: "s1",
		Name:      "Plain",
		Status:    TaskStatusCompleted,
		Content:   "No citations at all.",
	}

	rep := Compile(compilePlan(task))
	if len(rep.Citations) != 0 {
		t.Fatalf("expected no citations, got %d", len(rep.Citations))
	}
	if rep.Sections[0].Content != "No citations at all." {
		t.Fatalf("content altered: %q", rep.Sections[0].Content)
	}
}

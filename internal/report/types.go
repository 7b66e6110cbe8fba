package report

import (
	"context"
	"time"
)

// SectionPhase positions a section within the two-pass writing protocol.
// Initial marks the introduction, Final marks the conclusion; everything
// else is a body section.
type SectionPhase string

const (
	PhaseInitial SectionPhase = "initial"
	PhaseBody    SectionPhase = "body"
	PhaseFinal   SectionPhase = "final"
)

// ExecutionStatus is the plan-level lifecycle. Transitions only move
// forward; Paused is declared for a future pause/resume flow and is never
// entered by the engine today.
type ExecutionStatus string

const (
	ExecutionStatusReady      ExecutionStatus = "ready"
	ExecutionStatusInProgress ExecutionStatus = "in_progress"
	ExecutionStatusPaused     ExecutionStatus = "paused"
	ExecutionStatusCompleted  ExecutionStatus = "completed"
	ExecutionStatusFailed     ExecutionStatus = "failed"
)

// TaskStatus is the per-section lifecycle. Kept as a separate enum from
// ExecutionStatus because the transition rules differ even where the
// names overlap.
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusPaused     TaskStatus = "paused"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// PlanSection is one entry of an approved outline. Immutable once the
// plan has been prepared for execution.
type PlanSection struct {
	ID               string       `json:"id"`
	Number           int          `json:"number"` // 1-based, defines document order
	Name             string       `json:"name"`
	Description      string       `json:"description"`
	RequiresResearch bool         `json:"requires_research"`
	Phase            SectionPhase `json:"phase"`
}

// Plan is an outline under review: the planner produces it, the user
// approves or revises it, and PrepareForExecution turns it into an
// ExecutionPlan.
type Plan struct {
	ID        string        `json:"id"`
	Topic     string        `json:"topic"`
	Sections  []PlanSection `json:"sections"`
	Revision  int           `json:"revision"`
	CreatedAt time.Time     `json:"created_at"`
}

// SearchResult is a single ranked hit returned by a search provider.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
	Content string `json:"content,omitempty"`
}

// SearchResultSet groups the results of one executed query.
type SearchResultSet struct {
	Query     string         `json:"query"`
	Results   []SearchResult `json:"results"`
	Timestamp time.Time      `json:"timestamp"`
}

// SectionTask is the mutable execution state for one section. It is owned
// exclusively by the task routine processing it; status reads from other
// goroutines (progress polling) go through the engine's snapshot.
type SectionTask struct {
	SectionID        string            `json:"section_id"`
	Name             string            `json:"name"`
	Description      string            `json:"description"`
	Status           TaskStatus        `json:"status"`
	MaxSearchQueries int               `json:"max_search_queries"`
	SearchResults    []SearchResultSet `json:"search_results,omitempty"`
	PromptSources    []SearchResult    `json:"prompt_sources,omitempty"`
	Content          string            `json:"content,omitempty"`
	IsRevised        bool              `json:"is_revised"`
	ErrorMessage     string            `json:"error_message,omitempty"`
	TokensUsed       int64             `json:"tokens_used"`
	StartedAt        *time.Time        `json:"started_at,omitempty"`
	CompletedAt      *time.Time        `json:"completed_at,omitempty"`
}

// FlatResults returns every search result of the task in query order.
// PromptSources holds the subset actually shown to the model, in prompt
// order; local citation indices ([Source N]) resolve against it, with
// this slice as the fallback when no writing prompt was built.
func (t *SectionTask) FlatResults() []SearchResult {
	var out []SearchResult
	for _, set := range t.SearchResults {
		out = append(out, set.Results...)
	}
	return out
}

// ExecutionPlan is the engine's unit of work: an approved outline plus
// per-section task state and concurrency settings.
type ExecutionPlan struct {
	ID                    string                  `json:"id"`
	Topic                 string                  `json:"topic"`
	ApprovedSections      []PlanSection           `json:"approved_sections"`
	Tasks                 map[string]*SectionTask `json:"tasks"`
	MaxConcurrentSections int                     `json:"max_concurrent_sections"`
	Status                ExecutionStatus         `json:"status"`
	StartedAt             *time.Time              `json:"started_at,omitempty"`
	CompletedAt           *time.Time              `json:"completed_at,omitempty"`
	CreatedAt             time.Time               `json:"created_at"`
}

// Section looks up an approved section by ID.
func (p *ExecutionPlan) Section(id string) (PlanSection, bool) {
	for _, s := range p.ApprovedSections {
		if s.ID == id {
			return s, true
		}
	}
	return PlanSection{}, false
}

// Adjacent returns the previous and next sections of the given section in
// ordinal order, independently of phase. Either may be nil at the edges.
func (p *ExecutionPlan) Adjacent(id string) (prev, next *PlanSection) {
	for i := range p.ApprovedSections {
		if p.ApprovedSections[i].ID != id {
			continue
		}
		if i > 0 {
			prev = &p.ApprovedSections[i-1]
		}
		if i+1 < len(p.ApprovedSections) {
			next = &p.ApprovedSections[i+1]
		}
		return prev, next
	}
	return nil, nil
}

// ReportContent is one compiled section of the final report.
type ReportContent struct {
	SectionID string `json:"section_id"`
	Number    int    `json:"number"`
	Name      string `json:"name"`
	Content   string `json:"content"`
	IsRevised bool   `json:"is_revised"`
}

// Citation is a globally renumbered reference. Marker holds the original
// in-text marker the number replaced.
type Citation struct {
	ID     string `json:"id"`
	Number int    `json:"number"`
	Marker string `json:"marker"`
	URL    string `json:"url"`
	Title  string `json:"title"`
}

// Report is the compiled output of an execution plan. Read-only once the
// engine returns it.
type Report struct {
	ID         string          `json:"id"`
	PlanID     string          `json:"plan_id"`
	Topic      string          `json:"topic"`
	Sections   []ReportContent `json:"sections"`
	Citations  []Citation      `json:"citations"`
	TokensUsed int64           `json:"tokens_used"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Completion is the result of a single model call.
type Completion struct {
	Content    string `json:"content"`
	TokensUsed int64  `json:"tokens_used"`
}

// ModelOptions tunes a single generation call.
type ModelOptions struct {
	Temperature      float64
	TopP             float64
	MaxTokens        int
	IncludeCitations bool
}

// ModelProvider is the engine's text-completion capability. Implementations
// must be safe for concurrent use; any failure, transient or terminal,
// surfaces as a task failure.
type ModelProvider interface {
	Send(ctx context.Context, prompt string, opts ModelOptions) (Completion, error)
}

// SearchOptions tunes a single search call. The zero value applies
// provider defaults; content enrichment is a property of the configured
// Searcher, not of the call.
type SearchOptions struct {
	MaxResults int
}

// Searcher is the engine's web-search capability. A disabled search setup
// is a Searcher that returns an empty list, never an error.
type Searcher interface {
	Search(ctx context.Context, query string, opts SearchOptions) ([]SearchResult, error)
}

// NoopSearcher always returns zero results. Used when no search provider
// is configured and as a deterministic test double.
type NoopSearcher struct{}

func (NoopSearcher) Search(context.Context, string, SearchOptions) ([]SearchResult, error) {
	return nil, nil
}

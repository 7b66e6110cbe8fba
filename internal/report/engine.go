package report

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mohammad-safakhou/reporter/internal/telemetry"
)

// ErrNilPlan is returned when Execute is handed no plan at all.
var ErrNilPlan = errors.New("execution plan is nil")

// ErrPlanNotReady is returned when the plan has already been started.
var ErrPlanNotReady = errors.New("execution plan is not in ready state")

const (
	defaultMaxConcurrentSections = 3
	defaultSnippetLimit          = 12

	writeTemperature    = 0.8
	writeMaxTokens      = 4000
	queryGenTemperature = 0.4
	queryGenMaxTokens   = 500
	reviseTemperature   = 0.5
	reviseMaxTokens     = 900
)

// SnippetRanker narrows a task's gathered results to the most relevant
// ones for a query. The bleve-backed implementation lives in
// internal/index; the engine falls back to raw query order without one.
type SnippetRanker interface {
	Rank(query string, results []SearchResult, k int) ([]SearchResult, error)
}

// Engine drives every section task of an execution plan to completion or
// recorded failure, respecting phase ordering and the concurrency ceiling,
// then compiles the final report.
type Engine struct {
	model        ModelProvider
	search       Searcher
	ranker       SnippetRanker
	snippetLimit int
	telemetry    *telemetry.Telemetry
	logger       *log.Logger

	progressFn       ProgressFunc
	progressInterval time.Duration

	// Guards task status fields only: each task's remaining state is owned
	// by its processing routine, but the progress poller reads statuses
	// while batches run.
	mu sync.RWMutex
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *log.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// WithTelemetry wires metric recording into the engine.
func WithTelemetry(t *telemetry.Telemetry) EngineOption {
	return func(e *Engine) { e.telemetry = t }
}

// WithSnippetRanker narrows research material in writing prompts to the
// top-ranked snippets instead of every gathered result.
func WithSnippetRanker(r SnippetRanker) EngineOption {
	return func(e *Engine) { e.ranker = r }
}

// WithSnippetLimit overrides how many ranked snippets a writing prompt
// may carry. Values below one keep the default.
func WithSnippetLimit(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.snippetLimit = n
		}
	}
}

// WithProgress registers a callback invoked with a status snapshot on the
// given interval for the duration of Execute.
func WithProgress(interval time.Duration, fn ProgressFunc) EngineOption {
	return func(e *Engine) {
		e.progressInterval = interval
		e.progressFn = fn
	}
}

// NewEngine creates an execution engine over the given collaborators.
func NewEngine(model ModelProvider, search Searcher, opts ...EngineOption) *Engine {
	e := &Engine{model: model, search: search, snippetLimit: defaultSnippetLimit}
	if e.search == nil {
		e.search = NoopSearcher{}
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = log.New(log.Writer(), "[ENGINE] ", log.LstdFlags)
	}
	return e
}

// Execute runs the plan to completion and compiles the report.
//
// The plan must be Ready; a plan with zero tasks yields an empty report.
// Section failures are recorded on their tasks and never abort the run.
// Cancellation stops starting new tasks and unwinds in-flight calls, but
// already committed work is kept and the partial report is still
// compiled; a cancelled plan is not marked Failed.
func (e *Engine) Execute(ctx context.Context, plan *ExecutionPlan) (Report, error) {
	if plan == nil {
		return Report{}, ErrNilPlan
	}
	if plan.Status != ExecutionStatusReady {
		return Report{}, fmt.Errorf("%w: %s", ErrPlanNotReady, plan.Status)
	}

	started := time.Now()
	plan.Status = ExecutionStatusInProgress
	plan.StartedAt = &started
	e.logger.Printf("executing plan %s (%d tasks, limit %d)", plan.ID, len(plan.Tasks), plan.MaxConcurrentSections)

	stopProgress := e.startProgress(ctx, plan)
	defer stopProgress()

	nonFinal, final := e.partitionTasks(plan)

	// Phase 1: introduction and body sections.
	e.runBatch(ctx, plan, nonFinal)

	// Serial step between phases: rewrite the introduction against the now
	// complete body so it stops being generic.
	e.reviseIntroduction(ctx, plan, nonFinal)

	// Phase 2: conclusion sections, only after everything above settled.
	e.runBatch(ctx, plan, final)

	rep := Compile(plan)

	completed := time.Now()
	plan.Status = ExecutionStatusCompleted
	plan.CompletedAt = &completed
	e.logger.Printf("plan %s compiled: %d sections, %d citations, %d tokens",
		plan.ID, len(rep.Sections), len(rep.Citations), rep.TokensUsed)
	return rep, nil
}

// partitionTasks splits tasks into non-final (initial + body) and final
// batches, each ordered by section number. A task whose section cannot be
// resolved is treated as body.
func (e *Engine) partitionTasks(plan *ExecutionPlan) (nonFinal, final []*SectionTask) {
	for _, task := range plan.Tasks {
		phase := PhaseBody
		if section, ok := plan.Section(task.SectionID); ok && section.Phase != "" {
			phase = section.Phase
		}
		if phase == PhaseFinal {
			final = append(final, task)
		} else {
			nonFinal = append(nonFinal, task)
		}
	}
	byNumber := func(tasks []*SectionTask) {
		sort.Slice(tasks, func(i, j int) bool {
			si, _ := plan.Section(tasks[i].SectionID)
			sj, _ := plan.Section(tasks[j].SectionID)
			return si.Number < sj.Number
		})
	}
	byNumber(nonFinal)
	byNumber(final)
	return nonFinal, final
}

// runBatch processes tasks with at most plan.MaxConcurrentSections
// routines in flight. Start order follows the slice; completion order is
// unconstrained. Task failures are recorded, never returned.
func (e *Engine) runBatch(ctx context.Context, plan *ExecutionPlan, tasks []*SectionTask) {
	if len(tasks) == 0 {
		return
	}
	limit := plan.MaxConcurrentSections
	if limit <= 0 {
		limit = defaultMaxConcurrentSections
	}
	var g errgroup.Group
	g.SetLimit(limit)
	for _, task := range tasks {
		t := task
		g.Go(func() error {
			if ctx.Err() != nil {
				// Cancelled before admission: leave the task Pending.
				return nil
			}
			e.processTask(ctx, plan, t)
			return nil
		})
	}
	_ = g.Wait()
}

// processTask runs research and content generation for one section.
func (e *Engine) processTask(ctx context.Context, plan *ExecutionPlan, task *SectionTask) {
	start := time.Now()
	e.setStatus(task, TaskStatusInProgress)
	task.StartedAt = &start

	section, _ := plan.Section(task.SectionID)
	if section.RequiresResearch {
		if err := e.research(ctx, plan.Topic, task); err != nil {
			e.failTask(task, fmt.Errorf("research: %w", err))
			return
		}
	}

	content, tokens, err := e.writeSection(ctx, plan, task)
	task.TokensUsed += tokens
	if err != nil {
		e.failTask(task, fmt.Errorf("writing: %w", err))
		return
	}
	if strings.TrimSpace(content) == "" {
		e.failTask(task, errors.New("model returned empty section content"))
		return
	}

	done := time.Now()
	task.Content = content
	task.CompletedAt = &done
	e.setStatus(task, TaskStatusCompleted)
	if e.telemetry != nil {
		e.telemetry.RecordSection(true, done.Sub(start), tokens)
	}
	e.logger.Printf("section %q completed in %v (%d tokens)", task.Name, done.Sub(start), tokens)
}

// writeSection generates the section body with inline [Source N] markers.
func (e *Engine) writeSection(ctx context.Context, plan *ExecutionPlan, task *SectionTask) (string, int64, error) {
	prompt := e.buildWritingPrompt(plan, task)
	completion, err := e.model.Send(ctx, prompt, ModelOptions{
		Temperature:      writeTemperature,
		MaxTokens:        writeMaxTokens,
		IncludeCitations: true,
	})
	if err != nil {
		return "", completion.TokensUsed, err
	}
	return completion.Content, completion.TokensUsed, nil
}

func (e *Engine) buildWritingPrompt(plan *ExecutionPlan, task *SectionTask) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are writing one section of a research report on %q.\n\n", plan.Topic)
	fmt.Fprintf(&b, "SECTION: %s\n", task.Name)
	fmt.Fprintf(&b, "DESCRIPTION: %s\n", task.Description)

	prev, next := plan.Adjacent(task.SectionID)
	if prev != nil {
		fmt.Fprintf(&b, "\nPRECEDING SECTION: %s - %s\n", prev.Name, prev.Description)
	}
	if next != nil {
		fmt.Fprintf(&b, "FOLLOWING SECTION: %s - %s\n", next.Name, next.Description)
	}

	if material := e.researchMaterial(task); material != "" {
		b.WriteString("\nRESEARCH MATERIAL:\n")
		b.WriteString(material)
	}

	b.WriteString(`
Write the section in Markdown prose, flowing naturally from the preceding
section into the following one. Ground claims in the research material and
mark each grounded claim with an inline citation of the literal form
[Source N], where N is the 1-based position of the supporting result in
the research material. Do not fabricate sources. Respond with the section
text only, no heading.`)
	return b.String()
}

// researchMaterial renders the task's gathered results for the writing
// prompt, ranked through the snippet ranker when one is configured. The
// results are recorded on the task in prompt order so citation markers
// resolve against exactly what the model saw.
func (e *Engine) researchMaterial(task *SectionTask) string {
	results := task.FlatResults()
	if len(results) == 0 {
		return ""
	}
	if e.ranker != nil {
		ranked, err := e.ranker.Rank(task.Name+" "+task.Description, results, e.snippetLimit)
		if err != nil {
			e.logger.Printf("snippet ranking failed for %q, using raw order: %v", task.Name, err)
		} else if len(ranked) > 0 {
			results = ranked
		}
	}
	var b strings.Builder
	task.PromptSources = nil
	for _, set := range task.SearchResults {
		fmt.Fprintf(&b, "Query: %s\n", set.Query)
		for _, res := range set.Results {
			if !containsResult(results, res) {
				continue
			}
			task.PromptSources = append(task.PromptSources, res)
			fmt.Fprintf(&b, "  [Source %d] %s - %s (%s)\n", len(task.PromptSources), res.Title, res.Snippet, res.URL)
			if res.Content != "" {
				fmt.Fprintf(&b, "    %s\n", res.Content)
			}
		}
	}
	return b.String()
}

func containsResult(results []SearchResult, r SearchResult) bool {
	for _, cand := range results {
		if cand.URL == r.URL && cand.Title == r.Title {
			return true
		}
	}
	return false
}

// reviseIntroduction rewrites the Initial-phase section against the
// completed body. Runs strictly serially between the two phase batches.
func (e *Engine) reviseIntroduction(ctx context.Context, plan *ExecutionPlan, nonFinal []*SectionTask) {
	if ctx.Err() != nil {
		return
	}
	var intro *SectionTask
	for _, t := range nonFinal {
		if section, ok := plan.Section(t.SectionID); ok && section.Phase == PhaseInitial {
			intro = t
			break
		}
	}
	if intro == nil || intro.Status != TaskStatusCompleted {
		return
	}

	var summary strings.Builder
	for _, t := range nonFinal {
		if t == intro || t.Status != TaskStatusCompleted {
			continue
		}
		fmt.Fprintf(&summary, "- %s: %s\n  %s\n", t.Name, t.Description, firstParagraph(t.Content))
	}
	if summary.Len() == 0 {
		return
	}

	prompt := fmt.Sprintf(`The report on %q is now written. Rewrite its introduction so it
accurately previews the finished body sections below. Keep every inline
[Source N] citation that is still relevant. Stay under 500 words.

CURRENT INTRODUCTION:
%s

COMPLETED SECTIONS:
%s
Respond with the rewritten introduction only.`, plan.Topic, intro.Content, summary.String())

	completion, err := e.model.Send(ctx, prompt, ModelOptions{
		Temperature: reviseTemperature,
		MaxTokens:   reviseMaxTokens,
	})
	intro.TokensUsed += completion.TokensUsed
	if err != nil {
		if ctx.Err() != nil {
			// Cancellation keeps the first-pass introduction.
			return
		}
		e.failTask(intro, fmt.Errorf("introduction revision: %w", err))
		return
	}
	if strings.TrimSpace(completion.Content) == "" {
		e.failTask(intro, errors.New("model returned empty revised introduction"))
		return
	}
	now := time.Now()
	intro.Content = completion.Content
	intro.IsRevised = true
	intro.CompletedAt = &now
	e.logger.Printf("introduction %q revised against %d completed sections", intro.Name, strings.Count(summary.String(), "\n")/2)
}

func (e *Engine) failTask(task *SectionTask, err error) {
	now := time.Now()
	task.ErrorMessage = err.Error()
	task.CompletedAt = &now
	e.setStatus(task, TaskStatusFailed)
	if e.telemetry != nil {
		e.telemetry.RecordSection(false, 0, 0)
	}
	e.logger.Printf("section %q failed: %v", task.Name, err)
}

func (e *Engine) setStatus(task *SectionTask, status TaskStatus) {
	e.mu.Lock()
	task.Status = status
	e.mu.Unlock()
}

// firstParagraph returns content up to the first blank-line boundary.
func firstParagraph(content string) string {
	content = strings.TrimSpace(content)
	if i := strings.Index(content, "\n\n"); i >= 0 {
		return content[:i]
	}
	return content
}

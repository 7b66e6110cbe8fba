package report

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	planTemperature = 0.3
	planMaxTokens   = 1500
)

// ErrEmptyOutline is returned when the model's outline response contains
// no parseable sections.
var ErrEmptyOutline = errors.New("no sections parsed from outline response")

// outlineLine matches one outline entry:
//
//	3. Market Dynamics :: Supply, demand and pricing trends :: research=yes
//
// The research field is optional and defaults to yes.
var outlineLine = regexp.MustCompile(`^\s*(\d+)[.)]\s+(.+)$`)

// ExecutionOptions tunes plan preparation.
type ExecutionOptions struct {
	MaxConcurrentSections int
	MaxSearchQueries      int
}

// Planner generates report outlines and converts approved outlines into
// execution plans.
type Planner struct {
	model  ModelProvider
	logger *log.Logger
}

// NewPlanner creates a planner over the given model provider.
func NewPlanner(model ModelProvider) *Planner {
	return &Planner{
		model:  model,
		logger: log.New(log.Writer(), "[PLANNER] ", log.LstdFlags),
	}
}

// GenerateInitialPlan asks the model for an outline of the report.
// organization is an optional structural instruction ("survey style",
// "chronological", ...); contextInfo is optional background to ground the
// outline in.
func (p *Planner) GenerateInitialPlan(ctx context.Context, topic, organization, contextInfo string) (*Plan, error) {
	prompt := p.outlinePrompt(topic, organization, contextInfo, "", "")
	return p.generate(ctx, topic, prompt, 0)
}

// ReviseWithFeedback regenerates the outline taking user feedback into
// account. The returned plan carries a bumped revision counter.
func (p *Planner) ReviseWithFeedback(ctx context.Context, plan *Plan, feedback string) (*Plan, error) {
	if plan == nil {
		return nil, ErrNilPlan
	}
	current := renderOutline(plan.Sections)
	prompt := p.outlinePrompt(plan.Topic, "", "", current, feedback)
	revised, err := p.generate(ctx, plan.Topic, prompt, plan.Revision+1)
	if err != nil {
		return nil, err
	}
	revised.ID = plan.ID
	return revised, nil
}

// PrepareForExecution converts an approved outline into an ExecutionPlan.
// Every section gets a task; sections that do not require research get a
// content-only task whose research sub-routine is skipped.
func (p *Planner) PrepareForExecution(plan *Plan, opts ExecutionOptions) (*ExecutionPlan, error) {
	if plan == nil {
		return nil, ErrNilPlan
	}
	if len(plan.Sections) == 0 {
		return nil, ErrEmptyOutline
	}
	if opts.MaxConcurrentSections <= 0 {
		opts.MaxConcurrentSections = defaultMaxConcurrentSections
	}
	if opts.MaxSearchQueries <= 0 {
		opts.MaxSearchQueries = defaultMaxSearchQueries
	}

	ep := &ExecutionPlan{
		ID:                    uuid.NewString(),
		Topic:                 plan.Topic,
		ApprovedSections:      append([]PlanSection(nil), plan.Sections...),
		Tasks:                 make(map[string]*SectionTask, len(plan.Sections)),
		MaxConcurrentSections: opts.MaxConcurrentSections,
		Status:                ExecutionStatusReady,
		CreatedAt:             time.Now(),
	}
	for _, section := range ep.ApprovedSections {
		ep.Tasks[section.ID] = &SectionTask{
			SectionID:        section.ID,
			Name:             section.Name,
			Description:      section.Description,
			Status:           TaskStatusPending,
			MaxSearchQueries: opts.MaxSearchQueries,
		}
	}
	p.logger.Printf("prepared plan %s: %d sections, concurrency %d", ep.ID, len(ep.Tasks), ep.MaxConcurrentSections)
	return ep, nil
}

func (p *Planner) generate(ctx context.Context, topic, prompt string, revision int) (*Plan, error) {
	completion, err := p.model.Send(ctx, prompt, ModelOptions{
		Temperature: planTemperature,
		MaxTokens:   planMaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("outline generation: %w", err)
	}
	sections := ParseOutline(completion.Content)
	if len(sections) == 0 {
		return nil, ErrEmptyOutline
	}
	return &Plan{
		ID:        uuid.NewString(),
		Topic:     topic,
		Sections:  sections,
		Revision:  revision,
		CreatedAt: time.Now(),
	}, nil
}

func (p *Planner) outlinePrompt(topic, organization, contextInfo, current, feedback string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Design the section outline for a research report on %q.\n", topic)
	if organization != "" {
		fmt.Fprintf(&b, "ORGANIZATION: %s\n", organization)
	}
	if contextInfo != "" {
		fmt.Fprintf(&b, "BACKGROUND: %s\n", contextInfo)
	}
	if current != "" {
		fmt.Fprintf(&b, "\nCURRENT OUTLINE:\n%s\n", current)
	}
	if feedback != "" {
		fmt.Fprintf(&b, "\nUSER FEEDBACK:\n%s\n", feedback)
	}
	b.WriteString(`
Respond with a numbered list only, one section per line, in the exact form:

  N. <section name> :: <one-sentence description> :: research=yes|no

The first section must be an introduction and the last a conclusion.
Mark research=no only for sections that can be written from the report
itself (such as the introduction and conclusion).`)
	return b.String()
}

// ParseOutline extracts plan sections from a numbered-list outline
// response. Unparseable lines are skipped; a garbage response yields
// zero sections. The first parsed section is tagged Initial and the last
// Final, matching the outline convention the prompt asks for.
func ParseOutline(response string) []PlanSection {
	var sections []PlanSection
	for _, line := range strings.Split(response, "\n") {
		m := outlineLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		number, err := strconv.Atoi(m[1])
		if err != nil || number < 1 {
			continue
		}
		name, description, research := splitOutlineFields(m[2])
		if name == "" {
			continue
		}
		sections = append(sections, PlanSection{
			ID:               uuid.NewString(),
			Number:           number,
			Name:             name,
			Description:      description,
			RequiresResearch: research,
			Phase:            PhaseBody,
		})
	}
	if len(sections) > 0 {
		sections[0].Phase = PhaseInitial
	}
	if len(sections) > 1 {
		sections[len(sections)-1].Phase = PhaseFinal
	}
	return sections
}

func splitOutlineFields(rest string) (name, description string, research bool) {
	research = true
	parts := strings.Split(rest, "::")
	name = strings.TrimSpace(parts[0])
	if len(parts) > 1 {
		description = strings.TrimSpace(parts[1])
	}
	if len(parts) > 2 {
		flag := strings.ToLower(strings.TrimSpace(parts[2]))
		flag = strings.TrimPrefix(flag, "research=")
		if flag == "no" || flag == "false" {
			research = false
		}
	}
	return name, description, research
}

// renderOutline serializes sections back into the outline line format for
// revision prompts.
func renderOutline(sections []PlanSection) string {
	var b strings.Builder
	for _, s := range sections {
		flag := "yes"
		if !s.RequiresResearch {
			flag = "no"
		}
		fmt.Fprintf(&b, "%d. %s :: %s :: research=%s\n", s.Number, s.Name, s.Description, flag)
	}
	return b.String()
}

package report

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// citationMarker matches the literal inline form the writing model is
// asked to emit. The captured index is section-local.
var citationMarker = regexp.MustCompile(`\[Source\s+(\d+)\]`)

// Compile assembles the completed tasks of a plan into an ordered Report
// with globally renumbered citations.
//
// Sections are visited in ascending ordinal order; a section whose task is
// missing or did not complete is silently omitted and does not shift the
// numbering of later sections. Global citation numbers are assigned in the
// order distinct markers are first encountered across that traversal, and
// every occurrence of a marker within its section is rewritten to [N].
// Token totals include failed tasks' partial usage.
func Compile(plan *ExecutionPlan) Report {
	rep := Report{
		ID:        uuid.NewString(),
		PlanID:    plan.ID,
		Topic:     plan.Topic,
		CreatedAt: time.Now(),
	}

	sections := make([]PlanSection, len(plan.ApprovedSections))
	copy(sections, plan.ApprovedSections)
	sort.Slice(sections, func(i, j int) bool { return sections[i].Number < sections[j].Number })

	next := 1
	for _, section := range sections {
		task, ok := plan.Tasks[section.ID]
		if !ok || task.Status != TaskStatusCompleted {
			continue
		}
		content, citations := renumberCitations(task, &next)
		rep.Citations = append(rep.Citations, citations...)
		rep.Sections = append(rep.Sections, ReportContent{
			SectionID: section.ID,
			Number:    section.Number,
			Name:      section.Name,
			Content:   content,
			IsRevised: task.IsRevised,
		})
	}

	for _, task := range plan.Tasks {
		rep.TokensUsed += task.TokensUsed
	}
	return rep
}

// renumberCitations rewrites a section's [Source k] markers to global [N]
// numbers, one Citation per distinct marker text, assigned in
// first-encounter order. The citation's URL and title are resolved by the
// marker's local index against the sources the writing prompt presented,
// falling back to the task's flattened results when no prompt was built;
// an unresolvable marker gets a synthesized source-N placeholder.
func renumberCitations(task *SectionTask, next *int) (string, []Citation) {
	content := task.Content
	matches := citationMarker.FindAllStringSubmatch(content, -1)
	if len(matches) == 0 {
		return content, nil
	}

	flat := task.PromptSources
	if len(flat) == 0 {
		flat = task.FlatResults()
	}
	assigned := make(map[string]int)
	var citations []Citation
	for _, m := range matches {
		marker := m[0]
		if _, ok := assigned[marker]; ok {
			continue
		}
		number := *next
		*next++
		assigned[marker] = number

		c := Citation{
			ID:     uuid.NewString(),
			Number: number,
			Marker: marker,
		}
		if local, err := strconv.Atoi(m[1]); err == nil && local >= 1 && local <= len(flat) {
			c.URL = flat[local-1].URL
			c.Title = flat[local-1].Title
		}
		if c.URL == "" {
			c.URL = fmt.Sprintf("source-%d", number)
		}
		if c.Title == "" {
			c.Title = fmt.Sprintf("source-%d", number)
		}
		citations = append(citations, c)
	}

	for marker, number := range assigned {
		content = strings.ReplaceAll(content, marker, fmt.Sprintf("[%d]", number))
	}
	return content, citations
}

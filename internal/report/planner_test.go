package report

import (
	"context"
	"errors"
	"strings"
	"testing"
)

const sampleOutline = `Here is the outline:

1. Introduction :: Frames the report :: research=no
2. Market Dynamics :: Supply, demand and pricing trends :: research=yes
3. Regulation :: Policy landscape
4. Conclusion :: Summarizes findings :: research=no

Let me know if you want changes.`

func TestParseOutline(t *testing.T) {
	sections := ParseOutline(sampleOutline)
	if len(sections) != 4 {
		t.Fatalf("expected 4 sections, got %d", len(sections))
	}

	if sections[0].Phase != PhaseInitial {
		t.Fatalf("first section phase = %s", sections[0].Phase)
	}
	if sections[1].Phase != PhaseBody || sections[2].Phase != PhaseBody {
		t.Fatalf("middle sections not body: %s, %s", sections[1].Phase, sections[2].Phase)
	}
	if sections[3].Phase != PhaseFinal {
		t.Fatalf("last section phase = %s", sections[3].Phase)
	}

	if sections[0].RequiresResearch {
		t.Fatalf("introduction should not require research")
	}
	if !sections[1].RequiresResearch {
		t.Fatalf("body section should require research")
	}
	// Missing research field defaults to yes.
	if !sections[2].RequiresResearch {
		t.Fatalf("section without research field should default to research")
	}

	if sections[1].Name != "Market Dynamics" || sections[1].Description != "Supply, demand and pricing trends" {
		t.Fatalf("fields parsed wrong: %+v", sections[1])
	}
	if sections[1].Number != 2 {
		t.Fatalf("number = %d", sections[1].Number)
	}
}

func TestParseOutlineGarbage(t *testing.T) {
	if got := ParseOutline("no list here, just prose"); len(got) != 0 {
		t.Fatalf("expected no sections, got %d", len(got))
	}
}

func TestPrepareForExecution(t *testing.T) {
	planner := NewPlanner(nil)
	plan := &Plan{Topic: "energy", Sections: ParseOutline(sampleOutline)}

	ep, err := planner.PrepareForExecution(plan, ExecutionOptions{})
	if err != nil {
		t.Fatalf("PrepareForExecution: %v", err)
	}
	if ep.Status != ExecutionStatusReady {
		t.Fatalf("status = %s", ep.Status)
	}
	if ep.MaxConcurrentSections != defaultMaxConcurrentSections {
		t.Fatalf("concurrency default = %d", ep.MaxConcurrentSections)
	}
	if len(ep.Tasks) != len(plan.Sections) {
		t.Fatalf("expected one task per section, got %d", len(ep.Tasks))
	}
	for _, section := range plan.Sections {
		task, ok := ep.Tasks[section.ID]
		if !ok {
			t.Fatalf("no task for section %q", section.Name)
		}
		if task.Status != TaskStatusPending {
			t.Fatalf("task %q status = %s", task.Name, task.Status)
		}
		if task.MaxSearchQueries != defaultMaxSearchQueries {
			t.Fatalf("task %q query budget = %d", task.Name, task.MaxSearchQueries)
		}
	}
}

func TestPrepareForExecutionRejectsBadPlans(t *testing.T) {
	planner := NewPlanner(nil)
	if _, err := planner.PrepareForExecution(nil, ExecutionOptions{}); !errors.Is(err, ErrNilPlan) {
		t.Fatalf("nil plan: %v", err)
	}
	if _, err := planner.PrepareForExecution(&Plan{Topic: "x"}, ExecutionOptions{}); !errors.Is(err, ErrEmptyOutline) {
		t.Fatalf("empty outline: %v", err)
	}
}

func TestGenerateInitialPlan(t *testing.T) {
	model := &stubModel{}
	model.send = func(prompt string) (Completion, error) {
		if !strings.Contains(prompt, "energy markets") {
			t.Fatalf("topic missing from prompt")
		}
		return Completion{Content: sampleOutline}, nil
	}
	planner := NewPlanner(model)

	plan, err := planner.GenerateInitialPlan(context.Background(), "energy markets", "survey style", "")
	if err != nil {
		t.Fatalf("GenerateInitialPlan: %v", err)
	}
	if plan.Revision != 0 {
		t.Fatalf("revision = %d", plan.Revision)
	}
	if len(plan.Sections) != 4 {
		t.Fatalf("sections = %d", len(plan.Sections))
	}
	if plan.ID == "" {
		t.Fatalf("plan ID missing")
	}
}

func TestGenerateInitialPlanEmptyOutline(t *testing.T) {
	model := &stubModel{}
	model.send = func(prompt string) (Completion, error) {
		return Completion{Content: "I decline to outline this."}, nil
	}
	planner := NewPlanner(model)

	if _, err := planner.GenerateInitialPlan(context.Background(), "energy", "", ""); !errors.Is(err, ErrEmptyOutline) {
		t.Fatalf("expected ErrEmptyOutline, got %v", err)
	}
}

func TestReviseWithFeedback(t *testing.T) {
	model := &stubModel{}
	model.send = func(prompt string) (Completion, error) {
		if !strings.Contains(prompt, "USER FEEDBACK") || !strings.Contains(prompt, "merge regulation into market dynamics") {
			t.Fatalf("feedback missing from prompt")
		}
		if !strings.Contains(prompt, "CURRENT OUTLINE") || !strings.Contains(prompt, "Market Dynamics") {
			t.Fatalf("current outline missing from prompt")
		}
		return Completion{Content: "1. Introduction :: Frames :: research=no\n2. Market and Policy :: Combined view :: research=yes\n3. Conclusion :: Wraps up :: research=no"}, nil
	}
	planner := NewPlanner(model)

	original := &Plan{ID: "keep-me", Topic: "energy", Sections: ParseOutline(sampleOutline), Revision: 1}
	revised, err := planner.ReviseWithFeedback(context.Background(), original, "merge regulation into market dynamics")
	if err != nil {
		t.Fatalf("ReviseWithFeedback: %v", err)
	}
	if revised.ID != "keep-me" {
		t.Fatalf("revision lost plan identity: %s", revised.ID)
	}
	if revised.Revision != 2 {
		t.Fatalf("revision = %d", revised.Revision)
	}
	if len(revised.Sections) != 3 {
		t.Fatalf("sections = %d", len(revised.Sections))
	}
}

func TestReviseWithFeedbackNilPlan(t *testing.T) {
	planner := NewPlanner(&stubModel{})
	if _, err := planner.ReviseWithFeedback(context.Background(), nil, "feedback"); !errors.Is(err, ErrNilPlan) {
		t.Fatalf("nil plan: %v", err)
	}
}

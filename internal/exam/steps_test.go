package exam

import (
	"sync"
	"testing"
)

func TestStepLog_AppendOrder(t *testing.T) {
	log := NewStepLog()
	log.Append("render", StepProcessing, nil)
	log.Append("render", StepCompleted, map[string]any{"pages": 3})
	log.Append("segment", StepCompleted, nil)

	steps := log.Steps()
	if len(steps) != 3 {
		t.Fatalf("expected 3 steps, got %d", len(steps))
	}
	if steps[0].Stage != "render" || steps[0].Status != StepProcessing {
		t.Errorf("unexpected first step: %+v", steps[0])
	}
	if steps[1].Metadata["pages"] != 3 {
		t.Errorf("expected pages metadata, got %v", steps[1].Metadata)
	}
	if steps[2].Stage != "segment" {
		t.Errorf("expected segment step last, got %q", steps[2].Stage)
	}
}

func TestStepLog_ConcurrentAppend(t *testing.T) {
	log := NewStepLog()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Append("extract", StepCompleted, nil)
		}()
	}
	wg.Wait()
	if log.Len() != 50 {
		t.Errorf("expected 50 steps, got %d", log.Len())
	}
}

func TestStepLog_StepsReturnsCopy(t *testing.T) {
	log := NewStepLog()
	log.Append("a", StepCompleted, nil)
	steps := log.Steps()
	steps[0].Stage = "mutated"
	if log.Steps()[0].Stage != "a" {
		t.Error("mutation of returned slice leaked into the log")
	}
}

func TestQuestionCandidate_Clone(t *testing.T) {
	orig := QuestionCandidate{
		Number:  7,
		Text:    "What is the capital?",
		Options: []Option{{Symbol: "①", Text: "Seoul"}, {Symbol: "②", Text: "Busan"}},
		Special: &SpecialElementPayload{Kind: SpecialTable, TableMarkup: "| a |"},
	}
	c := orig.Clone()
	c.Options[0].Text = "changed"
	c.Special.TableMarkup = "| b |"

	if orig.Options[0].Text != "Seoul" {
		t.Error("clone shares options slice with original")
	}
	if orig.Special.TableMarkup != "| a |" {
		t.Error("clone shares special payload with original")
	}
}

func TestParseMode(t *testing.T) {
	if ParseMode("continuous") != ModeContinuous {
		t.Error("expected continuous mode")
	}
	if ParseMode("pages") != ModePages {
		t.Error("expected pages mode")
	}
	if ParseMode("") != ModePages {
		t.Error("expected default pages mode for empty string")
	}
	if ParseMode("bogus") != ModePages {
		t.Error("expected default pages mode for unknown string")
	}
}

func TestStructureEstimate_QuestionRange(t *testing.T) {
	est := &StructureEstimate{
		Pages: []PagePlan{
			{Page: 1, Role: RoleCover},
			{Page: 2, Role: RoleQuestions, FirstQuestion: 1, LastQuestion: 8},
			{Page: 3, Role: RoleQuestions, FirstQuestion: 9, LastQuestion: 15},
			{Page: 4, Role: RoleAnswers},
		},
	}

	first, last := est.QuestionRange(2, 3)
	if first != 1 || last != 15 {
		t.Errorf("expected range 1-15, got %d-%d", first, last)
	}

	first, last = est.QuestionRange(3, 3)
	if first != 9 || last != 15 {
		t.Errorf("expected range 9-15, got %d-%d", first, last)
	}

	// Non-question pages contribute nothing.
	first, last = est.QuestionRange(4, 4)
	if first != 0 || last != 0 {
		t.Errorf("expected unknown range, got %d-%d", first, last)
	}

	var nilEst *StructureEstimate
	first, last = nilEst.QuestionRange(1, 2)
	if first != 0 || last != 0 {
		t.Errorf("expected zero range on nil estimate, got %d-%d", first, last)
	}
}

func TestStructureEstimate_PlanFor(t *testing.T) {
	est := &StructureEstimate{
		Pages: []PagePlan{{Page: 1, Role: RoleCover}, {Page: 2, Role: RoleQuestions}},
	}
	if p := est.PlanFor(2); p == nil || p.Role != RoleQuestions {
		t.Errorf("expected questions plan for page 2, got %+v", p)
	}
	if p := est.PlanFor(9); p != nil {
		t.Errorf("expected nil plan for unknown page, got %+v", p)
	}
}

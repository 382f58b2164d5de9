package structure

import (
	"testing"

	"github.com/dgallion1/examgest/internal/exam"
)

func TestParsePass(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		wantErr bool
		total   int
	}{
		{"bare json", `{"total_questions": 12, "first_question": 1, "last_question": 12}`, false, 12},
		{"fenced json", "```json\n{\"total_questions\": 7}\n```", false, 7},
		{"prose wrapped", `The structure looks like this: {"total_questions": 20, "confidence": 0.5} hope that helps`, false, 20},
		{"no payload", "I cannot determine the structure.", true, 0},
		{"broken json in braces", `{"total_questions": }`, true, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := parsePass(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("parsePass() error: %v", err)
			}
			if res.TotalQuestions != tt.total {
				t.Errorf("total = %d, want %d", res.TotalQuestions, tt.total)
			}
		})
	}
}

func TestParseRole(t *testing.T) {
	tests := []struct {
		in   string
		want exam.PageRole
	}{
		{"questions", exam.RoleQuestions},
		{"QUESTIONS", exam.RoleQuestions},
		{"question page", exam.RoleQuestions},
		{"answers", exam.RoleAnswers},
		{"answer key", exam.RoleAnswers},
		{"explanations", exam.RoleExplanations},
		{"worked solutions", exam.RoleExplanations},
		{"cover", exam.RoleCover},
		{"title page", exam.RoleCover},
		{"appendix", exam.RoleOther},
		{"", exam.RoleOther},
	}
	for _, tt := range tests {
		if got := parseRole(tt.in); got != tt.want {
			t.Errorf("parseRole(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestParseKind(t *testing.T) {
	if k, ok := parseKind("Table"); !ok || k != exam.SpecialTable {
		t.Errorf("parseKind(Table) = %v, %v", k, ok)
	}
	if k, ok := parseKind("code"); !ok || k != exam.SpecialCode {
		t.Errorf("parseKind(code) = %v, %v", k, ok)
	}
	if _, ok := parseKind("marginalia"); ok {
		t.Error("unknown kind accepted")
	}
}

func TestProbe_NonPDF(t *testing.T) {
	res := Probe([]byte("just some text, not a pdf"))
	if res.HasText || len(res.Hints) != 0 {
		t.Errorf("probe of non-pdf = %+v, want empty", res)
	}
}

func TestProbe_GarbagePDF(t *testing.T) {
	// Valid magic, broken body. The probe swallows the failure.
	res := Probe([]byte("%PDF-1.4\nnot really a pdf"))
	if res.HasText {
		t.Errorf("probe of broken pdf reported text: %+v", res)
	}
}

func TestClassifyPageText(t *testing.T) {
	tests := []struct {
		name string
		text string
		want exam.PageRole
		ok   bool
	}{
		{"korean answers", "정답: 1. ③ 2. ① 3. ④", exam.RoleAnswers, true},
		{"korean explanations", "해설: 이 문제는...", exam.RoleExplanations, true},
		{"english answer key", "ANSWER KEY\n1. C\n2. A", exam.RoleAnswers, true},
		{"english solutions", "Solution: apply the formula", exam.RoleExplanations, true},
		{"plain question text", "7. What is the capital of France?", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			role, ok := classifyPageText(tt.text)
			if ok != tt.ok || role != tt.want {
				t.Errorf("classifyPageText() = %q, %v; want %q, %v", role, ok, tt.want, tt.ok)
			}
		})
	}
}

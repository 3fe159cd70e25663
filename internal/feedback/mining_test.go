package feedback

import (
	"math"
	"testing"
	"time"
)

func boolPtr(b bool) *bool { return &b }

func rec(question string, rating int, correct *bool, corrected string) Record {
	return Record{
		Question:        question,
		GeneratedAnswer: "generated for " + question,
		Rating:          rating,
		IsCorrect:       correct,
		CorrectedAnswer: corrected,
		CreatedAt:       time.Now(),
	}
}

func TestMineExamples(t *testing.T) {
	t.Run("prefers explicitly correct records", func(t *testing.T) {
		records := []Record{
			rec("q1", 5, boolPtr(true), ""),
			rec("q2", 4, nil, ""),
			rec("q3", 5, boolPtr(true), ""),
			rec("q4", 4, boolPtr(true), ""),
			rec("q5", 4, boolPtr(true), ""),
			rec("q6", 4, boolPtr(true), ""),
		}
		examples := MineExamples(records, 5)
		if len(examples) != 5 {
			t.Fatalf("mined %d examples, want 5", len(examples))
		}
		for _, ex := range examples {
			if ex.Question == "q2" {
				t.Error("q2 (unmarked) mined although enough explicit-correct records exist")
			}
		}
	})

	t.Run("extends with unmarked records when short", func(t *testing.T) {
		records := []Record{
			rec("q1", 5, boolPtr(true), ""),
			rec("q2", 4, nil, ""),
			rec("q3", 4, nil, ""),
			rec("q4", 4, boolPtr(false), ""), // explicitly incorrect, never mined
			rec("q5", 4, nil, ""),
			rec("q6", 5, nil, ""),
			rec("q7", 3, nil, ""), // rating too low
		}
		examples := MineExamples(records, 5)
		if len(examples) != 5 {
			t.Fatalf("mined %d examples, want 5", len(examples))
		}
		for _, ex := range examples {
			if ex.Question == "q4" || ex.Question == "q7" {
				t.Errorf("%s must not be mined", ex.Question)
			}
		}
	})

	t.Run("deduplicates by question keeping newest", func(t *testing.T) {
		newer := rec("What is 2+2?", 5, boolPtr(true), "newest answer")
		older := rec("  what is 2+2?  ", 4, boolPtr(true), "older answer")
		examples := MineExamples([]Record{newer, older}, 1)
		if len(examples) != 1 {
			t.Fatalf("mined %d examples, want 1", len(examples))
		}
		if examples[0].Answer != "newest answer" {
			t.Errorf("Answer = %q, want the newest record's answer", examples[0].Answer)
		}
	})

	t.Run("correction overrides generated answer", func(t *testing.T) {
		examples := MineExamples([]Record{rec("q", 5, boolPtr(true), "the fix")}, 1)
		if examples[0].Answer != "the fix" {
			t.Errorf("Answer = %q, want correction", examples[0].Answer)
		}
		examples = MineExamples([]Record{rec("q", 5, boolPtr(true), "")}, 1)
		if examples[0].Answer != "generated for q" {
			t.Errorf("Answer = %q, want generated answer", examples[0].Answer)
		}
	})

	t.Run("exhausted pool returns what exists", func(t *testing.T) {
		examples := MineExamples([]Record{rec("q1", 5, boolPtr(true), "")}, 5)
		if len(examples) != 1 {
			t.Errorf("mined %d examples, want 1", len(examples))
		}
	})
}

func TestSuggestImprovements(t *testing.T) {
	records := []Record{
		rec("wrong", 1, boolPtr(false), ""),
		rec("unclear", 2, nil, ""),
		rec("fine", 4, nil, ""),
	}
	got := SuggestImprovements(records)
	if len(got) != 3 {
		t.Fatalf("got %d suggestions, want 3", len(got))
	}
	want := []string{ActionReviewCorrection, ActionImproveClarity, ActionMonitor}
	for i, s := range got {
		if s.Action != want[i] {
			t.Errorf("suggestion %d action = %q, want %q", i, s.Action, want[i])
		}
	}
}

func TestTokenOverlap(t *testing.T) {
	tests := []struct {
		name       string
		prediction string
		truth      string
		want       float64
	}{
		{"identical", "the answer is 4", "the answer is 4", 1.0},
		{"empty truth", "anything", "", 0},
		{"empty prediction", "", "the answer", 0},
		{"case and punctuation ignored", "Answer: 4.", "answer 4", 1.0},
		{"half overlap", "x equals", "x equals 7 exactly", 0.5},
		{"no overlap", "cats and dogs", "7 11 13", 0},
		{"duplicate tokens count once", "4 4 4", "4", 1.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TokenOverlap(tt.prediction, tt.truth)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("TokenOverlap(%q, %q) = %v, want %v", tt.prediction, tt.truth, got, tt.want)
			}
		})
	}
}

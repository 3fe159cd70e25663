package feedback

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/quadra0/quadra/internal/log"
	"github.com/quadra0/quadra/internal/solver"
)

// fakeRunner answers with a canned function of the question.
type fakeRunner struct {
	answer    func(question string) (string, error)
	lastDemos []solver.Demo
	calls     int
}

func (f *fakeRunner) GenerateWithDemos(_ context.Context, question, _ string, demos []solver.Demo) (string, error) {
	f.calls++
	f.lastDemos = demos
	return f.answer(question)
}

// echo turns "question N" into "answer N", scoring 1.0 against the
// examples fixture.
func echo(q string) (string, error) {
	return strings.Replace(q, "question", "answer", 1), nil
}

func examples(n int) []TrainingExample {
	exs := make([]TrainingExample, 0, n)
	for i := range n {
		exs = append(exs, TrainingExample{
			Question: fmt.Sprintf("question %d", i),
			Answer:   fmt.Sprintf("answer %d", i),
			Rating:   4 + i%2,
		})
	}
	return exs
}

func TestNewOptimizer_MinimumValidation(t *testing.T) {
	runner := &fakeRunner{answer: echo}
	if _, err := NewOptimizer(runner, -1, log.NewNop()); err == nil {
		t.Error("negative minimum accepted")
	}

	opt, err := NewOptimizer(runner, 0, log.NewNop())
	if err != nil {
		t.Fatalf("NewOptimizer() = %v", err)
	}
	if opt.minExamples != MinTrainingExamples {
		t.Errorf("minExamples = %d, want default %d", opt.minExamples, MinTrainingExamples)
	}
}

func TestOptimize_SkipsBelowMinimum(t *testing.T) {
	runner := &fakeRunner{answer: func(string) (string, error) { return "x", nil }}
	opt, err := NewOptimizer(runner, 0, log.NewNop())
	if err != nil {
		t.Fatalf("NewOptimizer() = %v", err)
	}

	artifact, outcome := opt.Optimize(context.Background(), examples(4))
	if artifact != nil {
		t.Error("artifact produced below the example minimum")
	}
	if outcome.Success {
		t.Error("Success = true for a skipped optimization")
	}
	if outcome.ExamplesUsed != 4 {
		t.Errorf("ExamplesUsed = %d, want 4", outcome.ExamplesUsed)
	}
	if !strings.Contains(outcome.Reason, "insufficient") {
		t.Errorf("Reason = %q", outcome.Reason)
	}
	if runner.calls != 0 {
		t.Errorf("runner called %d times for a skipped optimization", runner.calls)
	}
}

func TestOptimize_ConfiguredMinimum(t *testing.T) {
	runner := &fakeRunner{answer: echo}
	opt, err := NewOptimizer(runner, 3, log.NewNop())
	if err != nil {
		t.Fatalf("NewOptimizer() = %v", err)
	}

	if _, outcome := opt.Optimize(context.Background(), examples(2)); outcome.Success {
		t.Error("optimization ran below the configured minimum")
	}
	if _, outcome := opt.Optimize(context.Background(), examples(3)); !outcome.Success {
		t.Errorf("optimization skipped at the configured minimum: %+v", outcome)
	}
}

func TestOptimize_ScoresHoldoutSplit(t *testing.T) {
	runner := &fakeRunner{answer: echo}
	opt, _ := NewOptimizer(runner, 0, log.NewNop())

	artifact, outcome := opt.Optimize(context.Background(), examples(10))
	if !outcome.Success {
		t.Fatalf("Success = false: %+v", outcome)
	}
	if artifact == nil {
		t.Fatal("nil artifact on success")
	}
	if math.Abs(outcome.Score-1.0) > 1e-9 {
		t.Errorf("Score = %v, want 1.0", outcome.Score)
	}
	if artifact.Score != outcome.Score {
		t.Errorf("artifact score %v != outcome score %v", artifact.Score, outcome.Score)
	}
	if outcome.ExamplesUsed != 10 {
		t.Errorf("ExamplesUsed = %d, want 10", outcome.ExamplesUsed)
	}
	// 10 examples: 4 fitting calls (all accepted) + 2 holdout
	// evaluations.
	if runner.calls != 6 {
		t.Errorf("runner called %d times, want 4 fitting + 2 holdout", runner.calls)
	}
	if len(artifact.Demos) != maxDemos {
		t.Errorf("artifact carries %d demos, want %d", len(artifact.Demos), maxDemos)
	}
	if artifact.CompiledAt.IsZero() {
		t.Error("CompiledAt not set")
	}
}

func TestOptimize_MetricFailingExampleExcludedFromDemos(t *testing.T) {
	// "question 1" is the highest-priority candidate but its prediction
	// shares no tokens with its answer, so fitting must reject it --
	// including from the labeled fallback slots.
	runner := &fakeRunner{answer: func(q string) (string, error) {
		if q == "question 1" {
			return "zzz qqq", nil
		}
		return echo(q)
	}}
	opt, _ := NewOptimizer(runner, 0, log.NewNop())

	artifact, outcome := opt.Optimize(context.Background(), examples(10))
	if !outcome.Success || artifact == nil {
		t.Fatalf("optimization failed: %+v", outcome)
	}
	for _, d := range artifact.Demos {
		if d.Question == "question 1" {
			t.Fatal("metric-rejected example published as a demo")
		}
	}
	// 8 training examples minus the rejected one.
	if len(artifact.Demos) != 7 {
		t.Errorf("artifact carries %d demos, want 7", len(artifact.Demos))
	}
}

func TestOptimize_RankByRating(t *testing.T) {
	exs := []TrainingExample{
		{Question: "low1", Answer: "a", Rating: 4},
		{Question: "top1", Answer: "a", Rating: 5},
		{Question: "low2", Answer: "a", Rating: 4},
		{Question: "top2", Answer: "a", Rating: 5},
	}
	ranked := rankByRating(exs)
	if ranked[0].Question != "top1" || ranked[1].Question != "top2" {
		t.Errorf("ranked = %v, want the two rating-5 examples first in order", ranked)
	}
	if ranked[2].Question != "low1" || ranked[3].Question != "low2" {
		t.Errorf("ranked = %v, want rating-4 examples in recency order", ranked)
	}
}

func TestOptimize_AllEvaluationsFailing(t *testing.T) {
	runner := &fakeRunner{answer: func(string) (string, error) {
		return "", errors.New("model down")
	}}
	opt, _ := NewOptimizer(runner, 0, log.NewNop())

	artifact, outcome := opt.Optimize(context.Background(), examples(10))
	if artifact != nil || outcome.Success {
		t.Errorf("optimization succeeded with no usable evaluations: %+v", outcome)
	}
}

func TestOptimize_FittingErrorsFallBackToLabeledDemos(t *testing.T) {
	// The generator errors on every fitting call but answers the
	// holdout, so the artifact carries unvalidated labeled demos.
	runner := &fakeRunner{answer: func(q string) (string, error) {
		if q == "question 8" || q == "question 9" {
			return echo(q)
		}
		return "", errors.New("model down")
	}}
	opt, _ := NewOptimizer(runner, 0, log.NewNop())

	artifact, outcome := opt.Optimize(context.Background(), examples(10))
	if !outcome.Success || artifact == nil {
		t.Fatalf("optimization failed: %+v", outcome)
	}
	if len(artifact.Demos) != maxDemos {
		t.Errorf("artifact carries %d demos, want %d labeled fallbacks", len(artifact.Demos), maxDemos)
	}
}

func TestOptimize_PartialEvaluationFailure(t *testing.T) {
	// One of the two holdout questions fails; the other scores 1.0.
	runner := &fakeRunner{answer: func(q string) (string, error) {
		if q == "question 8" {
			return "", errors.New("transient")
		}
		return echo(q)
	}}
	opt, _ := NewOptimizer(runner, 0, log.NewNop())

	_, outcome := opt.Optimize(context.Background(), examples(10))
	if !outcome.Success {
		t.Fatalf("Success = false: %+v", outcome)
	}
	if math.Abs(outcome.Score-0.5) > 1e-9 {
		t.Errorf("Score = %v, want 0.5", outcome.Score)
	}
}

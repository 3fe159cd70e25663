package feedback

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/quadra0/quadra/internal/solver"
)

const (
	// maxDemos caps how many worked examples a compiled artifact
	// carries; beyond this the prompt grows without measurable gain.
	maxDemos = 8

	// maxBootstrappedDemos caps how many demos the fitting step may
	// validate against the metric. The rest of the slots are filled
	// with labeled examples.
	maxBootstrappedDemos = 4
)

// DemoRunner generates an answer with an explicit demo set, bypassing
// the published artifact. *solver.Solver satisfies it.
type DemoRunner interface {
	GenerateWithDemos(ctx context.Context, question, contextBlob string, demos []solver.Demo) (string, error)
}

// Optimizer compiles a candidate artifact from mined training examples
// and scores it on a held-out split before it may be published.
type Optimizer struct {
	runner      DemoRunner
	minExamples int
	logger      *slog.Logger
}

// NewOptimizer creates an Optimizer. minExamples of zero applies the
// MinTrainingExamples default.
func NewOptimizer(runner DemoRunner, minExamples int, logger *slog.Logger) (*Optimizer, error) {
	if runner == nil {
		return nil, fmt.Errorf("demo runner is required")
	}
	if minExamples < 0 {
		return nil, fmt.Errorf("minimum example count must not be negative: %d", minExamples)
	}
	if minExamples == 0 {
		minExamples = MinTrainingExamples
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Optimizer{runner: runner, minExamples: minExamples, logger: logger}, nil
}

// Optimize runs an 80/20 train/eval split: demos are fitted against the
// training split with the token-overlap metric, and the candidate is
// scored on the eval split with the same metric. Fewer examples than
// the configured minimum skips optimization entirely. The returned
// artifact is nil whenever the outcome is unsuccessful.
func (o *Optimizer) Optimize(ctx context.Context, examples []TrainingExample) (*solver.Artifact, Outcome) {
	if len(examples) < o.minExamples {
		return nil, Outcome{
			ExamplesUsed: len(examples),
			Reason: fmt.Sprintf("insufficient training examples: %d < %d",
				len(examples), o.minExamples),
		}
	}

	split := len(examples) * 4 / 5
	if split == len(examples) {
		split = len(examples) - 1
	}
	train, holdout := examples[:split], examples[split:]

	demos := o.fitDemos(ctx, train)

	var (
		total    float64
		failures int
	)
	for _, ex := range holdout {
		pred, err := o.runner.GenerateWithDemos(ctx, ex.Question, "", demos)
		if err != nil {
			o.logger.Warn("candidate evaluation call failed", "error", err)
			failures++
			continue
		}
		total += TokenOverlap(pred, ex.Answer)
	}
	if failures == len(holdout) {
		return nil, Outcome{
			ExamplesUsed: len(examples),
			Reason:       "evaluation failed for every held-out example",
		}
	}

	score := total / float64(len(holdout))
	artifact := &solver.Artifact{
		ID:         uuid.New(),
		Demos:      demos,
		Score:      score,
		CompiledAt: time.Now(),
	}

	o.logger.Info("optimization complete",
		"score", score, "train", len(train), "holdout", len(holdout), "demos", len(demos))
	return artifact, Outcome{Success: true, Score: score, ExamplesUsed: len(examples)}
}

// fitDemos compiles the demo set from the training split. Candidates
// are taken in rating order and run through the generator with the
// demos accepted so far; a candidate whose prediction shares no tokens
// with its known-good answer is rejected outright. Remaining slots are
// filled with labeled examples that were never metric-rejected, so a
// broken generator still yields a usable labeled demo set.
func (o *Optimizer) fitDemos(ctx context.Context, train []TrainingExample) []solver.Demo {
	ranked := rankByRating(train)

	demos := make([]solver.Demo, 0, maxDemos)
	used := make(map[string]bool, maxDemos)
	rejected := make(map[string]bool)

	for _, ex := range ranked {
		if len(demos) == maxBootstrappedDemos {
			break
		}
		pred, err := o.runner.GenerateWithDemos(ctx, ex.Question, "", demos)
		if err != nil {
			o.logger.Warn("demo fitting call failed", "error", err)
			continue
		}
		if TokenOverlap(pred, ex.Answer) == 0 {
			rejected[ex.Question] = true
			continue
		}
		demos = append(demos, solver.Demo{Question: ex.Question, Answer: ex.Answer})
		used[ex.Question] = true
	}

	for _, ex := range ranked {
		if len(demos) == maxDemos {
			break
		}
		if used[ex.Question] || rejected[ex.Question] {
			continue
		}
		demos = append(demos, solver.Demo{Question: ex.Question, Answer: ex.Answer})
		used[ex.Question] = true
	}
	return demos
}

// rankByRating orders training examples highest rating first,
// preserving recency order within equal ratings.
func rankByRating(train []TrainingExample) []TrainingExample {
	ranked := make([]TrainingExample, len(train))
	copy(ranked, train)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Rating > ranked[j].Rating
	})
	return ranked
}

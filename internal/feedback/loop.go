package feedback

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/quadra0/quadra/internal/knowledge"
	"github.com/quadra0/quadra/internal/solver"
)

const (
	// suggestionLimit is how many low-rated records feed suggestions.
	suggestionLimit = 10

	// miningPool bounds how many high-rated records example mining
	// considers per cycle.
	miningPool = 200

	// kbUpdateLimit is how many recent corrections are pushed into
	// the knowledge base per cycle.
	kbUpdateLimit = 5

	// analysisLimit is how many low-rated records get diagnosed.
	analysisLimit = 10
)

// Source is the feedback data the loop reads. *Store satisfies it.
type Source interface {
	Stats(ctx context.Context) (Stats, error)
	LowRated(ctx context.Context, maxRating, limit int) ([]Record, error)
	HighRated(ctx context.Context, minRating, limit int) ([]Record, error)
	Corrections(ctx context.Context, limit int) ([]Record, error)
}

// ArtifactOptimizer compiles and scores a candidate artifact.
// *Optimizer satisfies it.
type ArtifactOptimizer interface {
	Optimize(ctx context.Context, examples []TrainingExample) (*solver.Artifact, Outcome)
}

// KnowledgeWriter appends documents to the knowledge base.
// *knowledge.Store satisfies it.
type KnowledgeWriter interface {
	AddBatch(ctx context.Context, docs []knowledge.Document) ([]uuid.UUID, error)
}

// AuditSink records completed cycles. *CycleStore satisfies it.
type AuditSink interface {
	Insert(ctx context.Context, rec CycleRecord) (uuid.UUID, error)
}

// Diagnoser analyzes low-rated answers. *Analyzer satisfies it;
// nil disables the step.
type Diagnoser interface {
	AnalyzeRecent(ctx context.Context, limit int) (int, error)
}

// Loop runs learning cycles. Every step is best-effort except the
// publish step, which only ever installs a successfully scored
// artifact. The loop itself is not concurrency-guarded; the scheduler
// serializes RunCycle calls.
type Loop struct {
	source      Source
	optimizer   ArtifactOptimizer
	kb          KnowledgeWriter
	slot        *solver.Slot
	audit       AuditSink
	diagnoser   Diagnoser
	minExamples int
	logger      *slog.Logger
}

// LoopConfig wires a Loop. Source, Optimizer, Knowledge, Slot and
// Audit are required; Diagnoser may be nil. MinExamples of zero
// applies the MinTrainingExamples default.
type LoopConfig struct {
	Source      Source
	Optimizer   ArtifactOptimizer
	Knowledge   KnowledgeWriter
	Slot        *solver.Slot
	Audit       AuditSink
	Diagnoser   Diagnoser
	MinExamples int
	Logger      *slog.Logger
}

// NewLoop creates a Loop.
func NewLoop(cfg LoopConfig) (*Loop, error) {
	switch {
	case cfg.Source == nil:
		return nil, fmt.Errorf("feedback source is required")
	case cfg.Optimizer == nil:
		return nil, fmt.Errorf("optimizer is required")
	case cfg.Knowledge == nil:
		return nil, fmt.Errorf("knowledge writer is required")
	case cfg.Slot == nil:
		return nil, fmt.Errorf("artifact slot is required")
	case cfg.Audit == nil:
		return nil, fmt.Errorf("audit sink is required")
	case cfg.MinExamples < 0:
		return nil, fmt.Errorf("minimum example count must not be negative: %d", cfg.MinExamples)
	}
	minExamples := cfg.MinExamples
	if minExamples == 0 {
		minExamples = MinTrainingExamples
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		source:      cfg.Source,
		optimizer:   cfg.Optimizer,
		kb:          cfg.Knowledge,
		slot:        cfg.Slot,
		audit:       cfg.Audit,
		diagnoser:   cfg.Diagnoser,
		minExamples: minExamples,
		logger:      logger,
	}, nil
}

// RunCycle executes one learning cycle and returns its summary. The
// result's Success reflects the optimization outcome; a cycle whose
// optimization was skipped or failed still completes its remaining
// steps and is audited.
func (l *Loop) RunCycle(ctx context.Context, trigger Trigger) CycleResult {
	started := time.Now()
	l.logger.Info("learning cycle started", "trigger", trigger)

	// 1. Statistics snapshot.
	stats, err := l.source.Stats(ctx)
	if err != nil {
		l.logger.Warn("feedback stats unavailable", "error", err)
		stats = Stats{Histogram: map[int]int64{}}
	}

	// 2. Improvement suggestions from recent low-rated feedback.
	var suggestions []Suggestion
	if low, err := l.source.LowRated(ctx, 2, suggestionLimit); err != nil {
		l.logger.Warn("low-rated feedback unavailable", "error", err)
	} else {
		suggestions = SuggestImprovements(low)
	}

	if l.diagnoser != nil {
		if n, err := l.diagnoser.AnalyzeRecent(ctx, analysisLimit); err != nil {
			l.logger.Warn("failure analysis skipped", "error", err)
		} else if n > 0 {
			l.logger.Info("failure analyses stored", "count", n)
		}
	}

	// 3. Mine training examples.
	var examples []TrainingExample
	if high, err := l.source.HighRated(ctx, 4, miningPool); err != nil {
		l.logger.Warn("high-rated feedback unavailable", "error", err)
	} else {
		examples = MineExamples(high, l.minExamples)
	}

	// 4. Optimize. Below the minimum the optimizer is never consulted
	// and the artifact slot is never touched.
	var (
		artifact *solver.Artifact
		outcome  Outcome
	)
	if len(examples) < l.minExamples {
		outcome = Outcome{
			ExamplesUsed: len(examples),
			Reason: fmt.Sprintf("insufficient training examples: %d < %d",
				len(examples), l.minExamples),
		}
		l.logger.Info("optimization skipped", "examples", len(examples))
	} else {
		artifact, outcome = l.optimizer.Optimize(ctx, examples)
	}

	// 5. Push recent corrections into the knowledge base.
	knowledgeAdded := l.updateKnowledge(ctx)

	// 6. Publish, strictly guarded: never replace a working artifact
	// with a failed candidate.
	if outcome.Success && artifact != nil {
		l.slot.Publish(artifact)
		l.logger.Info("generator artifact published",
			"id", artifact.ID, "score", artifact.Score, "demos", len(artifact.Demos))
	}

	// 7. Audit.
	record := CycleRecord{
		Trigger:          trigger,
		CompletedAt:      time.Now(),
		Stats:            stats,
		Optimization:     outcome,
		SuggestionsCount: len(suggestions),
		KnowledgeAdded:   knowledgeAdded,
	}
	if _, err := l.audit.Insert(ctx, record); err != nil {
		l.logger.Error("cycle audit insert failed", "error", err)
	}

	l.logger.Info("learning cycle finished",
		"trigger", trigger, "duration", time.Since(started),
		"optimized", outcome.Success, "score", outcome.Score,
		"examples", outcome.ExamplesUsed)

	return CycleResult{
		Success:      outcome.Success,
		Score:        outcome.Score,
		ExamplesUsed: outcome.ExamplesUsed,
		Error:        outcome.Reason,
	}
}

// updateKnowledge pushes the newest validated corrections into the
// knowledge base and returns how many documents were added. Failures
// are logged, never fatal.
func (l *Loop) updateKnowledge(ctx context.Context) int {
	corrections, err := l.source.Corrections(ctx, kbUpdateLimit)
	if err != nil {
		l.logger.Warn("corrections unavailable for knowledge update", "error", err)
		return 0
	}
	if len(corrections) == 0 {
		return 0
	}

	docs := make([]knowledge.Document, 0, len(corrections))
	for _, rec := range corrections {
		docs = append(docs, knowledge.Document{
			Question: rec.Question,
			Answer:   rec.CorrectedAnswer,
			Source:   knowledge.SourceFeedback,
			Metadata: map[string]string{"rating": fmt.Sprintf("%d", rec.Rating)},
		})
	}

	ids, err := l.kb.AddBatch(ctx, docs)
	if err != nil {
		l.logger.Warn("knowledge base update failed",
			"added", len(ids), "attempted", len(docs), "error", err)
	}
	return len(ids)
}

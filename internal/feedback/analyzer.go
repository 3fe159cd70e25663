package feedback

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/google/uuid"

	"github.com/quadra0/quadra/internal/gate"
)

// Failure categories assigned by analysis.
const (
	FailureCalculation   = "calculation_error"
	FailureMisunderstood = "misunderstood_question"
	FailureFormatting    = "formatting"
	FailureOther         = "other"
)

// Analysis is one diagnosed low-rated answer.
type Analysis struct {
	ID         uuid.UUID `json:"id"`
	FeedbackID uuid.UUID `json:"feedback_id"`
	Category   string    `json:"category"`
	Summary    string    `json:"summary"`
}

const analyzePrompt = `A mathematics answer received a poor user rating. Diagnose why.
Respond with only a JSON object, no code fences:
{"category": "calculation_error" | "misunderstood_question" | "formatting" | "other", "summary": "<one sentence>"}

Question: %s
Answer: %s
User comment: %s`

// analysisResponseLimit guards against runaway model output.
const analysisResponseLimit = 2048

// Analyzer diagnoses low-rated answers with one model call each and
// persists the diagnoses for review. All of its work is best-effort;
// the learning loop treats analyzer failures as observability gaps,
// never cycle failures.
type Analyzer struct {
	g         *genkit.Genkit
	modelName string
	db        Querier
	source    *Store
	logger    *slog.Logger
}

// NewAnalyzer creates an Analyzer.
func NewAnalyzer(g *genkit.Genkit, modelName string, db Querier, source *Store, logger *slog.Logger) (*Analyzer, error) {
	if g == nil {
		return nil, fmt.Errorf("genkit instance is required")
	}
	if modelName == "" {
		return nil, fmt.Errorf("model name is required")
	}
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	if source == nil {
		return nil, fmt.Errorf("feedback source is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{g: g, modelName: modelName, db: db, source: source, logger: logger}, nil
}

// AnalyzeRecent diagnoses the newest low-rated records (rating <= 2)
// that have not been analyzed yet, up to limit, and returns how many
// diagnoses were stored. Per-record failures are logged and skipped.
func (a *Analyzer) AnalyzeRecent(ctx context.Context, limit int) (int, error) {
	records, err := a.source.LowRated(ctx, 2, limit)
	if err != nil {
		return 0, fmt.Errorf("fetching low-rated feedback: %w", err)
	}

	stored := 0
	for _, rec := range records {
		analyzed, err := a.alreadyAnalyzed(ctx, rec.ID)
		if err != nil {
			a.logger.Warn("analysis lookup failed", "feedback_id", rec.ID, "error", err)
			continue
		}
		if analyzed {
			continue
		}

		analysis, err := a.analyze(ctx, rec)
		if err != nil {
			a.logger.Warn("failure analysis call failed", "feedback_id", rec.ID, "error", err)
			continue
		}
		if err := a.insert(ctx, analysis); err != nil {
			a.logger.Warn("storing failure analysis failed", "feedback_id", rec.ID, "error", err)
			continue
		}
		stored++
	}
	return stored, nil
}

func (a *Analyzer) analyze(ctx context.Context, rec Record) (Analysis, error) {
	comment := rec.UserComment
	if comment == "" {
		comment = "(none)"
	}
	resp, err := genkit.Generate(ctx, a.g,
		ai.WithModelName(a.modelName),
		ai.WithPrompt(fmt.Sprintf(analyzePrompt, rec.Question, rec.GeneratedAnswer, comment)),
	)
	if err != nil {
		return Analysis{}, fmt.Errorf("analysis call: %w", err)
	}

	raw := gate.StripCodeFences(resp.Text())
	if len(raw) > analysisResponseLimit {
		return Analysis{}, fmt.Errorf("analysis response too large: %d bytes", len(raw))
	}

	var parsed struct {
		Category string `json:"category"`
		Summary  string `json:"summary"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return Analysis{}, fmt.Errorf("unmarshaling analysis: %w", err)
	}

	return Analysis{
		FeedbackID: rec.ID,
		Category:   normalizeCategory(parsed.Category),
		Summary:    parsed.Summary,
	}, nil
}

func (a *Analyzer) alreadyAnalyzed(ctx context.Context, feedbackID uuid.UUID) (bool, error) {
	var exists bool
	err := a.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM failure_analysis WHERE feedback_id = $1)`, feedbackID,
	).Scan(&exists)
	return exists, err
}

func (a *Analyzer) insert(ctx context.Context, analysis Analysis) error {
	_, err := a.db.Exec(ctx,
		`INSERT INTO failure_analysis (feedback_id, category, summary) VALUES ($1, $2, $3)`,
		analysis.FeedbackID, analysis.Category, analysis.Summary)
	return err
}

func normalizeCategory(category string) string {
	switch category {
	case FailureCalculation, FailureMisunderstood, FailureFormatting:
		return category
	default:
		return FailureOther
	}
}

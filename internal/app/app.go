// Package app wires the application together: database, AI runtime,
// stores, pipeline, learning loop and scheduler.
package app

import (
	"context"
	"log/slog"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quadra0/quadra/internal/config"
	"github.com/quadra0/quadra/internal/feedback"
	"github.com/quadra0/quadra/internal/gate"
	"github.com/quadra0/quadra/internal/knowledge"
	"github.com/quadra0/quadra/internal/pipeline"
	"github.com/quadra0/quadra/internal/scheduler"
	"github.com/quadra0/quadra/internal/solver"
	"github.com/quadra0/quadra/internal/websearch"
)

// App holds every initialized component. Create with Setup, release
// with Close.
type App struct {
	Config *config.Config
	Logger *slog.Logger

	Pool     *pgxpool.Pool
	Genkit   *genkit.Genkit
	Embedder ai.Embedder

	Knowledge *knowledge.Store
	Feedback  *feedback.Store
	Cycles    *feedback.CycleStore

	Gate   *gate.Gate
	Search *websearch.Client

	Slot   *solver.Slot
	Solver *solver.Solver

	Pipeline  *pipeline.Pipeline
	Loop      *feedback.Loop
	Scheduler *scheduler.Scheduler

	dbCleanup func()
}

// Close releases held resources. Safe to call on a partially
// initialized App.
func (a *App) Close() error {
	if a.dbCleanup != nil {
		a.dbCleanup()
	}
	return nil
}

// correctionSource adapts the feedback store's validated corrections
// to the pipeline's context-building interface.
type correctionSource struct {
	store *feedback.Store
}

func (c *correctionSource) CanonicalCorrections(ctx context.Context, limit int) ([]pipeline.Correction, error) {
	records, err := c.store.Corrections(ctx, limit)
	if err != nil {
		return nil, err
	}
	corrections := make([]pipeline.Correction, 0, len(records))
	for _, rec := range records {
		corrections = append(corrections, pipeline.Correction{
			Question: rec.Question,
			Answer:   rec.CorrectedAnswer,
		})
	}
	return corrections, nil
}

package feedback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// CycleStore persists one immutable audit row per completed learning
// cycle.
type CycleStore struct {
	db     Querier
	logger *slog.Logger
}

// NewCycleStore creates a CycleStore.
func NewCycleStore(db Querier, logger *slog.Logger) (*CycleStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CycleStore{db: db, logger: logger}, nil
}

// Insert appends a cycle record and returns its ID.
func (s *CycleStore) Insert(ctx context.Context, rec CycleRecord) (uuid.UUID, error) {
	statsJSON, err := json.Marshal(rec.Stats)
	if err != nil {
		return uuid.Nil, fmt.Errorf("marshaling stats snapshot: %w", err)
	}
	outcomeJSON, err := json.Marshal(rec.Optimization)
	if err != nil {
		return uuid.Nil, fmt.Errorf("marshaling optimization outcome: %w", err)
	}

	var id uuid.UUID
	err = s.db.QueryRow(ctx,
		`INSERT INTO learning_cycles (trigger_type, completed_at, stats, optimization, suggestions_count, knowledge_added)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id`,
		string(rec.Trigger), rec.CompletedAt, statsJSON, outcomeJSON,
		rec.SuggestionsCount, rec.KnowledgeAdded,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("inserting cycle record: %w", err)
	}

	s.logger.Info("learning cycle recorded",
		"id", id, "trigger", rec.Trigger,
		"optimized", rec.Optimization.Success, "score", rec.Optimization.Score)
	return id, nil
}

// QueryRecent returns the newest cycle records, newest first.
func (s *CycleStore) QueryRecent(ctx context.Context, limit int) ([]CycleRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.Query(ctx,
		`SELECT id, trigger_type, completed_at, stats, optimization, suggestions_count, knowledge_added
		 FROM learning_cycles ORDER BY completed_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying cycle records: %w", err)
	}
	defer rows.Close()

	var records []CycleRecord
	for rows.Next() {
		var (
			rec         CycleRecord
			trigger     string
			statsJSON   []byte
			outcomeJSON []byte
		)
		if err := rows.Scan(&rec.ID, &trigger, &rec.CompletedAt,
			&statsJSON, &outcomeJSON, &rec.SuggestionsCount, &rec.KnowledgeAdded); err != nil {
			return nil, fmt.Errorf("scanning cycle row: %w", err)
		}
		rec.Trigger = Trigger(trigger)
		if err := json.Unmarshal(statsJSON, &rec.Stats); err != nil {
			s.logger.Warn("unparsable stats snapshot", "id", rec.ID, "error", err)
		}
		if err := json.Unmarshal(outcomeJSON, &rec.Optimization); err != nil {
			s.logger.Warn("unparsable optimization outcome", "id", rec.ID, "error", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading cycle rows: %w", err)
	}
	return records, nil
}

// LastCompleted returns when the most recent cycle finished. ok is
// false when no cycle has ever run.
func (s *CycleStore) LastCompleted(ctx context.Context) (time.Time, bool, error) {
	var completed time.Time
	err := s.db.QueryRow(ctx,
		`SELECT completed_at FROM learning_cycles ORDER BY completed_at DESC LIMIT 1`,
	).Scan(&completed)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("querying last cycle: %w", err)
	}
	return completed, true, nil
}

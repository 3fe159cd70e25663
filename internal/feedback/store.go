package feedback

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is the subset of pgx operations the store needs. Both
// *pgxpool.Pool and pgx.Tx satisfy it; tests supply a fake.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const feedbackCols = `id, question, generated_answer, rating, user_comment,
	corrected_answer, is_correct, created_at`

// Store persists feedback records in PostgreSQL. Records are
// append-only; there is no update path.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	db     Querier
	logger *slog.Logger
}

// NewStore creates a feedback Store.
func NewStore(db Querier, logger *slog.Logger) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger}, nil
}

// Insert appends one feedback record and returns its ID-populated copy.
func (s *Store) Insert(ctx context.Context, rec Record) (Record, error) {
	if err := validateRecord(rec); err != nil {
		return Record{}, err
	}

	row := s.db.QueryRow(ctx,
		`INSERT INTO feedback (question, generated_answer, rating, user_comment, corrected_answer, is_correct)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, created_at`,
		rec.Question, rec.GeneratedAnswer, rec.Rating,
		nullable(rec.UserComment), nullable(rec.CorrectedAnswer), rec.IsCorrect,
	)
	if err := row.Scan(&rec.ID, &rec.CreatedAt); err != nil {
		return Record{}, fmt.Errorf("inserting feedback: %w", err)
	}

	s.logger.Debug("feedback recorded", "id", rec.ID, "rating", rec.Rating,
		"corrected", rec.CorrectedAnswer != "")
	return rec, nil
}

// Recent returns the newest records, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Record, error) {
	return s.query(ctx, `SELECT `+feedbackCols+` FROM feedback
		ORDER BY created_at DESC LIMIT $1`, limit)
}

// LowRated returns the newest records with rating <= maxRating.
func (s *Store) LowRated(ctx context.Context, maxRating, limit int) ([]Record, error) {
	return s.query(ctx, `SELECT `+feedbackCols+` FROM feedback
		WHERE rating <= $1 ORDER BY created_at DESC LIMIT $2`, maxRating, limit)
}

// HighRated returns the newest records with rating >= minRating.
func (s *Store) HighRated(ctx context.Context, minRating, limit int) ([]Record, error) {
	return s.query(ctx, `SELECT `+feedbackCols+` FROM feedback
		WHERE rating >= $1 ORDER BY created_at DESC LIMIT $2`, minRating, limit)
}

// Corrections returns the newest records that carry a user correction
// and a rating of at least 4. This is the one canonical definition of
// "validated correction" used everywhere: by the answer pipeline's
// context builder and by the learning loop's knowledge-base update.
func (s *Store) Corrections(ctx context.Context, limit int) ([]Record, error) {
	return s.query(ctx, `SELECT `+feedbackCols+` FROM feedback
		WHERE rating >= 4 AND corrected_answer IS NOT NULL
		ORDER BY created_at DESC LIMIT $1`, limit)
}

// CountSince counts records created at or after the given time.
func (s *Store) CountSince(ctx context.Context, since time.Time) (int64, error) {
	var count int64
	err := s.db.QueryRow(ctx,
		`SELECT count(*) FROM feedback WHERE created_at >= $1`, since,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting feedback: %w", err)
	}
	return count, nil
}

// Stats aggregates the full feedback table into one snapshot.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{Histogram: make(map[int]int64, 5)}

	err := s.db.QueryRow(ctx, `SELECT count(*),
			coalesce(avg(rating), 0),
			coalesce(avg(CASE WHEN is_correct THEN 1.0 ELSE 0.0 END), 0)
		FROM feedback`,
	).Scan(&stats.Count, &stats.AverageRating, &stats.CorrectFraction)
	if err != nil {
		return Stats{}, fmt.Errorf("aggregating feedback: %w", err)
	}

	rows, err := s.db.Query(ctx,
		`SELECT rating, count(*) FROM feedback GROUP BY rating`)
	if err != nil {
		return Stats{}, fmt.Errorf("feedback histogram: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			rating int
			count  int64
		)
		if err := rows.Scan(&rating, &count); err != nil {
			return Stats{}, fmt.Errorf("scanning histogram row: %w", err)
		}
		stats.Histogram[rating] = count
	}
	if err := rows.Err(); err != nil {
		return Stats{}, fmt.Errorf("reading histogram rows: %w", err)
	}
	return stats, nil
}

func (s *Store) query(ctx context.Context, sql string, args ...any) ([]Record, error) {
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("querying feedback: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			rec       Record
			comment   *string
			corrected *string
		)
		if err := rows.Scan(&rec.ID, &rec.Question, &rec.GeneratedAnswer, &rec.Rating,
			&comment, &corrected, &rec.IsCorrect, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning feedback row: %w", err)
		}
		if comment != nil {
			rec.UserComment = *comment
		}
		if corrected != nil {
			rec.CorrectedAnswer = *corrected
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading feedback rows: %w", err)
	}
	return records, nil
}

func validateRecord(rec Record) error {
	if strings.TrimSpace(rec.Question) == "" {
		return fmt.Errorf("question is required")
	}
	if strings.TrimSpace(rec.GeneratedAnswer) == "" {
		return fmt.Errorf("generated answer is required")
	}
	if rec.Rating < 1 || rec.Rating > 5 {
		return fmt.Errorf("rating %d out of range 1..5", rec.Rating)
	}
	return nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

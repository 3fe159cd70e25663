package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"
	"google.golang.org/genai"
)

// Querier is the subset of pgx operations the store needs. Both
// *pgxpool.Pool and pgx.Tx satisfy it; tests supply a fake.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// MaxQuestionLength caps stored question text; longer questions are a
// sign the caller skipped input validation.
const MaxQuestionLength = 2000

// upsertDocumentSQL deduplicates on the question text: re-learning a
// question replaces its answer and embedding instead of accumulating
// stale rows.
const upsertDocumentSQL = `INSERT INTO knowledge_base
		(question, answer, topic, difficulty, source, metadata, embedding)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (md5(question)) DO UPDATE SET
		answer = EXCLUDED.answer,
		topic = EXCLUDED.topic,
		difficulty = EXCLUDED.difficulty,
		source = EXCLUDED.source,
		metadata = EXCLUDED.metadata,
		embedding = EXCLUDED.embedding
	RETURNING id`

const searchDocumentsSQL = `SELECT id, question, answer, topic, difficulty, source, metadata, created_at,
		1 - (embedding <=> $1) AS similarity
	FROM knowledge_base
	ORDER BY embedding <=> $1
	LIMIT $2`

// Store manages the question/answer knowledge base backed by
// PostgreSQL + pgvector.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	db       Querier
	embedder ai.Embedder
	logger   *slog.Logger
}

// NewStore creates a knowledge Store.
func NewStore(db Querier, embedder ai.Embedder, logger *slog.Logger) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, embedder: embedder, logger: logger}, nil
}

// embed generates a vector embedding for the given text.
func (s *Store) embed(ctx context.Context, text string) (pgvector.Vector, error) {
	dim := VectorDimension
	resp, err := s.embedder.Embed(ctx, &ai.EmbedRequest{
		Input:   []*ai.Document{ai.DocumentFromText(text, nil)},
		Options: &genai.EmbedContentConfig{OutputDimensionality: &dim},
	})
	if err != nil {
		return pgvector.Vector{}, fmt.Errorf("embedding text: %w", err)
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Embedding) == 0 {
		return pgvector.Vector{}, fmt.Errorf("empty embedding response")
	}
	return pgvector.NewVector(resp.Embeddings[0].Embedding), nil
}

// Add inserts a document, replacing any existing document with the same
// question text. It returns the row ID.
func (s *Store) Add(ctx context.Context, doc Document) (uuid.UUID, error) {
	if err := validateDocument(doc); err != nil {
		return uuid.Nil, err
	}

	embedCtx, cancel := context.WithTimeout(ctx, EmbedTimeout)
	defer cancel()

	vec, err := s.embed(embedCtx, doc.Question)
	if err != nil {
		return uuid.Nil, err
	}

	metadataJSON, err := json.Marshal(orEmptyMetadata(doc.Metadata))
	if err != nil {
		return uuid.Nil, fmt.Errorf("marshaling metadata: %w", err)
	}

	var id uuid.UUID
	err = s.db.QueryRow(ctx, upsertDocumentSQL,
		doc.Question, doc.Answer, doc.Topic, doc.Difficulty, doc.Source, metadataJSON, vec,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("upserting document: %w", err)
	}

	s.logger.Debug("added knowledge document",
		"id", id, "topic", doc.Topic, "source", doc.Source)
	return id, nil
}

// AddBatch inserts documents one by one and returns the IDs of those
// that succeeded. A document failure aborts the batch; IDs inserted so
// far are returned alongside the error.
func (s *Store) AddBatch(ctx context.Context, docs []Document) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(docs))
	for i, doc := range docs {
		id, err := s.Add(ctx, doc)
		if err != nil {
			return ids, fmt.Errorf("document %d of %d: %w", i+1, len(docs), err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Search returns the documents most similar to the query, ordered by
// descending cosine similarity.
func (s *Store) Search(ctx context.Context, query string, limit int) ([]Hit, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("query is required")
	}
	if limit <= 0 {
		limit = 3
	}

	searchCtx, cancel := context.WithTimeout(ctx, SearchTimeout)
	defer cancel()

	vec, err := s.embed(searchCtx, query)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("query embedding timeout: %w", err)
		}
		return nil, err
	}

	rows, err := s.db.Query(searchCtx, searchDocumentsSQL, vec, limit)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("similarity search timeout: %w", err)
		}
		return nil, fmt.Errorf("similarity search: %w", err)
	}
	defer rows.Close()

	return s.scanHits(rows)
}

// Count returns the total number of documents.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.QueryRow(ctx, `SELECT count(*) FROM knowledge_base`).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting documents: %w", err)
	}
	return count, nil
}

// Delete removes a document by ID.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM knowledge_base WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting document %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("document %s not found", id)
	}
	s.logger.Debug("deleted knowledge document", "id", id)
	return nil
}

func (s *Store) scanHits(rows pgx.Rows) ([]Hit, error) {
	var hits []Hit
	for rows.Next() {
		var (
			h            Hit
			metadataJSON []byte
			createdAt    time.Time
		)
		if err := rows.Scan(&h.ID, &h.Question, &h.Answer, &h.Topic, &h.Difficulty,
			&h.Source, &metadataJSON, &createdAt, &h.Similarity); err != nil {
			return nil, fmt.Errorf("scanning search row: %w", err)
		}
		h.CreatedAt = createdAt
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &h.Metadata); err != nil {
				s.logger.Warn("unparsable document metadata", "id", h.ID, "error", err)
				h.Metadata = map[string]string{}
			}
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading search rows: %w", err)
	}
	return hits, nil
}

func validateDocument(doc Document) error {
	if strings.TrimSpace(doc.Question) == "" {
		return fmt.Errorf("question is required")
	}
	if len(doc.Question) > MaxQuestionLength {
		return fmt.Errorf("question length %d exceeds maximum %d", len(doc.Question), MaxQuestionLength)
	}
	if strings.TrimSpace(doc.Answer) == "" {
		return fmt.Errorf("answer is required")
	}
	return nil
}

func orEmptyMetadata(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

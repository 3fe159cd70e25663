package knowledge

import (
	"time"

	"github.com/google/uuid"
)

// Source labels for knowledge documents, recorded so a document's
// provenance survives into search results and audits.
const (
	// SourceSeed marks documents loaded from a curated seed corpus.
	SourceSeed = "seed"

	// SourceFeedback marks documents produced by the learning loop
	// from user-corrected answers.
	SourceFeedback = "feedback"

	// SourceIngested marks documents imported in bulk from files.
	SourceIngested = "ingested"
)

// VectorDimension is the embedding width stored in pgvector.
// gemini-embedding-001 natively outputs 3072 dimensions; we request
// truncation to 768 via OutputDimensionality, which matches the
// vector(768) column in the schema.
const VectorDimension int32 = 768

// EmbedTimeout bounds a single embedding call.
const EmbedTimeout = 15 * time.Second

// SearchTimeout bounds a vector similarity query.
const SearchTimeout = 10 * time.Second

// Document is a solved question/answer pair in the knowledge base.
type Document struct {
	ID         uuid.UUID
	Question   string
	Answer     string
	Topic      string
	Difficulty string
	Source     string
	Metadata   map[string]string
	CreatedAt  time.Time
}

// Hit is a search result: a document plus its cosine similarity to the
// query, in [0, 1] where 1 is identical.
type Hit struct {
	Document
	Similarity float64
}

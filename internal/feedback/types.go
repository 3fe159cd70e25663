// Package feedback persists user ratings and corrections and runs the
// learning loop that turns them into an improved generator artifact.
package feedback

import (
	"time"

	"github.com/google/uuid"
)

// Trigger identifies what started a learning cycle.
type Trigger string

const (
	TriggerDaily  Trigger = "daily"
	TriggerCount  Trigger = "count"
	TriggerManual Trigger = "manual"
)

// Record is one piece of user feedback. Records are append-only and
// never mutated after insert.
type Record struct {
	ID              uuid.UUID
	Question        string
	GeneratedAnswer string
	Rating          int

	// UserComment is optional free text.
	UserComment string

	// CorrectedAnswer is the user-supplied correction, empty when the
	// user rated without correcting.
	CorrectedAnswer string

	// IsCorrect is the user's explicit verdict; nil when unstated.
	IsCorrect *bool

	CreatedAt time.Time
}

// Stats is an aggregate snapshot of accumulated feedback.
type Stats struct {
	Count           int64         `json:"count"`
	AverageRating   float64       `json:"average_rating"`
	CorrectFraction float64       `json:"correct_fraction"`
	Histogram       map[int]int64 `json:"histogram"`
}

// Suggestion pairs a low-rated record with a heuristic action.
type Suggestion struct {
	Question  string    `json:"question"`
	Rating    int       `json:"rating"`
	Action    string    `json:"action"`
	CreatedAt time.Time `json:"created_at"`
}

// Suggested actions, in order of severity.
const (
	ActionReviewCorrection = "review and add correction"
	ActionImproveClarity   = "improve clarity"
	ActionMonitor          = "monitor"
)

// TrainingExample is one mined question/answer pair. It exists only
// within a learning cycle.
type TrainingExample struct {
	Question string
	Answer   string
	Rating   int
}

// Outcome summarizes one optimization attempt. It carries only
// serializable fields; the artifact itself travels separately.
type Outcome struct {
	Success      bool    `json:"success"`
	Score        float64 `json:"score"`
	ExamplesUsed int     `json:"examples_used"`
	Reason       string  `json:"reason,omitempty"`
}

// CycleRecord is the immutable audit row of one completed cycle.
type CycleRecord struct {
	ID               uuid.UUID `json:"id"`
	Trigger          Trigger   `json:"trigger"`
	CompletedAt      time.Time `json:"completed_at"`
	Stats            Stats     `json:"stats"`
	Optimization     Outcome   `json:"optimization"`
	SuggestionsCount int       `json:"suggestions_count"`
	KnowledgeAdded   int       `json:"knowledge_added"`
}

// CycleResult is what RunCycle returns to callers: the audit summary
// without the artifact.
type CycleResult struct {
	Success      bool    `json:"success"`
	Score        float64 `json:"score"`
	ExamplesUsed int     `json:"examples_used"`
	Error        string  `json:"error,omitempty"`
}

package solver

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Demo is one worked example carried by an artifact. Demos are shown
// to the model as few-shot examples before the actual question.
type Demo struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Artifact is a compiled prompt program: the demo set a learning cycle
// selected, plus provenance. Artifacts are immutable after publication;
// a new cycle publishes a new artifact rather than mutating this one.
type Artifact struct {
	ID         uuid.UUID `json:"id"`
	Demos      []Demo    `json:"demos"`
	Score      float64   `json:"score"`
	CompiledAt time.Time `json:"compiled_at"`
}

// Slot holds the currently published artifact. Readers on the answer
// path load it lock-free; the learning loop swaps it atomically so a
// request sees either the old artifact or the new one, never a mix.
//
// The zero value is ready to use and holds no artifact.
type Slot struct {
	current atomic.Pointer[Artifact]
}

// NewSlot returns an empty slot.
func NewSlot() *Slot {
	return &Slot{}
}

// Load returns the published artifact, or nil when none has been
// published yet.
func (s *Slot) Load() *Artifact {
	return s.current.Load()
}

// Publish makes art the active artifact. A nil art clears the slot,
// reverting generation to the zero-shot baseline.
func (s *Slot) Publish(art *Artifact) {
	s.current.Store(art)
}

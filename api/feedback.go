package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/quadra0/quadra/internal/feedback"
)

const (
	// DefaultFeedbackListLimit is how many records the listing
	// endpoint returns by default.
	DefaultFeedbackListLimit = 20

	// MaxFeedbackListLimit caps the listing endpoint.
	MaxFeedbackListLimit = 100
)

// FeedbackStore persists and aggregates feedback. *feedback.Store
// satisfies it.
type FeedbackStore interface {
	Insert(ctx context.Context, rec feedback.Record) (feedback.Record, error)
	Recent(ctx context.Context, limit int) ([]feedback.Record, error)
	Stats(ctx context.Context) (feedback.Stats, error)
}

// FeedbackHandler serves feedback submission and statistics.
type FeedbackHandler struct {
	store  FeedbackStore
	logger *slog.Logger
}

// NewFeedbackHandler creates a feedback handler.
func NewFeedbackHandler(store FeedbackStore, logger *slog.Logger) *FeedbackHandler {
	return &FeedbackHandler{store: store, logger: logger}
}

// RegisterRoutes registers feedback routes on the given mux.
func (h *FeedbackHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/feedback", h.submit)
	mux.HandleFunc("GET /api/feedback", h.list)
	mux.HandleFunc("GET /api/feedback/stats", h.stats)
}

// FeedbackItem is one record in the listing response.
type FeedbackItem struct {
	ID              uuid.UUID `json:"id"`
	Question        string    `json:"question"`
	GeneratedAnswer string    `json:"generated_answer"`
	Rating          int       `json:"rating"`
	UserComment     string    `json:"user_comment,omitempty"`
	CorrectedAnswer string    `json:"corrected_answer,omitempty"`
	IsCorrect       *bool     `json:"is_correct,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// FeedbackRequest is the request body for feedback submission.
type FeedbackRequest struct {
	Question        string `json:"question"`
	GeneratedAnswer string `json:"generated_answer"`
	Rating          int    `json:"rating"`
	UserComment     string `json:"user_comment,omitempty"`
	CorrectedAnswer string `json:"corrected_answer,omitempty"`
	IsCorrect       *bool  `json:"is_correct,omitempty"`
}

func (h *FeedbackHandler) submit(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		h.logger.Error("feedback store not configured")
		writeError(w, http.StatusInternalServerError, "internal_error", "")
		return
	}

	var req FeedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "request body must be JSON")
		return
	}

	rec, err := h.store.Insert(r.Context(), feedback.Record{
		Question:        req.Question,
		GeneratedAnswer: req.GeneratedAnswer,
		Rating:          req.Rating,
		UserComment:     req.UserComment,
		CorrectedAnswer: req.CorrectedAnswer,
		IsCorrect:       req.IsCorrect,
	})
	if err != nil {
		// Validation failures are the caller's problem; the store
		// returns them before touching the database.
		writeError(w, http.StatusBadRequest, "invalid_feedback", err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"id":         rec.ID,
		"created_at": rec.CreatedAt,
	})
}

func (h *FeedbackHandler) list(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		h.logger.Error("feedback store not configured")
		writeError(w, http.StatusInternalServerError, "internal_error", "")
		return
	}

	limit := parseIntParam(r, "limit", DefaultFeedbackListLimit, 1, MaxFeedbackListLimit)
	records, err := h.store.Recent(r.Context(), limit)
	if err != nil {
		h.logger.Error("feedback listing query failed", "error", err)
		writeError(w, http.StatusInternalServerError, "feedback_unavailable", "")
		return
	}

	items := make([]FeedbackItem, 0, len(records))
	for _, rec := range records {
		items = append(items, FeedbackItem{
			ID:              rec.ID,
			Question:        rec.Question,
			GeneratedAnswer: rec.GeneratedAnswer,
			Rating:          rec.Rating,
			UserComment:     rec.UserComment,
			CorrectedAnswer: rec.CorrectedAnswer,
			IsCorrect:       rec.IsCorrect,
			CreatedAt:       rec.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"feedback": items,
		"total":    len(items),
	})
}

func (h *FeedbackHandler) stats(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		h.logger.Error("feedback store not configured")
		writeError(w, http.StatusInternalServerError, "internal_error", "")
		return
	}

	stats, err := h.store.Stats(r.Context())
	if err != nil {
		h.logger.Error("feedback stats query failed", "error", err)
		writeError(w, http.StatusInternalServerError, "stats_unavailable", "")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

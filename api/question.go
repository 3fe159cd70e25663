package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/quadra0/quadra/internal/pipeline"
)

// MaxRequestQuestionLength bounds the request body before the content
// gate applies its own configured limit.
const MaxRequestQuestionLength = 10000

// Answerer runs one question through the answer pipeline.
// *pipeline.Pipeline satisfies it.
type Answerer interface {
	Process(ctx context.Context, question string) pipeline.AnswerResult
}

// QuestionHandler serves the question endpoint.
type QuestionHandler struct {
	answerer Answerer
	logger   *slog.Logger
}

// NewQuestionHandler creates a question handler.
func NewQuestionHandler(answerer Answerer, logger *slog.Logger) *QuestionHandler {
	return &QuestionHandler{answerer: answerer, logger: logger}
}

// RegisterRoutes registers question routes on the given mux.
func (h *QuestionHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/question", h.answer)
}

// QuestionRequest is the request body for the question endpoint.
type QuestionRequest struct {
	Question string `json:"question"`
}

func (h *QuestionHandler) answer(w http.ResponseWriter, r *http.Request) {
	if h.answerer == nil {
		h.logger.Error("answer pipeline not configured")
		writeError(w, http.StatusInternalServerError, "internal_error", "")
		return
	}

	var req QuestionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "request body must be JSON")
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "question is required")
		return
	}
	if len(req.Question) > MaxRequestQuestionLength {
		writeError(w, http.StatusBadRequest, "invalid_request", "question too long")
		return
	}

	result := h.answerer.Process(r.Context(), req.Question)
	writeJSON(w, http.StatusOK, result)
}

package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/quadra0/quadra/internal/feedback"
	"github.com/quadra0/quadra/internal/scheduler"
)

const (
	// DefaultCycleListLimit is how many audit records the history
	// endpoint returns by default.
	DefaultCycleListLimit = 10

	// MaxCycleListLimit caps the history endpoint.
	MaxCycleListLimit = 100
)

// LearningControl triggers and inspects the learning scheduler.
// *scheduler.Scheduler satisfies it.
type LearningControl interface {
	TriggerNow(ctx context.Context) feedback.CycleResult
	Status(ctx context.Context) scheduler.Status
}

// CycleHistory reads persisted cycle audit records.
// *feedback.CycleStore satisfies it.
type CycleHistory interface {
	QueryRecent(ctx context.Context, limit int) ([]feedback.CycleRecord, error)
}

// LearningHandler serves the learning-cycle control surface.
type LearningHandler struct {
	control LearningControl
	cycles  CycleHistory
	logger  *slog.Logger
}

// NewLearningHandler creates a learning handler.
func NewLearningHandler(control LearningControl, cycles CycleHistory, logger *slog.Logger) *LearningHandler {
	return &LearningHandler{control: control, cycles: cycles, logger: logger}
}

// RegisterRoutes registers learning routes on the given mux.
func (h *LearningHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/learning/trigger", h.trigger)
	mux.HandleFunc("GET /api/learning/status", h.status)
	mux.HandleFunc("GET /api/learning/cycles", h.recent)
}

// trigger runs one cycle synchronously and returns its summary. The
// scheduler serializes it against any in-flight cycle, so the call may
// block until that cycle finishes.
func (h *LearningHandler) trigger(w http.ResponseWriter, r *http.Request) {
	if h.control == nil {
		h.logger.Error("scheduler not configured")
		writeError(w, http.StatusInternalServerError, "internal_error", "")
		return
	}

	result := h.control.TriggerNow(r.Context())
	writeJSON(w, http.StatusOK, result)
}

func (h *LearningHandler) status(w http.ResponseWriter, r *http.Request) {
	if h.control == nil {
		h.logger.Error("scheduler not configured")
		writeError(w, http.StatusInternalServerError, "internal_error", "")
		return
	}
	writeJSON(w, http.StatusOK, h.control.Status(r.Context()))
}

func (h *LearningHandler) recent(w http.ResponseWriter, r *http.Request) {
	if h.cycles == nil {
		h.logger.Error("cycle store not configured")
		writeError(w, http.StatusInternalServerError, "internal_error", "")
		return
	}

	limit := parseIntParam(r, "limit", DefaultCycleListLimit, 1, MaxCycleListLimit)
	records, err := h.cycles.QueryRecent(r.Context(), limit)
	if err != nil {
		h.logger.Error("cycle history query failed", "error", err)
		writeError(w, http.StatusInternalServerError, "history_unavailable", "")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"cycles": records,
		"total":  len(records),
	})
}

// parseIntParam parses an integer query parameter with bounds checking.
func parseIntParam(r *http.Request, name string, defaultVal, min, max int) int {
	str := r.URL.Query().Get(name)
	if str == "" {
		return defaultVal
	}
	val, err := strconv.Atoi(str)
	if err != nil {
		return defaultVal
	}
	if val < min {
		return min
	}
	if val > max {
		return max
	}
	return val
}

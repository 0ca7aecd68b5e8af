package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/rampgate/rampgate/internal/api/models"
	"github.com/rampgate/rampgate/internal/api/response"
	"github.com/rampgate/rampgate/internal/evaluate"
)

// EvaluateHandler handles the flag evaluation endpoint.
type EvaluateHandler struct {
	evaluator *evaluate.Evaluator
}

// NewEvaluateHandler creates a new EvaluateHandler.
func NewEvaluateHandler(evaluator *evaluate.Evaluator) *EvaluateHandler {
	return &EvaluateHandler{evaluator: evaluator}
}

// Evaluate handles GET /v1/evaluate/{flagId}?subject= - decide whether a flag
// is active for a subject. Always answers 200; failures resolve to a
// disabled result so callers never need a fallback path.
func (h *EvaluateHandler) Evaluate(w http.ResponseWriter, r *http.Request) {
	flagID := chi.URLParam(r, "flagId")
	subjectID := r.URL.Query().Get("subject")
	if subjectID == "" {
		response.BadRequest(w, r, "subject query parameter is required", []models.FieldError{
			{Field: "subject", Message: "subject is required"},
		})
		return
	}

	result := h.evaluator.Evaluate(r.Context(), flagID, subjectID)

	response.JSON(w, r, http.StatusOK, models.Evaluation{
		FlagID:    result.FlagID,
		SubjectID: result.SubjectID,
		Enabled:   result.Enabled,
		Stage:     string(result.Stage),
		Bucket:    result.Bucket,
		Reason:    result.Reason,
	})
}

package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/rampgate/rampgate/internal/api/models"
	"github.com/rampgate/rampgate/internal/api/response"
	"github.com/rampgate/rampgate/internal/audit"
)

// AuditHandler handles audit trail queries.
type AuditHandler struct {
	log audit.Log
}

// NewAuditHandler creates a new AuditHandler.
func NewAuditHandler(log audit.Log) *AuditHandler {
	return &AuditHandler{log: log}
}

// QueryTransitions handles GET /v1/flags/{flagId}/audit?from=&to= - list
// transition records for a flag. Time bounds are RFC3339 and optional.
func (h *AuditHandler) QueryTransitions(w http.ResponseWriter, r *http.Request) {
	flagID := chi.URLParam(r, "flagId")

	from, ok := parseTimeParam(w, r, "from")
	if !ok {
		return
	}
	to, ok := parseTimeParam(w, r, "to")
	if !ok {
		return
	}

	recs, err := h.log.Query(r.Context(), flagID, from, to)
	if err != nil {
		response.InternalError(w, r, "failed to query audit log")
		return
	}

	response.JSON(w, r, http.StatusOK, models.NewTransitionList(recs))
}

// parseTimeParam parses an optional RFC3339 query parameter. On a malformed
// value it writes a 400 response and returns false.
func parseTimeParam(w http.ResponseWriter, r *http.Request, name string) (time.Time, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}, true
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		response.BadRequest(w, r, name+" must be an RFC3339 timestamp", []models.FieldError{
			{Field: name, Message: "invalid timestamp"},
		})
		return time.Time{}, false
	}
	return t, true
}

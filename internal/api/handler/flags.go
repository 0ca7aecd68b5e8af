package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/rampgate/rampgate/internal/api/middleware"
	"github.com/rampgate/rampgate/internal/api/models"
	"github.com/rampgate/rampgate/internal/api/response"
	"github.com/rampgate/rampgate/internal/audit"
	"github.com/rampgate/rampgate/internal/flag"
	"github.com/rampgate/rampgate/internal/rollout"
)

// FlagsHandler handles flag administration endpoints.
type FlagsHandler struct {
	service      *flag.Service
	transitioner *rollout.Transitioner
}

// NewFlagsHandler creates a new FlagsHandler.
func NewFlagsHandler(service *flag.Service, transitioner *rollout.Transitioner) *FlagsHandler {
	return &FlagsHandler{service: service, transitioner: transitioner}
}

// CreateFlag handles POST /v1/flags - register a new flag.
func (h *FlagsHandler) CreateFlag(w http.ResponseWriter, r *http.Request) {
	var input models.FlagCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		response.BadRequest(w, r, "invalid JSON body", nil)
		return
	}

	var fieldErrors []models.FieldError
	if input.FlagID == "" {
		fieldErrors = append(fieldErrors, models.FieldError{Field: "flagId", Message: "flagId is required"})
	}
	if input.Environment == "" {
		fieldErrors = append(fieldErrors, models.FieldError{Field: "environment", Message: "environment is required"})
	}
	if len(fieldErrors) > 0 {
		response.BadRequest(w, r, "invalid flag definition", fieldErrors)
		return
	}

	def, err := h.service.Create(r.Context(), input.FlagID, input.Environment)
	if err != nil {
		if errors.Is(err, flag.ErrFlagExists) {
			response.Conflict(w, r, fmt.Sprintf("flag %s already exists", input.FlagID))
			return
		}
		response.InternalError(w, r, "failed to create flag")
		return
	}

	location := fmt.Sprintf("/v1/flags/%s", def.ID)
	response.Created(w, r, location, models.NewFlag(def))
}

// ListFlags handles GET /v1/flags - list flags for an environment.
func (h *FlagsHandler) ListFlags(w http.ResponseWriter, r *http.Request) {
	environment := r.URL.Query().Get("environment")
	if environment == "" {
		response.BadRequest(w, r, "environment query parameter is required", nil)
		return
	}

	defs, err := h.service.List(r.Context(), environment)
	if err != nil {
		response.InternalError(w, r, "failed to list flags")
		return
	}

	response.JSON(w, r, http.StatusOK, models.NewFlagList(defs))
}

// GetFlag handles GET /v1/flags/{flagId} - get one flag.
func (h *FlagsHandler) GetFlag(w http.ResponseWriter, r *http.Request) {
	flagID := chi.URLParam(r, "flagId")

	def, err := h.service.Get(r.Context(), flagID)
	if err != nil {
		if errors.Is(err, flag.ErrFlagNotFound) {
			response.NotFound(w, r, fmt.Sprintf("flag %s not found", flagID))
			return
		}
		response.InternalError(w, r, "failed to read flag")
		return
	}

	response.JSON(w, r, http.StatusOK, models.NewFlag(def))
}

// ChangeStage handles POST /v1/flags/{flagId}/stage - request a stage transition.
func (h *FlagsHandler) ChangeStage(w http.ResponseWriter, r *http.Request) {
	flagID := chi.URLParam(r, "flagId")

	var input models.StageChangeRequest
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		response.BadRequest(w, r, "invalid JSON body", nil)
		return
	}

	stage, err := flag.ParseStage(input.To)
	if err != nil {
		response.BadRequest(w, r, err.Error(), []models.FieldError{
			{Field: "to", Message: "must be a valid stage"},
		})
		return
	}

	detail := input.Detail
	if operatorID := middleware.GetOperatorID(r.Context()); operatorID != "" {
		if detail != "" {
			detail = fmt.Sprintf("%s (operator %s)", detail, operatorID)
		} else {
			detail = fmt.Sprintf("operator %s", operatorID)
		}
	}

	def, err := h.transitioner.Transition(r.Context(), flagID, rollout.Request{
		To:      stage,
		Percent: input.Percent,
		Cause:   audit.CauseManual,
		Detail:  detail,
	})
	if err != nil {
		switch {
		case errors.Is(err, flag.ErrFlagNotFound):
			response.NotFound(w, r, fmt.Sprintf("flag %s not found", flagID))
		case errors.Is(err, flag.ErrFlagArchived):
			response.Conflict(w, r, fmt.Sprintf("flag %s is archived", flagID))
		case errors.Is(err, rollout.ErrIllegalTransition):
			response.Conflict(w, r, err.Error())
		case errors.Is(err, rollout.ErrPercentNotMonotonic):
			response.BadRequest(w, r, err.Error(), nil)
		default:
			response.InternalError(w, r, "failed to apply transition")
		}
		return
	}

	response.JSON(w, r, http.StatusOK, models.NewFlag(def))
}

// UpdateLists handles PUT /v1/flags/{flagId}/lists - replace allow/deny lists.
func (h *FlagsHandler) UpdateLists(w http.ResponseWriter, r *http.Request) {
	flagID := chi.URLParam(r, "flagId")

	var input models.ListsUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		response.BadRequest(w, r, "invalid JSON body", nil)
		return
	}

	def, err := h.service.SetLists(r.Context(), flagID, input.AllowList, input.DenyList)
	if err != nil {
		switch {
		case errors.Is(err, flag.ErrFlagNotFound):
			response.NotFound(w, r, fmt.Sprintf("flag %s not found", flagID))
		case errors.Is(err, flag.ErrFlagArchived):
			response.Conflict(w, r, fmt.Sprintf("flag %s is archived", flagID))
		default:
			response.InternalError(w, r, "failed to update lists")
		}
		return
	}

	response.JSON(w, r, http.StatusOK, models.NewFlag(def))
}

// ArchiveFlag handles DELETE /v1/flags/{flagId} - archive a flag.
func (h *FlagsHandler) ArchiveFlag(w http.ResponseWriter, r *http.Request) {
	flagID := chi.URLParam(r, "flagId")

	if err := h.service.Archive(r.Context(), flagID); err != nil {
		if errors.Is(err, flag.ErrFlagNotFound) {
			response.NotFound(w, r, fmt.Sprintf("flag %s not found", flagID))
			return
		}
		response.InternalError(w, r, "failed to archive flag")
		return
	}

	response.NoContent(w, r)
}

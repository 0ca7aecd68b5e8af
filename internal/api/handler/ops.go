// Package handler provides HTTP handlers for the rollout control API.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/rampgate/rampgate/internal/api/models"
	"github.com/rampgate/rampgate/internal/api/response"
)

// ReadinessChecker reports whether a dependency is reachable.
type ReadinessChecker func(ctx context.Context) error

// OpsHandler handles operational endpoints.
type OpsHandler struct {
	version    string
	buildTime  string
	storeCheck ReadinessChecker
}

// NewOpsHandler creates a new OpsHandler. storeCheck may be nil when the
// backing store has no ping (in-memory deployments).
func NewOpsHandler(version, buildTime string, storeCheck ReadinessChecker) *OpsHandler {
	return &OpsHandler{
		version:    version,
		buildTime:  buildTime,
		storeCheck: storeCheck,
	}
}

// HealthCheck handles GET /v1/ops/health - liveness check.
func (h *OpsHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	health := models.Health{
		Status: models.HealthStatusOK,
		Time:   models.Timestamp(time.Now()),
		Details: map[string]interface{}{
			"version":   h.version,
			"buildTime": h.buildTime,
		},
	}
	response.JSON(w, r, http.StatusOK, health)
}

// ReadinessCheck handles GET /v1/ops/ready - readiness check. Fails when the
// flag store is unreachable.
func (h *OpsHandler) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	if h.storeCheck != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := h.storeCheck(ctx); err != nil {
			health := models.Health{
				Status: models.HealthStatusFail,
				Time:   models.Timestamp(time.Now()),
				Details: map[string]interface{}{
					"store": err.Error(),
				},
			}
			response.JSON(w, r, http.StatusServiceUnavailable, health)
			return
		}
	}

	health := models.Health{
		Status: models.HealthStatusOK,
		Time:   models.Timestamp(time.Now()),
	}
	response.JSON(w, r, http.StatusOK, health)
}

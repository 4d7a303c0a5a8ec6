package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/gongplan/gong-api/internal/middleware"
	"github.com/gongplan/gong-api/internal/models"
	"github.com/gongplan/gong-api/pkg/response"
)

type centerLister interface {
	List(ctx context.Context, allowed []string) ([]models.LockState, error)
}

type plannerCenters interface {
	Centers(ctx context.Context, claims *models.JWTClaims) ([]string, error)
}

// CenterHandler lists the centers a caller may plan.
type CenterHandler struct {
	locks    centerLister
	planners plannerCenters
}

// NewCenterHandler constructs handler.
func NewCenterHandler(locks centerLister, planners plannerCenters) *CenterHandler {
	return &CenterHandler{locks: locks, planners: planners}
}

// List godoc
// @Summary Centers the caller may plan, with their lock state
// @Tags Centers
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Router /centers [get]
func (h *CenterHandler) List(c *gin.Context) {
	allowed, err := h.planners.Centers(c.Request.Context(), middleware.Claims(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	if allowed != nil && len(allowed) == 0 {
		response.JSON(c, http.StatusOK, []models.LockState{})
		return
	}
	states, err := h.locks.List(c.Request.Context(), allowed)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, states, map[string]interface{}{"total": len(states)})
}

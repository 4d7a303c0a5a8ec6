package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/gongplan/gong-api/internal/dto"
	"github.com/gongplan/gong-api/internal/models"
	"github.com/gongplan/gong-api/pkg/response"
)

type lockService interface {
	Claim(ctx context.Context, center, user string) (*models.LockResult, error)
	Abandon(ctx context.Context, center, user string) (*models.LockState, error)
	Status(ctx context.Context, center string) (*models.LockState, error)
}

type planCommitter interface {
	Commit(ctx context.Context, center, user string) (*dto.CommitResponse, error)
}

// LockHandler exposes the per-center edit lock.
type LockHandler struct {
	locks lockService
	plans planCommitter
}

// NewLockHandler constructs handler.
func NewLockHandler(locks lockService, plans planCommitter) *LockHandler {
	return &LockHandler{locks: locks, plans: plans}
}

// Status godoc
// @Summary Lock state of a center
// @Tags Lock
// @Produce json
// @Security BearerAuth
// @Param name path string true "Center name"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /centers/{name}/lock [get]
func (h *LockHandler) Status(c *gin.Context) {
	state, err := h.locks.Status(c.Request.Context(), c.Param("name"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, state)
}

// Claim godoc
// @Summary Claim the edit lock of a center
// @Description A center edited by someone else returns acquired=false with the holder and the next installation time.
// @Tags Lock
// @Produce json
// @Security BearerAuth
// @Param name path string true "Center name"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /centers/{name}/lock [post]
func (h *LockHandler) Claim(c *gin.Context) {
	user, ok := currentEditor(c)
	if !ok {
		return
	}
	result, err := h.locks.Claim(c.Request.Context(), c.Param("name"), user)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result)
}

// Abandon godoc
// @Summary Give up the edit lock without saving
// @Tags Lock
// @Produce json
// @Security BearerAuth
// @Param name path string true "Center name"
// @Success 200 {object} response.Envelope
// @Router /centers/{name}/lock [delete]
func (h *LockHandler) Abandon(c *gin.Context) {
	user, ok := currentEditor(c)
	if !ok {
		return
	}
	state, err := h.locks.Abandon(c.Request.Context(), c.Param("name"), user)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, state)
}

// Commit godoc
// @Summary Write the draft plan to the local schedule and release the lock
// @Tags Lock
// @Produce json
// @Security BearerAuth
// @Param name path string true "Center name"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /centers/{name}/lock/commit [post]
func (h *LockHandler) Commit(c *gin.Context) {
	user, ok := currentEditor(c)
	if !ok {
		return
	}
	result, err := h.plans.Commit(c.Request.Context(), c.Param("name"), user)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result)
}
